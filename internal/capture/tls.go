package capture

import (
	"crypto/md5"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"
)

// ClientHello carries the identity metadata extracted from a TLS Client
// Hello: the requested server name and the JA3 client fingerprint.
type ClientHello struct {
	SNI string
	JA3 string
}

var errNotClientHello = errors.New("not a tls client hello")

// isGREASE reports whether a TLS value is a GREASE placeholder
// (RFC 8701). GREASE values are randomized per connection and must not
// contribute to the fingerprint.
func isGREASE(v uint16) bool {
	return v&0x0F0F == 0x0A0A
}

// parseClientHello walks a TLS Client Hello record and extracts the SNI
// and the JA3 fingerprint.
//
// Layout: record header [type(1) version(2) length(2)], handshake header
// [type(1) length(3)], client version(2), random(32), then length-prefixed
// session ID, cipher suites, compression methods and extensions. JA3 is
// md5("TLSVersion,Ciphers,Extensions,EllipticCurves,ECPointFormats") with
// dash-joined lists.
//
// Every bounds failure returns an error; callers treat that as "no L7
// metadata" and keep the event.
func parseClientHello(payload []byte) (*ClientHello, error) {
	if len(payload) < 6 || payload[0] != 0x16 || payload[5] != 0x01 {
		return nil, errNotClientHello
	}

	// Client version sits after the record header and handshake header.
	pos := 5 + 1 + 3
	if pos+2 > len(payload) {
		return nil, errNotClientHello
	}
	tlsVersion := binary.BigEndian.Uint16(payload[pos : pos+2])
	pos += 2 + 32 // version + random

	// Session ID
	if pos >= len(payload) {
		return nil, errNotClientHello
	}
	sessionIDLen := int(payload[pos])
	pos += 1 + sessionIDLen

	// Cipher suites
	if pos+2 > len(payload) {
		return nil, errNotClientHello
	}
	cipherLen := int(binary.BigEndian.Uint16(payload[pos : pos+2]))
	pos += 2
	var ciphers []string
	for i := 0; i < cipherLen; i += 2 {
		if pos+2 > len(payload) {
			break
		}
		c := binary.BigEndian.Uint16(payload[pos : pos+2])
		if !isGREASE(c) {
			ciphers = append(ciphers, strconv.Itoa(int(c)))
		}
		pos += 2
	}

	// Compression methods
	if pos >= len(payload) {
		return nil, errNotClientHello
	}
	compLen := int(payload[pos])
	pos += 1 + compLen

	var (
		sni            string
		extensions     []string
		ellipticCurves []string
		ecPointFormats []string
	)

	if pos+2 <= len(payload) {
		extTotal := int(binary.BigEndian.Uint16(payload[pos : pos+2]))
		pos += 2
		extEnd := pos + extTotal

		for pos+4 <= extEnd && pos+4 <= len(payload) {
			extType := binary.BigEndian.Uint16(payload[pos : pos+2])
			extLen := int(binary.BigEndian.Uint16(payload[pos+2 : pos+4]))
			pos += 4

			if !isGREASE(extType) {
				extensions = append(extensions, strconv.Itoa(int(extType)))
			}

			switch extType {
			case 0x0000: // server_name
				// ServerNameList: ListLen(2) + Type(1) + NameLen(2) + Name
				if pos+5 <= len(payload) {
					nameLen := int(binary.BigEndian.Uint16(payload[pos+3 : pos+5]))
					if pos+5+nameLen <= len(payload) {
						sni = string(payload[pos+5 : pos+5+nameLen])
					}
				}
			case 0x000A: // supported_groups
				if extLen >= 2 && pos+extLen <= len(payload) {
					listLen := int(binary.BigEndian.Uint16(payload[pos : pos+2]))
					limit := 2 + listLen
					if limit > extLen {
						limit = extLen
					}
					for j := 2; j+2 <= limit; j += 2 {
						g := binary.BigEndian.Uint16(payload[pos+j : pos+j+2])
						if !isGREASE(g) {
							ellipticCurves = append(ellipticCurves, strconv.Itoa(int(g)))
						}
					}
				}
			case 0x000B: // ec_point_formats
				if extLen >= 1 && pos+extLen <= len(payload) {
					fmtLen := int(payload[pos])
					limit := 1 + fmtLen
					if limit > extLen {
						limit = extLen
					}
					for j := 1; j < limit && pos+j < len(payload); j++ {
						ecPointFormats = append(ecPointFormats, strconv.Itoa(int(payload[pos+j])))
					}
				}
			}

			pos += extLen
		}
	}

	ja3Input := strings.Join([]string{
		strconv.Itoa(int(tlsVersion)),
		strings.Join(ciphers, "-"),
		strings.Join(extensions, "-"),
		strings.Join(ellipticCurves, "-"),
		strings.Join(ecPointFormats, "-"),
	}, ",")
	sum := md5.Sum([]byte(ja3Input))

	return &ClientHello{
		SNI: sni,
		JA3: hex.EncodeToString(sum[:]),
	}, nil
}
