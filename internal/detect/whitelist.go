package detect

import (
	"strings"

	"github.com/shadowhunter/backend/internal/telemetry"
)

// Multicast and broadcast destinations that generate constant chatter
// (mDNS, SSDP, FCM keepalives) and carry no detection signal.
var whitelistedDestinations = map[string]bool{
	"224.0.0.251":     true,
	"224.0.0.252":     true,
	"239.255.255.250": true,
	"255.255.255.255": true,
	"224.0.0.1":       true,
	"224.0.0.2":       true,
}

var whitelistedPrefixes = []string{"224.", "239.", "fe80:", "ff02:"}

// 5353 mDNS, 1900 SSDP, 5228-5230 Google/FCM push.
var whitelistedPorts = map[int]bool{
	5353: true,
	1900: true,
	5228: true,
	5229: true,
	5230: true,
}

// internalPrefixes is the perimeter definition the detectors use. It is
// deliberately narrow: only the ranges this deployment actually assigns.
var internalPrefixes = []string{"192.168.", "10.0.", "172.16.", "127.0."}

// IsInternal reports whether an address belongs to the monitored LAN.
func IsInternal(ip string) bool {
	for _, p := range internalPrefixes {
		if strings.HasPrefix(ip, p) {
			return true
		}
	}
	return false
}

// IsWhitelisted reports whether a flow is suppressed before any plugin
// runs: multicast/broadcast destinations, discovery ports, and purely
// internal traffic.
func IsWhitelisted(e *telemetry.FlowEvent) bool {
	if whitelistedDestinations[e.DestinationIP] {
		return true
	}
	for _, p := range whitelistedPrefixes {
		if strings.HasPrefix(e.DestinationIP, p) {
			return true
		}
	}
	if whitelistedPorts[e.DestinationPort] {
		return true
	}
	if IsInternal(e.SourceIP) && IsInternal(e.DestinationIP) {
		return true
	}
	return false
}
