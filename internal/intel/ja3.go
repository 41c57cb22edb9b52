package intel

import "strings"

// JA3Match is the result of a successful fingerprint lookup.
type JA3Match struct {
	JA3Hash     string
	ClientName  string
	Category    string // browser, scripting, attack_tool, bot, proxy
	RiskLevel   string // CRITICAL, HIGH, MEDIUM, LOW, INFO
	Description string
	ExpectedUA  []string
	Tags        []string
}

// SpoofingReport describes a User-Agent / JA3 mismatch.
type SpoofingReport struct {
	JA3Client   string
	JA3Category string
	ClaimedUA   string
	RiskLevel   string
	Description string
}

// ja3Database holds known client signatures from community fingerprint
// research. A JA3 hash digests the TLS Client Hello fields
// (version, ciphers, extensions, curves, point formats), so different
// clients stay distinguishable even when they claim the same User-Agent.
var ja3Database = []JA3Match{
	// Scripting languages (high spoofing risk)
	{
		JA3Hash:     "e7d705a3286e19ea42f587b344ee6865",
		ClientName:  "Python requests 2.x (urllib3)",
		Category:    "scripting",
		RiskLevel:   "HIGH",
		Description: "Standard Python HTTP client — commonly used for API automation and data exfiltration scripts",
		ExpectedUA:  []string{"python-requests", "python-urllib3"},
		Tags:        []string{"spoofing_risk", "automation"},
	},
	{
		JA3Hash:     "b32309a26951912be7dba376398abc3b",
		ClientName:  "Python aiohttp",
		Category:    "scripting",
		RiskLevel:   "HIGH",
		Description: "Async Python HTTP client — used in high-throughput scraping and C2 frameworks",
		ExpectedUA:  []string{"aiohttp", "python"},
		Tags:        []string{"spoofing_risk", "automation", "async"},
	},
	{
		JA3Hash:     "282149a96f83e5e4e0b2c26c3c4efc43",
		ClientName:  "Python httpx",
		Category:    "scripting",
		RiskLevel:   "HIGH",
		Description: "Modern Python HTTP client — used as requests replacement in newer tooling",
		ExpectedUA:  []string{"python-httpx", "python"},
		Tags:        []string{"spoofing_risk", "automation"},
	},
	{
		JA3Hash:     "3b5074b1b5d032e5620f69f9f700ff0e",
		ClientName:  "Node.js (https module)",
		Category:    "scripting",
		RiskLevel:   "MEDIUM",
		Description: "Node.js native HTTPS — used in both legitimate services and attack tooling",
		ExpectedUA:  []string{"node", "axios", "got"},
		Tags:        []string{"spoofing_risk"},
	},
	{
		JA3Hash:     "d7a7a67e6a706ba3a3b8ce2e36c2a8e3",
		ClientName:  "Go net/http",
		Category:    "scripting",
		RiskLevel:   "MEDIUM",
		Description: "Go standard HTTP client — common in microservices and cloud-native tooling",
		ExpectedUA:  []string{"Go-http-client", "go"},
		Tags:        []string{"spoofing_risk"},
	},

	// Attack tools
	{
		JA3Hash:     "51c64c77e60f3980eea90869b68c58a8",
		ClientName:  "Cobalt Strike Beacon",
		Category:    "attack_tool",
		RiskLevel:   "CRITICAL",
		Description: "Post-exploitation C2 framework — immediate incident response required",
		Tags:        []string{"known_malware", "c2", "apt"},
	},
	{
		JA3Hash:     "72a589da586844d7f0818ce684948eea",
		ClientName:  "Metasploit Framework",
		Category:    "attack_tool",
		RiskLevel:   "CRITICAL",
		Description: "Penetration testing framework — may indicate active exploitation",
		Tags:        []string{"known_malware", "exploit"},
	},
	{
		JA3Hash:     "a0e9f5d64349fb13191bc781f81f42e1",
		ClientName:  "Mimikatz / Impacket",
		Category:    "attack_tool",
		RiskLevel:   "CRITICAL",
		Description: "Credential theft tooling — lateral movement in progress",
		Tags:        []string{"known_malware", "credential_theft", "lateral_movement"},
	},

	// Command-line tools
	{
		JA3Hash:     "456523fc94726331a4d5a2e1d40b2cd7",
		ClientName:  "curl",
		Category:    "scripting",
		RiskLevel:   "MEDIUM",
		Description: "Command-line HTTP client — commonly used for API interaction and testing",
		ExpectedUA:  []string{"curl"},
		Tags:        []string{"spoofing_risk", "cli"},
	},
	{
		JA3Hash:     "9e10692f1b7f78228b2d4e424db3a98c",
		ClientName:  "wget",
		Category:    "scripting",
		RiskLevel:   "MEDIUM",
		Description: "Command-line download tool — may indicate staged payload delivery",
		ExpectedUA:  []string{"Wget"},
		Tags:        []string{"spoofing_risk", "cli"},
	},

	// Proxy / anonymization
	{
		JA3Hash:     "e7d70f5df5e3ddf3d1af4b1a0a38a3a1",
		ClientName:  "Tor Browser",
		Category:    "proxy",
		RiskLevel:   "HIGH",
		Description: "Tor network browser — traffic anonymization, may hide exfiltration",
		ExpectedUA:  []string{"Mozilla"},
		Tags:        []string{"anonymization", "evasion"},
	},

	// Bots and scanners
	{
		JA3Hash:     "b386946a5a44d1ddcc843bc75336dfce",
		ClientName:  "Scrapy Spider",
		Category:    "bot",
		RiskLevel:   "MEDIUM",
		Description: "Python web scraping framework — automated data collection",
		ExpectedUA:  []string{"Scrapy"},
		Tags:        []string{"automation", "scraping"},
	},
	{
		JA3Hash:     "19e29534fd49dd27d09234e639c4057e",
		ClientName:  "Headless Chrome (Puppeteer)",
		Category:    "bot",
		RiskLevel:   "HIGH",
		Description: "Headless browser automation — may bypass bot detection while scraping",
		ExpectedUA:  []string{"HeadlessChrome", "Chrome"},
		Tags:        []string{"automation", "headless", "spoofing_risk"},
	},
	{
		JA3Hash:     "cd08e31494816f6d2f3d8a2d0c4ab314",
		ClientName:  "Selenium WebDriver",
		Category:    "bot",
		RiskLevel:   "HIGH",
		Description: "Browser automation framework — UI testing or credential stuffing",
		ExpectedUA:  []string{"Chrome", "Firefox"},
		Tags:        []string{"automation", "spoofing_risk"},
	},

	// Legitimate browsers (baseline)
	{
		JA3Hash:     "773906b0efdefa24a7f2b8eb6985bf37",
		ClientName:  "Chrome 120+",
		Category:    "browser",
		RiskLevel:   "INFO",
		Description: "Standard Google Chrome browser — expected enterprise traffic",
		ExpectedUA:  []string{"Chrome", "Mozilla"},
		Tags:        []string{"legitimate"},
	},
	{
		JA3Hash:     "579ccef312d18482fc42e2b822ca2430",
		ClientName:  "Firefox 120+",
		Category:    "browser",
		RiskLevel:   "INFO",
		Description: "Standard Mozilla Firefox browser — expected enterprise traffic",
		ExpectedUA:  []string{"Firefox", "Mozilla"},
		Tags:        []string{"legitimate"},
	},
	{
		JA3Hash:     "b20b44b18b853f29d25660b022eb7350",
		ClientName:  "Edge 120+",
		Category:    "browser",
		RiskLevel:   "INFO",
		Description: "Microsoft Edge browser — expected enterprise traffic (Chromium-based)",
		ExpectedUA:  []string{"Edg", "Chrome", "Mozilla"},
		Tags:        []string{"legitimate"},
	},
	{
		JA3Hash:     "a441a33aaee795f498d6b764cc78989a",
		ClientName:  "Safari 17+",
		Category:    "browser",
		RiskLevel:   "INFO",
		Description: "Apple Safari browser — macOS/iOS traffic",
		ExpectedUA:  []string{"Safari", "AppleWebKit"},
		Tags:        []string{"legitimate"},
	},
}

var browserIndicators = []string{"chrome", "firefox", "safari", "edge", "mozilla"}

// JA3Matcher indexes the fingerprint table for O(1) hash lookup and
// provides User-Agent mismatch detection.
type JA3Matcher struct {
	index map[string]*JA3Match
}

// NewJA3Matcher builds the fingerprint index.
func NewJA3Matcher() *JA3Matcher {
	m := &JA3Matcher{index: make(map[string]*JA3Match, len(ja3Database))}
	for i := range ja3Database {
		entry := &ja3Database[i]
		m.index[entry.JA3Hash] = entry
	}
	return m
}

// Lookup resolves a 32-hex-character JA3 hash to a known client, or nil.
func (m *JA3Matcher) Lookup(ja3Hash string) *JA3Match {
	if len(ja3Hash) != 32 {
		return nil
	}
	return m.index[ja3Hash]
}

// DetectSpoofing flags a User-Agent that claims a browser while the TLS
// fingerprint identifies a non-browser client. Browsers are skipped; so are
// clients whose expected User-Agent patterns legitimately include browser
// strings (Tor ships a Mozilla UA).
func (m *JA3Matcher) DetectSpoofing(ja3Hash, userAgent string) *SpoofingReport {
	match := m.Lookup(ja3Hash)
	if match == nil || userAgent == "" {
		return nil
	}
	if match.Category == "browser" {
		return nil
	}

	uaLower := strings.ToLower(userAgent)
	claimsBrowser := false
	for _, ind := range browserIndicators {
		if strings.Contains(uaLower, ind) {
			claimsBrowser = true
			break
		}
	}
	isNotBrowser := match.Category == "scripting" || match.Category == "attack_tool" ||
		match.Category == "bot" || match.Category == "proxy"

	if !claimsBrowser || !isNotBrowser {
		return nil
	}

	expectedHasBrowser := false
	for _, pat := range match.ExpectedUA {
		patLower := strings.ToLower(pat)
		for _, ind := range browserIndicators {
			if strings.Contains(patLower, ind) {
				expectedHasBrowser = true
				break
			}
		}
		if expectedHasBrowser {
			break
		}
	}
	if expectedHasBrowser {
		return nil
	}

	claimed := userAgent
	if len(claimed) > 100 {
		claimed = claimed[:100]
	}
	return &SpoofingReport{
		JA3Client:   match.ClientName,
		JA3Category: match.Category,
		ClaimedUA:   claimed,
		RiskLevel:   "CRITICAL",
		Description: "Identity spoofing: TLS fingerprint identifies " + match.ClientName +
			" but User-Agent claims to be a browser",
	}
}

// IsKnownBad reports whether a JA3 hash belongs to a known attack tool.
func (m *JA3Matcher) IsKnownBad(ja3Hash string) bool {
	match := m.Lookup(ja3Hash)
	return match != nil && match.Category == "attack_tool"
}

// Fingerprints summarizes the tracked fingerprints for stats endpoints.
func (m *JA3Matcher) Fingerprints() []map[string]string {
	out := make([]map[string]string, 0, len(ja3Database))
	for i := range ja3Database {
		e := &ja3Database[i]
		out = append(out, map[string]string{
			"ja3_hash":    e.JA3Hash,
			"client_name": e.ClientName,
			"category":    e.Category,
			"risk_level":  e.RiskLevel,
		})
	}
	return out
}

// TotalFingerprints reports the fingerprint table size.
func (m *JA3Matcher) TotalFingerprints() int {
	return len(m.index)
}
