package intel

import "net"

// CIDRMatch is the result of a successful AI-provider CIDR lookup.
type CIDRMatch struct {
	IP             string
	CIDR           string
	Provider       string
	Service        string
	RiskLevel      string
	Category       string
	DataRisk       string
	ComplianceTags []string
}

type cidrEntry struct {
	cidr           string
	provider       string
	service        string
	riskLevel      string
	category       string
	dataRisk       string
	complianceTags []string
}

// aiCIDRDatabase lists IP blocks attributed to AI service providers via
// public ASN records and BGP advertisements. Catches traffic that bypasses
// DNS (direct IP, SDK-pinned endpoints, VPN tunnels).
var aiCIDRDatabase = []cidrEntry{
	{
		cidr:           "13.107.42.0/24",
		provider:       "OpenAI",
		service:        "ChatGPT / GPT-4 API",
		riskLevel:      "CRITICAL",
		category:       "LLM",
		dataRisk:       "Prompts may contain PII, proprietary code, or trade secrets",
		complianceTags: []string{"SOC2", "GDPR", "HIPAA"},
	},
	{
		cidr:           "13.107.43.0/24",
		provider:       "OpenAI",
		service:        "GPT-4 Turbo API",
		riskLevel:      "CRITICAL",
		category:       "LLM",
		dataRisk:       "High-throughput API access — bulk data exfiltration risk",
		complianceTags: []string{"SOC2", "GDPR", "HIPAA"},
	},
	{
		cidr:           "40.119.0.0/16",
		provider:       "OpenAI (Azure)",
		service:        "Azure OpenAI Service",
		riskLevel:      "HIGH",
		category:       "LLM",
		dataRisk:       "Enterprise AI access via Azure — may bypass network controls",
		complianceTags: []string{"SOC2", "GDPR"},
	},
	{
		cidr:           "34.102.136.0/24",
		provider:       "Anthropic",
		service:        "Claude 3.5 Sonnet API",
		riskLevel:      "CRITICAL",
		category:       "LLM",
		dataRisk:       "Large context window (200K tokens) enables massive data ingestion",
		complianceTags: []string{"SOC2", "GDPR", "HIPAA"},
	},
	{
		cidr:           "34.102.137.0/24",
		provider:       "Anthropic",
		service:        "Claude API",
		riskLevel:      "CRITICAL",
		category:       "LLM",
		dataRisk:       "Multi-modal capabilities may process sensitive documents",
		complianceTags: []string{"SOC2", "GDPR", "HIPAA"},
	},
	{
		cidr:           "142.250.0.0/16",
		provider:       "Google",
		service:        "Gemini / Vertex AI",
		riskLevel:      "HIGH",
		category:       "LLM",
		dataRisk:       "Data may be used for model improvement without explicit consent",
		complianceTags: []string{"SOC2", "GDPR"},
	},
	{
		cidr:           "172.217.0.0/16",
		provider:       "Google",
		service:        "Google AI Studio / NotebookLM",
		riskLevel:      "HIGH",
		category:       "LLM",
		dataRisk:       "Shared across Google services — broad data exposure",
		complianceTags: []string{"SOC2", "GDPR"},
	},
	{
		cidr:           "54.164.0.0/16",
		provider:       "Hugging Face",
		service:        "Inference API / Model Hub",
		riskLevel:      "HIGH",
		category:       "ML Infra",
		dataRisk:       "Open-source model hosting — variable data handling policies",
		complianceTags: []string{"SOC2"},
	},
	{
		cidr:           "104.18.0.0/16",
		provider:       "Stability AI",
		service:        "Stable Diffusion API",
		riskLevel:      "MEDIUM",
		category:       "Image Gen",
		dataRisk:       "Image generation from text prompts — IP leakage via descriptions",
		complianceTags: []string{"SOC2"},
	},
	{
		cidr:           "35.203.0.0/16",
		provider:       "Cohere",
		service:        "Embed / Generate API",
		riskLevel:      "HIGH",
		category:       "LLM",
		dataRisk:       "Embedding API may expose document semantics to third party",
		complianceTags: []string{"SOC2", "GDPR"},
	},
	{
		cidr:           "44.226.0.0/16",
		provider:       "Replicate",
		service:        "Model Hosting Platform",
		riskLevel:      "MEDIUM",
		category:       "ML Infra",
		dataRisk:       "Third-party model hosting — data processed on shared infra",
		complianceTags: []string{"SOC2"},
	},
	{
		cidr:           "51.159.0.0/16",
		provider:       "Mistral AI",
		service:        "Mistral Large / Le Chat",
		riskLevel:      "HIGH",
		category:       "LLM",
		dataRisk:       "EU-based but data sovereignty varies by deployment",
		complianceTags: []string{"SOC2", "GDPR"},
	},
	{
		cidr:           "157.240.0.0/16",
		provider:       "Meta",
		service:        "Llama API / Meta AI",
		riskLevel:      "HIGH",
		category:       "LLM",
		dataRisk:       "Open-weight models but API calls route through Meta infra",
		complianceTags: []string{"SOC2", "GDPR"},
	},
	{
		cidr:           "34.149.0.0/16",
		provider:       "Together AI",
		service:        "Inference API (OSS models)",
		riskLevel:      "MEDIUM",
		category:       "ML Infra",
		dataRisk:       "Shared GPU clusters processing multiple tenants",
		complianceTags: []string{"SOC2"},
	},
	{
		cidr:           "76.76.21.0/24",
		provider:       "Groq",
		service:        "LPU Inference API",
		riskLevel:      "MEDIUM",
		category:       "ML Infra",
		dataRisk:       "Ultra-fast inference — high throughput data processing",
		complianceTags: []string{"SOC2"},
	},
}

type parsedCIDR struct {
	network *net.IPNet
	entry   cidrEntry
}

// CIDRMatcher matches destination IPs against the AI provider blocks.
// Networks are parsed once at construction; Lookup is a linear scan over
// ~15 entries.
type CIDRMatcher struct {
	entries []parsedCIDR
}

// NewCIDRMatcher parses the CIDR table. Malformed entries are skipped.
func NewCIDRMatcher() *CIDRMatcher {
	m := &CIDRMatcher{}
	for _, entry := range aiCIDRDatabase {
		_, network, err := net.ParseCIDR(entry.cidr)
		if err != nil {
			continue
		}
		m.entries = append(m.entries, parsedCIDR{network: network, entry: entry})
	}
	return m
}

// Lookup reports the matching provider block for an IP, or nil. Private,
// loopback, link-local and multicast addresses never match.
func (m *CIDRMatcher) Lookup(ipStr string) *CIDRMatch {
	addr := net.ParseIP(ipStr)
	if addr == nil {
		return nil
	}
	if addr.IsPrivate() || addr.IsLoopback() || addr.IsMulticast() || addr.IsLinkLocalUnicast() {
		return nil
	}

	for _, pc := range m.entries {
		if pc.network.Contains(addr) {
			e := pc.entry
			return &CIDRMatch{
				IP:             ipStr,
				CIDR:           e.cidr,
				Provider:       e.provider,
				Service:        e.service,
				RiskLevel:      e.riskLevel,
				Category:       e.category,
				DataRisk:       e.dataRisk,
				ComplianceTags: e.complianceTags,
			}
		}
	}
	return nil
}

// InAIRange reports whether an IP falls inside any tracked provider block.
// The ML feature extractor uses this boolean view.
func (m *CIDRMatcher) InAIRange(ip string) bool {
	return m.Lookup(ip) != nil
}

// Providers summarizes the tracked providers for stats endpoints.
func (m *CIDRMatcher) Providers() []map[string]interface{} {
	byName := make(map[string]map[string]interface{})
	order := []string{}
	for _, pc := range m.entries {
		e := pc.entry
		p, ok := byName[e.provider]
		if !ok {
			p = map[string]interface{}{
				"provider":    e.provider,
				"cidr_blocks": []string{},
				"services":    []string{},
				"risk_level":  e.riskLevel,
			}
			byName[e.provider] = p
			order = append(order, e.provider)
		}
		p["cidr_blocks"] = append(p["cidr_blocks"].([]string), e.cidr)
		p["services"] = append(p["services"].([]string), e.service)
	}
	out := make([]map[string]interface{}, 0, len(order))
	for _, name := range order {
		out = append(out, byName[name])
	}
	return out
}
