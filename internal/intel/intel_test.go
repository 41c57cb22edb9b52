package intel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// AI DOMAIN CATALOG
// ============================================================================

func TestAICategoryMatching(t *testing.T) {
	tests := []struct {
		domain   string
		category string
		known    bool
	}{
		{"api.openai.com", "LLM", true},
		{"chat.api.openai.com", "LLM", true}, // resolves via parent openai.com
		{"claude.ai", "LLM", true},
		{"CONSOLE.ANTHROPIC.COM", "LLM", true}, // case-insensitive
		{"  huggingface.co  ", "ML Infra", true},
		{"some.random.subdomain.midjourney.com", "Image Gen", true},
		{"github.com", "", false},
		{"openai.com.evil.example", "", false}, // suffix match only, no substring
		{"", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.domain, func(t *testing.T) {
			cat, ok := AICategory(tt.domain)
			assert.Equal(t, tt.known, ok)
			assert.Equal(t, tt.category, cat)
		})
	}
}

func TestIsAIDomain(t *testing.T) {
	assert.True(t, IsAIDomain("api.anthropic.com"))
	assert.False(t, IsAIDomain("stackoverflow.com"))
	assert.True(t, AIDomainCount() > 100)
}

// ============================================================================
// PROVIDER CIDR BLOCKS
// ============================================================================

func TestCIDRLookup(t *testing.T) {
	m := NewCIDRMatcher()

	match := m.Lookup("13.107.42.14")
	require.NotNil(t, match)
	assert.Equal(t, "OpenAI", match.Provider)
	assert.Equal(t, "CRITICAL", match.RiskLevel)
	assert.Equal(t, "13.107.42.0/24", match.CIDR)
	assert.Contains(t, match.ComplianceTags, "GDPR")

	match = m.Lookup("34.102.136.200")
	require.NotNil(t, match)
	assert.Equal(t, "Anthropic", match.Provider)

	assert.Nil(t, m.Lookup("198.51.100.1"), "unattributed public space")
	assert.Nil(t, m.Lookup("not-an-ip"))
}

func TestCIDRLookupSkipsNonRoutable(t *testing.T) {
	m := NewCIDRMatcher()
	// These would otherwise fall into broad provider /16s.
	assert.Nil(t, m.Lookup("192.168.1.5"))
	assert.Nil(t, m.Lookup("127.0.0.1"))
	assert.Nil(t, m.Lookup("224.0.0.251"))
}

func TestInAIRange(t *testing.T) {
	m := NewCIDRMatcher()
	assert.True(t, m.InAIRange("13.107.42.14"))
	assert.False(t, m.InAIRange("198.51.100.1"))
}

// ============================================================================
// JA3 FINGERPRINTS
// ============================================================================

func TestJA3Lookup(t *testing.T) {
	m := NewJA3Matcher()

	match := m.Lookup("e7d705a3286e19ea42f587b344ee6865")
	require.NotNil(t, match)
	assert.Equal(t, "Python requests 2.x (urllib3)", match.ClientName)
	assert.Equal(t, "scripting", match.Category)
	assert.Contains(t, match.Tags, "spoofing_risk")

	assert.Nil(t, m.Lookup("ffffffffffffffffffffffffffffffff"))
	assert.Nil(t, m.Lookup("short"))
	assert.True(t, m.TotalFingerprints() >= 15)
}

func TestIsKnownBad(t *testing.T) {
	m := NewJA3Matcher()
	assert.True(t, m.IsKnownBad("51c64c77e60f3980eea90869b68c58a8"))  // Cobalt Strike
	assert.False(t, m.IsKnownBad("773906b0efdefa24a7f2b8eb6985bf37")) // Chrome
}

func TestDetectSpoofing(t *testing.T) {
	m := NewJA3Matcher()
	python := "e7d705a3286e19ea42f587b344ee6865"

	t.Run("script claiming browser", func(t *testing.T) {
		report := m.DetectSpoofing(python, "Mozilla/5.0 (Windows NT 10.0) Chrome/120.0")
		require.NotNil(t, report)
		assert.Equal(t, "Python requests 2.x (urllib3)", report.JA3Client)
		assert.Equal(t, "CRITICAL", report.RiskLevel)
		assert.Contains(t, report.Description, "Identity spoofing")
	})

	t.Run("honest script UA", func(t *testing.T) {
		assert.Nil(t, m.DetectSpoofing(python, "python-requests/2.31.0"))
	})

	t.Run("real browser fingerprint", func(t *testing.T) {
		assert.Nil(t, m.DetectSpoofing("773906b0efdefa24a7f2b8eb6985bf37", "Mozilla/5.0 Chrome/120.0"))
	})

	t.Run("tor expects a mozilla UA", func(t *testing.T) {
		// Tor's expected UA legitimately contains a browser string; no report.
		assert.Nil(t, m.DetectSpoofing("e7d70f5df5e3ddf3d1af4b1a0a38a3a1", "Mozilla/5.0 Firefox/115.0"))
	})

	t.Run("no UA no report", func(t *testing.T) {
		assert.Nil(t, m.DetectSpoofing(python, ""))
	})
}
