package response

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// QUARANTINE BASICS
// ============================================================================

func TestBlockAndUnblock(t *testing.T) {
	m := NewManager(true, 10, time.Hour)

	res := m.BlockIP("203.0.113.7", "ATTACK TOOL DETECTED", "CRITICAL", "SH-000001", true)
	require.True(t, res.Blocked)
	assert.Equal(t, "203.0.113.7", res.IP)
	assert.Equal(t, 1, res.TotalBlocked)
	assert.NotEmpty(t, res.ExpiresAt)
	assert.True(t, m.IsBlocked("203.0.113.7"))

	entries := m.Blocked()
	require.Len(t, entries, 1)
	assert.Equal(t, "SH-000001", entries[0].SourceAlertID)
	assert.True(t, entries[0].AutoBlocked)
	require.NotNil(t, entries[0].ExpiresAt)

	require.NoError(t, m.UnblockIP("203.0.113.7"))
	assert.False(t, m.IsBlocked("203.0.113.7"))
}

func TestBlockIdempotent(t *testing.T) {
	m := NewManager(true, 10, time.Hour)
	m.BlockIP("203.0.113.7", "first", "HIGH", "SH-000001", true)

	res := m.BlockIP("203.0.113.7", "second", "HIGH", "SH-000002", true)
	assert.True(t, res.Blocked)
	assert.Equal(t, "already blocked", res.Reason)
	assert.Equal(t, 1, res.TotalBlocked)
}

func TestUnblockUnknownIPFails(t *testing.T) {
	m := NewManager(true, 10, time.Hour)
	assert.Error(t, m.UnblockIP("198.51.100.1"))
}

func TestDisabledManagerRejectsEverything(t *testing.T) {
	m := NewManager(false, 10, time.Hour)
	res := m.BlockIP("203.0.113.7", "reason", "CRITICAL", "SH-000001", true)
	assert.False(t, res.Blocked)
	assert.Equal(t, "auto-response disabled", res.Reason)
}

// ============================================================================
// WHITELIST PROTECTION
// ============================================================================

func TestWhitelistedAddressesNeverBlocked(t *testing.T) {
	m := NewManager(true, 100, time.Hour)

	for _, ip := range []string{
		"8.8.8.8",      // public DNS
		"1.1.1.1",      // public DNS
		"192.168.1.1",  // gateway
		"127.0.0.5",    // loopback prefix
		"224.0.0.99",   // multicast prefix
		"239.10.20.30", // multicast prefix
	} {
		t.Run(ip, func(t *testing.T) {
			res := m.BlockIP(ip, "reason", "CRITICAL", "SH-000001", true)
			assert.False(t, res.Blocked)
			assert.Equal(t, "address is whitelisted", res.Reason)
			assert.False(t, m.IsBlocked(ip))
		})
	}
}

// ============================================================================
// CAPACITY AND TTL
// ============================================================================

func TestCapacityRejectsWithoutEvicting(t *testing.T) {
	m := NewManager(true, 2, time.Hour)

	require.True(t, m.BlockIP("203.0.113.1", "r", "HIGH", "a", true).Blocked)
	require.True(t, m.BlockIP("203.0.113.2", "r", "HIGH", "b", true).Blocked)

	res := m.BlockIP("203.0.113.3", "r", "HIGH", "c", true)
	assert.False(t, res.Blocked)
	assert.Equal(t, "block table full", res.Reason)

	// Existing entries survive the rejection.
	assert.True(t, m.IsBlocked("203.0.113.1"))
	assert.True(t, m.IsBlocked("203.0.113.2"))
	assert.False(t, m.IsBlocked("203.0.113.3"))
}

func TestTTLExpirySweep(t *testing.T) {
	m := NewManager(true, 10, 20*time.Millisecond)

	m.BlockIP("203.0.113.7", "r", "HIGH", "a", true)
	require.True(t, m.IsBlocked("203.0.113.7"))

	time.Sleep(40 * time.Millisecond)
	assert.False(t, m.IsBlocked("203.0.113.7"))
	assert.Empty(t, m.Blocked())

	// An expired entry frees its capacity slot.
	res := m.BlockIP("203.0.113.8", "r", "HIGH", "b", true)
	assert.True(t, res.Blocked)
	assert.Equal(t, 1, res.TotalBlocked)
}

// ============================================================================
// AUDIT TRAIL
// ============================================================================

func TestAuditRecordsActions(t *testing.T) {
	m := NewManager(true, 1, time.Hour)

	m.BlockIP("203.0.113.1", "bad traffic", "HIGH", "a", true)
	m.BlockIP("203.0.113.2", "r", "HIGH", "b", true) // rejected, table full
	m.BlockIP("8.8.8.8", "r", "HIGH", "c", true)     // rejected, whitelisted
	require.NoError(t, m.UnblockIP("203.0.113.1"))

	audit := m.Audit(0)
	require.Len(t, audit, 4)
	assert.Equal(t, ActionBlocked, audit[0].Action)
	assert.Equal(t, ActionBlockRejected, audit[1].Action)
	assert.Equal(t, "block table full", audit[1].Reason)
	assert.Equal(t, ActionBlockRejected, audit[2].Action)
	assert.Equal(t, "whitelisted address", audit[2].Reason)
	assert.Equal(t, ActionUnblocked, audit[3].Action)
}

func TestAuditLimitReturnsNewest(t *testing.T) {
	m := NewManager(true, 100, time.Hour)
	for i := 0; i < 5; i++ {
		m.BlockIP(fmt.Sprintf("203.0.113.%d", i+1), "r", "HIGH", "a", true)
	}

	last2 := m.Audit(2)
	require.Len(t, last2, 2)
	assert.Equal(t, "203.0.113.4", last2[0].IP)
	assert.Equal(t, "203.0.113.5", last2[1].IP)
}
