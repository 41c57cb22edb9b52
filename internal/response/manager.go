// Package response quarantines source IPs implicated in CRITICAL alerts.
//
// The reference deployment blocks in memory only; the Manager's contract
// (block with TTL, whitelist, capacity cap, audit trail) is what an external
// firewall integration would implement.
package response

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

const (
	// DefaultTTL is how long an auto-block lasts before the sweep lifts it.
	DefaultTTL = 3600 * time.Second
	// DefaultMaxBlocked caps concurrent quarantine entries. When full, new
	// blocks are rejected; existing entries are never evicted to make room.
	DefaultMaxBlocked = 500

	auditCap = 1000
)

// Audit actions.
const (
	ActionBlocked       = "BLOCKED"
	ActionUnblocked     = "UNBLOCKED"
	ActionBlockRejected = "BLOCK_REJECTED"
)

// neverBlock lists infrastructure addresses quarantine must not touch:
// public DNS resolvers, common gateways, broadcast and mDNS groups.
var neverBlock = map[string]bool{
	"8.8.8.8":         true,
	"8.8.4.4":         true,
	"1.1.1.1":         true,
	"1.0.0.1":         true,
	"192.168.1.1":     true,
	"192.168.0.1":     true,
	"10.0.0.1":        true,
	"255.255.255.255": true,
	"224.0.0.1":       true,
	"224.0.0.251":     true,
}

var neverBlockPrefixes = []string{"127.", "224.", "239."}

// BlockEntry is one quarantine record. A nil ExpiresAt means permanent.
type BlockEntry struct {
	IP            string     `json:"ip"`
	Reason        string     `json:"reason"`
	Severity      string     `json:"severity"`
	BlockedAt     time.Time  `json:"blocked_at"`
	SourceAlertID string     `json:"source_alert_id"`
	AutoBlocked   bool       `json:"auto_blocked"`
	ExpiresAt     *time.Time `json:"expires_at"`
}

// BlockResult reports the outcome of a block attempt. It is embedded in the
// triggering alert's auto_response field and broadcast to dashboards.
type BlockResult struct {
	Blocked      bool   `json:"blocked"`
	IP           string `json:"ip"`
	Reason       string `json:"reason"`
	Severity     string `json:"severity,omitempty"`
	ExpiresAt    string `json:"expires_at,omitempty"`
	TotalBlocked int    `json:"total_blocked"`
}

// AuditEntry records one quarantine state change.
type AuditEntry struct {
	Action    string    `json:"action"`
	IP        string    `json:"ip"`
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
}

// Manager owns the quarantine table. Every public call starts with a TTL
// sweep so callers always observe post-expiry state.
type Manager struct {
	mu         sync.Mutex
	enabled    bool
	maxBlocked int
	ttl        time.Duration
	blocked    map[string]*BlockEntry
	audit      []AuditEntry

	totalBlocks   int64
	totalRejected int64
}

// NewManager creates a quarantine manager. maxBlocked <= 0 and ttl <= 0 use
// the defaults.
func NewManager(enabled bool, maxBlocked int, ttl time.Duration) *Manager {
	if maxBlocked <= 0 {
		maxBlocked = DefaultMaxBlocked
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Manager{
		enabled:    enabled,
		maxBlocked: maxBlocked,
		ttl:        ttl,
		blocked:    make(map[string]*BlockEntry),
	}
}

// Enabled reports whether auto-response is active.
func (m *Manager) Enabled() bool { return m.enabled }

// BlockIP quarantines an IP for the configured TTL. Whitelisted addresses
// and capacity overflows are rejected, audited, and reported in the result.
func (m *Manager) BlockIP(ip, reason, severity, sourceAlertID string, auto bool) *BlockResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sweepLocked()

	if !m.enabled {
		return &BlockResult{Blocked: false, IP: ip, Reason: "auto-response disabled", TotalBlocked: len(m.blocked)}
	}
	if isWhitelisted(ip) {
		m.totalRejected++
		m.auditLocked(ActionBlockRejected, ip, "whitelisted address")
		return &BlockResult{Blocked: false, IP: ip, Reason: "address is whitelisted", TotalBlocked: len(m.blocked)}
	}
	if _, exists := m.blocked[ip]; exists {
		return &BlockResult{Blocked: true, IP: ip, Reason: "already blocked", TotalBlocked: len(m.blocked)}
	}
	if len(m.blocked) >= m.maxBlocked {
		m.totalRejected++
		m.auditLocked(ActionBlockRejected, ip, "block table full")
		slog.Warn("[Response] Block table full, rejecting", "ip", ip, "capacity", m.maxBlocked)
		return &BlockResult{Blocked: false, IP: ip, Reason: "block table full", TotalBlocked: len(m.blocked)}
	}

	now := time.Now()
	expires := now.Add(m.ttl)
	m.blocked[ip] = &BlockEntry{
		IP:            ip,
		Reason:        reason,
		Severity:      severity,
		BlockedAt:     now,
		SourceAlertID: sourceAlertID,
		AutoBlocked:   auto,
		ExpiresAt:     &expires,
	}
	m.totalBlocks++
	m.auditLocked(ActionBlocked, ip, reason)
	slog.Info("[Response] 🛡 IP quarantined", "ip", ip, "reason", reason, "ttl", m.ttl)

	return &BlockResult{
		Blocked:      true,
		IP:           ip,
		Reason:       reason,
		Severity:     severity,
		ExpiresAt:    expires.Format(time.RFC3339),
		TotalBlocked: len(m.blocked),
	}
}

// UnblockIP lifts a quarantine manually.
func (m *Manager) UnblockIP(ip string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sweepLocked()

	if _, ok := m.blocked[ip]; !ok {
		return fmt.Errorf("ip %s is not blocked", ip)
	}
	delete(m.blocked, ip)
	m.auditLocked(ActionUnblocked, ip, "manual unblock")
	slog.Info("[Response] IP unblocked", "ip", ip)
	return nil
}

// IsBlocked reports whether a non-expired entry exists for the IP.
func (m *Manager) IsBlocked(ip string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sweepLocked()
	_, ok := m.blocked[ip]
	return ok
}

// Blocked returns a snapshot of the active quarantine entries.
func (m *Manager) Blocked() []*BlockEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sweepLocked()

	out := make([]*BlockEntry, 0, len(m.blocked))
	for _, e := range m.blocked {
		copied := *e
		out = append(out, &copied)
	}
	return out
}

// Audit returns up to the last n audit entries, newest last.
func (m *Manager) Audit(n int) []AuditEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sweepLocked()

	if n <= 0 || n > len(m.audit) {
		n = len(m.audit)
	}
	out := make([]AuditEntry, n)
	copy(out, m.audit[len(m.audit)-n:])
	return out
}

// Stats summarizes quarantine activity for the control plane.
func (m *Manager) Stats() map[string]interface{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sweepLocked()

	return map[string]interface{}{
		"enabled":        m.enabled,
		"active_blocks":  len(m.blocked),
		"max_blocked":    m.maxBlocked,
		"ttl_seconds":    m.ttl.Seconds(),
		"total_blocks":   m.totalBlocks,
		"total_rejected": m.totalRejected,
		"audit_retained": len(m.audit),
	}
}

// sweepLocked removes expired entries and audits each removal. Callers hold
// the mutex.
func (m *Manager) sweepLocked() {
	now := time.Now()
	for ip, e := range m.blocked {
		if e.ExpiresAt != nil && now.After(*e.ExpiresAt) {
			delete(m.blocked, ip)
			m.auditLocked(ActionUnblocked, ip, "ttl expired")
		}
	}
}

func (m *Manager) auditLocked(action, ip, reason string) {
	m.audit = append(m.audit, AuditEntry{
		Action:    action,
		IP:        ip,
		Reason:    reason,
		Timestamp: time.Now(),
	})
	if len(m.audit) > auditCap {
		m.audit = m.audit[len(m.audit)-auditCap:]
	}
}

// isWhitelisted reports whether quarantining the IP would cut off shared
// infrastructure.
func isWhitelisted(ip string) bool {
	if neverBlock[ip] {
		return true
	}
	for _, p := range neverBlockPrefixes {
		if strings.HasPrefix(ip, p) {
			return true
		}
	}
	return false
}
