// Package probe actively interrogates suspected AI endpoints. Given a
// CRITICAL or HIGH alert against an external host, it sends a small,
// rate-limited sequence of HTTPS requests and looks for API signatures that
// confirm the destination is an AI service.
package probe

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"
)

const (
	// DefaultMaxPerMinute bounds probe volume across all targets.
	DefaultMaxPerMinute = 10
	// DefaultCooldown is the per-target re-probe interval.
	DefaultCooldown = 300 * time.Second
	// DefaultTimeout bounds each HTTP request.
	DefaultTimeout = 5 * time.Second

	recentCap = 50
	// minIndicators is how many independent signals confirm an AI service.
	minIndicators = 2
)

// aiPaths are well-known AI API endpoints probed after an inconclusive
// OPTIONS request.
var aiPaths = []string{
	"/v1/models",
	"/v1/chat/completions",
	"/api/generate",
	"/api/tags",
	"/v1/complete",
}

// headerIndicators are substrings of response header names or values that
// AI API gateways commonly expose.
var headerIndicators = []string{
	"openai",
	"anthropic",
	"x-request-id",
	"x-ratelimit-limit",
	"cf-ray",
}

// bodyKeywords confirm a JSON response came from a model-serving API.
var bodyKeywords = []string{"model", "gpt", "claude", "llama", "completion", "embedding", "token"}

// StageResult is the outcome of one interrogation stage.
type StageResult struct {
	Skipped    bool     `json:"skipped,omitempty"`
	Reason     string   `json:"reason,omitempty"`
	StatusCode int      `json:"status_code,omitempty"`
	Indicators []string `json:"indicators,omitempty"`
	Confirmed  bool     `json:"confirmed"`
}

// Result is the full interrogation outcome, embedded in the triggering
// alert's active_probe field.
type Result struct {
	Target       string       `json:"target"`
	Timestamp    string       `json:"timestamp"`
	Skipped      bool         `json:"skipped,omitempty"`
	Reason       string       `json:"reason,omitempty"`
	Error        string       `json:"error,omitempty"`
	OptionsProbe *StageResult `json:"options_probe,omitempty"`
	AIProbe      *StageResult `json:"ai_probe,omitempty"`
	ConfirmedAI  bool         `json:"confirmed_ai"`
}

// Interrogator issues probes under a global sliding-window rate limit and a
// per-target cooldown. TLS verification is off so self-signed interceptor
// certificates do not mask the endpoint behind them.
type Interrogator struct {
	enabled      bool
	maxPerMinute int
	cooldown     time.Duration
	client       *http.Client

	mu       sync.Mutex
	window   []time.Time
	lastSeen map[string]time.Time
	recent   []*Result
	total    int64
	denied   int64
}

// NewInterrogator builds a probe client. Zero or negative limits use the
// defaults.
func NewInterrogator(enabled bool, maxPerMinute int, cooldown, timeout time.Duration) *Interrogator {
	if maxPerMinute <= 0 {
		maxPerMinute = DefaultMaxPerMinute
	}
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Interrogator{
		enabled:      enabled,
		maxPerMinute: maxPerMinute,
		cooldown:     cooldown,
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
			},
		},
		lastSeen: make(map[string]time.Time),
	}
}

// Enabled reports whether probing is active.
func (it *Interrogator) Enabled() bool { return it.enabled }

// Probe interrogates a target host or IP. Safety denials (private address,
// rate limit, cooldown) return a skipped result; transport errors return an
// error result. Neither is fatal to the caller.
func (it *Interrogator) Probe(ctx context.Context, target string) *Result {
	res := &Result{
		Target:    target,
		Timestamp: time.Now().Format(time.RFC3339),
	}

	if !it.enabled {
		res.Skipped = true
		res.Reason = "probing disabled"
		return res
	}
	if reason := unsafeTarget(target); reason != "" {
		res.Skipped = true
		res.Reason = reason
		return it.record(res)
	}
	if reason := it.admit(target); reason != "" {
		it.mu.Lock()
		it.denied++
		it.mu.Unlock()
		res.Skipped = true
		res.Reason = reason
		return it.record(res)
	}

	slog.Info("[Probe] 🔍 Interrogating target", "target", target)

	opts := it.probeOptions(ctx, target)
	res.OptionsProbe = opts
	if opts.Confirmed {
		res.ConfirmedAI = true
		res.AIProbe = &StageResult{Skipped: true, Reason: "OPTIONS already confirmed AI"}
		slog.Info("[Probe] AI service confirmed via OPTIONS", "target", target, "indicators", opts.Indicators)
		return it.record(res)
	}

	ai := it.probeAIPaths(ctx, target)
	res.AIProbe = ai
	res.ConfirmedAI = ai.Confirmed
	if ai.Confirmed {
		slog.Info("[Probe] AI service confirmed via API paths", "target", target, "indicators", ai.Indicators)
	}
	return it.record(res)
}

// probeOptions sends OPTIONS / and scans the response headers for AI
// gateway signatures.
func (it *Interrogator) probeOptions(ctx context.Context, target string) *StageResult {
	stage := &StageResult{}

	req, err := http.NewRequestWithContext(ctx, http.MethodOptions, "https://"+target+"/", nil)
	if err != nil {
		stage.Skipped = true
		stage.Reason = err.Error()
		return stage
	}
	resp, err := it.client.Do(req)
	if err != nil {
		stage.Skipped = true
		stage.Reason = fmt.Sprintf("request failed: %v", err)
		return stage
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	stage.StatusCode = resp.StatusCode
	for name, values := range resp.Header {
		joined := strings.ToLower(name + ": " + strings.Join(values, " "))
		for _, ind := range headerIndicators {
			if strings.Contains(joined, ind) {
				stage.Indicators = append(stage.Indicators, ind)
				break
			}
		}
	}
	stage.Confirmed = len(stage.Indicators) >= minIndicators
	return stage
}

// probeAIPaths walks the known AI API paths. Auth challenges on AI paths
// and JSON responses with model vocabulary each count as one indicator.
func (it *Interrogator) probeAIPaths(ctx context.Context, target string) *StageResult {
	stage := &StageResult{}

	for _, path := range aiPaths {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, "https://"+target+path, nil)
		if err != nil {
			continue
		}
		resp, err := it.client.Do(req)
		if err != nil {
			continue
		}

		switch {
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			stage.Indicators = append(stage.Indicators, "auth_required:"+path)
			io.Copy(io.Discard, io.LimitReader(resp.Body, 512))

		case resp.StatusCode == http.StatusOK &&
			strings.Contains(resp.Header.Get("Content-Type"), "application/json"):
			stage.Indicators = append(stage.Indicators, "json_api:"+path)
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			lower := strings.ToLower(string(body))
			for _, kw := range bodyKeywords {
				if strings.Contains(lower, kw) {
					stage.Indicators = append(stage.Indicators, "keyword:"+kw)
				}
			}

		default:
			io.Copy(io.Discard, io.LimitReader(resp.Body, 512))
		}
		resp.Body.Close()

		if len(stage.Indicators) >= minIndicators {
			break
		}
	}

	stage.Confirmed = len(stage.Indicators) >= minIndicators
	return stage
}

// admit enforces the sliding-window rate limit and the per-target cooldown.
// An empty return admits the probe.
func (it *Interrogator) admit(target string) string {
	it.mu.Lock()
	defer it.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-time.Minute)
	kept := it.window[:0]
	for _, t := range it.window {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	it.window = kept

	if len(it.window) >= it.maxPerMinute {
		return "rate limit exceeded"
	}
	if last, ok := it.lastSeen[target]; ok && now.Sub(last) < it.cooldown {
		return fmt.Sprintf("target in cooldown (%.0fs remaining)", (it.cooldown - now.Sub(last)).Seconds())
	}

	it.window = append(it.window, now)
	it.lastSeen[target] = now
	it.total++
	return ""
}

// record retains the result for the control plane's recent-probes view.
func (it *Interrogator) record(res *Result) *Result {
	it.mu.Lock()
	defer it.mu.Unlock()
	it.recent = append(it.recent, res)
	if len(it.recent) > recentCap {
		it.recent = it.recent[len(it.recent)-recentCap:]
	}
	return res
}

// Recent returns the retained probe results, oldest first.
func (it *Interrogator) Recent() []*Result {
	it.mu.Lock()
	defer it.mu.Unlock()
	out := make([]*Result, len(it.recent))
	copy(out, it.recent)
	return out
}

// Stats summarizes probe activity for the control plane.
func (it *Interrogator) Stats() map[string]interface{} {
	it.mu.Lock()
	defer it.mu.Unlock()

	confirmed := 0
	for _, r := range it.recent {
		if r.ConfirmedAI {
			confirmed++
		}
	}
	return map[string]interface{}{
		"enabled":          it.enabled,
		"total_probes":     it.total,
		"denied":           it.denied,
		"recent_retained":  len(it.recent),
		"recent_confirmed": confirmed,
		"max_per_minute":   it.maxPerMinute,
		"cooldown_seconds": it.cooldown.Seconds(),
	}
}

// unsafeTarget rejects probe targets inside the perimeter. Hostnames pass;
// only literal private, loopback, link-local, multicast and unspecified
// addresses are refused.
func unsafeTarget(target string) string {
	ip := net.ParseIP(target)
	if ip == nil {
		return ""
	}
	switch {
	case ip.IsPrivate():
		return "private address"
	case ip.IsLoopback():
		return "loopback address"
	case ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast():
		return "link-local address"
	case ip.IsMulticast():
		return "multicast address"
	case ip.IsUnspecified():
		return "unspecified address"
	}
	return ""
}
