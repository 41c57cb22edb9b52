// Package detect holds the rule-based detector plugins and the registry
// that aggregates their verdicts.
package detect

import (
	"log/slog"
	"sync"

	"github.com/shadowhunter/backend/internal/alerts"
	"github.com/shadowhunter/backend/internal/intel"
	"github.com/shadowhunter/backend/internal/telemetry"
)

// Verdict is the aggregated detection decision for one flow.
type Verdict struct {
	Anomalous bool
	Severity  alerts.Severity
	Reason    string
	Rule      string // name of the winning plugin
}

type registered struct {
	plugin  Plugin
	enabled bool
}

// Registry evaluates flows against the registered plugins in order and
// keeps the highest-severity hit. Ties resolve to the earlier registration.
type Registry struct {
	mu      sync.RWMutex
	plugins []*registered
}

// NewRegistry registers the mandatory plugin set in its canonical order.
// enabled toggles plugins by name; names absent from the map stay on.
//
// Order matters for severity ties: the named-service rule outranks the
// provider-network rule at equal severity, and the fingerprint rule's
// attack-tool reason must survive any tie, so JA3 registers before
// CIDR-Intel.
func NewRegistry(cidr *intel.CIDRMatcher, ja3 *intel.JA3Matcher, enabled map[string]bool) *Registry {
	r := &Registry{}
	for _, p := range []Plugin{
		AIDomainPlugin{},
		UnusualPortPlugin{},
		DNSTunnelingPlugin{},
		ExfiltrationPlugin{},
		JA3Plugin{Matcher: ja3},
		CIDRIntelPlugin{Matcher: cidr},
	} {
		on := true
		if v, ok := enabled[p.Name()]; ok {
			on = v
		}
		r.plugins = append(r.plugins, &registered{plugin: p, enabled: on})
		if !on {
			slog.Info("[Detect] Plugin disabled by config", "plugin", p.Name())
		}
	}
	return r
}

// Evaluate runs every enabled plugin and returns the highest-severity
// verdict. Whitelisted flows are suppressed before any plugin runs.
func (r *Registry) Evaluate(e *telemetry.FlowEvent) Verdict {
	if IsWhitelisted(e) {
		return Verdict{}
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	var best Verdict
	for _, reg := range r.plugins {
		if !reg.enabled {
			continue
		}
		hit, severity, reason := reg.plugin.Detect(e)
		if !hit {
			continue
		}
		if !best.Anomalous || severity.Rank() > best.Severity.Rank() {
			best = Verdict{
				Anomalous: true,
				Severity:  severity,
				Reason:    reason,
				Rule:      reg.plugin.Name(),
			}
		}
	}
	return best
}

// SetEnabled toggles a plugin at runtime. Unknown names are ignored.
func (r *Registry) SetEnabled(name string, on bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, reg := range r.plugins {
		if reg.plugin.Name() == name {
			reg.enabled = on
			return
		}
	}
}

// Plugins lists the registered plugins and their activation state, in
// registration order.
func (r *Registry) Plugins() []map[string]interface{} {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]map[string]interface{}, 0, len(r.plugins))
	for _, reg := range r.plugins {
		out = append(out, map[string]interface{}{
			"name":    reg.plugin.Name(),
			"enabled": reg.enabled,
		})
	}
	return out
}
