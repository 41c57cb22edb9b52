package api

import (
	"encoding/json"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/shadowhunter/backend/internal/alerts"
)

// Rule is an operator-managed policy entry. Rules shape dashboards and
// exports; enforcement beyond the built-in detectors is a firewall
// integration concern.
type Rule struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Action      string    `json:"action"` // block, allow, monitor
	Target      string    `json:"target"`
	Enabled     bool      `json:"enabled"`
	CreatedAt   time.Time `json:"created_at"`
}

// RuleSet is the in-memory policy rule table with the seeded defaults.
type RuleSet struct {
	mu    sync.RWMutex
	rules []*Rule
}

// NewRuleSet seeds the default policy.
func NewRuleSet() *RuleSet {
	now := time.Now()
	return &RuleSet{rules: []*Rule{
		{ID: uuid.New().String(), Name: "Block known attack tools",
			Description: "Quarantine sources whose TLS fingerprint matches C2 or exploitation tooling",
			Action:      "block", Target: "ja3:attack_tool", Enabled: true, CreatedAt: now},
		{ID: uuid.New().String(), Name: "Monitor AI service access",
			Description: "Alert on any flow to a cataloged AI service domain or provider network",
			Action:      "monitor", Target: "category:ai", Enabled: true, CreatedAt: now},
		{ID: uuid.New().String(), Name: "Monitor bulk egress",
			Description: "Alert on outbound transfers exceeding the exfiltration threshold",
			Action:      "monitor", Target: "egress:bulk", Enabled: true, CreatedAt: now},
		{ID: uuid.New().String(), Name: "Allow sanctioned SaaS",
			Description: "Suppress alerts for the approved enterprise SaaS list",
			Action:      "allow", Target: "catalog:sanctioned", Enabled: false, CreatedAt: now},
	}}
}

func (rs *RuleSet) list() []*Rule {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	out := make([]*Rule, len(rs.rules))
	copy(out, rs.rules)
	return out
}

func (rs *RuleSet) find(id string) *Rule {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	for _, r := range rs.rules {
		if r.ID == id {
			return r
		}
	}
	return nil
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	buffered := s.buffer.All()
	if buffered == nil {
		buffered = []*alerts.Alert{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"alerts": buffered,
		"count":  len(buffered),
	})
}

func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"rules": s.rules.list()})
}

func (s *Server) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	var rule Rule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		writeError(w, http.StatusBadRequest, "invalid rule payload")
		return
	}
	if rule.Name == "" || rule.Action == "" {
		writeError(w, http.StatusBadRequest, "rule requires name and action")
		return
	}
	rule.ID = uuid.New().String()
	rule.CreatedAt = time.Now()

	s.rules.mu.Lock()
	s.rules.rules = append(s.rules.rules, &rule)
	s.rules.mu.Unlock()
	writeJSON(w, http.StatusCreated, &rule)
}

func (s *Server) handleUpdateRule(w http.ResponseWriter, r *http.Request) {
	rule := s.rules.find(mux.Vars(r)["id"])
	if rule == nil {
		writeError(w, http.StatusNotFound, "rule not found")
		return
	}
	var patch Rule
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeError(w, http.StatusBadRequest, "invalid rule payload")
		return
	}

	s.rules.mu.Lock()
	if patch.Name != "" {
		rule.Name = patch.Name
	}
	if patch.Description != "" {
		rule.Description = patch.Description
	}
	if patch.Action != "" {
		rule.Action = patch.Action
	}
	if patch.Target != "" {
		rule.Target = patch.Target
	}
	s.rules.mu.Unlock()
	writeJSON(w, http.StatusOK, rule)
}

func (s *Server) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	s.rules.mu.Lock()
	defer s.rules.mu.Unlock()
	for i, rule := range s.rules.rules {
		if rule.ID == id {
			s.rules.rules = append(s.rules.rules[:i], s.rules.rules[i+1:]...)
			writeJSON(w, http.StatusOK, map[string]string{"deleted": id})
			return
		}
	}
	writeError(w, http.StatusNotFound, "rule not found")
}

func (s *Server) handleToggleRule(w http.ResponseWriter, r *http.Request) {
	rule := s.rules.find(mux.Vars(r)["id"])
	if rule == nil {
		writeError(w, http.StatusNotFound, "rule not found")
		return
	}
	s.rules.mu.Lock()
	rule.Enabled = !rule.Enabled
	s.rules.mu.Unlock()
	writeJSON(w, http.StatusOK, rule)
}

func (s *Server) handlePlugins(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"plugins": s.registry.Plugins()})
}

// killChainStages bucket alerts by attack progression. Keyword match on
// the description wins; severity is the fallback.
var killChainStages = []struct {
	Stage    string
	Keywords []string
}{
	{"reconnaissance", []string{"dns", "scan", "probe"}},
	{"initial_access", []string{"unusual", "spoofing", "non-browser"}},
	{"execution", []string{"shadow ai", "ai provider", "ml detected"}},
	{"exfiltration", []string{"exfiltration", "tunneling", "payload"}},
	{"command_control", []string{"attack tool", "c2", "cobalt", "beacon", "lateral"}},
}

func stageFor(a *alerts.Alert) string {
	desc := strings.ToLower(a.Description)
	for _, st := range killChainStages {
		for _, kw := range st.Keywords {
			if strings.Contains(desc, kw) {
				return st.Stage
			}
		}
	}
	switch a.Severity {
	case alerts.SeverityCritical:
		return "command_control"
	case alerts.SeverityHigh:
		return "exfiltration"
	case alerts.SeverityMedium:
		return "initial_access"
	default:
		return "reconnaissance"
	}
}

func (s *Server) handleKillChain(w http.ResponseWriter, r *http.Request) {
	buckets := map[string][]*alerts.Alert{}
	for _, a := range s.buffer.All() {
		buckets[stageFor(a)] = append(buckets[stageFor(a)], a)
	}

	stages := make([]map[string]interface{}, 0, len(killChainStages))
	active := 0
	for _, st := range killChainStages {
		hits := buckets[st.Stage]
		if len(hits) > 0 {
			active++
		}
		if len(hits) > 10 {
			hits = hits[len(hits)-10:]
		}
		if hits == nil {
			hits = []*alerts.Alert{}
		}
		stages = append(stages, map[string]interface{}{
			"stage":  st.Stage,
			"count":  len(buckets[st.Stage]),
			"alerts": hits,
		})
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"stages":           stages,
		"chain_completion": active * 100 / len(killChainStages),
	})
}

// handleReport renders an incident summary from the buffered alerts.
func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	all := s.buffer.All()

	severities := map[string]int{}
	sources := map[string]int{}
	targets := map[string]int{}
	var shadowAI []*alerts.Alert
	for _, a := range all {
		severities[string(a.Severity)]++
		sources[a.Source]++
		targets[a.Target]++
		if a.CIDRMatch != nil || strings.Contains(strings.ToLower(a.Description), "shadow ai") {
			shadowAI = append(shadowAI, a)
		}
	}
	if shadowAI == nil {
		shadowAI = []*alerts.Alert{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"generated_at":       time.Now().Format(time.RFC3339),
		"total_alerts":       len(all),
		"severity_breakdown": severities,
		"top_sources":        topCounts(sources, 5),
		"top_targets":        topCounts(targets, 5),
		"shadow_ai_activity": shadowAI,
		"recommendations": []string{
			"Review quarantined sources and confirm or release each block",
			"Audit accounts behind repeat AI-service access for data handling policy violations",
			"Verify egress firewall rules cover the flagged unusual ports",
			"Rotate credentials for any host matching an attack-tool fingerprint",
		},
	})
}

func topCounts(counts map[string]int, n int) []map[string]interface{} {
	type kv struct {
		key   string
		count int
	}
	entries := make([]kv, 0, len(counts))
	for k, c := range counts {
		entries = append(entries, kv{k, c})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].count != entries[j].count {
			return entries[i].count > entries[j].count
		}
		return entries[i].key < entries[j].key
	})
	if len(entries) > n {
		entries = entries[:n]
	}
	out := make([]map[string]interface{}, 0, len(entries))
	for _, e := range entries {
		out = append(out, map[string]interface{}{"name": e.key, "count": e.count})
	}
	return out
}
