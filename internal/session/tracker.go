// Package session correlates per-source behavior over a sliding time
// window. Individual flows may look harmless; four AI requests in ten
// seconds from one workstation do not.
package session

import (
	"hash/fnv"
	"sync"
	"time"
)

// DefaultWindow is the observation window per source IP.
const DefaultWindow = 30 * time.Minute

// shardCount spreads sources over independent locks. Sharding by source IP
// also preserves the one-writer-per-source discipline.
const shardCount = 16

// Session flags and their risk contributions.
const (
	FlagHighAIRatio       = "HIGH_AI_RATIO"
	FlagBurstAIUsage      = "BURST_AI_USAGE"
	FlagMultiAIServices   = "MULTI_AI_SERVICES"
	FlagLargeAIPayload    = "LARGE_AI_PAYLOAD"
	FlagHighActivity      = "HIGH_ACTIVITY"
	FlagRapidAIRequests   = "RAPID_AI_REQUESTS"
	FlagHighExfilVelocity = "HIGH_EXFIL_VELOCITY"
	FlagAfterHoursAI      = "AFTER_HOURS_AI"
)

type entry struct {
	ts      time.Time
	dst     string
	dstType string // internal, external, shadow, unknown
	bytes   int64
}

type shard struct {
	mu      sync.Mutex
	windows map[string][]entry
}

// Analysis is the behavioral summary for one source IP.
type Analysis struct {
	RiskScore          float64  `json:"risk_score"`
	Flags              []string `json:"flags"`
	AIRatio            float64  `json:"ai_ratio"`
	UniqueDestinations int      `json:"unique_dsts"`
	TotalFlows         int      `json:"total_flows"`
	AIBytes            int64    `json:"ai_bytes"`
	AvgInterArrivalMS  float64  `json:"avg_inter_arrival_ms"`
	ExfilVelocityKBps  float64  `json:"exfil_velocity_kbps"`
}

// Tracker maintains sliding windows of flow entries keyed by source IP.
type Tracker struct {
	window time.Duration
	shards [shardCount]*shard
}

// NewTracker creates a tracker; window <= 0 uses the default.
func NewTracker(window time.Duration) *Tracker {
	if window <= 0 {
		window = DefaultWindow
	}
	t := &Tracker{window: window}
	for i := range t.shards {
		t.shards[i] = &shard{windows: make(map[string][]entry)}
	}
	return t
}

func (t *Tracker) shardFor(src string) *shard {
	h := fnv.New32a()
	h.Write([]byte(src))
	return t.shards[h.Sum32()%shardCount]
}

// Record appends a flow observation and trims entries that fell out of the
// window relative to this insert.
func (t *Tracker) Record(src, dst, dstType string, bytes int64, ts time.Time) {
	s := t.shardFor(src)
	s.mu.Lock()
	defer s.mu.Unlock()

	win := append(s.windows[src], entry{ts: ts, dst: dst, dstType: dstType, bytes: bytes})
	cutoff := ts.Add(-t.window)
	start := 0
	for start < len(win) && win[start].ts.Before(cutoff) {
		start++
	}
	s.windows[src] = win[start:]
}

// Analyze summarizes the current window for a source. A nil return means
// the source has no recorded activity.
func (t *Tracker) Analyze(src string) *Analysis {
	s := t.shardFor(src)
	s.mu.Lock()
	defer s.mu.Unlock()

	win := s.windows[src]
	if len(win) == 0 {
		return nil
	}

	a := &Analysis{TotalFlows: len(win), Flags: []string{}}

	dsts := map[string]bool{}
	aiDsts := map[string]bool{}
	var aiTimes []time.Time
	for _, e := range win {
		dsts[e.dst] = true
		if e.dstType == "shadow" {
			aiDsts[e.dst] = true
			a.AIBytes += e.bytes
			aiTimes = append(aiTimes, e.ts)
		}
	}
	a.UniqueDestinations = len(dsts)
	a.AIRatio = float64(len(aiTimes)) / float64(len(win))

	if len(aiTimes) >= 2 {
		var gapSum time.Duration
		for i := 1; i < len(aiTimes); i++ {
			gapSum += aiTimes[i].Sub(aiTimes[i-1])
		}
		a.AvgInterArrivalMS = float64(gapSum.Milliseconds()) / float64(len(aiTimes)-1)

		duration := aiTimes[len(aiTimes)-1].Sub(aiTimes[0]).Seconds()
		if duration < 1 {
			duration = 1
		}
		a.ExfilVelocityKBps = float64(a.AIBytes) / duration / 1024
	}

	addFlag := func(flag string, weight float64) {
		a.Flags = append(a.Flags, flag)
		a.RiskScore += weight
	}

	if a.AIRatio > 0.3 {
		addFlag(FlagHighAIRatio, 0.30)
	}
	if len(aiTimes) >= 3 {
		addFlag(FlagBurstAIUsage, 0.25)
	}
	if len(aiDsts) >= 2 {
		addFlag(FlagMultiAIServices, 0.20)
	}
	if a.AIBytes > 100_000 {
		addFlag(FlagLargeAIPayload, 0.25)
	}
	if a.TotalFlows > 50 {
		addFlag(FlagHighActivity, 0.10)
	}
	if len(aiTimes) >= 2 && a.AvgInterArrivalMS < 5000 {
		addFlag(FlagRapidAIRequests, 0.15)
	}
	if a.ExfilVelocityKBps > 50 {
		addFlag(FlagHighExfilVelocity, 0.20)
	}
	if len(aiTimes) > 0 {
		hour := win[len(win)-1].ts.Hour()
		if hour < 8 || hour >= 19 {
			addFlag(FlagAfterHoursAI, 0.15)
		}
	}

	if a.RiskScore > 1.0 {
		a.RiskScore = 1.0
	}
	return a
}

// Sources reports how many source IPs currently hold a window.
func (t *Tracker) Sources() int {
	total := 0
	for _, s := range t.shards {
		s.mu.Lock()
		total += len(s.windows)
		s.mu.Unlock()
	}
	return total
}
