package ml

import (
	"path/filepath"

	"github.com/shadowhunter/backend/internal/telemetry"
)

// Model artifact filenames inside the configured model directory.
const (
	anomalyModelFile    = "anomaly_forest.json"
	classifierModelFile = "traffic_classifier.json"
)

// Assessment is the combined ML view of one flow.
type Assessment struct {
	AnomalyScore float64
	Anomalous    bool
	Class        string
	Confidence   float64
	RiskScore    float64
}

// Engine runs both scorers over the shared feature vector.
type Engine struct {
	enabled    bool
	extractor  *Extractor
	anomaly    AnomalyScorer
	classifier Classifier
}

// NewEngine builds the scoring engine. modelDir may be empty, in which case
// both scorers run on their heuristic fallbacks.
func NewEngine(enabled bool, modelDir string, cidr CIDRLookup) *Engine {
	anomalyPath, classifierPath := "", ""
	if modelDir != "" {
		anomalyPath = filepath.Join(modelDir, anomalyModelFile)
		classifierPath = filepath.Join(modelDir, classifierModelFile)
	}
	return &Engine{
		enabled:    enabled,
		extractor:  NewExtractor(cidr),
		anomaly:    LoadAnomalyScorer(anomalyPath),
		classifier: LoadClassifier(classifierPath),
	}
}

// Enabled reports whether ML scoring participates in the pipeline.
func (e *Engine) Enabled() bool { return e.enabled }

// Assess scores one flow. The risk score blends the class decision with the
// anomaly signal: confirmed shadow AI dominates, an anomaly alone floors
// the risk at 0.5.
func (e *Engine) Assess(event *telemetry.FlowEvent) *Assessment {
	features := e.extractor.Extract(event)

	score := e.anomaly.Score(features)
	cls := e.classifier.Classify(features)

	a := &Assessment{
		AnomalyScore: score,
		Anomalous:    score < AnomalyThreshold,
		Class:        cls.Class,
		Confidence:   cls.Confidence,
	}

	switch cls.Class {
	case ClassShadowAI:
		if cls.Confidence > 0.8 {
			a.RiskScore = 0.9
		} else {
			a.RiskScore = 0.7
		}
	case ClassSuspicious:
		a.RiskScore = 0.6
	}
	if a.Anomalous && a.RiskScore < 0.5 {
		a.RiskScore = 0.5
	}
	return a
}
