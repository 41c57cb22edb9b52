package ml

import "log/slog"

// Traffic classes. The classifier always returns one of these; trained
// artifacts carry their own label list and may order them differently.
const (
	ClassNormal     = "normal"
	ClassSuspicious = "suspicious"
	ClassShadowAI   = "shadow_ai"
)

// Classification is a class decision with calibrated probabilities.
type Classification struct {
	Class         string
	Confidence    float64
	Probabilities map[string]float64
}

// Classifier assigns a traffic class to a feature vector.
type Classifier interface {
	Classify(features []float64) Classification
}

// ForestClassifier predicts with a trained probability forest, indexing
// class names through the artifact's explicit label list.
type ForestClassifier struct {
	artifact *forestArtifact
	fallback HeuristicClassifier
}

// LoadClassifier loads the classifier artifact at path. Load errors and
// artifacts without labels degrade to the heuristic.
func LoadClassifier(path string) Classifier {
	if path == "" {
		return HeuristicClassifier{}
	}
	artifact, err := loadForest(path)
	if err != nil {
		slog.Warn("[ML] Classifier model unavailable, using heuristic", "error", err)
		return HeuristicClassifier{}
	}
	if len(artifact.Labels) == 0 {
		slog.Warn("[ML] Classifier model carries no label list, using heuristic", "path", path)
		return HeuristicClassifier{}
	}
	slog.Info("[ML] Classifier model loaded",
		"path", path, "trees", len(artifact.Trees), "labels", artifact.Labels)
	return &ForestClassifier{artifact: artifact}
}

func (c *ForestClassifier) Classify(features []float64) Classification {
	if len(features) != FeatureCount {
		return c.fallback.Classify(features)
	}
	probs := c.artifact.average(features)
	if len(probs) != len(c.artifact.Labels) {
		return c.fallback.Classify(features)
	}

	best := 0
	byLabel := make(map[string]float64, len(probs))
	for i, p := range probs {
		byLabel[c.artifact.Labels[i]] = p
		if p > probs[best] {
			best = i
		}
	}
	return Classification{
		Class:         c.artifact.Labels[best],
		Confidence:    probs[best],
		Probabilities: byLabel,
	}
}

// HeuristicClassifier is the rule-based fallback: external destinations
// with a hostname and heavy outbound volume look like shadow AI; external
// destinations on unfamiliar ports look suspicious.
type HeuristicClassifier struct{}

func (HeuristicClassifier) Classify(features []float64) Classification {
	class := ClassNormal
	if len(features) >= FeatureCount {
		external := features[6] == 0
		hasHostname := features[9] == 1
		heavyOutbound := features[2] > 8
		wellKnownPort := features[7] == 1

		switch {
		case external && hasHostname && heavyOutbound:
			class = ClassShadowAI
		case external && !wellKnownPort:
			class = ClassSuspicious
		}
	}

	probs := map[string]float64{
		ClassNormal:     0.1,
		ClassSuspicious: 0.1,
		ClassShadowAI:   0.1,
	}
	probs[class] = 0.8
	return Classification{Class: class, Confidence: 0.8, Probabilities: probs}
}
