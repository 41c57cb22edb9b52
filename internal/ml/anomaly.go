package ml

import "log/slog"

// AnomalyThreshold is the score below which a flow counts as anomalous.
// Scores are oriented like isolation-forest decision functions: lower is
// more anomalous.
const AnomalyThreshold = -0.2

// AnomalyScorer produces a scalar anomaly score for a feature vector.
type AnomalyScorer interface {
	Score(features []float64) float64
}

// ForestAnomaly scores with a trained regression forest. On any evaluation
// problem it degrades to the heuristic rather than failing.
type ForestAnomaly struct {
	artifact *forestArtifact
	fallback HeuristicAnomaly
}

// LoadAnomalyScorer loads the anomaly artifact at path. Any load or
// validation error returns the heuristic scorer instead.
func LoadAnomalyScorer(path string) AnomalyScorer {
	if path == "" {
		return HeuristicAnomaly{}
	}
	artifact, err := loadForest(path)
	if err != nil {
		slog.Warn("[ML] Anomaly model unavailable, using heuristic", "error", err)
		return HeuristicAnomaly{}
	}
	slog.Info("[ML] Anomaly model loaded", "path", path, "trees", len(artifact.Trees))
	return &ForestAnomaly{artifact: artifact}
}

func (s *ForestAnomaly) Score(features []float64) float64 {
	if len(features) != FeatureCount {
		return s.fallback.Score(features)
	}
	v := s.artifact.average(features)
	if len(v) == 0 {
		return s.fallback.Score(features)
	}
	return v[0]
}

// HeuristicAnomaly is the statistical fallback: a weighted outlier score
// over volume, egress direction, and port familiarity. It reproduces the
// shape of the trained model's decision function closely enough to keep
// thresholds meaningful.
type HeuristicAnomaly struct{}

func (HeuristicAnomaly) Score(features []float64) float64 {
	if len(features) < FeatureCount {
		return 0
	}
	logVolume := features[2] + features[3]
	externalDst := 1 - features[6]
	unusualPort := 1 - features[7]
	return -(0.3*logVolume + 0.4*externalDst + 0.3*unusualPort) / 10
}
