package ml

import (
	"encoding/json"
	"fmt"
	"os"
)

// treeNode is one node of a serialized decision tree. Internal nodes carry
// a feature index and threshold; leaves carry a value vector (a single
// score for regression trees, per-class probabilities for classifiers).
type treeNode struct {
	Feature   int       `json:"feature"`
	Threshold float64   `json:"threshold"`
	Left      *treeNode `json:"left,omitempty"`
	Right     *treeNode `json:"right,omitempty"`
	Value     []float64 `json:"value,omitempty"`
}

func (n *treeNode) isLeaf() bool {
	return n.Left == nil && n.Right == nil
}

// evaluate walks the tree for one feature vector and returns the leaf
// value.
func (n *treeNode) evaluate(features []float64) []float64 {
	node := n
	for !node.isLeaf() {
		if node.Feature < 0 || node.Feature >= len(features) {
			return node.Value
		}
		if features[node.Feature] <= node.Threshold {
			if node.Left == nil {
				break
			}
			node = node.Left
		} else {
			if node.Right == nil {
				break
			}
			node = node.Right
		}
	}
	return node.Value
}

// forestArtifact is the on-disk model format produced by the training
// pipeline. Labels is present only for classifiers and is authoritative for
// class ordering; prediction never assumes an implicit (alphabetical)
// order.
type forestArtifact struct {
	ModelType    string      `json:"model_type"`
	FeatureCount int         `json:"feature_count"`
	Labels       []string    `json:"labels,omitempty"`
	Trees        []*treeNode `json:"trees"`
}

// loadForest reads and validates a model artifact. A feature-count mismatch
// is an error so callers fall back to heuristics instead of scoring with a
// misaligned vector.
func loadForest(path string) (*forestArtifact, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read model %s: %w", path, err)
	}
	var artifact forestArtifact
	if err := json.Unmarshal(data, &artifact); err != nil {
		return nil, fmt.Errorf("parse model %s: %w", path, err)
	}
	if artifact.FeatureCount != FeatureCount {
		return nil, fmt.Errorf("model %s expects %d features, pipeline produces %d",
			path, artifact.FeatureCount, FeatureCount)
	}
	if len(artifact.Trees) == 0 {
		return nil, fmt.Errorf("model %s has no trees", path)
	}
	return &artifact, nil
}

// average evaluates every tree and returns the element-wise mean of the
// leaf values.
func (a *forestArtifact) average(features []float64) []float64 {
	var sum []float64
	counted := 0
	for _, tree := range a.Trees {
		v := tree.evaluate(features)
		if len(v) == 0 {
			continue
		}
		if sum == nil {
			sum = make([]float64, len(v))
		}
		if len(v) != len(sum) {
			continue
		}
		for i := range v {
			sum[i] += v[i]
		}
		counted++
	}
	if counted == 0 {
		return nil
	}
	for i := range sum {
		sum[i] /= float64(counted)
	}
	return sum
}
