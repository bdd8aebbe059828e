// Package mlclassifier implements the ML Classifier (MLC): a from-scratch
// bagged decision-tree ensemble trained from TrainingExample history, the
// closest idiomatic-Go shape to "random-forest-style ensemble" buildable
// without a fabricated dependency — no repo in the retrieved pack imports
// an ML or statistics library.
package mlclassifier

import (
	"math"
	"math/rand"

	"github.com/qpcr-scurve/engine/internal/domain"
)

// sample is one training row in the flat 30-feature space.
type sample struct {
	features [30]float64
	label    domain.Class7
}

// treeNode is one node of a binary decision tree over the 30 features.
type treeNode struct {
	isLeaf     bool
	label      domain.Class7
	featureIdx int
	threshold  float64
	left       *treeNode
	right      *treeNode
}

func (n *treeNode) predict(features [30]float64) domain.Class7 {
	if n.isLeaf {
		return n.label
	}
	if features[n.featureIdx] <= n.threshold {
		return n.left.predict(features)
	}
	return n.right.predict(features)
}

const (
	maxDepth        = 8
	minSamplesSplit = 4
	featureSubsetN  = 6 // random feature subset size per split, sqrt(30)-ish
)

// buildTree grows one decision tree from a bootstrap sample via recursive
// greedy splitting on Gini impurity over a random feature subset at each
// node (the random-subspace step that makes this an ensemble member
// rather than a single deterministic tree).
func buildTree(rng *rand.Rand, samples []sample, depth int) *treeNode {
	if depth >= maxDepth || len(samples) < minSamplesSplit || isPure(samples) {
		return &treeNode{isLeaf: true, label: majorityLabel(samples)}
	}

	bestFeature := -1
	bestThreshold := 0.0
	bestGini := math.Inf(1)
	var bestLeft, bestRight []sample

	features := randomFeatureSubset(rng, featureSubsetN)
	for _, fi := range features {
		thresholds := candidateThresholds(samples, fi)
		for _, th := range thresholds {
			left, right := splitOn(samples, fi, th)
			if len(left) == 0 || len(right) == 0 {
				continue
			}
			g := weightedGini(left, right)
			if g < bestGini {
				bestGini = g
				bestFeature = fi
				bestThreshold = th
				bestLeft = left
				bestRight = right
			}
		}
	}

	if bestFeature == -1 {
		return &treeNode{isLeaf: true, label: majorityLabel(samples)}
	}

	return &treeNode{
		isLeaf:     false,
		featureIdx: bestFeature,
		threshold:  bestThreshold,
		left:       buildTree(rng, bestLeft, depth+1),
		right:      buildTree(rng, bestRight, depth+1),
	}
}

func randomFeatureSubset(rng *rand.Rand, n int) []int {
	perm := rng.Perm(30)
	if n > 30 {
		n = 30
	}
	return perm[:n]
}

func candidateThresholds(samples []sample, featureIdx int) []float64 {
	seen := map[float64]bool{}
	var out []float64
	for _, s := range samples {
		v := s.features[featureIdx]
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	return out
}

func splitOn(samples []sample, featureIdx int, threshold float64) (left, right []sample) {
	for _, s := range samples {
		if s.features[featureIdx] <= threshold {
			left = append(left, s)
		} else {
			right = append(right, s)
		}
	}
	return left, right
}

func gini(samples []sample) float64 {
	if len(samples) == 0 {
		return 0
	}
	counts := map[domain.Class7]int{}
	for _, s := range samples {
		counts[s.label]++
	}
	n := float64(len(samples))
	impurity := 1.0
	for _, c := range counts {
		p := float64(c) / n
		impurity -= p * p
	}
	return impurity
}

func weightedGini(left, right []sample) float64 {
	n := float64(len(left) + len(right))
	return (float64(len(left))/n)*gini(left) + (float64(len(right))/n)*gini(right)
}

func isPure(samples []sample) bool {
	if len(samples) == 0 {
		return true
	}
	first := samples[0].label
	for _, s := range samples {
		if s.label != first {
			return false
		}
	}
	return true
}

func majorityLabel(samples []sample) domain.Class7 {
	counts := map[domain.Class7]int{}
	for _, s := range samples {
		counts[s.label]++
	}
	var best domain.Class7
	bestCount := -1
	for label, c := range counts {
		if c > bestCount {
			bestCount = c
			best = label
		}
	}
	return best
}

func bootstrapSample(rng *rand.Rand, samples []sample) []sample {
	out := make([]sample, len(samples))
	for i := range out {
		out[i] = samples[rng.Intn(len(samples))]
	}
	return out
}
