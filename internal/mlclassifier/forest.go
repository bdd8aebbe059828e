package mlclassifier

import (
	"math/rand"

	"github.com/qpcr-scurve/engine/internal/domain"
)

const numTrees = 25

// Forest is a bagged ensemble of decision trees implementing
// domain.ModelEstimator, one per MLModel.
type Forest struct {
	trees []*treeNode
}

// trainForest fits numTrees trees, each on an independent bootstrap sample
// with a random feature subset at every split.
func trainForest(examples []domain.TrainingExample, seed int64) *Forest {
	samples := make([]sample, len(examples))
	for i, ex := range examples {
		samples[i] = sample{features: ex.Features, label: ex.ExpertLabel}
	}

	rng := rand.New(rand.NewSource(seed))
	trees := make([]*treeNode, numTrees)
	for i := 0; i < numTrees; i++ {
		boot := bootstrapSample(rng, samples)
		trees[i] = buildTree(rng, boot, 0)
	}
	return &Forest{trees: trees}
}

// Predict returns the majority-vote class and the winning vote share as
// confidence, satisfying domain.ModelEstimator.
func (f *Forest) Predict(features [30]float64) (domain.Class7, float64) {
	votes := map[domain.Class7]int{}
	for _, t := range f.trees {
		votes[t.predict(features)]++
	}
	var best domain.Class7
	bestCount := -1
	for label, c := range votes {
		if c > bestCount {
			bestCount = c
			best = label
		}
	}
	confidence := float64(bestCount) / float64(len(f.trees))
	return best, confidence
}

// crossValidateAccuracy runs a simple k-fold cross validation over the
// training examples to estimate raw_cv_accuracy before the conservative
// cap is applied (§4.7).
func crossValidateAccuracy(examples []domain.TrainingExample, folds int, seed int64) float64 {
	if len(examples) < folds {
		folds = len(examples)
	}
	if folds < 2 {
		return 0
	}

	rng := rand.New(rand.NewSource(seed))
	shuffled := append([]domain.TrainingExample(nil), examples...)
	rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })

	foldSize := len(shuffled) / folds
	correct, total := 0, 0
	for k := 0; k < folds; k++ {
		start := k * foldSize
		end := start + foldSize
		if k == folds-1 {
			end = len(shuffled)
		}
		test := shuffled[start:end]
		train := append(append([]domain.TrainingExample(nil), shuffled[:start]...), shuffled[end:]...)
		if len(train) == 0 || len(test) == 0 {
			continue
		}
		model := trainForest(train, seed+int64(k))
		for _, ex := range test {
			predicted, _ := model.Predict(ex.Features)
			if predicted == ex.ExpertLabel {
				correct++
			}
			total++
		}
	}
	if total == 0 {
		return 0
	}
	return float64(correct) / float64(total)
}

// cappedAccuracy applies the conservative accuracy cap policy (§4.7).
func cappedAccuracy(raw float64, trainingCount int) float64 {
	switch {
	case trainingCount < 20:
		return min(raw, 0.60)
	case trainingCount < 50:
		return min(raw, 0.80)
	default:
		return raw
	}
}

func min(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
