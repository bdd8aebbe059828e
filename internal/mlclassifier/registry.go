package mlclassifier

import (
	"context"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/sirupsen/logrus"

	"github.com/qpcr-scurve/engine/internal/domain"
)

// modelSlot holds the current model plus its full version history for one
// test_code, guarded by its own lock so readers for one pathogen never
// block writers training a different pathogen (§5: "Writers (training)
// take a model-scoped lock; readers never block writers").
type modelSlot struct {
	mu       sync.RWMutex
	current  domain.MLModel
	versions []domain.MLModel
}

// Registry is the concrete domain.ModelRegistry: a per-test_code model map
// plus an LRU (hashicorp/golang-lru v1) that Train fills with each newly
// trained *Forest, keyed by test_code and version. Predict uses the current
// model's Estimator directly and does not read the LRU.
type Registry struct {
	logger *logrus.Logger
	cfg    domain.MLConfig

	mu    sync.RWMutex
	slots map[string]*modelSlot // keyed by test_code

	treeCache *lru.Cache // key: test_code+"@"+version -> *Forest
}

const treeCacheSize = 64

// NewRegistry constructs a Registry.
func NewRegistry(logger *logrus.Logger, cfg domain.MLConfig) *Registry {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	cache, _ := lru.New(treeCacheSize)
	return &Registry{
		logger:    logger,
		cfg:       cfg,
		slots:     make(map[string]*modelSlot),
		treeCache: cache,
	}
}

func (r *Registry) slotFor(testCode string) *modelSlot {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.slots[testCode]
	if !ok {
		s = &modelSlot{}
		r.slots[testCode] = s
	}
	return s
}

// Current returns the active model for test_code, falling back to the
// GENERAL model when no pathogen-specific model has been trained yet.
func (r *Registry) Current(testCode string) (domain.MLModel, bool) {
	r.mu.RLock()
	s, ok := r.slots[testCode]
	r.mu.RUnlock()
	if ok {
		s.mu.RLock()
		defer s.mu.RUnlock()
		if s.current.Version != "" {
			return s.current, true
		}
	}
	if testCode != "GENERAL" {
		return r.Current("GENERAL")
	}
	return domain.MLModel{}, false
}

// Versions returns the full version history for test_code, oldest first.
func (r *Registry) Versions(testCode string) []domain.MLModel {
	r.mu.RLock()
	s, ok := r.slots[testCode]
	r.mu.RUnlock()
	if !ok {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.MLModel, len(s.versions))
	copy(out, s.versions)
	return out
}

// Train fits a new model version from the full training history (append-
// only: never rewritten to reflect later expert flips, §4.7) and installs
// it as current. The version pointer flip is atomic under the slot lock so
// concurrent readers see either the old or the new version, never a
// partial one.
func (r *Registry) Train(ctx context.Context, testCode string, examples []domain.TrainingExample) (domain.MLModel, error) {
	log := r.logger.WithFields(logrus.Fields{"test_code": testCode, "component": "mlclassifier", "training_count": len(examples)})

	if len(examples) == 0 {
		return domain.MLModel{}, fmt.Errorf("mlclassifier: cannot train %s with zero examples", testCode)
	}

	s := r.slotFor(testCode)

	s.mu.Lock()
	parentVersion := s.current.Version
	nextVersion := nextVersionString(len(s.versions) + 1)
	s.mu.Unlock()

	raw := crossValidateAccuracy(examples, 5, int64(len(examples)))
	capped := cappedAccuracy(raw, len(examples))
	forest := trainForest(examples, int64(len(examples))*31)

	model := domain.MLModel{
		TestCode:       testCode,
		Version:        nextVersion,
		ParentVersion:  parentVersion,
		TrainingCount:  len(examples),
		RawCVAccuracy:  raw,
		CappedAccuracy: capped,
		CreatedAt:      time.Now(),
		Estimator:      forest,
	}

	s.mu.Lock()
	s.current = model
	s.versions = append(s.versions, model)
	s.mu.Unlock()

	r.treeCache.Add(testCode+"@"+nextVersion, forest)

	log.WithFields(logrus.Fields{"version": nextVersion, "capped_accuracy": capped}).Info("trained new ML model version")
	return model, nil
}

func nextVersionString(n int) string {
	return fmt.Sprintf("v%d", n)
}

// ShouldRetrain reports whether trainingCount just crossed a milestone
// (§4.7: "triggered after any expert feedback submission if the
// per-pathogen training count crosses a milestone").
func ShouldRetrain(trainingCountBefore, trainingCountAfter int) bool {
	for _, m := range domain.TrainingMilestones {
		if trainingCountBefore < m && trainingCountAfter >= m {
			return true
		}
	}
	return false
}

// Predict applies the full prediction-gating contract from §4.7: model
// must exist, training_count >= PredictionGate, ml_enabled for
// (pathogen, channel), and confidence must clear the configured minimum;
// otherwise the second return value is false and the caller must defer to
// the Rule Classifier.
func (r *Registry) Predict(testCode, channel string, features [30]float64) (class domain.Class7, confidence float64, version string, ok bool, engErr *domain.EngineError) {
	channelCfg := r.cfg.ForChannel(testCode, channel)
	if !r.cfg.GlobalEnabled || !channelCfg.MLEnabled {
		return "", 0, "", false, domain.NewEngineError(domain.ErrCodeMLDisabled, "ml classifier disabled for "+testCode+"/"+channel, "", nil)
	}

	model, found := r.Current(testCode)
	if !found || model.TrainingCount < r.cfg.PredictionGate {
		return "", 0, "", false, domain.NewEngineError(domain.ErrCodeMLInsufficientTraining,
			"training count below prediction gate", "", map[string]interface{}{"test_code": testCode, "gate": r.cfg.PredictionGate})
	}

	predictedClass, predictedConfidence := model.Estimator.Predict(features)
	minConfidence := channelCfg.MinConfidence
	if predictedConfidence < minConfidence {
		return "", 0, "", false, domain.NewEngineError(domain.ErrCodeMLInsufficientTraining,
			"prediction confidence below configured minimum", "", map[string]interface{}{"confidence": predictedConfidence, "min_confidence": minConfidence})
	}

	return predictedClass, predictedConfidence, model.Version, true, nil
}
