package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/qpcr-scurve/engine/internal/domain"
	"github.com/qpcr-scurve/engine/internal/mlclassifier"
)

// TrainingRecorded is submit_expert_feedback's result (§4.8).
type TrainingRecorded struct {
	ExampleID  string
	Retrained  bool
	NewVersion string
}

// SubmitExpertFeedback appends a training example for (well_id, channel)
// in the current run, marks that well's classification method=expert (so
// it survives any later recompute/batch_ml_reclassify per invariant 4),
// and retrains the model for test_code when a training milestone is
// crossed (§4.7).
func (e *Engine) SubmitExpertFeedback(ctx context.Context, runID, wellID, channel string, label domain.Class7) (TrainingRecorded, error) {
	e.mu.Lock()
	if e.run == nil || e.run.RunID != runID {
		e.mu.Unlock()
		return TrainingRecorded{}, domain.NewEngineError(domain.ErrCodeInternal, "no active run with that id", runID, nil)
	}

	idx := -1
	for i, w := range e.run.Wells {
		if w.WellID == wellID && w.Channel == channel {
			idx = i
			break
		}
	}
	if idx < 0 {
		e.mu.Unlock()
		return TrainingRecorded{}, domain.NewEngineError(domain.ErrCodeInputMalformed, fmt.Sprintf("no well %s/%s in run %s", wellID, channel, runID), runID, nil)
	}

	testCode := e.run.Wells[idx].TestCode
	features := e.run.Wells[idx].Features.Vector()

	e.run.Wells[idx].Classification = domain.Classification{
		Class: label, Summary: summaryFor(label), Method: domain.MethodExpert, Reason: "expert_override",
	}
	e.mu.Unlock()

	countBefore, err := e.trainingStore.Count(ctx, testCode)
	if err != nil {
		return TrainingRecorded{}, fmt.Errorf("counting training examples: %w", err)
	}

	example := domain.TrainingExample{
		ID: newTrainingExampleID(), TestCode: testCode, Channel: channel,
		Features: features, ExpertLabel: label, WellID: wellID, RunID: runID, CreatedAt: time.Now(),
	}
	if err := e.trainingStore.Append(ctx, example); err != nil {
		return TrainingRecorded{}, fmt.Errorf("appending training example: %w", err)
	}

	result := TrainingRecorded{ExampleID: example.ID}

	mlCfg := e.configs.MLConfig()
	countAfter := countBefore + 1
	if mlCfg.AutoTrainingEnabled && mlclassifier.ShouldRetrain(countBefore, countAfter) {
		examples, err := e.trainingStore.List(ctx, testCode)
		if err != nil {
			return result, fmt.Errorf("listing training examples for retrain: %w", err)
		}
		model, err := e.models.Train(ctx, testCode, examples)
		if err != nil {
			return result, fmt.Errorf("retraining model: %w", err)
		}
		result.Retrained = true
		result.NewVersion = model.Version
	}

	return result, nil
}

// summaryFor collapses a 7-class label into the strict 3-class summary:
// the three positive classes map to POS, NEGATIVE to NEG, and the rest to
// REDO. The Rule Classifier's summarize derives its summary from the fit
// instead, so the two can differ for the same well.
func summaryFor(class domain.Class7) domain.Summary3 {
	switch class {
	case domain.ClassStrongPositive, domain.ClassPositive, domain.ClassWeakPositive:
		return domain.SummaryPositive
	case domain.ClassNegative:
		return domain.SummaryNegative
	default:
		return domain.SummaryRedo
	}
}
