package orchestrator

import (
	"context"

	"github.com/qpcr-scurve/engine/internal/domain"
)

// ReclassifyProgress is one update emitted on the progress channel during
// batch_ml_reclassify: either a well that was just updated, or the
// terminal signal (Done=true) when the batch finishes or is cancelled.
type ReclassifyProgress struct {
	WellID     string
	Channel    string
	Reclassified bool // false when ML deferred and the well kept its prior classification
	Done       bool
	Cancelled  bool
	Err        error
}

// BatchMLReclassify walks the current run's wells in deterministic order,
// attempting an MLC prediction for each non-expert well, polling cancel
// between wells (§5: "only batch_ml_reclassify is cooperatively
// interruptible"). Expert-labeled wells are always left untouched
// (invariant 4/ scenario S7). Progress is reported on the returned channel,
// which is closed when the batch completes or is cancelled.
func (e *Engine) BatchMLReclassify(ctx context.Context, runID string, cancel <-chan struct{}) <-chan ReclassifyProgress {
	progress := make(chan ReclassifyProgress, 8)

	go func() {
		defer close(progress)

		e.mu.Lock()
		if e.run == nil || e.run.RunID != runID {
			e.mu.Unlock()
			progress <- ReclassifyProgress{Done: true, Err: domain.NewEngineError(domain.ErrCodeInternal, "no active run with that id", runID, nil)}
			return
		}
		wellCount := len(e.run.Wells)
		e.mu.Unlock()

		for i := 0; i < wellCount; i++ {
			select {
			case <-cancel:
				progress <- ReclassifyProgress{Done: true, Cancelled: true}
				return
			case <-ctx.Done():
				progress <- ReclassifyProgress{Done: true, Cancelled: true, Err: ctx.Err()}
				return
			default:
			}

			if err := e.reclassifyLimiter.Wait(ctx); err != nil {
				progress <- ReclassifyProgress{Done: true, Cancelled: true, Err: err}
				return
			}

			wellID, channel, reclassified := e.reclassifyOne(runID, i)
			progress <- ReclassifyProgress{WellID: wellID, Channel: channel, Reclassified: reclassified}
		}

		progress <- ReclassifyProgress{Done: true}
	}()

	return progress
}

// reclassifyOne applies an ML prediction to a single well by index, under
// the write lock for the duration of the read-modify-write, leaving
// every other well's state untouched (§5 cancellation semantics:
// "already-updated wells in their new state, unchanged wells in their
// prior state").
func (e *Engine) reclassifyOne(runID string, idx int) (wellID, channel string, reclassified bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.run == nil || e.run.RunID != runID || idx >= len(e.run.Wells) {
		return "", "", false
	}
	w := e.run.Wells[idx]
	wellID, channel = w.WellID, w.Channel

	if w.Classification.IsExpert() || w.Err != nil {
		return wellID, channel, false
	}

	class, confidence, version, ok, mlErr := e.predictor.Predict(w.TestCode, w.Channel, w.Features.Vector())
	if mlErr != nil || !ok {
		// ML_DISABLED / ML_INSUFFICIENT_TRAINING: fall through to the
		// existing rule classification silently (§7).
		return wellID, channel, false
	}

	e.run.Wells[idx].Classification = domain.Classification{
		Class: class, Summary: summaryFor(class), Method: domain.MethodML,
		Confidence: confidence, ConfidenceValid: true, ModelVersion: version, Reason: "ml_prediction",
	}
	return wellID, channel, true
}
