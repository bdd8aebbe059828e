// Package orchestrator implements the Run Orchestrator (RO, §4.8): the
// single entry point that sequences the Curve Fitter, Anomaly Detector,
// Metric Extractor, Threshold Engine, Quantification, and Rule/ML
// Classifiers into the six public operations of §6's command surface.
// Grounded on the teacher's service-layer composition root (the way
// internal/service/acmg_rule_engine.go, input_parser.go, and
// transcript_resolver.go are composed by a single caller) and on the "own
// the mutable state explicitly" design note (§9): Engine owns the current
// Run and the model registry instead of relying on ambient globals.
package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/qpcr-scurve/engine/internal/anomaly"
	"github.com/qpcr-scurve/engine/internal/cache"
	"github.com/qpcr-scurve/engine/internal/classifier"
	"github.com/qpcr-scurve/engine/internal/curvefit"
	"github.com/qpcr-scurve/engine/internal/domain"
	"github.com/qpcr-scurve/engine/internal/metrics"
	"github.com/qpcr-scurve/engine/internal/quant"
	"github.com/qpcr-scurve/engine/internal/threshold"
)

// Engine is the single active-run session described by §5 ("Current Run:
// single active run per session"). It is safe for concurrent use: readers
// (e.g. CurrentRun) take the read lock, the run-replacing
// operations (analyze, recompute_thresholds, submit_expert_feedback,
// batch_ml_reclassify, emergency_reset) take the write lock for the
// duration of their state mutation, but long per-well CPU work happens
// outside the lock where possible (see batch_ml_reclassify).
type Engine struct {
	logger *logrus.Logger

	mu  sync.RWMutex
	run *domain.Run

	fitter     *curvefit.Fitter
	detector   *anomaly.Detector
	extractor  *metrics.Extractor
	thresholds *threshold.Engine
	quantifier *quant.Quantifier
	rules      *classifier.RuleEngine

	models        domain.ModelRegistry
	predictor     domain.MLPredictor
	trainingStore domain.TrainingStore
	configs       *ConfigProvider
	cache         *cache.Cache // optional, may be nil

	reclassifyLimiter *rate.Limiter
}

// Deps bundles Engine's collaborators so NewEngine has one readable call
// site rather than a long positional parameter list.
type Deps struct {
	Logger        *logrus.Logger
	Models        domain.ModelRegistry
	Predictor     domain.MLPredictor
	TrainingStore domain.TrainingStore
	Configs       *ConfigProvider
	Cache         *cache.Cache // nil disables the threshold/fit cache tier
}

// NewEngine wires the Curve Fitter, Anomaly Detector, Metric Extractor,
// Threshold Engine, Quantifier, and Rule Classifier with their default
// configs, plus the caller-supplied registry/store/config provider.
func NewEngine(deps Deps) *Engine {
	logger := deps.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Engine{
		logger:            logger,
		fitter:            curvefit.NewFitter(logger, curvefit.DefaultConfig()),
		detector:          anomaly.NewDetector(logger, domain.DefaultAnomalyConfig()),
		extractor:         metrics.NewExtractor(logger),
		thresholds:        threshold.NewEngine(logger),
		quantifier:        quant.NewQuantifier(logger),
		rules:             classifier.NewRuleEngine(logger),
		models:            deps.Models,
		predictor:         deps.Predictor,
		trainingStore:     deps.TrainingStore,
		configs:           deps.Configs,
		cache:             deps.Cache,
		reclassifyLimiter: rate.NewLimiter(rate.Limit(50), 10),
	}
}

// thresholdKey matches the teacher's compound-key convention for
// multi-dimensional lookups (channel+scale here; Run.Thresholds is keyed
// this way rather than by a nested map, mirroring §3's flat WellResult).
func thresholdKey(channel string, scale domain.Scale) string {
	return channel + "|" + string(scale)
}

// fitWithCache consults the fit cache before invoking the Curve Fitter, and
// writes a successful fit through to it. A cache miss or a disabled cache
// (nil) falls through to a live fit; cache errors are logged and otherwise
// ignored, never failing the well.
func (e *Engine) fitWithCache(ctx context.Context, runID, wellID, channel string, cycles []int, rfu []float64) (domain.FitResult, *domain.EngineError) {
	if e.cache != nil {
		if cached, ok := e.cache.GetFit(ctx, runID, wellID, channel); ok {
			return cached, nil
		}
	}

	fit, fitErr := e.fitter.Fit(runID, cycles, rfu)
	if fitErr != nil {
		return fit, fitErr
	}

	if e.cache != nil {
		if err := e.cache.SetFit(ctx, runID, wellID, channel, fit); err != nil {
			e.logger.WithError(err).Warn("fit cache write failed")
		}
	}
	return fit, nil
}

// thresholdWithCache consults the threshold cache (keyed including the
// strategy ID, so a recompute under a different strategy is never served a
// stale value) before invoking the Threshold Engine, and writes a
// successful result through to it.
func (e *Engine) thresholdWithCache(ctx context.Context, runID, channel string, strategy domain.StrategySelection, pathogen string, wellFits []threshold.WellFit, manual float64, fixedTable domain.FixedThresholdTable) (domain.ChannelThreshold, *domain.EngineError) {
	if e.cache != nil {
		if cached, ok := e.cache.GetThreshold(ctx, runID, channel, strategy.Scale, strategy.StrategyID); ok {
			return cached, nil
		}
	}

	ct, ctErr := e.thresholds.Compute(runID, channel, strategy.Scale, strategy.StrategyID, pathogen, wellFits, manual, fixedTable)
	if ctErr != nil {
		return ct, ctErr
	}

	if e.cache != nil {
		if err := e.cache.SetThreshold(ctx, runID, channel, strategy.Scale, strategy.StrategyID, ct); err != nil {
			e.logger.WithError(err).Warn("threshold cache write failed")
		}
	}
	return ct, nil
}

// analyze runs the full pipeline end-to-end (§4.8) and installs the
// resulting Run as the Engine's current run, replacing whatever was there.
func (e *Engine) Analyze(ctx context.Context, input domain.RunInput) (domain.RunResult, error) {
	log := e.logger.WithFields(logrus.Fields{"run_id": input.RunID, "wells": len(input.Wells)})
	log.Info("starting analyze")

	pathogens := e.configs.PathogenLibrary()
	fixedTable := e.configs.FixedThresholds()

	wells := make([]domain.WellResult, len(input.Wells))

	for i, w := range input.Wells {
		wr := domain.WellResult{
			WellID: w.WellID, Channel: w.Channel, SampleName: w.SampleName,
			Role: DetectRole(w.SampleName), TestCode: w.TestCode,
			Cycles: w.Cycles, RFU: w.RFU,
		}

		if err := validateWellInput(w); err != nil {
			wr.Err = domain.NewEngineError(domain.ErrCodeInputMalformed, err.Error(), input.RunID, nil)
			wr.Classification = domain.Classification{Class: domain.ClassNegative, Summary: domain.SummaryNegative, Method: domain.MethodRule, Reason: "input_malformed"}
			wells[i] = wr
			continue
		}

		fit, fitErr := e.fitWithCache(ctx, input.RunID, w.WellID, w.Channel, w.Cycles, w.RFU)
		if fitErr != nil {
			wr.Err = fitErr
			wr.Fit = fit
			wr.Classification = domain.Classification{Class: domain.ClassNegative, Summary: domain.SummaryNegative, Method: domain.MethodRule, Reason: "fit_failed"}
			wells[i] = wr
			continue
		}

		anomalies := e.detector.Detect(input.RunID, w.Cycles, w.RFU, fit)

		wr.Fit = fit
		wr.Anomalies = anomalies
		wells[i] = wr
	}

	// Per-channel threshold resolution, using every well's fit for control
	// detection (linear_stddev/linear_exp_phase).
	byChannel := groupByChannel(input.Wells, wells)
	channelThresholds := map[string]domain.ChannelThreshold{}
	for channel, idxs := range byChannel {
		pathogen := ""
		if len(idxs) > 0 {
			pathogen = input.Wells[idxs[0]].TestCode
		}
		wellFits := make([]threshold.WellFit, 0, len(idxs))
		for _, idx := range idxs {
			if wells[idx].Err != nil {
				continue
			}
			wellFits = append(wellFits, threshold.WellFit{
				WellID: wells[idx].WellID, Role: wells[idx].Role, Fit: wells[idx].Fit, RFU: input.Wells[idx].RFU,
			})
		}
		manual := input.Strategy.ManualOverrides[channel]
		ct, ctErr := e.thresholdWithCache(ctx, input.RunID, channel, input.Strategy, pathogen, wellFits, manual, fixedTable)
		if ctErr != nil {
			// THRESHOLD_NO_FIXED is fatal for the channel, non-fatal for the
			// run (§7): every well in this channel gets the error attached.
			for _, idx := range idxs {
				if wells[idx].Err == nil {
					wells[idx].Err = ctErr
				}
			}
			continue
		}
		channelThresholds[thresholdKey(channel, input.Strategy.Scale)] = ct
	}

	// CQJ per well, then standard-curve CalcJ per channel.
	e.quantifyRun(input, wells, channelThresholds, pathogens)

	// Feature extraction + rule classification. Wells with an attached
	// error already have their terminal Classification set above and are
	// skipped here (§7: per-well errors never get overwritten by a
	// downstream stage).
	for i, w := range input.Wells {
		if wells[i].Err != nil {
			continue
		}
		var cqj, calcj float64
		if wells[i].Quant.CQJValid {
			cqj = wells[i].Quant.CQJ
		}
		if wells[i].Quant.CalcJValid {
			calcj = wells[i].Quant.CalcJ
		}
		wells[i].Features = e.extractor.Extract(w.Cycles, w.RFU, wells[i].Fit, wells[i].Anomalies, cqj, calcj)

		amplitude := wells[i].Fit.L
		wells[i].Classification = e.rules.Classify(input.RunID, w.WellID, classifier.Input{
			Fit: wells[i].Fit, Anomalies: wells[i].Anomalies, Amplitude: amplitude,
		})
	}

	sortWellResults(wells)

	run := &domain.Run{
		RunID:      input.RunID,
		CreatedAt:  time.Now(),
		Strategy:   input.Strategy,
		Thresholds: channelThresholds,
		Wells:      wells,
	}

	e.mu.Lock()
	e.run = run
	e.mu.Unlock()

	return domain.RunResult{RunID: run.RunID, Wells: run.Wells}, nil
}

// quantifyRun computes CQJ for every well, then fits a standard curve per
// channel from control wells (§4.8 cross-well invariants 1-3) and derives
// CalcJ for sample wells; control CalcJ always comes from the pathogen
// profile, never computed (invariant 2).
func (e *Engine) quantifyRun(input domain.RunInput, wells []domain.WellResult, channelThresholds map[string]domain.ChannelThreshold, pathogens domain.PathogenLibrary) {
	for i, w := range input.Wells {
		if wells[i].Err != nil {
			continue
		}
		ct, ok := channelThresholds[thresholdKey(w.Channel, input.Strategy.Scale)]
		if !ok {
			continue
		}
		cqj, valid := quant.CQJ(w.Cycles, w.RFU, ct.Value, ct.Scale)
		wells[i].Quant = domain.Quantification{WellID: w.WellID, Channel: w.Channel, CQJ: cqj, CQJValid: valid}
		wells[i].Threshold = ct
	}

	byChannel := groupByChannel(input.Wells, wells)
	for channel, idxs := range byChannel {
		pathogen := ""
		if len(idxs) > 0 {
			pathogen = input.Wells[idxs[0]].TestCode
		}
		profile, hasProfile := pathogens[pathogen]

		controlCQJs := map[string][]float64{"H": {}, "M": {}, "L": {}}
		for _, idx := range idxs {
			level, isControl := controlLevel(wells[idx].Role)
			if isControl && wells[idx].Quant.CQJValid {
				controlCQJs[level] = append(controlCQJs[level], wells[idx].Quant.CQJ)
			}
		}

		var points []quant.ControlPoint
		concentrations := map[string]float64{}
		if hasProfile {
			if cp, ok := profile.Channels[channel]; ok {
				for _, level := range []string{"H", "M", "L"} {
					cc, ok := cp.Controls[level]
					if !ok || len(controlCQJs[level]) == 0 {
						continue
					}
					consensus := quant.ConsensusCQJ(controlCQJs[level])
					concentrations[level] = cc.Concentration
					points = append(points, quant.ControlPoint{Concentration: cc.Concentration, CQJ: consensus})
				}
			}
		}

		_, hasH := concentrations["H"]
		_, hasL := concentrations["L"]
		if !hasH || !hasL {
			// Invariant 1: no std curve without H and L.
			continue
		}

		curve, curveErr := quant.FitStandardCurve(input.RunID, points)
		if curveErr != nil {
			continue
		}

		for _, idx := range idxs {
			if wells[idx].Err != nil || !wells[idx].Quant.CQJValid {
				continue
			}
			if level, isControl := controlLevel(wells[idx].Role); isControl {
				if cp, ok := profile.Channels[channel]; ok {
					if cc, ok := cp.Controls[level]; ok {
						wells[idx].Quant.CalcJ = cc.Concentration
						wells[idx].Quant.CalcJValid = true
						continue
					}
				}
			}
			wells[idx].Quant.CalcJ = quant.CalcJ(curve, wells[idx].Quant.CQJ)
			wells[idx].Quant.CalcJValid = true
		}
	}
}

func groupByChannel(inputs []domain.WellInput, wells []domain.WellResult) map[string][]int {
	out := map[string][]int{}
	for i, w := range inputs {
		out[w.Channel] = append(out[w.Channel], i)
	}
	_ = wells
	return out
}

func validateWellInput(w domain.WellInput) error {
	if w.WellID == "" || w.Channel == "" {
		return fmt.Errorf("well_id and channel are required")
	}
	if len(w.Cycles) != len(w.RFU) {
		return fmt.Errorf("cycles and rfu length mismatch")
	}
	if len(w.Cycles) == 0 {
		return fmt.Errorf("empty trace")
	}
	for i := 1; i < len(w.Cycles); i++ {
		if w.Cycles[i] <= w.Cycles[i-1] {
			return fmt.Errorf("cycles must be strictly increasing")
		}
	}
	return nil
}

func sortWellResults(wells []domain.WellResult) {
	sort.SliceStable(wells, func(i, j int) bool {
		if wells[i].WellID != wells[j].WellID {
			return wells[i].WellID < wells[j].WellID
		}
		return wells[i].Channel < wells[j].Channel
	})
}

// RecomputeThresholds re-runs the Threshold Engine, Quantification, and
// Rule Classifier for the current run under a new strategy (§4.8, S5):
// every well's retained Cycles/RFU trace is re-fed through TE->QN->RC,
// exactly as analyze does, without re-running the Curve Fitter (the fit
// itself does not depend on the threshold strategy). CQJ/CalcJ are
// recomputed for every well including expert-labeled ones (a new threshold
// can change CQJ), but an expert-labeled well's Classification is never
// overwritten by the Rule Classifier (invariant 4); wells with a
// pre-existing per-well error are left as they were.
func (e *Engine) RecomputeThresholds(ctx context.Context, runID string, strategy domain.StrategySelection) (domain.RunResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.run == nil || e.run.RunID != runID {
		return domain.RunResult{}, domain.NewEngineError(domain.ErrCodeInternal, "no active run with that id", runID, nil)
	}

	fixedTable := e.configs.FixedThresholds()
	pathogens := e.configs.PathogenLibrary()

	wellInputs := make([]domain.WellInput, len(e.run.Wells))
	for i, w := range e.run.Wells {
		wellInputs[i] = domain.WellInput{
			WellID: w.WellID, Channel: w.Channel, SampleName: w.SampleName, TestCode: w.TestCode,
			Cycles: w.Cycles, RFU: w.RFU,
		}
	}
	input := domain.RunInput{RunID: runID, Strategy: strategy, Wells: wellInputs}

	wells := make([]domain.WellResult, len(e.run.Wells))
	copy(wells, e.run.Wells)

	byChannel := groupByChannel(wellInputs, wells)
	channelThresholds := map[string]domain.ChannelThreshold{}
	for channel, idxs := range byChannel {
		pathogen := ""
		if len(idxs) > 0 {
			pathogen = wells[idxs[0]].TestCode
		}
		wellFits := make([]threshold.WellFit, 0, len(idxs))
		for _, idx := range idxs {
			if wells[idx].Err != nil {
				continue
			}
			wellFits = append(wellFits, threshold.WellFit{
				WellID: wells[idx].WellID, Role: wells[idx].Role, Fit: wells[idx].Fit, RFU: wells[idx].RFU,
			})
		}
		manual := strategy.ManualOverrides[channel]
		ct, ctErr := e.thresholdWithCache(ctx, runID, channel, strategy, pathogen, wellFits, manual, fixedTable)
		if ctErr != nil {
			for _, idx := range idxs {
				if wells[idx].Err == nil {
					wells[idx].Err = ctErr
				}
			}
			continue
		}
		channelThresholds[thresholdKey(channel, strategy.Scale)] = ct
	}

	e.quantifyRun(input, wells, channelThresholds, pathogens)

	for i, w := range wellInputs {
		if wells[i].Err != nil || wells[i].Classification.IsExpert() {
			continue
		}
		var cqj, calcj float64
		if wells[i].Quant.CQJValid {
			cqj = wells[i].Quant.CQJ
		}
		if wells[i].Quant.CalcJValid {
			calcj = wells[i].Quant.CalcJ
		}
		wells[i].Features = e.extractor.Extract(w.Cycles, w.RFU, wells[i].Fit, wells[i].Anomalies, cqj, calcj)
		wells[i].Classification = e.rules.Classify(runID, w.WellID, classifier.Input{
			Fit: wells[i].Fit, Anomalies: wells[i].Anomalies, Amplitude: wells[i].Fit.L,
		})
	}

	sortWellResults(wells)

	e.run.Strategy = strategy
	e.run.Thresholds = channelThresholds
	e.run.Wells = wells

	return domain.RunResult{RunID: e.run.RunID, Wells: e.run.Wells}, nil
}

// EmergencyReset drops the current run and purges per-run cache entries
// (§4.8: "drop current Run and in-memory caches").
func (e *Engine) EmergencyReset(ctx context.Context) error {
	e.mu.Lock()
	runID := ""
	if e.run != nil {
		runID = e.run.RunID
	}
	e.run = nil
	e.mu.Unlock()

	if e.cache != nil && runID != "" {
		return e.cache.InvalidateRun(ctx, runID)
	}
	return nil
}

// ListModelVersions returns the trained model version history for a
// pathogen test code, newest first.
func (e *Engine) ListModelVersions(testCode string) []domain.MLModel {
	versions := e.models.Versions(testCode)
	sort.Slice(versions, func(i, j int) bool { return versions[i].CreatedAt.After(versions[j].CreatedAt) })
	return versions
}

// CurrentRun returns a snapshot of the active run, or false if none.
func (e *Engine) CurrentRun() (domain.RunResult, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.run == nil {
		return domain.RunResult{}, false
	}
	return domain.RunResult{RunID: e.run.RunID, Wells: e.run.Wells}, true
}

// newTrainingExampleID mirrors the teacher's uuid.New().String() ID
// convention for TrainingExample identifiers.
func newTrainingExampleID() string { return uuid.New().String() }
