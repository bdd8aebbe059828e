// Package threshold implements the Threshold Engine (TE): per-channel
// threshold strategies and their resolution order (§4.4).
package threshold

import (
	"math"

	"github.com/sirupsen/logrus"

	"github.com/qpcr-scurve/engine/internal/domain"
	"github.com/qpcr-scurve/engine/pkg/numeric"
)

// Strategy IDs, the closed set from §4.4.
const (
	StrategyLinearStdDev   = "linear_stddev"
	StrategyLinearExpPhase = "linear_exp_phase"
	StrategyLinearFixed    = "linear_fixed"
	StrategyLogFixed       = "log_fixed"
	StrategyManual         = "manual"
	StrategyAuto           = "auto"
)

// WellFit bundles what the Threshold Engine needs from one well: its fit
// result and control role, for control detection and baseline stddev.
type WellFit struct {
	WellID string
	Role   domain.Role
	Fit    domain.FitResult
	RFU    []float64
}

// Engine computes ChannelThreshold records under a selected strategy.
type Engine struct {
	logger *logrus.Logger
}

// NewEngine constructs a threshold Engine.
func NewEngine(logger *logrus.Logger) *Engine {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Engine{logger: logger}
}

// Compute resolves a ChannelThreshold for (channel, scale, strategy,
// pathogen) given this run's well fits. manualValue is only consulted for
// StrategyManual. fixedTable is only consulted for the *_fixed strategies.
func (e *Engine) Compute(runID, channel string, scale domain.Scale, strategyID, pathogen string, wells []WellFit, manualValue float64, fixedTable domain.FixedThresholdTable) (domain.ChannelThreshold, *domain.EngineError) {
	log := e.logger.WithFields(logrus.Fields{
		"run_id": runID, "channel": channel, "strategy_id": strategyID, "pathogen": pathogen, "component": "threshold",
	})

	switch strategyID {
	case StrategyManual:
		return domain.ChannelThreshold{
			Channel: channel, Scale: scale, Value: manualValue, StrategyID: strategyID,
			Source: domain.ThresholdSource{Kind: domain.ThresholdSourceManual},
		}, nil

	case StrategyLinearFixed, StrategyLogFixed:
		value, ok := fixedTable.Lookup(pathogen, channel, scale)
		if !ok {
			log.Warn("no fixed threshold entry resolved")
			return domain.ChannelThreshold{}, domain.NewEngineError(domain.ErrCodeThresholdNoFixed,
				"no fixed threshold entry for pathogen/channel/scale", runID,
				map[string]interface{}{"pathogen": pathogen, "channel": channel, "scale": scale})
		}
		return domain.ChannelThreshold{
			Channel: channel, Scale: scale, Value: value, StrategyID: strategyID,
			Source: domain.ThresholdSource{Kind: domain.ThresholdSourceFixedLookup},
		}, nil

	case StrategyLinearStdDev:
		ct := e.linearStdDev(channel, scale, strategyID, wells)
		if ct.Source.Fallback {
			log.Warn("no control wells detected, threshold computed from all wells")
		}
		return ct, nil

	case StrategyLinearExpPhase:
		return e.linearExpPhase(channel, scale, strategyID, wells), nil

	case StrategyAuto:
		lin := e.linearStdDev(channel, domain.ScaleLinear, strategyID, wells)
		if lin.Source.Fallback {
			log.Warn("no control wells detected, threshold computed from all wells")
		}
		value := math.Log10(math.Max(lin.Value, domain.LogScaleEpsilon))
		return domain.ChannelThreshold{
			Channel: channel, Scale: domain.ScaleLog, Value: value, StrategyID: strategyID,
			Source: lin.Source,
		}, nil

	default:
		log.Error("unknown threshold strategy")
		return domain.ChannelThreshold{}, domain.NewEngineError(domain.ErrCodeInternal,
			"unknown threshold strategy "+strategyID, runID, nil)
	}
}

func controlWells(wells []WellFit) []WellFit {
	var out []WellFit
	for _, w := range wells {
		switch w.Role {
		case domain.RoleNTC, domain.RoleControlL, domain.RoleControlM, domain.RoleControlH:
			out = append(out, w)
		}
	}
	return out
}

func (e *Engine) linearStdDev(channel string, scale domain.Scale, strategyID string, wells []WellFit) domain.ChannelThreshold {
	candidates := controlWells(wells)
	fallback := false
	if len(candidates) == 0 {
		candidates = wells
		fallback = true
	}

	var baselines, stds []float64
	for _, w := range candidates {
		baseline := firstNMean(w.RFU, 5)
		baselines = append(baselines, baseline)
		stds = append(stds, numeric.StdDev(firstN(w.RFU, 5)))
	}
	baseline := numeric.Mean(baselines)
	std := numeric.Mean(stds)
	value := baseline + 10*std

	return domain.ChannelThreshold{
		Channel: channel, Scale: scale, Value: value, StrategyID: strategyID,
		Source: domain.ThresholdSource{Kind: domain.ThresholdSourceComputed, Fallback: fallback},
	}
}

func (e *Engine) linearExpPhase(channel string, scale domain.Scale, strategyID string, wells []WellFit) domain.ChannelThreshold {
	var values []float64
	for _, w := range wells {
		if w.Fit.L <= 0 {
			continue
		}
		v := w.Fit.L/2 + w.Fit.B
		lo := w.Fit.B + 0.1*w.Fit.L
		hi := w.Fit.B + 0.9*w.Fit.L
		v = numeric.Clamp(v, lo, hi)
		values = append(values, v)
	}
	value := numeric.Mean(values)
	return domain.ChannelThreshold{
		Channel: channel, Scale: scale, Value: value, StrategyID: strategyID,
		Source: domain.ThresholdSource{Kind: domain.ThresholdSourceComputed},
	}
}

func firstN(xs []float64, n int) []float64 {
	if len(xs) < n {
		return xs
	}
	return xs[:n]
}

func firstNMean(xs []float64, n int) float64 {
	return numeric.Mean(firstN(xs, n))
}
