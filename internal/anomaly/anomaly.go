// Package anomaly implements the Anomaly Detector (AD): a closed set of
// per-trace anomaly flags derived from raw data and fit residuals (§4.2).
package anomaly

import (
	"math"

	"github.com/sirupsen/logrus"

	"github.com/qpcr-scurve/engine/internal/domain"
)

// Detector evaluates the closed anomaly enumeration for one trace/fit pair.
type Detector struct {
	logger *logrus.Logger
	cfg    domain.AnomalyConfig
}

// NewDetector constructs a Detector; a nil logger falls back to the
// standard logrus logger per the teacher's constructor convention.
func NewDetector(logger *logrus.Logger, cfg domain.AnomalyConfig) *Detector {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Detector{logger: logger, cfg: cfg}
}

// Detect returns the subset of AnomalyFlags that fire for this trace and
// fit. An empty slice means "clean".
func (d *Detector) Detect(runID string, cycles []int, rfu []float64, fit domain.FitResult) []domain.AnomalyFlag {
	log := d.logger.WithFields(logrus.Fields{"run_id": runID, "component": "anomaly"})

	var flags []domain.AnomalyFlag

	validN := 0
	for _, v := range rfu {
		if !math.IsNaN(v) {
			validN++
		}
	}
	if len(cycles) < 5 {
		flags = append(flags, domain.AnomalyInsufficientData)
	}
	if validN < 5 {
		flags = append(flags, domain.AnomalyInsufficientValidData)
	}
	if len(rfu) < 5 {
		// Not enough data for the remaining shape-based checks.
		return flags
	}

	rng := rangeOf(rfu)
	expectedRange := math.Max(fit.L, 1)
	if rng < 50 || rng < 0.10*expectedRange {
		flags = append(flags, domain.AnomalyLowAmplitude)
	}

	if plateausBeforeMidpoint(cycles, rfu, fit, d.cfg.PlateauSlopeEpsilon) {
		flags = append(flags, domain.AnomalyEarlyPlateau)
	}

	baselineWindow := windowCycles(rfu, 5, 10)
	bStd := stddev(baselineWindow)
	if bStd > 50 || bStd > 0.15*rng {
		flags = append(flags, domain.AnomalyUnstableBaseline)
	}

	if strictlyDecreasingExpWindow(rfu) {
		flags = append(flags, domain.AnomalyNegativeAmplification)
	}

	negFrac, uniformOffset := negativeFraction(rfu)
	if negFrac > 0.10 && !uniformOffset {
		flags = append(flags, domain.AnomalyNegativeRFUValues)
	}

	diffs := diff(rfu)
	if stddev(diffs) > 0.30*rng {
		flags = append(flags, domain.AnomalyHighNoise)
	}

	log.WithField("flags", flags).Debug("anomaly scan complete")
	return flags
}

// plateausBeforeMidpoint detects a slope below epsilon sustained before the
// fitted midpoint x0 — the EARLY_PLATEAU condition.
func plateausBeforeMidpoint(cycles []int, rfu []float64, fit domain.FitResult, epsilon float64) bool {
	for i := 1; i < len(rfu); i++ {
		if float64(cycles[i]) >= fit.X0 {
			break
		}
		slope := rfu[i] - rfu[i-1]
		if math.Abs(slope) < epsilon && rfu[i] > fit.B+0.3*fit.L {
			return true
		}
	}
	return false
}

func strictlyDecreasingExpWindow(rfu []float64) bool {
	// "expected exponential window" approximated as the middle third of
	// the trace, where amplification should be rising if the well is
	// truly amplifying.
	n := len(rfu)
	start := n / 3
	end := (2 * n) / 3
	if end-start < 3 {
		return false
	}
	for i := start + 1; i <= end; i++ {
		if rfu[i] >= rfu[i-1] {
			return false
		}
	}
	return true
}

func negativeFraction(rfu []float64) (frac float64, uniformOffset bool) {
	negCount := 0
	for _, v := range rfu {
		if v < 0 {
			negCount++
		}
	}
	if len(rfu) == 0 {
		return 0, false
	}
	frac = float64(negCount) / float64(len(rfu))
	// A uniform negative offset looks like every point shifted down by
	// roughly the same amount (low variance among the negative values).
	if negCount == len(rfu) {
		var negs []float64
		for _, v := range rfu {
			negs = append(negs, v)
		}
		if stddev(negs) < 0.05*math.Abs(mean(negs)) {
			uniformOffset = true
		}
	}
	return frac, uniformOffset
}

func rangeOf(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	lo, hi := xs[0], xs[0]
	for _, v := range xs {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	return hi - lo
}

func windowCycles(rfu []float64, startIdx, endIdx int) []float64 {
	if startIdx >= len(rfu) {
		return nil
	}
	if endIdx > len(rfu) {
		endIdx = len(rfu)
	}
	return rfu[startIdx:endIdx]
}

func diff(xs []float64) []float64 {
	if len(xs) < 2 {
		return nil
	}
	out := make([]float64, len(xs)-1)
	for i := 1; i < len(xs); i++ {
		out[i-1] = xs[i] - xs[i-1]
	}
	return out
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	s := 0.0
	for _, v := range xs {
		s += v
	}
	return s / float64(len(xs))
}

func stddev(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	m := mean(xs)
	s := 0.0
	for _, v := range xs {
		d := v - m
		s += d * d
	}
	return math.Sqrt(s / float64(len(xs)))
}
