// Package metrics implements the Metric Extractor (ME): the ordered
// 30-feature vector consumed by the ML Classifier and stored with each
// training example (§4.3); the Rule Classifier works from the fit and
// anomaly flags instead.
package metrics

import (
	"math"

	"github.com/sirupsen/logrus"

	"github.com/qpcr-scurve/engine/internal/domain"
	"github.com/qpcr-scurve/engine/pkg/numeric"
)

// Extractor computes Features from a trace, its fit, and its anomalies.
type Extractor struct {
	logger *logrus.Logger
}

// NewExtractor constructs an Extractor with the teacher's standard
// nil-logger fallback.
func NewExtractor(logger *logrus.Logger) *Extractor {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Extractor{logger: logger}
}

// Extract builds the 30-feature vector for one well/channel. cqj/calcj are
// supplied by the caller (QN runs after ME in some call paths but the
// vector still needs them); absent values are passed as math.NaN().
func (e *Extractor) Extract(cycles []int, rfu []float64, fit domain.FitResult, anomalies []domain.AnomalyFlag, cqj, calcj float64) domain.Features {
	x := make([]float64, len(cycles))
	for i, c := range cycles {
		x[i] = float64(c)
	}

	f := domain.Features{
		Amplitude:    fit.L,
		R2:           fit.R2,
		Steepness:    fit.K,
		SNR:          fit.SNR,
		Midpoint:     fit.X0,
		Baseline:     fit.B,
		CqValue:      fit.X0, // model-derived threshold-crossing cycle per GLOSSARY
		Cqj:          cqj,
		Calcj:        calcj,
		RMSE:         fit.RMSE,
		MinRFU:       numeric.Min(rfu),
		MaxRFU:       numeric.Max(rfu),
		MeanRFU:      numeric.Mean(rfu),
		StdRFU:       numeric.StdDev(rfu),
		MinCycle:     minInt(cycles),
		MaxCycle:     maxInt(cycles),
		DynamicRange: fit.DynamicRange,
		Efficiency:   fit.Efficiency,

		ShapeClass:           classifyShape(fit, anomalies),
		BaselineStability:    baselineStability(rfu),
		ExpPhaseSharpness:    expPhaseSharpness(fit),
		PlateauQuality:       plateauQuality(rfu, fit),
		CurveSymmetry:        curveSymmetry(x, rfu, fit),
		NoiseLevel:           noiseLevel(rfu),
		TrendConsistency:     trendConsistency(rfu),
		SpikeCount:           float64(spikeCount(rfu)),
		OscillationScore:     oscillationScore(rfu),
		DropoutCount:         float64(dropoutCount(rfu)),
		RelativeAmplitude:    relativeAmplitude(fit),
		BackgroundSeparation: backgroundSeparation(fit),
	}
	return f
}

func minInt(xs []int) float64 {
	if len(xs) == 0 {
		return 0
	}
	m := xs[0]
	for _, v := range xs {
		if v < m {
			m = v
		}
	}
	return float64(m)
}

func maxInt(xs []int) float64 {
	if len(xs) == 0 {
		return 0
	}
	m := xs[0]
	for _, v := range xs {
		if v > m {
			m = v
		}
	}
	return float64(m)
}

func classifyShape(fit domain.FitResult, anomalies []domain.AnomalyFlag) domain.ShapeClass {
	for _, a := range anomalies {
		if a == domain.AnomalyLowAmplitude {
			return domain.ShapeFlat
		}
	}
	if fit.IsGoodSCurve {
		return domain.ShapeSCurve
	}
	if fit.R2 > 0.7 && fit.K > 0 {
		return domain.ShapeExponential
	}
	if fit.R2 > 0.5 {
		return domain.ShapeLinear
	}
	return domain.ShapeIrregular
}

func baselineStability(rfu []float64) float64 {
	window := firstN(rfu, 5)
	std := numeric.StdDev(window)
	rng := numeric.Range(rfu)
	if rng == 0 {
		return 1
	}
	score := 1 - std/rng
	return numeric.Clamp(score, 0, 1)
}

func expPhaseSharpness(fit domain.FitResult) float64 {
	// Sharper exponential phases correspond to higher k; normalize against
	// the curve fitter's k upper bound of 5.
	return numeric.Clamp(fit.K/5.0, 0, 1)
}

func plateauQuality(rfu []float64, fit domain.FitResult) float64 {
	tail := lastN(rfu, 5)
	std := numeric.StdDev(tail)
	if fit.L == 0 {
		return 0
	}
	score := 1 - std/math.Max(fit.L, 1)
	return numeric.Clamp(score, 0, 1)
}

func curveSymmetry(x, rfu []float64, fit domain.FitResult) float64 {
	if len(x) == 0 {
		return 0
	}
	// Compares the rise before x0 to the rise after x0; a perfectly
	// symmetric sigmoid scores 1.
	var beforeSum, afterSum float64
	var beforeN, afterN int
	for i := 1; i < len(rfu); i++ {
		d := math.Abs(rfu[i] - rfu[i-1])
		if x[i] < fit.X0 {
			beforeSum += d
			beforeN++
		} else {
			afterSum += d
			afterN++
		}
	}
	if beforeN == 0 || afterN == 0 {
		return 0.5
	}
	beforeAvg := beforeSum / float64(beforeN)
	afterAvg := afterSum / float64(afterN)
	total := beforeAvg + afterAvg
	if total == 0 {
		return 1
	}
	return 1 - math.Abs(beforeAvg-afterAvg)/total
}

func noiseLevel(rfu []float64) float64 {
	diffs := numeric.Diff(rfu)
	rng := numeric.Range(rfu)
	if rng == 0 {
		return 0
	}
	return numeric.Clamp(numeric.StdDev(diffs)/rng, 0, 1)
}

func trendConsistency(rfu []float64) float64 {
	diffs := numeric.Diff(rfu)
	if len(diffs) == 0 {
		return 0
	}
	positive := 0
	for _, d := range diffs {
		if d >= 0 {
			positive++
		}
	}
	return float64(positive) / float64(len(diffs))
}

func spikeCount(rfu []float64) int {
	diffs := numeric.Diff(rfu)
	std := numeric.StdDev(diffs)
	if std == 0 {
		return 0
	}
	count := 0
	for _, d := range diffs {
		if math.Abs(d) > 3*std {
			count++
		}
	}
	return count
}

func oscillationScore(rfu []float64) float64 {
	diffs := numeric.Diff(rfu)
	if len(diffs) < 2 {
		return 0
	}
	signChanges := 0
	for i := 1; i < len(diffs); i++ {
		if (diffs[i] > 0) != (diffs[i-1] > 0) {
			signChanges++
		}
	}
	return float64(signChanges) / float64(len(diffs)-1)
}

func dropoutCount(rfu []float64) int {
	count := 0
	for _, v := range rfu {
		if math.IsNaN(v) {
			count++
		}
	}
	return count
}

func relativeAmplitude(fit domain.FitResult) float64 {
	if fit.B == 0 {
		return fit.L
	}
	return fit.L / math.Max(math.Abs(fit.B), 1)
}

func backgroundSeparation(fit domain.FitResult) float64 {
	if fit.SNR == 0 {
		return 0
	}
	return numeric.Clamp(fit.SNR/20.0, 0, 1)
}

func firstN(xs []float64, n int) []float64 {
	if len(xs) < n {
		return xs
	}
	return xs[:n]
}

func lastN(xs []float64, n int) []float64 {
	if len(xs) < n {
		return xs
	}
	return xs[len(xs)-n:]
}
