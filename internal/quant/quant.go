// Package quant implements Quantification (QN): CQJ interpolation, the
// control-anchored standard curve, CalcJ derivation, and outlier consensus
// for control replicates (§4.5).
package quant

import (
	"math"

	"github.com/sirupsen/logrus"

	"github.com/qpcr-scurve/engine/internal/domain"
	"github.com/qpcr-scurve/engine/pkg/numeric"
)

// Quantifier computes CQJ/CalcJ for wells within a run.
type Quantifier struct {
	logger *logrus.Logger
}

// NewQuantifier constructs a Quantifier.
func NewQuantifier(logger *logrus.Logger) *Quantifier {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Quantifier{logger: logger}
}

// CQJ scans cycles low-to-high for the first threshold crossing and
// linearly interpolates the crossing cycle. On log scale, the scan is
// performed on log10(max(rfu, epsilon)). Returns (0, false) when the trace
// never crosses T — CQJ is never synthesized as 0 or 1.
func CQJ(cycles []int, rfu []float64, threshold float64, scale domain.Scale) (float64, bool) {
	series := rfu
	t := threshold
	if scale == domain.ScaleLog {
		series = make([]float64, len(rfu))
		for i, v := range rfu {
			series[i] = math.Log10(math.Max(v, domain.LogScaleEpsilon))
		}
	}

	for i := 1; i < len(series); i++ {
		if series[i-1] < t && series[i] >= t {
			x0, x1 := float64(cycles[i-1]), float64(cycles[i])
			y0, y1 := series[i-1], series[i]
			if y1 == y0 {
				return x0, true
			}
			cqj := x0 + (t-y0)/(y1-y0)*(x1-x0)
			return cqj, true
		}
	}
	return 0, false
}

// ControlPoint is one control replicate's known concentration and derived
// CQJ, as input to the standard curve fit.
type ControlPoint struct {
	Concentration float64
	CQJ           float64
}

// StandardCurve is the fitted log-linear relationship log10(concentration)
// = Intercept + Slope*cqj.
type StandardCurve struct {
	Slope     float64
	Intercept float64
}

// FitStandardCurve builds the standard curve from H/L (or H/M/L) control
// points, after outlier-consensus averaging per replicate. A non-negative
// slope (concentration not decreasing as CQJ increases) is invalid.
func FitStandardCurve(runID string, points []ControlPoint) (StandardCurve, *domain.EngineError) {
	if len(points) < 2 {
		return StandardCurve{}, domain.NewEngineError(domain.ErrCodeStdCurveInvalid,
			"standard curve requires at least H and L control points", runID, nil)
	}

	xs := make([]float64, len(points)) // cqj
	ys := make([]float64, len(points)) // log10(concentration)
	for i, p := range points {
		xs[i] = p.CQJ
		ys[i] = math.Log10(math.Max(p.Concentration, 1e-12))
	}

	var slope, intercept float64
	if len(points) == 2 {
		slope = (ys[1] - ys[0]) / (xs[1] - xs[0])
		intercept = ys[0] - slope*xs[0]
	} else {
		slope, intercept = leastSquares(xs, ys)
	}

	if slope >= 0 {
		return StandardCurve{}, domain.NewEngineError(domain.ErrCodeStdCurveInvalid,
			"standard curve slope must be negative (concentration falls as CQJ rises)", runID,
			map[string]interface{}{"slope": slope})
	}

	return StandardCurve{Slope: slope, Intercept: intercept}, nil
}

func leastSquares(xs, ys []float64) (slope, intercept float64) {
	n := float64(len(xs))
	meanX := numeric.Mean(xs)
	meanY := numeric.Mean(ys)
	var num, den float64
	for i := range xs {
		num += (xs[i] - meanX) * (ys[i] - meanY)
		den += (xs[i] - meanX) * (xs[i] - meanX)
	}
	if den == 0 {
		return 0, meanY
	}
	slope = num / den
	intercept = meanY - slope*meanX
	_ = n
	return slope, intercept
}

// CalcJ applies the standard curve to one sample's CQJ.
func CalcJ(curve StandardCurve, cqj float64) float64 {
	return math.Pow(10, curve.Intercept+curve.Slope*cqj)
}

// ConsensusCQJ applies the outlier-consensus rule (§4.5) to a
// set of replicate CQJ values sharing the same control role: compute the
// median, reject members more than 2*MAD away, re-average the rest.
func ConsensusCQJ(values []float64) float64 {
	retained := numeric.RejectOutliers(values, 2.0)
	return numeric.Mean(retained)
}
