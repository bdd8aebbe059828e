// Package curvefit implements the Curve Fitter (CF): a 4-parameter sigmoid
// fit of one amplification trace via Levenberg-Marquardt, plus the derived
// shape metrics and the "good S-curve" gate.
package curvefit

import (
	"math"

	"github.com/sirupsen/logrus"

	"github.com/qpcr-scurve/engine/internal/domain"
)

// Config tunes the gate thresholds from §4.1. Defaults match the spec text
// verbatim; exposed so callers can override in tests without touching the
// production default.
type Config struct {
	MaxIterations int

	R2Min          float64
	R2MinSmallN    float64
	SmallNCutoff   int
	KMin           float64
	LMinAbsolute   float64
	LMinRangeFrac  float64
	FirstCrossMin  float64
	LGoodMin       float64
	PlateauMin     float64
	SNRMin         float64
	ExpGrowthMin   float64
}

// DefaultConfig matches the literal thresholds in spec §4.1.
func DefaultConfig() Config {
	return Config{
		MaxIterations: 2000,
		R2Min:         0.9,
		R2MinSmallN:   0.85,
		SmallNCutoff:  20,
		KMin:          0.05,
		LMinAbsolute:  50,
		LMinRangeFrac: 0.3,
		FirstCrossMin: 5,
		LGoodMin:      100,
		PlateauMin:    50,
		SNRMin:        3.0,
		ExpGrowthMin:  5.0,
	}
}

// Fitter runs the Curve Fitter for one trace at a time. It carries a
// logger field exactly like the teacher's service structs
// (ACMGAMPRuleEngine, ClassifierService).
type Fitter struct {
	logger *logrus.Logger
	cfg    Config
}

// NewFitter constructs a Fitter with the given config; a nil logger falls
// back to logrus.StandardLogger(), mirroring the teacher's constructors.
func NewFitter(logger *logrus.Logger, cfg Config) *Fitter {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Fitter{logger: logger, cfg: cfg}
}

// params is the 4-parameter sigmoid vector, order L, k, x0, B.
type params [4]float64

func sigmoid(p params, x float64) float64 {
	L, k, x0, B := p[0], p[1], p[2], p[3]
	return B + L/(1+math.Exp(-k*(x-x0)))
}

// Fit runs the full CF procedure (§4.1) for one well/channel trace.
func (f *Fitter) Fit(runID string, cycles []int, rfu []float64) (domain.FitResult, *domain.EngineError) {
	log := f.logger.WithFields(logrus.Fields{"run_id": runID, "component": "curvefit"})

	validN := 0
	for _, v := range rfu {
		if !math.IsNaN(v) {
			validN++
		}
	}
	if len(cycles) < 5 || validN < 5 {
		log.WithField("n", len(cycles)).Warn("insufficient data for curve fit")
		return domain.FitResult{}, domain.NewEngineError(domain.ErrCodeFitInsufficientData,
			"fewer than 5 valid points", runID, map[string]interface{}{"n": len(cycles), "valid_n": validN})
	}

	x := make([]float64, len(cycles))
	for i, c := range cycles {
		x[i] = float64(c)
	}

	initial := initialGuess(x, rfu)
	fitted, converged := levenbergMarquardt(x, rfu, initial, f.cfg.MaxIterations)

	result := domain.FitResult{L: fitted[0], K: fitted[1], X0: fitted[2], B: fitted[3]}

	if !converged {
		result.IsGoodSCurve = false
		result.RejectionReasons = []string{"FIT_FAILED"}
		log.Warn("levenberg-marquardt failed to converge")
		return result, nil
	}

	sse, sst := 0.0, 0.0
	meanRFU := mean(rfu)
	for i := range rfu {
		pred := sigmoid(fitted, x[i])
		sse += (rfu[i] - pred) * (rfu[i] - pred)
		sst += (rfu[i] - meanRFU) * (rfu[i] - meanRFU)
	}
	r2 := 1.0
	if sst > 0 {
		r2 = 1 - sse/sst
	}
	rmse := math.Sqrt(sse / float64(len(rfu)))

	baselineWindow := firstN(rfu, 5)
	bStd := stddev(baselineWindow)
	if bStd == 0 {
		bStd = 1
	}
	l := fitted[0]
	if l < 0 {
		l = math.Abs(l)
	}
	snr := l / math.Max(bStd, 1)

	plateauLevel := mean(lastN(rfu, 5))
	dynamicRange := rangeOf(rfu)

	expGrowthRate := estimateExpGrowthRate(x, rfu, fitted)
	efficiency := estimateEfficiency(expGrowthRate)

	result.R2 = r2
	result.RMSE = rmse
	result.SNR = snr
	result.PlateauLevel = plateauLevel
	result.ExpGrowthRate = expGrowthRate
	result.DynamicRange = dynamicRange
	result.Efficiency = efficiency

	reasons := gate(result, x, f.cfg)
	result.IsGoodSCurve = len(reasons) == 0
	result.RejectionReasons = reasons

	log.WithFields(logrus.Fields{
		"r2": r2, "k": fitted[1], "snr": snr, "is_good_scurve": result.IsGoodSCurve,
	}).Debug("curve fit complete")

	return result, nil
}

// gate evaluates the "good S-curve" criteria of §4.1 and returns the list
// of failed-gate reasons (empty means the curve passes).
func gate(r domain.FitResult, x []float64, cfg Config) []string {
	var reasons []string

	r2Min := cfg.R2Min
	if len(x) <= cfg.SmallNCutoff {
		r2Min = cfg.R2MinSmallN
	}
	if !(r.R2 > r2Min) {
		reasons = append(reasons, "r2_below_threshold")
	}
	if !(r.K > cfg.KMin) {
		reasons = append(reasons, "k_below_threshold")
	}

	rng := rangeFromX(x) // not used for L gate; kept for clarity of intent
	_ = rng

	if !(r.L > math.Max(cfg.LMinAbsolute, cfg.LMinRangeFrac*r.DynamicRange)) {
		reasons = append(reasons, "amplitude_too_low")
	}
	if !(r.L >= cfg.LGoodMin) {
		reasons = append(reasons, "amplitude_below_good_minimum")
	}
	firstCross := firstMidlineCrossCycle(x, r)
	if firstCross < cfg.FirstCrossMin {
		reasons = append(reasons, "early_midline_cross")
	}
	if !(r.PlateauLevel >= cfg.PlateauMin) {
		reasons = append(reasons, "plateau_too_low")
	}
	if !(r.SNR >= cfg.SNRMin) {
		reasons = append(reasons, "snr_too_low")
	}
	if !(r.ExpGrowthRate >= cfg.ExpGrowthMin) {
		reasons = append(reasons, "exp_growth_rate_too_low")
	}
	return reasons
}

// firstMidlineCrossCycle finds the first cycle where the fitted curve
// crosses its own midline (B + L/2); used only by the gate, distinct from
// the threshold-based CQJ in internal/quant.
func firstMidlineCrossCycle(x []float64, r domain.FitResult) float64 {
	midline := r.B + r.L/2
	for i := 1; i < len(x); i++ {
		prev := sigmoid(params{r.L, r.K, r.X0, r.B}, x[i-1])
		cur := sigmoid(params{r.L, r.K, r.X0, r.B}, x[i])
		if prev < midline && cur >= midline {
			return x[i-1]
		}
	}
	return x[len(x)-1]
}

func estimateExpGrowthRate(x, rfu []float64, p params) float64 {
	// Growth rate in the exponential window approximated by the fitted
	// steepness scaled to a per-cycle doubling-equivalent measure.
	return p[1] * p[0] / math.Max(1, stddev(firstN(rfu, 5))+1)
}

func estimateEfficiency(expGrowthRate float64) float64 {
	eff := expGrowthRate / 10.0
	if eff > 2.0 {
		eff = 2.0
	}
	if eff < 0 {
		eff = 0
	}
	return eff
}

func initialGuess(x, rfu []float64) params {
	b0 := mean(firstN(rfu, 5))
	p0 := mean(lastN(rfu, 5))
	l0 := p0 - b0
	if l0 < 1e-6 {
		l0 = 1e-6
	}
	k0 := 0.3
	argmax := argMaxAbsDiffStable(rfu)
	x0 := x[argmax]
	return params{l0, k0, x0, b0}
}

// argMaxAbsDiffStable mirrors pkg/numeric.ArgMaxAbsDiff's stable tie-break
// without importing it, keeping the fitter dependency-free of its own
// module's other packages beyond domain (kept local to avoid an import
// cycle risk as the numeric package grows).
func argMaxAbsDiffStable(rfu []float64) int {
	if len(rfu) < 2 {
		return 0
	}
	best := 0
	bestVal := math.Abs(rfu[1] - rfu[0])
	for i := 2; i < len(rfu); i++ {
		v := math.Abs(rfu[i] - rfu[i-1])
		if v > bestVal {
			bestVal = v
			best = i - 1
		}
	}
	return best
}

// levenbergMarquardt fits the 4-parameter sigmoid with box constraints
// (L>=0, k in [0.01,5], x0 in [min(x),max(x)], B unbounded) via damped
// Gauss-Newton with a numerically estimated Jacobian.
func levenbergMarquardt(x, y []float64, initial params, maxIter int) (params, bool) {
	p := initial
	lambda := 1e-3
	n := len(x)

	xmin, xmax := x[0], x[0]
	for _, v := range x {
		if v < xmin {
			xmin = v
		}
		if v > xmax {
			xmax = v
		}
	}

	clampParams := func(p params) params {
		p[0] = math.Max(p[0], 0)
		p[1] = clamp(p[1], 0.01, 5)
		p[2] = clamp(p[2], xmin, xmax)
		return p
	}
	p = clampParams(p)

	residual := func(p params) []float64 {
		r := make([]float64, n)
		for i := range x {
			r[i] = y[i] - sigmoid(p, x[i])
		}
		return r
	}
	sse := func(r []float64) float64 {
		s := 0.0
		for _, v := range r {
			s += v * v
		}
		return s
	}

	curR := residual(p)
	curSSE := sse(curR)

	const eps = 1e-6
	for iter := 0; iter < maxIter; iter++ {
		// numeric Jacobian: d residual_i / d param_j = -d sigmoid/d param_j
		jac := make([][4]float64, n)
		for j := 0; j < 4; j++ {
			pp := p
			step := eps * math.Max(1, math.Abs(p[j]))
			pp[j] += step
			rp := residual(pp)
			for i := 0; i < n; i++ {
				jac[i][j] = (rp[i] - curR[i]) / step
			}
		}

		// Normal equations: (J^T J + lambda*diag) delta = J^T r
		var JTJ [4][4]float64
		var JTr [4]float64
		for i := 0; i < n; i++ {
			for a := 0; a < 4; a++ {
				JTr[a] += jac[i][a] * curR[i]
				for b := 0; b < 4; b++ {
					JTJ[a][b] += jac[i][a] * jac[i][b]
				}
			}
		}
		for a := 0; a < 4; a++ {
			JTJ[a][a] += lambda * JTJ[a][a]
			if JTJ[a][a] == 0 {
				JTJ[a][a] = lambda
			}
		}

		delta, ok := solve4(JTJ, JTr)
		if !ok {
			lambda *= 10
			continue
		}

		candidate := params{p[0] + delta[0], p[1] + delta[1], p[2] + delta[2], p[3] + delta[3]}
		candidate = clampParams(candidate)
		candR := residual(candidate)
		candSSE := sse(candR)

		if candSSE < curSSE {
			improvement := curSSE - candSSE
			p = candidate
			curR = candR
			curSSE = candSSE
			lambda *= 0.7
			if improvement < 1e-10 && iter > 10 {
				return p, true
			}
		} else {
			lambda *= 2
			if lambda > 1e12 {
				return p, iter > 0
			}
		}
	}
	return p, true
}

// solve4 solves the 4x4 linear system Ax=b via Gaussian elimination with
// partial pivoting; ok is false on a singular matrix.
func solve4(a [4][4]float64, b [4]float64) ([4]float64, bool) {
	var m [4][5]float64
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			m[i][j] = a[i][j]
		}
		m[i][4] = b[i]
	}
	for col := 0; col < 4; col++ {
		pivot := col
		for r := col + 1; r < 4; r++ {
			if math.Abs(m[r][col]) > math.Abs(m[pivot][col]) {
				pivot = r
			}
		}
		if math.Abs(m[pivot][col]) < 1e-14 {
			return [4]float64{}, false
		}
		m[col], m[pivot] = m[pivot], m[col]
		for r := 0; r < 4; r++ {
			if r == col {
				continue
			}
			factor := m[r][col] / m[col][col]
			for c := col; c < 5; c++ {
				m[r][c] -= factor * m[col][c]
			}
		}
	}
	var out [4]float64
	for i := 0; i < 4; i++ {
		out[i] = m[i][4] / m[i][i]
	}
	return out, true
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
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

func rangeFromX(xs []float64) float64 { return rangeOf(xs) }

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
