package quant

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/qpcr-scurve/engine/internal/domain"
)

func TestCQJ_LinearInterpolation(t *testing.T) {
	cycles := []int{1, 2, 3, 4, 5}
	rfu := []float64{10, 20, 100, 700, 1200}
	cqj, ok := CQJ(cycles, rfu, 650, domain.ScaleLinear)
	require.True(t, ok)
	require.InDelta(t, 3+(650.0-100)/(700-100), cqj, 1e-9)
}

func TestCQJ_NoCrossingIsAbsent(t *testing.T) {
	cycles := []int{1, 2, 3, 4}
	rfu := []float64{10, 12, 11, 13}
	_, ok := CQJ(cycles, rfu, 650, domain.ScaleLinear)
	require.False(t, ok)
}

func TestCQJ_MonotoneInThreshold(t *testing.T) {
	cycles := []int{1, 2, 3, 4, 5, 6}
	rfu := []float64{10, 20, 100, 400, 900, 1500}
	low, ok1 := CQJ(cycles, rfu, 300, domain.ScaleLinear)
	high, ok2 := CQJ(cycles, rfu, 1000, domain.ScaleLinear)
	require.True(t, ok1)
	require.True(t, ok2)
	require.GreaterOrEqual(t, high, low)
}

func TestFitStandardCurve_RejectsNonNegativeSlope(t *testing.T) {
	points := []ControlPoint{
		{Concentration: 2e3, CQJ: 20},
		{Concentration: 2e7, CQJ: 28}, // wrong direction: higher conc, higher Cq
	}
	_, engErr := FitStandardCurve("run-bad", points)
	require.NotNil(t, engErr)
	require.Equal(t, domain.ErrCodeStdCurveInvalid, engErr.Code)
}

func TestFitStandardCurve_TwoPointAndCalcJ(t *testing.T) {
	points := []ControlPoint{
		{Concentration: 2e7, CQJ: 15},
		{Concentration: 2e3, CQJ: 28},
	}
	curve, engErr := FitStandardCurve("run-ok", points)
	require.Nil(t, engErr)
	require.Less(t, curve.Slope, 0.0)

	calcJH := CalcJ(curve, 15)
	require.InDelta(t, 2e7, calcJH, 2e7*0.05)
}

func TestConsensusCQJ_RejectsOutlier(t *testing.T) {
	values := []float64{20.0, 20.2, 19.9, 35.0}
	consensus := ConsensusCQJ(values)
	require.InDelta(t, 20.03, consensus, 0.5)
}
