package metrics

import (
	"math"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/qpcr-scurve/engine/internal/domain"
)

func TestExtract_FeatureOrderMatchesDomainContract(t *testing.T) {
	e := NewExtractor(logrus.New())

	cycles := make([]int, 40)
	rfu := make([]float64, 40)
	for i := range cycles {
		c := i + 1
		cycles[i] = c
		rfu[i] = 50 + 1200/(1+math.Exp(-0.45*(float64(c)-22)))
	}
	fit := domain.FitResult{L: 1200, K: 0.45, X0: 22, B: 50, R2: 0.996, SNR: 18, IsGoodSCurve: true}

	f := e.Extract(cycles, rfu, fit, nil, 22.1, 2e5)
	vec := f.Vector()
	require.Len(t, vec, 30)
	require.InDelta(t, 1200, vec[0], 1e-9, "index 0 must be amplitude")
	require.InDelta(t, 0.996, vec[1], 1e-9, "index 1 must be r2")
	require.Equal(t, domain.ShapeSCurve, f.ShapeClass)
}

func TestExtract_FlatTraceYieldsFlatShape(t *testing.T) {
	e := NewExtractor(logrus.New())
	cycles := make([]int, 30)
	rfu := make([]float64, 30)
	for i := range cycles {
		cycles[i] = i + 1
		rfu[i] = 10
	}
	fit := domain.FitResult{L: 5, B: 10, IsGoodSCurve: false}
	f := e.Extract(cycles, rfu, fit, []domain.AnomalyFlag{domain.AnomalyLowAmplitude}, math.NaN(), math.NaN())
	require.Equal(t, domain.ShapeFlat, f.ShapeClass)
}
