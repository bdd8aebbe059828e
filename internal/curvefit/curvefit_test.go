package curvefit

import (
	"math"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func syntheticTrace(L, k, x0, B float64, n int) ([]int, []float64) {
	cycles := make([]int, n)
	rfu := make([]float64, n)
	for i := 0; i < n; i++ {
		c := i + 1
		cycles[i] = c
		rfu[i] = B + L/(1+math.Exp(-k*(float64(c)-x0)))
	}
	return cycles, rfu
}

func TestFit_CleanPositive_S1(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	f := NewFitter(logger, DefaultConfig())

	cycles, rfu := syntheticTrace(1200, 0.45, 22, 50, 40)
	result, engErr := f.Fit("run-s1", cycles, rfu)
	require.Nil(t, engErr)

	require.True(t, result.IsGoodSCurve, "reasons: %v", result.RejectionReasons)
	require.InDelta(t, 22, result.X0, 1.0)
	require.Greater(t, result.R2, 0.95)
}

func TestFit_FlatTrace_S3(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	f := NewFitter(logger, DefaultConfig())

	cycles := make([]int, 40)
	rfu := make([]float64, 40)
	for i := range cycles {
		cycles[i] = i + 1
		rfu[i] = 20 + float64(i%3) // nearly flat, noisy
	}
	result, engErr := f.Fit("run-s3", cycles, rfu)
	require.Nil(t, engErr)
	require.False(t, result.IsGoodSCurve)
	require.NotEmpty(t, result.RejectionReasons)
}

func TestFit_InsufficientData(t *testing.T) {
	logger := logrus.New()
	f := NewFitter(logger, DefaultConfig())

	_, engErr := f.Fit("run-short", []int{1, 2, 3}, []float64{1, 2, 3})
	require.NotNil(t, engErr)
	require.Equal(t, "FIT_INSUFFICIENT_DATA", engErr.Code)
}

func TestInvariant_GoodSCurveImpliesKAndR2(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	f := NewFitter(logger, DefaultConfig())

	cycles, rfu := syntheticTrace(1500, 0.6, 25, 40, 45)
	result, engErr := f.Fit("run-invariant", cycles, rfu)
	require.Nil(t, engErr)
	if result.IsGoodSCurve {
		require.Greater(t, result.K, 0.05)
		require.Greater(t, result.R2, 0.85)
	}
}
