package anomaly

import (
	"math"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/qpcr-scurve/engine/internal/domain"
)

func TestDetect_LowAmplitudeFlat(t *testing.T) {
	d := NewDetector(logrus.New(), domain.DefaultAnomalyConfig())

	cycles := make([]int, 30)
	rfu := make([]float64, 30)
	for i := range cycles {
		cycles[i] = i + 1
		rfu[i] = 20 + float64(i%2)
	}
	fit := domain.FitResult{L: 5, B: 20}
	flags := d.Detect("run-1", cycles, rfu, fit)
	require.Contains(t, flags, domain.AnomalyLowAmplitude)
}

func TestDetect_CleanTraceHasNoFlags(t *testing.T) {
	d := NewDetector(logrus.New(), domain.DefaultAnomalyConfig())

	cycles := make([]int, 40)
	rfu := make([]float64, 40)
	for i := range cycles {
		cycles[i] = i + 1
	}
	// Build a clean rising sigmoid shape by hand (avoids importing curvefit).
	for i, c := range cycles {
		x := float64(c)
		rfu[i] = 50 + 1200/(1+math.Exp(-0.45*(x-22)))
	}
	fit := domain.FitResult{L: 1200, K: 0.45, X0: 22, B: 50}
	flags := d.Detect("run-2", cycles, rfu, fit)
	require.NotContains(t, flags, domain.AnomalyLowAmplitude)
	require.NotContains(t, flags, domain.AnomalyInsufficientData)
	require.Empty(t, flags)
}
