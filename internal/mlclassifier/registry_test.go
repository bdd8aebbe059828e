package mlclassifier

import (
	"context"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/qpcr-scurve/engine/internal/domain"
)

func makeExamples(n int, label domain.Class7, biasIdx int, biasValue float64) []domain.TrainingExample {
	out := make([]domain.TrainingExample, n)
	for i := 0; i < n; i++ {
		var f [30]float64
		f[biasIdx] = biasValue + float64(i%3)
		out[i] = domain.TrainingExample{TestCode: "NGON", Channel: "FAM", Features: f, ExpertLabel: label}
	}
	return out
}

func TestRegistry_PredictDefersWhenTrainingBelowGate_S6(t *testing.T) {
	cfg := domain.DefaultMLConfig()
	cfg.PerChannel["NGON|FAM"] = domain.ChannelMLConfig{MLEnabled: true, MinConfidence: 0.7}
	reg := NewRegistry(logrus.New(), cfg)

	examples := makeExamples(15, domain.ClassPositive, 0, 1000)
	_, err := reg.Train(context.Background(), "NGON", examples)
	require.NoError(t, err)

	_, _, _, ok, engErr := reg.Predict("NGON", "FAM", [30]float64{})
	require.False(t, ok)
	require.NotNil(t, engErr)
	require.Equal(t, domain.ErrCodeMLInsufficientTraining, engErr.Code)
}

func TestRegistry_PredictSucceedsAboveGate(t *testing.T) {
	cfg := domain.DefaultMLConfig()
	cfg.PerChannel["NGON|FAM"] = domain.ChannelMLConfig{MLEnabled: true, MinConfidence: 0.0}
	reg := NewRegistry(logrus.New(), cfg)

	positives := makeExamples(15, domain.ClassPositive, 0, 1000)
	negatives := makeExamples(15, domain.ClassNegative, 0, 10)
	examples := append(positives, negatives...)
	model, err := reg.Train(context.Background(), "NGON", examples)
	require.NoError(t, err)
	require.Equal(t, 30, model.TrainingCount)
	require.LessOrEqual(t, model.CappedAccuracy, 0.80)

	var f [30]float64
	f[0] = 1000
	_, _, version, ok, engErr := reg.Predict("NGON", "FAM", f)
	require.True(t, ok)
	require.Nil(t, engErr)
	require.Equal(t, "v1", version)
}

func TestRegistry_MLDisabledFallsThrough(t *testing.T) {
	cfg := domain.DefaultMLConfig()
	reg := NewRegistry(logrus.New(), cfg)
	_, _, _, ok, engErr := reg.Predict("NGON", "FAM", [30]float64{})
	require.False(t, ok)
	require.Equal(t, domain.ErrCodeMLDisabled, engErr.Code)
}

func TestShouldRetrain_CrossesMilestone(t *testing.T) {
	require.True(t, ShouldRetrain(18, 20))
	require.False(t, ShouldRetrain(21, 22))
	require.True(t, ShouldRetrain(49, 51))
}
