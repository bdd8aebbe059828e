package classifier

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/qpcr-scurve/engine/internal/domain"
)

func TestClassify_CleanPositive_S1(t *testing.T) {
	e := NewRuleEngine(logrus.New())
	in := Input{
		Fit:       domain.FitResult{R2: 0.996, K: 0.45, SNR: 18, X0: 22, IsGoodSCurve: true},
		Amplitude: 1200,
	}
	c := e.Classify("run-s1", "A1", in)
	require.Equal(t, domain.ClassStrongPositive, c.Class)
	require.Equal(t, domain.SummaryPositive, c.Summary)
}

func TestClassify_ExcellentShapeLowAmplitude_OverrideProtection_S2(t *testing.T) {
	e := NewRuleEngine(logrus.New())
	in := Input{
		Fit:       domain.FitResult{R2: 0.99, K: 0.67, SNR: 4.5, X0: 32, IsGoodSCurve: true},
		Amplitude: 220,
	}
	c := e.Classify("run-s2", "A2", in)
	require.NotEqual(t, domain.ClassNegative, c.Class, "override protection must forbid NEGATIVE")
	require.Equal(t, domain.ClassWeakPositive, c.Class)
	require.Equal(t, domain.SummaryNegative, c.Summary, "amplitude below 400 forces NEG in the strict summary")
}

func TestClassify_FlatTrace_S3(t *testing.T) {
	e := NewRuleEngine(logrus.New())
	in := Input{
		Fit:       domain.FitResult{R2: 0.3, K: 0.02, SNR: 1.5, IsGoodSCurve: false},
		Amplitude: 20,
	}
	c := e.Classify("run-s3", "A3", in)
	require.Equal(t, domain.ClassNegative, c.Class)
	require.Equal(t, domain.SummaryNegative, c.Summary)
}

func TestClassify_ArtifactBiasIsSuspiciousEvenWithStrongBias(t *testing.T) {
	e := NewRuleEngine(logrus.New())
	in := Input{
		// k>1.0 ∧ snr<5 fires the artifact SUSPICIOUS bias; amplitude>1000
		// fires the STRONG_POSITIVE bias. No anomalies, so forceRedo does
		// not engage and the two biases are the only thing in tension.
		Fit:       domain.FitResult{R2: 0.97, K: 1.2, SNR: 3, X0: 20, IsGoodSCurve: true},
		Amplitude: 1500,
	}
	c := e.Classify("run-susp", "A4", in)
	require.Equal(t, domain.ClassSuspicious, c.Class, "SUSPICIOUS must pre-empt STRONG_POSITIVE per the resolved open question")
}
