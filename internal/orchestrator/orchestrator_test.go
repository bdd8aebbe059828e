package orchestrator

import (
	"context"
	"math"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/qpcr-scurve/engine/internal/domain"
	"github.com/qpcr-scurve/engine/internal/mlclassifier"
)

type memTrainingStore struct {
	byTestCode map[string][]domain.TrainingExample
}

func newMemTrainingStore() *memTrainingStore {
	return &memTrainingStore{byTestCode: map[string][]domain.TrainingExample{}}
}

func (m *memTrainingStore) Append(ctx context.Context, ex domain.TrainingExample) error {
	m.byTestCode[ex.TestCode] = append(m.byTestCode[ex.TestCode], ex)
	return nil
}
func (m *memTrainingStore) List(ctx context.Context, testCode string) ([]domain.TrainingExample, error) {
	return m.byTestCode[testCode], nil
}
func (m *memTrainingStore) Count(ctx context.Context, testCode string) (int, error) {
	return len(m.byTestCode[testCode]), nil
}
func (m *memTrainingStore) Close() error { return nil }

func syntheticCycles(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i + 1
	}
	return out
}

func sigmoidTrace(cycles []int, l, k, x0, b float64) []float64 {
	out := make([]float64, len(cycles))
	for i, c := range cycles {
		x := float64(c)
		out[i] = l/(1+math.Exp(-k*(x-x0))) + b
	}
	return out
}

func newTestEngine(t *testing.T) *Engine {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	reg := mlclassifier.NewRegistry(logger, domain.DefaultMLConfig())
	store := newMemTrainingStore()
	configs := NewConfigProvider(logger, nil, nil, nil)
	configs.SetSnapshot(domain.PathogenLibrary{}, domain.FixedThresholdTable{}, domain.DefaultMLConfig())

	return NewEngine(Deps{
		Logger:        logger,
		Models:        reg,
		Predictor:     reg,
		TrainingStore: store,
		Configs:       configs,
	})
}

func TestAnalyze_CleanPositive_S1(t *testing.T) {
	e := newTestEngine(t)
	cycles := syntheticCycles(40)
	rfu := sigmoidTrace(cycles, 1200, 0.45, 22, 50)

	input := domain.RunInput{
		RunID: "run-1",
		Wells: []domain.WellInput{
			{WellID: "A1", Channel: "FAM", Cycles: cycles, RFU: rfu, SampleName: "Sample1", TestCode: "NGON"},
		},
		Strategy: domain.StrategySelection{StrategyID: "linear_exp_phase", Scale: domain.ScaleLinear},
	}

	result, err := e.Analyze(context.Background(), input)
	require.NoError(t, err)
	require.Len(t, result.Wells, 1)
	w := result.Wells[0]
	require.Nil(t, w.Err)
	require.True(t, w.Fit.IsGoodSCurve)
	require.Equal(t, domain.ClassStrongPositive, w.Classification.Class)
	require.Equal(t, domain.SummaryPositive, w.Classification.Summary)
}

func TestAnalyze_InputMalformed_NonMonotonicCycles(t *testing.T) {
	e := newTestEngine(t)
	input := domain.RunInput{
		RunID: "run-2",
		Wells: []domain.WellInput{
			{WellID: "A1", Channel: "FAM", Cycles: []int{1, 2, 2, 4}, RFU: []float64{1, 2, 3, 4}, SampleName: "S", TestCode: "NGON"},
		},
		Strategy: domain.StrategySelection{StrategyID: "linear_exp_phase", Scale: domain.ScaleLinear},
	}

	result, err := e.Analyze(context.Background(), input)
	require.NoError(t, err)
	require.Len(t, result.Wells, 1)
	require.NotNil(t, result.Wells[0].Err)
	require.Equal(t, domain.ErrCodeInputMalformed, result.Wells[0].Err.Code)
}

func TestDetectRole(t *testing.T) {
	require.Equal(t, domain.RoleControlH, DetectRole("Panel-H2"))
	require.Equal(t, domain.RoleControlM, DetectRole("Panel-M"))
	require.Equal(t, domain.RoleNTC, DetectRole("NTC-1"))
	require.Equal(t, domain.RoleUnknown, DetectRole("Sample01"))
}

func TestEmergencyReset_ClearsCurrentRun(t *testing.T) {
	e := newTestEngine(t)
	cycles := syntheticCycles(40)
	rfu := sigmoidTrace(cycles, 1200, 0.45, 22, 50)
	input := domain.RunInput{
		RunID: "run-3",
		Wells: []domain.WellInput{
			{WellID: "A1", Channel: "FAM", Cycles: cycles, RFU: rfu, SampleName: "S", TestCode: "NGON"},
		},
		Strategy: domain.StrategySelection{StrategyID: "linear_exp_phase", Scale: domain.ScaleLinear},
	}
	_, err := e.Analyze(context.Background(), input)
	require.NoError(t, err)

	_, ok := e.CurrentRun()
	require.True(t, ok)

	require.NoError(t, e.EmergencyReset(context.Background()))
	_, ok = e.CurrentRun()
	require.False(t, ok)
}

func TestRecomputeThresholds_RerunsQuantAndClassificationWithNewStrategy(t *testing.T) {
	e := newTestEngine(t)
	cycles := syntheticCycles(40)
	rfu := sigmoidTrace(cycles, 1200, 0.45, 22, 50)

	input := domain.RunInput{
		RunID: "run-5",
		Wells: []domain.WellInput{
			{WellID: "A1", Channel: "FAM", Cycles: cycles, RFU: rfu, SampleName: "Sample1", TestCode: "NGON"},
		},
		Strategy: domain.StrategySelection{StrategyID: "linear_exp_phase", Scale: domain.ScaleLinear},
	}
	first, err := e.Analyze(context.Background(), input)
	require.NoError(t, err)
	require.Len(t, first.Wells, 1)
	require.NotZero(t, first.Wells[0].Fit.L)

	manualStrategy := domain.StrategySelection{
		StrategyID:      "manual",
		Scale:           domain.ScaleLinear,
		ManualOverrides: map[string]float64{"FAM": 200},
	}
	recomputed, err := e.RecomputeThresholds(context.Background(), "run-5", manualStrategy)
	require.NoError(t, err)
	require.Len(t, recomputed.Wells, 1)

	w := recomputed.Wells[0]
	require.Nil(t, w.Err)
	require.Equal(t, 200.0, w.Threshold.Value)
	require.True(t, w.Quant.CQJValid)
	require.Equal(t, domain.MethodRule, w.Classification.Method)

	// Fit itself is untouched by a threshold-only recompute.
	require.Equal(t, first.Wells[0].Fit.L, w.Fit.L)
}

func TestRecomputeThresholds_LeavesExpertClassificationUntouched(t *testing.T) {
	e := newTestEngine(t)
	cycles := syntheticCycles(40)
	rfu := sigmoidTrace(cycles, 1200, 0.45, 22, 50)
	input := domain.RunInput{
		RunID: "run-6",
		Wells: []domain.WellInput{
			{WellID: "A1", Channel: "FAM", Cycles: cycles, RFU: rfu, SampleName: "Sample1", TestCode: "NGON"},
		},
		Strategy: domain.StrategySelection{StrategyID: "linear_exp_phase", Scale: domain.ScaleLinear},
	}
	_, err := e.Analyze(context.Background(), input)
	require.NoError(t, err)

	expert := domain.Classification{Class: domain.ClassNegative, Summary: domain.SummaryNegative, Method: domain.MethodExpert, Reason: "expert_override"}
	e.mu.Lock()
	e.run.Wells[0].Classification = expert
	e.mu.Unlock()

	manualStrategy := domain.StrategySelection{
		StrategyID:      "manual",
		Scale:           domain.ScaleLinear,
		ManualOverrides: map[string]float64{"FAM": 200},
	}
	recomputed, err := e.RecomputeThresholds(context.Background(), "run-6", manualStrategy)
	require.NoError(t, err)
	require.Equal(t, expert, recomputed.Wells[0].Classification)
}

func TestBatchMLReclassify_CancelBeforeFirstWell(t *testing.T) {
	e := newTestEngine(t)
	cycles := syntheticCycles(40)
	wells := make([]domain.WellInput, 5)
	for i := range wells {
		rfu := sigmoidTrace(cycles, 1200, 0.45, 22, 50)
		wells[i] = domain.WellInput{WellID: string(rune('A' + i)), Channel: "FAM", Cycles: cycles, RFU: rfu, SampleName: "S", TestCode: "NGON"}
	}
	input := domain.RunInput{RunID: "run-4", Wells: wells, Strategy: domain.StrategySelection{StrategyID: "linear_exp_phase", Scale: domain.ScaleLinear}}
	_, err := e.Analyze(context.Background(), input)
	require.NoError(t, err)

	cancel := make(chan struct{})
	close(cancel) // cancel immediately
	progress := e.BatchMLReclassify(context.Background(), "run-4", cancel)

	var last ReclassifyProgress
	for p := range progress {
		last = p
	}
	require.True(t, last.Done)
	require.True(t, last.Cancelled)
}
