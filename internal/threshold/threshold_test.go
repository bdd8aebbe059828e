package threshold

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/qpcr-scurve/engine/internal/domain"
)

func TestCompute_FixedLookup_S4(t *testing.T) {
	e := NewEngine(logrus.New())
	table := domain.FixedThresholdTable{
		"FLUA": {"FAM": {domain.ScaleLinear: 265}},
	}
	result, engErr := e.Compute("run-s4", "FAM", domain.ScaleLinear, StrategyLinearFixed, "FLUA", nil, 0, table)
	require.Nil(t, engErr)
	require.Equal(t, 265.0, result.Value)
	require.Equal(t, domain.ThresholdSourceFixedLookup, result.Source.Kind)
}

func TestCompute_FixedLookup_NoEntry(t *testing.T) {
	e := NewEngine(logrus.New())
	table := domain.FixedThresholdTable{}
	_, engErr := e.Compute("run-x", "FAM", domain.ScaleLinear, StrategyLinearFixed, "UNKNOWN", nil, 0, table)
	require.NotNil(t, engErr)
	require.Equal(t, domain.ErrCodeThresholdNoFixed, engErr.Code)
}

func TestCompute_Manual(t *testing.T) {
	e := NewEngine(logrus.New())
	result, engErr := e.Compute("run-m", "HEX", domain.ScaleLinear, StrategyManual, "", nil, 450, nil)
	require.Nil(t, engErr)
	require.Equal(t, 450.0, result.Value)
	require.Equal(t, domain.ThresholdSourceManual, result.Source.Kind)
}

func TestCompute_LinearStdDev_FallsBackWithoutControls(t *testing.T) {
	e := NewEngine(logrus.New())
	wells := []WellFit{
		{WellID: "A1", Role: domain.RoleUnknown, RFU: []float64{10, 11, 9, 10, 12, 50, 200, 500}},
	}
	result, engErr := e.Compute("run-nc", "FAM", domain.ScaleLinear, StrategyLinearStdDev, "", wells, 0, nil)
	require.Nil(t, engErr)
	require.True(t, result.Source.Fallback)
}
