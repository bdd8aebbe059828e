package domain

import "time"

// Role classifies a well by its sample name, driving control detection for
// the threshold engine and standard-curve construction.
type Role string

const (
	RoleUnknown   Role = "UNKNOWN"
	RoleControlH  Role = "CONTROL_H"
	RoleControlM  Role = "CONTROL_M"
	RoleControlL  Role = "CONTROL_L"
	RoleNTC       Role = "NTC"
)

// Trace is the immutable raw amplification curve for one well/channel pair.
type Trace struct {
	WellID  string
	Channel string
	Cycles  []int
	RFU     []float64
}

// SampleMeta carries the identifying and assay information for a well that
// is not part of the raw trace itself.
type SampleMeta struct {
	WellID     string
	Channel    string
	SampleName string
	TestCode   string
	Role       Role
}

// FitResult is the output of the Curve Fitter for a single trace.
type FitResult struct {
	L     float64
	K     float64
	X0    float64
	B     float64

	R2             float64
	RMSE           float64
	SNR            float64
	PlateauLevel   float64
	ExpGrowthRate  float64
	DynamicRange   float64
	Efficiency     float64

	IsGoodSCurve     bool
	RejectionReasons []string
}

// AnomalyFlag is one member of the closed anomaly enumeration (§4.2).
type AnomalyFlag string

const (
	AnomalyLowAmplitude          AnomalyFlag = "LOW_AMPLITUDE"
	AnomalyEarlyPlateau          AnomalyFlag = "EARLY_PLATEAU"
	AnomalyUnstableBaseline      AnomalyFlag = "UNSTABLE_BASELINE"
	AnomalyNegativeAmplification AnomalyFlag = "NEGATIVE_AMPLIFICATION"
	AnomalyNegativeRFUValues     AnomalyFlag = "NEGATIVE_RFU_VALUES"
	AnomalyHighNoise             AnomalyFlag = "HIGH_NOISE"
	AnomalyInsufficientData      AnomalyFlag = "INSUFFICIENT_DATA"
	AnomalyInsufficientValidData AnomalyFlag = "INSUFFICIENT_VALID_DATA"
)

// Scale is the axis a threshold is expressed on.
type Scale string

const (
	ScaleLinear Scale = "linear"
	ScaleLog    Scale = "log"
)

// ThresholdSource records where a ChannelThreshold's value came from.
type ThresholdSource struct {
	Kind     string // computed | fixed_lookup | manual
	Fallback bool
}

const (
	ThresholdSourceComputed    = "computed"
	ThresholdSourceFixedLookup = "fixed_lookup"
	ThresholdSourceManual      = "manual"
)

// ChannelThreshold is one (channel, scale) record for the current run.
type ChannelThreshold struct {
	Channel    string
	Scale      Scale
	Value      float64
	StrategyID string
	Source     ThresholdSource
}

// Quantification holds the CQJ/CalcJ pair for one well/channel. Absent
// values are represented with the Valid booleans rather than sentinels
// (never 0 or 1 to mean "N/A").
type Quantification struct {
	WellID  string
	Channel string

	CQJ      float64
	CQJValid bool

	CalcJ      float64
	CalcJValid bool
}

// Method identifies which component produced a Classification.
type Method string

const (
	MethodRule   Method = "rule"
	MethodML     Method = "ml"
	MethodExpert Method = "expert"
)

// Class7 is the seven-category diagnostic taxonomy.
type Class7 string

const (
	ClassStrongPositive Class7 = "STRONG_POSITIVE"
	ClassPositive       Class7 = "POSITIVE"
	ClassWeakPositive   Class7 = "WEAK_POSITIVE"
	ClassIndeterminate  Class7 = "INDETERMINATE"
	ClassSuspicious     Class7 = "SUSPICIOUS"
	ClassRedo           Class7 = "REDO"
	ClassNegative       Class7 = "NEGATIVE"
)

// Summary3 is the strict operational three-class summary.
type Summary3 string

const (
	SummaryPositive Summary3 = "POS"
	SummaryNegative Summary3 = "NEG"
	SummaryRedo     Summary3 = "REDO"
)

// Classification is the sum type described in design note §9:
// Classification = Rule{...} | Ml{...} | Expert{...}, reduced through a
// single struct with Method discriminating the variant. Expert always
// takes precedence and is never overwritten by Rule/Ml results.
type Classification struct {
	Class        Class7
	Summary      Summary3
	Method       Method
	Confidence   float64 // N/A (zero value + ConfidenceValid=false) for method=rule
	ConfidenceValid bool
	Reason       string
	ModelVersion string // only set when Method == MethodML
}

// IsExpert reports whether this classification must not be overwritten by
// an automated reclassification.
func (c Classification) IsExpert() bool { return c.Method == MethodExpert }

// ControlConcentration is one control level's known concentration (and,
// optionally, an externally calibrated Cq) for a pathogen's channel.
type ControlConcentration struct {
	Cq            float64
	CqValid       bool
	Concentration float64
}

// ChannelProfile is one channel's target name and control ladder for a
// pathogen (test_code).
type ChannelProfile struct {
	TargetName string
	Controls   map[string]ControlConcentration // keys: "H", "M", "L"
}

// PathogenProfile is the per-test_code channel map used by CalcJ and the
// fixed threshold strategies.
type PathogenProfile struct {
	TestCode string
	Channels map[string]ChannelProfile
}

// FeatureNames is the fixed order of the 30-feature vector (§4.3). Never
// reorder: the order is part of the wire/storage contract.
var FeatureNames = [30]string{
	// numerical (18)
	"amplitude", "r2", "steepness", "snr", "midpoint", "baseline",
	"cq_value", "cqj", "calcj", "rmse", "min_rfu", "max_rfu",
	"mean_rfu", "std_rfu", "min_cycle", "max_cycle", "dynamic_range", "efficiency",
	// visual/pattern (12)
	"shape_class", "baseline_stability", "exp_phase_sharpness", "plateau_quality",
	"curve_symmetry", "noise_level", "trend_consistency", "spike_count",
	"oscillation_score", "dropout_count", "relative_amplitude", "background_separation",
}

// ShapeClass is the closed enumeration for the shape_class feature.
type ShapeClass string

const (
	ShapeFlat        ShapeClass = "flat"
	ShapeLinear      ShapeClass = "linear"
	ShapeSCurve      ShapeClass = "s-curve"
	ShapeExponential ShapeClass = "exponential"
	ShapeIrregular   ShapeClass = "irregular"
)

// Features is the 30-feature vector in FeatureNames order. shape_class is
// carried separately since it is categorical; Vector() renders it as a
// numeric code for consumers (e.g. the ML classifier) that need floats.
type Features struct {
	Amplitude     float64
	R2            float64
	Steepness     float64
	SNR           float64
	Midpoint      float64
	Baseline      float64
	CqValue       float64
	Cqj           float64
	Calcj         float64
	RMSE          float64
	MinRFU        float64
	MaxRFU        float64
	MeanRFU       float64
	StdRFU        float64
	MinCycle      float64
	MaxCycle      float64
	DynamicRange  float64
	Efficiency    float64

	ShapeClass          ShapeClass
	BaselineStability   float64
	ExpPhaseSharpness   float64
	PlateauQuality      float64
	CurveSymmetry       float64
	NoiseLevel          float64
	TrendConsistency    float64
	SpikeCount          float64
	OscillationScore    float64
	DropoutCount        float64
	RelativeAmplitude   float64
	BackgroundSeparation float64
}

var shapeClassCode = map[ShapeClass]float64{
	ShapeFlat: 0, ShapeLinear: 1, ShapeSCurve: 2, ShapeExponential: 3, ShapeIrregular: 4,
}

// Vector renders the 30 features as a float64 slice in FeatureNames order,
// for consumers that need a flat numeric feature space (mlclassifier).
func (f Features) Vector() [30]float64 {
	return [30]float64{
		f.Amplitude, f.R2, f.Steepness, f.SNR, f.Midpoint, f.Baseline,
		f.CqValue, f.Cqj, f.Calcj, f.RMSE, f.MinRFU, f.MaxRFU,
		f.MeanRFU, f.StdRFU, f.MinCycle, f.MaxCycle, f.DynamicRange, f.Efficiency,
		shapeClassCode[f.ShapeClass], f.BaselineStability, f.ExpPhaseSharpness, f.PlateauQuality,
		f.CurveSymmetry, f.NoiseLevel, f.TrendConsistency, f.SpikeCount,
		f.OscillationScore, f.DropoutCount, f.RelativeAmplitude, f.BackgroundSeparation,
	}
}

// MLModel is a trained per-test_code (or "GENERAL" fallback) estimator.
type MLModel struct {
	TestCode        string
	Version         string
	ParentVersion    string
	TrainingCount   int
	RawCVAccuracy   float64
	CappedAccuracy  float64
	ConfusionMatrix map[string]map[string]int
	CreatedAt       time.Time

	Estimator ModelEstimator
}

// ModelEstimator is the narrow surface the orchestrator/mlclassifier need
// from a trained model, independent of the concrete algorithm.
type ModelEstimator interface {
	Predict(features [30]float64) (class Class7, confidence float64)
}

// TrainingExample is one append-only row in the feedback store.
type TrainingExample struct {
	ID         string
	TestCode   string
	Channel    string
	Features   [30]float64
	ExpertLabel Class7
	WellID     string
	RunID      string
	CreatedAt  time.Time
}

// WellResult is one (well_id, channel)'s complete analysis output, the
// per-well element of a RunResult.
type WellResult struct {
	WellID     string
	Channel    string
	SampleName string
	Role       Role
	TestCode   string

	// Cycles/RFU retain the raw trace so recompute_thresholds can re-run
	// the Threshold Engine, Quantification, and Rule Classifier against a
	// new strategy without requiring a fresh analyze call.
	Cycles []int
	RFU    []float64

	Fit             FitResult
	Anomalies       []AnomalyFlag
	Features        Features
	Threshold       ChannelThreshold
	Quant           Quantification
	Classification  Classification

	Err *EngineError // per-well error, never aborts the run
}

// Run is the in-memory state for one analyze call: the set of input
// traces/metadata, the selected strategy, derived thresholds, and every
// well's results. A Run is owned exclusively by the orchestrator's Engine.
type Run struct {
	RunID      string
	CreatedAt  time.Time
	Strategy   StrategySelection
	Thresholds map[string]ChannelThreshold // keyed by channel+"|"+scale
	Wells      []WellResult
}

// StrategySelection is the caller-supplied threshold strategy choice for a
// run, including any manual per-channel overrides.
type StrategySelection struct {
	StrategyID      string
	Scale           Scale
	ManualOverrides map[string]float64 // channel -> value
}

// RunResult is the serialized, external view of a Run (§6).
type RunResult struct {
	RunID string
	Wells []WellResult
}

// WellInput is one (well_id, channel) raw trace plus its sample metadata,
// as supplied by the ingestion layer (§6 RunInput.wells[]).
type WellInput struct {
	WellID     string
	Channel    string
	Cycles     []int
	RFU        []float64
	SampleName string
	TestCode   string
}

// RunInput is the external-facing request to analyze (§6).
type RunInput struct {
	RunID    string
	Wells    []WellInput
	Strategy StrategySelection
}
