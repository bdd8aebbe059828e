package domain

import "fmt"

// AnomalyConfig carries the tunable thresholds the Anomaly Detector needs
// beyond the closed enumeration in §4.2. PlateauSlopeEpsilon resolves Open
// Question 2 (the "plateau-before-midpoint" slope epsilon for EARLY_PLATEAU).
type AnomalyConfig struct {
	PlateauSlopeEpsilon float64
}

// DefaultAnomalyConfig matches the spec's resolved default of 1.0 RFU/cycle.
func DefaultAnomalyConfig() AnomalyConfig {
	return AnomalyConfig{PlateauSlopeEpsilon: 1.0}
}

// LogScaleEpsilon resolves Open Question 3: the epsilon used for
// log10(max(rfu, epsilon)) in log-scale CQJ computation.
const LogScaleEpsilon = 1e-3

// FixedThresholdTable is PATHOGEN_FIXED_THRESHOLDS[pathogen][channel][scale].
// The "default" channel is the documented fallback per pathogen.
type FixedThresholdTable map[string]map[string]map[Scale]float64

// Lookup resolves a fixed threshold with fallthrough to the pathogen's
// "default" channel entry, per §4.4. ok is false when neither resolves.
func (t FixedThresholdTable) Lookup(pathogen, channel string, scale Scale) (float64, bool) {
	byChannel, ok := t[pathogen]
	if !ok {
		return 0, false
	}
	if byScale, ok := byChannel[channel]; ok {
		if v, ok := byScale[scale]; ok {
			return v, true
		}
	}
	if byScale, ok := byChannel["default"]; ok {
		if v, ok := byScale[scale]; ok {
			return v, true
		}
	}
	return 0, false
}

// Validate checks structural well-formedness at load time (§9: "disallow
// silent fallthrough except where specified").
func (t FixedThresholdTable) Validate() error {
	for pathogen, channels := range t {
		for channel, scales := range channels {
			for scale, value := range scales {
				if scale != ScaleLinear && scale != ScaleLog {
					return fmt.Errorf("fixed threshold table: %s/%s: unknown scale %q", pathogen, channel, scale)
				}
				if value <= 0 {
					return fmt.Errorf("fixed threshold table: %s/%s/%s: value must be > 0, got %v", pathogen, channel, scale, value)
				}
			}
		}
	}
	return nil
}

// PathogenLibrary is the mapping test_code -> PathogenProfile (§6).
type PathogenLibrary map[string]PathogenProfile

// Validate checks every profile has at least one channel and every channel
// has a target_name. It does not check for H and L control concentrations.
func (lib PathogenLibrary) Validate() error {
	for testCode, profile := range lib {
		if len(profile.Channels) == 0 {
			return fmt.Errorf("pathogen library: %s: no channels defined", testCode)
		}
		for channel, cp := range profile.Channels {
			if cp.TargetName == "" {
				return fmt.Errorf("pathogen library: %s/%s: missing target_name", testCode, channel)
			}
		}
	}
	return nil
}

// ChannelMLConfig is the per-(pathogen, channel) ML gating policy (§6).
type ChannelMLConfig struct {
	MLEnabled      bool
	MinConfidence  float64
	TrainingLocked bool
}

// MLConfig is the system-wide and per-(pathogen, channel) ML configuration.
type MLConfig struct {
	GlobalEnabled         bool
	MinTrainingExamples   int // default 10, informational threshold
	PredictionGate        int // effective gate for prediction, 20 per spec §4.7
	AutoTrainingEnabled   bool
	ResetProtectionEnabled bool
	PerChannel            map[string]ChannelMLConfig // keyed by pathogen+"|"+channel
}

// DefaultMLConfig matches the spec §6 defaults.
func DefaultMLConfig() MLConfig {
	return MLConfig{
		GlobalEnabled:          true,
		MinTrainingExamples:    10,
		PredictionGate:         20,
		AutoTrainingEnabled:    true,
		ResetProtectionEnabled: true,
		PerChannel:             map[string]ChannelMLConfig{},
	}
}

func mlConfigKey(pathogen, channel string) string { return pathogen + "|" + channel }

// ForChannel resolves the per-(pathogen,channel) config, falling back to a
// disabled-by-default zero value when no entry exists.
func (c MLConfig) ForChannel(pathogen, channel string) ChannelMLConfig {
	if cfg, ok := c.PerChannel[mlConfigKey(pathogen, channel)]; ok {
		return cfg
	}
	return ChannelMLConfig{MLEnabled: false, MinConfidence: 0.7}
}

// Validate enforces min_training_examples >= 0 and that every per-channel
// min_confidence is a probability in [0,1].
func (c MLConfig) Validate() error {
	if c.MinTrainingExamples < 0 {
		return fmt.Errorf("ml config: min_training_examples must be >= 0")
	}
	for key, cfg := range c.PerChannel {
		if cfg.MinConfidence < 0 || cfg.MinConfidence > 1 {
			return fmt.Errorf("ml config: %s: min_confidence must be in [0,1], got %v", key, cfg.MinConfidence)
		}
	}
	return nil
}

// TrainingMilestones is the closed set of sample-count thresholds that
// trigger a retrain after an expert feedback submission (§4.7).
var TrainingMilestones = []int{20, 50, 100, 200}
