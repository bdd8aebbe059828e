// Package classifier implements the Rule Classifier (RC): a weighted
// multi-criteria scorer, grounded directly on the teacher's
// ACMGAMPRuleEngine.CombineEvidence shape (accumulate independent weighted
// criteria into category counters, then reduce via banded/combinatorial
// rules rather than a cascade of hard cutoffs).
package classifier

import (
	"github.com/sirupsen/logrus"

	"github.com/qpcr-scurve/engine/internal/domain"
)

// ruleCriterion is the qPCR analogue of the teacher's ACMGRule{Code, Name,
// Category, Strength, Evaluator} struct-of-evaluator-functions pattern.
type ruleCriterion struct {
	Name     string
	Evaluate func(in Input) (fires bool, weight float64, negative bool, suspiciousBias bool, strongBias bool, reason string)
}

// Input bundles everything one well needs for rule classification.
type Input struct {
	Fit       domain.FitResult
	Anomalies []domain.AnomalyFlag
	Amplitude float64
}

func hasAnomaly(anomalies []domain.AnomalyFlag, flag domain.AnomalyFlag) bool {
	for _, a := range anomalies {
		if a == flag {
			return true
		}
	}
	return false
}

// RuleEngine evaluates the §4.6 weighted criteria table and reduces it to
// a Classification.
type RuleEngine struct {
	logger   *logrus.Logger
	criteria []ruleCriterion
}

// NewRuleEngine constructs a RuleEngine with the binding criteria table
// from spec §4.6, mirroring the teacher's NewACMGAMPRuleEngine's
// initializeRules() call in its constructor.
func NewRuleEngine(logger *logrus.Logger) *RuleEngine {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	e := &RuleEngine{logger: logger}
	e.initializeCriteria()
	return e
}

func (e *RuleEngine) initializeCriteria() {
	e.criteria = []ruleCriterion{
		{"r2_gt_0.95", func(in Input) (bool, float64, bool, bool, bool, string) {
			return in.Fit.R2 > 0.95, 20, false, false, false, ""
		}},
		{"r2_gt_0.85", func(in Input) (bool, float64, bool, bool, bool, string) {
			return in.Fit.R2 > 0.85 && !(in.Fit.R2 > 0.95), 10, false, false, false, ""
		}},
		{"k_gt_0.4", func(in Input) (bool, float64, bool, bool, bool, string) {
			return in.Fit.K > 0.4, 15, false, false, false, ""
		}},
		{"snr_gt_15", func(in Input) (bool, float64, bool, bool, bool, string) {
			return in.Fit.SNR > 15, 15, false, false, false, ""
		}},
		{"snr_gt_8", func(in Input) (bool, float64, bool, bool, bool, string) {
			return in.Fit.SNR > 8 && !(in.Fit.SNR > 15), 10, false, false, false, ""
		}},
		{"snr_lt_2", func(in Input) (bool, float64, bool, bool, bool, string) {
			return in.Fit.SNR < 2, 15, true, false, false, ""
		}},
		{"amplitude_gt_1000", func(in Input) (bool, float64, bool, bool, bool, string) {
			return in.Amplitude > 1000, 15, false, false, true, ""
		}},
		{"amplitude_lt_100", func(in Input) (bool, float64, bool, bool, bool, string) {
			return in.Amplitude < 100, 20, true, false, false, ""
		}},
		{"midpoint_impossible", func(in Input) (bool, float64, bool, bool, bool, string) {
			fires := in.Fit.X0 < 5 || in.Fit.X0 > 50
			return fires, 25, true, false, false, "impossible Cq"
		}},
		{"anomaly_plateau_or_negamp", func(in Input) (bool, float64, bool, bool, bool, string) {
			fires := hasAnomaly(in.Anomalies, domain.AnomalyEarlyPlateau) || hasAnomaly(in.Anomalies, domain.AnomalyNegativeAmplification)
			return fires, 20, true, false, false, ""
		}},
		{"anomaly_high_noise", func(in Input) (bool, float64, bool, bool, bool, string) {
			return hasAnomaly(in.Anomalies, domain.AnomalyHighNoise), 0, false, true, false, ""
		}},
		{"artifact_k_high_snr_low", func(in Input) (bool, float64, bool, bool, bool, string) {
			return in.Fit.K > 1.0 && in.Fit.SNR < 5, 0, false, true, false, ""
		}},
	}
}

// score is the net tally the criteria table accumulates, the qPCR
// analogue of the teacher's CombineEvidence pathogenic/benign counters.
type score struct {
	positive   float64
	negative   float64
	suspicious bool
	strongBias bool
	reasons    []string
}

func (e *RuleEngine) evaluate(in Input) score {
	var s score
	for _, c := range e.criteria {
		fires, weight, negative, suspiciousBias, strongBias, reason := c.Evaluate(in)
		if !fires {
			continue
		}
		if negative {
			s.negative += weight
		} else {
			s.positive += weight
		}
		if suspiciousBias {
			s.suspicious = true
		}
		if strongBias {
			s.strongBias = true
		}
		if reason != "" {
			s.reasons = append(s.reasons, reason)
		}
	}
	return s
}

// overrideProtected reports whether the override-protection rule engages:
// r2>=0.95 and k>=0.4 forbids NEGATIVE regardless of amplitude.
func overrideProtected(fit domain.FitResult) bool {
	return fit.R2 >= 0.95 && fit.K >= 0.4
}

func forceRedo(fit domain.FitResult, amplitude float64, anomalies []domain.AnomalyFlag) bool {
	if amplitude >= 400 && amplitude <= 500 {
		return true
	}
	if fit.IsGoodSCurve && amplitude > 500 && len(anomalies) > 0 {
		return true
	}
	return false
}

// Classify reduces the weighted criteria table into a seven-class
// Classification plus the strict three-class summary (§4.6).
func (e *RuleEngine) Classify(runID, wellID string, in Input) domain.Classification {
	log := e.logger.WithFields(logrus.Fields{"run_id": runID, "well_id": wellID, "component": "classifier"})

	s := e.evaluate(in)
	net := s.positive - s.negative

	class := bandClass(net)
	reason := "weighted criteria evaluation"
	if len(s.reasons) > 0 {
		reason = s.reasons[0]
	}

	if forceRedo(in.Fit, in.Amplitude, in.Anomalies) {
		class = domain.ClassRedo
		reason = "redo: amplitude/anomaly combination requires repeat"
	} else if s.suspicious {
		// Open Question resolution: SUSPICIOUS pre-empts STRONG_POSITIVE
		// when both biases fire (recorded in DESIGN.md).
		class = domain.ClassSuspicious
		reason = "suspicious: conflicting evidence (high noise or low-SNR artifact)"
	} else if s.strongBias && class != domain.ClassNegative {
		class = domain.ClassStrongPositive
	}

	if class == domain.ClassNegative && overrideProtected(in.Fit) {
		class = domain.ClassWeakPositive
		reason = "override protection: excellent shape cannot be classified negative"
	}

	if class == domain.ClassNegative && reason == "weighted criteria evaluation" {
		reason = "does not meet criteria"
	}

	summary := summarize(in.Fit, in.Amplitude, in.Anomalies)

	log.WithFields(logrus.Fields{"class": class, "summary": summary, "net_score": net}).Debug("rule classification complete")

	return domain.Classification{
		Class:   class,
		Summary: summary,
		Method:  domain.MethodRule,
		Reason:  reason,
	}
}

func bandClass(net float64) domain.Class7 {
	switch {
	case net >= 80:
		return domain.ClassStrongPositive
	case net >= 50:
		return domain.ClassPositive
	case net >= 25:
		return domain.ClassWeakPositive
	case net >= 10:
		return domain.ClassIndeterminate
	default:
		return domain.ClassNegative
	}
}

// summarize computes the strict POS/NEG/REDO three-class summary per
// §4.6, independent of the seven-class reduction above.
func summarize(fit domain.FitResult, amplitude float64, anomalies []domain.AnomalyFlag) domain.Summary3 {
	cqIsNaN := !fit.IsGoodSCurve && fit.X0 == 0 && fit.L == 0
	if amplitude < 400 || !fit.IsGoodSCurve || cqIsNaN {
		return domain.SummaryNegative
	}
	if fit.IsGoodSCurve && amplitude > 500 && len(anomalies) == 0 {
		return domain.SummaryPositive
	}
	return domain.SummaryRedo
}
