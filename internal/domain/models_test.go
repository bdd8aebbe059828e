package domain

import "testing"

func TestClass7Constants(t *testing.T) {
	tests := []struct {
		name string
		got  Class7
		want string
	}{
		{"strong positive", ClassStrongPositive, "STRONG_POSITIVE"},
		{"positive", ClassPositive, "POSITIVE"},
		{"weak positive", ClassWeakPositive, "WEAK_POSITIVE"},
		{"indeterminate", ClassIndeterminate, "INDETERMINATE"},
		{"suspicious", ClassSuspicious, "SUSPICIOUS"},
		{"redo", ClassRedo, "REDO"},
		{"negative", ClassNegative, "NEGATIVE"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if string(tt.got) != tt.want {
				t.Errorf("got %q, want %q", tt.got, tt.want)
			}
		})
	}
}

func TestFeatureNamesOrderStable(t *testing.T) {
	if len(FeatureNames) != 30 {
		t.Fatalf("expected 30 feature names, got %d", len(FeatureNames))
	}
	if FeatureNames[0] != "amplitude" {
		t.Errorf("feature 0 must be amplitude, got %q", FeatureNames[0])
	}
	if FeatureNames[18] != "shape_class" {
		t.Errorf("feature 18 must be shape_class (first visual/pattern feature), got %q", FeatureNames[18])
	}
	if FeatureNames[29] != "background_separation" {
		t.Errorf("feature 29 must be background_separation, got %q", FeatureNames[29])
	}
}

func TestFixedThresholdTableLookupFallsThroughToDefault(t *testing.T) {
	table := FixedThresholdTable{
		"FLUA": {
			"FAM":     {ScaleLinear: 265},
			"default": {ScaleLinear: 100, ScaleLog: 2.0},
		},
	}

	v, ok := table.Lookup("FLUA", "FAM", ScaleLinear)
	if !ok || v != 265 {
		t.Errorf("expected exact channel match 265, got %v ok=%v", v, ok)
	}

	v, ok = table.Lookup("FLUA", "HEX", ScaleLinear)
	if !ok || v != 100 {
		t.Errorf("expected default fallback 100, got %v ok=%v", v, ok)
	}

	_, ok = table.Lookup("FLUA", "HEX", ScaleLog)
	if !ok {
		t.Errorf("expected default fallback for log scale to resolve")
	}

	_, ok = table.Lookup("UNKNOWN", "FAM", ScaleLinear)
	if ok {
		t.Errorf("expected unresolved pathogen to return ok=false")
	}
}

func TestClassificationExpertPrecedence(t *testing.T) {
	c := Classification{Method: MethodExpert, Class: ClassIndeterminate}
	if !c.IsExpert() {
		t.Errorf("expected expert classification to report IsExpert()=true")
	}
	rule := Classification{Method: MethodRule, Class: ClassPositive}
	if rule.IsExpert() {
		t.Errorf("expected rule classification to report IsExpert()=false")
	}
}
