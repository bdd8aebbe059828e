package domain

import "context"

// PathogenLibraryLoader supplies the pathogen library configuration blob.
// It stands in for the teacher's external knowledge-base clients: the
// qPCR spec's "external collaborator" for assay configuration. Wrapped by
// a circuit breaker in internal/orchestrator so a slow/flaky loader cannot
// hang analyze.
type PathogenLibraryLoader interface {
	Load(ctx context.Context) (PathogenLibrary, error)
}

// FixedThresholdLoader supplies PATHOGEN_FIXED_THRESHOLDS. Same resilience
// treatment as PathogenLibraryLoader.
type FixedThresholdLoader interface {
	Load(ctx context.Context) (FixedThresholdTable, error)
}

// MLConfigLoader supplies the ML gating configuration blob.
type MLConfigLoader interface {
	Load(ctx context.Context) (MLConfig, error)
}

// TrainingStore is the append-only persistence surface for TrainingExample
// rows, implemented by internal/feedback's sqlite and postgres backends.
type TrainingStore interface {
	Append(ctx context.Context, example TrainingExample) error
	List(ctx context.Context, testCode string) ([]TrainingExample, error)
	Count(ctx context.Context, testCode string) (int, error)
	Close() error
}

// ModelRegistry is the read-mostly MLModel registry surface the
// orchestrator and mlclassifier package depend on (§5: "readers never
// block writers").
type ModelRegistry interface {
	Current(testCode string) (MLModel, bool)
	Versions(testCode string) []MLModel
	Train(ctx context.Context, testCode string, examples []TrainingExample) (MLModel, error)
}

// MLPredictor is the narrow per-well prediction surface batch_ml_reclassify
// needs, separated from ModelRegistry so orchestrator test doubles can
// stub prediction without implementing the full registry.
type MLPredictor interface {
	Predict(testCode, channel string, features [30]float64) (class Class7, confidence float64, version string, ok bool, engErr *EngineError)
}
