package feedback

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/qpcr-scurve/engine/internal/domain"
)

// PostgresStore implements domain.TrainingStore against Postgres via
// database/sql + lib/pq, mirroring the teacher's feedback/postgres.go
// connection-pool tuning while dropping its upsert semantics in favor of
// append-only inserts.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStoreFromURL opens a pooled Postgres connection and ensures
// the training_examples schema exists.
func NewPostgresStoreFromURL(databaseURL string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := createPostgresSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return newPostgresStore(db), nil
}

// newPostgresStore wraps an already-opened *sql.DB, letting tests drive the
// real PostgresStore methods against a sqlmock'd DB instead of a hand
// duplicated reimplementation.
func newPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func createPostgresSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS training_examples (
		id TEXT PRIMARY KEY,
		test_code TEXT NOT NULL,
		channel TEXT NOT NULL,
		well_id TEXT NOT NULL,
		run_id TEXT NOT NULL,
		features JSONB NOT NULL,
		expert_label TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);

	CREATE INDEX IF NOT EXISTS idx_training_examples_test_code ON training_examples(test_code);
	CREATE INDEX IF NOT EXISTS idx_training_examples_created_at ON training_examples(created_at);
	`
	_, err := db.Exec(schema)
	return err
}

// Append inserts a new, immutable training example row. No ON CONFLICT
// clause exists here by design — the table has no natural unique key to
// conflict on, since every submission (even a relabel of the same well) is
// kept as its own historical row.
func (s *PostgresStore) Append(ctx context.Context, example domain.TrainingExample) error {
	if example.CreatedAt.IsZero() {
		example.CreatedAt = time.Now()
	}
	featuresJSON, err := encodeFeatures(example.Features)
	if err != nil {
		return fmt.Errorf("failed to encode features: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO training_examples (id, test_code, channel, well_id, run_id, features, expert_label, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`,
		example.ID, example.TestCode, example.Channel, example.WellID, example.RunID,
		featuresJSON, string(example.ExpertLabel), example.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append training example: %w", err)
	}
	return nil
}

// List returns every training example for testCode in submission order.
func (s *PostgresStore) List(ctx context.Context, testCode string) ([]domain.TrainingExample, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, test_code, channel, well_id, run_id, features, expert_label, created_at
		FROM training_examples
		WHERE test_code = $1
		ORDER BY created_at ASC
	`, testCode)
	if err != nil {
		return nil, fmt.Errorf("failed to query training examples: %w", err)
	}
	defer rows.Close()

	var out []domain.TrainingExample
	for rows.Next() {
		var ex domain.TrainingExample
		var featuresJSON, label string
		if err := rows.Scan(&ex.ID, &ex.TestCode, &ex.Channel, &ex.WellID, &ex.RunID, &featuresJSON, &label, &ex.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan training example: %w", err)
		}
		ex.Features, err = decodeFeatures(featuresJSON)
		if err != nil {
			return nil, fmt.Errorf("failed to decode features: %w", err)
		}
		ex.ExpertLabel = domain.Class7(label)
		out = append(out, ex)
	}
	return out, rows.Err()
}

// Count returns the number of training examples for testCode.
func (s *PostgresStore) Count(ctx context.Context, testCode string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM training_examples WHERE test_code = $1", testCode).Scan(&count)
	return count, err
}

// Close releases the underlying connection pool.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
