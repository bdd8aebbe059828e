// Package feedback implements the append-only TrainingExample store
// (§3 invariant 8: "training samples are append-only"), with sqlite and
// postgres backends adapted from the teacher's internal/feedback package.
// Unlike the teacher's Feedback.Save (upsert on normalized_hgvs+cancer_type),
// this store has no update path at all: Append is the only write operation.
package feedback

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/qpcr-scurve/engine/internal/domain"
)

// SQLiteStore implements domain.TrainingStore using an embedded SQLite
// database, for local/offline engine usage.
type SQLiteStore struct {
	db     *sql.DB
	dbPath string
}

// NewSQLiteStore opens (creating if necessary) a SQLite-backed training
// example store at dbPath.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}

	if err := createSQLiteSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &SQLiteStore{db: db, dbPath: dbPath}, nil
}

func createSQLiteSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS training_examples (
		id TEXT PRIMARY KEY,
		test_code TEXT NOT NULL,
		channel TEXT NOT NULL,
		well_id TEXT NOT NULL,
		run_id TEXT NOT NULL,
		features TEXT NOT NULL,
		expert_label TEXT NOT NULL,
		created_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_training_test_code ON training_examples(test_code);
	CREATE INDEX IF NOT EXISTS idx_training_created_at ON training_examples(created_at);
	`
	_, err := db.Exec(schema)
	return err
}

func encodeFeatures(f [30]float64) (string, error) {
	b, err := json.Marshal(f)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeFeatures(s string) ([30]float64, error) {
	var f [30]float64
	err := json.Unmarshal([]byte(s), &f)
	return f, err
}

// Append inserts a new training example row. There is no update path:
// callers that need to correct a label submit a new example instead, and
// the model trains from the whole history including superseded labels.
func (s *SQLiteStore) Append(ctx context.Context, example domain.TrainingExample) error {
	if example.CreatedAt.IsZero() {
		example.CreatedAt = time.Now()
	}
	featuresJSON, err := encodeFeatures(example.Features)
	if err != nil {
		return fmt.Errorf("failed to encode features: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO training_examples (id, test_code, channel, well_id, run_id, features, expert_label, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		example.ID, example.TestCode, example.Channel, example.WellID, example.RunID,
		featuresJSON, string(example.ExpertLabel), example.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append training example: %w", err)
	}
	return nil
}

// List returns every training example for testCode, submission order
// (§5: "Training-example append order equals submission order").
func (s *SQLiteStore) List(ctx context.Context, testCode string) ([]domain.TrainingExample, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, test_code, channel, well_id, run_id, features, expert_label, created_at
		FROM training_examples
		WHERE test_code = ?
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
func (s *SQLiteStore) Count(ctx context.Context, testCode string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM training_examples WHERE test_code = ?", testCode).Scan(&count)
	return count, err
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
