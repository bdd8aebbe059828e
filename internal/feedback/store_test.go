package feedback

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/qpcr-scurve/engine/internal/domain"
)

// newSQLMockStore wraps a sqlmock'd *sql.DB in the real PostgresStore type,
// without opening a real network connection, per the teacher's
// go-sqlmock-based unit test style.
func newSQLMockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return newPostgresStore(db), mock
}

func TestAppend_IssuesInsertNoUpdate(t *testing.T) {
	store, mock := newSQLMockStore(t)

	example := domain.TrainingExample{
		ID: "ex-1", TestCode: "NGON", Channel: "FAM", WellID: "A1", RunID: "run-1",
		ExpertLabel: domain.ClassPositive, CreatedAt: time.Now(),
	}

	mock.ExpectExec("INSERT INTO training_examples").
		WithArgs(example.ID, example.TestCode, example.Channel, example.WellID, example.RunID,
			sqlmock.AnyArg(), string(example.ExpertLabel), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := store.Append(context.Background(), example)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCount_ReturnsRowCount(t *testing.T) {
	store, mock := newSQLMockStore(t)

	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM training_examples").
		WithArgs("NGON").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))

	count, err := store.Count(context.Background(), "NGON")
	require.NoError(t, err)
	require.Equal(t, 3, count)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestList_ScansRowsInSubmissionOrder(t *testing.T) {
	store, mock := newSQLMockStore(t)

	var f [30]float64
	f[0] = 1200
	featuresJSON, err := encodeFeatures(f)
	require.NoError(t, err)

	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "test_code", "channel", "well_id", "run_id", "features", "expert_label", "created_at"}).
		AddRow("ex-1", "NGON", "FAM", "A1", "run-1", featuresJSON, string(domain.ClassPositive), now)

	mock.ExpectQuery("SELECT id, test_code, channel, well_id, run_id, features, expert_label, created_at FROM training_examples").
		WithArgs("NGON").
		WillReturnRows(rows)

	examples, err := store.List(context.Background(), "NGON")
	require.NoError(t, err)
	require.Len(t, examples, 1)
	require.Equal(t, "ex-1", examples[0].ID)
	require.Equal(t, domain.ClassPositive, examples[0].ExpertLabel)
	require.Equal(t, f, examples[0].Features)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEncodeDecodeFeaturesRoundTrip(t *testing.T) {
	var f [30]float64
	f[0] = 1200
	f[29] = 0.5

	encoded, err := encodeFeatures(f)
	require.NoError(t, err)

	decoded, err := decodeFeatures(encoded)
	require.NoError(t, err)
	require.Equal(t, f, decoded)
}
