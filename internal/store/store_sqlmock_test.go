package store

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// WithTx's commit-failure branch can't be reached with a real sqlite file —
// SQLite only refuses a commit under contention or corruption, neither of
// which a test can force deterministically. sqlmock lets us assert the
// wrapping behavior directly instead.
func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return &Store{db: sqlx.NewDb(db, "sqlmock")}, mock
}

func TestWithTxRollsBackOnFnError(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectRollback()

	wantErr := errors.New("fn failed")
	err := s.WithTx(context.Background(), func(ctx context.Context, tx *Tx) error {
		return wantErr
	})

	assert.ErrorIs(t, err, wantErr)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTxWrapsCommitFailure(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectCommit().WillReturnError(errors.New("disk I/O error"))

	err := s.WithTx(context.Background(), func(ctx context.Context, tx *Tx) error {
		return nil
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "commit transaction")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTxReportsRollbackFailureAlongsideOriginalError(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectRollback().WillReturnError(errors.New("connection gone"))

	wantErr := errors.New("fn failed")
	err := s.WithTx(context.Background(), func(ctx context.Context, tx *Tx) error {
		return wantErr
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, wantErr)
	assert.Contains(t, err.Error(), "rollback also failed")
	assert.NoError(t, mock.ExpectationsWereMet())
}
