package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// UpsertBuildInput inserts or updates a BuildInput by its identity key
// (source_package_id, url, backend, architecture), resetting retries to 0
// and clearing next_retry as spec.md's Reconciler upsert phase requires.
func (t *Tx) UpsertBuildInput(ctx context.Context, bi *BuildInput) error {
	var existingID int64
	err := t.tx.GetContext(ctx, &existingID, `
		SELECT id FROM build_inputs
		WHERE source_package_id = ? AND url = ? AND backend = ? AND architecture = ?`,
		bi.SourcePackageID, bi.URL, bi.Backend, bi.Architecture)

	switch {
	case err == nil:
		bi.ID = existingID
		bi.Retries = 0
		bi.NextRetry = nil
		_, execErr := t.tx.ExecContext(ctx, `
			UPDATE build_inputs SET retries = 0, next_retry = NULL WHERE id = ?`, existingID)
		return execErr
	case isNoRows(err):
		res, execErr := t.tx.ExecContext(ctx, `
			INSERT INTO build_inputs (source_package_id, url, backend, architecture, retries, next_retry)
			VALUES (?, ?, ?, ?, 0, NULL)`,
			bi.SourcePackageID, bi.URL, bi.Backend, bi.Architecture)
		if execErr != nil {
			return fmt.Errorf("insert build input: %w", execErr)
		}
		id, idErr := res.LastInsertId()
		if idErr != nil {
			return idErr
		}
		bi.ID = id
		bi.Retries = 0
		bi.NextRetry = nil
		return nil
	default:
		return fmt.Errorf("look up build input identity: %w", err)
	}
}

// FriendsOf returns every BuildInput sharing (url, backend, architecture)
// with buildInputID, excluding buildInputID itself. The friend relation
// (spec.md §3 invariant 4) is derived at query time, never stored.
func (t *Tx) FriendsOf(ctx context.Context, buildInputID int64) ([]BuildInput, error) {
	var self BuildInput
	if err := t.tx.GetContext(ctx, &self, `SELECT * FROM build_inputs WHERE id = ?`, buildInputID); err != nil {
		return nil, fmt.Errorf("load build input %d: %w", buildInputID, err)
	}
	return friendsOf(ctx, t.tx, self)
}

// FriendsOf is the read-only counterpart used outside a Reconciler
// transaction (e.g. by the query surface).
func (s *Store) FriendsOf(ctx context.Context, buildInputID int64) ([]BuildInput, error) {
	var self BuildInput
	if err := s.db.GetContext(ctx, &self, `SELECT * FROM build_inputs WHERE id = ?`, buildInputID); err != nil {
		if isNoRows(err) {
			return nil, sql.ErrNoRows
		}
		return nil, fmt.Errorf("load build input %d: %w", buildInputID, err)
	}
	return friendsOf(ctx, s.db, self)
}

func friendsOf(ctx context.Context, q querier, self BuildInput) ([]BuildInput, error) {
	var rows []BuildInput
	err := q.SelectContext(ctx, &rows, `
		SELECT * FROM build_inputs
		WHERE url = ? AND backend = ? AND architecture = ? AND id != ?`,
		self.URL, self.Backend, self.Architecture, self.ID)
	if err != nil {
		return nil, fmt.Errorf("select friends: %w", err)
	}
	return rows, nil
}

// GetBuildInput fetches a build input by id, transactionally.
func (t *Tx) GetBuildInput(ctx context.Context, id int64) (*BuildInput, error) {
	var bi BuildInput
	if err := t.tx.GetContext(ctx, &bi, `SELECT * FROM build_inputs WHERE id = ?`, id); err != nil {
		return nil, fmt.Errorf("get build input %d: %w", id, err)
	}
	return &bi, nil
}

// GetBuildInput fetches a build input by id.
func (s *Store) GetBuildInput(ctx context.Context, id int64) (*BuildInput, error) {
	var bi BuildInput
	if err := s.db.GetContext(ctx, &bi, `SELECT * FROM build_inputs WHERE id = ?`, id); err != nil {
		if isNoRows(err) {
			return nil, sql.ErrNoRows
		}
		return nil, fmt.Errorf("get build input %d: %w", id, err)
	}
	return &bi, nil
}

// IncrementRetriesAndScheduleRetry bumps retries by 1 and sets next_retry,
// per spec.md §4.6's back-off rule. Callers pass the already-computed
// instant (internal/queue.NextRetry).
func (t *Tx) IncrementRetriesAndScheduleRetry(ctx context.Context, buildInputID int64, nextRetry time.Time) error {
	_, err := t.tx.ExecContext(ctx, `
		UPDATE build_inputs SET retries = retries + 1, next_retry = ? WHERE id = ?`,
		nextRetry, buildInputID)
	if err != nil {
		return fmt.Errorf("schedule retry for build input %d: %w", buildInputID, err)
	}
	return nil
}

// ClearRetries resets retries and next_retry to their zero state, per
// spec.md §4.6: "A Good report clears both fields."
func (t *Tx) ClearRetries(ctx context.Context, buildInputID int64) error {
	_, err := t.tx.ExecContext(ctx, `
		UPDATE build_inputs SET retries = 0, next_retry = NULL WHERE id = ?`, buildInputID)
	if err != nil {
		return fmt.Errorf("clear retries for build input %d: %w", buildInputID, err)
	}
	return nil
}

// AnyFriendQueued reports whether any friend of buildInputID already has a
// Queued row, used by the Reconciler's enqueue policy.
func (t *Tx) AnyFriendQueued(ctx context.Context, buildInputID int64) (bool, error) {
	friends, err := t.FriendsOf(ctx, buildInputID)
	if err != nil {
		return false, err
	}
	if len(friends) == 0 {
		return false, nil
	}
	ids := make([]int64, len(friends))
	for i, f := range friends {
		ids[i] = f.ID
	}
	query, args, err := sqlx.In(`SELECT COUNT(*) FROM queued WHERE build_input_id IN (?)`, ids)
	if err != nil {
		return false, fmt.Errorf("build friend queue query: %w", err)
	}
	var count int
	if err := t.tx.GetContext(ctx, &count, t.tx.Rebind(query), args...); err != nil {
		return false, fmt.Errorf("count friend queue entries: %w", err)
	}
	return count > 0, nil
}
