package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// DB exposes the underlying connection for internal/queue's dispatch query,
// which needs architecture-alias expansion and a RANDOM() tiebreaker that
// don't fit the per-entity helpers in this package.
func (s *Store) DB() *sqlx.DB { return s.db }

// EnqueueIfAbsent upserts a Queued row for buildInputID, no-op if one
// already exists (spec.md §4.5: "duplicate attempts no-op").
func (t *Tx) EnqueueIfAbsent(ctx context.Context, buildInputID int64, priority int) error {
	var existingID int64
	err := t.tx.GetContext(ctx, &existingID, `SELECT id FROM queued WHERE build_input_id = ?`, buildInputID)
	if err == nil {
		return nil
	}
	if !isNoRows(err) {
		return fmt.Errorf("look up queue entry: %w", err)
	}
	_, err = t.tx.ExecContext(ctx, `
		INSERT INTO queued (build_input_id, priority, queued_at, worker_id, started_at, last_ping)
		VALUES (?, ?, ?, NULL, NULL, NULL)`,
		buildInputID, priority, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("enqueue build input %d: %w", buildInputID, err)
	}
	return nil
}

// EnqueueIfAbsent is the standalone counterpart that runs in its own
// transaction, used by the admin manual-requeue endpoint.
func (s *Store) EnqueueIfAbsent(ctx context.Context, buildInputID int64, priority int) error {
	return s.WithTx(ctx, func(ctx context.Context, tx *Tx) error {
		return tx.EnqueueIfAbsent(ctx, buildInputID, priority)
	})
}

// ListQueued returns every Queued row, most eligible first.
func (s *Store) ListQueued(ctx context.Context) ([]Queued, error) {
	var rows []Queued
	if err := s.db.SelectContext(ctx, &rows, `
		SELECT * FROM queued ORDER BY priority ASC, queued_at ASC`); err != nil {
		return nil, fmt.Errorf("list queued: %w", err)
	}
	return rows, nil
}

// CurrentRebuildStatus returns the status of the "current" rebuild for
// buildInputID (greatest built_at, tie-broken by greatest id), or nil if no
// completed rebuild exists yet.
func (t *Tx) CurrentRebuildStatus(ctx context.Context, buildInputID int64) (*RebuildStatus, error) {
	return currentRebuildStatus(ctx, t.tx, buildInputID)
}

// CurrentRebuildStatus is the read-only counterpart for the query surface.
func (s *Store) CurrentRebuildStatus(ctx context.Context, buildInputID int64) (*RebuildStatus, error) {
	return currentRebuildStatus(ctx, s.db, buildInputID)
}

func currentRebuildStatus(ctx context.Context, q querier, buildInputID int64) (*RebuildStatus, error) {
	var status sql.NullString
	err := q.GetContext(ctx, &status, `
		SELECT r.status FROM rebuilds r
		WHERE r.build_input_id = ?
		  AND NOT EXISTS (
		      SELECT 1 FROM rebuilds r2
		      WHERE r2.build_input_id = r.build_input_id
		        AND (r2.built_at > r.built_at OR (r2.built_at = r.built_at AND r2.id > r.id))
		  )
		ORDER BY r.built_at DESC, r.id DESC
		LIMIT 1`,
		buildInputID)
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("current rebuild status: %w", err)
	}
	if !status.Valid {
		return nil, nil
	}
	s := RebuildStatus(status.String)
	return &s, nil
}

// DropUnclaimedQueueEntries deletes every Queued row whose build input
// belongs to an unseen source package in the given scope and which has not
// been claimed by a worker (spec.md §4.5 drop-unseen phase).
func (t *Tx) DropUnclaimedQueueEntries(ctx context.Context, distribution string, release, component *string, architecture string) error {
	_, err := t.tx.ExecContext(ctx, `
		DELETE FROM queued WHERE worker_id IS NULL AND build_input_id IN (
			SELECT bi.id FROM build_inputs bi
			JOIN source_packages sp ON sp.id = bi.source_package_id
			WHERE sp.seen_in_last_sync = 0
			  AND sp.distribution = ?
			  AND COALESCE(sp.release, '') = COALESCE(?, '')
			  AND COALESCE(sp.component, '') = COALESCE(?, '')
			  AND bi.architecture = ?
		)`,
		distribution, release, component, architecture)
	if err != nil {
		return fmt.Errorf("drop unseen queue entries: %w", err)
	}
	return nil
}

// GetQueued fetches a Queued row by id, transactionally.
func (t *Tx) GetQueued(ctx context.Context, id int64) (*Queued, error) {
	var q Queued
	err := t.tx.GetContext(ctx, &q, `SELECT * FROM queued WHERE id = ?`, id)
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get queued entry %d: %w", id, err)
	}
	return &q, nil
}

// DeleteQueued removes a Queued row by id, transactionally.
func (t *Tx) DeleteQueued(ctx context.Context, id int64) error {
	if _, err := t.tx.ExecContext(ctx, `DELETE FROM queued WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete queued entry %d: %w", id, err)
	}
	return nil
}

// GetQueuedByBuildInput fetches the Queued row for a build input, if any.
func (s *Store) GetQueuedByBuildInput(ctx context.Context, buildInputID int64) (*Queued, error) {
	var q Queued
	err := s.db.GetContext(ctx, &q, `SELECT * FROM queued WHERE build_input_id = ?`, buildInputID)
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get queued entry: %w", err)
	}
	return &q, nil
}

// DeleteQueued removes a Queued row by id, used by the admin drop endpoint.
// Report ingestion deletes through Tx.DeleteQueued instead.
func (s *Store) DeleteQueued(ctx context.Context, id int64) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM queued WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete queued entry %d: %w", id, err)
	}
	return nil
}
