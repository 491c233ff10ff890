package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// nullable converts an empty string to nil so callers can write normal Go
// string fields while the identity index below treats "" and absent the
// same way SQLite's COALESCE(..., '') does.
func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// UpsertSourcePackage inserts or updates a SourcePackage by its identity key
// (name, version, distribution, release, component), always setting
// last_seen to now and seen_in_last_sync to true. It reports whether the
// row was newly inserted, which the Reconciler's friend-copy phase needs.
func (t *Tx) UpsertSourcePackage(ctx context.Context, sp *SourcePackage) (inserted bool, err error) {
	return upsertSourcePackage(ctx, t.tx, sp)
}

func upsertSourcePackage(ctx context.Context, q querier, sp *SourcePackage) (bool, error) {
	now := time.Now().UTC()

	var existingID int64
	err := sqlxGet(ctx, q, &existingID, `
		SELECT id FROM source_packages
		WHERE name = ? AND version = ? AND distribution = ?
		  AND COALESCE(release, '') = COALESCE(?, '')
		  AND COALESCE(component, '') = COALESCE(?, '')`,
		sp.Name, sp.Version, sp.Distribution, sp.Release, sp.Component)

	switch {
	case err == nil:
		sp.ID = existingID
		sp.LastSeen = now
		sp.SeenInLastSync = true
		_, execErr := q.ExecContext(ctx, `
			UPDATE source_packages SET last_seen = ?, seen_in_last_sync = 1 WHERE id = ?`,
			now, existingID)
		return false, execErr
	case isNoRows(err):
		res, execErr := q.ExecContext(ctx, `
			INSERT INTO source_packages
				(name, version, distribution, release, component, last_seen, seen_in_last_sync)
			VALUES (?, ?, ?, ?, ?, ?, 1)`,
			sp.Name, sp.Version, sp.Distribution, sp.Release, sp.Component, now)
		if execErr != nil {
			return false, fmt.Errorf("insert source package: %w", execErr)
		}
		id, idErr := res.LastInsertId()
		if idErr != nil {
			return false, idErr
		}
		sp.ID = id
		sp.LastSeen = now
		sp.SeenInLastSync = true
		return true, nil
	default:
		return false, fmt.Errorf("look up source package identity: %w", err)
	}
}

// MarkUnseen flags every source package in (distribution, release,
// component) scope that has at least one build input at architecture as
// seen_in_last_sync = false. Called at the start of Reconciler.Apply.
func (t *Tx) MarkUnseen(ctx context.Context, distribution string, release, component *string, architecture string) error {
	_, err := t.tx.ExecContext(ctx, `
		UPDATE source_packages SET seen_in_last_sync = 0
		WHERE distribution = ?
		  AND COALESCE(release, '') = COALESCE(?, '')
		  AND COALESCE(component, '') = COALESCE(?, '')
		  AND id IN (
		      SELECT DISTINCT source_package_id FROM build_inputs WHERE architecture = ?
		  )`,
		distribution, release, component, architecture)
	if err != nil {
		return fmt.Errorf("mark unseen: %w", err)
	}
	return nil
}

// GetSourcePackage fetches a source package by id.
func (s *Store) GetSourcePackage(ctx context.Context, id int64) (*SourcePackage, error) {
	var sp SourcePackage
	if err := s.db.GetContext(ctx, &sp, `SELECT * FROM source_packages WHERE id = ?`, id); err != nil {
		if isNoRows(err) {
			return nil, sql.ErrNoRows
		}
		return nil, fmt.Errorf("get source package: %w", err)
	}
	return &sp, nil
}

// sqlxGet is a tiny indirection so upsert helpers can use GetContext through
// the querier interface without sqlx's named-struct scanning, which the
// interface's minimal surface does not expose.
func sqlxGet(ctx context.Context, q querier, dest interface{}, query string, args ...interface{}) error {
	return q.GetContext(ctx, dest, query, args...)
}
