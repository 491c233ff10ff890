package store

import (
	"context"
	"fmt"
)

// InsertRebuild appends a new Rebuild row and returns its id. Rebuilds are
// append-only; there is no update path.
func (t *Tx) InsertRebuild(ctx context.Context, r *Rebuild) error {
	res, err := t.tx.ExecContext(ctx, `
		INSERT INTO rebuilds (build_input_id, started_at, built_at, build_log_id, status)
		VALUES (?, ?, ?, ?, ?)`,
		r.BuildInputID, r.StartedAt, r.BuiltAt, r.BuildLogID, r.Status)
	if err != nil {
		return fmt.Errorf("insert rebuild: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	r.ID = id
	return nil
}

// InsertRebuildArtifact appends a new RebuildArtifact row.
func (t *Tx) InsertRebuildArtifact(ctx context.Context, a *RebuildArtifact) error {
	res, err := t.tx.ExecContext(ctx, `
		INSERT INTO rebuild_artifacts (rebuild_id, name, diffoscope_log_id, attestation_log_id, status)
		VALUES (?, ?, ?, ?, ?)`,
		a.RebuildID, a.Name, a.DiffoscopeLogID, a.AttestationLogID, a.Status)
	if err != nil {
		return fmt.Errorf("insert rebuild artifact: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	a.ID = id
	return nil
}

// RebuildsForBuildInput lists every Rebuild recorded against buildInputID,
// oldest first, used by the Reconciler's friend-copy phase to replicate a
// sibling's verdict history onto a newly-discovered build input.
func (t *Tx) RebuildsForBuildInput(ctx context.Context, buildInputID int64) ([]Rebuild, error) {
	var rows []Rebuild
	if err := t.tx.SelectContext(ctx, &rows, `
		SELECT * FROM rebuilds WHERE build_input_id = ? ORDER BY id ASC`, buildInputID); err != nil {
		return nil, fmt.Errorf("list rebuilds: %w", err)
	}
	return rows, nil
}

// ArtifactsForRebuild lists every RebuildArtifact recorded against
// rebuildID.
func (t *Tx) ArtifactsForRebuild(ctx context.Context, rebuildID int64) ([]RebuildArtifact, error) {
	var rows []RebuildArtifact
	if err := t.tx.SelectContext(ctx, &rows, `
		SELECT * FROM rebuild_artifacts WHERE rebuild_id = ?`, rebuildID); err != nil {
		return nil, fmt.Errorf("list rebuild artifacts: %w", err)
	}
	return rows, nil
}

// CurrentRebuild returns the "current" rebuild for a build input (greatest
// built_at, tie-broken by greatest id), or nil if none has completed yet.
func (s *Store) CurrentRebuild(ctx context.Context, buildInputID int64) (*Rebuild, error) {
	var r Rebuild
	err := s.db.GetContext(ctx, &r, `
		SELECT r.* FROM rebuilds r
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
		return nil, fmt.Errorf("current rebuild: %w", err)
	}
	return &r, nil
}

// ArtifactsForRebuild is the read-only counterpart for the query surface.
func (s *Store) ArtifactsForRebuild(ctx context.Context, rebuildID int64) ([]RebuildArtifact, error) {
	var rows []RebuildArtifact
	if err := s.db.SelectContext(ctx, &rows, `
		SELECT * FROM rebuild_artifacts WHERE rebuild_id = ?`, rebuildID); err != nil {
		return nil, fmt.Errorf("list rebuild artifacts: %w", err)
	}
	return rows, nil
}
