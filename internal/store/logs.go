package store

import (
	"context"
	"fmt"
)

// InsertBuildLog stores a (possibly zstd-compressed) build log blob and
// returns its id.
func (t *Tx) InsertBuildLog(ctx context.Context, content []byte) (int64, error) {
	return insertLog(ctx, t.tx, "build_logs", content)
}

// InsertDiffoscopeLog stores a diffoscope output blob and returns its id.
func (t *Tx) InsertDiffoscopeLog(ctx context.Context, content []byte) (int64, error) {
	return insertLog(ctx, t.tx, "diffoscope_logs", content)
}

// InsertAttestationLog stores an in-toto attestation blob and returns its id.
func (t *Tx) InsertAttestationLog(ctx context.Context, content []byte) (int64, error) {
	return insertLog(ctx, t.tx, "attestation_logs", content)
}

func insertLog(ctx context.Context, q querier, table string, content []byte) (int64, error) {
	res, err := q.ExecContext(ctx, fmt.Sprintf(`INSERT INTO %s (content) VALUES (?)`, table), content)
	if err != nil {
		return 0, fmt.Errorf("insert into %s: %w", table, err)
	}
	return res.LastInsertId()
}

// GetBuildLog fetches a build log's raw (possibly compressed) content.
func (s *Store) GetBuildLog(ctx context.Context, id int64) ([]byte, error) {
	return getLog(ctx, s.db, "build_logs", id)
}

// GetDiffoscopeLog fetches a diffoscope log's raw content.
func (s *Store) GetDiffoscopeLog(ctx context.Context, id int64) ([]byte, error) {
	return getLog(ctx, s.db, "diffoscope_logs", id)
}

// GetAttestationLog fetches an attestation log's raw content.
func (s *Store) GetAttestationLog(ctx context.Context, id int64) ([]byte, error) {
	return getLog(ctx, s.db, "attestation_logs", id)
}

// UpdateAttestationLog overwrites an attestation blob's content, used by the
// query surface's transparent-signing path: a GET that adds the
// coordinator's signature writes the updated envelope back in its own
// short transaction, after reading the blob outside any transaction.
func (t *Tx) UpdateAttestationLog(ctx context.Context, id int64, content []byte) error {
	_, err := t.tx.ExecContext(ctx, `UPDATE attestation_logs SET content = ? WHERE id = ?`, content, id)
	if err != nil {
		return fmt.Errorf("update attestation log %d: %w", id, err)
	}
	return nil
}

// GetAttestationLog is the transactional counterpart of
// Store.GetAttestationLog.
func (t *Tx) GetAttestationLog(ctx context.Context, id int64) ([]byte, error) {
	return getLog(ctx, t.tx, "attestation_logs", id)
}

func getLog(ctx context.Context, q querier, table string, id int64) ([]byte, error) {
	var content []byte
	err := q.GetContext(ctx, &content, fmt.Sprintf(`SELECT content FROM %s WHERE id = ?`, table), id)
	if err != nil {
		return nil, fmt.Errorf("get from %s: %w", table, err)
	}
	return content, nil
}
