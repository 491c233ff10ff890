package store

import (
	"context"
	"fmt"
)

// CreateTag inserts a new Tag, or returns the existing one's id if the name
// is already taken.
func (s *Store) CreateTag(ctx context.Context, name string) (int64, error) {
	var id int64
	err := s.db.GetContext(ctx, &id, `SELECT id FROM tags WHERE name = ?`, name)
	if err == nil {
		return id, nil
	}
	if !isNoRows(err) {
		return 0, fmt.Errorf("look up tag %q: %w", name, err)
	}
	res, err := s.db.ExecContext(ctx, `INSERT INTO tags (name) VALUES (?)`, name)
	if err != nil {
		return 0, fmt.Errorf("insert tag %q: %w", name, err)
	}
	return res.LastInsertId()
}

// ListTags returns every tag.
func (s *Store) ListTags(ctx context.Context) ([]Tag, error) {
	var rows []Tag
	if err := s.db.SelectContext(ctx, &rows, `SELECT * FROM tags ORDER BY id ASC`); err != nil {
		return nil, fmt.Errorf("list tags: %w", err)
	}
	return rows, nil
}

// AssignWorkerTag associates tagID with workerID, no-op if already assigned.
func (s *Store) AssignWorkerTag(ctx context.Context, workerID, tagID int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO worker_tags (worker_id, tag_id) VALUES (?, ?)`, workerID, tagID)
	if err != nil {
		return fmt.Errorf("assign tag %d to worker %d: %w", tagID, workerID, err)
	}
	return nil
}

// TagsForWorker lists every tag assigned to a worker.
func (s *Store) TagsForWorker(ctx context.Context, workerID int64) ([]Tag, error) {
	var rows []Tag
	err := s.db.SelectContext(ctx, &rows, `
		SELECT t.* FROM tags t
		JOIN worker_tags wt ON wt.tag_id = t.id
		WHERE wt.worker_id = ?`, workerID)
	if err != nil {
		return nil, fmt.Errorf("list tags for worker %d: %w", workerID, err)
	}
	return rows, nil
}

// CreateSourcePackageTagRule inserts a rule assigning tagID to every source
// package whose name matches namePattern (and, if set, distribution).
func (s *Store) CreateSourcePackageTagRule(ctx context.Context, tagID int64, namePattern string, distribution *string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO source_package_tag_rules (tag_id, name_pattern, distribution) VALUES (?, ?, ?)`,
		tagID, namePattern, distribution)
	if err != nil {
		return 0, fmt.Errorf("insert source package tag rule: %w", err)
	}
	return res.LastInsertId()
}

// ListSourcePackageTagRules returns every rule for a tag.
func (s *Store) ListSourcePackageTagRules(ctx context.Context, tagID int64) ([]SourcePackageTagRule, error) {
	var rows []SourcePackageTagRule
	err := s.db.SelectContext(ctx, &rows, `
		SELECT * FROM source_package_tag_rules WHERE tag_id = ?`, tagID)
	if err != nil {
		return nil, fmt.Errorf("list source package tag rules: %w", err)
	}
	return rows, nil
}
