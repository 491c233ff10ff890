package store

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// WorkerByKey implements auth.WorkerStore: returns the id of the worker
// registered under key, or registered=false if none exists.
func (s *Store) WorkerByKey(ctx context.Context, key string) (int64, bool, error) {
	var id int64
	err := s.db.GetContext(ctx, &id, `SELECT id FROM workers WHERE key = ?`, key)
	if isNoRows(err) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("look up worker by key: %w", err)
	}
	return id, true, nil
}

// TouchWorker implements auth.WorkerStore: bumps last_ping and marks the
// worker online.
func (s *Store) TouchWorker(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE workers SET last_ping = ?, is_online = 1 WHERE id = ?`, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("touch worker %d: %w", id, err)
	}
	return nil
}

// GetOrCreateWorker implements auth.WorkerStore: returns the id of the
// worker registered under key, registering it under name if absent.
func (s *Store) GetOrCreateWorker(ctx context.Context, key, name string) (int64, error) {
	if id, ok, err := s.WorkerByKey(ctx, key); err != nil {
		return 0, err
	} else if ok {
		return id, nil
	}
	return s.RegisterWorker(ctx, key, name)
}

// RegisterWorker inserts a brand-new worker row, used by the /workers/signup
// handler once internal/auth.Signup has authorized the caller.
func (s *Store) RegisterWorker(ctx context.Context, key, name string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO workers (key, name, address, status, last_ping, is_online, supported_backends, supported_architectures)
		VALUES (?, ?, '', NULL, ?, 1, '', '')`,
		key, name, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("register worker %q: %w", key, err)
	}
	return res.LastInsertId()
}

// GetWorker fetches a worker by id.
func (s *Store) GetWorker(ctx context.Context, id int64) (*Worker, error) {
	var w Worker
	if err := s.db.GetContext(ctx, &w, `SELECT * FROM workers WHERE id = ?`, id); err != nil {
		return nil, fmt.Errorf("get worker %d: %w", id, err)
	}
	return &w, nil
}

// ListWorkers returns every registered worker.
func (s *Store) ListWorkers(ctx context.Context) ([]Worker, error) {
	var rows []Worker
	if err := s.db.SelectContext(ctx, &rows, `SELECT * FROM workers ORDER BY id ASC`); err != nil {
		return nil, fmt.Errorf("list workers: %w", err)
	}
	return rows, nil
}

// DeleteWorker removes a worker row by id, used by the admin-gated
// DELETE /workers/{id} deregistration endpoint (spec.md §6).
func (s *Store) DeleteWorker(ctx context.Context, id int64) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM workers WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete worker %d: %w", id, err)
	}
	return nil
}

// UpdateWorkerCapabilities sets the backends/architectures a worker
// supports, stored as comma-joined lists.
func (s *Store) UpdateWorkerCapabilities(ctx context.Context, id int64, backends, architectures []string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE workers SET supported_backends = ?, supported_architectures = ? WHERE id = ?`,
		strings.Join(backends, ","), strings.Join(architectures, ","), id)
	if err != nil {
		return fmt.Errorf("update worker %d capabilities: %w", id, err)
	}
	return nil
}

// ClearWorkerStatus blanks a worker's free-form status string, transactionally,
// once a rebuild report has been accepted (spec.md §4.7 step 8).
func (t *Tx) ClearWorkerStatus(ctx context.Context, id int64) error {
	_, err := t.tx.ExecContext(ctx, `UPDATE workers SET status = NULL WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("clear worker %d status: %w", id, err)
	}
	return nil
}

// SetWorkerStatus updates a worker's free-form status string. The
// dispatcher does not use it: Pop writes "working on <name> <version>"
// with its own statement inside the claim transaction.
func (s *Store) SetWorkerStatus(ctx context.Context, id int64, status string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE workers SET status = ? WHERE id = ?`, status, id)
	if err != nil {
		return fmt.Errorf("set worker %d status: %w", id, err)
	}
	return nil
}

// SplitCapabilities parses a worker's comma-joined supported_backends or
// supported_architectures column back into a slice.
func SplitCapabilities(column string) []string {
	if column == "" {
		return nil
	}
	return strings.Split(column, ",")
}
