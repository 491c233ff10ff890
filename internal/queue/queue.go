// Package queue implements the job queue and dispatch state machine: claim
// ordering, liveness pings, stale reclamation, and retry back-off.
package queue

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/r3e-network/rebuildverify/internal/apperrors"
	"github.com/r3e-network/rebuildverify/internal/store"
)

// Well-known priorities. Lower sorts sooner.
const (
	PriorityDefault = 1
	PriorityManual  = PriorityDefault - 1
	PriorityRetry   = PriorityDefault + 1
)

// IdleDelay is how long a worker may hold a claimed job without pinging it.
const IdleDelay = 180 * time.Second

// PingDeadline is the wall-clock interval after which an unclaimed-but-started
// queue entry is considered abandoned and reclaimed.
const PingDeadline = IdleDelay + 20*time.Second

// archAliases pairs every architecture name with its reflexive alias.
var archAliases = map[string]string{
	"x86":         "i386",
	"i386":        "x86",
	"x86_64":      "amd64",
	"amd64":       "x86_64",
	"aarch64":     "arm64",
	"arm64":       "aarch64",
	"powerpc64":   "ppc64",
	"ppc64":       "powerpc64",
}

// ExpandArchitecture returns arch together with its alias, if any. Unknown
// architecture names are passed through verbatim with no alias.
func ExpandArchitecture(arch string) []string {
	if alias, ok := archAliases[arch]; ok {
		return []string{arch, alias}
	}
	return []string{arch}
}

// PriorityForStatus is the Reconciler's enqueue priority rule: default+1 if
// the build input's current status is Bad, else default.
func PriorityForStatus(status *store.RebuildStatus) int {
	if status != nil && *status == store.StatusBad {
		return PriorityRetry
	}
	return PriorityDefault
}

// NextRetry computes the next retry instant for a build input after its
// retries counter has been incremented to retriesAfter, per spec.md §4.6:
// now + retry_delay_base * retriesAfter * 24h.
func NextRetry(now time.Time, retryDelayBase, retriesAfter int) time.Time {
	return now.Add(time.Duration(retryDelayBase) * time.Duration(retriesAfter) * 24 * time.Hour)
}

// Job is a claimed (or claimable) unit of work, joined with its source
// package and expected binary packages for the worker's benefit.
type Job struct {
	Queued      store.Queued      `json:"queued"`
	BuildInput  store.BuildInput  `json:"build_input"`
	Source      store.SourcePackage `json:"source_package"`
	BinaryNames []string          `json:"binary_names"`
}

// Dispatcher implements the claim/ping protocol (spec.md §4.6) against the
// raw connection, since the ordering query (architecture alias expansion,
// RANDOM() tiebreak) doesn't fit the per-entity helpers in internal/store.
type Dispatcher struct {
	db         *sqlx.DB
	maxRetries int // 0 means unlimited
}

// New builds a Dispatcher. maxRetries of 0 means unlimited, per spec.md §6.
func New(st *store.Store, maxRetries int) *Dispatcher {
	return &Dispatcher{db: st.DB(), maxRetries: maxRetries}
}

// Pop reclaims stale jobs and then claims the highest-priority eligible job
// for worker, or returns (nil, nil) if none is available.
func (d *Dispatcher) Pop(ctx context.Context, workerID int64, supportedBackends, supportedArchitectures []string) (*Job, error) {
	var job *Job
	err := runTx(ctx, d.db, func(tx *sqlx.Tx) error {
		if err := reclaimStale(ctx, tx); err != nil {
			return err
		}

		archs := expandAll(supportedArchitectures)
		if len(archs) == 0 || len(supportedBackends) == 0 {
			return nil
		}

		query, args, err := sqlx.In(`
			SELECT q.* FROM queued q
			JOIN build_inputs bi ON bi.id = q.build_input_id
			WHERE q.worker_id IS NULL
			  AND bi.architecture IN (?)
			  AND bi.backend IN (?)
			  AND (bi.next_retry IS NULL OR bi.next_retry <= ?)
			  AND (? <= 0 OR bi.retries < ?)
			ORDER BY q.priority ASC, date(q.queued_at) ASC, RANDOM()
			LIMIT 1`,
			archs, supportedBackends, time.Now().UTC(), d.maxRetries, d.maxRetries)
		if err != nil {
			return fmt.Errorf("build dispatch query: %w", err)
		}

		var q store.Queued
		if err := tx.GetContext(ctx, &q, tx.Rebind(query), args...); err != nil {
			if err == sql.ErrNoRows {
				return nil
			}
			return fmt.Errorf("select dispatch candidate: %w", err)
		}

		now := time.Now().UTC()
		if _, err := tx.ExecContext(ctx, `
			UPDATE queued SET worker_id = ?, started_at = ?, last_ping = ? WHERE id = ?`,
			workerID, now, now, q.ID); err != nil {
			return fmt.Errorf("claim queue entry %d: %w", q.ID, err)
		}
		q.WorkerID = &workerID
		q.StartedAt = &now
		q.LastPing = &now

		var bi store.BuildInput
		if err := tx.GetContext(ctx, &bi, `SELECT * FROM build_inputs WHERE id = ?`, q.BuildInputID); err != nil {
			return fmt.Errorf("load build input %d: %w", q.BuildInputID, err)
		}
		var sp store.SourcePackage
		if err := tx.GetContext(ctx, &sp, `SELECT * FROM source_packages WHERE id = ?`, bi.SourcePackageID); err != nil {
			return fmt.Errorf("load source package %d: %w", bi.SourcePackageID, err)
		}
		var names []string
		if err := tx.SelectContext(ctx, &names, `SELECT name FROM binary_packages WHERE build_input_id = ?`, bi.ID); err != nil {
			return fmt.Errorf("load binary package names: %w", err)
		}

		statusStr := fmt.Sprintf("working on %s %s", sp.Name, sp.Version)
		if _, err := tx.ExecContext(ctx, `
			UPDATE workers SET is_online = 1, last_ping = ?, status = ? WHERE id = ?`,
			now, statusStr, workerID); err != nil {
			return fmt.Errorf("update worker status: %w", err)
		}

		job = &Job{Queued: q, BuildInput: bi, Source: sp, BinaryNames: names}
		return nil
	})
	return job, err
}

// Ping bumps last_ping for queuedID iff it is currently claimed by workerID.
func (d *Dispatcher) Ping(ctx context.Context, workerID, queuedID int64) error {
	res, err := d.db.ExecContext(ctx, `
		UPDATE queued SET last_ping = ? WHERE id = ? AND worker_id = ?`,
		time.Now().UTC(), queuedID, workerID)
	if err != nil {
		return apperrors.Storage("ping queue entry", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return apperrors.Storage("ping queue entry", err)
	}
	if n == 0 {
		return apperrors.Conflict("queue entry is not claimed by this worker")
	}
	return nil
}

// reclaimStale clears (worker_id, started_at, last_ping) on every queue
// entry whose last_ping predates PingDeadline, making it claimable again.
func reclaimStale(ctx context.Context, tx *sqlx.Tx) error {
	deadline := time.Now().UTC().Add(-PingDeadline)
	_, err := tx.ExecContext(ctx, `
		UPDATE queued SET worker_id = NULL, started_at = NULL, last_ping = NULL
		WHERE worker_id IS NOT NULL AND last_ping < ?`, deadline)
	if err != nil {
		return fmt.Errorf("reclaim stale jobs: %w", err)
	}
	return nil
}

func expandAll(archs []string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, a := range archs {
		for _, e := range ExpandArchitecture(a) {
			if _, ok := seen[e]; !ok {
				seen[e] = struct{}{}
				out = append(out, e)
			}
		}
	}
	return out
}

func runTx(ctx context.Context, db *sqlx.DB, fn func(tx *sqlx.Tx) error) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("%w (rollback also failed: %v)", err, rbErr)
		}
		return err
	}
	return tx.Commit()
}
