// Package ingest implements the build-result ingestion pipeline: accept a
// worker's rebuild report, stream-compress logs, parse in-toto attestations,
// fan results out to friend build inputs, and apply the retry policy.
package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/r3e-network/rebuildverify/internal/apperrors"
	"github.com/r3e-network/rebuildverify/internal/attestation"
	"github.com/r3e-network/rebuildverify/internal/compress"
	"github.com/r3e-network/rebuildverify/internal/queue"
	"github.com/r3e-network/rebuildverify/internal/store"
)

// Ingester consumes RebuildReports against the store.
type Ingester struct {
	store          *store.Store
	retryDelayBase int
}

// New builds an Ingester. retryDelayBase is the configured schedule.retry_delay_base.
func New(st *store.Store, retryDelayBase int) *Ingester {
	return &Ingester{store: st, retryDelayBase: retryDelayBase}
}

// Submit applies a RebuildReport (spec.md §4.7), entirely inside one
// transaction except for the (idempotent) blob compression, which happens
// first.
func (in *Ingester) Submit(ctx context.Context, workerID int64, report RebuildReport) error {
	compressedBuildLog, err := compress.Compress(ctx, report.BuildLog)
	if err != nil {
		return apperrors.Upstream("compress build log", err)
	}

	compressedArtifacts := make([]compressedArtifact, len(report.Artifacts))
	for i, a := range report.Artifacts {
		ca := compressedArtifact{source: a}
		if a.Diffoscope != nil {
			cd, err := compress.Compress(ctx, a.Diffoscope)
			if err != nil {
				return apperrors.Upstream("compress diffoscope log", err)
			}
			ca.diffoscope = cd
		}
		if a.Attestation != nil {
			if _, err := attestation.Parse(a.Attestation); err != nil {
				return apperrors.ValidationError(fmt.Sprintf("artifact %s: malformed attestation: %v", a.Name, err))
			}
			ct, err := compress.Compress(ctx, a.Attestation)
			if err != nil {
				return apperrors.Upstream("compress attestation", err)
			}
			ca.attestation = ct
		}
		compressedArtifacts[i] = ca
	}

	return in.store.WithTx(ctx, func(ctx context.Context, tx *store.Tx) error {
		q, err := tx.GetQueued(ctx, report.QueueID)
		if err != nil {
			return err
		}
		if q == nil {
			return apperrors.NotFound("queue entry", report.QueueID)
		}
		if q.WorkerID == nil || *q.WorkerID != workerID {
			return apperrors.Conflict("queue entry is not claimed by this worker")
		}

		self, err := tx.GetBuildInput(ctx, q.BuildInputID)
		if err != nil {
			return err
		}
		friends, err := tx.FriendsOf(ctx, q.BuildInputID)
		if err != nil {
			return err
		}
		targets := append([]store.BuildInput{*self}, friends...)

		buildLogID, err := tx.InsertBuildLog(ctx, compressedBuildLog)
		if err != nil {
			return fmt.Errorf("insert build log: %w", err)
		}

		status := report.Status
		rebuildIDs := make(map[int64]int64, len(targets))
		for _, bi := range targets {
			rb := &store.Rebuild{
				BuildInputID: bi.ID,
				StartedAt:    q.StartedAt,
				BuiltAt:      &report.BuiltAt,
				BuildLogID:   buildLogID,
				Status:       &status,
			}
			if err := tx.InsertRebuild(ctx, rb); err != nil {
				return fmt.Errorf("insert rebuild for build input %d: %w", bi.ID, err)
			}
			rebuildIDs[bi.ID] = rb.ID
		}

		for _, ca := range compressedArtifacts {
			var diffoscopeLogID, attestationLogID *int64
			if ca.diffoscope != nil {
				id, err := tx.InsertDiffoscopeLog(ctx, ca.diffoscope)
				if err != nil {
					return fmt.Errorf("insert diffoscope log: %w", err)
				}
				diffoscopeLogID = &id
			}
			if ca.attestation != nil {
				id, err := tx.InsertAttestationLog(ctx, ca.attestation)
				if err != nil {
					return fmt.Errorf("insert attestation log: %w", err)
				}
				attestationLogID = &id
			}

			artifactStatus := ca.source.Status
			for _, bi := range targets {
				artifact := &store.RebuildArtifact{
					RebuildID:        rebuildIDs[bi.ID],
					Name:             ca.source.Name,
					DiffoscopeLogID:  diffoscopeLogID,
					AttestationLogID: attestationLogID,
					Status:           &artifactStatus,
				}
				if err := tx.InsertRebuildArtifact(ctx, artifact); err != nil {
					return fmt.Errorf("insert rebuild artifact %s for build input %d: %w", ca.source.Name, bi.ID, err)
				}
			}
		}

		if err := tx.DeleteQueued(ctx, report.QueueID); err != nil {
			return err
		}

		if status == store.StatusGood {
			if err := tx.ClearRetries(ctx, self.ID); err != nil {
				return err
			}
		} else {
			nextRetry := queue.NextRetry(time.Now().UTC(), in.retryDelayBase, self.Retries+1)
			if err := tx.IncrementRetriesAndScheduleRetry(ctx, self.ID, nextRetry); err != nil {
				return err
			}
			if err := tx.EnqueueIfAbsent(ctx, self.ID, queue.PriorityRetry); err != nil {
				return err
			}
		}

		return tx.ClearWorkerStatus(ctx, workerID)
	})
}

type compressedArtifact struct {
	source      RebuildArtifactReport
	diffoscope  []byte
	attestation []byte
}
