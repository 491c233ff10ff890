// Package reconcile implements the package-inventory reconciliation engine:
// ingest a PackageReport, upsert source/binary packages, decide what needs
// (re)building, enqueue work, and drop jobs that no longer apply — all in
// one transaction.
package reconcile

import (
	"context"
	"fmt"

	"github.com/r3e-network/rebuildverify/internal/queue"
	"github.com/r3e-network/rebuildverify/internal/store"
)

// Reconciler applies PackageReports against the store.
type Reconciler struct {
	store *store.Store
}

// New builds a Reconciler over st.
func New(st *store.Store) *Reconciler {
	return &Reconciler{store: st}
}

// Apply executes the full reconciliation contract (spec.md §4.5) inside one
// transaction: mark-unseen, upsert, friend-copy, enqueue, drop-unseen. Any
// error aborts the whole report, leaving the database at its pre-call state.
func (r *Reconciler) Apply(ctx context.Context, report PackageReport) error {
	return r.store.WithTx(ctx, func(ctx context.Context, tx *store.Tx) error {
		if err := tx.MarkUnseen(ctx, report.Distribution, report.Release, report.Component, report.Architecture); err != nil {
			return fmt.Errorf("mark-unseen phase: %w", err)
		}

		for _, pkg := range report.Packages {
			if err := r.upsertOne(ctx, tx, report, pkg); err != nil {
				return fmt.Errorf("upsert package %s %s: %w", pkg.Name, pkg.Version, err)
			}
		}

		if err := tx.DropUnclaimedQueueEntries(ctx, report.Distribution, report.Release, report.Component, report.Architecture); err != nil {
			return fmt.Errorf("drop-unseen phase: %w", err)
		}
		return nil
	})
}

func (r *Reconciler) upsertOne(ctx context.Context, tx *store.Tx, report PackageReport, pkg SourcePackageReport) error {
	sp := &store.SourcePackage{
		Name:         pkg.Name,
		Version:      pkg.Version,
		Distribution: report.Distribution,
		Release:      report.Release,
		Component:    report.Component,
	}
	newSourcePackage, err := tx.UpsertSourcePackage(ctx, sp)
	if err != nil {
		return fmt.Errorf("upsert source package: %w", err)
	}

	bi := &store.BuildInput{
		SourcePackageID: sp.ID,
		URL:             pkg.URL,
		Backend:         report.Distribution,
		Architecture:    report.Architecture,
	}
	if err := tx.UpsertBuildInput(ctx, bi); err != nil {
		return fmt.Errorf("upsert build input: %w", err)
	}

	for _, bin := range pkg.Binary {
		bp := &store.BinaryPackage{
			SourcePackageID: sp.ID,
			BuildInputID:    bi.ID,
			Name:            bin.Name,
			Version:         bin.Version,
			Architecture:    bin.Architecture,
			ArtifactURL:     bin.URL,
		}
		if err := tx.UpsertBinaryPackage(ctx, bp); err != nil {
			return fmt.Errorf("upsert binary package %s: %w", bin.Name, err)
		}
	}

	if newSourcePackage {
		if err := r.copyFriendRebuilds(ctx, tx, bi.ID); err != nil {
			return fmt.Errorf("friend-copy phase: %w", err)
		}
	}

	return r.applyEnqueuePolicy(ctx, tx, bi.ID)
}

// copyFriendRebuilds lets a package newly discovered at this identity
// inherit an existing verdict history from a sibling build input that
// shares (url, backend, architecture), so a package copied between
// releases/components doesn't need an extra worker trip.
func (r *Reconciler) copyFriendRebuilds(ctx context.Context, tx *store.Tx, buildInputID int64) error {
	friends, err := tx.FriendsOf(ctx, buildInputID)
	if err != nil {
		return err
	}
	if len(friends) == 0 {
		return nil
	}
	// Any one friend's history is representative; friend-copy only runs
	// for a build input that was just created, so it has no history yet.
	sibling := friends[0]

	rebuilds, err := tx.RebuildsForBuildInput(ctx, sibling.ID)
	if err != nil {
		return err
	}
	for _, rb := range rebuilds {
		artifacts, err := tx.ArtifactsForRebuild(ctx, rb.ID)
		if err != nil {
			return err
		}
		newRebuild := &store.Rebuild{
			BuildInputID: buildInputID,
			StartedAt:    rb.StartedAt,
			BuiltAt:      rb.BuiltAt,
			BuildLogID:   rb.BuildLogID,
			Status:       rb.Status,
		}
		if err := tx.InsertRebuild(ctx, newRebuild); err != nil {
			return err
		}
		for _, a := range artifacts {
			newArtifact := &store.RebuildArtifact{
				RebuildID:        newRebuild.ID,
				Name:             a.Name,
				DiffoscopeLogID:  a.DiffoscopeLogID,
				AttestationLogID: a.AttestationLogID,
				Status:           a.Status,
			}
			if err := tx.InsertRebuildArtifact(ctx, newArtifact); err != nil {
				return err
			}
		}
	}
	return nil
}

// applyEnqueuePolicy enqueues buildInputID iff its current rebuild status is
// not Good and no friend already has a queue entry.
func (r *Reconciler) applyEnqueuePolicy(ctx context.Context, tx *store.Tx, buildInputID int64) error {
	status, err := tx.CurrentRebuildStatus(ctx, buildInputID)
	if err != nil {
		return err
	}
	if status != nil && *status == store.StatusGood {
		return nil
	}

	friendQueued, err := tx.AnyFriendQueued(ctx, buildInputID)
	if err != nil {
		return err
	}
	if friendQueued {
		return nil
	}

	return tx.EnqueueIfAbsent(ctx, buildInputID, queue.PriorityForStatus(status))
}
