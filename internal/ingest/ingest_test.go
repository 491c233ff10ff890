package ingest

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/r3e-network/rebuildverify/internal/queue"
	"github.com/r3e-network/rebuildverify/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	dir := t.TempDir()
	s, err := store.Open(context.Background(), store.Config{
		Path:           filepath.Join(dir, "test.db"),
		MaxOpenConns:   1,
		MigrateOnStart: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// seedClaimedJob creates a source package, build input, enqueues it,
// registers workerID and claims the job for it, returning the build input
// and queue entry ids.
func seedClaimedJob(t *testing.T, s *store.Store, workerID int64, architecture string) (biID, queuedID int64) {
	t.Helper()
	ctx := context.Background()
	err := s.WithTx(ctx, func(ctx context.Context, tx *store.Tx) error {
		sp := &store.SourcePackage{Name: "curl", Version: "8.0", Distribution: "debian"}
		if _, err := tx.UpsertSourcePackage(ctx, sp); err != nil {
			return err
		}
		bi := &store.BuildInput{SourcePackageID: sp.ID, URL: "https://example/curl.tar.gz", Backend: "debian", Architecture: architecture}
		if err := tx.UpsertBuildInput(ctx, bi); err != nil {
			return err
		}
		biID = bi.ID
		bp := &store.BinaryPackage{SourcePackageID: sp.ID, BuildInputID: bi.ID, Name: "curl", Version: "8.0", Architecture: architecture, ArtifactURL: "https://example/curl.deb"}
		if err := tx.UpsertBinaryPackage(ctx, bp); err != nil {
			return err
		}
		return tx.EnqueueIfAbsent(ctx, bi.ID, queue.PriorityDefault)
	})
	require.NoError(t, err)

	_, err = s.DB().ExecContext(ctx, `INSERT INTO workers (id, key, name) VALUES (?, 'worker-' || ?, 'test')`, workerID, workerID)
	require.NoError(t, err)

	d := queue.New(s, 0)
	job, err := d.Pop(ctx, workerID, []string{"debian"}, []string{architecture})
	require.NoError(t, err)
	require.NotNil(t, job)
	return biID, job.Queued.ID
}

func TestSubmitGoodReportClearsQueueAndRetries(t *testing.T) {
	s := newTestStore(t)
	biID, queuedID := seedClaimedJob(t, s, 1, "amd64")
	in := New(s, 1)

	err := in.Submit(context.Background(), 1, RebuildReport{
		QueueID:  queuedID,
		BuiltAt:  time.Now().UTC(),
		BuildLog: []byte("build succeeded"),
		Status:   store.StatusGood,
		Artifacts: []RebuildArtifactReport{
			{Name: "curl", Status: store.ArtifactGood},
		},
	})
	require.NoError(t, err)

	q, err := s.GetQueuedByBuildInput(context.Background(), biID)
	require.NoError(t, err)
	assert.Nil(t, q)

	rb, err := s.CurrentRebuild(context.Background(), biID)
	require.NoError(t, err)
	require.NotNil(t, rb)
	assert.Equal(t, store.StatusGood, *rb.Status)

	artifacts, err := s.ArtifactsForRebuild(context.Background(), rb.ID)
	require.NoError(t, err)
	require.Len(t, artifacts, 1)
	assert.Equal(t, store.ArtifactGood, *artifacts[0].Status)
}

func TestSubmitBadReportSchedulesRetry(t *testing.T) {
	s := newTestStore(t)
	biID, queuedID := seedClaimedJob(t, s, 1, "amd64")
	in := New(s, 1)

	err := in.Submit(context.Background(), 1, RebuildReport{
		QueueID:  queuedID,
		BuiltAt:  time.Now().UTC(),
		BuildLog: []byte("build failed"),
		Status:   store.StatusBad,
		Artifacts: []RebuildArtifactReport{
			{Name: "curl", Status: store.ArtifactBad},
		},
	})
	require.NoError(t, err)

	q, err := s.GetQueuedByBuildInput(context.Background(), biID)
	require.NoError(t, err)
	require.NotNil(t, q, "a non-Good report must leave a fresh retry entry")
	assert.Equal(t, queue.PriorityRetry, q.Priority)

	bi, err := s.GetBuildInput(context.Background(), biID)
	require.NoError(t, err)
	assert.Equal(t, 1, bi.Retries)
	require.NotNil(t, bi.NextRetry)
}

func TestSubmitRejectsWrongWorker(t *testing.T) {
	s := newTestStore(t)
	_, queuedID := seedClaimedJob(t, s, 1, "amd64")
	in := New(s, 1)

	err := in.Submit(context.Background(), 2, RebuildReport{
		QueueID:  queuedID,
		BuiltAt:  time.Now().UTC(),
		BuildLog: []byte("build succeeded"),
		Status:   store.StatusGood,
	})
	require.Error(t, err)
}

func TestSubmitRejectsUnknownQueueID(t *testing.T) {
	s := newTestStore(t)
	in := New(s, 1)

	err := in.Submit(context.Background(), 1, RebuildReport{
		QueueID:  999,
		BuiltAt:  time.Now().UTC(),
		BuildLog: []byte("build succeeded"),
		Status:   store.StatusGood,
	})
	require.Error(t, err)
}

func TestSubmitRejectsMalformedAttestation(t *testing.T) {
	s := newTestStore(t)
	biID, queuedID := seedClaimedJob(t, s, 1, "amd64")
	in := New(s, 1)

	err := in.Submit(context.Background(), 1, RebuildReport{
		QueueID:  queuedID,
		BuiltAt:  time.Now().UTC(),
		BuildLog: []byte("build succeeded"),
		Status:   store.StatusGood,
		Artifacts: []RebuildArtifactReport{
			{Name: "curl", Status: store.ArtifactGood, Attestation: []byte("not json")},
		},
	})
	require.Error(t, err)

	// The attestation is rejected before any write, so the claimed queue
	// entry is still in place.
	q, err := s.GetQueuedByBuildInput(context.Background(), biID)
	require.NoError(t, err)
	require.NotNil(t, q, "a rejected report must leave the queue entry untouched")
}
