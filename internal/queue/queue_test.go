package queue

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

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

func enqueueBuildInput(t *testing.T, s *store.Store, architecture string) int64 {
	t.Helper()
	ctx := context.Background()
	var biID int64
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
		return tx.EnqueueIfAbsent(ctx, bi.ID, PriorityDefault)
	})
	require.NoError(t, err)
	return biID
}

// registerWorker inserts a worker row with the given id, so a claim by that
// id satisfies the foreign key on queued.worker_id.
func registerWorker(t *testing.T, s *store.Store, id int64) {
	t.Helper()
	_, err := s.DB().ExecContext(context.Background(), `INSERT INTO workers (id, key, name) VALUES (?, 'worker-' || ?, 'test')`, id, id)
	require.NoError(t, err)
}

func TestExpandArchitecture(t *testing.T) {
	assert.ElementsMatch(t, []string{"amd64", "x86_64"}, ExpandArchitecture("amd64"))
	assert.ElementsMatch(t, []string{"x86_64", "amd64"}, ExpandArchitecture("x86_64"))
	assert.Equal(t, []string{"riscv64"}, ExpandArchitecture("riscv64"))
}

func TestPriorityForStatus(t *testing.T) {
	bad := store.StatusBad
	good := store.StatusGood
	assert.Equal(t, PriorityRetry, PriorityForStatus(&bad))
	assert.Equal(t, PriorityDefault, PriorityForStatus(&good))
	assert.Equal(t, PriorityDefault, PriorityForStatus(nil))
}

func TestPopClaimsMatchingJob(t *testing.T) {
	s := newTestStore(t)
	enqueueBuildInput(t, s, "amd64")
	registerWorker(t, s, 7)
	d := New(s, 0)

	job, err := d.Pop(context.Background(), 7, []string{"debian"}, []string{"amd64"})
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, int64(7), *job.Queued.WorkerID)
}

func TestPopHonorsArchitectureAlias(t *testing.T) {
	s := newTestStore(t)
	enqueueBuildInput(t, s, "x86_64")
	registerWorker(t, s, 1)
	d := New(s, 0)

	job, err := d.Pop(context.Background(), 1, []string{"debian"}, []string{"amd64"})
	require.NoError(t, err)
	require.NotNil(t, job, "amd64 worker should claim an x86_64 job via alias expansion")
}

func TestPopSkipsMismatchedBackend(t *testing.T) {
	s := newTestStore(t)
	enqueueBuildInput(t, s, "amd64")
	d := New(s, 0)

	job, err := d.Pop(context.Background(), 1, []string{"fedora"}, []string{"amd64"})
	require.NoError(t, err)
	assert.Nil(t, job)
}

func TestPopWontClaimAlreadyClaimedJob(t *testing.T) {
	s := newTestStore(t)
	enqueueBuildInput(t, s, "amd64")
	registerWorker(t, s, 1)
	registerWorker(t, s, 2)
	d := New(s, 0)

	job1, err := d.Pop(context.Background(), 1, []string{"debian"}, []string{"amd64"})
	require.NoError(t, err)
	require.NotNil(t, job1)

	job2, err := d.Pop(context.Background(), 2, []string{"debian"}, []string{"amd64"})
	require.NoError(t, err)
	assert.Nil(t, job2)
}

func TestPopReclaimsStaleJob(t *testing.T) {
	s := newTestStore(t)
	biID := enqueueBuildInput(t, s, "amd64")
	registerWorker(t, s, 1)
	registerWorker(t, s, 2)
	d := New(s, 0)

	job1, err := d.Pop(context.Background(), 1, []string{"debian"}, []string{"amd64"})
	require.NoError(t, err)
	require.NotNil(t, job1)

	stale := time.Now().UTC().Add(-PingDeadline - time.Second)
	_, err = s.DB().ExecContext(context.Background(), `UPDATE queued SET last_ping = ? WHERE build_input_id = ?`, stale, biID)
	require.NoError(t, err)

	job2, err := d.Pop(context.Background(), 2, []string{"debian"}, []string{"amd64"})
	require.NoError(t, err)
	require.NotNil(t, job2, "a job past PingDeadline should be reclaimable by another worker")
	assert.Equal(t, int64(2), *job2.Queued.WorkerID)
}

func TestPopRespectsMaxRetries(t *testing.T) {
	s := newTestStore(t)
	biID := enqueueBuildInput(t, s, "amd64")
	_, err := s.DB().ExecContext(context.Background(), `UPDATE build_inputs SET retries = 3 WHERE id = ?`, biID)
	require.NoError(t, err)

	d := New(s, 3)
	job, err := d.Pop(context.Background(), 1, []string{"debian"}, []string{"amd64"})
	require.NoError(t, err)
	assert.Nil(t, job, "retries == max_retries should exclude the job")
}

func TestPingRequiresOwnership(t *testing.T) {
	s := newTestStore(t)
	enqueueBuildInput(t, s, "amd64")
	registerWorker(t, s, 1)
	registerWorker(t, s, 2)
	d := New(s, 0)

	job, err := d.Pop(context.Background(), 1, []string{"debian"}, []string{"amd64"})
	require.NoError(t, err)
	require.NotNil(t, job)

	require.NoError(t, d.Ping(context.Background(), 1, job.Queued.ID))
	err = d.Ping(context.Background(), 2, job.Queued.ID)
	assert.Error(t, err)
}

func TestNextRetry(t *testing.T) {
	now := time.Now().UTC()
	next := NextRetry(now, 1, 1)
	assert.WithinDuration(t, now.Add(24*time.Hour), next, time.Second)
}
