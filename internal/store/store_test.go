package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(context.Background(), Config{
		Path:           filepath.Join(dir, "test.db"),
		MaxOpenConns:   1,
		MigrateOnStart: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpenAppliesMigrations(t *testing.T) {
	s := newTestStore(t)
	_, err := s.ListSourcePackages(context.Background(), OriginFilter{}, IdentityFilter{}, false, "", "", "", "", 10)
	require.NoError(t, err)
}

func TestUpsertSourcePackageInsertsThenUpdates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	err := s.WithTx(ctx, func(ctx context.Context, tx *Tx) error {
		sp := &SourcePackage{Name: "curl", Version: "8.0", Distribution: "debian"}
		inserted, err := tx.UpsertSourcePackage(ctx, sp)
		require.NoError(t, err)
		assert.True(t, inserted)
		assert.NotZero(t, sp.ID)
		firstID := sp.ID

		sp2 := &SourcePackage{Name: "curl", Version: "8.0", Distribution: "debian"}
		inserted, err = tx.UpsertSourcePackage(ctx, sp2)
		require.NoError(t, err)
		assert.False(t, inserted)
		assert.Equal(t, firstID, sp2.ID)
		return nil
	})
	require.NoError(t, err)
}

func TestUpsertSourcePackageTreatsNilAndEmptyReleaseTheSame(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	err := s.WithTx(ctx, func(ctx context.Context, tx *Tx) error {
		a := &SourcePackage{Name: "zlib", Version: "1.3", Distribution: "debian", Release: nil}
		_, err := tx.UpsertSourcePackage(ctx, a)
		require.NoError(t, err)

		empty := ""
		b := &SourcePackage{Name: "zlib", Version: "1.3", Distribution: "debian", Release: &empty}
		_, err = tx.UpsertSourcePackage(ctx, b)
		require.NoError(t, err)
		assert.Equal(t, a.ID, b.ID, "nil release and empty-string release are the same identity")
		return nil
	})
	require.NoError(t, err)
}

func TestMarkUnseenAndDropUnclaimed(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	var biID int64
	err := s.WithTx(ctx, func(ctx context.Context, tx *Tx) error {
		sp := &SourcePackage{Name: "curl", Version: "8.0", Distribution: "debian"}
		if _, err := tx.UpsertSourcePackage(ctx, sp); err != nil {
			return err
		}
		bi := &BuildInput{SourcePackageID: sp.ID, URL: "https://example/curl.tar.gz", Backend: "debian", Architecture: "amd64"}
		if err := tx.UpsertBuildInput(ctx, bi); err != nil {
			return err
		}
		biID = bi.ID
		return tx.EnqueueIfAbsent(ctx, bi.ID, 1)
	})
	require.NoError(t, err)

	err = s.WithTx(ctx, func(ctx context.Context, tx *Tx) error {
		if err := tx.MarkUnseen(ctx, "debian", nil, nil, "amd64"); err != nil {
			return err
		}
		return tx.DropUnclaimedQueueEntries(ctx, "debian", nil, nil, "amd64")
	})
	require.NoError(t, err)

	q, err := s.GetQueuedByBuildInput(ctx, biID)
	require.NoError(t, err)
	assert.Nil(t, q, "unclaimed queue entry for an unseen package should be dropped")
}

func TestDropUnclaimedQueueEntriesSparesClaimedJobs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	var biID int64
	err := s.WithTx(ctx, func(ctx context.Context, tx *Tx) error {
		sp := &SourcePackage{Name: "curl", Version: "8.0", Distribution: "debian"}
		if _, err := tx.UpsertSourcePackage(ctx, sp); err != nil {
			return err
		}
		bi := &BuildInput{SourcePackageID: sp.ID, URL: "https://example/curl.tar.gz", Backend: "debian", Architecture: "amd64"}
		if err := tx.UpsertBuildInput(ctx, bi); err != nil {
			return err
		}
		biID = bi.ID
		if err := tx.EnqueueIfAbsent(ctx, bi.ID, 1); err != nil {
			return err
		}
		if _, err := tx.tx.ExecContext(ctx, `INSERT INTO workers (id, key, name) VALUES (1, 'worker-1', 'test')`); err != nil {
			return err
		}
		_, err := tx.tx.ExecContext(ctx, `UPDATE queued SET worker_id = 1, started_at = ?, last_ping = ? WHERE build_input_id = ?`,
			time.Now().UTC(), time.Now().UTC(), bi.ID)
		return err
	})
	require.NoError(t, err)

	err = s.WithTx(ctx, func(ctx context.Context, tx *Tx) error {
		if err := tx.MarkUnseen(ctx, "debian", nil, nil, "amd64"); err != nil {
			return err
		}
		return tx.DropUnclaimedQueueEntries(ctx, "debian", nil, nil, "amd64")
	})
	require.NoError(t, err)

	q, err := s.GetQueuedByBuildInput(ctx, biID)
	require.NoError(t, err)
	require.NotNil(t, q, "claimed queue entries must survive drop-unseen")
}

func TestFriendsOf(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	var biA, biB int64
	err := s.WithTx(ctx, func(ctx context.Context, tx *Tx) error {
		spA := &SourcePackage{Name: "curl", Version: "8.0", Distribution: "debian", Release: nullable("bookworm")}
		if _, err := tx.UpsertSourcePackage(ctx, spA); err != nil {
			return err
		}
		biInputA := &BuildInput{SourcePackageID: spA.ID, URL: "https://example/curl.tar.gz", Backend: "debian", Architecture: "amd64"}
		if err := tx.UpsertBuildInput(ctx, biInputA); err != nil {
			return err
		}
		biA = biInputA.ID

		spB := &SourcePackage{Name: "curl", Version: "8.0", Distribution: "debian", Release: nullable("trixie")}
		if _, err := tx.UpsertSourcePackage(ctx, spB); err != nil {
			return err
		}
		biInputB := &BuildInput{SourcePackageID: spB.ID, URL: "https://example/curl.tar.gz", Backend: "debian", Architecture: "amd64"}
		if err := tx.UpsertBuildInput(ctx, biInputB); err != nil {
			return err
		}
		biB = biInputB.ID
		return nil
	})
	require.NoError(t, err)

	friends, err := s.FriendsOf(ctx, biA)
	require.NoError(t, err)
	require.Len(t, friends, 1)
	assert.Equal(t, biB, friends[0].ID)
}

func TestWorkerGetOrCreateAndTouch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.GetOrCreateWorker(ctx, "worker-1", "anonymous")
	require.NoError(t, err)
	assert.NotZero(t, id)

	again, err := s.GetOrCreateWorker(ctx, "worker-1", "anonymous")
	require.NoError(t, err)
	assert.Equal(t, id, again)

	require.NoError(t, s.TouchWorker(ctx, id))
	w, err := s.GetWorker(ctx, id)
	require.NoError(t, err)
	assert.True(t, w.IsOnline)
	assert.NotNil(t, w.LastPing)
}

func TestCurrentRebuildStatusPicksGreatestBuiltAtThenID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	var biID int64
	var builtAt2 time.Time
	err := s.WithTx(ctx, func(ctx context.Context, tx *Tx) error {
		sp := &SourcePackage{Name: "curl", Version: "8.0", Distribution: "debian"}
		if _, err := tx.UpsertSourcePackage(ctx, sp); err != nil {
			return err
		}
		bi := &BuildInput{SourcePackageID: sp.ID, URL: "https://example/curl.tar.gz", Backend: "debian", Architecture: "amd64"}
		if err := tx.UpsertBuildInput(ctx, bi); err != nil {
			return err
		}
		biID = bi.ID

		logID, err := tx.InsertBuildLog(ctx, []byte("log 1"))
		if err != nil {
			return err
		}
		builtAt := time.Now().UTC().Add(-time.Hour)
		bad := StatusBad
		if err := tx.InsertRebuild(ctx, &Rebuild{BuildInputID: bi.ID, BuiltAt: &builtAt, BuildLogID: logID, Status: &bad}); err != nil {
			return err
		}

		logID2, err := tx.InsertBuildLog(ctx, []byte("log 2"))
		if err != nil {
			return err
		}
		builtAt2 = time.Now().UTC()
		good := StatusGood
		return tx.InsertRebuild(ctx, &Rebuild{BuildInputID: bi.ID, BuiltAt: &builtAt2, BuildLogID: logID2, Status: &good})
	})
	require.NoError(t, err)

	status, err := s.CurrentRebuildStatus(ctx, biID)
	require.NoError(t, err)
	require.NotNil(t, status)
	assert.Equal(t, StatusGood, *status)

	// A later rebuild with the same built_at wins on the greater id.
	err = s.WithTx(ctx, func(ctx context.Context, tx *Tx) error {
		logID3, err := tx.InsertBuildLog(ctx, []byte("log 3"))
		if err != nil {
			return err
		}
		fail := StatusFail
		return tx.InsertRebuild(ctx, &Rebuild{BuildInputID: biID, BuiltAt: &builtAt2, BuildLogID: logID3, Status: &fail})
	})
	require.NoError(t, err)

	status, err = s.CurrentRebuildStatus(ctx, biID)
	require.NoError(t, err)
	require.NotNil(t, status)
	assert.Equal(t, StatusFail, *status)
}
