package reconcile

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

func strPtr(s string) *string { return &s }

func basicReport() PackageReport {
	return PackageReport{
		Distribution: "debian",
		Release:      strPtr("bookworm"),
		Architecture: "amd64",
		Packages: []SourcePackageReport{
			{
				Name: "curl", Version: "8.0", URL: "https://example/curl.tar.gz",
				Binary: []BinaryPackageReport{
					{Name: "curl", Version: "8.0", Architecture: "amd64", URL: "https://example/curl.deb"},
				},
			},
		},
	}
}

func TestApplyUpsertsAndEnqueues(t *testing.T) {
	s := newTestStore(t)
	r := New(s)
	ctx := context.Background()

	require.NoError(t, r.Apply(ctx, basicReport()))

	page, err := s.ListSourcePackages(ctx, store.OriginFilter{}, store.IdentityFilter{}, false, "id", "asc", "", "", 10)
	require.NoError(t, err)
	rows := page.Items
	require.Len(t, rows, 1)
	assert.Equal(t, "curl", rows[0].Name)
	assert.True(t, rows[0].SeenInLastSync)

	biID := mustBuildInputID(t, s, rows[0].ID)
	bis, err := s.FriendsOf(ctx, biID)
	require.NoError(t, err)
	assert.Empty(t, bis)

	q, err := s.GetQueuedByBuildInput(ctx, biID)
	require.NoError(t, err)
	require.NotNil(t, q, "a new build input with no rebuild must be enqueued")
}

func mustBuildInputID(t *testing.T, s *store.Store, sourcePackageID int64) int64 {
	t.Helper()
	var id int64
	err := s.DB().Get(&id, `SELECT id FROM build_inputs WHERE source_package_id = ?`, sourcePackageID)
	require.NoError(t, err)
	return id
}

func TestApplyReenqueuesOnSecondReportWhenNotGood(t *testing.T) {
	s := newTestStore(t)
	r := New(s)
	ctx := context.Background()

	require.NoError(t, r.Apply(ctx, basicReport()))
	require.NoError(t, r.Apply(ctx, basicReport()))

	sp, err := s.GetSourcePackage(ctx, 1)
	require.NoError(t, err)
	biID := mustBuildInputID(t, s, sp.ID)

	q, err := s.GetQueuedByBuildInput(ctx, biID)
	require.NoError(t, err)
	require.NotNil(t, q, "duplicate upserts onto Queued must no-op, not duplicate")
}

func TestApplyDoesNotEnqueueWhenCurrentStatusIsGood(t *testing.T) {
	s := newTestStore(t)
	r := New(s)
	ctx := context.Background()

	require.NoError(t, r.Apply(ctx, basicReport()))

	sp, err := s.GetSourcePackage(ctx, 1)
	require.NoError(t, err)
	biID := mustBuildInputID(t, s, sp.ID)

	require.NoError(t, s.DeleteQueued(ctx, mustQueuedID(t, s, biID)))

	err = s.WithTx(ctx, func(ctx context.Context, tx *store.Tx) error {
		logID, err := tx.InsertBuildLog(ctx, []byte("ok"))
		if err != nil {
			return err
		}
		builtAt := time.Now().UTC()
		good := store.StatusGood
		return tx.InsertRebuild(ctx, &store.Rebuild{BuildInputID: biID, BuiltAt: &builtAt, BuildLogID: logID, Status: &good})
	})
	require.NoError(t, err)

	require.NoError(t, r.Apply(ctx, basicReport()))

	q, err := s.GetQueuedByBuildInput(ctx, biID)
	require.NoError(t, err)
	assert.Nil(t, q, "a build input with a Good current status should not be re-enqueued")
}

func mustQueuedID(t *testing.T, s *store.Store, buildInputID int64) int64 {
	t.Helper()
	q, err := s.GetQueuedByBuildInput(context.Background(), buildInputID)
	require.NoError(t, err)
	require.NotNil(t, q)
	return q.ID
}

func TestApplyDropsUnseenUnclaimedQueueEntries(t *testing.T) {
	s := newTestStore(t)
	r := New(s)
	ctx := context.Background()

	require.NoError(t, r.Apply(ctx, basicReport()))

	empty := PackageReport{Distribution: "debian", Release: strPtr("bookworm"), Architecture: "amd64"}
	require.NoError(t, r.Apply(ctx, empty))

	sp, err := s.GetSourcePackage(ctx, 1)
	require.NoError(t, err)
	assert.False(t, sp.SeenInLastSync)

	biID := mustBuildInputID(t, s, sp.ID)
	q, err := s.GetQueuedByBuildInput(ctx, biID)
	require.NoError(t, err)
	assert.Nil(t, q, "unclaimed queue entry for a now-unseen package should be dropped")
}

func TestApplyCopiesFriendRebuildsForNewlyDiscoveredSourcePackage(t *testing.T) {
	s := newTestStore(t)
	r := New(s)
	ctx := context.Background()

	require.NoError(t, r.Apply(ctx, basicReport()))

	sp, err := s.GetSourcePackage(ctx, 1)
	require.NoError(t, err)
	originalBiID := mustBuildInputID(t, s, sp.ID)

	err = s.WithTx(ctx, func(ctx context.Context, tx *store.Tx) error {
		logID, err := tx.InsertBuildLog(ctx, []byte("verdict"))
		if err != nil {
			return err
		}
		builtAt := time.Now().UTC()
		good := store.StatusGood
		return tx.InsertRebuild(ctx, &store.Rebuild{BuildInputID: originalBiID, BuiltAt: &builtAt, BuildLogID: logID, Status: &good})
	})
	require.NoError(t, err)

	siblingReport := PackageReport{
		Distribution: "debian",
		Release:      strPtr("trixie"),
		Architecture: "amd64",
		Packages: []SourcePackageReport{
			{Name: "curl", Version: "8.0", URL: "https://example/curl.tar.gz"},
		},
	}
	require.NoError(t, r.Apply(ctx, siblingReport))

	page, err := s.ListSourcePackages(ctx, store.OriginFilter{}, store.IdentityFilter{}, false, "id", "asc", "", "", 10)
	require.NoError(t, err)
	rows := page.Items
	require.Len(t, rows, 2)

	var siblingSP store.SourcePackage
	for _, row := range rows {
		if row.ID != sp.ID {
			siblingSP = row
		}
	}
	siblingBiID := mustBuildInputID(t, s, siblingSP.ID)

	rebuilds, err := s.CurrentRebuild(ctx, siblingBiID)
	require.NoError(t, err)
	require.NotNil(t, rebuilds, "the newly-discovered sibling should inherit the friend's rebuild history")
	assert.Equal(t, store.StatusGood, *rebuilds.Status)
}
