package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/r3e-network/rebuildverify/internal/auth"
	"github.com/r3e-network/rebuildverify/internal/dashboard"
	"github.com/r3e-network/rebuildverify/internal/ingest"
	"github.com/r3e-network/rebuildverify/internal/queue"
	"github.com/r3e-network/rebuildverify/internal/reconcile"
	"github.com/r3e-network/rebuildverify/internal/store"
)

const testAdminCookie = "test-admin-cookie"

func newTestServer(t *testing.T) (*Server, *store.Store) {
	t.Helper()
	dir := t.TempDir()
	st, err := store.Open(context.Background(), store.Config{
		Path:           filepath.Join(dir, "test.db"),
		MaxOpenConns:   1,
		MigrateOnStart: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	authenticator := auth.New(auth.Config{Cookie: testAdminCookie}, st)
	dispatcher := queue.New(st, 0)
	reconciler := reconcile.New(st)
	ingester := ingest.New(st, 1)
	dash := dashboard.New(st, nil)

	srv := New(st, authenticator, dispatcher, reconciler, ingester, nil, nil, nil, dash, Config{
		PostBodySizeLimit: 1 << 20,
	})
	return srv, st
}

func adminRequest(method, path string) *http.Request {
	r := httptest.NewRequest(method, path, nil)
	r.Header.Set("X-Auth-Cookie", testAdminCookie)
	return r
}

func TestListBuildsEmpty(t *testing.T) {
	srv, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/builds", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"items":null`)
}

func TestListBuildsRejectsUnsafeSortField(t *testing.T) {
	srv, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/builds?sort=id;drop+table", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetBuildNotFound(t *testing.T) {
	srv, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/builds/999", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListWorkersRequiresAdmin(t *testing.T) {
	srv, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/workers", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestListWorkersWithAdminCookie(t *testing.T) {
	srv, _ := newTestServer(t)
	req := adminRequest(http.MethodGet, "/api/v1/workers")
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSubmitPackageReportAppliesAndIsQueryable(t *testing.T) {
	srv, _ := newTestServer(t)

	body := `{
		"distribution": "debian",
		"architecture": "amd64",
		"packages": [
			{"name": "curl", "version": "8.0", "url": "https://example.test/curl.tar.gz", "binary": [
				{"name": "curl", "version": "8.0", "architecture": "amd64", "url": "https://example.test/curl.deb"}
			]}
		]
	}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/packages/source", strings.NewReader(body))
	req.Header.Set("X-Auth-Cookie", testAdminCookie)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	require.Equal(t, http.StatusNoContent, rec.Code)

	listReq := httptest.NewRequest(http.MethodGet, "/api/v1/builds", nil)
	listRec := httptest.NewRecorder()
	srv.Router().ServeHTTP(listRec, listReq)
	assert.Equal(t, http.StatusOK, listRec.Code)
	assert.Contains(t, listRec.Body.String(), "curl")
}

func TestDashboardIsPublic(t *testing.T) {
	srv, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/dashboard", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestV0PkgsListIsThinAdapterOverSameStore(t *testing.T) {
	srv, st := newTestServer(t)
	_ = st
	req := httptest.NewRequest(http.MethodGet, "/api/v0/pkgs/list", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}
