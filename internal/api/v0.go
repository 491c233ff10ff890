package api

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/r3e-network/rebuildverify/internal/apperrors"
	"github.com/r3e-network/rebuildverify/internal/store"
)

// mountV0 wires the read-only v0 compatibility façade: the legacy JSON
// shape and pagination style a pre-v1 client expects, backed by the same
// store as v1 but fronting the dashboard through internal/dashboard.Cache
// instead of computing it fresh on every request.
func (s *Server) mountV0(r *mux.Router) {
	r.HandleFunc("/pkgs/list", s.handleV0PkgsList).Methods(http.MethodGet)
	r.HandleFunc("/pkgs/sync", s.handleV0PkgsSync).Methods(http.MethodPost)
	r.HandleFunc("/dashboard", s.handleV0Dashboard).Methods(http.MethodGet)
}

// v0PkgEntry is the legacy flattened package shape: one row per build
// input rather than v1's separate source-package/build-input split.
type v0PkgEntry struct {
	Name         string  `json:"name"`
	Version      string  `json:"version"`
	Distribution string  `json:"distribution"`
	Architecture string  `json:"architecture"`
	Status       *string `json:"status"`
}

func (s *Server) handleV0PkgsList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	after, _ := strconv.ParseInt(q.Get("after"), 10, 64)
	limit, err := strconv.Atoi(q.Get("limit"))
	if err != nil || limit <= 0 {
		limit = defaultPageLimit
	}

	origin := parseOriginFilter(r)
	page, err := s.store.ListBuilds(r.Context(), origin, store.IdentityFilter{}, false, "id", "asc", strconv.FormatInt(after, 10), "", limit)
	if err != nil {
		writeError(w, apperrors.Storage("v0 pkgs list", err))
		return
	}

	entries := make([]v0PkgEntry, 0, len(page.Items))
	for _, b := range page.Items {
		status := (*string)(nil)
		if b.CurrentStatus != nil {
			v := string(*b.CurrentStatus)
			status = &v
		}
		entries = append(entries, v0PkgEntry{
			Name:         b.Name,
			Version:      b.Version,
			Distribution: b.Distribution,
			Architecture: b.Architecture,
			Status:       status,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"packages": entries, "next": page.NextCursor})
}

// handleV0PkgsSync accepts the same package report body as the v1 reconciler
// but under the v0 path a legacy scraper still posts to.
func (s *Server) handleV0PkgsSync(w http.ResponseWriter, r *http.Request) {
	s.handleSubmitPackageReport(w, r)
}

func (s *Server) handleV0Dashboard(w http.ResponseWriter, r *http.Request) {
	origin := parseOriginFilter(r)
	counts, err := s.dashboard.Get(r.Context(), origin)
	if err != nil {
		writeError(w, apperrors.Storage("v0 dashboard", err))
		return
	}
	writeJSON(w, http.StatusOK, counts)
}
