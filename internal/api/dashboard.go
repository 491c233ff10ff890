package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/r3e-network/rebuildverify/internal/apperrors"
	"github.com/r3e-network/rebuildverify/internal/store"
)

// mountDashboard wires the v1 dashboard aggregation endpoint. v1 always
// computes fresh counts; the v0 façade fronts the same data through
// internal/dashboard.Cache instead, per its own staleness contract.
func (s *Server) mountDashboard(r *mux.Router) {
	r.HandleFunc("/dashboard", s.handleDashboard).Methods(http.MethodGet)
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	origin := parseOriginFilter(r)
	counts, err := s.store.Dashboard(r.Context(), origin)
	if err != nil {
		writeError(w, apperrors.Storage("dashboard", err))
		return
	}
	writeJSON(w, http.StatusOK, counts)
}

func parseOriginFilter(r *http.Request) store.OriginFilter {
	q := r.URL.Query()
	var f store.OriginFilter
	if v := q.Get("distribution"); v != "" {
		f.Distribution = &v
	}
	if v := q.Get("release"); v != "" {
		f.Release = &v
	}
	if v := q.Get("component"); v != "" {
		f.Component = &v
	}
	if v := q.Get("architecture"); v != "" {
		f.Architecture = &v
	}
	return f
}
