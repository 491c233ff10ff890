package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/r3e-network/rebuildverify/internal/apperrors"
	"github.com/r3e-network/rebuildverify/internal/reconcile"
	"github.com/r3e-network/rebuildverify/internal/store"
)

// mountPackages wires both halves of spec.md §6's `GET/POST
// /api/v1/packages/{source|binary}` entry: source packages (the
// distribution-scoped identity a PackageReport applies to) and binary
// packages (the concrete artifacts a build input is expected to produce).
func (s *Server) mountPackages(r *mux.Router) {
	r.HandleFunc("/packages/source", s.handleListSourcePackages).Methods(http.MethodGet)
	r.HandleFunc("/packages/source", s.handleSubmitPackageReport).Methods(http.MethodPost)
	r.HandleFunc("/packages/source/{id}", s.handleGetSourcePackage).Methods(http.MethodGet)
	r.HandleFunc("/packages/binary", s.handleListBinaryPackages).Methods(http.MethodGet)
	r.HandleFunc("/packages/binary/{id}", s.handleGetBinaryPackage).Methods(http.MethodGet)
}

func (s *Server) handleListSourcePackages(w http.ResponseWriter, r *http.Request) {
	p, err := parseListParams(r, store.IsSafeSourcePackageSortField)
	if err != nil {
		writeError(w, err)
		return
	}
	page, err := s.store.ListSourcePackages(r.Context(), p.Origin, p.Identity, p.IncludeUnseen, p.Sort, p.Direction, p.After, p.Before, p.Limit)
	if err != nil {
		writeError(w, apperrors.Storage("list source packages", err))
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *Server) handleGetSourcePackage(w http.ResponseWriter, r *http.Request) {
	id, ok := pathInt64(w, r, "id")
	if !ok {
		return
	}
	sp, err := s.store.GetSourcePackage(r.Context(), id)
	if err != nil {
		writeError(w, notFoundOrStorage("source package", id, err))
		return
	}
	writeJSON(w, http.StatusOK, sp)
}

func (s *Server) handleListBinaryPackages(w http.ResponseWriter, r *http.Request) {
	p, err := parseListParams(r, store.IsSafeBinaryPackageSortField)
	if err != nil {
		writeError(w, err)
		return
	}
	page, err := s.store.ListBinaryPackages(r.Context(), p.Origin, p.Identity, p.Sort, p.Direction, p.After, p.Before, p.Limit)
	if err != nil {
		writeError(w, apperrors.Storage("list binary packages", err))
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *Server) handleGetBinaryPackage(w http.ResponseWriter, r *http.Request) {
	id, ok := pathInt64(w, r, "id")
	if !ok {
		return
	}
	bp, err := s.store.GetBinaryPackage(r.Context(), id)
	if err != nil {
		writeError(w, notFoundOrStorage("binary package", id, err))
		return
	}
	writeJSON(w, http.StatusOK, bp)
}

// handleSubmitPackageReport ingests one distribution scrape's package
// inventory (spec.md §4.5). Only the coordinator's operator-facing scraper
// process is expected to call this, so it requires admin auth rather than
// the worker/signup identities the rebuild-facing endpoints accept.
func (s *Server) handleSubmitPackageReport(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireAdmin(w, r, s.auth); !ok {
		return
	}

	var report reconcile.PackageReport
	if !decodeJSON(w, r, &report) {
		return
	}
	if report.Distribution == "" || report.Architecture == "" {
		writeError(w, apperrors.ValidationError("distribution and architecture are required"))
		return
	}

	if err := s.reconciler.Apply(r.Context(), report); err != nil {
		writeError(w, apperrors.Storage("apply package report", err))
		return
	}
	if s.metrics != nil {
		s.metrics.ReconcileApplied.WithLabelValues("applied").Inc()
	}
	w.WriteHeader(http.StatusNoContent)
}
