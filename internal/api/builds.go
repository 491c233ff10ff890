package api

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/r3e-network/rebuildverify/internal/apperrors"
	"github.com/r3e-network/rebuildverify/internal/attestation"
	"github.com/r3e-network/rebuildverify/internal/compress"
	"github.com/r3e-network/rebuildverify/internal/ingest"
	"github.com/r3e-network/rebuildverify/internal/store"
)

func (s *Server) mountBuilds(r *mux.Router) {
	r.HandleFunc("/builds", s.handleListBuilds).Methods(http.MethodGet)
	r.HandleFunc("/builds", s.handleSubmitBuild).Methods(http.MethodPost)
	r.HandleFunc("/builds/{id}", s.handleGetBuild).Methods(http.MethodGet)
	r.HandleFunc("/builds/{id}/log", s.handleBuildLog).Methods(http.MethodGet)
	r.HandleFunc("/builds/{id}/artifacts", s.handleListArtifacts).Methods(http.MethodGet)
	r.HandleFunc("/builds/{id}/artifacts/{aid}/diffoscope", s.handleArtifactDiffoscope).Methods(http.MethodGet)
	r.HandleFunc("/builds/{id}/artifacts/{aid}/attestation", s.handleArtifactAttestation).Methods(http.MethodGet)
}

func (s *Server) handleListBuilds(w http.ResponseWriter, r *http.Request) {
	p, err := parseListParams(r, store.IsSafeBuildSortField)
	if err != nil {
		writeError(w, err)
		return
	}
	page, err := s.store.ListBuilds(r.Context(), p.Origin, p.Identity, p.IncludeUnseen, p.Sort, p.Direction, p.After, p.Before, p.Limit)
	if err != nil {
		writeError(w, apperrors.Storage("list builds", err))
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// handleSubmitBuild accepts a worker's RebuildReport (spec.md §4.7),
// rate-limited per worker key since a misbehaving worker could otherwise
// flood the ingest pipeline.
func (s *Server) handleSubmitBuild(w http.ResponseWriter, r *http.Request) {
	id, ok := requireWorker(w, r, s.auth)
	if !ok {
		return
	}
	if !s.ingestLimit.limitByWorkerKey(w, id) {
		return
	}

	var report ingest.RebuildReport
	if !decodeJSON(w, r, &report) {
		return
	}

	if err := s.ingester.Submit(r.Context(), id.WorkerID, report); err != nil {
		writeError(w, err)
		return
	}
	if s.metrics != nil {
		s.metrics.IngestsTotal.WithLabelValues(string(report.Status)).Inc()
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetBuild(w http.ResponseWriter, r *http.Request) {
	id, ok := pathInt64(w, r, "id")
	if !ok {
		return
	}
	bi, err := s.store.GetBuildInput(r.Context(), id)
	if err != nil {
		writeError(w, notFoundOrStorage("build", id, err))
		return
	}
	rb, err := s.store.CurrentRebuild(r.Context(), id)
	if err != nil {
		writeError(w, apperrors.Storage("current rebuild", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"build_input": bi, "current_rebuild": rb})
}

func (s *Server) handleBuildLog(w http.ResponseWriter, r *http.Request) {
	id, ok := pathInt64(w, r, "id")
	if !ok {
		return
	}
	rb, err := s.store.CurrentRebuild(r.Context(), id)
	if err != nil {
		writeError(w, apperrors.Storage("current rebuild", err))
		return
	}
	if rb == nil {
		writeError(w, apperrors.NotFound("build log", id))
		return
	}
	content, err := s.store.GetBuildLog(r.Context(), rb.BuildLogID)
	if err != nil {
		writeError(w, apperrors.Storage("get build log", err))
		return
	}
	writeBlob(r.Context(), w, r, content)
}

func (s *Server) handleListArtifacts(w http.ResponseWriter, r *http.Request) {
	id, ok := pathInt64(w, r, "id")
	if !ok {
		return
	}
	rb, err := s.store.CurrentRebuild(r.Context(), id)
	if err != nil {
		writeError(w, apperrors.Storage("current rebuild", err))
		return
	}
	if rb == nil {
		writeJSON(w, http.StatusOK, []any{})
		return
	}
	artifacts, err := s.store.ArtifactsForRebuild(r.Context(), rb.ID)
	if err != nil {
		writeError(w, apperrors.Storage("list artifacts", err))
		return
	}
	writeJSON(w, http.StatusOK, artifacts)
}

func (s *Server) handleArtifactDiffoscope(w http.ResponseWriter, r *http.Request) {
	s.serveArtifactBlob(w, r, func(a artifactLogIDs) *int64 { return a.diffoscope })
}

func (s *Server) handleArtifactAttestation(w http.ResponseWriter, r *http.Request) {
	id, ok := pathInt64(w, r, "aid")
	if !ok {
		return
	}
	var art struct {
		AttestationLogID *int64 `db:"attestation_log_id"`
	}
	if err := s.artifactRow(r, id, &art); err != nil {
		writeError(w, notFoundOrStorage("artifact", id, err))
		return
	}
	if art.AttestationLogID == nil {
		writeError(w, apperrors.NotFound("attestation", id))
		return
	}

	content, err := s.store.GetAttestationLog(r.Context(), *art.AttestationLogID)
	if err != nil {
		writeError(w, apperrors.Storage("get attestation log", err))
		return
	}

	if s.cfg.TransparentlySignAttestations && s.key != nil {
		signed, changed, err := s.signIfUnsigned(r.Context(), content)
		if err != nil {
			writeError(w, apperrors.ValidationError("malformed attestation: "+err.Error()))
			return
		}
		if changed {
			logID := *art.AttestationLogID
			if err := s.store.WithTx(r.Context(), func(ctx context.Context, tx *store.Tx) error {
				return tx.UpdateAttestationLog(ctx, logID, signed)
			}); err != nil {
				writeError(w, apperrors.Storage("persist transparent signature", err))
				return
			}
			content = signed
		}
	}

	writeBlob(r.Context(), w, r, content)
}

// signIfUnsigned adds the coordinator's own signature to an in-toto
// attestation if it isn't already present, per spec.md §4.7's "transparently
// signs attestations on read" behavior. It decompresses content first since
// attestation logs are stored zstd-compressed like every other blob.
func (s *Server) signIfUnsigned(ctx context.Context, raw []byte) (signed []byte, changed bool, err error) {
	plain := raw
	if compress.IsCompressed(raw) {
		plain, err = compress.Decompress(ctx, raw)
		if err != nil {
			return nil, false, err
		}
	}

	att, err := attestation.Parse(plain)
	if err != nil {
		return nil, false, err
	}
	if att.HasSignatureFrom(s.key.Public) {
		return raw, false, nil
	}
	if err := att.Sign(s.key); err != nil {
		return nil, false, err
	}
	out, err := att.ToCompressedBytes(ctx)
	if err != nil {
		return nil, false, err
	}
	return out, true, nil
}

type artifactLogIDs struct {
	diffoscope *int64
}

func (s *Server) serveArtifactBlob(w http.ResponseWriter, r *http.Request, pick func(artifactLogIDs) *int64) {
	id, ok := pathInt64(w, r, "aid")
	if !ok {
		return
	}
	var art struct {
		DiffoscopeLogID *int64 `db:"diffoscope_log_id"`
	}
	if err := s.artifactRow(r, id, &art); err != nil {
		writeError(w, notFoundOrStorage("artifact", id, err))
		return
	}
	logID := pick(artifactLogIDs{diffoscope: art.DiffoscopeLogID})
	if logID == nil {
		writeError(w, apperrors.NotFound("diffoscope", id))
		return
	}
	content, err := s.store.GetDiffoscopeLog(r.Context(), *logID)
	if err != nil {
		writeError(w, apperrors.Storage("get diffoscope log", err))
		return
	}
	writeBlob(r.Context(), w, r, content)
}

func (s *Server) artifactRow(r *http.Request, id int64, dest interface{}) error {
	return s.store.DB().GetContext(r.Context(), dest, `SELECT * FROM rebuild_artifacts WHERE id = ?`, id)
}

func pathInt64(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	raw := mux.Vars(r)[name]
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		writeError(w, apperrors.ValidationError("invalid id "+raw))
		return 0, false
	}
	return n, true
}

func notFoundOrStorage(resource string, id int64, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return apperrors.NotFound(resource, id)
	}
	return apperrors.Storage("get "+resource, err)
}
