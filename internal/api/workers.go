package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/r3e-network/rebuildverify/internal/apperrors"
	"github.com/r3e-network/rebuildverify/internal/store"
)

func (s *Server) mountWorkers(r *mux.Router) {
	r.HandleFunc("/workers", s.handleListWorkers).Methods(http.MethodGet)
	r.HandleFunc("/workers/{id}", s.handleGetWorker).Methods(http.MethodGet)
	r.HandleFunc("/workers/{id}", s.handleDeleteWorker).Methods(http.MethodDelete)
	r.HandleFunc("/workers/signup", s.handleWorkerSignup).Methods(http.MethodPost)
	r.HandleFunc("/workers/{id}/capabilities", s.handleUpdateWorkerCapabilities).Methods(http.MethodPut)
	r.HandleFunc("/workers/{id}/tags/{tagId}", s.handleAssignWorkerTag).Methods(http.MethodPut)
	r.HandleFunc("/tags", s.handleListTags).Methods(http.MethodGet)
	r.HandleFunc("/tags", s.handleCreateTag).Methods(http.MethodPost)
}

func (s *Server) handleListWorkers(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireAdmin(w, r, s.auth); !ok {
		return
	}
	rows, err := s.store.ListWorkers(r.Context())
	if err != nil {
		writeError(w, apperrors.Storage("list workers", err))
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func (s *Server) handleGetWorker(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireAdmin(w, r, s.auth); !ok {
		return
	}
	id, ok := pathInt64(w, r, "id")
	if !ok {
		return
	}
	worker, err := s.store.GetWorker(r.Context(), id)
	if err != nil {
		writeError(w, notFoundOrStorage("worker", id, err))
		return
	}
	tags, err := s.store.TagsForWorker(r.Context(), id)
	if err != nil {
		writeError(w, apperrors.Storage("tags for worker", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"worker": worker, "tags": tags})
}

// handleWorkerSignup registers a new worker under the key/name the caller
// presents, once internal/auth.Signup has authorized the request against
// the configured allow-list and signup secret (spec.md §4.4).
func (s *Server) handleWorkerSignup(w http.ResponseWriter, r *http.Request) {
	key, err := s.auth.Signup(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var body struct {
		Name string `json:"name"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}
	if body.Name == "" {
		writeError(w, apperrors.ValidationError("name is required"))
		return
	}

	id, err := s.store.GetOrCreateWorker(r.Context(), key, body.Name)
	if err != nil {
		writeError(w, apperrors.Storage("register worker", err))
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"worker_id": id})
}

// handleDeleteWorker deregisters a worker (spec.md §6), the counterpart to
// handleWorkerSignup. Grounded on handleDeleteQueued's admin-gated
// row-delete pattern in queue.go.
func (s *Server) handleDeleteWorker(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireAdmin(w, r, s.auth); !ok {
		return
	}
	id, ok := pathInt64(w, r, "id")
	if !ok {
		return
	}
	if err := s.store.DeleteWorker(r.Context(), id); err != nil {
		writeError(w, apperrors.Storage("delete worker", err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleUpdateWorkerCapabilities(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireAdmin(w, r, s.auth); !ok {
		return
	}
	id, ok := pathInt64(w, r, "id")
	if !ok {
		return
	}
	var body struct {
		Backends      []string `json:"backends"`
		Architectures []string `json:"architectures"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}
	if err := s.store.UpdateWorkerCapabilities(r.Context(), id, body.Backends, body.Architectures); err != nil {
		writeError(w, apperrors.Storage("update worker capabilities", err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAssignWorkerTag(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireAdmin(w, r, s.auth); !ok {
		return
	}
	workerID, ok := pathInt64(w, r, "id")
	if !ok {
		return
	}
	tagID, ok := pathInt64(w, r, "tagId")
	if !ok {
		return
	}
	if err := s.store.AssignWorkerTag(r.Context(), workerID, tagID); err != nil {
		writeError(w, apperrors.Storage("assign worker tag", err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListTags(w http.ResponseWriter, r *http.Request) {
	rows, err := s.store.ListTags(r.Context())
	if err != nil {
		writeError(w, apperrors.Storage("list tags", err))
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func (s *Server) handleCreateTag(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireAdmin(w, r, s.auth); !ok {
		return
	}
	var body struct {
		Name string `json:"name"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}
	if body.Name == "" {
		writeError(w, apperrors.ValidationError("name is required"))
		return
	}
	id, err := s.store.CreateTag(r.Context(), body.Name)
	if err != nil {
		writeError(w, apperrors.Storage("create tag", err))
		return
	}
	writeJSON(w, http.StatusCreated, store.Tag{ID: id, Name: body.Name})
}
