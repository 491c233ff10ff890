package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/r3e-network/rebuildverify/internal/apperrors"
	"github.com/r3e-network/rebuildverify/internal/store"
)

func (s *Server) mountQueue(r *mux.Router) {
	r.HandleFunc("/queue", s.handleListQueue).Methods(http.MethodGet)
	r.HandleFunc("/queue/pop", s.handleQueuePop).Methods(http.MethodPost)
	r.HandleFunc("/queue/{id}/ping", s.handleQueuePing).Methods(http.MethodPost)
	r.HandleFunc("/queue/{id}", s.handleRequeue).Methods(http.MethodPost).Queries("requeue", "true")
	r.HandleFunc("/queue/{id}", s.handleDeleteQueued).Methods(http.MethodDelete)
}

func (s *Server) handleListQueue(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireAdmin(w, r, s.auth); !ok {
		return
	}
	rows, err := s.store.ListQueued(r.Context())
	if err != nil {
		writeError(w, apperrors.Storage("list queue", err))
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

// handleQueuePop implements a worker's claim request (spec.md §4.6), rate
// limited per worker since the dispatcher's claim query runs inside a
// transaction and shouldn't be hammered.
func (s *Server) handleQueuePop(w http.ResponseWriter, r *http.Request) {
	id, ok := requireWorker(w, r, s.auth)
	if !ok {
		return
	}
	if !s.popLimiter.limitByWorkerKey(w, id) {
		return
	}

	worker, err := s.store.GetWorker(r.Context(), id.WorkerID)
	if err != nil {
		writeError(w, apperrors.Storage("get worker", err))
		return
	}
	backends := store.SplitCapabilities(worker.SupportedBackends)
	architectures := store.SplitCapabilities(worker.SupportedArchitectures)

	job, err := s.dispatcher.Pop(r.Context(), id.WorkerID, backends, architectures)
	if err != nil {
		writeError(w, apperrors.Storage("pop queue", err))
		return
	}
	if job == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleQueuePing(w http.ResponseWriter, r *http.Request) {
	id, ok := requireWorker(w, r, s.auth)
	if !ok {
		return
	}
	queuedID, ok := pathInt64(w, r, "id")
	if !ok {
		return
	}
	if err := s.dispatcher.Ping(r.Context(), id.WorkerID, queuedID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleRequeue lets an admin force a build input back onto the queue,
// e.g. after manually investigating a persistently failing package. {id} is
// a build_input id, not a queue row id: re-queuing a build that isn't
// currently queued is exactly the point of this endpoint.
func (s *Server) handleRequeue(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireAdmin(w, r, s.auth); !ok {
		return
	}
	buildInputID, ok := pathInt64(w, r, "id")
	if !ok {
		return
	}
	if err := s.store.EnqueueIfAbsent(r.Context(), buildInputID, 0); err != nil {
		writeError(w, apperrors.Storage("requeue", err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeleteQueued(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireAdmin(w, r, s.auth); !ok {
		return
	}
	id, ok := pathInt64(w, r, "id")
	if !ok {
		return
	}
	if err := s.store.DeleteQueued(r.Context(), id); err != nil {
		writeError(w, apperrors.Storage("delete queued entry", err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
