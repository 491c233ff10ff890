package api

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/r3e-network/rebuildverify/internal/apperrors"
	"github.com/r3e-network/rebuildverify/internal/auth"
	"github.com/r3e-network/rebuildverify/internal/logging"
)

type contextKey int

const (
	requestIDKey contextKey = iota
	identityKey
)

// wrapWithRequestID stamps every request with an X-Request-Id, generating
// one if the caller didn't supply it, the way the teacher's
// logging.WithTraceID middleware correlates log lines to one request.
func wrapWithRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-Id")
		if id == "" {
			id = uuid.New().String()
		}
		w.Header().Set("X-Request-Id", id)
		ctx := context.WithValue(r.Context(), requestIDKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// wrapWithRequestLog logs method, path, status, and duration for every
// request at Info level, mirroring the teacher's LoggingMiddleware.
func wrapWithRequestLog(log *logging.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(wrapped, r)
			log.WithFields(map[string]interface{}{
				"request_id": r.Context().Value(requestIDKey),
				"method":     r.Method,
				"path":       r.URL.Path,
				"status":     wrapped.status,
				"duration":   time.Since(start).String(),
			}).Info("request handled")
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status  int
	written bool
}

func (w *statusRecorder) WriteHeader(code int) {
	if !w.written {
		w.status = code
		w.written = true
		w.ResponseWriter.WriteHeader(code)
	}
}

func (w *statusRecorder) Write(b []byte) (int, error) {
	if !w.written {
		w.WriteHeader(http.StatusOK)
	}
	return w.ResponseWriter.Write(b)
}

// wrapWithRecover converts a panicking handler into a 500, logging the
// recovered value instead of crashing the listener goroutine.
func wrapWithRecover(log *logging.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					log.WithFields(map[string]interface{}{"panic": rec, "path": r.URL.Path}).Error("handler panicked")
					writeError(w, apperrors.New(apperrors.CodeStorage, "internal error", http.StatusInternalServerError))
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// wrapWithBodyLimit caps request bodies at limit bytes, spec.md §5's
// backpressure mechanism (default 1 GiB).
func wrapWithBodyLimit(limit int64) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if limit > 0 {
				r.Body = http.MaxBytesReader(w, r.Body, limit)
			}
			next.ServeHTTP(w, r)
		})
	}
}

// requireAdmin resolves the caller as admin or writes an error response,
// returning ok=false on failure.
func requireAdmin(w http.ResponseWriter, r *http.Request, a *auth.Authenticator) (auth.Identity, bool) {
	id, err := a.Admin(r)
	if err != nil {
		writeError(w, err)
		return auth.Identity{}, false
	}
	return id, true
}

// requireWorker resolves the caller as a worker or writes an error response.
func requireWorker(w http.ResponseWriter, r *http.Request, a *auth.Authenticator) (auth.Identity, bool) {
	id, err := a.Worker(r.Context(), r)
	if err != nil {
		writeError(w, err)
		return auth.Identity{}, false
	}
	return id, true
}
