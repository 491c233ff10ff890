// Package api implements the coordinator's HTTP query surface (C8): v1 REST
// routes, v0 read-only compatibility façade, cursor pagination, blob
// retrieval with zstd content negotiation, transparent attestation signing,
// and dashboard aggregation.
package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/r3e-network/rebuildverify/internal/attestation"
	"github.com/r3e-network/rebuildverify/internal/auth"
	"github.com/r3e-network/rebuildverify/internal/dashboard"
	"github.com/r3e-network/rebuildverify/internal/ingest"
	"github.com/r3e-network/rebuildverify/internal/logging"
	"github.com/r3e-network/rebuildverify/internal/metrics"
	"github.com/r3e-network/rebuildverify/internal/queue"
	"github.com/r3e-network/rebuildverify/internal/reconcile"
	"github.com/r3e-network/rebuildverify/internal/store"
)

// Config controls handler behavior that varies by deployment.
type Config struct {
	TransparentlySignAttestations bool
	PostBodySizeLimit             int64
}

// Server holds every dependency the v1/v0 handlers need.
type Server struct {
	store       *store.Store
	auth        *auth.Authenticator
	dispatcher  *queue.Dispatcher
	reconciler  *reconcile.Reconciler
	ingester    *ingest.Ingester
	key         *attestation.KeyPair
	metrics     *metrics.Metrics
	log         *logging.Logger
	dashboard   *dashboard.Cache
	cfg         Config
	popLimiter  *keyedLimiter
	ingestLimit *keyedLimiter
}

// New builds a Server. Any of m/log may be nil in tests exercising a single
// handler directly.
func New(
	st *store.Store,
	authenticator *auth.Authenticator,
	dispatcher *queue.Dispatcher,
	reconciler *reconcile.Reconciler,
	ingester *ingest.Ingester,
	key *attestation.KeyPair,
	m *metrics.Metrics,
	log *logging.Logger,
	dash *dashboard.Cache,
	cfg Config,
) *Server {
	if log == nil {
		log = logging.Discard()
	}
	return &Server{
		store:       st,
		auth:        authenticator,
		dispatcher:  dispatcher,
		reconciler:  reconciler,
		ingester:    ingester,
		key:         key,
		metrics:     m,
		log:         log,
		dashboard:   dash,
		cfg:         cfg,
		popLimiter:  newKeyedLimiter(2, 4),
		ingestLimit: newKeyedLimiter(1, 2),
	}
}

// Router builds the full mux.Router, v1 canonical routes mounted at
// /api/v1, the v0 read-only façade at /api/v0, and /metrics, wrapped in the
// teacher's layered middleware stack (request id -> log -> recover ->
// metrics -> body limit).
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(wrapWithRequestID)
	r.Use(wrapWithRequestLog(s.log))
	r.Use(wrapWithRecover(s.log))
	if s.metrics != nil {
		r.Use(s.metrics.Middleware())
		r.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)
	}
	r.Use(wrapWithBodyLimit(s.cfg.PostBodySizeLimit))

	v1 := r.PathPrefix("/api/v1").Subrouter()
	s.mountBuilds(v1)
	s.mountPackages(v1)
	s.mountQueue(v1)
	s.mountWorkers(v1)
	s.mountMeta(v1)
	s.mountDashboard(v1)

	v0 := r.PathPrefix("/api/v0").Subrouter()
	s.mountV0(v0)

	return r
}
