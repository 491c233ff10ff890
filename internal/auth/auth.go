// Package auth resolves the identity of an inbound request — admin, worker,
// signup, or anonymous — from three opaque-secret headers, mirroring the
// header-based service auth the teacher's middleware package does for
// service-to-service calls.
package auth

import (
	"context"
	"crypto/subtle"
	"net/http"

	"github.com/r3e-network/rebuildverify/internal/apperrors"
)

// Header names carrying the three auth secrets.
const (
	HeaderAuthCookie   = "X-Auth-Cookie"
	HeaderWorkerKey    = "X-Worker-Key"
	HeaderSignupSecret = "X-Signup-Secret"
)

// Role is the resolved identity of a request.
type Role int

const (
	RoleAnonymous Role = iota
	RoleWorker
	RoleSignup
	RoleAdmin
)

func (r Role) String() string {
	switch r {
	case RoleAdmin:
		return "admin"
	case RoleWorker:
		return "worker"
	case RoleSignup:
		return "signup"
	default:
		return "anonymous"
	}
}

// Identity is what a successful resolution yields.
type Identity struct {
	Role      Role
	WorkerKey string
	WorkerID  int64
}

// WorkerStore is the persistence surface the authenticator needs out of
// internal/store. It never sees the whole store — just worker lookups.
type WorkerStore interface {
	// WorkerByKey returns the id of the worker registered under key.
	// registered is false if no such worker exists yet.
	WorkerByKey(ctx context.Context, key string) (id int64, registered bool, err error)
	// TouchWorker bumps last_ping (and online=true) for a worker id.
	TouchWorker(ctx context.Context, id int64) error
	// GetOrCreateWorker registers key under name if absent and returns its id,
	// used only when no allow-list or signup secret is configured at all.
	GetOrCreateWorker(ctx context.Context, key, name string) (id int64, err error)
}

// Config is the subset of worker configuration the authenticator consults.
// Cookie, AuthorizedWorkers, and SignupSecret are read from internal/config.
type Config struct {
	Cookie            string
	AuthorizedWorkers []string
	SignupSecret      string
}

// Authenticator resolves request identities against a fixed configuration
// and the worker table.
type Authenticator struct {
	cfg     Config
	store   WorkerStore
	allowed map[string]struct{}
}

// New builds an Authenticator. store may be nil only if callers never invoke
// Worker or Signup (e.g. in tests exercising Admin alone).
func New(cfg Config, store WorkerStore) *Authenticator {
	allowed := make(map[string]struct{}, len(cfg.AuthorizedWorkers))
	for _, w := range cfg.AuthorizedWorkers {
		allowed[w] = struct{}{}
	}
	return &Authenticator{cfg: cfg, store: store, allowed: allowed}
}

// secretEqual performs a constant-time comparison of two opaque secrets,
// rejecting empty values outright so an unset cookie never matches an
// equally-empty header.
func secretEqual(got, want string) bool {
	if got == "" || want == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

func (a *Authenticator) isAllowed(key string) bool {
	if len(a.allowed) == 0 {
		return true
	}
	_, ok := a.allowed[key]
	return ok
}

// Admin resolves the caller as admin. It fails Unauthorized when the cookie
// is absent or does not match.
func (a *Authenticator) Admin(r *http.Request) (Identity, error) {
	cookie := r.Header.Get(HeaderAuthCookie)
	if !secretEqual(cookie, a.cfg.Cookie) {
		return Identity{}, apperrors.Unauthorized("missing or invalid auth cookie")
	}
	return Identity{Role: RoleAdmin}, nil
}

// Worker resolves the caller as a worker, bumping its last_ping on success.
//
// When neither an allow-list nor a signup secret is configured, auth is
// effectively open: any worker key (or a synthetic "unauthenticated" one) is
// accepted and registered on first use. Otherwise the key must be present,
// on the allow-list (if one is configured), and already registered in the
// worker table — registration itself only happens through Signup.
func (a *Authenticator) Worker(ctx context.Context, r *http.Request) (Identity, error) {
	key := r.Header.Get(HeaderWorkerKey)

	if len(a.allowed) == 0 && a.cfg.SignupSecret == "" {
		if key == "" {
			key = "unauthenticated"
		}
		id, err := a.store.GetOrCreateWorker(ctx, key, "anonymous")
		if err != nil {
			return Identity{}, apperrors.Storage("get or create anonymous worker", err)
		}
		if err := a.store.TouchWorker(ctx, id); err != nil {
			return Identity{}, apperrors.Storage("touch worker", err)
		}
		return Identity{Role: RoleWorker, WorkerKey: key, WorkerID: id}, nil
	}

	if key == "" {
		return Identity{}, apperrors.Unauthorized("missing worker key")
	}
	if !a.isAllowed(key) {
		return Identity{}, apperrors.Unauthorized("worker key is not on allow-list")
	}

	id, registered, err := a.store.WorkerByKey(ctx, key)
	if err != nil {
		return Identity{}, apperrors.Storage("look up worker by key", err)
	}
	if !registered {
		return Identity{}, apperrors.Unauthorized("worker is not registered")
	}
	if err := a.store.TouchWorker(ctx, id); err != nil {
		return Identity{}, apperrors.Storage("touch worker", err)
	}
	return Identity{Role: RoleWorker, WorkerKey: key, WorkerID: id}, nil
}

// Signup resolves whether the caller may register as a new worker, returning
// the worker key to register under. It does not touch the worker table —
// callers (the /workers/signup handler) perform the actual registration.
func (a *Authenticator) Signup(r *http.Request) (string, error) {
	key := r.Header.Get(HeaderWorkerKey)
	if key == "" {
		return "", apperrors.Unauthorized("missing worker key")
	}
	if !a.isAllowed(key) {
		return "", apperrors.Unauthorized("worker key is not on allow-list")
	}
	if a.cfg.SignupSecret != "" {
		secret := r.Header.Get(HeaderSignupSecret)
		if !secretEqual(secret, a.cfg.SignupSecret) {
			return "", apperrors.Unauthorized("signup secret mismatched")
		}
	}
	return key, nil
}

// Anonymous resolves the caller for endpoints spec.md marks explicitly
// public: package listings, log/artifact fetches, the dashboard, and the
// public-keys endpoint. No header is consulted.
func Anonymous() Identity {
	return Identity{Role: RoleAnonymous}
}
