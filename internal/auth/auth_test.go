package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/r3e-network/rebuildverify/internal/apperrors"
)

type fakeWorkerStore struct {
	byKey   map[string]int64
	touched map[int64]int
	nextID  int64
}

func newFakeWorkerStore() *fakeWorkerStore {
	return &fakeWorkerStore{byKey: make(map[string]int64), touched: make(map[int64]int)}
}

func (f *fakeWorkerStore) WorkerByKey(_ context.Context, key string) (int64, bool, error) {
	id, ok := f.byKey[key]
	return id, ok, nil
}

func (f *fakeWorkerStore) TouchWorker(_ context.Context, id int64) error {
	f.touched[id]++
	return nil
}

func (f *fakeWorkerStore) GetOrCreateWorker(_ context.Context, key, _ string) (int64, error) {
	if id, ok := f.byKey[key]; ok {
		return id, nil
	}
	f.nextID++
	f.byKey[key] = f.nextID
	return f.nextID, nil
}

func reqWithHeaders(headers map[string]string) *http.Request {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	for k, v := range headers {
		r.Header.Set(k, v)
	}
	return r
}

func TestAdmin(t *testing.T) {
	a := New(Config{Cookie: "secret-cookie"}, nil)

	id, err := a.Admin(reqWithHeaders(map[string]string{HeaderAuthCookie: "secret-cookie"}))
	require.NoError(t, err)
	assert.Equal(t, RoleAdmin, id.Role)

	_, err = a.Admin(reqWithHeaders(map[string]string{HeaderAuthCookie: "wrong"}))
	assert.Equal(t, apperrors.CodeUnauthorized, apperrors.As(err).Code)

	_, err = a.Admin(reqWithHeaders(nil))
	assert.Equal(t, apperrors.CodeUnauthorized, apperrors.As(err).Code)
}

func TestWorkerOpenAuth(t *testing.T) {
	store := newFakeWorkerStore()
	a := New(Config{}, store)

	id, err := a.Worker(context.Background(), reqWithHeaders(map[string]string{HeaderWorkerKey: "alice"}))
	require.NoError(t, err)
	assert.Equal(t, RoleWorker, id.Role)
	assert.Equal(t, "alice", id.WorkerKey)
	assert.Equal(t, 1, store.touched[id.WorkerID])

	anon, err := a.Worker(context.Background(), reqWithHeaders(nil))
	require.NoError(t, err)
	assert.Equal(t, "unauthenticated", anon.WorkerKey)
}

func TestWorkerRequiresRegistrationWhenAllowListConfigured(t *testing.T) {
	store := newFakeWorkerStore()
	a := New(Config{AuthorizedWorkers: []string{"alice"}}, store)

	_, err := a.Worker(context.Background(), reqWithHeaders(map[string]string{HeaderWorkerKey: "bob"}))
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeUnauthorized, apperrors.As(err).Code)

	_, err = a.Worker(context.Background(), reqWithHeaders(map[string]string{HeaderWorkerKey: "alice"}))
	require.Error(t, err, "allow-listed but not yet registered")

	store.byKey["alice"] = 42
	id, err := a.Worker(context.Background(), reqWithHeaders(map[string]string{HeaderWorkerKey: "alice"}))
	require.NoError(t, err)
	assert.Equal(t, int64(42), id.WorkerID)
}

func TestWorkerRequiresKeyWhenAuthConfigured(t *testing.T) {
	store := newFakeWorkerStore()
	a := New(Config{SignupSecret: "sssh"}, store)

	_, err := a.Worker(context.Background(), reqWithHeaders(nil))
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeUnauthorized, apperrors.As(err).Code)
}

func TestSignup(t *testing.T) {
	a := New(Config{AuthorizedWorkers: []string{"alice"}, SignupSecret: "sssh"}, nil)

	key, err := a.Signup(reqWithHeaders(map[string]string{
		HeaderWorkerKey:    "alice",
		HeaderSignupSecret: "sssh",
	}))
	require.NoError(t, err)
	assert.Equal(t, "alice", key)

	_, err = a.Signup(reqWithHeaders(map[string]string{
		HeaderWorkerKey:    "alice",
		HeaderSignupSecret: "wrong",
	}))
	assert.Error(t, err)

	_, err = a.Signup(reqWithHeaders(map[string]string{
		HeaderWorkerKey:    "bob",
		HeaderSignupSecret: "sssh",
	}))
	assert.Error(t, err, "not on allow-list")

	_, err = a.Signup(reqWithHeaders(map[string]string{HeaderSignupSecret: "sssh"}))
	assert.Error(t, err, "missing worker key")
}

func TestSignupWithoutSecretConfigured(t *testing.T) {
	a := New(Config{}, nil)
	key, err := a.Signup(reqWithHeaders(map[string]string{HeaderWorkerKey: "anyone"}))
	require.NoError(t, err)
	assert.Equal(t, "anyone", key)
}

func TestAnonymous(t *testing.T) {
	assert.Equal(t, RoleAnonymous, Anonymous().Role)
}
