package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rooby-r/sygla-h2o-sub001/internal/auth"
	"github.com/rooby-r/sygla-h2o-sub001/internal/rbac"
	"github.com/rooby-r/sygla-h2o-sub001/internal/shared"
)

type stubCounter struct {
	count atomic.Int64
	err   error
}

func (s *stubCounter) UnreadCount(context.Context, auth.Tokens) (int, error) {
	if s.err != nil {
		return 0, s.err
	}
	return int(s.count.Load()), nil
}

type memoryStorage struct{ persisted *auth.Persisted }

func (m *memoryStorage) Load(context.Context) (*auth.Persisted, error) { return m.persisted, nil }
func (m *memoryStorage) Save(_ context.Context, p auth.Persisted) error {
	m.persisted = &p
	return nil
}
func (m *memoryStorage) Clear(context.Context) error {
	m.persisted = nil
	return nil
}

type silentBackend struct{ auth.Backend }

func (silentBackend) Profile(context.Context, auth.Tokens) (*auth.User, error) {
	return &auth.User{ID: 5, Role: rbac.RoleSeller}, nil
}

func authenticatedStore(t *testing.T, id string) *auth.Store {
	t.Helper()
	store := auth.NewStore(id, silentBackend{}, &memoryStorage{persisted: &auth.Persisted{
		AccessToken: "a", RefreshToken: "r", User: &auth.User{ID: 5, Role: rbac.RoleSeller},
	}}, nil)
	require.NoError(t, store.Initialize(context.Background()))
	store.Wait()
	return store
}

func TestCompanionRefreshesAndForgets(t *testing.T) {
	counter := &stubCounter{}
	counter.count.Store(3)
	feed := NewFeed(counter, 0)
	store := authenticatedStore(t, "s1")

	c := feed.Companion()
	assert.True(t, c.Immediate)
	assert.Nil(t, c.Applies, "every role sees notifications")

	require.NoError(t, c.Run(context.Background(), store))
	assert.Equal(t, 3, feed.Unread("s1"))
	assert.Zero(t, feed.Unread("other"))

	c.Release(store)
	assert.Zero(t, feed.Unread("s1"))
}

func TestRejectedCountExpiresSession(t *testing.T) {
	feed := NewFeed(&stubCounter{err: shared.ErrUnauthenticated}, 0)
	store := authenticatedStore(t, "s1")

	err := feed.Companion().Run(context.Background(), store)
	assert.ErrorIs(t, err, shared.ErrUnauthenticated)
	assert.Equal(t, auth.StateLoggedOut, store.Snapshot().State)
}

func TestNetworkErrorKeepsSession(t *testing.T) {
	feed := NewFeed(&stubCounter{err: errors.New("timeout")}, 0)
	store := authenticatedStore(t, "s1")

	assert.Error(t, feed.Companion().Run(context.Background(), store))
	assert.Equal(t, auth.StateAuthenticated, store.Snapshot().State)
}

func TestServeCount(t *testing.T) {
	counter := &stubCounter{}
	counter.count.Store(7)
	feed := NewFeed(counter, 0)
	store := authenticatedStore(t, "s1")
	require.NoError(t, feed.Companion().Run(context.Background(), store))

	req := httptest.NewRequest(http.MethodGet, "/notifications/count", nil)
	req = req.WithContext(auth.ContextWithStore(req.Context(), store))
	rr := httptest.NewRecorder()
	feed.ServeCount(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	var body map[string]int
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, 7, body["count"])

	rr = httptest.NewRecorder()
	feed.ServeCount(rr, httptest.NewRequest(http.MethodGet, "/notifications/count", nil))
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}
