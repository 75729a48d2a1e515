package guard

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rooby-r/sygla-h2o-sub001/internal/auth"
	"github.com/rooby-r/sygla-h2o-sub001/internal/rbac"
)

func authenticated(role rbac.Role, mustChange bool) auth.Snapshot {
	return auth.Snapshot{
		State:              auth.StateAuthenticated,
		User:               &auth.User{ID: 1, Email: string(role) + "@sygla.test", Role: role},
		MustChangePassword: mustChange,
	}
}

func TestDecide(t *testing.T) {
	table := rbac.DefaultTable()
	tests := []struct {
		name string
		snap auth.Snapshot
		path string
		req  *Requirement
		want Decision
	}{
		{
			name: "seller opening logs is sent to the dashboard",
			snap: authenticated(rbac.RoleSeller, false),
			path: "/logs",
			req:  &Requirement{Module: rbac.ModuleLogs, Action: rbac.ActionView},
			want: Decision{State: Forbidden, Redirect: DashboardPath},
		},
		{
			name: "driver with pending password change is held",
			snap: authenticated(rbac.RoleDriver, true),
			path: "/orders",
			req:  &Requirement{Module: rbac.ModuleOrders, Action: rbac.ActionView},
			want: Decision{State: ForcedPasswordChange, Redirect: ChangePasswordPath},
		},
		{
			name: "driver is held even on a module it may view",
			snap: authenticated(rbac.RoleDriver, true),
			path: "/clients",
			req:  &Requirement{Module: rbac.ModuleClients, Action: rbac.ActionView},
			want: Decision{State: ForcedPasswordChange, Redirect: ChangePasswordPath},
		},
		{
			name: "admin with pending password change opens clients",
			snap: authenticated(rbac.RoleAdmin, true),
			path: "/clients",
			req:  &Requirement{Module: rbac.ModuleClients, Action: rbac.ActionView},
			want: Decision{State: Authorized},
		},
		{
			name: "anonymous visitor goes to login",
			snap: auth.Snapshot{State: auth.StateIdle},
			path: "/clients",
			req:  &Requirement{Module: rbac.ModuleClients},
			want: Decision{State: Unauthenticated, Redirect: LoginPath},
		},
		{
			name: "logged out visitor goes to login",
			snap: auth.Snapshot{State: auth.StateLoggedOut, Notice: "outside hours"},
			path: "/dashboard",
			want: Decision{State: Unauthenticated, Redirect: LoginPath},
		},
		{
			name: "restoring session shows placeholder",
			snap: auth.Snapshot{Initializing: true},
			path: "/orders",
			req:  &Requirement{Module: rbac.ModuleOrders},
			want: Decision{State: Loading},
		},
		{
			name: "password change page itself is reachable",
			snap: authenticated(rbac.RoleDriver, true),
			path: ChangePasswordPath,
			want: Decision{State: Authorized},
		},
		{
			name: "admin is never forced to change password",
			snap: authenticated(rbac.RoleAdmin, true),
			path: "/settings",
			req:  &Requirement{Module: rbac.ModuleSettings, Action: rbac.ActionEdit},
			want: Decision{State: Authorized},
		},
		{
			name: "forced change wins over forbidden",
			snap: authenticated(rbac.RoleSeller, true),
			path: "/logs",
			req:  &Requirement{Module: rbac.ModuleLogs},
			want: Decision{State: ForcedPasswordChange, Redirect: ChangePasswordPath},
		},
		{
			name: "stock manager may assign deliveries",
			snap: authenticated(rbac.RoleStockManager, false),
			path: "/deliveries/assign",
			req:  &Requirement{Module: rbac.ModuleDeliveries, Action: rbac.ActionAssign},
			want: Decision{State: Authorized},
		},
		{
			name: "route without requirement only needs a user",
			snap: authenticated(rbac.RoleDriver, false),
			path: "/profile",
			want: Decision{State: Authorized},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Decide(tt.snap, tt.path, tt.req, table))
		})
	}
}

type memoryStorage struct {
	persisted *auth.Persisted
	err       error
}

func (m *memoryStorage) Load(context.Context) (*auth.Persisted, error) { return m.persisted, m.err }
func (m *memoryStorage) Save(_ context.Context, p auth.Persisted) error {
	m.persisted = &p
	return nil
}
func (m *memoryStorage) Clear(context.Context) error {
	m.persisted = nil
	return nil
}

// offlineBackend fails like an unreachable server, which keeps cached sessions.
type offlineBackend struct{}

var errOffline = errors.New("dial tcp: connection refused")

func (offlineBackend) Login(context.Context, auth.Credentials) (*auth.LoginResult, error) {
	return nil, errOffline
}
func (offlineBackend) Logout(context.Context, auth.Tokens) error { return errOffline }
func (offlineBackend) Profile(context.Context, auth.Tokens) (*auth.User, error) {
	return nil, errOffline
}
func (offlineBackend) UpdateProfile(context.Context, auth.Tokens, auth.UserPatch) (*auth.User, error) {
	return nil, errOffline
}
func (offlineBackend) ChangePassword(context.Context, auth.Tokens, auth.PasswordChange) error {
	return errOffline
}
func (offlineBackend) CheckAccess(context.Context, auth.Tokens) (*auth.AccessStatus, error) {
	return nil, errOffline
}

func storeFor(t *testing.T, storage *memoryStorage) *auth.Store {
	t.Helper()
	store := auth.NewStore("s1", offlineBackend{}, storage, nil)
	_ = store.Initialize(context.Background())
	store.Wait()
	return store
}

type countingRecorder map[string]int

func (c countingRecorder) ObserveGuard(state string) { c[state]++ }

func serve(g *Guard, mw func(http.Handler) http.Handler, store *auth.Store, path string) *httptest.ResponseRecorder {
	h := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("page"))
	}))
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if store != nil {
		req = req.WithContext(auth.ContextWithStore(req.Context(), store))
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestRequireMiddleware(t *testing.T) {
	rec := countingRecorder{}
	g := New(rbac.DefaultTable(), nil, rec, nil)
	seller := storeFor(t, &memoryStorage{persisted: &auth.Persisted{
		AccessToken: "a",
		User:        &auth.User{ID: 2, Role: rbac.RoleSeller},
	}})

	rr := serve(g, g.Require(rbac.ModuleClients, rbac.ActionCreate), seller, "/clients/create")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "page", rr.Body.String())

	rr = serve(g, g.Require(rbac.ModuleLogs, rbac.ActionView), seller, "/logs")
	assert.Equal(t, http.StatusSeeOther, rr.Code)
	assert.Equal(t, DashboardPath, rr.Header().Get("Location"))

	assert.Equal(t, 1, rec["authorized"])
	assert.Equal(t, 1, rec["forbidden"])
}

func TestAuthenticatedMiddlewareWithoutStore(t *testing.T) {
	g := New(rbac.DefaultTable(), nil, nil, nil)
	rr := serve(g, g.Authenticated(), nil, "/dashboard")
	assert.Equal(t, http.StatusSeeOther, rr.Code)
	assert.Equal(t, LoginPath, rr.Header().Get("Location"))
}

func TestStorageReadFailureFailsClosed(t *testing.T) {
	g := New(rbac.DefaultTable(), nil, nil, nil)
	store := storeFor(t, &memoryStorage{err: errors.New("redis: connection refused")})

	rr := serve(g, g.Require(rbac.ModuleClients, rbac.ActionView), store, "/clients")
	assert.Equal(t, http.StatusSeeOther, rr.Code)
	assert.Equal(t, LoginPath, rr.Header().Get("Location"))
}

func TestForcedPasswordChangeMiddleware(t *testing.T) {
	g := New(rbac.DefaultTable(), nil, nil, nil)
	driver := storeFor(t, &memoryStorage{persisted: &auth.Persisted{
		AccessToken:        "a",
		User:               &auth.User{ID: 3, Role: rbac.RoleDriver},
		MustChangePassword: true,
	}})

	rr := serve(g, g.Require(rbac.ModuleOrders, rbac.ActionView), driver, "/orders")
	require.Equal(t, http.StatusSeeOther, rr.Code)
	assert.Equal(t, ChangePasswordPath, rr.Header().Get("Location"))

	rr = serve(g, g.Authenticated(), driver, ChangePasswordPath)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "forced_password_change", ForcedPasswordChange.String())
	assert.Equal(t, "unknown", State(42).String())
}

func TestStoreNotYetLoadedIsLoading(t *testing.T) {
	rec := countingRecorder{}
	g := New(rbac.DefaultTable(), nil, rec, nil)
	store := auth.NewStore("s1", offlineBackend{}, &memoryStorage{persisted: &auth.Persisted{
		AccessToken: "a",
		User:        &auth.User{ID: 3, Role: rbac.RoleDriver},
	}}, nil)

	d := Decide(store.Snapshot(), "/clients", &Requirement{Module: rbac.ModuleClients}, rbac.DefaultTable())
	assert.Equal(t, Decision{State: Loading}, d)

	rr := serve(g, g.Require(rbac.ModuleClients, rbac.ActionView), store, "/clients")
	assert.NotEqual(t, LoginPath, rr.Header().Get("Location"))
	assert.Equal(t, 1, rec["loading"])
}
