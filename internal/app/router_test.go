package app

import (
	"encoding/json"
	"html"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rooby-r/sygla-h2o-sub001/internal/auth"
	"github.com/rooby-r/sygla-h2o-sub001/internal/backend"
	"github.com/rooby-r/sygla-h2o-sub001/internal/console"
	"github.com/rooby-r/sygla-h2o-sub001/internal/guard"
	"github.com/rooby-r/sygla-h2o-sub001/internal/notify"
	"github.com/rooby-r/sygla-h2o-sub001/internal/observability"
	"github.com/rooby-r/sygla-h2o-sub001/internal/rbac"
	"github.com/rooby-r/sygla-h2o-sub001/internal/shared"
	"github.com/rooby-r/sygla-h2o-sub001/internal/view"
)

var csrfPattern = regexp.MustCompile(`name="csrf_token" value="([^"]+)"`)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// fakeBackend answers like the REST API for a seller account.
func fakeBackend(t *testing.T) string {
	t.Helper()
	r := chi.NewRouter()
	r.Post("/auth/login", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"tokens": map[string]string{"access": "a1", "refresh": "r1"},
			"user":   map[string]any{"id": 5, "email": "sara@sygla.test", "first_name": "Sara", "role": "seller"},
		})
	})
	r.Get("/notifications/unread-count", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]int{"count": 2})
	})
	r.Get("/auth/check-access", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"allowed": true})
	})
	r.Post("/auth/logout", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv.URL
}

func newTestServer(t *testing.T) (*httptest.Server, *observability.Metrics) {
	t.Helper()
	mr := miniredis.RunT(t)
	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = redisClient.Close() })

	cfg := &Config{AppEnv: "test", AppRequestTimeout: 5 * time.Second, RateLimitPerMinute: 1000}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	templates, err := view.NewEngine()
	require.NoError(t, err)

	table := rbac.DefaultTable()
	metrics := observability.NewMetrics()
	api := backend.NewClient(fakeBackend(t), time.Second, logger)
	feed := notify.NewFeed(api, time.Hour)
	registry := auth.NewRegistry(auth.RegistryConfig{
		Backend: api,
		Storage: func(id string) auth.Storage {
			return auth.NewRedisStorage(redisClient, id, time.Hour)
		},
		Logger:     logger,
		Companions: []auth.Companion{auth.AccessWatcher(time.Hour), feed.Companion()},
		Recorder:   metrics,
	})
	t.Cleanup(registry.Close)

	csrfManager := shared.NewCSRFManager("csrf-secret")
	routeGuard := guard.New(table, logger, metrics, console.Loading(templates, logger))
	router := NewRouter(RouterParams{
		Logger:         logger,
		Config:         cfg,
		SessionManager: shared.NewSessionManager(redisClient, "sygla_session", "session-secret", time.Hour, false),
		CSRFManager:    csrfManager,
		Registry:       registry,
		Guard:          routeGuard,
		AuthHandler:    auth.NewHandler(logger, templates, csrfManager, table),
		ConsoleHandler: console.NewHandler(logger, templates, csrfManager, table, routeGuard, feed),
		Metrics:        metrics,
	})
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv, metrics
}

func newBrowser(t *testing.T) *http.Client {
	t.Helper()
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return &http.Client{
		Jar: jar,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

func fetch(t *testing.T, client *http.Client, method, target string, form url.Values) (*http.Response, string) {
	t.Helper()
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequest(method, target, body)
	require.NoError(t, err)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	resp, err := client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(data)
}

func TestHealthzAndStatic(t *testing.T) {
	srv, _ := newTestServer(t)
	client := newBrowser(t)

	resp, body := fetch(t, client, http.MethodGet, srv.URL+"/healthz", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"status":"ok"}`, body)

	resp, _ = fetch(t, client, http.MethodGet, srv.URL+"/static/css/app.css", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "public, max-age=3600", resp.Header.Get("Cache-Control"))
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))
	assert.True(t, strings.HasPrefix(resp.Header.Get("Content-Type"), "text/css"))
}

func TestAnonymousVisitorIsSentToLogin(t *testing.T) {
	srv, _ := newTestServer(t)
	client := newBrowser(t)

	for _, path := range []string{"/dashboard", "/orders", "/profile", "/change-password-required"} {
		resp, _ := fetch(t, client, http.MethodGet, srv.URL+path, nil)
		assert.Equal(t, http.StatusSeeOther, resp.StatusCode, path)
		assert.Equal(t, "/login", resp.Header.Get("Location"), path)
	}

	resp, _ := fetch(t, client, http.MethodGet, srv.URL+"/notifications/count", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestPostWithoutCSRFTokenIsRejected(t *testing.T) {
	srv, _ := newTestServer(t)
	client := newBrowser(t)
	fetch(t, client, http.MethodGet, srv.URL+"/login", nil)

	resp, _ := fetch(t, client, http.MethodPost, srv.URL+"/login", url.Values{
		"email": {"sara@sygla.test"}, "password": {"password1"},
	})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestSellerSessionEndToEnd(t *testing.T) {
	srv, metrics := newTestServer(t)
	client := newBrowser(t)

	resp, body := fetch(t, client, http.MethodGet, srv.URL+"/login", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	match := csrfPattern.FindStringSubmatch(body)
	require.Len(t, match, 2, "login page carries a csrf token")
	token := html.UnescapeString(match[1])

	resp, _ = fetch(t, client, http.MethodPost, srv.URL+"/login", url.Values{
		"email": {"sara@sygla.test"}, "password": {"password1"}, "csrf_token": {token},
	})
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/dashboard", resp.Header.Get("Location"))

	resp, body = fetch(t, client, http.MethodGet, srv.URL+"/dashboard", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "Welcome back")

	resp, _ = fetch(t, client, http.MethodGet, srv.URL+"/clients/create", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = fetch(t, client, http.MethodGet, srv.URL+"/logs", nil)
	assert.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/dashboard", resp.Header.Get("Location"))

	resp, body = fetch(t, client, http.MethodGet, srv.URL+"/metrics", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, `sygla_guard_decisions_total{state="forbidden"} 1`)
	assert.Contains(t, body, "sygla_live_sessions 1")
	assert.NotNil(t, metrics)

	resp, _ = fetch(t, client, http.MethodPost, srv.URL+"/logout", url.Values{"csrf_token": {token}})
	assert.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/login", resp.Header.Get("Location"))

	resp, _ = fetch(t, client, http.MethodGet, srv.URL+"/dashboard", nil)
	assert.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/login", resp.Header.Get("Location"))
}
