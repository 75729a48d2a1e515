// Package guard decides, for every navigation, whether the console renders the
// requested page or redirects the browser elsewhere.
package guard

import (
	"log/slog"
	"net/http"

	"github.com/rooby-r/sygla-h2o-sub001/internal/auth"
	"github.com/rooby-r/sygla-h2o-sub001/internal/rbac"
)

// Well known destinations.
const (
	LoginPath          = "/login"
	ChangePasswordPath = "/change-password-required"
	DashboardPath      = "/dashboard"
)

// State is the outcome of one guard evaluation.
type State int

// Guard states.
const (
	Loading State = iota
	Unauthenticated
	ForcedPasswordChange
	Authorized
	Forbidden
)

func (s State) String() string {
	switch s {
	case Loading:
		return "loading"
	case Unauthenticated:
		return "unauthenticated"
	case ForcedPasswordChange:
		return "forced_password_change"
	case Authorized:
		return "authorized"
	case Forbidden:
		return "forbidden"
	default:
		return "unknown"
	}
}

// Requirement is the module and action a route declares.
type Requirement struct {
	Module rbac.Module
	Action rbac.Action
}

// Decision tells the caller what to do with a navigation. Redirect is set for
// Unauthenticated, ForcedPasswordChange and Forbidden.
type Decision struct {
	State    State
	Redirect string
}

// Decide evaluates a navigation to path. req is nil for routes that only need a
// logged in user.
func Decide(snap auth.Snapshot, path string, req *Requirement, table *rbac.Table) Decision {
	if snap.Initializing {
		return Decision{State: Loading}
	}
	if !snap.Authenticated() {
		return Decision{State: Unauthenticated, Redirect: LoginPath}
	}
	if snap.MustChangePassword && !snap.User.IsAdmin() && path != ChangePasswordPath {
		return Decision{State: ForcedPasswordChange, Redirect: ChangePasswordPath}
	}
	if req != nil && !table.Check(snap.User, req.Module, req.Action) {
		return Decision{State: Forbidden, Redirect: DashboardPath}
	}
	return Decision{State: Authorized}
}

// Recorder counts guard decisions.
type Recorder interface {
	ObserveGuard(state string)
}

// Guard wires Decide into chi middleware.
type Guard struct {
	table    *rbac.Table
	logger   *slog.Logger
	recorder Recorder
	loading  http.Handler
}

// New constructs a Guard. loading renders the neutral placeholder shown while a
// session is still being restored.
func New(table *rbac.Table, logger *slog.Logger, recorder Recorder, loading http.Handler) *Guard {
	if logger == nil {
		logger = slog.Default()
	}
	if loading == nil {
		loading = http.HandlerFunc(defaultLoading)
	}
	return &Guard{table: table, logger: logger, recorder: recorder, loading: loading}
}

// Authenticated admits any logged in user who is not held on the password change page.
func (g *Guard) Authenticated() func(http.Handler) http.Handler {
	return g.middleware(nil)
}

// Require admits users whose role may perform action on module.
func (g *Guard) Require(module rbac.Module, action rbac.Action) func(http.Handler) http.Handler {
	return g.middleware(&Requirement{Module: module, Action: action})
}

func (g *Guard) middleware(req *Requirement) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			d, snap := g.evaluate(r, req)
			switch d.State {
			case Authorized:
				next.ServeHTTP(w, r.WithContext(auth.ContextWithSnapshot(r.Context(), snap)))
			case Loading:
				g.loading.ServeHTTP(w, r)
			default:
				if d.State == Forbidden {
					g.logger.Debug("navigation forbidden", slog.String("path", r.URL.Path))
				}
				http.Redirect(w, r, d.Redirect, http.StatusSeeOther)
			}
		})
	}
}

// Evaluate decides the request against the session store carried by its context.
// A request without a store is unauthenticated.
func (g *Guard) Evaluate(r *http.Request, req *Requirement) Decision {
	d, _ := g.evaluate(r, req)
	return d
}

// evaluate also returns the snapshot the decision was taken on. Handlers behind
// the guard read that snapshot, so a session cleared mid-request cannot reach
// them without a user.
func (g *Guard) evaluate(r *http.Request, req *Requirement) (Decision, auth.Snapshot) {
	var snap auth.Snapshot
	if store := auth.StoreFromContext(r.Context()); store != nil {
		snap = store.Snapshot()
	}
	d := Decide(snap, r.URL.Path, req, g.table)
	if g.recorder != nil {
		g.recorder.ObserveGuard(d.State.String())
	}
	return d, snap
}

func defaultLoading(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Refresh", "1")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("<!doctype html><title>Loading</title><p>Loading…</p>"))
}
