// Package console serves the pages every role lands on: the dashboard, the module
// shells and the notification centre.
package console

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/rooby-r/sygla-h2o-sub001/internal/auth"
	"github.com/rooby-r/sygla-h2o-sub001/internal/guard"
	"github.com/rooby-r/sygla-h2o-sub001/internal/notify"
	"github.com/rooby-r/sygla-h2o-sub001/internal/rbac"
	"github.com/rooby-r/sygla-h2o-sub001/internal/shared"
	"github.com/rooby-r/sygla-h2o-sub001/internal/view"
)

// Handler renders console pages.
type Handler struct {
	logger      *slog.Logger
	templates   *view.Engine
	csrfManager *shared.CSRFManager
	table       *rbac.Table
	guard       *guard.Guard
	feed        *notify.Feed
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, templates *view.Engine, csrf *shared.CSRFManager, table *rbac.Table, g *guard.Guard, feed *notify.Feed) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:      logger,
		templates:   templates,
		csrfManager: csrf,
		table:       table,
		guard:       g,
		feed:        feed,
	}
}

// ModuleCard is one dashboard tile.
type ModuleCard struct {
	Label   string
	Path    string
	Icon    string
	Actions []rbac.Action
}

// DashboardData feeds pages/dashboard.html.
type DashboardData struct {
	Modules []ModuleCard
}

// ActionLink is one action button of a module page.
type ActionLink struct {
	Action  rbac.Action
	Path    string
	Current bool
}

// ModulePage feeds pages/module.html.
type ModulePage struct {
	Module rbac.Module
	Title  string
	Action rbac.Action
	Links  []ActionLink
}

// MountRoutes registers console routes, each behind the route guard.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, guard.DashboardPath, http.StatusSeeOther)
	})
	r.Get("/notifications/count", h.feed.ServeCount)
	r.Group(func(r chi.Router) {
		r.Use(h.guard.Authenticated())
		r.Get(guard.DashboardPath, h.showDashboard)
		r.Get("/notifications", h.showNotifications)
	})
	for _, module := range rbac.AllModules() {
		r.With(h.guard.Require(module, rbac.ActionView)).Get(modulePath(module, ""), h.showModule(module, ""))
		for _, action := range rbac.ActionsOf(module) {
			if action == rbac.ActionView {
				continue
			}
			r.With(h.guard.Require(module, action)).Get(modulePath(module, action), h.showModule(module, action))
		}
	}
}

func (h *Handler) showDashboard(w http.ResponseWriter, r *http.Request) {
	user := auth.SnapshotFromContext(r.Context()).User
	if user == nil {
		http.Redirect(w, r, guard.LoginPath, http.StatusSeeOther)
		return
	}
	var data DashboardData
	for _, entry := range h.table.MenuFor(user.Role) {
		if entry.Module == "" {
			continue
		}
		data.Modules = append(data.Modules, ModuleCard{
			Label:   entry.Label,
			Path:    entry.Path,
			Icon:    entry.Icon,
			Actions: h.table.Permitted(user.Role, entry.Module, rbac.ActionsOf(entry.Module)),
		})
	}
	h.render(w, r, "pages/dashboard.html", "Dashboard", data)
}

func (h *Handler) showNotifications(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, "pages/notifications.html", "Notifications", nil)
}

func (h *Handler) showModule(module rbac.Module, action rbac.Action) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user := auth.SnapshotFromContext(r.Context()).User
		if user == nil {
			http.Redirect(w, r, guard.LoginPath, http.StatusSeeOther)
			return
		}
		page := ModulePage{Module: module, Title: module.Title(), Action: action}
		for _, a := range h.table.Permitted(user.Role, module, rbac.ActionsOf(module)) {
			if a == rbac.ActionView {
				continue
			}
			page.Links = append(page.Links, ActionLink{Action: a, Path: modulePath(module, a), Current: a == action})
		}
		title := module.Title()
		if action != "" {
			title += " · " + action.Title()
		}
		h.render(w, r, "pages/module.html", title, page)
	}
}

func (h *Handler) render(w http.ResponseWriter, r *http.Request, name, title string, data any) {
	td := auth.ViewData(r, h.csrfManager, h.table, title, data)
	if store := auth.StoreFromContext(r.Context()); store != nil && h.feed != nil {
		td.Unread = h.feed.Unread(store.ID())
	}
	if err := h.templates.Render(w, name, td); err != nil {
		h.logger.Error("render page", slog.String("template", name), slog.Any("error", err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

// Loading renders the placeholder shown while a session is restored.
func Loading(templates *view.Engine, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-store")
		if err := templates.Render(w, "pages/loading.html", view.TemplateData{}); err != nil {
			logger.Error("render loading", slog.Any("error", err))
		}
	})
}

func modulePath(module rbac.Module, action rbac.Action) string {
	if action == "" {
		return "/" + string(module)
	}
	return "/" + string(module) + "/" + string(action)
}
