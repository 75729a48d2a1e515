package auth

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/rooby-r/sygla-h2o-sub001/internal/rbac"
	"github.com/rooby-r/sygla-h2o-sub001/internal/shared"
	"github.com/rooby-r/sygla-h2o-sub001/internal/view"
)

// Handler wires HTTP endpoints for authentication flows.
type Handler struct {
	logger      *slog.Logger
	templates   *view.Engine
	csrfManager *shared.CSRFManager
	table       *rbac.Table
	validator   *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, templates *view.Engine, csrf *shared.CSRFManager, table *rbac.Table) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:      logger,
		templates:   templates,
		csrfManager: csrf,
		table:       table,
		validator:   validator.New(),
	}
}

// MountRoutes registers the public auth routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/login", h.showLogin)
	r.Post("/login", h.handleLogin)
	r.Post("/login/acknowledge", h.handleAcknowledge)
	r.Post("/logout", h.handleLogout)
}

// MountSessionRoutes registers routes that need a logged in user. The caller
// protects r.
func (h *Handler) MountSessionRoutes(r chi.Router) {
	r.Get("/change-password-required", h.showChangePassword)
	r.Post("/change-password-required", h.handleChangePassword)
	r.Get("/profile", h.showProfile)
	r.Post("/profile", h.handleProfile)
}

type loginForm struct {
	Email    string `validate:"required,email"`
	Password string `validate:"required"`
}

type loginPageData struct {
	Form loginForm
}

type passwordForm struct {
	OldPassword     string `validate:"required"`
	NewPassword     string `validate:"required,min=8,nefield=OldPassword"`
	ConfirmPassword string `validate:"required,eqfield=NewPassword"`
}

type profileForm struct {
	FirstName string `validate:"max=150"`
	LastName  string `validate:"max=150"`
	Email     string `validate:"required,email"`
	Phone     string `validate:"omitempty,max=32"`
	Avatar    string `validate:"omitempty,url"`
}

// ViewData builds the template data shared by every console page: CSRF token,
// pending flash, the viewer and the viewer's menu.
func ViewData(r *http.Request, csrf *shared.CSRFManager, table *rbac.Table, title string, data any) view.TemplateData {
	sess := shared.SessionFromContext(r.Context())
	td := view.TemplateData{
		Title:       title,
		CurrentPath: r.URL.Path,
		Data:        data,
	}
	if sess != nil {
		td.CSRFToken, _ = csrf.EnsureToken(r.Context(), sess)
		td.Flash = sess.PopFlash()
	}
	snap := SnapshotFromContext(r.Context())
	td.Notice = snap.Notice
	if snap.Authenticated() {
		td.Viewer = &view.Viewer{
			Name:   snap.User.DisplayName(),
			Email:  snap.User.Email,
			Role:   snap.User.Role,
			Avatar: snap.User.Avatar,
		}
		td.Menu = table.MenuFor(snap.User.Role)
	}
	return td
}

func (h *Handler) render(w http.ResponseWriter, r *http.Request, status int, name, title string, flash *shared.FlashMessage, data any) {
	td := ViewData(r, h.csrfManager, h.table, title, data)
	if flash != nil {
		td.Flash = flash
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	if err := h.templates.Render(w, name, td); err != nil {
		h.logger.Error("render page", slog.String("template", name), slog.Any("error", err))
		if status == http.StatusOK {
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}
	}
}

func (h *Handler) showLogin(w http.ResponseWriter, r *http.Request) {
	store := StoreFromContext(r.Context())
	if store != nil && store.Snapshot().Authenticated() {
		http.Redirect(w, r, "/dashboard", http.StatusSeeOther)
		return
	}
	h.render(w, r, http.StatusOK, "pages/login.html", "Sign in", nil, loginPageData{})
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	store := StoreFromContext(r.Context())
	if store == nil {
		h.logger.Error("auth store missing during login")
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	form := loginForm{
		Email:    strings.TrimSpace(r.PostFormValue("email")),
		Password: r.PostFormValue("password"),
	}
	data := loginPageData{Form: loginForm{Email: form.Email}}
	if err := h.validator.Struct(form); err != nil {
		h.render(w, r, http.StatusBadRequest, "pages/login.html", "Sign in", errorFlash(describe(err)), data)
		return
	}

	mustChange, err := store.Login(r.Context(), Credentials{Email: form.Email, Password: form.Password})
	if errors.Is(err, shared.ErrLoginSuperseded) {
		http.Redirect(w, r, "/login", http.StatusSeeOther)
		return
	}
	if err != nil {
		h.logger.Info("login failed", slog.String("email", form.Email), slog.Any("error", err))
		reason := store.Snapshot().Reason
		if reason == "" {
			reason = FailureReason(err, loginFallbackReason)
		}
		h.render(w, r, http.StatusBadRequest, "pages/login.html", "Sign in", errorFlash(reason), data)
		return
	}

	user := store.Snapshot().User
	if user == nil {
		http.Redirect(w, r, "/login", http.StatusSeeOther)
		return
	}
	if mustChange && !user.IsAdmin() {
		http.Redirect(w, r, "/change-password-required", http.StatusSeeOther)
		return
	}
	if sess := shared.SessionFromContext(r.Context()); sess != nil {
		sess.AddFlash(shared.FlashMessage{Kind: "success", Message: "Welcome back, " + user.DisplayName()})
	}
	http.Redirect(w, r, "/dashboard", http.StatusSeeOther)
}

func (h *Handler) handleAcknowledge(w http.ResponseWriter, r *http.Request) {
	if store := StoreFromContext(r.Context()); store != nil {
		store.AcknowledgeNotice()
	}
	http.Redirect(w, r, "/login", http.StatusSeeOther)
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	if store := StoreFromContext(r.Context()); store != nil {
		if err := store.Logout(r.Context()); err != nil {
			h.logger.Warn("logout", slog.Any("error", err))
		}
	}
	if sess := shared.SessionFromContext(r.Context()); sess != nil {
		sess.Delete(shared.CSRFSessionKey)
		sess.AddFlash(shared.FlashMessage{Kind: "success", Message: "You have been signed out."})
	}
	http.Redirect(w, r, "/login", http.StatusSeeOther)
}

func (h *Handler) showChangePassword(w http.ResponseWriter, r *http.Request) {
	snap := SnapshotFromContext(r.Context())
	if snap.User == nil {
		http.Redirect(w, r, "/login", http.StatusSeeOther)
		return
	}
	if !snap.MustChangePassword {
		http.Redirect(w, r, "/dashboard", http.StatusSeeOther)
		return
	}
	h.render(w, r, http.StatusOK, "pages/change_password.html", "Change password", nil, nil)
}

func (h *Handler) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	store := StoreFromContext(r.Context())
	if store == nil {
		http.Redirect(w, r, "/login", http.StatusSeeOther)
		return
	}
	form := passwordForm{
		OldPassword:     r.PostFormValue("old_password"),
		NewPassword:     r.PostFormValue("new_password"),
		ConfirmPassword: r.PostFormValue("confirm_password"),
	}
	if err := h.validator.Struct(form); err != nil {
		h.render(w, r, http.StatusBadRequest, "pages/change_password.html", "Change password", errorFlash(describe(err)), nil)
		return
	}
	err := store.ChangePassword(r.Context(), PasswordChange{OldPassword: form.OldPassword, NewPassword: form.NewPassword})
	if err != nil {
		if !store.Snapshot().Authenticated() {
			http.Redirect(w, r, "/login", http.StatusSeeOther)
			return
		}
		h.render(w, r, http.StatusBadRequest, "pages/change_password.html", "Change password",
			errorFlash(FailureReason(err, "Password change failed")), nil)
		return
	}
	if sess := shared.SessionFromContext(r.Context()); sess != nil {
		sess.AddFlash(shared.FlashMessage{Kind: "success", Message: "Your password has been changed."})
	}
	http.Redirect(w, r, "/dashboard", http.StatusSeeOther)
}

func (h *Handler) showProfile(w http.ResponseWriter, r *http.Request) {
	user := SnapshotFromContext(r.Context()).User
	if user == nil {
		http.Redirect(w, r, "/login", http.StatusSeeOther)
		return
	}
	h.render(w, r, http.StatusOK, "pages/profile.html", "Profile", nil, profileFormFrom(user))
}

func (h *Handler) handleProfile(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	store := StoreFromContext(r.Context())
	current := SnapshotFromContext(r.Context()).User
	if store == nil || current == nil {
		http.Redirect(w, r, "/login", http.StatusSeeOther)
		return
	}
	form := profileForm{
		FirstName: strings.TrimSpace(r.PostFormValue("first_name")),
		LastName:  strings.TrimSpace(r.PostFormValue("last_name")),
		Email:     strings.TrimSpace(r.PostFormValue("email")),
		Phone:     strings.TrimSpace(r.PostFormValue("phone")),
		Avatar:    strings.TrimSpace(r.PostFormValue("avatar")),
	}
	if err := h.validator.Struct(form); err != nil {
		h.render(w, r, http.StatusBadRequest, "pages/profile.html", "Profile", errorFlash(describe(err)), form)
		return
	}

	patch := changedFields(current, form)
	if _, err := store.UpdateProfile(r.Context(), patch); err != nil {
		if !store.Snapshot().Authenticated() {
			http.Redirect(w, r, "/login", http.StatusSeeOther)
			return
		}
		h.logger.Info("profile update rejected", slog.Any("error", err))
		h.render(w, r, http.StatusBadRequest, "pages/profile.html", "Profile",
			errorFlash(FailureReason(err, "Profile update failed")), form)
		return
	}
	if sess := shared.SessionFromContext(r.Context()); sess != nil {
		sess.AddFlash(shared.FlashMessage{Kind: "success", Message: "Profile updated."})
	}
	http.Redirect(w, r, "/profile", http.StatusSeeOther)
}

func profileFormFrom(u *User) profileForm {
	if u == nil {
		return profileForm{}
	}
	return profileForm{FirstName: u.FirstName, LastName: u.LastName, Email: u.Email, Phone: u.Phone, Avatar: u.Avatar}
}

// changedFields keeps only the fields the form actually changed.
func changedFields(current *User, form profileForm) UserPatch {
	before := profileFormFrom(current)
	var patch UserPatch
	if form.FirstName != before.FirstName {
		patch.FirstName = &form.FirstName
	}
	if form.LastName != before.LastName {
		patch.LastName = &form.LastName
	}
	if form.Email != before.Email {
		patch.Email = &form.Email
	}
	if form.Phone != before.Phone {
		patch.Phone = &form.Phone
	}
	if form.Avatar != before.Avatar {
		patch.Avatar = &form.Avatar
	}
	return patch
}

func errorFlash(msg string) *shared.FlashMessage {
	return &shared.FlashMessage{Kind: "error", Message: msg}
}

var fieldLabels = map[string]string{
	"Email":           "Email",
	"Password":        "Password",
	"OldPassword":     "Current password",
	"NewPassword":     "New password",
	"ConfirmPassword": "Password confirmation",
	"FirstName":       "First name",
	"LastName":        "Last name",
	"Phone":           "Phone",
	"Avatar":          "Avatar",
}

// describe turns the first validation failure into a sentence for a flash message.
func describe(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return "The form contains invalid values."
	}
	fe := verrs[0]
	label := fieldLabels[fe.Field()]
	if label == "" {
		label = fe.Field()
	}
	switch fe.Tag() {
	case "required":
		return label + " is required."
	case "email":
		return "Enter a valid email address."
	case "min":
		return fmt.Sprintf("%s must be at least %s characters.", label, fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s characters.", label, fe.Param())
	case "eqfield":
		return "Passwords do not match."
	case "nefield":
		return "The new password must differ from the current one."
	case "url":
		return label + " must be a valid URL."
	default:
		return label + " is invalid."
	}
}
