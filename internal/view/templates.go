// Package view renders the console's server-side HTML.
package view

import (
	"fmt"
	"html/template"
	"net/http"
	"strings"
	"time"

	"github.com/rooby-r/sygla-h2o-sub001/internal/rbac"
	"github.com/rooby-r/sygla-h2o-sub001/internal/shared"
	"github.com/rooby-r/sygla-h2o-sub001/web"
)

// Engine renders HTML templates.
type Engine struct {
	templates *template.Template
}

// Viewer describes the logged in user for the page chrome.
type Viewer struct {
	Name   string
	Email  string
	Role   rbac.Role
	Avatar string
}

// RoleName renders the viewer's role for humans.
func (v *Viewer) RoleName() string {
	if v == nil {
		return ""
	}
	return v.Role.DisplayName()
}

// TemplateData contains values shared across templates.
type TemplateData struct {
	Title       string
	CSRFToken   string
	Flash       *shared.FlashMessage
	CurrentPath string
	Viewer      *Viewer
	Menu        []rbac.MenuEntry
	Unread      int
	// Notice is the forced logout message the login page must show until acknowledged.
	Notice string
	Data   any
}

// NewEngine parses templates at build-time.
func NewEngine() (*Engine, error) {
	funcMap := template.FuncMap{
		"formatDate": func(t time.Time) string {
			if t.IsZero() {
				return ""
			}
			return t.Format("02 Jan 2006 15:04")
		},
		"isActive": func(current, path string) bool {
			return current == path || strings.HasPrefix(current, path+"/")
		},
		"initials": func(name string) string {
			var out []rune
			for _, part := range strings.Fields(name) {
				out = append(out, []rune(strings.ToUpper(part))[0])
				if len(out) == 2 {
					break
				}
			}
			return string(out)
		},
	}
	tpl, err := template.New("root").Funcs(funcMap).ParseFS(web.Templates, "templates/layouts/*.html", "templates/partials/*.html", "templates/pages/*.html")
	if err != nil {
		return nil, err
	}
	return &Engine{templates: tpl}, nil
}

// Render executes a named template with TemplateData.
func (e *Engine) Render(w http.ResponseWriter, name string, data TemplateData) error {
	if e == nil {
		return fmt.Errorf("template engine not initialised")
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	return e.templates.ExecuteTemplate(w, name, data)
}
