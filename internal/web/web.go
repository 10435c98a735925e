// Package web renders the HTML pages and serves their static assets.
package web

import (
	"embed"
	"encoding/json"
	"fmt"
	"html/template"
	"io"
	"io/fs"
	"net/http"
	"path"
	"strings"

	"github.com/asksql/asksql/internal/nl2sql"
	"github.com/asksql/asksql/internal/present"
	"github.com/asksql/asksql/internal/schema"
)

//go:embed templates/*.html
var templateFS embed.FS

//go:embed all:static
var staticFS embed.FS

type IndexData struct {
	Question      string
	Error         string
	HasCredential bool
	Tables        []schema.Table
}

type Pages struct {
	templates *template.Template
}

func LoadPages() (*Pages, error) {
	tmpl, err := template.New("pages").Funcs(template.FuncMap{
		"cell":            formatCell,
		"deref":           deref,
		"toJSON":          toJSON,
		"credentialError": isCredentialCode,
	}).ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("parse page templates: %w", err)
	}
	return &Pages{templates: tmpl}, nil
}

func (p *Pages) RenderIndex(w io.Writer, data IndexData) error {
	return p.templates.ExecuteTemplate(w, "index.html", data)
}

func (p *Pages) RenderResult(w io.Writer, view present.View) error {
	return p.templates.ExecuteTemplate(w, "result.html", view)
}

// StaticHandler serves the embedded assets. Mount it under /static/ with the
// prefix stripped.
func StaticHandler() http.Handler {
	sub, err := fs.Sub(staticFS, "static")
	if err != nil {
		return http.NotFoundHandler()
	}
	fileServer := http.FileServer(http.FS(sub))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cleanPath := path.Clean(strings.TrimPrefix(r.URL.Path, "/"))
		if cleanPath == "." || cleanPath == "" {
			http.NotFound(w, r)
			return
		}
		if _, err := fs.Stat(sub, cleanPath); err != nil {
			http.NotFound(w, r)
			return
		}
		fileServer.ServeHTTP(w, r)
	})
}

func formatCell(value any) string {
	if value == nil {
		return "NULL"
	}
	return fmt.Sprint(value)
}

func deref(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}

func toJSON(value any) string {
	raw, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return fmt.Sprint(value)
	}
	return string(raw)
}

func isCredentialCode(code string) bool {
	return code == nl2sql.CodeCredentialMissing || code == nl2sql.CodeCredentialInvalid
}
