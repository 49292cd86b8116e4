package alerting

import (
	"bytes"
	"embed"
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/bissquit/triage-garden/internal/domain"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

//go:embed templates/*.tmpl
var templatesFS embed.FS

var titleCaser = cases.Title(language.English)

// Renderer renders discrepancy alerts.
type Renderer struct {
	body *template.Template
}

type templateData struct {
	SessionID   string
	Discrepancy domain.Discrepancy
}

// NewRenderer creates a new renderer and parses the embedded template.
func NewRenderer() (*Renderer, error) {
	funcMap := template.FuncMap{
		"categoryTitle": categoryTitle,
		"upper":         strings.ToUpper,
		"formatTime":    formatTime,
	}

	tmpl, err := template.New("discrepancy.tmpl").Funcs(funcMap).ParseFS(templatesFS, "templates/discrepancy.tmpl")
	if err != nil {
		return nil, fmt.Errorf("parse template: %w", err)
	}
	return &Renderer{body: tmpl}, nil
}

// Render returns the subject and body of the alert for a discrepancy.
func (r *Renderer) Render(sessionID string, d domain.Discrepancy) (subject, body string, err error) {
	var buf bytes.Buffer
	if err := r.body.Execute(&buf, templateData{SessionID: sessionID, Discrepancy: d}); err != nil {
		return "", "", fmt.Errorf("execute template: %w", err)
	}

	subject = fmt.Sprintf("%s discrepancy: %s on %s",
		titleCaser.String(string(d.Severity)), categoryTitle(d.Category), d.Hostname)
	return subject, buf.String(), nil
}

func categoryTitle(c domain.DiscrepancyCategory) string {
	return titleCaser.String(strings.ReplaceAll(string(c), "_", " "))
}

func formatTime(t time.Time) string {
	return t.UTC().Format("2006-01-02 15:04:05 UTC")
}
