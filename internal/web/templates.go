package web

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"net/http"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"neuron/internal/burndown"
	"neuron/internal/domain"
)

//go:embed templates/*.html
var templateFS embed.FS

var funcMap = template.FuncMap{
	"comma": func(n int) string { return humanize.Comma(int64(n)) },
	"money": money,
	"pct":   func(f float64) string { return humanize.FtoaWithDigits(f, 1) + "%" },
	"label": burndown.Label,
	"ago": func(ts string) string {
		t, err := time.Parse(time.RFC3339, ts)
		if err != nil {
			return ts
		}
		return humanize.Time(t)
	},
	"remaining": func(total, completed int) int { return total - completed },
	"statuses": func() []string {
		return []string{domain.InitiativePlanned, domain.InitiativeActive, domain.InitiativeBlocked, domain.InitiativeDone}
	},
}

// money renders cents with thousands separators, e.g. 1,234.56.
func money(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s%s.%02d", sign, humanize.Comma(cents/100), cents%100)
}

func parseTemplates() (*template.Template, error) {
	t, err := template.New("").Funcs(funcMap).ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("parsing templates: %w", err)
	}
	return t, nil
}

// render buffers the page so a template failure never sends half a page.
func (h *Handler) render(w http.ResponseWriter, status int, name string, data any) {
	var buf bytes.Buffer
	if err := h.templates.ExecuteTemplate(&buf, name, data); err != nil {
		h.logger.Error("render template", zap.String("template", name), zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}
