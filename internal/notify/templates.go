package notify

import (
	"fmt"
	"strings"
	"sync"
	"text/template"
)

const (
	TemplateOverdue = "sla_overdue"
	TemplateAtRisk  = "sla_at_risk"
)

// Templates compiles and renders named message bodies.
type Templates struct {
	mu        sync.RWMutex
	templates map[string]*template.Template
}

// NewTemplates seeds the store with the SLA alert bodies.
func NewTemplates() *Templates {
	t := &Templates{templates: make(map[string]*template.Template)}
	_ = t.Register(TemplateOverdue, `[{{.Priority}}] "{{.Title}}" ({{.OrderID}}) is {{printf "%.1f" .Hours}}h overdue in {{.Stage}}.`)
	_ = t.Register(TemplateAtRisk, `[{{.Priority}}] "{{.Title}}" ({{.OrderID}}) is due in {{printf "%.1f" .Hours}}h in {{.Stage}}.`)
	return t
}

// Register adds or replaces a template definition.
func (s *Templates) Register(name, body string) error {
	tmpl, err := template.New(name).Parse(body)
	if err != nil {
		return fmt.Errorf("parse template %s: %w", name, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.templates[name] = tmpl
	return nil
}

func (s *Templates) Render(name string, data any) (string, error) {
	s.mu.RLock()
	tmpl, ok := s.templates[name]
	s.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("template %s not found", name)
	}
	var out strings.Builder
	if err := tmpl.Execute(&out, data); err != nil {
		return "", fmt.Errorf("render template %s: %w", name, err)
	}
	return out.String(), nil
}
