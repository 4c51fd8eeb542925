package generator

import (
	"context"
	"strings"

	"github.com/dshills/triage-mcp/internal/resilience"
)

// TemplateProvider assembles a reply from the payload's reference answers
// without calling out. It keeps the chain usable when no API keys are
// configured, and is a safe last entry in a fallback list.
type TemplateProvider struct {
	name string
}

// NewTemplateProvider creates an offline provider
func NewTemplateProvider(name string) *TemplateProvider {
	return &TemplateProvider{name: defaultString(name, KindTemplate)}
}

func (p *TemplateProvider) Name() string { return p.name }

func (p *TemplateProvider) Generate(ctx context.Context, payload resilience.Payload) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if len(payload.Examples) == 0 {
		return "", &resilience.ClassifiedError{Class: resilience.ClassTransient, Provider: p.name, Err: ErrEmptyCompletion}
	}

	var b strings.Builder
	b.WriteString(strings.TrimSpace(payload.Examples[0]))
	if payload.Kind == resilience.KindResearch && len(payload.Examples) > 1 {
		b.WriteString("\n\nRelated guidance:")
		for _, ex := range payload.Examples[1:] {
			b.WriteString("\n- ")
			b.WriteString(firstLine(ex))
		}
	}
	return b.String(), nil
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[:i])
	}
	return s
}
