package generator

import (
	"fmt"
	"strings"

	"github.com/dshills/triage-mcp/internal/resilience"
)

const (
	defaultGenerateSystem = "You answer questions from strata lot owners and residents on behalf of the building manager. " +
		"Be accurate, brief and courteous. Use the reference answers when they apply and do not invent by-law numbers."
	defaultResearchSystem = "You research strata and body-corporate questions. Cite legislation, by-laws or tribunal " +
		"decisions where possible and state clearly when the answer is uncertain."
)

// systemPrompt returns the payload's system prompt or the default for its kind
func systemPrompt(p resilience.Payload) string {
	if p.System != "" {
		return p.System
	}
	if p.Kind == resilience.KindResearch {
		return defaultResearchSystem
	}
	return defaultGenerateSystem
}

// userPrompt folds reference answers ahead of the request text
func userPrompt(p resilience.Payload) string {
	if len(p.Examples) == 0 {
		return p.Prompt
	}
	var b strings.Builder
	b.WriteString("Reference answers:\n")
	for i, ex := range p.Examples {
		fmt.Fprintf(&b, "\n[%d] %s\n", i+1, strings.TrimSpace(ex))
	}
	b.WriteString("\nRequest:\n")
	b.WriteString(p.Prompt)
	return b.String()
}

func maxTokens(p resilience.Payload, def int) int {
	if p.MaxTokens > 0 {
		return p.MaxTokens
	}
	return def
}
