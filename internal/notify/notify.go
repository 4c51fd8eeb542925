package notify

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Severity of an operator alert
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityWarning  Severity = "warning"
	SeverityInfo     Severity = "info"
)

// Alert kinds
const (
	KindCriticalError      = "critical_error"
	KindManualIntervention = "manual_intervention"
	KindSystematicError    = "systematic_error"
	KindReplayCompleted    = "replay_completed"
)

// Alert is a single operator notification
type Alert struct {
	Kind        string
	Severity    Severity
	Provider    string
	OperationID string
	Summary     string
	Details     map[string]string
	OccurredAt  time.Time
}

// Text renders the alert as a single line followed by sorted details
func (a Alert) Text() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s", strings.ToUpper(string(a.Severity)), a.Summary)
	if a.Provider != "" {
		fmt.Fprintf(&b, " (provider=%s)", a.Provider)
	}
	if a.OperationID != "" {
		fmt.Fprintf(&b, " (operation=%s)", a.OperationID)
	}
	keys := make([]string, 0, len(a.Details))
	for k := range a.Details {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "\n%s: %s", k, a.Details[k])
	}
	return b.String()
}

// Notifier accepts alerts without blocking the caller
type Notifier interface {
	Notify(ctx context.Context, alert Alert)
}

// Sink delivers an alert to one destination
type Sink interface {
	Name() string
	Send(ctx context.Context, alert Alert) error
}

// Nop discards every alert
type Nop struct{}

func (Nop) Notify(context.Context, Alert) {}
