// Package resilience makes calls to external generation and research
// providers fail safely.
//
// Errors are classified as transient, systematic or critical. Each provider
// sits behind its own circuit breaker, an explicit closed/open/half-open
// state machine driven by an injected Clock. A Chain walks an ordered list
// of providers: transient failures fall through to the next provider,
// systematic failures abort and surface, critical failures abort and alert
// an operator. When every provider is exhausted the unit of work is parked
// in a durable retry queue and the caller receives ErrQueued. A Sweeper
// replays due operations in the background with capped exponential backoff
// and converts exhausted ones into manual-intervention alerts.
package resilience
