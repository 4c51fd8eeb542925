// Package notify delivers operator alerts for critical provider failures
// and abandoned retry-queue operations.
//
// Callers hand alerts to a Dispatcher, which never blocks: alerts are
// buffered and fanned out to the configured sinks (Slack incoming webhook,
// structured log) by a background goroutine.
package notify
