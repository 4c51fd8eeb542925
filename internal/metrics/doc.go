// Package metrics exposes Prometheus collectors for the triage pipeline:
// provider calls, circuit states, retry queue depth, learning progress,
// routing outcomes and similarity distributions.
//
// Metrics implements the observer interfaces of the resilience, learning
// and routing packages so those packages stay free of Prometheus imports.
package metrics
