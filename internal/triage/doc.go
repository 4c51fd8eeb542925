// Package triage is the request pipeline:
//
//	request -> retriever -> learning gate -> routing engine -> [provider chain] -> outcome
//
// Every request leaves with an answer or a human owner. When generation
// fails or is parked in the retry queue the decision is overridden to
// ESCALATE and the override is audited alongside the original decision.
//
// Feedback closes the loop: a successful outcome becomes a validated
// example that the learning gate counts, repeat feedback adjusts the
// example's weight, and highly rated answers are indexed as new knowledge.
package triage
