// Package types provides shared type definitions for the triage service.
//
// This package defines domain types used across multiple components, including
// knowledge items, validated examples, routing decisions, conversation state
// and queued failed operations.
//
// # Core Types
//
// KnowledgeItem is a curated or auto-generated answer for a class of support
// request, stored with its embedding for similarity search:
//
//	item := &types.KnowledgeItem{
//	    Title:    "Levy payment plan request",
//	    Body:     "Owners may apply to the committee for a payment plan...",
//	    Category: "levies",
//	}
//
// ValidatedExample is a human-confirmed (request, response) pair. It is the
// only input that grows the learning gate's counters:
//
//	ex := &types.ValidatedExample{
//	    RequestText:  "Can I pay my levies monthly?",
//	    ResponseText: "Yes, the committee can approve...",
//	    Category:     "levies",
//	    Weight:       types.DefaultExampleWeight,
//	}
//
// RoutingDecision records the single path chosen for a request. Decisions are
// immutable once created and are appended to the audit log:
//
//	decision.Path                // types.PathAutoRespond, PathDraft, ...
//	decision.RequiresHumanReview // true for every path except AUTO_RESPOND
//
// # Validation
//
// Domain types implement Validate methods that return the sentinel errors in
// errors.go:
//
//	if err := item.Validate(); err != nil {
//	    return fmt.Errorf("invalid knowledge item: %w", err)
//	}
//
// # Similarity Scores
//
// Similarity values on KnowledgeMatch and RoutingDecision are normalized to
// [0, 1], higher meaning a closer match. Fused RRF scores are small positive
// numbers used only for ordering.
package types
