// Package routing converts a fused similarity score, the learning gate's
// example count and request attributes into exactly one action.
//
// Rules are an ordered list evaluated top to bottom; the first match wins
// and a mandatory fallback escalates anything left over:
//
//	ESCALATE       priority urgent/critical, complexity > 4, human review requested,
//	               or the customer conversation is escalation-ready
//	AUTO_RESPOND   s > 0.85 and n > 100
//	AUTO_REFINE    0.75 <= s <= 0.85 and n > 100
//	DRAFT          0.50 <= s < 0.75 and n > 30
//	DEEP_RESEARCH  s < 0.50
//	ESCALATE       fallback
//
// All thresholds are policy values from Config. Every decision is appended
// to an audit sink.
package routing
