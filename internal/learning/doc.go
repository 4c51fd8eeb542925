// Package learning implements the progressive learning gate.
//
// The gate counts validated examples, overall and per category, and derives
// everything else from those counts: the maturity phase (manual, assisted,
// autonomous), which capabilities are unlocked, the dynamic per-category
// confidence floor and the per-category confidence threshold. All derived
// functions are pure and monotone in the counts, so a capability once
// unlocked is never revoked as evidence grows.
//
// Counter writes are serialized through Gate.Record, which persists the
// increment transactionally before publishing it in memory. Storage refuses
// to count the same example twice.
package learning
