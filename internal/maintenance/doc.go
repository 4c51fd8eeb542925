// Package maintenance runs the scheduled upkeep of the knowledge base and
// the retry queue on robfig/cron:
//
//   - success-rate recompute from the outcome log
//   - staleness flagging for items unused longer than the window (180 days)
//   - duplicate flagging for items whose embeddings are near-identical
//     (cosine >= 0.98) to an older item
//   - periodic retry-queue sweeps
//
// Each job can also be run directly, which is what the CLI's one-shot
// commands and the tests do.
package maintenance
