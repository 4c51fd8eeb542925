// Package retriever implements hybrid knowledge retrieval.
//
// A query runs against the similarity index twice, concurrently: once as a
// vector nearest-neighbour search over embeddings and once as a trigram
// keyword search. The two ranked lists are fused with Reciprocal Rank
// Fusion:
//
//	score(item) = Σ 1 / (k + rank)
//
// summed over the lists the item appears in, with 1-based ranks and k = 60
// by default. An item ranked first in both lists scores exactly 2/61; an
// item present in only one list still receives that list's contribution.
//
// Each match keeps its original vector and keyword similarities, which are
// what the routing engine compares against its thresholds. If the vector
// side fails (no embedding, embedder error or index error) the response is
// ranked by keyword alone and marked Degraded; a keyword failure alone
// degrades to vector-only ranking. Only when both sides fail is an error
// returned.
//
// Retrieval is a pure read. Healthy responses may be cached in an LRU keyed
// by a SHA-256 of the query parameters; call InvalidateCache after ingesting
// knowledge.
package retriever
