// Package textprep normalizes knowledge and request text before it reaches
// the embedder or the similarity index.
//
// A Preparer fills the derived fields of a KnowledgeItem: trimmed title and
// body, the content hash used for upsert deduplication, and a keyword set
// extracted from the text. The package also provides the trigram measures
// used by keyword search, modelled on PostgreSQL's pg_trgm:
//
//   - TrigramSimilarity: shared trigrams over the union of both sets
//   - WordSimilarity: share of the query's trigrams found in the document
//
// Both return values in [0, 1]. Trigrams are taken per word with two leading
// blanks and one trailing blank, so "rent" yields "  r", " re", "ren", "ent"
// and "nt ".
//
// Token counts are estimated at four characters per token, which is close
// enough for prompt budgeting and body truncation.
package textprep
