// Package indexer loads curated knowledge into the similarity index.
//
// Seed files are YAML (or JSON, which parses as YAML) holding either a list
// of items or a document with an "items" key:
//
//	items:
//	  - title: Visitor parking
//	    category: parking
//	    body: |
//	      Visitor parking is on P1 and limited to 24 hours.
//
// The pipeline is read -> prepare -> embed -> upsert. Items are processed
// in batches by a bounded errgroup; each batch makes one embedding call.
// Items whose content hash is already stored with an embedding are skipped,
// so re-running an ingest over unchanged files is cheap.
//
// Only one ingest runs at a time per Indexer. A second concurrent call
// returns ErrIngestInProgress instead of blocking.
package indexer
