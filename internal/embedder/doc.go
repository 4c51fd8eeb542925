// Package embedder generates vector embeddings for knowledge items and
// incoming requests.
//
// Two provider families are supported. HTTPProvider talks to any
// OpenAI-compatible /embeddings endpoint (OpenAI, Jina) through resty and
// retries transient failures with capped exponential backoff. Non-2xx
// responses surface as *resilience.HTTPError so callers can classify them.
// LocalProvider hashes word and trigram features into a fixed-size vector
// and needs no network, which keeps development and tests offline.
//
//	emb, err := embedder.New(embedder.Config{Provider: "openai", APIKey: key, CacheSize: 10000})
//	if err != nil {
//	    return err
//	}
//	vec, err := emb.Embed(ctx, "Can I park in the visitor stalls overnight?")
//
// Embeddings are cached by provider, model and SHA-256 of the text; batch
// calls only send cache misses upstream.
package embedder
