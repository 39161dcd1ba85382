// Package embedder turns chunk text into vector embeddings.
//
// Three providers implement Embedder:
//   - openai: the OpenAI /v1/embeddings API
//   - jina: the Jina AI embeddings API (same wire format)
//   - local: deterministic hash-derived unit vectors, no network
//
// # Basic Usage
//
//	emb, err := embedder.New(embedder.Config{
//	    Provider: "openai",
//	    APIKey:   os.Getenv("OPENAI_API_KEY"),
//	})
//	if err != nil {
//	    return err
//	}
//	defer emb.Close()
//
//	vectors, err := emb.GenerateBatch(ctx, texts)
//
// An empty Provider selects openai when an API key is present and local
// otherwise.
//
// # Caching
//
// Providers share an LRU Cache keyed by the SHA-256 of the text. A batch only
// sends the texts missing from the cache.
//
// # Retries
//
// API calls are retried with capped exponential backoff on transport errors,
// 429 and 5xx responses. Other 4xx responses fail immediately.
package embedder
