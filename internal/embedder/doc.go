// Package embedder generates dense vectors for paper chunks and queries.
//
// Providers: Jina AI and OpenAI (OpenAI-compatible /embeddings endpoint),
// Ollama (local server, /api/embeddings) and a local hashing embedder that
// needs no network. All providers share the LRU cache keyed by model and
// text, and remote providers retry transient failures with exponential
// backoff.
//
//	emb, err := embedder.New(embedder.Config{Provider: "ollama", CacheSize: 10000})
//	if err != nil {
//	    return err
//	}
//	defer emb.Close()
//
//	vectors, err := embedder.EmbedTexts(ctx, emb, texts, embedder.DefaultBatchSize)
//
// EmbedTexts preserves input order and rejects vectors whose length differs
// from Dimension(), so a misconfigured model fails ingestion instead of
// silently writing unsearchable points.
package embedder
