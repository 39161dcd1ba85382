// Package pipeline coordinates the end-to-end chunking run over a corpus.
//
// The driver orchestrates source identification, section splitting,
// subdivision and classification, and appends the result to the store.
//
// # Basic Usage
//
//	d := pipeline.New(store, chunker, source.DefaultRegistry(), counter, log)
//
//	stats, err := d.Run(ctx, pipeline.NewDirSource("data/processed", ""), pipeline.Options{
//	    Workers: 4,
//	    Clean:   true,
//	})
//
//	fmt.Printf("Created %d chunks from %d documents\n", stats.ChunksCreated, stats.DocumentsProcessed)
//
// # Run Stages
//
//  1. Scheme check: the store's tokenizer scheme must match the counter
//  2. Incremental decision: one query for the stems already in the store
//  3. Chunk: read, clean, identify and chunk each pending document (parallel)
//  4. Append: every new chunk in one atomic append, in document order
//
// # Incremental Runs
//
// A document whose stem owns any stored chunk is skipped, so a second run
// over the same corpus creates nothing. Rebuild reprocesses everything and
// replaces the stored corpus only when the new one is committed; it is
// required after a tokenizer change.
//
// An unreadable document is logged, counted in Statistics.DocumentsFailed and
// left out of the append; it is retried on the next run.
//
// # Embedding
//
// EmbedStage fills embeddings for stored chunks that have none, in batches,
// and only runs against a store implementing storage.EmbeddingStore.
package pipeline
