package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/dshills/gochunk/internal/embedder"
	"github.com/dshills/gochunk/internal/logger"
	"github.com/dshills/gochunk/internal/storage"
)

// DefaultEmbedBatch is the number of chunks sent to the embedder per call
const DefaultEmbedBatch = 50

// EmbedStage embeds stored chunks that have no embedding yet
type EmbedStage struct {
	store    storage.EmbeddingStore
	embedder embedder.Embedder
	batch    int
	logger   logger.Logger
}

// EmbedStatistics summarizes an embedding pass
type EmbedStatistics struct {
	ChunksEmbedded int
	Batches        int
	Provider       string
	Model          string
	Duration       time.Duration
}

// NewEmbedStage creates the stage. A non-positive batch selects DefaultEmbedBatch.
func NewEmbedStage(store storage.EmbeddingStore, emb embedder.Embedder, batch int, log logger.Logger) *EmbedStage {
	if batch <= 0 {
		batch = DefaultEmbedBatch
	}
	if batch > embedder.MaxBatchSize {
		batch = embedder.MaxBatchSize
	}
	if log == nil {
		log = logger.Nop()
	}
	return &EmbedStage{store: store, embedder: emb, batch: batch, logger: log}
}

// Run embeds pending chunks batch by batch until none are left
func (s *EmbedStage) Run(ctx context.Context) (*EmbedStatistics, error) {
	startTime := time.Now()
	stats := &EmbedStatistics{
		Provider: s.embedder.Provider(),
		Model:    s.embedder.Model(),
	}

	for {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		chunks, err := s.store.ListChunksWithoutEmbedding(ctx, s.batch)
		if err != nil {
			return stats, fmt.Errorf("failed to list chunks without embedding: %w", err)
		}
		if len(chunks) == 0 {
			break
		}

		texts := make([]string, len(chunks))
		for i, c := range chunks {
			texts[i] = c.Text
		}

		embeddings, err := s.embedder.GenerateBatch(ctx, texts)
		if err != nil {
			return stats, fmt.Errorf("failed to embed batch starting at %s: %w", chunks[0].ID, err)
		}

		for i, emb := range embeddings {
			record := &storage.Embedding{
				ChunkID:   chunks[i].ID,
				Vector:    storage.SerializeVector(emb.Vector),
				Dimension: emb.Dimension,
				Provider:  emb.Provider,
				Model:     emb.Model,
			}
			if err := s.store.UpsertEmbedding(ctx, record); err != nil {
				return stats, fmt.Errorf("failed to store embedding for %s: %w", chunks[i].ID, err)
			}
		}

		stats.Batches++
		stats.ChunksEmbedded += len(chunks)
		s.logger.Debug("embedded batch", "size", len(chunks), "total", stats.ChunksEmbedded)
	}

	stats.Duration = time.Since(startTime)
	s.logger.Info("embedding complete",
		"chunks", stats.ChunksEmbedded,
		"batches", stats.Batches,
		"provider", stats.Provider,
		"model", stats.Model,
		"duration", stats.Duration)
	return stats, nil
}
