package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/dshills/gochunk/pkg/types"
)

var (
	// ErrNotFound is returned when a requested entity doesn't exist
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists is returned when an append would rewrite an existing chunk
	ErrAlreadyExists = errors.New("already exists")
)

// Metadata keys recorded with a corpus
const (
	MetaTokenizerScheme = "tokenizer_scheme"
	MetaLastRunAt       = "last_run_at"
)

// Backend names
const (
	BackendSQLite = "sqlite"
	BackendJSONL  = "jsonl"
)

// Store is the append-only output store for chunks, keyed by chunk ID
type Store interface {
	// ProcessedStems returns the set of document stems that already have chunks
	ProcessedStems(ctx context.Context) (map[string]struct{}, error)

	// AppendChunks inserts chunks in order as one atomic unit. Existing chunks are
	// never rewritten: if any ID is already present nothing is written and
	// ErrAlreadyExists is returned.
	AppendChunks(ctx context.Context, chunks []*types.Chunk) error

	// Chunk queries
	GetChunk(ctx context.Context, id string) (*types.Chunk, error)
	ListChunks(ctx context.Context, filter *ChunkFilter) ([]*types.Chunk, error)

	// Corpus metadata
	GetMetadata(ctx context.Context, key string) (string, error)
	SetMetadata(ctx context.Context, key, value string) error

	// Status operations
	Status(ctx context.Context) (*Status, error)

	// ReplaceAll swaps the whole corpus for chunks and meta as one unit: every
	// existing chunk, embedding and metadata key is dropped. On error the previous
	// contents are left untouched. Only a full rebuild calls it.
	ReplaceAll(ctx context.Context, chunks []*types.Chunk, meta map[string]string) error

	Close() error
}

// EmbeddingStore is implemented by stores that also persist chunk vectors
type EmbeddingStore interface {
	Store

	UpsertEmbedding(ctx context.Context, embedding *Embedding) error
	GetEmbedding(ctx context.Context, chunkID string) (*Embedding, error)

	// ListChunksWithoutEmbedding returns chunks in append order that have no vector yet
	ListChunksWithoutEmbedding(ctx context.Context, limit int) ([]*types.Chunk, error)
}

// Embedding represents a vector embedding for a chunk
type Embedding struct {
	ChunkID   string
	Vector    []byte // Serialized float32 array
	Dimension int
	Provider  string
	Model     string
	CreatedAt time.Time
}

// ChunkFilter narrows chunk listings. Zero fields match everything.
type ChunkFilter struct {
	Stem     string
	Source   string
	Type     types.ChunkType
	Language string
	Limit    int
	Offset   int
}

// Match reports whether c passes the filter's field conditions (limit and offset excluded)
func (f *ChunkFilter) Match(c *types.Chunk) bool {
	if f == nil {
		return true
	}
	if f.Stem != "" && types.StemFromID(c.ID) != f.Stem {
		return false
	}
	if f.Source != "" && c.Source != f.Source {
		return false
	}
	if f.Type != "" && c.Type != f.Type {
		return false
	}
	if f.Language != "" && c.Language != f.Language {
		return false
	}
	return true
}

// Status contains statistics about the output store
type Status struct {
	Backend         string
	Path            string
	SchemaVersion   string
	TokenizerScheme string
	ChunksCount     int
	DocumentsCount  int
	TokensCount     int
	ChunksByType    map[types.ChunkType]int
	EmbeddingsCount int
	SizeMB          float64
	LastRunAt       time.Time
}

// sortedKeys returns meta's keys in a stable order
func sortedKeys(meta map[string]string) []string {
	keys := make([]string, 0, len(meta))
	for k := range meta {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Open opens the store of the given backend at path
func Open(backend, path string) (Store, error) {
	switch backend {
	case BackendSQLite, "":
		return NewSQLiteStorage(path)
	case BackendJSONL:
		return NewJSONLStore(path)
	default:
		return nil, fmt.Errorf("unknown store backend %q", backend)
	}
}
