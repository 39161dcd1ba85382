package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/dshills/gochunk/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newChunk(stem string, seq int, chunkType types.ChunkType) *types.Chunk {
	return &types.Chunk{
		ID:         types.ChunkID(stem, seq),
		Source:     "Source " + stem,
		Language:   "en",
		Section:    "Introduction",
		Type:       chunkType,
		Text:       fmt.Sprintf("text of %s chunk %d", stem, seq),
		TokenCount: 60 + seq,
	}
}

// backends opens a fresh store of every kind
func backends(t *testing.T) map[string]Store {
	t.Helper()
	dir := t.TempDir()

	sqlite, err := NewSQLiteStorage(filepath.Join(dir, "chunks.db"))
	require.NoError(t, err)
	jsonl, err := NewJSONLStore(filepath.Join(dir, "chunks.jsonl"))
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = sqlite.Close()
		_ = jsonl.Close()
	})
	return map[string]Store{BackendSQLite: sqlite, BackendJSONL: jsonl}
}

func TestStore_AppendAndGet(t *testing.T) {
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			page := 12
			first := newChunk("book", 0, types.ChunkChant)
			first.StartPage = &page

			require.NoError(t, store.AppendChunks(ctx, []*types.Chunk{first, newChunk("book", 1, types.ChunkTeaching)}))

			got, err := store.GetChunk(ctx, "book_0000")
			require.NoError(t, err)
			assert.Equal(t, first, got)

			got, err = store.GetChunk(ctx, "book_0001")
			require.NoError(t, err)
			assert.Nil(t, got.StartPage)

			_, err = store.GetChunk(ctx, "book_0099")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestStore_ProcessedStems(t *testing.T) {
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			stems, err := store.ProcessedStems(ctx)
			require.NoError(t, err)
			assert.Empty(t, stems)

			require.NoError(t, store.AppendChunks(ctx, []*types.Chunk{
				newChunk("wh095_Chang_Sixty", 0, types.ChunkTeaching),
				newChunk("wh095_Chang_Sixty", 1, types.ChunkTeaching),
				newChunk("bacot", 0, types.ChunkBiography),
			}))

			stems, err = store.ProcessedStems(ctx)
			require.NoError(t, err)
			assert.Equal(t, map[string]struct{}{"wh095_Chang_Sixty": {}, "bacot": {}}, stems)
		})
	}
}

func TestStore_AppendNeverRewrites(t *testing.T) {
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			original := newChunk("book", 0, types.ChunkTeaching)
			require.NoError(t, store.AppendChunks(ctx, []*types.Chunk{original}))

			rewrite := newChunk("book", 0, types.ChunkChant)
			rewrite.Text = "changed"
			err := store.AppendChunks(ctx, []*types.Chunk{newChunk("other", 0, types.ChunkTeaching), rewrite})
			assert.ErrorIs(t, err, ErrAlreadyExists)

			// The whole batch is rejected
			got, err := store.GetChunk(ctx, "book_0000")
			require.NoError(t, err)
			assert.Equal(t, original.Text, got.Text)
			_, err = store.GetChunk(ctx, "other_0000")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestStore_AppendDuplicateWithinBatch(t *testing.T) {
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			err := store.AppendChunks(ctx, []*types.Chunk{
				newChunk("book", 0, types.ChunkTeaching),
				newChunk("book", 0, types.ChunkChant),
			})
			assert.ErrorIs(t, err, ErrAlreadyExists)

			chunks, err := store.ListChunks(ctx, nil)
			require.NoError(t, err)
			assert.Empty(t, chunks)
		})
	}
}

func TestStore_AppendRejectsInvalid(t *testing.T) {
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			bad := newChunk("book", 0, types.ChunkTeaching)
			bad.Text = "   "
			err := store.AppendChunks(context.Background(), []*types.Chunk{bad})
			assert.ErrorIs(t, err, types.ErrEmptyContent)
		})
	}
}

func TestStore_ListChunks(t *testing.T) {
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, store.AppendChunks(ctx, []*types.Chunk{
				newChunk("b", 0, types.ChunkChant),
				newChunk("b", 1, types.ChunkTeaching),
				newChunk("b", 2, types.ChunkChant),
			}))
			fr := newChunk("a", 0, types.ChunkDialogue)
			fr.Language = "fr"
			require.NoError(t, store.AppendChunks(ctx, []*types.Chunk{fr}))

			all, err := store.ListChunks(ctx, nil)
			require.NoError(t, err)
			require.Len(t, all, 4)
			// Append order, not id order
			assert.Equal(t, []string{"b_0000", "b_0001", "b_0002", "a_0000"}, chunkIDs(all))

			chants, err := store.ListChunks(ctx, &ChunkFilter{Type: types.ChunkChant})
			require.NoError(t, err)
			assert.Equal(t, []string{"b_0000", "b_0002"}, chunkIDs(chants))

			byStem, err := store.ListChunks(ctx, &ChunkFilter{Stem: "a"})
			require.NoError(t, err)
			assert.Equal(t, []string{"a_0000"}, chunkIDs(byStem))

			byLang, err := store.ListChunks(ctx, &ChunkFilter{Language: "fr"})
			require.NoError(t, err)
			assert.Equal(t, []string{"a_0000"}, chunkIDs(byLang))

			bySource, err := store.ListChunks(ctx, &ChunkFilter{Source: "Source b", Offset: 1, Limit: 1})
			require.NoError(t, err)
			assert.Equal(t, []string{"b_0001"}, chunkIDs(bySource))

			offsetOnly, err := store.ListChunks(ctx, &ChunkFilter{Offset: 3})
			require.NoError(t, err)
			assert.Equal(t, []string{"a_0000"}, chunkIDs(offsetOnly))
		})
	}
}

func TestStore_Metadata(t *testing.T) {
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			_, err := store.GetMetadata(ctx, MetaTokenizerScheme)
			assert.ErrorIs(t, err, ErrNotFound)

			require.NoError(t, store.SetMetadata(ctx, MetaTokenizerScheme, "cl100k_base"))
			require.NoError(t, store.SetMetadata(ctx, MetaTokenizerScheme, "o200k_base"))

			got, err := store.GetMetadata(ctx, MetaTokenizerScheme)
			require.NoError(t, err)
			assert.Equal(t, "o200k_base", got)
		})
	}
}

func TestStore_StatusAndReplaceAll(t *testing.T) {
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, store.SetMetadata(ctx, MetaTokenizerScheme, "cl100k_base"))
			require.NoError(t, store.SetMetadata(ctx, MetaLastRunAt, "2026-01-02T03:04:05Z"))
			require.NoError(t, store.AppendChunks(ctx, []*types.Chunk{
				newChunk("a", 0, types.ChunkChant),
				newChunk("a", 1, types.ChunkChant),
				newChunk("b", 0, types.ChunkBiography),
			}))

			status, err := store.Status(ctx)
			require.NoError(t, err)
			assert.Equal(t, name, status.Backend)
			assert.Equal(t, 3, status.ChunksCount)
			assert.Equal(t, 2, status.DocumentsCount)
			assert.Equal(t, 60+61+60, status.TokensCount)
			assert.Equal(t, 2, status.ChunksByType[types.ChunkChant])
			assert.Equal(t, 1, status.ChunksByType[types.ChunkBiography])
			assert.Equal(t, "cl100k_base", status.TokenizerScheme)
			assert.Equal(t, 2026, status.LastRunAt.Year())
			assert.Greater(t, status.SizeMB, 0.0)

			require.NoError(t, store.ReplaceAll(ctx, nil, nil))

			status, err = store.Status(ctx)
			require.NoError(t, err)
			assert.Equal(t, 0, status.ChunksCount)
			assert.Empty(t, status.TokenizerScheme)

			stems, err := store.ProcessedStems(ctx)
			require.NoError(t, err)
			assert.Empty(t, stems)

			// Ids are free again once the corpus is replaced
			require.NoError(t, store.AppendChunks(ctx, []*types.Chunk{newChunk("a", 0, types.ChunkTeaching)}))
		})
	}
}

func TestStore_ReplaceAll(t *testing.T) {
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, store.AppendChunks(ctx, []*types.Chunk{
				newChunk("old", 0, types.ChunkTeaching),
				newChunk("old", 1, types.ChunkTeaching),
			}))
			require.NoError(t, store.SetMetadata(ctx, MetaTokenizerScheme, "cl100k_base"))
			require.NoError(t, store.SetMetadata(ctx, "stale", "x"))

			err := store.ReplaceAll(ctx, []*types.Chunk{
				newChunk("new", 0, types.ChunkChant),
				newChunk("new", 1, types.ChunkTeaching),
			}, map[string]string{MetaTokenizerScheme: "words", MetaLastRunAt: "2026-03-04T05:06:07Z"})
			require.NoError(t, err)

			stems, err := store.ProcessedStems(ctx)
			require.NoError(t, err)
			assert.Equal(t, map[string]struct{}{"new": {}}, stems)

			chunks, err := store.ListChunks(ctx, nil)
			require.NoError(t, err)
			require.Len(t, chunks, 2)
			assert.Equal(t, "new_0000", chunks[0].ID)
			assert.Equal(t, "new_0001", chunks[1].ID)

			scheme, err := store.GetMetadata(ctx, MetaTokenizerScheme)
			require.NoError(t, err)
			assert.Equal(t, "words", scheme)
			_, err = store.GetMetadata(ctx, "stale")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestStore_ReplaceAllFailureKeepsCorpus(t *testing.T) {
	invalid := newChunk("new", 1, types.ChunkTeaching)
	invalid.Text = ""

	batches := map[string][]*types.Chunk{
		"invalid chunk": {newChunk("new", 0, types.ChunkTeaching), invalid},
		"duplicate id":  {newChunk("new", 0, types.ChunkTeaching), newChunk("new", 0, types.ChunkChant)},
	}

	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, store.AppendChunks(ctx, []*types.Chunk{newChunk("old", 0, types.ChunkTeaching)}))
			require.NoError(t, store.SetMetadata(ctx, MetaTokenizerScheme, "cl100k_base"))

			for batchName, batch := range batches {
				err := store.ReplaceAll(ctx, batch, map[string]string{MetaTokenizerScheme: "words"})
				require.Error(t, err, batchName)

				chunk, err := store.GetChunk(ctx, "old_0000")
				require.NoError(t, err, batchName)
				assert.Equal(t, "text of old chunk 0", chunk.Text)

				_, err = store.GetChunk(ctx, "new_0000")
				assert.ErrorIs(t, err, ErrNotFound, batchName)

				scheme, err := store.GetMetadata(ctx, MetaTokenizerScheme)
				require.NoError(t, err)
				assert.Equal(t, "cl100k_base", scheme, batchName)
			}
		})
	}
}

func TestChunkFilter_Match(t *testing.T) {
	c := newChunk("book", 3, types.ChunkDialogue)

	var nilFilter *ChunkFilter
	assert.True(t, nilFilter.Match(c))
	assert.True(t, (&ChunkFilter{}).Match(c))
	assert.True(t, (&ChunkFilter{Stem: "book", Type: types.ChunkDialogue}).Match(c))
	assert.False(t, (&ChunkFilter{Stem: "boo"}).Match(c))
	assert.False(t, (&ChunkFilter{Language: "fr"}).Match(c))
	assert.False(t, (&ChunkFilter{Source: "other"}).Match(c))
}

func TestOpen(t *testing.T) {
	dir := t.TempDir()

	s, err := Open(BackendJSONL, filepath.Join(dir, "c.jsonl"))
	require.NoError(t, err)
	assert.IsType(t, &JSONLStore{}, s)
	require.NoError(t, s.Close())

	s, err = Open(BackendSQLite, filepath.Join(dir, "c.db"))
	require.NoError(t, err)
	assert.IsType(t, &SQLiteStorage{}, s)
	require.NoError(t, s.Close())

	_, err = Open("redis", "x")
	assert.Error(t, err)
}

func chunkIDs(chunks []*types.Chunk) []string {
	ids := make([]string, len(chunks))
	for i, c := range chunks {
		ids[i] = c.ID
	}
	return ids
}
