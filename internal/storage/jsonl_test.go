package storage

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gofrs/flock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/gochunk/pkg/types"
)

func setupJSONL(t *testing.T) (*JSONLStore, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "out", "chunks.jsonl")
	store, err := NewJSONLStore(path)
	require.NoError(t, err)
	return store, path
}

func TestJSONLStore_OneRecordPerLine(t *testing.T) {
	ctx := context.Background()
	store, path := setupJSONL(t)

	require.NoError(t, store.AppendChunks(ctx, []*types.Chunk{
		newChunk("book", 0, types.ChunkChant),
		newChunk("book", 1, types.ChunkTeaching),
	}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], `"id":"book_0000"`)
	assert.Contains(t, lines[0], `"token_count":60`)
	assert.NotContains(t, lines[0], "start_page")
}

func TestJSONLStore_ReadsExistingFile(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "chunks.jsonl")
	content := `{"id":"Garma_C_C__Chang_0000","source":"Hundred Thousand Songs (Chang)","language":"en","section":"Introduction","type":"chant","text":"x","token_count":51}

{"id":"Garma_C_C__Chang_0001","source":"Hundred Thousand Songs (Chang)","language":"en","section":"STORY 1","type":"teaching","text":"y","token_count":70,"start_page":3}
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	store, err := NewJSONLStore(path)
	require.NoError(t, err)

	stems, err := store.ProcessedStems(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]struct{}{"Garma_C_C__Chang": {}}, stems)

	chunk, err := store.GetChunk(ctx, "Garma_C_C__Chang_0001")
	require.NoError(t, err)
	require.NotNil(t, chunk.StartPage)
	assert.Equal(t, 3, *chunk.StartPage)
	assert.Equal(t, "STORY 1", chunk.Section)
}

func TestJSONLStore_TornLastRecord(t *testing.T) {
	ctx := context.Background()
	store, path := setupJSONL(t)
	require.NoError(t, os.WriteFile(path, []byte(`{"id":"torn_0000","text":"partial`), 0644))

	require.NoError(t, store.AppendChunks(ctx, []*types.Chunk{newChunk("book", 0, types.ChunkTeaching)}))

	got, err := store.GetChunk(ctx, "book_0000")
	require.NoError(t, err)
	assert.Equal(t, "book_0000", got.ID)
}

func TestJSONLStore_LockedByAnotherWriter(t *testing.T) {
	store, path := setupJSONL(t)

	other := flock.New(path + ".lock")
	locked, err := other.TryLock()
	require.NoError(t, err)
	require.True(t, locked)
	defer func() { _ = other.Unlock() }()

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()

	err = store.AppendChunks(ctx, []*types.Chunk{newChunk("book", 0, types.ChunkTeaching)})
	assert.Error(t, err)

	require.NoError(t, other.Unlock())
	require.NoError(t, store.AppendChunks(context.Background(), []*types.Chunk{newChunk("book", 0, types.ChunkTeaching)}))
}

func TestJSONLStore_MetadataFile(t *testing.T) {
	ctx := context.Background()
	store, path := setupJSONL(t)

	require.NoError(t, store.SetMetadata(ctx, MetaTokenizerScheme, "cl100k_base"))

	data, err := os.ReadFile(path + ".meta.json")
	require.NoError(t, err)
	assert.Contains(t, string(data), `"tokenizer_scheme": "cl100k_base"`)
}
