package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/gochunk/internal/chunker"
	"github.com/dshills/gochunk/internal/logger"
	"github.com/dshills/gochunk/internal/source"
	"github.com/dshills/gochunk/internal/storage"
	"github.com/dshills/gochunk/pkg/types"
)

// wordCounter counts whitespace-separated words
type wordCounter struct{}

func (wordCounter) Count(text string) int { return len(strings.Fields(text)) }
func (wordCounter) Scheme() string        { return "words" }

func paragraph(tag string, n int) string {
	words := make([]string, n)
	for i := range words {
		words[i] = fmt.Sprintf("%s%d", tag, i)
	}
	return strings.Join(words, " ")
}

// chapteredText has an introduction and three chapters: four sections
func chapteredText() string {
	return strings.Join([]string{
		paragraph("intro", 20),
		"CHAPTER 1 The Birth",
		paragraph("birth", 30),
		"CHAPTER 2 Marpa",
		paragraph("marpa", 30),
		"CHAPTER 3 The Cave",
		paragraph("cave", 30),
	}, "\n\n")
}

// plainText has no markers and packs into one fallback section
func plainText() string {
	return strings.Join([]string{
		paragraph("a", 20),
		paragraph("b", 20),
		paragraph("c", 20),
	}, "\n\n")
}

func testCorpus() *MemorySource {
	return &MemorySource{Docs: []Document{
		{Stem: "The-Life-of-Milarepa_clean", Path: "mem/life.txt", Text: chapteredText()},
		{Stem: "notes", Path: "mem/notes.txt", Text: plainText()},
	}}
}

func setupTestStorage(t testing.TB) *storage.SQLiteStorage {
	t.Helper()

	store, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err, "Failed to create test storage")
	t.Cleanup(func() { _ = store.Close() })

	return store
}

func newTestDriver(t testing.TB, store storage.Store) *Driver {
	t.Helper()

	opts := chunker.Options{MaxTokens: 80, OverlapTokens: 10, MinTokens: 5, SectionMinParts: 3}
	ch, err := chunker.New(wordCounter{}, opts, nil)
	require.NoError(t, err)

	return New(store, ch, source.DefaultRegistry(), wordCounter{}, logger.NewLogger(logger.TestConfig()))
}

func TestRun_Success(t *testing.T) {
	ctx := context.Background()
	store := setupTestStorage(t)
	d := newTestDriver(t, store)

	stats, err := d.Run(ctx, testCorpus(), Options{Clean: true})
	require.NoError(t, err)

	assert.Equal(t, 2, stats.DocumentsFound)
	assert.Equal(t, 2, stats.DocumentsProcessed)
	assert.Equal(t, 0, stats.DocumentsSkipped)
	assert.Equal(t, 0, stats.DocumentsFailed)
	assert.Equal(t, 5, stats.ChunksCreated)
	assert.Equal(t, 5, stats.Sections)
	assert.Equal(t, 4, stats.ChunksByType[types.ChunkBiography])
	assert.Equal(t, 1, stats.ChunksByType[types.ChunkTeaching])
	assert.Equal(t, 1, stats.Strategies["chapter"])
	assert.Equal(t, 1, stats.Strategies[chunker.FallbackStrategy])
	assert.Equal(t, 20+30*3+60, stats.Tokens)
	assert.Empty(t, stats.ErrorMessages)

	chunks, err := store.ListChunks(ctx, nil)
	require.NoError(t, err)
	require.Len(t, chunks, 5)

	assert.Equal(t, "The-Life-of-Milarepa_clean_0000", chunks[0].ID)
	assert.Equal(t, "Introduction", chunks[0].Section)
	assert.Equal(t, "The Life of Milarepa (Lhalungpa)", chunks[0].Source)
	assert.Equal(t, "en", chunks[0].Language)
	assert.Equal(t, "CHAPTER 3 The Cave", chunks[3].Section)
	assert.Equal(t, "notes_0000", chunks[4].ID)
	assert.Equal(t, "notes", chunks[4].Source)
	assert.Equal(t, "Section 1", chunks[4].Section)

	scheme, err := store.GetMetadata(ctx, storage.MetaTokenizerScheme)
	require.NoError(t, err)
	assert.Equal(t, "words", scheme)

	_, err = store.GetMetadata(ctx, storage.MetaLastRunAt)
	assert.NoError(t, err)
}

func TestRun_Idempotent(t *testing.T) {
	ctx := context.Background()
	store := setupTestStorage(t)
	d := newTestDriver(t, store)

	_, err := d.Run(ctx, testCorpus(), Options{})
	require.NoError(t, err)
	before, err := store.ListChunks(ctx, nil)
	require.NoError(t, err)

	stats, err := d.Run(ctx, testCorpus(), Options{})
	require.NoError(t, err)

	assert.Equal(t, 0, stats.ChunksCreated)
	assert.Equal(t, 0, stats.DocumentsProcessed)
	assert.Equal(t, 2, stats.DocumentsSkipped)

	after, err := store.ListChunks(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestRun_IncrementalAddsOnlyNewDocuments(t *testing.T) {
	ctx := context.Background()
	store := setupTestStorage(t)
	d := newTestDriver(t, store)

	corpus := testCorpus()
	first := &MemorySource{Docs: corpus.Docs[:1]}

	stats, err := d.Run(ctx, first, Options{})
	require.NoError(t, err)
	assert.Equal(t, 4, stats.ChunksCreated)

	stats, err = d.Run(ctx, corpus, Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.ChunksCreated)
	assert.Equal(t, 1, stats.DocumentsSkipped)

	status, err := store.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, status.ChunksCount)
	assert.Equal(t, 2, status.DocumentsCount)
}

func TestRun_UnreadableDocumentSkipped(t *testing.T) {
	ctx := context.Background()
	store := setupTestStorage(t)
	d := newTestDriver(t, store)

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "good.txt"), []byte(plainText()), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.txt"), []byte{0xff, 0xfe, 0xfd}, 0644))

	stats, err := d.Run(ctx, NewDirSource(dir, ""), Options{})
	require.NoError(t, err)

	assert.Equal(t, 2, stats.DocumentsFound)
	assert.Equal(t, 1, stats.DocumentsProcessed)
	assert.Equal(t, 1, stats.DocumentsFailed)
	require.Len(t, stats.ErrorMessages, 1)
	assert.Contains(t, stats.ErrorMessages[0], "bad.txt")

	stems, err := store.ProcessedStems(ctx)
	require.NoError(t, err)
	assert.Contains(t, stems, "good")
	assert.NotContains(t, stems, "bad")

	// The failed document is retried on the next run
	stats, err = d.Run(ctx, NewDirSource(dir, ""), Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.DocumentsSkipped)
	assert.Equal(t, 1, stats.DocumentsFailed)
}

func TestRun_SchemeMismatch(t *testing.T) {
	ctx := context.Background()
	store := setupTestStorage(t)
	d := newTestDriver(t, store)

	old := &types.Chunk{ID: "old_0000", Source: "old", Language: "en", Type: types.ChunkTeaching, Text: "old text", TokenCount: 2}
	require.NoError(t, store.AppendChunks(ctx, []*types.Chunk{old}))
	require.NoError(t, store.SetMetadata(ctx, storage.MetaTokenizerScheme, "cl100k_base"))

	_, err := d.Run(ctx, testCorpus(), Options{})
	require.ErrorIs(t, err, types.ErrTokenizerSchemeMismatch)

	stats, err := d.Run(ctx, testCorpus(), Options{Rebuild: true})
	require.NoError(t, err)
	assert.Equal(t, 5, stats.ChunksCreated)

	_, err = store.GetChunk(ctx, "old_0000")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	scheme, err := store.GetMetadata(ctx, storage.MetaTokenizerScheme)
	require.NoError(t, err)
	assert.Equal(t, "words", scheme)
}

func TestRun_RebuildReprocessesEverything(t *testing.T) {
	ctx := context.Background()
	store := setupTestStorage(t)
	d := newTestDriver(t, store)

	_, err := d.Run(ctx, testCorpus(), Options{})
	require.NoError(t, err)

	stats, err := d.Run(ctx, testCorpus(), Options{Rebuild: true})
	require.NoError(t, err)
	assert.Equal(t, 2, stats.DocumentsProcessed)
	assert.Equal(t, 5, stats.ChunksCreated)

	status, err := store.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, status.ChunksCount)
}

func TestRun_FailedRebuildKeepsCorpus(t *testing.T) {
	ctx := context.Background()
	store := setupTestStorage(t)
	d := newTestDriver(t, store)

	_, err := d.Run(ctx, testCorpus(), Options{})
	require.NoError(t, err)

	assertCorpusIntact := func(t *testing.T) {
		t.Helper()
		status, err := store.Status(ctx)
		require.NoError(t, err)
		assert.Equal(t, 5, status.ChunksCount)
		assert.Equal(t, "words", status.TokenizerScheme)
	}

	t.Run("missing documents directory", func(t *testing.T) {
		_, err := d.Run(ctx, NewDirSource(filepath.Join(t.TempDir(), "missing"), ""), Options{Rebuild: true})
		require.Error(t, err)
		assertCorpusIntact(t)
	})

	t.Run("canceled context", func(t *testing.T) {
		canceled, cancel := context.WithCancel(ctx)
		cancel()
		_, err := d.Run(canceled, testCorpus(), Options{Rebuild: true})
		require.Error(t, err)
		assertCorpusIntact(t)
	})

	t.Run("store rejects the new corpus", func(t *testing.T) {
		failing := &failingReplaceStore{Store: store}
		fd := newTestDriver(t, failing)
		_, err := fd.Run(ctx, testCorpus(), Options{Rebuild: true})
		require.Error(t, err)
		assert.True(t, failing.called)
		assertCorpusIntact(t)
	})
}

// failingReplaceStore refuses every corpus replacement
type failingReplaceStore struct {
	storage.Store
	called bool
}

func (s *failingReplaceStore) ReplaceAll(context.Context, []*types.Chunk, map[string]string) error {
	s.called = true
	return errors.New("disk full")
}

func TestRun_RebuildDryRunKeepsStore(t *testing.T) {
	ctx := context.Background()
	store := setupTestStorage(t)
	d := newTestDriver(t, store)

	_, err := d.Run(ctx, testCorpus(), Options{})
	require.NoError(t, err)

	stats, err := d.Run(ctx, testCorpus(), Options{Rebuild: true, DryRun: true})
	require.NoError(t, err)
	assert.Equal(t, 2, stats.DocumentsProcessed)

	status, err := store.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, status.ChunksCount)
}

func TestRun_DryRun(t *testing.T) {
	ctx := context.Background()
	store := setupTestStorage(t)
	d := newTestDriver(t, store)

	stats, err := d.Run(ctx, testCorpus(), Options{DryRun: true})
	require.NoError(t, err)
	assert.Equal(t, 5, stats.ChunksCreated)

	status, err := store.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, status.ChunksCount)

	_, err = store.GetMetadata(ctx, storage.MetaTokenizerScheme)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestRun_WorkersPreserveOrder(t *testing.T) {
	ctx := context.Background()

	var docs []Document
	for i := 0; i < 8; i++ {
		text := plainText()
		if i%2 == 0 {
			text = chapteredText()
		}
		docs = append(docs, Document{Stem: fmt.Sprintf("doc%d", i), Text: text})
	}

	sequential := setupTestStorage(t)
	_, err := newTestDriver(t, sequential).Run(ctx, &MemorySource{Docs: docs}, Options{Workers: 1})
	require.NoError(t, err)

	parallel := setupTestStorage(t)
	_, err = newTestDriver(t, parallel).Run(ctx, &MemorySource{Docs: docs}, Options{Workers: 4})
	require.NoError(t, err)

	want, err := sequential.ListChunks(ctx, nil)
	require.NoError(t, err)
	got, err := parallel.ListChunks(ctx, nil)
	require.NoError(t, err)

	require.Len(t, got, len(want))
	for i := range want {
		assert.Equal(t, want[i].ID, got[i].ID)
		assert.Equal(t, want[i].Text, got[i].Text)
	}
}

func TestRun_DuplicateStemSkipped(t *testing.T) {
	ctx := context.Background()
	store := setupTestStorage(t)
	d := newTestDriver(t, store)

	src := &MemorySource{Docs: []Document{
		{Stem: "notes", Path: "a/notes.txt", Text: plainText()},
		{Stem: "notes", Path: "b/notes.md", Text: plainText()},
	}}

	stats, err := d.Run(ctx, src, Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.DocumentsProcessed)
	assert.Equal(t, 1, stats.DocumentsSkipped)
	assert.Equal(t, 1, stats.ChunksCreated)
}

func TestRun_ConcurrentRunRejected(t *testing.T) {
	store := setupTestStorage(t)
	d := newTestDriver(t, store)

	require.True(t, d.lock.TryAcquire())
	assert.True(t, d.Running())

	_, err := d.Run(context.Background(), testCorpus(), Options{})
	assert.ErrorIs(t, err, ErrRunInProgress)

	d.lock.Release()
	assert.False(t, d.Running())
}

func TestRun_ContextCancellation(t *testing.T) {
	store := setupTestStorage(t)
	d := newTestDriver(t, store)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := d.Run(ctx, testCorpus(), Options{})
	require.Error(t, err)

	status, err := store.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, status.ChunksCount)
}

func TestRun_JSONLStore(t *testing.T) {
	ctx := context.Background()
	store, err := storage.NewJSONLStore(filepath.Join(t.TempDir(), "chunks.jsonl"))
	require.NoError(t, err)
	defer store.Close()

	d := newTestDriver(t, store)

	stats, err := d.Run(ctx, testCorpus(), Options{})
	require.NoError(t, err)
	assert.Equal(t, 5, stats.ChunksCreated)

	stats, err = d.Run(ctx, testCorpus(), Options{})
	require.NoError(t, err)
	assert.Equal(t, 0, stats.ChunksCreated)

	chunk, err := store.GetChunk(ctx, "notes_0000")
	require.NoError(t, err)
	assert.Equal(t, plainText(), chunk.Text)
}

func TestRunLock(t *testing.T) {
	var l RunLock
	assert.True(t, l.TryAcquire())
	assert.False(t, l.TryAcquire())
	l.Release()
	assert.True(t, l.TryAcquire())
}
