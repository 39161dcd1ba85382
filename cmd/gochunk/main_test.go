package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) string {
	t.Helper()

	var out bytes.Buffer
	cmd := newRootCommand()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--env-file", "", "--log-level", "disabled"}, args...))
	require.NoError(t, cmd.Execute(), out.String())
	return out.String()
}

func setupCorpus(t *testing.T) (docs, db string) {
	t.Helper()

	docs = t.TempDir()
	var paragraphs []string
	for i := 0; i < 4; i++ {
		paragraphs = append(paragraphs, strings.Repeat("The master sat in the cave and taught. ", 20))
	}
	text := strings.Join(paragraphs, "\n\n")
	require.NoError(t, os.WriteFile(filepath.Join(docs, "wh095_Chang_Sixty.txt"), []byte(text), 0644))

	db = filepath.Join(t.TempDir(), "chunks.db")
	t.Setenv("GOCHUNK_TOKENIZER", "estimate")
	t.Setenv("GOCHUNK_DOCS_DIR", docs)
	t.Setenv("GOCHUNK_DB_PATH", db)
	return docs, db
}

func TestChunkStatusList(t *testing.T) {
	setupCorpus(t)

	out := execute(t, "chunk")
	assert.Contains(t, out, "1 processed")

	out = execute(t, "chunk")
	assert.Contains(t, out, "Chunks created: 0")

	out = execute(t, "status")
	assert.Contains(t, out, "Tokenizer: estimate")
	assert.Contains(t, out, "Documents: 1")

	out = execute(t, "list", "--source", "Sixty Songs (Chang)")
	assert.Contains(t, out, "wh095_Chang_Sixty_0000")
}

func TestChunkDryRun(t *testing.T) {
	setupCorpus(t)

	out := execute(t, "chunk", "--dry-run")
	assert.Contains(t, out, "Dry run")

	out = execute(t, "status")
	assert.Contains(t, out, "Chunks: 0")
}

func TestEmbedLocal(t *testing.T) {
	setupCorpus(t)
	execute(t, "chunk")

	out := execute(t, "embed", "--provider", "local")
	assert.Contains(t, out, "with local/")

	out = execute(t, "status")
	assert.NotContains(t, out, "Embeddings: 0")
}

func TestVersion(t *testing.T) {
	out := execute(t, "version")
	assert.Contains(t, out, "gochunk dev")
	assert.Contains(t, out, "SQLite Driver:")
}
