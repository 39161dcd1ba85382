package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/dshills/gochunk/pkg/types"
)

// DefaultGlob matches plain text and markdown documents at any depth
const DefaultGlob = "**/*.{txt,md}"

// Document is one input text. Stem is the file name without extension and
// prefixes every chunk id of the document.
type Document struct {
	Stem string
	Path string
	Text string
}

// DocumentSource enumerates documents and reads their text on demand
type DocumentSource interface {
	// List returns the documents in processing order, without text
	List(ctx context.Context) ([]Document, error)

	// Read returns the document text. Failures wrap types.ErrDocumentUnreadable.
	Read(ctx context.Context, doc Document) (string, error)
}

// DirSource reads documents from a directory tree
type DirSource struct {
	Root string
	Glob string
}

// NewDirSource creates a source over root. An empty glob selects DefaultGlob.
func NewDirSource(root, glob string) *DirSource {
	if glob == "" {
		glob = DefaultGlob
	}
	return &DirSource{Root: root, Glob: glob}
}

// List globs the tree and returns regular files sorted by path
func (s *DirSource) List(ctx context.Context) ([]Document, error) {
	if !doublestar.ValidatePattern(s.Glob) {
		return nil, fmt.Errorf("invalid glob %q", s.Glob)
	}

	info, err := os.Stat(s.Root)
	if err != nil {
		return nil, fmt.Errorf("documents directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("documents directory: %s is not a directory", s.Root)
	}

	matches, err := doublestar.FilepathGlob(filepath.Join(s.Root, s.Glob))
	if err != nil {
		return nil, fmt.Errorf("glob %q failed: %w", s.Glob, err)
	}
	sort.Strings(matches)

	docs := make([]Document, 0, len(matches))
	for _, path := range matches {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		fi, err := os.Stat(path)
		if err != nil || !fi.Mode().IsRegular() {
			continue
		}
		docs = append(docs, Document{Stem: Stem(path), Path: path})
	}
	return docs, nil
}

// Read loads a file as UTF-8 text. Markdown files are reduced to plain text.
func (s *DirSource) Read(_ context.Context, doc Document) (string, error) {
	data, err := os.ReadFile(doc.Path)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", types.ErrDocumentUnreadable, doc.Path, err)
	}
	if !utf8.Valid(data) {
		return "", fmt.Errorf("%w: %s: not valid UTF-8", types.ErrDocumentUnreadable, doc.Path)
	}
	if isMarkdown(doc.Path) {
		return MarkdownText(data), nil
	}
	return string(data), nil
}

// Stem returns the file name of path without its extension
func Stem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func isMarkdown(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".md", ".markdown":
		return true
	default:
		return false
	}
}

// MemorySource serves documents held in memory, in the given order
type MemorySource struct {
	Docs []Document
}

func (m *MemorySource) List(ctx context.Context) ([]Document, error) {
	docs := make([]Document, len(m.Docs))
	for i, d := range m.Docs {
		docs[i] = Document{Stem: d.Stem, Path: d.Path}
	}
	return docs, nil
}

func (m *MemorySource) Read(_ context.Context, doc Document) (string, error) {
	for _, d := range m.Docs {
		if d.Stem == doc.Stem {
			return d.Text, nil
		}
	}
	return "", fmt.Errorf("%w: %s", types.ErrDocumentUnreadable, doc.Stem)
}
