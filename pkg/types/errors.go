package types

import "errors"

// Domain errors for chunk processing
var (
	// Document errors
	ErrDocumentUnreadable = errors.New("document unreadable")

	// Chunk validation errors
	ErrInvalidChunkID   = errors.New("invalid chunk ID")
	ErrInvalidChunkType = errors.New("invalid chunk type")
	ErrEmptyContent     = errors.New("content cannot be empty")

	// Corpus errors
	ErrTokenizerSchemeMismatch = errors.New("tokenizer scheme differs from the one the store was built with")
)
