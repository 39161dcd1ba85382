package types

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ChunkType represents the content type of a chunk
type ChunkType string

const (
	ChunkChant     ChunkType = "chant"
	ChunkDialogue  ChunkType = "dialogue"
	ChunkBiography ChunkType = "biography"
	ChunkTeaching  ChunkType = "teaching"
)

// AllChunkTypes lists the closed set of chunk types in display order
var AllChunkTypes = []ChunkType{ChunkChant, ChunkDialogue, ChunkBiography, ChunkTeaching}

// MaxSectionLabelLength bounds the section label stored on a chunk
const MaxSectionLabelLength = 100

// Chunk is a bounded text segment plus metadata, ready for embedding
type Chunk struct {
	// Identification
	ID string `json:"id"`

	// Source metadata
	Source   string `json:"source"`
	Language string `json:"language"`
	Section  string `json:"section"`

	// Content
	Type       ChunkType `json:"type"`
	Text       string    `json:"text"`
	TokenCount int       `json:"token_count"`

	// Location
	StartPage *int `json:"start_page,omitempty"` // Nullable - only when upstream page markers exist
}

// ChunkID builds the stable identifier for the n-th chunk of a document
func ChunkID(stem string, seq int) string {
	return fmt.Sprintf("%s_%04d", stem, seq)
}

// StemFromID recovers the document stem from a chunk ID.
// The stem is everything before the last underscore.
func StemFromID(id string) string {
	i := strings.LastIndex(id, "_")
	if i < 0 {
		return ""
	}
	return id[:i]
}

// SequenceFromID returns the numeric suffix of a chunk ID
func SequenceFromID(id string) (int, error) {
	i := strings.LastIndex(id, "_")
	if i < 0 || i == len(id)-1 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidChunkID, id)
	}
	n, err := strconv.Atoi(id[i+1:])
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidChunkID, id)
	}
	return n, nil
}

// TruncateLabel limits a section label to MaxSectionLabelLength runes
func TruncateLabel(label string) string {
	runes := []rune(label)
	if len(runes) <= MaxSectionLabelLength {
		return label
	}
	return string(runes[:MaxSectionLabelLength])
}

// ContentHash returns the SHA-256 hash of the chunk text
func (c *Chunk) ContentHash() [32]byte {
	return sha256.Sum256([]byte(c.Text))
}

// ValidateContent checks if the chunk content is valid
func (c *Chunk) ValidateContent() error {
	if strings.TrimSpace(c.Text) == "" {
		return ErrEmptyContent
	}

	if c.TokenCount < 0 {
		return errors.New("token count cannot be negative")
	}

	if c.StartPage != nil && *c.StartPage <= 0 {
		return errors.New("start page must be positive")
	}

	return nil
}

// ValidateChunkType checks if the chunk type is valid
func (c *Chunk) ValidateChunkType() error {
	if !c.Type.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidChunkType, c.Type)
	}
	return nil
}

// Validate performs comprehensive validation of the chunk
func (c *Chunk) Validate() error {
	if c.ID == "" || StemFromID(c.ID) == "" {
		return fmt.Errorf("%w: %q", ErrInvalidChunkID, c.ID)
	}
	if _, err := SequenceFromID(c.ID); err != nil {
		return err
	}

	if err := c.ValidateContent(); err != nil {
		return err
	}

	if err := c.ValidateChunkType(); err != nil {
		return err
	}

	if len([]rune(c.Section)) > MaxSectionLabelLength {
		return errors.New("section label exceeds maximum length")
	}

	return nil
}

// Valid reports whether t belongs to the closed set of chunk types
func (t ChunkType) Valid() bool {
	switch t {
	case ChunkChant, ChunkDialogue, ChunkBiography, ChunkTeaching:
		return true
	default:
		return false
	}
}

// Section is a structural subdivision of a document, prior to token-budget subdivision
type Section struct {
	Label string
	Body  string
	Page  int // Page number of the delimiting page marker, 0 when unknown
}

// SourceInfo is the descriptive metadata of a source document
type SourceInfo struct {
	Name     string `json:"name" yaml:"name"`
	Language string `json:"language" yaml:"language"`
}
