package chunker

import (
	"errors"
	"fmt"

	"github.com/dshills/gochunk/internal/logger"
	"github.com/dshills/gochunk/internal/tokenizer"
	"github.com/dshills/gochunk/pkg/types"
)

const (
	// DefaultMaxTokens is the target maximum token count per chunk
	DefaultMaxTokens = 800

	// DefaultOverlapTokens is the nominal overlap between consecutive chunks.
	// The effective overlap is always one paragraph.
	DefaultOverlapTokens = 100

	// DefaultMinTokens is the size under which sections and chunks are dropped
	DefaultMinTokens = 50

	// DefaultSectionMinParts is the number of non-empty parts a structural split must exceed
	DefaultSectionMinParts = 3
)

// Options holds the chunk sizing parameters
type Options struct {
	MaxTokens       int
	OverlapTokens   int
	MinTokens       int
	SectionMinParts int
}

// DefaultOptions returns the standard corpus settings
func DefaultOptions() Options {
	return Options{
		MaxTokens:       DefaultMaxTokens,
		OverlapTokens:   DefaultOverlapTokens,
		MinTokens:       DefaultMinTokens,
		SectionMinParts: DefaultSectionMinParts,
	}
}

// Validate checks the sizing parameters for consistency
func (o Options) Validate() error {
	if o.MaxTokens <= 0 {
		return errors.New("max tokens must be positive")
	}
	if o.MinTokens < 0 {
		return errors.New("min tokens cannot be negative")
	}
	if o.MinTokens >= o.MaxTokens {
		return fmt.Errorf("min tokens (%d) must be below max tokens (%d)", o.MinTokens, o.MaxTokens)
	}
	if o.OverlapTokens < 0 || o.OverlapTokens >= o.MaxTokens {
		return fmt.Errorf("overlap tokens (%d) must be in [0, %d)", o.OverlapTokens, o.MaxTokens)
	}
	if o.SectionMinParts < 1 {
		return errors.New("section min parts must be at least 1")
	}
	return nil
}

// Chunker turns document text into typed, identified chunks
type Chunker struct {
	counter    tokenizer.Counter
	opts       Options
	strategies []Strategy
	logger     logger.Logger
}

// New creates a Chunker using the default structural strategies
func New(counter tokenizer.Counter, opts Options, log logger.Logger) (*Chunker, error) {
	if counter == nil {
		return nil, errors.New("token counter is required")
	}
	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("invalid chunker options: %w", err)
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Chunker{
		counter:    counter,
		opts:       opts,
		strategies: DefaultStrategies(),
		logger:     log,
	}, nil
}

// WithStrategies replaces the structural strategy chain
func (c *Chunker) WithStrategies(strategies ...Strategy) *Chunker {
	c.strategies = strategies
	return c
}

// Options returns the sizing parameters in use
func (c *Chunker) Options() Options {
	return c.opts
}

// Result is the outcome of chunking one document
type Result struct {
	Chunks          []*types.Chunk
	Strategy        string
	Sections        int
	DroppedSections int
	DroppedSegments int
	Oversize        int
	Tokens          int
}

// ChunkDocument runs the section splitter, subdivider and classifier over one document.
// Chunk ids are stem_0000, stem_0001, ... in emission order.
func (c *Chunker) ChunkDocument(stem string, info types.SourceInfo, text string) *Result {
	sections, strategy := c.SplitSections(text)
	res := &Result{
		Strategy: strategy,
		Sections: len(sections),
		Chunks:   make([]*types.Chunk, 0, len(sections)),
	}

	for _, sec := range sections {
		if c.counter.Count(sec.Body) < c.opts.MinTokens {
			res.DroppedSections++
			continue
		}

		for _, seg := range c.Subdivide(sec.Body) {
			tokens := c.counter.Count(seg)
			if tokens < c.opts.MinTokens {
				res.DroppedSegments++
				continue
			}
			if tokens > c.opts.MaxTokens {
				res.Oversize++
			}

			chunk := &types.Chunk{
				ID:         types.ChunkID(stem, len(res.Chunks)),
				Source:     info.Name,
				Language:   info.Language,
				Section:    types.TruncateLabel(sec.Label),
				Type:       Classify(seg, info.Name),
				Text:       seg,
				TokenCount: tokens,
			}
			if sec.Page > 0 {
				page := sec.Page
				chunk.StartPage = &page
			}
			res.Chunks = append(res.Chunks, chunk)
			res.Tokens += tokens
		}
	}

	return res
}
