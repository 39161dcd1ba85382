package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dshills/gochunk/internal/chunker"
	"github.com/dshills/gochunk/internal/logger"
	"github.com/dshills/gochunk/internal/source"
	"github.com/dshills/gochunk/internal/storage"
	"github.com/dshills/gochunk/internal/tokenizer"
	"github.com/dshills/gochunk/pkg/types"
)

// ErrRunInProgress is returned when a second run starts on a busy driver
var ErrRunInProgress = errors.New("a chunking run is already in progress")

// Driver coordinates the pipeline: list -> skip processed -> identify -> chunk -> append
type Driver struct {
	store    storage.Store
	chunker  *chunker.Chunker
	registry *source.Registry
	counter  tokenizer.Counter
	logger   logger.Logger
	lock     RunLock
}

// Options controls a single run
type Options struct {
	Workers int  // Concurrent documents (default: 1)
	Rebuild bool // Reprocess every document and replace the stored corpus
	DryRun  bool // Chunk and report without writing
	Clean   bool // Apply chunker.Clean before splitting
}

// Statistics contains statistics about a run
type Statistics struct {
	DocumentsFound     int
	DocumentsProcessed int
	DocumentsSkipped   int
	DocumentsFailed    int
	Sections           int
	ChunksCreated      int
	Tokens             int
	Oversize           int
	ChunksByType       map[types.ChunkType]int
	Strategies         map[string]int
	Duration           time.Duration
	ErrorMessages      []string
}

// docResult is the outcome of one document, filled by exactly one worker
type docResult struct {
	doc    Document
	info   types.SourceInfo
	result *chunker.Result
	err    error
}

// New creates a driver. The counter must be the one the chunker counts with.
func New(store storage.Store, ch *chunker.Chunker, registry *source.Registry, counter tokenizer.Counter, log logger.Logger) *Driver {
	if registry == nil {
		registry = source.DefaultRegistry()
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Driver{
		store:    store,
		chunker:  ch,
		registry: registry,
		counter:  counter,
		logger:   log,
	}
}

// Running reports whether a run is in progress
func (d *Driver) Running() bool {
	return d.lock.Held()
}

// Run processes every document of src that the store does not hold yet and
// appends all new chunks in one atomic append, in document order.
func (d *Driver) Run(ctx context.Context, src DocumentSource, opts Options) (*Statistics, error) {
	if !d.lock.TryAcquire() {
		return nil, ErrRunInProgress
	}
	defer d.lock.Release()

	if opts.Workers <= 0 {
		opts.Workers = 1
	}

	startTime := time.Now()
	stats := &Statistics{
		ChunksByType:  make(map[types.ChunkType]int),
		Strategies:    make(map[string]int),
		ErrorMessages: make([]string, 0),
	}

	if err := d.checkScheme(ctx, opts.Rebuild); err != nil {
		return nil, err
	}

	// A rebuild treats every document as new; the store is only replaced on commit
	processed := map[string]struct{}{}
	if !opts.Rebuild {
		stems, err := d.store.ProcessedStems(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to read processed documents: %w", err)
		}
		processed = stems
	}

	docs, err := src.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	stats.DocumentsFound = len(docs)

	pending := make([]Document, 0, len(docs))
	seen := make(map[string]struct{}, len(docs))
	for _, doc := range docs {
		if _, ok := processed[doc.Stem]; ok {
			stats.DocumentsSkipped++
			d.logger.Debug("document already processed", "stem", doc.Stem)
			continue
		}
		if _, dup := seen[doc.Stem]; dup {
			stats.DocumentsSkipped++
			d.logger.Warn("duplicate document stem skipped", "stem", doc.Stem, "path", doc.Path)
			continue
		}
		seen[doc.Stem] = struct{}{}
		pending = append(pending, doc)
	}

	results, err := d.chunkDocuments(ctx, src, pending, opts)
	if err != nil {
		return nil, err
	}

	var chunks []*types.Chunk
	for _, r := range results {
		if r.err != nil {
			stats.DocumentsFailed++
			stats.ErrorMessages = append(stats.ErrorMessages, fmt.Sprintf("%s: %v", r.doc.Path, r.err))
			d.logger.Error("document skipped", "stem", r.doc.Stem, "path", r.doc.Path, "error", r.err)
			continue
		}

		stats.DocumentsProcessed++
		stats.Sections += r.result.Sections
		stats.Tokens += r.result.Tokens
		stats.Oversize += r.result.Oversize
		stats.Strategies[r.result.Strategy]++
		for _, c := range r.result.Chunks {
			stats.ChunksByType[c.Type]++
		}
		chunks = append(chunks, r.result.Chunks...)

		d.logger.Info("document chunked",
			"stem", r.doc.Stem,
			"source", r.info.Name,
			"strategy", r.result.Strategy,
			"sections", r.result.Sections,
			"chunks", len(r.result.Chunks))
	}
	stats.ChunksCreated = len(chunks)

	if !opts.DryRun {
		if err := d.commit(ctx, chunks, opts.Rebuild); err != nil {
			return nil, err
		}
	}

	stats.Duration = time.Since(startTime)
	d.logger.Info("run complete",
		"found", stats.DocumentsFound,
		"processed", stats.DocumentsProcessed,
		"skipped", stats.DocumentsSkipped,
		"failed", stats.DocumentsFailed,
		"chunks", stats.ChunksCreated,
		"dry_run", opts.DryRun,
		"duration", stats.Duration)

	return stats, nil
}

// commit writes the run's chunks and metadata. A rebuild replaces the whole corpus
// in one step so a failure leaves the previous one intact.
func (d *Driver) commit(ctx context.Context, chunks []*types.Chunk, rebuild bool) error {
	meta := map[string]string{
		storage.MetaTokenizerScheme: d.counter.Scheme(),
		storage.MetaLastRunAt:       time.Now().UTC().Format(time.RFC3339),
	}

	if rebuild {
		if err := d.store.ReplaceAll(ctx, chunks, meta); err != nil {
			return fmt.Errorf("failed to replace corpus: %w", err)
		}
		d.logger.Info("corpus replaced by rebuild", "chunks", len(chunks))
		return nil
	}

	if len(chunks) > 0 {
		if err := d.store.AppendChunks(ctx, chunks); err != nil {
			return fmt.Errorf("failed to append chunks: %w", err)
		}
	}
	if err := d.store.SetMetadata(ctx, storage.MetaTokenizerScheme, meta[storage.MetaTokenizerScheme]); err != nil {
		return fmt.Errorf("failed to record tokenizer scheme: %w", err)
	}
	if err := d.store.SetMetadata(ctx, storage.MetaLastRunAt, meta[storage.MetaLastRunAt]); err != nil {
		return fmt.Errorf("failed to record run time: %w", err)
	}
	return nil
}

// checkScheme refuses an incremental run over a store built with another tokenizer
func (d *Driver) checkScheme(ctx context.Context, rebuild bool) error {
	stored, err := d.store.GetMetadata(ctx, storage.MetaTokenizerScheme)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read tokenizer scheme: %w", err)
	}
	if stored == d.counter.Scheme() || rebuild {
		return nil
	}
	return fmt.Errorf("%w: store uses %s, run uses %s (rebuild required)",
		types.ErrTokenizerSchemeMismatch, stored, d.counter.Scheme())
}

// chunkDocuments reads and chunks documents on a bounded pool. Each worker
// writes only its own result slot, so output order is the input order.
func (d *Driver) chunkDocuments(ctx context.Context, src DocumentSource, docs []Document, opts Options) ([]*docResult, error) {
	results := make([]*docResult, len(docs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Workers)

	for i, doc := range docs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = d.chunkDocument(gctx, src, doc, opts.Clean)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

func (d *Driver) chunkDocument(ctx context.Context, src DocumentSource, doc Document, clean bool) *docResult {
	r := &docResult{doc: doc}

	text, err := src.Read(ctx, doc)
	if err != nil {
		if !errors.Is(err, types.ErrDocumentUnreadable) {
			err = fmt.Errorf("%w: %v", types.ErrDocumentUnreadable, err)
		}
		r.err = err
		return r
	}
	if clean {
		text = chunker.Clean(text)
	}

	r.info = d.registry.Identify(doc.Stem)
	r.result = d.chunker.ChunkDocument(doc.Stem, r.info, text)
	return r
}
