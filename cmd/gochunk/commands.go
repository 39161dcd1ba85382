package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/dshills/gochunk/internal/chunker"
	"github.com/dshills/gochunk/internal/embedder"
	"github.com/dshills/gochunk/internal/mcp"
	"github.com/dshills/gochunk/internal/pipeline"
	"github.com/dshills/gochunk/internal/source"
	"github.com/dshills/gochunk/internal/storage"
	"github.com/dshills/gochunk/internal/tokenizer"
	"github.com/dshills/gochunk/pkg/types"
)

// newDriver wires the tokenizer, registry and chunker from the configuration
func (a *app) newDriver(store storage.Store) (*pipeline.Driver, error) {
	counter, err := tokenizer.New(a.cfg.Tokenizer)
	if err != nil {
		return nil, err
	}

	registry := source.DefaultRegistry()
	if a.cfg.SourcesFile != "" {
		registry, err = source.LoadRegistry(a.cfg.SourcesFile)
		if err != nil {
			return nil, err
		}
	}

	ch, err := chunker.New(counter, a.cfg.ChunkerOptions(), a.log.With("component", "chunker"))
	if err != nil {
		return nil, err
	}

	return pipeline.New(store, ch, registry, counter, a.log.With("component", "pipeline")), nil
}

func newChunkCommand(a *app) *cobra.Command {
	var (
		docs    string
		glob    string
		rebuild bool
		dryRun  bool
		workers int
		noClean bool
	)

	cmd := &cobra.Command{
		Use:   "chunk",
		Short: "Chunk every document not yet in the store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			flags := cmd.Flags()
			if flags.Changed("docs") {
				a.cfg.DocsDir = docs
			}
			if flags.Changed("glob") {
				a.cfg.DocsGlob = glob
			}
			if flags.Changed("workers") {
				a.cfg.Workers = workers
			}
			if noClean {
				a.cfg.Clean = false
			}

			store, err := a.openStore()
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			driver, err := a.newDriver(store)
			if err != nil {
				return err
			}

			stats, err := driver.Run(cmd.Context(), pipeline.NewDirSource(a.cfg.DocsDir, a.cfg.DocsGlob), pipeline.Options{
				Workers: a.cfg.Workers,
				Rebuild: rebuild,
				DryRun:  dryRun,
				Clean:   a.cfg.Clean,
			})
			if errors.Is(err, types.ErrTokenizerSchemeMismatch) {
				return fmt.Errorf("%w\nrerun with --rebuild to reprocess the whole corpus", err)
			}
			if err != nil {
				return err
			}

			printRunStatistics(cmd.OutOrStdout(), stats, dryRun)
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&docs, "docs", "", "Documents directory (default from GOCHUNK_DOCS_DIR)")
	flags.StringVar(&glob, "glob", "", "Doublestar pattern selecting documents")
	flags.BoolVar(&rebuild, "rebuild", false, "Reprocess every document and replace the stored corpus")
	flags.BoolVar(&dryRun, "dry-run", false, "Chunk and report without writing")
	flags.IntVar(&workers, "workers", 0, "Documents processed concurrently")
	flags.BoolVar(&noClean, "no-clean", false, "Skip text cleanup before splitting")
	return cmd
}

func printRunStatistics(w io.Writer, stats *pipeline.Statistics, dryRun bool) {
	if dryRun {
		fmt.Fprintln(w, "Dry run: nothing written")
	}
	fmt.Fprintf(w, "Documents: %d found, %d processed, %d skipped, %d failed\n",
		stats.DocumentsFound, stats.DocumentsProcessed, stats.DocumentsSkipped, stats.DocumentsFailed)
	fmt.Fprintf(w, "Chunks created: %d (%d tokens, %d sections)\n", stats.ChunksCreated, stats.Tokens, stats.Sections)
	for _, t := range types.AllChunkTypes {
		if n := stats.ChunksByType[t]; n > 0 {
			fmt.Fprintf(w, "  %-10s %d\n", t, n)
		}
	}
	if stats.Oversize > 0 {
		fmt.Fprintf(w, "Oversize chunks: %d\n", stats.Oversize)
	}
	for _, msg := range stats.ErrorMessages {
		fmt.Fprintf(w, "Error: %s\n", msg)
	}
	fmt.Fprintf(w, "Duration: %s\n", stats.Duration.Round(time.Millisecond))
}

func newStatusCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show chunk store statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := a.openStore()
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			status, err := store.Status(cmd.Context())
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "Store: %s (%s)\n", status.Path, status.Backend)
			if status.SchemaVersion != "" {
				fmt.Fprintf(w, "Schema: %s\n", status.SchemaVersion)
			}
			fmt.Fprintf(w, "Tokenizer: %s\n", orNone(status.TokenizerScheme))
			fmt.Fprintf(w, "Documents: %d\n", status.DocumentsCount)
			fmt.Fprintf(w, "Chunks: %d (%d tokens)\n", status.ChunksCount, status.TokensCount)

			kinds := make([]string, 0, len(status.ChunksByType))
			for t := range status.ChunksByType {
				kinds = append(kinds, string(t))
			}
			sort.Strings(kinds)
			for _, k := range kinds {
				fmt.Fprintf(w, "  %-10s %d\n", k, status.ChunksByType[types.ChunkType(k)])
			}

			fmt.Fprintf(w, "Embeddings: %d\n", status.EmbeddingsCount)
			fmt.Fprintf(w, "Size: %.2f MB\n", status.SizeMB)
			if !status.LastRunAt.IsZero() {
				fmt.Fprintf(w, "Last run: %s\n", status.LastRunAt.Format(time.RFC3339))
			}
			return nil
		},
	}
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}

func newListCommand(a *app) *cobra.Command {
	var filter storage.ChunkFilter
	var chunkType string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored chunks in append order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if chunkType != "" {
				filter.Type = types.ChunkType(chunkType)
				if !filter.Type.Valid() {
					return fmt.Errorf("%w: %q", types.ErrInvalidChunkType, chunkType)
				}
			}

			store, err := a.openStore()
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			chunks, err := store.ListChunks(cmd.Context(), &filter)
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(w)
				for _, c := range chunks {
					if err := enc.Encode(c); err != nil {
						return err
					}
				}
				return nil
			}

			for _, c := range chunks {
				fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n", c.ID, c.Type, c.TokenCount, c.Source, c.Section)
			}
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&filter.Source, "source", "", "Only chunks of this source display name")
	flags.StringVar(&filter.Stem, "stem", "", "Only chunks of this document stem")
	flags.StringVar(&filter.Language, "language", "", "Only chunks in this language")
	flags.StringVar(&chunkType, "type", "", "Only chunks of this type (chant, dialogue, biography, teaching)")
	flags.IntVar(&filter.Limit, "limit", 50, "Maximum number of chunks (0 = all)")
	flags.IntVar(&filter.Offset, "offset", 0, "Number of matching chunks to skip")
	flags.BoolVar(&asJSON, "json", false, "Print one JSON record per line")
	return cmd
}

func newEmbedCommand(a *app) *cobra.Command {
	var (
		provider string
		batch    int
	)

	cmd := &cobra.Command{
		Use:   "embed",
		Short: "Embed stored chunks that have no embedding yet (SQLite store only)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Flags().Changed("provider") {
				a.cfg.EmbeddingProvider = provider
			}
			if cmd.Flags().Changed("batch") {
				a.cfg.EmbedBatch = batch
			}

			store, err := a.openStore()
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			embStore, ok := store.(storage.EmbeddingStore)
			if !ok {
				return fmt.Errorf("the %s store does not persist embeddings; use --store sqlite", a.cfg.Store)
			}

			emb, err := embedder.New(a.cfg.EmbedderConfig())
			if err != nil {
				return fmt.Errorf("failed to initialize embedder: %w", err)
			}
			defer func() { _ = emb.Close() }()

			stage := pipeline.NewEmbedStage(embStore, emb, a.cfg.EmbedBatch, a.log.With("component", "embed"))
			stats, err := stage.Run(cmd.Context())
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Embedded %d chunks in %d batches with %s/%s (%s)\n",
				stats.ChunksEmbedded, stats.Batches, stats.Provider, stats.Model, stats.Duration.Round(time.Millisecond))
			return nil
		},
	}

	cmd.Flags().StringVar(&provider, "provider", "", "Embedding provider: openai, jina or local")
	cmd.Flags().IntVar(&batch, "batch", 0, "Chunks per embedding request")
	return cmd
}

func newServeCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the MCP tools on stdio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := a.openStore()
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			driver, err := a.newDriver(store)
			if err != nil {
				return err
			}

			server := mcp.NewServer(store, driver, mcp.Options{
				DocsDir: a.cfg.DocsDir,
				Glob:    a.cfg.DocsGlob,
				Workers: a.cfg.Workers,
				Clean:   a.cfg.Clean,
			}, a.log.With("component", "mcp"))

			return server.Serve(cmd.Context())
		},
	}
}
