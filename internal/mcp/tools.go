package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/dshills/gochunk/internal/pipeline"
	"github.com/dshills/gochunk/internal/storage"
	"github.com/dshills/gochunk/pkg/types"
)

// MCP error codes
const (
	ErrorCodeInvalidParams  = -32602 // Invalid method parameters
	ErrorCodeInternalError  = -32603 // Internal JSON-RPC error
	ErrorCodeRunInProgress  = -32002 // Another chunking run is already running
	ErrorCodeSchemeMismatch = -32003 // Store built with another tokenizer; rebuild required
)

const (
	defaultListLimit = 20
	maxListLimit     = 500
	maxWorkers       = 64
	previewRunes     = 200
)

// handleChunkCorpus handles the chunk_corpus tool invocation
func (s *Server) handleChunkCorpus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := arguments(request)
	if err != nil {
		return nil, err
	}

	docsDir := getStringDefault(args, "docs_dir", s.opts.DocsDir)
	if err := validateDir(docsDir); err != nil {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid docs_dir", map[string]interface{}{
			"param":  "docs_dir",
			"reason": err.Error(),
		})
	}

	workers := getIntDefault(args, "workers", s.opts.Workers)
	if workers < 1 || workers > maxWorkers {
		return nil, newMCPError(ErrorCodeInvalidParams, fmt.Sprintf("workers must be between 1 and %d", maxWorkers), map[string]interface{}{
			"param": "workers",
			"value": workers,
		})
	}

	src := pipeline.NewDirSource(docsDir, getStringDefault(args, "glob", s.opts.Glob))
	opts := pipeline.Options{
		Workers: workers,
		Rebuild: getBoolDefault(args, "rebuild", false),
		DryRun:  getBoolDefault(args, "dry_run", false),
		Clean:   s.opts.Clean,
	}

	stats, err := s.driver.Run(ctx, src, opts)
	switch {
	case errors.Is(err, pipeline.ErrRunInProgress):
		return nil, newMCPError(ErrorCodeRunInProgress, "a chunking run is already in progress", nil)
	case errors.Is(err, types.ErrTokenizerSchemeMismatch):
		return nil, newMCPError(ErrorCodeSchemeMismatch, "tokenizer scheme changed; rerun with rebuild=true", map[string]interface{}{
			"error": err.Error(),
		})
	case err != nil:
		return nil, newMCPError(ErrorCodeInternalError, "chunking failed", map[string]interface{}{
			"error": err.Error(),
		})
	}

	response := map[string]interface{}{
		"dry_run":             opts.DryRun,
		"documents_found":     stats.DocumentsFound,
		"documents_processed": stats.DocumentsProcessed,
		"documents_skipped":   stats.DocumentsSkipped,
		"documents_failed":    stats.DocumentsFailed,
		"sections":            stats.Sections,
		"chunks_created":      stats.ChunksCreated,
		"tokens":              stats.Tokens,
		"chunks_by_type":      stats.ChunksByType,
		"strategies":          stats.Strategies,
		"duration_ms":         stats.Duration.Milliseconds(),
	}

	if len(stats.ErrorMessages) > 0 {
		// Include first few errors
		errorCount := len(stats.ErrorMessages)
		if errorCount > 5 {
			response["errors"] = stats.ErrorMessages[:5]
			response["error_count"] = errorCount
		} else {
			response["errors"] = stats.ErrorMessages
		}
	}

	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleGetStatus handles the get_status tool invocation
func (s *Server) handleGetStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if _, err := arguments(request); err != nil {
		return nil, err
	}

	status, err := s.store.Status(ctx)
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "failed to get status", map[string]interface{}{
			"error": err.Error(),
		})
	}

	lastRun := ""
	if !status.LastRunAt.IsZero() {
		lastRun = status.LastRunAt.Format(time.RFC3339)
	}

	response := map[string]interface{}{
		"store": map[string]interface{}{
			"backend":          status.Backend,
			"path":             status.Path,
			"schema_version":   status.SchemaVersion,
			"tokenizer_scheme": status.TokenizerScheme,
			"last_run_at":      lastRun,
			"size_mb":          fmt.Sprintf("%.2f", status.SizeMB),
		},
		"statistics": map[string]interface{}{
			"chunks_count":     status.ChunksCount,
			"documents_count":  status.DocumentsCount,
			"tokens_count":     status.TokensCount,
			"chunks_by_type":   status.ChunksByType,
			"embeddings_count": status.EmbeddingsCount,
		},
		"running": s.driver.Running(),
	}

	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleListChunks handles the list_chunks tool invocation
func (s *Server) handleListChunks(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := arguments(request)
	if err != nil {
		return nil, err
	}

	limit := getIntDefault(args, "limit", defaultListLimit)
	if limit < 1 || limit > maxListLimit {
		return nil, newMCPError(ErrorCodeInvalidParams, fmt.Sprintf("limit must be between 1 and %d", maxListLimit), map[string]interface{}{
			"param": "limit",
			"value": limit,
		})
	}

	offset := getIntDefault(args, "offset", 0)
	if offset < 0 {
		return nil, newMCPError(ErrorCodeInvalidParams, "offset cannot be negative", map[string]interface{}{
			"param": "offset",
			"value": offset,
		})
	}

	chunkType := types.ChunkType(getStringDefault(args, "type", ""))
	if chunkType != "" && !chunkType.Valid() {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid type", map[string]interface{}{
			"param":   "type",
			"value":   string(chunkType),
			"allowed": types.AllChunkTypes,
		})
	}

	filter := &storage.ChunkFilter{
		Stem:     getStringDefault(args, "stem", ""),
		Source:   getStringDefault(args, "source", ""),
		Type:     chunkType,
		Language: getStringDefault(args, "language", ""),
		Limit:    limit,
		Offset:   offset,
	}

	chunks, err := s.store.ListChunks(ctx, filter)
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "failed to list chunks", map[string]interface{}{
			"error": err.Error(),
		})
	}

	includeText := getBoolDefault(args, "include_text", false)
	items := make([]map[string]interface{}, len(chunks))
	for i, c := range chunks {
		item := map[string]interface{}{
			"id":          c.ID,
			"source":      c.Source,
			"language":    c.Language,
			"section":     c.Section,
			"type":        c.Type,
			"token_count": c.TokenCount,
		}
		if c.StartPage != nil {
			item["start_page"] = *c.StartPage
		}
		if includeText {
			item["text"] = c.Text
		} else {
			item["preview"] = preview(c.Text)
		}
		items[i] = item
	}

	response := map[string]interface{}{
		"count":  len(items),
		"offset": offset,
		"chunks": items,
	}

	return mcp.NewToolResultText(formatJSON(response)), nil
}

// Helper functions

// newMCPError creates a properly formatted MCP error
func newMCPError(code int, message string, data interface{}) error {
	// MCP errors are returned as regular errors, the framework handles encoding
	return &MCPError{
		Code:    code,
		Message: message,
		Data:    data,
	}
}

// MCPError represents an MCP protocol error
type MCPError struct {
	Code    int
	Message string
	Data    interface{}
}

func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// arguments returns the call arguments; a call without arguments yields an empty map
func arguments(request mcp.CallToolRequest) (map[string]interface{}, error) {
	if request.Params.Arguments == nil {
		return map[string]interface{}{}, nil
	}
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}
	return args, nil
}

// validateDir checks that path is an existing, readable directory
func validateDir(path string) error {
	if path == "" {
		return ErrPathRequired
	}

	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return ErrPathNotFound
	}
	if err != nil {
		return ErrPathNotReadable
	}

	if !info.IsDir() {
		return ErrNotDirectory
	}

	f, err := os.Open(path)
	if err != nil {
		return ErrPathNotReadable
	}
	_ = f.Close()

	return nil
}

// preview returns the first runes of text
func preview(text string) string {
	runes := []rune(text)
	if len(runes) <= previewRunes {
		return text
	}
	return string(runes[:previewRunes]) + "..."
}

// formatJSON formats a map as indented JSON
func formatJSON(data map[string]interface{}) string {
	bytes, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", data)
	}
	return string(bytes)
}

// getBoolDefault extracts a boolean parameter with a default value
func getBoolDefault(args map[string]interface{}, key string, defaultValue bool) bool {
	if val, ok := args[key].(bool); ok {
		return val
	}
	return defaultValue
}

// getIntDefault extracts an integer parameter with a default value
func getIntDefault(args map[string]interface{}, key string, defaultValue int) int {
	if val, ok := args[key].(float64); ok {
		return int(val)
	}
	if val, ok := args[key].(int); ok {
		return val
	}
	return defaultValue
}

// getStringDefault extracts a string parameter with a default value
func getStringDefault(args map[string]interface{}, key string, defaultValue string) string {
	if val, ok := args[key].(string); ok && val != "" {
		return val
	}
	return defaultValue
}

// Validation helpers

var (
	ErrPathRequired    = errors.New("path is required")
	ErrPathNotFound    = errors.New("path does not exist")
	ErrPathNotReadable = errors.New("path is not readable")
	ErrNotDirectory    = errors.New("path is not a directory")
)
