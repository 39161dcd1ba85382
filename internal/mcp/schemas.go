package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/dshills/gochunk/pkg/types"
)

// chunkCorpusTool returns the tool definition for chunk_corpus
func chunkCorpusTool() mcp.Tool {
	return mcp.Tool{
		Name:        "chunk_corpus",
		Description: "Chunk every new document of the corpus into the store. Documents already in the store are skipped.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"docs_dir": map[string]interface{}{
					"type":        "string",
					"description": "Directory of cleaned text documents (defaults to the configured directory)",
				},
				"glob": map[string]interface{}{
					"type":        "string",
					"description": "Doublestar pattern selecting documents under docs_dir",
					"default":     "**/*.{txt,md}",
				},
				"rebuild": map[string]interface{}{
					"type":        "boolean",
					"description": "If true, reprocess every document and replace the stored corpus",
					"default":     false,
				},
				"dry_run": map[string]interface{}{
					"type":        "boolean",
					"description": "If true, report what would be created without writing",
					"default":     false,
				},
				"workers": map[string]interface{}{
					"type":        "integer",
					"description": "Documents processed concurrently (1-64)",
					"minimum":     1,
					"maximum":     64,
				},
			},
		},
	}
}

// getStatusTool returns the tool definition for get_status
func getStatusTool() mcp.Tool {
	return mcp.Tool{
		Name:        "get_status",
		Description: "Query chunk store statistics: chunk and document counts, per-type counts, tokenizer scheme",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}
}

// listChunksTool returns the tool definition for list_chunks
func listChunksTool() mcp.Tool {
	chunkTypes := make([]string, len(types.AllChunkTypes))
	for i, t := range types.AllChunkTypes {
		chunkTypes[i] = string(t)
	}

	return mcp.Tool{
		Name:        "list_chunks",
		Description: "List stored chunks in append order, optionally filtered",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"stem": map[string]interface{}{
					"type":        "string",
					"description": "Only chunks of this document stem",
				},
				"source": map[string]interface{}{
					"type":        "string",
					"description": "Only chunks of this source display name",
				},
				"type": map[string]interface{}{
					"type":        "string",
					"description": "Only chunks of this type",
					"enum":        chunkTypes,
				},
				"language": map[string]interface{}{
					"type":        "string",
					"description": "Only chunks in this two-letter language",
				},
				"limit": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum number of chunks to return (1-500)",
					"default":     20,
					"minimum":     1,
					"maximum":     500,
				},
				"offset": map[string]interface{}{
					"type":        "integer",
					"description": "Number of matching chunks to skip",
					"default":     0,
					"minimum":     0,
				},
				"include_text": map[string]interface{}{
					"type":        "boolean",
					"description": "If true, return full chunk text instead of a preview",
					"default":     false,
				},
			},
		},
	}
}
