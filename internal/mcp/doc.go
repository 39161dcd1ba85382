// Package mcp implements the Model Context Protocol (MCP) server for gochunk.
//
// The MCP server exposes three tools:
//   - chunk_corpus: run the chunking pipeline over a documents directory
//   - get_status: report chunk store statistics
//   - list_chunks: page through stored chunks with filters
//
// # Protocol Overview
//
// MCP is a JSON-RPC 2.0 protocol over stdio transport:
//
//	Client → Server: {"method": "tools/call", "params": {...}}
//	Server → Client: {"result": {...}}
//
// # Basic Usage
//
// The MCP server is typically started via the serve command:
//
//	gochunk serve
//
// # Tool: chunk_corpus
//
//	Request:
//	{
//	  "name": "chunk_corpus",
//	  "arguments": {
//	    "docs_dir": "data/processed",
//	    "rebuild": false,
//	    "dry_run": false,
//	    "workers": 4
//	  }
//	}
//
//	Response:
//	{
//	  "documents_found": 9,
//	  "documents_processed": 2,
//	  "documents_skipped": 7,
//	  "documents_failed": 0,
//	  "chunks_created": 311,
//	  "chunks_by_type": {"chant": 120, "teaching": 191},
//	  "duration_ms": 840
//	}
//
// Every argument is optional. Documents already in the store are skipped, so
// repeating the call is harmless.
//
// # Tool: list_chunks
//
//	Request:
//	{
//	  "name": "list_chunks",
//	  "arguments": {"source": "Sixty Songs (Chang)", "type": "chant", "limit": 10}
//	}
//
// Chunks come back in append order with a text preview; include_text returns
// the full text.
//
// # Error Handling
//
// Tool failures are returned as MCPError values with JSON-RPC codes:
//   - -32602: invalid parameters
//   - -32603: internal error
//   - -32002: a run is already in progress
//   - -32003: tokenizer scheme changed, rebuild required
package mcp
