// Package types provides shared type definitions for the gochunk corpus chunker.
//
// This package defines the domain types passed between the chunking engine, the
// pipeline driver, the output stores and the MCP server.
//
// # Core Types
//
// Chunk is the unit of output: a bounded text segment plus the metadata needed by
// downstream encoding and retrieval:
//
//	chunk := &types.Chunk{
//	    ID:         types.ChunkID("Le_poete_tibetain", 12), // "Le_poete_tibetain_0012"
//	    Source:     "Le Poète Tibétain (Bacot)",
//	    Language:   "fr",
//	    Section:    "CHAPTER IV",
//	    Type:       types.ChunkChant,
//	    Text:       segment,
//	    TokenCount: 412,
//	}
//
// Section is the transient (label, body) pair produced by the section splitter and
// consumed immediately by the subdivider. It has no identity of its own.
//
// # Chunk Identifiers
//
// Chunk IDs are "{stem}_{seq:04d}" where stem is the source file name without its
// extension. The stem of an ID is everything before the last underscore, which lets
// a store answer "which documents were already processed" from IDs alone:
//
//	types.StemFromID("wh095_Chang_Sixty_0003") // "wh095_Chang_Sixty"
//
// # Chunk Types
//
// Types form a closed set: chant, dialogue, biography and teaching (the default).
// They are best-effort labels assigned by lexical heuristics.
package types
