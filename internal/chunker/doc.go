// Package chunker divides long-form documents into bounded, typed chunks for embedding.
//
// # Basic Usage
//
//	counter, _ := tokenizer.New(tokenizer.DefaultScheme)
//	c, err := chunker.New(counter, chunker.DefaultOptions(), log)
//	if err != nil {
//	    return err
//	}
//
//	res := c.ChunkDocument("The-Life-of-Milarepa", info, chunker.Clean(text))
//	for _, chunk := range res.Chunks {
//	    fmt.Printf("%s: %s, %d tokens\n", chunk.ID, chunk.Type, chunk.TokenCount)
//	}
//
// # Sections
//
// A document is first cut along its structure. Strategies are tried in order:
//   - chapter markers: CHAPTER/Chapter/STORY/Story/PART/Part followed by a number
//   - song markers: CHANT/Chant/SONG/Song followed by a number
//   - page markers: "--- PAGE N ---" lines written by the text extractor
//
// The first strategy yielding more than Options.SectionMinParts non-empty parts is
// used. Text before the first marker is labelled "Introduction". Documents without
// usable markers are packed paragraph by paragraph into "Section N" blocks of at most
// Options.MaxTokens.
//
// # Subdivision
//
// Sections larger than Options.MaxTokens are cut at paragraph boundaries. Each cut
// repeats the last paragraph of the previous chunk at the start of the next one.
// Paragraphs are never split, so a single paragraph above the ceiling yields one
// oversize chunk.
//
// # Classification
//
// Each chunk is labelled chant, dialogue, biography or teaching using line shape
// and keyword heuristics (see Classify).
package chunker
