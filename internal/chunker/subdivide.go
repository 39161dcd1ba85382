package chunker

import (
	"strings"
)

// Subdivide cuts a section body into segments of at most MaxTokens. A body that
// fits is returned whole. Otherwise paragraphs are packed in order and each new
// segment opens with the closing paragraph of the previous one.
//
// A paragraph larger than the ceiling is never split; it becomes a segment of its
// own and is logged. The overlap paragraph is dropped, with a debug log, at a
// boundary where carrying it would push the next segment over the ceiling.
func (c *Chunker) Subdivide(body string) []string {
	body = strings.TrimSpace(body)
	if body == "" {
		return nil
	}
	if c.counter.Count(body) <= c.opts.MaxTokens {
		return []string{body}
	}

	var (
		segments []string
		current  []string
		tally    int
		lastSize int
	)

	for _, p := range SplitParagraphs(body) {
		size := c.counter.Count(p)
		if size > c.opts.MaxTokens {
			c.logger.Warn("oversize paragraph kept whole", "tokens", size, "max_tokens", c.opts.MaxTokens)
		}

		if tally+size > c.opts.MaxTokens && len(current) > 0 {
			segments = append(segments, joinParagraphs(current))
			overlap := current[len(current)-1]
			if lastSize+size <= c.opts.MaxTokens {
				current = []string{overlap, p}
				tally = lastSize + size
			} else {
				c.logger.Debug("overlap dropped at segment boundary",
					"overlap_tokens", lastSize, "next_tokens", size, "max_tokens", c.opts.MaxTokens)
				current = []string{p}
				tally = size
			}
			lastSize = size
			continue
		}

		current = append(current, p)
		tally += size
		lastSize = size
	}

	if len(current) > 0 {
		segments = append(segments, joinParagraphs(current))
	}
	return segments
}

func joinParagraphs(paragraphs []string) string {
	return strings.TrimSpace(strings.Join(paragraphs, "\n\n"))
}
