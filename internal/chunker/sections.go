package chunker

import (
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/dshills/gochunk/pkg/types"
)

// IntroductionLabel labels the text preceding the first structural marker
const IntroductionLabel = "Introduction"

var (
	chapterMarker = regexp.MustCompile(`(?m)^[ \t]*(?:CHAPTER|Chapter|STORY|Story|PART|Part)[ \t]+[\dIVXLCDM]+\b[^\n]*$`)
	songMarker    = regexp.MustCompile(`(?m)^[ \t]*(?:CHANT|Chant|SONG|Song)[ \t]+[\dIVXLCDM]+\b[^\n]*$`)
	pageMarker    = regexp.MustCompile(`(?m)^[ \t]*--- PAGE (\d+) ---[ \t]*$`)

	paragraphBreak = regexp.MustCompile(`\n[ \t]*\n`)
)

// Strategy is one structural splitting rule. Split returns every part of the
// document in order, empty parts included, or nil when the rule does not apply.
type Strategy struct {
	Name  string
	Split func(text string) []types.Section
}

// DefaultStrategies returns the structural rules in priority order, most specific first
func DefaultStrategies() []Strategy {
	return []Strategy{
		DelimiterStrategy("chapter", chapterMarker),
		DelimiterStrategy("song", songMarker),
		DelimiterStrategy("page", pageMarker),
	}
}

// DelimiterStrategy splits on every match of marker. The matched text is discarded
// and, trimmed, labels the part that follows it.
func DelimiterStrategy(name string, marker *regexp.Regexp) Strategy {
	return Strategy{
		Name: name,
		Split: func(text string) []types.Section {
			locs := marker.FindAllStringIndex(text, -1)
			if len(locs) == 0 {
				return nil
			}

			pages := newPageIndex(text)
			parts := make([]types.Section, 0, len(locs)+1)
			parts = append(parts, types.Section{
				Label: IntroductionLabel,
				Body:  text[:locs[0][0]],
				Page:  pages.at(0),
			})
			for i, loc := range locs {
				end := len(text)
				if i+1 < len(locs) {
					end = locs[i+1][0]
				}
				parts = append(parts, types.Section{
					Label: strings.TrimSpace(text[loc[0]:loc[1]]),
					Body:  text[loc[1]:end],
					Page:  pages.at(loc[0]),
				})
			}
			return parts
		},
	}
}

// SplitSections divides a document into ordered, non-empty sections. Structural
// strategies are tried in order; the first producing more than SectionMinParts
// non-empty parts wins. Otherwise paragraphs are packed up to MaxTokens.
func (c *Chunker) SplitSections(text string) ([]types.Section, string) {
	for _, s := range c.strategies {
		parts := s.Split(text)
		if parts == nil {
			continue
		}
		sections := nonEmpty(parts)
		if len(sections) > c.opts.SectionMinParts {
			return sections, s.Name
		}
	}

	c.logger.Debug("no structural markers, packing paragraphs", "max_tokens", c.opts.MaxTokens)
	return nonEmpty(c.packParagraphs(text)), FallbackStrategy
}

// FallbackStrategy names the paragraph packing rule in run statistics
const FallbackStrategy = "paragraphs"

// packParagraphs accumulates paragraphs into "Section N" buffers, closing a buffer
// before the paragraph that would push it over the ceiling.
func (c *Chunker) packParagraphs(text string) []types.Section {
	pages := newPageIndex(text)
	var (
		sections []types.Section
		current  []string
		page     int
	)

	closeBuffer := func() {
		sections = append(sections, types.Section{
			Label: "Section " + strconv.Itoa(len(sections)+1),
			Body:  strings.Join(current, "\n\n"),
			Page:  page,
		})
		current = nil
	}

	for _, p := range splitParagraphSpans(text) {
		if len(current) > 0 {
			candidate := strings.Join(append(current[:len(current):len(current)], p.text), "\n\n")
			if c.counter.Count(candidate) > c.opts.MaxTokens {
				closeBuffer()
			}
		}
		if len(current) == 0 {
			page = pages.at(p.offset)
		}
		current = append(current, p.text)
	}
	if len(current) > 0 {
		closeBuffer()
	}
	return sections
}

func nonEmpty(parts []types.Section) []types.Section {
	out := make([]types.Section, 0, len(parts))
	for _, p := range parts {
		p.Body = strings.TrimSpace(p.Body)
		if p.Body == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}

type paragraphSpan struct {
	text   string
	offset int
}

// splitParagraphSpans returns the trimmed, non-empty blank-line separated blocks of text
// with their byte offsets.
func splitParagraphSpans(text string) []paragraphSpan {
	var spans []paragraphSpan
	start := 0
	add := func(end int) {
		raw := text[start:end]
		trimmed := strings.TrimSpace(raw)
		if trimmed != "" {
			lead := len(raw) - len(strings.TrimLeft(raw, " \t\r\n"))
			spans = append(spans, paragraphSpan{text: trimmed, offset: start + lead})
		}
	}
	for _, loc := range paragraphBreak.FindAllStringIndex(text, -1) {
		add(loc[0])
		start = loc[1]
	}
	add(len(text))
	return spans
}

// SplitParagraphs returns the trimmed, non-empty blank-line separated blocks of text
func SplitParagraphs(text string) []string {
	spans := splitParagraphSpans(text)
	out := make([]string, len(spans))
	for i, s := range spans {
		out[i] = s.text
	}
	return out
}

// pageIndex resolves a byte offset to the page marker in effect at that offset
type pageIndex struct {
	offsets []int
	pages   []int
}

func newPageIndex(text string) pageIndex {
	var idx pageIndex
	for _, m := range pageMarker.FindAllStringSubmatchIndex(text, -1) {
		n, err := strconv.Atoi(text[m[2]:m[3]])
		if err != nil {
			continue
		}
		idx.offsets = append(idx.offsets, m[0])
		idx.pages = append(idx.pages, n)
	}
	return idx
}

// at returns the number of the last page marker starting at or before offset, 0 if none
func (p pageIndex) at(offset int) int {
	i := sort.Search(len(p.offsets), func(i int) bool { return p.offsets[i] > offset })
	if i == 0 {
		return 0
	}
	return p.pages[i-1]
}
