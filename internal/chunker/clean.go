package chunker

import (
	"regexp"
	"strings"
)

var (
	hyphenatedBreak = regexp.MustCompile(`(\pL)-\n(\pL)`)
	pageNumberLine  = regexp.MustCompile(`\n[ \t]*\d{1,3}[ \t]*\n`)
	repeatedSpaces  = regexp.MustCompile(` {2,}`)
	repeatedBreaks  = regexp.MustCompile(`\n{3,}`)
)

// Clean normalises text extracted from paginated sources: words hyphenated across
// a line break are re-joined, bare page-number lines are removed, runs of spaces
// collapse to one and runs of blank lines collapse to a single blank line.
// Page markers are preserved.
func Clean(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = hyphenatedBreak.ReplaceAllString(text, "$1$2")
	text = pageNumberLine.ReplaceAllString(text, "\n")
	text = repeatedSpaces.ReplaceAllString(text, " ")
	text = repeatedBreaks.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}
