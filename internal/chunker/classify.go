package chunker

import (
	"strings"
	"unicode/utf8"

	"github.com/dshills/gochunk/pkg/types"
)

const (
	// ShortLineLength is the rune length under which a line counts as verse-like
	ShortLineLength = 60

	// ChantShortLineRatio is the share of all lines, blank ones included, that must be
	// short for a segment to read as verse
	ChantShortLineRatio = 0.6

	// ChantMinLines is the line count a segment must exceed for the verse rule to apply
	ChantMinLines = 4
)

var (
	sungSpeech = []string{
		"milarepa sang",
		"milarepa chanta",
		"il chanta",
		"he sang",
		"then sang",
	}

	reportedSpeech = []string{
		"dit à",
		"répondit",
		"demanda",
		"said to",
		"replied",
		"asked",
	}
)

// Classify labels a segment. Rules are checked in order and the first match wins:
// verse shape, sung-speech phrases, reported-speech phrases, biographical source,
// then teaching.
func Classify(text, sourceName string) types.ChunkType {
	if isVerse(text) {
		return types.ChunkChant
	}

	lower := strings.ToLower(text)
	if containsAny(lower, sungSpeech) {
		return types.ChunkChant
	}
	if containsAny(lower, reportedSpeech) {
		return types.ChunkDialogue
	}

	if isBiographical(sourceName) {
		return types.ChunkBiography
	}
	return types.ChunkTeaching
}

// isVerse measures line shape over the trimmed text. Blank lines count toward
// the total but never as short lines.
func isVerse(text string) bool {
	lines := strings.Split(strings.TrimSpace(text), "\n")
	if len(lines) <= ChantMinLines {
		return false
	}
	short := 0
	for _, line := range lines {
		n := utf8.RuneCountInString(strings.TrimSpace(line))
		if n > 0 && n < ShortLineLength {
			short++
		}
	}
	return float64(short) > float64(len(lines))*ChantShortLineRatio
}

func isBiographical(name string) bool {
	return strings.Contains(name, "Life") ||
		strings.Contains(name, "Poète") ||
		strings.Contains(strings.ToLower(name), "biograph")
}

func containsAny(s string, phrases []string) bool {
	for _, p := range phrases {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}
