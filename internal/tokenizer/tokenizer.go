package tokenizer

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
)

const (
	// DefaultScheme is the subword encoding used when none is configured
	DefaultScheme = "cl100k_base"

	// SchemeEstimate selects the chars/4 heuristic; no vocabulary required
	SchemeEstimate = "estimate"

	// CharsPerToken is the heuristic ratio used by the estimate scheme
	CharsPerToken = 4
)

// ErrUnknownScheme is returned for a scheme name no counter implements
var ErrUnknownScheme = errors.New("unknown tokenizer scheme")

// Counter converts text to a token count. Implementations are pure: the same
// input always yields the same count for the lifetime of a corpus.
type Counter interface {
	// Count returns the number of tokens in text
	Count(text string) int

	// Scheme returns the versioned name of the encoding, recorded with the corpus
	Scheme() string
}

// New returns the counter for a scheme name
func New(scheme string) (Counter, error) {
	scheme = strings.TrimSpace(scheme)
	if scheme == "" {
		scheme = DefaultScheme
	}
	if scheme == SchemeEstimate {
		return Estimate{}, nil
	}
	return NewTiktoken(scheme)
}

// Tiktoken counts tokens with an OpenAI BPE vocabulary
type Tiktoken struct {
	scheme string
	tke    *tiktoken.Tiktoken
	mu     sync.RWMutex
}

// NewTiktoken loads the named encoding (cl100k_base, o200k_base, p50k_base, r50k_base).
// Vocabularies are cached on disk by tiktoken-go; set TIKTOKEN_CACHE_DIR to pin the location.
func NewTiktoken(scheme string) (*Tiktoken, error) {
	tke, err := tiktoken.GetEncoding(scheme)
	if err != nil {
		return nil, fmt.Errorf("%w %q: %v", ErrUnknownScheme, scheme, err)
	}
	return &Tiktoken{scheme: scheme, tke: tke}, nil
}

func (t *Tiktoken) Count(text string) int {
	if text == "" {
		return 0
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.tke.Encode(text, nil, nil))
}

func (t *Tiktoken) Scheme() string {
	return t.scheme
}

// Estimate approximates token counts as runes/4, rounding up
type Estimate struct{}

func (Estimate) Count(text string) int {
	n := utf8.RuneCountInString(text)
	return (n + CharsPerToken - 1) / CharsPerToken
}

func (Estimate) Scheme() string {
	return SchemeEstimate
}
