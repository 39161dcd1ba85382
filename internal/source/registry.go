package source

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/dshills/gochunk/pkg/types"
)

// DefaultLanguage is assigned to documents no registry entry matches
const DefaultLanguage = "en"

// Entry maps a filename substring to source metadata
type Entry struct {
	Match    string `yaml:"match"`
	Language string `yaml:"language"`
	Name     string `yaml:"name"`
}

// Registry is an ordered table of entries. Lookup is a linear scan and the first
// matching entry wins, so declaration order resolves ambiguous stems.
type Registry struct {
	entries []Entry
}

// NewRegistry builds a registry from entries, keeping their order
func NewRegistry(entries []Entry) *Registry {
	copied := make([]Entry, len(entries))
	copy(copied, entries)
	return &Registry{entries: copied}
}

// DefaultRegistry returns the built-in corpus registry
func DefaultRegistry() *Registry {
	return NewRegistry(builtinEntries)
}

// Identify returns the metadata of the first entry whose key is a substring of stem,
// or {stem, "en"} when nothing matches
func (r *Registry) Identify(stem string) types.SourceInfo {
	for _, e := range r.entries {
		if e.Match != "" && strings.Contains(stem, e.Match) {
			return types.SourceInfo{Name: e.Name, Language: e.Language}
		}
	}
	return types.SourceInfo{Name: stem, Language: DefaultLanguage}
}

// Entries returns a copy of the registry table
func (r *Registry) Entries() []Entry {
	copied := make([]Entry, len(r.entries))
	copy(copied, r.entries)
	return copied
}

// Len returns the number of entries
func (r *Registry) Len() int {
	return len(r.entries)
}

// LoadRegistry reads an ordered YAML list of entries:
//
//	# sources.yaml
//	- match: Garma_C_C__Chang
//	  language: en
//	  name: Hundred Thousand Songs (Chang)
func LoadRegistry(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read source registry: %w", err)
	}
	return ParseRegistry(data)
}

// ParseRegistry decodes and validates a YAML registry document
func ParseRegistry(data []byte) (*Registry, error) {
	var entries []Entry
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("failed to parse source registry: %w", err)
	}
	for i, e := range entries {
		if err := e.validate(); err != nil {
			return nil, fmt.Errorf("registry entry %d: %w", i, err)
		}
	}
	return NewRegistry(entries), nil
}

func (e Entry) validate() error {
	if strings.TrimSpace(e.Match) == "" {
		return errors.New("match key is required")
	}
	if strings.TrimSpace(e.Name) == "" {
		return errors.New("name is required")
	}
	if len(e.Language) != 2 {
		return fmt.Errorf("language must be a two-letter tag, got %q", e.Language)
	}
	return nil
}

var builtinEntries = []Entry{
	{Match: "Le_poete_tibétain", Language: "fr", Name: "Le Poète Tibétain (Bacot)"},
	{Match: "Le_poete_tibetain", Language: "fr", Name: "Le Poète Tibétain (Bacot)"},
	{Match: "Garma_C_C__Chang", Language: "en", Name: "Hundred Thousand Songs (Chang)"},
	{Match: "The-Life-of-Milarepa", Language: "en", Name: "The Life of Milarepa (Lhalungpa)"},
	{Match: "wh095_Chang_Sixty", Language: "en", Name: "Sixty Songs (Chang)"},
	{Match: "Milarepa_-_Wikiquote", Language: "en", Name: "Wikiquote Milarepa"},
	{Match: "Le_livre_tibetain_de_la_vie_et_de_la_mort", Language: "fr", Name: "Le Livre Tibétain de la Vie et de la Mort (Sogyal Rinpoché)"},
	{Match: "Padmasambhava_-_Advice_From_the_Lotus_Born", Language: "en", Name: "Advice From the Lotus Born (Padmasambhava)"},
	{Match: "padmasambhava_la_clef_du_sens_profond", Language: "fr", Name: "La Clef du Sens Profond (Padmasambhava)"},
}
