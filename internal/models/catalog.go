package models

import (
	"fmt"
	"sort"
	"strings"
)

const (
	ProviderReplicate = "replicate"
	ProviderOpenAI    = "openai"
	ProviderClaude    = "claude"
	ProviderGemini    = "gemini"
)

// ModelConfig is the immutable generation setup used for one request.
type ModelConfig struct {
	Name              string  `json:"name"`
	Provider          string  `json:"provider"`
	Identifier        string  `json:"identifier"`
	Temperature       float64 `json:"temperature"`
	TopP              float64 `json:"top_p"`
	MaxLength         int     `json:"max_length"`
	RepetitionPenalty float64 `json:"repetition_penalty"`
}

const (
	DefaultTemperature       = 0.1
	DefaultTopP              = 0.9
	DefaultMaxLength         = 120
	DefaultRepetitionPenalty = 1.0
)

const (
	Llama2_7B  = "Llama2-7B"
	Llama2_13B = "Llama2-13B"
)

// DefaultModelName is selected for every new session.
const DefaultModelName = Llama2_7B

// NewModelConfig fills in the fixed generation settings.
func NewModelConfig(name, provider, identifier string) ModelConfig {
	return ModelConfig{
		Name:              name,
		Provider:          provider,
		Identifier:        identifier,
		Temperature:       DefaultTemperature,
		TopP:              DefaultTopP,
		MaxLength:         DefaultMaxLength,
		RepetitionPenalty: DefaultRepetitionPenalty,
	}
}

// Catalog is the static set of selectable models keyed by display name.
type Catalog struct {
	entries map[string]ModelConfig
	order   []string
}

// NewCatalog returns the built-in Llama2 catalog extended with extra.
// Extra entries never replace a built-in name.
func NewCatalog(extra ...ModelConfig) (*Catalog, error) {
	c := &Catalog{entries: make(map[string]ModelConfig)}
	c.add(NewModelConfig(Llama2_7B, ProviderReplicate,
		"a16z-infra/llama7b-v2-chat:4f0a4744c7295c024a1de15e1a63c880d3da035fa1f49bfd344fe076074c8eea"))
	c.add(NewModelConfig(Llama2_13B, ProviderReplicate,
		"a16z-infra/llama13b-v2-chat:df7690f1994d94e96ad9d568eac121aecf50684a0b0963b25a41cc40061269e5"))
	for _, m := range extra {
		if _, ok := c.entries[m.Name]; ok {
			return nil, fmt.Errorf("model %q already in catalog", m.Name)
		}
		switch m.Provider {
		case ProviderReplicate, ProviderOpenAI, ProviderClaude, ProviderGemini:
		default:
			return nil, fmt.Errorf("model %q: unsupported provider %q", m.Name, m.Provider)
		}
		c.add(m)
	}
	return c, nil
}

func (c *Catalog) add(m ModelConfig) {
	c.entries[m.Name] = m
	c.order = append(c.order, m.Name)
}

// Lookup returns the model registered under name.
func (c *Catalog) Lookup(name string) (ModelConfig, bool) {
	m, ok := c.entries[strings.TrimSpace(name)]
	return m, ok
}

// Names lists model names, built-ins first.
func (c *Catalog) Names() []string {
	out := make([]string, len(c.order))
	copy(out, c.order)
	return out
}

// Providers returns the distinct providers referenced by the catalog.
func (c *Catalog) Providers() []string {
	seen := make(map[string]struct{})
	var out []string
	for _, m := range c.entries {
		if _, ok := seen[m.Provider]; ok {
			continue
		}
		seen[m.Provider] = struct{}{}
		out = append(out, m.Provider)
	}
	sort.Strings(out)
	return out
}
