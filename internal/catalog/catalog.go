package catalog

import (
	"errors"
	"fmt"
)

// ErrUnknownProvider indicates the requested provider family is not in the
// static table. This is a caller configuration error, not a runtime fault.
var ErrUnknownProvider = errors.New("unknown provider")

// Dialect selects the wire format spoken to an upstream provider.
type Dialect string

const (
	DialectOpenAI    Dialect = "openai"
	DialectAnthropic Dialect = "anthropic"
	DialectGemini    Dialect = "gemini"
)

// Range is an inclusive numeric interval for a tunable parameter.
type Range struct {
	Min float64
	Max float64
}

// Contains reports whether v lies inside the interval.
func (r Range) Contains(v float64) bool {
	return v >= r.Min && v <= r.Max
}

// String renders the interval in the form callers see in validation errors.
func (r Range) String() string {
	return fmt.Sprintf("[%g,%g]", r.Min, r.Max)
}

// Bounds declares which tunables a provider family accepts and their legal
// ranges. A nil field means the family does not expose that tunable and any
// attempt to set it is rejected rather than silently dropped.
type Bounds struct {
	Temperature      *Range
	TopP             *Range
	TopK             *Range
	FrequencyPenalty *Range
	PresencePenalty  *Range
}

// ModelInfo describes one model exposed by a provider family.
type ModelInfo struct {
	ID              string
	ContextWindow   int
	MaxOutputTokens int
}

// Descriptor is the immutable catalog entry for one provider family.
type Descriptor struct {
	Name            string
	Dialect         Dialect
	DefaultEndpoint string
	// EnvKey names the environment variable holding the process-wide
	// fallback credential for this family.
	EnvKey string
	Models []ModelInfo
	Bounds Bounds
	// OpenModelList marks self-hosted families that accept arbitrary
	// model identifiers beyond the declared list.
	OpenModelList bool
}

// Model returns the declared metadata for a model id.
func (d Descriptor) Model(id string) (ModelInfo, bool) {
	for _, m := range d.Models {
		if m.ID == id {
			return m, true
		}
	}
	return ModelInfo{}, false
}

// SupportsModel reports whether the family serves the given model id.
func (d Descriptor) SupportsModel(id string) bool {
	if d.OpenModelList {
		return true
	}
	_, ok := d.Model(id)
	return ok
}

func rng(min, max float64) *Range {
	return &Range{Min: min, Max: max}
}

var openAIDialectBounds = Bounds{
	Temperature:      rng(0, 2),
	TopP:             rng(0, 1),
	FrequencyPenalty: rng(-2, 2),
	PresencePenalty:  rng(-2, 2),
}

// descriptors is the static provider table, loaded once and never mutated.
// Adding a provider family is adding one entry here plus, if it speaks a new
// wire format, a dialect adapter in the dispatch package.
var descriptors = []Descriptor{
	{
		Name:            "openai",
		Dialect:         DialectOpenAI,
		DefaultEndpoint: "https://api.openai.com/v1",
		EnvKey:          "OPENAI_API_KEY",
		Models: []ModelInfo{
			{ID: "gpt-4o", ContextWindow: 128000, MaxOutputTokens: 16384},
			{ID: "gpt-4o-mini", ContextWindow: 128000, MaxOutputTokens: 16384},
			{ID: "gpt-4.1", ContextWindow: 1047576, MaxOutputTokens: 32768},
			{ID: "gpt-3.5-turbo", ContextWindow: 16385, MaxOutputTokens: 4096},
		},
		Bounds: openAIDialectBounds,
	},
	{
		Name:            "anthropic",
		Dialect:         DialectAnthropic,
		DefaultEndpoint: "https://api.anthropic.com",
		EnvKey:          "ANTHROPIC_API_KEY",
		Models: []ModelInfo{
			{ID: "claude-3-5-sonnet-20241022", ContextWindow: 200000, MaxOutputTokens: 8192},
			{ID: "claude-3-5-haiku-20241022", ContextWindow: 200000, MaxOutputTokens: 8192},
			{ID: "claude-3-opus-20240229", ContextWindow: 200000, MaxOutputTokens: 4096},
		},
		Bounds: Bounds{
			Temperature: rng(0, 1),
			TopP:        rng(0, 1),
			TopK:        rng(0, 500),
		},
	},
	{
		Name:            "google",
		Dialect:         DialectGemini,
		DefaultEndpoint: "https://generativelanguage.googleapis.com/v1beta",
		EnvKey:          "GEMINI_API_KEY",
		Models: []ModelInfo{
			{ID: "gemini-1.5-pro", ContextWindow: 2097152, MaxOutputTokens: 8192},
			{ID: "gemini-1.5-flash", ContextWindow: 1048576, MaxOutputTokens: 8192},
			{ID: "gemini-2.0-flash", ContextWindow: 1048576, MaxOutputTokens: 8192},
		},
		Bounds: Bounds{
			Temperature: rng(0, 1),
			TopP:        rng(0, 1),
			TopK:        rng(1, 100),
		},
	},
	{
		Name:            "mistral",
		Dialect:         DialectOpenAI,
		DefaultEndpoint: "https://api.mistral.ai/v1",
		EnvKey:          "MISTRAL_API_KEY",
		Models: []ModelInfo{
			{ID: "mistral-large-latest", ContextWindow: 131072, MaxOutputTokens: 8192},
			{ID: "mistral-small-latest", ContextWindow: 32768, MaxOutputTokens: 8192},
			{ID: "codestral-latest", ContextWindow: 32768, MaxOutputTokens: 8192},
		},
		Bounds: openAIDialectBounds,
	},
	{
		Name:            "groq",
		Dialect:         DialectOpenAI,
		DefaultEndpoint: "https://api.groq.com/openai/v1",
		EnvKey:          "GROQ_API_KEY",
		Models: []ModelInfo{
			{ID: "llama-3.3-70b-versatile", ContextWindow: 131072, MaxOutputTokens: 32768},
			{ID: "llama-3.1-8b-instant", ContextWindow: 131072, MaxOutputTokens: 8192},
			{ID: "mixtral-8x7b-32768", ContextWindow: 32768, MaxOutputTokens: 8192},
		},
		Bounds: openAIDialectBounds,
	},
	{
		Name:            "custom",
		Dialect:         DialectOpenAI,
		DefaultEndpoint: "http://localhost:8080/v1",
		EnvKey:          "CUSTOM_API_KEY",
		OpenModelList:   true,
		Bounds:          openAIDialectBounds,
	},
}

var byName = func() map[string]Descriptor {
	m := make(map[string]Descriptor, len(descriptors))
	for _, d := range descriptors {
		m[d.Name] = d
	}
	return m
}()

// Describe returns the descriptor for a provider family name.
func Describe(name string) (Descriptor, error) {
	d, ok := byName[name]
	if !ok {
		return Descriptor{}, fmt.Errorf("%w: %s", ErrUnknownProvider, name)
	}
	return d, nil
}

// Providers returns the descriptor table in declaration order.
func Providers() []Descriptor {
	out := make([]Descriptor, len(descriptors))
	copy(out, descriptors)
	return out
}
