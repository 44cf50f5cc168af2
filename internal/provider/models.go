package provider

import (
	"fmt"
	"sort"
	"sync"

	"github.com/Muvon/octomind-sub000/pkg/types"
)

// ModelInfo describes limits and pricing of one model.
// Prices are USD per million tokens.
type ModelInfo struct {
	Vendor        string  `json:"vendor"`
	ID            string  `json:"id"`
	Name          string  `json:"name,omitempty"`
	ContextWindow int     `json:"context_window"`
	MaxOutput     int     `json:"max_output"`
	InputPrice    float64 `json:"input_price"`
	OutputPrice   float64 `json:"output_price"`
	PromptCaching bool    `json:"prompt_caching"`
}

// Cost computes the price of a usage figure.
func (m ModelInfo) Cost(inputTokens, outputTokens int) float64 {
	return float64(inputTokens)*m.InputPrice/1e6 + float64(outputTokens)*m.OutputPrice/1e6
}

// PriceTable is the static model table used by vendors that do not report
// cost. Lookups fail closed with ErrUnknownModel.
type PriceTable struct {
	mu     sync.RWMutex
	models map[string]ModelInfo
}

// NewPriceTable returns a table seeded with the builtin models.
func NewPriceTable() *PriceTable {
	t := &PriceTable{models: make(map[string]ModelInfo)}
	for _, m := range builtinModels() {
		t.models[key(m.Vendor, m.ID)] = m
	}
	return t
}

func key(vendor, model string) string {
	return vendor + ":" + model
}

// Set adds or replaces an entry.
func (t *PriceTable) Set(info ModelInfo) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.models[key(info.Vendor, info.ID)] = info
}

// Apply merges configured pricing overrides for a vendor.
func (t *PriceTable) Apply(vendor string, pricing map[string]types.ModelPricing) {
	for model, p := range pricing {
		info, err := t.Lookup(vendor, model)
		if err != nil {
			info = ModelInfo{Vendor: vendor, ID: model, ContextWindow: 128000, MaxOutput: defaultMaxTokens}
		}
		info.InputPrice = p.Input
		info.OutputPrice = p.Output
		if p.ContextWindow > 0 {
			info.ContextWindow = p.ContextWindow
		}
		if p.MaxOutput > 0 {
			info.MaxOutput = p.MaxOutput
		}
		t.Set(info)
	}
}

// Lookup returns the entry for vendor:model.
func (t *PriceTable) Lookup(vendor, model string) (ModelInfo, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	info, ok := t.models[key(vendor, model)]
	if !ok {
		return ModelInfo{}, fmt.Errorf("%w: %s:%s has no price table entry", ErrUnknownModel, vendor, model)
	}
	return info, nil
}

// List returns all entries sorted by vendor and model.
func (t *PriceTable) List() []ModelInfo {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]ModelInfo, 0, len(t.models))
	for _, m := range t.models {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Vendor != out[j].Vendor {
			return out[i].Vendor < out[j].Vendor
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func builtinModels() []ModelInfo {
	return []ModelInfo{
		// Anthropic
		{Vendor: "anthropic", ID: "claude-opus-4-1-20250805", Name: "Claude Opus 4.1", ContextWindow: 200000, MaxOutput: 32000, InputPrice: 15, OutputPrice: 75, PromptCaching: true},
		{Vendor: "anthropic", ID: "claude-opus-4-20250514", Name: "Claude Opus 4", ContextWindow: 200000, MaxOutput: 32000, InputPrice: 15, OutputPrice: 75, PromptCaching: true},
		{Vendor: "anthropic", ID: "claude-sonnet-4-5-20250929", Name: "Claude Sonnet 4.5", ContextWindow: 200000, MaxOutput: 64000, InputPrice: 3, OutputPrice: 15, PromptCaching: true},
		{Vendor: "anthropic", ID: "claude-sonnet-4-20250514", Name: "Claude Sonnet 4", ContextWindow: 200000, MaxOutput: 64000, InputPrice: 3, OutputPrice: 15, PromptCaching: true},
		{Vendor: "anthropic", ID: "claude-3-7-sonnet-20250219", Name: "Claude 3.7 Sonnet", ContextWindow: 200000, MaxOutput: 64000, InputPrice: 3, OutputPrice: 15, PromptCaching: true},
		{Vendor: "anthropic", ID: "claude-haiku-4-5-20251001", Name: "Claude Haiku 4.5", ContextWindow: 200000, MaxOutput: 64000, InputPrice: 1, OutputPrice: 5, PromptCaching: true},
		{Vendor: "anthropic", ID: "claude-3-5-haiku-20241022", Name: "Claude 3.5 Haiku", ContextWindow: 200000, MaxOutput: 8192, InputPrice: 0.8, OutputPrice: 4, PromptCaching: true},

		// OpenAI
		{Vendor: "openai", ID: "gpt-5", Name: "GPT-5", ContextWindow: 400000, MaxOutput: 128000, InputPrice: 1.25, OutputPrice: 10},
		{Vendor: "openai", ID: "gpt-5-mini", Name: "GPT-5 mini", ContextWindow: 400000, MaxOutput: 128000, InputPrice: 0.25, OutputPrice: 2},
		{Vendor: "openai", ID: "gpt-4.1", Name: "GPT-4.1", ContextWindow: 1047576, MaxOutput: 32768, InputPrice: 2, OutputPrice: 8},
		{Vendor: "openai", ID: "gpt-4.1-mini", Name: "GPT-4.1 mini", ContextWindow: 1047576, MaxOutput: 32768, InputPrice: 0.4, OutputPrice: 1.6},
		{Vendor: "openai", ID: "gpt-4o", Name: "GPT-4o", ContextWindow: 128000, MaxOutput: 16384, InputPrice: 2.5, OutputPrice: 10},
		{Vendor: "openai", ID: "gpt-4o-mini", Name: "GPT-4o mini", ContextWindow: 128000, MaxOutput: 16384, InputPrice: 0.15, OutputPrice: 0.6},
		{Vendor: "openai", ID: "o3", Name: "o3", ContextWindow: 200000, MaxOutput: 100000, InputPrice: 2, OutputPrice: 8},
		{Vendor: "openai", ID: "o4-mini", Name: "o4-mini", ContextWindow: 200000, MaxOutput: 100000, InputPrice: 1.1, OutputPrice: 4.4},

		// Volcengine ARK
		{Vendor: "ark", ID: "doubao-seed-1-6-250615", Name: "Doubao Seed 1.6", ContextWindow: 256000, MaxOutput: 16384, InputPrice: 0.11, OutputPrice: 1.11},
		{Vendor: "ark", ID: "doubao-1-5-pro-32k-250115", Name: "Doubao 1.5 Pro 32k", ContextWindow: 32768, MaxOutput: 12288, InputPrice: 0.11, OutputPrice: 0.28},
	}
}
