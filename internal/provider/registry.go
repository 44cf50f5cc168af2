package provider

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/Muvon/octomind-sub000/pkg/types"
)

// Factory constructs an adapter for one model of a vendor.
type Factory func(ctx context.Context, modelName string, info ModelInfo, cfg types.ProviderConfig) (Adapter, error)

// Pricing says where a vendor's cost figures come from.
type Pricing int

const (
	// PricingTable computes cost from the price table and rejects unknown models.
	PricingTable Pricing = iota
	// PricingReported uses the cost reported by the vendor.
	PricingReported
)

type vendorEntry struct {
	factory Factory
	pricing Pricing
}

// Registry resolves "vendor:model" identifiers to adapters.
type Registry struct {
	mu       sync.Mutex
	vendors  map[string]vendorEntry
	configs  map[string]types.ProviderConfig
	prices   *PriceTable
	adapters map[string]Adapter
}

// NewRegistry creates an empty registry backed by the given price table.
func NewRegistry(prices *PriceTable) *Registry {
	if prices == nil {
		prices = NewPriceTable()
	}
	return &Registry{
		vendors:  make(map[string]vendorEntry),
		configs:  make(map[string]types.ProviderConfig),
		prices:   prices,
		adapters: make(map[string]Adapter),
	}
}

// NewDefaultRegistry registers the builtin vendors with the configured
// credentials and pricing overrides.
func NewDefaultRegistry(cfg *types.Config) *Registry {
	r := NewRegistry(NewPriceTable())
	r.Register("anthropic", NewAnthropic, PricingTable)
	r.Register("openai", NewOpenAI, PricingTable)
	r.Register("ark", NewArk, PricingTable)
	r.Register("openrouter", NewOpenRouter, PricingReported)
	if cfg != nil {
		for vendor, pc := range cfg.Providers {
			r.Configure(vendor, pc)
		}
	}
	return r
}

// Register adds a vendor factory.
func (r *Registry) Register(vendor string, factory Factory, pricing Pricing) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.vendors[vendor] = vendorEntry{factory: factory, pricing: pricing}
}

// Configure sets credentials and pricing overrides for a vendor.
func (r *Registry) Configure(vendor string, cfg types.ProviderConfig) {
	r.mu.Lock()
	r.configs[vendor] = cfg
	r.mu.Unlock()
	if len(cfg.Pricing) > 0 {
		r.prices.Apply(vendor, cfg.Pricing)
	}
}

// Prices returns the price table.
func (r *Registry) Prices() *PriceTable {
	return r.prices
}

// Vendors returns the registered vendor names, sorted.
func (r *Registry) Vendors() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.vendors))
	for name := range r.vendors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ParseIdentifier splits "vendor:model". The identifier must contain exactly
// one colon with non-empty halves; the model half is returned unmodified.
func ParseIdentifier(id string) (vendor, modelName string, err error) {
	switch strings.Count(id, ":") {
	case 0:
		return "", "", &ConfigError{Value: id, Reason: `missing vendor prefix, expected "vendor:model" (e.g. "openrouter:anthropic/claude-sonnet-4")`}
	case 1:
	default:
		return "", "", &ConfigError{Value: id, Reason: `more than one ":", expected exactly "vendor:model"`}
	}
	vendor, modelName, _ = strings.Cut(id, ":")
	if vendor == "" || modelName == "" {
		return "", "", &ConfigError{Value: id, Reason: `empty vendor or model, expected "vendor:model"`}
	}
	return vendor, modelName, nil
}

// Resolve returns the adapter for an identifier, constructing it on first use.
func (r *Registry) Resolve(ctx context.Context, id string) (Adapter, error) {
	vendor, modelName, err := ParseIdentifier(id)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	if a, ok := r.adapters[id]; ok {
		r.mu.Unlock()
		return a, nil
	}
	entry, ok := r.vendors[vendor]
	cfg := r.configs[vendor]
	r.mu.Unlock()

	if !ok {
		return nil, &ConfigError{Value: id, Reason: fmt.Sprintf("unknown vendor %q (known: %s)", vendor, strings.Join(r.Vendors(), ", "))}
	}

	info, err := r.prices.Lookup(vendor, modelName)
	if err != nil {
		if entry.pricing == PricingTable {
			return nil, &Error{Kind: KindUnsupportedModel, Vendor: vendor, Model: modelName, Err: err}
		}
		if !errors.Is(err, ErrUnknownModel) {
			return nil, err
		}
		info = ModelInfo{Vendor: vendor, ID: modelName, ContextWindow: 128000, MaxOutput: defaultMaxTokens}
		if strings.HasPrefix(modelName, "anthropic/") {
			info.ContextWindow = 200000
			info.PromptCaching = true
		}
	}

	a, err := entry.factory(ctx, modelName, info, cfg)
	if err != nil {
		return nil, err
	}
	retry := DefaultRetryConfig()
	if cfg.MaxRetries > 0 {
		retry.MaxRetries = uint64(cfg.MaxRetries)
	}
	a = WithRetry(a, retry)

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.adapters[id]; ok {
		return existing, nil
	}
	r.adapters[id] = a
	return a, nil
}
