package billing

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Provider is the capability every billing backend exposes for one account
type Provider interface {
	// ValidateCredentials makes the cheapest authenticated call. Remote failures
	// yield false; only malformed local state is returned as an error.
	ValidateCredentials(ctx context.Context) (bool, error)

	// FetchCostRecords returns per-service records inside the inclusive range
	FetchCostRecords(ctx context.Context, r DateRange) ([]CostRecord, error)

	// FetchCostSummary compares the current calendar month with the previous one
	FetchCostSummary(ctx context.Context) (*CostSummary, error)

	// FetchDailyTrend returns daily totals inside the inclusive range
	FetchDailyTrend(ctx context.Context, r DateRange) (*CostTrend, error)
}

// Constructor builds a Provider for an account
type Constructor func(account Account) (Provider, error)

// Registry maps provider tags to constructors
type Registry struct {
	mu           sync.RWMutex
	constructors map[ProviderType]Constructor
}

// NewRegistry creates an empty provider registry
func NewRegistry() *Registry {
	return &Registry{
		constructors: make(map[ProviderType]Constructor),
	}
}

// Register adds a constructor for tag
func (r *Registry) Register(tag ProviderType, c Constructor) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.constructors[tag]; exists {
		return fmt.Errorf("provider '%s' already registered", tag)
	}
	r.constructors[tag] = c
	return nil
}

// MustRegister is Register for package init functions
func (r *Registry) MustRegister(tag ProviderType, c Constructor) {
	if err := r.Register(tag, c); err != nil {
		panic(err)
	}
}

// New builds the provider for account, or an UnsupportedProviderError
func (r *Registry) New(account Account) (Provider, error) {
	r.mu.RLock()
	c, ok := r.constructors[account.Provider]
	r.mu.RUnlock()
	if !ok {
		return nil, &UnsupportedProviderError{Provider: account.Provider}
	}
	return c(account)
}

// Supports reports whether tag has a constructor
func (r *Registry) Supports(tag ProviderType) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.constructors[tag]
	return ok
}

// Providers returns the registered tags in sorted order
func (r *Registry) Providers() []ProviderType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tags := make([]ProviderType, 0, len(r.constructors))
	for tag := range r.constructors {
		tags = append(tags, tag)
	}
	sort.Slice(tags, func(i, j int) bool { return tags[i] < tags[j] })
	return tags
}

// DefaultRegistry holds the built-in providers, which register themselves on import
var DefaultRegistry = NewRegistry()
