package schema

import (
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
)

// MarketKey uniquely identifies a market across all venues ("venue:symbol").
type MarketKey string

// Market describes a tradable instrument on a venue.
// Immutable after discovery; refreshed periodically from venue metadata.
type Market struct {
	Venue             string
	Symbol            string
	BaseAsset         string
	QuoteAsset        string
	PricePrecision    int32
	QuantityPrecision int32
	MinOrderSize      decimal.Decimal
}

// Key returns the registry key for the market.
func (m Market) Key() MarketKey {
	return MarketKey(m.Venue + ":" + m.Symbol)
}

func (m Market) String() string {
	return string(m.Key())
}

// Registry stores venue and market mappings. Markets are refreshed
// from venue metadata while readers query concurrently.
type Registry struct {
	mu      sync.RWMutex
	venues  map[string]struct{}
	markets map[MarketKey]Market
	order   []MarketKey
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		venues:  make(map[string]struct{}),
		markets: make(map[MarketKey]Market),
	}
}

// AddVenue registers a venue name.
func (r *Registry) AddVenue(name string) error {
	if name == "" {
		return fmt.Errorf("venue name is empty")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.venues[name]; ok {
		return fmt.Errorf("venue already exists: %s", name)
	}
	r.venues[name] = struct{}{}
	return nil
}

// HasVenue reports whether the venue is registered.
func (r *Registry) HasVenue(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.venues[name]
	return ok
}

// UpsertMarket registers a market or refreshes its metadata.
// The venue must already be registered.
func (r *Registry) UpsertMarket(m Market) error {
	if m.Venue == "" || m.Symbol == "" {
		return fmt.Errorf("market venue/symbol is empty")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.venues[m.Venue]; !ok {
		return fmt.Errorf("venue not found: %s", m.Venue)
	}
	key := m.Key()
	if _, ok := r.markets[key]; !ok {
		r.order = append(r.order, key)
	}
	r.markets[key] = m
	return nil
}

// Market returns the market by key.
func (r *Registry) Market(key MarketKey) (Market, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.markets[key]
	return m, ok
}

// MarketCount returns the number of registered markets.
func (r *Registry) MarketCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.markets)
}

// Markets returns all registered markets in registration order.
func (r *Registry) Markets() []Market {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Market, 0, len(r.order))
	for _, key := range r.order {
		out = append(out, r.markets[key])
	}
	return out
}

// MarketsByVenue returns the markets registered for a venue.
func (r *Registry) MarketsByVenue(venue string) []Market {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Market
	for _, key := range r.order {
		if m := r.markets[key]; m.Venue == venue {
			out = append(out, m)
		}
	}
	return out
}
