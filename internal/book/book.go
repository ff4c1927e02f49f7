package book

import (
	"sort"

	"github.com/shopspring/decimal"

	"main/internal/schema"
)

// OrderBook is an immutable point-in-time copy of one market's book.
// Bids are sorted descending, asks ascending, levels unique per side.
// Callers must not mutate the level slices.
type OrderBook struct {
	Market schema.MarketKey
	Seq    uint64
	Bids   []schema.PriceLevel
	Asks   []schema.PriceLevel
	TsNano int64
}

// BestBid returns the highest bid level.
func (b *OrderBook) BestBid() (schema.PriceLevel, bool) {
	if b == nil || len(b.Bids) == 0 {
		return schema.PriceLevel{}, false
	}
	return b.Bids[0], true
}

// BestAsk returns the lowest ask level.
func (b *OrderBook) BestAsk() (schema.PriceLevel, bool) {
	if b == nil || len(b.Asks) == 0 {
		return schema.PriceLevel{}, false
	}
	return b.Asks[0], true
}

// Crossed reports whether best bid >= best ask while both sides are
// non-empty.
func (b *OrderBook) Crossed() bool {
	if b == nil || len(b.Bids) == 0 || len(b.Asks) == 0 {
		return false
	}
	return b.Bids[0].Price.GreaterThanOrEqual(b.Asks[0].Price)
}

func sortSide(levels []schema.PriceLevel, descending bool) {
	sort.Slice(levels, func(i, j int) bool {
		if descending {
			return levels[i].Price.GreaterThan(levels[j].Price)
		}
		return levels[i].Price.LessThan(levels[j].Price)
	})
}

// levelIndex locates price in a sorted side. Returns the insertion
// index and whether an exact match exists there.
func levelIndex(levels []schema.PriceLevel, price decimal.Decimal, descending bool) (int, bool) {
	idx := sort.Search(len(levels), func(i int) bool {
		if descending {
			return levels[i].Price.LessThanOrEqual(price)
		}
		return levels[i].Price.GreaterThanOrEqual(price)
	})
	if idx < len(levels) && levels[idx].Price.Equal(price) {
		return idx, true
	}
	return idx, false
}

func upsertLevel(levels []schema.PriceLevel, price, qty decimal.Decimal, descending bool) []schema.PriceLevel {
	idx, found := levelIndex(levels, price, descending)
	if qty.IsZero() {
		if !found {
			return levels
		}
		return append(levels[:idx], levels[idx+1:]...)
	}
	if found {
		levels[idx].Quantity = qty
		return levels
	}
	levels = append(levels, schema.PriceLevel{})
	copy(levels[idx+1:], levels[idx:])
	levels[idx] = schema.PriceLevel{Price: price, Quantity: qty}
	return levels
}

func copyLevels(levels []schema.PriceLevel) []schema.PriceLevel {
	if len(levels) == 0 {
		return nil
	}
	out := make([]schema.PriceLevel, len(levels))
	copy(out, levels)
	return out
}
