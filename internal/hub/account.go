package hub

import (
	"sort"
	"sync"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/logs"

	"main/internal/schema"
)

// Account tracks per-venue balances. Totals come from the venue
// (stream pushes and reconciliation); available subtracts amounts
// reserved locally for in-flight orders the venue may not have
// registered yet.
type Account struct {
	emit func(schema.Event)

	mu     sync.Mutex
	venues map[string]*venueAccount
}

type venueAccount struct {
	balances map[string]schema.AssetBalance
	locks    map[string]reservation
}

type reservation struct {
	asset  string
	amount decimal.Decimal
}

// NewAccount creates the hub. A nil emit drops events.
func NewAccount(emit func(schema.Event)) *Account {
	if emit == nil {
		emit = func(schema.Event) {}
	}
	return &Account{
		emit:   emit,
		venues: make(map[string]*venueAccount),
	}
}

func (h *Account) venue(name string) *venueAccount {
	va, ok := h.venues[name]
	if !ok {
		va = &venueAccount{
			balances: make(map[string]schema.AssetBalance),
			locks:    make(map[string]reservation),
		}
		h.venues[name] = va
	}
	return va
}

// ApplyUpdate ingests a venue-pushed balance refresh and emits one
// BalanceChanged per asset that actually moved.
func (h *Account) ApplyUpdate(update schema.BalanceUpdate) {
	h.mu.Lock()
	va := h.venue(update.Venue)
	var changed []schema.AssetBalance
	for _, b := range update.Balances {
		prev, known := va.balances[b.Asset]
		if known && prev.Total.Equal(b.Total) && prev.Available.Equal(b.Available) {
			continue
		}
		va.balances[b.Asset] = b
		changed = append(changed, va.effective(b))
	}
	h.mu.Unlock()

	for _, b := range changed {
		h.emit(schema.BalanceChanged{
			Venue:     update.Venue,
			Asset:     b.Asset,
			Total:     b.Total,
			Available: b.Available,
		})
	}
}

// Reconcile applies a full balance query result, logging drift
// against the last known totals before accepting the venue's view.
// The result is authoritative: a known asset it omits was fully
// spent on the venue and is zeroed locally.
func (h *Account) Reconcile(update schema.BalanceUpdate) {
	h.mu.Lock()
	va := h.venue(update.Venue)
	reported := make(map[string]struct{}, len(update.Balances))
	for _, b := range update.Balances {
		reported[b.Asset] = struct{}{}
		prev, known := va.balances[b.Asset]
		if known && !prev.Total.Equal(b.Total) {
			logs.Warnf("balance drift on %s %s: held %s, venue %s",
				update.Venue, b.Asset, prev.Total, b.Total)
		}
	}
	for asset, prev := range va.balances {
		if _, ok := reported[asset]; ok || prev.Total.IsZero() {
			continue
		}
		logs.Warnf("balance drift on %s %s: held %s, venue 0",
			update.Venue, asset, prev.Total)
		update.Balances = append(update.Balances, schema.AssetBalance{
			Asset:     asset,
			Total:     decimal.Zero,
			Available: decimal.Zero,
		})
	}
	h.mu.Unlock()

	h.ApplyUpdate(update)
}

// Lock reserves amount of asset against an in-flight order. Calling
// again for the same client id replaces the reservation, so callers
// shrink it as fills arrive.
func (h *Account) Lock(venue, clientID, asset string, amount decimal.Decimal) {
	if clientID == "" || asset == "" || amount.Sign() < 0 {
		return
	}

	h.mu.Lock()
	va := h.venue(venue)
	prev, existed := va.locks[clientID]
	va.locks[clientID] = reservation{asset: asset, amount: amount}
	var changed []schema.AssetBalance
	if b, known := va.balances[asset]; known {
		changed = append(changed, va.effective(b))
	}
	if existed && prev.asset != asset {
		if b, known := va.balances[prev.asset]; known {
			changed = append(changed, va.effective(b))
		}
	}
	h.mu.Unlock()

	h.emitChanged(venue, changed)
}

// Release drops the order's reservation.
func (h *Account) Release(venue, clientID string) {
	h.mu.Lock()
	va := h.venue(venue)
	res, ok := va.locks[clientID]
	if !ok {
		h.mu.Unlock()
		return
	}
	delete(va.locks, clientID)
	var changed []schema.AssetBalance
	if b, known := va.balances[res.asset]; known {
		changed = append(changed, va.effective(b))
	}
	h.mu.Unlock()

	h.emitChanged(venue, changed)
}

// Balances returns the venue's balances with local reservations
// subtracted, sorted by asset.
func (h *Account) Balances(venue string) []schema.AssetBalance {
	h.mu.Lock()
	va, ok := h.venues[venue]
	if !ok {
		h.mu.Unlock()
		return nil
	}
	out := make([]schema.AssetBalance, 0, len(va.balances))
	for _, b := range va.balances {
		out = append(out, va.effective(b))
	}
	h.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Asset < out[j].Asset })
	return out
}

// Balance returns one asset's effective balance.
func (h *Account) Balance(venue, asset string) (schema.AssetBalance, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	va, ok := h.venues[venue]
	if !ok {
		return schema.AssetBalance{}, false
	}
	b, known := va.balances[asset]
	if !known {
		return schema.AssetBalance{}, false
	}
	return va.effective(b), true
}

func (h *Account) emitChanged(venue string, changed []schema.AssetBalance) {
	for _, b := range changed {
		h.emit(schema.BalanceChanged{
			Venue:     venue,
			Asset:     b.Asset,
			Total:     b.Total,
			Available: b.Available,
		})
	}
}

// effective subtracts local reservations from the venue-reported
// available, never below zero. The venue's own view wins when it is
// already tighter.
func (va *venueAccount) effective(b schema.AssetBalance) schema.AssetBalance {
	locked := decimal.Zero
	for _, res := range va.locks {
		if res.asset == b.Asset {
			locked = locked.Add(res.amount)
		}
	}
	if locked.IsZero() {
		return b
	}

	available := b.Total.Sub(locked)
	if available.GreaterThan(b.Available) {
		available = b.Available
	}
	if available.IsNegative() {
		available = decimal.Zero
	}
	b.Available = available
	return b
}
