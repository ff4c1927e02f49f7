// Package hub wires connector streams into the shared read models:
// order books and account balances.
package hub

import (
	"context"
	"sync"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"main/internal/book"
	"main/internal/connector"
	"main/internal/schema"
)

// maxResyncBuffer bounds the deltas held per market while a snapshot
// fetch is in flight; overflow discards the oldest.
const maxResyncBuffer = 4096

// MarketData owns one tracker per subscribed market, routes raw book
// updates into them, and re-requests snapshots when a tracker reports
// a sequence break.
type MarketData struct {
	emit func(schema.Event)

	mu        sync.RWMutex
	ctx       context.Context
	adapters  map[string]connector.Adapter
	trackers  map[schema.MarketKey]*book.Tracker
	markets   map[schema.MarketKey]schema.Market
	resyncing map[schema.MarketKey]bool
	pending   map[schema.MarketKey][]schema.BookUpdate
}

// NewMarketData creates the hub. A nil emit drops events.
func NewMarketData(emit func(schema.Event)) *MarketData {
	if emit == nil {
		emit = func(schema.Event) {}
	}
	return &MarketData{
		emit:      emit,
		adapters:  make(map[string]connector.Adapter),
		trackers:  make(map[schema.MarketKey]*book.Tracker),
		markets:   make(map[schema.MarketKey]schema.Market),
		resyncing: make(map[schema.MarketKey]bool),
		pending:   make(map[schema.MarketKey][]schema.BookUpdate),
	}
}

// AttachVenue registers a venue adapter. The adapter must support
// order book subscriptions.
func (h *MarketData) AttachVenue(venue string, adapter connector.Adapter) error {
	if !adapter.Capabilities().Has(connector.CapSubscribeOrderBook) {
		return connector.ErrUnsupported
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.adapters[venue] = adapter
	return nil
}

// Start attaches the hub to every venue's market-data stream. The
// context also bounds background resyncs.
func (h *MarketData) Start(ctx context.Context) error {
	h.mu.Lock()
	h.ctx = ctx
	adapters := make(map[string]connector.Adapter, len(h.adapters))
	for venue, ad := range h.adapters {
		adapters[venue] = ad
	}
	h.mu.Unlock()

	for venue, ad := range adapters {
		if _, err := ad.ObserveBookUpdates(ctx, h.HandleUpdate); err != nil {
			return errors.Wrap(err, "observe book updates").With("venue", venue)
		}
	}
	return nil
}

// Track subscribes the market's delta stream and seeds the tracker
// with an initial snapshot.
func (h *MarketData) Track(ctx context.Context, market schema.Market, cfg book.Config) error {
	key := market.Key()

	h.mu.Lock()
	adapter, ok := h.adapters[market.Venue]
	if !ok {
		h.mu.Unlock()
		return errors.Errorf("no adapter for venue %s", market.Venue)
	}
	if _, exists := h.trackers[key]; exists {
		h.mu.Unlock()
		return nil
	}
	tracker := book.NewTracker(key, cfg)
	h.trackers[key] = tracker
	h.markets[key] = market
	h.mu.Unlock()

	if err := adapter.SubscribeOrderBook(ctx, market); err != nil {
		return errors.Wrap(err, "subscribe order book").With("market", key)
	}

	snap, err := adapter.BookSnapshot(ctx, market)
	if err != nil {
		return errors.Wrap(err, "seed book snapshot").With("market", key)
	}
	if err := tracker.Apply(snap); err != nil {
		return errors.Wrap(err, "apply seed snapshot").With("market", key)
	}
	h.emit(schema.BookUpdated{Market: key, Seq: tracker.Seq()})
	return nil
}

// HandleUpdate routes one raw update into its tracker. Sequence
// breaks and crossed books schedule an out-of-band resync; the last
// good published book stays readable throughout.
func (h *MarketData) HandleUpdate(update schema.BookUpdate) {
	if update == nil {
		return
	}
	key := update.MarketKey()

	h.mu.Lock()
	tracker := h.trackers[key]
	if tracker == nil {
		h.mu.Unlock()
		return
	}
	if h.resyncing[key] {
		// Deltas arriving mid-resync replay once the fresh snapshot
		// lands; dropping them would force another round.
		buf := append(h.pending[key], update)
		if len(buf) > maxResyncBuffer {
			buf = buf[len(buf)-maxResyncBuffer:]
		}
		h.pending[key] = buf
		h.mu.Unlock()
		return
	}
	h.mu.Unlock()

	switch err := tracker.Apply(update); err {
	case nil:
		h.emit(schema.BookUpdated{Market: key, Seq: update.Sequence()})
	case book.ErrResyncRequired:
		h.emit(schema.BookResync{Market: key, HaveSeq: tracker.Seq(), GotSeq: update.Sequence()})
		h.requestResync(key)
	case book.ErrCrossedBook:
		logs.Errorf("crossed book on %s at seq %d", key, update.Sequence())
		h.emit(schema.BookResync{Market: key, HaveSeq: tracker.Seq(), GotSeq: update.Sequence()})
		h.requestResync(key)
	default:
		logs.Warnf("drop book update on %s: %v", key, err)
	}
}

// OrderBook returns the market's last fully-applied book.
func (h *MarketData) OrderBook(key schema.MarketKey) (*book.OrderBook, bool) {
	h.mu.RLock()
	tracker := h.trackers[key]
	h.mu.RUnlock()
	if tracker == nil {
		return nil, false
	}
	return tracker.Snapshot(), true
}

// Synced reports whether the market's tracker holds a continuous book.
func (h *MarketData) Synced(key schema.MarketKey) bool {
	h.mu.RLock()
	tracker := h.trackers[key]
	h.mu.RUnlock()
	return tracker != nil && tracker.Synced()
}

// Tracked returns all tracked markets.
func (h *MarketData) Tracked() []schema.Market {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]schema.Market, 0, len(h.markets))
	for _, m := range h.markets {
		out = append(out, m)
	}
	return out
}

// requestResync schedules at most one in-flight resync per market.
func (h *MarketData) requestResync(key schema.MarketKey) {
	h.mu.Lock()
	if h.resyncing[key] || h.ctx == nil {
		h.mu.Unlock()
		return
	}
	market, ok := h.markets[key]
	adapter := h.adapters[market.Venue]
	if !ok || adapter == nil {
		h.mu.Unlock()
		return
	}
	h.resyncing[key] = true
	ctx := h.ctx
	h.mu.Unlock()

	go h.resync(ctx, adapter, market)
}

func (h *MarketData) resync(ctx context.Context, adapter connector.Adapter, market schema.Market) {
	key := market.Key()

	h.mu.RLock()
	tracker := h.trackers[key]
	h.mu.RUnlock()
	if tracker == nil {
		h.finishResync(key)
		return
	}

	err := connector.Retry(ctx, 0, func() error {
		snap, err := adapter.BookSnapshot(ctx, market)
		if err != nil {
			return err
		}
		if err := tracker.Apply(snap); err != nil {
			// A crossed venue snapshot; fetch another.
			return connector.Transient(err)
		}
		return nil
	})
	if err != nil {
		logs.Errorf("resync %s failed: %v", key, err)
		h.finishResync(key)
		return
	}

	broken := h.replayPending(tracker, key)
	leftover := h.finishResync(key)

	logs.Info("book resynced: " + string(key))
	h.emit(schema.BookUpdated{Market: key, Seq: tracker.Seq()})
	if broken {
		h.requestResync(key)
		return
	}
	for _, update := range leftover {
		h.HandleUpdate(update)
	}
}

// replayPending drains deltas buffered during the snapshot fetch into
// the freshly seeded tracker. Deltas at or below the snapshot sequence
// predate it and are skipped. Reports whether replay broke continuity
// again.
func (h *MarketData) replayPending(tracker *book.Tracker, key schema.MarketKey) bool {
	for {
		h.mu.Lock()
		buf := h.pending[key]
		delete(h.pending, key)
		h.mu.Unlock()
		if len(buf) == 0 {
			return false
		}
		for _, update := range buf {
			if update.Sequence() <= tracker.Seq() {
				continue
			}
			if err := tracker.Apply(update); err != nil {
				h.emit(schema.BookResync{Market: key, HaveSeq: tracker.Seq(), GotSeq: update.Sequence()})
				return true
			}
			h.emit(schema.BookUpdated{Market: key, Seq: update.Sequence()})
		}
	}
}

// finishResync clears the in-flight flag and hands back any deltas
// that slipped into the buffer after the final replay pass.
func (h *MarketData) finishResync(key schema.MarketKey) []schema.BookUpdate {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.resyncing, key)
	leftover := h.pending[key]
	delete(h.pending, key)
	return leftover
}
