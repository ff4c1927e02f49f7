package book

import (
	"errors"
	"sync"
	"sync/atomic"

	"main/internal/schema"
)

var (
	// ErrResyncRequired reports a sequence break. The caller must
	// request a fresh snapshot out-of-band; the prior book state is
	// left untouched.
	ErrResyncRequired = errors.New("book resync required")

	// ErrCrossedBook reports best bid >= best ask after an apply.
	// This indicates an upstream protocol bug and is never corrected
	// locally.
	ErrCrossedBook = errors.New("crossed book")

	ErrMarketMismatch = errors.New("update market mismatch")
	ErrInvalidUpdate  = errors.New("invalid book update")
)

// Config controls per-tracker behavior.
type Config struct {
	// GapTolerance accepts deltas that skip at most this many
	// sequence numbers beyond current+1. Zero means strict
	// continuity, which is what most venues require.
	GapTolerance uint64
}

// Tracker merges snapshot and delta feeds for a single market into a
// continuously consistent order book.
//
// The tracker is the sole mutator of its book. Apply must be called
// from one goroutine per market (the connector's market-data loop);
// Snapshot is safe for concurrent readers and observes either a fully
// applied update or none.
type Tracker struct {
	market schema.MarketKey
	cfg    Config

	mu     sync.Mutex
	bids   []schema.PriceLevel
	asks   []schema.PriceLevel
	seq    uint64
	tsNano int64
	synced bool

	snap atomic.Pointer[OrderBook]
}

// NewTracker creates a tracker for one market. The book is unsynced
// until the first snapshot arrives.
func NewTracker(market schema.MarketKey, cfg Config) *Tracker {
	t := &Tracker{market: market, cfg: cfg}
	t.snap.Store(&OrderBook{Market: market})
	return t
}

// Market returns the tracked market key.
func (t *Tracker) Market() schema.MarketKey {
	return t.market
}

// Seq returns the current sequence watermark.
func (t *Tracker) Seq() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.seq
}

// Synced reports whether the tracker holds a continuous book.
func (t *Tracker) Synced() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.synced
}

// Snapshot returns the last fully-applied book. The returned value is
// immutable and shared; callers must not mutate it.
func (t *Tracker) Snapshot() *OrderBook {
	return t.snap.Load()
}

// Apply merges a book update. Snapshots replace both sides wholesale
// and reset the sequence watermark. Deltas require sequence
// continuity; a break returns ErrResyncRequired and leaves the book
// unchanged.
func (t *Tracker) Apply(update schema.BookUpdate) error {
	if update == nil {
		return ErrInvalidUpdate
	}
	if update.MarketKey() != t.market {
		return ErrMarketMismatch
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	switch u := update.(type) {
	case schema.BookSnapshot:
		return t.applySnapshot(u)
	case schema.BookDelta:
		return t.applyDelta(u)
	default:
		return ErrInvalidUpdate
	}
}

func (t *Tracker) applySnapshot(s schema.BookSnapshot) error {
	bids := copyLevels(s.Bids)
	asks := copyLevels(s.Asks)
	sortSide(bids, true)
	sortSide(asks, false)

	if crossed(bids, asks) {
		t.synced = false
		return ErrCrossedBook
	}

	t.bids = bids
	t.asks = asks
	t.seq = s.Seq
	t.tsNano = s.TsNano
	t.synced = true
	t.publish()
	return nil
}

func (t *Tracker) applyDelta(d schema.BookDelta) error {
	if !t.synced {
		return ErrResyncRequired
	}
	if d.Side != schema.BookSideBid && d.Side != schema.BookSideAsk {
		return ErrInvalidUpdate
	}
	if d.Quantity.IsNegative() {
		return ErrInvalidUpdate
	}
	if !sequential(t.seq, d.Seq, t.cfg.GapTolerance) {
		t.synced = false
		return ErrResyncRequired
	}

	if d.Side == schema.BookSideBid {
		t.bids = upsertLevel(t.bids, d.Price, d.Quantity, true)
	} else {
		t.asks = upsertLevel(t.asks, d.Price, d.Quantity, false)
	}

	if crossed(t.bids, t.asks) {
		// Keep the last good published snapshot readable; the
		// corrupt working copy is discarded on the next resync.
		t.synced = false
		return ErrCrossedBook
	}

	t.seq = d.Seq
	t.tsNano = d.TsNano
	t.publish()
	return nil
}

// publish swaps in an immutable copy of the working book.
// Must be called with t.mu held.
func (t *Tracker) publish() {
	t.snap.Store(&OrderBook{
		Market: t.market,
		Seq:    t.seq,
		Bids:   copyLevels(t.bids),
		Asks:   copyLevels(t.asks),
		TsNano: t.tsNano,
	})
}

func sequential(current, next, tolerance uint64) bool {
	if next <= current {
		return false
	}
	return next-current-1 <= tolerance
}

func crossed(bids, asks []schema.PriceLevel) bool {
	if len(bids) == 0 || len(asks) == 0 {
		return false
	}
	return bids[0].Price.GreaterThanOrEqual(asks[0].Price)
}
