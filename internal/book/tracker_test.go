package book

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"main/internal/schema"
)

const testMarket = schema.MarketKey("SIM:BTC-USDT")

func level(price, qty int64) schema.PriceLevel {
	return schema.PriceLevel{
		Price:    decimal.NewFromInt(price),
		Quantity: decimal.NewFromInt(qty),
	}
}

func seedSnapshot(t *testing.T, tr *Tracker, seq uint64) {
	t.Helper()
	err := tr.Apply(schema.BookSnapshot{
		Market: testMarket,
		Seq:    seq,
		Bids:   []schema.PriceLevel{level(99, 5)},
		Asks:   []schema.PriceLevel{level(101, 5)},
	})
	if err != nil {
		t.Fatalf("seed snapshot: %v", err)
	}
}

func TestSnapshotReplacesBook(t *testing.T) {
	tr := NewTracker(testMarket, Config{})
	seedSnapshot(t, tr, 100)

	snap := tr.Snapshot()
	if snap.Seq != 100 {
		t.Fatalf("seq = %d, want 100", snap.Seq)
	}
	bid, ok := snap.BestBid()
	if !ok || !bid.Price.Equal(decimal.NewFromInt(99)) {
		t.Fatalf("best bid = %+v, want 99", bid)
	}
	ask, ok := snap.BestAsk()
	if !ok || !ask.Price.Equal(decimal.NewFromInt(101)) {
		t.Fatalf("best ask = %+v, want 101", ask)
	}
}

func TestDeltaRemovesLevel(t *testing.T) {
	tr := NewTracker(testMarket, Config{})
	seedSnapshot(t, tr, 100)

	err := tr.Apply(schema.BookDelta{
		Market:   testMarket,
		Seq:      101,
		Side:     schema.BookSideAsk,
		Price:    decimal.NewFromInt(101),
		Quantity: decimal.Zero,
	})
	if err != nil {
		t.Fatalf("apply delta: %v", err)
	}

	snap := tr.Snapshot()
	if snap.Seq != 101 {
		t.Fatalf("seq = %d, want 101", snap.Seq)
	}
	if len(snap.Asks) != 0 {
		t.Fatalf("asks = %+v, want empty", snap.Asks)
	}
}

func TestDeltaUpsertsLevels(t *testing.T) {
	tr := NewTracker(testMarket, Config{})
	seedSnapshot(t, tr, 100)

	deltas := []schema.BookDelta{
		{Market: testMarket, Seq: 101, Side: schema.BookSideBid, Price: decimal.NewFromInt(98), Quantity: decimal.NewFromInt(3)},
		{Market: testMarket, Seq: 102, Side: schema.BookSideBid, Price: decimal.NewFromInt(99), Quantity: decimal.NewFromInt(7)},
		{Market: testMarket, Seq: 103, Side: schema.BookSideAsk, Price: decimal.NewFromInt(102), Quantity: decimal.NewFromInt(4)},
	}
	for _, d := range deltas {
		if err := tr.Apply(d); err != nil {
			t.Fatalf("apply delta seq=%d: %v", d.Seq, err)
		}
		if tr.Snapshot().Crossed() {
			t.Fatalf("book crossed after seq=%d", d.Seq)
		}
	}

	snap := tr.Snapshot()
	if len(snap.Bids) != 2 || len(snap.Asks) != 2 {
		t.Fatalf("sides = %d/%d, want 2/2", len(snap.Bids), len(snap.Asks))
	}
	if !snap.Bids[0].Price.Equal(decimal.NewFromInt(99)) || !snap.Bids[1].Price.Equal(decimal.NewFromInt(98)) {
		t.Fatalf("bids not descending: %+v", snap.Bids)
	}
	if !snap.Bids[0].Quantity.Equal(decimal.NewFromInt(7)) {
		t.Fatalf("bid 99 qty = %s, want 7 after upsert", snap.Bids[0].Quantity)
	}
	if !snap.Asks[0].Price.Equal(decimal.NewFromInt(101)) || !snap.Asks[1].Price.Equal(decimal.NewFromInt(102)) {
		t.Fatalf("asks not ascending: %+v", snap.Asks)
	}
}

func TestSequenceGapRequiresResync(t *testing.T) {
	tr := NewTracker(testMarket, Config{})
	seedSnapshot(t, tr, 100)

	err := tr.Apply(schema.BookDelta{
		Market:   testMarket,
		Seq:      103,
		Side:     schema.BookSideBid,
		Price:    decimal.NewFromInt(98),
		Quantity: decimal.NewFromInt(1),
	})
	if !errors.Is(err, ErrResyncRequired) {
		t.Fatalf("err = %v, want ErrResyncRequired", err)
	}

	snap := tr.Snapshot()
	if snap.Seq != 100 {
		t.Fatalf("seq = %d, want unchanged 100", snap.Seq)
	}
	if len(snap.Bids) != 1 || len(snap.Asks) != 1 {
		t.Fatalf("book changed after rejected delta: %+v", snap)
	}
	if tr.Synced() {
		t.Fatal("tracker still synced after gap")
	}

	// A fresh snapshot recovers the tracker.
	seedSnapshot(t, tr, 200)
	if !tr.Synced() {
		t.Fatal("tracker not synced after snapshot")
	}
}

func TestStaleDeltaRequiresResync(t *testing.T) {
	tr := NewTracker(testMarket, Config{})
	seedSnapshot(t, tr, 100)

	err := tr.Apply(schema.BookDelta{
		Market:   testMarket,
		Seq:      100,
		Side:     schema.BookSideBid,
		Price:    decimal.NewFromInt(98),
		Quantity: decimal.NewFromInt(1),
	})
	if !errors.Is(err, ErrResyncRequired) {
		t.Fatalf("err = %v, want ErrResyncRequired", err)
	}
}

func TestGapToleranceAcceptsSmallSkips(t *testing.T) {
	tr := NewTracker(testMarket, Config{GapTolerance: 2})
	seedSnapshot(t, tr, 100)

	err := tr.Apply(schema.BookDelta{
		Market:   testMarket,
		Seq:      103,
		Side:     schema.BookSideBid,
		Price:    decimal.NewFromInt(98),
		Quantity: decimal.NewFromInt(1),
	})
	if err != nil {
		t.Fatalf("apply within tolerance: %v", err)
	}
	if tr.Seq() != 103 {
		t.Fatalf("seq = %d, want 103", tr.Seq())
	}

	err = tr.Apply(schema.BookDelta{
		Market:   testMarket,
		Seq:      107,
		Side:     schema.BookSideBid,
		Price:    decimal.NewFromInt(97),
		Quantity: decimal.NewFromInt(1),
	})
	if !errors.Is(err, ErrResyncRequired) {
		t.Fatalf("err = %v, want ErrResyncRequired beyond tolerance", err)
	}
}

func TestDeltaBeforeSnapshotRequiresResync(t *testing.T) {
	tr := NewTracker(testMarket, Config{})
	err := tr.Apply(schema.BookDelta{
		Market:   testMarket,
		Seq:      1,
		Side:     schema.BookSideBid,
		Price:    decimal.NewFromInt(99),
		Quantity: decimal.NewFromInt(5),
	})
	if !errors.Is(err, ErrResyncRequired) {
		t.Fatalf("err = %v, want ErrResyncRequired", err)
	}
}

func TestCrossedBookIsFatal(t *testing.T) {
	tr := NewTracker(testMarket, Config{})
	seedSnapshot(t, tr, 100)

	err := tr.Apply(schema.BookDelta{
		Market:   testMarket,
		Seq:      101,
		Side:     schema.BookSideBid,
		Price:    decimal.NewFromInt(101),
		Quantity: decimal.NewFromInt(1),
	})
	if !errors.Is(err, ErrCrossedBook) {
		t.Fatalf("err = %v, want ErrCrossedBook", err)
	}
	if tr.Synced() {
		t.Fatal("tracker still synced after crossed book")
	}

	// Readers keep the last good state.
	if snap := tr.Snapshot(); snap.Crossed() {
		t.Fatalf("published snapshot crossed: %+v", snap)
	}
}

func TestCrossedSnapshotRejected(t *testing.T) {
	tr := NewTracker(testMarket, Config{})
	err := tr.Apply(schema.BookSnapshot{
		Market: testMarket,
		Seq:    10,
		Bids:   []schema.PriceLevel{level(102, 5)},
		Asks:   []schema.PriceLevel{level(101, 5)},
	})
	if !errors.Is(err, ErrCrossedBook) {
		t.Fatalf("err = %v, want ErrCrossedBook", err)
	}
}

func TestMarketMismatchRejected(t *testing.T) {
	tr := NewTracker(testMarket, Config{})
	err := tr.Apply(schema.BookSnapshot{Market: "SIM:ETH-USDT", Seq: 1})
	if !errors.Is(err, ErrMarketMismatch) {
		t.Fatalf("err = %v, want ErrMarketMismatch", err)
	}
}
