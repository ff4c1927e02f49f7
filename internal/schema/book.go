package schema

import "github.com/shopspring/decimal"

// BookSide identifies a side of the order book.
type BookSide uint16

const (
	BookSideUnknown BookSide = iota
	BookSideBid
	BookSideAsk
)

func (s BookSide) String() string {
	switch s {
	case BookSideBid:
		return "bid"
	case BookSideAsk:
		return "ask"
	default:
		return "unknown"
	}
}

// PriceLevel is one (price, quantity) entry of an order book side.
type PriceLevel struct {
	Price    decimal.Decimal
	Quantity decimal.Decimal
}

// BookUpdate is a normalized market-data message: either a full
// BookSnapshot or an incremental BookDelta.
type BookUpdate interface {
	MarketKey() MarketKey
	Sequence() uint64
}

// BookSnapshot replaces both sides of a book wholesale.
type BookSnapshot struct {
	Market MarketKey
	Seq    uint64
	Bids   []PriceLevel
	Asks   []PriceLevel
	TsNano int64
}

func (s BookSnapshot) MarketKey() MarketKey { return s.Market }
func (s BookSnapshot) Sequence() uint64     { return s.Seq }

// BookDelta upserts or removes a single price level.
// A zero quantity removes the level.
type BookDelta struct {
	Market   MarketKey
	Seq      uint64
	Side     BookSide
	Price    decimal.Decimal
	Quantity decimal.Decimal
	TsNano   int64
}

func (d BookDelta) MarketKey() MarketKey { return d.Market }
func (d BookDelta) Sequence() uint64     { return d.Seq }
