package connector

import (
	"context"

	"main/internal/schema"
)

// Capability is a bitset of operations a venue adapter supports.
// Callers must check Supports before invoking the matching method; a
// venue implementation may cover any subset.
type Capability uint16

const (
	CapPlaceOrder Capability = 1 << iota
	CapCancelOrder
	CapQueryBalances
	CapSubscribeOrderBook
	CapSubscribeUserEvents
	CapListMarkets
)

// Has reports whether c contains want.
func (c Capability) Has(want Capability) bool {
	return c&want == want
}

// Adapter normalizes one venue's REST and streaming protocol into the
// canonical Market/Order/Trade/BookUpdate types.
//
// Stream handlers run on the adapter's reader goroutines; a handler
// must hand off to its own consumer quickly and never block. One
// malformed venue message is logged and dropped inside the adapter,
// never surfaced to handlers.
type Adapter interface {
	// Name returns the venue name used in market keys.
	Name() string

	// Capabilities returns the supported operation set.
	Capabilities() Capability

	// ListMarkets fetches tradable instruments and their metadata.
	ListMarkets(ctx context.Context) ([]schema.Market, error)

	// PlaceOrder submits a create request and returns the venue
	// order id when the venue assigns one synchronously.
	PlaceOrder(ctx context.Context, req schema.OrderRequest) (string, error)

	// CancelOrder submits a cancel request by client order id.
	CancelOrder(ctx context.Context, market schema.Market, clientID string) error

	// QueryBalances fetches the current account balances.
	QueryBalances(ctx context.Context) ([]schema.AssetBalance, error)

	// BookSnapshot fetches a full book snapshot out-of-band. Used
	// for initial sync and whenever the tracker demands a resync.
	BookSnapshot(ctx context.Context, market schema.Market) (schema.BookSnapshot, error)

	// SubscribeOrderBook starts the market's delta stream.
	SubscribeOrderBook(ctx context.Context, market schema.Market) error

	// ObserveBookUpdates attaches a handler to the market-data
	// stream. The returned function detaches it.
	ObserveBookUpdates(ctx context.Context, handler func(schema.BookUpdate)) (unsubscribe func(), err error)

	// SubscribeUserEvents starts the account's user-data stream.
	SubscribeUserEvents(ctx context.Context) error

	// ObserveUserEvents attaches a handler to the user-data stream.
	ObserveUserEvents(ctx context.Context, handler func(schema.UserEvent)) (unsubscribe func(), err error)

	// Close tears down all connections.
	Close()
}
