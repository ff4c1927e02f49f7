package schema

import "github.com/shopspring/decimal"

//go:generate go run main/libs/tool/sealed

// UserEvent is a normalized message from a venue's user-data stream.
// Concrete types: OrderAck, OrderReject, TradeEvent, CancelAck,
// OrderExpire, BalanceUpdate.
type UserEvent interface {
	userEvent()
}

// OrderAck acknowledges a create request and binds the venue order id.
type OrderAck struct {
	ClientID     string
	VenueOrderID string
	TsNano       int64
}

// OrderReject reports a venue-side rejection of a create request.
type OrderReject struct {
	ClientID string
	Reason   string
	TsNano   int64
}

// TradeEvent is an immutable fill. VenueTradeID is the dedup key:
// the fill is applied at most once even if the feed redelivers it.
type TradeEvent struct {
	ClientID     string
	VenueOrderID string
	VenueTradeID string
	Price        decimal.Decimal
	Quantity     decimal.Decimal
	Fee          decimal.Decimal
	FeeAsset     string
	TsNano       int64
}

// CancelAck confirms a cancel request.
type CancelAck struct {
	ClientID     string
	VenueOrderID string
	TsNano       int64
}

// OrderExpire reports a venue-side expiry of an open order.
type OrderExpire struct {
	ClientID     string
	VenueOrderID string
	TsNano       int64
}

// BalanceUpdate carries a venue-pushed balance refresh.
type BalanceUpdate struct {
	Venue    string
	Balances []AssetBalance
	TsNano   int64
}
