package schema

import "github.com/shopspring/decimal"

//go:generate go run main/libs/tool/sealed

// Event is a domain event published to hub/strategy subscribers.
// Every order state transition and book mutation emits exactly one.
type Event interface {
	event()
}

// BookUpdated signals that a market's book advanced to Seq.
type BookUpdated struct {
	Market MarketKey
	Seq    uint64
}

// BookResync signals that a market's book hit a sequence gap and a
// fresh snapshot was requested.
type BookResync struct {
	Market  MarketKey
	HaveSeq uint64
	GotSeq  uint64
}

// OrderOpened signals a venue ack of a create request.
type OrderOpened struct {
	ClientID     string
	VenueOrderID string
}

// OrderPartiallyFilled signals a partial fill.
type OrderPartiallyFilled struct {
	ClientID string
	Filled   decimal.Decimal
	Quantity decimal.Decimal
}

// OrderFilled signals a complete fill.
type OrderFilled struct {
	ClientID string
	Filled   decimal.Decimal
}

// OrderCancelled signals a venue-confirmed cancel.
type OrderCancelled struct {
	ClientID string
}

// OrderRejected signals a venue rejection.
type OrderRejected struct {
	ClientID string
	Reason   string
}

// OrderExpired signals a venue-side expiry.
type OrderExpired struct {
	ClientID string
}

// OrderFailed signals an unrecoverable local error, including a
// create that was never acknowledged within the configured bound.
type OrderFailed struct {
	ClientID string
	Reason   string
}

// BalanceChanged signals an account balance mutation.
type BalanceChanged struct {
	Venue     string
	Asset     string
	Total     decimal.Decimal
	Available decimal.Decimal
}
