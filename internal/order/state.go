package order

import (
	"github.com/shopspring/decimal"

	"main/internal/schema"
)

// State tracks the lifecycle of an order.
type State uint16

const (
	StateUnknown State = iota
	StatePendingCreate
	StateOpen
	StatePartiallyFilled
	StatePendingCancel
	StateFilled
	StateCancelled
	StateRejected
	StateExpired
	StateFailed
)

// Terminal reports whether no further transition is allowed.
func (s State) Terminal() bool {
	switch s {
	case StateFilled, StateCancelled, StateRejected, StateExpired, StateFailed:
		return true
	default:
		return false
	}
}

func (s State) String() string {
	switch s {
	case StatePendingCreate:
		return "pending_create"
	case StateOpen:
		return "open"
	case StatePartiallyFilled:
		return "partially_filled"
	case StatePendingCancel:
		return "pending_cancel"
	case StateFilled:
		return "filled"
	case StateCancelled:
		return "cancelled"
	case StateRejected:
		return "rejected"
	case StateExpired:
		return "expired"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Order is the machine's view of one order. Values returned by the
// machine are copies; the machine owns the authoritative state.
type Order struct {
	ClientID     string
	VenueOrderID string
	Market       schema.Market
	Side         schema.OrderSide
	Type         schema.OrderType
	TimeInForce  schema.TimeInForce
	Price        decimal.Decimal
	Quantity     decimal.Decimal
	State        State
	Filled       decimal.Decimal
	FailReason   string

	// Inconsistent flags an order whose venue state could not be
	// confirmed within the configured bound (e.g. a cancel ack that
	// never arrived). Resolved by the reconciliation pass.
	Inconsistent bool

	CreatedAtNano int64
	UpdatedAtNano int64
}

// Remaining returns the unfilled quantity.
func (o Order) Remaining() decimal.Decimal {
	rem := o.Quantity.Sub(o.Filled)
	if rem.IsNegative() {
		return decimal.Zero
	}
	return rem
}
