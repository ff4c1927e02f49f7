package schema

import "github.com/shopspring/decimal"

// OrderSide describes order direction.
type OrderSide uint16

const (
	OrderSideUnknown OrderSide = iota
	OrderSideBuy
	OrderSideSell
)

func (s OrderSide) String() string {
	switch s {
	case OrderSideBuy:
		return "buy"
	case OrderSideSell:
		return "sell"
	default:
		return "unknown"
	}
}

// OrderType describes order type.
type OrderType uint16

const (
	OrderTypeUnknown OrderType = iota
	OrderTypeLimit
	OrderTypeMarket
)

func (t OrderType) String() string {
	switch t {
	case OrderTypeLimit:
		return "limit"
	case OrderTypeMarket:
		return "market"
	default:
		return "unknown"
	}
}

// TimeInForce describes order time-in-force.
type TimeInForce uint16

const (
	TimeInForceUnknown TimeInForce = iota
	TimeInForceGTC
	TimeInForceIOC
	TimeInForceFOK
)

// OrderRequest is the outbound create request sent to a venue.
type OrderRequest struct {
	ClientID    string
	Market      Market
	Side        OrderSide
	Type        OrderType
	TimeInForce TimeInForce
	Price       decimal.Decimal
	Quantity    decimal.Decimal
}

// AssetBalance is the per-asset account state on one venue.
// Available is total minus the amount locked in open orders.
type AssetBalance struct {
	Asset     string
	Total     decimal.Decimal
	Available decimal.Decimal
}
