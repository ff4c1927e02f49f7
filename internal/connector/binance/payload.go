package binance

import (
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	ydecimal "github.com/yanun0323/decimal"

	"main/internal/schema"
)

type subscribeRequest struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
	ID     int64    `json:"id"`
}

type subscribeResponse struct {
	ID     int64 `json:"id"`
	Result any   `json:"result"`
}

// depthPayload is the 'Diff. Depth Stream' message. FirstUpdateID and
// FinalUpdateID bound the venue update ids consumed by the batch.
type depthPayload struct {
	EventType     string               `json:"e"`
	EventTime     int64                `json:"E"`
	Symbol        string               `json:"s"`
	FirstUpdateID uint64               `json:"U"`
	FinalUpdateID uint64               `json:"u"`
	Bids          [][]ydecimal.Decimal `json:"b"` // [0]price [1]quantity
	Asks          [][]ydecimal.Decimal `json:"a"` // [0]price [1]quantity
}

type depthSnapshotPayload struct {
	LastUpdateID uint64               `json:"lastUpdateId"`
	Bids         [][]ydecimal.Decimal `json:"bids"`
	Asks         [][]ydecimal.Decimal `json:"asks"`
}

type exchangeInfoPayload struct {
	Symbols []symbolInfoPayload `json:"symbols"`
}

type symbolInfoPayload struct {
	Symbol     string                `json:"symbol"`
	Status     string                `json:"status"`
	BaseAsset  string                `json:"baseAsset"`
	QuoteAsset string                `json:"quoteAsset"`
	Filters    []symbolFilterPayload `json:"filters"`
}

type symbolFilterPayload struct {
	FilterType string `json:"filterType"`
	TickSize   string `json:"tickSize"`
	StepSize   string `json:"stepSize"`
	MinQty     string `json:"minQty"`
}

type orderAckPayload struct {
	Symbol        string `json:"symbol"`
	OrderID       int64  `json:"orderId"`
	ClientOrderID string `json:"clientOrderId"`
}

type accountPayload struct {
	Balances []restBalancePayload `json:"balances"`
}

type restBalancePayload struct {
	Asset  string           `json:"asset"`
	Free   ydecimal.Decimal `json:"free"`
	Locked ydecimal.Decimal `json:"locked"`
}

type listenKeyPayload struct {
	ListenKey string `json:"listenKey"`
}

type apiErrorPayload struct {
	Code    int64  `json:"code"`
	Message string `json:"msg"`
}

// executionReport is the order lifecycle message of the user-data
// stream. ExecutionType drives the mapping to user events.
type executionReport struct {
	EventType         string           `json:"e"`
	EventTime         int64            `json:"E"`
	Symbol            string           `json:"s"`
	ClientOrderID     string           `json:"c"`
	OrigClientOrderID string           `json:"C"`
	ExecutionType     string           `json:"x"`
	OrderStatus       string           `json:"X"`
	RejectReason      string           `json:"r"`
	OrderID           int64            `json:"i"`
	LastQuantity      ydecimal.Decimal `json:"l"`
	LastPrice         ydecimal.Decimal `json:"L"`
	Fee               ydecimal.Decimal `json:"n"`
	FeeAsset          string           `json:"N"`
	TradeID           int64            `json:"t"`
	TradeTime         int64            `json:"T"`
}

type accountPositionPayload struct {
	EventType string             `json:"e"`
	EventTime int64              `json:"E"`
	Balances  []wsBalancePayload `json:"B"`
}

type wsBalancePayload struct {
	Asset  string           `json:"a"`
	Free   ydecimal.Decimal `json:"f"`
	Locked ydecimal.Decimal `json:"l"`
}

func toDecimal(v ydecimal.Decimal) decimal.Decimal {
	d, err := decimal.NewFromString(v.String())
	if err != nil {
		return decimal.Zero
	}
	return d
}

func toLevels(raw [][]ydecimal.Decimal) []schema.PriceLevel {
	out := make([]schema.PriceLevel, 0, len(raw))
	for _, lvl := range raw {
		if len(lvl) < 2 {
			continue
		}
		out = append(out, schema.PriceLevel{
			Price:    toDecimal(lvl[0]),
			Quantity: toDecimal(lvl[1]),
		})
	}
	return out
}

// nativeSymbol maps the canonical "BASE-QUOTE" symbol to the venue's
// concatenated form.
func nativeSymbol(m schema.Market) string {
	return strings.ReplaceAll(m.Symbol, "-", "")
}

// precisionFromStep derives decimal places from a filter step such as
// "0.00100000" (3) or "1.00000000" (0).
func precisionFromStep(step string) int32 {
	dot := strings.IndexByte(step, '.')
	if dot < 0 {
		return 0
	}
	for i := dot + 1; i < len(step); i++ {
		if step[i] != '0' {
			return int32(i - dot)
		}
	}
	return 0
}

func (s symbolInfoPayload) market(venue string) schema.Market {
	m := schema.Market{
		Venue:      venue,
		Symbol:     s.BaseAsset + "-" + s.QuoteAsset,
		BaseAsset:  s.BaseAsset,
		QuoteAsset: s.QuoteAsset,
	}
	for _, f := range s.Filters {
		switch f.FilterType {
		case "PRICE_FILTER":
			m.PricePrecision = precisionFromStep(f.TickSize)
		case "LOT_SIZE":
			m.QuantityPrecision = precisionFromStep(f.StepSize)
			if qty, err := decimal.NewFromString(f.MinQty); err == nil {
				m.MinOrderSize = qty
			}
		}
	}
	return m
}

func toBalances(free, locked ydecimal.Decimal) (total, available decimal.Decimal) {
	available = toDecimal(free)
	total = available.Add(toDecimal(locked))
	return total, available
}

// userEvent maps an execution report to the canonical event, or
// reports false for execution types the runtime does not consume.
func (r executionReport) userEvent() (schema.UserEvent, bool) {
	ts := r.EventTime * int64(time.Millisecond)
	venueOrderID := strconv.FormatInt(r.OrderID, 10)
	switch r.ExecutionType {
	case "NEW":
		return schema.OrderAck{
			ClientID:     r.ClientOrderID,
			VenueOrderID: venueOrderID,
			TsNano:       ts,
		}, true
	case "TRADE":
		return schema.TradeEvent{
			ClientID:     r.ClientOrderID,
			VenueOrderID: venueOrderID,
			VenueTradeID: strconv.FormatInt(r.TradeID, 10),
			Price:        toDecimal(r.LastPrice),
			Quantity:     toDecimal(r.LastQuantity),
			Fee:          toDecimal(r.Fee),
			FeeAsset:     r.FeeAsset,
			TsNano:       r.TradeTime * int64(time.Millisecond),
		}, true
	case "CANCELED":
		clientID := r.OrigClientOrderID
		if clientID == "" {
			clientID = r.ClientOrderID
		}
		return schema.CancelAck{
			ClientID:     clientID,
			VenueOrderID: venueOrderID,
			TsNano:       ts,
		}, true
	case "REJECTED":
		return schema.OrderReject{
			ClientID: r.ClientOrderID,
			Reason:   r.RejectReason,
			TsNano:   ts,
		}, true
	case "EXPIRED":
		return schema.OrderExpire{
			ClientID:     r.ClientOrderID,
			VenueOrderID: venueOrderID,
			TsNano:       ts,
		}, true
	default:
		return nil, false
	}
}

func (p accountPositionPayload) userEvent(venue string) schema.UserEvent {
	balances := make([]schema.AssetBalance, 0, len(p.Balances))
	for _, b := range p.Balances {
		total, available := toBalances(b.Free, b.Locked)
		balances = append(balances, schema.AssetBalance{
			Asset:     b.Asset,
			Total:     total,
			Available: available,
		})
	}
	return schema.BalanceUpdate{
		Venue:    venue,
		Balances: balances,
		TsNano:   p.EventTime * int64(time.Millisecond),
	}
}

func sideParam(s schema.OrderSide) string {
	if s == schema.OrderSideSell {
		return "SELL"
	}
	return "BUY"
}

func typeParam(t schema.OrderType) string {
	if t == schema.OrderTypeMarket {
		return "MARKET"
	}
	return "LIMIT"
}

func timeInForceParam(tif schema.TimeInForce) string {
	switch tif {
	case schema.TimeInForceIOC:
		return "IOC"
	case schema.TimeInForceFOK:
		return "FOK"
	default:
		return "GTC"
	}
}
