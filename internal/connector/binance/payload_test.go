package binance

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"

	"main/internal/schema"
)

func TestPrecisionFromStep(t *testing.T) {
	cases := []struct {
		step string
		want int32
	}{
		{"0.00100000", 3},
		{"0.00000100", 6},
		{"1.00000000", 0},
		{"0.1", 1},
		{"10", 0},
	}
	for _, c := range cases {
		if got := precisionFromStep(c.step); got != c.want {
			t.Fatalf("precisionFromStep(%q) = %d, want %d", c.step, got, c.want)
		}
	}
}

func TestSymbolInfoMarket(t *testing.T) {
	info := symbolInfoPayload{
		Symbol:     "BTCUSDT",
		Status:     "TRADING",
		BaseAsset:  "BTC",
		QuoteAsset: "USDT",
		Filters: []symbolFilterPayload{
			{FilterType: "PRICE_FILTER", TickSize: "0.01000000"},
			{FilterType: "LOT_SIZE", StepSize: "0.00001000", MinQty: "0.00001000"},
		},
	}

	m := info.market("binance")
	if m.Symbol != "BTC-USDT" {
		t.Fatalf("symbol = %q", m.Symbol)
	}
	if m.Key() != "binance:BTC-USDT" {
		t.Fatalf("key = %q", m.Key())
	}
	if m.PricePrecision != 2 || m.QuantityPrecision != 5 {
		t.Fatalf("precision = %d/%d", m.PricePrecision, m.QuantityPrecision)
	}
	if !m.MinOrderSize.Equal(decimal.RequireFromString("0.00001")) {
		t.Fatalf("min order size = %s", m.MinOrderSize)
	}
	if got := nativeSymbol(m); got != "BTCUSDT" {
		t.Fatalf("native symbol = %q", got)
	}
}

func TestDepthSnapshotLevels(t *testing.T) {
	raw := []byte(`{"lastUpdateId":1027024,"bids":[["4.00000000","431.00000000"]],"asks":[["4.00000200","12.00000000"]]}`)

	var payload depthSnapshotPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if payload.LastUpdateID != 1027024 {
		t.Fatalf("lastUpdateId = %d", payload.LastUpdateID)
	}

	bids := toLevels(payload.Bids)
	if len(bids) != 1 {
		t.Fatalf("bids = %d", len(bids))
	}
	if !bids[0].Price.Equal(decimal.RequireFromString("4")) {
		t.Fatalf("bid price = %s", bids[0].Price)
	}
	if !bids[0].Quantity.Equal(decimal.RequireFromString("431")) {
		t.Fatalf("bid quantity = %s", bids[0].Quantity)
	}
}

func TestExecutionReportNew(t *testing.T) {
	raw := []byte(`{"e":"executionReport","E":1499405658658,"s":"BTCUSDT","c":"cid-1","x":"NEW","X":"NEW","i":4293153,"l":"0.00000000","L":"0.00000000","n":"0","t":-1,"T":1499405658657}`)

	var report executionReport
	if err := json.Unmarshal(raw, &report); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	ev, ok := report.userEvent()
	if !ok {
		t.Fatal("no event")
	}
	ack, ok := ev.(schema.OrderAck)
	if !ok {
		t.Fatalf("event type = %T", ev)
	}
	if ack.ClientID != "cid-1" || ack.VenueOrderID != "4293153" {
		t.Fatalf("ack = %+v", ack)
	}
	if ack.TsNano != 1499405658658*1e6 {
		t.Fatalf("ts = %d", ack.TsNano)
	}
}

func TestExecutionReportTrade(t *testing.T) {
	raw := []byte(`{"e":"executionReport","E":1499405658658,"s":"BTCUSDT","c":"cid-1","x":"TRADE","X":"PARTIALLY_FILLED","i":4293153,"l":"0.40000000","L":"9850.00000000","n":"0.00000100","N":"BTC","t":77,"T":1499405658657}`)

	var report executionReport
	if err := json.Unmarshal(raw, &report); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	ev, ok := report.userEvent()
	if !ok {
		t.Fatal("no event")
	}
	trade, ok := ev.(schema.TradeEvent)
	if !ok {
		t.Fatalf("event type = %T", ev)
	}
	if trade.VenueTradeID != "77" {
		t.Fatalf("trade id = %q", trade.VenueTradeID)
	}
	if !trade.Price.Equal(decimal.RequireFromString("9850")) {
		t.Fatalf("price = %s", trade.Price)
	}
	if !trade.Quantity.Equal(decimal.RequireFromString("0.4")) {
		t.Fatalf("quantity = %s", trade.Quantity)
	}
	if trade.FeeAsset != "BTC" {
		t.Fatalf("fee asset = %q", trade.FeeAsset)
	}
	if trade.TsNano != 1499405658657*1e6 {
		t.Fatalf("ts = %d", trade.TsNano)
	}
}

func TestExecutionReportCancelUsesOriginalID(t *testing.T) {
	raw := []byte(`{"e":"executionReport","E":1499405658658,"s":"BTCUSDT","c":"cancel-9","C":"cid-1","x":"CANCELED","X":"CANCELED","i":4293153,"l":"0","L":"0","n":"0","t":-1,"T":1499405658657}`)

	var report executionReport
	if err := json.Unmarshal(raw, &report); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	ev, _ := report.userEvent()
	ack, ok := ev.(schema.CancelAck)
	if !ok {
		t.Fatalf("event type = %T", ev)
	}
	if ack.ClientID != "cid-1" {
		t.Fatalf("client id = %q", ack.ClientID)
	}
}

func TestExecutionReportRejectAndExpire(t *testing.T) {
	reject := executionReport{ExecutionType: "REJECTED", ClientOrderID: "cid-1", RejectReason: "INSUFFICIENT_BALANCE"}
	ev, _ := reject.userEvent()
	if rej, ok := ev.(schema.OrderReject); !ok || rej.Reason != "INSUFFICIENT_BALANCE" {
		t.Fatalf("event = %+v", ev)
	}

	expire := executionReport{ExecutionType: "EXPIRED", ClientOrderID: "cid-1", OrderID: 7}
	ev, _ = expire.userEvent()
	if exp, ok := ev.(schema.OrderExpire); !ok || exp.VenueOrderID != "7" {
		t.Fatalf("event = %+v", ev)
	}

	if _, ok := (executionReport{ExecutionType: "REPLACED"}).userEvent(); ok {
		t.Fatal("unexpected event for REPLACED")
	}
}

func TestAccountPositionBalances(t *testing.T) {
	raw := []byte(`{"e":"outboundAccountPosition","E":1564034571105,"B":[{"a":"ETH","f":"10000.000000","l":"2.000000"}]}`)

	var pos accountPositionPayload
	if err := json.Unmarshal(raw, &pos); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	ev := pos.userEvent("binance")
	update, ok := ev.(schema.BalanceUpdate)
	if !ok {
		t.Fatalf("event type = %T", ev)
	}
	if update.Venue != "binance" || len(update.Balances) != 1 {
		t.Fatalf("update = %+v", update)
	}
	b := update.Balances[0]
	if b.Asset != "ETH" {
		t.Fatalf("asset = %q", b.Asset)
	}
	if !b.Total.Equal(decimal.RequireFromString("10002")) {
		t.Fatalf("total = %s", b.Total)
	}
	if !b.Available.Equal(decimal.RequireFromString("10000")) {
		t.Fatalf("available = %s", b.Available)
	}
}

func TestBookSeqRenumbering(t *testing.T) {
	var s bookSeq

	// Deltas before a snapshot primes the sequencer are dropped.
	if _, skip := s.next(1, 3, 3); !skip {
		t.Fatal("unprimed batch not skipped")
	}

	s.baseline(100)

	start, skip := s.next(98, 103, 3)
	if skip {
		t.Fatal("overlapping batch skipped")
	}
	if start != 101 {
		t.Fatalf("start = %d, want 101", start)
	}

	// Stale batch fully covered by the snapshot.
	if _, skip := s.next(99, 103, 2); !skip {
		t.Fatal("stale batch not skipped")
	}

	start, skip = s.next(104, 105, 2)
	if skip || start != 104 {
		t.Fatalf("start = %d skip = %v, want contiguous 104", start, skip)
	}

	// A venue-side id gap must surface as a normalized gap.
	start, skip = s.next(110, 112, 2)
	if skip {
		t.Fatal("gapped batch skipped")
	}
	if start != 111 {
		t.Fatalf("start = %d, want gap past 106", start)
	}
}
