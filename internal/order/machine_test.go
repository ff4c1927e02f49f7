package order

import (
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"main/internal/schema"
)

func testMachine(t *testing.T) (*Machine, *[]schema.Event) {
	t.Helper()
	events := &[]schema.Event{}
	var n int
	m := NewMachine(Config{
		AckTimeout:    time.Second,
		CancelTimeout: time.Second,
		NewClientID: func() string {
			n++
			return fmt.Sprintf("cid-%d", n)
		},
	}, func(ev schema.Event) {
		*events = append(*events, ev)
	})
	return m, events
}

func limitBuy(qty, price int64) schema.OrderRequest {
	return schema.OrderRequest{
		Market:      schema.Market{Venue: "SIM", Symbol: "BTC-USDT"},
		Side:        schema.OrderSideBuy,
		Type:        schema.OrderTypeLimit,
		TimeInForce: schema.TimeInForceGTC,
		Price:       decimal.NewFromInt(price),
		Quantity:    decimal.NewFromInt(qty),
	}
}

func TestCreateAssignsClientID(t *testing.T) {
	m, _ := testMachine(t)

	o, err := m.Create(limitBuy(10, 100))
	require.NoError(t, err)
	assert.Equal(t, "cid-1", o.ClientID)
	assert.Equal(t, StatePendingCreate, o.State)

	o2, err := m.Create(limitBuy(5, 99))
	require.NoError(t, err)
	assert.NotEqual(t, o.ClientID, o2.ClientID)
}

func TestCreateRejectsInvalidRequest(t *testing.T) {
	m, _ := testMachine(t)

	req := limitBuy(0, 100)
	_, err := m.Create(req)
	assert.ErrorIs(t, err, ErrInvalidRequest)

	req = limitBuy(10, 0)
	_, err = m.Create(req)
	assert.ErrorIs(t, err, ErrInvalidRequest)

	req = limitBuy(10, 100)
	req.Side = schema.OrderSideUnknown
	_, err = m.Create(req)
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

// Lifecycle: create 10@100, ack, fill 4, fill 6, then cancel is a
// rejected no-op.
func TestFullLifecycle(t *testing.T) {
	m, events := testMachine(t)

	o, err := m.Create(limitBuy(10, 100))
	require.NoError(t, err)

	o, err = m.OnAck(schema.OrderAck{ClientID: o.ClientID, VenueOrderID: "v-1"})
	require.NoError(t, err)
	assert.Equal(t, StateOpen, o.State)
	assert.Equal(t, "v-1", o.VenueOrderID)

	o, err = m.OnTrade(schema.TradeEvent{
		ClientID:     o.ClientID,
		VenueTradeID: "t-1",
		Price:        decimal.NewFromInt(100),
		Quantity:     decimal.NewFromInt(4),
	})
	require.NoError(t, err)
	assert.Equal(t, StatePartiallyFilled, o.State)
	assert.True(t, o.Filled.Equal(decimal.NewFromInt(4)))

	o, err = m.OnTrade(schema.TradeEvent{
		ClientID:     o.ClientID,
		VenueTradeID: "t-2",
		Price:        decimal.NewFromInt(100),
		Quantity:     decimal.NewFromInt(6),
	})
	require.NoError(t, err)
	assert.Equal(t, StateFilled, o.State)
	assert.True(t, o.Filled.Equal(decimal.NewFromInt(10)))

	_, err = m.RequestCancel(o.ClientID)
	assert.ErrorIs(t, err, ErrTerminalState)

	require.Len(t, *events, 3)
	assert.IsType(t, schema.OrderOpened{}, (*events)[0])
	assert.IsType(t, schema.OrderPartiallyFilled{}, (*events)[1])
	assert.IsType(t, schema.OrderFilled{}, (*events)[2])
}

func TestDuplicateTradeIsNoOp(t *testing.T) {
	m, _ := testMachine(t)

	o, err := m.Create(limitBuy(10, 100))
	require.NoError(t, err)
	_, err = m.OnAck(schema.OrderAck{ClientID: o.ClientID, VenueOrderID: "v-1"})
	require.NoError(t, err)

	trade := schema.TradeEvent{
		ClientID:     o.ClientID,
		VenueTradeID: "t-1",
		Price:        decimal.NewFromInt(100),
		Quantity:     decimal.NewFromInt(4),
	}
	o, err = m.OnTrade(trade)
	require.NoError(t, err)
	require.True(t, o.Filled.Equal(decimal.NewFromInt(4)))

	o, err = m.OnTrade(trade)
	assert.ErrorIs(t, err, ErrDuplicateTrade)
	assert.True(t, o.Filled.Equal(decimal.NewFromInt(4)), "filled changed on duplicate")
}

// Cancel requested while open, then a full fill arrives before the
// cancel ack: arrival order wins and the order resolves Filled.
func TestLateFillBeatsCancel(t *testing.T) {
	m, _ := testMachine(t)

	o, err := m.Create(limitBuy(10, 100))
	require.NoError(t, err)
	_, err = m.OnAck(schema.OrderAck{ClientID: o.ClientID, VenueOrderID: "v-1"})
	require.NoError(t, err)

	o, err = m.RequestCancel(o.ClientID)
	require.NoError(t, err)
	require.Equal(t, StatePendingCancel, o.State)

	o, err = m.OnTrade(schema.TradeEvent{
		ClientID:     o.ClientID,
		VenueTradeID: "t-1",
		Price:        decimal.NewFromInt(100),
		Quantity:     decimal.NewFromInt(10),
	})
	require.NoError(t, err)
	assert.Equal(t, StateFilled, o.State)

	// The eventual cancel ack is a terminal no-op.
	_, err = m.OnCancelAck(schema.CancelAck{ClientID: o.ClientID})
	assert.ErrorIs(t, err, ErrTerminalState)
}

func TestPartialFillDuringPendingCancelKeepsState(t *testing.T) {
	m, _ := testMachine(t)

	o, err := m.Create(limitBuy(10, 100))
	require.NoError(t, err)
	_, err = m.OnAck(schema.OrderAck{ClientID: o.ClientID, VenueOrderID: "v-1"})
	require.NoError(t, err)
	_, err = m.RequestCancel(o.ClientID)
	require.NoError(t, err)

	o, err = m.OnTrade(schema.TradeEvent{
		ClientID:     o.ClientID,
		VenueTradeID: "t-1",
		Price:        decimal.NewFromInt(100),
		Quantity:     decimal.NewFromInt(3),
	})
	require.NoError(t, err)
	assert.Equal(t, StatePendingCancel, o.State)
	assert.True(t, o.Filled.Equal(decimal.NewFromInt(3)))

	o, err = m.OnCancelAck(schema.CancelAck{ClientID: o.ClientID})
	require.NoError(t, err)
	assert.Equal(t, StateCancelled, o.State)
	assert.True(t, o.Filled.Equal(decimal.NewFromInt(3)))
}

func TestCancelOnlyFromOpenStates(t *testing.T) {
	m, _ := testMachine(t)

	o, err := m.Create(limitBuy(10, 100))
	require.NoError(t, err)
	_, err = m.RequestCancel(o.ClientID)
	assert.ErrorIs(t, err, ErrNotCancellable)
}

func TestRejectIsTerminal(t *testing.T) {
	m, events := testMachine(t)

	o, err := m.Create(limitBuy(10, 100))
	require.NoError(t, err)

	o, err = m.OnReject(schema.OrderReject{ClientID: o.ClientID, Reason: "insufficient balance"})
	require.NoError(t, err)
	assert.Equal(t, StateRejected, o.State)

	_, err = m.OnAck(schema.OrderAck{ClientID: o.ClientID, VenueOrderID: "v-1"})
	assert.ErrorIs(t, err, ErrTerminalState)

	require.Len(t, *events, 1)
	rej, ok := (*events)[0].(schema.OrderRejected)
	require.True(t, ok)
	assert.Equal(t, "insufficient balance", rej.Reason)
}

func TestFillBeforeAckApplies(t *testing.T) {
	m, _ := testMachine(t)

	o, err := m.Create(limitBuy(10, 100))
	require.NoError(t, err)

	o, err = m.OnTrade(schema.TradeEvent{
		ClientID:     o.ClientID,
		VenueOrderID: "v-1",
		VenueTradeID: "t-1",
		Price:        decimal.NewFromInt(100),
		Quantity:     decimal.NewFromInt(4),
	})
	require.NoError(t, err)
	assert.Equal(t, StatePartiallyFilled, o.State)
	assert.Equal(t, "v-1", o.VenueOrderID)
}

func TestTradeResolvedByVenueOrderID(t *testing.T) {
	m, _ := testMachine(t)

	o, err := m.Create(limitBuy(10, 100))
	require.NoError(t, err)
	_, err = m.OnAck(schema.OrderAck{ClientID: o.ClientID, VenueOrderID: "v-9"})
	require.NoError(t, err)

	got, err := m.OnTrade(schema.TradeEvent{
		VenueOrderID: "v-9",
		VenueTradeID: "t-1",
		Price:        decimal.NewFromInt(100),
		Quantity:     decimal.NewFromInt(2),
	})
	require.NoError(t, err)
	assert.Equal(t, o.ClientID, got.ClientID)
}

func TestAckTimeoutFailsOrder(t *testing.T) {
	m, events := testMachine(t)

	o, err := m.Create(limitBuy(10, 100))
	require.NoError(t, err)

	affected := m.ExpirePending(time.Now().Add(2 * time.Second))
	require.Len(t, affected, 1)
	assert.Equal(t, StateFailed, affected[0].State)
	assert.Equal(t, "ack timeout", affected[0].FailReason)

	got, ok := m.Order(o.ClientID)
	require.True(t, ok)
	assert.Equal(t, StateFailed, got.State)

	require.Len(t, *events, 1)
	assert.IsType(t, schema.OrderFailed{}, (*events)[0])
}

func TestCancelTimeoutFlagsInconsistency(t *testing.T) {
	m, _ := testMachine(t)

	o, err := m.Create(limitBuy(10, 100))
	require.NoError(t, err)
	_, err = m.OnAck(schema.OrderAck{ClientID: o.ClientID, VenueOrderID: "v-1"})
	require.NoError(t, err)
	_, err = m.RequestCancel(o.ClientID)
	require.NoError(t, err)

	affected := m.ExpirePending(time.Now().Add(2 * time.Second))
	require.Len(t, affected, 1)
	assert.Equal(t, StatePendingCancel, affected[0].State)
	assert.True(t, affected[0].Inconsistent)

	// A late venue confirmation still resolves it.
	got, err := m.OnCancelAck(schema.CancelAck{ClientID: o.ClientID})
	require.NoError(t, err)
	assert.Equal(t, StateCancelled, got.State)
	assert.False(t, got.Inconsistent)
}

func TestAckClearsDeadline(t *testing.T) {
	m, _ := testMachine(t)

	o, err := m.Create(limitBuy(10, 100))
	require.NoError(t, err)
	_, err = m.OnAck(schema.OrderAck{ClientID: o.ClientID, VenueOrderID: "v-1"})
	require.NoError(t, err)

	affected := m.ExpirePending(time.Now().Add(time.Minute))
	assert.Empty(t, affected)
}

func TestDrainTerminal(t *testing.T) {
	m, _ := testMachine(t)

	o1, err := m.Create(limitBuy(10, 100))
	require.NoError(t, err)
	_, err = m.Fail(o1.ClientID, "send failed")
	require.NoError(t, err)

	o2, err := m.Create(limitBuy(5, 99))
	require.NoError(t, err)

	drained := m.DrainTerminal()
	require.Len(t, drained, 1)
	assert.Equal(t, o1.ClientID, drained[0].ClientID)

	_, ok := m.Order(o1.ClientID)
	assert.False(t, ok, "terminal order still queryable after drain")
	_, ok = m.Order(o2.ClientID)
	assert.True(t, ok, "open order drained")
}
