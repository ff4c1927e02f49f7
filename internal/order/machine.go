package order

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"main/internal/schema"
)

var (
	ErrDuplicateOrder = errors.New("order already exists")
	ErrUnknownOrder   = errors.New("order not found")
	ErrInvalidRequest = errors.New("invalid order request")
	ErrTerminalState  = errors.New("order already terminal")
	ErrNotCancellable = errors.New("order not cancellable")
	ErrInvalidFill    = errors.New("invalid fill quantity")

	// ErrDuplicateTrade reports a redelivered venue trade id. The
	// fill is not applied twice; callers log it at most
	// informationally.
	ErrDuplicateTrade = errors.New("duplicate trade ignored")
)

// Config controls machine timeouts and, for tests, time and id
// generation.
type Config struct {
	// AckTimeout bounds the wait for a venue ack of a create
	// request. Expired creates become StateFailed.
	AckTimeout time.Duration

	// CancelTimeout bounds the wait for a cancel confirmation.
	// Expired cancels stay StatePendingCancel with the
	// Inconsistent flag set for reconciliation.
	CancelTimeout time.Duration

	Now         func() time.Time
	NewClientID func() string
}

const (
	defaultAckTimeout    = 10 * time.Second
	defaultCancelTimeout = 10 * time.Second
)

type inflight struct {
	order    Order
	tradeIDs map[string]struct{}
	deadline int64 // ack or cancel bound, unix nano; 0 = none armed
}

// Machine reconciles locally-initiated order intents with
// asynchronously-reported venue events.
//
// Venue events are applied in arrival order, and arrival order is
// authoritative over local intent order: a fill that lands after a
// cancel request still applies and can resolve Filled instead of
// Cancelled. Every transition emits exactly one domain event through
// the emit callback; the callback must not block.
type Machine struct {
	cfg Config

	mu        sync.Mutex
	orders    map[string]*inflight
	byVenueID map[string]string
	emit      func(schema.Event)
}

// NewMachine creates an order state machine. A nil emit drops events.
func NewMachine(cfg Config, emit func(schema.Event)) *Machine {
	if cfg.AckTimeout <= 0 {
		cfg.AckTimeout = defaultAckTimeout
	}
	if cfg.CancelTimeout <= 0 {
		cfg.CancelTimeout = defaultCancelTimeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.NewClientID == nil {
		cfg.NewClientID = uuid.NewString
	}
	if emit == nil {
		emit = func(schema.Event) {}
	}
	return &Machine{
		cfg:       cfg,
		orders:    make(map[string]*inflight),
		byVenueID: make(map[string]string),
		emit:      emit,
	}
}

// Order returns a copy of the order by client id.
func (m *Machine) Order(clientID string) (Order, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fl, ok := m.orders[clientID]
	if !ok {
		return Order{}, false
	}
	return fl.order, true
}

// Orders returns copies of all tracked orders.
func (m *Machine) Orders() []Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Order, 0, len(m.orders))
	for _, fl := range m.orders {
		out = append(out, fl.order)
	}
	return out
}

// OpenOrders returns copies of all non-terminal orders.
func (m *Machine) OpenOrders() []Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Order
	for _, fl := range m.orders {
		if !fl.order.State.Terminal() {
			out = append(out, fl.order)
		}
	}
	return out
}

// Create stores a new order in StatePendingCreate and arms the ack
// deadline. A missing client id is generated; ids are never reused.
func (m *Machine) Create(req schema.OrderRequest) (Order, error) {
	if req.Quantity.Sign() <= 0 {
		return Order{}, ErrInvalidRequest
	}
	if req.Type == schema.OrderTypeLimit && req.Price.Sign() <= 0 {
		return Order{}, ErrInvalidRequest
	}
	if req.Side != schema.OrderSideBuy && req.Side != schema.OrderSideSell {
		return Order{}, ErrInvalidRequest
	}

	clientID := req.ClientID
	if clientID == "" {
		clientID = m.cfg.NewClientID()
	}
	now := m.cfg.Now().UnixNano()

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.orders[clientID]; ok {
		return Order{}, ErrDuplicateOrder
	}
	fl := &inflight{
		order: Order{
			ClientID:      clientID,
			Market:        req.Market,
			Side:          req.Side,
			Type:          req.Type,
			TimeInForce:   req.TimeInForce,
			Price:         req.Price,
			Quantity:      req.Quantity,
			State:         StatePendingCreate,
			CreatedAtNano: now,
			UpdatedAtNano: now,
		},
		tradeIDs: make(map[string]struct{}),
		deadline: now + m.cfg.AckTimeout.Nanoseconds(),
	}
	m.orders[clientID] = fl
	return fl.order, nil
}

// RequestCancel moves an open order to StatePendingCancel and arms
// the cancel deadline. Only valid from StateOpen or
// StatePartiallyFilled.
func (m *Machine) RequestCancel(clientID string) (Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fl, ok := m.orders[clientID]
	if !ok {
		return Order{}, ErrUnknownOrder
	}
	if fl.order.State.Terminal() {
		return fl.order, ErrTerminalState
	}
	if fl.order.State != StateOpen && fl.order.State != StatePartiallyFilled {
		return fl.order, ErrNotCancellable
	}
	fl.order.State = StatePendingCancel
	fl.order.UpdatedAtNano = m.cfg.Now().UnixNano()
	fl.deadline = fl.order.UpdatedAtNano + m.cfg.CancelTimeout.Nanoseconds()
	return fl.order, nil
}

// OnAck binds the venue order id and opens the order.
func (m *Machine) OnAck(ack schema.OrderAck) (Order, error) {
	m.mu.Lock()
	fl, ok := m.orders[ack.ClientID]
	if !ok {
		m.mu.Unlock()
		return Order{}, ErrUnknownOrder
	}
	if fl.order.State.Terminal() {
		o := fl.order
		m.mu.Unlock()
		return o, ErrTerminalState
	}
	if fl.order.VenueOrderID == "" && ack.VenueOrderID != "" {
		fl.order.VenueOrderID = ack.VenueOrderID
		m.byVenueID[ack.VenueOrderID] = fl.order.ClientID
	}
	if fl.order.State != StatePendingCreate {
		// Duplicate ack after the order already opened.
		o := fl.order
		m.mu.Unlock()
		return o, nil
	}
	fl.order.State = StateOpen
	fl.order.UpdatedAtNano = m.timestamp(ack.TsNano)
	fl.deadline = 0
	o := fl.order
	m.mu.Unlock()

	m.emit(schema.OrderOpened{ClientID: o.ClientID, VenueOrderID: o.VenueOrderID})
	return o, nil
}

// OnTrade applies a fill idempotently keyed by venue trade id.
// A fill arriving before the ack, or after a cancel request, still
// applies.
func (m *Machine) OnTrade(trade schema.TradeEvent) (Order, error) {
	if trade.Quantity.Sign() <= 0 {
		return Order{}, ErrInvalidFill
	}

	m.mu.Lock()
	fl, ok := m.lookup(trade.ClientID, trade.VenueOrderID)
	if !ok {
		m.mu.Unlock()
		return Order{}, ErrUnknownOrder
	}
	if fl.order.State.Terminal() {
		o := fl.order
		m.mu.Unlock()
		return o, ErrTerminalState
	}
	if trade.VenueTradeID != "" {
		if _, seen := fl.tradeIDs[trade.VenueTradeID]; seen {
			o := fl.order
			m.mu.Unlock()
			return o, ErrDuplicateTrade
		}
		fl.tradeIDs[trade.VenueTradeID] = struct{}{}
	}
	if fl.order.VenueOrderID == "" && trade.VenueOrderID != "" {
		fl.order.VenueOrderID = trade.VenueOrderID
		m.byVenueID[trade.VenueOrderID] = fl.order.ClientID
	}

	fl.order.Filled = fl.order.Filled.Add(trade.Quantity)
	fl.order.UpdatedAtNano = m.timestamp(trade.TsNano)

	var ev schema.Event
	if fl.order.Filled.GreaterThanOrEqual(fl.order.Quantity) {
		fl.order.State = StateFilled
		fl.deadline = 0
		ev = schema.OrderFilled{ClientID: fl.order.ClientID, Filled: fl.order.Filled}
	} else {
		if fl.order.State != StatePendingCancel {
			fl.order.State = StatePartiallyFilled
		}
		ev = schema.OrderPartiallyFilled{
			ClientID: fl.order.ClientID,
			Filled:   fl.order.Filled,
			Quantity: fl.order.Quantity,
		}
	}
	o := fl.order
	m.mu.Unlock()

	m.emit(ev)
	return o, nil
}

// OnCancelAck confirms a cancel. Venue-initiated cancels of open
// orders are accepted as well.
func (m *Machine) OnCancelAck(ack schema.CancelAck) (Order, error) {
	m.mu.Lock()
	fl, ok := m.lookup(ack.ClientID, ack.VenueOrderID)
	if !ok {
		m.mu.Unlock()
		return Order{}, ErrUnknownOrder
	}
	if fl.order.State.Terminal() {
		o := fl.order
		m.mu.Unlock()
		return o, ErrTerminalState
	}
	if fl.order.State == StatePendingCreate {
		o := fl.order
		m.mu.Unlock()
		return o, ErrNotCancellable
	}
	fl.order.State = StateCancelled
	fl.order.UpdatedAtNano = m.timestamp(ack.TsNano)
	fl.order.Inconsistent = false
	fl.deadline = 0
	o := fl.order
	m.mu.Unlock()

	m.emit(schema.OrderCancelled{ClientID: o.ClientID})
	return o, nil
}

// OnReject moves a pre-terminal order to StateRejected.
func (m *Machine) OnReject(rej schema.OrderReject) (Order, error) {
	m.mu.Lock()
	fl, ok := m.orders[rej.ClientID]
	if !ok {
		m.mu.Unlock()
		return Order{}, ErrUnknownOrder
	}
	if fl.order.State.Terminal() {
		o := fl.order
		m.mu.Unlock()
		return o, ErrTerminalState
	}
	fl.order.State = StateRejected
	fl.order.FailReason = rej.Reason
	fl.order.UpdatedAtNano = m.timestamp(rej.TsNano)
	fl.deadline = 0
	o := fl.order
	m.mu.Unlock()

	m.emit(schema.OrderRejected{ClientID: o.ClientID, Reason: rej.Reason})
	return o, nil
}

// OnExpire moves a pre-terminal order to StateExpired.
func (m *Machine) OnExpire(exp schema.OrderExpire) (Order, error) {
	m.mu.Lock()
	fl, ok := m.lookup(exp.ClientID, exp.VenueOrderID)
	if !ok {
		m.mu.Unlock()
		return Order{}, ErrUnknownOrder
	}
	if fl.order.State.Terminal() {
		o := fl.order
		m.mu.Unlock()
		return o, ErrTerminalState
	}
	fl.order.State = StateExpired
	fl.order.UpdatedAtNano = m.timestamp(exp.TsNano)
	fl.deadline = 0
	o := fl.order
	m.mu.Unlock()

	m.emit(schema.OrderExpired{ClientID: o.ClientID})
	return o, nil
}

// Fail moves a pre-terminal order to StateFailed with a reason.
// Used for unrecoverable local errors such as a send failure.
func (m *Machine) Fail(clientID, reason string) (Order, error) {
	m.mu.Lock()
	fl, ok := m.orders[clientID]
	if !ok {
		m.mu.Unlock()
		return Order{}, ErrUnknownOrder
	}
	if fl.order.State.Terminal() {
		o := fl.order
		m.mu.Unlock()
		return o, ErrTerminalState
	}
	fl.order.State = StateFailed
	fl.order.FailReason = reason
	fl.order.UpdatedAtNano = m.cfg.Now().UnixNano()
	fl.deadline = 0
	o := fl.order
	m.mu.Unlock()

	m.emit(schema.OrderFailed{ClientID: o.ClientID, Reason: reason})
	return o, nil
}

// ExpirePending sweeps armed deadlines. Unacked creates past the ack
// bound become StateFailed; unconfirmed cancels past the cancel bound
// stay StatePendingCancel with the Inconsistent flag set. Returns
// copies of every affected order.
func (m *Machine) ExpirePending(now time.Time) []Order {
	nowNano := now.UnixNano()

	m.mu.Lock()
	var affected []Order
	var events []schema.Event
	for _, fl := range m.orders {
		if fl.deadline == 0 || nowNano < fl.deadline {
			continue
		}
		switch fl.order.State {
		case StatePendingCreate:
			fl.order.State = StateFailed
			fl.order.FailReason = "ack timeout"
			fl.order.UpdatedAtNano = nowNano
			fl.deadline = 0
			events = append(events, schema.OrderFailed{ClientID: fl.order.ClientID, Reason: fl.order.FailReason})
			affected = append(affected, fl.order)
		case StatePendingCancel:
			if !fl.order.Inconsistent {
				fl.order.Inconsistent = true
				fl.order.UpdatedAtNano = nowNano
				affected = append(affected, fl.order)
			}
			fl.deadline = 0
		default:
			fl.deadline = 0
		}
	}
	m.mu.Unlock()

	for _, ev := range events {
		m.emit(ev)
	}
	return affected
}

// DrainTerminal removes and returns all terminal orders. Terminal
// orders stay queryable until drained by the consumer.
func (m *Machine) DrainTerminal() []Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Order
	for id, fl := range m.orders {
		if !fl.order.State.Terminal() {
			continue
		}
		out = append(out, fl.order)
		delete(m.orders, id)
		if fl.order.VenueOrderID != "" {
			delete(m.byVenueID, fl.order.VenueOrderID)
		}
	}
	return out
}

// lookup resolves an order by client id, falling back to the venue
// order id. Must be called with m.mu held.
func (m *Machine) lookup(clientID, venueOrderID string) (*inflight, bool) {
	if clientID != "" {
		fl, ok := m.orders[clientID]
		return fl, ok
	}
	if venueOrderID == "" {
		return nil, false
	}
	id, ok := m.byVenueID[venueOrderID]
	if !ok {
		return nil, false
	}
	fl, ok := m.orders[id]
	return fl, ok
}

func (m *Machine) timestamp(tsNano int64) int64 {
	if tsNano > 0 {
		return tsNano
	}
	return m.cfg.Now().UnixNano()
}
