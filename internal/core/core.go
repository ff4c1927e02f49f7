/*
Core is the runtime context object tying the pieces together.

# Module
  - market data hub: order book trackers fed by connector streams
  - order state machine: local intents reconciled with venue events
  - account hub: balances with reservations for in-flight orders
  - broker: domain event fan-out to strategies and the journal

# Source
 1. book updates and user events from venue connectors
 2. commands from the embedding process (submit, cancel, queries)

# Produce
  - venue requests through connector adapters
  - domain events on the broker
*/
package core

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"main/internal/book"
	"main/internal/bus"
	"main/internal/connector"
	"main/internal/hub"
	"main/internal/obs"
	"main/internal/order"
	"main/internal/schema"
)

// MarketSub subscribes one market's book feed.
type MarketSub struct {
	Venue        string
	Symbol       string
	GapTolerance uint64
}

// Config controls runtime behavior. Zero values get defaults.
type Config struct {
	AckTimeout        time.Duration
	CancelTimeout     time.Duration
	ReconcileInterval time.Duration
	SweepInterval     time.Duration
	EventBuffer       int
	Markets           []MarketSub
}

const (
	defaultSweepInterval     = time.Second
	defaultReconcileInterval = time.Minute
	defaultEventBuffer       = 1024
)

// Core owns every runtime component; nothing lives in globals. One
// Core per process, constructed from resolved config plus adapters.
type Core struct {
	cfg        Config
	metrics    *obs.Metrics
	registry   *schema.Registry
	subscribed map[string]map[string]struct{}
	broker     *bus.Broker
	machine    *order.Machine
	markets    *hub.MarketData
	account    *hub.Account
	adapters   map[string]connector.Adapter

	mu      sync.Mutex
	cancel  context.CancelFunc
	started bool
}

// New builds an idle core. Venues attach before Start.
func New(cfg Config, metrics *obs.Metrics) *Core {
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = defaultSweepInterval
	}
	if cfg.ReconcileInterval <= 0 {
		cfg.ReconcileInterval = defaultReconcileInterval
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = defaultEventBuffer
	}

	subscribed := make(map[string]map[string]struct{})
	for _, sub := range cfg.Markets {
		if subscribed[sub.Venue] == nil {
			subscribed[sub.Venue] = make(map[string]struct{})
		}
		subscribed[sub.Venue][sub.Symbol] = struct{}{}
	}

	c := &Core{
		cfg:        cfg,
		metrics:    metrics,
		registry:   schema.NewRegistry(),
		subscribed: subscribed,
		adapters:   make(map[string]connector.Adapter),
	}
	c.broker = bus.NewBroker(cfg.EventBuffer)
	c.broker.OnDrop(metrics.IncEventDrop)
	c.machine = order.NewMachine(order.Config{
		AckTimeout:    cfg.AckTimeout,
		CancelTimeout: cfg.CancelTimeout,
	}, c.publish)
	c.markets = hub.NewMarketData(c.publish)
	c.account = hub.NewAccount(c.publish)
	return c
}

// AttachVenue registers a venue adapter under its name. Attach all
// venues before Start.
func (c *Core) AttachVenue(adapter connector.Adapter) error {
	name := adapter.Name()
	if err := c.registry.AddVenue(name); err != nil {
		return err
	}
	c.adapters[name] = adapter
	if adapter.Capabilities().Has(connector.CapSubscribeOrderBook) {
		if err := c.markets.AttachVenue(name, adapter); err != nil {
			return err
		}
	}
	return nil
}

// Start discovers markets, seeds books and balances, attaches the
// user streams, and launches the background sweeps.
func (c *Core) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return errors.New("core already started")
	}
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.started = true
	c.mu.Unlock()

	if err := c.discoverMarkets(ctx); err != nil {
		return err
	}

	if err := c.markets.Start(ctx); err != nil {
		return err
	}
	for _, sub := range c.cfg.Markets {
		key := schema.MarketKey(sub.Venue + ":" + sub.Symbol)
		m, ok := c.registry.Market(key)
		if !ok {
			return errors.Errorf("market not listed on venue: %s", key)
		}
		if err := c.markets.Track(ctx, m, book.Config{GapTolerance: sub.GapTolerance}); err != nil {
			return err
		}
	}

	for venue, adapter := range c.adapters {
		if adapter.Capabilities().Has(connector.CapSubscribeUserEvents) {
			if err := adapter.SubscribeUserEvents(ctx); err != nil {
				return errors.Wrap(err, "subscribe user events").With("venue", venue)
			}
			if _, err := adapter.ObserveUserEvents(ctx, c.userEventHandler(venue)); err != nil {
				return errors.Wrap(err, "observe user events").With("venue", venue)
			}
		}
		if adapter.Capabilities().Has(connector.CapQueryBalances) {
			balances, err := adapter.QueryBalances(ctx)
			if err != nil {
				logs.Warnf("initial balance query on %s: %v", venue, err)
			} else {
				c.account.Reconcile(schema.BalanceUpdate{
					Venue:    venue,
					Balances: balances,
					TsNano:   time.Now().UnixNano(),
				})
			}
		}
	}

	go c.sweepLoop(ctx)
	go c.reconcileLoop(ctx)
	logs.Info("core started")
	return nil
}

// Stop cancels background work and closes adapters and the broker.
func (c *Core) Stop() {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return
	}
	c.started = false
	cancel := c.cancel
	c.mu.Unlock()

	cancel()
	for _, adapter := range c.adapters {
		adapter.Close()
	}
	c.broker.Close()
	logs.Info("core stopped")
}

// SubmitOrder creates the order locally, reserves balance, and sends
// it to the venue. A send failure fails the order and releases the
// reservation; a synchronous venue response acks it immediately.
func (c *Core) SubmitOrder(ctx context.Context, req schema.OrderRequest) (string, error) {
	adapter, ok := c.adapters[req.Market.Venue]
	if !ok {
		return "", errors.Errorf("unknown venue: %s", req.Market.Venue)
	}
	if !adapter.Capabilities().Has(connector.CapPlaceOrder) {
		return "", connector.ErrUnsupported
	}

	o, err := c.machine.Create(req)
	if err != nil {
		return "", err
	}
	c.reserve(o)

	req.ClientID = o.ClientID
	start := time.Now()
	venueOrderID, err := adapter.PlaceOrder(ctx, req)
	c.metrics.ObserveOrderFlow(time.Since(start))
	if err != nil {
		c.metrics.IncOrderFailed()
		if _, failErr := c.machine.Fail(o.ClientID, "submit failed: "+err.Error()); failErr != nil {
			logs.Warnf("fail order %s: %v", o.ClientID, failErr)
		}
		c.account.Release(o.Market.Venue, o.ClientID)
		return o.ClientID, errors.Wrap(err, "place order").With("clientID", o.ClientID)
	}

	c.metrics.IncOrderPlaced()
	if venueOrderID != "" {
		if _, err := c.machine.OnAck(schema.OrderAck{ClientID: o.ClientID, VenueOrderID: venueOrderID}); err != nil {
			logs.Warnf("ack after submit %s: %v", o.ClientID, err)
		}
	}
	return o.ClientID, nil
}

// CancelOrder requests a cancel. The order stays PendingCancel until
// the venue confirms; an unconfirmed cancel is flagged by the sweep.
func (c *Core) CancelOrder(ctx context.Context, clientID string) error {
	o, ok := c.machine.Order(clientID)
	if !ok {
		return order.ErrUnknownOrder
	}
	adapter, ok := c.adapters[o.Market.Venue]
	if !ok {
		return errors.Errorf("unknown venue: %s", o.Market.Venue)
	}
	if !adapter.Capabilities().Has(connector.CapCancelOrder) {
		return connector.ErrUnsupported
	}

	if _, err := c.machine.RequestCancel(clientID); err != nil {
		return err
	}
	if err := adapter.CancelOrder(ctx, o.Market, clientID); err != nil {
		return errors.Wrap(err, "cancel order").With("clientID", clientID)
	}
	return nil
}

// OrderBook returns the market's last fully-applied book.
func (c *Core) OrderBook(key schema.MarketKey) (*book.OrderBook, bool) {
	return c.markets.OrderBook(key)
}

// Order returns a copy of the order by client id.
func (c *Core) Order(clientID string) (order.Order, bool) {
	return c.machine.Order(clientID)
}

// OpenOrders returns copies of all non-terminal orders.
func (c *Core) OpenOrders() []order.Order {
	return c.machine.OpenOrders()
}

// Balances returns the venue's effective balances.
func (c *Core) Balances(venue string) []schema.AssetBalance {
	return c.account.Balances(venue)
}

// Subscribe attaches a domain event subscription.
func (c *Core) Subscribe() *bus.Subscription {
	return c.broker.Subscribe()
}

// Markets returns all registered markets.
func (c *Core) Markets() []schema.Market {
	return c.registry.Markets()
}

func (c *Core) publish(ev schema.Event) {
	switch ev.(type) {
	case schema.BookUpdated:
		c.metrics.IncBookUpdate()
	case schema.BookResync:
		c.metrics.IncResync()
	case schema.OrderOpened, schema.OrderPartiallyFilled, schema.OrderFilled,
		schema.OrderCancelled, schema.OrderRejected, schema.OrderExpired,
		schema.OrderFailed:
		c.metrics.IncTransition()
	}
	c.broker.Publish(ev)
}

func (c *Core) userEventHandler(venue string) func(schema.UserEvent) {
	return func(ev schema.UserEvent) {
		switch e := ev.(type) {
		case schema.OrderAck:
			if _, err := c.machine.OnAck(e); err != nil {
				logs.Warnf("ack %s on %s: %v", e.ClientID, venue, err)
			}
		case schema.TradeEvent:
			o, err := c.machine.OnTrade(e)
			switch err {
			case nil:
				c.settle(venue, o)
			case order.ErrDuplicateTrade:
				c.metrics.IncDedupDrop()
			default:
				logs.Warnf("trade %s on %s: %v", e.VenueTradeID, venue, err)
			}
		case schema.CancelAck:
			if o, err := c.machine.OnCancelAck(e); err == nil {
				c.account.Release(venue, o.ClientID)
			} else {
				logs.Warnf("cancel ack %s on %s: %v", e.ClientID, venue, err)
			}
		case schema.OrderReject:
			if o, err := c.machine.OnReject(e); err == nil {
				c.account.Release(venue, o.ClientID)
			} else {
				logs.Warnf("reject %s on %s: %v", e.ClientID, venue, err)
			}
		case schema.OrderExpire:
			if o, err := c.machine.OnExpire(e); err == nil {
				c.account.Release(venue, o.ClientID)
			} else {
				logs.Warnf("expire %s on %s: %v", e.ClientID, venue, err)
			}
		case schema.BalanceUpdate:
			c.account.ApplyUpdate(e)
		}
	}
}

// reserve locks balance for the order's remaining quantity. Market
// buys have no bounded quote cost, so nothing is reserved for them.
func (c *Core) reserve(o order.Order) {
	asset, amount, ok := reservationFor(o)
	if !ok {
		return
	}
	c.account.Lock(o.Market.Venue, o.ClientID, asset, amount)
}

// settle shrinks or releases the reservation after a fill.
func (c *Core) settle(venue string, o order.Order) {
	if o.State.Terminal() {
		c.account.Release(venue, o.ClientID)
		return
	}
	c.reserve(o)
}

func reservationFor(o order.Order) (string, decimal.Decimal, bool) {
	remaining := o.Remaining()
	if remaining.Sign() <= 0 {
		return "", decimal.Decimal{}, false
	}
	switch o.Side {
	case schema.OrderSideSell:
		return o.Market.BaseAsset, remaining, true
	case schema.OrderSideBuy:
		if o.Type != schema.OrderTypeLimit {
			return "", decimal.Decimal{}, false
		}
		return o.Market.QuoteAsset, o.Price.Mul(remaining), true
	}
	return "", decimal.Decimal{}, false
}

func (c *Core) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			for _, o := range c.machine.ExpirePending(now) {
				switch {
				case o.State == order.StateFailed:
					c.account.Release(o.Market.Venue, o.ClientID)
				case o.Inconsistent:
					logs.Warnf("cancel unconfirmed for %s; flagged for reconciliation", o.ClientID)
				}
			}
		}
	}
}

func (c *Core) reconcileLoop(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.ReconcileInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.reconcile(ctx)
		}
	}
}

// discoverMarkets pulls venue metadata and upserts every subscribed
// market into the registry.
func (c *Core) discoverMarkets(ctx context.Context) error {
	for venue, adapter := range c.adapters {
		if !adapter.Capabilities().Has(connector.CapListMarkets) {
			continue
		}
		markets, err := adapter.ListMarkets(ctx)
		if err != nil {
			return errors.Wrap(err, "list markets").With("venue", venue)
		}
		for _, m := range markets {
			if _, want := c.subscribed[venue][m.Symbol]; !want {
				continue
			}
			if err := c.registry.UpsertMarket(m); err != nil {
				return errors.Wrap(err, "register market").With("market", m.Key())
			}
		}
	}
	return nil
}

// reconcile re-queries venue balances and market metadata, drops
// drained terminal orders, and reports orders stuck in PendingCancel
// past the bound.
func (c *Core) reconcile(ctx context.Context) {
	// Precision and minimum size move with venue listings.
	if err := c.discoverMarkets(ctx); err != nil {
		logs.Warnf("refresh markets: %v", err)
	}

	for venue, adapter := range c.adapters {
		if !adapter.Capabilities().Has(connector.CapQueryBalances) {
			continue
		}
		balances, err := adapter.QueryBalances(ctx)
		if err != nil {
			logs.Warnf("reconcile balances on %s: %v", venue, err)
			continue
		}
		c.account.Reconcile(schema.BalanceUpdate{
			Venue:    venue,
			Balances: balances,
			TsNano:   time.Now().UnixNano(),
		})
	}

	for _, o := range c.machine.OpenOrders() {
		if o.Inconsistent {
			logs.Warnf("order %s pending-cancel past bound on %s", o.ClientID, o.Market.Venue)
		}
	}

	// Terminal orders already emitted their final event on the broker;
	// dropping them here keeps the in-flight set bounded.
	c.machine.DrainTerminal()
}
