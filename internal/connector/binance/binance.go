// Package binance implements the venue adapter for Binance spot.
package binance

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"main/internal/connector"
	"main/internal/governor"
	"main/internal/schema"
)

const (
	defaultRESTURL = "https://api.binance.com"
	defaultWSURL   = "wss://stream.binance.com:9443"
)

// Config carries the venue endpoints and credentials.
type Config struct {
	Name    string
	RESTURL string
	WSURL   string
	APIKey  string
	Signer  Signer
}

// Connector adapts Binance spot onto the canonical venue surface.
type Connector struct {
	cfg   Config
	rest  *restClient
	depth *depthStream
	user  *userStream
}

var _ connector.Adapter = (*Connector)(nil)

// New builds the adapter. The limiter paces every REST call by
// request weight; nil disables pacing.
func New(ctx context.Context, cfg Config, limiter *governor.Governor) *Connector {
	if cfg.Name == "" {
		cfg.Name = "binance"
	}
	if cfg.RESTURL == "" {
		cfg.RESTURL = defaultRESTURL
	}
	if cfg.WSURL == "" {
		cfg.WSURL = defaultWSURL
	}

	rest := newRESTClient(cfg.RESTURL, cfg.APIKey, cfg.Signer, limiter)
	return &Connector{
		cfg:   cfg,
		rest:  rest,
		depth: newDepthStream(ctx, cfg.Name, cfg.WSURL),
		user:  newUserStream(cfg.Name, cfg.WSURL, rest),
	}
}

func (c *Connector) Name() string {
	return c.cfg.Name
}

func (c *Connector) Capabilities() connector.Capability {
	return connector.CapPlaceOrder |
		connector.CapCancelOrder |
		connector.CapQueryBalances |
		connector.CapSubscribeOrderBook |
		connector.CapSubscribeUserEvents |
		connector.CapListMarkets
}

func (c *Connector) ListMarkets(ctx context.Context) ([]schema.Market, error) {
	var payload exchangeInfoPayload
	err := connector.Retry(ctx, 0, func() error {
		return c.rest.get(ctx, "/api/v3/exchangeInfo", nil, costExchangeInfo, &payload)
	})
	if err != nil {
		return nil, err
	}

	markets := make([]schema.Market, 0, len(payload.Symbols))
	for _, s := range payload.Symbols {
		if s.Status != "TRADING" {
			continue
		}
		markets = append(markets, s.market(c.cfg.Name))
	}
	return markets, nil
}

// PlaceOrder never retries: a create that timed out may have reached
// the venue, and the order state machine resolves the ambiguity.
func (c *Connector) PlaceOrder(ctx context.Context, req schema.OrderRequest) (string, error) {
	query := url.Values{}
	query.Set("symbol", nativeSymbol(req.Market))
	query.Set("side", sideParam(req.Side))
	query.Set("type", typeParam(req.Type))
	query.Set("newClientOrderId", req.ClientID)
	query.Set("quantity", req.Quantity.StringFixed(req.Market.QuantityPrecision))
	if req.Type == schema.OrderTypeLimit {
		query.Set("timeInForce", timeInForceParam(req.TimeInForce))
		query.Set("price", req.Price.StringFixed(req.Market.PricePrecision))
	}
	query.Set("newOrderRespType", "ACK")

	var ack orderAckPayload
	if err := c.rest.do(ctx, http.MethodPost, "/api/v3/order", query, true, costOrder, &ack); err != nil {
		return "", err
	}
	return strconv.FormatInt(ack.OrderID, 10), nil
}

// CancelOrder retries on transient failures; cancelling by client
// order id is idempotent on the venue side.
func (c *Connector) CancelOrder(ctx context.Context, market schema.Market, clientID string) error {
	query := url.Values{}
	query.Set("symbol", nativeSymbol(market))
	query.Set("origClientOrderId", clientID)
	return connector.Retry(ctx, 0, func() error {
		return c.rest.do(ctx, http.MethodDelete, "/api/v3/order", query, true, costOrder, nil)
	})
}

func (c *Connector) QueryBalances(ctx context.Context) ([]schema.AssetBalance, error) {
	var payload accountPayload
	err := connector.Retry(ctx, 0, func() error {
		return c.rest.getSigned(ctx, "/api/v3/account", nil, costAccount, &payload)
	})
	if err != nil {
		return nil, err
	}

	balances := make([]schema.AssetBalance, 0, len(payload.Balances))
	for _, b := range payload.Balances {
		total, available := toBalances(b.Free, b.Locked)
		if total.IsZero() {
			continue
		}
		balances = append(balances, schema.AssetBalance{
			Asset:     b.Asset,
			Total:     total,
			Available: available,
		})
	}
	return balances, nil
}

func (c *Connector) BookSnapshot(ctx context.Context, market schema.Market) (schema.BookSnapshot, error) {
	query := url.Values{}
	query.Set("symbol", nativeSymbol(market))
	query.Set("limit", "1000")

	var payload depthSnapshotPayload
	err := connector.Retry(ctx, 0, func() error {
		return c.rest.get(ctx, "/api/v3/depth", query, costDepth, &payload)
	})
	if err != nil {
		return schema.BookSnapshot{}, err
	}

	c.depth.rebase(market, payload.LastUpdateID)
	return schema.BookSnapshot{
		Market: market.Key(),
		Seq:    payload.LastUpdateID,
		Bids:   toLevels(payload.Bids),
		Asks:   toLevels(payload.Asks),
		TsNano: time.Now().UnixNano(),
	}, nil
}

func (c *Connector) SubscribeOrderBook(ctx context.Context, market schema.Market) error {
	if err := c.depth.start(ctx); err != nil {
		return err
	}
	return c.depth.subscribe(ctx, market)
}

func (c *Connector) ObserveBookUpdates(ctx context.Context, handler func(schema.BookUpdate)) (func(), error) {
	cancel := c.depth.observe(handler)
	stop := context.AfterFunc(ctx, cancel)
	return func() {
		stop()
		cancel()
	}, nil
}

func (c *Connector) SubscribeUserEvents(ctx context.Context) error {
	return c.user.start(ctx)
}

func (c *Connector) ObserveUserEvents(ctx context.Context, handler func(schema.UserEvent)) (func(), error) {
	cancel := c.user.observe(handler)
	stop := context.AfterFunc(ctx, cancel)
	return func() {
		stop()
		cancel()
	}, nil
}

func (c *Connector) Close() {
	c.depth.close()
	c.user.close()
}
