package binance

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/yanun0323/errors"

	"main/internal/connector"
	"main/internal/governor"
)

// Signer produces the request signature for the encoded query string.
// Keeping it injected leaves key handling outside the connector.
type Signer func(payload string) string

// request weights from the venue's published rate limit table.
const (
	costExchangeInfo = 20
	costDepth        = 50
	costOrder        = 1
	costAccount      = 20
	costListenKey    = 2
)

const defaultRecvWindow = 5000

type restClient struct {
	base    string
	apiKey  string
	sign    Signer
	http    *http.Client
	limiter *governor.Governor
}

func newRESTClient(base, apiKey string, sign Signer, limiter *governor.Governor) *restClient {
	return &restClient{
		base:    base,
		apiKey:  apiKey,
		sign:    sign,
		http:    &http.Client{Timeout: 15 * time.Second},
		limiter: limiter,
	}
}

func (c *restClient) get(ctx context.Context, path string, query url.Values, cost float64, out any) error {
	return c.do(ctx, http.MethodGet, path, query, false, cost, out)
}

func (c *restClient) getSigned(ctx context.Context, path string, query url.Values, cost float64, out any) error {
	return c.do(ctx, http.MethodGet, path, query, true, cost, out)
}

func (c *restClient) do(ctx context.Context, method, path string, query url.Values, signed bool, cost float64, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Acquire(ctx, cost); err != nil {
			return errors.Wrap(err, "acquire rate budget").With("path", path)
		}
	}

	if query == nil {
		query = url.Values{}
	}
	if signed {
		if c.sign == nil {
			return errors.Wrap(connector.ErrAuthentication, "no signer configured")
		}
		query.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))
		query.Set("recvWindow", strconv.Itoa(defaultRecvWindow))
		query.Set("signature", c.sign(query.Encode()))
	}

	fullURL := c.base + path
	if len(query) > 0 {
		fullURL += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, nil)
	if err != nil {
		return errors.Wrap(err, "create request").With("path", path)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-MBX-APIKEY", c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return connector.Transient(errors.Wrap(err, "do request").With("path", path))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return connector.Transient(errors.Wrap(err, "read response").With("path", path))
	}

	if resp.StatusCode >= 400 {
		return classifyStatus(resp.StatusCode, body, path)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return errors.Wrap(err, "unmarshal response").With("path", path)
	}
	return nil
}

// classifyStatus maps HTTP failures onto the connector taxonomy:
// auth failures are fatal, throttling and server errors retryable,
// everything else surfaced as-is.
func classifyStatus(status int, body []byte, path string) error {
	var payload apiErrorPayload
	msg := http.StatusText(status)
	if err := json.Unmarshal(body, &payload); err == nil && payload.Message != "" {
		msg = payload.Message
	}

	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return errors.Wrap(connector.ErrAuthentication, msg).With("path", path).With("status", status)
	case status == http.StatusTooManyRequests || status == http.StatusTeapot || status >= 500:
		return connector.Transient(errors.Errorf("venue error %d on %s: %s", status, path, msg))
	default:
		return errors.Errorf("venue error %d on %s: %s", status, path, msg)
	}
}
