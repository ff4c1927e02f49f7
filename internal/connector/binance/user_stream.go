package binance

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"main/internal/connector"
	"main/internal/schema"
)

const listenKeyKeepalive = 30 * time.Minute

// userStream owns the authenticated user-data connection: listen key
// lifecycle, reconnects with backoff, and fan-out of normalized user
// events.
type userStream struct {
	venue  string
	wsBase string
	rest   *restClient

	mu        sync.Mutex
	conn      *websocket.Conn
	listenKey string
	started   bool
	closed    bool
	done      chan struct{}

	handlerMu  sync.RWMutex
	handlers   map[int64]func(schema.UserEvent)
	handlerSeq int64
}

func newUserStream(venue, wsBase string, rest *restClient) *userStream {
	return &userStream{
		venue:    venue,
		wsBase:   wsBase,
		rest:     rest,
		done:     make(chan struct{}),
		handlers: make(map[int64]func(schema.UserEvent)),
	}
}

// start connects synchronously so credential failures surface to the
// caller, then keeps the stream alive in the background.
func (s *userStream) start(ctx context.Context) error {
	s.mu.Lock()
	if s.started || s.closed {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	if err := s.connect(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	s.started = true
	s.mu.Unlock()

	go s.run(ctx)
	go s.keepaliveLoop(ctx)
	return nil
}

func (s *userStream) connect(ctx context.Context) error {
	var key listenKeyPayload
	if err := s.rest.do(ctx, http.MethodPost, "/api/v3/userDataStream", nil, false, costListenKey, &key); err != nil {
		return errors.Wrap(err, "obtain listen key")
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, s.wsBase+"/ws/"+key.ListenKey, nil)
	if err != nil {
		return connector.Transient(errors.Wrap(err, "dial user stream"))
	}

	// The venue pings; answer or it drops the connection.
	conn.SetPingHandler(func(data string) error {
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(time.Second))
	})

	s.mu.Lock()
	s.conn = conn
	s.listenKey = key.ListenKey
	s.mu.Unlock()
	return nil
}

func (s *userStream) run(ctx context.Context) {
	attempt := 0
	for {
		s.mu.Lock()
		conn := s.conn
		s.mu.Unlock()

		if conn != nil {
			s.readLoop(conn)
			conn.Close()
			attempt = 0
		}

		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		default:
		}

		timer := time.NewTimer(connector.Backoff(attempt))
		attempt++
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-s.done:
			timer.Stop()
			return
		case <-timer.C:
		}

		if err := s.connect(ctx); err != nil {
			logs.Warnf("reconnect user stream: %v", err)
			s.mu.Lock()
			s.conn = nil
			s.mu.Unlock()
		}
	}
}

func (s *userStream) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-s.done:
			default:
				logs.Warnf("user stream read: %v", err)
			}
			return
		}
		s.route(data)
	}
}

// route drops malformed or unrecognized messages; one bad payload
// must not take the stream down.
func (s *userStream) route(data []byte) {
	var header struct {
		EventType string `json:"e"`
	}
	if err := json.Unmarshal(data, &header); err != nil {
		logs.Warnf("drop unreadable user message: %v", err)
		return
	}

	switch header.EventType {
	case "executionReport":
		var report executionReport
		if err := json.Unmarshal(data, &report); err != nil {
			logs.Warnf("drop malformed execution report: %v", err)
			return
		}
		if ev, ok := report.userEvent(); ok {
			s.emit(ev)
		}
	case "outboundAccountPosition":
		var pos accountPositionPayload
		if err := json.Unmarshal(data, &pos); err != nil {
			logs.Warnf("drop malformed account position: %v", err)
			return
		}
		s.emit(pos.userEvent(s.venue))
	}
}

func (s *userStream) keepaliveLoop(ctx context.Context) {
	ticker := time.NewTicker(listenKeyKeepalive)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case <-ticker.C:
			s.mu.Lock()
			key := s.listenKey
			s.mu.Unlock()
			if key == "" {
				continue
			}

			query := url.Values{}
			query.Set("listenKey", key)
			if err := s.rest.do(ctx, http.MethodPut, "/api/v3/userDataStream", query, false, costListenKey, nil); err != nil {
				logs.Warnf("keepalive listen key: %v", err)
			}
		}
	}
}

func (s *userStream) observe(handler func(schema.UserEvent)) (unsubscribe func()) {
	s.handlerMu.Lock()
	s.handlerSeq++
	id := s.handlerSeq
	s.handlers[id] = handler
	s.handlerMu.Unlock()

	return func() {
		s.handlerMu.Lock()
		delete(s.handlers, id)
		s.handlerMu.Unlock()
	}
}

func (s *userStream) emit(ev schema.UserEvent) {
	s.handlerMu.RLock()
	defer s.handlerMu.RUnlock()
	for _, handler := range s.handlers {
		handler(ev)
	}
}

func (s *userStream) close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	conn := s.conn
	s.mu.Unlock()

	close(s.done)
	if conn != nil {
		conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		conn.Close()
	}
}
