package binance

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
	"github.com/yanun0323/pkg/sys"
	"github.com/yanun0323/pkg/ws"

	"main/internal/schema"
)

// bookSeq renumbers one market's venue update ids into the contiguous
// sequence domain the book tracker consumes. baseline installs a REST
// snapshot id; a venue-side id gap is carried through as a normalized
// gap so the tracker demands a resync.
type bookSeq struct {
	mu        sync.Mutex
	venueLast uint64
	norm      uint64
	primed    bool
}

func (s *bookSeq) baseline(last uint64) {
	s.mu.Lock()
	s.venueLast = last
	s.norm = last
	s.primed = true
	s.mu.Unlock()
}

// next assigns n normalized ids to a diff batch covering venue ids
// [first, final]. skip reports a stale or pre-snapshot batch.
func (s *bookSeq) next(first, final uint64, n int) (start uint64, skip bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.primed || final <= s.venueLast || n <= 0 {
		return 0, true
	}
	if first > s.venueLast+1 {
		s.norm += first - s.venueLast
	}
	start = s.norm + 1
	s.norm += uint64(n)
	s.venueLast = final
	return start, false
}

type depthStream struct {
	venue string
	wss   *ws.WebSocket

	mu      sync.Mutex
	started bool
	nextID  int64
	seqs    map[string]*bookSeq
	markets map[string]schema.Market

	handlerMu  sync.RWMutex
	handlers   map[int64]func(schema.BookUpdate)
	handlerSeq int64
}

func newDepthStream(ctx context.Context, venue, baseURL string) *depthStream {
	return &depthStream{
		venue:    venue,
		wss:      ws.New(ctx, baseURL+"/ws"),
		seqs:     make(map[string]*bookSeq),
		markets:  make(map[string]schema.Market),
		handlers: make(map[int64]func(schema.BookUpdate)),
	}
}

func (s *depthStream) start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}
	if err := s.wss.Start(ctx); err != nil {
		return errors.Wrap(err, "start depth stream")
	}
	s.started = true
	go s.run(ctx)
	return nil
}

func (s *depthStream) run(ctx context.Context) {
	ch, cancel := s.wss.Subscribe()
	defer cancel()
	for {
		select {
		case <-sys.Shutdown():
			return
		case <-ctx.Done():
			return
		case m, ok := <-ch:
			if !ok {
				return
			}

			payload, ok := ws.ReadMessage[depthPayload](m)
			if !ok || payload.EventType != "depthUpdate" {
				continue
			}

			s.dispatch(payload)
		}
	}
}

// subscribe registers the market and sends the venue subscribe
// request. Deltas flow only after a snapshot primes the sequencer.
func (s *depthStream) subscribe(ctx context.Context, market schema.Market) error {
	symbol := nativeSymbol(market)

	s.mu.Lock()
	if _, ok := s.markets[symbol]; ok {
		s.mu.Unlock()
		return nil
	}
	s.markets[symbol] = market
	s.seqs[symbol] = &bookSeq{}
	s.nextID++
	id := s.nextID
	s.mu.Unlock()

	if err := s.wss.SendAndWait(ctx, ws.Sidecar{
		Sender: func(ctx context.Context, conn *ws.WebSocket) error {
			payload := subscribeRequest{
				Method: "SUBSCRIBE",
				Params: []string{
					fmt.Sprintf("%s@depth@100ms", strings.ToLower(symbol)),
				},
				ID: id,
			}

			if err := conn.WriteJSON(payload); err != nil {
				return errors.Wrap(err, "write subscribe payload").With("payload", payload)
			}

			return nil
		},
		Waiter: func(ctx context.Context, m ws.Message) (bool, error) {
			var resp subscribeResponse
			if err := m.Unmarshal(&resp); err != nil || resp.ID != id {
				return false, nil
			}

			if resp.Result != nil {
				return false, errors.Errorf("subscribe depth, err: %+v", resp.Result)
			}
			return true, nil
		},
	}, true); err != nil {
		return errors.Wrap(err, "send and wait").With("symbol", symbol)
	}

	logs.Info("subscribed depth stream: " + symbol)
	return nil
}

// rebase realigns the market's sequencer to a freshly fetched
// snapshot id.
func (s *depthStream) rebase(market schema.Market, lastUpdateID uint64) {
	s.mu.Lock()
	seq := s.seqs[nativeSymbol(market)]
	s.mu.Unlock()
	if seq != nil {
		seq.baseline(lastUpdateID)
	}
}

func (s *depthStream) dispatch(p depthPayload) {
	s.mu.Lock()
	market, known := s.markets[p.Symbol]
	seq := s.seqs[p.Symbol]
	s.mu.Unlock()
	if !known || seq == nil {
		return
	}

	bids := toLevels(p.Bids)
	asks := toLevels(p.Asks)
	start, skip := seq.next(p.FirstUpdateID, p.FinalUpdateID, len(bids)+len(asks))
	if skip {
		return
	}

	key := market.Key()
	ts := p.EventTime * int64(time.Millisecond)
	n := start
	for _, lvl := range bids {
		s.emit(schema.BookDelta{
			Market:   key,
			Seq:      n,
			Side:     schema.BookSideBid,
			Price:    lvl.Price,
			Quantity: lvl.Quantity,
			TsNano:   ts,
		})
		n++
	}
	for _, lvl := range asks {
		s.emit(schema.BookDelta{
			Market:   key,
			Seq:      n,
			Side:     schema.BookSideAsk,
			Price:    lvl.Price,
			Quantity: lvl.Quantity,
			TsNano:   ts,
		})
		n++
	}
}

func (s *depthStream) observe(handler func(schema.BookUpdate)) (unsubscribe func()) {
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

func (s *depthStream) emit(update schema.BookUpdate) {
	s.handlerMu.RLock()
	defer s.handlerMu.RUnlock()
	for _, handler := range s.handlers {
		handler(update)
	}
}

func (s *depthStream) close() {
	s.wss.Close()
}
