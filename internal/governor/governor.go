package governor

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	// ErrRateLimitExceeded reports a full waiter queue under a
	// configured hard cap. The request was not admitted.
	ErrRateLimitExceeded = errors.New("rate limit exceeded")

	ErrInvalidCost = errors.New("invalid acquire cost")
	ErrClosed      = errors.New("governor closed")
)

// Config defines one connector's request budget.
type Config struct {
	// Capacity is the bucket size (maximum burst in cost units).
	Capacity float64

	// RefillPerSec is the sustained budget in cost units per second.
	RefillPerSec float64

	// MaxWaiters caps the number of queued callers. Zero means
	// unbounded waiting; above the cap Acquire fails fast with
	// ErrRateLimitExceeded instead of blocking.
	MaxWaiters int

	// OnWait, when set, observes how long each queued caller waited.
	OnWait func(time.Duration)
}

const (
	defaultCapacity     = 10
	defaultRefillPerSec = 10
)

type waiter struct {
	cost   float64
	served bool // written before ready is closed
	ready  chan struct{}
}

// Governor is a weighted-cost token bucket gating outbound venue
// requests. Venues penalize rate violations with temporary bans, so
// every REST call goes through Acquire first.
//
// Waiters are served strictly FIFO: a queued caller is never
// overtaken, so no caller can starve another indefinitely.
type Governor struct {
	cfg Config

	mu      sync.Mutex
	tokens  float64
	last    time.Time
	waiters []*waiter
	timer   *time.Timer
	closed  bool
}

// New creates a governor with a full bucket.
func New(cfg Config) *Governor {
	if cfg.Capacity <= 0 {
		cfg.Capacity = defaultCapacity
	}
	if cfg.RefillPerSec <= 0 {
		cfg.RefillPerSec = defaultRefillPerSec
	}
	return &Governor{
		cfg:    cfg,
		tokens: cfg.Capacity,
		last:   time.Now(),
	}
}

// Acquire blocks until cost units of budget are available or the
// context is cancelled. Costs above the bucket capacity can never be
// satisfied and fail with ErrInvalidCost.
func (g *Governor) Acquire(ctx context.Context, cost float64) error {
	if cost <= 0 || cost > g.cfg.Capacity {
		return ErrInvalidCost
	}

	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return ErrClosed
	}
	g.refillLocked()

	// Fast path only when nobody is queued, to keep FIFO order.
	if len(g.waiters) == 0 && g.tokens >= cost {
		g.tokens -= cost
		g.mu.Unlock()
		return nil
	}

	if g.cfg.MaxWaiters > 0 && len(g.waiters) >= g.cfg.MaxWaiters {
		g.mu.Unlock()
		return ErrRateLimitExceeded
	}

	w := &waiter{cost: cost, ready: make(chan struct{})}
	g.waiters = append(g.waiters, w)
	g.scheduleLocked()
	g.mu.Unlock()

	queued := time.Now()
	select {
	case <-w.ready:
		if !w.served {
			return ErrClosed
		}
		if g.cfg.OnWait != nil {
			g.cfg.OnWait(time.Since(queued))
		}
		return nil
	case <-ctx.Done():
		g.abandon(w)
		return ctx.Err()
	}
}

// TryAcquire takes cost units without blocking. Returns false when
// the budget is unavailable or callers are already queued.
func (g *Governor) TryAcquire(cost float64) bool {
	if cost <= 0 || cost > g.cfg.Capacity {
		return false
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed || len(g.waiters) > 0 {
		return false
	}
	g.refillLocked()
	if g.tokens < cost {
		return false
	}
	g.tokens -= cost
	return true
}

// Pending returns the number of queued callers.
func (g *Governor) Pending() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.waiters)
}

// Close wakes all queued callers with ErrClosed and fails every
// subsequent Acquire.
func (g *Governor) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return
	}
	g.closed = true
	if g.timer != nil {
		g.timer.Stop()
	}
	for _, w := range g.waiters {
		close(w.ready)
	}
	g.waiters = nil
}

func (g *Governor) refillLocked() {
	now := time.Now()
	elapsed := now.Sub(g.last).Seconds()
	if elapsed > 0 {
		g.tokens += elapsed * g.cfg.RefillPerSec
		if g.tokens > g.cfg.Capacity {
			g.tokens = g.cfg.Capacity
		}
	}
	g.last = now
}

// scheduleLocked arms the dispatch timer for the head waiter.
// Must be called with g.mu held.
func (g *Governor) scheduleLocked() {
	if g.timer != nil {
		g.timer.Stop()
		g.timer = nil
	}
	if len(g.waiters) == 0 || g.closed {
		return
	}
	need := g.waiters[0].cost - g.tokens
	var delay time.Duration
	if need > 0 {
		delay = time.Duration(need / g.cfg.RefillPerSec * float64(time.Second))
	}
	g.timer = time.AfterFunc(delay, g.dispatch)
}

func (g *Governor) dispatch() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return
	}
	g.refillLocked()
	for len(g.waiters) > 0 && g.tokens >= g.waiters[0].cost {
		w := g.waiters[0]
		g.waiters = g.waiters[1:]
		g.tokens -= w.cost
		w.served = true
		close(w.ready)
	}
	g.scheduleLocked()
}

// abandon removes a cancelled waiter from the queue. The waiter may
// already have been served; in that case its budget stays consumed.
func (g *Governor) abandon(target *waiter) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for i, w := range g.waiters {
		if w == target {
			g.waiters = append(g.waiters[:i], g.waiters[i+1:]...)
			g.scheduleLocked()
			return
		}
	}
}
