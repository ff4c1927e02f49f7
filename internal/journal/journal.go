// Package journal persists order transitions and balance changes.
// Writes are best-effort and sit behind a bounded queue so a slow or
// absent database never backpressures the trading path.
package journal

import (
	"context"
	"time"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
	"gorm.io/gorm"

	"main/internal/bus"
	"main/internal/schema"
)

// OrderTransition is one row per order state change.
type OrderTransition struct {
	ID         uint64 `gorm:"primaryKey"`
	ClientID   string `gorm:"index;size:64"`
	Transition string `gorm:"size:32"`
	Reason     string `gorm:"size:256"`
	Filled     string `gorm:"size:64"`
	CreatedAt  time.Time
}

// BalanceChange is one row per effective balance move.
type BalanceChange struct {
	ID        uint64 `gorm:"primaryKey"`
	Venue     string `gorm:"index;size:32"`
	Asset     string `gorm:"size:32"`
	Total     string `gorm:"size:64"`
	Available string `gorm:"size:64"`
	CreatedAt time.Time
}

// Journal consumes domain events from its queue and writes rows.
type Journal struct {
	db    *gorm.DB
	queue *bus.Queue
}

// New migrates the journal tables and prepares the queue.
func New(db *gorm.DB, queueSize int) (*Journal, error) {
	if err := db.AutoMigrate(&OrderTransition{}, &BalanceChange{}); err != nil {
		return nil, errors.Wrap(err, "migrate journal tables")
	}
	if queueSize <= 0 {
		queueSize = 1024
	}
	return &Journal{db: db, queue: bus.NewQueue(queueSize)}, nil
}

// Publish enqueues an event for persistence. Overflow drops the
// event; the journal never blocks its producer.
func (j *Journal) Publish(ev schema.Event) {
	if err := j.queue.TryPublish(ev); err != nil {
		logs.Warnf("journal enqueue: %v", err)
	}
}

// Run drains the queue until it closes or the context ends.
func (j *Journal) Run(ctx context.Context) {
	j.queue.Run(ctx, j.handle)
}

// Close stops intake; Run returns after draining.
func (j *Journal) Close() {
	j.queue.Close()
}

func (j *Journal) handle(ev schema.Event) {
	if row, ok := transitionRow(ev); ok {
		j.insert(&row)
		return
	}
	if change, ok := ev.(schema.BalanceChanged); ok {
		j.insert(&BalanceChange{
			Venue:     change.Venue,
			Asset:     change.Asset,
			Total:     change.Total.String(),
			Available: change.Available.String(),
		})
	}
}

func (j *Journal) insert(row any) {
	if err := j.db.Create(row).Error; err != nil {
		logs.Warnf("journal insert: %v", err)
	}
}

// transitionRow maps order lifecycle events onto rows. Book events
// are not journaled; they are too frequent and reproducible.
func transitionRow(ev schema.Event) (OrderTransition, bool) {
	switch e := ev.(type) {
	case schema.OrderOpened:
		return OrderTransition{ClientID: e.ClientID, Transition: "opened"}, true
	case schema.OrderPartiallyFilled:
		return OrderTransition{ClientID: e.ClientID, Transition: "partially_filled", Filled: e.Filled.String()}, true
	case schema.OrderFilled:
		return OrderTransition{ClientID: e.ClientID, Transition: "filled", Filled: e.Filled.String()}, true
	case schema.OrderCancelled:
		return OrderTransition{ClientID: e.ClientID, Transition: "cancelled"}, true
	case schema.OrderRejected:
		return OrderTransition{ClientID: e.ClientID, Transition: "rejected", Reason: e.Reason}, true
	case schema.OrderExpired:
		return OrderTransition{ClientID: e.ClientID, Transition: "expired"}, true
	case schema.OrderFailed:
		return OrderTransition{ClientID: e.ClientID, Transition: "failed", Reason: e.Reason}, true
	default:
		return OrderTransition{}, false
	}
}
