// Package events is the in-process publish/subscribe bus that decouples
// reconciliation from notification delivery.
package events

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"go.uber.org/zap"
)

type Name string

const (
	OrderPlaced      Name = "order:placed"
	OrderCancelled   Name = "order:cancelled"
	OrderShipped     Name = "order:shipped"
	OrderDelivered   Name = "order:delivered"
	PaymentCompleted Name = "payment:completed"
	PaymentFailed    Name = "payment:failed"
	PaymentRefunded  Name = "payment:refunded"
)

// All lists every event the reconciliation engine emits.
var All = []Name{
	OrderPlaced, OrderCancelled, OrderShipped, OrderDelivered,
	PaymentCompleted, PaymentFailed, PaymentRefunded,
}

type Event struct {
	Name       Name              `json:"name"`
	OrderID    string            `json:"orderId,omitempty"`
	PaymentID  string            `json:"paymentId,omitempty"`
	ShipmentID string            `json:"shipmentId,omitempty"`
	UserID     string            `json:"userId,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
	OccurredAt time.Time         `json:"occurredAt"`
}

type Handler func(ctx context.Context, e Event) error

// Publisher is what the reconcilers depend on.
type Publisher interface {
	Publish(ctx context.Context, e Event)
}

// Bus dispatches synchronously, handler by handler. A failing or panicking
// handler is logged and skipped; the publisher never sees it.
type Bus struct {
	mu       sync.RWMutex
	handlers map[Name][]Handler
	logger   *zap.Logger
}

func NewBus(logger *zap.Logger) *Bus {
	return &Bus{
		handlers: make(map[Name][]Handler),
		logger:   logger,
	}
}

func (b *Bus) Subscribe(name Name, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[name] = append(b.handlers[name], h)
}

// SubscribeAll registers h for every known event.
func (b *Bus) SubscribeAll(h Handler) {
	for _, n := range All {
		b.Subscribe(n, h)
	}
}

func (b *Bus) Publish(ctx context.Context, e Event) {
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}

	b.mu.RLock()
	handlers := append([]Handler(nil), b.handlers[e.Name]...)
	b.mu.RUnlock()

	for i, h := range handlers {
		if err := b.invoke(ctx, h, e); err != nil {
			b.logger.Warn("event handler failed",
				zap.String("event", string(e.Name)),
				zap.Int("handler", i),
				zap.String("order_id", e.OrderID),
				zap.Error(err),
			)
		}
	}
}

func (b *Bus) invoke(ctx context.Context, h Handler, e Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
			b.logger.Error("event handler panicked",
				zap.String("event", string(e.Name)),
				zap.String("stack", string(debug.Stack())),
			)
		}
	}()
	return h(ctx, e)
}
