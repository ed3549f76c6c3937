package rabbit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"order-lifecycle-service/internal/events"

	"github.com/google/uuid"
	"github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const OrderEventsExchange = "order_events"

// Publisher is the subset of *amqp091.Channel the notifier uses.
type Publisher interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp091.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) error
}

// envelope mirrors the shape checkout uses for its own exchanges.
type envelope struct {
	CorrelationID string       `json:"correlation_id"`
	Exchange      string       `json:"exchange"`
	RoutingKey    string       `json:"routing_key"`
	Message       events.Event `json:"message"`
}

// Notifier forwards domain events to the order_events fanout so the
// real-time notification service can push them to clients.
type Notifier struct {
	ch      Publisher
	timeout time.Duration
	logger  *zap.Logger
}

func NewNotifier(ch Publisher, timeout time.Duration, logger *zap.Logger) (*Notifier, error) {
	if err := ch.ExchangeDeclare(OrderEventsExchange, amqp091.ExchangeFanout, true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("declare exchange %s: %w", OrderEventsExchange, err)
	}
	return &Notifier{ch: ch, timeout: timeout, logger: logger}, nil
}

// Register subscribes the notifier to every domain event.
func (n *Notifier) Register(bus *events.Bus) {
	bus.SubscribeAll(n.Handle)
}

func (n *Notifier) Handle(ctx context.Context, e events.Event) error {
	id := uuid.NewString()
	body, err := json.Marshal(envelope{
		CorrelationID: id,
		Exchange:      OrderEventsExchange,
		RoutingKey:    string(e.Name),
		Message:       e,
	})
	if err != nil {
		return fmt.Errorf("marshal %s: %w", e.Name, err)
	}

	if n.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, n.timeout)
		defer cancel()
	}
	err = n.ch.PublishWithContext(ctx, OrderEventsExchange, string(e.Name), false, false, amqp091.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp091.Persistent,
		MessageId:    id,
		Timestamp:    e.OccurredAt,
		Type:         string(e.Name),
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish %s: %w", e.Name, err)
	}
	n.logger.Debug("event published", zap.String("event", string(e.Name)), zap.String("order_id", e.OrderID))
	return nil
}
