// setup.go
package rabbit

import (
	"context"
	"errors"
	"fmt"

	"order-lifecycle-service/internal/service"

	"github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// ErrPoisonMessage marks a delivery that can never succeed; it is dropped
// instead of requeued.
var ErrPoisonMessage = errors.New("unprocessable message")

const (
	OrderPlacedExchange      = "order_placed"
	PaymentInitiatedExchange = "payment_initiated"

	ordersQueue   = "order_lifecycle_service_orders"
	paymentsQueue = "order_lifecycle_service_payments"
	prefetch      = 10
)

// Channel is the subset of *amqp091.Channel the consumers use.
type Channel interface {
	Qos(prefetchCount, prefetchSize int, global bool) error
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp091.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp091.Table) (amqp091.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp091.Table) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp091.Table) (<-chan amqp091.Delivery, error)
}

type Handler func(ctx context.Context, body []byte) error

type subscription struct {
	queue    string
	exchange string
	handle   Handler
}

// SetupConsumers declara las colas, las bindea a los exchanges fanout de
// checkout y arranca un consumer por cola. Los consumers paran con ctx.
func SetupConsumers(ctx context.Context, ch Channel, intake OrderIntake, logger *zap.Logger) error {
	if err := ch.Qos(prefetch, 0, false); err != nil {
		return fmt.Errorf("set qos: %w", err)
	}

	subs := []subscription{
		{queue: ordersQueue, exchange: OrderPlacedExchange, handle: NewPlaceOrderConsumer(intake, logger).Handle},
		{queue: paymentsQueue, exchange: PaymentInitiatedExchange, handle: NewPaymentInitiatedConsumer(intake, logger).Handle},
	}
	for _, s := range subs {
		msgs, err := subscribe(ch, s)
		if err != nil {
			return err
		}
		go consume(ctx, msgs, s, logger)
		logger.Info("subscribed to exchange", zap.String("exchange", s.exchange), zap.String("queue", s.queue))
	}
	return nil
}

func subscribe(ch Channel, s subscription) (<-chan amqp091.Delivery, error) {
	// 1. Declarar el exchange (fanout, idempotente)
	if err := ch.ExchangeDeclare(s.exchange, amqp091.ExchangeFanout, true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("declare exchange %s: %w", s.exchange, err)
	}
	// 2. Declarar la queue
	q, err := ch.QueueDeclare(s.queue, true, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("declare queue %s: %w", s.queue, err)
	}
	// 3. Bindear (fanout ignora routing key)
	if err := ch.QueueBind(q.Name, "", s.exchange, false, nil); err != nil {
		return nil, fmt.Errorf("bind %s to %s: %w", q.Name, s.exchange, err)
	}
	// 4. Consumir con ack manual
	msgs, err := ch.Consume(q.Name, "", false, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("consume %s: %w", q.Name, err)
	}
	return msgs, nil
}

func consume(ctx context.Context, msgs <-chan amqp091.Delivery, s subscription, logger *zap.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-msgs:
			if !ok {
				logger.Warn("delivery channel closed", zap.String("queue", s.queue))
				return
			}
			dispatch(ctx, m, s, logger)
		}
	}
}

// dispatch acks on success, drops poison and invalid messages, and requeues
// other failures once.
func dispatch(ctx context.Context, m amqp091.Delivery, s subscription, logger *zap.Logger) {
	err := s.handle(ctx, m.Body)
	if err == nil {
		if ackErr := m.Ack(false); ackErr != nil {
			logger.Warn("ack failed", zap.String("queue", s.queue), zap.Error(ackErr))
		}
		return
	}

	requeue := !m.Redelivered
	if errors.Is(err, ErrPoisonMessage) || errors.Is(err, service.ErrValidation) {
		requeue = false
	}
	logger.Error("message handling failed",
		zap.String("exchange", s.exchange),
		zap.String("queue", s.queue),
		zap.Bool("requeue", requeue),
		zap.ByteString("body", m.Body),
		zap.Error(err),
	)
	if nackErr := m.Nack(false, requeue); nackErr != nil {
		logger.Warn("nack failed", zap.String("queue", s.queue), zap.Error(nackErr))
	}
}
