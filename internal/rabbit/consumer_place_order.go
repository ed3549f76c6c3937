package rabbit

import (
	"context"
	"encoding/json"
	"fmt"

	"order-lifecycle-service/internal/dto"
	"order-lifecycle-service/internal/model"

	"go.uber.org/zap"
)

// OrderIntake es lo que los consumers necesitan del servicio.
type OrderIntake interface {
	PlaceOrder(ctx context.Context, msg dto.PlaceOrderMessage) (*model.Order, error)
	InitiatePayment(ctx context.Context, in dto.PaymentIntent) (*model.Payment, error)
}

type PlaceOrderConsumer struct {
	Intake OrderIntake
	Logger *zap.Logger
}

func NewPlaceOrderConsumer(intake OrderIntake, logger *zap.Logger) *PlaceOrderConsumer {
	return &PlaceOrderConsumer{Intake: intake, Logger: logger}
}

func (c *PlaceOrderConsumer) Handle(ctx context.Context, body []byte) error {
	var event dto.PlaceOrderMessage
	if err := json.Unmarshal(body, &event); err != nil {
		return fmt.Errorf("%w: %v", ErrPoisonMessage, err)
	}

	o, err := c.Intake.PlaceOrder(ctx, event)
	if err != nil {
		return err
	}

	c.Logger.Info("order_placed processed",
		zap.String("order_id", o.ID),
		zap.String("order_number", o.OrderNumber),
		zap.String("correlation_id", event.CorrelationID),
	)
	return nil
}
