package rabbit

import (
	"context"
	"encoding/json"
	"fmt"

	"order-lifecycle-service/internal/dto"

	"go.uber.org/zap"
)

type PaymentInitiatedConsumer struct {
	Intake OrderIntake
	Logger *zap.Logger
}

func NewPaymentInitiatedConsumer(intake OrderIntake, logger *zap.Logger) *PaymentInitiatedConsumer {
	return &PaymentInitiatedConsumer{Intake: intake, Logger: logger}
}

func (c *PaymentInitiatedConsumer) Handle(ctx context.Context, body []byte) error {
	var event dto.PaymentInitiatedMessage
	if err := json.Unmarshal(body, &event); err != nil {
		return fmt.Errorf("%w: %v", ErrPoisonMessage, err)
	}

	p, err := c.Intake.InitiatePayment(ctx, event.Message)
	if err != nil {
		return err
	}

	c.Logger.Info("payment_initiated processed",
		zap.String("payment_id", p.ID),
		zap.String("provider_order_id", p.ProviderOrderID),
		zap.String("correlation_id", event.CorrelationID),
	)
	return nil
}
