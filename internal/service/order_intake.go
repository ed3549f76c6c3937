package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"order-lifecycle-service/internal/dto"
	"order-lifecycle-service/internal/events"
	"order-lifecycle-service/internal/model"
	"order-lifecycle-service/internal/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const sourceCheckout = "checkout"

// OrderIntake records orders and payment attempts announced by checkout.
// Redeliveries of the same message are no-ops.
type OrderIntake struct {
	orders   OrderRepository
	payments PaymentRepository
	bus      events.Publisher
	logger   *zap.Logger
}

func NewOrderIntake(orders OrderRepository, payments PaymentRepository, bus events.Publisher, logger *zap.Logger) *OrderIntake {
	return &OrderIntake{orders: orders, payments: payments, bus: bus, logger: logger}
}

// PlaceOrder crea la orden en estado new. Si ya existe, la devuelve sin
// volver a emitir order:placed.
func (s *OrderIntake) PlaceOrder(ctx context.Context, msg dto.PlaceOrderMessage) (*model.Order, error) {
	m := msg.Message
	if m.OrderNumber == "" || m.UserID == "" || len(m.Items) == 0 {
		return nil, fmt.Errorf("%w: order needs orderNumber, userId and items", ErrValidation)
	}
	for _, it := range m.Items {
		if it.Quantity <= 0 {
			return nil, fmt.Errorf("%w: item %s has quantity %d", ErrValidation, it.ProductID, it.Quantity)
		}
	}

	id := m.OrderID
	if id == "" {
		id = uuid.NewString()
	}
	method := strings.ToLower(m.PaymentMethod)
	if method == "" {
		method = model.PaymentMethodPrepaid
	}

	now := utcNow()
	items := make([]model.OrderItem, len(m.Items))
	copy(items, m.Items)
	o := &model.Order{
		ID:            id,
		OrderNumber:   m.OrderNumber,
		UserID:        m.UserID,
		Status:        model.OrderNew,
		Items:         items,
		Customer:      m.Customer,
		Shipping:      m.Shipping,
		PaymentMethod: method,
		TotalAmount:   m.TotalAmount,
		StatusHistory: []model.StatusRecord{
			{Status: model.OrderNew, Source: sourceCheckout, Reason: "order placed", Timestamp: now},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}

	err := s.orders.Insert(ctx, o)
	if errors.Is(err, repository.ErrAlreadyExists) {
		s.logger.Info("order already placed", zap.String("order_number", m.OrderNumber))
		existing, err := s.orders.FindByOrderNumber(ctx, m.OrderNumber)
		if err != nil {
			return nil, fmt.Errorf("find existing order: %w", err)
		}
		return existing, nil
	}
	if err != nil {
		return nil, fmt.Errorf("insert order: %w", err)
	}

	s.logger.Info("order placed",
		zap.String("order_id", o.ID),
		zap.String("order_number", o.OrderNumber),
		zap.String("correlation_id", msg.CorrelationID),
	)
	publish(ctx, s.bus, events.Event{
		Name:       events.OrderPlaced,
		OrderID:    o.ID,
		UserID:     o.UserID,
		Attributes: map[string]string{"orderNumber": o.OrderNumber},
	})

	if m.Payment != nil {
		intent := *m.Payment
		intent.OrderID = o.ID
		if intent.UserID == "" {
			intent.UserID = o.UserID
		}
		if _, err := s.InitiatePayment(ctx, intent); err != nil {
			return o, err
		}
	}
	return o, nil
}

// InitiatePayment records a pending payment. Either OrderID or OrderSnapshot
// ties it to an order; the snapshot defers order creation to the first
// successful payment notification.
func (s *OrderIntake) InitiatePayment(ctx context.Context, in dto.PaymentIntent) (*model.Payment, error) {
	if in.Provider == "" || in.ProviderOrderID == "" || in.Amount <= 0 {
		return nil, fmt.Errorf("%w: payment needs provider, providerOrderId and a positive amount", ErrValidation)
	}
	if in.OrderID == "" && in.OrderSnapshot == nil {
		return nil, fmt.Errorf("%w: payment needs an orderId or an orderSnapshot", ErrValidation)
	}

	currency := strings.ToUpper(in.Currency)
	if currency == "" {
		currency = "INR"
	}
	now := utcNow()
	p := &model.Payment{
		ID:              uuid.NewString(),
		OrderID:         in.OrderID,
		UserID:          in.UserID,
		Provider:        strings.ToLower(in.Provider),
		ProviderOrderID: in.ProviderOrderID,
		Amount:          in.Amount,
		Currency:        currency,
		Status:          model.PaymentPending,
		OrderSnapshot:   in.OrderSnapshot,
		EventHistory: []model.PaymentEvent{
			{Provider: strings.ToLower(in.Provider), Event: "initiated", ReceivedAt: now},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}

	err := s.payments.Insert(ctx, p)
	if errors.Is(err, repository.ErrAlreadyExists) {
		existing, err := s.payments.FindByProviderOrderID(ctx, in.ProviderOrderID)
		if err != nil {
			return nil, fmt.Errorf("find existing payment: %w", err)
		}
		return existing, nil
	}
	if err != nil {
		return nil, fmt.Errorf("insert payment: %w", err)
	}

	s.logger.Info("payment initiated",
		zap.String("payment_id", p.ID),
		zap.String("provider", p.Provider),
		zap.String("provider_order_id", p.ProviderOrderID),
	)
	return p, nil
}
