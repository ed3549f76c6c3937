package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"order-lifecycle-service/internal/dto"
	"order-lifecycle-service/internal/events"
	"order-lifecycle-service/internal/model"
	"order-lifecycle-service/internal/repository"
	"order-lifecycle-service/internal/statemachine"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const sourcePaymentWebhook = "payment_webhook"

// PaymentReconciler applies verified gateway notifications to payments and
// drives the order side of a completed payment.
//
// Transition checks here are advisory: the gateway is the source of truth for
// the payment status, so a violation is logged and written to the payment's
// event history but the update still goes through.
type PaymentReconciler struct {
	payments     PaymentRepository
	orders       OrderRepository
	guard        *IdempotencyGuard
	stock        *StockGuard
	orchestrator *ShipmentOrchestrator
	bus          events.Publisher
	logger       *zap.Logger
}

func NewPaymentReconciler(payments PaymentRepository, orders OrderRepository, guard *IdempotencyGuard, stock *StockGuard, orchestrator *ShipmentOrchestrator, bus events.Publisher, logger *zap.Logger) *PaymentReconciler {
	return &PaymentReconciler{
		payments:     payments,
		orders:       orders,
		guard:        guard,
		stock:        stock,
		orchestrator: orchestrator,
		bus:          bus,
		logger:       logger,
	}
}

func (r *PaymentReconciler) Apply(ctx context.Context, n dto.PaymentNotification) (Outcome, error) {
	if n.MerchantOrderID == "" {
		return Outcome{}, fmt.Errorf("%w: notification has no merchant order id", ErrValidation)
	}

	adm, err := r.guard.Admit(ctx, repository.PaymentsCollection, n.MerchantOrderID, n.EventID)
	if err != nil {
		return Outcome{}, err
	}
	if adm.Duplicate {
		r.logger.Info("duplicate payment event",
			zap.String("provider", n.Provider),
			zap.String("merchant_order_id", n.MerchantOrderID),
			zap.String("event_id", n.EventID),
		)
		return Outcome{Duplicate: true}, nil
	}

	out, err := r.apply(ctx, n)
	if err != nil || out.Ignored {
		r.guard.Release(ctx, repository.PaymentsCollection, n.MerchantOrderID, n.EventID)
	}
	return out, err
}

func (r *PaymentReconciler) apply(ctx context.Context, n dto.PaymentNotification) (Outcome, error) {
	p, err := r.payments.FindByProviderOrderID(ctx, n.MerchantOrderID)
	if errors.Is(err, repository.ErrNotFound) {
		// The webhook raced ahead of checkout; acknowledge so the gateway
		// does not retry forever.
		r.logger.Info("payment not found for notification",
			zap.String("provider", n.Provider),
			zap.String("merchant_order_id", n.MerchantOrderID),
		)
		return Outcome{Ignored: true, Reason: "payment not found"}, nil
	}
	if err != nil {
		return Outcome{}, fmt.Errorf("find payment: %w", err)
	}

	now := utcNow()
	status, known := NormalizePaymentState(n.ProviderState)
	if !known {
		r.logger.Warn("unmapped gateway state, treating as pending",
			zap.String("provider", n.Provider),
			zap.String("state", n.ProviderState),
			zap.String("payment_id", p.ID),
		)
	}

	upd := model.PaymentUpdate{
		Status:         status,
		ProviderStatus: n.ProviderState,
		TransactionID:  n.TransactionID,
		Instrument:     n.Instrument,
		Events: []model.PaymentEvent{
			{Provider: n.Provider, Event: n.ProviderState, Payload: n.RawPayload, ReceivedAt: now},
		},
		UpdatedAt: now,
	}

	changed := p.Status != status
	if changed {
		if err := statemachine.Check(statemachine.Payment, p.Status, status); err != nil {
			r.logger.Warn("payment transition violation applied from gateway",
				zap.String("payment_id", p.ID),
				zap.String("provider", n.Provider),
				zap.Error(err),
			)
			upd.Events = append(upd.Events, model.PaymentEvent{
				Provider: n.Provider, Event: "transition_violation", Payload: err.Error(), ReceivedAt: now,
			})
		}
	}

	if err := r.payments.ApplyUpdate(ctx, p.ID, upd); err != nil {
		return Outcome{}, fmt.Errorf("apply payment update: %w", err)
	}

	if m, ok := model.MilestoneFor(status); ok {
		at := n.OccurredAt
		if at.IsZero() {
			at = now
		}
		if _, err := r.payments.SetMilestone(ctx, p.ID, m, at); err != nil {
			return Outcome{}, fmt.Errorf("set %s: %w", m, err)
		}
	}

	r.logger.Info("payment reconciled",
		zap.String("payment_id", p.ID),
		zap.String("provider", n.Provider),
		zap.String("from", string(p.Status)),
		zap.String("to", string(status)),
	)

	// Completion side effects are idempotent, so they run on every completed
	// notification. A redelivery can then finish what a crash interrupted.
	var sideErr error
	if status == model.PaymentCompleted {
		p.Status = status
		if n.TransactionID != "" {
			p.ProviderTransactionID = n.TransactionID
		}
		sideErr = r.onCompleted(ctx, p, now)
	}

	// The payment change is committed at this point and a redelivery will
	// see it as unchanged, so the event goes out even if side effects failed.
	if changed {
		r.emit(ctx, p, status)
	}
	if sideErr != nil {
		return Outcome{Updated: changed}, sideErr
	}
	return Outcome{Updated: changed}, nil
}

func (r *PaymentReconciler) onCompleted(ctx context.Context, p *model.Payment, now time.Time) error {
	order, err := r.ensureOrder(ctx, p, now)
	if err != nil {
		return err
	}
	if order == nil {
		r.logger.Warn("completed payment has no order and no snapshot", zap.String("payment_id", p.ID))
		return nil
	}

	if order.Status == model.OrderNew || order.Status == model.OrderProcessing {
		if err := statemachine.Check(statemachine.Order, order.Status, model.OrderPaid); err != nil {
			r.logger.Warn("order promoted to paid outside the transition table",
				zap.String("order_id", order.ID),
				zap.Error(err),
			)
		}
		rec := model.StatusRecord{
			Status:    model.OrderPaid,
			Source:    sourcePaymentWebhook,
			Reason:    "payment " + p.ID + " completed",
			Timestamp: now,
		}
		if _, err := r.orders.UpdateStatus(ctx, order.ID, model.OrderPaid, rec, model.OrderNew, model.OrderProcessing); err != nil {
			return fmt.Errorf("promote order: %w", err)
		}
		// Re-read: a concurrent notification may have moved it further.
		if order, err = r.orders.FindByID(ctx, order.ID); err != nil {
			return fmt.Errorf("reload order: %w", err)
		}
	}

	switch order.Status {
	case model.OrderPaid, model.OrderPaidButShipmentFailed:
	default:
		r.logger.Info("order past payment, skipping fulfilment",
			zap.String("order_id", order.ID),
			zap.String("status", string(order.Status)),
		)
		return nil
	}

	if _, err := r.stock.Adjust(ctx, order); err != nil {
		return err
	}

	// paid_but_shipment_failed already has a placeholder owned by the retry worker.
	if order.Status != model.OrderPaid {
		return nil
	}
	if _, err := r.orchestrator.CreateForOrder(ctx, order); err != nil {
		return fmt.Errorf("create shipment: %w", err)
	}
	return nil
}

// ensureOrder returns the payment's order, creating it from the payment's
// snapshot when checkout deferred order creation. It returns nil without an
// error when there is neither.
func (r *PaymentReconciler) ensureOrder(ctx context.Context, p *model.Payment, now time.Time) (*model.Order, error) {
	if p.OrderID != "" {
		o, err := r.orders.FindByID(ctx, p.OrderID)
		if err == nil {
			return o, nil
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("find order: %w", err)
		}
	}
	if p.OrderSnapshot == nil {
		return nil, nil
	}

	draft := OrderFromDraft(p.OrderSnapshot, now)
	draft.SourcePaymentID = p.ID
	o, err := r.orders.UpsertFromPayment(ctx, p.ID, draft)
	if err != nil {
		return nil, fmt.Errorf("create order from payment: %w", err)
	}
	if err := r.payments.LinkOrder(ctx, p.ID, o.ID); err != nil {
		return nil, fmt.Errorf("link order: %w", err)
	}
	p.OrderID = o.ID

	if o.ID == draft.ID {
		r.logger.Info("order created from payment snapshot",
			zap.String("order_id", o.ID),
			zap.String("payment_id", p.ID),
		)
		publish(ctx, r.bus, events.Event{
			Name:    events.OrderPlaced,
			OrderID: o.ID,
			UserID:  o.UserID,
			Attributes: map[string]string{
				"orderNumber": o.OrderNumber,
				"paymentId":   p.ID,
			},
		})
	}
	return o, nil
}

// OrderFromDraft builds a deferred order. Checkout already happened, so it
// starts in processing with that step recorded.
func OrderFromDraft(d *model.OrderDraft, now time.Time) *model.Order {
	items := make([]model.OrderItem, len(d.Items))
	copy(items, d.Items)
	return &model.Order{
		ID:            uuid.NewString(),
		OrderNumber:   d.OrderNumber,
		UserID:        d.UserID,
		Status:        model.OrderProcessing,
		Items:         items,
		Customer:      d.Customer,
		Shipping:      d.Shipping,
		PaymentMethod: d.PaymentMethod,
		TotalAmount:   d.TotalAmount,
		StatusHistory: []model.StatusRecord{
			{Status: model.OrderProcessing, Source: sourcePaymentWebhook, Reason: "created from payment snapshot", Timestamp: now},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func (r *PaymentReconciler) emit(ctx context.Context, p *model.Payment, status model.PaymentStatus) {
	var name events.Name
	switch status {
	case model.PaymentCompleted:
		name = events.PaymentCompleted
	case model.PaymentFailed:
		name = events.PaymentFailed
	case model.PaymentRefunded:
		name = events.PaymentRefunded
	default:
		return
	}
	publish(ctx, r.bus, events.Event{
		Name:      name,
		OrderID:   p.OrderID,
		PaymentID: p.ID,
		UserID:    p.UserID,
		Attributes: map[string]string{
			"provider": p.Provider,
			"amount":   fmt.Sprintf("%d", p.Amount),
			"currency": p.Currency,
		},
	})
}
