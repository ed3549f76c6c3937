package service

import (
	"context"
	"errors"
	"fmt"

	"order-lifecycle-service/internal/carrier"
	"order-lifecycle-service/internal/dto"
	"order-lifecycle-service/internal/events"
	"order-lifecycle-service/internal/model"
	"order-lifecycle-service/internal/repository"
	"order-lifecycle-service/internal/statemachine"

	"go.uber.org/zap"
)

// orderStatusFor is the order status a shipment status propagates to. Shipment
// states with no order counterpart are absent.
var orderStatusFor = map[model.ShipmentStatus]model.OrderStatus{
	model.ShipmentShipped:   model.OrderShipped,
	model.ShipmentDelivered: model.OrderDelivered,
	model.ShipmentCancelled: model.OrderCancelled,
	model.ShipmentReturned:  model.OrderReturned,
}

var orderEventFor = map[model.OrderStatus]events.Name{
	model.OrderShipped:   events.OrderShipped,
	model.OrderDelivered: events.OrderDelivered,
	model.OrderCancelled: events.OrderCancelled,
}

// ShipmentReconciler applies carrier tracking notifications. The shipment
// transition is enforced: an illegal jump is rejected without mutation. The
// derived order update is advisory.
type ShipmentReconciler struct {
	shipments ShipmentRepository
	orders    OrderRepository
	guard     *IdempotencyGuard
	bus       events.Publisher
	logger    *zap.Logger
}

func NewShipmentReconciler(shipments ShipmentRepository, orders OrderRepository, guard *IdempotencyGuard, bus events.Publisher, logger *zap.Logger) *ShipmentReconciler {
	return &ShipmentReconciler{
		shipments: shipments,
		orders:    orders,
		guard:     guard,
		bus:       bus,
		logger:    logger,
	}
}

func (r *ShipmentReconciler) Apply(ctx context.Context, n dto.CarrierNotification) (Outcome, error) {
	key := n.AWB
	if key == "" {
		key = n.OrderID
	}
	if key == "" {
		return Outcome{}, fmt.Errorf("%w: notification has neither awb nor order id", ErrValidation)
	}

	adm, err := r.guard.Admit(ctx, repository.ShipmentsCollection, key, n.EventID)
	if err != nil {
		return Outcome{}, err
	}
	if adm.Duplicate {
		r.logger.Info("duplicate carrier event",
			zap.String("carrier", n.Carrier),
			zap.String("awb", n.AWB),
			zap.String("event_id", n.EventID),
		)
		return Outcome{Duplicate: true}, nil
	}

	out, err := r.apply(ctx, n)
	if err != nil || out.Ignored {
		r.guard.Release(ctx, repository.ShipmentsCollection, key, n.EventID)
	}
	return out, err
}

func (r *ShipmentReconciler) apply(ctx context.Context, n dto.CarrierNotification) (Outcome, error) {
	s, err := r.locate(ctx, n)
	if errors.Is(err, repository.ErrNotFound) {
		r.logger.Info("shipment not found for carrier notification",
			zap.String("carrier", n.Carrier),
			zap.String("awb", n.AWB),
			zap.String("order_number", n.OrderID),
		)
		return Outcome{Ignored: true, Reason: "shipment not found"}, nil
	}
	if err != nil {
		return Outcome{}, err
	}

	now := utcNow()
	ev := model.ShipmentEvent{Source: n.Carrier, Event: "tracking", Status: n.Status, Payload: n.RawPayload, ReceivedAt: now}

	if s.AwaitingCarrier() {
		if err := r.shipments.AppendEvent(ctx, s.ID, ev); err != nil {
			return Outcome{}, fmt.Errorf("append shipment event: %w", err)
		}
		return Outcome{Reason: "shipment awaiting carrier creation"}, nil
	}

	if n.AWB != "" && s.AWBNumber == "" {
		if err := r.shipments.SetAWB(ctx, s.ID, n.AWB, n.Courier, carrier.TrackingURL(n.AWB)); err != nil {
			return Outcome{}, fmt.Errorf("store awb: %w", err)
		}
	}

	target, ok := NormalizeCarrierStatus(n.Status)
	if !ok || target == s.Status {
		if err := r.shipments.AppendEvent(ctx, s.ID, ev); err != nil {
			return Outcome{}, fmt.Errorf("append shipment event: %w", err)
		}
		if !ok {
			r.logger.Info("unmapped carrier status", zap.String("status", n.Status), zap.String("shipment_id", s.ID))
			return Outcome{Reason: "unmapped carrier status"}, nil
		}
		// Finishes an order update an earlier delivery could not make.
		if err := r.propagate(ctx, s, target, n.Carrier); err != nil {
			return Outcome{}, err
		}
		return Outcome{Reason: "status unchanged"}, nil
	}

	if err := statemachine.Check(statemachine.Shipment, s.Status, target); err != nil {
		r.logger.Warn("carrier notification rejected",
			zap.String("carrier", n.Carrier),
			zap.String("shipment_id", s.ID),
			zap.String("payload", n.RawPayload),
			zap.Error(err),
		)
		return Outcome{}, err
	}

	ev.Status = string(target)
	moved, err := r.shipments.UpdateStatus(ctx, s.ID, s.Status, target, ev)
	if err != nil {
		return Outcome{}, fmt.Errorf("update shipment: %w", err)
	}
	if !moved {
		return Outcome{}, fmt.Errorf("%w: shipment %s changed while applying %s", ErrConflict, s.ID, target)
	}

	r.logger.Info("shipment reconciled",
		zap.String("shipment_id", s.ID),
		zap.String("from", string(s.Status)),
		zap.String("to", string(target)),
	)

	if err := r.propagate(ctx, s, target, n.Carrier); err != nil {
		return Outcome{Updated: true}, err
	}
	return Outcome{Updated: true}, nil
}

func (r *ShipmentReconciler) locate(ctx context.Context, n dto.CarrierNotification) (*model.Shipment, error) {
	if n.AWB != "" {
		s, err := r.shipments.FindByAWB(ctx, n.AWB)
		if err == nil || !errors.Is(err, repository.ErrNotFound) {
			return s, err
		}
	}
	if n.OrderID == "" {
		return nil, repository.ErrNotFound
	}
	o, err := r.orders.FindByOrderNumber(ctx, n.OrderID)
	if err != nil {
		return nil, err
	}
	return r.shipments.FindByOrderID(ctx, o.ID)
}

func (r *ShipmentReconciler) propagate(ctx context.Context, s *model.Shipment, target model.ShipmentStatus, source string) error {
	next, ok := orderStatusFor[target]
	if !ok {
		return nil
	}

	order, err := r.orders.FindByID(ctx, s.OrderID)
	if err != nil {
		return fmt.Errorf("find order: %w", err)
	}
	if order.Status == next {
		return nil
	}
	if err := statemachine.Check(statemachine.Order, order.Status, next); err != nil {
		r.logger.Warn("order transition violation applied from carrier",
			zap.String("order_id", order.ID),
			zap.Error(err),
		)
	}

	rec := model.StatusRecord{
		Status:    next,
		Source:    source,
		Reason:    "shipment " + string(target),
		Timestamp: utcNow(),
	}
	changed, err := r.orders.UpdateStatus(ctx, order.ID, next, rec)
	if err != nil {
		return fmt.Errorf("update order: %w", err)
	}
	if !changed {
		// Terminal orders never move.
		r.logger.Info("order not updated from shipment",
			zap.String("order_id", order.ID),
			zap.String("status", string(order.Status)),
		)
		return nil
	}

	if name, ok := orderEventFor[next]; ok {
		publish(ctx, r.bus, events.Event{
			Name:       name,
			OrderID:    order.ID,
			ShipmentID: s.ID,
			UserID:     order.UserID,
			Attributes: map[string]string{
				"orderNumber": order.OrderNumber,
				"awb":         s.AWBNumber,
				"trackingUrl": s.TrackingURL,
			},
		})
	}
	return nil
}
