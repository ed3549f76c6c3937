package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"order-lifecycle-service/internal/events"
	"order-lifecycle-service/internal/model"
	"order-lifecycle-service/internal/repository"
	"order-lifecycle-service/internal/statemachine"

	"go.uber.org/zap"
)

const sourceAdmin = "admin"

// AdminService holds the admin-initiated transitions. Every one of them is
// checked against the transition tables before anything is written.
type AdminService struct {
	orders    OrderRepository
	shipments ShipmentRepository
	carrier   Carrier
	bus       events.Publisher
	timeout   time.Duration
	logger    *zap.Logger
}

func NewAdminService(orders OrderRepository, shipments ShipmentRepository, c Carrier, bus events.Publisher, timeout time.Duration, logger *zap.Logger) *AdminService {
	return &AdminService{
		orders:    orders,
		shipments: shipments,
		carrier:   c,
		bus:       bus,
		timeout:   timeout,
		logger:    logger,
	}
}

func (a *AdminService) GetOrder(ctx context.Context, id string) (*model.Order, error) {
	return a.orders.FindByID(ctx, id)
}

// FailedShipments lists placeholders still waiting for the carrier.
func (a *AdminService) FailedShipments(ctx context.Context, limit int64) ([]*model.Shipment, error) {
	return a.shipments.ListAwaitingCarrier(ctx, limit)
}

// CancelShipment cancels a live shipment with the carrier and locally, then
// cancels its order when that is still legal.
func (a *AdminService) CancelShipment(ctx context.Context, shipmentID, actor string) (*model.Shipment, error) {
	s, err := a.shipments.FindByID(ctx, shipmentID)
	if err != nil {
		return nil, err
	}
	if s.AwaitingCarrier() {
		return nil, fmt.Errorf("%w: shipment %s was never created with the carrier", ErrValidation, s.ID)
	}
	if err := statemachine.Check(statemachine.Shipment, s.Status, model.ShipmentCancelled); err != nil {
		return nil, err
	}

	if s.CarrierOrderID != "" {
		callCtx := ctx
		if a.timeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, a.timeout)
			defer cancel()
		}
		if err := a.carrier.CancelOrder(callCtx, s.CarrierOrderID); err != nil {
			return nil, fmt.Errorf("%w: cancel with carrier: %v", ErrUpstream, err)
		}
	}

	now := utcNow()
	ev := model.ShipmentEvent{Source: sourceAdmin, Event: "cancelled", Status: string(model.ShipmentCancelled), Payload: "by " + actor, ReceivedAt: now}
	moved, err := a.shipments.UpdateStatus(ctx, s.ID, s.Status, model.ShipmentCancelled, ev)
	if err != nil {
		return nil, fmt.Errorf("cancel shipment: %w", err)
	}
	if !moved {
		return nil, fmt.Errorf("%w: shipment %s changed concurrently", ErrConflict, s.ID)
	}
	s.Status = model.ShipmentCancelled
	s.EventHistory = append(s.EventHistory, ev)

	order, err := a.orders.FindByID(ctx, s.OrderID)
	if err != nil {
		return s, fmt.Errorf("find order: %w", err)
	}
	if statemachine.IsLegal(statemachine.Order, order.Status, model.OrderCancelled) {
		rec := model.StatusRecord{Status: model.OrderCancelled, Source: sourceAdmin, Reason: "shipment cancelled by " + actor, Timestamp: now}
		changed, err := a.orders.UpdateStatus(ctx, order.ID, model.OrderCancelled, rec, order.Status)
		if err != nil {
			return s, fmt.Errorf("cancel order: %w", err)
		}
		if changed {
			publish(ctx, a.bus, events.Event{Name: events.OrderCancelled, OrderID: order.ID, ShipmentID: s.ID, UserID: order.UserID})
		}
	}

	a.logger.Info("shipment cancelled", zap.String("shipment_id", s.ID), zap.String("actor", actor))
	return s, nil
}

// DeliverOrder marks an order delivered by hand, together with its shipment
// when that move is legal.
func (a *AdminService) DeliverOrder(ctx context.Context, orderID, actor string) (*model.Order, error) {
	order, err := a.orders.FindByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if err := statemachine.Check(statemachine.Order, order.Status, model.OrderDelivered); err != nil {
		return nil, err
	}

	now := utcNow()
	rec := model.StatusRecord{Status: model.OrderDelivered, Source: sourceAdmin, Reason: "delivered by " + actor, Timestamp: now}
	changed, err := a.orders.UpdateStatus(ctx, order.ID, model.OrderDelivered, rec, order.Status)
	if err != nil {
		return nil, fmt.Errorf("deliver order: %w", err)
	}
	if !changed {
		return nil, fmt.Errorf("%w: order %s changed concurrently", ErrConflict, order.ID)
	}
	order.Status = model.OrderDelivered
	order.StatusHistory = append(order.StatusHistory, rec)

	s, err := a.shipments.FindByOrderID(ctx, order.ID)
	switch {
	case errors.Is(err, repository.ErrNotFound):
	case err != nil:
		return order, fmt.Errorf("find shipment: %w", err)
	case !s.AwaitingCarrier() && statemachine.IsLegal(statemachine.Shipment, s.Status, model.ShipmentDelivered):
		ev := model.ShipmentEvent{Source: sourceAdmin, Event: "delivered", Status: string(model.ShipmentDelivered), Payload: "by " + actor, ReceivedAt: now}
		if _, err := a.shipments.UpdateStatus(ctx, s.ID, s.Status, model.ShipmentDelivered, ev); err != nil {
			return order, fmt.Errorf("deliver shipment: %w", err)
		}
	}

	publish(ctx, a.bus, events.Event{Name: events.OrderDelivered, OrderID: order.ID, UserID: order.UserID})
	a.logger.Info("order delivered by admin", zap.String("order_id", order.ID), zap.String("actor", actor))
	return order, nil
}
