package service

import (
	"context"
	"errors"
	"time"

	"order-lifecycle-service/internal/events"
	"order-lifecycle-service/internal/gateway"
	"order-lifecycle-service/internal/model"
)

// Repositories the services depend on. The Mongo implementations live in
// internal/repository.

type PaymentRepository interface {
	Insert(ctx context.Context, p *model.Payment) error
	FindByID(ctx context.Context, id string) (*model.Payment, error)
	FindByProviderOrderID(ctx context.Context, providerOrderID string) (*model.Payment, error)
	ApplyUpdate(ctx context.Context, id string, upd model.PaymentUpdate) error
	SetMilestone(ctx context.Context, id string, milestone model.PaymentMilestone, at time.Time) (bool, error)
	LinkOrder(ctx context.Context, id, orderID string) error
	TransitionStatus(ctx context.Context, id string, from, to model.PaymentStatus, ev model.PaymentEvent) (bool, error)
}

type OrderRepository interface {
	Insert(ctx context.Context, o *model.Order) error
	FindByID(ctx context.Context, id string) (*model.Order, error)
	FindByOrderNumber(ctx context.Context, number string) (*model.Order, error)
	FindByStatus(ctx context.Context, status model.OrderStatus, limit int64) ([]*model.Order, error)
	UpsertFromPayment(ctx context.Context, paymentID string, o *model.Order) (*model.Order, error)
	UpdateStatus(ctx context.Context, id string, status model.OrderStatus, rec model.StatusRecord, from ...model.OrderStatus) (bool, error)
	ClaimStockAdjustment(ctx context.Context, id string, at time.Time) (bool, error)
}

type ShipmentRepository interface {
	Insert(ctx context.Context, s *model.Shipment) error
	FindByID(ctx context.Context, id string) (*model.Shipment, error)
	FindByOrderID(ctx context.Context, orderID string) (*model.Shipment, error)
	FindByAWB(ctx context.Context, awb string) (*model.Shipment, error)
	FindDueForRetry(ctx context.Context, now time.Time, maxAttempts int, limit int64) ([]*model.Shipment, error)
	ListAwaitingCarrier(ctx context.Context, limit int64) ([]*model.Shipment, error)
	ResolveFailure(ctx context.Context, id string, d model.CarrierDetails, ev model.ShipmentEvent) (bool, error)
	RecordFailure(ctx context.Context, id string, expectedRetryCount int, f model.ShipmentFailure, ev model.ShipmentEvent) (bool, error)
	UpdateStatus(ctx context.Context, id string, from, to model.ShipmentStatus, ev model.ShipmentEvent) (bool, error)
	AppendEvent(ctx context.Context, id string, ev model.ShipmentEvent) error
	SetAWB(ctx context.Context, id, awb, courier, trackingURL string) error
}

type RefundRequestRepository interface {
	Insert(ctx context.Context, r *model.RefundRequest) error
	FindByID(ctx context.Context, id string) (*model.RefundRequest, error)
	FindOpenByPaymentID(ctx context.Context, paymentID string) (*model.RefundRequest, error)
	Approve(ctx context.Context, id, approver string, approvedAt, dueAt time.Time) (bool, error)
	FindDue(ctx context.Context, now time.Time, maxAttempts int, limit int64) ([]*model.RefundRequest, error)
	MarkCompleted(ctx context.Context, id string, at time.Time) (bool, error)
	RecordAttemptFailure(ctx context.Context, id string, expectedAttempts int, lastErr string) (bool, error)
}

type ProductRepository interface {
	DecrementStock(ctx context.Context, productID string, qty int) (bool, error)
}

type EventLedger interface {
	Record(ctx context.Context, collection, entityID, eventID string, at time.Time) (bool, error)
	Forget(ctx context.Context, collection, entityID, eventID string) error
}

// Carrier is the logistics API as the orchestrator sees it.
type Carrier interface {
	CreateShipment(ctx context.Context, o *model.Order) (model.CarrierDetails, error)
	AssignAWB(ctx context.Context, carrierShipmentID string) (awb, courier string, err error)
	GeneratePickup(ctx context.Context, carrierShipmentID string) error
	CancelOrder(ctx context.Context, carrierOrderID string) error
}

// RefundGateways resolves the refund client for a payment provider.
type RefundGateways interface {
	For(provider string) (gateway.Refunder, error)
}

// Errores de negocio exportados (los usa el controller)
var (
	ErrValidation = errors.New("validation failed")
	ErrConflict   = errors.New("conflict")
	ErrUpstream   = errors.New("upstream call failed")
)

// Outcome describes what applying an external event did.
type Outcome struct {
	Updated   bool
	Duplicate bool
	Ignored   bool
	Reason    string
}

func utcNow() time.Time {
	return time.Now().UTC()
}

// publish is a nil-safe helper so tests can run without a bus.
func publish(ctx context.Context, bus events.Publisher, e events.Event) {
	if bus != nil {
		bus.Publish(ctx, e)
	}
}
