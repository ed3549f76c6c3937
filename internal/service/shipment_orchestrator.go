package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"order-lifecycle-service/internal/carrier"
	"order-lifecycle-service/internal/model"
	"order-lifecycle-service/internal/repository"
	"order-lifecycle-service/internal/statemachine"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// MaxShipmentAttempts is how many automatic carrier retries a failed
	// shipment gets before it waits for an admin.
	MaxShipmentAttempts = 5

	firstRetryDelay = 5 * time.Minute
	maxRetryDelay   = 60 * time.Minute

	sourceOrchestrator = "orchestrator"
)

// Backoff is the delay before the next carrier attempt after retryCount
// failed retries: 5, 10, 20, 40 and then 60 minutes.
func Backoff(retryCount int) time.Duration {
	if retryCount < 0 {
		retryCount = 0
	}
	d := firstRetryDelay
	for i := 0; i < retryCount; i++ {
		d *= 2
		if d >= maxRetryDelay {
			return maxRetryDelay
		}
	}
	return d
}

type OrchestratorOptions struct {
	// Timeout bounds every carrier call. Zero means the caller's context only.
	Timeout time.Duration
	// AutoAWB requests AWB assignment and pickup after creation.
	AutoAWB bool
}

// ShipmentOrchestrator creates the carrier shipment for a paid order. When the
// carrier refuses, the order is isolated in paid_but_shipment_failed and a
// failed placeholder keeps the retry schedule.
type ShipmentOrchestrator struct {
	shipments ShipmentRepository
	orders    OrderRepository
	carrier   Carrier
	opts      OrchestratorOptions
	logger    *zap.Logger
	now       func() time.Time
}

func NewShipmentOrchestrator(shipments ShipmentRepository, orders OrderRepository, c Carrier, opts OrchestratorOptions, logger *zap.Logger) *ShipmentOrchestrator {
	return &ShipmentOrchestrator{
		shipments: shipments,
		orders:    orders,
		carrier:   c,
		opts:      opts,
		logger:    logger,
		now:       utcNow,
	}
}

// CreateForOrder returns the order's shipment, creating it with the carrier
// if none exists. A carrier failure is not returned as an error: the returned
// shipment is then a failed placeholder.
func (o *ShipmentOrchestrator) CreateForOrder(ctx context.Context, order *model.Order) (*model.Shipment, error) {
	existing, err := o.shipments.FindByOrderID(ctx, order.ID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("find shipment: %w", err)
	}

	now := o.now()
	details, callErr := o.createWithCarrier(ctx, order)
	if callErr != nil {
		return o.isolate(ctx, order, callErr, now)
	}

	s := &model.Shipment{
		ID:                uuid.NewString(),
		OrderID:           order.ID,
		Status:            model.ShipmentNew,
		CarrierOrderID:    details.CarrierOrderID,
		CarrierShipmentID: details.CarrierShipmentID,
		AWBNumber:         details.AWBNumber,
		CourierName:       details.CourierName,
		TrackingURL:       details.TrackingURL,
		EventHistory: []model.ShipmentEvent{
			{Source: sourceOrchestrator, Event: "carrier_created", Status: string(model.ShipmentNew), ReceivedAt: now},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := o.shipments.Insert(ctx, s); err != nil {
		if errors.Is(err, repository.ErrAlreadyExists) {
			// A concurrent creation won; its carrier order is the one we track.
			o.logger.Warn("shipment created concurrently, carrier order may be duplicated",
				zap.String("order_id", order.ID),
				zap.String("carrier_order_id", details.CarrierOrderID),
			)
			return o.shipments.FindByOrderID(ctx, order.ID)
		}
		return nil, fmt.Errorf("insert shipment: %w", err)
	}

	o.logger.Info("shipment created",
		zap.String("order_id", order.ID),
		zap.String("shipment_id", s.ID),
		zap.String("awb", s.AWBNumber),
	)
	o.followUp(ctx, s)
	return s, nil
}

func (o *ShipmentOrchestrator) isolate(ctx context.Context, order *model.Order, callErr error, now time.Time) (*model.Shipment, error) {
	o.logger.Warn("carrier shipment creation failed, isolating order",
		zap.String("order_id", order.ID),
		zap.Error(callErr),
	)

	rec := model.StatusRecord{
		Status:    model.OrderPaidButShipmentFailed,
		Source:    sourceOrchestrator,
		Reason:    callErr.Error(),
		Timestamp: now,
	}
	if _, err := o.orders.UpdateStatus(ctx, order.ID, model.OrderPaidButShipmentFailed, rec, model.OrderPaid); err != nil {
		return nil, fmt.Errorf("isolate order: %w", err)
	}

	s := &model.Shipment{
		ID:      uuid.NewString(),
		OrderID: order.ID,
		Failure: &model.ShipmentFailure{
			RetryCount:     0,
			LastError:      callErr.Error(),
			NextRetryAfter: now.Add(Backoff(0)),
			FailedAt:       now,
		},
		EventHistory: []model.ShipmentEvent{
			{Source: sourceOrchestrator, Event: "carrier_create_failed", Payload: callErr.Error(), ReceivedAt: now},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := o.shipments.Insert(ctx, s); err != nil {
		if errors.Is(err, repository.ErrAlreadyExists) {
			return o.shipments.FindByOrderID(ctx, order.ID)
		}
		return nil, fmt.Errorf("insert failed shipment: %w", err)
	}
	return s, nil
}

// RetryFailed re-drives the carrier call for one failed placeholder. A
// carrier failure is recorded with the next backoff and returned wrapped in
// ErrUpstream.
func (o *ShipmentOrchestrator) RetryFailed(ctx context.Context, s *model.Shipment) error {
	if !s.AwaitingCarrier() {
		return nil
	}
	attempts := s.Failure.RetryCount
	now := o.now()

	order, err := o.orders.FindByID(ctx, s.OrderID)
	if errors.Is(err, repository.ErrNotFound) {
		return o.abandon(ctx, s, "order not found", now)
	}
	if err != nil {
		return fmt.Errorf("find order: %w", err)
	}
	if statemachine.IsTerminal(statemachine.Order, order.Status) {
		return o.abandon(ctx, s, "order is "+string(order.Status), now)
	}

	details, callErr := o.createWithCarrier(ctx, order)
	if callErr != nil {
		next := attempts + 1
		f := model.ShipmentFailure{
			RetryCount:     next,
			LastError:      callErr.Error(),
			NextRetryAfter: now.Add(Backoff(next)),
			FailedAt:       s.Failure.FailedAt,
		}
		ev := model.ShipmentEvent{Source: sourceOrchestrator, Event: "carrier_retry_failed", Payload: callErr.Error(), ReceivedAt: now}
		ok, err := o.shipments.RecordFailure(ctx, s.ID, attempts, f, ev)
		if err != nil {
			return fmt.Errorf("record shipment failure: %w", err)
		}
		if !ok {
			o.logger.Info("shipment retry raced with another attempt", zap.String("shipment_id", s.ID))
		}
		return fmt.Errorf("%w: %v", ErrUpstream, callErr)
	}

	return o.resolve(ctx, s, order, details, now)
}

// AdminRetry is the manual path: any order that is paid, or may become paid,
// gets its shipment created now. Failures keep the retry count and surface as
// ErrUpstream.
func (o *ShipmentOrchestrator) AdminRetry(ctx context.Context, orderID string) (*model.Shipment, error) {
	order, err := o.orders.FindByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	switch order.Status {
	case model.OrderPaid, model.OrderPaidButShipmentFailed:
	default:
		if err := statemachine.Check(statemachine.Order, order.Status, model.OrderPaid); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: order %s is %s and not paid yet", ErrValidation, order.ID, order.Status)
	}

	s, err := o.shipments.FindByOrderID(ctx, order.ID)
	if errors.Is(err, repository.ErrNotFound) {
		s, err = o.CreateForOrder(ctx, order)
		if err != nil {
			return nil, err
		}
		if s.AwaitingCarrier() {
			return s, fmt.Errorf("%w: %s", ErrUpstream, s.Failure.LastError)
		}
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find shipment: %w", err)
	}
	if !s.AwaitingCarrier() {
		return s, fmt.Errorf("%w: order %s already has shipment %s", ErrConflict, order.ID, s.ID)
	}

	now := o.now()
	details, callErr := o.createWithCarrier(ctx, order)
	if callErr != nil {
		f := *s.Failure
		f.LastError = callErr.Error()
		f.NextRetryAfter = now.Add(Backoff(0))
		ev := model.ShipmentEvent{Source: "admin", Event: "carrier_retry_failed", Payload: callErr.Error(), ReceivedAt: now}
		if _, err := o.shipments.RecordFailure(ctx, s.ID, s.Failure.RetryCount, f, ev); err != nil {
			return nil, fmt.Errorf("record shipment failure: %w", err)
		}
		return s, fmt.Errorf("%w: %v", ErrUpstream, callErr)
	}

	if err := o.resolve(ctx, s, order, details, now); err != nil {
		return nil, err
	}
	return o.shipments.FindByID(ctx, s.ID)
}

func (o *ShipmentOrchestrator) resolve(ctx context.Context, s *model.Shipment, order *model.Order, d model.CarrierDetails, now time.Time) error {
	ev := model.ShipmentEvent{Source: sourceOrchestrator, Event: "carrier_created", Status: string(model.ShipmentNew), ReceivedAt: now}
	ok, err := o.shipments.ResolveFailure(ctx, s.ID, d, ev)
	if err != nil {
		return fmt.Errorf("resolve shipment: %w", err)
	}
	if !ok {
		o.logger.Warn("shipment resolved concurrently", zap.String("shipment_id", s.ID))
		return nil
	}

	rec := model.StatusRecord{Status: model.OrderPaid, Source: sourceOrchestrator, Reason: "shipment created on retry", Timestamp: now}
	if _, err := o.orders.UpdateStatus(ctx, order.ID, model.OrderPaid, rec, model.OrderPaidButShipmentFailed); err != nil {
		return fmt.Errorf("restore order: %w", err)
	}

	o.logger.Info("failed shipment recovered",
		zap.String("order_id", order.ID),
		zap.String("shipment_id", s.ID),
		zap.Int("retry_count", s.Failure.RetryCount),
	)

	resolved := *s
	resolved.Failure = nil
	resolved.Status = model.ShipmentNew
	resolved.CarrierOrderID = d.CarrierOrderID
	resolved.CarrierShipmentID = d.CarrierShipmentID
	resolved.AWBNumber = d.AWBNumber
	resolved.CourierName = d.CourierName
	resolved.TrackingURL = d.TrackingURL
	o.followUp(ctx, &resolved)
	return nil
}

func (o *ShipmentOrchestrator) abandon(ctx context.Context, s *model.Shipment, reason string, now time.Time) error {
	f := *s.Failure
	f.RetryCount = MaxShipmentAttempts
	f.LastError = reason
	ev := model.ShipmentEvent{Source: sourceOrchestrator, Event: "retry_abandoned", Payload: reason, ReceivedAt: now}
	if _, err := o.shipments.RecordFailure(ctx, s.ID, s.Failure.RetryCount, f, ev); err != nil {
		return fmt.Errorf("abandon shipment: %w", err)
	}
	o.logger.Info("shipment retry abandoned", zap.String("shipment_id", s.ID), zap.String("reason", reason))
	return nil
}

func (o *ShipmentOrchestrator) createWithCarrier(ctx context.Context, order *model.Order) (model.CarrierDetails, error) {
	if o.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.opts.Timeout)
		defer cancel()
	}
	return o.carrier.CreateShipment(ctx, order)
}

// followUp requests AWB and pickup. Failures are logged and never undo the
// shipment.
func (o *ShipmentOrchestrator) followUp(ctx context.Context, s *model.Shipment) {
	if !o.opts.AutoAWB || s.CarrierShipmentID == "" {
		return
	}

	if o.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.opts.Timeout)
		defer cancel()
	}

	if s.AWBNumber == "" {
		awb, courier, err := o.carrier.AssignAWB(ctx, s.CarrierShipmentID)
		if err != nil {
			o.logger.Warn("awb assignment failed", zap.String("shipment_id", s.ID), zap.Error(err))
			return
		}
		if err := o.shipments.SetAWB(ctx, s.ID, awb, courier, carrier.TrackingURL(awb)); err != nil {
			o.logger.Warn("storing awb failed", zap.String("shipment_id", s.ID), zap.Error(err))
		}
	}

	if err := o.carrier.GeneratePickup(ctx, s.CarrierShipmentID); err != nil {
		o.logger.Warn("pickup scheduling failed", zap.String("shipment_id", s.ID), zap.Error(err))
	}
}
