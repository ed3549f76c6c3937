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

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// MaxRefundAttempts caps the refund worker's tries per request.
const MaxRefundAttempts = 5

type RefundOptions struct {
	// GracePeriod separates approval from execution.
	GracePeriod time.Duration
	// Timeout bounds each gateway call.
	Timeout time.Duration
}

// RefundService runs the admin refund workflow: request, approval with a
// grace window, and execution against the payment's gateway.
type RefundService struct {
	refunds  RefundRequestRepository
	payments PaymentRepository
	gateways RefundGateways
	bus      events.Publisher
	opts     RefundOptions
	logger   *zap.Logger
	now      func() time.Time
}

func NewRefundService(refunds RefundRequestRepository, payments PaymentRepository, gateways RefundGateways, bus events.Publisher, opts RefundOptions, logger *zap.Logger) *RefundService {
	return &RefundService{
		refunds:  refunds,
		payments: payments,
		gateways: gateways,
		bus:      bus,
		opts:     opts,
		logger:   logger,
		now:      utcNow,
	}
}

// Request opens a refund request for a completed payment. Only one open
// request per payment is allowed.
func (s *RefundService) Request(ctx context.Context, paymentID, reason, requestedBy string) (*model.RefundRequest, error) {
	p, err := s.payments.FindByID(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if err := statemachine.Check(statemachine.Payment, p.Status, model.PaymentRefunded); err != nil {
		return nil, err
	}

	open, err := s.refunds.FindOpenByPaymentID(ctx, paymentID)
	if err == nil {
		return nil, fmt.Errorf("%w: refund request %s already open for payment %s", ErrConflict, open.ID, paymentID)
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("find open refund request: %w", err)
	}

	now := s.now()
	req := &model.RefundRequest{
		ID:          uuid.NewString(),
		PaymentID:   p.ID,
		OrderID:     p.OrderID,
		Amount:      p.Amount,
		Reason:      reason,
		Status:      model.RefundPendingApproval,
		RequestedBy: requestedBy,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.refunds.Insert(ctx, req); err != nil {
		return nil, fmt.Errorf("insert refund request: %w", err)
	}
	s.logger.Info("refund requested", zap.String("refund_request_id", req.ID), zap.String("payment_id", p.ID))
	return req, nil
}

func (s *RefundService) Get(ctx context.Context, id string) (*model.RefundRequest, error) {
	return s.refunds.FindByID(ctx, id)
}

// Approve schedules the refund for approval time plus the grace period.
func (s *RefundService) Approve(ctx context.Context, id, approver string) (*model.RefundRequest, error) {
	req, err := s.refunds.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := statemachine.Check(statemachine.RefundRequest, req.Status, model.RefundApproved); err != nil {
		return nil, err
	}

	approvedAt := s.now()
	dueAt := approvedAt.Add(s.opts.GracePeriod)
	ok, err := s.refunds.Approve(ctx, id, approver, approvedAt, dueAt)
	if err != nil {
		return nil, fmt.Errorf("approve refund request: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: refund request %s was approved concurrently", ErrConflict, id)
	}

	req.Status = model.RefundApproved
	req.ApprovedBy = approver
	req.ApprovedAt = &approvedAt
	req.RefundDueAt = &dueAt
	req.UpdatedAt = approvedAt

	s.logger.Info("refund approved",
		zap.String("refund_request_id", id),
		zap.Time("refund_due_at", dueAt),
	)
	return req, nil
}

// RefundNow refunds a payment in full immediately, bypassing the request
// workflow.
func (s *RefundService) RefundNow(ctx context.Context, paymentID, actor string) (*model.Payment, error) {
	p, err := s.payments.FindByID(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if err := statemachine.Check(statemachine.Payment, p.Status, model.PaymentRefunded); err != nil {
		return nil, err
	}

	if err := s.execute(ctx, p, p.Amount, uuid.NewString(), actor); err != nil {
		return nil, err
	}
	return s.payments.FindByID(ctx, paymentID)
}

// ProcessDue executes every approved request whose due time has passed and
// that has attempts left. It returns how many were completed.
func (s *RefundService) ProcessDue(ctx context.Context, limit int64) (int, error) {
	due, err := s.refunds.FindDue(ctx, s.now(), MaxRefundAttempts, limit)
	if err != nil {
		return 0, fmt.Errorf("find due refunds: %w", err)
	}

	done := 0
	for _, req := range due {
		if ctx.Err() != nil {
			return done, ctx.Err()
		}
		if err := s.processOne(ctx, req); err != nil {
			s.logger.Warn("refund attempt failed",
				zap.String("refund_request_id", req.ID),
				zap.Int("attempt", req.AttemptCount+1),
				zap.Error(err),
			)
			continue
		}
		done++
	}
	return done, nil
}

func (s *RefundService) processOne(ctx context.Context, req *model.RefundRequest) error {
	p, err := s.payments.FindByID(ctx, req.PaymentID)
	if err != nil {
		return s.recordFailure(ctx, req, fmt.Errorf("find payment: %w", err))
	}

	if p.Status != model.PaymentRefunded {
		if err := statemachine.Check(statemachine.Payment, p.Status, model.PaymentRefunded); err != nil {
			return s.recordFailure(ctx, req, err)
		}
		if err := s.execute(ctx, p, req.Amount, req.ID, req.ApprovedBy); err != nil {
			return s.recordFailure(ctx, req, err)
		}
	}

	ok, err := s.refunds.MarkCompleted(ctx, req.ID, s.now())
	if err != nil {
		return fmt.Errorf("complete refund request: %w", err)
	}
	if !ok {
		s.logger.Info("refund request completed concurrently", zap.String("refund_request_id", req.ID))
	}
	return nil
}

func (s *RefundService) recordFailure(ctx context.Context, req *model.RefundRequest, cause error) error {
	if _, err := s.refunds.RecordAttemptFailure(ctx, req.ID, req.AttemptCount, cause.Error()); err != nil {
		return fmt.Errorf("record refund failure: %w (after %v)", err, cause)
	}
	return cause
}

// execute calls the gateway and moves the payment completed -> refunded. The
// refund id doubles as the gateway-side idempotency key.
func (s *RefundService) execute(ctx context.Context, p *model.Payment, amount int64, refundID, actor string) error {
	gw, err := s.gateways.For(p.Provider)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}

	callCtx := ctx
	if s.opts.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, s.opts.Timeout)
		defer cancel()
	}
	res, err := gw.Refund(callCtx, p, amount, refundID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUpstream, err)
	}

	now := s.now()
	ev := model.PaymentEvent{
		Provider:   p.Provider,
		Event:      "refund",
		Payload:    fmt.Sprintf("refund_id=%s provider_refund_id=%s state=%s actor=%s", refundID, res.ProviderRefundID, res.State, actor),
		ReceivedAt: now,
	}
	moved, err := s.payments.TransitionStatus(ctx, p.ID, model.PaymentCompleted, model.PaymentRefunded, ev)
	if err != nil {
		return fmt.Errorf("mark payment refunded: %w", err)
	}
	if !moved {
		s.logger.Warn("payment left completed before refund was recorded", zap.String("payment_id", p.ID))
		return nil
	}
	if _, err := s.payments.SetMilestone(ctx, p.ID, model.MilestoneRefunded, now); err != nil {
		return fmt.Errorf("set refunded_at: %w", err)
	}

	s.logger.Info("payment refunded",
		zap.String("payment_id", p.ID),
		zap.String("provider", p.Provider),
		zap.String("amount", decimal.New(amount, -2).StringFixed(2)),
		zap.String("provider_refund_id", res.ProviderRefundID),
	)
	publish(ctx, s.bus, events.Event{
		Name:      events.PaymentRefunded,
		OrderID:   p.OrderID,
		PaymentID: p.ID,
		UserID:    p.UserID,
		Attributes: map[string]string{
			"provider": p.Provider,
			"amount":   fmt.Sprintf("%d", amount),
			"refundId": refundID,
		},
	})
	return nil
}
