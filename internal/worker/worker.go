// Package worker runs the periodic passes that finish work webhooks and admin
// calls could not: shipment creation retries and due refunds.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"order-lifecycle-service/internal/model"
	"order-lifecycle-service/internal/service"

	"go.uber.org/zap"
)

const defaultBatch = 100

type DueShipments interface {
	FindDueForRetry(ctx context.Context, now time.Time, maxAttempts int, limit int64) ([]*model.Shipment, error)
}

type ShipmentRetrier interface {
	RetryFailed(ctx context.Context, s *model.Shipment) error
}

type RetryResult struct {
	Attempted int
	Recovered int
	Failed    int
}

// ShipmentRetryWorker retries carrier creation for placeholders whose backoff
// has elapsed. Each attempt updates the placeholder atomically, so two
// overlapping passes at worst repeat a carrier call.
type ShipmentRetryWorker struct {
	shipments DueShipments
	retrier   ShipmentRetrier
	batch     int64
	logger    *zap.Logger
	now       func() time.Time
}

func NewShipmentRetryWorker(shipments DueShipments, retrier ShipmentRetrier, batch int64, logger *zap.Logger) *ShipmentRetryWorker {
	if batch <= 0 {
		batch = defaultBatch
	}
	return &ShipmentRetryWorker{
		shipments: shipments,
		retrier:   retrier,
		batch:     batch,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (w *ShipmentRetryWorker) RunOnce(ctx context.Context) (RetryResult, error) {
	var res RetryResult
	due, err := w.shipments.FindDueForRetry(ctx, w.now(), service.MaxShipmentAttempts, w.batch)
	if err != nil {
		return res, fmt.Errorf("find due shipments: %w", err)
	}

	for _, s := range due {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		res.Attempted++
		if err := w.retrier.RetryFailed(ctx, s); err != nil {
			res.Failed++
			lvl := w.logger.Warn
			if !errors.Is(err, service.ErrUpstream) {
				lvl = w.logger.Error
			}
			lvl("shipment retry failed",
				zap.String("shipment_id", s.ID),
				zap.String("order_id", s.OrderID),
				zap.Int("retry_count", retryCount(s)),
				zap.Error(err),
			)
			continue
		}
		res.Recovered++
	}

	if res.Attempted > 0 {
		w.logger.Info("shipment retry pass finished",
			zap.Int("attempted", res.Attempted),
			zap.Int("recovered", res.Recovered),
			zap.Int("failed", res.Failed),
		)
	}
	return res, nil
}

func retryCount(s *model.Shipment) int {
	if s.Failure == nil {
		return 0
	}
	return s.Failure.RetryCount
}

type RefundProcessor interface {
	ProcessDue(ctx context.Context, limit int64) (int, error)
}

// RefundWorker executes approved refunds whose grace period has passed.
type RefundWorker struct {
	refunds RefundProcessor
	batch   int64
	logger  *zap.Logger
}

func NewRefundWorker(refunds RefundProcessor, batch int64, logger *zap.Logger) *RefundWorker {
	if batch <= 0 {
		batch = defaultBatch
	}
	return &RefundWorker{refunds: refunds, batch: batch, logger: logger}
}

func (w *RefundWorker) RunOnce(ctx context.Context) (int, error) {
	done, err := w.refunds.ProcessDue(ctx, w.batch)
	if err != nil {
		return done, fmt.Errorf("process due refunds: %w", err)
	}
	if done > 0 {
		w.logger.Info("refund pass finished", zap.Int("completed", done))
	}
	return done, nil
}

// Job is one named periodic pass.
type Job struct {
	Name string
	Run  func(ctx context.Context) error
}

// Runner fires every job on a fixed interval, once right away and then on
// each tick. Jobs run one after another so a slow pass delays the next tick
// instead of overlapping it.
type Runner struct {
	interval time.Duration
	jobs     []Job
	logger   *zap.Logger
}

func NewRunner(interval time.Duration, logger *zap.Logger, jobs ...Job) *Runner {
	return &Runner{interval: interval, jobs: jobs, logger: logger}
}

// Run blocks until ctx is cancelled. Job errors are logged, never returned.
func (r *Runner) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			r.tick(ctx)
		}
	}
}

func (r *Runner) tick(ctx context.Context) {
	for _, j := range r.jobs {
		if ctx.Err() != nil {
			return
		}
		if err := j.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			r.logger.Error("worker job failed", zap.String("job", j.Name), zap.Error(err))
		}
	}
}

// ShipmentRetryJob and RefundJob adapt the workers to the runner.
func ShipmentRetryJob(w *ShipmentRetryWorker) Job {
	return Job{Name: "shipment-retry", Run: func(ctx context.Context) error {
		_, err := w.RunOnce(ctx)
		return err
	}}
}

func RefundJob(w *RefundWorker) Job {
	return Job{Name: "refund", Run: func(ctx context.Context) error {
		_, err := w.RunOnce(ctx)
		return err
	}}
}
