package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"order-lifecycle-service/internal/events"
	"order-lifecycle-service/internal/gateway"
	"order-lifecycle-service/internal/model"
	"order-lifecycle-service/internal/statemachine"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestRefundNow_PendingPaymentIsIllegal(t *testing.T) {
	env := newTestEnv()
	seedPayment(env.store, "p1", "MT1", "o1", model.PaymentPending)

	_, err := env.refunds.RefundNow(context.Background(), "p1", "admin-1")

	var illegal *statemachine.IllegalTransitionError
	require.ErrorAs(t, err, &illegal)
	assert.Equal(t, "illegal payment transition: pending -> refunded", err.Error())
	env.refunder.AssertNotCalled(t, "Refund", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	assert.Equal(t, model.PaymentPending, env.store.payments["p1"].Status)
}

func TestRefundNow_Completed(t *testing.T) {
	env := newTestEnv()
	seedPayment(env.store, "p1", "MT1", "o1", model.PaymentCompleted)
	env.refunder.On("Refund", mock.Anything, mock.Anything, int64(104700), mock.Anything).
		Return(&gateway.RefundResult{ProviderRefundID: "R1", State: "COMPLETED"}, nil).Once()

	p, err := env.refunds.RefundNow(context.Background(), "p1", "admin-1")
	require.NoError(t, err)
	assert.Equal(t, model.PaymentRefunded, p.Status)
	assert.NotNil(t, p.RefundedAt)
	assert.Equal(t, []events.Name{events.PaymentRefunded}, env.bus.names())
}

func TestRefundNow_GatewayFailure(t *testing.T) {
	env := newTestEnv()
	seedPayment(env.store, "p1", "MT1", "o1", model.PaymentCompleted)
	env.refunder.On("Refund", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(nil, errors.New("503")).Once()

	_, err := env.refunds.RefundNow(context.Background(), "p1", "admin-1")
	assert.ErrorIs(t, err, ErrUpstream)
	assert.Equal(t, model.PaymentCompleted, env.store.payments["p1"].Status)
}

func TestRefundRequest_GraceWindow(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	seedPayment(env.store, "p1", "MT1", "o1", model.PaymentCompleted)

	approvedAt := time.Date(2026, 7, 1, 9, 30, 0, 0, time.UTC)
	now := approvedAt
	env.refunds.now = func() time.Time { return now }

	req, err := env.refunds.Request(ctx, "p1", "damaged", "ops-1")
	require.NoError(t, err)
	assert.Equal(t, model.RefundPendingApproval, req.Status)

	req, err = env.refunds.Approve(ctx, req.ID, "admin-1")
	require.NoError(t, err)
	require.NotNil(t, req.RefundDueAt)
	assert.True(t, req.RefundDueAt.Equal(approvedAt.Add(72*time.Hour)))

	now = approvedAt.Add(72*time.Hour - time.Nanosecond)
	done, err := env.refunds.ProcessDue(ctx, 0)
	require.NoError(t, err)
	assert.Zero(t, done)
	env.refunder.AssertNotCalled(t, "Refund", mock.Anything, mock.Anything, mock.Anything, mock.Anything)

	env.refunder.On("Refund", mock.Anything, mock.Anything, int64(104700), req.ID).
		Return(&gateway.RefundResult{ProviderRefundID: "R1"}, nil).Once()
	now = approvedAt.Add(72 * time.Hour)
	done, err = env.refunds.ProcessDue(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, done)

	assert.Equal(t, model.RefundCompleted, env.store.refunds[req.ID].Status)
	assert.Equal(t, model.PaymentRefunded, env.store.payments["p1"].Status)
	assert.True(t, env.store.payments["p1"].RefundedAt.Equal(now))
}

func TestRefundRequest_AttemptCap(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	seedPayment(env.store, "p1", "MT1", "o1", model.PaymentCompleted)
	env.refunder.On("Refund", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(nil, errors.New("gateway down"))

	req, err := env.refunds.Request(ctx, "p1", "", "ops-1")
	require.NoError(t, err)
	_, err = env.refunds.Approve(ctx, req.ID, "admin-1")
	require.NoError(t, err)
	env.refunds.now = func() time.Time { return time.Now().UTC().Add(73 * time.Hour) }

	for i := 0; i < MaxRefundAttempts+2; i++ {
		done, err := env.refunds.ProcessDue(ctx, 0)
		require.NoError(t, err)
		assert.Zero(t, done)
	}

	r := env.store.refunds[req.ID]
	assert.Equal(t, model.RefundApproved, r.Status)
	assert.Equal(t, MaxRefundAttempts, r.AttemptCount)
	assert.Contains(t, r.LastError, "gateway down")
	env.refunder.AssertNumberOfCalls(t, "Refund", MaxRefundAttempts)
}

func TestRefundRequest_AlreadyRefundedCompletes(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	seedPayment(env.store, "p1", "MT1", "o1", model.PaymentCompleted)

	req, err := env.refunds.Request(ctx, "p1", "", "ops-1")
	require.NoError(t, err)
	_, err = env.refunds.Approve(ctx, req.ID, "admin-1")
	require.NoError(t, err)

	// The gateway reported the refund by webhook in the meantime.
	env.store.payments["p1"].Status = model.PaymentRefunded
	env.refunds.now = func() time.Time { return time.Now().UTC().Add(73 * time.Hour) }

	done, err := env.refunds.ProcessDue(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, done)
	assert.Equal(t, model.RefundCompleted, env.store.refunds[req.ID].Status)
	env.refunder.AssertNotCalled(t, "Refund", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestRefundRequest_Rules(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	seedPayment(env.store, "p1", "MT1", "o1", model.PaymentCompleted)
	seedPayment(env.store, "p2", "MT2", "o2", model.PaymentPending)

	_, err := env.refunds.Request(ctx, "p2", "", "ops-1")
	var illegal *statemachine.IllegalTransitionError
	assert.ErrorAs(t, err, &illegal)

	req, err := env.refunds.Request(ctx, "p1", "", "ops-1")
	require.NoError(t, err)
	_, err = env.refunds.Request(ctx, "p1", "", "ops-1")
	assert.ErrorIs(t, err, ErrConflict)

	_, err = env.refunds.Approve(ctx, req.ID, "admin-1")
	require.NoError(t, err)
	_, err = env.refunds.Approve(ctx, req.ID, "admin-1")
	require.ErrorAs(t, err, &illegal)
	assert.Equal(t, "illegal refund_request transition: approved -> approved", err.Error())
}
