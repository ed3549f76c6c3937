package service

import (
	"testing"

	"order-lifecycle-service/internal/model"

	"github.com/stretchr/testify/assert"
)

func TestNormalizePaymentState(t *testing.T) {
	tests := []struct {
		raw   string
		want  model.PaymentStatus
		known bool
	}{
		{"COMPLETED", model.PaymentCompleted, true},
		{"success", model.PaymentCompleted, true},
		{"captured", model.PaymentCompleted, true},
		{"FAILED", model.PaymentFailed, true},
		{"PENDING", model.PaymentPending, true},
		{" INITIATED ", model.PaymentPending, true},
		{"REFUNDED", model.PaymentRefunded, true},
		{"REFUND", model.PaymentRefunded, true},
		{"AUTHORIZED", model.PaymentPending, false},
		{"", model.PaymentPending, false},
	}

	for _, tt := range tests {
		got, known := NormalizePaymentState(tt.raw)
		assert.Equal(t, tt.want, got, tt.raw)
		assert.Equal(t, tt.known, known, tt.raw)
	}
}

func TestNormalizeCarrierStatus(t *testing.T) {
	tests := []struct {
		raw  string
		want model.ShipmentStatus
		ok   bool
	}{
		{"NEW", model.ShipmentNew, true},
		{"Pickup Scheduled", model.ShipmentProcessing, true},
		{"AWB_ASSIGNED", model.ShipmentProcessing, true},
		{"In  Transit", model.ShipmentShipped, true},
		{"OUT FOR DELIVERY", model.ShipmentShipped, true},
		{"Delivered", model.ShipmentDelivered, true},
		{"CANCELED", model.ShipmentCancelled, true},
		{"cancelled", model.ShipmentCancelled, true},
		{"RTO DELIVERED", model.ShipmentReturned, true},
		{"Lost", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		got, ok := NormalizeCarrierStatus(tt.raw)
		assert.Equal(t, tt.want, got, tt.raw)
		assert.Equal(t, tt.ok, ok, tt.raw)
	}
}
