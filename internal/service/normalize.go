package service

import (
	"strings"

	"order-lifecycle-service/internal/model"
)

var gatewayStates = map[string]model.PaymentStatus{
	"COMPLETED": model.PaymentCompleted,
	"SUCCESS":   model.PaymentCompleted,
	"CAPTURED":  model.PaymentCompleted,
	"FAILED":    model.PaymentFailed,
	"PENDING":   model.PaymentPending,
	"INITIATED": model.PaymentPending,
	"REFUNDED":  model.PaymentRefunded,
	"REFUND":    model.PaymentRefunded,
}

// NormalizePaymentState maps a gateway state onto the payment vocabulary.
// Anything unrecognised is pending, never completed; known reports whether
// the input was in the table.
func NormalizePaymentState(raw string) (status model.PaymentStatus, known bool) {
	s, ok := gatewayStates[strings.ToUpper(strings.TrimSpace(raw))]
	if !ok {
		return model.PaymentPending, false
	}
	return s, true
}

var carrierStatuses = map[string]model.ShipmentStatus{
	"NEW":                model.ShipmentNew,
	"PICKUP SCHEDULED":   model.ShipmentProcessing,
	"PICKUP GENERATED":   model.ShipmentProcessing,
	"AWB ASSIGNED":       model.ShipmentProcessing,
	"MANIFEST GENERATED": model.ShipmentProcessing,
	"PICKED UP":          model.ShipmentShipped,
	"SHIPPED":            model.ShipmentShipped,
	"IN TRANSIT":         model.ShipmentShipped,
	"OUT FOR DELIVERY":   model.ShipmentShipped,
	"DELIVERED":          model.ShipmentDelivered,
	"CANCELED":           model.ShipmentCancelled,
	"CANCELLED":          model.ShipmentCancelled,
	"RTO INITIATED":      model.ShipmentReturned,
	"RTO DELIVERED":      model.ShipmentReturned,
	"RETURNED":           model.ShipmentReturned,
}

// NormalizeCarrierStatus maps free-text carrier status onto the shipment
// vocabulary. Unmapped text returns ok=false and must not change the status.
// Underscores and repeated spaces are folded so "IN_TRANSIT" and
// "In  Transit" both match.
func NormalizeCarrierStatus(raw string) (model.ShipmentStatus, bool) {
	key := strings.ToUpper(strings.ReplaceAll(raw, "_", " "))
	key = strings.Join(strings.Fields(key), " ")
	s, ok := carrierStatuses[key]
	return s, ok
}
