// dto.go
package dto

import (
	"time"

	"order-lifecycle-service/internal/model"
)

// PaymentNotification is a gateway webhook after authentication and parsing,
// in provider-neutral form.
type PaymentNotification struct {
	Provider        string
	EventID         string
	MerchantOrderID string
	ProviderState   string
	TransactionID   string
	Amount          int64
	Instrument      map[string]string
	OccurredAt      time.Time
	RawPayload      string
}

// CarrierNotification is a carrier tracking webhook in carrier-neutral form.
// OrderID is the channel order id we sent, i.e. our order number.
type CarrierNotification struct {
	Carrier    string
	EventID    string
	AWB        string
	OrderID    string
	Status     string
	Courier    string
	OccurredAt time.Time
	RawPayload string
}

// PlaceOrderMessage arrives on the order_placed exchange from checkout.
type PlaceOrderMessage struct {
	CorrelationID string `json:"correlation_id"`
	Exchange      string `json:"exchange"`
	RoutingKey    string `json:"routing_key"`
	Message       struct {
		OrderID       string            `json:"orderId"`
		OrderNumber   string            `json:"orderNumber"`
		UserID        string            `json:"userId"`
		PaymentMethod string            `json:"paymentMethod"`
		Items         []model.OrderItem `json:"items"`
		Customer      model.Customer    `json:"customer"`
		Shipping      model.Shipping    `json:"shipping"`
		TotalAmount   int64             `json:"totalAmount"`
		Payment       *PaymentIntent    `json:"payment,omitempty"`
	} `json:"message"`
}

// PaymentIntent is the checkout-side description of a payment attempt.
type PaymentIntent struct {
	Provider        string            `json:"provider"`
	ProviderOrderID string            `json:"providerOrderId"`
	Amount          int64             `json:"amount"`
	Currency        string            `json:"currency"`
	UserID          string            `json:"userId"`
	OrderID         string            `json:"orderId,omitempty"`
	OrderSnapshot   *model.OrderDraft `json:"orderSnapshot,omitempty"`
}

// PaymentInitiatedMessage arrives on the payment_initiated exchange.
type PaymentInitiatedMessage struct {
	CorrelationID string        `json:"correlation_id"`
	Message       PaymentIntent `json:"message"`
}

type CreateRefundRequest struct {
	PaymentID string `json:"paymentId" binding:"required"`
	Reason    string `json:"reason"`
}

type WebhookResponse struct {
	OK        bool   `json:"ok"`
	Received  bool   `json:"received"`
	Updated   bool   `json:"updated"`
	Duplicate bool   `json:"duplicate,omitempty"`
	Note      string `json:"note,omitempty"`
}
