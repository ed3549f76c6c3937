// models.go
package model

import "time"

type PaymentStatus string

const (
	PaymentPending    PaymentStatus = "pending"
	PaymentProcessing PaymentStatus = "processing"
	PaymentCompleted  PaymentStatus = "completed"
	PaymentFailed     PaymentStatus = "failed"
	PaymentRefunded   PaymentStatus = "refunded"
)

type OrderStatus string

const (
	OrderNew                   OrderStatus = "new"
	OrderProcessing            OrderStatus = "processing"
	OrderPaid                  OrderStatus = "paid"
	OrderPaidButShipmentFailed OrderStatus = "paid_but_shipment_failed"
	OrderShipped               OrderStatus = "shipped"
	OrderDelivered             OrderStatus = "delivered"
	OrderCancelled             OrderStatus = "cancelled"
	OrderReturned              OrderStatus = "returned"
)

// TerminalOrderStatuses never change once reached.
var TerminalOrderStatuses = []OrderStatus{OrderDelivered, OrderCancelled, OrderReturned}

type ShipmentStatus string

const (
	ShipmentNew        ShipmentStatus = "new"
	ShipmentProcessing ShipmentStatus = "processing"
	ShipmentShipped    ShipmentStatus = "shipped"
	ShipmentDelivered  ShipmentStatus = "delivered"
	ShipmentCancelled  ShipmentStatus = "cancelled"
	ShipmentReturned   ShipmentStatus = "returned"
)

type RefundRequestStatus string

const (
	RefundPendingApproval RefundRequestStatus = "pending_admin_approval"
	RefundApproved        RefundRequestStatus = "approved"
	RefundCompleted       RefundRequestStatus = "completed"
)

const (
	PaymentMethodCOD     = "cod"
	PaymentMethodPrepaid = "prepaid"
)

// Payment is one attempt to collect money for an order. Amounts are in minor
// units (paise, cents).
type Payment struct {
	ID                    string            `bson:"_id" json:"id"`
	OrderID               string            `bson:"order_id,omitempty" json:"orderId,omitempty"`
	UserID                string            `bson:"user_id" json:"userId"`
	Provider              string            `bson:"provider" json:"provider"`
	ProviderOrderID       string            `bson:"provider_order_id,omitempty" json:"providerOrderId,omitempty"`
	ProviderTransactionID string            `bson:"provider_transaction_id,omitempty" json:"providerTransactionId,omitempty"`
	Amount                int64             `bson:"amount" json:"amount"`
	Currency              string            `bson:"currency" json:"currency"`
	Status                PaymentStatus     `bson:"status" json:"status"`
	ProviderStatus        string            `bson:"provider_status,omitempty" json:"providerStatus,omitempty"`
	Instrument            map[string]string `bson:"instrument,omitempty" json:"instrument,omitempty"`
	OrderSnapshot         *OrderDraft       `bson:"order_snapshot,omitempty" json:"orderSnapshot,omitempty"`
	EventHistory          []PaymentEvent    `bson:"event_history" json:"eventHistory"`
	PaidAt                *time.Time        `bson:"paid_at,omitempty" json:"paidAt,omitempty"`
	FailedAt              *time.Time        `bson:"failed_at,omitempty" json:"failedAt,omitempty"`
	RefundedAt            *time.Time        `bson:"refunded_at,omitempty" json:"refundedAt,omitempty"`
	CreatedAt             time.Time         `bson:"created_at" json:"createdAt"`
	UpdatedAt             time.Time         `bson:"updated_at" json:"updatedAt"`
}

// PaymentEvent is one observed webhook or API interaction. Append only.
type PaymentEvent struct {
	Provider   string    `bson:"provider" json:"provider"`
	Event      string    `bson:"event" json:"event"`
	Payload    string    `bson:"payload,omitempty" json:"payload,omitempty"`
	ReceivedAt time.Time `bson:"received_at" json:"receivedAt"`
}

// PaymentUpdate is what a reconciled gateway notification writes.
type PaymentUpdate struct {
	Status         PaymentStatus
	ProviderStatus string
	TransactionID  string
	Instrument     map[string]string
	// Events are appended to event_history in order.
	Events    []PaymentEvent
	UpdatedAt time.Time
}

// PaymentMilestone names a first-write-wins timestamp field.
type PaymentMilestone string

const (
	MilestonePaid     PaymentMilestone = "paid_at"
	MilestoneFailed   PaymentMilestone = "failed_at"
	MilestoneRefunded PaymentMilestone = "refunded_at"
)

// MilestoneFor returns the timestamp field a status sets, if any.
func MilestoneFor(s PaymentStatus) (PaymentMilestone, bool) {
	switch s {
	case PaymentCompleted:
		return MilestonePaid, true
	case PaymentFailed:
		return MilestoneFailed, true
	case PaymentRefunded:
		return MilestoneRefunded, true
	}
	return "", false
}

type Order struct {
	ID              string         `bson:"_id" json:"id"`
	OrderNumber     string         `bson:"order_number" json:"orderNumber"`
	UserID          string         `bson:"user_id" json:"userId"`
	Status          OrderStatus    `bson:"status" json:"status"`
	Items           []OrderItem    `bson:"items" json:"items"`
	Customer        Customer       `bson:"customer" json:"customer"`
	Shipping        Shipping       `bson:"shipping" json:"shipping"`
	PaymentMethod   string         `bson:"payment_method" json:"paymentMethod"`
	TotalAmount     int64          `bson:"total_amount" json:"totalAmount"`
	SourcePaymentID string         `bson:"source_payment_id,omitempty" json:"sourcePaymentId,omitempty"`
	StatusHistory   []StatusRecord `bson:"status_history" json:"statusHistory"`
	StockAdjustedAt *time.Time     `bson:"stock_adjusted_at,omitempty" json:"stockAdjustedAt,omitempty"`
	CreatedAt       time.Time      `bson:"created_at" json:"createdAt"`
	UpdatedAt       time.Time      `bson:"updated_at" json:"updatedAt"`
}

// OrderItem is the purchase-time snapshot of a product line.
type OrderItem struct {
	ProductID string `bson:"product_id" json:"productId"`
	SKU       string `bson:"sku,omitempty" json:"sku,omitempty"`
	Name      string `bson:"name" json:"name"`
	Variant   string `bson:"variant,omitempty" json:"variant,omitempty"`
	Price     int64  `bson:"price" json:"price"`
	Quantity  int    `bson:"quantity" json:"quantity"`
}

type Customer struct {
	Name  string `bson:"name" json:"name"`
	Email string `bson:"email" json:"email"`
	Phone string `bson:"phone" json:"phone"`
}

type Shipping struct {
	AddressLine1 string `bson:"address_line1" json:"addressLine1"`
	AddressLine2 string `bson:"address_line2,omitempty" json:"addressLine2,omitempty"`
	City         string `bson:"city" json:"city"`
	PostalCode   string `bson:"postal_code" json:"postalCode"`
	Province     string `bson:"province" json:"province"`
	Country      string `bson:"country" json:"country"`
	Comments     string `bson:"comments,omitempty" json:"comments,omitempty"`
}

type StatusRecord struct {
	Status    OrderStatus `bson:"status" json:"status"`
	Source    string      `bson:"source" json:"source"`
	Reason    string      `bson:"reason,omitempty" json:"reason,omitempty"`
	Timestamp time.Time   `bson:"timestamp" json:"timestamp"`
}

// OrderDraft is the order snapshot carried by a payment when checkout defers
// order creation until the payment succeeds.
type OrderDraft struct {
	OrderNumber   string      `bson:"order_number" json:"orderNumber"`
	UserID        string      `bson:"user_id" json:"userId"`
	Items         []OrderItem `bson:"items" json:"items"`
	Customer      Customer    `bson:"customer" json:"customer"`
	Shipping      Shipping    `bson:"shipping" json:"shipping"`
	PaymentMethod string      `bson:"payment_method" json:"paymentMethod"`
	TotalAmount   int64       `bson:"total_amount" json:"totalAmount"`
}

// Shipment is one carrier consignment. A shipment whose carrier creation
// failed has a non-nil Failure and an empty Status: it is not a node of the
// shipment state machine until the carrier accepts it.
type Shipment struct {
	ID                string           `bson:"_id" json:"id"`
	OrderID           string           `bson:"order_id" json:"orderId"`
	Status            ShipmentStatus   `bson:"status,omitempty" json:"status,omitempty"`
	Failure           *ShipmentFailure `bson:"failure,omitempty" json:"failure,omitempty"`
	CarrierOrderID    string           `bson:"carrier_order_id,omitempty" json:"carrierOrderId,omitempty"`
	CarrierShipmentID string           `bson:"carrier_shipment_id,omitempty" json:"carrierShipmentId,omitempty"`
	AWBNumber         string           `bson:"awb_number,omitempty" json:"awbNumber,omitempty"`
	CourierName       string           `bson:"courier_name,omitempty" json:"courierName,omitempty"`
	TrackingURL       string           `bson:"tracking_url,omitempty" json:"trackingUrl,omitempty"`
	EventHistory      []ShipmentEvent  `bson:"event_history" json:"eventHistory"`
	CreatedAt         time.Time        `bson:"created_at" json:"createdAt"`
	UpdatedAt         time.Time        `bson:"updated_at" json:"updatedAt"`
}

// ShipmentFailure is the retry bookkeeping of a shipment the carrier has not
// accepted yet.
type ShipmentFailure struct {
	RetryCount     int       `bson:"retry_count" json:"retryCount"`
	LastError      string    `bson:"last_error" json:"lastError"`
	NextRetryAfter time.Time `bson:"next_retry_after" json:"nextRetryAfter"`
	FailedAt       time.Time `bson:"failed_at" json:"failedAt"`
}

// AwaitingCarrier reports whether the shipment is still a failed placeholder.
func (s *Shipment) AwaitingCarrier() bool {
	return s.Failure != nil
}

type ShipmentEvent struct {
	Source     string    `bson:"source" json:"source"`
	Event      string    `bson:"event" json:"event"`
	Status     string    `bson:"status,omitempty" json:"status,omitempty"`
	Payload    string    `bson:"payload,omitempty" json:"payload,omitempty"`
	ReceivedAt time.Time `bson:"received_at" json:"receivedAt"`
}

// CarrierDetails are the identifiers the carrier assigns on creation.
type CarrierDetails struct {
	CarrierOrderID    string
	CarrierShipmentID string
	AWBNumber         string
	CourierName       string
	TrackingURL       string
}

type RefundRequest struct {
	ID           string              `bson:"_id" json:"id"`
	PaymentID    string              `bson:"payment_id" json:"paymentId"`
	OrderID      string              `bson:"order_id,omitempty" json:"orderId,omitempty"`
	Amount       int64               `bson:"amount" json:"amount"`
	Reason       string              `bson:"reason,omitempty" json:"reason,omitempty"`
	Status       RefundRequestStatus `bson:"status" json:"status"`
	RequestedBy  string              `bson:"requested_by,omitempty" json:"requestedBy,omitempty"`
	ApprovedBy   string              `bson:"approved_by,omitempty" json:"approvedBy,omitempty"`
	ApprovedAt   *time.Time          `bson:"approved_at,omitempty" json:"approvedAt,omitempty"`
	RefundDueAt  *time.Time          `bson:"refund_due_at,omitempty" json:"refundDueAt,omitempty"`
	AttemptCount int                 `bson:"attempt_count" json:"attemptCount"`
	LastError    string              `bson:"last_error,omitempty" json:"lastError,omitempty"`
	CompletedAt  *time.Time          `bson:"completed_at,omitempty" json:"completedAt,omitempty"`
	CreatedAt    time.Time           `bson:"created_at" json:"createdAt"`
	UpdatedAt    time.Time           `bson:"updated_at" json:"updatedAt"`
}

type Product struct {
	ID    string `bson:"_id" json:"id"`
	Name  string `bson:"name" json:"name"`
	Stock int    `bson:"stock" json:"stock"`
}
