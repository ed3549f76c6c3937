package webhook

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"order-lifecycle-service/internal/dto"
	"order-lifecycle-service/internal/webhookauth"
)

const (
	RazorpaySignatureHeader = "X-Razorpay-Signature"
	RazorpayEventIDHeader   = "X-Razorpay-Event-Id"
)

type razorpayEvent struct {
	Event   string `json:"event"`
	Payload struct {
		Payment struct {
			Entity struct {
				ID        string `json:"id"`
				OrderID   string `json:"order_id"`
				Status    string `json:"status"`
				Amount    int64  `json:"amount"`
				Method    string `json:"method"`
				VPA       string `json:"vpa"`
				Bank      string `json:"bank"`
				CreatedAt int64  `json:"created_at"`
			} `json:"entity"`
		} `json:"payment"`
	} `json:"payload"`
	CreatedAt int64 `json:"created_at"`
}

// ParseRazorpay reads payment.* and refund.* events. The event id comes from
// the delivery header; without it the payment id and status stand in.
func ParseRazorpay(r webhookauth.Request) (dto.PaymentNotification, error) {
	var ev razorpayEvent
	if err := json.Unmarshal(r.Body, &ev); err != nil {
		return dto.PaymentNotification{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	e := ev.Payload.Payment.Entity
	if e.OrderID == "" {
		return dto.PaymentNotification{}, fmt.Errorf("%w: missing payment.entity.order_id", ErrMalformed)
	}

	state := e.Status
	if strings.HasPrefix(ev.Event, "refund.") {
		state = "refunded"
	}

	n := dto.PaymentNotification{
		Provider:        "razorpay",
		EventID:         strings.TrimSpace(r.Header.Get(RazorpayEventIDHeader)),
		MerchantOrderID: e.OrderID,
		ProviderState:   state,
		TransactionID:   e.ID,
		Amount:          e.Amount,
		RawPayload:      string(r.Body),
	}
	if n.EventID == "" && e.ID != "" {
		n.EventID = e.ID + ":" + state
	}
	if e.Method != "" {
		n.Instrument = map[string]string{"type": e.Method}
		if e.VPA != "" {
			n.Instrument["vpa"] = e.VPA
		}
		if e.Bank != "" {
			n.Instrument["bank"] = e.Bank
		}
	}
	if ev.CreatedAt > 0 {
		n.OccurredAt = time.Unix(ev.CreatedAt, 0).UTC()
	}
	return n, nil
}
