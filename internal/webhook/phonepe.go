package webhook

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"order-lifecycle-service/internal/dto"
	"order-lifecycle-service/internal/webhookauth"
)

type phonePeEnvelope struct {
	Response string `json:"response"`
}

type phonePeCallback struct {
	Success bool   `json:"success"`
	Code    string `json:"code"`
	Data    struct {
		MerchantID            string         `json:"merchantId"`
		MerchantTransactionID string         `json:"merchantTransactionId"`
		TransactionID         string         `json:"transactionId"`
		Amount                int64          `json:"amount"`
		State                 string         `json:"state"`
		ResponseCode          string         `json:"responseCode"`
		PaymentInstrument     map[string]any `json:"paymentInstrument"`
	} `json:"data"`
}

// ParsePhonePe decodes the base64 callback carried in the response envelope.
func ParsePhonePe(r webhookauth.Request) (dto.PaymentNotification, error) {
	var env phonePeEnvelope
	if err := json.Unmarshal(r.Body, &env); err != nil || env.Response == "" {
		return dto.PaymentNotification{}, fmt.Errorf("%w: missing response envelope", ErrMalformed)
	}
	raw, err := base64.StdEncoding.DecodeString(env.Response)
	if err != nil {
		return dto.PaymentNotification{}, fmt.Errorf("%w: response is not base64: %v", ErrMalformed, err)
	}

	var cb phonePeCallback
	if err := json.Unmarshal(raw, &cb); err != nil {
		return dto.PaymentNotification{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	d := cb.Data
	if d.MerchantTransactionID == "" {
		return dto.PaymentNotification{}, fmt.Errorf("%w: missing merchantTransactionId", ErrMalformed)
	}
	state := d.State
	if state == "" {
		state = cb.Code
	}

	n := dto.PaymentNotification{
		Provider:        "phonepe",
		MerchantOrderID: d.MerchantTransactionID,
		ProviderState:   state,
		TransactionID:   d.TransactionID,
		Amount:          d.Amount,
		Instrument:      flatten(d.PaymentInstrument),
		RawPayload:      string(raw),
	}
	if d.TransactionID != "" {
		n.EventID = d.TransactionID + ":" + state
	}
	return n, nil
}

func flatten(m map[string]any) map[string]string {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		if v == nil {
			continue
		}
		out[k] = fmt.Sprint(v)
	}
	return out
}
