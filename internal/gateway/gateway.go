// Package gateway talks to payment gateways on the outbound side: refunds.
// Inbound gateway webhooks are parsed in the controller layer.
package gateway

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"order-lifecycle-service/internal/model"
	"order-lifecycle-service/internal/webhookauth"
)

type RefundResult struct {
	ProviderRefundID string
	State            string
}

type Refunder interface {
	Refund(ctx context.Context, p *model.Payment, amount int64, refundID string) (*RefundResult, error)
}

// Registry picks the refunder for a payment's provider.
type Registry map[string]Refunder

func (r Registry) For(provider string) (Refunder, error) {
	ref, ok := r[provider]
	if !ok {
		return nil, fmt.Errorf("no refund client for provider %q", provider)
	}
	return ref, nil
}

type APIError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s responded %d: %s", e.Provider, e.StatusCode, e.Body)
}

const phonePeRefundPath = "/pg/v1/refund"

type PhonePeClient struct {
	baseURL    string
	merchantID string
	saltKey    string
	saltIndex  string
	httpClient *http.Client
}

func NewPhonePeClient(baseURL, merchantID, saltKey, saltIndex string, timeout time.Duration) *PhonePeClient {
	return &PhonePeClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		merchantID: merchantID,
		saltKey:    saltKey,
		saltIndex:  saltIndex,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (c *PhonePeClient) Refund(ctx context.Context, p *model.Payment, amount int64, refundID string) (*RefundResult, error) {
	payload, err := json.Marshal(map[string]any{
		"merchantId":            c.merchantID,
		"merchantUserId":        p.UserID,
		"originalTransactionId": p.ProviderOrderID,
		"merchantTransactionId": refundID,
		"amount":                amount,
	})
	if err != nil {
		return nil, fmt.Errorf("encode refund: %w", err)
	}
	encoded := base64.StdEncoding.EncodeToString(payload)
	body, _ := json.Marshal(map[string]string{"request": encoded})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+phonePeRefundPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-VERIFY", webhookauth.Checksum(encoded, phonePeRefundPath, c.saltKey, c.saltIndex))

	raw, status, err := doRequest(c.httpClient, req)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, &APIError{Provider: "phonepe", StatusCode: status, Body: string(raw)}
	}

	var res struct {
		Success bool   `json:"success"`
		Code    string `json:"code"`
		Message string `json:"message"`
		Data    struct {
			TransactionID string `json:"transactionId"`
			State         string `json:"state"`
		} `json:"data"`
	}
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("decode refund response: %w", err)
	}
	if !res.Success || strings.EqualFold(res.Data.State, "FAILED") {
		return nil, fmt.Errorf("phonepe refund rejected: %s %s", res.Code, res.Message)
	}
	return &RefundResult{ProviderRefundID: res.Data.TransactionID, State: res.Data.State}, nil
}

type RazorpayClient struct {
	baseURL    string
	keyID      string
	keySecret  string
	httpClient *http.Client
}

func NewRazorpayClient(baseURL, keyID, keySecret string, timeout time.Duration) *RazorpayClient {
	return &RazorpayClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		keyID:      keyID,
		keySecret:  keySecret,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (c *RazorpayClient) Refund(ctx context.Context, p *model.Payment, amount int64, refundID string) (*RefundResult, error) {
	if p.ProviderTransactionID == "" {
		return nil, fmt.Errorf("payment %s has no gateway payment id", p.ID)
	}
	body, _ := json.Marshal(map[string]any{"amount": amount, "receipt": refundID})

	url := fmt.Sprintf("%s/v1/payments/%s/refund", c.baseURL, p.ProviderTransactionID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(c.keyID, c.keySecret)

	raw, status, err := doRequest(c.httpClient, req)
	if err != nil {
		return nil, err
	}
	if status < 200 || status > 299 {
		return nil, &APIError{Provider: "razorpay", StatusCode: status, Body: string(raw)}
	}

	var res struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("decode refund response: %w", err)
	}
	if res.Status == "failed" {
		return nil, fmt.Errorf("razorpay refund %s failed", res.ID)
	}
	return &RefundResult{ProviderRefundID: res.ID, State: res.Status}, nil
}

func doRequest(client *http.Client, req *http.Request) ([]byte, int, error) {
	resp, err := client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("read response: %w", err)
	}
	return raw, resp.StatusCode, nil
}
