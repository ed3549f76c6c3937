// Package carrier is the HTTP client for the logistics carrier (Shiprocket
// external API): order creation, AWB assignment, pickup and cancellation.
package carrier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"order-lifecycle-service/internal/model"

	"github.com/shopspring/decimal"
)

const trackingBaseURL = "https://shiprocket.co/tracking/"

type Options struct {
	BaseURL        string
	Email          string
	Password       string
	PickupLocation string
	Timeout        time.Duration
	TokenTTL       time.Duration
}

type Client struct {
	baseURL        string
	email          string
	password       string
	pickupLocation string
	httpClient     *http.Client
	tokens         *TokenCache
}

func NewClient(opts Options) *Client {
	c := &Client{
		baseURL:        strings.TrimRight(opts.BaseURL, "/"),
		email:          opts.Email,
		password:       opts.Password,
		pickupLocation: opts.PickupLocation,
		httpClient:     &http.Client{Timeout: opts.Timeout},
	}
	c.tokens = NewTokenCache(c.login, opts.TokenTTL)
	return c
}

// APIError is a non-2xx answer from the carrier.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("carrier responded %d: %s", e.StatusCode, e.Body)
}

func TrackingURL(awb string) string {
	if awb == "" {
		return ""
	}
	return trackingBaseURL + awb
}

type OrderItem struct {
	Name         string          `json:"name"`
	SKU          string          `json:"sku"`
	Units        int             `json:"units"`
	SellingPrice decimal.Decimal `json:"selling_price"`
}

type CreateOrderRequest struct {
	OrderID             string          `json:"order_id"`
	OrderDate           string          `json:"order_date"`
	PickupLocation      string          `json:"pickup_location"`
	BillingCustomerName string          `json:"billing_customer_name"`
	BillingLastName     string          `json:"billing_last_name"`
	BillingAddress      string          `json:"billing_address"`
	BillingAddress2     string          `json:"billing_address_2,omitempty"`
	BillingCity         string          `json:"billing_city"`
	BillingPincode      string          `json:"billing_pincode"`
	BillingState        string          `json:"billing_state"`
	BillingCountry      string          `json:"billing_country"`
	BillingEmail        string          `json:"billing_email"`
	BillingPhone        string          `json:"billing_phone"`
	ShippingIsBilling   bool            `json:"shipping_is_billing"`
	OrderItems          []OrderItem     `json:"order_items"`
	PaymentMethod       string          `json:"payment_method"`
	SubTotal            decimal.Decimal `json:"sub_total"`
	Length              float64         `json:"length"`
	Breadth             float64         `json:"breadth"`
	Height              float64         `json:"height"`
	Weight              float64         `json:"weight"`
}

type CreateOrderResult struct {
	OrderID     int64  `json:"order_id"`
	ShipmentID  int64  `json:"shipment_id"`
	Status      string `json:"status"`
	AWBCode     string `json:"awb_code"`
	CourierName string `json:"courier_name"`
}

// Details converts the carrier answer into the identifiers stored on a
// shipment.
func (r *CreateOrderResult) Details() model.CarrierDetails {
	return model.CarrierDetails{
		CarrierOrderID:    strconv.FormatInt(r.OrderID, 10),
		CarrierShipmentID: strconv.FormatInt(r.ShipmentID, 10),
		AWBNumber:         r.AWBCode,
		CourierName:       r.CourierName,
		TrackingURL:       TrackingURL(r.AWBCode),
	}
}

// minorToMajor turns paise/cents into a two-decimal amount.
func minorToMajor(v int64) decimal.Decimal {
	return decimal.New(v, -2)
}

// BuildOrderRequest maps an order snapshot onto the carrier payload. COD vs
// prepaid follows the order's payment method.
func BuildOrderRequest(o *model.Order, pickupLocation string) CreateOrderRequest {
	first, last := splitName(o.Customer.Name)

	items := make([]OrderItem, 0, len(o.Items))
	subTotal := decimal.Zero
	for _, it := range o.Items {
		price := minorToMajor(it.Price)
		sku := it.SKU
		if sku == "" {
			sku = it.ProductID
		}
		name := it.Name
		if it.Variant != "" {
			name += " (" + it.Variant + ")"
		}
		items = append(items, OrderItem{Name: name, SKU: sku, Units: it.Quantity, SellingPrice: price})
		subTotal = subTotal.Add(price.Mul(decimal.NewFromInt(int64(it.Quantity))))
	}

	method := "Prepaid"
	if strings.EqualFold(o.PaymentMethod, model.PaymentMethodCOD) {
		method = "COD"
	}

	return CreateOrderRequest{
		OrderID:             o.OrderNumber,
		OrderDate:           o.CreatedAt.Format("2006-01-02 15:04"),
		PickupLocation:      pickupLocation,
		BillingCustomerName: first,
		BillingLastName:     last,
		BillingAddress:      o.Shipping.AddressLine1,
		BillingAddress2:     o.Shipping.AddressLine2,
		BillingCity:         o.Shipping.City,
		BillingPincode:      o.Shipping.PostalCode,
		BillingState:        o.Shipping.Province,
		BillingCountry:      o.Shipping.Country,
		BillingEmail:        o.Customer.Email,
		BillingPhone:        o.Customer.Phone,
		ShippingIsBilling:   true,
		OrderItems:          items,
		PaymentMethod:       method,
		SubTotal:            subTotal,
		Length:              10,
		Breadth:             10,
		Height:              10,
		Weight:              0.5,
	}
}

func splitName(full string) (string, string) {
	full = strings.TrimSpace(full)
	if i := strings.LastIndexByte(full, ' '); i > 0 {
		return full[:i], full[i+1:]
	}
	return full, ""
}

func (c *Client) CreateOrder(ctx context.Context, o *model.Order) (*CreateOrderResult, error) {
	req := BuildOrderRequest(o, c.pickupLocation)
	var res CreateOrderResult
	if err := c.do(ctx, http.MethodPost, "/v1/external/orders/create/adhoc", req, &res); err != nil {
		return nil, err
	}
	if res.ShipmentID == 0 {
		return nil, fmt.Errorf("carrier accepted order %s without a shipment id", o.OrderNumber)
	}
	return &res, nil
}

// CreateShipment creates the carrier order and returns the identifiers to
// store on the shipment.
func (c *Client) CreateShipment(ctx context.Context, o *model.Order) (model.CarrierDetails, error) {
	res, err := c.CreateOrder(ctx, o)
	if err != nil {
		return model.CarrierDetails{}, err
	}
	return res.Details(), nil
}

// AssignAWB asks the carrier to allocate an AWB and courier for a shipment.
func (c *Client) AssignAWB(ctx context.Context, carrierShipmentID string) (awb, courier string, err error) {
	var res struct {
		AWBAssignStatus int `json:"awb_assign_status"`
		Response        struct {
			Data struct {
				AWBCode     string `json:"awb_code"`
				CourierName string `json:"courier_name"`
			} `json:"data"`
		} `json:"response"`
	}
	body := map[string]string{"shipment_id": carrierShipmentID}
	if err := c.do(ctx, http.MethodPost, "/v1/external/courier/assign/awb", body, &res); err != nil {
		return "", "", err
	}
	if res.Response.Data.AWBCode == "" {
		return "", "", fmt.Errorf("carrier assigned no awb for shipment %s", carrierShipmentID)
	}
	return res.Response.Data.AWBCode, res.Response.Data.CourierName, nil
}

func (c *Client) GeneratePickup(ctx context.Context, carrierShipmentID string) error {
	body := map[string][]string{"shipment_id": {carrierShipmentID}}
	return c.do(ctx, http.MethodPost, "/v1/external/courier/generate/pickup", body, nil)
}

func (c *Client) CancelOrder(ctx context.Context, carrierOrderID string) error {
	id, err := strconv.ParseInt(carrierOrderID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid carrier order id %q: %w", carrierOrderID, err)
	}
	body := map[string][]int64{"ids": {id}}
	return c.do(ctx, http.MethodPost, "/v1/external/orders/cancel", body, nil)
}

func (c *Client) login(ctx context.Context) (string, error) {
	if c.email == "" || c.password == "" {
		return "", fmt.Errorf("carrier credentials not configured")
	}
	body := map[string]string{"email": c.email, "password": c.password}
	status, raw, err := c.send(ctx, http.MethodPost, "/v1/external/auth/login", "", body)
	if err != nil {
		return "", err
	}
	if status != http.StatusOK {
		return "", &APIError{StatusCode: status, Body: string(raw)}
	}
	var res struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(raw, &res); err != nil {
		return "", fmt.Errorf("decode login response: %w", err)
	}
	if res.Token == "" {
		return "", fmt.Errorf("carrier login returned empty token")
	}
	return res.Token, nil
}

// do sends an authenticated request; a 401 invalidates the cached token and
// is retried once with a fresh login.
func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	for attempt := 0; ; attempt++ {
		token, err := c.tokens.Get(ctx)
		if err != nil {
			return fmt.Errorf("carrier login: %w", err)
		}

		status, raw, err := c.send(ctx, method, path, token, in)
		if err != nil {
			return err
		}
		if status == http.StatusUnauthorized && attempt == 0 {
			c.tokens.Invalidate()
			continue
		}
		if status < 200 || status > 299 {
			return &APIError{StatusCode: status, Body: string(raw)}
		}
		if out == nil || len(raw) == 0 {
			return nil
		}
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("decode %s response: %w", path, err)
		}
		return nil
	}
}

func (c *Client) send(ctx context.Context, method, path, token string, in any) (int, []byte, error) {
	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return 0, nil, fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return 0, nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read response: %w", err)
	}
	return resp.StatusCode, raw, nil
}
