package carrier

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"order-lifecycle-service/internal/model"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testOrder() *model.Order {
	return &model.Order{
		ID:            "o1",
		OrderNumber:   "ORD-1001",
		PaymentMethod: model.PaymentMethodPrepaid,
		Customer:      model.Customer{Name: "Asha Rao Kumar", Email: "asha@example.com", Phone: "9999999999"},
		Shipping:      model.Shipping{AddressLine1: "12 MG Road", City: "Bengaluru", PostalCode: "560001", Province: "KA", Country: "India"},
		Items: []model.OrderItem{
			{ProductID: "p1", SKU: "TEE-M", Name: "Tee", Variant: "M", Price: 49900, Quantity: 2},
			{ProductID: "p2", Name: "Cap", Price: 4900, Quantity: 1},
		},
		CreatedAt: time.Date(2026, 3, 1, 10, 30, 0, 0, time.UTC),
	}
}

func TestBuildOrderRequest(t *testing.T) {
	req := BuildOrderRequest(testOrder(), "Warehouse-1")

	assert.Equal(t, "ORD-1001", req.OrderID)
	assert.Equal(t, "2026-03-01 10:30", req.OrderDate)
	assert.Equal(t, "Prepaid", req.PaymentMethod)
	assert.Equal(t, "Asha Rao", req.BillingCustomerName)
	assert.Equal(t, "Kumar", req.BillingLastName)
	require.Len(t, req.OrderItems, 2)
	assert.Equal(t, "Tee (M)", req.OrderItems[0].Name)
	assert.Equal(t, "p2", req.OrderItems[1].SKU)
	assert.True(t, req.OrderItems[0].SellingPrice.Equal(decimal.RequireFromString("499")))
	assert.True(t, req.SubTotal.Equal(decimal.RequireFromString("1047")), "got %s", req.SubTotal)
}

func TestBuildOrderRequest_COD(t *testing.T) {
	o := testOrder()
	o.PaymentMethod = "COD"
	assert.Equal(t, "COD", BuildOrderRequest(o, "").PaymentMethod)
}

type fakeCarrier struct {
	logins  atomic.Int32
	creates atomic.Int32
	// number of create calls that answer 401 before succeeding
	rejectFirst int32
	createCode  int
}

func (f *fakeCarrier) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/external/auth/login", func(w http.ResponseWriter, r *http.Request) {
		n := f.logins.Add(1)
		_ = json.NewEncoder(w).Encode(map[string]string{"token": "tok-" + string(rune('0'+n))})
	})
	mux.HandleFunc("/v1/external/orders/create/adhoc", func(w http.ResponseWriter, r *http.Request) {
		n := f.creates.Add(1)
		if n <= f.rejectFirst {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if f.createCode != 0 {
			w.WriteHeader(f.createCode)
			_, _ = w.Write([]byte(`{"message":"pincode not serviceable"}`))
			return
		}
		assert.Equal(t, "Bearer tok-"+string(rune('0'+f.logins.Load())), r.Header.Get("Authorization"))

		var req CreateOrderRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "ORD-1001", req.OrderID)

		_ = json.NewEncoder(w).Encode(map[string]any{
			"order_id": 555, "shipment_id": 777, "status": "NEW", "awb_code": "AWB123", "courier_name": "Delhivery",
		})
	})
	return mux
}

func newTestClient(url string) *Client {
	return NewClient(Options{
		BaseURL: url, Email: "ops@example.com", Password: "pw",
		PickupLocation: "Primary", Timeout: time.Second, TokenTTL: time.Hour,
	})
}

func TestCreateOrder_OK(t *testing.T) {
	fc := &fakeCarrier{}
	ts := httptest.NewServer(fc.handler(t))
	defer ts.Close()

	c := newTestClient(ts.URL)
	res, err := c.CreateOrder(context.Background(), testOrder())
	require.NoError(t, err)

	d := res.Details()
	assert.Equal(t, "555", d.CarrierOrderID)
	assert.Equal(t, "777", d.CarrierShipmentID)
	assert.Equal(t, "AWB123", d.AWBNumber)
	assert.Equal(t, "https://shiprocket.co/tracking/AWB123", d.TrackingURL)

	// The token is reused for the next call.
	_, err = c.CreateOrder(context.Background(), testOrder())
	require.NoError(t, err)
	assert.Equal(t, int32(1), fc.logins.Load())
}

func TestCreateOrder_ReauthOn401(t *testing.T) {
	fc := &fakeCarrier{rejectFirst: 1}
	ts := httptest.NewServer(fc.handler(t))
	defer ts.Close()

	c := newTestClient(ts.URL)
	_, err := c.CreateOrder(context.Background(), testOrder())
	require.NoError(t, err)
	assert.Equal(t, int32(2), fc.logins.Load())
	assert.Equal(t, int32(2), fc.creates.Load())
}

func TestCreateOrder_APIError(t *testing.T) {
	fc := &fakeCarrier{createCode: http.StatusUnprocessableEntity}
	ts := httptest.NewServer(fc.handler(t))
	defer ts.Close()

	c := newTestClient(ts.URL)
	_, err := c.CreateOrder(context.Background(), testOrder())
	require.Error(t, err)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnprocessableEntity, apiErr.StatusCode)
}

func TestCreateOrder_Timeout(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v1/external/auth/login" {
			_ = json.NewEncoder(w).Encode(map[string]string{"token": "t"})
			return
		}
		time.Sleep(200 * time.Millisecond)
	}))
	defer ts.Close()

	c := NewClient(Options{BaseURL: ts.URL, Email: "e", Password: "p", Timeout: 50 * time.Millisecond, TokenTTL: time.Hour})
	_, err := c.CreateOrder(context.Background(), testOrder())
	assert.Error(t, err)
}

func TestTokenCache_SingleFlight(t *testing.T) {
	var logins atomic.Int32
	cache := NewTokenCache(func(ctx context.Context) (string, error) {
		logins.Add(1)
		time.Sleep(20 * time.Millisecond)
		return "token", nil
	}, time.Hour)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tok, err := cache.Get(context.Background())
			assert.NoError(t, err)
			assert.Equal(t, "token", tok)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), logins.Load())
}

func TestTokenCache_ExpiryAndInvalidate(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	var logins atomic.Int32
	cache := NewTokenCache(func(ctx context.Context) (string, error) {
		logins.Add(1)
		return "token", nil
	}, time.Hour)
	cache.now = func() time.Time { return now }

	_, _ = cache.Get(context.Background())
	_, _ = cache.Get(context.Background())
	assert.Equal(t, int32(1), logins.Load())

	now = now.Add(61 * time.Minute)
	_, _ = cache.Get(context.Background())
	assert.Equal(t, int32(2), logins.Load())

	cache.Invalidate()
	_, _ = cache.Get(context.Background())
	assert.Equal(t, int32(3), logins.Load())
}

func TestTokenCache_LoginError(t *testing.T) {
	cache := NewTokenCache(func(ctx context.Context) (string, error) {
		return "", errors.New("bad credentials")
	}, time.Hour)

	_, err := cache.Get(context.Background())
	assert.Error(t, err)
}

func TestTokenCache_LoginOutlivesCallerCancellation(t *testing.T) {
	cache := NewTokenCache(func(ctx context.Context) (string, error) {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		return "token", nil
	}, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	tok, err := cache.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, "token", tok)
}
