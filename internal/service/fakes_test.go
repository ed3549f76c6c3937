package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"order-lifecycle-service/internal/events"
	"order-lifecycle-service/internal/gateway"
	"order-lifecycle-service/internal/model"
	"order-lifecycle-service/internal/repository"

	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"
)

// memStore models the document store: every method is one atomic operation
// on one document, like the Mongo repositories.
type memStore struct {
	mu        sync.Mutex
	payments  map[string]*model.Payment
	orders    map[string]*model.Order
	shipments map[string]*model.Shipment
	refunds   map[string]*model.RefundRequest
	stock     map[string]int
	ledger    map[string]map[string]bool
}

func newMemStore() *memStore {
	return &memStore{
		payments:  map[string]*model.Payment{},
		orders:    map[string]*model.Order{},
		shipments: map[string]*model.Shipment{},
		refunds:   map[string]*model.RefundRequest{},
		stock:     map[string]int{},
		ledger:    map[string]map[string]bool{},
	}
}

func clonePayment(p *model.Payment) *model.Payment {
	c := *p
	c.EventHistory = append([]model.PaymentEvent(nil), p.EventHistory...)
	return &c
}

func cloneOrder(o *model.Order) *model.Order {
	c := *o
	c.Items = append([]model.OrderItem(nil), o.Items...)
	c.StatusHistory = append([]model.StatusRecord(nil), o.StatusHistory...)
	return &c
}

func cloneShipment(s *model.Shipment) *model.Shipment {
	c := *s
	if s.Failure != nil {
		f := *s.Failure
		c.Failure = &f
	}
	c.EventHistory = append([]model.ShipmentEvent(nil), s.EventHistory...)
	return &c
}

func cloneRefund(r *model.RefundRequest) *model.RefundRequest {
	c := *r
	return &c
}

type fakePayments struct{ s *memStore }

func (f fakePayments) Insert(_ context.Context, p *model.Payment) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	for _, x := range f.s.payments {
		if x.ID == p.ID || (p.ProviderOrderID != "" && x.ProviderOrderID == p.ProviderOrderID) {
			return repository.ErrAlreadyExists
		}
	}
	f.s.payments[p.ID] = clonePayment(p)
	return nil
}

func (f fakePayments) FindByID(_ context.Context, id string) (*model.Payment, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	p, ok := f.s.payments[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return clonePayment(p), nil
}

func (f fakePayments) FindByProviderOrderID(_ context.Context, providerOrderID string) (*model.Payment, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	for _, p := range f.s.payments {
		if p.ProviderOrderID == providerOrderID {
			return clonePayment(p), nil
		}
	}
	return nil, repository.ErrNotFound
}

func (f fakePayments) ApplyUpdate(_ context.Context, id string, upd model.PaymentUpdate) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	p, ok := f.s.payments[id]
	if !ok {
		return repository.ErrNotFound
	}
	p.Status = upd.Status
	p.ProviderStatus = upd.ProviderStatus
	if upd.TransactionID != "" {
		p.ProviderTransactionID = upd.TransactionID
	}
	if len(upd.Instrument) > 0 {
		p.Instrument = upd.Instrument
	}
	p.EventHistory = append(p.EventHistory, upd.Events...)
	p.UpdatedAt = upd.UpdatedAt
	return nil
}

func (f fakePayments) SetMilestone(_ context.Context, id string, m model.PaymentMilestone, at time.Time) (bool, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	p, ok := f.s.payments[id]
	if !ok {
		return false, nil
	}
	var field **time.Time
	switch m {
	case model.MilestonePaid:
		field = &p.PaidAt
	case model.MilestoneFailed:
		field = &p.FailedAt
	case model.MilestoneRefunded:
		field = &p.RefundedAt
	}
	if *field != nil {
		return false, nil
	}
	t := at
	*field = &t
	return true, nil
}

func (f fakePayments) LinkOrder(_ context.Context, id, orderID string) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	if p, ok := f.s.payments[id]; ok {
		p.OrderID = orderID
	}
	return nil
}

func (f fakePayments) TransitionStatus(_ context.Context, id string, from, to model.PaymentStatus, ev model.PaymentEvent) (bool, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	p, ok := f.s.payments[id]
	if !ok || p.Status != from {
		return false, nil
	}
	p.Status = to
	p.EventHistory = append(p.EventHistory, ev)
	return true, nil
}

type fakeOrders struct{ s *memStore }

func (f fakeOrders) Insert(_ context.Context, o *model.Order) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	return f.insertLocked(o)
}

func (f fakeOrders) insertLocked(o *model.Order) error {
	for _, x := range f.s.orders {
		if x.ID == o.ID || x.OrderNumber == o.OrderNumber {
			return repository.ErrAlreadyExists
		}
	}
	f.s.orders[o.ID] = cloneOrder(o)
	return nil
}

func (f fakeOrders) FindByID(_ context.Context, id string) (*model.Order, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	o, ok := f.s.orders[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return cloneOrder(o), nil
}

func (f fakeOrders) FindByOrderNumber(_ context.Context, number string) (*model.Order, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	for _, o := range f.s.orders {
		if o.OrderNumber == number {
			return cloneOrder(o), nil
		}
	}
	return nil, repository.ErrNotFound
}

func (f fakeOrders) FindByStatus(_ context.Context, status model.OrderStatus, limit int64) ([]*model.Order, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	var out []*model.Order
	for _, o := range f.s.orders {
		if o.Status == status {
			out = append(out, cloneOrder(o))
		}
	}
	if limit > 0 && int64(len(out)) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f fakeOrders) UpsertFromPayment(_ context.Context, paymentID string, o *model.Order) (*model.Order, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	for _, x := range f.s.orders {
		if x.SourcePaymentID == paymentID {
			return cloneOrder(x), nil
		}
	}
	doc := cloneOrder(o)
	doc.SourcePaymentID = paymentID
	if err := f.insertLocked(doc); err != nil {
		return nil, err
	}
	return cloneOrder(doc), nil
}

func (f fakeOrders) UpdateStatus(_ context.Context, id string, status model.OrderStatus, rec model.StatusRecord, from ...model.OrderStatus) (bool, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	o, ok := f.s.orders[id]
	if !ok {
		return false, nil
	}
	if len(from) > 0 {
		match := false
		for _, s := range from {
			if o.Status == s {
				match = true
			}
		}
		if !match {
			return false, nil
		}
	} else {
		if o.Status == status {
			return false, nil
		}
		for _, t := range model.TerminalOrderStatuses {
			if o.Status == t {
				return false, nil
			}
		}
	}
	o.Status = status
	o.StatusHistory = append(o.StatusHistory, rec)
	return true, nil
}

func (f fakeOrders) ClaimStockAdjustment(_ context.Context, id string, at time.Time) (bool, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	o, ok := f.s.orders[id]
	if !ok || o.StockAdjustedAt != nil {
		return false, nil
	}
	t := at
	o.StockAdjustedAt = &t
	return true, nil
}

type fakeShipments struct{ s *memStore }

func (f fakeShipments) Insert(_ context.Context, sh *model.Shipment) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	for _, x := range f.s.shipments {
		if x.ID == sh.ID || x.OrderID == sh.OrderID {
			return repository.ErrAlreadyExists
		}
	}
	f.s.shipments[sh.ID] = cloneShipment(sh)
	return nil
}

func (f fakeShipments) FindByID(_ context.Context, id string) (*model.Shipment, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	sh, ok := f.s.shipments[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return cloneShipment(sh), nil
}

func (f fakeShipments) find(match func(*model.Shipment) bool) (*model.Shipment, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	for _, sh := range f.s.shipments {
		if match(sh) {
			return cloneShipment(sh), nil
		}
	}
	return nil, repository.ErrNotFound
}

func (f fakeShipments) FindByOrderID(_ context.Context, orderID string) (*model.Shipment, error) {
	return f.find(func(sh *model.Shipment) bool { return sh.OrderID == orderID })
}

func (f fakeShipments) FindByAWB(_ context.Context, awb string) (*model.Shipment, error) {
	return f.find(func(sh *model.Shipment) bool { return sh.AWBNumber == awb })
}

func (f fakeShipments) FindDueForRetry(_ context.Context, now time.Time, maxAttempts int, limit int64) ([]*model.Shipment, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	var out []*model.Shipment
	for _, sh := range f.s.shipments {
		if sh.Failure != nil && !sh.Failure.NextRetryAfter.After(now) && sh.Failure.RetryCount < maxAttempts {
			out = append(out, cloneShipment(sh))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Failure.NextRetryAfter.Before(out[j].Failure.NextRetryAfter) })
	if limit > 0 && int64(len(out)) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f fakeShipments) ListAwaitingCarrier(_ context.Context, limit int64) ([]*model.Shipment, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	var out []*model.Shipment
	for _, sh := range f.s.shipments {
		if sh.Failure != nil {
			out = append(out, cloneShipment(sh))
		}
	}
	return out, nil
}

func (f fakeShipments) ResolveFailure(_ context.Context, id string, d model.CarrierDetails, ev model.ShipmentEvent) (bool, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	sh, ok := f.s.shipments[id]
	if !ok || sh.Failure == nil {
		return false, nil
	}
	sh.Failure = nil
	sh.Status = model.ShipmentNew
	sh.CarrierOrderID = d.CarrierOrderID
	sh.CarrierShipmentID = d.CarrierShipmentID
	sh.AWBNumber = d.AWBNumber
	sh.CourierName = d.CourierName
	sh.TrackingURL = d.TrackingURL
	sh.EventHistory = append(sh.EventHistory, ev)
	return true, nil
}

func (f fakeShipments) RecordFailure(_ context.Context, id string, expected int, fl model.ShipmentFailure, ev model.ShipmentEvent) (bool, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	sh, ok := f.s.shipments[id]
	if !ok || sh.Failure == nil || sh.Failure.RetryCount != expected {
		return false, nil
	}
	fc := fl
	sh.Failure = &fc
	sh.EventHistory = append(sh.EventHistory, ev)
	return true, nil
}

func (f fakeShipments) UpdateStatus(_ context.Context, id string, from, to model.ShipmentStatus, ev model.ShipmentEvent) (bool, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	sh, ok := f.s.shipments[id]
	if !ok || sh.Status != from {
		return false, nil
	}
	sh.Status = to
	sh.EventHistory = append(sh.EventHistory, ev)
	return true, nil
}

func (f fakeShipments) AppendEvent(_ context.Context, id string, ev model.ShipmentEvent) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	if sh, ok := f.s.shipments[id]; ok {
		sh.EventHistory = append(sh.EventHistory, ev)
	}
	return nil
}

func (f fakeShipments) SetAWB(_ context.Context, id, awb, courier, trackingURL string) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	if sh, ok := f.s.shipments[id]; ok {
		sh.AWBNumber = awb
		sh.TrackingURL = trackingURL
		if courier != "" {
			sh.CourierName = courier
		}
	}
	return nil
}

type fakeRefunds struct{ s *memStore }

func (f fakeRefunds) Insert(_ context.Context, r *model.RefundRequest) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	if _, ok := f.s.refunds[r.ID]; ok {
		return repository.ErrAlreadyExists
	}
	f.s.refunds[r.ID] = cloneRefund(r)
	return nil
}

func (f fakeRefunds) FindByID(_ context.Context, id string) (*model.RefundRequest, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	r, ok := f.s.refunds[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return cloneRefund(r), nil
}

func (f fakeRefunds) FindOpenByPaymentID(_ context.Context, paymentID string) (*model.RefundRequest, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	for _, r := range f.s.refunds {
		if r.PaymentID == paymentID && r.Status != model.RefundCompleted {
			return cloneRefund(r), nil
		}
	}
	return nil, repository.ErrNotFound
}

func (f fakeRefunds) Approve(_ context.Context, id, approver string, approvedAt, dueAt time.Time) (bool, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	r, ok := f.s.refunds[id]
	if !ok || r.Status != model.RefundPendingApproval {
		return false, nil
	}
	r.Status = model.RefundApproved
	r.ApprovedBy = approver
	a, d := approvedAt, dueAt
	r.ApprovedAt = &a
	r.RefundDueAt = &d
	return true, nil
}

func (f fakeRefunds) FindDue(_ context.Context, now time.Time, maxAttempts int, limit int64) ([]*model.RefundRequest, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	var out []*model.RefundRequest
	for _, r := range f.s.refunds {
		if r.Status == model.RefundApproved && r.RefundDueAt != nil && !r.RefundDueAt.After(now) && r.AttemptCount < maxAttempts {
			out = append(out, cloneRefund(r))
		}
	}
	return out, nil
}

func (f fakeRefunds) MarkCompleted(_ context.Context, id string, at time.Time) (bool, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	r, ok := f.s.refunds[id]
	if !ok || r.Status != model.RefundApproved {
		return false, nil
	}
	t := at
	r.Status = model.RefundCompleted
	r.CompletedAt = &t
	r.LastError = ""
	return true, nil
}

func (f fakeRefunds) RecordAttemptFailure(_ context.Context, id string, expected int, lastErr string) (bool, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	r, ok := f.s.refunds[id]
	if !ok || r.Status != model.RefundApproved || r.AttemptCount != expected {
		return false, nil
	}
	r.AttemptCount++
	r.LastError = lastErr
	return true, nil
}

type fakeProducts struct {
	s          *memStore
	decrements map[string]int
}

func (f *fakeProducts) DecrementStock(_ context.Context, productID string, qty int) (bool, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	if f.s.stock[productID] < qty {
		return false, nil
	}
	f.s.stock[productID] -= qty
	if f.decrements == nil {
		f.decrements = map[string]int{}
	}
	f.decrements[productID]++
	return true, nil
}

type fakeLedger struct{ s *memStore }

func (f fakeLedger) Record(_ context.Context, collection, entityID, eventID string, _ time.Time) (bool, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	key := collection + ":" + entityID
	if f.s.ledger[key] == nil {
		f.s.ledger[key] = map[string]bool{}
	}
	if f.s.ledger[key][eventID] {
		return false, nil
	}
	f.s.ledger[key][eventID] = true
	return true, nil
}

func (f fakeLedger) Forget(_ context.Context, collection, entityID, eventID string) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	delete(f.s.ledger[collection+":"+entityID], eventID)
	return nil
}

type MockCarrier struct {
	mock.Mock
}

func (m *MockCarrier) CreateShipment(ctx context.Context, o *model.Order) (model.CarrierDetails, error) {
	args := m.Called(ctx, o)
	return args.Get(0).(model.CarrierDetails), args.Error(1)
}

func (m *MockCarrier) AssignAWB(ctx context.Context, carrierShipmentID string) (string, string, error) {
	args := m.Called(ctx, carrierShipmentID)
	return args.String(0), args.String(1), args.Error(2)
}

func (m *MockCarrier) GeneratePickup(ctx context.Context, carrierShipmentID string) error {
	args := m.Called(ctx, carrierShipmentID)
	return args.Error(0)
}

func (m *MockCarrier) CancelOrder(ctx context.Context, carrierOrderID string) error {
	args := m.Called(ctx, carrierOrderID)
	return args.Error(0)
}

type MockRefunder struct {
	mock.Mock
}

func (m *MockRefunder) Refund(ctx context.Context, p *model.Payment, amount int64, refundID string) (*gateway.RefundResult, error) {
	args := m.Called(ctx, p, amount, refundID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gateway.RefundResult), args.Error(1)
}

type recordingBus struct {
	mu     sync.Mutex
	events []events.Event
}

func (b *recordingBus) Publish(_ context.Context, e events.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, e)
}

func (b *recordingBus) names() []events.Name {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]events.Name, 0, len(b.events))
	for _, e := range b.events {
		out = append(out, e.Name)
	}
	return out
}

var okDetails = model.CarrierDetails{
	CarrierOrderID:    "555",
	CarrierShipmentID: "777",
	AWBNumber:         "AWB123",
	CourierName:       "Delhivery",
	TrackingURL:       "https://shiprocket.co/tracking/AWB123",
}

func seedOrder(s *memStore, id string, status model.OrderStatus) *model.Order {
	o := &model.Order{
		ID:            id,
		OrderNumber:   "ORD-" + id,
		UserID:        "u1",
		Status:        status,
		PaymentMethod: model.PaymentMethodPrepaid,
		Items: []model.OrderItem{
			{ProductID: "prod-1", Name: "Tee", Price: 49900, Quantity: 2},
			{ProductID: "prod-2", Name: "Cap", Price: 4900, Quantity: 1},
		},
		TotalAmount: 104700,
		StatusHistory: []model.StatusRecord{
			{Status: status, Source: "test", Timestamp: time.Now().UTC()},
		},
	}
	s.orders[id] = cloneOrder(o)
	return o
}

func seedPayment(s *memStore, id, providerOrderID, orderID string, status model.PaymentStatus) *model.Payment {
	p := &model.Payment{
		ID:              id,
		OrderID:         orderID,
		UserID:          "u1",
		Provider:        "phonepe",
		ProviderOrderID: providerOrderID,
		Amount:          104700,
		Currency:        "INR",
		Status:          status,
	}
	s.payments[id] = clonePayment(p)
	return p
}

type testEnv struct {
	store    *memStore
	products *fakeProducts
	carrier  *MockCarrier
	refunder *MockRefunder
	bus      *recordingBus
	guard    *IdempotencyGuard
	stock    *StockGuard
	orch     *ShipmentOrchestrator
	payments *PaymentReconciler
	tracking *ShipmentReconciler
	refunds  *RefundService
	admin    *AdminService
	intake   *OrderIntake
}

func newTestEnv() *testEnv {
	logger := zap.NewNop()
	store := newMemStore()
	store.stock["prod-1"] = 10
	store.stock["prod-2"] = 5

	env := &testEnv{
		store:    store,
		products: &fakeProducts{s: store},
		carrier:  &MockCarrier{},
		refunder: &MockRefunder{},
		bus:      &recordingBus{},
	}
	payments, orders, shipments := fakePayments{store}, fakeOrders{store}, fakeShipments{store}

	env.guard = NewIdempotencyGuard(fakeLedger{store}, logger)
	env.stock = NewStockGuard(orders, env.products, logger)
	env.orch = NewShipmentOrchestrator(shipments, orders, env.carrier, OrchestratorOptions{Timeout: time.Second}, logger)
	env.payments = NewPaymentReconciler(payments, orders, env.guard, env.stock, env.orch, env.bus, logger)
	env.tracking = NewShipmentReconciler(shipments, orders, env.guard, env.bus, logger)
	env.refunds = NewRefundService(fakeRefunds{store}, payments, gateway.Registry{"phonepe": env.refunder}, env.bus,
		RefundOptions{GracePeriod: 72 * time.Hour, Timeout: time.Second}, logger)
	env.admin = NewAdminService(orders, shipments, env.carrier, env.bus, time.Second, logger)
	env.intake = NewOrderIntake(orders, payments, env.bus, logger)
	return env
}
