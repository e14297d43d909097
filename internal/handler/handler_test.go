package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mmeshcher/campus-preorder/internal/draftstore"
	"github.com/mmeshcher/campus-preorder/internal/middleware"
	"github.com/mmeshcher/campus-preorder/internal/model"
	"github.com/mmeshcher/campus-preorder/internal/payment"
	"github.com/mmeshcher/campus-preorder/internal/repository"
	"github.com/mmeshcher/campus-preorder/internal/service"
)

var (
	testDiner = model.Actor{ID: "d1", Role: model.RoleDiner}
	testStaff = model.Actor{ID: "s1", Role: model.RoleStaff, RestaurantID: "r1"}
)

type stubService struct {
	order      *model.Order
	created    bool
	orders     []model.Order
	err        error
	gotActor   model.Actor
	gotStatus  model.OrderStatus
	gotOTP     string
	gotLabel   string
	gotFilters []model.OrderStatus
}

func (s *stubService) CreateDraft(ctx context.Context, actor model.Actor, req service.DraftRequest) (*model.Draft, error) {
	s.gotActor = actor
	if s.err != nil {
		return nil, s.err
	}
	return &model.Draft{ID: "draft-1", Intent: model.PaymentIntent{ID: "order_1", Amount: 110, Currency: "INR"}}, nil
}

func (s *stubService) ConfirmPayment(ctx context.Context, actor model.Actor, a model.PaymentAssertion, d model.Draft) (*model.Order, bool, error) {
	s.gotActor = actor
	return s.order, s.created, s.err
}

func (s *stubService) GetOrder(ctx context.Context, actor model.Actor, id string) (*model.Order, error) {
	s.gotActor = actor
	return s.order, s.err
}

func (s *stubService) ListDinerOrders(ctx context.Context, actor model.Actor, statuses []model.OrderStatus, limit int) ([]model.Order, error) {
	s.gotActor = actor
	s.gotFilters = statuses
	return s.orders, s.err
}

func (s *stubService) ListRestaurantOrders(ctx context.Context, actor model.Actor, statuses []model.OrderStatus, limit int) ([]model.Order, error) {
	s.gotActor = actor
	s.gotFilters = statuses
	return s.orders, s.err
}

func (s *stubService) Cancel(ctx context.Context, actor model.Actor, id string) (*model.Order, error) {
	s.gotActor = actor
	return s.order, s.err
}

func (s *stubService) AdvanceStatus(ctx context.Context, actor model.Actor, id string, to model.OrderStatus) (*model.Order, error) {
	s.gotActor = actor
	s.gotStatus = to
	return s.order, s.err
}

func (s *stubService) Complete(ctx context.Context, actor model.Actor, id, otp string) (*model.Order, error) {
	s.gotActor = actor
	s.gotOTP = otp
	return s.order, s.err
}

func (s *stubService) SetSlotCapacity(ctx context.Context, actor model.Actor, label string, maxOrders int) (*model.Slot, error) {
	s.gotActor = actor
	s.gotLabel = label
	if s.err != nil {
		return nil, s.err
	}
	return &model.Slot{Label: label, MaxOrders: maxOrders}, nil
}

func (s *stubService) ListReconciliations(ctx context.Context, actor model.Actor) ([]model.Reconciliation, error) {
	s.gotActor = actor
	return nil, s.err
}

func newTestHandler(t *testing.T, svc Service) *Handler {
	t.Helper()

	logger, err := zap.NewDevelopment()
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}

	auth := middleware.NewAuthMiddleware("test-secret")

	return NewHandler(svc, logger, auth)
}

func doRequest(t *testing.T, h *Handler, actor *model.Actor, method, path string, body any) *http.Response {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if actor != nil {
		req.AddCookie(&http.Cookie{Name: middleware.AuthCookieName, Value: h.authMiddleware.Token(*actor)})
	}

	rec := httptest.NewRecorder()
	h.SetupRouter().ServeHTTP(rec, req)
	return rec.Result()
}

func decodeError(t *testing.T, res *http.Response) errorResponse {
	t.Helper()
	defer res.Body.Close()
	var e errorResponse
	require.NoError(t, json.NewDecoder(res.Body).Decode(&e))
	return e
}

func sampleOrder() *model.Order {
	return &model.Order{
		ID:            "o1",
		Number:        7,
		DinerID:       "d1",
		RestaurantID:  "r1",
		Items:         []model.LineItem{{ItemID: "i1", Name: "Dosa", Price: 100, Quantity: 1}},
		Kind:          model.OrderKindDining,
		Subtotal:      100,
		ServiceCharge: 10,
		Total:         110,
		Status:        model.OrderStatusPending,
		OTP:           "4821",
		CreatedAt:     time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestHealth(t *testing.T) {
	h := newTestHandler(t, &stubService{})
	res := doRequest(t, h, nil, http.MethodGet, "/api/health", nil)
	defer res.Body.Close()
	assert.Equal(t, http.StatusOK, res.StatusCode)
}

func TestProtectedRoutesRequireCookie(t *testing.T) {
	h := newTestHandler(t, &stubService{})
	res := doRequest(t, h, nil, http.MethodGet, "/api/orders", nil)
	defer res.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
}

func TestCreateDraft_Created(t *testing.T) {
	svc := &stubService{}
	h := newTestHandler(t, svc)

	res := doRequest(t, h, &testDiner, http.MethodPost, "/api/orders/draft", draftRequest{
		RestaurantID: "r1",
		Items:        []model.CartLine{{ItemID: "i1", Quantity: 1}},
		OrderKind:    model.OrderKindDining,
	})
	defer res.Body.Close()

	require.Equal(t, http.StatusCreated, res.StatusCode)
	var body struct {
		Draft         model.Draft         `json:"draft"`
		PaymentIntent model.PaymentIntent `json:"paymentIntent"`
	}
	require.NoError(t, json.NewDecoder(res.Body).Decode(&body))
	assert.Equal(t, "draft-1", body.Draft.ID)
	assert.Equal(t, "order_1", body.PaymentIntent.ID)
	assert.Equal(t, testDiner, svc.gotActor)
}

func TestCreateDraft_MalformedBody(t *testing.T) {
	h := newTestHandler(t, &stubService{})

	req := httptest.NewRequest(http.MethodPost, "/api/orders/draft", bytes.NewBufferString("{"))
	req.AddCookie(&http.Cookie{Name: middleware.AuthCookieName, Value: h.authMiddleware.Token(testDiner)})
	rec := httptest.NewRecorder()
	h.SetupRouter().ServeHTTP(rec, req)

	res := rec.Result()
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
	assert.Equal(t, service.KindValidation, decodeError(t, res).Error)
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		err    error
		status int
		kind   string
	}{
		{fmt.Errorf("%w: cart is empty", service.ErrValidation), http.StatusBadRequest, service.KindValidation},
		{fmt.Errorf("%w: r1", service.ErrRestaurantClosed), http.StatusConflict, service.KindRestaurantClosed},
		{fmt.Errorf("%w: 12:00-12:15", service.ErrSlotUnavailable), http.StatusConflict, service.KindSlotUnavailable},
		{fmt.Errorf("%w: i3", service.ErrItemUnavailable), http.StatusConflict, service.KindItemUnavailable},
		{fmt.Errorf("%w: down", service.ErrPaymentGateway), http.StatusBadGateway, service.KindPaymentGateway},
		{fmt.Errorf("%w: x", service.ErrForbidden), http.StatusForbidden, service.KindForbidden},
		{fmt.Errorf("%w: storage: boom", service.ErrStorage), http.StatusServiceUnavailable, service.KindStorage},
	}

	for _, tt := range tests {
		t.Run(tt.kind, func(t *testing.T) {
			h := newTestHandler(t, &stubService{err: tt.err})
			res := doRequest(t, h, &testDiner, http.MethodPost, "/api/orders/draft", draftRequest{RestaurantID: "r1"})
			assert.Equal(t, tt.status, res.StatusCode)
			e := decodeError(t, res)
			assert.Equal(t, tt.kind, e.Error)
			assert.NotEmpty(t, e.Message)
		})
	}
}

func TestConfirmPayment_CreatedAndReplay(t *testing.T) {
	svc := &stubService{order: sampleOrder(), created: true}
	h := newTestHandler(t, svc)
	body := confirmRequest{Payment: model.PaymentAssertion{IntentID: "order_1"}}

	res := doRequest(t, h, &testDiner, http.MethodPost, "/api/orders/confirm", body)
	defer res.Body.Close()
	require.Equal(t, http.StatusCreated, res.StatusCode)

	var got orderResponse
	require.NoError(t, json.NewDecoder(res.Body).Decode(&got))
	assert.Equal(t, "o1", got.ID)
	assert.EqualValues(t, 110, got.Total)
	assert.Equal(t, "pending", got.Status)
	assert.Equal(t, "4821", got.OTP)
	assert.Empty(t, got.ConfirmedAt)

	svc.created = false
	res = doRequest(t, h, &testDiner, http.MethodPost, "/api/orders/confirm", body)
	defer res.Body.Close()
	assert.Equal(t, http.StatusOK, res.StatusCode)
}

func TestConfirmPayment_SignatureMismatch(t *testing.T) {
	h := newTestHandler(t, &stubService{err: payment.ErrVerification})

	res := doRequest(t, h, &testDiner, http.MethodPost, "/api/orders/confirm", confirmRequest{})
	assert.Equal(t, http.StatusPaymentRequired, res.StatusCode)
	assert.Equal(t, service.KindPaymentVerification, decodeError(t, res).Error)
}

func TestGetOrders_NoContent(t *testing.T) {
	h := newTestHandler(t, &stubService{orders: []model.Order{}})

	res := doRequest(t, h, &testDiner, http.MethodGet, "/api/orders", nil)
	defer res.Body.Close()
	assert.Equal(t, http.StatusNoContent, res.StatusCode)
}

func TestGetOrders_StatusFilter(t *testing.T) {
	svc := &stubService{orders: []model.Order{*sampleOrder()}}
	h := newTestHandler(t, svc)

	res := doRequest(t, h, &testDiner, http.MethodGet, "/api/orders?status=pending,ready&status=confirmed", nil)
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, []model.OrderStatus{model.OrderStatusPending, model.OrderStatusReady, model.OrderStatusConfirmed}, svc.gotFilters)

	var got []orderResponse
	require.NoError(t, json.NewDecoder(res.Body).Decode(&got))
	require.Len(t, got, 1)
	assert.EqualValues(t, 7, got[0].Number)

	res = doRequest(t, h, &testDiner, http.MethodGet, "/api/orders?status=shipped", nil)
	defer res.Body.Close()
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
}

func TestGetRestaurantOrders_BadLimit(t *testing.T) {
	h := newTestHandler(t, &stubService{})

	res := doRequest(t, h, &testStaff, http.MethodGet, "/api/restaurant/orders?limit=-1", nil)
	defer res.Body.Close()
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
}

func TestAdvanceStatus(t *testing.T) {
	o := sampleOrder()
	o.Status = model.OrderStatusConfirmed
	svc := &stubService{order: o}
	h := newTestHandler(t, svc)

	res := doRequest(t, h, &testStaff, http.MethodPut, "/api/orders/o1/status", statusRequest{Status: "confirmed"})
	defer res.Body.Close()
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, model.OrderStatusConfirmed, svc.gotStatus)
	assert.Equal(t, testStaff, svc.gotActor)

	res = doRequest(t, h, &testStaff, http.MethodPut, "/api/orders/o1/status", statusRequest{Status: "CONFIRMED"})
	defer res.Body.Close()
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
}

func TestCompleteOrder_InvalidOTP(t *testing.T) {
	svc := &stubService{err: fmt.Errorf("%w: order o1", service.ErrInvalidOTP)}
	h := newTestHandler(t, svc)

	res := doRequest(t, h, &testStaff, http.MethodPut, "/api/orders/o1/complete", completeRequest{OTP: "0000"})
	assert.Equal(t, http.StatusUnprocessableEntity, res.StatusCode)
	assert.Equal(t, service.KindInvalidOTP, decodeError(t, res).Error)
	assert.Equal(t, "0000", svc.gotOTP)
}

func TestCompleteOrder_MissingOTP(t *testing.T) {
	h := newTestHandler(t, &stubService{})

	res := doRequest(t, h, &testStaff, http.MethodPut, "/api/orders/o1/complete", completeRequest{})
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
	assert.Equal(t, service.KindValidation, decodeError(t, res).Error)
}

func TestCancelOrder_NotCancellable(t *testing.T) {
	h := newTestHandler(t, &stubService{err: fmt.Errorf("%w: order o1 is preparing", service.ErrNotCancellable)})

	res := doRequest(t, h, &testDiner, http.MethodPost, "/api/orders/o1/cancel", nil)
	assert.Equal(t, http.StatusConflict, res.StatusCode)
	assert.Equal(t, service.KindNotCancellable, decodeError(t, res).Error)
}

func TestSetSlotCapacity(t *testing.T) {
	svc := &stubService{}
	h := newTestHandler(t, svc)

	maxOrders := 4
	res := doRequest(t, h, &testStaff, http.MethodPut, "/api/restaurant/slots/12%3A35-12%3A45", slotRequest{MaxOrders: &maxOrders})
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "12:35-12:45", svc.gotLabel)

	res = doRequest(t, h, &testStaff, http.MethodPut, "/api/restaurant/slots/12:35-12:45", map[string]any{})
	defer res.Body.Close()
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
}

// TestOrderFlow проходит весь путь заказа через HTTP с настоящим движком и хранилищем в памяти.
func TestOrderFlow(t *testing.T) {
	const secret = "processor-secret"

	processor := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Amount   int64  `json:"amount"`
			Currency string `json:"currency"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"id": "order_flow", "amount": req.Amount, "currency": req.Currency})
	}))
	defer processor.Close()

	repo := repository.NewMemoryRepository()
	repo.PutRestaurant(model.Restaurant{
		ID:              "r1",
		Availability:    true,
		PreOrderEnabled: true,
		Slots:           []model.Slot{{Label: "12:35-12:45", MaxOrders: 1}},
	})
	repo.PutMenuItem(model.MenuItem{ID: "i1", RestaurantID: "r1", Name: "Dosa", Price: 100, Available: true})

	svc := service.NewService(repo, payment.NewGate(processor.URL, "key", secret), draftstore.NewMemoryStore(), nil, zap.NewNop(),
		service.WithOTPGenerator(func() (string, error) { return "4821", nil }))
	h := newTestHandler(t, svc)

	res := doRequest(t, h, &testDiner, http.MethodPost, "/api/orders/draft", draftRequest{
		RestaurantID: "r1",
		Items:        []model.CartLine{{ItemID: "i1", Quantity: 1}},
		OrderKind:    model.OrderKindTakeaway,
		IsPreOrder:   true,
		Slot:         "12:35-12:45",
	})
	require.Equal(t, http.StatusCreated, res.StatusCode)
	var dr struct {
		Draft model.Draft `json:"draft"`
	}
	require.NoError(t, json.NewDecoder(res.Body).Decode(&dr))
	res.Body.Close()
	assert.EqualValues(t, 110, dr.Draft.Total)

	res = doRequest(t, h, &testDiner, http.MethodPost, "/api/orders/confirm", confirmRequest{
		Payment: model.PaymentAssertion{
			IntentID:          "order_flow",
			ExternalOrderID:   "order_flow",
			ExternalPaymentID: "pay_flow",
			Signature:         payment.Sign(secret, "order_flow", "pay_flow"),
		},
		Draft: dr.Draft,
	})
	require.Equal(t, http.StatusCreated, res.StatusCode)
	var placed orderResponse
	require.NoError(t, json.NewDecoder(res.Body).Decode(&placed))
	res.Body.Close()
	assert.Equal(t, "4821", placed.OTP)

	for _, st := range []string{"confirmed", "preparing", "ready"} {
		res = doRequest(t, h, &testStaff, http.MethodPut, "/api/orders/"+placed.ID+"/status", statusRequest{Status: st})
		res.Body.Close()
		require.Equal(t, http.StatusOK, res.StatusCode, st)
	}

	res = doRequest(t, h, &testStaff, http.MethodGet, "/api/orders/"+placed.ID, nil)
	var staffView orderResponse
	require.NoError(t, json.NewDecoder(res.Body).Decode(&staffView))
	res.Body.Close()
	assert.Empty(t, staffView.OTP)
	assert.NotEmpty(t, staffView.ReadyAt)

	res = doRequest(t, h, &testStaff, http.MethodPut, "/api/orders/"+placed.ID+"/complete", completeRequest{OTP: "4821"})
	var done orderResponse
	require.NoError(t, json.NewDecoder(res.Body).Decode(&done))
	res.Body.Close()
	assert.Equal(t, "completed", done.Status)

	r, err := repo.GetRestaurant(context.Background(), "r1")
	require.NoError(t, err)
	assert.EqualValues(t, 110, r.TotalRevenue)
	assert.Equal(t, 0, r.Slots[0].CurrentOrders)
}
