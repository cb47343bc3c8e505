package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/mmeshcher/storefront/internal/exchange"
	"github.com/mmeshcher/storefront/internal/inventory"
	"github.com/mmeshcher/storefront/internal/middleware"
	"github.com/mmeshcher/storefront/internal/model"
	"github.com/mmeshcher/storefront/internal/order"
	"github.com/mmeshcher/storefront/internal/payment"
)

type stubOrders struct {
	err error

	createReq   order.CreateRequest
	createActor model.Actor

	ref    string
	access order.GuestAccess
	reason string
	filter model.OrderFilter
	update order.UpdateRequest

	list  []model.Order
	total int
}

func (s *stubOrders) Create(_ context.Context, actor model.Actor, req order.CreateRequest) (*order.CreateResult, error) {
	s.createActor, s.createReq = actor, req
	if s.err != nil {
		return nil, s.err
	}
	res := &order.CreateResult{Order: &model.Order{ID: uuid.New(), Number: "20261015-000000003", Status: model.OrderStatusPending}}
	if actor.IsGuest() {
		res.GuestToken = "guest-token"
	}
	return res, nil
}

func (s *stubOrders) Get(_ context.Context, _ model.Actor, ref string, access order.GuestAccess) (*model.Order, error) {
	s.ref, s.access = ref, access
	if s.err != nil {
		return nil, s.err
	}
	return &model.Order{Number: ref}, nil
}

func (s *stubOrders) List(_ context.Context, _ model.Actor, f model.OrderFilter) ([]model.Order, int, error) {
	s.filter = f
	return s.list, s.total, s.err
}

func (s *stubOrders) Cancel(_ context.Context, _ model.Actor, ref string, access order.GuestAccess, reason string) (*model.Order, error) {
	s.ref, s.access, s.reason = ref, access, reason
	if s.err != nil {
		return nil, s.err
	}
	return &model.Order{Number: ref, Status: model.OrderStatusCancelled}, nil
}

func (s *stubOrders) Update(_ context.Context, _ model.Actor, ref string, req order.UpdateRequest) (*model.Order, error) {
	s.ref, s.update = ref, req
	if s.err != nil {
		return nil, s.err
	}
	return &model.Order{Number: ref}, nil
}

type stubExchanges struct {
	err error

	id        uuid.UUID
	cancelled bool
	status    exchange.StatusRequest
	filter    model.ExchangeFilter
	page      model.Page
}

func (s *stubExchanges) Create(_ context.Context, _ model.Actor, req exchange.CreateRequest) (*model.ExchangeReturn, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &model.ExchangeReturn{ID: uuid.New(), OrderID: req.OrderID, Status: model.ExchangePending}, nil
}

func (s *stubExchanges) Get(_ context.Context, _ model.Actor, id uuid.UUID) (*model.ExchangeReturn, error) {
	s.id = id
	if s.err != nil {
		return nil, s.err
	}
	return &model.ExchangeReturn{ID: id}, nil
}

func (s *stubExchanges) List(_ context.Context, _ model.Actor, f model.ExchangeFilter) ([]model.ExchangeReturn, int, error) {
	s.filter = f
	return nil, 0, s.err
}

func (s *stubExchanges) Cancel(_ context.Context, _ model.Actor, id uuid.UUID) (*model.ExchangeReturn, error) {
	s.id, s.cancelled = id, true
	if s.err != nil {
		return nil, s.err
	}
	return &model.ExchangeReturn{ID: id, Status: model.ExchangeCancelled}, nil
}

func (s *stubExchanges) UpdateStatus(_ context.Context, _ model.Actor, id uuid.UUID, req exchange.StatusRequest) (*model.ExchangeReturn, error) {
	s.id, s.status = id, req
	if s.err != nil {
		return nil, s.err
	}
	return &model.ExchangeReturn{ID: id, Status: req.Status}, nil
}

func (s *stubExchanges) RefundFailures(_ context.Context, _ model.Actor, page model.Page) ([]model.RefundFailure, int, error) {
	s.page = page
	return []model.RefundFailure{{ID: 1, Provider: "toss"}}, 1, s.err
}

type stubPoints struct {
	err     error
	userID  uuid.UUID
	amount  int64
	balance int64
}

func (s *stubPoints) Earn(_ context.Context, userID uuid.UUID, amount int64, description string, orderID *uuid.UUID) (model.PointEntry, error) {
	s.userID, s.amount = userID, amount
	return model.PointEntry{UserID: userID, Type: model.PointEarn, Amount: amount, Description: description, OrderID: orderID}, s.err
}

func (s *stubPoints) Use(_ context.Context, userID uuid.UUID, amount int64, description string, orderID *uuid.UUID) (model.PointEntry, error) {
	s.userID, s.amount = userID, amount
	return model.PointEntry{UserID: userID, Type: model.PointUse, Amount: -amount, Description: description, OrderID: orderID}, s.err
}

func (s *stubPoints) Balance(_ context.Context, userID uuid.UUID) (int64, error) {
	s.userID = userID
	return s.balance, s.err
}

func (s *stubPoints) History(_ context.Context, userID uuid.UUID, _ model.Page) ([]model.PointEntry, int, error) {
	s.userID = userID
	return nil, 0, s.err
}

type testServer struct {
	t         *testing.T
	handler   http.Handler
	auth      *middleware.AuthMiddleware
	orders    *stubOrders
	exchanges *stubExchanges
	points    *stubPoints
	logs      *observer.ObservedLogs
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	core, logs := observer.New(zapcore.InfoLevel)
	ts := &testServer{
		t:         t,
		auth:      middleware.NewAuthMiddleware("test-secret"),
		orders:    &stubOrders{},
		exchanges: &stubExchanges{},
		points:    &stubPoints{},
		logs:      logs,
	}
	h := NewHandler(ts.orders, ts.exchanges, ts.points, zap.New(core), ts.auth)
	ts.handler = h.SetupRouter(nil)
	return ts
}

func (ts *testServer) token(role model.Role) (string, uuid.UUID) {
	ts.t.Helper()
	id := uuid.New()
	token, err := ts.auth.Issue(id, role, time.Hour)
	require.NoError(ts.t, err)
	return token, id
}

func (ts *testServer) do(method, target, token, body string) *httptest.ResponseRecorder {
	ts.t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v))
	return v
}

const orderBody = `{
	"items": [{"productId": "0b7f5c1a-3c1e-4a5e-9f57-8a2b1e0c9d11", "name": "T-shirt", "quantity": 2, "unitPrice": 10000}],
	"shipping": {"recipientName": "Kim", "phone": "010-1234-5678", "address1": "Seoul"},
	"guest": {"email": "guest@example.com"}
}`

func TestCreateOrderAsGuest(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(http.MethodPost, "/orders", "", orderBody)

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	res := decodeBody[order.CreateResult](t, rec)
	assert.Equal(t, "guest-token", res.GuestToken)
	assert.True(t, ts.orders.createActor.IsGuest())
	require.Len(t, ts.orders.createReq.Items, 1)
	assert.Equal(t, 2, ts.orders.createReq.Items[0].Quantity)
	assert.Equal(t, "guest@example.com", ts.orders.createReq.Guest.Email)
}

func TestCreateOrderAsCustomer(t *testing.T) {
	ts := newTestServer(t)
	token, userID := ts.token(model.RoleCustomer)

	rec := ts.do(http.MethodPost, "/orders", token, orderBody)

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, userID, ts.orders.createActor.UserID)
	assert.Empty(t, decodeBody[order.CreateResult](t, rec).GuestToken)
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		body     string
		wantCode int
		wantErr  string
	}{
		{name: "malformed body", body: `{"items":`, wantCode: http.StatusBadRequest, wantErr: "validation_failed"},
		{name: "insufficient stock", err: inventory.ErrInsufficientStock.Withf("available 0"), wantCode: http.StatusConflict, wantErr: "insufficient_stock"},
		{name: "duplicate payment", err: order.ErrDuplicatePayment, wantCode: http.StatusConflict, wantErr: "duplicate_payment"},
		{name: "verification failed", err: payment.ErrVerificationFailed, wantCode: http.StatusBadGateway, wantErr: "payment_verification_failed"},
		{name: "invalid transition", err: model.ErrInvalidTransition, wantCode: http.StatusConflict, wantErr: "invalid_transition"},
		{name: "internal", err: errors.New("connection reset"), wantCode: http.StatusInternalServerError, wantErr: "internal"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t)
			ts.orders.err = tt.err
			body := tt.body
			if body == "" {
				body = orderBody
			}

			rec := ts.do(http.MethodPost, "/orders", "", body)

			assert.Equal(t, tt.wantCode, rec.Code)
			resp := decodeBody[errorResponse](t, rec)
			assert.Equal(t, tt.wantErr, resp.Code)
			assert.NotEmpty(t, resp.Error)
		})
	}
}

func TestInternalErrorsAreLoggedNotLeaked(t *testing.T) {
	ts := newTestServer(t)
	ts.orders.err = errors.New("pq: secret table missing")

	rec := ts.do(http.MethodPost, "/orders", "", orderBody)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "secret table")
	assert.Equal(t, 1, ts.logs.FilterMessage("request failed").Len())
}

func TestListOrders(t *testing.T) {
	ts := newTestServer(t)
	token, _ := ts.token(model.RoleAdmin)
	ts.orders.list = []model.Order{{Number: "a"}, {Number: "b"}}
	ts.orders.total = 45

	rec := ts.do(http.MethodGet, "/orders?page=2&limit=20&status=paid", token, "")

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeBody[listResponse[model.Order]](t, rec)
	assert.Len(t, resp.Items, 2)
	assert.Equal(t, pagination{Page: 2, Limit: 20, Total: 45, TotalPages: 3}, resp.Pagination)
	assert.Equal(t, model.OrderStatusPaid, ts.orders.filter.Status)
	assert.Equal(t, 2, ts.orders.filter.Page.Page)
}

func TestListOrdersEmptyItems(t *testing.T) {
	ts := newTestServer(t)
	token, _ := ts.token(model.RoleCustomer)

	rec := ts.do(http.MethodGet, "/orders", token, "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"items":[]`)
}

func TestListOrdersRejects(t *testing.T) {
	ts := newTestServer(t)
	token, _ := ts.token(model.RoleCustomer)

	tests := []struct {
		name   string
		target string
		token  string
		want   int
	}{
		{name: "no token", target: "/orders", want: http.StatusUnauthorized},
		{name: "bad page", target: "/orders?page=x", token: token, want: http.StatusBadRequest},
		{name: "bad user id", target: "/orders?userId=42", token: token, want: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.do(http.MethodGet, tt.target, tt.token, "")
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestGetOrderPassesGuestAccess(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(http.MethodGet, "/orders/20261015-000000003?token=abc&phone=010", "", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "20261015-000000003", ts.orders.ref)
	assert.Equal(t, order.GuestAccess{Token: "abc", Phone: "010"}, ts.orders.access)
}

func TestUpdateOrderRequiresAdmin(t *testing.T) {
	ts := newTestServer(t)
	customer, _ := ts.token(model.RoleCustomer)
	admin, _ := ts.token(model.RoleAdmin)
	id := uuid.NewString()

	rec := ts.do(http.MethodPut, "/orders/"+id, customer, `{"status":"paid"}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = ts.do(http.MethodPut, "/orders/"+id, admin, `{"status":"fulfilled","note":"shipped"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, id, ts.orders.ref)
	require.NotNil(t, ts.orders.update.Status)
	assert.Equal(t, model.OrderStatusFulfilled, *ts.orders.update.Status)
	assert.Equal(t, "shipped", ts.orders.update.Note)
}

func TestCancelOrder(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(http.MethodPost, "/orders/20261015-000000003/cancel", "", `{"reason":"changed mind","token":"t0k"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "changed mind", ts.orders.reason)
	assert.Equal(t, "t0k", ts.orders.access.Token)

	rec = ts.do(http.MethodPost, "/orders/20261015-000000003/cancel?email=a@b.c", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, ts.orders.reason)
	assert.Equal(t, "a@b.c", ts.orders.access.Email)
}

func TestExchangeRoutes(t *testing.T) {
	ts := newTestServer(t)
	token, _ := ts.token(model.RoleCustomer)
	id := uuid.New()

	rec := ts.do(http.MethodGet, "/exchange-returns/not-a-uuid", token, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(http.MethodGet, "/exchange-returns/"+id.String(), token, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, id, ts.exchanges.id)

	rec = ts.do(http.MethodDelete, "/exchange-returns/"+id.String(), token, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, ts.exchanges.cancelled)

	rec = ts.do(http.MethodPut, "/exchange-returns/"+id.String()+"/status", token,
		`{"status":"completed","refundAmount":15000,"adminNote":"ok"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, model.ExchangeCompleted, ts.exchanges.status.Status)
	require.NotNil(t, ts.exchanges.status.RefundAmount)
	assert.Equal(t, int64(15000), *ts.exchanges.status.RefundAmount)

	orderID := uuid.New()
	rec = ts.do(http.MethodGet, "/exchange-returns?orderId="+orderID.String()+"&status=pending", token, "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, ts.exchanges.filter.OrderID)
	assert.Equal(t, orderID, *ts.exchanges.filter.OrderID)
	assert.Equal(t, model.ExchangePending, ts.exchanges.filter.Status)

	rec = ts.do(http.MethodPost, "/exchange-returns", "", `{}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCreateExchangeReturn(t *testing.T) {
	ts := newTestServer(t)
	token, _ := ts.token(model.RoleCustomer)
	orderID := uuid.New()

	rec := ts.do(http.MethodPost, "/exchange-returns", token, `{"orderId":"`+orderID.String()+`",
		"items":[{"productId":"`+uuid.NewString()+`","quantity":1}],
		"reasonCode":"defective","solution":"return-refund","collectionDate":"2026-10-20T00:00:00Z"}`)

	require.Equal(t, http.StatusCreated, rec.Code)
	e := decodeBody[model.ExchangeReturn](t, rec)
	assert.Equal(t, orderID, e.OrderID)
}

func TestRefundFailuresAdminOnly(t *testing.T) {
	ts := newTestServer(t)
	customer, _ := ts.token(model.RoleCustomer)
	admin, _ := ts.token(model.RoleAdmin)

	assert.Equal(t, http.StatusForbidden, ts.do(http.MethodGet, "/refund-failures", customer, "").Code)

	rec := ts.do(http.MethodGet, "/refund-failures?limit=5", admin, "")
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeBody[listResponse[model.RefundFailure]](t, rec)
	require.Len(t, resp.Items, 1)
	assert.Equal(t, 5, ts.exchanges.page.Limit)
	assert.Equal(t, 1, resp.Pagination.TotalPages)
}

func TestPoints(t *testing.T) {
	ts := newTestServer(t)
	customer, customerID := ts.token(model.RoleCustomer)
	admin, _ := ts.token(model.RoleAdmin)
	ts.points.balance = 1500

	rec := ts.do(http.MethodGet, "/points", customer, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, balanceResponse{UserID: customerID, Balance: 1500}, decodeBody[balanceResponse](t, rec))

	rec = ts.do(http.MethodGet, "/points/history", customer, "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(http.MethodPost, "/points/use", customer, `{"amount":0,"description":"gift"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(http.MethodPost, "/points/use", customer, `{"amount":300,"description":"gift"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, customerID, ts.points.userID)
	assert.Equal(t, int64(300), ts.points.amount)

	body := `{"userId":"` + customerID.String() + `","amount":1000,"description":"event"}`
	assert.Equal(t, http.StatusForbidden, ts.do(http.MethodPost, "/points/earn", customer, body).Code)

	rec = ts.do(http.MethodPost, "/points/earn", admin, body)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, int64(1000), decodeBody[model.PointEntry](t, rec).Amount)
}

func TestUnknownRoute(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(http.MethodGet, "/nope", "", "")

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "route_not_found", decodeBody[errorResponse](t, rec).Code)
}
