package exchange_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/mmeshcher/storefront/internal/apperr"
	"github.com/mmeshcher/storefront/internal/exchange"
	"github.com/mmeshcher/storefront/internal/inventory"
	"github.com/mmeshcher/storefront/internal/model"
	"github.com/mmeshcher/storefront/internal/payment"
	"github.com/mmeshcher/storefront/internal/repository/memstore"
)

type cancelCall struct {
	transactionID string
	amount        int64
}

type stubGateway struct {
	mu        sync.Mutex
	cancelErr error
	cancels   []cancelCall
}

func (g *stubGateway) Provider() string { return "stub" }

func (g *stubGateway) Verify(context.Context, payment.VerifyRequest, int64) (*payment.Info, error) {
	return nil, errors.New("not used")
}

func (g *stubGateway) Cancel(_ context.Context, txID string, amount int64, _ string) (*payment.CancelResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cancels = append(g.cancels, cancelCall{transactionID: txID, amount: amount})
	if g.cancelErr != nil {
		return nil, g.cancelErr
	}
	return &payment.CancelResult{Provider: "stub", TransactionID: txID, CancelledAmount: amount, CancelledAt: time.Now()}, nil
}

type fixture struct {
	store    *memstore.Store
	workflow *exchange.Workflow
	gw       *stubGateway
	logs     *observer.ObservedLogs
	customer model.Actor
	admin    model.Actor
	order    *model.Order
	shirt    uuid.UUID
	hat      uuid.UUID
}

// newFixture заводит оплаченный заказ покупателя на две позиции с зарезервированным товаром.
func newFixture(t *testing.T) *fixture {
	t.Helper()

	store := memstore.New()
	gw := &stubGateway{}
	core, logs := observer.New(zap.InfoLevel)

	f := &fixture{
		store: store,
		gw:    gw,
		logs:  logs,
		workflow: exchange.NewWorkflow(exchange.Deps{
			Store:     store,
			Inventory: inventory.NewLedger(store, nil),
			Gateways:  payment.NewRegistry(gw),
			Logger:    zap.New(core),
		}),
		customer: model.Actor{UserID: uuid.New(), Role: model.RoleCustomer},
		admin:    model.Actor{UserID: uuid.New(), Role: model.RoleAdmin},
		shirt:    uuid.New(),
		hat:      uuid.New(),
	}
	store.AddProduct(f.shirt, 10, 2)
	store.AddProduct(f.hat, 5, 1)

	uid := f.customer.UserID
	items := []model.LineItem{
		{ProductID: f.shirt, Name: "T-shirt", Quantity: 2, UnitPrice: 10000, Total: 20000},
		{ProductID: f.hat, Name: "Hat", Quantity: 1, UnitPrice: 5000, Total: 5000},
	}
	f.order = &model.Order{
		ID:      uuid.New(),
		Number:  "20261015-000000002",
		UserID:  &uid,
		Items:   items,
		Summary: model.Summary{}.Normalize(items),
		Status:  model.OrderStatusPaid,
		Payment: model.Payment{
			Provider:      "stub",
			Method:        "card",
			Status:        model.PaymentStatusPaid,
			TransactionID: "tx-1",
			Amount:        25000,
		},
		CreatedAt: time.Now(),
	}
	store.PutOrder(f.order)
	return f
}

func (f *fixture) create(t *testing.T, solution model.Solution, items ...exchange.ItemInput) *model.ExchangeReturn {
	t.Helper()

	e, err := f.workflow.Create(context.Background(), f.customer, exchange.CreateRequest{
		OrderID:        f.order.ID,
		Items:          items,
		ReasonCode:     "defective",
		Solution:       solution,
		CollectionDate: time.Now().Add(48 * time.Hour),
	})
	require.NoError(t, err)
	return e
}

func TestCreateSnapshotsItems(t *testing.T) {
	f := newFixture(t)

	e := f.create(t, model.SolutionExchange,
		exchange.ItemInput{ProductID: f.shirt, Quantity: 1},
		exchange.ItemInput{ProductID: f.shirt, Quantity: 1},
	)

	assert.Equal(t, model.ExchangePending, e.Status)
	assert.Equal(t, f.order.Number, e.OrderNumber)
	assert.Equal(t, "Product is defective", e.ReasonLabel)
	require.Len(t, e.Items, 1)
	assert.Equal(t, 2, e.Items[0].Quantity)
	assert.Equal(t, int64(10000), e.Items[0].UnitPrice)
	assert.Equal(t, int64(20000), e.ItemsValue())
}

func TestCreateRejects(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	base := exchange.CreateRequest{
		OrderID:        f.order.ID,
		Items:          []exchange.ItemInput{{ProductID: f.shirt, Quantity: 1}},
		ReasonCode:     "defective",
		Solution:       model.SolutionReturnRefund,
		CollectionDate: time.Now(),
	}

	tests := []struct {
		name   string
		actor  model.Actor
		mutate func(r *exchange.CreateRequest)
		kind   apperr.Kind
	}{
		{"guest", model.Actor{}, func(*exchange.CreateRequest) {}, apperr.KindUnauthorized},
		{"unknown reason", f.customer, func(r *exchange.CreateRequest) { r.ReasonCode = "bored" }, apperr.KindValidation},
		{"bad solution", f.customer, func(r *exchange.CreateRequest) { r.Solution = "store-credit" }, apperr.KindValidation},
		{"too many", f.customer, func(r *exchange.CreateRequest) {
			r.Items = []exchange.ItemInput{{ProductID: f.shirt, Quantity: 3}}
		}, apperr.KindValidation},
		{"not in order", f.customer, func(r *exchange.CreateRequest) {
			r.Items = []exchange.ItemInput{{ProductID: uuid.New(), Quantity: 1}}
		}, apperr.KindValidation},
		{"foreign order", model.Actor{UserID: uuid.New()}, func(*exchange.CreateRequest) {}, apperr.KindForbidden},
		{"missing order", f.customer, func(r *exchange.CreateRequest) { r.OrderID = uuid.New() }, apperr.KindNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := base
			tt.mutate(&req)
			_, err := f.workflow.Create(ctx, tt.actor, req)
			require.Error(t, err)
			assert.Equal(t, tt.kind, apperr.KindOf(err))
		})
	}
}

func TestCreateOnCancelledOrder(t *testing.T) {
	f := newFixture(t)
	f.order.Status = model.OrderStatusCancelled
	f.store.PutOrder(f.order)

	_, err := f.workflow.Create(context.Background(), f.customer, exchange.CreateRequest{
		OrderID:        f.order.ID,
		Items:          []exchange.ItemInput{{ProductID: f.shirt, Quantity: 1}},
		ReasonCode:     "other",
		Solution:       model.SolutionExchange,
		CollectionDate: time.Now(),
	})
	assert.ErrorIs(t, err, exchange.ErrOrderNotEligible)
}

func TestCompleteReturnRefund(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	e := f.create(t, model.SolutionReturnRefund,
		exchange.ItemInput{ProductID: f.shirt, Quantity: 2},
		exchange.ItemInput{ProductID: f.hat, Quantity: 1},
	)

	refund := int64(20000)
	done, err := f.workflow.UpdateStatus(ctx, f.admin, e.ID, exchange.StatusRequest{
		Status:       model.ExchangeCompleted,
		RefundAmount: &refund,
	})
	require.NoError(t, err)
	assert.Equal(t, model.ExchangeCompleted, done.Status)
	assert.NotNil(t, done.CompletedAt)
	assert.Equal(t, int64(20000), done.RefundAmount)
	assert.Equal(t, "card", done.RefundMethod)

	o, err := f.store.GetOrder(ctx, f.order.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusRefunded, o.Status)
	require.NotEmpty(t, o.History)
	assert.Equal(t, model.OrderStatusRefunded, o.History[len(o.History)-1].Status)

	shirt, _ := f.store.Product(f.shirt)
	hat, _ := f.store.Product(f.hat)
	assert.Zero(t, shirt.Reserved)
	assert.Zero(t, hat.Reserved)

	for _, productID := range []uuid.UUID{f.shirt, f.hat} {
		history, err := f.store.ListInventoryHistory(ctx, productID)
		require.NoError(t, err)
		require.Len(t, history, 1)
		assert.Equal(t, model.InventoryRestore, history[0].Type)
	}

	require.Len(t, f.gw.cancels, 1)
	assert.Equal(t, cancelCall{transactionID: "tx-1", amount: 20000}, f.gw.cancels[0])

	failures, total, err := f.workflow.RefundFailures(ctx, f.admin, model.Page{})
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Empty(t, failures)
}

func TestRefundAmountLimitedByPayment(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	e := f.create(t, model.SolutionReturnRefund, exchange.ItemInput{ProductID: f.shirt, Quantity: 2})

	tooMuch := int64(30000)
	_, err := f.workflow.UpdateStatus(ctx, f.admin, e.ID, exchange.StatusRequest{
		Status:       model.ExchangeCompleted,
		RefundAmount: &tooMuch,
	})
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	stored, err := f.workflow.Get(ctx, f.admin, e.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ExchangePending, stored.Status)
	assert.Empty(t, f.gw.cancels)

	done, err := f.workflow.UpdateStatus(ctx, f.admin, e.ID, exchange.StatusRequest{Status: model.ExchangeCompleted})
	require.NoError(t, err)
	assert.Equal(t, int64(20000), done.RefundAmount)
}

func TestRequestsShareOrderedQuantity(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	first := f.create(t, model.SolutionReturnRefund, exchange.ItemInput{ProductID: f.shirt, Quantity: 2})

	req := exchange.CreateRequest{
		OrderID:        f.order.ID,
		Items:          []exchange.ItemInput{{ProductID: f.shirt, Quantity: 1}},
		ReasonCode:     "defective",
		Solution:       model.SolutionExchange,
		CollectionDate: time.Now(),
	}
	_, err := f.workflow.Create(ctx, f.customer, req)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	_, err = f.workflow.Cancel(ctx, f.customer, first.ID)
	require.NoError(t, err)

	req.Items[0].Quantity = 2
	_, err = f.workflow.Create(ctx, f.customer, req)
	require.NoError(t, err)
}

func TestRefundsNeverExceedPayment(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	shirts := f.create(t, model.SolutionReturnRefund, exchange.ItemInput{ProductID: f.shirt, Quantity: 2})
	hat := f.create(t, model.SolutionReturnRefund, exchange.ItemInput{ProductID: f.hat, Quantity: 1})

	refund := int64(22000)
	_, err := f.workflow.UpdateStatus(ctx, f.admin, shirts.ID, exchange.StatusRequest{
		Status:       model.ExchangeCompleted,
		RefundAmount: &refund,
	})
	require.NoError(t, err)

	tooMuch := int64(4000)
	_, err = f.workflow.UpdateStatus(ctx, f.admin, hat.ID, exchange.StatusRequest{
		Status:       model.ExchangeCompleted,
		RefundAmount: &tooMuch,
	})
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	done, err := f.workflow.UpdateStatus(ctx, f.admin, hat.ID, exchange.StatusRequest{Status: model.ExchangeCompleted})
	require.NoError(t, err)
	assert.Equal(t, int64(3000), done.RefundAmount)

	var total int64
	for _, c := range f.gw.cancels {
		total += c.amount
	}
	assert.Len(t, f.gw.cancels, 2)
	assert.Equal(t, f.order.Payment.Amount, total)
}

func TestCompletionKeepsOtherOrdersReserved(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	// Ещё 6 штук держат другие заказы.
	f.store.AddProduct(f.shirt, 10, 8)

	e := f.create(t, model.SolutionExchange, exchange.ItemInput{ProductID: f.shirt, Quantity: 2})

	now := time.Now()
	sneaked := &model.ExchangeReturn{
		ID:        uuid.New(),
		OrderID:   f.order.ID,
		UserID:    f.customer.UserID,
		Items:     []model.ReturnItem{{ProductID: f.shirt, Quantity: 2, UnitPrice: 10000}},
		Solution:  model.SolutionExchange,
		Status:    model.ExchangePending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, f.store.CreateExchangeReturn(ctx, sneaked))

	_, err := f.workflow.UpdateStatus(ctx, f.admin, e.ID, exchange.StatusRequest{Status: model.ExchangeCompleted})
	assert.ErrorIs(t, err, exchange.ErrOrderNotEligible)

	_, err = f.workflow.UpdateStatus(ctx, f.admin, sneaked.ID, exchange.StatusRequest{
		Status:          model.ExchangeRejected,
		RejectionReason: "duplicate",
	})
	require.NoError(t, err)

	_, err = f.workflow.UpdateStatus(ctx, f.admin, e.ID, exchange.StatusRequest{Status: model.ExchangeCompleted})
	require.NoError(t, err)

	_, err = f.workflow.Create(ctx, f.customer, exchange.CreateRequest{
		OrderID:        f.order.ID,
		Items:          []exchange.ItemInput{{ProductID: f.shirt, Quantity: 1}},
		ReasonCode:     "defective",
		Solution:       model.SolutionExchange,
		CollectionDate: now,
	})
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	p, ok := f.store.Product(f.shirt)
	require.True(t, ok)
	assert.Equal(t, 6, p.Reserved)
}

func TestCompleteExchangeKeepsOrderStatus(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	e := f.create(t, model.SolutionExchange, exchange.ItemInput{ProductID: f.hat, Quantity: 1})

	_, err := f.workflow.UpdateStatus(ctx, f.admin, e.ID, exchange.StatusRequest{Status: model.ExchangeProcessing})
	require.NoError(t, err)

	done, err := f.workflow.UpdateStatus(ctx, f.admin, e.ID, exchange.StatusRequest{Status: model.ExchangeCompleted})
	require.NoError(t, err)
	assert.NotNil(t, done.ProcessedAt)
	assert.Zero(t, done.RefundAmount)

	o, _ := f.store.GetOrder(ctx, f.order.ID)
	assert.Equal(t, model.OrderStatusPaid, o.Status)

	hat, _ := f.store.Product(f.hat)
	assert.Zero(t, hat.Reserved)
	assert.Empty(t, f.gw.cancels)
}

func TestCompletedIsTerminal(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	e := f.create(t, model.SolutionExchange, exchange.ItemInput{ProductID: f.shirt, Quantity: 1})
	_, err := f.workflow.UpdateStatus(ctx, f.admin, e.ID, exchange.StatusRequest{Status: model.ExchangeCompleted})
	require.NoError(t, err)

	_, err = f.workflow.UpdateStatus(ctx, f.admin, e.ID, exchange.StatusRequest{Status: model.ExchangeRejected, RejectionReason: "late"})
	assert.ErrorIs(t, err, model.ErrInvalidTransition)

	_, err = f.workflow.Cancel(ctx, f.customer, e.ID)
	assert.ErrorIs(t, err, model.ErrInvalidTransition)

	shirt, _ := f.store.Product(f.shirt)
	assert.Equal(t, 1, shirt.Reserved)
}

func TestRefundFailureIsRecorded(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.gw.cancelErr = payment.ErrCancelFailed.Withf("gateway down")

	e := f.create(t, model.SolutionReturnRefund, exchange.ItemInput{ProductID: f.hat, Quantity: 1})

	done, err := f.workflow.UpdateStatus(ctx, f.admin, e.ID, exchange.StatusRequest{Status: model.ExchangeCompleted})
	require.NoError(t, err)
	assert.Equal(t, model.ExchangeCompleted, done.Status)
	assert.Equal(t, int64(5000), done.RefundAmount)

	failures, total, err := f.workflow.RefundFailures(ctx, f.admin, model.Page{})
	require.NoError(t, err)
	require.Equal(t, 1, total)
	assert.Equal(t, "stub", failures[0].Provider)
	assert.Equal(t, "tx-1", failures[0].TransactionID)
	assert.Equal(t, int64(5000), failures[0].Amount)
	assert.Equal(t, f.order.ID, failures[0].OrderID)
	assert.Equal(t, &e.ID, failures[0].ExchangeReturnID)

	assert.Equal(t, 1, f.logs.FilterMessageSnippet("refund failed").Len())

	_, _, err = f.workflow.RefundFailures(ctx, f.customer, model.Page{})
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))
}

func TestCompleteOnCancelledOrder(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	e := f.create(t, model.SolutionReturnRefund, exchange.ItemInput{ProductID: f.shirt, Quantity: 1})

	f.order.Status = model.OrderStatusCancelled
	f.store.PutOrder(f.order)

	_, err := f.workflow.UpdateStatus(ctx, f.admin, e.ID, exchange.StatusRequest{Status: model.ExchangeCompleted})
	assert.ErrorIs(t, err, exchange.ErrOrderNotEligible)

	stored, err := f.workflow.Get(ctx, f.admin, e.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ExchangePending, stored.Status)
}

func TestStatusPermissions(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	e := f.create(t, model.SolutionExchange, exchange.ItemInput{ProductID: f.shirt, Quantity: 1})

	_, err := f.workflow.UpdateStatus(ctx, f.customer, e.ID, exchange.StatusRequest{Status: model.ExchangeProcessing})
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))

	_, err = f.workflow.UpdateStatus(ctx, f.admin, e.ID, exchange.StatusRequest{Status: model.ExchangeRejected})
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	_, err = f.workflow.Cancel(ctx, model.Actor{UserID: uuid.New()}, e.ID)
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))

	_, err = f.workflow.Get(ctx, model.Actor{UserID: uuid.New()}, e.ID)
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))

	cancelled, err := f.workflow.Cancel(ctx, f.customer, e.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ExchangeCancelled, cancelled.Status)
	assert.NotNil(t, cancelled.CancelledAt)
}

func TestListScopesCustomers(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.create(t, model.SolutionExchange, exchange.ItemInput{ProductID: f.shirt, Quantity: 1})
	f.create(t, model.SolutionReturnRefund, exchange.ItemInput{ProductID: f.hat, Quantity: 1})

	list, total, err := f.workflow.List(ctx, f.customer, model.ExchangeFilter{})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Len(t, list, 2)

	_, total, err = f.workflow.List(ctx, model.Actor{UserID: uuid.New()}, model.ExchangeFilter{})
	require.NoError(t, err)
	assert.Zero(t, total)

	_, total, err = f.workflow.List(ctx, f.admin, model.ExchangeFilter{Status: model.ExchangePending, OrderID: &f.order.ID})
	require.NoError(t, err)
	assert.Equal(t, 2, total)

	_, _, err = f.workflow.List(ctx, f.admin, model.ExchangeFilter{Status: "lost"})
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}
