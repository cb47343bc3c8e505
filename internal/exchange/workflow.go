// Package exchange реализует заявки на обмен и возврат товара по заказу
// и компенсирующие действия при их завершении.
package exchange

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mmeshcher/storefront/internal/apperr"
	"github.com/mmeshcher/storefront/internal/inventory"
	"github.com/mmeshcher/storefront/internal/messaging"
	"github.com/mmeshcher/storefront/internal/model"
	"github.com/mmeshcher/storefront/internal/payment"
	"github.com/mmeshcher/storefront/internal/telemetry"
	"github.com/mmeshcher/storefront/internal/validation"
)

var (
	// ErrExchangeNotFound возвращается, если заявка не найдена.
	ErrExchangeNotFound = apperr.New(apperr.KindNotFound, "exchange_return_not_found", "exchange return not found")
	// ErrOrderNotEligible возвращается, если по заказу нельзя оформить или завершить заявку.
	ErrOrderNotEligible = apperr.New(apperr.KindConflict, "order_not_eligible", "order is not eligible for exchange or return")
)

// Store - хранилище заявок и заказов, которые они затрагивают.
type Store interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
	LockOrder(ctx context.Context, id uuid.UUID) (*model.Order, error)
	UpdateOrder(ctx context.Context, o *model.Order) error
	AppendOrderAudit(ctx context.Context, orderID uuid.UUID, entry model.AuditEntry) error
	CreateExchangeReturn(ctx context.Context, e *model.ExchangeReturn) error
	GetExchangeReturn(ctx context.Context, id uuid.UUID) (*model.ExchangeReturn, error)
	LockExchangeReturn(ctx context.Context, id uuid.UUID) (*model.ExchangeReturn, error)
	UpdateExchangeReturn(ctx context.Context, e *model.ExchangeReturn) error
	OrderExchangeReturns(ctx context.Context, orderID uuid.UUID) (model.OrderReturns, error)
	ListExchangeReturns(ctx context.Context, f model.ExchangeFilter) ([]model.ExchangeReturn, int, error)
	RecordRefundFailure(ctx context.Context, f *model.RefundFailure) error
	ListRefundFailures(ctx context.Context, page model.Page) ([]model.RefundFailure, int, error)
}

// Deps - зависимости процесса обмена и возврата.
type Deps struct {
	Store     Store
	Inventory *inventory.Ledger
	Gateways  *payment.Registry
	Events    *messaging.Emitter
	Metrics   *telemetry.Metrics
	Logger    *zap.Logger
}

// Workflow ведёт заявки на обмен и возврат.
type Workflow struct {
	store     Store
	inventory *inventory.Ledger
	gateways  *payment.Registry
	events    *messaging.Emitter
	metrics   *telemetry.Metrics
	logger    *zap.Logger
	now       func() time.Time
}

// NewWorkflow создаёт процесс обмена и возврата.
func NewWorkflow(d Deps) *Workflow {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Workflow{
		store:     d.Store,
		inventory: d.Inventory,
		gateways:  d.Gateways,
		events:    d.Events,
		metrics:   d.Metrics,
		logger:    logger,
		now:       time.Now,
	}
}

// CreateRequest - тело заявки на обмен или возврат.
type CreateRequest struct {
	OrderID           uuid.UUID      `json:"orderId" validate:"required"`
	Items             []ItemInput    `json:"items" validate:"required,min=1,dive"`
	ReasonCode        string         `json:"reasonCode" validate:"required"`
	Detail            string         `json:"detail" validate:"max=2000"`
	Solution          model.Solution `json:"solution" validate:"required,oneof=return-refund exchange"`
	CollectionDate    time.Time      `json:"collectionDate" validate:"required"`
	CollectionAddress string         `json:"collectionAddress" validate:"max=500"`
}

// ItemInput - возвращаемая позиция.
type ItemInput struct {
	ProductID uuid.UUID `json:"productId" validate:"required"`
	Quantity  int       `json:"quantity" validate:"gt=0,lte=10000"`
}

// StatusRequest - смена статуса заявки.
type StatusRequest struct {
	Status          model.ExchangeStatus `json:"status" validate:"required,oneof=processing completed rejected cancelled"`
	RejectionReason string               `json:"rejectionReason" validate:"max=1000"`
	RefundAmount    *int64               `json:"refundAmount,omitempty" validate:"omitempty,gte=0"`
	RefundMethod    string               `json:"refundMethod"`
	AdminNote       string               `json:"adminNote" validate:"max=1000"`
}

// Create оформляет заявку по заказу пользователя.
func (w *Workflow) Create(ctx context.Context, actor model.Actor, req CreateRequest) (*model.ExchangeReturn, error) {
	if actor.IsGuest() {
		return nil, apperr.New(apperr.KindUnauthorized, "unauthorized", "authentication required")
	}
	if err := validation.Struct(req); err != nil {
		return nil, err
	}
	label, ok := ReasonLabel(req.ReasonCode)
	if !ok {
		return nil, apperr.Validation("reasonCode: unknown value %q", req.ReasonCode)
	}

	var (
		o *model.Order
		e *model.ExchangeReturn
	)
	// Блокировка заказа упорядочивает заявки по нему: заявленное количество считается без гонок.
	err := w.store.InTx(ctx, func(ctx context.Context) error {
		var err error
		o, err = w.store.LockOrder(ctx, req.OrderID)
		if err != nil {
			return err
		}
		if !o.OwnedBy(actor.UserID) {
			return apperr.Forbidden("order belongs to another user")
		}
		if o.Status == model.OrderStatusCancelled || o.Status == model.OrderStatusRefunded {
			return ErrOrderNotEligible.Withf("order %s is %s", o.Number, o.Status)
		}

		existing, err := w.store.OrderExchangeReturns(ctx, o.ID)
		if err != nil {
			return fmt.Errorf("list order exchange returns: %w", err)
		}
		items, err := returnItems(o, req.Items, existing.Claimed(uuid.Nil))
		if err != nil {
			return err
		}

		now := w.now().UTC()
		e = &model.ExchangeReturn{
			ID:                uuid.New(),
			OrderID:           o.ID,
			OrderNumber:       o.Number,
			UserID:            actor.UserID,
			Items:             items,
			ReasonCode:        req.ReasonCode,
			ReasonLabel:       label,
			Detail:            req.Detail,
			Solution:          req.Solution,
			CollectionDate:    req.CollectionDate,
			CollectionAddress: req.CollectionAddress,
			Status:            model.ExchangePending,
			CreatedAt:         now,
			UpdatedAt:         now,
		}
		if err := w.store.CreateExchangeReturn(ctx, e); err != nil {
			return fmt.Errorf("create exchange return: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	w.logger.Info("exchange return created",
		zap.String("exchange_return", e.ID.String()),
		zap.String("order", o.Number),
		zap.String("solution", string(e.Solution)),
	)
	w.events.Emit(ctx, messaging.EventExchangeReturnCreated, e.ID.String(), e)
	return e, nil
}

// returnItems снимает копии позиций заказа. Количество вместе с уже заявленным в других
// заявках по заказу не может превышать заказанное.
func returnItems(o *model.Order, in []ItemInput, claimed map[uuid.UUID]int) ([]model.ReturnItem, error) {
	requested := make(map[uuid.UUID]int, len(in))
	order := make([]uuid.UUID, 0, len(in))
	for _, it := range in {
		if _, seen := requested[it.ProductID]; !seen {
			order = append(order, it.ProductID)
		}
		requested[it.ProductID] += it.Quantity
	}

	items := make([]model.ReturnItem, 0, len(order))
	for _, productID := range order {
		qty := requested[productID]
		ordered := o.ItemQuantity(productID)
		if ordered == 0 {
			return nil, apperr.Validation("items: product %s is not in order %s", productID, o.Number)
		}
		if qty > ordered {
			return nil, apperr.Validation("items: quantity %d exceeds ordered %d for product %s", qty, ordered, productID)
		}
		if left := ordered - claimed[productID]; qty > left {
			return nil, apperr.Validation("items: quantity %d exceeds returnable %d for product %s", qty, max(left, 0), productID)
		}

		line := lineOf(o, productID)
		items = append(items, model.ReturnItem{
			ProductID: productID,
			Name:      line.Name,
			SKU:       line.SKU,
			Options:   line.Options,
			Quantity:  qty,
			UnitPrice: line.UnitPrice,
		})
	}
	return items, nil
}

func lineOf(o *model.Order, productID uuid.UUID) model.LineItem {
	for _, it := range o.Items {
		if it.ProductID == productID {
			return it
		}
	}
	return model.LineItem{}
}

// Get возвращает заявку владельцу или администратору.
func (w *Workflow) Get(ctx context.Context, actor model.Actor, id uuid.UUID) (*model.ExchangeReturn, error) {
	e, err := w.store.GetExchangeReturn(ctx, id)
	if err != nil {
		return nil, err
	}
	if !actor.IsAdmin() && e.UserID != actor.UserID {
		return nil, apperr.Forbidden("no access to exchange return")
	}
	return e, nil
}

// List возвращает страницу заявок. Покупатель видит только свои заявки.
func (w *Workflow) List(ctx context.Context, actor model.Actor, f model.ExchangeFilter) ([]model.ExchangeReturn, int, error) {
	if actor.IsGuest() {
		return nil, 0, apperr.New(apperr.KindUnauthorized, "unauthorized", "authentication required")
	}
	if f.Status != "" && !f.Status.Valid() {
		return nil, 0, apperr.Validation("status: unknown value %q", f.Status)
	}
	if !actor.IsAdmin() {
		uid := actor.UserID
		f.UserID = &uid
	}
	f.Page = f.Page.Normalize()

	list, total, err := w.store.ListExchangeReturns(ctx, f)
	if err != nil {
		return nil, 0, fmt.Errorf("list exchange returns: %w", err)
	}
	return list, total, nil
}

// Cancel отменяет заявку по просьбе владельца или администратора.
func (w *Workflow) Cancel(ctx context.Context, actor model.Actor, id uuid.UUID) (*model.ExchangeReturn, error) {
	return w.UpdateStatus(ctx, actor, id, StatusRequest{Status: model.ExchangeCancelled})
}

// UpdateStatus меняет статус заявки. Все переходы, кроме отмены, доступны только администратору.
// Завершение возвращает товар на склад и, для возврата с оплатой, переводит заказ в refunded;
// возврат денег через шлюз выполняется после фиксации и на состояние заявки не влияет.
func (w *Workflow) UpdateStatus(ctx context.Context, actor model.Actor, id uuid.UUID, req StatusRequest) (*model.ExchangeReturn, error) {
	if actor.IsGuest() {
		return nil, apperr.New(apperr.KindUnauthorized, "unauthorized", "authentication required")
	}
	if err := validation.Struct(req); err != nil {
		return nil, err
	}
	if req.Status != model.ExchangeCancelled && !actor.IsAdmin() {
		return nil, apperr.Forbidden("admin role required")
	}
	if req.Status == model.ExchangeRejected && req.RejectionReason == "" {
		return nil, apperr.Validation("rejectionReason: is required")
	}

	var (
		e      *model.ExchangeReturn
		parent *model.Order
	)
	err := w.store.InTx(ctx, func(ctx context.Context) error {
		var err error
		e, err = w.store.LockExchangeReturn(ctx, id)
		if err != nil {
			return err
		}
		if !actor.IsAdmin() && e.UserID != actor.UserID {
			return apperr.Forbidden("no access to exchange return")
		}
		if !e.Status.CanTransitionTo(req.Status) {
			return model.ErrInvalidTransition.Withf("exchange return %s: %s -> %s", e.ID, e.Status, req.Status)
		}

		now := w.now().UTC()
		if req.AdminNote != "" {
			e.AdminNote = req.AdminNote
		}

		switch req.Status {
		case model.ExchangeProcessing:
			e.ProcessedAt = &now
		case model.ExchangeRejected:
			e.RejectionReason = req.RejectionReason
		case model.ExchangeCancelled:
			e.CancelledAt = &now
		case model.ExchangeCompleted:
			parent, err = w.complete(ctx, actor, e, req, now)
			if err != nil {
				return err
			}
		}

		e.Status = req.Status
		e.UpdatedAt = now
		return w.store.UpdateExchangeReturn(ctx, e)
	})
	if err != nil {
		return nil, err
	}

	w.logger.Info("exchange return status changed",
		zap.String("exchange_return", e.ID.String()),
		zap.String("status", string(e.Status)),
	)

	if e.Status == model.ExchangeCompleted {
		if e.Solution == model.SolutionReturnRefund {
			w.refund(ctx, e, parent)
		}
		w.events.Emit(ctx, messaging.EventExchangeReturnCompleted, e.ID.String(), e)
	}
	return e, nil
}

// complete выполняет компенсирующие действия в транзакции смены статуса.
func (w *Workflow) complete(ctx context.Context, actor model.Actor, e *model.ExchangeReturn, req StatusRequest, now time.Time) (*model.Order, error) {
	o, err := w.store.LockOrder(ctx, e.OrderID)
	if err != nil {
		return nil, err
	}
	if o.Status == model.OrderStatusCancelled {
		// Резерв по отменённому заказу уже возвращён.
		return nil, ErrOrderNotEligible.Withf("order %s is cancelled", o.Number)
	}

	others, err := w.store.OrderExchangeReturns(ctx, o.ID)
	if err != nil {
		return nil, fmt.Errorf("list order exchange returns: %w", err)
	}
	claimed := others.Claimed(e.ID)
	for _, it := range e.Items {
		if claimed[it.ProductID]+it.Quantity > o.ItemQuantity(it.ProductID) {
			return nil, ErrOrderNotEligible.Withf("product %s: returned quantity exceeds ordered %d",
				it.ProductID, o.ItemQuantity(it.ProductID))
		}
	}

	e.CompletedAt = &now

	if e.Solution == model.SolutionReturnRefund {
		e.RefundAmount = e.ItemsValue()
		paid := o.Payment.Amount
		refundable := max(paid-others.Refunded(), 0)
		switch {
		case req.RefundAmount != nil && paid > 0 && *req.RefundAmount > refundable:
			return nil, apperr.Validation("refundAmount: exceeds refundable amount %d", refundable)
		case req.RefundAmount != nil:
			e.RefundAmount = *req.RefundAmount
		case paid > 0:
			e.RefundAmount = min(e.RefundAmount, refundable)
		}
		e.RefundMethod = req.RefundMethod
		if e.RefundMethod == "" {
			e.RefundMethod = o.Payment.Method
		}

		if o.Status != model.OrderStatusRefunded {
			from := len(o.History)
			note := fmt.Sprintf("refunded by exchange return %s", e.ID)
			if err := o.Transition(model.OrderStatusRefunded, note, actor.Ref(), now); err != nil {
				return nil, err
			}
			if err := w.store.UpdateOrder(ctx, o); err != nil {
				return nil, err
			}
			for _, entry := range o.History[from:] {
				if err := w.store.AppendOrderAudit(ctx, o.ID, entry); err != nil {
					return nil, fmt.Errorf("append order audit: %w", err)
				}
			}
		}
	}

	ref := inventory.Ref{
		OrderID: &o.ID,
		ActorID: actor.Ref(),
		Note:    fmt.Sprintf("exchange return %s (%s)", e.ID, e.Solution),
	}
	for _, it := range e.Items {
		if _, err := w.inventory.Restore(ctx, it.ProductID, it.Quantity, ref); err != nil {
			return nil, err
		}
	}
	return o, nil
}

// refund возвращает деньги через шлюз. Неудача логируется и сохраняется для ручной сверки.
func (w *Workflow) refund(ctx context.Context, e *model.ExchangeReturn, o *model.Order) {
	if o == nil || e.RefundAmount <= 0 {
		return
	}
	if o.Payment.TransactionID == "" {
		w.logger.Info("exchange return refund skipped: order has no gateway payment",
			zap.String("exchange_return", e.ID.String()),
			zap.String("order", o.Number),
		)
		return
	}

	reason := "exchange return " + e.ID.String() + ": " + e.ReasonLabel
	gw, err := w.gateways.Get(o.Payment.Provider)
	if err == nil {
		_, err = gw.Cancel(ctx, o.Payment.TransactionID, e.RefundAmount, reason)
		if err != nil {
			w.metrics.GatewayFailed(ctx, gw.Provider(), "cancel")
		}
	}
	if err == nil {
		w.logger.Info("exchange return refunded",
			zap.String("exchange_return", e.ID.String()),
			zap.Int64("amount", e.RefundAmount),
		)
		return
	}

	w.metrics.RefundFailed(ctx, o.Payment.Provider)
	w.logger.Error("exchange return refund failed, manual reconciliation required",
		zap.String("exchange_return", e.ID.String()),
		zap.String("order", o.Number),
		zap.String("provider", o.Payment.Provider),
		zap.String("transaction", o.Payment.TransactionID),
		zap.Int64("amount", e.RefundAmount),
		zap.Error(err),
	)

	exchangeID := e.ID
	failure := &model.RefundFailure{
		Provider:         o.Payment.Provider,
		TransactionID:    o.Payment.TransactionID,
		Amount:           e.RefundAmount,
		Reason:           reason,
		Error:            err.Error(),
		OrderID:          o.ID,
		ExchangeReturnID: &exchangeID,
		CreatedAt:        w.now().UTC(),
	}
	if recErr := w.store.RecordRefundFailure(ctx, failure); recErr != nil {
		w.logger.Error("record refund failure", zap.String("exchange_return", e.ID.String()), zap.Error(recErr))
	}
	w.events.Emit(ctx, messaging.EventExchangeReturnRefundFail, e.ID.String(), failure)
}

// RefundFailures возвращает журнал неудавшихся возвратов для администратора.
func (w *Workflow) RefundFailures(ctx context.Context, actor model.Actor, page model.Page) ([]model.RefundFailure, int, error) {
	if !actor.IsAdmin() {
		return nil, 0, apperr.Forbidden("admin role required")
	}
	list, total, err := w.store.ListRefundFailures(ctx, page.Normalize())
	if err != nil {
		return nil, 0, fmt.Errorf("list refund failures: %w", err)
	}
	return list, total, nil
}
