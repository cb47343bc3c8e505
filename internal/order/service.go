// Package order реализует жизненный цикл заказа: оформление с резервом товара и проверкой оплаты,
// смену статусов, отмену и начисление бонусов.
package order

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mmeshcher/storefront/internal/apperr"
	"github.com/mmeshcher/storefront/internal/inventory"
	"github.com/mmeshcher/storefront/internal/loyalty"
	"github.com/mmeshcher/storefront/internal/messaging"
	"github.com/mmeshcher/storefront/internal/model"
	"github.com/mmeshcher/storefront/internal/payment"
	"github.com/mmeshcher/storefront/internal/telemetry"
	"github.com/mmeshcher/storefront/internal/validation"
)

var (
	// ErrDuplicatePayment возвращается, если транзакция шлюза уже привязана к другому заказу.
	ErrDuplicatePayment = apperr.New(apperr.KindConflict, "duplicate_payment", "payment transaction already used by another order")
	// ErrOrderNotFound возвращается, если заказ не найден.
	ErrOrderNotFound = apperr.New(apperr.KindNotFound, "order_not_found", "order not found")
	// ErrOrderNumberTaken возвращается хранилищем при совпадении номера заказа.
	ErrOrderNumberTaken = apperr.New(apperr.KindConflict, "order_number_taken", "order number already exists")
	// ErrPriceChanged возвращается, если итог в транзакции разошёлся с подтверждённой оплатой.
	ErrPriceChanged = apperr.New(apperr.KindConflict, "price_changed", "order total changed during checkout")
)

const (
	// DefaultGuestTokenTTL - срок действия токена гостя по умолчанию.
	DefaultGuestTokenTTL = 30 * 24 * time.Hour
	orderNumberAttempts  = 5
)

// Store - хранилище заказов.
//
// CreateOrder возвращает ErrDuplicatePayment при повторе идентификатора транзакции
// и ErrOrderNumberTaken при повторе номера. LockOrder блокирует строку до конца транзакции.
type Store interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
	PaymentTransactionExists(ctx context.Context, transactionID string) (bool, error)
	OrderNumberExists(ctx context.Context, number string) (bool, error)
	CreateOrder(ctx context.Context, o *model.Order) error
	GetOrder(ctx context.Context, id uuid.UUID) (*model.Order, error)
	GetOrderByNumber(ctx context.Context, number string) (*model.Order, error)
	LockOrder(ctx context.Context, id uuid.UUID) (*model.Order, error)
	UpdateOrder(ctx context.Context, o *model.Order) error
	AppendOrderAudit(ctx context.Context, orderID uuid.UUID, entry model.AuditEntry) error
	ListOrders(ctx context.Context, f model.OrderFilter) ([]model.Order, int, error)
	OrderExchangeReturns(ctx context.Context, orderID uuid.UUID) (model.OrderReturns, error)
}

// Deps - зависимости сервиса заказов.
type Deps struct {
	Store         Store
	Inventory     *inventory.Ledger
	Loyalty       *loyalty.Ledger
	Gateways      *payment.Registry
	Events        *messaging.Emitter
	Metrics       *telemetry.Metrics
	Logger        *zap.Logger
	GuestTokenTTL time.Duration
}

// Service управляет заказами.
type Service struct {
	store     Store
	inventory *inventory.Ledger
	loyalty   *loyalty.Ledger
	gateways  *payment.Registry
	events    *messaging.Emitter
	metrics   *telemetry.Metrics
	logger    *zap.Logger
	guestTTL  time.Duration
	now       func() time.Time
}

// NewService создаёт сервис заказов.
func NewService(d Deps) *Service {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	ttl := d.GuestTokenTTL
	if ttl <= 0 {
		ttl = DefaultGuestTokenTTL
	}
	return &Service{
		store:     d.Store,
		inventory: d.Inventory,
		loyalty:   d.Loyalty,
		gateways:  d.Gateways,
		events:    d.Events,
		metrics:   d.Metrics,
		logger:    logger,
		guestTTL:  ttl,
		now:       time.Now,
	}
}

// pricing - расчёт заказа до открытия транзакции.
type pricing struct {
	items   []model.LineItem
	summary model.Summary
}

// Create оформляет заказ. Оплата проверяется в шлюзе до транзакции на рассчитанный итог;
// резерв товара, купон, баллы и запись заказа применяются одной транзакцией.
func (s *Service) Create(ctx context.Context, actor model.Actor, req CreateRequest) (*CreateResult, error) {
	if err := s.validateCreate(actor, req); err != nil {
		return nil, err
	}

	p, err := s.price(ctx, actor, req)
	if err != nil {
		return nil, err
	}

	var (
		info *payment.Info
		txID string
		pay  = req.Payment
	)
	if pay != nil && pay.TransactionID != "" {
		txID = pay.TransactionID
		// Повтор транзакции проверяется до обращения к шлюзу, а не после него: для Toss
		// проверка подтверждает платёж, и повторное подтверждение уже использованной транзакции
		// недопустимо. Гонку закрывает уникальный индекс при записи заказа.
		exists, err := s.store.PaymentTransactionExists(ctx, txID)
		if err != nil {
			return nil, fmt.Errorf("check payment transaction: %w", err)
		}
		if exists {
			return nil, ErrDuplicatePayment.Withf("%s", txID)
		}

		info, err = s.verify(ctx, *pay, p.summary.GrandTotal)
		if err != nil {
			return nil, err
		}
	}

	now := s.now().UTC()
	o := &model.Order{
		ID:        uuid.New(),
		Items:     p.items,
		Summary:   p.summary,
		Notes:     req.Notes,
		Status:    model.OrderStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
		Shipping: model.Shipping{
			RecipientName: req.Shipping.RecipientName,
			Phone:         req.Shipping.Phone,
			Address1:      req.Shipping.Address1,
			Address2:      req.Shipping.Address2,
			PostalCode:    req.Shipping.PostalCode,
			Memo:          req.Shipping.Memo,
		},
		Payment: model.Payment{
			Status: model.PaymentStatusPending,
			Amount: p.summary.GrandTotal,
		},
		UserCouponID: req.UserCouponID,
	}
	if pay != nil {
		o.Payment.Method = pay.Method
		o.Payment.Provider = strings.ToLower(pay.Provider)
		o.Payment.TransactionID = pay.TransactionID
		o.Payment.GatewayOrderID = pay.GatewayOrderID
	}
	if info != nil {
		o.Status = model.OrderStatusPaid
		o.Payment.Status = model.PaymentStatusPaid
		o.Payment.Amount = info.Amount
		o.Payment.PaidAt = info.PaidAt
		o.Payment.ReceiptURL = info.ReceiptURL
		if o.Payment.PaidAt == nil {
			o.Payment.PaidAt = &now
		}
		if o.Payment.Method == "" {
			o.Payment.Method = info.Method
		}
	}

	var guestToken string
	if actor.IsGuest() {
		o.Guest = &model.GuestContact{Name: req.Guest.Name, Email: req.Guest.Email, Phone: req.Guest.Phone}
		token, hash, err := newGuestToken()
		if err != nil {
			return nil, err
		}
		expires := now.Add(s.guestTTL)
		guestToken, o.GuestTokenHash, o.GuestTokenExpiresAt = token, hash, &expires
	} else {
		uid := actor.UserID
		o.UserID = &uid
	}

	if o.Number, err = s.newOrderNumber(ctx, now); err != nil {
		return nil, err
	}

	err = s.store.InTx(ctx, func(ctx context.Context) error {
		ref := inventory.Ref{OrderID: &o.ID, ActorID: actor.Ref(), Note: "order " + o.Number}
		for _, it := range o.Items {
			if _, err := s.inventory.Reserve(ctx, it.ProductID, it.Quantity, ref); err != nil {
				return err
			}
		}

		if err := s.applyLedgers(ctx, actor, o, req); err != nil {
			return err
		}

		if info != nil && o.Summary.GrandTotal != info.Amount {
			return ErrPriceChanged.Withf("verified %d, computed %d", info.Amount, o.Summary.GrandTotal)
		}
		if info == nil {
			o.Payment.Amount = o.Summary.GrandTotal
		}

		o.History = nil
		o.Audit("order created", actor.Ref(), now)
		if err := s.store.CreateOrder(ctx, o); err != nil {
			if errors.Is(err, ErrDuplicatePayment) {
				return ErrDuplicatePayment.Withf("%s", txID)
			}
			return err
		}
		return nil
	})
	if err != nil {
		s.logger.Warn("create order failed",
			zap.String("order", o.Number),
			zap.String("transaction", txID),
			zap.Error(err),
		)
		if info != nil {
			// Оплата подтверждена, но заказ не создан: нужна ручная сверка со шлюзом.
			s.logger.Error("verified payment left without order",
				zap.String("provider", o.Payment.Provider),
				zap.String("transaction", txID),
				zap.Int64("amount", info.Amount),
			)
		}
		return nil, err
	}

	s.metrics.OrderCreated(ctx, string(o.Status))
	s.logger.Info("order created",
		zap.String("order", o.Number),
		zap.String("status", string(o.Status)),
		zap.Int64("grand_total", o.Summary.GrandTotal),
	)

	if o.Status == model.OrderStatusPaid {
		s.accrue(ctx, o)
	}
	s.events.Emit(ctx, messaging.EventOrderCreated, o.ID.String(), o)

	return &CreateResult{Order: o, GuestToken: guestToken}, nil
}

func (s *Service) validateCreate(actor model.Actor, req CreateRequest) error {
	if err := validation.Struct(req); err != nil {
		return err
	}

	for i, it := range req.Items {
		if it.Discount > it.UnitPrice*int64(it.Quantity) {
			return apperr.Validation("items[%d].discount: exceeds line amount", i)
		}
	}

	if actor.IsGuest() {
		g := req.Guest
		if g == nil || (strings.TrimSpace(g.Name) == "" && strings.TrimSpace(g.Email) == "" && strings.TrimSpace(g.Phone) == "") {
			return apperr.Validation("guest: name, email or phone is required")
		}
		if req.UserCouponID != nil || req.PointsToUse > 0 {
			return apperr.Validation("coupons and points require an account")
		}
	}

	if p := req.Payment; p != nil && p.TransactionID != "" {
		if _, err := s.gateways.Get(p.Provider); err != nil {
			return err
		}
	}
	return nil
}

// price считает позиции, скидку купона и баллы без изменения состояния.
func (s *Service) price(ctx context.Context, actor model.Actor, req CreateRequest) (pricing, error) {
	items := make([]model.LineItem, 0, len(req.Items))
	for _, in := range req.Items {
		li := model.LineItem{
			ProductID: in.ProductID,
			Name:      in.Name,
			SKU:       in.SKU,
			Options:   in.Options,
			Quantity:  in.Quantity,
			UnitPrice: in.UnitPrice,
			Discount:  in.Discount,
		}
		li.Total = li.Gross() - li.Discount
		items = append(items, li)
	}

	summary := model.Summary{ShippingFee: req.ShippingFee, Tax: req.Tax}.Normalize(items)

	if req.UserCouponID != nil {
		q, err := s.loyalty.QuoteCoupon(ctx, actor.UserID, *req.UserCouponID, summary.Subtotal)
		if err != nil {
			return pricing{}, err
		}
		applyQuote(&summary, q)
	}

	if req.PointsToUse > 0 {
		used, err := s.loyalty.UsablePoints(ctx, actor.UserID, req.PointsToUse, summary.AmountBeforePoints())
		if err != nil {
			return pricing{}, err
		}
		summary.PointsUsed, summary.PointsDiscount = used, used
	}

	summary.GrandTotal = summary.ComputeGrandTotal()
	return pricing{items: items, summary: summary}, nil
}

func applyQuote(summary *model.Summary, q loyalty.Quote) {
	summary.CouponDiscount = q.Discount
	if q.FreeShipping {
		summary.ShippingFee = 0
	}
}

// applyLedgers списывает купон и баллы в транзакции заказа и пересчитывает итог.
func (s *Service) applyLedgers(ctx context.Context, actor model.Actor, o *model.Order, req CreateRequest) error {
	o.Summary = model.Summary{ShippingFee: req.ShippingFee, Tax: req.Tax}.Normalize(o.Items)

	if req.UserCouponID != nil {
		q, err := s.loyalty.RedeemCoupon(ctx, actor.UserID, *req.UserCouponID, o.ID, o.Summary.Subtotal)
		if err != nil {
			return err
		}
		applyQuote(&o.Summary, q)
	}

	if req.PointsToUse > 0 {
		used, err := s.loyalty.DebitPoints(ctx, actor.UserID, req.PointsToUse, o.Summary.AmountBeforePoints(), o.ID)
		if err != nil {
			return err
		}
		o.Summary.PointsUsed, o.Summary.PointsDiscount = used, used
	}

	o.Summary.GrandTotal = o.Summary.ComputeGrandTotal()
	return nil
}

func (s *Service) verify(ctx context.Context, in PaymentInput, amount int64) (*payment.Info, error) {
	gw, err := s.gateways.Get(in.Provider)
	if err != nil {
		return nil, err
	}

	info, err := gw.Verify(ctx, payment.VerifyRequest{
		TransactionID:  in.TransactionID,
		GatewayOrderID: in.GatewayOrderID,
	}, amount)
	if err != nil {
		s.metrics.GatewayFailed(ctx, gw.Provider(), "verify")
		s.logger.Warn("payment verification failed",
			zap.String("provider", gw.Provider()),
			zap.String("transaction", in.TransactionID),
			zap.Int64("amount", amount),
			zap.Error(err),
		)
		return nil, err
	}
	return info, nil
}

func (s *Service) newOrderNumber(ctx context.Context, now time.Time) (string, error) {
	for range orderNumberAttempts {
		number, err := validation.NewOrderNumber(now)
		if err != nil {
			return "", err
		}
		exists, err := s.store.OrderNumberExists(ctx, number)
		if err != nil {
			return "", fmt.Errorf("check order number: %w", err)
		}
		if !exists {
			return number, nil
		}
	}
	return "", ErrOrderNumberTaken.Withf("no free number after %d attempts", orderNumberAttempts)
}

// accrue начисляет бонусы за оплаченный заказ. Ошибка только логируется: заказ уже зафиксирован.
func (s *Service) accrue(ctx context.Context, o *model.Order) {
	if o.UserID == nil || s.loyalty == nil {
		return
	}

	amount := o.Payment.Amount
	if amount <= 0 {
		amount = o.Summary.GrandTotal
	}

	credited, err := s.loyalty.CreditReward(ctx, *o.UserID, o.ID, amount)
	if err != nil {
		s.logger.Error("credit reward points",
			zap.String("order", o.Number),
			zap.String("user", o.UserID.String()),
			zap.Error(err),
		)
		return
	}
	if credited > 0 {
		s.logger.Info("reward points credited",
			zap.String("order", o.Number),
			zap.Int64("points", credited),
		)
	}
}

// resolve находит заказ по UUID или по номеру заказа.
func (s *Service) resolve(ctx context.Context, ref string) (*model.Order, error) {
	ref = strings.TrimSpace(ref)
	if id, err := uuid.Parse(ref); err == nil {
		return s.store.GetOrder(ctx, id)
	}
	if validation.IsOrderNumber(ref) {
		return s.store.GetOrderByNumber(ctx, ref)
	}
	return nil, ErrOrderNotFound.Withf("%q", ref)
}

func (s *Service) canAccess(actor model.Actor, o *model.Order, access GuestAccess) bool {
	if actor.IsAdmin() {
		return true
	}
	if !actor.IsGuest() && o.OwnedBy(actor.UserID) {
		return true
	}
	return guestCanAccess(o, access, s.now())
}

// Get возвращает заказ по UUID или номеру, если у вызывающего есть к нему доступ.
func (s *Service) Get(ctx context.Context, actor model.Actor, ref string, access GuestAccess) (*model.Order, error) {
	o, err := s.resolve(ctx, ref)
	if err != nil {
		return nil, err
	}
	if !s.canAccess(actor, o, access) {
		return nil, apperr.Forbidden("no access to order")
	}
	return o, nil
}

// List возвращает страницу заказов. Покупатель видит только свои заказы.
func (s *Service) List(ctx context.Context, actor model.Actor, f model.OrderFilter) ([]model.Order, int, error) {
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

	orders, total, err := s.store.ListOrders(ctx, f)
	if err != nil {
		return nil, 0, fmt.Errorf("list orders: %w", err)
	}
	return orders, total, nil
}

// Cancel отменяет заказ и возвращает товар в свободный остаток.
// Повторная отмена возвращает заказ без изменений. Купон и баллы не возвращаются.
func (s *Service) Cancel(ctx context.Context, actor model.Actor, ref string, access GuestAccess, reason string) (*model.Order, error) {
	found, err := s.resolve(ctx, ref)
	if err != nil {
		return nil, err
	}
	if !s.canAccess(actor, found, access) {
		return nil, apperr.Forbidden("no access to order")
	}

	var (
		o       *model.Order
		changed bool
	)
	err = s.store.InTx(ctx, func(ctx context.Context) error {
		var err error
		o, err = s.store.LockOrder(ctx, found.ID)
		if err != nil {
			return err
		}
		if o.Status == model.OrderStatusCancelled {
			return nil
		}

		from := len(o.History)
		if err := s.cancelLocked(ctx, actor, o, reason); err != nil {
			return err
		}
		changed = true
		return s.persist(ctx, o, from)
	})
	if err != nil {
		return nil, err
	}

	if changed {
		s.cancelled(ctx, o)
	}
	return o, nil
}

// cancelLocked возвращает резерв по позициям и переводит заказ в cancelled.
// Товар, уже возвращённый на склад завершёнными заявками на обмен или возврат, повторно не возвращается.
func (s *Service) cancelLocked(ctx context.Context, actor model.Actor, o *model.Order, reason string) error {
	if !o.Status.CanTransitionTo(model.OrderStatusCancelled) {
		return model.ErrInvalidTransition.Withf("order %s is %s", o.Number, o.Status)
	}

	returns, err := s.store.OrderExchangeReturns(ctx, o.ID)
	if err != nil {
		return fmt.Errorf("list order exchange returns: %w", err)
	}
	restored := returns.Restored()

	ref := inventory.Ref{OrderID: &o.ID, ActorID: actor.Ref(), Note: "order " + o.Number + " cancelled"}
	for _, it := range o.Items {
		done := min(it.Quantity, restored[it.ProductID])
		restored[it.ProductID] -= done
		qty := it.Quantity - done
		if qty == 0 {
			continue
		}
		if _, err := s.inventory.Restore(ctx, it.ProductID, qty, ref); err != nil {
			return err
		}
	}

	note := "order cancelled"
	if reason != "" {
		note += ": " + reason
	}
	return o.Transition(model.OrderStatusCancelled, note, actor.Ref(), s.now().UTC())
}

func (s *Service) cancelled(ctx context.Context, o *model.Order) {
	s.metrics.OrderCancelled(ctx)
	s.logger.Info("order cancelled", zap.String("order", o.Number))
	s.events.Emit(ctx, messaging.EventOrderCancelled, o.ID.String(), o)
}

// persist сохраняет заказ и новые записи журнала начиная с индекса from.
func (s *Service) persist(ctx context.Context, o *model.Order, from int) error {
	if err := s.store.UpdateOrder(ctx, o); err != nil {
		return err
	}
	for _, entry := range o.History[from:] {
		if err := s.store.AppendOrderAudit(ctx, o.ID, entry); err != nil {
			return fmt.Errorf("append order audit: %w", err)
		}
	}
	return nil
}

// Update применяет административные изменения заказа.
func (s *Service) Update(ctx context.Context, actor model.Actor, ref string, req UpdateRequest) (*model.Order, error) {
	if !actor.IsAdmin() {
		return nil, apperr.Forbidden("admin role required")
	}
	if err := validation.Struct(req); err != nil {
		return nil, err
	}
	if req.Status != nil && !req.Status.Valid() {
		return nil, apperr.Validation("status: unknown value %q", *req.Status)
	}
	if req.Payment != nil && req.Payment.Status != nil && !req.Payment.Status.Valid() {
		return nil, apperr.Validation("payment.status: unknown value %q", *req.Payment.Status)
	}

	found, err := s.resolve(ctx, ref)
	if err != nil {
		return nil, err
	}

	var (
		o             *model.Order
		from          model.OrderStatus
		paymentToPaid bool
	)
	err = s.store.InTx(ctx, func(ctx context.Context) error {
		var err error
		o, err = s.store.LockOrder(ctx, found.ID)
		if err != nil {
			return err
		}
		from = o.Status
		start := len(o.History)
		now := s.now().UTC()

		if req.Payment != nil {
			paymentToPaid = applyPaymentPatch(o, *req.Payment, now)
		}
		if req.Shipping != nil {
			applyShippingPatch(o, *req.Shipping)
		}
		if req.Summary != nil {
			if req.Summary.ShippingFee != nil {
				o.Summary.ShippingFee = *req.Summary.ShippingFee
			}
			if req.Summary.Tax != nil {
				o.Summary.Tax = *req.Summary.Tax
			}
			o.Summary = o.Summary.Normalize(o.Items)
		}
		if req.Notes != nil {
			o.Notes = *req.Notes
		}

		if req.Status != nil && *req.Status != o.Status {
			next := *req.Status
			switch next {
			case model.OrderStatusCancelled:
				if err := s.cancelLocked(ctx, actor, o, req.Note); err != nil {
					return err
				}
			default:
				if err := o.Transition(next, req.Note, actor.Ref(), now); err != nil {
					return err
				}
			}
			if next == model.OrderStatusPaid && o.Payment.Status != model.PaymentStatusPaid {
				o.Payment.Status = model.PaymentStatusPaid
				if o.Payment.PaidAt == nil {
					o.Payment.PaidAt = &now
				}
				paymentToPaid = true
			}
		}

		if dispatched(req.Shipping) && (o.Status == model.OrderStatusPending || o.Status == model.OrderStatusPaid) {
			if err := o.Transition(model.OrderStatusFulfilled, "shipment dispatched", actor.Ref(), now); err != nil {
				return err
			}
		}

		o.UpdatedAt = now
		return s.persist(ctx, o, start)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("order updated",
		zap.String("order", o.Number),
		zap.String("from", string(from)),
		zap.String("to", string(o.Status)),
	)

	// Баллы начисляются только за заказ, который не отменён и не возвращён.
	if paymentToPaid && o.Status != model.OrderStatusCancelled && o.Status != model.OrderStatusRefunded {
		s.accrue(ctx, o)
	}
	if from != model.OrderStatusCancelled && o.Status == model.OrderStatusCancelled {
		s.cancelled(ctx, o)
	} else {
		s.events.Emit(ctx, messaging.EventOrderUpdated, o.ID.String(), o)
	}
	return o, nil
}

// applyPaymentPatch меняет данные оплаты и сообщает, что оплата только что перешла в paid.
func applyPaymentPatch(o *model.Order, p PaymentPatch, now time.Time) bool {
	wasPaid := o.Payment.Status == model.PaymentStatusPaid

	if p.Method != nil {
		o.Payment.Method = *p.Method
	}
	if p.TransactionID != nil {
		o.Payment.TransactionID = *p.TransactionID
	}
	if p.Amount != nil {
		o.Payment.Amount = *p.Amount
	}
	if p.ReceiptURL != nil {
		o.Payment.ReceiptURL = *p.ReceiptURL
	}
	if p.PaidAt != nil {
		o.Payment.PaidAt = p.PaidAt
	}
	if p.Status == nil {
		return false
	}

	o.Payment.Status = *p.Status
	if *p.Status != model.PaymentStatusPaid {
		return false
	}
	if o.Payment.PaidAt == nil {
		o.Payment.PaidAt = &now
	}
	return !wasPaid
}

func applyShippingPatch(o *model.Order, p ShippingPatch) {
	set := func(dst *string, v *string) {
		if v != nil {
			*dst = *v
		}
	}
	set(&o.Shipping.RecipientName, p.RecipientName)
	set(&o.Shipping.Phone, p.Phone)
	set(&o.Shipping.Address1, p.Address1)
	set(&o.Shipping.Address2, p.Address2)
	set(&o.Shipping.PostalCode, p.PostalCode)
	set(&o.Shipping.Memo, p.Memo)
	set(&o.Shipping.Carrier, p.Carrier)
	set(&o.Shipping.TrackingNumber, p.TrackingNumber)
	if p.DispatchedAt != nil {
		o.Shipping.DispatchedAt = p.DispatchedAt
	}
	if p.DeliveredAt != nil {
		o.Shipping.DeliveredAt = p.DeliveredAt
	}
}

func dispatched(p *ShippingPatch) bool {
	if p == nil {
		return false
	}
	return (p.TrackingNumber != nil && *p.TrackingNumber != "") || p.DispatchedAt != nil
}
