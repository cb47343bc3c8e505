// Package model содержит доменные сущности витрины: заказы, складские остатки, купоны, баллы и возвраты.
package model

import (
	"time"

	"github.com/google/uuid"

	"github.com/mmeshcher/storefront/internal/apperr"
)

// ErrInvalidTransition возвращается при недопустимой смене статуса.
var ErrInvalidTransition = apperr.New(apperr.KindConflict, "invalid_transition", "invalid status transition")

// OrderStatus описывает статус заказа.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusPaid      OrderStatus = "paid"
	OrderStatusFulfilled OrderStatus = "fulfilled"
	OrderStatusCancelled OrderStatus = "cancelled"
	OrderStatusRefunded  OrderStatus = "refunded"
)

// orderProgress задаёт порядок прямого движения заказа.
var orderProgress = map[OrderStatus]int{
	OrderStatusPending:   0,
	OrderStatusPaid:      1,
	OrderStatusFulfilled: 2,
}

// Valid сообщает, является ли значение известным статусом.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusPaid, OrderStatusFulfilled, OrderStatusCancelled, OrderStatusRefunded:
		return true
	}
	return false
}

// IsTerminal сообщает, что из статуса нет переходов.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusCancelled || s == OrderStatusRefunded
}

// CanTransitionTo проверяет переход pending → paid → fulfilled
// и переход в cancelled/refunded из любого нетерминального статуса.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	if !s.Valid() || !next.Valid() || s.IsTerminal() || s == next {
		return false
	}
	if next.IsTerminal() {
		return true
	}
	return orderProgress[next] > orderProgress[s]
}

// PaymentStatus описывает состояние оплаты заказа.
type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusPaid      PaymentStatus = "paid"
	PaymentStatusFailed    PaymentStatus = "failed"
	PaymentStatusCancelled PaymentStatus = "cancelled"
	PaymentStatusRefunded  PaymentStatus = "refunded"
)

// Valid сообщает, является ли значение известным статусом оплаты.
func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentStatusPending, PaymentStatusPaid, PaymentStatusFailed, PaymentStatusCancelled, PaymentStatusRefunded:
		return true
	}
	return false
}

// LineItem - снимок позиции заказа на момент оформления.
type LineItem struct {
	ProductID uuid.UUID         `json:"productId"`
	Name      string            `json:"name"`
	SKU       string            `json:"sku"`
	Options   map[string]string `json:"options,omitempty"`
	Quantity  int               `json:"quantity"`
	UnitPrice int64             `json:"unitPrice"`
	Discount  int64             `json:"discount"`
	Total     int64             `json:"total"`
}

// Gross возвращает стоимость позиции без скидки.
func (li LineItem) Gross() int64 {
	return li.UnitPrice * int64(li.Quantity)
}

// Summary содержит финансовую сводку заказа.
type Summary struct {
	Subtotal       int64 `json:"subtotal"`
	DiscountTotal  int64 `json:"discountTotal"`
	CouponDiscount int64 `json:"couponDiscount"`
	PointsUsed     int64 `json:"pointsUsed"`
	PointsDiscount int64 `json:"pointsDiscount"`
	ShippingFee    int64 `json:"shippingFee"`
	Tax            int64 `json:"tax"`
	GrandTotal     int64 `json:"grandTotal"`
}

// ComputeGrandTotal считает итог: max(0, subtotal − discountTotal − couponDiscount − pointsDiscount + shippingFee + tax).
func (s Summary) ComputeGrandTotal() int64 {
	total := s.Subtotal - s.DiscountTotal - s.CouponDiscount - s.PointsDiscount + s.ShippingFee + s.Tax
	if total < 0 {
		return 0
	}
	return total
}

// AmountBeforePoints возвращает сумму к оплате до списания баллов.
func (s Summary) AmountBeforePoints() int64 {
	owed := s.Subtotal - s.DiscountTotal - s.CouponDiscount + s.ShippingFee + s.Tax
	if owed < 0 {
		return 0
	}
	return owed
}

// Normalize пересчитывает производные поля из позиций и возвращает сводку с актуальным итогом.
func (s Summary) Normalize(items []LineItem) Summary {
	s.Subtotal, s.DiscountTotal = 0, 0
	for _, it := range items {
		s.Subtotal += it.Gross()
		s.DiscountTotal += it.Discount
	}
	s.GrandTotal = s.ComputeGrandTotal()
	return s
}

// Consistent проверяет, что сводка согласована с позициями и формулой итога.
func (s Summary) Consistent(items []LineItem) bool {
	return s.Normalize(items) == s
}

// Payment содержит данные об оплате заказа.
type Payment struct {
	Method         string        `json:"method,omitempty"`
	Provider       string        `json:"provider,omitempty"`
	Status         PaymentStatus `json:"status"`
	TransactionID  string        `json:"transactionId,omitempty"`
	GatewayOrderID string        `json:"gatewayOrderId,omitempty"`
	Amount         int64         `json:"amount"`
	PaidAt         *time.Time    `json:"paidAt,omitempty"`
	ReceiptURL     string        `json:"receiptUrl,omitempty"`
}

// Shipping содержит данные о доставке заказа.
type Shipping struct {
	RecipientName  string     `json:"recipientName"`
	Phone          string     `json:"phone"`
	Address1       string     `json:"address1"`
	Address2       string     `json:"address2,omitempty"`
	PostalCode     string     `json:"postalCode,omitempty"`
	Memo           string     `json:"memo,omitempty"`
	Carrier        string     `json:"carrier,omitempty"`
	TrackingNumber string     `json:"trackingNumber,omitempty"`
	DispatchedAt   *time.Time `json:"dispatchedAt,omitempty"`
	DeliveredAt    *time.Time `json:"deliveredAt,omitempty"`
}

// GuestContact - контакты покупателя без учётной записи.
type GuestContact struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
}

// AuditEntry - запись журнала смены статусов заказа.
type AuditEntry struct {
	Status    OrderStatus `json:"status"`
	Note      string      `json:"note,omitempty"`
	ChangedBy *uuid.UUID  `json:"changedBy,omitempty"`
	CreatedAt time.Time   `json:"createdAt"`
}

// Order - заказ покупателя.
type Order struct {
	ID                  uuid.UUID     `json:"id"`
	Number              string        `json:"orderNumber"`
	UserID              *uuid.UUID    `json:"userId,omitempty"`
	Guest               *GuestContact `json:"guest,omitempty"`
	GuestTokenHash      []byte        `json:"-"`
	GuestTokenExpiresAt *time.Time    `json:"-"`
	Items               []LineItem    `json:"items"`
	Summary             Summary       `json:"summary"`
	UserCouponID        *uuid.UUID    `json:"userCouponId,omitempty"`
	Payment             Payment       `json:"payment"`
	Shipping            Shipping      `json:"shipping"`
	Notes               string        `json:"notes,omitempty"`
	Status              OrderStatus   `json:"status"`
	History             []AuditEntry  `json:"history"`
	CancelledAt         *time.Time    `json:"cancelledAt,omitempty"`
	CreatedAt           time.Time     `json:"createdAt"`
	UpdatedAt           time.Time     `json:"updatedAt"`
}

// IsGuest сообщает, что заказ оформлен без учётной записи.
func (o *Order) IsGuest() bool {
	return o.UserID == nil
}

// OwnedBy сообщает, принадлежит ли заказ пользователю.
func (o *Order) OwnedBy(userID uuid.UUID) bool {
	return o.UserID != nil && *o.UserID == userID
}

// Transition меняет статус заказа и добавляет запись в журнал.
func (o *Order) Transition(next OrderStatus, note string, by *uuid.UUID, at time.Time) error {
	if !o.Status.CanTransitionTo(next) {
		return ErrInvalidTransition.Withf("order %s: %s -> %s", o.Number, o.Status, next)
	}
	o.Status = next
	if next == OrderStatusCancelled {
		o.CancelledAt = &at
	}
	o.Audit(note, by, at)
	return nil
}

// Audit добавляет запись о текущем статусе в журнал заказа.
func (o *Order) Audit(note string, by *uuid.UUID, at time.Time) AuditEntry {
	entry := AuditEntry{Status: o.Status, Note: note, ChangedBy: by, CreatedAt: at}
	o.History = append(o.History, entry)
	o.UpdatedAt = at
	return entry
}

// ItemQuantity возвращает заказанное количество товара.
func (o *Order) ItemQuantity(productID uuid.UUID) int {
	n := 0
	for _, it := range o.Items {
		if it.ProductID == productID {
			n += it.Quantity
		}
	}
	return n
}

// OrderFilter задаёт условия выборки списка заказов.
type OrderFilter struct {
	Status OrderStatus
	UserID *uuid.UUID
	Page   Page
}
