package model

import (
	"time"

	"github.com/google/uuid"
)

// CouponType описывает способ расчёта скидки по купону.
type CouponType string

const (
	CouponFixed        CouponType = "fixed"
	CouponPercentage   CouponType = "percentage"
	CouponFreeShipping CouponType = "free_shipping"
)

// Coupon - определение купона.
type Coupon struct {
	ID          uuid.UUID  `json:"id"`
	Code        string     `json:"code"`
	Name        string     `json:"name"`
	Type        CouponType `json:"type"`
	Value       int64      `json:"value"`
	MaxDiscount int64      `json:"maxDiscount"`
	MinPurchase int64      `json:"minPurchase"`
	ValidFrom   time.Time  `json:"validFrom"`
	ValidUntil  time.Time  `json:"validUntil"`
	Active      bool       `json:"active"`
	UsageCount  int        `json:"usageCount"`
}

// ValidAt сообщает, действует ли купон в указанный момент.
func (c Coupon) ValidAt(t time.Time) bool {
	if !c.Active {
		return false
	}
	if !c.ValidFrom.IsZero() && t.Before(c.ValidFrom) {
		return false
	}
	if !c.ValidUntil.IsZero() && t.After(c.ValidUntil) {
		return false
	}
	return true
}

// Discount считает денежную скидку купона для суммы заказа.
// Для купона на бесплатную доставку скидка равна нулю.
func (c Coupon) Discount(subtotal int64) int64 {
	var d int64
	switch c.Type {
	case CouponFixed:
		d = c.Value
	case CouponPercentage:
		d = subtotal * c.Value / 100
		if c.MaxDiscount > 0 && d > c.MaxDiscount {
			d = c.MaxDiscount
		}
	default:
		return 0
	}
	if d < 0 {
		return 0
	}
	return d
}

// UserCoupon - купон, выданный пользователю.
type UserCoupon struct {
	ID       uuid.UUID  `json:"id"`
	UserID   uuid.UUID  `json:"userId"`
	CouponID uuid.UUID  `json:"couponId"`
	Used     bool       `json:"isUsed"`
	UsedAt   *time.Time `json:"usedAt,omitempty"`
	OrderID  *uuid.UUID `json:"orderId,omitempty"`
}

// PointType описывает вид операции с баллами.
type PointType string

const (
	PointEarn   PointType = "earn"
	PointUse    PointType = "use"
	PointExpire PointType = "expire"
	PointRefund PointType = "refund"
)

// PointEntry - запись журнала баллов; Balance хранит баланс после применения записи.
type PointEntry struct {
	ID          int64      `json:"id"`
	UserID      uuid.UUID  `json:"userId"`
	Type        PointType  `json:"type"`
	Amount      int64      `json:"amount"`
	Balance     int64      `json:"balance"`
	Description string     `json:"description"`
	OrderID     *uuid.UUID `json:"orderId,omitempty"`
	ProductID   *uuid.UUID `json:"productId,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
}
