// Package loyalty ведёт купоны покупателей и баланс бонусных баллов.
package loyalty

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mmeshcher/storefront/internal/apperr"
	"github.com/mmeshcher/storefront/internal/model"
	"github.com/mmeshcher/storefront/internal/telemetry"
)

var (
	// ErrInsufficientBalance возвращается, если баллов на балансе меньше запрошенного.
	ErrInsufficientBalance = apperr.New(apperr.KindInsufficient, "insufficient_balance", "insufficient point balance")
	// ErrCouponUsed возвращается при повторном использовании купона.
	ErrCouponUsed = apperr.New(apperr.KindConflict, "coupon_used", "coupon already used")
	// ErrCouponInvalid возвращается, если купон нельзя применить к заказу.
	ErrCouponInvalid = apperr.New(apperr.KindValidation, "coupon_invalid", "coupon is not applicable")
	// ErrCouponNotFound возвращается, если купон пользователя не найден.
	ErrCouponNotFound = apperr.New(apperr.KindNotFound, "coupon_not_found", "coupon not found")
	// ErrUserNotFound возвращается, если пользователь не найден.
	ErrUserNotFound = apperr.New(apperr.KindNotFound, "user_not_found", "user not found")
	// ErrInvalidAmount возвращается при неположительной сумме баллов.
	ErrInvalidAmount = apperr.New(apperr.KindValidation, "invalid_amount", "amount must be positive")
	// ErrAlreadyCredited возвращается хранилищем, если начисление по заказу уже есть.
	ErrAlreadyCredited = apperr.New(apperr.KindConflict, "already_credited", "points already credited for order")
)

// RewardRate - доля оплаченной суммы, начисляемая баллами, в процентах.
const RewardRate = 1

// Store - хранилище купонов и баллов.
//
// AddPoints меняет баланс атомарно и возвращает ErrInsufficientBalance, если баланс стал бы отрицательным.
// ConsumeUserCoupon помечает купон использованным только если он ещё не использован, иначе ErrCouponUsed.
type Store interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
	GetUserCoupon(ctx context.Context, id uuid.UUID) (model.UserCoupon, model.Coupon, error)
	ConsumeUserCoupon(ctx context.Context, id, orderID uuid.UUID, at time.Time) error
	IncrementCouponUsage(ctx context.Context, couponID uuid.UUID) error
	PointBalance(ctx context.Context, userID uuid.UUID) (int64, error)
	AddPoints(ctx context.Context, userID uuid.UUID, delta int64) (int64, error)
	AppendPointEntry(ctx context.Context, entry *model.PointEntry) error
	HasEarnEntry(ctx context.Context, userID, orderID uuid.UUID) (bool, error)
	ListPointEntries(ctx context.Context, userID uuid.UUID, page model.Page) ([]model.PointEntry, int, error)
}

// Quote - результат проверки купона для суммы заказа.
type Quote struct {
	Coupon       model.Coupon
	Discount     int64
	FreeShipping bool
}

// Ledger проверяет и списывает купоны, начисляет и списывает баллы.
type Ledger struct {
	store   Store
	metrics *telemetry.Metrics
	now     func() time.Time
}

// NewLedger создаёт журнал лояльности поверх хранилища.
func NewLedger(store Store, metrics *telemetry.Metrics) *Ledger {
	return &Ledger{store: store, metrics: metrics, now: time.Now}
}

// QuoteCoupon проверяет купон пользователя и считает скидку, ничего не меняя.
func (l *Ledger) QuoteCoupon(ctx context.Context, userID, userCouponID uuid.UUID, subtotal int64) (Quote, error) {
	uc, c, err := l.store.GetUserCoupon(ctx, userCouponID)
	if err != nil {
		return Quote{}, err
	}

	if uc.UserID != userID {
		return Quote{}, ErrCouponNotFound
	}
	if uc.Used {
		return Quote{}, ErrCouponUsed
	}
	if !c.ValidAt(l.now()) {
		return Quote{}, ErrCouponInvalid.Withf("coupon %s is inactive or expired", c.Code)
	}
	if subtotal < c.MinPurchase {
		return Quote{}, ErrCouponInvalid.Withf("minimum purchase is %d", c.MinPurchase)
	}

	return Quote{
		Coupon:       c,
		Discount:     c.Discount(subtotal),
		FreeShipping: c.Type == model.CouponFreeShipping,
	}, nil
}

// RedeemCoupon проверяет купон и помечает его использованным в заказе orderID.
func (l *Ledger) RedeemCoupon(ctx context.Context, userID, userCouponID, orderID uuid.UUID, subtotal int64) (Quote, error) {
	var q Quote
	err := l.store.InTx(ctx, func(ctx context.Context) error {
		var err error
		q, err = l.QuoteCoupon(ctx, userID, userCouponID, subtotal)
		if err != nil {
			return err
		}
		if err := l.store.ConsumeUserCoupon(ctx, userCouponID, orderID, l.now()); err != nil {
			return err
		}
		if err := l.store.IncrementCouponUsage(ctx, q.Coupon.ID); err != nil {
			return fmt.Errorf("increment coupon usage: %w", err)
		}
		return nil
	})
	if err != nil {
		return Quote{}, err
	}
	return q, nil
}

// UsablePoints проверяет баланс и ограничивает списание суммой к оплате.
func (l *Ledger) UsablePoints(ctx context.Context, userID uuid.UUID, requested, owed int64) (int64, error) {
	if requested <= 0 {
		return 0, nil
	}

	balance, err := l.store.PointBalance(ctx, userID)
	if err != nil {
		return 0, err
	}
	if balance < requested {
		return 0, ErrInsufficientBalance.Withf("balance %d, requested %d", balance, requested)
	}
	return min(requested, max(owed, 0)), nil
}

// DebitPoints списывает баллы в оплату заказа. Списывается не больше owed;
// возвращает фактически списанное количество.
func (l *Ledger) DebitPoints(ctx context.Context, userID uuid.UUID, requested, owed int64, orderID uuid.UUID) (int64, error) {
	var used int64
	err := l.store.InTx(ctx, func(ctx context.Context) error {
		var err error
		used, err = l.UsablePoints(ctx, userID, requested, owed)
		if err != nil || used == 0 {
			return err
		}
		_, err = l.post(ctx, userID, model.PointUse, -used, "order payment", &orderID)
		return err
	})
	if err != nil {
		return 0, err
	}
	return used, nil
}

// CreditReward начисляет вознаграждение за оплаченный заказ: floor(paymentAmount × 1%).
// Повторный вызов для того же заказа ничего не начисляет.
func (l *Ledger) CreditReward(ctx context.Context, userID, orderID uuid.UUID, paymentAmount int64) (int64, error) {
	reward := paymentAmount * RewardRate / 100
	if reward <= 0 {
		return 0, nil
	}

	credited := int64(0)
	err := l.store.InTx(ctx, func(ctx context.Context) error {
		earned, err := l.store.HasEarnEntry(ctx, userID, orderID)
		if err != nil {
			return fmt.Errorf("check earn entry: %w", err)
		}
		if earned {
			return nil
		}
		if _, err := l.post(ctx, userID, model.PointEarn, reward, "order reward", &orderID); err != nil {
			return err
		}
		credited = reward
		return nil
	})
	if errors.Is(err, ErrAlreadyCredited) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	l.metrics.PointsCredited(ctx, credited)
	return credited, nil
}

// Earn начисляет баллы вручную.
func (l *Ledger) Earn(ctx context.Context, userID uuid.UUID, amount int64, description string, orderID *uuid.UUID) (model.PointEntry, error) {
	if amount <= 0 {
		return model.PointEntry{}, ErrInvalidAmount
	}

	var entry model.PointEntry
	err := l.store.InTx(ctx, func(ctx context.Context) error {
		var err error
		entry, err = l.post(ctx, userID, model.PointEarn, amount, description, orderID)
		return err
	})
	if err != nil {
		return model.PointEntry{}, err
	}

	l.metrics.PointsCredited(ctx, amount)
	return entry, nil
}

// Use списывает баллы по запросу пользователя.
func (l *Ledger) Use(ctx context.Context, userID uuid.UUID, amount int64, description string, orderID *uuid.UUID) (model.PointEntry, error) {
	if amount <= 0 {
		return model.PointEntry{}, ErrInvalidAmount
	}

	var entry model.PointEntry
	err := l.store.InTx(ctx, func(ctx context.Context) error {
		var err error
		entry, err = l.post(ctx, userID, model.PointUse, -amount, description, orderID)
		return err
	})
	if err != nil {
		return model.PointEntry{}, err
	}
	return entry, nil
}

// Balance возвращает текущий баланс баллов.
func (l *Ledger) Balance(ctx context.Context, userID uuid.UUID) (int64, error) {
	return l.store.PointBalance(ctx, userID)
}

// History возвращает страницу журнала баллов и общее число записей.
func (l *Ledger) History(ctx context.Context, userID uuid.UUID, page model.Page) ([]model.PointEntry, int, error) {
	entries, total, err := l.store.ListPointEntries(ctx, userID, page.Normalize())
	if err != nil {
		return nil, 0, fmt.Errorf("list point entries: %w", err)
	}
	return entries, total, nil
}

// post меняет баланс и пишет запись журнала с балансом после операции.
func (l *Ledger) post(ctx context.Context, userID uuid.UUID, typ model.PointType, delta int64, description string, orderID *uuid.UUID) (model.PointEntry, error) {
	balance, err := l.store.AddPoints(ctx, userID, delta)
	if err != nil {
		return model.PointEntry{}, err
	}

	entry := model.PointEntry{
		UserID:      userID,
		Type:        typ,
		Amount:      delta,
		Balance:     balance,
		Description: description,
		OrderID:     orderID,
		CreatedAt:   l.now(),
	}
	if err := l.store.AppendPointEntry(ctx, &entry); err != nil {
		return model.PointEntry{}, err
	}
	return entry, nil
}
