package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/mmeshcher/storefront/internal/loyalty"
	"github.com/mmeshcher/storefront/internal/model"
)

const pointEarnIndex = "point_history_earn_order_uniq"

// GetUserCoupon возвращает купон пользователя вместе с определением купона.
func (s *Store) GetUserCoupon(ctx context.Context, id uuid.UUID) (model.UserCoupon, model.Coupon, error) {
	var (
		uc                    model.UserCoupon
		c                     model.Coupon
		typ                   string
		validFrom, validUntil *time.Time
	)
	err := s.conn(ctx).QueryRow(ctx,
		`SELECT uc.id, uc.user_id, uc.coupon_id, uc.is_used, uc.used_at, uc.order_id,
		        c.id, c.code, c.name, c.type, c.value, c.max_discount, c.min_purchase,
		        c.valid_from, c.valid_until, c.is_active, c.usage_count
		 FROM user_coupons uc
		 JOIN coupons c ON c.id = uc.coupon_id
		 WHERE uc.id = $1`,
		id,
	).Scan(&uc.ID, &uc.UserID, &uc.CouponID, &uc.Used, &uc.UsedAt, &uc.OrderID,
		&c.ID, &c.Code, &c.Name, &typ, &c.Value, &c.MaxDiscount, &c.MinPurchase,
		&validFrom, &validUntil, &c.Active, &c.UsageCount)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.UserCoupon{}, model.Coupon{}, loyalty.ErrCouponNotFound
	}
	if err != nil {
		return model.UserCoupon{}, model.Coupon{}, fmt.Errorf("select user coupon: %w", err)
	}

	c.Type = model.CouponType(typ)
	if validFrom != nil {
		c.ValidFrom = *validFrom
	}
	if validUntil != nil {
		c.ValidUntil = *validUntil
	}
	return uc, c, nil
}

// ConsumeUserCoupon помечает купон использованным, только если он ещё свободен.
func (s *Store) ConsumeUserCoupon(ctx context.Context, id, orderID uuid.UUID, at time.Time) error {
	tag, err := s.conn(ctx).Exec(ctx,
		`UPDATE user_coupons SET is_used = TRUE, used_at = $3, order_id = $2
		 WHERE id = $1 AND NOT is_used`,
		id, orderID, at,
	)
	if err != nil {
		return fmt.Errorf("consume user coupon: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	found, err := s.exists(ctx, `SELECT EXISTS (SELECT 1 FROM user_coupons WHERE id = $1)`, id)
	if err != nil {
		return fmt.Errorf("select user coupon: %w", err)
	}
	if !found {
		return loyalty.ErrCouponNotFound
	}
	return loyalty.ErrCouponUsed
}

// IncrementCouponUsage увеличивает счётчик использований купона.
func (s *Store) IncrementCouponUsage(ctx context.Context, couponID uuid.UUID) error {
	tag, err := s.conn(ctx).Exec(ctx,
		`UPDATE coupons SET usage_count = usage_count + 1 WHERE id = $1`,
		couponID,
	)
	if err != nil {
		return fmt.Errorf("update coupon usage: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return loyalty.ErrCouponNotFound
	}
	return nil
}

// PointBalance возвращает баланс баллов пользователя.
func (s *Store) PointBalance(ctx context.Context, userID uuid.UUID) (int64, error) {
	var balance int64
	err := s.conn(ctx).QueryRow(ctx,
		`SELECT point_balance FROM users WHERE id = $1`,
		userID,
	).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, loyalty.ErrUserNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("select point balance: %w", err)
	}
	return balance, nil
}

// AddPoints меняет баланс условным обновлением, баланс не становится отрицательным.
func (s *Store) AddPoints(ctx context.Context, userID uuid.UUID, delta int64) (int64, error) {
	var balance int64
	err := s.conn(ctx).QueryRow(ctx,
		`UPDATE users SET point_balance = point_balance + $2
		 WHERE id = $1 AND point_balance + $2 >= 0
		 RETURNING point_balance`,
		userID, delta,
	).Scan(&balance)
	if err == nil {
		return balance, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("update point balance: %w", err)
	}

	current, err := s.PointBalance(ctx, userID)
	if err != nil {
		return 0, err
	}
	return 0, loyalty.ErrInsufficientBalance.Withf("balance %d, requested %d", current, -delta)
}

// AppendPointEntry добавляет запись журнала баллов.
func (s *Store) AppendPointEntry(ctx context.Context, e *model.PointEntry) error {
	err := s.conn(ctx).QueryRow(ctx,
		`INSERT INTO point_history (user_id, type, amount, balance, description, order_id, product_id, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING id`,
		e.UserID, string(e.Type), e.Amount, e.Balance, e.Description, e.OrderID, e.ProductID, e.CreatedAt,
	).Scan(&e.ID)
	if isUniqueViolation(err, pointEarnIndex) {
		return loyalty.ErrAlreadyCredited
	}
	if err != nil {
		return fmt.Errorf("insert point entry: %w", err)
	}
	return nil
}

// HasEarnEntry сообщает, есть ли начисление по заказу.
func (s *Store) HasEarnEntry(ctx context.Context, userID, orderID uuid.UUID) (bool, error) {
	ok, err := s.exists(ctx,
		`SELECT EXISTS (SELECT 1 FROM point_history WHERE user_id = $1 AND order_id = $2 AND type = 'earn')`,
		userID, orderID,
	)
	if err != nil {
		return false, fmt.Errorf("select earn entry: %w", err)
	}
	return ok, nil
}

// ListPointEntries возвращает страницу журнала баллов, новые записи первыми.
func (s *Store) ListPointEntries(ctx context.Context, userID uuid.UUID, page model.Page) ([]model.PointEntry, int, error) {
	page = page.Normalize()

	var total int
	if err := s.conn(ctx).QueryRow(ctx,
		`SELECT count(*) FROM point_history WHERE user_id = $1`, userID,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count point entries: %w", err)
	}

	rows, err := s.conn(ctx).Query(ctx,
		`SELECT id, user_id, type, amount, balance, description, order_id, product_id, created_at
		 FROM point_history
		 WHERE user_id = $1
		 ORDER BY id DESC
		 LIMIT $2 OFFSET $3`,
		userID, page.Limit, page.Offset(),
	)
	if err != nil {
		return nil, 0, fmt.Errorf("select point entries: %w", err)
	}
	defer rows.Close()

	res := make([]model.PointEntry, 0, page.Limit)
	for rows.Next() {
		var (
			e   model.PointEntry
			typ string
		)
		if err := rows.Scan(&e.ID, &e.UserID, &typ, &e.Amount, &e.Balance, &e.Description,
			&e.OrderID, &e.ProductID, &e.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("scan point entry: %w", err)
		}
		e.Type = model.PointType(typ)
		res = append(res, e)
	}

	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("rows error: %w", err)
	}

	return res, total, nil
}
