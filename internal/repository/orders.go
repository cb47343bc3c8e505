package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/mmeshcher/storefront/internal/model"
	"github.com/mmeshcher/storefront/internal/order"
)

const (
	orderNumberKey      = "orders_number_key"
	orderTransactionKey = "orders_payment_transaction_uniq"
)

const orderColumns = `id, number, user_id, guest, guest_token_hash, guest_token_expires_at, items, summary,
	user_coupon_id, payment_method, payment_provider, payment_status, payment_transaction_id,
	payment_gateway_order_id, payment_amount, paid_at, receipt_url, shipping, notes, status,
	cancelled_at, created_at, updated_at`

func scanOrder(row pgx.Row) (*model.Order, error) {
	var (
		o             model.Order
		paymentStatus string
		status        string
	)
	err := row.Scan(&o.ID, &o.Number, &o.UserID, &o.Guest, &o.GuestTokenHash, &o.GuestTokenExpiresAt,
		&o.Items, &o.Summary, &o.UserCouponID, &o.Payment.Method, &o.Payment.Provider, &paymentStatus,
		&o.Payment.TransactionID, &o.Payment.GatewayOrderID, &o.Payment.Amount, &o.Payment.PaidAt,
		&o.Payment.ReceiptURL, &o.Shipping, &o.Notes, &status, &o.CancelledAt, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, err
	}
	o.Payment.Status = model.PaymentStatus(paymentStatus)
	o.Status = model.OrderStatus(status)
	return &o, nil
}

// PaymentTransactionExists сообщает, привязана ли транзакция шлюза к заказу.
func (s *Store) PaymentTransactionExists(ctx context.Context, transactionID string) (bool, error) {
	return s.exists(ctx,
		`SELECT EXISTS (SELECT 1 FROM orders WHERE payment_transaction_id = $1)`,
		transactionID,
	)
}

// OrderNumberExists сообщает, занят ли номер заказа.
func (s *Store) OrderNumberExists(ctx context.Context, number string) (bool, error) {
	return s.exists(ctx, `SELECT EXISTS (SELECT 1 FROM orders WHERE number = $1)`, number)
}

// CreateOrder сохраняет заказ и его журнал статусов.
func (s *Store) CreateOrder(ctx context.Context, o *model.Order) error {
	_, err := s.conn(ctx).Exec(ctx,
		`INSERT INTO orders (`+orderColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23)`,
		o.ID, o.Number, o.UserID, o.Guest, o.GuestTokenHash, o.GuestTokenExpiresAt, o.Items, o.Summary,
		o.UserCouponID, o.Payment.Method, o.Payment.Provider, string(o.Payment.Status), o.Payment.TransactionID,
		o.Payment.GatewayOrderID, o.Payment.Amount, o.Payment.PaidAt, o.Payment.ReceiptURL, o.Shipping,
		o.Notes, string(o.Status), o.CancelledAt, o.CreatedAt, o.UpdatedAt,
	)
	switch {
	case isUniqueViolation(err, orderTransactionKey):
		return order.ErrDuplicatePayment
	case isUniqueViolation(err, orderNumberKey):
		return order.ErrOrderNumberTaken
	case err != nil:
		return fmt.Errorf("insert order: %w", err)
	}

	for _, entry := range o.History {
		if err := s.AppendOrderAudit(ctx, o.ID, entry); err != nil {
			return err
		}
	}
	return nil
}

// GetOrder возвращает заказ с журналом статусов.
func (s *Store) GetOrder(ctx context.Context, id uuid.UUID) (*model.Order, error) {
	return s.getOrder(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
}

// GetOrderByNumber возвращает заказ по номеру.
func (s *Store) GetOrderByNumber(ctx context.Context, number string) (*model.Order, error) {
	return s.getOrder(ctx, `SELECT `+orderColumns+` FROM orders WHERE number = $1`, number)
}

// LockOrder возвращает заказ и блокирует строку до конца транзакции.
func (s *Store) LockOrder(ctx context.Context, id uuid.UUID) (*model.Order, error) {
	return s.getOrder(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1 FOR UPDATE`, id)
}

func (s *Store) getOrder(ctx context.Context, query string, arg any) (*model.Order, error) {
	o, err := scanOrder(s.conn(ctx).QueryRow(ctx, query, arg))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, order.ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select order: %w", err)
	}

	history, err := s.orderHistory(ctx, []uuid.UUID{o.ID})
	if err != nil {
		return nil, err
	}
	o.History = history[o.ID]
	return o, nil
}

func (s *Store) orderHistory(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID][]model.AuditEntry, error) {
	rows, err := s.conn(ctx).Query(ctx,
		`SELECT order_id, status, note, changed_by, created_at
		 FROM order_status_history
		 WHERE order_id = ANY($1)
		 ORDER BY id`,
		ids,
	)
	if err != nil {
		return nil, fmt.Errorf("select order history: %w", err)
	}
	defer rows.Close()

	res := make(map[uuid.UUID][]model.AuditEntry, len(ids))
	for rows.Next() {
		var (
			orderID uuid.UUID
			status  string
			e       model.AuditEntry
		)
		if err := rows.Scan(&orderID, &status, &e.Note, &e.ChangedBy, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan order history: %w", err)
		}
		e.Status = model.OrderStatus(status)
		res[orderID] = append(res[orderID], e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// UpdateOrder сохраняет изменяемые поля заказа. Журнал статусов пополняется отдельно.
func (s *Store) UpdateOrder(ctx context.Context, o *model.Order) error {
	tag, err := s.conn(ctx).Exec(ctx,
		`UPDATE orders SET
		    summary = $2, payment_method = $3, payment_status = $4, payment_transaction_id = $5,
		    payment_amount = $6, paid_at = $7, receipt_url = $8, shipping = $9, notes = $10,
		    status = $11, cancelled_at = $12, updated_at = $13
		 WHERE id = $1`,
		o.ID, o.Summary, o.Payment.Method, string(o.Payment.Status), o.Payment.TransactionID,
		o.Payment.Amount, o.Payment.PaidAt, o.Payment.ReceiptURL, o.Shipping, o.Notes,
		string(o.Status), o.CancelledAt, o.UpdatedAt,
	)
	if isUniqueViolation(err, orderTransactionKey) {
		return order.ErrDuplicatePayment
	}
	if err != nil {
		return fmt.Errorf("update order: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return order.ErrOrderNotFound
	}
	return nil
}

// AppendOrderAudit добавляет запись в журнал статусов заказа.
func (s *Store) AppendOrderAudit(ctx context.Context, orderID uuid.UUID, e model.AuditEntry) error {
	_, err := s.conn(ctx).Exec(ctx,
		`INSERT INTO order_status_history (order_id, status, note, changed_by, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		orderID, string(e.Status), e.Note, e.ChangedBy, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert order history: %w", err)
	}
	return nil
}

// ListOrders возвращает страницу заказов, новые первыми, и общее число подходящих заказов.
func (s *Store) ListOrders(ctx context.Context, f model.OrderFilter) ([]model.Order, int, error) {
	page := f.Page.Normalize()
	const where = `WHERE ($1 = '' OR status = $1) AND ($2::uuid IS NULL OR user_id = $2)`

	var total int
	if err := s.conn(ctx).QueryRow(ctx,
		`SELECT count(*) FROM orders `+where,
		string(f.Status), f.UserID,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count orders: %w", err)
	}

	rows, err := s.conn(ctx).Query(ctx,
		`SELECT `+orderColumns+` FROM orders `+where+`
		 ORDER BY created_at DESC, number DESC
		 LIMIT $3 OFFSET $4`,
		string(f.Status), f.UserID, page.Limit, page.Offset(),
	)
	if err != nil {
		return nil, 0, fmt.Errorf("select orders: %w", err)
	}
	defer rows.Close()

	orders := make([]model.Order, 0, page.Limit)
	ids := make([]uuid.UUID, 0, page.Limit)
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, *o)
		ids = append(ids, o.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("rows error: %w", err)
	}
	rows.Close()

	if len(ids) > 0 {
		history, err := s.orderHistory(ctx, ids)
		if err != nil {
			return nil, 0, err
		}
		for i := range orders {
			orders[i].History = history[orders[i].ID]
		}
	}

	return orders, total, nil
}
