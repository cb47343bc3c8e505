package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/mmeshcher/storefront/internal/exchange"
	"github.com/mmeshcher/storefront/internal/model"
)

const exchangeColumns = `id, order_id, order_number, user_id, items, reason_code, reason_label, detail,
	solution, collection_date, collection_address, status, rejection_reason, refund_amount,
	refund_method, admin_note, processed_at, completed_at, cancelled_at, created_at, updated_at`

func scanExchange(row pgx.Row) (*model.ExchangeReturn, error) {
	var (
		e                model.ExchangeReturn
		solution, status string
	)
	err := row.Scan(&e.ID, &e.OrderID, &e.OrderNumber, &e.UserID, &e.Items, &e.ReasonCode, &e.ReasonLabel,
		&e.Detail, &solution, &e.CollectionDate, &e.CollectionAddress, &status, &e.RejectionReason,
		&e.RefundAmount, &e.RefundMethod, &e.AdminNote, &e.ProcessedAt, &e.CompletedAt, &e.CancelledAt,
		&e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}
	e.Solution = model.Solution(solution)
	e.Status = model.ExchangeStatus(status)
	return &e, nil
}

// CreateExchangeReturn сохраняет заявку.
func (s *Store) CreateExchangeReturn(ctx context.Context, e *model.ExchangeReturn) error {
	_, err := s.conn(ctx).Exec(ctx,
		`INSERT INTO exchange_returns (`+exchangeColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)`,
		e.ID, e.OrderID, e.OrderNumber, e.UserID, e.Items, e.ReasonCode, e.ReasonLabel, e.Detail,
		string(e.Solution), e.CollectionDate, e.CollectionAddress, string(e.Status), e.RejectionReason,
		e.RefundAmount, e.RefundMethod, e.AdminNote, e.ProcessedAt, e.CompletedAt, e.CancelledAt,
		e.CreatedAt, e.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert exchange return: %w", err)
	}
	return nil
}

// GetExchangeReturn возвращает заявку.
func (s *Store) GetExchangeReturn(ctx context.Context, id uuid.UUID) (*model.ExchangeReturn, error) {
	return s.getExchange(ctx, `SELECT `+exchangeColumns+` FROM exchange_returns WHERE id = $1`, id)
}

// LockExchangeReturn возвращает заявку и блокирует строку до конца транзакции.
func (s *Store) LockExchangeReturn(ctx context.Context, id uuid.UUID) (*model.ExchangeReturn, error) {
	return s.getExchange(ctx, `SELECT `+exchangeColumns+` FROM exchange_returns WHERE id = $1 FOR UPDATE`, id)
}

func (s *Store) getExchange(ctx context.Context, query string, id uuid.UUID) (*model.ExchangeReturn, error) {
	e, err := scanExchange(s.conn(ctx).QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, exchange.ErrExchangeNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select exchange return: %w", err)
	}
	return e, nil
}

// UpdateExchangeReturn сохраняет статус и результаты обработки заявки.
func (s *Store) UpdateExchangeReturn(ctx context.Context, e *model.ExchangeReturn) error {
	tag, err := s.conn(ctx).Exec(ctx,
		`UPDATE exchange_returns SET
		    status = $2, rejection_reason = $3, refund_amount = $4, refund_method = $5, admin_note = $6,
		    processed_at = $7, completed_at = $8, cancelled_at = $9, updated_at = $10
		 WHERE id = $1`,
		e.ID, string(e.Status), e.RejectionReason, e.RefundAmount, e.RefundMethod, e.AdminNote,
		e.ProcessedAt, e.CompletedAt, e.CancelledAt, e.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update exchange return: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return exchange.ErrExchangeNotFound
	}
	return nil
}

// ListExchangeReturns возвращает страницу заявок, новые первыми.
func (s *Store) ListExchangeReturns(ctx context.Context, f model.ExchangeFilter) ([]model.ExchangeReturn, int, error) {
	page := f.Page.Normalize()
	const where = `WHERE ($1 = '' OR status = $1)
		AND ($2::uuid IS NULL OR user_id = $2)
		AND ($3::uuid IS NULL OR order_id = $3)`

	var total int
	if err := s.conn(ctx).QueryRow(ctx,
		`SELECT count(*) FROM exchange_returns `+where,
		string(f.Status), f.UserID, f.OrderID,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count exchange returns: %w", err)
	}

	rows, err := s.conn(ctx).Query(ctx,
		`SELECT `+exchangeColumns+` FROM exchange_returns `+where+`
		 ORDER BY created_at DESC
		 LIMIT $4 OFFSET $5`,
		string(f.Status), f.UserID, f.OrderID, page.Limit, page.Offset(),
	)
	if err != nil {
		return nil, 0, fmt.Errorf("select exchange returns: %w", err)
	}
	defer rows.Close()

	res := make([]model.ExchangeReturn, 0, page.Limit)
	for rows.Next() {
		e, err := scanExchange(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan exchange return: %w", err)
		}
		res = append(res, *e)
	}

	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("rows error: %w", err)
	}

	return res, total, nil
}

// OrderExchangeReturns возвращает все заявки по заказу в порядке создания.
func (s *Store) OrderExchangeReturns(ctx context.Context, orderID uuid.UUID) (model.OrderReturns, error) {
	rows, err := s.conn(ctx).Query(ctx,
		`SELECT `+exchangeColumns+` FROM exchange_returns WHERE order_id = $1 ORDER BY created_at`,
		orderID,
	)
	if err != nil {
		return nil, fmt.Errorf("select order exchange returns: %w", err)
	}
	defer rows.Close()

	var res model.OrderReturns
	for rows.Next() {
		e, err := scanExchange(rows)
		if err != nil {
			return nil, fmt.Errorf("scan exchange return: %w", err)
		}
		res = append(res, *e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// RecordRefundFailure сохраняет неудавшийся возврат для ручной сверки.
func (s *Store) RecordRefundFailure(ctx context.Context, f *model.RefundFailure) error {
	err := s.conn(ctx).QueryRow(ctx,
		`INSERT INTO refund_failures (provider, transaction_id, amount, reason, error, order_id, exchange_return_id, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING id`,
		f.Provider, f.TransactionID, f.Amount, f.Reason, f.Error, f.OrderID, f.ExchangeReturnID, f.CreatedAt,
	).Scan(&f.ID)
	if err != nil {
		return fmt.Errorf("insert refund failure: %w", err)
	}
	return nil
}

// ListRefundFailures возвращает страницу неудавшихся возвратов, новые первыми.
func (s *Store) ListRefundFailures(ctx context.Context, page model.Page) ([]model.RefundFailure, int, error) {
	page = page.Normalize()

	var total int
	if err := s.conn(ctx).QueryRow(ctx, `SELECT count(*) FROM refund_failures`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count refund failures: %w", err)
	}

	rows, err := s.conn(ctx).Query(ctx,
		`SELECT id, provider, transaction_id, amount, reason, error, order_id, exchange_return_id, created_at
		 FROM refund_failures
		 ORDER BY id DESC
		 LIMIT $1 OFFSET $2`,
		page.Limit, page.Offset(),
	)
	if err != nil {
		return nil, 0, fmt.Errorf("select refund failures: %w", err)
	}
	defer rows.Close()

	res := make([]model.RefundFailure, 0, page.Limit)
	for rows.Next() {
		var f model.RefundFailure
		if err := rows.Scan(&f.ID, &f.Provider, &f.TransactionID, &f.Amount, &f.Reason, &f.Error,
			&f.OrderID, &f.ExchangeReturnID, &f.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("scan refund failure: %w", err)
		}
		res = append(res, f)
	}

	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("rows error: %w", err)
	}

	return res, total, nil
}
