package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/mmeshcher/storefront/internal/inventory"
	"github.com/mmeshcher/storefront/internal/model"
)

// ReserveStock увеличивает резерв одним условным обновлением.
func (s *Store) ReserveStock(ctx context.Context, productID uuid.UUID, qty int) (model.StockChange, error) {
	change := model.StockChange{ProductID: productID}
	err := s.conn(ctx).QueryRow(ctx,
		`UPDATE products
		 SET reserved = reserved + $2, updated_at = now()
		 WHERE id = $1 AND stock - reserved >= $2
		 RETURNING stock, reserved - $2, reserved`,
		productID, qty,
	).Scan(&change.PreviousStock, &change.PreviousReserved, &change.NewReserved)
	if err == nil {
		return change, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return model.StockChange{}, fmt.Errorf("reserve stock: %w", err)
	}

	var stock, reserved int
	err = s.conn(ctx).QueryRow(ctx,
		`SELECT stock, reserved FROM products WHERE id = $1`,
		productID,
	).Scan(&stock, &reserved)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.StockChange{}, inventory.ErrProductNotFound.Withf("%s", productID)
	}
	if err != nil {
		return model.StockChange{}, fmt.Errorf("select product: %w", err)
	}
	return model.StockChange{}, inventory.ErrInsufficientStock.Withf("product %s: available %d, requested %d", productID, stock-reserved, qty)
}

// RestoreStock уменьшает резерв, не опуская его ниже нуля.
func (s *Store) RestoreStock(ctx context.Context, productID uuid.UUID, qty int) (model.StockChange, error) {
	change := model.StockChange{ProductID: productID}
	err := s.conn(ctx).QueryRow(ctx,
		`UPDATE products p
		 SET reserved = GREATEST(p.reserved - $2, 0), updated_at = now()
		 FROM (SELECT id, reserved FROM products WHERE id = $1 FOR UPDATE) old
		 WHERE p.id = old.id
		 RETURNING p.stock, old.reserved, p.reserved`,
		productID, qty,
	).Scan(&change.PreviousStock, &change.PreviousReserved, &change.NewReserved)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.StockChange{}, inventory.ErrProductNotFound.Withf("%s", productID)
	}
	if err != nil {
		return model.StockChange{}, fmt.Errorf("restore stock: %w", err)
	}
	return change, nil
}

// AppendInventoryHistory добавляет запись складского журнала.
func (s *Store) AppendInventoryHistory(ctx context.Context, e *model.InventoryHistory) error {
	err := s.conn(ctx).QueryRow(ctx,
		`INSERT INTO inventory_history
		 (product_id, type, quantity, previous_stock, new_stock, previous_reserved, new_reserved, order_id, actor_id, note, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 RETURNING id`,
		e.ProductID, string(e.Type), e.Quantity, e.PreviousStock, e.NewStock,
		e.PreviousReserved, e.NewReserved, e.OrderID, e.ActorID, e.Note, e.CreatedAt,
	).Scan(&e.ID)
	if err != nil {
		return fmt.Errorf("insert inventory history: %w", err)
	}
	return nil
}

// ListInventoryHistory возвращает журнал товара в порядке записи.
func (s *Store) ListInventoryHistory(ctx context.Context, productID uuid.UUID) ([]model.InventoryHistory, error) {
	rows, err := s.conn(ctx).Query(ctx,
		`SELECT id, product_id, type, quantity, previous_stock, new_stock, previous_reserved, new_reserved,
		        order_id, actor_id, note, created_at
		 FROM inventory_history
		 WHERE product_id = $1
		 ORDER BY id`,
		productID,
	)
	if err != nil {
		return nil, fmt.Errorf("select inventory history: %w", err)
	}
	defer rows.Close()

	var res []model.InventoryHistory
	for rows.Next() {
		var (
			h   model.InventoryHistory
			typ string
		)
		if err := rows.Scan(&h.ID, &h.ProductID, &typ, &h.Quantity, &h.PreviousStock, &h.NewStock,
			&h.PreviousReserved, &h.NewReserved, &h.OrderID, &h.ActorID, &h.Note, &h.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan inventory history: %w", err)
		}
		h.Type = model.InventoryChangeType(typ)
		res = append(res, h)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}
