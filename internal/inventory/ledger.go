// Package inventory ведёт складские резервы товаров и журнал их изменений.
package inventory

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mmeshcher/storefront/internal/apperr"
	"github.com/mmeshcher/storefront/internal/model"
	"github.com/mmeshcher/storefront/internal/telemetry"
)

var (
	// ErrInsufficientStock возвращается, если доступного остатка не хватает для резерва.
	ErrInsufficientStock = apperr.New(apperr.KindInsufficient, "insufficient_stock", "insufficient stock")
	// ErrProductNotFound возвращается, если товар не найден.
	ErrProductNotFound = apperr.New(apperr.KindNotFound, "product_not_found", "product not found")
	// ErrInvalidQuantity возвращается при неположительном количестве.
	ErrInvalidQuantity = apperr.New(apperr.KindValidation, "invalid_quantity", "quantity must be positive")
)

// Store - хранилище складских счётчиков.
//
// ReserveStock и RestoreStock обязаны менять reserved атомарно, одним условным обновлением:
// ReserveStock возвращает ErrInsufficientStock, если stock - reserved < qty,
// RestoreStock не опускает reserved ниже нуля.
type Store interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
	ReserveStock(ctx context.Context, productID uuid.UUID, qty int) (model.StockChange, error)
	RestoreStock(ctx context.Context, productID uuid.UUID, qty int) (model.StockChange, error)
	AppendInventoryHistory(ctx context.Context, entry *model.InventoryHistory) error
	ListInventoryHistory(ctx context.Context, productID uuid.UUID) ([]model.InventoryHistory, error)
}

// Ref связывает изменение резерва с его причиной.
type Ref struct {
	OrderID *uuid.UUID
	ActorID *uuid.UUID
	Note    string
}

// Ledger резервирует и возвращает товар, записывая каждое изменение в журнал.
type Ledger struct {
	store   Store
	metrics *telemetry.Metrics
	now     func() time.Time
}

// NewLedger создаёт складской журнал поверх хранилища.
func NewLedger(store Store, metrics *telemetry.Metrics) *Ledger {
	return &Ledger{store: store, metrics: metrics, now: time.Now}
}

// Reserve увеличивает резерв товара на qty. Вызов выполняется в транзакции вызывающего,
// если она есть в контексте.
func (l *Ledger) Reserve(ctx context.Context, productID uuid.UUID, qty int, ref Ref) (model.StockChange, error) {
	change, err := l.apply(ctx, model.InventoryDeduct, productID, qty, ref)
	if err != nil && apperr.KindOf(err) == apperr.KindInsufficient {
		l.metrics.StockReservationFailed(ctx)
	}
	return change, err
}

// Restore уменьшает резерв товара на qty, но не ниже нуля.
func (l *Ledger) Restore(ctx context.Context, productID uuid.UUID, qty int, ref Ref) (model.StockChange, error) {
	return l.apply(ctx, model.InventoryRestore, productID, qty, ref)
}

// History возвращает журнал изменений резерва товара.
func (l *Ledger) History(ctx context.Context, productID uuid.UUID) ([]model.InventoryHistory, error) {
	entries, err := l.store.ListInventoryHistory(ctx, productID)
	if err != nil {
		return nil, fmt.Errorf("list inventory history: %w", err)
	}
	return entries, nil
}

func (l *Ledger) apply(ctx context.Context, typ model.InventoryChangeType, productID uuid.UUID, qty int, ref Ref) (model.StockChange, error) {
	if qty <= 0 {
		return model.StockChange{}, ErrInvalidQuantity.Withf("%d", qty)
	}

	var change model.StockChange
	err := l.store.InTx(ctx, func(ctx context.Context) error {
		var err error
		if typ == model.InventoryDeduct {
			change, err = l.store.ReserveStock(ctx, productID, qty)
		} else {
			change, err = l.store.RestoreStock(ctx, productID, qty)
		}
		if err != nil {
			return err
		}

		// Возврат не опускает резерв ниже нуля, в журнал попадает фактически снятое количество.
		applied := qty
		if typ == model.InventoryRestore {
			applied = change.PreviousReserved - change.NewReserved
		}

		entry := &model.InventoryHistory{
			ProductID:        productID,
			Type:             typ,
			Quantity:         applied,
			PreviousStock:    change.PreviousStock,
			NewStock:         change.PreviousStock,
			PreviousReserved: change.PreviousReserved,
			NewReserved:      change.NewReserved,
			OrderID:          ref.OrderID,
			ActorID:          ref.ActorID,
			Note:             ref.Note,
			CreatedAt:        l.now(),
		}
		if err := l.store.AppendInventoryHistory(ctx, entry); err != nil {
			return fmt.Errorf("append inventory history: %w", err)
		}
		return nil
	})
	if err != nil {
		return model.StockChange{}, err
	}
	return change, nil
}
