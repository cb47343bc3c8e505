package inventory_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/storefront/internal/apperr"
	"github.com/mmeshcher/storefront/internal/inventory"
	"github.com/mmeshcher/storefront/internal/model"
	"github.com/mmeshcher/storefront/internal/repository/memstore"
)

func TestReserveAndRestore(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	ledger := inventory.NewLedger(store, nil)

	productID := uuid.New()
	orderID := uuid.New()
	store.AddProduct(productID, 10, 8)

	change, err := ledger.Reserve(ctx, productID, 2, inventory.Ref{OrderID: &orderID, Note: "order"})
	require.NoError(t, err)
	assert.Equal(t, model.StockChange{ProductID: productID, PreviousStock: 10, PreviousReserved: 8, NewReserved: 10}, change)

	_, err = ledger.Reserve(ctx, productID, 1, inventory.Ref{})
	assert.ErrorIs(t, err, inventory.ErrInsufficientStock)
	assert.Equal(t, apperr.KindInsufficient, apperr.KindOf(err))

	change, err = ledger.Restore(ctx, productID, 2, inventory.Ref{OrderID: &orderID})
	require.NoError(t, err)
	assert.Equal(t, 8, change.NewReserved)

	p, ok := store.Product(productID)
	require.True(t, ok)
	assert.Equal(t, 10, p.Stock)
	assert.Equal(t, 8, p.Reserved)

	history, err := ledger.History(ctx, productID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, model.InventoryDeduct, history[0].Type)
	assert.Equal(t, 8, history[0].PreviousReserved)
	assert.Equal(t, 10, history[0].NewReserved)
	assert.Equal(t, history[0].PreviousStock, history[0].NewStock)
	assert.Equal(t, &orderID, history[0].OrderID)
	assert.Equal(t, model.InventoryRestore, history[1].Type)
	assert.Equal(t, 8, history[1].NewReserved)
}

func TestRestoreClampsAtZero(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	ledger := inventory.NewLedger(store, nil)

	productID := uuid.New()
	store.AddProduct(productID, 5, 1)

	change, err := ledger.Restore(ctx, productID, 3, inventory.Ref{})
	require.NoError(t, err)
	assert.Equal(t, 0, change.NewReserved)

	history, err := ledger.History(ctx, productID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, 1, history[0].Quantity)
	assert.Equal(t, -history[0].Quantity, history[0].NewReserved-history[0].PreviousReserved)
}

func TestLedgerRejects(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	ledger := inventory.NewLedger(store, nil)

	productID := uuid.New()
	store.AddProduct(productID, 5, 0)

	tests := []struct {
		name    string
		product uuid.UUID
		qty     int
		want    error
	}{
		{"zero quantity", productID, 0, inventory.ErrInvalidQuantity},
		{"negative quantity", productID, -1, inventory.ErrInvalidQuantity},
		{"unknown product", uuid.New(), 1, inventory.ErrProductNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ledger.Reserve(ctx, tt.product, tt.qty, inventory.Ref{})
			assert.ErrorIs(t, err, tt.want)
		})
	}

	history, err := ledger.History(ctx, productID)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestConcurrentReserveLastUnit(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	ledger := inventory.NewLedger(store, nil)

	productID := uuid.New()
	store.AddProduct(productID, 1, 0)

	const workers = 10
	var (
		wg      sync.WaitGroup
		success atomic.Int32
		short   atomic.Int32
	)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := ledger.Reserve(ctx, productID, 1, inventory.Ref{})
			switch {
			case err == nil:
				success.Add(1)
			case apperr.KindOf(err) == apperr.KindInsufficient:
				short.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), success.Load())
	assert.Equal(t, int32(workers-1), short.Load())

	p, _ := store.Product(productID)
	assert.Equal(t, 1, p.Reserved)
}

func TestReserveInsideFailedTransactionRollsBack(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	ledger := inventory.NewLedger(store, nil)

	first, second := uuid.New(), uuid.New()
	store.AddProduct(first, 10, 0)
	store.AddProduct(second, 1, 1)

	err := store.InTx(ctx, func(ctx context.Context) error {
		if _, err := ledger.Reserve(ctx, first, 3, inventory.Ref{}); err != nil {
			return err
		}
		_, err := ledger.Reserve(ctx, second, 1, inventory.Ref{})
		return err
	})
	require.ErrorIs(t, err, inventory.ErrInsufficientStock)

	p, _ := store.Product(first)
	assert.Equal(t, 0, p.Reserved)

	history, err := ledger.History(ctx, first)
	require.NoError(t, err)
	assert.Empty(t, history)
}
