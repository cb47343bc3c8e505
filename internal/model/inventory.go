package model

import (
	"time"

	"github.com/google/uuid"
)

// InventoryChangeType описывает причину изменения складского резерва.
type InventoryChangeType string

const (
	InventoryDeduct     InventoryChangeType = "deduct"
	InventoryRestore    InventoryChangeType = "restore"
	InventoryManual     InventoryChangeType = "manual"
	InventoryAdjustment InventoryChangeType = "adjustment"
)

// Inventory - складские счётчики товара.
type Inventory struct {
	ProductID uuid.UUID `json:"productId"`
	Stock     int       `json:"stock"`
	Reserved  int       `json:"reserved"`
}

// Available возвращает количество, доступное для резервирования.
func (i Inventory) Available() int {
	return i.Stock - i.Reserved
}

// StockChange - результат операции резервирования или возврата.
type StockChange struct {
	ProductID        uuid.UUID `json:"productId"`
	PreviousStock    int       `json:"previousStock"`
	PreviousReserved int       `json:"previousReserved"`
	NewReserved      int       `json:"newReserved"`
}

// InventoryHistory - неизменяемая запись журнала складских изменений.
type InventoryHistory struct {
	ID               int64               `json:"id"`
	ProductID        uuid.UUID           `json:"productId"`
	Type             InventoryChangeType `json:"type"`
	Quantity         int                 `json:"quantity"`
	PreviousStock    int                 `json:"previousStock"`
	NewStock         int                 `json:"newStock"`
	PreviousReserved int                 `json:"previousReserved"`
	NewReserved      int                 `json:"newReserved"`
	OrderID          *uuid.UUID          `json:"orderId,omitempty"`
	ActorID          *uuid.UUID          `json:"actorId,omitempty"`
	Note             string              `json:"note,omitempty"`
	CreatedAt        time.Time           `json:"createdAt"`
}
