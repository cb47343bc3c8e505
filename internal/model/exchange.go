package model

import (
	"time"

	"github.com/google/uuid"
)

// ExchangeStatus описывает статус заявки на обмен или возврат.
type ExchangeStatus string

const (
	ExchangePending    ExchangeStatus = "pending"
	ExchangeProcessing ExchangeStatus = "processing"
	ExchangeCompleted  ExchangeStatus = "completed"
	ExchangeRejected   ExchangeStatus = "rejected"
	ExchangeCancelled  ExchangeStatus = "cancelled"
)

// Valid сообщает, является ли значение известным статусом заявки.
func (s ExchangeStatus) Valid() bool {
	switch s {
	case ExchangePending, ExchangeProcessing, ExchangeCompleted, ExchangeRejected, ExchangeCancelled:
		return true
	}
	return false
}

// IsTerminal сообщает, что заявка закрыта.
func (s ExchangeStatus) IsTerminal() bool {
	return s == ExchangeCompleted || s == ExchangeRejected || s == ExchangeCancelled
}

// CanTransitionTo проверяет допустимость перехода заявки.
func (s ExchangeStatus) CanTransitionTo(next ExchangeStatus) bool {
	if s.IsTerminal() {
		return false
	}
	switch next {
	case ExchangeProcessing:
		return s == ExchangePending
	case ExchangeRejected, ExchangeCompleted, ExchangeCancelled:
		return true
	}
	return false
}

// Solution - способ урегулирования заявки.
type Solution string

const (
	SolutionReturnRefund Solution = "return-refund"
	SolutionExchange     Solution = "exchange"
)

// ReturnItem - снимок возвращаемой позиции.
type ReturnItem struct {
	ProductID uuid.UUID         `json:"productId"`
	Name      string            `json:"name"`
	SKU       string            `json:"sku"`
	Options   map[string]string `json:"options,omitempty"`
	Quantity  int               `json:"quantity"`
	UnitPrice int64             `json:"unitPrice"`
}

// ExchangeReturn - заявка на обмен или возврат по заказу.
type ExchangeReturn struct {
	ID                uuid.UUID      `json:"id"`
	OrderID           uuid.UUID      `json:"orderId"`
	OrderNumber       string         `json:"orderNumber"`
	UserID            uuid.UUID      `json:"userId"`
	Items             []ReturnItem   `json:"items"`
	ReasonCode        string         `json:"reasonCode"`
	ReasonLabel       string         `json:"reasonLabel"`
	Detail            string         `json:"detail,omitempty"`
	Solution          Solution       `json:"solution"`
	CollectionDate    time.Time      `json:"collectionDate"`
	CollectionAddress string         `json:"collectionAddress,omitempty"`
	Status            ExchangeStatus `json:"status"`
	RejectionReason   string         `json:"rejectionReason,omitempty"`
	RefundAmount      int64          `json:"refundAmount,omitempty"`
	RefundMethod      string         `json:"refundMethod,omitempty"`
	AdminNote         string         `json:"adminNote,omitempty"`
	ProcessedAt       *time.Time     `json:"processedAt,omitempty"`
	CompletedAt       *time.Time     `json:"completedAt,omitempty"`
	CancelledAt       *time.Time     `json:"cancelledAt,omitempty"`
	CreatedAt         time.Time      `json:"createdAt"`
	UpdatedAt         time.Time      `json:"updatedAt"`
}

// ItemsValue возвращает стоимость возвращаемых позиций.
func (e *ExchangeReturn) ItemsValue() int64 {
	var total int64
	for _, it := range e.Items {
		total += it.UnitPrice * int64(it.Quantity)
	}
	return total
}

// OrderReturns - все заявки по одному заказу.
type OrderReturns []ExchangeReturn

// Claimed возвращает количество товара, заявленное в незакрытых и завершённых заявках.
// Отклонённые и отменённые заявки товар не занимают.
func (rs OrderReturns) Claimed(except uuid.UUID) map[uuid.UUID]int {
	out := make(map[uuid.UUID]int)
	for _, e := range rs {
		if e.ID == except || e.Status == ExchangeRejected || e.Status == ExchangeCancelled {
			continue
		}
		for _, it := range e.Items {
			out[it.ProductID] += it.Quantity
		}
	}
	return out
}

// Restored возвращает количество товара, уже возвращённое на склад завершёнными заявками.
func (rs OrderReturns) Restored() map[uuid.UUID]int {
	out := make(map[uuid.UUID]int)
	for _, e := range rs {
		if e.Status != ExchangeCompleted {
			continue
		}
		for _, it := range e.Items {
			out[it.ProductID] += it.Quantity
		}
	}
	return out
}

// Refunded возвращает сумму, уже возвращённую покупателю по завершённым заявкам.
func (rs OrderReturns) Refunded() int64 {
	var total int64
	for _, e := range rs {
		if e.Status == ExchangeCompleted && e.Solution == SolutionReturnRefund {
			total += e.RefundAmount
		}
	}
	return total
}

// ExchangeFilter задаёт условия выборки заявок.
type ExchangeFilter struct {
	Status  ExchangeStatus
	UserID  *uuid.UUID
	OrderID *uuid.UUID
	Page    Page
}

// RefundFailure - неудавшийся возврат средств через платёжный шлюз, требующий ручной сверки.
type RefundFailure struct {
	ID               int64      `json:"id"`
	Provider         string     `json:"provider"`
	TransactionID    string     `json:"transactionId"`
	Amount           int64      `json:"amount"`
	Reason           string     `json:"reason"`
	Error            string     `json:"error"`
	OrderID          uuid.UUID  `json:"orderId"`
	ExchangeReturnID *uuid.UUID `json:"exchangeReturnId,omitempty"`
	CreatedAt        time.Time  `json:"createdAt"`
}
