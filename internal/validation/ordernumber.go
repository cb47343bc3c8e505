package validation

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"time"
)

const (
	orderDateLayout   = "20060102"
	orderRandomDigits = 9
	orderNumberLen    = len(orderDateLayout) + 1 + orderRandomDigits + 1
)

var orderRandomLimit = big.NewInt(1_000_000_000)

// NewOrderNumber генерирует номер заказа вида YYYYMMDD-NNNNNNNNNC,
// где C - контрольная цифра Луна по всем цифрам номера.
func NewOrderNumber(now time.Time) (string, error) {
	n, err := rand.Int(rand.Reader, orderRandomLimit)
	if err != nil {
		return "", fmt.Errorf("generate order number: %w", err)
	}

	date := now.UTC().Format(orderDateLayout)
	random := fmt.Sprintf("%0*d", orderRandomDigits, n.Int64())

	check, _ := luhnCheckDigit(date + random)
	return date + "-" + random + string(check), nil
}

// IsOrderNumber сообщает, что строка имеет формат номера заказа и корректную контрольную цифру.
func IsOrderNumber(s string) bool {
	if len(s) != orderNumberLen || s[len(orderDateLayout)] != '-' {
		return false
	}

	date := s[:len(orderDateLayout)]
	if _, err := time.Parse(orderDateLayout, date); err != nil {
		return false
	}

	return IsValidLuhn(date + s[len(orderDateLayout)+1:])
}
