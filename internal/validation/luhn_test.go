package validation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/storefront/internal/apperr"
)

func TestIsValidLuhn(t *testing.T) {
	tests := []struct {
		name   string
		number string
		valid  bool
	}{
		{
			name:   "valid example 1",
			number: "79927398713",
			valid:  true,
		},
		{
			name:   "valid example 2",
			number: "4539578763621486",
			valid:  true,
		},
		{
			name:   "invalid checksum",
			number: "79927398710",
			valid:  false,
		},
		{
			name:   "contains letters",
			number: "1234a67890",
			valid:  false,
		},
		{
			name:   "empty string",
			number: "",
			valid:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.valid, IsValidLuhn(tt.number))
		})
	}
}

func TestLuhnCheckDigit(t *testing.T) {
	d, ok := luhnCheckDigit("7992739871")
	require.True(t, ok)
	assert.Equal(t, byte('3'), d)

	_, ok = luhnCheckDigit("12a")
	assert.False(t, ok)
}

func TestNewOrderNumber(t *testing.T) {
	now := time.Date(2026, 10, 15, 9, 30, 0, 0, time.UTC)

	seen := make(map[string]struct{})
	for range 50 {
		n, err := NewOrderNumber(now)
		require.NoError(t, err)
		assert.Len(t, n, 19)
		assert.Equal(t, "20261015-", n[:9])
		assert.True(t, IsOrderNumber(n), n)
		seen[n] = struct{}{}
	}
	assert.Greater(t, len(seen), 1)
}

func TestIsOrderNumber(t *testing.T) {
	tests := []struct {
		name  string
		value string
		want  bool
	}{
		{"uuid", "5f0c6c1e-1d3a-4c47-9d11-6b0d1c2b3a4f", false},
		{"no dash", "202610151234567890", false},
		{"bad date", "20261345-1234567890", false},
		{"letters", "20261015-12345678ab", false},
		{"empty", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsOrderNumber(tt.value))
		})
	}

	n, err := NewOrderNumber(time.Now())
	require.NoError(t, err)
	last := n[len(n)-1]
	broken := n[:len(n)-1] + string('0'+(last-'0'+1)%10)
	assert.False(t, IsOrderNumber(broken))
}

func TestStruct(t *testing.T) {
	type item struct {
		Quantity int `json:"quantity" validate:"gt=0,lte=10000"`
	}
	type request struct {
		Email string `json:"email" validate:"omitempty,email"`
		Items []item `json:"items" validate:"required,min=1,dive"`
	}

	require.NoError(t, Struct(request{Items: []item{{Quantity: 1}}}))

	err := Struct(request{Email: "nope", Items: []item{{Quantity: 0}}})
	require.Error(t, err)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
	assert.Contains(t, err.Error(), "email: invalid email format")
	assert.Contains(t, err.Error(), "items[0].quantity: must be greater than 0")

	err = Struct(request{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "items: is required")

	err = Struct(request{Items: []item{{Quantity: 1 << 40}}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "items[0].quantity: must be less than or equal to 10000")
}
