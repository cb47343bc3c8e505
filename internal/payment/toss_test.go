package payment

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type keyRecorder struct {
	mu   sync.Mutex
	keys []string
}

func (k *keyRecorder) add(key string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.keys = append(k.keys, key)
}

func (k *keyRecorder) all() []string {
	k.mu.Lock()
	defer k.mu.Unlock()
	return append([]string(nil), k.keys...)
}

func newTossServer(t *testing.T, status string) (*httptest.Server, *keyRecorder) {
	t.Helper()
	keys := &keyRecorder{}
	wantAuth := "Basic " + base64.StdEncoding.EncodeToString([]byte("test_sk:"))

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/payments/confirm", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != wantAuth {
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(tossError{Code: "UNAUTHORIZED_KEY", Message: "bad key"})
			return
		}
		keys.add(r.Header.Get("Idempotency-Key"))

		var body struct {
			PaymentKey string `json:"paymentKey"`
			OrderID    string `json:"orderId"`
			Amount     int64  `json:"amount"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		_ = json.NewEncoder(w).Encode(tossPayment{
			PaymentKey:  body.PaymentKey,
			OrderID:     body.OrderID,
			Status:      status,
			Method:      "CARD",
			TotalAmount: 30000,
			ApprovedAt:  "2026-10-15T10:00:00+09:00",
			Receipt:     &tossReceipt{URL: "https://receipt"},
		})
	})
	mux.HandleFunc("POST /v1/payments/{key}/cancel", func(w http.ResponseWriter, r *http.Request) {
		keys.add(r.Header.Get("Idempotency-Key"))
		var body struct {
			CancelAmount int64 `json:"cancelAmount"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		_ = json.NewEncoder(w).Encode(tossPayment{
			PaymentKey: r.PathValue("key"),
			Status:     tossStatusPartialCanceled,
			Cancels:    []tossCancel{{CancelAmount: body.CancelAmount, CanceledAt: "2026-10-16T10:00:00+09:00"}},
		})
	})

	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts, keys
}

func TestTossVerify(t *testing.T) {
	ts, keys := newTossServer(t, tossStatusDone)
	c := NewTossClient(ClientConfig{BaseURL: ts.URL, Timeout: time.Second}, "test_sk")

	info, err := c.Verify(context.Background(), VerifyRequest{TransactionID: "pk_1", GatewayOrderID: "order-1"}, 30000)
	require.NoError(t, err)
	assert.Equal(t, ProviderToss, info.Provider)
	assert.Equal(t, "pk_1", info.TransactionID)
	assert.Equal(t, "https://receipt", info.ReceiptURL)
	require.NotNil(t, info.PaidAt)
	assert.Equal(t, []string{"confirm-pk_1"}, keys.all())
}

func TestTossVerifyFailures(t *testing.T) {
	t.Run("amount mismatch", func(t *testing.T) {
		ts, _ := newTossServer(t, tossStatusDone)
		c := NewTossClient(ClientConfig{BaseURL: ts.URL, Timeout: time.Second}, "test_sk")

		_, err := c.Verify(context.Background(), VerifyRequest{TransactionID: "pk_1"}, 29999)
		assert.ErrorIs(t, err, ErrVerificationFailed)
	})

	t.Run("not done", func(t *testing.T) {
		ts, _ := newTossServer(t, "WAITING_FOR_DEPOSIT")
		c := NewTossClient(ClientConfig{BaseURL: ts.URL, Timeout: time.Second}, "test_sk")

		_, err := c.Verify(context.Background(), VerifyRequest{TransactionID: "pk_1"}, 30000)
		assert.ErrorIs(t, err, ErrVerificationFailed)
	})

	t.Run("bad secret", func(t *testing.T) {
		ts, _ := newTossServer(t, tossStatusDone)
		c := NewTossClient(ClientConfig{BaseURL: ts.URL, Timeout: time.Second}, "wrong")

		_, err := c.Verify(context.Background(), VerifyRequest{TransactionID: "pk_1"}, 30000)
		require.ErrorIs(t, err, ErrVerificationFailed)
		assert.Contains(t, err.Error(), "UNAUTHORIZED_KEY")
	})
}

func TestTossCancel(t *testing.T) {
	ts, keys := newTossServer(t, tossStatusDone)
	c := NewTossClient(ClientConfig{BaseURL: ts.URL, Timeout: time.Second}, "test_sk")

	res, err := c.Cancel(context.Background(), "pk_1", 10000, "return")
	require.NoError(t, err)
	assert.Equal(t, int64(10000), res.CancelledAmount)
	assert.Equal(t, tossStatusPartialCanceled, res.Status)
	assert.Equal(t, []string{"cancel-pk_1-10000"}, keys.all())
}

func TestRegistry(t *testing.T) {
	toss := NewTossClient(ClientConfig{BaseURL: "http://toss"}, "sk")
	r := NewRegistry(toss, nil)

	g, err := r.Get("TOSS")
	require.NoError(t, err)
	assert.Same(t, toss, g)

	_, err = r.Get("kakao")
	assert.ErrorIs(t, err, ErrUnknownProvider)
	assert.Equal(t, []string{"toss"}, r.Providers())

	var empty *Registry
	_, err = empty.Get("toss")
	assert.ErrorIs(t, err, ErrUnknownProvider)
}
