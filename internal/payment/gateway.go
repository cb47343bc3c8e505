// Package payment предоставляет клиенты внешних платёжных шлюзов.
package payment

import (
	"context"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/mmeshcher/storefront/internal/apperr"
)

var (
	// ErrVerificationFailed возвращается, если шлюз не подтвердил платёж или сумма не совпала.
	ErrVerificationFailed = apperr.New(apperr.KindGateway, "payment_verification_failed", "payment verification failed")
	// ErrCancelFailed возвращается, если шлюз не выполнил отмену платежа.
	ErrCancelFailed = apperr.New(apperr.KindGateway, "payment_cancel_failed", "payment cancellation failed")
	// ErrUnknownProvider возвращается для незарегистрированного провайдера.
	ErrUnknownProvider = apperr.New(apperr.KindValidation, "unknown_payment_provider", "unknown payment provider")
)

// VerifyRequest - ссылка на платёж, полученная от клиента.
type VerifyRequest struct {
	// TransactionID - идентификатор платежа в шлюзе (imp_uid или paymentKey).
	TransactionID string
	// GatewayOrderID - идентификатор заказа, под которым платёж создан в шлюзе.
	GatewayOrderID string
}

// Info - подтверждённые шлюзом данные платежа.
type Info struct {
	Provider       string
	TransactionID  string
	GatewayOrderID string
	Method         string
	Status         string
	Amount         int64
	PaidAt         *time.Time
	ReceiptURL     string
}

// CancelResult - результат отмены платежа.
type CancelResult struct {
	Provider        string
	TransactionID   string
	Status          string
	CancelledAmount int64
	CancelledAt     time.Time
}

// Gateway - платёжный шлюз.
type Gateway interface {
	// Provider возвращает имя провайдера.
	Provider() string
	// Verify подтверждает платёж; сумма должна совпасть с expectedAmount без допусков.
	Verify(ctx context.Context, req VerifyRequest, expectedAmount int64) (*Info, error)
	// Cancel отменяет платёж полностью или частично.
	Cancel(ctx context.Context, transactionID string, amount int64, reason string) (*CancelResult, error)
}

// Registry выбирает шлюз по имени провайдера.
type Registry struct {
	gateways map[string]Gateway
}

// NewRegistry регистрирует шлюзы; nil-значения пропускаются.
func NewRegistry(gateways ...Gateway) *Registry {
	r := &Registry{gateways: make(map[string]Gateway, len(gateways))}
	for _, g := range gateways {
		if g != nil {
			r.gateways[g.Provider()] = g
		}
	}
	return r
}

// Get возвращает шлюз провайдера.
func (r *Registry) Get(provider string) (Gateway, error) {
	if r != nil {
		if g, ok := r.gateways[strings.ToLower(provider)]; ok {
			return g, nil
		}
	}
	return nil, ErrUnknownProvider.Withf("%q", provider)
}

// Providers возвращает имена зарегистрированных провайдеров.
func (r *Registry) Providers() []string {
	if r == nil {
		return nil
	}
	names := make([]string, 0, len(r.gateways))
	for name := range r.gateways {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ClientConfig задаёт параметры HTTP-клиента шлюза.
type ClientConfig struct {
	BaseURL  string
	Timeout  time.Duration
	RetryMax int
}

func (c ClientConfig) baseURL() string {
	return strings.TrimRight(c.BaseURL, "/")
}

// newRetryClient создаёт клиент с повторами для идемпотентных запросов.
func newRetryClient(cfg ClientConfig) *http.Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = cfg.RetryMax
	rc.RetryWaitMin = 100 * time.Millisecond
	rc.RetryWaitMax = time.Second
	rc.Logger = nil
	rc.HTTPClient.Timeout = cfg.Timeout

	return rc.StandardClient()
}

func newPlainClient(cfg ClientConfig) *http.Client {
	return &http.Client{Timeout: cfg.Timeout}
}
