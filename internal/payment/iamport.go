package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// ProviderIamport - имя провайдера Iamport.
const ProviderIamport = "iamport"

const iamportStatusPaid = "paid"

// IamportClient работает с REST API Iamport. Перед каждым вызовом получает токен доступа.
type IamportClient struct {
	baseURL    string
	apiKey     string
	apiSecret  string
	httpClient *http.Client
	// cancelClient не повторяет запросы: повтор отмены может вернуть деньги дважды.
	cancelClient *http.Client
}

// NewIamportClient создаёт клиент Iamport.
func NewIamportClient(cfg ClientConfig, apiKey, apiSecret string) *IamportClient {
	return &IamportClient{
		baseURL:      cfg.baseURL(),
		apiKey:       apiKey,
		apiSecret:    apiSecret,
		httpClient:   newRetryClient(cfg),
		cancelClient: newPlainClient(cfg),
	}
}

// Provider возвращает имя провайдера.
func (c *IamportClient) Provider() string {
	return ProviderIamport
}

type iamportEnvelope[T any] struct {
	Code     int    `json:"code"`
	Message  string `json:"message"`
	Response *T     `json:"response"`
}

type iamportToken struct {
	AccessToken string `json:"access_token"`
}

type iamportPayment struct {
	ImpUID      string `json:"imp_uid"`
	MerchantUID string `json:"merchant_uid"`
	Amount      int64  `json:"amount"`
	Status      string `json:"status"`
	PayMethod   string `json:"pay_method"`
	PaidAt      int64  `json:"paid_at"`
	ReceiptURL  string `json:"receipt_url"`
	CancelAmt   int64  `json:"cancel_amount"`
	CancelledAt int64  `json:"cancelled_at"`
}

// Verify получает платёж по imp_uid и сверяет статус и сумму.
func (c *IamportClient) Verify(ctx context.Context, req VerifyRequest, expectedAmount int64) (*Info, error) {
	token, err := c.token(ctx)
	if err != nil {
		return nil, ErrVerificationFailed.Wrap(err)
	}

	var env iamportEnvelope[iamportPayment]
	endpoint := c.baseURL + "/payments/" + url.PathEscape(req.TransactionID)
	if err := c.do(ctx, c.httpClient, http.MethodGet, endpoint, token, nil, &env); err != nil {
		return nil, ErrVerificationFailed.Wrap(err)
	}
	if env.Code != 0 || env.Response == nil {
		return nil, ErrVerificationFailed.Withf("iamport: %s", env.Message)
	}

	p := env.Response
	if p.Status != iamportStatusPaid {
		return nil, ErrVerificationFailed.Withf("iamport status %q", p.Status)
	}
	if p.Amount != expectedAmount {
		return nil, ErrVerificationFailed.Withf("amount mismatch: paid %d, expected %d", p.Amount, expectedAmount)
	}
	if req.GatewayOrderID != "" && p.MerchantUID != req.GatewayOrderID {
		return nil, ErrVerificationFailed.Withf("merchant_uid mismatch")
	}

	info := &Info{
		Provider:       ProviderIamport,
		TransactionID:  p.ImpUID,
		GatewayOrderID: p.MerchantUID,
		Method:         p.PayMethod,
		Status:         p.Status,
		Amount:         p.Amount,
		ReceiptURL:     p.ReceiptURL,
	}
	if p.PaidAt > 0 {
		t := time.Unix(p.PaidAt, 0).UTC()
		info.PaidAt = &t
	}
	return info, nil
}

// Cancel отменяет платёж на указанную сумму.
func (c *IamportClient) Cancel(ctx context.Context, transactionID string, amount int64, reason string) (*CancelResult, error) {
	token, err := c.token(ctx)
	if err != nil {
		return nil, ErrCancelFailed.Wrap(err)
	}

	body := map[string]any{
		"imp_uid": transactionID,
		"amount":  amount,
		"reason":  reason,
	}

	var env iamportEnvelope[iamportPayment]
	if err := c.do(ctx, c.cancelClient, http.MethodPost, c.baseURL+"/payments/cancel", token, body, &env); err != nil {
		return nil, ErrCancelFailed.Wrap(err)
	}
	if env.Code != 0 || env.Response == nil {
		return nil, ErrCancelFailed.Withf("iamport: %s", env.Message)
	}

	p := env.Response
	res := &CancelResult{
		Provider:        ProviderIamport,
		TransactionID:   p.ImpUID,
		Status:          p.Status,
		CancelledAmount: p.CancelAmt,
		CancelledAt:     time.Now().UTC(),
	}
	if p.CancelledAt > 0 {
		res.CancelledAt = time.Unix(p.CancelledAt, 0).UTC()
	}
	return res, nil
}

func (c *IamportClient) token(ctx context.Context) (string, error) {
	body := map[string]string{
		"imp_key":    c.apiKey,
		"imp_secret": c.apiSecret,
	}

	var env iamportEnvelope[iamportToken]
	if err := c.do(ctx, c.httpClient, http.MethodPost, c.baseURL+"/users/getToken", "", body, &env); err != nil {
		return "", fmt.Errorf("get token: %w", err)
	}
	if env.Code != 0 || env.Response == nil || env.Response.AccessToken == "" {
		return "", fmt.Errorf("get token: %s", env.Message)
	}
	return env.Response.AccessToken, nil
}

func (c *IamportClient) do(ctx context.Context, client *http.Client, method, endpoint, token string, body, out any) error {
	var payload *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		payload = bytes.NewReader(raw)
	} else {
		payload = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, payload)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", token)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	// Iamport отвечает 4xx с телом-конвертом, сообщение берём из него.
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response (status %d): %w", resp.StatusCode, err)
	}
	return nil
}
