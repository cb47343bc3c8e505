package payment

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// ProviderToss - имя провайдера Toss Payments.
const ProviderToss = "toss"

const (
	tossStatusDone            = "DONE"
	tossStatusCanceled        = "CANCELED"
	tossStatusPartialCanceled = "PARTIAL_CANCELED"
)

// TossClient работает с API Toss Payments: подтверждает платёж по выданному виджетом paymentKey.
type TossClient struct {
	baseURL    string
	authHeader string
	httpClient *http.Client
}

// NewTossClient создаёт клиент Toss Payments.
func NewTossClient(cfg ClientConfig, secretKey string) *TossClient {
	return &TossClient{
		baseURL:    cfg.baseURL(),
		authHeader: "Basic " + base64.StdEncoding.EncodeToString([]byte(secretKey+":")),
		httpClient: newRetryClient(cfg),
	}
}

// Provider возвращает имя провайдера.
func (c *TossClient) Provider() string {
	return ProviderToss
}

type tossPayment struct {
	PaymentKey  string       `json:"paymentKey"`
	OrderID     string       `json:"orderId"`
	Status      string       `json:"status"`
	Method      string       `json:"method"`
	TotalAmount int64        `json:"totalAmount"`
	ApprovedAt  string       `json:"approvedAt"`
	Receipt     *tossReceipt `json:"receipt"`
	Cancels     []tossCancel `json:"cancels"`
}

type tossReceipt struct {
	URL string `json:"url"`
}

type tossCancel struct {
	CancelAmount int64  `json:"cancelAmount"`
	CanceledAt   string `json:"canceledAt"`
}

type tossError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Verify подтверждает платёж; Toss сам сверяет сумму, ответ дополнительно проверяется здесь.
func (c *TossClient) Verify(ctx context.Context, req VerifyRequest, expectedAmount int64) (*Info, error) {
	body := map[string]any{
		"paymentKey": req.TransactionID,
		"orderId":    req.GatewayOrderID,
		"amount":     expectedAmount,
	}

	var p tossPayment
	idem := "confirm-" + req.TransactionID
	if err := c.do(ctx, c.baseURL+"/v1/payments/confirm", idem, body, &p); err != nil {
		return nil, ErrVerificationFailed.Wrap(err)
	}

	if p.Status != tossStatusDone {
		return nil, ErrVerificationFailed.Withf("toss status %q", p.Status)
	}
	if p.TotalAmount != expectedAmount {
		return nil, ErrVerificationFailed.Withf("amount mismatch: paid %d, expected %d", p.TotalAmount, expectedAmount)
	}

	info := &Info{
		Provider:       ProviderToss,
		TransactionID:  p.PaymentKey,
		GatewayOrderID: p.OrderID,
		Method:         p.Method,
		Status:         p.Status,
		Amount:         p.TotalAmount,
	}
	if t, err := time.Parse(time.RFC3339, p.ApprovedAt); err == nil {
		info.PaidAt = &t
	}
	if p.Receipt != nil {
		info.ReceiptURL = p.Receipt.URL
	}
	return info, nil
}

// Cancel отменяет платёж на указанную сумму.
func (c *TossClient) Cancel(ctx context.Context, transactionID string, amount int64, reason string) (*CancelResult, error) {
	body := map[string]any{
		"cancelReason": reason,
		"cancelAmount": amount,
	}

	var p tossPayment
	idem := "cancel-" + transactionID + "-" + strconv.FormatInt(amount, 10)
	endpoint := c.baseURL + "/v1/payments/" + url.PathEscape(transactionID) + "/cancel"
	if err := c.do(ctx, endpoint, idem, body, &p); err != nil {
		return nil, ErrCancelFailed.Wrap(err)
	}
	if p.Status != tossStatusCanceled && p.Status != tossStatusPartialCanceled {
		return nil, ErrCancelFailed.Withf("toss status %q", p.Status)
	}

	res := &CancelResult{
		Provider:        ProviderToss,
		TransactionID:   p.PaymentKey,
		Status:          p.Status,
		CancelledAmount: amount,
		CancelledAt:     time.Now().UTC(),
	}
	if n := len(p.Cancels); n > 0 {
		last := p.Cancels[n-1]
		res.CancelledAmount = last.CancelAmount
		if t, err := time.Parse(time.RFC3339, last.CanceledAt); err == nil {
			res.CancelledAt = t
		}
	}
	return res, nil
}

func (c *TossClient) do(ctx context.Context, endpoint, idempotencyKey string, body, out any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", c.authHeader)
	req.Header.Set("Idempotency-Key", idempotencyKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var te tossError
		if err := json.NewDecoder(resp.Body).Decode(&te); err == nil && te.Code != "" {
			return fmt.Errorf("toss %s: %s", te.Code, te.Message)
		}
		return fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
