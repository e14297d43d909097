// Package payment предоставляет шлюз проверки платежей: создание платёжного
// намерения во внешней системе и проверку подписи подтверждения оплаты.
package payment

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/mmeshcher/campus-preorder/internal/model"
)

var (
	// ErrNotConfigured возвращается, если у шлюза нет адреса или ключей процессора.
	ErrNotConfigured = errors.New("payment processor not configured")
	// ErrProcessor возвращается при ошибке обращения к процессору.
	ErrProcessor = errors.New("payment processor error")
	// ErrVerification возвращается при несовпадении подписи подтверждения оплаты.
	ErrVerification = errors.New("payment signature mismatch")
)

// Gate инкапсулирует HTTP-взаимодействие с платёжным процессором.
type Gate struct {
	baseURL    string
	keyID      string
	keySecret  string
	httpClient *retryablehttp.Client
}

type intentRequest struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Receipt  string `json:"receipt"`
}

type intentResponse struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

// NewGate создаёт шлюз для процессора по указанному адресу с ключом keyID и секретом keySecret.
// Секрет используется и для авторизации запросов, и для проверки подписи.
func NewGate(baseURL, keyID, keySecret string) *Gate {
	client := retryablehttp.NewClient()
	client.RetryMax = 2
	client.RetryWaitMin = 200 * time.Millisecond
	client.RetryWaitMax = 2 * time.Second
	client.Logger = nil
	client.HTTPClient.Timeout = 5 * time.Second

	return &Gate{
		baseURL:    strings.TrimRight(baseURL, "/"),
		keyID:      keyID,
		keySecret:  keySecret,
		httpClient: client,
	}
}

// CreateIntent запрашивает у процессора платёжное намерение на сумму amount
// в минимальных единицах валюты currency.
func (g *Gate) CreateIntent(ctx context.Context, amount int64, currency, receipt string) (*model.PaymentIntent, error) {
	if g == nil || g.baseURL == "" || g.keyID == "" || g.keySecret == "" {
		return nil, ErrNotConfigured
	}
	if amount <= 0 {
		return nil, fmt.Errorf("%w: non-positive amount %d", ErrProcessor, amount)
	}

	base := g.baseURL
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "https://" + base
	}

	body, err := json.Marshal(intentRequest{Amount: amount, Currency: currency, Receipt: receipt})
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, base+"/v1/orders", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(g.keyID, g.keySecret)

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrProcessor, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("%w: unexpected status %d", ErrProcessor, resp.StatusCode)
	}

	var result intentResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("%w: decode response: %w", ErrProcessor, err)
	}
	if result.ID == "" {
		return nil, fmt.Errorf("%w: empty intent id", ErrProcessor)
	}
	if result.Currency == "" {
		result.Currency = currency
	}

	return &model.PaymentIntent{
		ID:       result.ID,
		Amount:   result.Amount,
		Currency: result.Currency,
	}, nil
}

// VerifyAssertion проверяет подпись подтверждения оплаты.
// Должна вызываться до любых изменений состояния.
func (g *Gate) VerifyAssertion(a model.PaymentAssertion) error {
	if g == nil || g.keySecret == "" {
		return ErrNotConfigured
	}
	if a.ExternalOrderID == "" || a.ExternalPaymentID == "" || a.Signature == "" {
		return fmt.Errorf("%w: incomplete assertion", ErrVerification)
	}
	if a.IntentID != "" && a.IntentID != a.ExternalOrderID {
		return fmt.Errorf("%w: intent %q does not match external order %q", ErrVerification, a.IntentID, a.ExternalOrderID)
	}

	expected := Sign(g.keySecret, a.ExternalOrderID, a.ExternalPaymentID)
	if !hmac.Equal([]byte(strings.ToLower(a.Signature)), []byte(expected)) {
		return ErrVerification
	}
	return nil
}

// Sign вычисляет HMAC-SHA256(secret, orderID + "|" + paymentID) в шестнадцатеричном виде.
func Sign(secret, orderID, paymentID string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(orderID + "|" + paymentID))
	return hex.EncodeToString(mac.Sum(nil))
}
