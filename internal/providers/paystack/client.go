// Package paystack adapts the Paystack API for hosted checkout, charge
// verification, transfer recipients and payouts.
package paystack

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"payplatform/internal/common/money"
	"payplatform/internal/providers"
)

// Config holds Paystack configuration.
type Config struct {
	BaseURL   string        `envconfig:"PAYSTACK_BASE_URL" default:"https://api.paystack.co"`
	SecretKey string        `envconfig:"PAYSTACK_SECRET_KEY"`
	Timeout   time.Duration `envconfig:"PAYSTACK_TIMEOUT" default:"30s"`
}

type envelope struct {
	Status  bool            `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type initializeData struct {
	AuthorizationURL string `json:"authorization_url"`
	AccessCode       string `json:"access_code"`
	Reference        string `json:"reference"`
}

type verifyData struct {
	Status          string          `json:"status"`
	Reference       string          `json:"reference"`
	Amount          int64           `json:"amount"`
	Currency        string          `json:"currency"`
	GatewayResponse string          `json:"gateway_response"`
	PaidAt          *time.Time      `json:"paid_at"`
	Metadata        json.RawMessage `json:"metadata"`
	Customer        struct {
		Email string `json:"email"`
	} `json:"customer"`
}

type recipientData struct {
	RecipientCode string `json:"recipient_code"`
}

type transferData struct {
	Reference    string `json:"reference"`
	TransferCode string `json:"transfer_code"`
	Status       string `json:"status"`
	Reason       string `json:"reason"`
}

type bankData struct {
	Name string `json:"name"`
	Code string `json:"code"`
}

type resolveData struct {
	AccountNumber string `json:"account_number"`
	AccountName   string `json:"account_name"`
}

// Client implements providers.Checkout and providers.BankDirectory.
type Client struct {
	config Config
	http   *providers.HTTPClient
	logger *slog.Logger
}

var (
	_ providers.Checkout      = (*Client)(nil)
	_ providers.BankDirectory = (*Client)(nil)
)

// NewClient creates a Paystack client.
func NewClient(cfg Config, metrics *providers.Metrics, logger *slog.Logger) *Client {
	return &Client{
		config: cfg,
		http:   providers.NewHTTPClient(providers.Paystack, cfg.BaseURL, cfg.Timeout, metrics, logger),
		logger: logger,
	}
}

// Name returns the provider name.
func (c *Client) Name() string {
	return providers.Paystack
}

func (c *Client) call(ctx context.Context, op, method, path string, body any, out any) ([]byte, error) {
	resp, err := c.http.Do(ctx, providers.Request{
		Operation: op,
		Method:    method,
		Path:      path,
		Body:      body,
		Header:    providers.BearerHeader(c.config.SecretKey),
	})
	if err != nil {
		return nil, err
	}

	var env envelope
	if err := resp.Decode(&env); err != nil {
		return resp.Body, providers.Rejected(providers.Paystack, "INVALID_RESPONSE", err.Error(), nil)
	}
	if !resp.OK() || !env.Status {
		reason := env.Message
		if reason == "" {
			reason = fmt.Sprintf("status %d", resp.StatusCode)
		}
		return resp.Body, providers.Rejected(providers.Paystack, fmt.Sprintf("HTTP_%d", resp.StatusCode), reason, resp.Body)
	}
	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return resp.Body, providers.Rejected(providers.Paystack, "INVALID_RESPONSE", err.Error(), resp.Body)
		}
	}
	return resp.Body, nil
}

// Charge initializes a hosted checkout. Metadata round-trips through Verify.
func (c *Client) Charge(ctx context.Context, req providers.ChargeRequest) (providers.ChargeResult, error) {
	body := map[string]any{
		"email":     req.Email,
		"amount":    req.Amount.AmountMinor,
		"currency":  string(req.Amount.Currency),
		"reference": req.Reference,
		"metadata":  req.Metadata,
	}
	if req.CallbackURL != "" {
		body["callback_url"] = req.CallbackURL
	}

	var data initializeData
	if _, err := c.call(ctx, "initialize", http.MethodPost, "/transaction/initialize", body, &data); err != nil {
		return providers.ChargeResult{}, err
	}

	c.logger.Info("paystack checkout initialized", "reference", data.Reference)

	return providers.ChargeResult{
		Reference:        data.Reference,
		AuthorizationURL: data.AuthorizationURL,
		AccessCode:       data.AccessCode,
		Status:           providers.StatusPending,
	}, nil
}

// Verify fetches the charge state.
func (c *Client) Verify(ctx context.Context, reference string) (providers.VerifyResult, error) {
	var data verifyData
	if _, err := c.call(ctx, "verify", http.MethodGet, "/transaction/verify/"+url.PathEscape(reference), nil, &data); err != nil {
		return providers.VerifyResult{}, err
	}

	currency := money.Currency(data.Currency)
	if currency == "" {
		currency = money.NGN
	}

	return providers.VerifyResult{
		Reference:       data.Reference,
		Status:          chargeStatus(data.Status),
		AmountPaid:      money.New(data.Amount, currency),
		CustomerEmail:   data.Customer.Email,
		PaidAt:          data.PaidAt,
		GatewayResponse: data.GatewayResponse,
		Metadata:        flattenMetadata(data.Metadata),
	}, nil
}

func chargeStatus(s string) providers.Status {
	switch s {
	case "success":
		return providers.StatusSuccess
	case "ongoing", "pending", "processing", "queued":
		return providers.StatusPending
	default:
		return providers.StatusFailed
	}
}

// flattenMetadata accepts the object Paystack echoes back, or the empty string it
// returns when no metadata was sent.
func flattenMetadata(raw json.RawMessage) map[string]string {
	out := map[string]string{}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return out
	}
	for k, v := range m {
		switch val := v.(type) {
		case string:
			out[k] = val
		case nil:
		default:
			b, _ := json.Marshal(val)
			out[k] = string(b)
		}
	}
	return out
}

// CreatePayoutRecipient registers a NUBAN recipient. Paystack returns the existing
// recipient code when the same account is registered again.
func (c *Client) CreatePayoutRecipient(ctx context.Context, req providers.RecipientRequest) (string, error) {
	currency := req.Currency
	if currency == "" {
		currency = money.NGN
	}
	body := map[string]string{
		"type":           "nuban",
		"name":           req.Name,
		"account_number": req.AccountNumber,
		"bank_code":      req.BankCode,
		"currency":       string(currency),
	}
	var data recipientData
	if _, err := c.call(ctx, "create_recipient", http.MethodPost, "/transferrecipient", body, &data); err != nil {
		return "", err
	}
	if data.RecipientCode == "" {
		return "", providers.Rejected(providers.Paystack, "NO_RECIPIENT", "recipient code missing", nil)
	}
	return data.RecipientCode, nil
}

// Transfer pays out from the platform balance to req.RecipientCode.
func (c *Client) Transfer(ctx context.Context, req providers.TransferRequest) (providers.TransferResult, error) {
	body := map[string]any{
		"source":    "balance",
		"amount":    req.Amount.AmountMinor,
		"recipient": req.RecipientCode,
		"reference": req.Reference,
		"reason":    req.Narration,
	}

	c.logger.Info("submitting paystack transfer",
		"reference", req.Reference,
		"amount", req.Amount.AmountMinor,
	)

	var data transferData
	raw, err := c.call(ctx, "transfer", http.MethodPost, "/transfer", body, &data)
	if err != nil {
		return providers.TransferResult{Reference: req.Reference, Status: providers.StatusFailed, Raw: rawJSON(raw)}, err
	}
	return transferResult(req.Reference, data, raw)
}

// FetchTransferStatus looks up a transfer by the reference it was created with.
func (c *Client) FetchTransferStatus(ctx context.Context, reference string) (providers.TransferResult, error) {
	var data transferData
	raw, err := c.call(ctx, "transfer_status", http.MethodGet, "/transfer/verify/"+url.PathEscape(reference), nil, &data)
	if err != nil {
		return providers.TransferResult{Reference: reference, Raw: rawJSON(raw)}, err
	}
	result, err := transferResult(reference, data, raw)
	if result.Status == providers.StatusFailed {
		return result, nil
	}
	return result, err
}

func transferResult(reference string, data transferData, raw []byte) (providers.TransferResult, error) {
	result := providers.TransferResult{
		Reference:         reference,
		ProviderReference: data.TransferCode,
		Message:           data.Reason,
		Raw:               rawJSON(raw),
	}
	switch data.Status {
	case "success":
		result.Status = providers.StatusSuccess
		return result, nil
	case "pending", "received", "otp", "processing", "queued":
		result.Status = providers.StatusPending
		return result, nil
	default:
		result.Status = providers.StatusFailed
		return result, providers.Rejected(providers.Paystack, "TRANSFER_"+data.Status, "transfer status "+data.Status, raw)
	}
}

// ListBanks returns Nigerian banks.
func (c *Client) ListBanks(ctx context.Context) ([]providers.Bank, error) {
	var data []bankData
	if _, err := c.call(ctx, "list_banks", http.MethodGet, "/bank?country=nigeria", nil, &data); err != nil {
		return nil, err
	}
	banks := make([]providers.Bank, 0, len(data))
	for _, b := range data {
		banks = append(banks, providers.Bank{Code: b.Code, Name: b.Name})
	}
	return banks, nil
}

// VerifyAccountName resolves an account number.
func (c *Client) VerifyAccountName(ctx context.Context, accountNumber, bankCode string) (providers.AccountName, error) {
	q := url.Values{}
	q.Set("account_number", accountNumber)
	q.Set("bank_code", bankCode)

	var data resolveData
	if _, err := c.call(ctx, "resolve_account", http.MethodGet, "/bank/resolve?"+q.Encode(), nil, &data); err != nil {
		return providers.AccountName{}, err
	}
	return providers.AccountName{
		AccountNumber: data.AccountNumber,
		AccountName:   data.AccountName,
		BankCode:      bankCode,
	}, nil
}

func rawJSON(b []byte) json.RawMessage {
	if len(b) == 0 || !json.Valid(b) {
		return nil
	}
	return json.RawMessage(b)
}
