// Package rova adapts the Rova banking-as-a-service API: static virtual accounts,
// account-to-account transfers, name enquiry and the bank list.
package rova

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

// Config holds Rova adapter configuration.
type Config struct {
	BaseURL string        `envconfig:"ROVA_BASE_URL" default:"https://baas.dev.getrova.co.uk"`
	Token   string        `envconfig:"ROVA_BAAS_TOKEN"`
	Timeout time.Duration `envconfig:"ROVA_TIMEOUT" default:"30s"`
}

const (
	envelopeSuccess = "SUCCESS"

	transferSuccessful = "SUCCESSFUL"
	transferPending    = "PENDING"
	transferProcessing = "PROCESSING"
)

// envelope is the response wrapper used by every Rova endpoint.
type envelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type transferBody struct {
	SourceAccount       string `json:"sourceAccount,omitempty"`
	DestinationAccount  string `json:"destinationAccount"`
	DestinationBankCode string `json:"destinationBankCode"`
	Amount              string `json:"amount"`
	ClientReference     string `json:"clientReference"`
	Narration           string `json:"narration"`
}

type transferData struct {
	Status               string `json:"status"`
	Message              string `json:"message"`
	Code                 string `json:"code"`
	ClientReference      string `json:"clientReference"`
	TransactionReference string `json:"transactionReference"`
}

type nameQueryData struct {
	Status      string `json:"status"`
	Message     string `json:"message"`
	AccountName string `json:"accountName"`
	BankCode    string `json:"bankCode"`
}

type bankData struct {
	BankCode string `json:"bankCode"`
	BankName string `json:"bankName"`
}

type openAccountData struct {
	SuccessfulVirtualAccounts []struct {
		VirtualAccountNumber string `json:"virtualAccountNumber"`
		VirtualAccountName   string `json:"virtualAccountName"`
	} `json:"successfulVirtualAccounts"`
}

type accountData struct {
	VirtualAccountID   string `json:"virtualAccountId"`
	VirtualAccountName string `json:"virtualAccountName"`
	BankName           string `json:"bankName"`
	TransactionAmount  string `json:"transactionAmount"`
}

// Client implements providers.Transferrer, providers.BankDirectory and providers.AccountOpener.
type Client struct {
	config Config
	http   *providers.HTTPClient
	logger *slog.Logger
}

var (
	_ providers.Transferrer   = (*Client)(nil)
	_ providers.BankDirectory = (*Client)(nil)
	_ providers.AccountOpener = (*Client)(nil)
)

// NewClient creates a Rova client.
func NewClient(cfg Config, metrics *providers.Metrics, logger *slog.Logger) *Client {
	return &Client{
		config: cfg,
		http:   providers.NewHTTPClient(providers.Rova, cfg.BaseURL, cfg.Timeout, metrics, logger),
		logger: logger,
	}
}

// Name returns the provider name.
func (c *Client) Name() string {
	return providers.Rova
}

func (c *Client) call(ctx context.Context, op, method, path string, body any, out any) (*envelope, error) {
	resp, err := c.http.Do(ctx, providers.Request{
		Operation: op,
		Method:    method,
		Path:      path,
		Body:      body,
		Header:    providers.BearerHeader(c.config.Token),
	})
	if err != nil {
		return nil, err
	}

	var env envelope
	if err := resp.Decode(&env); err != nil {
		return nil, providers.Rejected(providers.Rova, "INVALID_RESPONSE", err.Error(), nil)
	}
	if !resp.OK() || env.Status != envelopeSuccess {
		reason := env.Message
		if reason == "" {
			reason = fmt.Sprintf("status %d", resp.StatusCode)
		}
		return &env, providers.Rejected(providers.Rova, env.Status, reason, resp.Body)
	}
	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return &env, providers.Rejected(providers.Rova, "INVALID_RESPONSE", err.Error(), resp.Body)
		}
	}
	return &env, nil
}

// Transfer sends funds. Success requires both the envelope and the transfer to report success.
func (c *Client) Transfer(ctx context.Context, req providers.TransferRequest) (providers.TransferResult, error) {
	body := transferBody{
		SourceAccount:       req.SourceAccount,
		DestinationAccount:  req.DestinationAccount,
		DestinationBankCode: req.DestinationBankCode,
		Amount:              req.Amount.MajorString(),
		ClientReference:     req.Reference,
		Narration:           providers.Narration(req.Narration),
	}

	c.logger.Info("submitting rova transfer",
		"client_reference", req.Reference,
		"amount", req.Amount.AmountMinor,
		"destination_bank", req.DestinationBankCode,
	)

	var data transferData
	env, err := c.call(ctx, "transfer", http.MethodPost, "/transfer", body, &data)
	if err != nil {
		return providers.TransferResult{Reference: req.Reference, Status: providers.StatusFailed, Raw: rawEnvelope(env)}, err
	}
	return transferResult(req.Reference, data, env)
}

// FetchTransferStatus looks up a transfer by client reference.
func (c *Client) FetchTransferStatus(ctx context.Context, reference string) (providers.TransferResult, error) {
	var data transferData
	env, err := c.call(ctx, "transfer_status", http.MethodGet, "/transfer/status/"+url.PathEscape(reference), nil, &data)
	if err != nil {
		return providers.TransferResult{Reference: reference, Raw: rawEnvelope(env)}, err
	}
	result, err := transferResult(reference, data, env)
	if result.Status == providers.StatusFailed {
		return result, nil
	}
	return result, err
}

func transferResult(reference string, data transferData, env *envelope) (providers.TransferResult, error) {
	result := providers.TransferResult{
		Reference:         reference,
		ProviderReference: data.TransactionReference,
		Message:           data.Message,
		Raw:               rawEnvelope(env),
	}
	switch data.Status {
	case transferSuccessful:
		result.Status = providers.StatusSuccess
		return result, nil
	case transferPending, transferProcessing:
		result.Status = providers.StatusPending
		return result, nil
	default:
		result.Status = providers.StatusFailed
		reason := data.Message
		if reason == "" {
			reason = "transfer status " + data.Status
		}
		return result, providers.Rejected(providers.Rova, data.Code, reason, result.Raw)
	}
}

// ListBanks returns the banks Rova can route to.
func (c *Client) ListBanks(ctx context.Context) ([]providers.Bank, error) {
	var data []bankData
	if _, err := c.call(ctx, "list_banks", http.MethodGet, "/banks", nil, &data); err != nil {
		return nil, err
	}
	banks := make([]providers.Bank, 0, len(data))
	for _, b := range data {
		banks = append(banks, providers.Bank{Code: b.BankCode, Name: b.BankName})
	}
	return banks, nil
}

// VerifyAccountName runs a name enquiry.
func (c *Client) VerifyAccountName(ctx context.Context, accountNumber, bankCode string) (providers.AccountName, error) {
	body := map[string]string{
		"accountNumber":   accountNumber,
		"institutionCode": bankCode,
	}
	var data nameQueryData
	if _, err := c.call(ctx, "name_query", http.MethodPost, "/transfer/name-query", body, &data); err != nil {
		return providers.AccountName{}, err
	}
	if data.Status != transferSuccessful || data.AccountName == "" {
		return providers.AccountName{}, providers.Rejected(providers.Rova, data.Status, "name enquiry failed: "+data.Message, nil)
	}
	return providers.AccountName{
		AccountNumber: accountNumber,
		AccountName:   data.AccountName,
		BankCode:      bankCode,
	}, nil
}

// OpenAccount opens a static virtual account.
func (c *Client) OpenAccount(ctx context.Context, req providers.OpenAccountRequest) (providers.VirtualAccount, error) {
	body := map[string]string{
		"email":     req.Email,
		"firstName": req.FirstName,
		"lastName":  req.LastName,
		"phone":     req.Phone,
	}
	var data openAccountData
	if _, err := c.call(ctx, "open_account", http.MethodPost, "/virtual-account/static", body, &data); err != nil {
		return providers.VirtualAccount{}, err
	}
	if len(data.SuccessfulVirtualAccounts) == 0 {
		return providers.VirtualAccount{}, providers.Rejected(providers.Rova, "NO_ACCOUNT", "no virtual account issued", nil)
	}
	acct := data.SuccessfulVirtualAccounts[0]
	return providers.VirtualAccount{
		AccountNumber: acct.VirtualAccountNumber,
		AccountName:   acct.VirtualAccountName,
		BankName:      "Rova BaaS",
		Balance:       money.Kobo(0),
	}, nil
}

// AccountBalance returns the account details and balance.
func (c *Client) AccountBalance(ctx context.Context, accountNumber string) (providers.VirtualAccount, error) {
	var data accountData
	if _, err := c.call(ctx, "account_balance", http.MethodGet, "/virtual-account/static/"+url.PathEscape(accountNumber), nil, &data); err != nil {
		return providers.VirtualAccount{}, err
	}
	balance := money.Kobo(0)
	if data.TransactionAmount != "" {
		parsed, err := money.ParseMajor(data.TransactionAmount, money.NGN)
		if err != nil {
			return providers.VirtualAccount{}, fmt.Errorf("parsing rova balance: %w", err)
		}
		balance = parsed
	}
	return providers.VirtualAccount{
		AccountID:     data.VirtualAccountID,
		AccountNumber: accountNumber,
		AccountName:   data.VirtualAccountName,
		BankName:      data.BankName,
		Balance:       balance,
	}, nil
}

func rawEnvelope(env *envelope) json.RawMessage {
	if env == nil {
		return nil
	}
	b, err := json.Marshal(env)
	if err != nil {
		return nil
	}
	return b
}
