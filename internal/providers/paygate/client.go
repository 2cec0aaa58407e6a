// Package paygate adapts the PayGatePlus transact API for wallet debits and transfers.
package paygate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"payplatform/internal/providers"
)

// Config holds PayGatePlus configuration.
type Config struct {
	BaseURL      string        `envconfig:"PAYGATE_BASE_URL" default:"https://api.paygateplus.ng/v2"`
	APIKey       string        `envconfig:"PAYGATE_API_KEY"`
	AppSecret    string        `envconfig:"PAYGATE_APP_SECRET"`
	AESKey       string        `envconfig:"PAYGATE_AES_KEY"`
	AuthProvider string        `envconfig:"PAYGATE_AUTH_PROVIDER" default:"Fidelity"`
	MockMode     string        `envconfig:"PAYGATE_MOCK_MODE" default:"Live"`
	Timeout      time.Duration `envconfig:"PAYGATE_TIMEOUT" default:"30s"`
}

// Transaction statuses returned by the transact API.
const (
	StatusSuccessful    = "Successful"
	StatusWaitingForOTP = "WaitingForOTP"
	StatusPending       = "Pending"
	StatusProcessing    = "Processing"
)

type transactRequest struct {
	RequestRef  string      `json:"request_ref"`
	RequestType string      `json:"request_type"`
	Auth        auth        `json:"auth"`
	Transaction transaction `json:"transaction"`
}

type auth struct {
	Type         string  `json:"type"`
	Secure       string  `json:"secure"`
	AuthProvider string  `json:"auth_provider"`
	RouteMode    *string `json:"route_mode"`
}

type transaction struct {
	MockMode        string            `json:"mock_mode"`
	TransactionRef  string            `json:"transaction_ref"`
	TransactionDesc string            `json:"transaction_desc"`
	Amount          int64             `json:"amount"`
	Customer        customer          `json:"customer"`
	Meta            map[string]string `json:"meta,omitempty"`
	Details         *details          `json:"details,omitempty"`
}

type customer struct {
	CustomerRef string `json:"customer_ref"`
	Firstname   string `json:"firstname"`
	Surname     string `json:"surname"`
	Email       string `json:"email"`
	MobileNo    string `json:"mobile_no"`
}

type details struct {
	DestinationAccount  string `json:"destination_account"`
	DestinationBankCode string `json:"destination_bank_code"`
	OTPOverride         bool   `json:"otp_override"`
}

type transactResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Data    struct {
		ProviderResponseCode string `json:"provider_response_code"`
		Provider             string `json:"provider"`
		Errors               any    `json:"errors"`
		ProviderResponse     struct {
			Reference string `json:"reference"`
		} `json:"provider_response"`
	} `json:"data"`
}

// Client implements providers.Transferrer over the transact API.
type Client struct {
	config Config
	http   *providers.HTTPClient
	logger *slog.Logger
}

var _ providers.Transferrer = (*Client)(nil)

// NewClient creates a PayGatePlus client.
func NewClient(cfg Config, metrics *providers.Metrics, logger *slog.Logger) *Client {
	return &Client{
		config: cfg,
		http:   providers.NewHTTPClient(providers.PayGate, cfg.BaseURL, cfg.Timeout, metrics, logger),
		logger: logger,
	}
}

// Name returns the provider name.
func (c *Client) Name() string {
	return providers.PayGate
}

// Transfer debits req.SourceAccount and credits the destination. The amount is sent in kobo.
// WaitingForOTP is reported as pending, which is not a confirmed debit.
func (c *Client) Transfer(ctx context.Context, req providers.TransferRequest) (providers.TransferResult, error) {
	secure, err := EncryptAccount(req.SourceAccount, c.config.AESKey)
	if err != nil {
		return providers.TransferResult{Reference: req.Reference, Status: providers.StatusFailed}, fmt.Errorf("encrypting source account: %w", err)
	}

	body := transactRequest{
		RequestRef:  uuid.NewString(),
		RequestType: "transfer_funds",
		Auth: auth{
			Type:         "bank.account",
			Secure:       secure,
			AuthProvider: c.config.AuthProvider,
		},
		Transaction: transaction{
			MockMode:        c.config.MockMode,
			TransactionRef:  req.Reference,
			TransactionDesc: providers.Narration(req.Narration),
			Amount:          req.Amount.AmountMinor,
			Customer: customer{
				CustomerRef: req.Customer.ID,
				Firstname:   req.Customer.FirstName,
				Surname:     req.Customer.LastName,
				Email:       req.Customer.Email,
				MobileNo:    req.Customer.Phone,
			},
			Meta: req.Metadata,
			Details: &details{
				DestinationAccount:  req.DestinationAccount,
				DestinationBankCode: req.DestinationBankCode,
				OTPOverride:         true,
			},
		},
	}

	c.logger.Info("submitting paygate transfer",
		"transaction_ref", req.Reference,
		"request_ref", body.RequestRef,
		"amount", req.Amount.AmountMinor,
	)

	return c.transact(ctx, "transfer", "/transact", body)
}

// FetchTransferStatus queries a transaction by its transaction_ref.
func (c *Client) FetchTransferStatus(ctx context.Context, reference string) (providers.TransferResult, error) {
	body := transactRequest{
		RequestRef:  uuid.NewString(),
		RequestType: "transfer_funds",
		Auth: auth{
			Type:         "bank.account",
			AuthProvider: c.config.AuthProvider,
		},
		Transaction: transaction{
			MockMode:       c.config.MockMode,
			TransactionRef: reference,
		},
	}
	result, err := c.transact(ctx, "transfer_status", "/transact/query", body)
	if err != nil && result.Raw != nil && errors.Is(err, providers.ErrProviderRejected) {
		return result, nil
	}
	return result, err
}

func (c *Client) transact(ctx context.Context, op, path string, body transactRequest) (providers.TransferResult, error) {
	header := providers.BearerHeader(c.config.APIKey)
	header.Set("Signature", Signature(body.RequestRef, c.config.AppSecret))

	result := providers.TransferResult{
		Reference: body.Transaction.TransactionRef,
		Status:    providers.StatusFailed,
	}

	resp, err := c.http.Do(ctx, providers.Request{
		Operation: op,
		Method:    http.MethodPost,
		Path:      path,
		Body:      body,
		Header:    header,
	})
	if err != nil {
		return result, err
	}

	var tr transactResponse
	if err := resp.Decode(&tr); err != nil {
		return result, providers.Rejected(providers.PayGate, "INVALID_RESPONSE", err.Error(), nil)
	}
	result.Raw = json.RawMessage(resp.Body)
	result.Message = tr.Message
	result.ProviderReference = tr.Data.ProviderResponse.Reference
	if result.ProviderReference == "" {
		result.ProviderReference = body.RequestRef
	}

	switch tr.Status {
	case StatusSuccessful:
		result.Status = providers.StatusSuccess
		return result, nil
	case StatusWaitingForOTP, StatusPending, StatusProcessing:
		result.Status = providers.StatusPending
		return result, nil
	default:
		reason := tr.Message
		if reason == "" {
			reason = "transaction status " + tr.Status
		}
		return result, providers.Rejected(providers.PayGate, tr.Data.ProviderResponseCode, reason, resp.Body)
	}
}
