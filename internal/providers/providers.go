// Package providers defines the capability set payment providers expose to the
// settlement orchestrator, and the transport shared by the provider adapters.
package providers

import (
	"context"
	"encoding/json"
	"time"
	"unicode/utf8"

	"payplatform/internal/common/money"
)

// Provider names.
const (
	Rova     = "rova"
	PayGate  = "paygateplus"
	Paystack = "paystack"
)

// Status is the normalized outcome of a provider operation.
type Status string

const (
	StatusSuccess Status = "success"
	StatusPending Status = "pending"
	StatusFailed  Status = "failed"
)

// Customer identifies the paying party to providers that require it.
type Customer struct {
	ID        string
	FirstName string
	LastName  string
	Email     string
	Phone     string
}

// ChargeRequest starts a hosted checkout.
type ChargeRequest struct {
	Reference   string
	Amount      money.Money
	Email       string
	CallbackURL string
	Metadata    map[string]string
}

// ChargeResult is returned by Charge.
type ChargeResult struct {
	Reference        string
	AuthorizationURL string
	AccessCode       string
	Status           Status
}

// VerifyResult is the provider's view of a charge.
type VerifyResult struct {
	Reference       string
	Status          Status
	AmountPaid      money.Money
	CustomerEmail   string
	PaidAt          *time.Time
	GatewayResponse string
	Metadata        map[string]string
}

// TransferRequest moves funds between accounts. Reference must be fresh per attempt.
type TransferRequest struct {
	Reference           string
	Amount              money.Money
	SourceAccount       string
	DestinationAccount  string
	DestinationBankCode string
	RecipientCode       string
	Narration           string
	Customer            Customer
	Metadata            map[string]string
}

// TransferResult is the provider's view of a transfer.
type TransferResult struct {
	Reference         string
	ProviderReference string
	Status            Status
	Message           string
	Raw               json.RawMessage
}

// RecipientRequest registers a payout destination.
type RecipientRequest struct {
	Name          string
	AccountNumber string
	BankCode      string
	Currency      money.Currency
}

// Bank is an entry of the provider's bank directory.
type Bank struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

// AccountName is the result of a name enquiry.
type AccountName struct {
	AccountNumber string `json:"account_number"`
	AccountName   string `json:"account_name"`
	BankCode      string `json:"bank_code"`
}

// OpenAccountRequest opens a static virtual account for a user.
type OpenAccountRequest struct {
	Email     string
	FirstName string
	LastName  string
	Phone     string
}

// VirtualAccount is a provider-issued account.
type VirtualAccount struct {
	AccountID     string      `json:"account_id,omitempty"`
	AccountNumber string      `json:"account_number"`
	AccountName   string      `json:"account_name,omitempty"`
	BankName      string      `json:"bank_name,omitempty"`
	Balance       money.Money `json:"balance"`
}

// Charger starts hosted checkouts.
type Charger interface {
	Name() string
	Charge(ctx context.Context, req ChargeRequest) (ChargeResult, error)
}

// Verifier looks up the state of a charge. Verify is idempotent.
type Verifier interface {
	Verify(ctx context.Context, reference string) (VerifyResult, error)
}

// Transferrer moves money and reports on transfers it started. FetchTransferStatus
// returns an error only when the status could not be read; a transfer the provider
// reports as failed comes back as StatusFailed with a nil error.
type Transferrer interface {
	Name() string
	Transfer(ctx context.Context, req TransferRequest) (TransferResult, error)
	FetchTransferStatus(ctx context.Context, reference string) (TransferResult, error)
}

// RecipientRegistrar registers payout recipients and returns an opaque handle.
type RecipientRegistrar interface {
	CreatePayoutRecipient(ctx context.Context, req RecipientRequest) (string, error)
}

// BankDirectory answers read-only bank lookups.
type BankDirectory interface {
	Name() string
	ListBanks(ctx context.Context) ([]Bank, error)
	VerifyAccountName(ctx context.Context, accountNumber, bankCode string) (AccountName, error)
}

// AccountOpener issues and inspects virtual accounts.
type AccountOpener interface {
	OpenAccount(ctx context.Context, req OpenAccountRequest) (VirtualAccount, error)
	AccountBalance(ctx context.Context, accountNumber string) (VirtualAccount, error)
}

// Checkout is the capability set needed for charge-verify-payout settlement.
type Checkout interface {
	Charger
	Verifier
	RecipientRegistrar
	Transferrer
}

const maxNarration = 20

// Narration truncates a transfer narration to the length banks accept.
func Narration(s string) string {
	if utf8.RuneCountInString(s) <= maxNarration {
		return s
	}
	return string([]rune(s)[:maxNarration])
}
