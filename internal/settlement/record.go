// Package settlement drives multi-party settlement: a payer is debited or charged,
// the platform keeps its fee and the remainder is paid out to the vendor.
package settlement

import (
	"encoding/json"
	"fmt"
	"time"

	"payplatform/internal/common/money"
	"payplatform/internal/fee"
)

// Purpose is what a payment is for.
type Purpose string

const (
	PurposeTicket   Purpose = "ticket"
	PurposeScan2Pay Purpose = "scan2pay"
	// PurposeTransfer sends wallet money to any bank account named in the request.
	PurposeTransfer Purpose = "transfer"
)

// Protocol is the money movement sequence used for a record.
type Protocol string

const (
	// ProtocolDebitPayout debits the payer's wallet into the platform account, then pays the vendor.
	ProtocolDebitPayout Protocol = "A_DEBIT_PAYOUT"
	// ProtocolChargeVerifyPayout verifies a hosted checkout charge, then pays the vendor.
	ProtocolChargeVerifyPayout Protocol = "B_CHARGE_VERIFY_PAYOUT"
)

// Status is the state of a settlement record.
type Status string

const (
	StatusPending         Status = "PENDING"
	StatusDebitOK         Status = "DEBIT_OK"
	StatusPayoutInitiated Status = "PAYOUT_INITIATED"
	StatusSuccess         Status = "SUCCESS"
	StatusPayoutFailed    Status = "PAYOUT_FAILED"
	StatusDebitFailed     Status = "DEBIT_FAILED"
	StatusRecordedUnpaid  Status = "RECORDED_UNPAID"
)

// StatusAlreadyProcessed is reported to callers that hit an existing record. It is never stored.
const StatusAlreadyProcessed Status = "ALREADY_PROCESSED"

// Payer is the authenticated user paying from a wallet.
type Payer struct {
	ID            string
	FirstName     string
	LastName      string
	Email         string
	Phone         string
	PinHash       string
	AccountNumber string
}

// FullName joins the payer's names.
func (p Payer) FullName() string {
	switch {
	case p.FirstName == "":
		return p.LastName
	case p.LastName == "":
		return p.FirstName
	default:
		return p.FirstName + " " + p.LastName
	}
}

// Payee is the vendor or organizer receiving the payout.
type Payee struct {
	VendorID      string
	Name          string
	Email         string
	AccountNumber string
	BankCode      string
}

// Complete reports whether the payee can be paid out.
func (p Payee) Complete() bool {
	return p.VendorID != "" && p.AccountNumber != "" && p.BankCode != ""
}

// Item is a priceable purchase target: a ticket or a vendor QR code.
type Item struct {
	Purpose   Purpose
	Reference string
	Title     string
	Label     string
	// UnitPrice is zero for open-amount QR codes.
	UnitPrice money.Money
}

// Gross prices a purchase. Open-amount items take the caller's amount.
func (i Item) Gross(copies int, open money.Money) (money.Money, error) {
	if i.UnitPrice.AmountMinor > 0 {
		if copies < 1 {
			copies = 1
		}
		return i.UnitPrice.Multiply(int64(copies)), nil
	}
	if !open.IsPositive() {
		return money.Money{}, fmt.Errorf("%w: amount is required for %s %s", fee.ErrInvalidAmount, i.Purpose, i.Reference)
	}
	return open, nil
}

// Recipient is a vendor's registered payout destination at a provider.
type Recipient struct {
	VendorID      string
	Provider      string
	AccountNumber string
	BankCode      string
	DisplayName   string
	RecipientCode string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Matches reports whether the recipient was registered for the payee's current bank details.
func (r *Recipient) Matches(p Payee) bool {
	return r != nil && r.RecipientCode != "" && r.AccountNumber == p.AccountNumber && r.BankCode == p.BankCode
}

// Record is the durable outcome of one payment. Records are never deleted.
type Record struct {
	ID                string            `json:"id"`
	ReferenceID       string            `json:"reference_id"`
	ExternalReference string            `json:"external_reference"`
	Protocol          Protocol          `json:"protocol"`
	Provider          string            `json:"provider"`
	Purpose           Purpose           `json:"purpose"`
	PurposeReference  string            `json:"purpose_reference"`
	PayerID           string            `json:"payer_id,omitempty"`
	PayerName         string            `json:"payer_name,omitempty"`
	PayerEmail        string            `json:"payer_email,omitempty"`
	VendorID          string            `json:"vendor_id,omitempty"`
	GrossAmount       money.Money       `json:"gross_amount"`
	PlatformCharge    money.Money       `json:"platform_charge"`
	VendorAmount      money.Money       `json:"vendor_amount"`
	Status            Status            `json:"status"`
	DebitReference    string            `json:"debit_reference,omitempty"`
	PayoutReference   string            `json:"payout_reference,omitempty"`
	RecipientCode     string            `json:"recipient_code,omitempty"`
	PayoutStatus      string            `json:"payout_status,omitempty"`
	WebhookVerified   bool              `json:"webhook_verified"`
	ErrorCode         string            `json:"error_code,omitempty"`
	ErrorMessage      string            `json:"error_message,omitempty"`
	ErrorPayload      json.RawMessage   `json:"error_payload,omitempty"`
	Metadata          map[string]string `json:"metadata,omitempty"`
	CreatedAt         time.Time         `json:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at"`
	SettledAt         *time.Time        `json:"settled_at,omitempty"`
}

// NewRecord creates a record in the given starting status with the split applied.
func NewRecord(id, referenceID, externalReference string, protocol Protocol, provider string, split fee.Split, status Status) *Record {
	now := time.Now().UTC()
	return &Record{
		ID:                id,
		ReferenceID:       referenceID,
		ExternalReference: externalReference,
		Protocol:          protocol,
		Provider:          provider,
		GrossAmount:       split.Gross,
		PlatformCharge:    split.PlatformCharge,
		VendorAmount:      split.VendorAmount,
		Status:            status,
		Metadata:          make(map[string]string),
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

func (r *Record) transition(to Status, allowed ...Status) error {
	for _, from := range allowed {
		if r.Status == from {
			r.Status = to
			r.UpdatedAt = time.Now().UTC()
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, r.Status, to)
}

// MarkDebited records a confirmed debit or charge.
func (r *Record) MarkDebited(debitReference string) error {
	if err := r.transition(StatusDebitOK, StatusPending); err != nil {
		return err
	}
	r.DebitReference = debitReference
	return nil
}

// MarkDebitFailed records a debit that did not reach definitive success.
func (r *Record) MarkDebitFailed(code, message string, payload json.RawMessage) error {
	if err := r.transition(StatusDebitFailed, StatusPending); err != nil {
		return err
	}
	r.setError(code, message, payload)
	return nil
}

// MarkPayoutInitiated records a payout the provider accepted but has not completed.
func (r *Record) MarkPayoutInitiated(payoutReference, providerStatus string) error {
	if err := r.transition(StatusPayoutInitiated, StatusDebitOK); err != nil {
		return err
	}
	r.PayoutReference = payoutReference
	r.PayoutStatus = providerStatus
	return nil
}

// MarkSucceeded records a completed payout. A synchronous payout may skip PAYOUT_INITIATED.
func (r *Record) MarkSucceeded(payoutReference, providerStatus string) error {
	if err := r.transition(StatusSuccess, StatusDebitOK, StatusPayoutInitiated); err != nil {
		return err
	}
	if payoutReference != "" {
		r.PayoutReference = payoutReference
	}
	r.PayoutStatus = providerStatus
	now := r.UpdatedAt
	r.SettledAt = &now
	return nil
}

// MarkPayoutFailed records a payout failure after money was captured.
func (r *Record) MarkPayoutFailed(code, message string, payload json.RawMessage) error {
	if err := r.transition(StatusPayoutFailed, StatusDebitOK, StatusPayoutInitiated); err != nil {
		return err
	}
	r.setError(code, message, payload)
	return nil
}

// MarkRecordedUnpaid records a captured payment that cannot be paid out, such as
// when the payee has no bank details. It is never retried automatically.
func (r *Record) MarkRecordedUnpaid(code, reason string) error {
	if err := r.transition(StatusRecordedUnpaid, StatusDebitOK); err != nil {
		return err
	}
	r.setError(code, reason, nil)
	return nil
}

func (r *Record) setError(code, message string, payload json.RawMessage) {
	r.ErrorCode = code
	r.ErrorMessage = message
	r.ErrorPayload = payload
}

// IsTerminal reports whether no further transition is expected without operator action.
func (r *Record) IsTerminal() bool {
	switch r.Status {
	case StatusSuccess, StatusPayoutFailed, StatusDebitFailed, StatusRecordedUnpaid:
		return true
	}
	return false
}

// Captured reports whether the payer's money reached the platform.
func (r *Record) Captured() bool {
	return r.Status != StatusPending && r.Status != StatusDebitFailed
}
