// Package api exposes checkout and settlement lookup over HTTP.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"payplatform/internal/common/api"
	"payplatform/internal/common/middleware"
	"payplatform/internal/common/money"
	"payplatform/internal/fee"
	"payplatform/internal/providers"
	"payplatform/internal/settlement"
)

// Settlements is the orchestrator surface used by the handlers.
type Settlements interface {
	DebitAndPayout(ctx context.Context, req settlement.DebitRequest) (*settlement.Outcome, error)
	InitializeCharge(ctx context.Context, req settlement.CheckoutRequest) (*settlement.ChargeSession, error)
	VerifyAndPayout(ctx context.Context, externalReference string) (*settlement.Outcome, error)
	Get(ctx context.Context, referenceID string) (*settlement.Record, error)
}

// Catalog prices the items that can be paid for.
type Catalog interface {
	Item(ctx context.Context, purpose settlement.Purpose, reference string) (settlement.Item, error)
}

// IdempotencyHeader carries the client's idempotency key for wallet checkouts.
const IdempotencyHeader = "Idempotency-Key"

// Handler handles checkout and settlement HTTP requests
type Handler struct {
	service Settlements
	catalog Catalog
	logger  *slog.Logger
}

// NewHandler creates a new settlement handler
func NewHandler(service Settlements, catalog Catalog, logger *slog.Logger) *Handler {
	return &Handler{service: service, catalog: catalog, logger: logger}
}

// Routes returns the checkout and settlement routes
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	// Wallet checkouts need an authenticated payer
	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireUser)
		r.Post("/checkout/scan2pay", h.Scan2Pay)
		r.Post("/checkout/tickets/wallet", h.TicketsWallet)
		r.Post("/transfers", h.Transfer)
	})

	r.Post("/checkout/tickets", h.TicketsCheckout)
	r.Post("/checkout/scan2pay/guest", h.Scan2PayGuest)

	r.Post("/settlements/verify", h.Verify)
	r.Get("/settlements/{reference_id}", h.GetSettlement)

	return r
}

// Scan2PayRequest pays a vendor QR code from the caller's wallet.
type Scan2PayRequest struct {
	QRCodeID          string `json:"qr_code_id" validate:"required"`
	Amount            string `json:"amount"`
	PIN               string `json:"pin" validate:"required,len=4,numeric"`
	SourceAccount     string `json:"source_account" validate:"omitempty,numeric"`
	Phone             string `json:"phone"`
	ExternalReference string `json:"external_reference" validate:"max=100"`
}

// TicketsWalletRequest buys tickets from the caller's wallet.
type TicketsWalletRequest struct {
	TicketID          string `json:"ticket_id" validate:"required"`
	Quantity          int    `json:"quantity" validate:"required,min=1,max=20"`
	PIN               string `json:"pin" validate:"required,len=4,numeric"`
	SourceAccount     string `json:"source_account" validate:"omitempty,numeric"`
	Phone             string `json:"phone"`
	ExternalReference string `json:"external_reference" validate:"max=100"`
}

// TransferRequest sends money from the caller's wallet to a bank account.
type TransferRequest struct {
	DestinationAccount  string `json:"destination_account" validate:"required,len=10,numeric"`
	DestinationBankCode string `json:"destination_bank_code" validate:"required,numeric"`
	DestinationName     string `json:"destination_name" validate:"max=200"`
	Amount              string `json:"amount" validate:"required"`
	Narration           string `json:"narration" validate:"max=100"`
	PIN                 string `json:"pin" validate:"required,len=4,numeric"`
	SourceAccount       string `json:"source_account" validate:"omitempty,numeric"`
	ExternalReference   string `json:"external_reference" validate:"max=100"`
}

// TicketsCheckoutRequest starts a hosted checkout for tickets.
type TicketsCheckoutRequest struct {
	TicketID string `json:"ticket_id" validate:"required"`
	Quantity int    `json:"quantity" validate:"required,min=1,max=20"`
	Email    string `json:"email" validate:"required,email"`
	Name     string `json:"name" validate:"max=200"`
}

// GuestScan2PayRequest starts a hosted checkout for a vendor QR code without an account.
type GuestScan2PayRequest struct {
	QRCodeID string `json:"qr_code_id" validate:"required"`
	Amount   string `json:"amount"`
	Email    string `json:"email" validate:"required,email"`
	Name     string `json:"name" validate:"max=200"`
}

// VerifyRequest asks for a hosted checkout to be verified and settled.
type VerifyRequest struct {
	ExternalReference string `json:"external_reference" validate:"required,max=100"`
}

// CheckoutResponse is returned by every checkout and verify endpoint.
type CheckoutResponse struct {
	ReferenceID       string                      `json:"reference_id,omitempty"`
	ExternalReference string                      `json:"external_reference"`
	TotalPaid         money.Money                 `json:"total_paid"`
	PlatformCharge    money.Money                 `json:"platform_charge"`
	VendorAmount      money.Money                 `json:"vendor_amount"`
	Status            settlement.Status           `json:"status"`
	RecordStatus      settlement.Status           `json:"record_status,omitempty"`
	PayoutStatus      string                      `json:"payout_status,omitempty"`
	AlreadyProcessed  bool                        `json:"already_processed"`
	Caveat            string                      `json:"caveat,omitempty"`
	AuthorizationURL  string                      `json:"authorization_url,omitempty"`
	AccessCode        string                      `json:"access_code,omitempty"`
	TransferDetails   *settlement.TransferDetails `json:"transfer_details,omitempty"`
}

// SettlementView is the projection of a record shown to anyone but its payer.
type SettlementView struct {
	ReferenceID    string             `json:"reference_id"`
	Purpose        settlement.Purpose `json:"purpose"`
	Status         settlement.Status  `json:"status"`
	PayoutStatus   string             `json:"payout_status,omitempty"`
	TotalPaid      money.Money        `json:"total_paid"`
	PlatformCharge money.Money        `json:"platform_charge"`
	VendorAmount   money.Money        `json:"vendor_amount"`
	CreatedAt      time.Time          `json:"created_at"`
	SettledAt      *time.Time         `json:"settled_at,omitempty"`
}

// Scan2Pay handles POST /checkout/scan2pay
func (h *Handler) Scan2Pay(w http.ResponseWriter, r *http.Request) {
	var req Scan2PayRequest
	if err := api.DecodeAndValidate(r, &req); err != nil {
		api.ValidationError(w, err)
		return
	}

	intent, ok := h.intent(w, r, settlement.PurposeScan2Pay, req.QRCodeID, 0, req.Amount)
	if !ok {
		return
	}
	intent.ExternalReference = firstNonEmpty(r.Header.Get(IdempotencyHeader), req.ExternalReference)

	out, err := h.service.DebitAndPayout(r.Context(), settlement.DebitRequest{
		Intent:        intent,
		PayerID:       middleware.GetUserID(r.Context()),
		PIN:           req.PIN,
		SourceAccount: req.SourceAccount,
		Phone:         req.Phone,
	})
	h.writeOutcome(w, out, err)
}

// TicketsWallet handles POST /checkout/tickets/wallet
func (h *Handler) TicketsWallet(w http.ResponseWriter, r *http.Request) {
	var req TicketsWalletRequest
	if err := api.DecodeAndValidate(r, &req); err != nil {
		api.ValidationError(w, err)
		return
	}

	intent, ok := h.intent(w, r, settlement.PurposeTicket, req.TicketID, req.Quantity, "")
	if !ok {
		return
	}
	intent.ExternalReference = firstNonEmpty(r.Header.Get(IdempotencyHeader), req.ExternalReference)

	out, err := h.service.DebitAndPayout(r.Context(), settlement.DebitRequest{
		Intent:        intent,
		PayerID:       middleware.GetUserID(r.Context()),
		PIN:           req.PIN,
		SourceAccount: req.SourceAccount,
		Phone:         req.Phone,
	})
	h.writeOutcome(w, out, err)
}

// Transfer handles POST /transfers
func (h *Handler) Transfer(w http.ResponseWriter, r *http.Request) {
	var req TransferRequest
	if err := api.DecodeAndValidate(r, &req); err != nil {
		api.ValidationError(w, err)
		return
	}

	gross, ok := parseAmount(w, req.Amount)
	if !ok {
		return
	}
	if !gross.IsPositive() {
		api.WriteError(w, http.StatusUnprocessableEntity, api.ErrCodeInvalidAmount, "amount must be positive")
		return
	}

	intent := settlement.Intent{
		Item: settlement.Item{
			Purpose:   settlement.PurposeTransfer,
			Reference: req.DestinationAccount,
			Title:     firstNonEmpty(req.DestinationName, req.DestinationAccount+" ("+req.DestinationBankCode+")"),
			Label:     req.Narration,
		},
		Gross:             gross,
		ExternalReference: firstNonEmpty(r.Header.Get(IdempotencyHeader), req.ExternalReference),
	}

	out, err := h.service.DebitAndPayout(r.Context(), settlement.DebitRequest{
		Intent:        intent,
		PayerID:       middleware.GetUserID(r.Context()),
		PIN:           req.PIN,
		SourceAccount: req.SourceAccount,
		Payee: &settlement.Payee{
			Name:          req.DestinationName,
			AccountNumber: req.DestinationAccount,
			BankCode:      req.DestinationBankCode,
		},
	})
	h.writeOutcome(w, out, err)
}

// TicketsCheckout handles POST /checkout/tickets
func (h *Handler) TicketsCheckout(w http.ResponseWriter, r *http.Request) {
	var req TicketsCheckoutRequest
	if err := api.DecodeAndValidate(r, &req); err != nil {
		api.ValidationError(w, err)
		return
	}

	intent, ok := h.intent(w, r, settlement.PurposeTicket, req.TicketID, req.Quantity, "")
	if !ok {
		return
	}
	intent.PayerEmail = req.Email
	intent.PayerName = req.Name

	session, err := h.service.InitializeCharge(r.Context(), settlement.CheckoutRequest{
		Intent:  intent,
		PayerID: middleware.GetUserID(r.Context()),
	})
	h.writeSession(w, session, err)
}

// Scan2PayGuest handles POST /checkout/scan2pay/guest
func (h *Handler) Scan2PayGuest(w http.ResponseWriter, r *http.Request) {
	var req GuestScan2PayRequest
	if err := api.DecodeAndValidate(r, &req); err != nil {
		api.ValidationError(w, err)
		return
	}

	intent, ok := h.intent(w, r, settlement.PurposeScan2Pay, req.QRCodeID, 0, req.Amount)
	if !ok {
		return
	}
	intent.PayerEmail = req.Email
	intent.PayerName = req.Name

	session, err := h.service.InitializeCharge(r.Context(), settlement.CheckoutRequest{
		Intent: intent,
		Guest:  true,
	})
	h.writeSession(w, session, err)
}

// Verify handles POST /settlements/verify
func (h *Handler) Verify(w http.ResponseWriter, r *http.Request) {
	var req VerifyRequest
	if err := api.DecodeAndValidate(r, &req); err != nil {
		api.ValidationError(w, err)
		return
	}

	out, err := h.service.VerifyAndPayout(r.Context(), req.ExternalReference)
	h.writeOutcome(w, out, err)
}

// GetSettlement handles GET /settlements/{reference_id}. Only the payer sees the full record.
func (h *Handler) GetSettlement(w http.ResponseWriter, r *http.Request) {
	referenceID := chi.URLParam(r, "reference_id")
	if referenceID == "" {
		api.BadRequest(w, "reference ID required")
		return
	}

	rec, err := h.service.Get(r.Context(), referenceID)
	if err != nil {
		if errors.Is(err, settlement.ErrNotFound) {
			api.NotFound(w, "settlement not found")
			return
		}
		h.logger.Error("failed to load settlement", "reference_id", referenceID, "error", err)
		api.InternalError(w, "failed to load settlement")
		return
	}

	if userID := middleware.GetUserID(r.Context()); userID != "" && userID == rec.PayerID {
		api.WriteData(w, http.StatusOK, rec)
		return
	}
	api.WriteData(w, http.StatusOK, SettlementView{
		ReferenceID:    rec.ReferenceID,
		Purpose:        rec.Purpose,
		Status:         rec.Status,
		PayoutStatus:   rec.PayoutStatus,
		TotalPaid:      rec.GrossAmount,
		PlatformCharge: rec.PlatformCharge,
		VendorAmount:   rec.VendorAmount,
		CreatedAt:      rec.CreatedAt,
		SettledAt:      rec.SettledAt,
	})
}

// intent prices the item and builds the payment intent, writing the error response on failure.
func (h *Handler) intent(w http.ResponseWriter, r *http.Request, purpose settlement.Purpose, reference string, copies int, amount string) (settlement.Intent, bool) {
	item, err := h.catalog.Item(r.Context(), purpose, reference)
	if err != nil {
		if errors.Is(err, settlement.ErrNotFound) {
			api.NotFound(w, string(purpose)+" item not found")
			return settlement.Intent{}, false
		}
		h.logger.Error("failed to load item", "purpose", purpose, "reference", reference, "error", err)
		api.InternalError(w, "failed to load item")
		return settlement.Intent{}, false
	}

	var open money.Money
	if amount != "" {
		var ok bool
		if open, ok = parseAmount(w, amount); !ok {
			return settlement.Intent{}, false
		}
	}

	gross, err := item.Gross(copies, open)
	if err != nil {
		api.WriteError(w, http.StatusUnprocessableEntity, api.ErrCodeInvalidAmount, err.Error())
		return settlement.Intent{}, false
	}
	if copies < 1 && purpose == settlement.PurposeTicket {
		copies = 1
	}

	return settlement.Intent{Item: item, Gross: gross, Copies: copies}, true
}

func parseAmount(w http.ResponseWriter, amount string) (money.Money, bool) {
	m, err := money.ParseMajor(amount, money.NGN)
	if err != nil {
		api.WriteError(w, http.StatusUnprocessableEntity, api.ErrCodeInvalidAmount, "amount must be a decimal naira amount")
		return money.Money{}, false
	}
	return m, true
}

func (h *Handler) writeOutcome(w http.ResponseWriter, out *settlement.Outcome, err error) {
	if err != nil {
		h.writeError(w, out, err)
		return
	}
	if out.AlreadyProcessed {
		// A repeat answers like the first attempt did.
		if failure := settlement.StoredFailure(out.Record); failure != nil {
			h.writeError(w, out, failure)
			return
		}
	}

	rec := out.Record
	resp := CheckoutResponse{
		ReferenceID:       rec.ReferenceID,
		ExternalReference: rec.ExternalReference,
		TotalPaid:         rec.GrossAmount,
		PlatformCharge:    rec.PlatformCharge,
		VendorAmount:      rec.VendorAmount,
		Status:            rec.Status,
		PayoutStatus:      rec.PayoutStatus,
		AlreadyProcessed:  out.AlreadyProcessed,
		Caveat:            out.Caveat,
	}
	if out.AlreadyProcessed {
		resp.Status = settlement.StatusAlreadyProcessed
		resp.RecordStatus = rec.Status
	}
	api.WriteData(w, http.StatusOK, resp)
}

func (h *Handler) writeSession(w http.ResponseWriter, session *settlement.ChargeSession, err error) {
	if err != nil {
		h.writeError(w, nil, err)
		return
	}
	api.WriteData(w, http.StatusCreated, CheckoutResponse{
		ExternalReference: session.Reference,
		TotalPaid:         session.Split.Gross,
		PlatformCharge:    session.Split.PlatformCharge,
		VendorAmount:      session.Split.VendorAmount,
		Status:            settlement.StatusPending,
		AuthorizationURL:  session.AuthorizationURL,
		AccessCode:        session.AccessCode,
		TransferDetails:   session.TransferDetails,
	})
}

// writeError maps settlement and provider errors to HTTP responses. ErrPayoutFailed
// is checked first because it wraps the provider error that caused it.
func (h *Handler) writeError(w http.ResponseWriter, out *settlement.Outcome, err error) {
	details := map[string]string{}
	if out != nil && out.Record != nil {
		details["reference_id"] = out.Record.ReferenceID
		details["status"] = string(out.Record.Status)
	}

	switch {
	case errors.Is(err, settlement.ErrPayoutFailed):
		h.logger.Error("payout failed after capture", "reference_id", details["reference_id"], "error", err)
		api.WriteErrorWithDetails(w, http.StatusBadGateway, api.ErrCodePaymentCaptured, settlement.ErrPayoutFailed.Error(), details)
	case errors.Is(err, settlement.ErrUnauthorized):
		api.Forbidden(w, "transaction PIN not set or invalid")
	case errors.Is(err, fee.ErrInvalidAmount):
		api.WriteError(w, http.StatusUnprocessableEntity, api.ErrCodeInvalidAmount, err.Error())
	case errors.Is(err, settlement.ErrPayeeDetailsMissing):
		api.WriteError(w, http.StatusUnprocessableEntity, api.ErrCodePayeeMissing, "vendor has no payout bank details")
	case errors.Is(err, settlement.ErrSourceAccountMissing):
		api.WriteError(w, http.StatusUnprocessableEntity, api.ErrCodeValidation, "no wallet account to debit")
	case errors.Is(err, settlement.ErrNotFound):
		api.NotFound(w, "not found")
	case errors.Is(err, providers.ErrProviderUnavailable), errors.Is(err, settlement.ErrProviderNotConfigured):
		h.logger.Warn("provider unavailable", "reference_id", details["reference_id"], "error", err)
		api.WriteErrorWithDetails(w, http.StatusServiceUnavailable, api.ErrCodeServiceUnavail, "payment provider unavailable, try again later", details)
	case errors.Is(err, settlement.ErrDebitFailed):
		api.WriteErrorWithDetails(w, http.StatusPaymentRequired, api.ErrCodeDebitFailed, err.Error(), details)
	case errors.Is(err, settlement.ErrChargeNotSuccessful):
		api.WriteError(w, http.StatusPaymentRequired, api.ErrCodeChargeNotPaid, err.Error())
	case errors.Is(err, providers.ErrProviderRejected):
		api.WriteErrorWithDetails(w, http.StatusPaymentRequired, api.ErrCodeProviderRejected, err.Error(), details)
	default:
		h.logger.Error("settlement request failed", "error", err)
		api.InternalError(w, "failed to process payment")
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
