// Package api exposes bank lookups and virtual accounts over HTTP.
package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"payplatform/internal/accounts"
	"payplatform/internal/common/api"
	"payplatform/internal/common/middleware"
	"payplatform/internal/providers"
	"payplatform/internal/settlement"
)

// Handler handles account HTTP requests
type Handler struct {
	service *accounts.Service
	logger  *slog.Logger
}

// NewHandler creates a new accounts handler
func NewHandler(service *accounts.Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Routes returns the account routes. The bank list is served by ListBanks.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/verify", h.VerifyAccount)

	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireUser)
		r.Post("/virtual", h.OpenVirtualAccount)
		r.Get("/virtual", h.GetVirtualAccount)
	})

	return r
}

// VerifyAccountRequest is a name enquiry.
type VerifyAccountRequest struct {
	AccountNumber string `json:"account_number" validate:"required,len=10,numeric"`
	BankCode      string `json:"bank_code" validate:"required,numeric"`
}

// ListBanks handles GET /banks
func (h *Handler) ListBanks(w http.ResponseWriter, r *http.Request) {
	banks, err := h.service.ListBanks(r.Context())
	if err != nil {
		h.providerError(w, "failed to list banks", err)
		return
	}
	api.WriteData(w, http.StatusOK, banks)
}

// VerifyAccount handles POST /accounts/verify
func (h *Handler) VerifyAccount(w http.ResponseWriter, r *http.Request) {
	var req VerifyAccountRequest
	if err := api.DecodeAndValidate(r, &req); err != nil {
		api.ValidationError(w, err)
		return
	}

	name, err := h.service.VerifyAccountName(r.Context(), req.AccountNumber, req.BankCode)
	if err != nil {
		h.providerError(w, "failed to verify account", err)
		return
	}
	api.WriteData(w, http.StatusOK, name)
}

// OpenVirtualAccount handles POST /accounts/virtual
func (h *Handler) OpenVirtualAccount(w http.ResponseWriter, r *http.Request) {
	account, err := h.service.OpenVirtualAccount(r.Context(), middleware.GetUserID(r.Context()))
	if err != nil {
		if errors.Is(err, settlement.ErrNotFound) {
			api.NotFound(w, "user not found")
			return
		}
		h.providerError(w, "failed to open virtual account", err)
		return
	}
	api.WriteData(w, http.StatusCreated, account)
}

// GetVirtualAccount handles GET /accounts/virtual
func (h *Handler) GetVirtualAccount(w http.ResponseWriter, r *http.Request) {
	account, err := h.service.Balance(r.Context(), middleware.GetUserID(r.Context()))
	if err != nil {
		if errors.Is(err, accounts.ErrNoAccount) || errors.Is(err, settlement.ErrNotFound) {
			api.NotFound(w, "no virtual account")
			return
		}
		h.providerError(w, "failed to load virtual account", err)
		return
	}
	api.WriteData(w, http.StatusOK, account)
}

func (h *Handler) providerError(w http.ResponseWriter, msg string, err error) {
	switch {
	case errors.Is(err, providers.ErrProviderUnavailable):
		h.logger.Warn(msg, "error", err)
		api.ServiceUnavailable(w, "provider unavailable, try again later")
	case errors.Is(err, providers.ErrProviderRejected):
		api.WriteError(w, http.StatusBadRequest, api.ErrCodeProviderRejected, err.Error())
	default:
		h.logger.Error(msg, "error", err)
		api.InternalError(w, msg)
	}
}
