// Package webhook authenticates provider callbacks and applies them to settlement
// records. A callback never starts a payout.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"payplatform/internal/providers"
	"payplatform/internal/providers/paygate"
)

var (
	// ErrInvalidSignature is returned when a callback is not signed with the shared secret.
	ErrInvalidSignature = errors.New("invalid webhook signature")
	// ErrMalformed is returned when a signed callback cannot be parsed.
	ErrMalformed = errors.New("malformed webhook payload")
)

// Config holds the webhook secrets per provider.
type Config struct {
	PaystackSecret    string `envconfig:"PAYSTACK_SECRET_KEY"`
	PayGateAppSecret  string `envconfig:"PAYGATE_APP_SECRET"`
	RovaWebhookSecret string `envconfig:"ROVA_WEBHOOK_SECRET"`
}

// Kind is what a callback reports.
type Kind string

const (
	KindChargeSuccess   Kind = "charge_success"
	KindTransferOutcome Kind = "transfer_outcome"
	KindOther           Kind = "other"
)

// Event is a verified, normalized provider callback.
type Event struct {
	Provider  string
	ID        string
	Type      string
	Kind      Kind
	Reference string
	// Transfer is set for KindTransferOutcome.
	Transfer providers.TransferResult
	Payload  json.RawMessage
}

// Source verifies and parses callbacks from one provider.
type Source interface {
	Name() string
	Verify(header http.Header, body []byte) error
	Parse(body []byte) (*Event, error)
}

// Sources builds the verifiers for every provider with a configured secret.
func Sources(cfg Config) []Source {
	var out []Source
	if cfg.PaystackSecret != "" {
		out = append(out, Paystack{Secret: cfg.PaystackSecret})
	}
	if cfg.PayGateAppSecret != "" {
		out = append(out, PayGate{AppSecret: cfg.PayGateAppSecret})
	}
	if cfg.RovaWebhookSecret != "" {
		out = append(out, Rova{Secret: cfg.RovaWebhookSecret})
	}
	return out
}

// Paystack signs the raw body with HMAC-SHA512 of the secret key.
type Paystack struct {
	Secret string
}

func (Paystack) Name() string { return providers.Paystack }

func (p Paystack) Verify(header http.Header, body []byte) error {
	mac := hmac.New(sha512.New, []byte(p.Secret))
	mac.Write(body)
	return compareHex(header.Get("x-paystack-signature"), mac.Sum(nil))
}

func (Paystack) Parse(body []byte) (*Event, error) {
	var payload struct {
		Event string `json:"event"`
		Data  struct {
			ID            json.RawMessage `json:"id"`
			Reference     string          `json:"reference"`
			Status        string          `json:"status"`
			TransferCode  string          `json:"transfer_code"`
			Reason        string          `json:"reason"`
			GatewayReason string          `json:"gateway_response"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	if payload.Event == "" || payload.Data.Reference == "" {
		return nil, fmt.Errorf("%w: missing event or reference", ErrMalformed)
	}

	e := &Event{
		Provider:  providers.Paystack,
		ID:        payload.Event + ":" + firstNonEmpty(idString(payload.Data.ID), payload.Data.Reference),
		Type:      payload.Event,
		Kind:      KindOther,
		Reference: payload.Data.Reference,
		Payload:   body,
	}
	switch payload.Event {
	case "charge.success":
		e.Kind = KindChargeSuccess
	case "transfer.success":
		e.Kind = KindTransferOutcome
		e.Transfer = transfer(payload.Data.Reference, payload.Data.TransferCode, providers.StatusSuccess, "", body)
	case "transfer.failed", "transfer.reversed":
		e.Kind = KindTransferOutcome
		msg := firstNonEmpty(payload.Data.Reason, payload.Data.GatewayReason, payload.Event)
		e.Transfer = transfer(payload.Data.Reference, payload.Data.TransferCode, providers.StatusFailed, msg, body)
	}
	return e, nil
}

// PayGate signs md5("request_ref;app_secret") into the Signature header.
type PayGate struct {
	AppSecret string
}

type payGatePayload struct {
	RequestRef  string `json:"request_ref"`
	RequestType string `json:"request_type"`
	Details     struct {
		Status         string `json:"status"`
		TransactionRef string `json:"transaction_ref"`
		Amount         int64  `json:"amount"`
		Message        string `json:"message"`
	} `json:"details"`
}

func (PayGate) Name() string { return providers.PayGate }

func (p PayGate) Verify(header http.Header, body []byte) error {
	var payload payGatePayload
	if err := json.Unmarshal(body, &payload); err != nil || payload.RequestRef == "" {
		return ErrInvalidSignature
	}
	want := paygate.Signature(payload.RequestRef, p.AppSecret)
	if subtle.ConstantTimeCompare([]byte(strings.ToLower(header.Get("Signature"))), []byte(want)) != 1 {
		return ErrInvalidSignature
	}
	return nil
}

func (PayGate) Parse(body []byte) (*Event, error) {
	var payload payGatePayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}

	// One request_ref is reported once per status change.
	e := &Event{
		Provider:  providers.PayGate,
		ID:        payload.RequestRef + ":" + firstNonEmpty(payload.Details.Status, "unknown"),
		Type:      firstNonEmpty(payload.RequestType, "unknown"),
		Kind:      KindOther,
		Reference: firstNonEmpty(payload.Details.TransactionRef, payload.RequestRef),
		Payload:   body,
	}
	if strings.Contains(strings.ToLower(payload.RequestType), "transfer") {
		switch payload.Details.Status {
		case paygate.StatusSuccessful:
			e.Kind = KindTransferOutcome
			e.Transfer = transfer(e.Reference, payload.RequestRef, providers.StatusSuccess, "", body)
		case "Failed":
			e.Kind = KindTransferOutcome
			e.Transfer = transfer(e.Reference, payload.RequestRef, providers.StatusFailed, payload.Details.Message, body)
		}
	}
	return e, nil
}

// Rova signs the raw body with HMAC-SHA256 of the webhook secret.
type Rova struct {
	Secret string
}

func (Rova) Name() string { return providers.Rova }

func (r Rova) Verify(header http.Header, body []byte) error {
	mac := hmac.New(sha256.New, []byte(r.Secret))
	mac.Write(body)
	return compareHex(header.Get("X-Rova-Signature"), mac.Sum(nil))
}

func (Rova) Parse(body []byte) (*Event, error) {
	var payload struct {
		Event string `json:"event"`
		Data  struct {
			ID        string `json:"id"`
			Reference string `json:"reference"`
			Status    string `json:"status"`
			Message   string `json:"message"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	if payload.Event == "" || payload.Data.Reference == "" {
		return nil, fmt.Errorf("%w: missing event or reference", ErrMalformed)
	}

	e := &Event{
		Provider:  providers.Rova,
		ID:        payload.Event + ":" + firstNonEmpty(payload.Data.ID, payload.Data.Reference),
		Type:      payload.Event,
		Kind:      KindOther,
		Reference: payload.Data.Reference,
		Payload:   body,
	}
	if strings.HasPrefix(payload.Event, "transfer.") {
		switch strings.ToUpper(payload.Data.Status) {
		case "SUCCESSFUL", "SUCCESS":
			e.Kind = KindTransferOutcome
			e.Transfer = transfer(e.Reference, payload.Data.ID, providers.StatusSuccess, "", body)
		case "FAILED", "REVERSED":
			e.Kind = KindTransferOutcome
			e.Transfer = transfer(e.Reference, payload.Data.ID, providers.StatusFailed, payload.Data.Message, body)
		}
	}
	return e, nil
}

func transfer(reference, providerRef string, status providers.Status, message string, raw []byte) providers.TransferResult {
	return providers.TransferResult{
		Reference:         reference,
		ProviderReference: providerRef,
		Status:            status,
		Message:           message,
		Raw:               raw,
	}
}

func compareHex(got string, want []byte) error {
	sig, err := hex.DecodeString(strings.TrimSpace(got))
	if err != nil || !hmac.Equal(sig, want) {
		return ErrInvalidSignature
	}
	return nil
}

func idString(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return strings.TrimSpace(string(raw))
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
