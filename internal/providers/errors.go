package providers

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrProviderUnavailable covers network failures, timeouts and 5xx responses.
	ErrProviderUnavailable = errors.New("provider unavailable")
	// ErrProviderRejected covers explicit declines. Use errors.As with *RejectedError for details.
	ErrProviderRejected = errors.New("provider rejected request")
)

// RejectedError carries a provider decline.
type RejectedError struct {
	Provider string
	Code     string
	Reason   string
	Payload  json.RawMessage
}

func (e *RejectedError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s rejected request: %s (%s)", e.Provider, e.Reason, e.Code)
	}
	return fmt.Sprintf("%s rejected request: %s", e.Provider, e.Reason)
}

// Is reports whether target is ErrProviderRejected.
func (e *RejectedError) Is(target error) bool {
	return target == ErrProviderRejected
}

// Rejected builds a RejectedError.
func Rejected(provider, code, reason string, payload []byte) *RejectedError {
	return &RejectedError{Provider: provider, Code: code, Reason: reason, Payload: rawOrNil(payload)}
}

// Unavailable wraps a transport error as ErrProviderUnavailable.
func Unavailable(provider, operation string, err error) error {
	return fmt.Errorf("%s %s: %w: %w", provider, operation, ErrProviderUnavailable, err)
}

// ErrorPayload extracts a JSON payload suitable for persisting alongside a failure.
func ErrorPayload(err error) json.RawMessage {
	var rej *RejectedError
	if errors.As(err, &rej) && len(rej.Payload) > 0 {
		return rej.Payload
	}
	if err == nil {
		return nil
	}
	b, _ := json.Marshal(map[string]string{"error": err.Error()})
	return b
}

// ErrorCode returns a short code for persistence.
func ErrorCode(err error) string {
	var rej *RejectedError
	switch {
	case errors.As(err, &rej):
		if rej.Code != "" {
			return rej.Code
		}
		return "PROVIDER_REJECTED"
	case errors.Is(err, ErrProviderUnavailable):
		return "PROVIDER_UNAVAILABLE"
	case err == nil:
		return ""
	default:
		return "PROVIDER_ERROR"
	}
}

func rawOrNil(b []byte) json.RawMessage {
	if len(b) == 0 || !json.Valid(b) {
		return nil
	}
	return json.RawMessage(b)
}
