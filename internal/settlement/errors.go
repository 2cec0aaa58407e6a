package settlement

import (
	"errors"
	"fmt"

	"payplatform/internal/providers"
)

var (
	// ErrUnauthorized means the transaction PIN is unset or does not match. No provider is called.
	ErrUnauthorized = errors.New("transaction pin not set or invalid")
	// ErrPayeeDetailsMissing means the vendor has no payout bank details.
	ErrPayeeDetailsMissing = errors.New("payee bank details missing")
	// ErrSourceAccountMissing means the payer has no wallet account to debit.
	ErrSourceAccountMissing = errors.New("payer has no account to debit")
	// ErrDebitFailed means the payer debit did not reach definitive success.
	ErrDebitFailed = errors.New("debit failed")
	// ErrChargeNotSuccessful means the provider does not report the charge as paid.
	ErrChargeNotSuccessful = errors.New("charge not successful")
	// ErrPayoutFailed means money was captured but the vendor payout failed.
	ErrPayoutFailed = errors.New("payment captured, payout pending manual resolution")
	// ErrDuplicateReference is returned by Store.Create when the external reference exists.
	ErrDuplicateReference = errors.New("duplicate external reference")
	// ErrInvalidTransition is returned when a record is not in the expected state.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrNotFound is returned when no record or directory entry matches.
	ErrNotFound = errors.New("not found")
	// ErrProviderNotConfigured is returned when no provider serves the requested flow.
	ErrProviderNotConfigured = errors.New("provider not configured")
)

// StoredFailure rebuilds the error a failed settlement returned from its record, so a
// repeated request reports it the same way. It is nil unless the record failed.
func StoredFailure(rec *Record) error {
	cause := storedCause{message: rec.ErrorMessage, unavailable: rec.ErrorCode == providers.ErrorCode(providers.ErrProviderUnavailable)}
	switch rec.Status {
	case StatusPayoutFailed:
		return fmt.Errorf("%w: %w", ErrPayoutFailed, cause)
	case StatusDebitFailed:
		return fmt.Errorf("%w: %w", ErrDebitFailed, cause)
	}
	return nil
}

type storedCause struct {
	message     string
	unavailable bool
}

func (e storedCause) Error() string { return e.message }

func (e storedCause) Is(target error) bool {
	return e.unavailable && target == providers.ErrProviderUnavailable
}
