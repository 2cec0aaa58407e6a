package money

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

// Currency represents an ISO 4217 currency code
type Currency string

const (
	NGN Currency = "NGN"
)

// CurrencyInfo contains metadata about a currency
type CurrencyInfo struct {
	Code       Currency
	MinorUnits int32
	Symbol     string
}

var currencies = map[Currency]CurrencyInfo{
	NGN: {Code: NGN, MinorUnits: 2, Symbol: "₦"},
}

var (
	// ErrSubMinorPrecision is returned when a major-unit amount cannot be represented in minor units.
	ErrSubMinorPrecision = errors.New("amount has more precision than the currency allows")
	// ErrOutOfRange is returned when an amount does not fit in int64 minor units.
	ErrOutOfRange = errors.New("amount out of range")
)

var (
	maxMinor = decimal.NewFromInt(math.MaxInt64)
	minMinor = decimal.NewFromInt(math.MinInt64)
)

func minorUnits(c Currency) int32 {
	if info, ok := currencies[c]; ok {
		return info.MinorUnits
	}
	return 2
}

// Money is an amount in minor units (kobo for NGN).
type Money struct {
	AmountMinor int64    `json:"amount_minor"`
	Currency    Currency `json:"currency"`
}

// New creates a new Money value from minor units
func New(amountMinor int64, currency Currency) Money {
	return Money{AmountMinor: amountMinor, Currency: currency}
}

// Kobo is shorthand for an NGN amount in minor units.
func Kobo(amount int64) Money {
	return New(amount, NGN)
}

// ParseMajor parses a major-unit decimal string such as "80.00".
func ParseMajor(s string, currency Currency) (Money, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Money{}, fmt.Errorf("parsing amount %q: %w", s, err)
	}
	return FromDecimal(d, currency)
}

// FromDecimal converts a major-unit decimal into Money.
func FromDecimal(d decimal.Decimal, currency Currency) (Money, error) {
	shifted := d.Shift(minorUnits(currency))
	if !shifted.Equal(shifted.Truncate(0)) {
		return Money{}, ErrSubMinorPrecision
	}
	if shifted.GreaterThan(maxMinor) || shifted.LessThan(minMinor) {
		return Money{}, fmt.Errorf("%w: %s", ErrOutOfRange, d)
	}
	return Money{AmountMinor: shifted.IntPart(), Currency: currency}, nil
}

// Decimal returns the amount in major units.
func (m Money) Decimal() decimal.Decimal {
	return decimal.NewFromInt(m.AmountMinor).Shift(-minorUnits(m.Currency))
}

// MajorString formats the amount in major units with fixed precision, e.g. "78.50".
func (m Money) MajorString() string {
	return m.Decimal().StringFixed(minorUnits(m.Currency))
}

// IsPositive returns true if the amount is positive
func (m Money) IsPositive() bool {
	return m.AmountMinor > 0
}

// Add adds two money values (must be same currency)
func (m Money) Add(other Money) (Money, error) {
	if m.Currency != other.Currency {
		return Money{}, fmt.Errorf("currency mismatch: %s vs %s", m.Currency, other.Currency)
	}
	return Money{AmountMinor: m.AmountMinor + other.AmountMinor, Currency: m.Currency}, nil
}

// Sub subtracts two money values (must be same currency)
func (m Money) Sub(other Money) (Money, error) {
	if m.Currency != other.Currency {
		return Money{}, fmt.Errorf("currency mismatch: %s vs %s", m.Currency, other.Currency)
	}
	return Money{AmountMinor: m.AmountMinor - other.AmountMinor, Currency: m.Currency}, nil
}

// Multiply multiplies by an integer
func (m Money) Multiply(factor int64) Money {
	return Money{AmountMinor: m.AmountMinor * factor, Currency: m.Currency}
}

// LessThanOrEqual reports m <= other. Currencies must match.
func (m Money) LessThanOrEqual(other Money) bool {
	return m.Currency == other.Currency && m.AmountMinor <= other.AmountMinor
}

// String returns a human-readable representation
func (m Money) String() string {
	info, ok := currencies[m.Currency]
	if !ok {
		return fmt.Sprintf("%d %s (minor)", m.AmountMinor, m.Currency)
	}
	return info.Symbol + m.Decimal().StringFixed(info.MinorUnits)
}

// MarshalJSON implements json.Marshaler
func (m Money) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		AmountMinor int64  `json:"amount_minor"`
		Amount      string `json:"amount"`
		Currency    string `json:"currency"`
	}{
		AmountMinor: m.AmountMinor,
		Amount:      m.MajorString(),
		Currency:    string(m.Currency),
	})
}

// UnmarshalJSON implements json.Unmarshaler
func (m *Money) UnmarshalJSON(data []byte) error {
	var v struct {
		AmountMinor int64  `json:"amount_minor"`
		Currency    string `json:"currency"`
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	m.AmountMinor = v.AmountMinor
	m.Currency = Currency(v.Currency)
	return nil
}
