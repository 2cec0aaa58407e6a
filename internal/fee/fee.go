// Package fee computes the platform charge and vendor payout split.
//
// Amounts are NGN minor units (kobo). The tiers are ₦1.50 below ₦100,
// ₦2.00 from ₦100 up to ₦5,000 and ₦2.50 from ₦5,000.
package fee

import (
	"errors"
	"fmt"

	"payplatform/internal/common/money"
)

// ErrInvalidAmount is returned when the gross amount does not cover the platform charge.
var ErrInvalidAmount = errors.New("gross amount does not cover the platform charge")

const (
	lowerThreshold = 10_000
	upperThreshold = 500_000

	lowCharge  = 150
	midCharge  = 200
	highCharge = 250
)

// Split is the result of dividing a gross amount between the platform and the vendor.
type Split struct {
	Gross          money.Money `json:"gross_amount"`
	PlatformCharge money.Money `json:"platform_charge"`
	VendorAmount   money.Money `json:"vendor_amount"`
}

// PlatformCharge returns the charge for a gross amount.
func PlatformCharge(gross money.Money) money.Money {
	var charge int64
	switch {
	case gross.AmountMinor < lowerThreshold:
		charge = lowCharge
	case gross.AmountMinor < upperThreshold:
		charge = midCharge
	default:
		charge = highCharge
	}
	return money.New(charge, gross.Currency)
}

// Compute splits gross into platform charge and vendor amount.
func Compute(gross money.Money) (Split, error) {
	charge := PlatformCharge(gross)
	if gross.LessThanOrEqual(charge) {
		return Split{}, fmt.Errorf("%w: gross %s, charge %s", ErrInvalidAmount, gross, charge)
	}
	vendor, err := gross.Sub(charge)
	if err != nil {
		return Split{}, err
	}
	return Split{Gross: gross, PlatformCharge: charge, VendorAmount: vendor}, nil
}
