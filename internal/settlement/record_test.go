package settlement

import (
	"errors"
	"testing"

	"payplatform/internal/common/money"
	"payplatform/internal/fee"
	"payplatform/internal/providers"
)

func newTestRecord(t *testing.T, status Status) *Record {
	t.Helper()
	split, err := fee.Compute(money.Kobo(8000))
	if err != nil {
		t.Fatal(err)
	}
	return NewRecord("id", "ref", "ext", ProtocolDebitPayout, "rova", split, status)
}

func TestRecordTransitions(t *testing.T) {
	tests := []struct {
		name string
		from Status
		mark func(*Record) error
		want Status
		ok   bool
	}{
		{"debited", StatusPending, func(r *Record) error { return r.MarkDebited("d1") }, StatusDebitOK, true},
		{"debit failed", StatusPending, func(r *Record) error { return r.MarkDebitFailed("51", "nsf", nil) }, StatusDebitFailed, true},
		{"payout initiated", StatusDebitOK, func(r *Record) error { return r.MarkPayoutInitiated("p1", "pending") }, StatusPayoutInitiated, true},
		{"synchronous success", StatusDebitOK, func(r *Record) error { return r.MarkSucceeded("p1", "success") }, StatusSuccess, true},
		{"async success", StatusPayoutInitiated, func(r *Record) error { return r.MarkSucceeded("", "success") }, StatusSuccess, true},
		{"payout failed", StatusPayoutInitiated, func(r *Record) error { return r.MarkPayoutFailed("x", "y", nil) }, StatusPayoutFailed, true},
		{"unpaid", StatusDebitOK, func(r *Record) error { return r.MarkRecordedUnpaid("PAYEE_DETAILS_MISSING", "no bank") }, StatusRecordedUnpaid, true},

		{"payout before debit", StatusPending, func(r *Record) error { return r.MarkPayoutInitiated("p1", "pending") }, StatusPending, false},
		{"debit twice", StatusDebitOK, func(r *Record) error { return r.MarkDebited("d2") }, StatusDebitOK, false},
		{"success is final", StatusSuccess, func(r *Record) error { return r.MarkPayoutFailed("x", "y", nil) }, StatusSuccess, false},
		{"failed payout is final", StatusPayoutFailed, func(r *Record) error { return r.MarkSucceeded("", "success") }, StatusPayoutFailed, false},
		{"unpaid is final", StatusRecordedUnpaid, func(r *Record) error { return r.MarkPayoutInitiated("p1", "pending") }, StatusRecordedUnpaid, false},
		{"debit failure is final", StatusDebitFailed, func(r *Record) error { return r.MarkDebited("d1") }, StatusDebitFailed, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := newTestRecord(t, tt.from)
			err := tt.mark(rec)
			if tt.ok && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !tt.ok && !errors.Is(err, ErrInvalidTransition) {
				t.Fatalf("err = %v, want ErrInvalidTransition", err)
			}
			if rec.Status != tt.want {
				t.Errorf("status = %s, want %s", rec.Status, tt.want)
			}
		})
	}
}

func TestRecordSplitInvariant(t *testing.T) {
	rec := newTestRecord(t, StatusPending)
	sum, err := rec.PlatformCharge.Add(rec.VendorAmount)
	if err != nil {
		t.Fatal(err)
	}
	if sum.AmountMinor != rec.GrossAmount.AmountMinor {
		t.Errorf("charge + vendor = %d, gross = %d", sum.AmountMinor, rec.GrossAmount.AmountMinor)
	}
}

func TestMarkSucceededSetsSettledAt(t *testing.T) {
	rec := newTestRecord(t, StatusDebitOK)
	if err := rec.MarkSucceeded("p1", "success"); err != nil {
		t.Fatal(err)
	}
	if rec.SettledAt == nil || rec.PayoutReference != "p1" || !rec.IsTerminal() || !rec.Captured() {
		t.Errorf("record = %+v", rec)
	}
}

func TestItemGross(t *testing.T) {
	priced := Item{Purpose: PurposeTicket, Reference: "t1", UnitPrice: money.Kobo(250000)}
	if got, _ := priced.Gross(3, money.Money{}); got.AmountMinor != 750000 {
		t.Errorf("priced gross = %d", got.AmountMinor)
	}
	if got, _ := priced.Gross(0, money.Kobo(1)); got.AmountMinor != 250000 {
		t.Errorf("copies default = %d", got.AmountMinor)
	}

	open := Item{Purpose: PurposeScan2Pay, Reference: "qr"}
	if got, _ := open.Gross(0, money.Kobo(8000)); got.AmountMinor != 8000 {
		t.Errorf("open gross = %d", got.AmountMinor)
	}
	if _, err := open.Gross(0, money.Money{}); !errors.Is(err, fee.ErrInvalidAmount) {
		t.Errorf("err = %v", err)
	}
}

func TestRecipientMatches(t *testing.T) {
	var none *Recipient
	payee := Payee{VendorID: "v", AccountNumber: "1", BankCode: "058"}
	if none.Matches(payee) {
		t.Error("nil recipient matched")
	}
	r := &Recipient{RecipientCode: "RCP", AccountNumber: "1", BankCode: "058"}
	if !r.Matches(payee) {
		t.Error("expected match")
	}
	payee.BankCode = "011"
	if r.Matches(payee) {
		t.Error("changed bank should not match")
	}
}

func TestStoredFailure(t *testing.T) {
	payoutFailed := newTestRecord(t, StatusPayoutFailed)
	payoutFailed.ErrorCode = "91"
	payoutFailed.ErrorMessage = "issuer unavailable"
	err := StoredFailure(payoutFailed)
	if !errors.Is(err, ErrPayoutFailed) || errors.Is(err, providers.ErrProviderUnavailable) {
		t.Errorf("payout failed: %v", err)
	}

	outage := newTestRecord(t, StatusDebitFailed)
	outage.ErrorCode = "PROVIDER_UNAVAILABLE"
	err = StoredFailure(outage)
	if !errors.Is(err, ErrDebitFailed) || !errors.Is(err, providers.ErrProviderUnavailable) {
		t.Errorf("debit outage: %v", err)
	}

	if err := StoredFailure(newTestRecord(t, StatusSuccess)); err != nil {
		t.Errorf("success: %v", err)
	}
}
