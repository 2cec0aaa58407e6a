package settlement

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"payplatform/internal/providers"
)

func initiated(t *testing.T, h *harness, ref string) *Record {
	t.Helper()
	out, err := h.svc.VerifyAndPayout(context.Background(), ref)
	if err != nil {
		t.Fatal(err)
	}
	if out.Record.Status != StatusPayoutInitiated {
		t.Fatalf("status = %s, want PAYOUT_INITIATED", out.Record.Status)
	}
	return out.Record
}

func age(s *memStore, id string, d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[id].UpdatedAt = time.Now().Add(-d)
}

func TestReconcilerSettlesStalePayouts(t *testing.T) {
	h := newHarness(t)
	h.dir.payee.BankCode = "058"
	rec := initiated(t, h, "ref-1")
	age(h.store, rec.ID, 10*time.Minute)

	h.checkout.status = providers.TransferResult{Status: providers.StatusSuccess}
	cfg := Config{ReconcileAfter: 2 * time.Minute, ReconcileBatch: 10}
	r := NewReconciler(h.svc, h.store, &fakeLocker{}, NewMetrics(prometheus.NewRegistry()), cfg, testLogger())

	n, err := r.RunOnce(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("settled = %d, want 1", n)
	}
	if got := h.store.only(); got.Status != StatusSuccess {
		t.Errorf("status = %s", got.Status)
	}
	if len(h.checkout.transfers()) != 1 {
		t.Error("reconciler must not start payouts")
	}
}

func TestReconcilerSkipsFreshAndLocked(t *testing.T) {
	h := newHarness(t)
	h.dir.payee.BankCode = "058"
	fresh := initiated(t, h, "ref-fresh")
	locked := initiated(t, h, "ref-locked")
	age(h.store, locked.ID, time.Hour)

	h.checkout.status = providers.TransferResult{Status: providers.StatusFailed}
	locker := &fakeLocker{held: map[string]bool{"settlement:reconcile:" + locked.ID: true}}
	r := NewReconciler(h.svc, h.store, locker, nil, Config{ReconcileAfter: 2 * time.Minute}, testLogger())

	pollsBefore := h.checkout.polls
	n, err := r.RunOnce(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 || h.checkout.polls != pollsBefore {
		t.Errorf("settled = %d, polls = %d", n, h.checkout.polls-pollsBefore)
	}
	for _, ref := range []string{fresh.ReferenceID, locked.ReferenceID} {
		got, err := h.svc.Get(context.Background(), ref)
		if err != nil {
			t.Fatal(err)
		}
		if got.Status != StatusPayoutInitiated {
			t.Errorf("%s status = %s", ref, got.Status)
		}
	}
}

func TestReconcilerLeavesPendingAndFailedLookups(t *testing.T) {
	tests := []struct {
		name      string
		status    providers.TransferResult
		statusErr error
	}{
		{name: "still pending", status: providers.TransferResult{Status: providers.StatusPending}},
		{name: "lookup failed", statusErr: providers.Unavailable(providers.Paystack, "fetch transfer", context.DeadlineExceeded)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.dir.payee.BankCode = "058"
			rec := initiated(t, h, "ref-1")
			age(h.store, rec.ID, time.Hour)

			h.checkout.status = tt.status
			h.checkout.statusErr = tt.statusErr
			r := NewReconciler(h.svc, h.store, nil, nil, Config{ReconcileAfter: time.Minute}, testLogger())

			n, err := r.RunOnce(context.Background())
			if err != nil {
				t.Fatal(err)
			}
			if n != 0 {
				t.Errorf("settled = %d", n)
			}
			if got := h.store.only(); got.Status != StatusPayoutInitiated {
				t.Errorf("status = %s", got.Status)
			}
		})
	}
}

func TestReconcilerReportedFailureAlerts(t *testing.T) {
	h := newHarness(t)
	h.dir.payee.BankCode = "058"
	rec := initiated(t, h, "ref-1")
	age(h.store, rec.ID, time.Hour)

	h.checkout.status = providers.TransferResult{Status: providers.StatusFailed, Message: "account closed"}
	r := NewReconciler(h.svc, h.store, nil, nil, Config{ReconcileAfter: time.Minute}, testLogger())

	if n, err := r.RunOnce(context.Background()); err != nil || n != 1 {
		t.Fatalf("RunOnce = %d, %v", n, err)
	}
	got := h.store.only()
	if got.Status != StatusPayoutFailed || got.ErrorCode != "PAYOUT_REPORTED_FAILED" {
		t.Errorf("record = %+v", got)
	}
	if len(h.notifier.alerts) != 1 {
		t.Errorf("alerts = %d", len(h.notifier.alerts))
	}
}
