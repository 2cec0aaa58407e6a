package settlement

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"payplatform/internal/common/events"
	"payplatform/internal/notify"
	"payplatform/internal/providers"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type memStore struct {
	mu         sync.Mutex
	records    map[string]*Record
	recipients map[string]*Recipient
	creates    int
}

func newMemStore() *memStore {
	return &memStore{records: map[string]*Record{}, recipients: map[string]*Recipient{}}
}

func clone(r *Record) *Record {
	c := *r
	c.Metadata = make(map[string]string, len(r.Metadata))
	for k, v := range r.Metadata {
		c.Metadata[k] = v
	}
	return &c
}

func (s *memStore) Create(_ context.Context, rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.records {
		if r.ExternalReference == rec.ExternalReference {
			return fmt.Errorf("%w: %s", ErrDuplicateReference, rec.ExternalReference)
		}
	}
	s.creates++
	s.records[rec.ID] = clone(rec)
	return nil
}

func (s *memStore) find(match func(*Record) bool) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.records {
		if match(r) {
			return clone(r), nil
		}
	}
	return nil, ErrNotFound
}

func (s *memStore) FindByExternalReference(_ context.Context, ref string) (*Record, error) {
	return s.find(func(r *Record) bool { return r.ExternalReference == ref })
}

func (s *memStore) FindByReferenceID(_ context.Context, ref string) (*Record, error) {
	return s.find(func(r *Record) bool { return r.ReferenceID == ref })
}

func (s *memStore) FindByPayoutReference(_ context.Context, ref string) (*Record, error) {
	return s.find(func(r *Record) bool { return r.PayoutReference == ref })
}

func (s *memStore) Transition(_ context.Context, rec *Record, from Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.records[rec.ID]
	if !ok || stored.Status != from {
		return fmt.Errorf("%w: %s", ErrInvalidTransition, rec.ID)
	}
	c := clone(rec)
	c.WebhookVerified = stored.WebhookVerified
	s.records[rec.ID] = c
	return nil
}

func (s *memStore) MarkWebhookVerified(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.records[id]; ok {
		r.WebhookVerified = true
	}
	return nil
}

func (s *memStore) ListByStatus(_ context.Context, status Status, olderThan time.Duration, limit int) ([]*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := time.Now().Add(-olderThan)
	var out []*Record
	for _, r := range s.records {
		if r.Status == status && r.UpdatedAt.Before(cutoff) && len(out) < limit {
			out = append(out, clone(r))
		}
	}
	return out, nil
}

func (s *memStore) GetRecipient(_ context.Context, vendorID, provider string) (*Recipient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.recipients[vendorID+"/"+provider]
	if !ok {
		return nil, ErrNotFound
	}
	c := *r
	return &c, nil
}

func (s *memStore) SaveRecipient(_ context.Context, r *Recipient) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *r
	s.recipients[r.VendorID+"/"+r.Provider] = &c
	return nil
}

func (s *memStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

func (s *memStore) only() *Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.records {
		return clone(r)
	}
	return nil
}

type fakeDirectory struct {
	payer  Payer
	others map[string]Payer
	payee  Payee
	err    error

	mu         sync.Mutex
	payeeCalls int
}

func (d *fakeDirectory) Payer(_ context.Context, userID string) (Payer, error) {
	if d.payer.ID == userID {
		return d.payer, nil
	}
	if p, ok := d.others[userID]; ok {
		return p, nil
	}
	return Payer{}, fmt.Errorf("user %s: %w", userID, ErrNotFound)
}

func (d *fakeDirectory) Payee(context.Context, Purpose, string) (Payee, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.payeeCalls++
	return d.payee, d.err
}

type transferCall struct {
	req providers.TransferRequest
}

// fakeTransferrer returns scripted results in call order; the last one repeats.
type fakeTransferrer struct {
	name string

	mu        sync.Mutex
	calls     []transferCall
	results   []providers.TransferResult
	errs      []error
	status    providers.TransferResult
	statusErr error
	polls     int
}

func (f *fakeTransferrer) Name() string { return f.name }

func (f *fakeTransferrer) Transfer(_ context.Context, req providers.TransferRequest) (providers.TransferResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := len(f.calls)
	f.calls = append(f.calls, transferCall{req: req})

	res := providers.TransferResult{Status: providers.StatusSuccess}
	if len(f.results) > 0 {
		res = f.results[min(i, len(f.results)-1)]
	}
	res.Reference = req.Reference
	var err error
	if len(f.errs) > 0 {
		err = f.errs[min(i, len(f.errs)-1)]
	}
	return res, err
}

func (f *fakeTransferrer) FetchTransferStatus(_ context.Context, ref string) (providers.TransferResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.polls++
	res := f.status
	res.Reference = ref
	return res, f.statusErr
}

func (f *fakeTransferrer) transfers() []transferCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]transferCall(nil), f.calls...)
}

type fakeCheckout struct {
	fakeTransferrer

	verify     providers.VerifyResult
	verifyErr  error
	verifies   int
	charges    []providers.ChargeRequest
	recipients int
}

func (f *fakeCheckout) Charge(_ context.Context, req providers.ChargeRequest) (providers.ChargeResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.charges = append(f.charges, req)
	return providers.ChargeResult{
		Reference:        req.Reference,
		AuthorizationURL: "https://checkout.example.com/" + req.Reference,
		Status:           providers.StatusPending,
	}, nil
}

func (f *fakeCheckout) Verify(_ context.Context, ref string) (providers.VerifyResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.verifies++
	v := f.verify
	v.Reference = ref
	return v, f.verifyErr
}

func (f *fakeCheckout) CreatePayoutRecipient(_ context.Context, req providers.RecipientRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recipients++
	return "RCP_" + req.AccountNumber, nil
}

type fakeNotifier struct {
	mu       sync.Mutex
	receipts []notify.Receipt
	alerts   []notify.Alert
}

func (n *fakeNotifier) SendReceipt(_ context.Context, r notify.Receipt) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.receipts = append(n.receipts, r)
}

func (n *fakeNotifier) SendOperatorAlert(_ context.Context, a notify.Alert) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.alerts = append(n.alerts, a)
}

type fakePublisher struct {
	mu    sync.Mutex
	types []string
}

func (p *fakePublisher) Publish(_ context.Context, e *events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.types = append(p.types, e.Type)
	return nil
}

type fakeLocker struct {
	held map[string]bool
}

func (l *fakeLocker) TryLock(_ context.Context, key string, _ time.Duration) (bool, func(), error) {
	if l.held[key] {
		return false, func() {}, nil
	}
	return true, func() {}, nil
}
