package settlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"golang.org/x/crypto/bcrypt"

	"payplatform/internal/common/events"
	"payplatform/internal/common/middleware"
	"payplatform/internal/common/money"
	"payplatform/internal/fee"
	"payplatform/internal/notify"
	"payplatform/internal/providers"
)

// Config holds settlement configuration.
type Config struct {
	PlatformAccountNumber string `envconfig:"PLATFORM_ACCOUNT_NUMBER" required:"true"`
	PlatformAccountName   string `envconfig:"PLATFORM_ACCOUNT_NAME" default:"PayPlatform Collections"`
	PlatformBankCode      string `envconfig:"PLATFORM_BANK_CODE" default:"214001"`
	// VendorBankCode routes payouts to vendors' provider-issued virtual accounts.
	VendorBankCode       string `envconfig:"VENDOR_BANK_CODE" default:"214001"`
	CallbackURL          string `envconfig:"CHECKOUT_CALLBACK_URL"`
	WalletProvider       string `envconfig:"WALLET_PROVIDER" default:"rova"`
	TicketWalletProvider string `envconfig:"TICKET_WALLET_PROVIDER" default:"paygateplus"`
	CheckoutProvider     string `envconfig:"CHECKOUT_PROVIDER" default:"paystack"`

	ReconcileInterval time.Duration `envconfig:"RECONCILE_INTERVAL" default:"1m"`
	ReconcileAfter    time.Duration `envconfig:"RECONCILE_AFTER" default:"2m"`
	ReconcileBatch    int           `envconfig:"RECONCILE_BATCH" default:"50"`
}

// Directory resolves the parties of a settlement.
type Directory interface {
	Payer(ctx context.Context, userID string) (Payer, error)
	// Payee returns the vendor behind an item. A payee without bank details is not an error.
	Payee(ctx context.Context, purpose Purpose, purposeReference string) (Payee, error)
}

// Notifier sends receipts and operator alerts without blocking.
type Notifier interface {
	SendReceipt(ctx context.Context, r notify.Receipt)
	SendOperatorAlert(ctx context.Context, a notify.Alert)
}

// Service orchestrates settlement across providers.
type Service struct {
	store     Store
	directory Directory
	publisher events.Publisher
	notifier  Notifier
	metrics   *Metrics
	config    Config
	logger    *slog.Logger

	wallets  map[Purpose]providers.Transferrer
	checkout providers.Checkout
}

// NewService creates a settlement service. publisher, notifier and metrics may be nil.
func NewService(store Store, directory Directory, publisher events.Publisher, notifier Notifier, metrics *Metrics, cfg Config, logger *slog.Logger) *Service {
	return &Service{
		store:     store,
		directory: directory,
		publisher: publisher,
		notifier:  notifier,
		metrics:   metrics,
		config:    cfg,
		logger:    logger,
		wallets:   make(map[Purpose]providers.Transferrer),
	}
}

// SetWallet sets the provider used for debit-then-payout settlement of purpose.
func (s *Service) SetWallet(purpose Purpose, t providers.Transferrer) { s.wallets[purpose] = t }

// SetCheckout sets the provider used for charge-verify-payout settlement.
func (s *Service) SetCheckout(c providers.Checkout) { s.checkout = c }

// Intent is an accepted checkout request. It is immutable once settlement begins.
type Intent struct {
	Item       Item
	Gross      money.Money
	Copies     int
	PayerName  string
	PayerEmail string
	// ExternalReference is the idempotency key. A fresh one is generated when empty.
	ExternalReference string
}

// DebitRequest starts debit-then-payout settlement from an authenticated payer's wallet.
type DebitRequest struct {
	Intent  Intent
	PayerID string
	PIN     string
	// SourceAccount overrides the payer's virtual account.
	SourceAccount string
	Phone         string
	// Payee is the destination of a PurposeTransfer. Other purposes resolve it from the directory.
	Payee *Payee
}

// CheckoutRequest starts a hosted checkout.
type CheckoutRequest struct {
	Intent  Intent
	PayerID string
	Guest   bool
}

// TransferDetails tells a guest where to send a bank transfer.
type TransferDetails struct {
	AccountNumber string      `json:"account_number"`
	AccountName   string      `json:"account_name"`
	BankCode      string      `json:"bank_code"`
	Amount        money.Money `json:"amount"`
}

// ChargeSession is a started hosted checkout. No record exists until it is verified.
type ChargeSession struct {
	Reference        string
	AuthorizationURL string
	AccessCode       string
	Split            fee.Split
	TransferDetails  *TransferDetails
}

// Outcome is the result of a settlement attempt.
type Outcome struct {
	Record           *Record
	AlreadyProcessed bool
	// Caveat is set when the payment was captured but the vendor is not paid yet.
	Caveat string
}

const (
	codePayeeMissing    = "PAYEE_DETAILS_MISSING"
	codeBelowCharge     = "AMOUNT_BELOW_CHARGE"
	summaryPayeeMissing = "payment recorded without payout, vendor has no bank details"
)

const (
	caveatUnpaid       = "Payment received. The vendor payout is pending manual settlement."
	caveatPayoutFailed = "Payment received. The vendor payout failed and is pending manual resolution."
)

const (
	metaPurpose    = "purpose"
	metaPurposeRef = "purpose_reference"
	metaTitle      = "title"
	metaLabel      = "label"
	metaCopies     = "copies"
	metaPayerID    = "payer_id"
	metaPayerName  = "payer_name"
	metaPayerEmail = "payer_email"
)

// DebitAndPayout debits the payer into the platform account, then pays the vendor
// its share. Nothing is debited unless the PIN matches and the vendor can be paid.
func (s *Service) DebitAndPayout(ctx context.Context, req DebitRequest) (*Outcome, error) {
	in := req.Intent
	wallet, ok := s.wallets[in.Item.Purpose]
	if !ok {
		return nil, fmt.Errorf("%w: no wallet provider for %s", ErrProviderNotConfigured, in.Item.Purpose)
	}

	payer, err := s.directory.Payer(ctx, req.PayerID)
	if err != nil {
		return nil, fmt.Errorf("loading payer %s: %w", req.PayerID, err)
	}
	if err := checkPIN(payer.PinHash, req.PIN); err != nil {
		return nil, err
	}

	source := req.SourceAccount
	if source == "" {
		source = payer.AccountNumber
	}
	if source == "" {
		return nil, ErrSourceAccountMissing
	}

	payee, err := s.debitPayee(ctx, in.Item, req.Payee)
	if err != nil {
		return nil, err
	}
	if !payee.Complete() {
		return nil, fmt.Errorf("%w: vendor %q", ErrPayeeDetailsMissing, payee.VendorID)
	}

	split, err := fee.Compute(in.Gross)
	if err != nil {
		return nil, err
	}

	// Client keys are scoped to the payer so one user's key never matches another's record.
	externalRef := uuid.NewString()
	if in.ExternalReference != "" {
		externalRef = payer.ID + ":" + in.ExternalReference
	}
	if out, err := s.existing(ctx, externalRef); err != nil || out != nil {
		return out, err
	}

	if in.PayerName == "" {
		in.PayerName = payer.FullName()
	}
	if in.PayerEmail == "" {
		in.PayerEmail = payer.Email
	}
	rec := s.newRecord(ProtocolDebitPayout, wallet.Name(), externalRef, split, StatusPending, in)
	rec.PayerID = payer.ID
	rec.VendorID = payee.VendorID
	if err := s.create(ctx, rec); err != nil {
		if errors.Is(err, ErrDuplicateReference) {
			return s.alreadyProcessed(ctx, externalRef)
		}
		return nil, err
	}

	customer := providers.Customer{
		ID:        payer.ID,
		FirstName: payer.FirstName,
		LastName:  payer.LastName,
		Email:     in.PayerEmail,
		Phone:     firstNonEmpty(req.Phone, payer.Phone),
	}

	debitRef := uuid.NewString()
	debit, err := wallet.Transfer(ctx, providers.TransferRequest{
		Reference:           debitRef,
		Amount:              split.Gross,
		SourceAccount:       source,
		DestinationAccount:  s.config.PlatformAccountNumber,
		DestinationBankCode: s.config.PlatformBankCode,
		Narration:           debitNarration(in.Item),
		Customer:            customer,
		Metadata:            map[string]string{"reference_id": rec.ReferenceID},
	})
	// Once the debit call has returned, the record must reach a persisted state.
	ctx = context.WithoutCancel(ctx)
	if err == nil && debit.Status != providers.StatusSuccess {
		err = providers.Rejected(wallet.Name(), "DEBIT_NOT_CONFIRMED", "debit reported "+string(debit.Status), debit.Raw)
	}
	rec.DebitReference = debitRef
	if err != nil {
		if markErr := rec.MarkDebitFailed(providers.ErrorCode(err), err.Error(), providers.ErrorPayload(err)); markErr != nil {
			return nil, markErr
		}
		if saveErr := s.save(ctx, rec, StatusPending); saveErr != nil {
			return nil, saveErr
		}
		s.logger.Warn("payer debit failed",
			"reference_id", rec.ReferenceID,
			"provider", wallet.Name(),
			"error", err,
		)
		return &Outcome{Record: rec}, fmt.Errorf("%w: %w", ErrDebitFailed, err)
	}

	if err := rec.MarkDebited(debitRef); err != nil {
		return nil, err
	}
	if err := s.save(ctx, rec, StatusPending); err != nil {
		return nil, err
	}

	payoutRef := uuid.NewString()
	res, err := wallet.Transfer(ctx, providers.TransferRequest{
		Reference:           payoutRef,
		Amount:              rec.VendorAmount,
		SourceAccount:       s.config.PlatformAccountNumber,
		DestinationAccount:  payee.AccountNumber,
		DestinationBankCode: payee.BankCode,
		Narration:           payoutNarration(in.Item),
		Customer:            customer,
		Metadata:            map[string]string{"reference_id": rec.ReferenceID},
	})
	return s.finishPayout(ctx, wallet, rec, payoutRef, res, err)
}

// InitializeCharge starts a hosted checkout for the intent. The intent travels in the
// charge metadata and is read back by VerifyAndPayout.
func (s *Service) InitializeCharge(ctx context.Context, req CheckoutRequest) (*ChargeSession, error) {
	if s.checkout == nil {
		return nil, fmt.Errorf("%w: no checkout provider", ErrProviderNotConfigured)
	}
	in := req.Intent

	split, err := fee.Compute(in.Gross)
	if err != nil {
		return nil, err
	}

	reference := in.ExternalReference
	if reference == "" {
		reference = uuid.NewString()
	}

	res, err := s.checkout.Charge(ctx, providers.ChargeRequest{
		Reference:   reference,
		Amount:      split.Gross,
		Email:       in.PayerEmail,
		CallbackURL: s.config.CallbackURL,
		Metadata:    intentMetadata(in, req.PayerID),
	})
	if err != nil {
		return nil, fmt.Errorf("initializing charge: %w", err)
	}
	if res.Reference == "" {
		res.Reference = reference
	}

	session := &ChargeSession{
		Reference:        res.Reference,
		AuthorizationURL: res.AuthorizationURL,
		AccessCode:       res.AccessCode,
		Split:            split,
	}
	if req.Guest {
		session.TransferDetails = &TransferDetails{
			AccountNumber: s.config.PlatformAccountNumber,
			AccountName:   s.config.PlatformAccountName,
			BankCode:      s.config.PlatformBankCode,
			Amount:        split.Gross,
		}
	}

	s.logger.Info("checkout initialized",
		"external_reference", session.Reference,
		"purpose", in.Item.Purpose,
		"purpose_reference", in.Item.Reference,
		"amount", split.Gross.AmountMinor,
	)
	return session, nil
}

// VerifyAndPayout verifies a hosted checkout charge and pays the vendor. It is
// idempotent per external reference: the record insert is the claim, and callers
// that lose the race get the stored outcome.
func (s *Service) VerifyAndPayout(ctx context.Context, externalRef string) (*Outcome, error) {
	if s.checkout == nil {
		return nil, fmt.Errorf("%w: no checkout provider", ErrProviderNotConfigured)
	}
	if out, err := s.existing(ctx, externalRef); err != nil || out != nil {
		return out, err
	}

	verified, err := s.checkout.Verify(ctx, externalRef)
	if err != nil {
		return nil, fmt.Errorf("verifying charge %s: %w", externalRef, err)
	}
	if verified.Status != providers.StatusSuccess {
		return nil, fmt.Errorf("%w: %s is %s", ErrChargeNotSuccessful, externalRef, verified.Status)
	}

	ctx = context.WithoutCancel(ctx)

	split, splitErr := fee.Compute(verified.AmountPaid)
	if splitErr != nil {
		if !verified.AmountPaid.IsPositive() {
			s.alert(ctx, nil, "verified charge reports no amount paid", map[string]string{
				"external_reference": externalRef,
				"amount_paid":        verified.AmountPaid.String(),
			})
			return nil, splitErr
		}
		// Captured money below the charge is held in full and recorded unpaid.
		split = fee.Split{
			Gross:          verified.AmountPaid,
			PlatformCharge: verified.AmountPaid,
			VendorAmount:   money.New(0, verified.AmountPaid.Currency),
		}
	}

	rec := s.newRecord(ProtocolChargeVerifyPayout, s.checkout.Name(), externalRef, split, StatusDebitOK, intentFromMetadata(verified.Metadata))
	rec.DebitReference = firstNonEmpty(verified.Reference, externalRef)
	rec.PayerID = verified.Metadata[metaPayerID]
	if rec.PayerEmail == "" {
		rec.PayerEmail = verified.CustomerEmail
		rec.Metadata[metaPayerEmail] = verified.CustomerEmail
	}
	if err := s.create(ctx, rec); err != nil {
		if errors.Is(err, ErrDuplicateReference) {
			return s.alreadyProcessed(ctx, externalRef)
		}
		return nil, err
	}
	if splitErr != nil {
		return s.recordUnpaid(ctx, rec, codeBelowCharge, splitErr.Error(), "verified charge does not cover the platform charge")
	}

	payee, err := s.payee(ctx, rec.Purpose, rec.PurposeReference)
	if err != nil {
		return s.recordUnpaid(ctx, rec, codePayeeMissing, err.Error(), summaryPayeeMissing)
	}
	rec.VendorID = payee.VendorID
	if !payee.Complete() {
		return s.recordUnpaid(ctx, rec, codePayeeMissing, fmt.Sprintf("%s: vendor %q", ErrPayeeDetailsMissing, payee.VendorID), summaryPayeeMissing)
	}

	code, err := s.recipientCode(ctx, payee)
	if err != nil {
		return s.failPayout(ctx, rec, "", err)
	}
	rec.RecipientCode = code

	payoutRef := uuid.NewString()
	res, err := s.checkout.Transfer(ctx, providers.TransferRequest{
		Reference:     payoutRef,
		Amount:        rec.VendorAmount,
		RecipientCode: code,
		Narration:     payoutNarration(Item{Purpose: rec.Purpose, Title: rec.Metadata[metaTitle], Label: rec.Metadata[metaLabel]}),
		Metadata:      map[string]string{"reference_id": rec.ReferenceID},
	})
	return s.finishPayout(ctx, s.checkout, rec, payoutRef, res, err)
}

// ApplyChargeConfirmation flags the record for a signed charge-success callback. It never
// starts a payout; a callback for a charge not yet verified is a no-op.
func (s *Service) ApplyChargeConfirmation(ctx context.Context, externalRef string) error {
	rec, err := s.store.FindByExternalReference(ctx, externalRef)
	if errors.Is(err, ErrNotFound) {
		s.logger.Info("charge confirmation for unknown reference", "external_reference", externalRef)
		return nil
	}
	if err != nil {
		return err
	}
	if rec.WebhookVerified {
		return nil
	}
	return s.store.MarkWebhookVerified(ctx, rec.ID)
}

// ApplyTransferOutcome settles a PAYOUT_INITIATED record from a provider report.
func (s *Service) ApplyTransferOutcome(ctx context.Context, payoutRef string, res providers.TransferResult) error {
	rec, err := s.store.FindByPayoutReference(ctx, payoutRef)
	if errors.Is(err, ErrNotFound) {
		s.logger.Info("transfer outcome for unknown payout", "payout_reference", payoutRef)
		return nil
	}
	if err != nil {
		return err
	}
	_, err = s.settlePayout(ctx, rec, res)
	return err
}

// RefreshPayout polls the provider for a PAYOUT_INITIATED record. It reports whether
// the record moved.
func (s *Service) RefreshPayout(ctx context.Context, rec *Record) (bool, error) {
	if rec.Status != StatusPayoutInitiated || rec.PayoutReference == "" {
		return false, nil
	}
	t := s.transferrer(rec.Provider)
	if t == nil {
		return false, fmt.Errorf("%w: %s", ErrProviderNotConfigured, rec.Provider)
	}
	res, err := t.FetchTransferStatus(ctx, rec.PayoutReference)
	if err != nil {
		return false, fmt.Errorf("fetching payout %s: %w", rec.PayoutReference, err)
	}
	return s.settlePayout(ctx, rec, res)
}

// Get returns a record by its client-facing reference.
func (s *Service) Get(ctx context.Context, referenceID string) (*Record, error) {
	return s.store.FindByReferenceID(ctx, referenceID)
}

// finishPayout persists the result of a payout call. A pending payout on a
// checkout provider is polled once for an immediate answer.
func (s *Service) finishPayout(ctx context.Context, t providers.Transferrer, rec *Record, payoutRef string, res providers.TransferResult, callErr error) (*Outcome, error) {
	from := rec.Status
	rec.PayoutReference = payoutRef

	if callErr == nil && res.Status == providers.StatusFailed {
		callErr = providers.Rejected(t.Name(), "PAYOUT_FAILED", res.Message, res.Raw)
	}
	if callErr != nil {
		return s.failPayout(ctx, rec, payoutRef, callErr)
	}

	var err error
	if res.Status == providers.StatusSuccess {
		err = rec.MarkSucceeded(payoutRef, string(res.Status))
	} else {
		err = rec.MarkPayoutInitiated(payoutRef, string(res.Status))
	}
	if err != nil {
		return nil, err
	}
	if err := s.save(ctx, rec, from); err != nil {
		return nil, err
	}

	if rec.Status == StatusPayoutInitiated && rec.Protocol == ProtocolChargeVerifyPayout {
		status, err := t.FetchTransferStatus(ctx, payoutRef)
		if err != nil {
			s.logger.Warn("payout status poll failed", "reference_id", rec.ReferenceID, "error", err)
		} else if _, err := s.settlePayout(ctx, rec, status); err != nil {
			s.logger.Warn("applying polled payout status", "reference_id", rec.ReferenceID, "error", err)
		}
	}

	s.logger.Info("settlement payout submitted",
		"reference_id", rec.ReferenceID,
		"status", rec.Status,
		"payout_reference", payoutRef,
		"vendor_amount", rec.VendorAmount.AmountMinor,
	)
	s.sendReceipt(ctx, rec, "")
	return &Outcome{Record: rec}, nil
}

func (s *Service) failPayout(ctx context.Context, rec *Record, payoutRef string, cause error) (*Outcome, error) {
	from := rec.Status
	if payoutRef != "" {
		rec.PayoutReference = payoutRef
	}
	if err := rec.MarkPayoutFailed(providers.ErrorCode(cause), cause.Error(), providers.ErrorPayload(cause)); err != nil {
		return nil, err
	}
	if err := s.save(ctx, rec, from); err != nil {
		return nil, err
	}
	s.alert(ctx, rec, "vendor payout failed", map[string]string{"error": cause.Error()})
	s.sendReceipt(ctx, rec, caveatPayoutFailed)
	return &Outcome{Record: rec, Caveat: caveatPayoutFailed}, fmt.Errorf("%w: %w", ErrPayoutFailed, cause)
}

func (s *Service) recordUnpaid(ctx context.Context, rec *Record, code, reason, summary string) (*Outcome, error) {
	if err := rec.MarkRecordedUnpaid(code, reason); err != nil {
		return nil, err
	}
	if err := s.save(ctx, rec, StatusDebitOK); err != nil {
		return nil, err
	}
	s.alert(ctx, rec, summary, map[string]string{"reason": reason})
	s.sendReceipt(ctx, rec, caveatUnpaid)
	return &Outcome{Record: rec, Caveat: caveatUnpaid}, nil
}

// settlePayout moves a PAYOUT_INITIATED record to its final state. A record already
// moved by a concurrent caller is left alone.
func (s *Service) settlePayout(ctx context.Context, rec *Record, res providers.TransferResult) (bool, error) {
	if rec.Status != StatusPayoutInitiated {
		return false, nil
	}
	from := rec.Status

	switch res.Status {
	case providers.StatusSuccess:
		if err := rec.MarkSucceeded("", string(res.Status)); err != nil {
			return false, err
		}
	case providers.StatusFailed:
		msg := firstNonEmpty(res.Message, "provider reported payout failed")
		if err := rec.MarkPayoutFailed("PAYOUT_REPORTED_FAILED", msg, res.Raw); err != nil {
			return false, err
		}
	default:
		return false, nil
	}

	if err := s.save(ctx, rec, from); err != nil {
		if errors.Is(err, ErrInvalidTransition) {
			return false, nil
		}
		return false, err
	}
	if rec.Status == StatusPayoutFailed {
		s.alert(ctx, rec, "vendor payout reported failed by provider", map[string]string{"message": rec.ErrorMessage})
	}
	return true, nil
}

func (s *Service) recipientCode(ctx context.Context, payee Payee) (string, error) {
	provider := s.checkout.Name()
	existing, err := s.store.GetRecipient(ctx, payee.VendorID, provider)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return "", fmt.Errorf("loading payout recipient: %w", err)
	}
	if existing.Matches(payee) {
		return existing.RecipientCode, nil
	}

	code, err := s.checkout.CreatePayoutRecipient(ctx, providers.RecipientRequest{
		Name:          payee.Name,
		AccountNumber: payee.AccountNumber,
		BankCode:      payee.BankCode,
		Currency:      money.NGN,
	})
	if err != nil {
		return "", fmt.Errorf("registering payout recipient: %w", err)
	}

	recipient := &Recipient{
		VendorID:      payee.VendorID,
		Provider:      provider,
		AccountNumber: payee.AccountNumber,
		BankCode:      payee.BankCode,
		DisplayName:   payee.Name,
		RecipientCode: code,
	}
	if err := s.store.SaveRecipient(ctx, recipient); err != nil {
		s.logger.Warn("failed to cache payout recipient", "vendor_id", payee.VendorID, "error", err)
	}
	return code, nil
}

// debitPayee returns the request's destination for a transfer and the directory's
// vendor or organizer otherwise.
func (s *Service) debitPayee(ctx context.Context, item Item, explicit *Payee) (Payee, error) {
	if item.Purpose != PurposeTransfer {
		return s.payee(ctx, item.Purpose, item.Reference)
	}
	if explicit == nil {
		return Payee{}, fmt.Errorf("%w: transfer has no destination", ErrPayeeDetailsMissing)
	}
	p := *explicit
	if p.VendorID == "" && p.AccountNumber != "" && p.BankCode != "" {
		p.VendorID = p.BankCode + "/" + p.AccountNumber
	}
	return p, nil
}

func (s *Service) payee(ctx context.Context, purpose Purpose, reference string) (Payee, error) {
	p, err := s.directory.Payee(ctx, purpose, reference)
	if err != nil {
		return Payee{}, fmt.Errorf("resolving payee for %s %s: %w", purpose, reference, err)
	}
	if purpose == PurposeScan2Pay && p.AccountNumber != "" && p.BankCode == "" {
		p.BankCode = s.config.VendorBankCode
	}
	return p, nil
}

func (s *Service) transferrer(provider string) providers.Transferrer {
	if s.checkout != nil && s.checkout.Name() == provider {
		return s.checkout
	}
	for _, w := range s.wallets {
		if w.Name() == provider {
			return w
		}
	}
	return nil
}

func (s *Service) existing(ctx context.Context, externalRef string) (*Outcome, error) {
	rec, err := s.store.FindByExternalReference(ctx, externalRef)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("checking external reference: %w", err)
	}
	s.logger.Info("settlement already processed",
		"external_reference", externalRef,
		"reference_id", rec.ReferenceID,
		"status", rec.Status,
	)
	return &Outcome{Record: rec, AlreadyProcessed: true}, nil
}

func (s *Service) alreadyProcessed(ctx context.Context, externalRef string) (*Outcome, error) {
	out, err := s.existing(ctx, externalRef)
	if err != nil {
		return nil, err
	}
	if out == nil {
		return nil, fmt.Errorf("%w: %s vanished after duplicate insert", ErrNotFound, externalRef)
	}
	return out, nil
}

func (s *Service) newRecord(protocol Protocol, provider, externalRef string, split fee.Split, status Status, in Intent) *Record {
	rec := NewRecord(ulid.Make().String(), ulid.Make().String(), externalRef, protocol, provider, split, status)
	rec.Purpose = in.Item.Purpose
	rec.PurposeReference = in.Item.Reference
	rec.PayerName = in.PayerName
	rec.PayerEmail = in.PayerEmail
	for k, v := range intentMetadata(in, "") {
		rec.Metadata[k] = v
	}
	return rec
}

func (s *Service) create(ctx context.Context, rec *Record) error {
	if err := s.store.Create(ctx, rec); err != nil {
		return err
	}
	s.metrics.observe(rec)
	s.publish(ctx, events.SettlementCreated, rec)
	s.logger.Info("settlement record created",
		"reference_id", rec.ReferenceID,
		"external_reference", rec.ExternalReference,
		"protocol", rec.Protocol,
		"status", rec.Status,
		"gross", rec.GrossAmount.AmountMinor,
		"platform_charge", rec.PlatformCharge.AmountMinor,
	)
	return nil
}

var statusEvents = map[Status]string{
	StatusDebitFailed:     events.SettlementDebitFailed,
	StatusPayoutInitiated: events.SettlementPayoutInitiated,
	StatusSuccess:         events.SettlementSucceeded,
	StatusPayoutFailed:    events.SettlementPayoutFailed,
	StatusRecordedUnpaid:  events.SettlementRecordedUnpaid,
}

func (s *Service) save(ctx context.Context, rec *Record, from Status) error {
	if err := s.store.Transition(ctx, rec, from); err != nil {
		s.logger.Error("failed to persist settlement transition",
			"reference_id", rec.ReferenceID,
			"from", from,
			"to", rec.Status,
			"error", err,
		)
		return fmt.Errorf("persisting %s -> %s: %w", from, rec.Status, err)
	}
	s.metrics.observe(rec)
	if eventType, ok := statusEvents[rec.Status]; ok {
		s.publish(ctx, eventType, rec)
	}
	return nil
}

func (s *Service) publish(ctx context.Context, eventType string, rec *Record) {
	if s.publisher == nil {
		return
	}
	event, err := events.NewEvent(eventType, events.AggregateSettlement, rec.ID, events.SettlementData{
		ReferenceID:       rec.ReferenceID,
		ExternalReference: rec.ExternalReference,
		Protocol:          string(rec.Protocol),
		Provider:          rec.Provider,
		Purpose:           string(rec.Purpose),
		Status:            string(rec.Status),
		GrossAmount:       rec.GrossAmount.AmountMinor,
		PlatformCharge:    rec.PlatformCharge.AmountMinor,
		VendorAmount:      rec.VendorAmount.AmountMinor,
		Currency:          string(rec.GrossAmount.Currency),
		VendorID:          rec.VendorID,
		PayoutReference:   rec.PayoutReference,
		ErrorCode:         rec.ErrorCode,
	})
	if err != nil {
		s.logger.Error("failed to build settlement event", "error", err)
		return
	}
	event.WithCorrelation(middleware.GetCorrelationID(ctx))
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.Warn("failed to publish settlement event", "type", eventType, "reference_id", rec.ReferenceID, "error", err)
	}
}

func (s *Service) alert(ctx context.Context, rec *Record, summary string, fields map[string]string) {
	if s.notifier == nil {
		return
	}
	if fields == nil {
		fields = make(map[string]string)
	}
	a := notify.Alert{Summary: summary, Fields: fields}
	if rec != nil {
		a.ReferenceID = rec.ReferenceID
		a.Fields["external_reference"] = rec.ExternalReference
		a.Fields["status"] = string(rec.Status)
		a.Fields["vendor_id"] = rec.VendorID
		a.Fields["vendor_amount"] = rec.VendorAmount.String()
		if rec.ErrorCode != "" {
			a.Fields["error_code"] = rec.ErrorCode
		}
	}
	s.notifier.SendOperatorAlert(ctx, a)
}

func (s *Service) sendReceipt(ctx context.Context, rec *Record, caveat string) {
	if s.notifier == nil || rec.PayerEmail == "" {
		return
	}
	kind := notify.ReceiptScan2Pay
	switch rec.Purpose {
	case PurposeTicket:
		kind = notify.ReceiptTicket
	case PurposeTransfer:
		kind = notify.ReceiptTransfer
	}
	copies, _ := strconv.Atoi(rec.Metadata[metaCopies])
	s.notifier.SendReceipt(ctx, notify.Receipt{
		Kind:           kind,
		To:             rec.PayerEmail,
		Name:           rec.PayerName,
		ReferenceID:    rec.ReferenceID,
		Title:          rec.Metadata[metaTitle],
		Label:          rec.Metadata[metaLabel],
		Copies:         copies,
		Gross:          rec.GrossAmount,
		PlatformCharge: rec.PlatformCharge,
		VendorAmount:   rec.VendorAmount,
		Caveat:         caveat,
	})
}

func checkPIN(hash, pin string) error {
	if hash == "" || pin == "" {
		return ErrUnauthorized
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(pin)); err != nil {
		return ErrUnauthorized
	}
	return nil
}

func intentMetadata(in Intent, payerID string) map[string]string {
	m := map[string]string{
		metaPurpose:    string(in.Item.Purpose),
		metaPurposeRef: in.Item.Reference,
		metaTitle:      in.Item.Title,
		metaLabel:      in.Item.Label,
		metaPayerName:  in.PayerName,
		metaPayerEmail: in.PayerEmail,
	}
	if in.Copies > 0 {
		m[metaCopies] = strconv.Itoa(in.Copies)
	}
	if payerID != "" {
		m[metaPayerID] = payerID
	}
	return m
}

func intentFromMetadata(m map[string]string) Intent {
	copies, _ := strconv.Atoi(m[metaCopies])
	return Intent{
		Item: Item{
			Purpose:   Purpose(m[metaPurpose]),
			Reference: m[metaPurposeRef],
			Title:     m[metaTitle],
			Label:     m[metaLabel],
		},
		Copies:     copies,
		PayerName:  m[metaPayerName],
		PayerEmail: m[metaPayerEmail],
	}
}

func debitNarration(item Item) string {
	switch item.Purpose {
	case PurposeTicket:
		return providers.Narration("Ticket-" + item.Title)
	case PurposeTransfer:
		return providers.Narration(firstNonEmpty(item.Label, defaultTransferNarration))
	}
	return providers.Narration("Scan2Pay-" + item.Label)
}

func payoutNarration(item Item) string {
	switch item.Purpose {
	case PurposeTicket:
		return providers.Narration("Payout-" + item.Title)
	case PurposeTransfer:
		return providers.Narration(firstNonEmpty(item.Label, defaultTransferNarration))
	}
	return providers.Narration("Payout-" + item.Label)
}

const defaultTransferNarration = "Internal Transfer"

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
