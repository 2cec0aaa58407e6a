package settlement

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"payplatform/internal/common/database"
	"payplatform/internal/common/money"
)

// Store persists settlement records and payout recipients. Uniqueness of
// external_reference is enforced by the database, not in process.
type Store interface {
	Create(ctx context.Context, rec *Record) error
	FindByExternalReference(ctx context.Context, externalReference string) (*Record, error)
	FindByReferenceID(ctx context.Context, referenceID string) (*Record, error)
	FindByPayoutReference(ctx context.Context, payoutReference string) (*Record, error)
	// Transition persists rec only if the stored status still equals from.
	Transition(ctx context.Context, rec *Record, from Status) error
	MarkWebhookVerified(ctx context.Context, id string) error
	ListByStatus(ctx context.Context, status Status, olderThan time.Duration, limit int) ([]*Record, error)

	GetRecipient(ctx context.Context, vendorID, provider string) (*Recipient, error)
	SaveRecipient(ctx context.Context, r *Recipient) error
}

// PostgresStore implements Store using PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const recordColumns = `
	id, reference_id, external_reference, protocol, provider,
	purpose, purpose_reference, payer_id, payer_name, payer_email, vendor_id,
	currency, gross_amount, platform_charge, vendor_amount, status,
	debit_reference, payout_reference, recipient_code, payout_status, webhook_verified,
	error_code, error_message, error_payload, metadata,
	created_at, updated_at, settled_at`

// Create inserts a record. A concurrent insert of the same external reference
// returns ErrDuplicateReference.
func (s *PostgresStore) Create(ctx context.Context, rec *Record) error {
	query := `INSERT INTO settlement_records (` + recordColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
			$15, $16, $17, $18, $19, $20, $21, $22, $23, $24, $25, $26, $27, $28)`

	metadata, err := json.Marshal(rec.Metadata)
	if err != nil {
		return fmt.Errorf("encoding metadata: %w", err)
	}

	_, err = s.pool.Exec(ctx, query,
		rec.ID, rec.ReferenceID, rec.ExternalReference, rec.Protocol, rec.Provider,
		rec.Purpose, rec.PurposeReference, database.NullString(rec.PayerID), database.NullString(rec.PayerName),
		database.NullString(rec.PayerEmail), database.NullString(rec.VendorID),
		rec.GrossAmount.Currency, rec.GrossAmount.AmountMinor, rec.PlatformCharge.AmountMinor, rec.VendorAmount.AmountMinor, rec.Status,
		database.NullString(rec.DebitReference), database.NullString(rec.PayoutReference),
		database.NullString(rec.RecipientCode), database.NullString(rec.PayoutStatus), rec.WebhookVerified,
		database.NullString(rec.ErrorCode), database.NullString(rec.ErrorMessage), nullJSON(rec.ErrorPayload), metadata,
		rec.CreatedAt, rec.UpdatedAt, rec.SettledAt,
	)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return fmt.Errorf("%w: %s", ErrDuplicateReference, rec.ExternalReference)
		}
		return fmt.Errorf("inserting settlement record: %w", err)
	}
	return nil
}

// FindByExternalReference looks a record up by its idempotency key.
func (s *PostgresStore) FindByExternalReference(ctx context.Context, externalReference string) (*Record, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+recordColumns+` FROM settlement_records WHERE external_reference = $1`, externalReference)
	return scanRecord(row)
}

// FindByReferenceID looks a record up by its client-facing reference.
func (s *PostgresStore) FindByReferenceID(ctx context.Context, referenceID string) (*Record, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+recordColumns+` FROM settlement_records WHERE reference_id = $1`, referenceID)
	return scanRecord(row)
}

// FindByPayoutReference looks a record up by the reference its payout was created with.
func (s *PostgresStore) FindByPayoutReference(ctx context.Context, payoutReference string) (*Record, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+recordColumns+` FROM settlement_records WHERE payout_reference = $1`, payoutReference)
	return scanRecord(row)
}

// Transition writes the mutable fields of rec guarded by the expected prior status.
func (s *PostgresStore) Transition(ctx context.Context, rec *Record, from Status) error {
	query := `
		UPDATE settlement_records SET
			status = $3, debit_reference = $4, payout_reference = $5, recipient_code = $6,
			payout_status = $7, error_code = $8, error_message = $9, error_payload = $10,
			vendor_id = $11, updated_at = $12, settled_at = $13
		WHERE id = $1 AND status = $2
	`

	tag, err := s.pool.Exec(ctx, query,
		rec.ID, from, rec.Status,
		database.NullString(rec.DebitReference), database.NullString(rec.PayoutReference),
		database.NullString(rec.RecipientCode), database.NullString(rec.PayoutStatus),
		database.NullString(rec.ErrorCode), database.NullString(rec.ErrorMessage), nullJSON(rec.ErrorPayload),
		database.NullString(rec.VendorID), rec.UpdatedAt, rec.SettledAt,
	)
	if err != nil {
		return fmt.Errorf("updating settlement record %s: %w", rec.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: record %s is no longer %s", ErrInvalidTransition, rec.ID, from)
	}
	return nil
}

// MarkWebhookVerified flags a record as confirmed by a signed provider callback.
func (s *PostgresStore) MarkWebhookVerified(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE settlement_records SET webhook_verified = TRUE, updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("marking webhook verified: %w", err)
	}
	return nil
}

// ListByStatus lists records in status last updated before olderThan ago, oldest first.
func (s *PostgresStore) ListByStatus(ctx context.Context, status Status, olderThan time.Duration, limit int) ([]*Record, error) {
	query := `SELECT ` + recordColumns + ` FROM settlement_records
		WHERE status = $1 AND updated_at < $2
		ORDER BY updated_at ASC
		LIMIT $3`

	cutoff := time.Now().Add(-olderThan)
	rows, err := s.pool.Query(ctx, query, status, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("listing %s records: %w", status, err)
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// GetRecipient returns the vendor's recipient at provider, or ErrNotFound.
func (s *PostgresStore) GetRecipient(ctx context.Context, vendorID, provider string) (*Recipient, error) {
	query := `
		SELECT vendor_id, provider, account_number, bank_code, display_name, recipient_code, created_at, updated_at
		FROM payout_recipients WHERE vendor_id = $1 AND provider = $2
	`

	var r Recipient
	var code *string
	err := s.pool.QueryRow(ctx, query, vendorID, provider).Scan(
		&r.VendorID, &r.Provider, &r.AccountNumber, &r.BankCode, &r.DisplayName, &code, &r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("loading payout recipient: %w", err)
	}
	r.RecipientCode = database.StringValue(code)
	return &r, nil
}

// SaveRecipient upserts a recipient, replacing bank details and the provider handle.
func (s *PostgresStore) SaveRecipient(ctx context.Context, r *Recipient) error {
	query := `
		INSERT INTO payout_recipients (vendor_id, provider, account_number, bank_code, display_name, recipient_code)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (vendor_id, provider) DO UPDATE SET
			account_number = EXCLUDED.account_number,
			bank_code = EXCLUDED.bank_code,
			display_name = EXCLUDED.display_name,
			recipient_code = EXCLUDED.recipient_code,
			updated_at = NOW()
	`
	_, err := s.pool.Exec(ctx, query,
		r.VendorID, r.Provider, r.AccountNumber, r.BankCode, r.DisplayName, database.NullString(r.RecipientCode))
	if err != nil {
		return fmt.Errorf("saving payout recipient: %w", err)
	}
	return nil
}

func scanRecord(row pgx.Row) (*Record, error) {
	var rec Record
	var payerID, payerName, payerEmail, vendorID *string
	var debitRef, payoutRef, recipientCode, payoutStatus *string
	var errorCode, errorMsg *string
	var currency money.Currency
	var gross, charge, vendor int64
	var errorPayload, metadata []byte

	err := row.Scan(
		&rec.ID, &rec.ReferenceID, &rec.ExternalReference, &rec.Protocol, &rec.Provider,
		&rec.Purpose, &rec.PurposeReference, &payerID, &payerName, &payerEmail, &vendorID,
		&currency, &gross, &charge, &vendor, &rec.Status,
		&debitRef, &payoutRef, &recipientCode, &payoutStatus, &rec.WebhookVerified,
		&errorCode, &errorMsg, &errorPayload, &metadata,
		&rec.CreatedAt, &rec.UpdatedAt, &rec.SettledAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scanning settlement record: %w", err)
	}

	rec.PayerID = database.StringValue(payerID)
	rec.PayerName = database.StringValue(payerName)
	rec.PayerEmail = database.StringValue(payerEmail)
	rec.VendorID = database.StringValue(vendorID)
	rec.GrossAmount = money.New(gross, currency)
	rec.PlatformCharge = money.New(charge, currency)
	rec.VendorAmount = money.New(vendor, currency)
	rec.DebitReference = database.StringValue(debitRef)
	rec.PayoutReference = database.StringValue(payoutRef)
	rec.RecipientCode = database.StringValue(recipientCode)
	rec.PayoutStatus = database.StringValue(payoutStatus)
	rec.ErrorCode = database.StringValue(errorCode)
	rec.ErrorMessage = database.StringValue(errorMsg)
	if len(errorPayload) > 0 {
		rec.ErrorPayload = json.RawMessage(errorPayload)
	}
	if err := json.Unmarshal(metadata, &rec.Metadata); err != nil {
		return nil, fmt.Errorf("decoding metadata: %w", err)
	}

	return &rec, nil
}

func nullJSON(b json.RawMessage) []byte {
	if len(b) == 0 {
		return nil
	}
	return b
}
