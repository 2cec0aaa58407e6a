// Package directory reads the user and catalog tables owned by the account and
// event services. It resolves payers, payees and priceable items for settlement.
package directory

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"payplatform/internal/common/database"
	"payplatform/internal/common/money"
	"payplatform/internal/settlement"
)

// ErrAccountAssigned is returned when a user already holds a virtual account.
var ErrAccountAssigned = errors.New("virtual account already assigned")

// Store implements settlement.Directory on PostgreSQL.
type Store struct {
	db *database.DB
}

// NewStore creates a directory store.
func NewStore(db *database.DB) *Store {
	return &Store{db: db}
}

// Payer loads an authenticated user's wallet identity.
func (s *Store) Payer(ctx context.Context, userID string) (settlement.Payer, error) {
	query := `
		SELECT id, first_name, last_name, email, phone, transaction_pin_hash, virtual_account_number
		FROM users WHERE id = $1`

	var p settlement.Payer
	var pinHash, account *string
	err := s.db.Pool().QueryRow(ctx, query, userID).Scan(
		&p.ID, &p.FirstName, &p.LastName, &p.Email, &p.Phone, &pinHash, &account,
	)
	if err != nil {
		return settlement.Payer{}, notFound(err, "user", userID)
	}
	p.PinHash = database.StringValue(pinHash)
	p.AccountNumber = database.StringValue(account)
	return p, nil
}

// Payee resolves the vendor paid for an item. Scan2Pay vendors are paid into their
// provider-issued virtual account; organizers into their registered payout account.
func (s *Store) Payee(ctx context.Context, purpose settlement.Purpose, reference string) (settlement.Payee, error) {
	var query string
	switch purpose {
	case settlement.PurposeScan2Pay:
		query = `
			SELECT u.id, q.business_name, u.email, u.virtual_account_number, NULL::text
			FROM vendor_qr_codes q JOIN users u ON u.id = q.vendor_id
			WHERE q.id = $1`
	case settlement.PurposeTicket:
		query = `
			SELECT u.id, TRIM(u.first_name || ' ' || u.last_name), u.email, u.payout_account_number, u.payout_bank_code
			FROM tickets t
			JOIN events e ON e.id = t.event_id
			JOIN users u ON u.id = e.organizer_id
			WHERE t.id = $1`
	default:
		return settlement.Payee{}, fmt.Errorf("unknown purpose %q: %w", purpose, settlement.ErrNotFound)
	}

	var p settlement.Payee
	var account, bank *string
	err := s.db.Pool().QueryRow(ctx, query, reference).Scan(&p.VendorID, &p.Name, &p.Email, &account, &bank)
	if err != nil {
		return settlement.Payee{}, notFound(err, string(purpose), reference)
	}
	p.AccountNumber = database.StringValue(account)
	p.BankCode = database.StringValue(bank)
	return p, nil
}

// Item loads a priceable item.
func (s *Store) Item(ctx context.Context, purpose settlement.Purpose, reference string) (settlement.Item, error) {
	item := settlement.Item{Purpose: purpose, Reference: reference}

	switch purpose {
	case settlement.PurposeScan2Pay:
		var amount *int64
		err := s.db.Pool().QueryRow(ctx,
			`SELECT business_name, label, amount_minor FROM vendor_qr_codes WHERE id = $1`, reference,
		).Scan(&item.Title, &item.Label, &amount)
		if err != nil {
			return settlement.Item{}, notFound(err, "qr code", reference)
		}
		if amount != nil {
			item.UnitPrice = money.Kobo(*amount)
		}
	case settlement.PurposeTicket:
		var price int64
		err := s.db.Pool().QueryRow(ctx, `
			SELECT e.title, t.name, t.price_minor
			FROM tickets t JOIN events e ON e.id = t.event_id
			WHERE t.id = $1`, reference,
		).Scan(&item.Title, &item.Label, &price)
		if err != nil {
			return settlement.Item{}, notFound(err, "ticket", reference)
		}
		item.UnitPrice = money.Kobo(price)
	default:
		return settlement.Item{}, fmt.Errorf("unknown purpose %q: %w", purpose, settlement.ErrNotFound)
	}
	return item, nil
}

// SetVirtualAccount stores a newly opened virtual account. A user keeps the first
// account assigned to them.
func (s *Store) SetVirtualAccount(ctx context.Context, userID, accountNumber string) error {
	return s.db.WithTx(ctx, func(tx pgx.Tx) error {
		var current *string
		err := tx.QueryRow(ctx,
			`SELECT virtual_account_number FROM users WHERE id = $1 FOR UPDATE`, userID,
		).Scan(&current)
		if err != nil {
			return notFound(err, "user", userID)
		}
		if database.StringValue(current) != "" {
			return fmt.Errorf("%w: user %s", ErrAccountAssigned, userID)
		}
		if _, err := tx.Exec(ctx,
			`UPDATE users SET virtual_account_number = $2 WHERE id = $1`, userID, accountNumber,
		); err != nil {
			return fmt.Errorf("updating virtual account: %w", err)
		}
		return nil
	})
}

func notFound(err error, kind, id string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s %s: %w", kind, id, settlement.ErrNotFound)
	}
	return fmt.Errorf("loading %s %s: %w", kind, id, err)
}
