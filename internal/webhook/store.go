package webhook

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/oklog/ulid/v2"

	"payplatform/internal/common/database"
)

// Store appends accepted callbacks.
type Store interface {
	// Record stores e and reports whether it was new. Redelivered events return false.
	Record(ctx context.Context, e *Event) (bool, error)
	// Forget removes e so a redelivery is applied again.
	Forget(ctx context.Context, e *Event) error
}

// PostgresStore implements Store on the webhook_events table.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) Record(ctx context.Context, e *Event) (bool, error) {
	query := `
		INSERT INTO webhook_events (id, provider, event_id, event_type, reference, payload)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (provider, event_id) DO NOTHING`

	tag, err := s.pool.Exec(ctx, query,
		ulid.Make().String(), e.Provider, e.ID, e.Type, database.NullString(e.Reference), []byte(e.Payload),
	)
	if err != nil {
		return false, fmt.Errorf("recording webhook event: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) Forget(ctx context.Context, e *Event) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM webhook_events WHERE provider = $1 AND event_id = $2`, e.Provider, e.ID)
	if err != nil {
		return fmt.Errorf("forgetting webhook event: %w", err)
	}
	return nil
}
