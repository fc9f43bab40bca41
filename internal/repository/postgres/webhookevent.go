package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/sorcerlabs/auctionflow/internal/apperrors"
)

type WebhookEventRepo struct {
	DB DBTX
}

const recordEvent = `-- name: RecordEvent
INSERT INTO webhook_events (provider, event_id)
VALUES ($1, $2)
`

// Record relies on the (provider, event_id) primary key: the second insert
// of the same key hits the unique violation, which callers use to skip the
// duplicate top-up. A concurrent insert of the same key blocks until the
// first transaction commits and then fails the same way, so two racing
// deliveries can never both apply.
func (r *WebhookEventRepo) Record(ctx context.Context, provider string, eventID string) error {
	_, err := r.DB.Exec(ctx, recordEvent, provider, eventID)

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return apperrors.ErrEventAlreadyProcessed
		}
		return fmt.Errorf("db error: %w", err)
	}

	return nil
}
