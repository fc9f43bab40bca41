package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/sorcerlabs/auctionflow/internal/apperrors"
	"github.com/sorcerlabs/auctionflow/internal/models"
)

type CreditRepo struct {
	DB DBTX
}

const createBatch = `-- name: CreateBatch
INSERT INTO credit_batches (id, user_id, amount, remaining, created_at, expires_at)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING id, user_id, amount, remaining, created_at, expires_at
`

func (r *CreditRepo) CreateBatch(ctx context.Context, batch models.CreditBatch) (models.CreditBatch, error) {
	if batch.ID == uuid.Nil {
		batch.ID = uuid.New()
	}
	if batch.CreatedAt.IsZero() {
		batch.CreatedAt = time.Now()
	}

	rows, _ := r.DB.Query(ctx, createBatch,
		batch.ID, batch.UserID, batch.Amount, batch.Remaining, batch.CreatedAt, batch.ExpiresAt,
	)
	created, err := pgx.CollectOneRow(rows, rowToBatch)
	if err != nil {
		return created, fmt.Errorf("db error: %w", err)
	}

	return created, nil
}

// Deduction order: the batch that would be lost to expiration soonest goes
// first, never-expiring batches last, ties broken by age. FOR UPDATE keeps
// concurrent deducts and the expiration job from interleaving on the same
// batch set.
const listActiveBatchesForUpdate = `-- name: ListActiveBatchesForUpdate
SELECT id, user_id, amount, remaining, created_at, expires_at FROM credit_batches
WHERE user_id = $1
  AND remaining > 0
  AND (expires_at IS NULL OR expires_at > $2)
ORDER BY expires_at ASC NULLS LAST, created_at ASC
FOR UPDATE
`

func (r *CreditRepo) ListActiveBatchesForUpdate(ctx context.Context, userID uuid.UUID, now time.Time) ([]models.CreditBatch, error) {
	rows, _ := r.DB.Query(ctx, listActiveBatchesForUpdate, userID, now)
	batches, err := pgx.CollectRows(rows, rowToBatch)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	return batches, nil
}

const listExpiredBatchesForUpdate = `-- name: ListExpiredBatchesForUpdate
SELECT id, user_id, amount, remaining, created_at, expires_at FROM credit_batches
WHERE expires_at < $1 AND remaining > 0
ORDER BY expires_at ASC
FOR UPDATE
`

func (r *CreditRepo) ListExpiredBatchesForUpdate(ctx context.Context, now time.Time) ([]models.CreditBatch, error) {
	rows, _ := r.DB.Query(ctx, listExpiredBatchesForUpdate, now)
	batches, err := pgx.CollectRows(rows, rowToBatch)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	return batches, nil
}

const setBatchRemaining = `-- name: SetBatchRemaining
UPDATE credit_batches
SET remaining = $2
WHERE id = $1
`

func (r *CreditRepo) SetBatchRemaining(ctx context.Context, batchID uuid.UUID, remaining int64) error {
	tag, err := r.DB.Exec(ctx, setBatchRemaining, batchID, remaining)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrBatchNotFound
	}

	return nil
}

// Current counts active batches only; total_purchased counts every grant ever
// made. The filter lives in the aggregate so an expired-but-not-yet-zeroed
// batch never shows up in current.
const getBalance = `-- name: GetBalance
SELECT
	COALESCE(SUM(remaining) FILTER (WHERE remaining > 0 AND (expires_at IS NULL OR expires_at > now())), 0) AS current,
	COALESCE(SUM(amount), 0) AS total_purchased,
	COUNT(*) AS batches
FROM credit_batches
WHERE user_id = $1
`

func (r *CreditRepo) GetBalance(ctx context.Context, userID uuid.UUID) (models.Balance, error) {
	var b models.Balance
	var batches int64

	err := r.DB.QueryRow(ctx, getBalance, userID).Scan(&b.Current, &b.TotalPurchased, &batches)
	if err != nil {
		return b, fmt.Errorf("db error: %w", err)
	}
	if batches == 0 {
		return models.Balance{}, apperrors.ErrNoLedger
	}

	return b, nil
}

const createTransaction = `-- name: CreateTransaction
INSERT INTO credit_transactions (id, user_id, transaction_type, amount, description, created_at)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING id, user_id, transaction_type, amount, description, created_at
`

func (r *CreditRepo) CreateTransaction(ctx context.Context, t models.CreditTransaction) (models.CreditTransaction, error) {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}

	rows, _ := r.DB.Query(ctx, createTransaction,
		t.ID, t.UserID, t.Type, t.Amount, t.Description, t.CreatedAt,
	)
	created, err := pgx.CollectOneRow(rows, rowToTransaction)
	if err != nil {
		return created, fmt.Errorf("db error: %w", err)
	}

	return created, nil
}

const listTransactions = `-- name: ListTransactions
SELECT id, user_id, transaction_type, amount, description, created_at FROM credit_transactions
WHERE user_id = $1
  AND ($2::text[] IS NULL OR transaction_type = ANY($2))
ORDER BY created_at DESC
`

func (r *CreditRepo) ListTransactions(ctx context.Context, userID uuid.UUID, types []string) ([]models.CreditTransaction, error) {
	rows, _ := r.DB.Query(ctx, listTransactions, userID, types)
	transactions, err := pgx.CollectRows(rows, rowToTransaction)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	return transactions, nil
}

const hasTrialTopUp = `-- name: HasTrialTopUp
SELECT EXISTS (
	SELECT 1 FROM credit_transactions
	WHERE user_id = $1
	  AND transaction_type = 'topup'
	  AND description LIKE '%' || $2 || '%'
)
`

func (r *CreditRepo) HasTrialTopUp(ctx context.Context, userID uuid.UUID) (bool, error) {
	var exists bool
	err := r.DB.QueryRow(ctx, hasTrialTopUp, userID, models.TrialTag).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}

	return exists, nil
}

func rowToBatch(row pgx.CollectableRow) (models.CreditBatch, error) {
	var b models.CreditBatch
	err := row.Scan(&b.ID, &b.UserID, &b.Amount, &b.Remaining, &b.CreatedAt, &b.ExpiresAt)
	return b, err
}

func rowToTransaction(row pgx.CollectableRow) (models.CreditTransaction, error) {
	var t models.CreditTransaction
	err := row.Scan(&t.ID, &t.UserID, &t.Type, &t.Amount, &t.Description, &t.CreatedAt)
	return t, err
}
