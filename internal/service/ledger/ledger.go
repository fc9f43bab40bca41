package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/sorcerlabs/auctionflow/internal/apperrors"
	"github.com/sorcerlabs/auctionflow/internal/models"
	"github.com/sorcerlabs/auctionflow/internal/repository"
)

// Service owns every balance mutation. Each mutation pairs the batch change
// with an append-only transaction row inside one database transaction, so
// the log stays a reconcilable audit trail of the balances.
type Service struct {
	storage repository.Storage
}

func NewService(storage repository.Storage) *Service {
	return &Service{storage: storage}
}

// GetBalance returns the active remainder and the all-time purchased total.
// A user without any batches gets apperrors.ErrNoLedger, not a zero balance.
func (s *Service) GetBalance(ctx context.Context, userID uuid.UUID) (models.Balance, error) {
	return s.storage.Credit().GetBalance(ctx, userID)
}

// TopUp grants a new batch of credits. expiresInDays <= 0 means the batch
// never expires.
func (s *Service) TopUp(ctx context.Context, userID uuid.UUID, amount int64, description string, expiresInDays int) (models.CreditBatch, error) {
	var batch models.CreditBatch

	if amount <= 0 {
		return batch, apperrors.ErrAmountInvalid
	}

	var expiresAt *time.Time
	if expiresInDays > 0 {
		t := time.Now().AddDate(0, 0, expiresInDays)
		expiresAt = &t
	}

	err := s.storage.InTx(ctx, func(store repository.Storage) error {
		var err error
		batch, err = store.Credit().CreateBatch(ctx, models.CreditBatch{
			UserID:    userID,
			Amount:    amount,
			Remaining: amount,
			ExpiresAt: expiresAt,
		})
		if err != nil {
			return fmt.Errorf("create batch: %w", err)
		}

		_, err = store.Credit().CreateTransaction(ctx, models.CreditTransaction{
			UserID:      userID,
			Type:        models.TransactionTypeTopUp,
			Amount:      amount,
			Description: description,
		})
		if err != nil {
			return fmt.Errorf("log topup: %w", err)
		}

		return nil
	})
	if err != nil {
		return models.CreditBatch{}, err
	}

	return batch, nil
}

// HasEnoughCredits is a pure read. A user with no ledger simply doesn't have
// enough, that is not an error.
func (s *Service) HasEnoughCredits(ctx context.Context, userID uuid.UUID, amount int64) (bool, error) {
	balance, err := s.storage.Credit().GetBalance(ctx, userID)

	switch {
	case err == nil:
		return balance.Current >= amount, nil
	case errors.Is(err, apperrors.ErrNoLedger):
		return false, nil
	default:
		return false, err
	}
}

// Deduct takes amount credits from the user's active batches, draining the
// soonest-expiring batches first so as little as possible is lost to
// expiration. The whole read-walk-write runs under row locks in one
// transaction; on apperrors.ErrInsufficientCredits nothing is touched.
// Exactly one deduction transaction is logged regardless of how many batches
// were drawn from.
func (s *Service) Deduct(ctx context.Context, userID uuid.UUID, amount int64, description string) error {
	if amount <= 0 {
		return apperrors.ErrAmountInvalid
	}

	return s.storage.InTx(ctx, func(store repository.Storage) error {
		batches, err := store.Credit().ListActiveBatchesForUpdate(ctx, userID, time.Now())
		if err != nil {
			return fmt.Errorf("lock batches: %w", err)
		}

		var available int64
		for _, b := range batches {
			available += b.Remaining
		}
		if available < amount {
			return apperrors.ErrInsufficientCredits
		}

		left := amount
		for _, b := range batches {
			if left == 0 {
				break
			}

			take := min(b.Remaining, left)
			if err := store.Credit().SetBatchRemaining(ctx, b.ID, b.Remaining-take); err != nil {
				return fmt.Errorf("drain batch %s: %w", b.ID, err)
			}
			left -= take
		}

		_, err = store.Credit().CreateTransaction(ctx, models.CreditTransaction{
			UserID:      userID,
			Type:        models.TransactionTypeDeduction,
			Amount:      amount,
			Description: description,
		})
		if err != nil {
			return fmt.Errorf("log deduction: %w", err)
		}

		return nil
	})
}

// ExpireStaleBatches zeroes every batch past its expiration and logs one
// expiration transaction per batch for the forfeited remainder. The
// remaining > 0 predicate is re-checked under lock, so running the job twice
// (or concurrently) never produces duplicate expiration rows. Returns the
// number of batches processed.
func (s *Service) ExpireStaleBatches(ctx context.Context, now time.Time) (int, error) {
	count := 0

	err := s.storage.InTx(ctx, func(store repository.Storage) error {
		batches, err := store.Credit().ListExpiredBatchesForUpdate(ctx, now)
		if err != nil {
			return fmt.Errorf("lock expired batches: %w", err)
		}

		for _, b := range batches {
			if err := store.Credit().SetBatchRemaining(ctx, b.ID, 0); err != nil {
				return fmt.Errorf("zero batch %s: %w", b.ID, err)
			}

			_, err = store.Credit().CreateTransaction(ctx, models.CreditTransaction{
				UserID:      b.UserID,
				Type:        models.TransactionTypeExpiration,
				Amount:      b.Remaining,
				Description: fmt.Sprintf("Expired credits from batch %s", b.ID),
			})
			if err != nil {
				return fmt.Errorf("log expiration for batch %s: %w", b.ID, err)
			}

			count++
		}

		return nil
	})
	if err != nil {
		return 0, err
	}

	return count, nil
}

// ListTransactions returns the user's ledger entries, newest first.
func (s *Service) ListTransactions(ctx context.Context, userID uuid.UUID, types []string) ([]models.CreditTransaction, error) {
	return s.storage.Credit().ListTransactions(ctx, userID, types)
}
