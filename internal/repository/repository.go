package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/sorcerlabs/auctionflow/internal/models"
)

// User directory repository
type UserRepo interface {
	// Create user
	// If user with the email exists already has to return apperrors.ErrUserAlreadyExists
	// A role outside models' role set has to return apperrors.ErrRoleInvalid
	CreateUser(ctx context.Context, user models.User) (models.User, error)

	// Get user by id or email
	// If user not found must return apperrors.ErrUserNotFound
	GetUserByID(ctx context.Context, userID uuid.UUID) (models.User, error)
	GetUserByEmail(ctx context.Context, email string) (models.User, error)

	// Lock the user row for the rest of the enclosing transaction.
	// Serializes check-then-grant sequences (trial provisioning) per user.
	LockUser(ctx context.Context, userID uuid.UUID) (models.User, error)
}

// Credit ledger repository: batches plus the append-only transaction log
type CreditRepo interface {
	CreateBatch(ctx context.Context, batch models.CreditBatch) (models.CreditBatch, error)

	// Active batches (remaining > 0, not expired at 'now') ordered by the
	// deduction policy: earliest expiration first, never-expiring last,
	// ties broken by creation time. Rows are locked FOR UPDATE so the
	// caller's read-walk-write runs serialized against concurrent deducts
	// and the expiration job.
	ListActiveBatchesForUpdate(ctx context.Context, userID uuid.UUID, now time.Time) ([]models.CreditBatch, error)

	// Batches past expiration that still hold credits, locked FOR UPDATE.
	ListExpiredBatchesForUpdate(ctx context.Context, now time.Time) ([]models.CreditBatch, error)

	// Set remaining on a batch. Returns apperrors.ErrBatchNotFound for an
	// unknown batch id.
	SetBatchRemaining(ctx context.Context, batchID uuid.UUID, remaining int64) error

	// Aggregate the user's batches. Must return apperrors.ErrNoLedger when
	// the user has no batches at all, so callers can tell "zero balance"
	// from "no account".
	GetBalance(ctx context.Context, userID uuid.UUID) (models.Balance, error)

	CreateTransaction(ctx context.Context, t models.CreditTransaction) (models.CreditTransaction, error)

	// Transactions newest first, optionally filtered by type
	ListTransactions(ctx context.Context, userID uuid.UUID, types []string) ([]models.CreditTransaction, error)

	// Whether the user ever received a trial-tagged topup
	HasTrialTopUp(ctx context.Context, userID uuid.UUID) (bool, error)
}

// ItemUpdate lists the mutable auction item fields. Nil fields are left
// untouched.
type ItemUpdate struct {
	ItemName         *string
	Status           *string
	AuctionName      *string
	LotNumber        *string
	Category         *string
	Description      *string
	Lead             *string
	SiteEstimate     *string
	AIEstimate       *string
	AIDescription    *string
	ResearchEstimate *string
	ResearchNotes    *string
	ReferenceURLs    []string
	SimilarURLs      []string
	Images           []string
	MainImageURL     *string
	AssignedTo       *string
	Priority         *string
	Notes            *string
	Tags             []string
}

// ListItemsOpts filters item listing.
type ListItemsOpts struct {
	Statuses []string
	AdminID  *uuid.UUID
	Limit    int
}

type ItemRepo interface {
	CreateItem(ctx context.Context, item models.AuctionItem) (models.AuctionItem, error)

	// If item not found must return apperrors.ErrItemNotFound
	GetItem(ctx context.Context, itemID uuid.UUID) (models.AuctionItem, error)

	// Duplicate probe scoped per owner: two owners may submit the same URL.
	// Returns apperrors.ErrItemNotFound when no item matches.
	FindByURLAndAdmin(ctx context.Context, url string, adminID uuid.UUID) (models.AuctionItem, error)

	UpdateItem(ctx context.Context, itemID uuid.UUID, update ItemUpdate) (models.AuctionItem, error)

	ListItems(ctx context.Context, opts ListItemsOpts) ([]models.AuctionItem, error)
	ListSubItems(ctx context.Context, parentID uuid.UUID) ([]models.AuctionItem, error)
}

type SettingRepo interface {
	// If setting is unknown must return apperrors.ErrSettingNotFound
	Get(ctx context.Context, name string) (models.CreditSetting, error)
	List(ctx context.Context) ([]models.CreditSetting, error)
	Put(ctx context.Context, name string, value int64, updatedBy string) (models.CreditSetting, error)
}

type WebhookEventRepo interface {
	// Record the settlement event id. A reprocessed event must return
	// apperrors.ErrEventAlreadyProcessed and leave no trace.
	Record(ctx context.Context, provider string, eventID string) error
}

// Storage bundles the repositories and the transaction boundary. InTx runs
// fn with a Storage bound to a single database transaction; returning an
// error rolls everything back.
type Storage interface {
	User() UserRepo
	Credit() CreditRepo
	Item() ItemRepo
	Setting() SettingRepo
	WebhookEvent() WebhookEventRepo

	InTx(ctx context.Context, fn func(Storage) error) error
}
