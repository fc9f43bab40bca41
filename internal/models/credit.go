package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	TransactionTypeTopUp      = "topup"
	TransactionTypeDeduction  = "deduction"
	TransactionTypeExpiration = "expiration"
)

// TrialTag marks the topup transaction created by a trial grant. Lifetime
// trial eligibility is decided by scanning for this tag, not by the current
// batch state.
const TrialTag = "trial-credits"

// CreditBatch is a single discrete grant of credits. Remaining only ever
// goes down after creation; the expiration job forces it to zero. Batches
// are never deleted, exhausted ones stay for audit.
type CreditBatch struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	Amount    int64
	Remaining int64
	CreatedAt time.Time
	ExpiresAt *time.Time // nil = never expires
}

// CreditTransaction is an immutable, append-only ledger entry. Amount is
// always a positive magnitude; the type carries the sign (topup +,
// deduction -, expiration -).
type CreditTransaction struct {
	ID          uuid.UUID
	UserID      uuid.UUID
	Type        string
	Amount      int64
	Description string
	CreatedAt   time.Time
}

// Balance is not stored, it is the aggregation of a user's batches.
type Balance struct {
	Current        int64
	TotalPurchased int64
}

// CreditSetting is a named numeric knob (cost per fetch and similar) with an
// audit trail of who touched it last.
type CreditSetting struct {
	Name      string
	Value     int64
	UpdatedBy string
	UpdatedAt time.Time
}

// Well known setting names.
const (
	SettingItemFetchCost      = "item_fetch_cost"
	SettingResearch2StageCost = "research2_stage_cost"
	SettingTrialCreditsAmount = "trial_credits_default"
)
