package apperrors

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	ErrUserAlreadyExists = errors.New("user already exists")
	ErrRoleInvalid       = errors.New("role is not part of the role set")
	ErrUserNotFound      = errors.New("user not found")
	ErrUserInactive      = errors.New("user is not active")

	// Distinguishes "has zero credits" from "never had a ledger at all"
	ErrNoLedger = errors.New("user has no credit ledger")

	ErrAmountInvalid       = errors.New("credit amount must be a positive integer")
	ErrInsufficientCredits = errors.New("insufficient credits")
	ErrBatchNotFound       = errors.New("credit batch not found")
	ErrSettingNotFound     = errors.New("credit setting not found")

	ErrItemNotFound      = errors.New("auction item not found")
	ErrURLInvalid        = errors.New("url does not match any allowed pattern")
	ErrStatusInvalid     = errors.New("unknown item status")
	ErrTransitionInvalid = errors.New("status transition is not allowed")
	ErrNotMultipleItems  = errors.New("item is not marked as a multiple-item lot")
	ErrSubItemCount      = errors.New("sub-item count must be at least 2")

	ErrSignatureInvalid      = errors.New("event signature is invalid")
	ErrSessionInvalid        = errors.New("settlement event carries no checkout session id")
	ErrEventAlreadyProcessed = errors.New("settlement event already processed")
	ErrTrialAlreadyGranted   = errors.New("trial credits already granted")
)

// ConflictError reports a duplicate URL submission and carries the id of the
// already existing item so the caller can navigate to it.
type ConflictError struct {
	ItemID     uuid.UUID
	Processing bool
}

func (e *ConflictError) Error() string {
	if e.Processing {
		return fmt.Sprintf("url is already being processed by item %s", e.ItemID)
	}
	return fmt.Sprintf("url was already submitted as item %s", e.ItemID)
}

// PartialCompletion reports a sub-item fan-out that created some, but not
// all, of the requested sub-items. The fan-out is best-effort and never
// rolls back the items that were created.
type PartialCompletion struct {
	Created   int
	Requested int
	Err       error
}

func (e *PartialCompletion) Error() string {
	return fmt.Sprintf("created %d of %d sub-items: %v", e.Created, e.Requested, e.Err)
}

func (e *PartialCompletion) Unwrap() error {
	return e.Err
}
