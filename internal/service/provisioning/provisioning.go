package provisioning

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/sorcerlabs/auctionflow/internal/apperrors"
	"github.com/sorcerlabs/auctionflow/internal/logger"
	"github.com/sorcerlabs/auctionflow/internal/models"
	"github.com/sorcerlabs/auctionflow/internal/repository"
	"github.com/sorcerlabs/auctionflow/internal/service/ledger"
)

const (
	paymentProvider = "stripe"

	// checkoutScope keys session ids in the processed-event table. The push
	// and pull paths both record under it, so a session applies once no
	// matter which path lands first.
	checkoutScope = "stripe-checkout"

	eventCheckoutCompleted = "checkout.session.completed"

	defaultTrialCredits = 100
)

// Service grants trial credits and reconciles settlement events from the
// payment gateway into ledger top-ups. Both operations are idempotent:
// trial grants are lifetime-once per user, settlement events apply once per
// event id no matter how often the gateway retries.
type Service struct {
	storage  repository.Storage
	verifier *SignatureVerifier
	logger   logger.Logger
}

func NewService(storage repository.Storage, verifier *SignatureVerifier, l logger.Logger) *Service {
	return &Service{
		storage:  storage,
		verifier: verifier,
		logger:   l,
	}
}

// SettlementEvent is the gateway's signed notification payload.
type SettlementEvent struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object struct {
			ID          string `json:"id"`
			AmountTotal int64  `json:"amount_total"` // minor units (cents)
			Metadata    struct {
				UserID  string `json:"userId"`
				Credits string `json:"credits"`
			} `json:"metadata"`
		} `json:"object"`
	} `json:"data"`
}

// ReconcileOutcome reports what a settlement delivery did.
type ReconcileOutcome struct {
	Applied bool // false when the event was a duplicate or an ignored type
	UserID  uuid.UUID
	Credits int64
}

// ReconcilePayment verifies the event signature and applies a completed
// checkout to the ledger. The event-id bookkeeping and the top-up commit
// together, so a redelivered event returns Applied=false without a second
// grant. Storage failures propagate as-is: the HTTP layer answers 5xx and
// the gateway retries.
func (s *Service) ReconcilePayment(ctx context.Context, payload []byte, sigHeader string) (ReconcileOutcome, error) {
	var outcome ReconcileOutcome

	if err := s.verifier.Verify(payload, sigHeader); err != nil {
		return outcome, err
	}

	var event SettlementEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return outcome, fmt.Errorf("malformed event payload: %w", err)
	}

	if event.Type != eventCheckoutCompleted {
		s.logger.Debug("Ignoring settlement event of unhandled type", "type", event.Type)
		return outcome, nil
	}

	userID, credits, err := checkoutMetadata(event)
	if err != nil {
		return outcome, err
	}

	description := purchaseDescription(event)

	err = s.storage.InTx(ctx, func(store repository.Storage) error {
		if err := store.WebhookEvent().Record(ctx, paymentProvider, event.ID); err != nil {
			return err
		}
		if err := store.WebhookEvent().Record(ctx, checkoutScope, event.Data.Object.ID); err != nil {
			return err
		}

		_, err := ledger.NewService(store).TopUp(ctx, userID, credits, description, 0)
		return err
	})

	switch {
	case err == nil:
		s.logger.Info("Settlement applied", "event_id", event.ID, "user_id", userID, "credits", credits)
		return ReconcileOutcome{Applied: true, UserID: userID, Credits: credits}, nil
	case errors.Is(err, apperrors.ErrEventAlreadyProcessed):
		s.logger.Info("Settlement event redelivered, skipping", "event_id", event.ID)
		return ReconcileOutcome{Applied: false, UserID: userID, Credits: credits}, nil
	default:
		return outcome, fmt.Errorf("apply settlement %s: %w", event.ID, err)
	}
}

// VerifyCheckout is the pull-based double check used by the payment return
// page: given an already retrieved, paid checkout session it tops the user
// up unless the session was already applied. Covers the window where the
// customer returns before the webhook lands. The session-id bookkeeping
// commits with the top-up, so a verify call racing the webhook (or another
// verify) yields exactly one grant.
func (s *Service) VerifyCheckout(ctx context.Context, event SettlementEvent) (ReconcileOutcome, error) {
	var outcome ReconcileOutcome

	userID, credits, err := checkoutMetadata(event)
	if err != nil {
		return outcome, err
	}

	description := purchaseDescription(event)

	err = s.storage.InTx(ctx, func(store repository.Storage) error {
		if err := store.WebhookEvent().Record(ctx, checkoutScope, event.Data.Object.ID); err != nil {
			return err
		}

		_, err := ledger.NewService(store).TopUp(ctx, userID, credits, description, 0)
		return err
	})

	switch {
	case err == nil:
		return ReconcileOutcome{Applied: true, UserID: userID, Credits: credits}, nil
	case errors.Is(err, apperrors.ErrEventAlreadyProcessed):
		return ReconcileOutcome{Applied: false, UserID: userID, Credits: credits}, nil
	default:
		return outcome, err
	}
}

// GrantTrialIfEligible grants the one-per-lifetime trial batch. Eligibility
// is decided by the transaction history, not the current batch state, and
// the scan-then-grant runs under the user row lock so two concurrent
// activation calls cannot both grant.
func (s *Service) GrantTrialIfEligible(ctx context.Context, userID uuid.UUID, requested int64) (models.CreditBatch, error) {
	var batch models.CreditBatch

	err := s.storage.InTx(ctx, func(store repository.Storage) error {
		if _, err := store.User().LockUser(ctx, userID); err != nil {
			return err
		}

		granted, err := store.Credit().HasTrialTopUp(ctx, userID)
		if err != nil {
			return err
		}
		if granted {
			return apperrors.ErrTrialAlreadyGranted
		}

		amount := requested
		if amount <= 0 {
			amount = s.trialDefault(ctx, store)
		}

		batch, err = ledger.NewService(store).TopUp(ctx, userID, amount,
			fmt.Sprintf("Welcome grant (%s)", models.TrialTag), 0)
		return err
	})
	if err != nil {
		return models.CreditBatch{}, err
	}

	s.logger.Info("Trial credits granted", "user_id", userID, "credits", batch.Amount)
	return batch, nil
}

// ProvisionTrialUser finds or creates the inactive trial admin the
// onboarding flow hands over. Existing users are returned as-is.
func (s *Service) ProvisionTrialUser(ctx context.Context, email string, name string) (models.User, error) {
	user, err := s.storage.User().GetUserByEmail(ctx, email)

	switch {
	case err == nil:
		return user, nil
	case errors.Is(err, apperrors.ErrUserNotFound):
		// fall through to creation
	default:
		return user, err
	}

	if name == "" {
		name = "Trial User"
	}

	return s.storage.User().CreateUser(ctx, models.User{
		Name:      name,
		Email:     email,
		Role:      models.RoleAdmin,
		IsActive:  false, // stays inactive until the activation link is used
		IsTrial:   true,
		CreatedBy: "onboarding-provision",
	})
}

func (s *Service) trialDefault(ctx context.Context, store repository.Storage) int64 {
	setting, err := store.Setting().Get(ctx, models.SettingTrialCreditsAmount)
	if err != nil {
		if !errors.Is(err, apperrors.ErrSettingNotFound) {
			s.logger.Warn("Failed to read trial credits setting, using default", "error", err)
		}
		return defaultTrialCredits
	}
	return setting.Value
}

func checkoutMetadata(event SettlementEvent) (uuid.UUID, int64, error) {
	if event.Data.Object.ID == "" {
		return uuid.Nil, 0, fmt.Errorf("settlement event %s: %w", event.ID, apperrors.ErrSessionInvalid)
	}

	userID, err := uuid.Parse(event.Data.Object.Metadata.UserID)
	if err != nil {
		return uuid.Nil, 0, fmt.Errorf("settlement event %s has no usable userId: %w", event.ID, err)
	}

	var credits int64
	if _, err := fmt.Sscan(event.Data.Object.Metadata.Credits, &credits); err != nil || credits <= 0 {
		return uuid.Nil, 0, fmt.Errorf("settlement event %s has no usable credits metadata: %w", event.ID, apperrors.ErrAmountInvalid)
	}

	return userID, credits, nil
}

// purchaseDescription names the session and the paid amount for the
// transaction history. Audit only: deduplication keys on the session id
// recorded in the processed-event table, never on this string.
func purchaseDescription(event SettlementEvent) string {
	description := fmt.Sprintf("Stripe purchase: %s", event.Data.Object.ID)

	if cents := event.Data.Object.AmountTotal; cents > 0 {
		paid := decimal.NewFromInt(cents).Div(decimal.NewFromInt(100))
		description = fmt.Sprintf("%s ($%s)", description, paid.StringFixed(2))
	}

	return description
}
