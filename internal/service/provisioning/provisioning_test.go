package provisioning_test

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/require"

	"github.com/sorcerlabs/auctionflow/internal/apperrors"
	"github.com/sorcerlabs/auctionflow/internal/logger"
	"github.com/sorcerlabs/auctionflow/internal/models"
	"github.com/sorcerlabs/auctionflow/internal/repository"
	"github.com/sorcerlabs/auctionflow/internal/repository/postgres"
	"github.com/sorcerlabs/auctionflow/internal/service/provisioning"
	"github.com/sorcerlabs/auctionflow/internal/testutil"
)

const webhookSecret = "whsec_test"

func TestProvisioningService(t *testing.T) {
	pg := testutil.StartPostgresContainer(t)
	t.Cleanup(pg.Terminate)

	withService := func(t *testing.T, fn func(store repository.Storage, service *provisioning.Service, user models.User)) {
		testutil.InTx(pg.Pool, t, func(tx pgx.Tx) {
			store := postgres.NewStorage(tx)
			verifier := provisioning.NewSignatureVerifier(webhookSecret)
			service := provisioning.NewService(store, verifier, logger.NewNoOpLogger())

			user, err := store.User().CreateUser(t.Context(), models.User{
				Name: "Buyer", Email: "buyer@test.io", Role: models.RoleAdmin, IsActive: true,
			})
			require.NoError(t, err)

			fn(store, service, user)
		})
	}

	settlementEvent := func(eventID string, sessionID string, user models.User, credits int64) provisioning.SettlementEvent {
		var event provisioning.SettlementEvent
		event.ID = eventID
		event.Type = "checkout.session.completed"
		event.Data.Object.ID = sessionID
		event.Data.Object.AmountTotal = 2500
		event.Data.Object.Metadata.UserID = user.ID.String()
		event.Data.Object.Metadata.Credits = fmt.Sprint(credits)
		return event
	}

	signedPayload := func(t *testing.T, event provisioning.SettlementEvent) ([]byte, string) {
		t.Helper()
		payload, err := json.Marshal(event)
		require.NoError(t, err)
		return payload, provisioning.NewSignatureVerifier(webhookSecret).Sign(payload, time.Now())
	}

	t.Run("ReconcilePayment", func(t *testing.T) {
		t.Run("applies a completed checkout once", func(t *testing.T) {
			withService(t, func(store repository.Storage, service *provisioning.Service, user models.User) {
				payload, header := signedPayload(t, settlementEvent("evt_1", "cs_1", user, 50))

				outcome, err := service.ReconcilePayment(t.Context(), payload, header)
				require.NoError(t, err)
				require.True(t, outcome.Applied)
				require.Equal(t, user.ID, outcome.UserID)
				require.EqualValues(t, 50, outcome.Credits)

				balance, err := store.Credit().GetBalance(t.Context(), user.ID)
				require.NoError(t, err)
				require.EqualValues(t, 50, balance.Current)

				// A redelivery of the same event changes nothing
				outcome, err = service.ReconcilePayment(t.Context(), payload, header)
				require.NoError(t, err)
				require.False(t, outcome.Applied)

				balance, err = store.Credit().GetBalance(t.Context(), user.ID)
				require.NoError(t, err)
				require.EqualValues(t, 50, balance.Current)

				topups, err := store.Credit().ListTransactions(t.Context(), user.ID, []string{models.TransactionTypeTopUp})
				require.NoError(t, err)
				require.Len(t, topups, 1)
				require.Contains(t, topups[0].Description, "cs_1")
				require.Contains(t, topups[0].Description, "$25.00")
			})
		})

		t.Run("rejects a bad signature", func(t *testing.T) {
			withService(t, func(store repository.Storage, service *provisioning.Service, user models.User) {
				payload, _ := signedPayload(t, settlementEvent("evt_1", "cs_1", user, 50))
				forged := provisioning.NewSignatureVerifier("whsec_other").Sign(payload, time.Now())

				_, err := service.ReconcilePayment(t.Context(), payload, forged)
				require.ErrorIs(t, err, apperrors.ErrSignatureInvalid)
			})
		})

		t.Run("ignores unhandled event types", func(t *testing.T) {
			withService(t, func(store repository.Storage, service *provisioning.Service, user models.User) {
				event := settlementEvent("evt_1", "cs_1", user, 50)
				event.Type = "invoice.paid"
				payload, header := signedPayload(t, event)

				outcome, err := service.ReconcilePayment(t.Context(), payload, header)
				require.NoError(t, err)
				require.False(t, outcome.Applied)

				_, err = store.Credit().GetBalance(t.Context(), user.ID)
				require.ErrorIs(t, err, apperrors.ErrNoLedger)
			})
		})

		t.Run("rejects unusable metadata", func(t *testing.T) {
			withService(t, func(store repository.Storage, service *provisioning.Service, user models.User) {
				event := settlementEvent("evt_1", "cs_1", user, 50)
				event.Data.Object.Metadata.Credits = "0"
				payload, header := signedPayload(t, event)

				_, err := service.ReconcilePayment(t.Context(), payload, header)
				require.ErrorIs(t, err, apperrors.ErrAmountInvalid)
			})
		})
	})

	t.Run("VerifyCheckout", func(t *testing.T) {
		t.Run("tops up when the webhook has not landed", func(t *testing.T) {
			withService(t, func(store repository.Storage, service *provisioning.Service, user models.User) {
				event := settlementEvent("evt_1", "cs_1", user, 50)

				outcome, err := service.VerifyCheckout(t.Context(), event)
				require.NoError(t, err)
				require.True(t, outcome.Applied)

				// Second check of the same session finds the transaction
				outcome, err = service.VerifyCheckout(t.Context(), event)
				require.NoError(t, err)
				require.False(t, outcome.Applied)

				balance, err := store.Credit().GetBalance(t.Context(), user.ID)
				require.NoError(t, err)
				require.EqualValues(t, 50, balance.Current)
			})
		})

		t.Run("skips a session the webhook already applied", func(t *testing.T) {
			withService(t, func(store repository.Storage, service *provisioning.Service, user models.User) {
				payload, header := signedPayload(t, settlementEvent("evt_1", "cs_1", user, 50))
				_, err := service.ReconcilePayment(t.Context(), payload, header)
				require.NoError(t, err)

				outcome, err := service.VerifyCheckout(t.Context(), settlementEvent("evt_1", "cs_1", user, 50))
				require.NoError(t, err)
				require.False(t, outcome.Applied)

				balance, err := store.Credit().GetBalance(t.Context(), user.ID)
				require.NoError(t, err)
				require.EqualValues(t, 50, balance.Current)
			})
		})

		t.Run("deduplicates on the session id, not the paid amount", func(t *testing.T) {
			withService(t, func(store repository.Storage, service *provisioning.Service, user models.User) {
				payload, header := signedPayload(t, settlementEvent("evt_1", "cs_1", user, 50))
				_, err := service.ReconcilePayment(t.Context(), payload, header)
				require.NoError(t, err)

				// The return page re-checks the session without amount_total
				retrieved := settlementEvent("evt_1", "cs_1", user, 50)
				retrieved.Data.Object.AmountTotal = 0

				outcome, err := service.VerifyCheckout(t.Context(), retrieved)
				require.NoError(t, err)
				require.False(t, outcome.Applied)

				topups, err := store.Credit().ListTransactions(t.Context(), user.ID, []string{models.TransactionTypeTopUp})
				require.NoError(t, err)
				require.Len(t, topups, 1)
			})
		})

		t.Run("blocks the webhook for a session verified first", func(t *testing.T) {
			withService(t, func(store repository.Storage, service *provisioning.Service, user models.User) {
				_, err := service.VerifyCheckout(t.Context(), settlementEvent("evt_1", "cs_1", user, 50))
				require.NoError(t, err)

				payload, header := signedPayload(t, settlementEvent("evt_2", "cs_1", user, 50))
				outcome, err := service.ReconcilePayment(t.Context(), payload, header)
				require.NoError(t, err)
				require.False(t, outcome.Applied)

				balance, err := store.Credit().GetBalance(t.Context(), user.ID)
				require.NoError(t, err)
				require.EqualValues(t, 50, balance.Current)
			})
		})

		t.Run("rejects a session without an id", func(t *testing.T) {
			withService(t, func(store repository.Storage, service *provisioning.Service, user models.User) {
				_, err := service.VerifyCheckout(t.Context(), settlementEvent("evt_1", "", user, 50))
				require.ErrorIs(t, err, apperrors.ErrSessionInvalid)
			})
		})
	})

	t.Run("GrantTrialIfEligible", func(t *testing.T) {
		t.Run("grants the default once", func(t *testing.T) {
			withService(t, func(store repository.Storage, service *provisioning.Service, user models.User) {
				batch, err := service.GrantTrialIfEligible(t.Context(), user.ID, 0)
				require.NoError(t, err)
				require.EqualValues(t, 100, batch.Amount)

				_, err = service.GrantTrialIfEligible(t.Context(), user.ID, 0)
				require.ErrorIs(t, err, apperrors.ErrTrialAlreadyGranted)

				balance, err := store.Credit().GetBalance(t.Context(), user.ID)
				require.NoError(t, err)
				require.EqualValues(t, 100, balance.Current)
			})
		})

		t.Run("requested amount wins over the default", func(t *testing.T) {
			withService(t, func(store repository.Storage, service *provisioning.Service, user models.User) {
				batch, err := service.GrantTrialIfEligible(t.Context(), user.ID, 25)
				require.NoError(t, err)
				require.EqualValues(t, 25, batch.Amount)
			})
		})

		t.Run("setting overrides the built-in default", func(t *testing.T) {
			withService(t, func(store repository.Storage, service *provisioning.Service, user models.User) {
				_, err := store.Setting().Put(t.Context(), models.SettingTrialCreditsAmount, 40, "ops")
				require.NoError(t, err)

				batch, err := service.GrantTrialIfEligible(t.Context(), user.ID, 0)
				require.NoError(t, err)
				require.EqualValues(t, 40, batch.Amount)
			})
		})

		t.Run("a purchase does not block the trial", func(t *testing.T) {
			withService(t, func(store repository.Storage, service *provisioning.Service, user models.User) {
				payload, header := signedPayload(t, settlementEvent("evt_1", "cs_1", user, 50))
				_, err := service.ReconcilePayment(t.Context(), payload, header)
				require.NoError(t, err)

				batch, err := service.GrantTrialIfEligible(t.Context(), user.ID, 0)
				require.NoError(t, err)
				require.EqualValues(t, 100, batch.Amount)
			})
		})

		t.Run("unknown user", func(t *testing.T) {
			withService(t, func(store repository.Storage, service *provisioning.Service, user models.User) {
				_, err := service.GrantTrialIfEligible(t.Context(), uuid.New(), 0)
				require.ErrorIs(t, err, apperrors.ErrUserNotFound)
			})
		})
	})

	t.Run("ProvisionTrialUser", func(t *testing.T) {
		t.Run("creates an inactive trial admin", func(t *testing.T) {
			withService(t, func(store repository.Storage, service *provisioning.Service, user models.User) {
				created, err := service.ProvisionTrialUser(t.Context(), "new@test.io", "New Admin")
				require.NoError(t, err)

				require.Equal(t, "new@test.io", created.Email)
				require.Equal(t, "New Admin", created.Name)
				require.Equal(t, models.RoleAdmin, created.Role)
				require.False(t, created.IsActive)
				require.True(t, created.IsTrial)
			})
		})

		t.Run("defaults the name", func(t *testing.T) {
			withService(t, func(store repository.Storage, service *provisioning.Service, user models.User) {
				created, err := service.ProvisionTrialUser(t.Context(), "new@test.io", "")
				require.NoError(t, err)
				require.Equal(t, "Trial User", created.Name)
			})
		})

		t.Run("returns the existing user untouched", func(t *testing.T) {
			withService(t, func(store repository.Storage, service *provisioning.Service, user models.User) {
				got, err := service.ProvisionTrialUser(t.Context(), user.Email, "Someone Else")
				require.NoError(t, err)
				require.Equal(t, user.ID, got.ID)
				require.Equal(t, user.Name, got.Name)
				require.True(t, got.IsActive)
			})
		})
	})
}
