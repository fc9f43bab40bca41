package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/google/uuid"

	"github.com/sorcerlabs/auctionflow/internal/apperrors"
	"github.com/sorcerlabs/auctionflow/internal/handlers/render"
	"github.com/sorcerlabs/auctionflow/internal/logger"
	"github.com/sorcerlabs/auctionflow/internal/service/provisioning"
)

// SignatureHeader carries the gateway's HMAC over the webhook payload.
const SignatureHeader = "Stripe-Signature"

func handlePaymentWebhook(provisionService provisionService, l logger.Logger) http.Handler {
	type response struct {
		Received bool `json:"received"`
		Applied  bool `json:"applied"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// The signature covers the raw bytes, decode only after verifying
		r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
		payload, err := io.ReadAll(r.Body)
		if err != nil {
			render.ServiceError(w, "Failed to read request body", http.StatusBadRequest)
			return
		}

		outcome, err := provisionService.ReconcilePayment(r.Context(), payload, r.Header.Get(SignatureHeader))

		switch {
		case err == nil:
			render.JSON(w, response{Received: true, Applied: outcome.Applied})
		case errors.Is(err, apperrors.ErrSignatureInvalid):
			render.ServiceError(w, "Invalid signature", http.StatusUnauthorized)
		case errors.Is(err, apperrors.ErrAmountInvalid), errors.Is(err, apperrors.ErrSessionInvalid):
			render.ServiceError(w, "Malformed event metadata", http.StatusBadRequest)
		default:
			// 5xx so the gateway redelivers the event
			l.Error("Failed to reconcile payment event", "error", err)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
		}
	})
}

func handleVerifyCheckout(provisionService provisionService, l logger.Logger) http.Handler {
	type response struct {
		Applied bool  `json:"applied"`
		Credits int64 `json:"credits"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		event, err := render.BindAndValidate[provisioning.SettlementEvent](w, r)
		if err != nil {
			return
		}

		outcome, err := provisionService.VerifyCheckout(r.Context(), event)

		switch {
		case err == nil:
			render.JSON(w, response{Applied: outcome.Applied, Credits: outcome.Credits})
		case errors.Is(err, apperrors.ErrAmountInvalid), errors.Is(err, apperrors.ErrSessionInvalid):
			render.ServiceError(w, "Malformed session metadata", http.StatusBadRequest)
		default:
			l.Error("Failed to verify checkout session", "error", err)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
		}
	})
}

func handleProvisionTrial(provisionService provisionService, l logger.Logger) http.Handler {
	type request struct {
		Email   string `json:"email" validate:"required,email"`
		Name    string `json:"name"`
		Credits int64  `json:"credits" validate:"min=0"`
	}
	type response struct {
		UserID  uuid.UUID `json:"user_id"`
		Granted bool      `json:"granted"`
		Credits int64     `json:"credits,omitempty"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, err := render.BindAndValidate[request](w, r)
		if err != nil {
			return
		}

		user, err := provisionService.ProvisionTrialUser(r.Context(), data.Email, data.Name)
		if err != nil {
			l.Error("Failed to provision trial user", "error", err, "email", data.Email)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
			return
		}

		batch, err := provisionService.GrantTrialIfEligible(r.Context(), user.ID, data.Credits)

		switch {
		case err == nil:
			render.JSONWithStatus(w, response{UserID: user.ID, Granted: true, Credits: batch.Amount}, http.StatusCreated)
		case errors.Is(err, apperrors.ErrTrialAlreadyGranted):
			render.JSON(w, response{UserID: user.ID, Granted: false})
		default:
			l.Error("Failed to grant trial credits", "error", err, "user_id", user.ID)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
		}
	})
}
