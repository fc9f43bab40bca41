package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/sorcerlabs/auctionflow/internal/apperrors"
	"github.com/sorcerlabs/auctionflow/internal/handlers/render"
	"github.com/sorcerlabs/auctionflow/internal/handlers/userctx"
	"github.com/sorcerlabs/auctionflow/internal/logger"
)

func handleBalance(creditService creditService, l logger.Logger) http.Handler {
	type response struct {
		Current        int64 `json:"current"`
		TotalPurchased int64 `json:"total_purchased"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := userctx.FromContext(r.Context())
		if !ok {
			render.ServiceError(w, "Internal service error", http.StatusInternalServerError)
			return
		}

		balance, err := creditService.GetBalance(r.Context(), user.ID)

		switch {
		case err == nil:
			render.JSON(w, response{balance.Current, balance.TotalPurchased})
		case errors.Is(err, apperrors.ErrNoLedger):
			// No batches yet still reads as a zero balance
			render.JSON(w, response{0, 0})
		default:
			l.Error("Failed to get balance", "error", err)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
		}
	})
}

func handleTopUp(creditService creditService, l logger.Logger) http.Handler {
	type request struct {
		UserID        uuid.UUID `json:"user_id" validate:"required"`
		Amount        int64     `json:"amount" validate:"required,min=1"`
		Description   string    `json:"description" validate:"required"`
		ExpiresInDays int       `json:"expires_in_days" validate:"min=0"`
	}
	type response struct {
		BatchID   uuid.UUID  `json:"batch_id"`
		Amount    int64      `json:"amount"`
		ExpiresAt *time.Time `json:"expires_at,omitempty"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, err := render.BindAndValidate[request](w, r)
		if err != nil {
			return
		}

		batch, err := creditService.TopUp(r.Context(), data.UserID, data.Amount, data.Description, data.ExpiresInDays)

		switch {
		case err == nil:
			render.JSONWithStatus(w, response{batch.ID, batch.Amount, batch.ExpiresAt}, http.StatusCreated)
		case errors.Is(err, apperrors.ErrAmountInvalid):
			render.ServiceError(w, "Amount must be positive", http.StatusUnprocessableEntity)
		case errors.Is(err, apperrors.ErrUserNotFound):
			render.ServiceError(w, "User not found", http.StatusNotFound)
		default:
			l.Error("Failed to top up credits", "error", err, "user_id", data.UserID)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
		}
	})
}

func handleListTransactions(creditService creditService, l logger.Logger) http.Handler {
	type transaction struct {
		ID          uuid.UUID `json:"id"`
		Type        string    `json:"type"`
		Amount      int64     `json:"amount"`
		Description string    `json:"description"`
		CreatedAt   time.Time `json:"created_at"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := userctx.FromContext(r.Context())
		if !ok {
			render.ServiceError(w, "Internal service error", http.StatusInternalServerError)
			return
		}

		types := r.URL.Query()["type"]

		list, err := creditService.ListTransactions(r.Context(), user.ID, types)

		switch err {
		case nil:
			transactions := make([]transaction, 0, len(list))
			for _, tr := range list {
				transactions = append(transactions, transaction{
					ID:          tr.ID,
					Type:        tr.Type,
					Amount:      tr.Amount,
					Description: tr.Description,
					CreatedAt:   tr.CreatedAt,
				})
			}
			render.JSON(w, transactions)
		default:
			l.Error("Failed to list transactions", "error", err)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
		}
	})
}

func handleListSettings(settingService settingService, l logger.Logger) http.Handler {
	type setting struct {
		Name      string    `json:"name"`
		Value     int64     `json:"value"`
		UpdatedBy string    `json:"updated_by,omitempty"`
		UpdatedAt time.Time `json:"updated_at"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		list, err := settingService.List(r.Context())

		switch err {
		case nil:
			settings := make([]setting, 0, len(list))
			for _, s := range list {
				settings = append(settings, setting{s.Name, s.Value, s.UpdatedBy, s.UpdatedAt})
			}
			render.JSON(w, settings)
		default:
			l.Error("Failed to list credit settings", "error", err)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
		}
	})
}

func handlePutSetting(settingService settingService, l logger.Logger) http.Handler {
	type request struct {
		Value int64 `json:"value" validate:"min=0"`
	}
	type response struct {
		Name      string    `json:"name"`
		Value     int64     `json:"value"`
		UpdatedBy string    `json:"updated_by"`
		UpdatedAt time.Time `json:"updated_at"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := userctx.FromContext(r.Context())
		if !ok {
			render.ServiceError(w, "Internal service error", http.StatusInternalServerError)
			return
		}

		name := r.PathValue("name")

		data, err := render.BindAndValidate[request](w, r)
		if err != nil {
			return
		}

		saved, err := settingService.Put(r.Context(), name, data.Value, user.Email)

		switch err {
		case nil:
			render.JSON(w, response{saved.Name, saved.Value, saved.UpdatedBy, saved.UpdatedAt})
		default:
			l.Error("Failed to update credit setting", "error", err, "setting", name)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
		}
	})
}

func handleExpireCredits(creditService creditService, l logger.Logger) http.Handler {
	type response struct {
		ExpiredBatches int `json:"expired_batches"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		count, err := creditService.ExpireStaleBatches(r.Context(), time.Now())

		switch err {
		case nil:
			l.Info("Expired stale credit batches", "count", count)
			render.JSON(w, response{ExpiredBatches: count})
		default:
			l.Error("Failed to expire credit batches", "error", err)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
		}
	})
}
