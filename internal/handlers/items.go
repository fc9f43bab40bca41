package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/sorcerlabs/auctionflow/internal/apperrors"
	"github.com/sorcerlabs/auctionflow/internal/handlers/render"
	"github.com/sorcerlabs/auctionflow/internal/handlers/userctx"
	"github.com/sorcerlabs/auctionflow/internal/logger"
	"github.com/sorcerlabs/auctionflow/internal/models"
	"github.com/sorcerlabs/auctionflow/internal/repository"
	"github.com/sorcerlabs/auctionflow/internal/service/workflow"
)

type itemResponse struct {
	ID       uuid.UUID `json:"id"`
	URL      string    `json:"url"`
	ItemName string    `json:"item_name"`
	Status   string    `json:"status"`

	AuctionName      string   `json:"auction_name,omitempty"`
	LotNumber        string   `json:"lot_number,omitempty"`
	SKU              string   `json:"sku,omitempty"`
	Category         string   `json:"category,omitempty"`
	Description      string   `json:"description,omitempty"`
	Lead             string   `json:"lead,omitempty"`
	SiteEstimate     string   `json:"site_estimate,omitempty"`
	AIEstimate       string   `json:"ai_estimate,omitempty"`
	AIDescription    string   `json:"ai_description,omitempty"`
	ResearchEstimate string   `json:"research_estimate,omitempty"`
	ResearchNotes    string   `json:"research_notes,omitempty"`
	ReferenceURLs    []string `json:"reference_urls,omitempty"`
	SimilarURLs      []string `json:"similar_urls,omitempty"`

	Images             []string `json:"images,omitempty"`
	MainImageURL       string   `json:"main_image_url,omitempty"`
	PhotographerImages []string `json:"photographer_images,omitempty"`
	PhotographerCount  int      `json:"photographer_count"`
	PhotographerNotes  string   `json:"photographer_notes,omitempty"`

	IsMultipleItems    bool       `json:"is_multiple_items"`
	MultipleItemsCount int        `json:"multiple_items_count"`
	ParentItemID       *uuid.UUID `json:"parent_item_id,omitempty"`
	SubItemNumber      *int       `json:"sub_item_number,omitempty"`

	AdminID    *uuid.UUID `json:"admin_id,omitempty"`
	AssignedTo string     `json:"assigned_to,omitempty"`
	Priority   string     `json:"priority"`
	Notes      string     `json:"notes,omitempty"`
	Tags       []string   `json:"tags,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func toItemResponse(item models.AuctionItem) itemResponse {
	return itemResponse{
		ID:       item.ID,
		URL:      item.URL,
		ItemName: item.ItemName,
		Status:   item.Status,

		AuctionName:      item.AuctionName,
		LotNumber:        item.LotNumber,
		SKU:              item.SKU,
		Category:         item.Category,
		Description:      item.Description,
		Lead:             item.Lead,
		SiteEstimate:     item.SiteEstimate,
		AIEstimate:       item.AIEstimate,
		AIDescription:    item.AIDescription,
		ResearchEstimate: item.ResearchEstimate,
		ResearchNotes:    item.ResearchNotes,
		ReferenceURLs:    item.ReferenceURLs,
		SimilarURLs:      item.SimilarURLs,

		Images:             item.Images,
		MainImageURL:       item.MainImageURL,
		PhotographerImages: item.PhotographerImages,
		PhotographerCount:  item.PhotographerCount,
		PhotographerNotes:  item.PhotographerNotes,

		IsMultipleItems:    item.IsMultipleItems,
		MultipleItemsCount: item.MultipleItemsCount,
		ParentItemID:       item.ParentItemID,
		SubItemNumber:      item.SubItemNumber,

		AdminID:    item.AdminID,
		AssignedTo: item.AssignedTo,
		Priority:   item.Priority,
		Notes:      item.Notes,
		Tags:       item.Tags,

		CreatedAt: item.CreatedAt,
		UpdatedAt: item.UpdatedAt,
	}
}

func toItemResponses(items []models.AuctionItem) []itemResponse {
	responses := make([]itemResponse, 0, len(items))
	for _, item := range items {
		responses = append(responses, toItemResponse(item))
	}
	return responses
}

// pathID reads the {id} path segment as uuid or writes a 404
func pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		render.ServiceError(w, "Item not found", http.StatusNotFound)
		return uuid.Nil, false
	}
	return id, true
}

func handleSubmitItem(workflowService workflowService, l logger.Logger) http.Handler {
	type request struct {
		URL string `json:"url" validate:"required,loturl"`
	}
	// Same shape as render.ErrorResponse plus the id of the item that
	// already holds the URL, so the client can link to it.
	type conflictResponse struct {
		Error   string    `json:"error"`
		Message string    `json:"message"`
		ItemID  uuid.UUID `json:"item_id"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := userctx.FromContext(r.Context())
		if !ok {
			render.ServiceError(w, "Internal service error", http.StatusInternalServerError)
			return
		}

		data, err := render.BindAndValidate[request](w, r)
		if err != nil {
			return
		}

		item, err := workflowService.SubmitURL(r.Context(), data.URL, &user)

		var conflict *apperrors.ConflictError
		switch {
		case err == nil:
			render.JSONWithStatus(w, toItemResponse(item), http.StatusAccepted)
		case errors.As(err, &conflict):
			message := "Item with this URL already exists"
			if conflict.Processing {
				message = "Item with this URL is already being processed"
			}
			render.JSONWithStatus(w, conflictResponse{
				Error:   render.ServiceErrorType,
				Message: message,
				ItemID:  conflict.ItemID,
			}, http.StatusConflict)
		case errors.Is(err, apperrors.ErrURLInvalid):
			render.ServiceError(w, "URL is not from a supported auction site", http.StatusUnprocessableEntity)
		case errors.Is(err, apperrors.ErrInsufficientCredits), errors.Is(err, apperrors.ErrNoLedger):
			render.ServiceError(w, "Insufficient credits", http.StatusPaymentRequired)
		default:
			l.Error("Failed to submit item", "error", err)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
		}
	})
}

func handleListItems(workflowService workflowService, l logger.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := userctx.FromContext(r.Context())
		if !ok {
			render.ServiceError(w, "Internal service error", http.StatusInternalServerError)
			return
		}

		opts := repository.ListItemsOpts{}
		if statuses := r.URL.Query()["status"]; len(statuses) > 0 {
			opts.Statuses = statuses
		}

		// Admins see their own submissions, production roles see everything
		if user.Role == models.RoleAdmin {
			opts.AdminID = &user.ID
		}

		items, err := workflowService.ListItems(r.Context(), opts)

		switch err {
		case nil:
			render.JSON(w, toItemResponses(items))
		default:
			l.Error("Failed to list items", "error", err)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
		}
	})
}

func handleGetItem(workflowService workflowService, l logger.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r)
		if !ok {
			return
		}

		item, err := workflowService.GetItem(r.Context(), id)

		switch {
		case err == nil:
			render.JSON(w, toItemResponse(item))
		case errors.Is(err, apperrors.ErrItemNotFound):
			render.ServiceError(w, "Item not found", http.StatusNotFound)
		default:
			l.Error("Failed to get item", "error", err, "item_id", id)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
		}
	})
}

func handleChangeStatus(workflowService workflowService, l logger.Logger) http.Handler {
	type request struct {
		Status string `json:"status" validate:"required"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := userctx.FromContext(r.Context())
		if !ok {
			render.ServiceError(w, "Internal service error", http.StatusInternalServerError)
			return
		}

		id, ok := pathID(w, r)
		if !ok {
			return
		}

		data, err := render.BindAndValidate[request](w, r)
		if err != nil {
			return
		}

		item, err := workflowService.ChangeStatus(r.Context(), id, data.Status, &user)

		switch {
		case err == nil:
			render.JSON(w, toItemResponse(item))
		case errors.Is(err, apperrors.ErrItemNotFound):
			render.ServiceError(w, "Item not found", http.StatusNotFound)
		case errors.Is(err, apperrors.ErrStatusInvalid):
			render.ServiceError(w, "Unknown status", http.StatusUnprocessableEntity)
		case errors.Is(err, apperrors.ErrTransitionInvalid):
			render.ServiceError(w, "Status transition not allowed", http.StatusConflict)
		case errors.Is(err, apperrors.ErrInsufficientCredits), errors.Is(err, apperrors.ErrNoLedger):
			render.ServiceError(w, "Insufficient credits", http.StatusPaymentRequired)
		default:
			l.Error("Failed to change item status", "error", err, "item_id", id)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
		}
	})
}

func handleCreateSubItems(workflowService workflowService, l logger.Logger) http.Handler {
	type request struct {
		Count int `json:"count" validate:"required,min=2"`
	}
	type response struct {
		Created  int            `json:"created"`
		SubItems []itemResponse `json:"sub_items"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r)
		if !ok {
			return
		}

		data, err := render.BindAndValidate[request](w, r)
		if err != nil {
			return
		}

		subItems, err := workflowService.CreateSubItems(r.Context(), id, data.Count)

		var partial *apperrors.PartialCompletion
		switch {
		case err == nil:
			render.JSONWithStatus(w, response{
				Created:  len(subItems),
				SubItems: toItemResponses(subItems),
			}, http.StatusCreated)
		case errors.As(err, &partial):
			// Some sub-items exist now, tell the caller how far it got
			l.Error("Sub-item fan-out stopped early",
				"error", err, "item_id", id, "created", partial.Created, "requested", partial.Requested)
			render.ServiceError(w,
				fmt.Sprintf("Created %d of %d sub-items", partial.Created, partial.Requested),
				http.StatusInternalServerError)
		case errors.Is(err, apperrors.ErrItemNotFound):
			render.ServiceError(w, "Item not found", http.StatusNotFound)
		case errors.Is(err, apperrors.ErrNotMultipleItems):
			render.ServiceError(w, "Item is not marked as a multi-item lot", http.StatusConflict)
		case errors.Is(err, apperrors.ErrSubItemCount):
			render.ServiceError(w, "Sub-item count must be at least 2", http.StatusUnprocessableEntity)
		default:
			l.Error("Failed to create sub-items", "error", err, "item_id", id)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
		}
	})
}

func handleListSubItems(workflowService workflowService, l logger.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r)
		if !ok {
			return
		}

		subItems, err := workflowService.ListSubItems(r.Context(), id)

		switch {
		case err == nil:
			render.JSON(w, toItemResponses(subItems))
		case errors.Is(err, apperrors.ErrItemNotFound):
			render.ServiceError(w, "Item not found", http.StatusNotFound)
		default:
			l.Error("Failed to list sub-items", "error", err, "item_id", id)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
		}
	})
}

func handlePipelineResult(workflowService workflowService, l logger.Logger) http.Handler {
	type request struct {
		ItemID        uuid.UUID `json:"item_id" validate:"required"`
		ItemName      string    `json:"item_name"`
		AuctionName   string    `json:"auction_name"`
		LotNumber     string    `json:"lot_number"`
		Category      string    `json:"category"`
		Description   string    `json:"description"`
		Lead          string    `json:"lead"`
		Estimate      string    `json:"estimate"`
		AIEstimate    string    `json:"ai_estimate"`
		AIDescription string    `json:"ai_description"`
		Images        []string  `json:"images"`
		MainImageURL  string    `json:"main_image_url"`
		Failed        bool      `json:"failed"`
		FailureReason string    `json:"failure_reason"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, err := render.BindAndValidate[request](w, r)
		if err != nil {
			return
		}

		item, err := workflowService.ApplyPipelineResult(r.Context(), data.ItemID, workflow.PipelineResult{
			ItemName:      data.ItemName,
			AuctionName:   data.AuctionName,
			LotNumber:     data.LotNumber,
			Category:      data.Category,
			Description:   data.Description,
			Lead:          data.Lead,
			Estimate:      data.Estimate,
			AIEstimate:    data.AIEstimate,
			AIDescription: data.AIDescription,
			Images:        data.Images,
			MainImageURL:  data.MainImageURL,
			Failed:        data.Failed,
			FailureReason: data.FailureReason,
		})

		switch {
		case err == nil:
			render.JSON(w, toItemResponse(item))
		case errors.Is(err, apperrors.ErrItemNotFound):
			render.ServiceError(w, "Item not found", http.StatusNotFound)
		default:
			l.Error("Failed to apply pipeline result", "error", err, "item_id", data.ItemID)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
		}
	})
}
