package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/sorcerlabs/auctionflow/internal/apperrors"
	"github.com/sorcerlabs/auctionflow/internal/logger"
	"github.com/sorcerlabs/auctionflow/internal/models"
	"github.com/sorcerlabs/auctionflow/internal/repository"
	"github.com/sorcerlabs/auctionflow/internal/service/pipeline"
)

// Defaults used when the corresponding credit setting rows are missing.
const (
	defaultItemFetchCost      = 1
	defaultResearch2StageCost = 1
)

type creditLedger interface {
	HasEnoughCredits(ctx context.Context, userID uuid.UUID, amount int64) (bool, error)
	Deduct(ctx context.Context, userID uuid.UUID, amount int64, description string) error
}

type dispatcher interface {
	SendDispatch(ctx context.Context, d pipeline.Dispatch) error
	SendProgression(ctx context.Context, p pipeline.Progression) error
}

// Allowed forward transitions. research doubles as the fallback target from
// processing, research2 is an optional second review tier between research
// and winning.
var transitions = map[string][]string{
	models.ItemStatusProcessing:  {models.ItemStatusResearch, models.ItemStatusRejected},
	models.ItemStatusResearch:    {models.ItemStatusResearch2, models.ItemStatusWinning, models.ItemStatusRejected},
	models.ItemStatusResearch2:   {models.ItemStatusWinning, models.ItemStatusRejected},
	models.ItemStatusWinning:     {models.ItemStatusPhotography, models.ItemStatusRejected},
	models.ItemStatusPhotography: {models.ItemStatusCompleted, models.ItemStatusRejected},
}

// Service advances auction items through their lifecycle and gates the
// credit-costing steps on the ledger.
type Service struct {
	storage     repository.Storage
	ledger      creditLedger
	dispatch    dispatcher
	allowedURLs []string
	logger      logger.Logger

	// runAsync detaches the pipeline hand-off from the submitting request.
	// Tests replace it to run the hand-off inline.
	runAsync func(func())
}

func NewService(storage repository.Storage, ledger creditLedger, dispatch dispatcher, allowedURLs []string, l logger.Logger) *Service {
	return &Service{
		storage:     storage,
		ledger:      ledger,
		dispatch:    dispatch,
		allowedURLs: allowedURLs,
		logger:      l,
		runAsync:    func(f func()) { go f() },
	}
}

// ValidateURL checks the URL against the allow-listed prefixes.
func (s *Service) ValidateURL(url string) error {
	if url == "" {
		return apperrors.ErrURLInvalid
	}
	for _, pattern := range s.allowedURLs {
		if strings.HasPrefix(url, pattern) {
			return nil
		}
	}
	return apperrors.ErrURLInvalid
}

// SubmitURL takes a lot URL through duplicate detection and the credit gate,
// creates the placeholder item in processing state and hands the URL off to
// the external pipeline. The credit is deducted before the item exists:
// an attempt that fails downstream still consumed a fetch. If the hand-off
// itself fails the item is demoted to research with a failure marker so it
// stays visible for manual retry.
func (s *Service) SubmitURL(ctx context.Context, urlMain string, admin *models.User) (models.AuctionItem, error) {
	var item models.AuctionItem

	if err := s.ValidateURL(urlMain); err != nil {
		return item, err
	}

	if admin != nil {
		existing, err := s.storage.Item().FindByURLAndAdmin(ctx, urlMain, admin.ID)
		switch {
		case err == nil:
			return item, &apperrors.ConflictError{
				ItemID:     existing.ID,
				Processing: existing.Status == models.ItemStatusProcessing,
			}
		case errors.Is(err, apperrors.ErrItemNotFound):
			// fresh URL for this owner
		default:
			return item, fmt.Errorf("duplicate check: %w", err)
		}

		cost := s.settingValue(ctx, models.SettingItemFetchCost, defaultItemFetchCost)

		enough, err := s.ledger.HasEnoughCredits(ctx, admin.ID, cost)
		if err != nil {
			return item, fmt.Errorf("credit check: %w", err)
		}
		if !enough {
			return item, apperrors.ErrInsufficientCredits
		}

		if err := s.ledger.Deduct(ctx, admin.ID, cost, fmt.Sprintf("Item fetch: %s", urlMain)); err != nil {
			return item, fmt.Errorf("credit deduction: %w", err)
		}
	}

	newItem := models.AuctionItem{
		URL:      urlMain,
		ItemName: "Processing...",
		Status:   models.ItemStatusProcessing,
		Priority: models.PriorityMedium,
	}
	if admin != nil {
		newItem.AdminID = &admin.ID
	}

	item, err := s.storage.Item().CreateItem(ctx, newItem)
	if err != nil {
		return item, fmt.Errorf("create item: %w", err)
	}

	s.runAsync(func() { s.dispatchItem(item) })

	return item, nil
}

// dispatchItem hands the URL to the pipeline and records the outcome on the
// item. Runs detached from the submitting request, the submitter never waits
// on the pipeline.
func (s *Service) dispatchItem(item models.AuctionItem) {
	ctx := context.Background()

	err := s.dispatch.SendDispatch(ctx, pipeline.Dispatch{
		URLMain: item.URL,
		ItemID:  item.ID,
		AdminID: item.AdminID,
	})
	if err == nil {
		s.logger.Debug("Item dispatched to pipeline", "item_id", item.ID)
		return
	}

	s.logger.Error("Pipeline dispatch failed, demoting item for manual retry", "item_id", item.ID, "error", err)

	status := models.ItemStatusResearch
	name := "FAILED TO DISPATCH - " + item.URL
	notes := "Automatic hand-off to the processing pipeline failed; resubmit manually."

	_, uerr := s.storage.Item().UpdateItem(ctx, item.ID, repository.ItemUpdate{
		Status:   &status,
		ItemName: &name,
		Notes:    &notes,
	})
	if uerr != nil {
		s.logger.Error("Failed to record dispatch failure on item", "item_id", item.ID, "error", uerr)
	}
}

// ApplyPipelineResult consumes the pipeline's callback for a processing
// item: fills the research payload and advances the item to research, or
// rejects it when the pipeline reports failure.
func (s *Service) ApplyPipelineResult(ctx context.Context, itemID uuid.UUID, result PipelineResult) (models.AuctionItem, error) {
	item, err := s.storage.Item().GetItem(ctx, itemID)
	if err != nil {
		return item, err
	}

	if result.Failed {
		status := models.ItemStatusRejected
		notes := strings.TrimSpace(item.Notes + "\nPipeline processing failed: " + result.FailureReason)
		return s.storage.Item().UpdateItem(ctx, itemID, repository.ItemUpdate{
			Status: &status,
			Notes:  &notes,
		})
	}

	status := models.ItemStatusResearch
	update := repository.ItemUpdate{
		Status:        &status,
		ItemName:      &result.ItemName,
		AuctionName:   &result.AuctionName,
		LotNumber:     &result.LotNumber,
		Category:      &result.Category,
		Description:   &result.Description,
		Lead:          &result.Lead,
		SiteEstimate:  &result.Estimate,
		AIEstimate:    &result.AIEstimate,
		AIDescription: &result.AIDescription,
		Images:        result.Images,
		MainImageURL:  &result.MainImageURL,
	}

	return s.storage.Item().UpdateItem(ctx, itemID, update)
}

// PipelineResult is the inbound payload from the external content pipeline.
type PipelineResult struct {
	ItemName      string
	AuctionName   string
	LotNumber     string
	Category      string
	Description   string
	Lead          string
	Estimate      string
	AIEstimate    string
	AIDescription string
	Images        []string
	MainImageURL  string

	Failed        bool
	FailureReason string
}

// ChangeStatus moves the item along the lifecycle. Entering research2 costs
// credits and is blocked, not rolled back, on an insufficient balance.
// Clearing research into winning fires the progression notification.
func (s *Service) ChangeStatus(ctx context.Context, itemID uuid.UUID, newStatus string, actor *models.User) (models.AuctionItem, error) {
	var item models.AuctionItem

	if !models.KnownStatus(newStatus) {
		return item, apperrors.ErrStatusInvalid
	}

	item, err := s.storage.Item().GetItem(ctx, itemID)
	if err != nil {
		return item, err
	}

	if !transitionAllowed(item.Status, newStatus) {
		return item, apperrors.ErrTransitionInvalid
	}

	// The second review tier costs credits: check and charge before the
	// transition so an unpaid item never advances.
	if newStatus == models.ItemStatusResearch2 && item.AdminID != nil {
		cost := s.settingValue(ctx, models.SettingResearch2StageCost, defaultResearch2StageCost)

		err := s.ledger.Deduct(ctx, *item.AdminID, cost, fmt.Sprintf("Second review stage: item %s", item.ID))
		if err != nil {
			return item, err
		}
	}

	updated, err := s.storage.Item().UpdateItem(ctx, itemID, repository.ItemUpdate{Status: &newStatus})
	if err != nil {
		return updated, err
	}

	actorEmail := ""
	if actor != nil {
		actorEmail = actor.Email
	}
	s.logger.Info("Item status changed",
		"item_id", itemID, "from", item.Status, "to", newStatus, "actor", actorEmail)

	if item.Status == models.ItemStatusResearch && newStatus == models.ItemStatusWinning {
		s.runAsync(func() { s.notifyProgression(updated) })
	}

	return updated, nil
}

func (s *Service) notifyProgression(item models.AuctionItem) {
	err := s.dispatch.SendProgression(context.Background(), pipeline.Progression{
		ItemID:           item.ID,
		URL:              item.URL,
		ItemName:         item.ItemName,
		Category:         item.Category,
		Description:      item.Description,
		ResearchEstimate: item.ResearchEstimate,
		ResearchNotes:    item.ResearchNotes,
		ReferenceURLs:    item.ReferenceURLs,
		SimilarURLs:      item.SimilarURLs,
	})
	if err != nil {
		s.logger.Error("Progression notification failed", "item_id", item.ID, "error", err)
		return
	}
	s.logger.Debug("Progression notification sent", "item_id", item.ID)
}

// CreateSubItems fans a multiple-item lot out into count independent
// sub-items entering at photography. Best effort: already created sub-items
// survive a mid-flight failure and the error reports how many succeeded.
// The parent is promoted to high priority once the fan-out ran.
func (s *Service) CreateSubItems(ctx context.Context, parentID uuid.UUID, count int) ([]models.AuctionItem, error) {
	if count < 2 {
		return nil, apperrors.ErrSubItemCount
	}

	parent, err := s.storage.Item().GetItem(ctx, parentID)
	if err != nil {
		return nil, err
	}
	if !parent.IsMultipleItems {
		return nil, apperrors.ErrNotMultipleItems
	}
	if parent.IsSubItem() {
		return nil, apperrors.ErrNotMultipleItems
	}

	created := make([]models.AuctionItem, 0, count)
	for i := 1; i <= count; i++ {
		sub, err := s.storage.Item().CreateItem(ctx, subItemFromParent(parent, i))
		if err != nil {
			return created, &apperrors.PartialCompletion{
				Created:   len(created),
				Requested: count,
				Err:       err,
			}
		}
		created = append(created, sub)
	}

	priority := models.PriorityHigh
	notes := strings.TrimSpace(fmt.Sprintf(
		"%s\n\nMultiple items lot - %d sub-items created. Priority set to HIGH.",
		parent.Notes, count,
	))
	_, err = s.storage.Item().UpdateItem(ctx, parentID, repository.ItemUpdate{
		Priority: &priority,
		Notes:    &notes,
	})
	if err != nil {
		return created, &apperrors.PartialCompletion{
			Created:   len(created),
			Requested: count,
			Err:       fmt.Errorf("update parent: %w", err),
		}
	}

	return created, nil
}

// subItemFromParent value-copies the research payload and resets everything
// photography related: sub-items need their own shoot.
func subItemFromParent(parent models.AuctionItem, number int) models.AuctionItem {
	n := number

	sub := models.AuctionItem{
		URL:              parent.URL,
		ItemName:         fmt.Sprintf("%s - Sub Item #%d", parent.ItemName, number),
		Status:           models.ItemStatusPhotography,
		AuctionName:      parent.AuctionName,
		LotNumber:        parent.LotNumber,
		Category:         parent.Category,
		Description:      parent.Description,
		Lead:             parent.Lead,
		SiteEstimate:     parent.SiteEstimate,
		AIEstimate:       parent.AIEstimate,
		AIDescription:    parent.AIDescription,
		ResearchEstimate: parent.ResearchEstimate,
		ResearchNotes:    parent.ResearchNotes,
		ReferenceURLs:    append([]string(nil), parent.ReferenceURLs...),
		SimilarURLs:      append([]string(nil), parent.SimilarURLs...),

		// photography payload intentionally empty
		Images:             []string{},
		PhotographerImages: []string{},
		PhotographerCount:  1,

		ParentItemID:  &parent.ID,
		SubItemNumber: &n,
		AdminID:       parent.AdminID,
		AssignedTo:    string(models.RolePhotographer),
		Priority:      models.PriorityHigh,
		Notes:         fmt.Sprintf("Sub-item #%d of %s", number, parent.ItemName),
		Tags:          append(append([]string(nil), parent.Tags...), models.TagSubItem),
	}

	if parent.SKU != "" {
		sub.SKU = fmt.Sprintf("%s-SUB%d", parent.SKU, number)
	}

	return sub
}

// GetItem and ListItems expose the store for the read surface.
func (s *Service) GetItem(ctx context.Context, itemID uuid.UUID) (models.AuctionItem, error) {
	return s.storage.Item().GetItem(ctx, itemID)
}

func (s *Service) ListItems(ctx context.Context, opts repository.ListItemsOpts) ([]models.AuctionItem, error) {
	return s.storage.Item().ListItems(ctx, opts)
}

func (s *Service) ListSubItems(ctx context.Context, parentID uuid.UUID) ([]models.AuctionItem, error) {
	return s.storage.Item().ListSubItems(ctx, parentID)
}

func (s *Service) settingValue(ctx context.Context, name string, fallback int64) int64 {
	setting, err := s.storage.Setting().Get(ctx, name)
	if err != nil {
		if !errors.Is(err, apperrors.ErrSettingNotFound) {
			s.logger.Warn("Failed to read credit setting, using default", "setting", name, "error", err)
		}
		return fallback
	}
	return setting.Value
}

func transitionAllowed(from string, to string) bool {
	if models.TerminalStatus(from) {
		return false
	}
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}
