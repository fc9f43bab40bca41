package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/sorcerlabs/auctionflow/internal/apperrors"
	"github.com/sorcerlabs/auctionflow/internal/models"
	"github.com/sorcerlabs/auctionflow/internal/repository"
)

type ItemRepo struct {
	DB DBTX
}

const itemColumns = `id, url, item_name, status, auction_name, lot_number, sku, category, description,
lead, site_estimate, ai_estimate, ai_description, research_estimate, research_notes,
reference_urls, similar_urls, images, main_image_url, photographer_images, photographer_count,
photographer_notes, is_multiple_items, multiple_items_count, parent_item_id, sub_item_number,
admin_id, assigned_to, priority, notes, tags, created_at, updated_at`

const createItem = `-- name: CreateItem
INSERT INTO auction_items (
	id, url, item_name, status, auction_name, lot_number, sku, category, description,
	lead, site_estimate, ai_estimate, ai_description, research_estimate, research_notes,
	reference_urls, similar_urls, images, main_image_url, photographer_images, photographer_count,
	photographer_notes, is_multiple_items, multiple_items_count, parent_item_id, sub_item_number,
	admin_id, assigned_to, priority, notes, tags, created_at, updated_at
) VALUES (
	$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19,
	$20, $21, $22, $23, $24, $25, $26, $27, $28, $29, $30, $31, $32, $33
)
RETURNING ` + itemColumns

func (r *ItemRepo) CreateItem(ctx context.Context, item models.AuctionItem) (models.AuctionItem, error) {
	now := time.Now()
	if item.ID == uuid.Nil {
		item.ID = uuid.New()
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = now
	}
	if item.UpdatedAt.IsZero() {
		item.UpdatedAt = now
	}
	if item.Priority == "" {
		item.Priority = models.PriorityMedium
	}
	if item.PhotographerCount == 0 {
		item.PhotographerCount = 1
	}
	if item.MultipleItemsCount == 0 {
		item.MultipleItemsCount = 1
	}

	// Array columns are NOT NULL, nil slices would insert as NULL
	item.ReferenceURLs = notNull(item.ReferenceURLs)
	item.SimilarURLs = notNull(item.SimilarURLs)
	item.Images = notNull(item.Images)
	item.PhotographerImages = notNull(item.PhotographerImages)
	item.Tags = notNull(item.Tags)

	rows, _ := r.DB.Query(ctx, createItem,
		item.ID, item.URL, item.ItemName, item.Status, item.AuctionName, item.LotNumber, item.SKU,
		item.Category, item.Description, item.Lead, item.SiteEstimate, item.AIEstimate,
		item.AIDescription, item.ResearchEstimate, item.ResearchNotes,
		item.ReferenceURLs, item.SimilarURLs, item.Images, item.MainImageURL,
		item.PhotographerImages, item.PhotographerCount, item.PhotographerNotes,
		item.IsMultipleItems, item.MultipleItemsCount, item.ParentItemID, item.SubItemNumber,
		item.AdminID, item.AssignedTo, item.Priority, item.Notes, item.Tags,
		item.CreatedAt, item.UpdatedAt,
	)
	created, err := pgx.CollectOneRow(rows, rowToItem)
	if err != nil {
		return created, fmt.Errorf("db error: %w", err)
	}

	return created, nil
}

const getItem = `-- name: GetItem
SELECT ` + itemColumns + ` FROM auction_items
WHERE id = $1
`

func (r *ItemRepo) GetItem(ctx context.Context, itemID uuid.UUID) (models.AuctionItem, error) {
	rows, _ := r.DB.Query(ctx, getItem, itemID)
	item, err := pgx.CollectOneRow(rows, rowToItem)

	if err != nil && errors.Is(err, pgx.ErrNoRows) {
		return item, apperrors.ErrItemNotFound
	}

	return item, err
}

// Duplicate probe is per-owner on purpose: two different admins may submit
// the same public URL. Sub-items are excluded, they share the parent's URL.
const findByURLAndAdmin = `-- name: FindByURLAndAdmin
SELECT ` + itemColumns + ` FROM auction_items
WHERE url = $1 AND admin_id = $2 AND parent_item_id IS NULL
ORDER BY created_at DESC
LIMIT 1
`

func (r *ItemRepo) FindByURLAndAdmin(ctx context.Context, url string, adminID uuid.UUID) (models.AuctionItem, error) {
	rows, _ := r.DB.Query(ctx, findByURLAndAdmin, url, adminID)
	item, err := pgx.CollectOneRow(rows, rowToItem)

	if err != nil && errors.Is(err, pgx.ErrNoRows) {
		return item, apperrors.ErrItemNotFound
	}

	return item, err
}

func (r *ItemRepo) UpdateItem(ctx context.Context, itemID uuid.UUID, update repository.ItemUpdate) (models.AuctionItem, error) {
	set := []string{"updated_at = now()"}
	args := []any{itemID}

	add := func(column string, value any) {
		args = append(args, value)
		set = append(set, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if update.ItemName != nil {
		add("item_name", *update.ItemName)
	}
	if update.Status != nil {
		add("status", *update.Status)
	}
	if update.AuctionName != nil {
		add("auction_name", *update.AuctionName)
	}
	if update.LotNumber != nil {
		add("lot_number", *update.LotNumber)
	}
	if update.Category != nil {
		add("category", *update.Category)
	}
	if update.Description != nil {
		add("description", *update.Description)
	}
	if update.Lead != nil {
		add("lead", *update.Lead)
	}
	if update.SiteEstimate != nil {
		add("site_estimate", *update.SiteEstimate)
	}
	if update.AIEstimate != nil {
		add("ai_estimate", *update.AIEstimate)
	}
	if update.AIDescription != nil {
		add("ai_description", *update.AIDescription)
	}
	if update.ResearchEstimate != nil {
		add("research_estimate", *update.ResearchEstimate)
	}
	if update.ResearchNotes != nil {
		add("research_notes", *update.ResearchNotes)
	}
	if update.ReferenceURLs != nil {
		add("reference_urls", update.ReferenceURLs)
	}
	if update.SimilarURLs != nil {
		add("similar_urls", update.SimilarURLs)
	}
	if update.Images != nil {
		add("images", update.Images)
	}
	if update.MainImageURL != nil {
		add("main_image_url", *update.MainImageURL)
	}
	if update.AssignedTo != nil {
		add("assigned_to", *update.AssignedTo)
	}
	if update.Priority != nil {
		add("priority", *update.Priority)
	}
	if update.Notes != nil {
		add("notes", *update.Notes)
	}
	if update.Tags != nil {
		add("tags", update.Tags)
	}

	query := fmt.Sprintf(
		"UPDATE auction_items SET %s WHERE id = $1 RETURNING %s",
		strings.Join(set, ", "), itemColumns,
	)

	rows, _ := r.DB.Query(ctx, query, args...)
	item, err := pgx.CollectOneRow(rows, rowToItem)

	if err != nil && errors.Is(err, pgx.ErrNoRows) {
		return item, apperrors.ErrItemNotFound
	}

	return item, err
}

const listItems = `-- name: ListItems
SELECT ` + itemColumns + ` FROM auction_items
WHERE ($1::text[] IS NULL OR status = ANY($1))
  AND ($2::uuid IS NULL OR admin_id = $2)
ORDER BY created_at DESC
LIMIT $3
`

func (r *ItemRepo) ListItems(ctx context.Context, opts repository.ListItemsOpts) ([]models.AuctionItem, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}

	var statuses []string
	if len(opts.Statuses) > 0 {
		statuses = opts.Statuses
	}

	rows, _ := r.DB.Query(ctx, listItems, statuses, opts.AdminID, limit)
	items, err := pgx.CollectRows(rows, rowToItem)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	return items, nil
}

const listSubItems = `-- name: ListSubItems
SELECT ` + itemColumns + ` FROM auction_items
WHERE parent_item_id = $1
ORDER BY sub_item_number ASC
`

func (r *ItemRepo) ListSubItems(ctx context.Context, parentID uuid.UUID) ([]models.AuctionItem, error) {
	rows, _ := r.DB.Query(ctx, listSubItems, parentID)
	items, err := pgx.CollectRows(rows, rowToItem)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	return items, nil
}

func notNull(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func rowToItem(row pgx.CollectableRow) (models.AuctionItem, error) {
	var i models.AuctionItem
	err := row.Scan(
		&i.ID, &i.URL, &i.ItemName, &i.Status, &i.AuctionName, &i.LotNumber, &i.SKU,
		&i.Category, &i.Description, &i.Lead, &i.SiteEstimate, &i.AIEstimate,
		&i.AIDescription, &i.ResearchEstimate, &i.ResearchNotes,
		&i.ReferenceURLs, &i.SimilarURLs, &i.Images, &i.MainImageURL,
		&i.PhotographerImages, &i.PhotographerCount, &i.PhotographerNotes,
		&i.IsMultipleItems, &i.MultipleItemsCount, &i.ParentItemID, &i.SubItemNumber,
		&i.AdminID, &i.AssignedTo, &i.Priority, &i.Notes, &i.Tags,
		&i.CreatedAt, &i.UpdatedAt,
	)
	return i, err
}
