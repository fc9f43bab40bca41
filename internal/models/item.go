package models

import (
	"time"

	"github.com/google/uuid"
)

// Item statuses. Submitted URLs start in processing; the external pipeline
// moves them forward to research. Sub-items enter directly at photography.
const (
	ItemStatusProcessing  = "processing"
	ItemStatusResearch    = "research"
	ItemStatusResearch2   = "research2"
	ItemStatusWinning     = "winning"
	ItemStatusPhotography = "photography"
	ItemStatusCompleted   = "completed"
	ItemStatusRejected    = "rejected"
)

const (
	PriorityLow    = "low"
	PriorityMedium = "medium"
	PriorityHigh   = "high"
)

// TagSubItem marks items created by a lot fan-out.
const TagSubItem = "sub-item"

// AuctionItem is the unit of work moving through the production pipeline.
// The research and photography payloads are opaque to the workflow engine,
// it only carries them along.
type AuctionItem struct {
	ID       uuid.UUID
	URL      string
	ItemName string
	Status   string

	// Research payload, filled in by the external pipeline and researchers
	AuctionName      string
	LotNumber        string
	SKU              string
	Category         string
	Description      string
	Lead             string
	SiteEstimate     string
	AIEstimate       string
	AIDescription    string
	ResearchEstimate string
	ResearchNotes    string
	ReferenceURLs    []string
	SimilarURLs      []string

	// Photography payload
	Images             []string
	MainImageURL       string
	PhotographerImages []string
	PhotographerCount  int
	PhotographerNotes  string

	IsMultipleItems    bool
	MultipleItemsCount int
	ParentItemID       *uuid.UUID // weak reference, never a multi-level chain
	SubItemNumber      *int

	AdminID    *uuid.UUID
	AssignedTo string
	Priority   string
	Notes      string
	Tags       []string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsSubItem reports whether the item was created by a lot fan-out.
func (i AuctionItem) IsSubItem() bool {
	return i.ParentItemID != nil
}

// TerminalStatus reports whether no further transitions are allowed.
func TerminalStatus(status string) bool {
	return status == ItemStatusCompleted || status == ItemStatusRejected
}

// KnownStatus reports whether the status belongs to the closed status set.
func KnownStatus(status string) bool {
	switch status {
	case ItemStatusProcessing, ItemStatusResearch, ItemStatusResearch2,
		ItemStatusWinning, ItemStatusPhotography, ItemStatusCompleted, ItemStatusRejected:
		return true
	}
	return false
}
