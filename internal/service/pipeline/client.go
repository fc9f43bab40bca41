package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/sorcerlabs/auctionflow/internal/logger"
)

// Dispatch is the payload handed to the external content pipeline when a URL
// is submitted. The pipeline answers later through its own callback, the
// dispatch itself is fire-and-forget.
type Dispatch struct {
	URLMain string     `json:"url_main"`
	ItemID  uuid.UUID  `json:"item_id"`
	AdminID *uuid.UUID `json:"admin_id,omitempty"`
}

// Progression is sent when an item clears research and moves to winning,
// describing everything the research stage added.
type Progression struct {
	ItemID           uuid.UUID `json:"item_id"`
	URL              string    `json:"url"`
	ItemName         string    `json:"item_name"`
	Category         string    `json:"category"`
	Description      string    `json:"description"`
	ResearchEstimate string    `json:"researcher_estimate"`
	ResearchNotes    string    `json:"researcher_notes"`
	ReferenceURLs    []string  `json:"reference_urls"`
	SimilarURLs      []string  `json:"similar_urls"`
}

type Client struct {
	DispatchURL    string
	ProgressionURL string

	client *http.Client
	logger logger.Logger
}

func NewClient(dispatchURL string, progressionURL string, l logger.Logger) *Client {
	return &Client{
		DispatchURL:    dispatchURL,
		ProgressionURL: progressionURL,
		client:         &http.Client{},
		logger:         l,
	}
}

// SendDispatch posts the submitted URL to the pipeline. An error here means
// the hand-off itself failed, not that the pipeline failed to process.
func (c *Client) SendDispatch(ctx context.Context, d Dispatch) error {
	return c.post(ctx, c.DispatchURL, d)
}

// SendProgression posts the research payload to the progression endpoint.
func (c *Client) SendProgression(ctx context.Context, p Progression) error {
	return c.post(ctx, c.ProgressionURL, p)
}

func (c *Client) post(ctx context.Context, url string, payload any) error {
	if url == "" {
		return fmt.Errorf("destination url is not configured")
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode payload: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close() // nolint:errcheck

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Warn("Pipeline endpoint answered non-2xx", "url", url, "status_code", resp.StatusCode)
		return fmt.Errorf("unexpected status code %d from %s", resp.StatusCode, url)
	}

	return nil
}
