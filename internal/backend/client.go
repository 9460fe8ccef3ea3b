// Package backend mirrors bot state to the observability backend.
// The backend is never authoritative; callers treat every failure as recoverable.
package backend

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Event types mirrored to the backend.
const (
	EventBetCommitted     = "bet-committed"
	EventSettlement       = "settlement"
	EventCustomPayout     = "custom-payout"
	EventArbitration      = "arbitration"
	EventPeerDiscovered   = "peer-discovered"
	EventProposalSent     = "proposal-sent"
	EventProposalAccepted = "proposal-accepted"
)

// Event is one state change mirrored to the backend. ID makes redelivery idempotent.
type Event struct {
	ID        string            `json:"id"`
	Type      string            `json:"type"`
	Bot       string            `json:"bot"`
	BetID     uint64            `json:"betId,omitempty"`
	Data      map[string]string `json:"data,omitempty"`
	Timestamp int64             `json:"timestamp"`
}

// NewEvent stamps a fresh event with a random id.
func NewEvent(eventType string, bot string, betID uint64, data map[string]string, at time.Time) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Bot:       bot,
		BetID:     betID,
		Data:      data,
		Timestamp: at.Unix(),
	}
}

// Client posts events to {base}/api/events.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

// Config holds backend client configuration.
type Config struct {
	BaseURL    string
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// New creates a backend client.
func New(cfg *Config) (*Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base url cannot be empty")
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}

	return &Client{baseURL: cfg.BaseURL, httpClient: httpClient, logger: cfg.Logger}, nil
}

// Sync delivers one event. Any non-2xx status is an error.
func (c *Client) Sync(ctx context.Context, ev Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/events", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", ev.ID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("post event: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("backend returned status %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}

	c.logger.Debug("event-synced",
		zap.String("event-id", ev.ID),
		zap.String("type", ev.Type),
		zap.Uint64("bet-id", ev.BetID))

	return nil
}
