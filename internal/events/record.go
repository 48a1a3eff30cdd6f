package events

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Status tracks how far an externally delivered event got.
type Status string

const (
	StatusReceived  Status = "received"
	StatusProcessed Status = "processed"
	StatusDropped   Status = "dropped"
)

// ProviderInstagram is the provider key for Instagram webhook deliveries.
const ProviderInstagram = "instagram"

// ErrRecordNotFound is returned when no record exists for a provider event id.
var ErrRecordNotFound = errors.New("events: record not found")

// Record is the durable trace of one external event.
type Record struct {
	ID          uuid.UUID       `json:"id"`
	Provider    string          `json:"provider"`
	EventID     string          `json:"event_id"`
	EventType   string          `json:"event_type"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	Status      Status          `json:"status"`
	Reason      string          `json:"reason,omitempty"`
	ReceivedAt  time.Time       `json:"received_at"`
	ProcessedAt *time.Time      `json:"processed_at,omitempty"`
}

// Store deduplicates external deliveries. Claim is the only dedup primitive:
// exactly one caller wins for a given (provider, event id).
type Store interface {
	Claim(ctx context.Context, rec Record) (bool, error)
	Finish(ctx context.Context, provider, eventID string, status Status, reason string) error
	Get(ctx context.Context, provider, eventID string) (*Record, error)
}
