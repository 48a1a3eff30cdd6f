package events

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type rowQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// ProcessedStore records webhook events in Postgres.
type ProcessedStore struct {
	pool rowQuerier
}

var _ Store = (*ProcessedStore)(nil)

func NewProcessedStore(pool *pgxpool.Pool) *ProcessedStore {
	if pool == nil {
		panic("events: pgx pool required")
	}
	return &ProcessedStore{pool: pool}
}

func newProcessedStoreWithExec(exec rowQuerier) *ProcessedStore {
	if exec == nil {
		panic("events: exec required")
	}
	return &ProcessedStore{pool: exec}
}

// Claim inserts the event record, returning false if the id was already claimed.
func (s *ProcessedStore) Claim(ctx context.Context, rec Record) (bool, error) {
	if rec.Provider == "" || rec.EventID == "" {
		return false, errors.New("events: provider and event id required")
	}
	payload := []byte(rec.Payload)
	if len(payload) == 0 {
		payload = []byte("{}")
	}
	query := `
		INSERT INTO processed_events (provider, event_id, event_type, payload, status)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (provider, event_id) DO NOTHING
	`
	ct, err := s.pool.Exec(ctx, query, rec.Provider, rec.EventID, rec.EventType, payload, string(StatusReceived))
	if err != nil {
		return false, fmt.Errorf("events: claim: %w", err)
	}
	return ct.RowsAffected() > 0, nil
}

// Finish stamps the terminal status of a claimed event.
func (s *ProcessedStore) Finish(ctx context.Context, provider, eventID string, status Status, reason string) error {
	query := `
		UPDATE processed_events
		SET status = $3, reason = $4, processed_at = now()
		WHERE provider = $1 AND event_id = $2
	`
	ct, err := s.pool.Exec(ctx, query, provider, eventID, string(status), reason)
	if err != nil {
		return fmt.Errorf("events: finish: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrRecordNotFound
	}
	return nil
}

// Get loads one event record.
func (s *ProcessedStore) Get(ctx context.Context, provider, eventID string) (*Record, error) {
	query := `
		SELECT id, provider, event_id, event_type, payload, status, reason, received_at, processed_at
		FROM processed_events
		WHERE provider = $1 AND event_id = $2
	`
	var (
		rec    Record
		status string
	)
	err := s.pool.QueryRow(ctx, query, provider, eventID).Scan(
		&rec.ID, &rec.Provider, &rec.EventID, &rec.EventType, &rec.Payload,
		&status, &rec.Reason, &rec.ReceivedAt, &rec.ProcessedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("events: get: %w", err)
	}
	rec.Status = Status(status)
	return &rec, nil
}
