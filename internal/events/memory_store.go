package events

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-process Store for tests and local runs.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]*Record
	now     func() time.Time
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]*Record),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func memoryKey(provider, eventID string) string {
	return provider + "\x00" + eventID
}

func (s *MemoryStore) Claim(_ context.Context, rec Record) (bool, error) {
	if rec.Provider == "" || rec.EventID == "" {
		return false, errors.New("events: provider and event id required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key := memoryKey(rec.Provider, rec.EventID)
	if _, ok := s.records[key]; ok {
		return false, nil
	}
	rec.ID = uuid.New()
	rec.Status = StatusReceived
	rec.ReceivedAt = s.now()
	rec.ProcessedAt = nil
	s.records[key] = &rec
	return true, nil
}

func (s *MemoryStore) Finish(_ context.Context, provider, eventID string, status Status, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[memoryKey(provider, eventID)]
	if !ok {
		return ErrRecordNotFound
	}
	now := s.now()
	rec.Status = status
	rec.Reason = reason
	rec.ProcessedAt = &now
	return nil
}

func (s *MemoryStore) Get(_ context.Context, provider, eventID string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[memoryKey(provider, eventID)]
	if !ok {
		return nil, ErrRecordNotFound
	}
	out := *rec
	return &out, nil
}
