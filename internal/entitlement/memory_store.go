package entitlement

import (
	"context"
	"errors"
	"sync"
	"time"
)

// MemoryStore keeps subscriptions in process memory.
type MemoryStore struct {
	mu   sync.Mutex
	subs map[string]*Subscription
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{subs: make(map[string]*Subscription)}
}

func (s *MemoryStore) GetByCompany(_ context.Context, companyID string) (*Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subs[companyID]
	if !ok {
		return nil, ErrSubscriptionNotFound
	}
	return sub.Clone(), nil
}

func (s *MemoryStore) Save(_ context.Context, sub *Subscription) error {
	if sub == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs[sub.CompanyID] = sub.Clone()
	return nil
}

func (s *MemoryStore) Renew(_ context.Context, purchase *Subscription) (*Subscription, error) {
	if purchase == nil {
		return nil, errors.New("entitlement: subscription required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := purchase.Clone()
	if existing, ok := s.subs[purchase.CompanyID]; ok {
		out.ID = existing.ID
		out.CreatedAt = existing.CreatedAt
		out.LeadQuota += existing.LeadQuota
	}
	s.subs[out.CompanyID] = out
	return out.Clone(), nil
}

// IncrementLeadsUsed atomically bumps leads_used and returns the new value.
func (s *MemoryStore) IncrementLeadsUsed(_ context.Context, companyID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subs[companyID]
	if !ok {
		return 0, ErrSubscriptionNotFound
	}
	sub.LeadsUsed++
	return sub.LeadsUsed, nil
}

func (s *MemoryStore) IncrementMessagesUsed(_ context.Context, companyID string, n int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subs[companyID]
	if !ok {
		return ErrSubscriptionNotFound
	}
	sub.MessagesUsed += n
	return nil
}

func (s *MemoryStore) ExpireLapsed(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, sub := range s.subs {
		if sub.Status == StatusActive && !now.Before(sub.EndDate) {
			sub.Status = StatusExpired
			sub.UpdatedAt = now
			n++
		}
	}
	return n, nil
}
