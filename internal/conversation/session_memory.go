package conversation

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemorySession keeps transcripts in process memory.
type MemorySession struct {
	mu       sync.Mutex
	seq      int64
	convs    map[string][]StoredMessage
	external map[string]struct{}
	now      func() time.Time
}

var _ Session = (*MemorySession)(nil)

func NewMemorySession() *MemorySession {
	return &MemorySession{
		convs:    make(map[string][]StoredMessage),
		external: make(map[string]struct{}),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// sorted returns the conversation ordered by (created_at, id).
func (s *MemorySession) sorted(conversationID string) []StoredMessage {
	msgs := append([]StoredMessage(nil), s.convs[conversationID]...)
	sort.SliceStable(msgs, func(i, j int) bool {
		if !msgs[i].CreatedAt.Equal(msgs[j].CreatedAt) {
			return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
		}
		return msgs[i].ID < msgs[j].ID
	})
	return msgs
}

func (s *MemorySession) Read(_ context.Context, conversationID string, limit int) ([]ChatMessage, error) {
	s.mu.Lock()
	msgs := s.sorted(conversationID)
	s.mu.Unlock()
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[:limit]
	}
	return toChatMessages(msgs), nil
}

func (s *MemorySession) Append(_ context.Context, conversationID string, items []SessionItem) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := 0
	for _, raw := range items {
		item, ok := normalizeItem(raw)
		if !ok {
			continue
		}
		if item.ExternalID != "" {
			if _, dup := s.external[item.ExternalID]; dup {
				continue
			}
			s.external[item.ExternalID] = struct{}{}
		}
		s.seq++
		s.convs[conversationID] = append(s.convs[conversationID], StoredMessage{
			ID:             s.seq,
			ConversationID: conversationID,
			LeadID:         item.LeadID,
			Sender:         item.Sender,
			Body:           item.Body,
			Kind:           item.Kind,
			ExternalID:     item.ExternalID,
			FromChannel:    item.FromChannel,
			CreatedAt:      s.now(),
		})
		stored++
	}
	return stored, nil
}

func (s *MemorySession) PopLast(_ context.Context, conversationID string) (*StoredMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := s.sorted(conversationID)
	if len(msgs) == 0 {
		return nil, nil
	}
	last := msgs[len(msgs)-1]
	msgs = msgs[:len(msgs)-1]
	if len(msgs) == 0 {
		delete(s.convs, conversationID)
	} else {
		s.convs[conversationID] = msgs
	}
	if last.ExternalID != "" {
		delete(s.external, last.ExternalID)
	}
	return &last, nil
}

func (s *MemorySession) Clear(_ context.Context, conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.convs[conversationID] {
		if m.ExternalID != "" {
			delete(s.external, m.ExternalID)
		}
	}
	delete(s.convs, conversationID)
	return nil
}

func (s *MemorySession) Messages(_ context.Context, conversationID string) ([]StoredMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sorted(conversationID), nil
}

func (s *MemorySession) HasExternalMessage(_ context.Context, externalID string) (bool, error) {
	if externalID == "" {
		return false, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.external[externalID]
	return ok, nil
}
