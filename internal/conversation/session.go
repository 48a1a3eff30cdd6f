package conversation

import (
	"context"
	"strings"
	"time"
)

// Sender is who wrote a stored message.
type Sender string

const (
	SenderUser       Sender = "user"
	SenderAssistant  Sender = "assistant"
	SenderHumanAgent Sender = "human_agent"
)

// MessageKind classifies a stored message.
type MessageKind string

const (
	KindInitialInquiry MessageKind = "initial_inquiry"
	KindFollowUp       MessageKind = "follow_up"
	KindHandoff        MessageKind = "handoff"
	KindContext        MessageKind = "context"
)

// SessionItem is one message to append to a conversation.
type SessionItem struct {
	Sender      Sender
	Body        string
	Kind        MessageKind
	LeadID      string
	ExternalID  string
	FromChannel bool
}

// StoredMessage is a persisted transcript entry.
type StoredMessage struct {
	ID             int64          `json:"id"`
	ConversationID string         `json:"conversation_id"`
	LeadID         string         `json:"lead_id,omitempty"`
	Sender         Sender         `json:"sender"`
	Body           string         `json:"body"`
	Kind           MessageKind    `json:"kind"`
	ExternalID     string         `json:"external_id,omitempty"`
	ExtractedData  map[string]any `json:"extracted_data,omitempty"`
	Confidence     *float64       `json:"confidence,omitempty"`
	FromChannel    bool           `json:"from_channel"`
	CreatedAt      time.Time      `json:"created_at"`
}

// Session is the ordered, append-only transcript of each conversation.
// Messages are ordered by server timestamp, ties broken by insertion order.
type Session interface {
	// Read returns the transcript as agent turns, oldest first. When
	// limit > 0 only the oldest limit messages are returned.
	Read(ctx context.Context, conversationID string, limit int) ([]ChatMessage, error)
	// Append stores items with the current server time, skipping blank
	// bodies and external ids already stored. It returns how many it stored.
	Append(ctx context.Context, conversationID string, items []SessionItem) (int, error)
	// PopLast deletes and returns the newest message, or nil when empty.
	PopLast(ctx context.Context, conversationID string) (*StoredMessage, error)
	Clear(ctx context.Context, conversationID string) error
	Messages(ctx context.Context, conversationID string) ([]StoredMessage, error)
	HasExternalMessage(ctx context.Context, externalID string) (bool, error)
}

// chatRole maps the storage sender onto the two roles the agent understands.
func chatRole(s Sender) string {
	if s == SenderUser {
		return ChatRoleUser
	}
	return ChatRoleAssistant
}

func toChatMessages(msgs []StoredMessage) []ChatMessage {
	out := make([]ChatMessage, 0, len(msgs))
	for _, m := range msgs {
		if strings.TrimSpace(m.Body) == "" {
			continue
		}
		out = append(out, ChatMessage{Role: chatRole(m.Sender), Content: m.Body})
	}
	return out
}

func normalizeItem(item SessionItem) (SessionItem, bool) {
	if strings.TrimSpace(item.Body) == "" {
		return item, false
	}
	if item.Sender == "" {
		item.Sender = SenderUser
	}
	if item.Kind == "" {
		item.Kind = KindFollowUp
	}
	item.ExternalID = strings.TrimSpace(item.ExternalID)
	return item, true
}
