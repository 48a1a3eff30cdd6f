package instagram

import (
	"encoding/json"
	"time"
)

// WebhookPayload is the top-level structure received from Meta's webhook.
type WebhookPayload struct {
	Object string  `json:"object"`
	Entry  []Entry `json:"entry"`
}

// Entry represents a single entry in the webhook payload. ID is the
// receiving Instagram business account.
type Entry struct {
	ID        string      `json:"id"`
	Time      int64       `json:"time"`
	Messaging []Messaging `json:"messaging"`
	Changes   []Change    `json:"changes"`
}

// Messaging represents a single messaging event.
type Messaging struct {
	Sender    Participant `json:"sender"`
	Recipient Participant `json:"recipient"`
	Timestamp int64       `json:"timestamp"`
	Message   *Message    `json:"message,omitempty"`
}

// Participant identifies one side of a DM thread.
type Participant struct {
	ID string `json:"id"`
}

// Message contains the message content.
type Message struct {
	MID    string `json:"mid"`
	Text   string `json:"text"`
	IsEcho bool   `json:"is_echo,omitempty"`
}

// Change is a field update; comments arrive with Field "comments".
type Change struct {
	Field string          `json:"field"`
	Value json.RawMessage `json:"value"`
}

// CommentValue is the value of a comments change.
type CommentValue struct {
	ID       string `json:"id"`
	Text     string `json:"text"`
	ParentID string `json:"parent_id,omitempty"`
	From     struct {
		ID       string `json:"id"`
		Username string `json:"username"`
	} `json:"from"`
	Media struct {
		ID               string `json:"id"`
		MediaProductType string `json:"media_product_type"`
	} `json:"media"`
}

// EventKind classifies a parsed webhook item.
type EventKind string

const (
	KindMessage EventKind = "message"
	KindComment EventKind = "comment"
	KindUnknown EventKind = "unknown"
)

// Event is one classified webhook item: a MessageEvent, CommentEvent or
// UnknownEvent.
type Event interface {
	Kind() EventKind
	// ExternalID is the platform id used for deduplication; empty for
	// unknown events.
	ExternalID() string
}

// MessageEvent is a direct message sent to a business account.
type MessageEvent struct {
	SenderID    string
	RecipientID string
	Text        string
	MessageID   string
	Timestamp   time.Time
}

func (MessageEvent) Kind() EventKind      { return KindMessage }
func (e MessageEvent) ExternalID() string { return e.MessageID }

// CommentEvent is a comment on one of the account's posts.
type CommentEvent struct {
	AccountID        string
	CommentID        string
	Text             string
	FromID           string
	FromUsername     string
	MediaID          string
	MediaProductType string
	ParentID         string
}

func (CommentEvent) Kind() EventKind      { return KindComment }
func (e CommentEvent) ExternalID() string { return e.CommentID }

// IsReply reports whether the comment answers another comment.
func (e CommentEvent) IsReply() bool { return e.ParentID != "" }

// UnknownEvent is anything the router does not act on.
type UnknownEvent struct {
	Reason string
}

func (UnknownEvent) Kind() EventKind    { return KindUnknown }
func (UnknownEvent) ExternalID() string { return "" }

// SendRequest is the payload sent to the Graph API to send a message.
type SendRequest struct {
	Recipient SendRecipient `json:"recipient"`
	Message   SendMessage   `json:"message"`
}

// SendRecipient addresses a user directly or, for private replies, through
// the comment they left.
type SendRecipient struct {
	ID        string `json:"id,omitempty"`
	CommentID string `json:"comment_id,omitempty"`
}

// SendMessage is the message content for outbound messages.
type SendMessage struct {
	Text string `json:"text"`
}

// SendResponse is the response from the Graph API after sending a message.
type SendResponse struct {
	RecipientID string     `json:"recipient_id"`
	MessageID   string     `json:"message_id"`
	Error       *SendError `json:"error,omitempty"`
}

// ReplyRequest is a public reply to a comment.
type ReplyRequest struct {
	Message string `json:"message"`
}

// ReplyResponse is the Graph API answer to a comment reply.
type ReplyResponse struct {
	ID    string     `json:"id"`
	Error *SendError `json:"error,omitempty"`
}

// SendError represents an error returned by the Graph API.
type SendError struct {
	Message   string `json:"message"`
	Type      string `json:"type"`
	Code      int    `json:"code"`
	FBTraceID string `json:"fbtrace_id"`
}
