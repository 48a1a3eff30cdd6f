package instagram

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/wolfman30/realestate-lead-ai/pkg/logging"
)

const (
	maxWebhookBody         = 1 << 20
	defaultProcessTimeout  = 60 * time.Second
	reasonMalformedPayload = "malformed_payload"
)

// EventHandler consumes the events of one webhook delivery.
type EventHandler interface {
	HandleBatch(ctx context.Context, events []Event)
}

// WebhookHandler handles Instagram webhook verification and inbound events.
type WebhookHandler struct {
	verifyToken    string
	appSecret      string
	handler        EventHandler
	logger         *logging.Logger
	processTimeout time.Duration
}

// NewWebhookHandler creates a new webhook handler. handler may be nil, in
// which case deliveries are acknowledged and discarded.
func NewWebhookHandler(verifyToken, appSecret string, handler EventHandler, logger *logging.Logger) *WebhookHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &WebhookHandler{
		verifyToken:    verifyToken,
		appSecret:      appSecret,
		handler:        handler,
		logger:         logger,
		processTimeout: defaultProcessTimeout,
	}
}

// HandleVerification handles the GET webhook verification challenge from Meta.
func (h *WebhookHandler) HandleVerification(w http.ResponseWriter, r *http.Request) {
	mode := r.URL.Query().Get("hub.mode")
	token := r.URL.Query().Get("hub.verify_token")
	challenge := r.URL.Query().Get("hub.challenge")

	if mode == "subscribe" && h.verifyToken != "" && token == h.verifyToken {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, challenge)
		return
	}

	http.Error(w, "Forbidden", http.StatusForbidden)
}

// HandleInbound handles POST webhook deliveries. Once the signature checks
// out the delivery is acknowledged with 200 regardless of what processing
// decides, so Meta does not retry.
func (h *WebhookHandler) HandleInbound(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}

	signature := r.Header.Get("X-Hub-Signature-256")
	if !VerifySignature(h.appSecret, body, signature) {
		h.logger.Warn("instagram: webhook signature rejected", "remote_addr", r.RemoteAddr)
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	events, err := ParseWebhook(body)
	if err != nil {
		h.logger.Warn("instagram: malformed webhook payload", "error", err)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"received"}`))
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}

	if h.handler == nil || len(events) == 0 {
		return
	}
	// Meta may drop the connection once it has the 200.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), h.processTimeout)
	defer cancel()
	h.handler.HandleBatch(ctx, events)
}

// ParseWebhook classifies every item of a delivery. It accepts entries with
// either messaging or changes arrays. A body that is not valid JSON yields
// a single UnknownEvent together with the decode error.
func ParseWebhook(body []byte) ([]Event, error) {
	var payload WebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return []Event{UnknownEvent{Reason: reasonMalformedPayload}}, fmt.Errorf("instagram: decode webhook: %w", err)
	}

	var events []Event
	for _, entry := range payload.Entry {
		for _, m := range entry.Messaging {
			events = append(events, parseMessaging(m))
		}
		for _, c := range entry.Changes {
			events = append(events, parseChange(entry.ID, c))
		}
	}
	if len(events) == 0 {
		return []Event{UnknownEvent{Reason: "empty_payload"}}, nil
	}
	return events, nil
}

func parseMessaging(m Messaging) Event {
	switch {
	case m.Message == nil:
		return UnknownEvent{Reason: "unsupported_messaging"}
	case m.Message.IsEcho:
		return UnknownEvent{Reason: "echo"}
	case strings.TrimSpace(m.Message.MID) == "":
		return UnknownEvent{Reason: "missing_message_id"}
	case strings.TrimSpace(m.Sender.ID) == "":
		return UnknownEvent{Reason: "missing_sender"}
	case strings.TrimSpace(m.Message.Text) == "":
		return UnknownEvent{Reason: "empty_text"}
	}
	ev := MessageEvent{
		SenderID:    strings.TrimSpace(m.Sender.ID),
		RecipientID: strings.TrimSpace(m.Recipient.ID),
		Text:        strings.TrimSpace(m.Message.Text),
		MessageID:   strings.TrimSpace(m.Message.MID),
	}
	if m.Timestamp > 0 {
		ev.Timestamp = time.UnixMilli(m.Timestamp).UTC()
	}
	return ev
}

func parseChange(accountID string, c Change) Event {
	if c.Field != "comments" && c.Field != "live_comments" {
		return UnknownEvent{Reason: "unsupported_field"}
	}
	var v CommentValue
	if err := json.Unmarshal(c.Value, &v); err != nil {
		return UnknownEvent{Reason: reasonMalformedPayload}
	}
	switch {
	case strings.TrimSpace(v.ID) == "":
		return UnknownEvent{Reason: "missing_comment_id"}
	case strings.TrimSpace(v.From.ID) == "":
		return UnknownEvent{Reason: "missing_commenter"}
	case accountID != "" && v.From.ID == accountID:
		// the account's own replies come back as comments
		return UnknownEvent{Reason: "self_comment"}
	case strings.TrimSpace(v.Text) == "":
		return UnknownEvent{Reason: "empty_text"}
	}
	return CommentEvent{
		AccountID:        strings.TrimSpace(accountID),
		CommentID:        strings.TrimSpace(v.ID),
		Text:             strings.TrimSpace(v.Text),
		FromID:           strings.TrimSpace(v.From.ID),
		FromUsername:     strings.TrimSpace(v.From.Username),
		MediaID:          strings.TrimSpace(v.Media.ID),
		MediaProductType: v.Media.MediaProductType,
		ParentID:         strings.TrimSpace(v.ParentID),
	}
}

// VerifySignature verifies the X-Hub-Signature-256 header.
func VerifySignature(appSecret string, body []byte, signature string) bool {
	if appSecret == "" || signature == "" {
		return false
	}

	// Signature format: "sha256=<hex>"
	const prefix = "sha256="
	if len(signature) <= len(prefix) || !strings.HasPrefix(signature, prefix) {
		return false
	}
	sigHex := signature[len(prefix):]

	mac := hmac.New(sha256.New, []byte(appSecret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(expected), []byte(strings.ToLower(sigHex)))
}
