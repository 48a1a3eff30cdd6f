package conversation

import (
	"context"
	"encoding/json"
	"time"

	"github.com/wolfman30/realestate-lead-ai/internal/leads"
	"github.com/wolfman30/realestate-lead-ai/pkg/logging"
)

// ConversationEvent represents a structured event in the lead conversation lifecycle.
// All events share the same base fields for easy filtering/grep.
type ConversationEvent struct {
	Time           string         `json:"time"`
	Event          string         `json:"event"`
	ConversationID string         `json:"conversation_id,omitempty"`
	CompanyID      string         `json:"company_id,omitempty"`
	LeadID         string         `json:"lead_id,omitempty"`
	Data           map[string]any `json:"data,omitempty"`
}

// EventLogger emits structured JSON events at each decision point:
//
//	grep '"event":"inbound_decision"' /var/log/app.log
//	grep '"conversation_id":"178414_9001"' /var/log/app.log
type EventLogger struct {
	logger *logging.Logger
	now    func() time.Time
}

func NewEventLogger(logger *logging.Logger) *EventLogger {
	return &EventLogger{logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

// Log emits a structured conversation event.
func (e *EventLogger) Log(_ context.Context, event string, convID, companyID, leadID string, data map[string]any) {
	if e == nil || e.logger == nil {
		return
	}
	evt := ConversationEvent{
		Time:           e.now().Format(time.RFC3339Nano),
		Event:          event,
		ConversationID: convID,
		CompanyID:      companyID,
		LeadID:         leadID,
		Data:           data,
	}
	b, _ := json.Marshal(evt)
	e.logger.Info(string(b))
}

// MessageReceived logs an inbound DM or comment, truncated.
func (e *EventLogger) MessageReceived(ctx context.Context, convID, companyID, leadID, kind, message string) {
	msg := message
	if len(msg) > 200 {
		msg = msg[:200] + "..."
	}
	e.Log(ctx, "message_received", convID, companyID, leadID, map[string]any{
		"kind":    kind,
		"message": msg,
	})
}

// Decision logs the terminal state the router reached for one event.
func (e *EventLogger) Decision(ctx context.Context, convID, companyID, leadID, kind, action, reason string) {
	data := map[string]any{"kind": kind, "action": action}
	if reason != "" {
		data["reason"] = reason
	}
	e.Log(ctx, "inbound_decision", convID, companyID, leadID, data)
}

func (e *EventLogger) LeadCreated(ctx context.Context, convID, companyID, leadID, source string, ordinal int) {
	e.Log(ctx, "lead_created", convID, companyID, leadID, map[string]any{
		"source":     source,
		"leads_used": ordinal,
	})
}

func (e *EventLogger) AgentReplied(ctx context.Context, convID, companyID, leadID, flow string, durationMs int64) {
	e.Log(ctx, "agent_replied", convID, companyID, leadID, map[string]any{
		"flow":        flow,
		"duration_ms": durationMs,
	})
}

func (e *EventLogger) ExtractionFinished(ctx context.Context, job ExtractionJob, result string, report leads.MergeReport, err error) {
	data := map[string]any{"result": result}
	if applied := report.Applied(); len(applied) > 0 {
		data["applied"] = applied
	}
	if err != nil {
		data["error"] = err.Error()
	}
	e.Log(ctx, "extraction_finished", job.ConversationID, job.CompanyID, job.LeadID, data)
}

func (e *EventLogger) ErrorOccurred(ctx context.Context, convID, companyID, step string, err error) {
	e.Log(ctx, "error", convID, companyID, "", map[string]any{
		"step":  step,
		"error": err.Error(),
	})
}
