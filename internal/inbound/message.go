package inbound

import (
	"context"
	"errors"
	"time"

	"github.com/wolfman30/realestate-lead-ai/internal/channels/instagram"
	"github.com/wolfman30/realestate-lead-ai/internal/company"
	"github.com/wolfman30/realestate-lead-ai/internal/conversation"
	"github.com/wolfman30/realestate-lead-ai/internal/entitlement"
	"github.com/wolfman30/realestate-lead-ai/internal/leads"
	"github.com/wolfman30/realestate-lead-ai/internal/listings"
)

func (r *Router) handleMessage(ctx context.Context, ev instagram.MessageEvent) (out Outcome) {
	kind := instagram.KindMessage
	if ev.RecipientID == "" {
		return dropped(kind, "missing_recipient")
	}

	seen, err := r.deps.Session.HasExternalMessage(ctx, ev.MessageID)
	if err != nil {
		r.deps.Logger.Error("inbound: message lookup failed", "message_id", ev.MessageID, "error", err)
		return dropped(kind, "session_unavailable")
	}
	if seen {
		return Outcome{Kind: kind, Action: ActionDuplicate, Reason: "message_stored"}
	}
	claimed, err := r.claim(ctx, ev)
	if err != nil {
		r.deps.Logger.Error("inbound: claim event failed", "message_id", ev.MessageID, "error", err)
		return dropped(kind, "event_store_unavailable")
	}
	if !claimed {
		return Outcome{Kind: kind, Action: ActionDuplicate, Reason: "event_claimed"}
	}
	defer func() { r.finish(ctx, ev, statusFor(out), out.Reason) }()

	acct, err := r.deps.Directory.ResolveAccount(ctx, ev.RecipientID)
	if err != nil {
		if !errors.Is(err, company.ErrUnknownAccount) {
			r.deps.Logger.Error("inbound: resolve account failed", "account_id", ev.RecipientID, "error", err)
		}
		return dropped(kind, "unknown_account")
	}
	companyID := acct.CompanyID
	convID := conversationID(ev.RecipientID, ev.SenderID)
	r.deps.EventLog.MessageReceived(ctx, convID, companyID, "", string(kind), ev.Text)

	settings, err := r.settings(ctx, companyID)
	if err != nil {
		r.deps.EventLog.ErrorOccurred(ctx, convID, companyID, "load_settings", err)
		return dropped(kind, "settings_unavailable")
	}
	if !settings.EnableDMResponse {
		return dropped(kind, "dm_disabled")
	}
	if decision, _ := r.authorize(ctx, companyID, entitlement.CapabilityDM); !decision.Allowed {
		return dropped(kind, string(decision.Reason))
	}

	res, err := r.deps.Leads.GetOrCreate(ctx, leads.UpsertRequest{
		CompanyID:         companyID,
		ConversationID:    convID,
		SourceType:        leads.SourceInstagramDM,
		InstagramUsername: ev.SenderID,
	})
	if err != nil {
		r.deps.EventLog.ErrorOccurred(ctx, convID, companyID, "upsert_lead", err)
		return dropped(kind, "lead_unavailable")
	}
	lead := res.Lead
	if res.Created {
		r.deps.Metrics.ObserveLeadCreated(string(leads.SourceInstagramDM))
		r.deps.EventLog.LeadCreated(ctx, convID, companyID, lead.ID, string(leads.SourceInstagramDM), res.Ordinal)
	}
	r.recordActivity(ctx, lead.ID, leads.Activity{CustomerMessage: ev.Text, At: receivedAt(ev)})

	out = r.route(ctx, kind, convID, companyID, lead.ID, res, entitlement.CapabilityDMAIReply, func(reason entitlement.DenyReason) Outcome {
		return r.staticDM(ctx, acct, ev, lead, settings, reason)
	})
	if out.Action != ActionReplied {
		return out
	}

	messageKind := conversation.KindFollowUp
	if res.Created {
		messageKind = conversation.KindInitialInquiry
	}
	if _, err := r.deps.Session.Append(ctx, convID, []conversation.SessionItem{{
		Sender:      conversation.SenderUser,
		Body:        ev.Text,
		Kind:        messageKind,
		LeadID:      lead.ID,
		ExternalID:  ev.MessageID,
		FromChannel: true,
	}}); err != nil {
		r.deps.EventLog.ErrorOccurred(ctx, convID, companyID, "append_inbound", err)
		return Outcome{Kind: kind, Action: ActionDropped, Reason: "session_unavailable", LeadID: lead.ID}
	}

	history, err := r.deps.Session.Read(ctx, convID, r.deps.Agent.HistoryLimit())
	if err != nil {
		r.deps.Logger.Warn("inbound: history read failed", "conversation_id", convID, "error", err)
		history = nil
	}

	agentCtx, cancel := context.WithTimeout(ctx, r.deps.AgentTimeout)
	started := time.Now()
	reply, err := r.deps.Agent.Reply(agentCtx, conversation.ReplyRequest{
		CompanyName: acct.CompanyName,
		History:     history,
		Input:       ev.Text,
		Context:     r.retrieve(ctx, companyID, ev.Text),
	})
	cancel()
	elapsed := time.Since(started)
	r.deps.Metrics.ObserveAgentLatency("dm", elapsed.Seconds())
	if err != nil {
		r.deps.EventLog.ErrorOccurred(ctx, convID, companyID, "agent_reply", err)
		r.recordActivity(ctx, lead.ID, leads.Activity{Messages: 1, At: receivedAt(ev)})
		return Outcome{Kind: kind, Action: ActionDropped, Reason: "agent_failed", LeadID: lead.ID}
	}
	r.deps.EventLog.AgentReplied(ctx, convID, companyID, lead.ID, "dm", elapsed.Milliseconds())

	sendCtx, cancelSend := r.outboundContext(ctx)
	deliveryID, err := r.deps.Sender.SendDirectMessage(sendCtx, acct.AccessToken, ev.RecipientID, ev.SenderID, reply)
	cancelSend()
	r.deps.Metrics.ObserveOutbound("dm", err)
	if err != nil {
		r.deps.EventLog.ErrorOccurred(ctx, convID, companyID, "send_dm", err)
	}

	if _, err := r.deps.Session.Append(ctx, convID, []conversation.SessionItem{{
		Sender:      conversation.SenderAssistant,
		Body:        reply,
		Kind:        conversation.KindFollowUp,
		LeadID:      lead.ID,
		ExternalID:  deliveryID,
		FromChannel: true,
	}}); err != nil {
		r.deps.EventLog.ErrorOccurred(ctx, convID, companyID, "append_reply", err)
	}
	r.recordActivity(ctx, lead.ID, leads.Activity{Messages: 2, BotMessage: reply, At: time.Now().UTC()})
	if deliveryID != "" {
		if err := r.deps.Gate.RecordMessage(ctx, companyID); err != nil {
			r.deps.EventLog.ErrorOccurred(ctx, convID, companyID, "record_message_usage", err)
		}
	}
	r.scheduleExtraction(ctx, conversation.ExtractionJob{LeadID: lead.ID, CompanyID: companyID, ConversationID: convID})

	r.deps.EventLog.Decision(ctx, convID, companyID, lead.ID, string(kind), string(ActionReplied), "")
	return out
}

// route applies the checks shared by both paths once a lead exists: human
// ownership, the AI capability and the lead quota. An Outcome with
// ActionReplied means the caller should go on to the agent.
func (r *Router) route(ctx context.Context, kind instagram.EventKind, convID, companyID, leadID string, res leads.UpsertResult, capability entitlement.Capability, fallback func(entitlement.DenyReason) Outcome) Outcome {
	out := Outcome{Kind: kind, LeadID: leadID}
	switch {
	case res.Lead.HasHumanAgent():
		out.Action = ActionHumanHandoff
		out.Reason = "human_agent_assigned"
	default:
		decision, sub := r.authorize(ctx, companyID, capability)
		switch {
		case decision.Reason == reasonEntitlementUnavailable:
			out.Action = ActionDropped
			out.Reason = string(decision.Reason)
		case !decision.Allowed:
			out = fallback(decision.Reason)
		case !withinQuota(sub, res):
			out.Action = ActionQuotaExhausted
			out.Reason = "lead_quota_exhausted"
		default:
			out.Action = ActionReplied
			return out
		}
	}
	r.deps.EventLog.Decision(ctx, convID, companyID, leadID, string(kind), string(out.Action), out.Reason)
	return out
}

// staticDM sends the canned DM once per lead.
func (r *Router) staticDM(ctx context.Context, acct *company.ChannelAccount, ev instagram.MessageEvent, lead *leads.Lead, settings *company.Settings, reason entitlement.DenyReason) Outcome {
	out := Outcome{Kind: instagram.KindMessage, Action: ActionStaticFallback, Reason: string(reason), LeadID: lead.ID}
	claimed, err := r.deps.Leads.ClaimTag(ctx, lead.ID, leads.TagStaticFirstDM)
	if err != nil {
		r.deps.Logger.Error("inbound: claim static reply tag failed", "lead_id", lead.ID, "error", err)
		return out
	}
	if !claimed {
		return out
	}
	sendCtx, cancel := r.outboundContext(ctx)
	defer cancel()
	_, err = r.deps.Sender.SendDirectMessage(sendCtx, acct.AccessToken, ev.RecipientID, ev.SenderID, settings.StaticDMReply)
	r.deps.Metrics.ObserveOutbound("static_dm", err)
	if err != nil {
		r.deps.Logger.Error("inbound: static dm failed", "lead_id", lead.ID, "error", err)
	}
	return out
}

// retrieve renders the company's listings most relevant to query. Retrieval
// failures degrade to no context.
func (r *Router) retrieve(ctx context.Context, companyID, query string) string {
	if r.deps.Retriever == nil {
		return ""
	}
	matches, err := r.deps.Retriever.Search(ctx, companyID, query, r.deps.TopK)
	if err != nil {
		r.deps.Logger.Warn("inbound: listing retrieval failed", "company_id", companyID, "error", err)
		return ""
	}
	return listings.RenderContext(matches)
}

func (r *Router) recordActivity(ctx context.Context, leadID string, a leads.Activity) {
	if err := r.deps.Leads.RecordActivity(ctx, leadID, a); err != nil {
		r.deps.Logger.Warn("inbound: record lead activity failed", "lead_id", leadID, "error", err)
	}
}

func receivedAt(ev instagram.MessageEvent) time.Time {
	if ev.Timestamp.IsZero() {
		return time.Now().UTC()
	}
	return ev.Timestamp
}
