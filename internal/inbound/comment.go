package inbound

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/wolfman30/realestate-lead-ai/internal/channels/instagram"
	"github.com/wolfman30/realestate-lead-ai/internal/company"
	"github.com/wolfman30/realestate-lead-ai/internal/conversation"
	"github.com/wolfman30/realestate-lead-ai/internal/entitlement"
	"github.com/wolfman30/realestate-lead-ai/internal/events"
	"github.com/wolfman30/realestate-lead-ai/internal/leads"
	"github.com/wolfman30/realestate-lead-ai/internal/listings"
)

func (r *Router) handleComment(ctx context.Context, ev instagram.CommentEvent) (out Outcome) {
	kind := instagram.KindComment
	if ev.IsReply() {
		return dropped(kind, "nested_comment")
	}
	claimed, err := r.claim(ctx, ev)
	if err != nil {
		r.deps.Logger.Error("inbound: claim event failed", "comment_id", ev.CommentID, "error", err)
		return dropped(kind, "event_store_unavailable")
	}
	if !claimed {
		return Outcome{Kind: kind, Action: ActionDuplicate, Reason: "event_claimed"}
	}
	// a comment the model could not answer is still consumed
	agentRejected := false
	defer func() {
		status := statusFor(out)
		if agentRejected {
			status = events.StatusProcessed
		}
		r.finish(ctx, ev, status, out.Reason)
	}()

	if ev.MediaID == "" {
		return dropped(kind, "missing_media")
	}
	acct, err := r.deps.Directory.ResolveAccount(ctx, ev.AccountID)
	if err != nil {
		if !errors.Is(err, company.ErrUnknownAccount) {
			r.deps.Logger.Error("inbound: resolve account failed", "account_id", ev.AccountID, "error", err)
		}
		return dropped(kind, "unknown_account")
	}
	companyID := acct.CompanyID
	convID := conversationID(ev.AccountID, ev.FromID)
	r.deps.EventLog.MessageReceived(ctx, convID, companyID, "", string(kind), ev.Text)

	settings, err := r.settings(ctx, companyID)
	if err != nil {
		r.deps.EventLog.ErrorOccurred(ctx, convID, companyID, "load_settings", err)
		return dropped(kind, "settings_unavailable")
	}
	if !settings.EnableCommentReply {
		return dropped(kind, "comment_reply_disabled")
	}
	if decision, _ := r.authorize(ctx, companyID, entitlement.CapabilityCommentAutoResponse); !decision.Allowed {
		return dropped(kind, string(decision.Reason))
	}

	listing := r.listingForPost(ctx, companyID, ev.MediaID)
	req := leads.UpsertRequest{
		CompanyID:         companyID,
		ConversationID:    convID,
		SourceType:        leads.SourceInstagramComment,
		SourcePostID:      ev.MediaID,
		SourceCommentID:   ev.CommentID,
		InstagramUsername: ev.FromUsername,
	}
	if req.InstagramUsername == "" {
		req.InstagramUsername = ev.FromID
	}
	if listing != nil {
		id := listing.ID
		req.ListingID = &id
	}
	res, err := r.deps.Leads.GetOrCreate(ctx, req)
	if err != nil {
		r.deps.EventLog.ErrorOccurred(ctx, convID, companyID, "upsert_lead", err)
		return dropped(kind, "lead_unavailable")
	}
	lead := res.Lead
	if res.Created {
		r.deps.Metrics.ObserveLeadCreated(string(leads.SourceInstagramComment))
		r.deps.EventLog.LeadCreated(ctx, convID, companyID, lead.ID, string(leads.SourceInstagramComment), res.Ordinal)
	}
	r.recordActivity(ctx, lead.ID, leads.Activity{CustomerMessage: ev.Text, At: time.Now().UTC()})

	out = r.route(ctx, kind, convID, companyID, lead.ID, res, entitlement.CapabilityCommentAIResponse, func(reason entitlement.DenyReason) Outcome {
		r.staticCommentReply(ctx, acct, ev, settings)
		return Outcome{Kind: kind, Action: ActionStaticFallback, Reason: string(reason), LeadID: lead.ID}
	})
	if out.Action != ActionReplied {
		return out
	}

	var listingContext string
	if listing != nil {
		listingContext = listing.Summary()
	}
	agentCtx, cancel := context.WithTimeout(ctx, r.deps.AgentTimeout)
	started := time.Now()
	reply, err := r.deps.Agent.CommentReply(agentCtx, conversation.CommentRequest{
		CompanyName: acct.CompanyName,
		Username:    ev.FromUsername,
		Comment:     ev.Text,
		Context:     listingContext,
	})
	cancel()
	elapsed := time.Since(started)
	r.deps.Metrics.ObserveAgentLatency("comment", elapsed.Seconds())
	if err != nil {
		r.deps.EventLog.ErrorOccurred(ctx, convID, companyID, "agent_comment_reply", err)
		if errors.Is(err, conversation.ErrInvalidCommentReply) {
			agentRejected = true
			return Outcome{Kind: kind, Action: ActionDropped, Reason: "invalid_agent_output", LeadID: lead.ID}
		}
		return Outcome{Kind: kind, Action: ActionDropped, Reason: "agent_failed", LeadID: lead.ID}
	}
	r.deps.EventLog.AgentReplied(ctx, convID, companyID, lead.ID, "comment", elapsed.Milliseconds())

	sendCtx, cancelSend := r.outboundContext(ctx)
	_, err = r.deps.Sender.SendPublicReply(sendCtx, acct.AccessToken, ev.CommentID, reply.CommentReply)
	cancelSend()
	r.deps.Metrics.ObserveOutbound("comment_reply", err)
	if err != nil {
		r.deps.EventLog.ErrorOccurred(ctx, convID, companyID, "send_comment_reply", err)
	}
	sendCtx, cancelSend = r.outboundContext(ctx)
	deliveryID, err := r.deps.Sender.SendCommentDM(sendCtx, acct.AccessToken, ev.AccountID, ev.CommentID, reply.FirstDM)
	cancelSend()
	r.deps.Metrics.ObserveOutbound("comment_dm", err)
	if err != nil {
		r.deps.EventLog.ErrorOccurred(ctx, convID, companyID, "send_comment_dm", err)
	}

	if res.Created {
		handoff := strings.TrimSpace(reply.ContextForDMHandler)
		if handoff == "" {
			handoff = CommentContextFallback
		}
		if _, err := r.deps.Session.Append(ctx, convID, []conversation.SessionItem{
			{Sender: conversation.SenderAssistant, Body: commentContextPrefix + handoff, Kind: conversation.KindContext, LeadID: lead.ID},
			{Sender: conversation.SenderAssistant, Body: reply.FirstDM, Kind: conversation.KindContext, LeadID: lead.ID, ExternalID: deliveryID, FromChannel: true},
		}); err != nil {
			r.deps.EventLog.ErrorOccurred(ctx, convID, companyID, "append_comment_context", err)
		}
		r.recordActivity(ctx, lead.ID, leads.Activity{Messages: 2, BotMessage: reply.FirstDM, At: time.Now().UTC()})
	}
	if deliveryID != "" {
		if err := r.deps.Gate.RecordMessage(ctx, companyID); err != nil {
			r.deps.EventLog.ErrorOccurred(ctx, convID, companyID, "record_message_usage", err)
		}
	}

	r.deps.EventLog.Decision(ctx, convID, companyID, lead.ID, string(kind), string(ActionReplied), "")
	return out
}

// staticCommentReply sends the canned public reply and follow-up DM. Each is
// attempted regardless of the other, under its own deadline.
func (r *Router) staticCommentReply(ctx context.Context, acct *company.ChannelAccount, ev instagram.CommentEvent, settings *company.Settings) {
	sendCtx, cancel := r.outboundContext(ctx)
	_, err := r.deps.Sender.SendPublicReply(sendCtx, acct.AccessToken, ev.CommentID, settings.StaticCommentReply)
	cancel()
	r.deps.Metrics.ObserveOutbound("static_comment_reply", err)
	if err != nil {
		r.deps.Logger.Error("inbound: static comment reply failed", "comment_id", ev.CommentID, "error", err)
	}
	sendCtx, cancel = r.outboundContext(ctx)
	defer cancel()
	_, err = r.deps.Sender.SendCommentDM(sendCtx, acct.AccessToken, ev.AccountID, ev.CommentID, settings.StaticCommentFollowupDM)
	r.deps.Metrics.ObserveOutbound("static_comment_dm", err)
	if err != nil {
		r.deps.Logger.Error("inbound: static comment dm failed", "comment_id", ev.CommentID, "error", err)
	}
}

// listingForPost returns the company's listing advertised by postID, or nil.
func (r *Router) listingForPost(ctx context.Context, companyID, postID string) *listings.Listing {
	if r.deps.Listings == nil {
		return nil
	}
	l, err := r.deps.Listings.GetByPostID(ctx, postID)
	if err != nil {
		if !errors.Is(err, listings.ErrListingNotFound) {
			r.deps.Logger.Warn("inbound: listing lookup failed", "post_id", postID, "error", err)
		}
		return nil
	}
	if l == nil || l.CompanyID != companyID {
		return nil
	}
	return l
}
