// Package inbound routes classified Instagram webhook events to leads, the
// qualification agent and outbound replies.
package inbound

import (
	"context"
	"encoding/json"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/wolfman30/realestate-lead-ai/internal/channels/instagram"
	"github.com/wolfman30/realestate-lead-ai/internal/company"
	"github.com/wolfman30/realestate-lead-ai/internal/conversation"
	"github.com/wolfman30/realestate-lead-ai/internal/entitlement"
	"github.com/wolfman30/realestate-lead-ai/internal/events"
	"github.com/wolfman30/realestate-lead-ai/internal/leads"
	"github.com/wolfman30/realestate-lead-ai/internal/listings"
	"github.com/wolfman30/realestate-lead-ai/internal/observability/metrics"
	"github.com/wolfman30/realestate-lead-ai/pkg/logging"
)

const (
	defaultTopK            = 10
	defaultConcurrency     = 4
	defaultAgentTimeout    = 20 * time.Second
	defaultOutboundTimeout = 10 * time.Second

	// CommentContextFallback is the DM handoff note used when the model
	// leaves context_for_dm_handler empty.
	CommentContextFallback = "This conversation is initiated via Instagram comment"
	commentContextPrefix   = "Context for chat : "
)

// Action is the terminal state an event reached.
type Action string

const (
	ActionDropped        Action = "dropped"
	ActionDuplicate      Action = "duplicate"
	ActionHumanHandoff   Action = "human_handoff"
	ActionStaticFallback Action = "static_fallback"
	ActionQuotaExhausted Action = "quota_exhausted"
	ActionReplied        Action = "replied"
)

// Outcome records what the router did with one event.
type Outcome struct {
	Kind   instagram.EventKind
	Action Action
	Reason string
	LeadID string
}

func dropped(kind instagram.EventKind, reason string) Outcome {
	return Outcome{Kind: kind, Action: ActionDropped, Reason: reason}
}

// Gate authorizes capabilities against a company's live subscription.
type Gate interface {
	Check(ctx context.Context, companyID string, capability entitlement.Capability, usage int) (entitlement.Decision, *entitlement.Subscription, error)
	RecordMessage(ctx context.Context, companyID string) error
}

// LeadStore is the slice of the lead repository the router writes through.
type LeadStore interface {
	GetOrCreate(ctx context.Context, req leads.UpsertRequest) (leads.UpsertResult, error)
	RecordActivity(ctx context.Context, leadID string, a leads.Activity) error
	ClaimTag(ctx context.Context, leadID, tag string) (bool, error)
}

// Agent produces DM replies and structured comment replies.
type Agent interface {
	Reply(ctx context.Context, req conversation.ReplyRequest) (string, error)
	CommentReply(ctx context.Context, req conversation.CommentRequest) (*conversation.CommentReply, error)
	HistoryLimit() int
}

// ListingLookup finds the listing a post advertises.
type ListingLookup interface {
	GetByPostID(ctx context.Context, postID string) (*listings.Listing, error)
}

// Sender delivers outbound Instagram messages. *instagram.Client implements it.
type Sender interface {
	SendDirectMessage(ctx context.Context, accessToken, accountID, recipientID, text string) (string, error)
	SendCommentDM(ctx context.Context, accessToken, accountID, commentID, text string) (string, error)
	SendPublicReply(ctx context.Context, accessToken, commentID, text string) (string, error)
}

var _ Sender = (*instagram.Client)(nil)

// Deps are the router's collaborators. Retriever, Listings, Extraction,
// Metrics and EventLog are optional.
type Deps struct {
	Events     events.Store
	Directory  company.Directory
	Settings   company.SettingsStore
	Gate       Gate
	Leads      LeadStore
	Session    conversation.Session
	Agent      Agent
	Sender     Sender
	Retriever  listings.Retriever
	Listings   ListingLookup
	Extraction conversation.ExtractionScheduler
	Metrics    *metrics.LeadMetrics
	EventLog   *conversation.EventLogger
	Logger     *logging.Logger

	TopK            int
	Concurrency     int
	AgentTimeout    time.Duration
	OutboundTimeout time.Duration
}

// Router is the per-event state machine behind the Instagram webhook.
type Router struct {
	deps Deps
}

var _ instagram.EventHandler = (*Router)(nil)

// New creates a router. It panics when a required collaborator is missing.
func New(deps Deps) *Router {
	if deps.Events == nil || deps.Directory == nil || deps.Settings == nil || deps.Gate == nil {
		panic("inbound: events, directory, settings and gate are required")
	}
	if deps.Leads == nil || deps.Session == nil || deps.Agent == nil || deps.Sender == nil {
		panic("inbound: leads, session, agent and sender are required")
	}
	if deps.Logger == nil {
		deps.Logger = logging.Default()
	}
	if deps.EventLog == nil {
		deps.EventLog = conversation.NewEventLogger(deps.Logger)
	}
	if deps.TopK <= 0 {
		deps.TopK = defaultTopK
	}
	if deps.Concurrency <= 0 {
		deps.Concurrency = defaultConcurrency
	}
	if deps.AgentTimeout <= 0 {
		deps.AgentTimeout = defaultAgentTimeout
	}
	if deps.OutboundTimeout <= 0 {
		deps.OutboundTimeout = defaultOutboundTimeout
	}
	return &Router{deps: deps}
}

// HandleBatch routes the events of one delivery independently.
func (r *Router) HandleBatch(ctx context.Context, batch []instagram.Event) {
	var g errgroup.Group
	g.SetLimit(r.deps.Concurrency)
	for _, ev := range batch {
		g.Go(func() error {
			r.Handle(ctx, ev)
			return nil
		})
	}
	_ = g.Wait()
}

// Handle routes a single event and reports where it ended up.
func (r *Router) Handle(ctx context.Context, ev instagram.Event) Outcome {
	var out Outcome
	switch e := ev.(type) {
	case instagram.MessageEvent:
		out = r.handleMessage(ctx, e)
	case instagram.CommentEvent:
		out = r.handleComment(ctx, e)
	case instagram.UnknownEvent:
		out = dropped(instagram.KindUnknown, e.Reason)
	default:
		out = dropped(instagram.KindUnknown, "unsupported_event")
	}
	r.deps.Metrics.ObserveInbound(string(out.Kind), string(out.Action))
	r.deps.Logger.Debug("inbound: event routed",
		"kind", out.Kind,
		"action", out.Action,
		"reason", out.Reason,
		"external_id", ev.ExternalID(),
	)
	return out
}

// claim records the event and reports whether this delivery owns it.
func (r *Router) claim(ctx context.Context, ev instagram.Event) (bool, error) {
	payload, _ := json.Marshal(ev)
	return r.deps.Events.Claim(ctx, events.Record{
		Provider:  events.ProviderInstagram,
		EventID:   ev.ExternalID(),
		EventType: string(ev.Kind()),
		Payload:   payload,
	})
}

// finish finalizes the event record for a claimed event. It runs detached
// from ctx so an expired request still leaves a terminal status behind.
func (r *Router) finish(ctx context.Context, ev instagram.Event, status events.Status, reason string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.deps.OutboundTimeout)
	defer cancel()
	if err := r.deps.Events.Finish(ctx, events.ProviderInstagram, ev.ExternalID(), status, reason); err != nil {
		r.deps.Logger.Error("inbound: finalize event record failed", "event_id", ev.ExternalID(), "error", err)
	}
}

func statusFor(out Outcome) events.Status {
	if out.Action == ActionDropped {
		return events.StatusDropped
	}
	return events.StatusProcessed
}

// reasonEntitlementUnavailable marks a check that never reached a decision.
// Such events are dropped rather than answered with a fallback.
const reasonEntitlementUnavailable entitlement.DenyReason = "entitlement_unavailable"

// authorize runs a capability check, treating store failures as denials.
func (r *Router) authorize(ctx context.Context, companyID string, capability entitlement.Capability) (entitlement.Decision, *entitlement.Subscription) {
	decision, sub, err := r.deps.Gate.Check(ctx, companyID, capability, 0)
	if err != nil {
		r.deps.Logger.Error("inbound: entitlement check failed", "company_id", companyID, "capability", capability, "error", err)
		return entitlement.Decision{Reason: reasonEntitlementUnavailable}, nil
	}
	return decision, sub
}

// withinQuota applies the lead quota: a new lead by its creation ordinal, an
// existing one by the live leads_used counter.
func withinQuota(sub *entitlement.Subscription, res leads.UpsertResult) bool {
	if res.Created {
		return sub.WithinQuota(res.Ordinal)
	}
	return sub.WithinQuota(sub.LeadsUsed)
}

func (r *Router) settings(ctx context.Context, companyID string) (*company.Settings, error) {
	s, err := r.deps.Settings.Get(ctx, companyID)
	if err != nil {
		return nil, err
	}
	if s == nil {
		s = company.DefaultSettings(companyID)
	}
	return s, nil
}

func (r *Router) outboundContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, r.deps.OutboundTimeout)
}

func (r *Router) scheduleExtraction(ctx context.Context, job conversation.ExtractionJob) {
	if r.deps.Extraction == nil {
		return
	}
	if err := r.deps.Extraction.ScheduleExtraction(ctx, job); err != nil {
		r.deps.EventLog.ErrorOccurred(ctx, job.ConversationID, job.CompanyID, "schedule_extraction", err)
	}
}

func conversationID(accountID, userID string) string {
	return accountID + "_" + userID
}
