package inbound

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/realestate-lead-ai/internal/channels/instagram"
	"github.com/wolfman30/realestate-lead-ai/internal/company"
	"github.com/wolfman30/realestate-lead-ai/internal/conversation"
	"github.com/wolfman30/realestate-lead-ai/internal/entitlement"
	"github.com/wolfman30/realestate-lead-ai/internal/events"
	"github.com/wolfman30/realestate-lead-ai/internal/leads"
	"github.com/wolfman30/realestate-lead-ai/internal/listings"
	"github.com/wolfman30/realestate-lead-ai/pkg/logging"
)

const (
	testAccount = "acct_1"
	testCompany = "co-1"
)

var allCapabilities = []entitlement.Capability{
	entitlement.CapabilityDM,
	entitlement.CapabilityDMAIReply,
	entitlement.CapabilityCommentAutoResponse,
	entitlement.CapabilityCommentAIResponse,
}

type sentMessage struct {
	Op     string
	Token  string
	Target string
	Text   string
}

type fakeSender struct {
	mu    sync.Mutex
	sent  []sentMessage
	dmErr error
}

func (f *fakeSender) record(op, token, target, text string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentMessage{Op: op, Token: token, Target: target, Text: text})
	return fmt.Sprintf("out_%d", len(f.sent))
}

func (f *fakeSender) SendDirectMessage(_ context.Context, token, _, recipientID, text string) (string, error) {
	id := f.record("dm", token, recipientID, text)
	if f.dmErr != nil {
		return "", f.dmErr
	}
	return id, nil
}

func (f *fakeSender) SendCommentDM(_ context.Context, token, _, commentID, text string) (string, error) {
	return f.record("comment_dm", token, commentID, text), nil
}

func (f *fakeSender) SendPublicReply(_ context.Context, token, commentID, text string) (string, error) {
	return f.record("comment_reply", token, commentID, text), nil
}

func (f *fakeSender) messages() []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentMessage(nil), f.sent...)
}

type fakeAgent struct {
	mu          sync.Mutex
	reply       string
	replyErr    error
	comment     *conversation.CommentReply
	commentErr  error
	replyReqs   []conversation.ReplyRequest
	commentReqs []conversation.CommentRequest
}

func (a *fakeAgent) Reply(_ context.Context, req conversation.ReplyRequest) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.replyReqs = append(a.replyReqs, req)
	return a.reply, a.replyErr
}

func (a *fakeAgent) CommentReply(_ context.Context, req conversation.CommentRequest) (*conversation.CommentReply, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.commentReqs = append(a.commentReqs, req)
	return a.comment, a.commentErr
}

func (a *fakeAgent) HistoryLimit() int { return 20 }

func (a *fakeAgent) calls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.replyReqs) + len(a.commentReqs)
}

type staticRetriever struct {
	matches []listings.Match
	err     error
}

func (s staticRetriever) Search(context.Context, string, string, int) ([]listings.Match, error) {
	return s.matches, s.err
}

type recordingScheduler struct {
	mu   sync.Mutex
	jobs []conversation.ExtractionJob
}

func (s *recordingScheduler) ScheduleExtraction(_ context.Context, job conversation.ExtractionJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs = append(s.jobs, job)
	return nil
}

type harness struct {
	router    *Router
	events    *events.MemoryStore
	subs      *entitlement.MemoryStore
	leads     *leads.InMemoryRepository
	session   *conversation.MemorySession
	settings  *company.MemorySettingsStore
	listings  *listings.MemoryRepository
	sender    *fakeSender
	agent     *fakeAgent
	scheduler *recordingScheduler
}

func activeSubscription(quota int, caps ...entitlement.Capability) *entitlement.Subscription {
	now := time.Now().UTC()
	features := make([]entitlement.Feature, 0, len(caps))
	for _, c := range caps {
		features = append(features, entitlement.Feature{Name: c})
	}
	return &entitlement.Subscription{
		ID:        "sub-1",
		CompanyID: testCompany,
		PlanID:    "growth",
		Status:    entitlement.StatusActive,
		StartDate: now.Add(-time.Hour),
		EndDate:   now.Add(30 * 24 * time.Hour),
		LeadQuota: quota,
		Features:  features,
	}
}

func newHarness(t *testing.T, sub *entitlement.Subscription, opts ...func(*Deps)) *harness {
	t.Helper()
	h := &harness{
		events:    events.NewMemoryStore(),
		subs:      entitlement.NewMemoryStore(),
		session:   conversation.NewMemorySession(),
		settings:  company.NewMemorySettingsStore(),
		listings:  listings.NewMemoryRepository(),
		sender:    &fakeSender{},
		agent:     &fakeAgent{reply: "Happy to help! What budget do you have in mind?"},
		scheduler: &recordingScheduler{},
	}
	if sub != nil {
		require.NoError(t, h.subs.Save(context.Background(), sub))
	}
	h.leads = leads.NewInMemoryRepository(h.subs)
	deps := Deps{
		Events: h.events,
		Directory: company.NewMemoryDirectory(company.ChannelAccount{
			AccountID:   testAccount,
			CompanyID:   testCompany,
			CompanyName: "Chennai Homes",
			AccessToken: "page-token",
		}),
		Settings:   h.settings,
		Gate:       entitlement.NewGate(h.subs),
		Leads:      h.leads,
		Session:    h.session,
		Agent:      h.agent,
		Sender:     h.sender,
		Listings:   h.listings,
		Extraction: h.scheduler,
		Logger:     logging.Discard(),
	}
	for _, opt := range opts {
		opt(&deps)
	}
	h.router = New(deps)
	return h
}

// unavailableGate fails checks for the listed capabilities as a broken
// subscription store would.
type unavailableGate struct {
	Gate
	failing map[entitlement.Capability]bool
}

func (g unavailableGate) Check(ctx context.Context, companyID string, c entitlement.Capability, usage int) (entitlement.Decision, *entitlement.Subscription, error) {
	if g.failing[c] {
		return entitlement.Decision{}, nil, errors.New("subscriptions: connection refused")
	}
	return g.Gate.Check(ctx, companyID, c, usage)
}

func withUnavailable(caps ...entitlement.Capability) func(*Deps) {
	return func(d *Deps) {
		failing := make(map[entitlement.Capability]bool, len(caps))
		for _, c := range caps {
			failing[c] = true
		}
		d.Gate = unavailableGate{Gate: d.Gate, failing: failing}
	}
}

// deadlineSender holds the public reply until its deadline passes and notes
// whether the private DM still had time left.
type deadlineSender struct {
	*fakeSender
	dmCtxErr error
}

func (s *deadlineSender) SendPublicReply(ctx context.Context, token, commentID, text string) (string, error) {
	<-ctx.Done()
	s.record("comment_reply", token, commentID, text)
	return "", ctx.Err()
}

func (s *deadlineSender) SendCommentDM(ctx context.Context, token, accountID, commentID, text string) (string, error) {
	s.mu.Lock()
	s.dmCtxErr = ctx.Err()
	s.mu.Unlock()
	return s.fakeSender.SendCommentDM(ctx, token, accountID, commentID, text)
}

func (h *harness) subscription(t *testing.T) *entitlement.Subscription {
	t.Helper()
	sub, err := h.subs.GetByCompany(context.Background(), testCompany)
	require.NoError(t, err)
	return sub
}

func (h *harness) record(t *testing.T, eventID string) *events.Record {
	t.Helper()
	rec, err := h.events.Get(context.Background(), events.ProviderInstagram, eventID)
	require.NoError(t, err)
	return rec
}

func dm(sender, mid, text string) instagram.MessageEvent {
	return instagram.MessageEvent{
		SenderID:    sender,
		RecipientID: testAccount,
		Text:        text,
		MessageID:   mid,
		Timestamp:   time.Now().UTC(),
	}
}

func comment(from, commentID, media, text string) instagram.CommentEvent {
	return instagram.CommentEvent{
		AccountID:    testAccount,
		CommentID:    commentID,
		Text:         text,
		FromID:       from,
		FromUsername: from + ".ig",
		MediaID:      media,
	}
}

func TestMessageNewLeadGetsAIReply(t *testing.T) {
	h := newHarness(t, activeSubscription(10, allCapabilities...))
	ctx := context.Background()

	out := h.router.Handle(ctx, dm("user_1", "mid_1", "Looking for a 3BHK in Adyar"))

	assert.Equal(t, ActionReplied, out.Action)
	require.NotEmpty(t, out.LeadID)

	sent := h.sender.messages()
	require.Len(t, sent, 1)
	assert.Equal(t, sentMessage{Op: "dm", Token: "page-token", Target: "user_1", Text: h.agent.reply}, sent[0])

	msgs, err := h.session.Messages(ctx, testAccount+"_user_1")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, conversation.SenderUser, msgs[0].Sender)
	assert.Equal(t, conversation.KindInitialInquiry, msgs[0].Kind)
	assert.Equal(t, "mid_1", msgs[0].ExternalID)
	assert.Equal(t, conversation.SenderAssistant, msgs[1].Sender)
	assert.Equal(t, "out_1", msgs[1].ExternalID)

	lead, err := h.leads.GetByConversation(ctx, testCompany, testAccount+"_user_1")
	require.NoError(t, err)
	assert.Equal(t, leads.SourceInstagramDM, lead.SourceType)
	assert.Equal(t, 2, lead.TotalMessages)
	assert.Equal(t, h.agent.reply, lead.LastBotMessage)

	sub := h.subscription(t)
	assert.Equal(t, 1, sub.LeadsUsed)
	assert.Equal(t, 1, sub.MessagesUsed)

	assert.Equal(t, events.StatusProcessed, h.record(t, "mid_1").Status)
	require.Len(t, h.scheduler.jobs, 1)
	assert.Equal(t, lead.ID, h.scheduler.jobs[0].LeadID)
	assert.Equal(t, "Chennai Homes", h.agent.replyReqs[0].CompanyName)
}

func TestMessageFollowUpKeepsHistory(t *testing.T) {
	h := newHarness(t, activeSubscription(10, allCapabilities...))
	ctx := context.Background()

	h.router.Handle(ctx, dm("user_1", "mid_1", "Hi"))
	out := h.router.Handle(ctx, dm("user_1", "mid_2", "Budget is 80 lakhs"))

	assert.Equal(t, ActionReplied, out.Action)
	require.Len(t, h.agent.replyReqs, 2)
	history := h.agent.replyReqs[1].History
	require.Len(t, history, 3)
	assert.Equal(t, "Budget is 80 lakhs", history[2].Content)

	msgs, err := h.session.Messages(ctx, testAccount+"_user_1")
	require.NoError(t, err)
	assert.Equal(t, conversation.KindFollowUp, msgs[2].Kind)
	assert.Equal(t, 1, h.subscription(t).LeadsUsed)
}

func TestMessageDuplicateDeliveryIsIgnored(t *testing.T) {
	h := newHarness(t, activeSubscription(10, allCapabilities...))
	ctx := context.Background()
	ev := dm("user_1", "mid_1", "Hello")

	first := h.router.Handle(ctx, ev)
	second := h.router.Handle(ctx, ev)

	assert.Equal(t, ActionReplied, first.Action)
	assert.Equal(t, ActionDuplicate, second.Action)
	assert.Len(t, h.sender.messages(), 1)
	assert.Equal(t, 1, h.subscription(t).LeadsUsed)
}

func TestMessageConcurrentDuplicatesProcessOnce(t *testing.T) {
	h := newHarness(t, activeSubscription(10, allCapabilities...))
	ev := dm("user_1", "mid_1", "Hello")

	h.router.HandleBatch(context.Background(), []instagram.Event{ev, ev, ev, ev, ev})

	assert.Len(t, h.sender.messages(), 1)
	assert.Equal(t, 1, h.agent.calls())
	assert.Equal(t, 1, h.subscription(t).LeadsUsed)
}

func TestMessageDropped(t *testing.T) {
	tests := []struct {
		name   string
		sub    *entitlement.Subscription
		setup  func(h *harness)
		event  instagram.MessageEvent
		reason string
	}{
		{
			name:   "missing recipient",
			sub:    activeSubscription(10, allCapabilities...),
			event:  instagram.MessageEvent{SenderID: "u", MessageID: "m", Text: "hi"},
			reason: "missing_recipient",
		},
		{
			name: "unknown account",
			sub:  activeSubscription(10, allCapabilities...),
			event: instagram.MessageEvent{
				SenderID: "u", RecipientID: "someone_else", MessageID: "m", Text: "hi",
			},
			reason: "unknown_account",
		},
		{
			name: "dm responses switched off",
			sub:  activeSubscription(10, allCapabilities...),
			setup: func(h *harness) {
				s := company.DefaultSettings(testCompany)
				s.EnableDMResponse = false
				require.NoError(t, h.settings.Set(context.Background(), s))
			},
			event:  dm("u", "m", "hi"),
			reason: "dm_disabled",
		},
		{
			name:   "no subscription",
			event:  dm("u", "m", "hi"),
			reason: string(entitlement.ReasonNoSubscription),
		},
		{
			name:   "dm capability missing",
			sub:    activeSubscription(10, entitlement.CapabilityDMAIReply),
			event:  dm("u", "m", "hi"),
			reason: string(entitlement.ReasonCapabilityMissing),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, tt.sub)
			if tt.setup != nil {
				tt.setup(h)
			}
			out := h.router.Handle(context.Background(), tt.event)
			assert.Equal(t, ActionDropped, out.Action)
			assert.Equal(t, tt.reason, out.Reason)
			assert.Empty(t, h.sender.messages())
			assert.Zero(t, h.agent.calls())
			list, err := h.leads.List(context.Background(), leads.ListFilter{CompanyID: testCompany})
			require.NoError(t, err)
			assert.Empty(t, list)
		})
	}
}

func TestMessageDroppedEventIsFinalized(t *testing.T) {
	h := newHarness(t, nil)
	h.router.Handle(context.Background(), dm("u", "mid_9", "hi"))

	rec := h.record(t, "mid_9")
	assert.Equal(t, events.StatusDropped, rec.Status)
	assert.Equal(t, string(entitlement.ReasonNoSubscription), rec.Reason)
	assert.NotNil(t, rec.ProcessedAt)
}

func TestStaticFallbackSentOncePerLead(t *testing.T) {
	h := newHarness(t, activeSubscription(10, entitlement.CapabilityDM))
	ctx := context.Background()

	first := h.router.Handle(ctx, dm("user_1", "mid_1", "Hi"))
	second := h.router.Handle(ctx, dm("user_1", "mid_2", "Anyone there?"))

	assert.Equal(t, ActionStaticFallback, first.Action)
	assert.Equal(t, ActionStaticFallback, second.Action)
	assert.Equal(t, string(entitlement.ReasonCapabilityMissing), first.Reason)

	sent := h.sender.messages()
	require.Len(t, sent, 1)
	assert.Equal(t, company.DefaultStaticDMReply, sent[0].Text)
	assert.Zero(t, h.agent.calls())

	lead, err := h.leads.GetByConversation(ctx, testCompany, testAccount+"_user_1")
	require.NoError(t, err)
	assert.Contains(t, lead.Tags, leads.TagStaticFirstDM)
	assert.Equal(t, 1, h.subscription(t).LeadsUsed)
}

func TestStaticFallbackConcurrentDeliveries(t *testing.T) {
	h := newHarness(t, activeSubscription(10, entitlement.CapabilityDM))
	batch := make([]instagram.Event, 0, 6)
	for i := range 6 {
		batch = append(batch, dm("user_1", fmt.Sprintf("mid_%d", i), "hello"))
	}

	h.router.HandleBatch(context.Background(), batch)

	assert.Len(t, h.sender.messages(), 1)
}

func TestLeadQuotaServesOnlyFirstLeads(t *testing.T) {
	h := newHarness(t, activeSubscription(2, allCapabilities...))
	ctx := context.Background()

	var actions []Action
	for i := 1; i <= 3; i++ {
		out := h.router.Handle(ctx, dm(fmt.Sprintf("user_%d", i), fmt.Sprintf("mid_%d", i), "hi"))
		actions = append(actions, out.Action)
	}

	assert.Equal(t, []Action{ActionReplied, ActionReplied, ActionQuotaExhausted}, actions)
	assert.Len(t, h.sender.messages(), 2)
	assert.Equal(t, 3, h.subscription(t).LeadsUsed)
}

func TestLeadQuotaUnderConcurrency(t *testing.T) {
	h := newHarness(t, activeSubscription(2, allCapabilities...))
	batch := make([]instagram.Event, 0, 5)
	for i := range 5 {
		batch = append(batch, dm(fmt.Sprintf("user_%d", i), fmt.Sprintf("mid_%d", i), "hi"))
	}

	h.router.HandleBatch(context.Background(), batch)

	assert.Len(t, h.sender.messages(), 2)
	assert.Equal(t, 5, h.subscription(t).LeadsUsed)
}

func TestZeroQuotaNeverReplies(t *testing.T) {
	h := newHarness(t, activeSubscription(0, allCapabilities...))
	out := h.router.Handle(context.Background(), dm("user_1", "mid_1", "hi"))

	assert.Equal(t, ActionQuotaExhausted, out.Action)
	assert.Empty(t, h.sender.messages())
	assert.Equal(t, events.StatusProcessed, h.record(t, "mid_1").Status)
}

func TestHumanHandoffSilencesAgent(t *testing.T) {
	h := newHarness(t, activeSubscription(10, allCapabilities...))
	ctx := context.Background()

	first := h.router.Handle(ctx, dm("user_1", "mid_1", "hi"))
	_, err := h.leads.SetHandoff(ctx, first.LeadID, leads.HandoffUpdate{RequiresHuman: true, AgentID: "agent-7"})
	require.NoError(t, err)

	out := h.router.Handle(ctx, dm("user_1", "mid_2", "can I call someone?"))

	assert.Equal(t, ActionHumanHandoff, out.Action)
	assert.Equal(t, 1, h.agent.calls())
	assert.Len(t, h.sender.messages(), 1)
}

func TestAgentFailureSendsNothing(t *testing.T) {
	h := newHarness(t, activeSubscription(10, allCapabilities...))
	h.agent.replyErr = errors.New("model timeout")
	ctx := context.Background()

	out := h.router.Handle(ctx, dm("user_1", "mid_1", "hi"))

	assert.Equal(t, ActionDropped, out.Action)
	assert.Equal(t, "agent_failed", out.Reason)
	assert.Empty(t, h.sender.messages())
	msgs, err := h.session.Messages(ctx, testAccount+"_user_1")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, conversation.SenderUser, msgs[0].Sender)
	assert.Zero(t, h.subscription(t).MessagesUsed)
}

func TestSendFailureStillRecordsReply(t *testing.T) {
	h := newHarness(t, activeSubscription(10, allCapabilities...))
	h.sender.dmErr = errors.New("graph api down")
	ctx := context.Background()

	out := h.router.Handle(ctx, dm("user_1", "mid_1", "hi"))

	assert.Equal(t, ActionReplied, out.Action)
	msgs, err := h.session.Messages(ctx, testAccount+"_user_1")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Empty(t, msgs[1].ExternalID)
	assert.Zero(t, h.subscription(t).MessagesUsed)
}

func TestRetrievedListingsReachAgent(t *testing.T) {
	h := newHarness(t, activeSubscription(10, allCapabilities...))
	h.router.deps.Retriever = staticRetriever{matches: []listings.Match{
		{Listing: &listings.Listing{Title: "Sea-facing 3BHK", Location: "Besant Nagar"}, Score: 0.91},
	}}

	h.router.Handle(context.Background(), dm("user_1", "mid_1", "anything near the beach?"))

	require.Len(t, h.agent.replyReqs, 1)
	assert.Contains(t, h.agent.replyReqs[0].Context, "Sea-facing 3BHK")
}

func TestRetrievalFailureDegradesToNoContext(t *testing.T) {
	h := newHarness(t, activeSubscription(10, allCapabilities...))
	h.router.deps.Retriever = staticRetriever{err: errors.New("embedding service down")}

	out := h.router.Handle(context.Background(), dm("user_1", "mid_1", "hi"))

	assert.Equal(t, ActionReplied, out.Action)
	assert.Empty(t, h.agent.replyReqs[0].Context)
}

func TestCommentRepliedPubliclyAndPrivately(t *testing.T) {
	h := newHarness(t, activeSubscription(10, allCapabilities...))
	ctx := context.Background()
	price := 12500000.0
	listing, err := h.listings.Upsert(ctx, &listings.Listing{
		CompanyID:       testCompany,
		Title:           "3BHK Villa in ECR",
		Price:           &price,
		InstagramPostID: "media_77",
	})
	require.NoError(t, err)
	h.agent.comment = &conversation.CommentReply{
		CommentReply:        "Sent you the details in DM!",
		FirstDM:             "Hi! The ECR villa is still available. When are you planning to buy?",
		ContextForDMHandler: "Asked for price of ECR villa",
	}

	out := h.router.Handle(ctx, comment("user_9", "c_100", "media_77", "Price please?"))

	assert.Equal(t, ActionReplied, out.Action)
	sent := h.sender.messages()
	require.Len(t, sent, 2)
	assert.Equal(t, sentMessage{Op: "comment_reply", Token: "page-token", Target: "c_100", Text: "Sent you the details in DM!"}, sent[0])
	assert.Equal(t, "comment_dm", sent[1].Op)
	assert.Equal(t, h.agent.comment.FirstDM, sent[1].Text)

	require.Len(t, h.agent.commentReqs, 1)
	assert.Contains(t, h.agent.commentReqs[0].Context, "3BHK Villa in ECR")
	assert.Equal(t, "user_9.ig", h.agent.commentReqs[0].Username)

	lead, err := h.leads.GetByConversation(ctx, testCompany, testAccount+"_user_9")
	require.NoError(t, err)
	assert.Equal(t, leads.SourceInstagramComment, lead.SourceType)
	require.NotNil(t, lead.ListingID)
	assert.Equal(t, listing.ID, *lead.ListingID)
	assert.Equal(t, "c_100", lead.SourceCommentID)

	msgs, err := h.session.Messages(ctx, testAccount+"_user_9")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "Context for chat : Asked for price of ECR villa", msgs[0].Body)
	assert.Equal(t, h.agent.comment.FirstDM, msgs[1].Body)
	assert.Equal(t, "out_2", msgs[1].ExternalID)
	for _, m := range msgs {
		assert.Equal(t, conversation.SenderAssistant, m.Sender)
		assert.Equal(t, conversation.KindContext, m.Kind)
	}
	assert.Equal(t, events.StatusProcessed, h.record(t, "c_100").Status)
}

func TestCommentContextFallback(t *testing.T) {
	h := newHarness(t, activeSubscription(10, allCapabilities...))
	h.agent.comment = &conversation.CommentReply{CommentReply: "Check DM", FirstDM: "Hi there"}

	h.router.Handle(context.Background(), comment("user_9", "c_1", "media_1", "Interested"))

	msgs, err := h.session.Messages(context.Background(), testAccount+"_user_9")
	require.NoError(t, err)
	require.NotEmpty(t, msgs)
	assert.Equal(t, "Context for chat : "+CommentContextFallback, msgs[0].Body)
}

func TestCommentFromExistingLeadAddsNoContextMessages(t *testing.T) {
	h := newHarness(t, activeSubscription(10, allCapabilities...))
	ctx := context.Background()
	h.agent.comment = &conversation.CommentReply{CommentReply: "Check DM", FirstDM: "Hi there"}

	h.router.Handle(ctx, comment("user_9", "c_1", "media_1", "Interested"))
	out := h.router.Handle(ctx, comment("user_9", "c_2", "media_2", "This one too"))

	assert.Equal(t, ActionReplied, out.Action)
	assert.Len(t, h.sender.messages(), 4)
	msgs, err := h.session.Messages(ctx, testAccount+"_user_9")
	require.NoError(t, err)
	assert.Len(t, msgs, 2)
	assert.Equal(t, 1, h.subscription(t).LeadsUsed)
}

func TestNestedCommentLeavesNoTrace(t *testing.T) {
	h := newHarness(t, activeSubscription(10, allCapabilities...))
	ev := comment("user_9", "c_2", "media_1", "me too")
	ev.ParentID = "c_1"

	out := h.router.Handle(context.Background(), ev)

	assert.Equal(t, ActionDropped, out.Action)
	assert.Equal(t, "nested_comment", out.Reason)
	_, err := h.events.Get(context.Background(), events.ProviderInstagram, "c_2")
	assert.ErrorIs(t, err, events.ErrRecordNotFound)
	assert.Empty(t, h.sender.messages())
}

func TestCommentWithoutMediaDropped(t *testing.T) {
	h := newHarness(t, activeSubscription(10, allCapabilities...))

	out := h.router.Handle(context.Background(), comment("user_9", "c_1", "", "hi"))

	assert.Equal(t, "missing_media", out.Reason)
	assert.Equal(t, events.StatusDropped, h.record(t, "c_1").Status)
}

func TestCommentMalformedAgentOutput(t *testing.T) {
	h := newHarness(t, activeSubscription(10, allCapabilities...))
	h.agent.commentErr = fmt.Errorf("%w: not json", conversation.ErrInvalidCommentReply)

	out := h.router.Handle(context.Background(), comment("user_9", "c_1", "media_1", "Price?"))

	assert.Equal(t, ActionDropped, out.Action)
	assert.Equal(t, "invalid_agent_output", out.Reason)
	assert.Empty(t, h.sender.messages())
	assert.Equal(t, events.StatusProcessed, h.record(t, "c_1").Status)
}

func TestCommentStaticFallbackSendsBoth(t *testing.T) {
	h := newHarness(t, activeSubscription(10, entitlement.CapabilityCommentAutoResponse))

	out := h.router.Handle(context.Background(), comment("user_9", "c_1", "media_1", "Price?"))

	assert.Equal(t, ActionStaticFallback, out.Action)
	sent := h.sender.messages()
	require.Len(t, sent, 2)
	assert.Equal(t, company.DefaultStaticCommentReply, sent[0].Text)
	assert.Equal(t, company.DefaultStaticCommentFollowupDM, sent[1].Text)
	assert.Zero(t, h.agent.calls())
	assert.Equal(t, 1, h.subscription(t).LeadsUsed)
}

func TestCommentTrackingDenied(t *testing.T) {
	h := newHarness(t, activeSubscription(10, entitlement.CapabilityCommentAIResponse))

	out := h.router.Handle(context.Background(), comment("user_9", "c_1", "media_1", "Price?"))

	assert.Equal(t, ActionDropped, out.Action)
	assert.Equal(t, string(entitlement.ReasonCapabilityMissing), out.Reason)
	assert.Zero(t, h.subscription(t).LeadsUsed)
	assert.Empty(t, h.sender.messages())
}

func TestCommentDuplicateDelivery(t *testing.T) {
	h := newHarness(t, activeSubscription(10, allCapabilities...))
	h.agent.comment = &conversation.CommentReply{CommentReply: "Check DM", FirstDM: "Hi"}
	ev := comment("user_9", "c_1", "media_1", "Price?")

	h.router.Handle(context.Background(), ev)
	out := h.router.Handle(context.Background(), ev)

	assert.Equal(t, ActionDuplicate, out.Action)
	assert.Len(t, h.sender.messages(), 2)
}

func TestUnknownEventDropped(t *testing.T) {
	h := newHarness(t, activeSubscription(10, allCapabilities...))

	out := h.router.Handle(context.Background(), instagram.UnknownEvent{Reason: "echo"})

	assert.Equal(t, Outcome{Kind: instagram.KindUnknown, Action: ActionDropped, Reason: "echo"}, out)
}

func TestCommentThenDMContinuesConversation(t *testing.T) {
	h := newHarness(t, activeSubscription(10, allCapabilities...))
	ctx := context.Background()
	h.agent.comment = &conversation.CommentReply{
		CommentReply:        "Check DM",
		FirstDM:             "Hi! Which locality do you prefer?",
		ContextForDMHandler: "Interested in the Adyar flat",
	}

	h.router.Handle(ctx, comment("user_9", "c_1", "media_1", "Interested"))
	out := h.router.Handle(ctx, dm("user_9", "mid_1", "Adyar or Besant Nagar"))

	assert.Equal(t, ActionReplied, out.Action)
	require.Len(t, h.agent.replyReqs, 1)
	history := h.agent.replyReqs[0].History
	require.Len(t, history, 3)
	assert.True(t, strings.HasPrefix(history[0].Content, "Context for chat : "))
	assert.Equal(t, conversation.ChatRoleAssistant, history[1].Role)

	list, err := h.leads.List(ctx, leads.ListFilter{CompanyID: testCompany})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, leads.SourceInstagramComment, list[0].SourceType)
	assert.Equal(t, 1, h.subscription(t).LeadsUsed)
}

func TestEntitlementOutageDropsInsteadOfFallback(t *testing.T) {
	h := newHarness(t, activeSubscription(10, allCapabilities...), withUnavailable(entitlement.CapabilityDMAIReply))

	out := h.router.Handle(context.Background(), dm("user_1", "mid_1", "Hi"))

	assert.Equal(t, ActionDropped, out.Action)
	assert.Equal(t, "entitlement_unavailable", out.Reason)
	assert.Empty(t, h.sender.messages())
	assert.Zero(t, h.agent.calls())
	lead, err := h.leads.GetByConversation(context.Background(), testCompany, testAccount+"_user_1")
	require.NoError(t, err)
	assert.NotContains(t, lead.Tags, leads.TagStaticFirstDM)
	assert.Equal(t, events.StatusDropped, h.record(t, "mid_1").Status)
}

func TestCommentEntitlementOutageSendsNothing(t *testing.T) {
	h := newHarness(t, activeSubscription(10, allCapabilities...), withUnavailable(entitlement.CapabilityCommentAIResponse))

	out := h.router.Handle(context.Background(), comment("user_9", "c_1", "media_1", "Price?"))

	assert.Equal(t, ActionDropped, out.Action)
	assert.Equal(t, "entitlement_unavailable", out.Reason)
	assert.Empty(t, h.sender.messages())
}

func TestCommentSendsHaveSeparateDeadlines(t *testing.T) {
	tests := []struct {
		name string
		caps []entitlement.Capability
		want Action
	}{
		{name: "agent reply", caps: allCapabilities, want: ActionReplied},
		{name: "static fallback", caps: []entitlement.Capability{entitlement.CapabilityCommentAutoResponse}, want: ActionStaticFallback},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sender := &deadlineSender{fakeSender: &fakeSender{}}
			h := newHarness(t, activeSubscription(10, tt.caps...), func(d *Deps) {
				d.Sender = sender
				d.OutboundTimeout = 20 * time.Millisecond
			})
			h.agent.comment = &conversation.CommentReply{CommentReply: "Check DM", FirstDM: "Hi"}

			out := h.router.Handle(context.Background(), comment("user_9", "c_1", "media_1", "Price?"))

			assert.Equal(t, tt.want, out.Action)
			require.Len(t, sender.messages(), 2)
			sender.mu.Lock()
			defer sender.mu.Unlock()
			assert.NoError(t, sender.dmCtxErr)
		})
	}
}
