package leads

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrNoUsageAccount is returned when a new lead has no subscription to count against.
var ErrNoUsageAccount = errors.New("leads: no subscription to count lead against")

// UpsertRequest identifies the lead for one conversation and seeds a new row.
type UpsertRequest struct {
	CompanyID         string
	ConversationID    string
	SourceType        SourceType
	SourcePostID      string
	SourceCommentID   string
	ListingID         *string
	InstagramUsername string
}

func (r UpsertRequest) validate() error {
	if strings.TrimSpace(r.CompanyID) == "" {
		return ErrMissingCompany
	}
	if strings.TrimSpace(r.ConversationID) == "" {
		return ErrMissingConversation
	}
	return nil
}

// UpsertResult carries the lead and, when it was just created, the company's
// leads_used value right after counting it.
type UpsertResult struct {
	Lead    *Lead
	Created bool
	Ordinal int
}

// Activity is one exchange recorded against a lead's counters.
type Activity struct {
	Messages        int
	CustomerMessage string
	BotMessage      string
	At              time.Time
}

// ListFilter narrows List results.
type ListFilter struct {
	CompanyID           string
	Status              Status
	QualificationStatus QualificationStatus
	RequiresHuman       *bool
	Limit               int
	Offset              int
}

const defaultListLimit = 50

func (f ListFilter) offset() int {
	if f.Offset < 0 {
		return 0
	}
	return f.Offset
}

func (f ListFilter) limit() int {
	if f.Limit <= 0 || f.Limit > 500 {
		return defaultListLimit
	}
	return f.Limit
}

// Repository stores leads keyed by (company, conversation).
type Repository interface {
	// GetOrCreate returns the existing lead or creates one and counts it
	// against the company's subscription in the same unit of work.
	GetOrCreate(ctx context.Context, req UpsertRequest) (UpsertResult, error)
	GetByID(ctx context.Context, id string) (*Lead, error)
	GetByConversation(ctx context.Context, companyID, conversationID string) (*Lead, error)
	// SaveQualification writes only the fields the extractor owns.
	SaveQualification(ctx context.Context, lead *Lead) error
	RecordActivity(ctx context.Context, leadID string, a Activity) error
	// ClaimTag sets tag on the lead unless already present and reports
	// whether this call set it.
	ClaimTag(ctx context.Context, leadID, tag string) (bool, error)
	SetHandoff(ctx context.Context, leadID string, u HandoffUpdate) (*Lead, error)
	UpdateStatus(ctx context.Context, leadID string, status Status) (*Lead, error)
	List(ctx context.Context, f ListFilter) ([]*Lead, error)
}

// UsageCounter counts a newly created lead against a company's quota.
type UsageCounter interface {
	IncrementLeadsUsed(ctx context.Context, companyID string) (int, error)
}

// InMemoryRepository keeps leads in process memory.
type InMemoryRepository struct {
	mu     sync.Mutex
	leads  map[string]*Lead
	byConv map[string]string
	usage  UsageCounter
	now    func() time.Time
}

var _ Repository = (*InMemoryRepository)(nil)

// NewInMemoryRepository creates an in-memory repository. usage may be nil,
// in which case new leads get ordinal zero.
func NewInMemoryRepository(usage UsageCounter) *InMemoryRepository {
	return &InMemoryRepository{
		leads:  make(map[string]*Lead),
		byConv: make(map[string]string),
		usage:  usage,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func convKey(companyID, conversationID string) string {
	return companyID + "\x00" + conversationID
}

func newLead(req UpsertRequest, now time.Time) *Lead {
	source := req.SourceType
	if source == "" {
		source = SourceInstagramDM
	}
	return &Lead{
		ID:                  uuid.New().String(),
		CompanyID:           req.CompanyID,
		ConversationID:      req.ConversationID,
		SourceType:          source,
		SourcePostID:        req.SourcePostID,
		SourceCommentID:     req.SourceCommentID,
		ListingID:           cloneString(req.ListingID),
		InstagramUsername:   req.InstagramUsername,
		QualificationStatus: QualificationInitiated,
		Status:              StatusActive,
		PaymentMethod:       PaymentUnknown,
		Tags:                map[string]string{},
		CreatedAt:           now,
		UpdatedAt:           now,
	}
}

func (r *InMemoryRepository) GetOrCreate(ctx context.Context, req UpsertRequest) (UpsertResult, error) {
	if err := req.validate(); err != nil {
		return UpsertResult{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if id, ok := r.byConv[convKey(req.CompanyID, req.ConversationID)]; ok {
		return UpsertResult{Lead: r.leads[id].Clone()}, nil
	}

	ordinal := 0
	if r.usage != nil {
		n, err := r.usage.IncrementLeadsUsed(ctx, req.CompanyID)
		if err != nil {
			return UpsertResult{}, fmt.Errorf("%w: %v", ErrNoUsageAccount, err)
		}
		ordinal = n
	}
	lead := newLead(req, r.now())
	r.leads[lead.ID] = lead
	r.byConv[convKey(req.CompanyID, req.ConversationID)] = lead.ID
	return UpsertResult{Lead: lead.Clone(), Created: true, Ordinal: ordinal}, nil
}

func (r *InMemoryRepository) GetByID(_ context.Context, id string) (*Lead, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	lead, ok := r.leads[id]
	if !ok {
		return nil, ErrLeadNotFound
	}
	return lead.Clone(), nil
}

func (r *InMemoryRepository) GetByConversation(_ context.Context, companyID, conversationID string) (*Lead, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byConv[convKey(companyID, conversationID)]
	if !ok {
		return nil, ErrLeadNotFound
	}
	return r.leads[id].Clone(), nil
}

func (r *InMemoryRepository) SaveQualification(_ context.Context, in *Lead) error {
	if in == nil {
		return ErrLeadNotFound
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	lead, ok := r.leads[in.ID]
	if !ok {
		return ErrLeadNotFound
	}
	src := in.Clone()
	lead.CustomerName = src.CustomerName
	lead.Phone = src.Phone
	lead.Email = src.Email
	lead.QualificationStatus = src.QualificationStatus
	lead.Status = src.Status
	lead.BudgetMin = src.BudgetMin
	lead.BudgetMax = src.BudgetMax
	lead.Timeline = src.Timeline
	lead.PreferredLocation = src.PreferredLocation
	lead.PropertyRequirements = src.PropertyRequirements
	lead.PaymentMethod = src.PaymentMethod
	lead.IsFirstTimeBuyer = src.IsFirstTimeBuyer
	lead.HasPropertyToSell = src.HasPropertyToSell
	lead.IntentLevel = src.IntentLevel
	lead.AISummary = src.AISummary
	if src.LastInteractionAt != nil {
		lead.LastInteractionAt = src.LastInteractionAt
	}
	lead.UpdatedAt = r.now()
	return nil
}

func (r *InMemoryRepository) RecordActivity(_ context.Context, leadID string, a Activity) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	lead, ok := r.leads[leadID]
	if !ok {
		return ErrLeadNotFound
	}
	lead.TotalMessages += a.Messages
	if a.CustomerMessage != "" {
		lead.LastCustomerMessage = a.CustomerMessage
	}
	if a.BotMessage != "" {
		lead.LastBotMessage = a.BotMessage
	}
	at := a.At
	if at.IsZero() {
		at = r.now()
	}
	lead.LastInteractionAt = &at
	lead.UpdatedAt = r.now()
	return nil
}

func (r *InMemoryRepository) ClaimTag(_ context.Context, leadID, tag string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	lead, ok := r.leads[leadID]
	if !ok {
		return false, ErrLeadNotFound
	}
	if _, seen := lead.Tags[tag]; seen {
		return false, nil
	}
	if lead.Tags == nil {
		lead.Tags = map[string]string{}
	}
	lead.Tags[tag] = "done"
	lead.UpdatedAt = r.now()
	return true, nil
}

func (r *InMemoryRepository) SetHandoff(_ context.Context, leadID string, u HandoffUpdate) (*Lead, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	lead, ok := r.leads[leadID]
	if !ok {
		return nil, ErrLeadNotFound
	}
	now := r.now()
	lead.ApplyHandoff(u, now)
	lead.UpdatedAt = now
	return lead.Clone(), nil
}

func (r *InMemoryRepository) UpdateStatus(_ context.Context, leadID string, status Status) (*Lead, error) {
	if !status.Valid() {
		return nil, ErrInvalidStatus
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	lead, ok := r.leads[leadID]
	if !ok {
		return nil, ErrLeadNotFound
	}
	lead.Status = status
	lead.UpdatedAt = r.now()
	return lead.Clone(), nil
}

func (r *InMemoryRepository) List(_ context.Context, f ListFilter) ([]*Lead, error) {
	r.mu.Lock()
	matched := make([]*Lead, 0)
	for _, lead := range r.leads {
		if f.CompanyID != "" && lead.CompanyID != f.CompanyID {
			continue
		}
		if f.Status != "" && lead.Status != f.Status {
			continue
		}
		if f.QualificationStatus != "" && lead.QualificationStatus != f.QualificationStatus {
			continue
		}
		if f.RequiresHuman != nil && lead.RequiresHuman != *f.RequiresHuman {
			continue
		}
		matched = append(matched, lead.Clone())
	}
	r.mu.Unlock()

	sort.SliceStable(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID < matched[j].ID
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})
	offset := f.offset()
	if offset >= len(matched) {
		return []*Lead{}, nil
	}
	matched = matched[offset:]
	if limit := f.limit(); len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}
