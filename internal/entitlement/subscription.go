package entitlement

import (
	"strings"
	"time"
)

// Capability names a gated unit of functionality on a subscription.
type Capability string

const (
	CapabilityDM                  Capability = "instagram_dm"
	CapabilityDMAIReply           Capability = "instagram_dm_ai_reply"
	CapabilityCommentAutoResponse Capability = "instagram_comment_auto_response"
	CapabilityCommentAIResponse   Capability = "instagram_comment_ai_response"
	CapabilityListingIntegration  Capability = "property_listing_integration"
	CapabilityHumanTakeover       Capability = "human_takeover_support"
)

// Status of a subscription row.
type Status string

const (
	StatusActive    Status = "active"
	StatusInactive  Status = "inactive"
	StatusCancelled Status = "cancelled"
	StatusExpired   Status = "expired"
)

// Feature is one entry of a subscription's feature list. A nil Limit means unbounded.
type Feature struct {
	Name  Capability `json:"name" yaml:"name"`
	Limit *int       `json:"limit,omitempty" yaml:"limit,omitempty"`
}

// Subscription is a company's plan, validity window and usage counters.
type Subscription struct {
	ID               string     `json:"id"`
	CompanyID        string     `json:"company_id"`
	PlanID           string     `json:"plan_id"`
	Status           Status     `json:"status"`
	StartDate        time.Time  `json:"start_date"`
	EndDate          time.Time  `json:"end_date"`
	LeadQuota        int        `json:"lead_quota"`
	LeadsUsed        int        `json:"leads_used"`
	MessagesUsed     int        `json:"messages_used"`
	LastResetAt      *time.Time `json:"last_reset_at,omitempty"`
	NextResetAt      *time.Time `json:"next_reset_at,omitempty"`
	Features         []Feature  `json:"features"`
	PaymentReference string     `json:"payment_reference,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// IsActive reports whether the status flag is active and now lies in [start, end).
func (s *Subscription) IsActive(now time.Time) bool {
	if s == nil || s.Status != StatusActive {
		return false
	}
	return !now.Before(s.StartDate) && now.Before(s.EndDate)
}

// Feature looks up a capability in the feature list.
func (s *Subscription) Feature(c Capability) (Feature, bool) {
	if s == nil {
		return Feature{}, false
	}
	want := strings.TrimSpace(string(c))
	for _, f := range s.Features {
		if strings.TrimSpace(string(f.Name)) == want && want != "" {
			return f, true
		}
	}
	return Feature{}, false
}

// WithinQuota reports whether the count-th lead of the cycle may be served by
// the AI. For a freshly created lead count is its creation ordinal; for an
// existing lead it is the live leads_used counter.
func (s *Subscription) WithinQuota(count int) bool {
	if s == nil || s.LeadQuota <= 0 {
		return false
	}
	return count <= s.LeadQuota
}

// Clone returns a deep copy.
func (s *Subscription) Clone() *Subscription {
	if s == nil {
		return nil
	}
	out := *s
	out.Features = make([]Feature, len(s.Features))
	for i, f := range s.Features {
		out.Features[i] = f
		if f.Limit != nil {
			limit := *f.Limit
			out.Features[i].Limit = &limit
		}
	}
	if s.LastResetAt != nil {
		t := *s.LastResetAt
		out.LastResetAt = &t
	}
	if s.NextResetAt != nil {
		t := *s.NextResetAt
		out.NextResetAt = &t
	}
	return &out
}
