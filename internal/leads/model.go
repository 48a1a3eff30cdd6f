package leads

import (
	"strings"
	"time"
)

// QualificationStatus tracks how far the AI conversation got.
type QualificationStatus string

const (
	QualificationInitiated     QualificationStatus = "initiated"
	QualificationInProgress    QualificationStatus = "in_progress"
	QualificationQualified     QualificationStatus = "qualified"
	QualificationUnqualified   QualificationStatus = "unqualified"
	QualificationNoResponse    QualificationStatus = "no_response"
	QualificationReadyForAgent QualificationStatus = "ready_for_agent"
)

// Status is the business disposition of a lead.
type Status string

const (
	StatusActive        Status = "active"
	StatusQualifiedHot  Status = "qualified_hot"
	StatusQualifiedWarm Status = "qualified_warm"
	StatusQualifiedCold Status = "qualified_cold"
	StatusUnqualified   Status = "unqualified"
	StatusSpam          Status = "spam"
	StatusClosedWon     Status = "closed_won"
	StatusClosedLost    Status = "closed_lost"
)

// Timeline is the buyer's purchase horizon.
type Timeline string

const (
	TimelineImmediate    Timeline = "immediate"
	TimelineShort        Timeline = "short"
	TimelineMedium       Timeline = "medium"
	TimelineLong         Timeline = "long"
	TimelineJustBrowsing Timeline = "just_browsing"
)

// PaymentMethod is how the buyer intends to pay.
type PaymentMethod string

const (
	PaymentCash    PaymentMethod = "cash"
	PaymentLoan    PaymentMethod = "loan"
	PaymentBoth    PaymentMethod = "both"
	PaymentUnknown PaymentMethod = "unknown"
)

// IntentLevel is the extractor's read of purchase intent.
type IntentLevel string

const (
	IntentLow    IntentLevel = "low"
	IntentMedium IntentLevel = "medium"
	IntentHigh   IntentLevel = "high"
	IntentHot    IntentLevel = "hot"
)

// SourceType records where a lead came from.
type SourceType string

const (
	SourceInstagramDM      SourceType = "instagram_dm"
	SourceInstagramComment SourceType = "instagram_comment"
	SourceManual           SourceType = "manual"
)

var (
	validQualification = map[QualificationStatus]bool{
		QualificationInitiated: true, QualificationInProgress: true, QualificationQualified: true,
		QualificationUnqualified: true, QualificationNoResponse: true, QualificationReadyForAgent: true,
	}
	validStatus = map[Status]bool{
		StatusActive: true, StatusQualifiedHot: true, StatusQualifiedWarm: true, StatusQualifiedCold: true,
		StatusUnqualified: true, StatusSpam: true, StatusClosedWon: true, StatusClosedLost: true,
	}
	validTimeline = map[Timeline]bool{
		TimelineImmediate: true, TimelineShort: true, TimelineMedium: true, TimelineLong: true, TimelineJustBrowsing: true,
	}
	validPayment = map[PaymentMethod]bool{
		PaymentCash: true, PaymentLoan: true, PaymentBoth: true, PaymentUnknown: true,
	}
	validIntent = map[IntentLevel]bool{
		IntentLow: true, IntentMedium: true, IntentHigh: true, IntentHot: true,
	}
)

func (q QualificationStatus) Valid() bool { return validQualification[q] }
func (s Status) Valid() bool              { return validStatus[s] }
func (t Timeline) Valid() bool            { return validTimeline[t] }
func (p PaymentMethod) Valid() bool       { return validPayment[p] }
func (i IntentLevel) Valid() bool         { return validIntent[i] }

// PropertyRequirements is the structured wish list of a buyer.
type PropertyRequirements struct {
	Bedrooms     *int     `json:"bedrooms,omitempty"`
	Bathrooms    *int     `json:"bathrooms,omitempty"`
	AreaSqft     *float64 `json:"area_sqft,omitempty"`
	PropertyType string   `json:"property_type,omitempty"`
	Amenities    []string `json:"amenities,omitempty"`
	Notes        string   `json:"notes,omitempty"`
}

// PopulatedCount counts the filled sub-fields used for specificity scoring.
func (r PropertyRequirements) PopulatedCount() int {
	n := 0
	if r.Bedrooms != nil {
		n++
	}
	if r.Bathrooms != nil {
		n++
	}
	if r.AreaSqft != nil {
		n++
	}
	if strings.TrimSpace(r.PropertyType) != "" {
		n++
	}
	if len(r.Amenities) > 0 {
		n++
	}
	return n
}

// TagStaticFirstDM marks that the static fallback DM went out.
const TagStaticFirstDM = "static_first_dm"

// Lead is a prospective buyer tracked per (company, conversation).
type Lead struct {
	ID                string     `json:"id"`
	CompanyID         string     `json:"company_id"`
	ConversationID    string     `json:"conversation_id"`
	SourceType        SourceType `json:"source_type"`
	SourcePostID      string     `json:"source_post_id,omitempty"`
	SourceCommentID   string     `json:"source_comment_id,omitempty"`
	ListingID         *string    `json:"listing_id,omitempty"`
	InstagramUsername string     `json:"instagram_username"`

	CustomerName string `json:"customer_name,omitempty"`
	Phone        string `json:"phone_number,omitempty"`
	Email        string `json:"email,omitempty"`

	QualificationStatus QualificationStatus `json:"qualification_status"`
	Status              Status              `json:"status"`

	BudgetMin            *float64             `json:"budget_min,omitempty"`
	BudgetMax            *float64             `json:"budget_max,omitempty"`
	Timeline             Timeline             `json:"timeline,omitempty"`
	PreferredLocation    string               `json:"preferred_location,omitempty"`
	PropertyRequirements PropertyRequirements `json:"property_requirements"`
	PaymentMethod        PaymentMethod        `json:"payment_method"`
	IsFirstTimeBuyer     *bool                `json:"is_first_time_buyer,omitempty"`
	HasPropertyToSell    *bool                `json:"has_property_to_sell,omitempty"`
	IntentLevel          IntentLevel          `json:"intent_level,omitempty"`
	AISummary            string               `json:"ai_conversation_summary,omitempty"`

	TotalMessages       int        `json:"total_messages"`
	LastBotMessage      string     `json:"last_bot_message,omitempty"`
	LastCustomerMessage string     `json:"last_customer_message,omitempty"`
	LastInteractionAt   *time.Time `json:"last_interaction_at,omitempty"`

	RequiresHuman bool       `json:"requires_human"`
	HumanAgentID  *string    `json:"human_agent_id,omitempty"`
	HandoffReason string     `json:"handoff_reason,omitempty"`
	HandoffAt     *time.Time `json:"handoff_at,omitempty"`

	Tags      map[string]string `json:"tags,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// HasHumanAgent reports whether a human owns the conversation.
func (l *Lead) HasHumanAgent() bool {
	return l != nil && l.RequiresHuman && l.HumanAgentID != nil && *l.HumanAgentID != ""
}

// Clone returns a deep copy.
func (l *Lead) Clone() *Lead {
	if l == nil {
		return nil
	}
	out := *l
	out.ListingID = cloneString(l.ListingID)
	out.HumanAgentID = cloneString(l.HumanAgentID)
	out.BudgetMin = cloneFloat(l.BudgetMin)
	out.BudgetMax = cloneFloat(l.BudgetMax)
	out.IsFirstTimeBuyer = cloneBool(l.IsFirstTimeBuyer)
	out.HasPropertyToSell = cloneBool(l.HasPropertyToSell)
	out.LastInteractionAt = cloneTime(l.LastInteractionAt)
	out.HandoffAt = cloneTime(l.HandoffAt)
	out.PropertyRequirements.Bedrooms = cloneInt(l.PropertyRequirements.Bedrooms)
	out.PropertyRequirements.Bathrooms = cloneInt(l.PropertyRequirements.Bathrooms)
	out.PropertyRequirements.AreaSqft = cloneFloat(l.PropertyRequirements.AreaSqft)
	out.PropertyRequirements.Amenities = append([]string(nil), l.PropertyRequirements.Amenities...)
	if l.Tags != nil {
		out.Tags = make(map[string]string, len(l.Tags))
		for k, v := range l.Tags {
			out.Tags[k] = v
		}
	}
	return &out
}

// HandoffUpdate sets or clears human ownership as one unit.
type HandoffUpdate struct {
	RequiresHuman bool
	AgentID       string
	Reason        string
}

// ApplyHandoff enforces the tri-state: clearing requires_human clears the
// agent and the handoff time together.
func (l *Lead) ApplyHandoff(u HandoffUpdate, now time.Time) {
	if !u.RequiresHuman {
		l.RequiresHuman = false
		l.HumanAgentID = nil
		l.HandoffReason = ""
		l.HandoffAt = nil
		return
	}
	l.RequiresHuman = true
	l.HandoffReason = strings.TrimSpace(u.Reason)
	if agent := strings.TrimSpace(u.AgentID); agent != "" {
		l.HumanAgentID = &agent
	} else {
		l.HumanAgentID = nil
	}
	if l.HandoffAt == nil {
		t := now
		l.HandoffAt = &t
	}
}

func cloneString(v *string) *string {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func cloneFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func cloneInt(v *int) *int {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func cloneBool(v *bool) *bool {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func cloneTime(v *time.Time) *time.Time {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
