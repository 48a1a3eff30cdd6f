package leads

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/realestate-lead-ai/internal/entitlement"
	httpmiddleware "github.com/wolfman30/realestate-lead-ai/internal/http/middleware"
	"github.com/wolfman30/realestate-lead-ai/internal/validation"
	"github.com/wolfman30/realestate-lead-ai/pkg/logging"
)

// ListingPricer resolves the asking price of a lead's linked listing.
type ListingPricer interface {
	ListingPrice(ctx context.Context, listingID string) (*float64, error)
}

// CapabilityChecker authorizes plan-gated operator actions.
type CapabilityChecker interface {
	Check(ctx context.Context, companyID string, capability entitlement.Capability, usage int) (entitlement.Decision, *entitlement.Subscription, error)
}

// Handler serves the operator endpoints for leads.
type Handler struct {
	repo      Repository
	pricer    ListingPricer
	gate      CapabilityChecker
	validator *validation.Validator
	logger    *logging.Logger
	now       func() time.Time
}

// NewHandler creates a new leads handler. pricer may be nil. A nil gate
// leaves human takeover ungated.
func NewHandler(repo Repository, pricer ListingPricer, gate CapabilityChecker, v *validation.Validator, logger *logging.Logger) *Handler {
	if repo == nil {
		panic("leads: repository required")
	}
	if v == nil {
		v = validation.New()
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{
		repo:      repo,
		pricer:    pricer,
		gate:      gate,
		validator: v,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// LeadResponse is a lead with its score computed at read time.
type LeadResponse struct {
	*Lead
	LeadScore int             `json:"lead_score"`
	Breakdown *ScoreBreakdown `json:"score_breakdown,omitempty"`
}

// CreateLeadRequest is the payload for manually registering a lead.
type CreateLeadRequest struct {
	ConversationID    string  `json:"conversation_id" validate:"required,max=255"`
	InstagramUsername string  `json:"instagram_username" validate:"omitempty,max=255"`
	CustomerName      string  `json:"customer_name" validate:"omitempty,max=255"`
	PhoneNumber       string  `json:"phone_number" validate:"omitempty,max=32"`
	Email             string  `json:"email" validate:"omitempty,email"`
	PreferredLocation string  `json:"preferred_location" validate:"omitempty,max=255"`
	ListingID         *string `json:"listing_id" validate:"omitempty,uuid"`
}

// HandoffRequest sets or clears human ownership.
type HandoffRequest struct {
	RequiresHuman bool   `json:"requires_human"`
	AgentID       string `json:"human_agent_id" validate:"required_if=RequiresHuman true,max=255"`
	Reason        string `json:"handoff_reason" validate:"max=1000"`
}

// UpdateLeadRequest patches operator-owned fields.
type UpdateLeadRequest struct {
	Status              *Status              `json:"status"`
	QualificationStatus *QualificationStatus `json:"qualification_status"`
	Handoff             *HandoffRequest      `json:"handoff"`
}

// CompanyRoutes mounts the company-scoped lead endpoints on a router already
// routed under /companies/{companyID}.
func (h *Handler) CompanyRoutes(r chi.Router) {
	r.Get("/leads", h.ListLeads)
	r.Post("/leads", h.CreateLead)
	r.Get("/conversations/{conversationID}/lead", h.GetConversationLead)
}

// Routes mounts the endpoints addressed by lead id.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/leads/{leadID}", h.GetLead)
	r.Patch("/leads/{leadID}", h.UpdateLead)
}

// ListLeads handles GET /admin/companies/{companyID}/leads.
func (h *Handler) ListLeads(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := ListFilter{
		CompanyID:           chi.URLParam(r, "companyID"),
		Status:              Status(q.Get("status")),
		QualificationStatus: QualificationStatus(q.Get("qualification_status")),
	}
	if filter.Status != "" && !filter.Status.Valid() {
		writeError(w, http.StatusBadRequest, "invalid status")
		return
	}
	if filter.QualificationStatus != "" && !filter.QualificationStatus.Valid() {
		writeError(w, http.StatusBadRequest, "invalid qualification_status")
		return
	}
	if raw := q.Get("requires_human"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid requires_human")
			return
		}
		filter.RequiresHuman = &v
	}
	filter.Limit, _ = strconv.Atoi(q.Get("limit"))
	filter.Offset, _ = strconv.Atoi(q.Get("offset"))

	found, err := h.repo.List(r.Context(), filter)
	if err != nil {
		h.logger.Error("failed to list leads", "error", err, "company_id", filter.CompanyID)
		writeError(w, http.StatusInternalServerError, "failed to list leads")
		return
	}

	out := make([]LeadResponse, 0, len(found))
	for _, lead := range found {
		out = append(out, h.respond(r.Context(), lead, false))
	}
	if q.Get("sort") == "score" {
		sort.SliceStable(out, func(i, j int) bool { return out[i].LeadScore > out[j].LeadScore })
	}
	writeJSON(w, http.StatusOK, map[string]any{"leads": out, "count": len(out)})
}

// CreateLead handles POST /admin/companies/{companyID}/leads.
func (h *Handler) CreateLead(w http.ResponseWriter, r *http.Request) {
	companyID := chi.URLParam(r, "companyID")
	var req CreateLeadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, validation.Describe(err))
		return
	}

	res, err := h.repo.GetOrCreate(r.Context(), UpsertRequest{
		CompanyID:         companyID,
		ConversationID:    req.ConversationID,
		SourceType:        SourceManual,
		ListingID:         req.ListingID,
		InstagramUsername: req.InstagramUsername,
	})
	switch {
	case errors.Is(err, ErrNoUsageAccount):
		writeError(w, http.StatusConflict, "company has no subscription")
		return
	case errors.Is(err, ErrMissingCompany), errors.Is(err, ErrMissingConversation):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		h.logger.Error("failed to create lead", "error", err, "company_id", companyID)
		writeError(w, http.StatusInternalServerError, "failed to create lead")
		return
	}

	lead := res.Lead
	fields := map[string]json.RawMessage{}
	for name, v := range map[string]string{
		"customer_name":      req.CustomerName,
		"phone_number":       req.PhoneNumber,
		"email":              req.Email,
		"preferred_location": req.PreferredLocation,
	} {
		if v != "" {
			raw, _ := json.Marshal(v)
			fields[name] = raw
		}
	}
	if report := ApplyExtraction(lead, fields, MergeOptions{Validator: h.validator}); report.Changed() {
		if err := h.repo.SaveQualification(r.Context(), lead); err != nil {
			h.logger.Error("failed to save lead contact", "error", err, "lead_id", lead.ID)
			writeError(w, http.StatusInternalServerError, "failed to create lead")
			return
		}
	}

	status := http.StatusOK
	if res.Created {
		status = http.StatusCreated
	}
	writeJSON(w, status, h.respond(r.Context(), lead, true))
}

// GetConversationLead handles GET /admin/companies/{companyID}/conversations/{conversationID}/lead.
func (h *Handler) GetConversationLead(w http.ResponseWriter, r *http.Request) {
	lead, err := h.repo.GetByConversation(r.Context(), chi.URLParam(r, "companyID"), chi.URLParam(r, "conversationID"))
	if err != nil {
		h.writeLookupError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.respond(r.Context(), lead, true))
}

// GetLead handles GET /admin/leads/{leadID}.
func (h *Handler) GetLead(w http.ResponseWriter, r *http.Request) {
	lead, err := h.repo.GetByID(r.Context(), chi.URLParam(r, "leadID"))
	if err != nil {
		h.writeLookupError(w, err)
		return
	}
	if !httpmiddleware.CompanyAllowed(r.Context(), lead.CompanyID) {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}
	writeJSON(w, http.StatusOK, h.respond(r.Context(), lead, true))
}

// UpdateLead handles PATCH /admin/leads/{leadID}.
func (h *Handler) UpdateLead(w http.ResponseWriter, r *http.Request) {
	leadID := chi.URLParam(r, "leadID")
	var req UpdateLeadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Status != nil && !req.Status.Valid() {
		writeError(w, http.StatusBadRequest, "invalid status")
		return
	}
	if req.QualificationStatus != nil && !req.QualificationStatus.Valid() {
		writeError(w, http.StatusBadRequest, "invalid qualification_status")
		return
	}
	if req.Handoff != nil {
		if err := h.validator.Struct(req.Handoff); err != nil {
			writeError(w, http.StatusBadRequest, validation.Describe(err))
			return
		}
	}

	ctx := r.Context()
	lead, err := h.repo.GetByID(ctx, leadID)
	if err != nil {
		h.writeLookupError(w, err)
		return
	}
	if !httpmiddleware.CompanyAllowed(ctx, lead.CompanyID) {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}
	if req.Handoff != nil && req.Handoff.RequiresHuman && !h.takeoverAllowed(w, r, lead.CompanyID) {
		return
	}
	if req.Status != nil {
		if lead, err = h.repo.UpdateStatus(ctx, leadID, *req.Status); err != nil {
			h.writeLookupError(w, err)
			return
		}
	}
	if req.QualificationStatus != nil && *req.QualificationStatus != lead.QualificationStatus {
		lead.QualificationStatus = *req.QualificationStatus
		if err := h.repo.SaveQualification(ctx, lead); err != nil {
			h.writeLookupError(w, err)
			return
		}
	}
	if req.Handoff != nil {
		lead, err = h.repo.SetHandoff(ctx, leadID, HandoffUpdate{
			RequiresHuman: req.Handoff.RequiresHuman,
			AgentID:       req.Handoff.AgentID,
			Reason:        req.Handoff.Reason,
		})
		if err != nil {
			h.writeLookupError(w, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, h.respond(ctx, lead, true))
}

// takeoverAllowed writes the refusal itself when the plan lacks human takeover.
func (h *Handler) takeoverAllowed(w http.ResponseWriter, r *http.Request, companyID string) bool {
	if h.gate == nil {
		return true
	}
	decision, _, err := h.gate.Check(r.Context(), companyID, entitlement.CapabilityHumanTakeover, 0)
	if err != nil {
		h.logger.Error("entitlement check failed", "error", err, "company_id", companyID)
		writeError(w, http.StatusServiceUnavailable, "entitlement unavailable")
		return false
	}
	if !decision.Allowed {
		writeJSON(w, http.StatusForbidden, map[string]string{
			"error":  "plan does not include human takeover",
			"reason": string(decision.Reason),
		})
		return false
	}
	return true
}

func (h *Handler) respond(ctx context.Context, lead *Lead, explain bool) LeadResponse {
	var price *float64
	if h.pricer != nil && lead.ListingID != nil {
		p, err := h.pricer.ListingPrice(ctx, *lead.ListingID)
		if err != nil {
			h.logger.Warn("listing price unavailable", "error", err, "lead_id", lead.ID)
		} else {
			price = p
		}
	}
	breakdown := ExplainScore(lead, price, h.now())
	resp := LeadResponse{Lead: lead, LeadScore: breakdown.Total}
	if explain {
		resp.Breakdown = &breakdown
	}
	return resp
}

func (h *Handler) writeLookupError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrLeadNotFound):
		writeError(w, http.StatusNotFound, "lead not found")
	case errors.Is(err, ErrInvalidStatus):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		h.logger.Error("lead store failure", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
