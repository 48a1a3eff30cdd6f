package entitlement

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/realestate-lead-ai/pkg/logging"
)

// Handler serves operator endpoints for subscriptions.
type Handler struct {
	gate   *Gate
	logger *logging.Logger
}

// NewHandler builds the subscription handler.
func NewHandler(gate *Gate, logger *logging.Logger) *Handler {
	if gate == nil {
		panic("entitlement: gate required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{gate: gate, logger: logger}
}

// Routes mounts the subscription endpoints under a company-scoped router.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/subscription", h.GetSubscription)
	r.Post("/subscription/activate", h.Activate)
}

type subscriptionResponse struct {
	*Subscription
	Active bool `json:"active"`
}

// ActivateRequest buys or renews a plan.
type ActivateRequest struct {
	PlanID           string `json:"plan_id"`
	PaymentReference string `json:"payment_reference"`
}

// GetSubscription handles GET /admin/companies/{companyID}/subscription.
func (h *Handler) GetSubscription(w http.ResponseWriter, r *http.Request) {
	sub, err := h.gate.Subscription(r.Context(), chi.URLParam(r, "companyID"))
	if err != nil {
		if errors.Is(err, ErrSubscriptionNotFound) {
			writeError(w, http.StatusNotFound, "subscription not found")
			return
		}
		h.logger.Error("failed to load subscription", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load subscription")
		return
	}
	writeJSON(w, http.StatusOK, subscriptionResponse{Subscription: sub, Active: sub.IsActive(h.gate.Now())})
}

// Activate handles POST /admin/companies/{companyID}/subscription/activate.
func (h *Handler) Activate(w http.ResponseWriter, r *http.Request) {
	var req ActivateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.PlanID) == "" {
		writeError(w, http.StatusBadRequest, "plan_id is required")
		return
	}
	companyID := chi.URLParam(r, "companyID")
	sub, err := h.gate.Activate(r.Context(), companyID, req.PlanID, req.PaymentReference)
	if err != nil {
		if errors.Is(err, ErrUnknownPlan) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.Error("failed to activate plan", "error", err, "company_id", companyID)
		writeError(w, http.StatusInternalServerError, "failed to activate plan")
		return
	}
	h.logger.Info("subscription activated",
		"company_id", companyID,
		"plan_id", sub.PlanID,
		"lead_quota", sub.LeadQuota,
		"end_date", sub.EndDate.Format(time.RFC3339),
	)
	writeJSON(w, http.StatusOK, subscriptionResponse{Subscription: sub, Active: sub.IsActive(h.gate.Now())})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
