package listings

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/wolfman30/realestate-lead-ai/internal/entitlement"
	httpmiddleware "github.com/wolfman30/realestate-lead-ai/internal/http/middleware"
	"github.com/wolfman30/realestate-lead-ai/internal/validation"
	"github.com/wolfman30/realestate-lead-ai/pkg/logging"
)

// Indexer refreshes a listing in the retrieval index.
type Indexer interface {
	Index(ctx context.Context, l *Listing) error
}

// CapacityChecker enforces the plan's listing-count cap.
type CapacityChecker interface {
	Check(ctx context.Context, companyID string, capability entitlement.Capability, usage int) (entitlement.Decision, *entitlement.Subscription, error)
}

// Handler serves operator endpoints for listings.
type Handler struct {
	repo      Repository
	indexer   Indexer
	gate      CapacityChecker
	validator *validation.Validator
	logger    *logging.Logger
}

// NewHandler builds the listings handler. indexer may be nil. A nil gate
// leaves the listing count uncapped.
func NewHandler(repo Repository, indexer Indexer, gate CapacityChecker, v *validation.Validator, logger *logging.Logger) *Handler {
	if repo == nil {
		panic("listings: repository required")
	}
	if v == nil {
		v = validation.New()
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{repo: repo, indexer: indexer, gate: gate, validator: v, logger: logger}
}

// CompanyRoutes mounts the company-scoped listing endpoints.
func (h *Handler) CompanyRoutes(r chi.Router) {
	r.Get("/listings", h.ListListings)
}

// Routes mounts the endpoints addressed by listing id.
func (h *Handler) Routes(r chi.Router) {
	r.Put("/listings/{listingID}", h.PutListing)
}

// PutListing handles PUT /admin/listings/{listingID}.
func (h *Handler) PutListing(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "listingID")
	if _, err := uuid.Parse(id); err != nil {
		writeError(w, http.StatusBadRequest, "listing id must be a uuid")
		return
	}
	var in Listing
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	in.ID = id
	if strings.TrimSpace(in.CompanyID) == "" {
		writeError(w, http.StatusBadRequest, "company_id is required")
		return
	}
	if err := h.validator.Struct(in); err != nil {
		writeError(w, http.StatusBadRequest, validation.Describe(err))
		return
	}
	ctx := r.Context()
	if !httpmiddleware.CompanyAllowed(ctx, in.CompanyID) {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}

	existing, err := h.repo.GetByID(ctx, id)
	switch {
	case errors.Is(err, ErrListingNotFound):
		if !h.withinCap(w, r, in.CompanyID) {
			return
		}
	case err != nil:
		h.logger.Error("failed to load listing", "error", err, "listing_id", id)
		writeError(w, http.StatusInternalServerError, "failed to load listing")
		return
	case existing.CompanyID != in.CompanyID:
		writeError(w, http.StatusForbidden, "listing belongs to another company")
		return
	}

	saved, err := h.repo.Upsert(ctx, &in)
	if err != nil {
		h.logger.Error("failed to save listing", "error", err, "listing_id", id)
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	if h.indexer != nil {
		if err := h.indexer.Index(ctx, saved); err != nil {
			h.logger.Warn("listing saved but not indexed", "error", err, "listing_id", id)
		}
	}
	writeJSON(w, http.StatusOK, saved)
}

// withinCap writes the refusal itself when companyID may not add a listing.
func (h *Handler) withinCap(w http.ResponseWriter, r *http.Request, companyID string) bool {
	if h.gate == nil {
		return true
	}
	current, err := h.repo.ListByCompany(r.Context(), companyID)
	if err != nil {
		h.logger.Error("failed to count listings", "error", err, "company_id", companyID)
		writeError(w, http.StatusInternalServerError, "failed to count listings")
		return false
	}
	decision, _, err := h.gate.Check(r.Context(), companyID, entitlement.CapabilityListingIntegration, len(current))
	if err != nil {
		h.logger.Error("entitlement check failed", "error", err, "company_id", companyID)
		writeError(w, http.StatusServiceUnavailable, "entitlement unavailable")
		return false
	}
	if !decision.Allowed {
		writeJSON(w, http.StatusForbidden, map[string]any{
			"error":  "listing limit not available on plan",
			"reason": decision.Reason,
			"count":  len(current),
		})
		return false
	}
	return true
}

// ListListings handles GET /admin/companies/{companyID}/listings.
func (h *Handler) ListListings(w http.ResponseWriter, r *http.Request) {
	all, err := h.repo.ListByCompany(r.Context(), chi.URLParam(r, "companyID"))
	if err != nil {
		h.logger.Error("failed to list listings", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list listings")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"listings": all, "count": len(all)})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
