package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	httpmiddleware "github.com/wolfman30/realestate-lead-ai/internal/http/middleware"
	"github.com/wolfman30/realestate-lead-ai/internal/leads"
	"github.com/wolfman30/realestate-lead-ai/pkg/logging"
)

// LeadReader loads leads for the transcript endpoints.
type LeadReader interface {
	GetByID(ctx context.Context, id string) (*leads.Lead, error)
}

// Handler exposes transcripts to operator tooling.
type Handler struct {
	leads     LeadReader
	session   Session
	scheduler ExtractionScheduler
	logger    *logging.Logger
}

// NewHandler creates a conversation handler. scheduler may be nil, which
// disables the manual extraction trigger.
func NewHandler(leadReader LeadReader, session Session, scheduler ExtractionScheduler, logger *logging.Logger) *Handler {
	if leadReader == nil || session == nil {
		panic("conversation: lead reader and session required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{
		leads:     leadReader,
		session:   session,
		scheduler: scheduler,
		logger:    logger,
	}
}

// Routes mounts the transcript endpoints.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/leads/{leadID}/messages", h.Messages)
	r.Post("/leads/{leadID}/extract", h.Extract)
}

type messagesResponse struct {
	LeadID         string          `json:"lead_id"`
	ConversationID string          `json:"conversation_id"`
	Messages       []StoredMessage `json:"messages"`
}

// Messages handles GET /leads/{leadID}/messages.
func (h *Handler) Messages(w http.ResponseWriter, r *http.Request) {
	lead, ok := h.lead(w, r)
	if !ok {
		return
	}
	msgs, err := h.session.Messages(r.Context(), lead.ConversationID)
	if err != nil {
		h.logger.Error("failed to load transcript", "error", err, "lead_id", lead.ID)
		writeError(w, http.StatusInternalServerError, "failed to load messages")
		return
	}
	if msgs == nil {
		msgs = []StoredMessage{}
	}
	writeJSON(w, http.StatusOK, messagesResponse{
		LeadID:         lead.ID,
		ConversationID: lead.ConversationID,
		Messages:       msgs,
	})
}

// Extract handles POST /leads/{leadID}/extract.
func (h *Handler) Extract(w http.ResponseWriter, r *http.Request) {
	lead, ok := h.lead(w, r)
	if !ok {
		return
	}
	if h.scheduler == nil {
		writeError(w, http.StatusServiceUnavailable, "extraction is not configured")
		return
	}
	job := ExtractionJob{LeadID: lead.ID, CompanyID: lead.CompanyID, ConversationID: lead.ConversationID}
	if err := h.scheduler.ScheduleExtraction(r.Context(), job); err != nil {
		h.logger.Error("failed to schedule extraction", "error", err, "lead_id", lead.ID)
		writeError(w, http.StatusServiceUnavailable, "failed to schedule extraction")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "scheduled"})
}

func (h *Handler) lead(w http.ResponseWriter, r *http.Request) (*leads.Lead, bool) {
	lead, err := h.leads.GetByID(r.Context(), chi.URLParam(r, "leadID"))
	if err != nil {
		if errors.Is(err, leads.ErrLeadNotFound) {
			writeError(w, http.StatusNotFound, "lead not found")
			return nil, false
		}
		h.logger.Error("failed to load lead", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load lead")
		return nil, false
	}
	if !httpmiddleware.CompanyAllowed(r.Context(), lead.CompanyID) {
		writeError(w, http.StatusForbidden, "forbidden")
		return nil, false
	}
	return lead, true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
