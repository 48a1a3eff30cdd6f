package company

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/realestate-lead-ai/internal/validation"
	"github.com/wolfman30/realestate-lead-ai/pkg/logging"
)

// Handler serves operator endpoints for channel settings.
type Handler struct {
	settings  SettingsStore
	validator *validation.Validator
	logger    *logging.Logger
}

func NewHandler(settings SettingsStore, v *validation.Validator, logger *logging.Logger) *Handler {
	if settings == nil {
		panic("company: settings store required")
	}
	if v == nil {
		v = validation.New()
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{settings: settings, validator: v, logger: logger}
}

// Routes mounts the settings endpoints under a company-scoped router.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/settings", h.GetSettings)
	r.Put("/settings", h.PutSettings)
}

// GetSettings handles GET /admin/companies/{companyID}/settings.
func (h *Handler) GetSettings(w http.ResponseWriter, r *http.Request) {
	s, err := h.settings.Get(r.Context(), chi.URLParam(r, "companyID"))
	if err != nil {
		h.logger.Error("failed to load settings", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load settings")
		return
	}
	writeJSON(w, http.StatusOK, s)
}

// PutSettings handles PUT /admin/companies/{companyID}/settings. The body
// replaces the stored settings; blank canned replies fall back to defaults.
func (h *Handler) PutSettings(w http.ResponseWriter, r *http.Request) {
	var in Settings
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	in.CompanyID = chi.URLParam(r, "companyID")
	if err := h.validator.Struct(in); err != nil {
		writeError(w, http.StatusBadRequest, validation.Describe(err))
		return
	}
	if err := h.settings.Set(r.Context(), &in); err != nil {
		h.logger.Error("failed to save settings", "error", err, "company_id", in.CompanyID)
		writeError(w, http.StatusInternalServerError, "failed to save settings")
		return
	}
	saved, err := h.settings.Get(r.Context(), in.CompanyID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load settings")
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
