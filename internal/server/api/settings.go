package api

import (
	"encoding/json"
	"net/http"

	"github.com/ayusman/gymbuddy/internal/squat"
	"github.com/ayusman/gymbuddy/internal/store"
)

// SettingsHandler handles GET and PUT on /api/settings.
type SettingsHandler struct {
	store      *store.Store
	thresholds squat.Thresholds
	onCoaching func(enabled bool)
}

// NewSettingsHandler creates a SettingsHandler. onCoaching, if non-nil, is
// called after the coaching flag is stored.
func NewSettingsHandler(s *store.Store, thresholds squat.Thresholds, onCoaching func(enabled bool)) *SettingsHandler {
	return &SettingsHandler{store: s, thresholds: thresholds, onCoaching: onCoaching}
}

type settingsResponse struct {
	CoachingEnabled bool             `json:"coaching_enabled"`
	Thresholds      squat.Thresholds `json:"thresholds"`
}

type updateSettingsRequest struct {
	CoachingEnabled *bool `json:"coaching_enabled"`
}

// ServeHTTP implements the http.Handler interface.
func (h *SettingsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.get(w, r)
	case http.MethodPut:
		h.update(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *SettingsHandler) current() settingsResponse {
	return settingsResponse{
		CoachingEnabled: h.store.Settings().GetBool(store.SettingCoachingEnabled, false),
		Thresholds:      h.thresholds,
	}
}

func (h *SettingsHandler) get(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.current())
}

func (h *SettingsHandler) update(w http.ResponseWriter, r *http.Request) {
	var req updateSettingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.CoachingEnabled == nil {
		writeError(w, http.StatusBadRequest, "coaching_enabled is required")
		return
	}

	if err := h.store.Settings().SetBool(store.SettingCoachingEnabled, *req.CoachingEnabled); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to update settings")
		return
	}
	if h.onCoaching != nil {
		h.onCoaching(*req.CoachingEnabled)
	}

	writeJSON(w, http.StatusOK, h.current())
}
