// Package api provides HTTP API handlers for the GymBuddy session history.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ayusman/gymbuddy/internal/session"
	"github.com/ayusman/gymbuddy/internal/store"
)

// DefaultListLimit caps GET /api/sessions when no limit is given.
const DefaultListLimit = 50

// SessionHandler handles HTTP requests for stored coaching sessions.
type SessionHandler struct {
	store *store.Store
}

// NewSessionHandler creates a new SessionHandler with the given store.
func NewSessionHandler(s *store.Store) *SessionHandler {
	return &SessionHandler{store: s}
}

// ServeHTTP implements the http.Handler interface and routes requests to appropriate methods.
func (h *SessionHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// Expected paths: /api/sessions or /api/sessions/{id}
	path := strings.TrimPrefix(r.URL.Path, "/api/sessions")
	path = strings.TrimPrefix(path, "/")

	if path == "" {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h.list(w, r)
		return
	}

	id := path
	switch r.Method {
	case http.MethodGet:
		h.get(w, r, id)
	case http.MethodDelete:
		h.delete(w, r, id)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

type sessionResponse struct {
	ID             string `json:"id"`
	Source         string `json:"source"`
	Backend        string `json:"backend"`
	Reps           int    `json:"reps"`
	Frames         int    `json:"frames"`
	DetectedFrames int    `json:"detected_frames"`
	StartedAt      string `json:"started_at"`
	EndedAt        string `json:"ended_at,omitempty"`
}

type repResponse struct {
	Number       int     `json:"number"`
	MinKneeAngle float64 `json:"min_knee_angle"`
	MinHipAngle  float64 `json:"min_hip_angle"`
	DurationMs   int64   `json:"duration_ms"`
	CompletedAt  string  `json:"completed_at"`
}

type listSessionsResponse struct {
	Sessions []sessionResponse `json:"sessions"`
}

type sessionDetailResponse struct {
	Session sessionResponse `json:"session"`
	Reps    []repResponse   `json:"reps"`
	Summary session.Summary `json:"summary"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func toSessionResponse(s *store.Session) sessionResponse {
	resp := sessionResponse{
		ID:             s.ID,
		Source:         string(s.Source),
		Backend:        s.Backend,
		Reps:           s.Reps,
		Frames:         s.Frames,
		DetectedFrames: s.DetectedFrames,
		StartedAt:      s.StartedAt.Format(time.RFC3339),
	}
	if s.EndedAt != nil {
		resp.EndedAt = s.EndedAt.Format(time.RFC3339)
	}
	return resp
}

func toRepResponse(r *store.Rep) repResponse {
	return repResponse{
		Number:       r.Number,
		MinKneeAngle: r.MinKneeAngle,
		MinHipAngle:  r.MinHipAngle,
		DurationMs:   r.Duration.Milliseconds(),
		CompletedAt:  r.CompletedAt.Format(time.RFC3339),
	}
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// list handles GET /api/sessions. An optional limit query parameter caps the
// number of sessions returned, newest first.
func (h *SessionHandler) list(w http.ResponseWriter, r *http.Request) {
	limit := DefaultListLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	sessions, err := h.store.Sessions().List(limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list sessions")
		return
	}

	response := listSessionsResponse{
		Sessions: make([]sessionResponse, 0, len(sessions)),
	}
	for _, s := range sessions {
		response.Sessions = append(response.Sessions, toSessionResponse(s))
	}

	writeJSON(w, http.StatusOK, response)
}

// get handles GET /api/sessions/{id} and returns the session with its reps
// and summary statistics.
func (h *SessionHandler) get(w http.ResponseWriter, r *http.Request, id string) {
	sess, err := h.store.Sessions().GetByID(id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Session not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to get session")
		return
	}

	reps, err := h.store.Reps().ListBySession(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list reps")
		return
	}

	response := sessionDetailResponse{
		Session: toSessionResponse(sess),
		Reps:    make([]repResponse, 0, len(reps)),
		Summary: session.Summarize(sess, reps),
	}
	for _, rep := range reps {
		response.Reps = append(response.Reps, toRepResponse(rep))
	}

	writeJSON(w, http.StatusOK, response)
}

// delete handles DELETE /api/sessions/{id}.
func (h *SessionHandler) delete(w http.ResponseWriter, r *http.Request, id string) {
	if err := h.store.Sessions().Delete(id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Session not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to delete session")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
