package search

import (
	"encoding/json"
	"fmt"
	"net/http"
	"unicode/utf8"

	"github.com/objectfinder/object-finder/internal/pkg/errors"
)

// MaxQueryLength bounds the search text accepted over HTTP.
const MaxQueryLength = 200

// maxBodyBytes bounds the JSON request body.
const maxBodyBytes = 64 << 10

// Handler provides HTTP handlers for search operations.
type Handler struct {
	orch *Orchestrator
}

// NewHandler creates a new search handler.
func NewHandler(orch *Orchestrator) *Handler {
	return &Handler{orch: orch}
}

// Request is the JSON request body for search.
type Request struct {
	Query string `json:"query"`
}

// RegisterRoutes registers search routes.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/search", h.HandleSearch)
	mux.HandleFunc("POST /api/search/{$}", h.HandleSearch)
	mux.HandleFunc("GET /api/search/history", h.HandleHistory)
	mux.HandleFunc("GET /api/search/suggestions", h.HandleSuggestions)
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// HandleSearch handles POST /api/search.
func (h *Handler) HandleSearch(w http.ResponseWriter, r *http.Request) {
	var req Request
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		errors.WriteError(w, r, errors.InvalidRequestError("invalid request body"))
		return
	}

	if n := utf8.RuneCountInString(req.Query); n > MaxQueryLength {
		errors.WriteError(w, r, errors.ValidationError(
			fmt.Sprintf("Search query must be at most %d characters", MaxQueryLength)))
		return
	}

	res, err := h.orch.Search(r.Context(), req.Query)
	if err != nil {
		errors.WriteError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, res)
}

// HandleHistory handles GET /api/search/history.
func (h *Handler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.orch.History(r.Context()))
}

// HandleSuggestions handles GET /api/search/suggestions.
func (h *Handler) HandleSuggestions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.orch.Suggestions(r.Context()))
}
