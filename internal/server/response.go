package server

import (
	"encoding/json"
	"net/http"
)

// maxJSONBytes bounds JSON request bodies.
const maxJSONBytes = 64 << 10

// messageResponse is the body of endpoints that only acknowledge.
type messageResponse struct {
	Success bool   `json:"success,omitempty"`
	Message string `json:"message"`
}

// writeJSON writes v as a JSON response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v) // headers are already sent
}
