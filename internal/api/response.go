package api

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"
)

// JSON writes v as a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}

// Error writes a JSON error envelope.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// provisionFailure is the 500 body after a rolled-back provisioning
// run: enough detail for operators (step, physical name), with rollback
// problems reported as warnings rather than folded into the error.
type provisionFailure struct {
	Error      string   `json:"error"`
	Step       string   `json:"step,omitempty"`
	PhysicalDB string   `json:"physical_database_name,omitempty"`
	Warnings   []string `json:"warnings,omitempty"`
}
