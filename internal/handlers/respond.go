package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/akagifreeez/deepl-quota-monitor/internal/models"
)

func respondJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}

// respondError maps typed domain errors to HTTP statuses: validation to 400,
// not-found to 404, a failed upstream quota call to 502, anything else to 500.
func respondError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case models.IsValidation(err):
		status = http.StatusBadRequest
	case models.IsNotFound(err):
		status = http.StatusNotFound
	case models.IsProvider(err):
		status = http.StatusBadGateway
	default:
		log.Error().Err(err).Msg("Request failed")
	}
	respondJSON(w, status, map[string]string{"error": err.Error()})
}
