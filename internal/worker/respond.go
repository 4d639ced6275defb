package worker

import (
	"context"
	"errors"
	"math"
	"net/http"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/thebtf/clusterlens/internal/blob"
	"github.com/thebtf/clusterlens/internal/embedding"
	"github.com/thebtf/clusterlens/internal/engine"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}

// errorStatus maps the engine error taxonomy onto HTTP status codes.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, engine.ErrInvalidParams),
		errors.Is(err, engine.ErrDimensionMismatch),
		errors.Is(err, blob.ErrInvalidKey):
		return http.StatusBadRequest
	case errors.Is(err, engine.ErrClusterNotFound),
		errors.Is(err, engine.ErrItemNotFound):
		return http.StatusNotFound
	case errors.Is(err, embedding.ErrExtraction):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := errorStatus(err)
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Int("status", status).Msg("Request failed")
	}
	writeJSON(w, status, map[string]string{"detail": err.Error()})
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, map[string]string{"detail": msg})
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
