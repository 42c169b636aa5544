package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/skridlevsky/repo-activity/internal/aggregate"
	"github.com/skridlevsky/repo-activity/internal/github"
)

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp string            `json:"timestamp"`
	Services  map[string]string `json:"services,omitempty"`
}

// HealthHandler handles GET /api/health
func HealthHandler(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, HealthResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// NewHealthHandler creates a health handler with service checks
func NewHealthHandler(dbHealthChecker interface{ Health(context.Context) error }) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		services := make(map[string]string)
		status := "ok"

		if err := dbHealthChecker.Health(r.Context()); err != nil {
			slog.Error("Database health check failed", "error", err)
			services["database"] = "unhealthy"
			status = "degraded"
		} else {
			services["database"] = "healthy"
		}

		code := http.StatusOK
		if status != "ok" {
			code = http.StatusServiceUnavailable
		}
		respondJSON(w, code, HealthResponse{
			Status:    status,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			Services:  services,
		})
	}
}

// respondJSON writes a JSON response
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// respondError maps an error from the provider or the store to a status code
func respondError(w http.ResponseWriter, r *http.Request, err error) {
	var pe *github.ProviderError
	switch {
	case errors.Is(err, github.ErrNotFound), errors.Is(err, aggregate.ErrNotFound):
		http.Error(w, "Not found", http.StatusNotFound)
	case errors.As(err, &pe) && pe.RateLimited:
		if !pe.ResetAt.IsZero() {
			retry := int(time.Until(pe.ResetAt).Seconds()) + 1
			if retry > 0 {
				w.Header().Set("Retry-After", strconv.Itoa(retry))
			}
		}
		slog.Warn("GitHub rate limit hit", "path", r.URL.Path, "reset_at", pe.ResetAt)
		http.Error(w, "GitHub rate limit exceeded", http.StatusTooManyRequests)
	case errors.As(err, &pe) && pe.Timeout:
		slog.Error("GitHub request timed out", "path", r.URL.Path, "op", pe.Op)
		http.Error(w, "GitHub request timed out", http.StatusGatewayTimeout)
	case errors.As(err, &pe):
		slog.Error("GitHub request failed", "path", r.URL.Path, "op", pe.Op, "status", pe.StatusCode, "error", err)
		http.Error(w, "GitHub request failed", http.StatusBadGateway)
	case errors.Is(err, context.DeadlineExceeded):
		http.Error(w, "Request timed out", http.StatusGatewayTimeout)
	default:
		slog.Error("Request failed", "path", r.URL.Path, "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}
