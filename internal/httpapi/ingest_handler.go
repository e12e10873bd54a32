// Package httpapi exposes the relay's HTTP surface.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"golang.org/x/time/rate"

	"github.com/nextlevelbuilder/inboxrelay/internal/ingest"
)

// Runner is the ingestion entry point the handler drives.
type Runner interface {
	Run(ctx context.Context, req ingest.Request) (*ingest.Response, error)
}

// IngestHandler handles ingestion requests with bearer auth and a
// per-site rate limit.
type IngestHandler struct {
	runner Runner
	token  string

	rpm      int
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func NewIngestHandler(runner Runner, token string, rateLimitRPM int) *IngestHandler {
	return &IngestHandler{
		runner:   runner,
		token:    token,
		rpm:      rateLimitRPM,
		limiters: map[string]*rate.Limiter{},
	}
}

// RegisterRoutes registers the API routes on the given mux.
func (h *IngestHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/ingest", h.authMiddleware(h.handleIngest))
	mux.HandleFunc("GET /v1/healthz", h.handleHealth)
}

func (h *IngestHandler) authMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if h.token != "" {
			if extractBearerToken(r) != h.token {
				writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
				return
			}
		}
		next(w, r)
	}
}

func (h *IngestHandler) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req ingest.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON: " + err.Error()})
		return
	}

	if !h.allow(req.SiteID) {
		writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "rate limit exceeded for site"})
		return
	}

	resp, err := h.runner.Run(r.Context(), req)
	if err != nil {
		status := statusForError(err)
		if status >= http.StatusInternalServerError {
			slog.Error("api.ingest_failed", "site", req.SiteID, "error", err)
		}
		writeJSON(w, status, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *IngestHandler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// allow applies the per-site rate limit. Zero or negative RPM disables it.
func (h *IngestHandler) allow(site string) bool {
	if h.rpm <= 0 {
		return true
	}
	h.mu.Lock()
	lim, ok := h.limiters[site]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(float64(h.rpm)/60.0), h.rpm)
		h.limiters[site] = lim
	}
	h.mu.Unlock()
	return lim.Allow()
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, ingest.ErrSiteNotConfigured):
		return http.StatusNotFound
	case errors.Is(err, ingest.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, ingest.ErrFetchFailed):
		return http.StatusBadGateway
	case errors.Is(err, ingest.ErrCommandExecution):
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

func extractBearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return ""
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
