package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/kalambet/frontdesk/internal/escalation"
	"github.com/kalambet/frontdesk/internal/metrics"
	"github.com/kalambet/frontdesk/internal/storage"
)

const maxRequestBodySize = 1 << 20 // 1MB

// Deps holds dependencies for the HTTP API.
type Deps struct {
	Engine  *escalation.Engine
	Metrics *metrics.Metrics // optional; if nil, /metrics is not mounted
	Hub     *Hub             // optional; if nil, the event stream route is not mounted
	Limiter *RateLimiter     // optional; if nil, incoming calls are not rate limited
	Token   string           // optional; enables bearer auth on supervisor routes
	Clock   storage.Clock    // optional; used by check-timeouts and /health
}

// NewHandler returns the frontdesk HTTP API.
func NewHandler(deps Deps) http.Handler {
	if deps.Clock == nil {
		deps.Clock = wallClock{}
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	if deps.Metrics != nil {
		r.Use(Instrument(deps.Metrics))
	}

	r.Get("/health", handleHealth(deps))
	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			if deps.Limiter != nil {
				r.Use(deps.Limiter.Middleware)
			}
			r.Post("/agent/incoming-call", handleIncomingCall(deps))
		})

		r.Group(func(r chi.Router) {
			if deps.Token != "" {
				r.Use(RequireToken(deps.Token))
			}

			r.Get("/help-requests", handleListHelpRequests(deps))
			r.Post("/help-requests", handleCreateHelpRequest(deps))
			r.Post("/help-requests/check-timeouts", handleCheckTimeouts(deps))
			if deps.Hub != nil {
				r.Get("/help-requests/stream", deps.Hub.ServeHTTP)
			}
			r.Get("/help-requests/{id}", handleGetHelpRequest(deps))
			r.Post("/help-requests/{id}/resolve", handleResolveHelpRequest(deps))

			r.Get("/knowledge-base", handleListKnowledge(deps))
			r.Get("/knowledge-base/search", handleSearchKnowledge(deps))
			r.Get("/knowledge-base/most-used", handleMostUsed(deps))
		})
	})

	return r
}

type wallClock struct{}

func (wallClock) Now() time.Time { return time.Now() }

func handleHealth(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"status":    "ok",
			"timestamp": deps.Clock.Now().UTC().Format(time.RFC3339),
		})
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	defer r.Body.Close()

	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

// errorStatus maps the escalation error taxonomy to an HTTP status and
// error type.
func errorStatus(err error) (int, string) {
	switch {
	case escalation.IsValidation(err):
		return http.StatusBadRequest, "invalid_request_error"
	case errors.Is(err, escalation.ErrNotFound):
		return http.StatusNotFound, "not_found_error"
	case errors.Is(err, escalation.ErrInvalidState):
		return http.StatusConflict, "conflict_error"
	case escalation.IsRetryable(err):
		return http.StatusServiceUnavailable, "unavailable_error"
	default:
		return http.StatusInternalServerError, "api_error"
	}
}

func writeEngineError(w http.ResponseWriter, err error) {
	code, errType := errorStatus(err)
	httpError(w, code, errType, "%v", err)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	writeJSON(w, code, map[string]any{
		"error": errorBody{Message: fmt.Sprintf(format, args...), Type: errType},
	})
}

type errorBody struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

func parseIntParam(r *http.Request, name string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(name)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}
