// Package httpapi exposes the service API over HTTP with JSON bodies and
// bearer token authentication.
package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"planengine/internal/auth"
	"planengine/internal/model"
	"planengine/internal/scope"
	"planengine/internal/service"
)

// DefaultTimeout bounds each request.
const DefaultTimeout = 30 * time.Second

// Principals resolves a token's user id to a principal.
type Principals interface {
	Principal(ctx context.Context, userID string) (scope.Principal, error)
}

// API holds the handler dependencies.
type API struct {
	Service    *service.Service
	Auth       *auth.Manager
	Principals Principals
	Log        *slog.Logger
	Timeout    time.Duration
}

// Router builds the HTTP handler.
func (a *API) Router() http.Handler {
	if a.Log == nil {
		a.Log = slog.Default()
	}
	if a.Timeout == 0 {
		a.Timeout = DefaultTimeout
	}
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(a.Timeout))
	r.Use(a.logRequests)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/plans", func(r chi.Router) {
		legacyRoutes(r)
		r.Group(func(r chi.Router) {
			r.Use(a.authenticate)
			r.Get("/", a.handleListPlans)
			r.Post("/", a.handleCreatePlan)
			r.Post("/requests/{requestID}/decide", a.handleDecide(model.KindPlan))
			r.Get("/{id}", a.handleGetPlan)
			r.Patch("/{id}", a.handleUpdatePlan)
			a.entityRoutes(r, model.KindPlan)
		})
	})
	r.Route("/goals", func(r chi.Router) {
		legacyRoutes(r)
		r.Group(func(r chi.Router) {
			r.Use(a.authenticate)
			r.Get("/", a.handleListGoals)
			r.Post("/", a.handleCreateGoal)
			r.Post("/requests/{requestID}/decide", a.handleDecide(model.KindGoal))
			r.Get("/{id}", a.handleGetGoal)
			r.Patch("/{id}", a.handleUpdateGoal)
			a.entityRoutes(r, model.KindGoal)
		})
	})

	r.Group(func(r chi.Router) {
		r.Use(a.authenticate)
		r.Get("/decisions", a.handleListDecisions)
		r.Post("/adjustments/{id}/decide", a.handleDecideAdjustment)
		r.Get("/todos", a.handleListTodos)
		r.Post("/todos/{id}/complete", a.handleCompleteTodo)
		r.Route("/notifications", func(r chi.Router) {
			r.Get("/", a.handleListNotifications)
			r.Get("/unread-count", a.handleUnreadCount)
			r.Post("/read-all", a.handleMarkAllRead)
			r.Post("/{id}/read", a.handleMarkRead)
		})
		r.Get("/stats/plans", a.handleStats(model.KindPlan))
		r.Get("/stats/goals", a.handleStats(model.KindGoal))
	})
	return r
}

// entityRoutes registers the operations plans and goals share.
func (a *API) entityRoutes(r chi.Router, kind model.Kind) {
	r.Post("/{id}/start-request", a.handleRequest(kind, false))
	r.Post("/{id}/cancel-request", a.handleRequest(kind, true))
	r.Post("/{id}/progress", a.handleProgress(kind))
	r.Get("/{id}/progress", a.handleProgressHistory(kind))
	r.Get("/{id}/status-logs", a.handleStatusHistory(kind))
	r.Post("/{id}/publish", a.handleHandoff(kind, false))
	r.Post("/{id}/accept", a.handleHandoff(kind, true))
	r.Post("/{id}/adjustments", a.handleRequestAdjustment(kind))
	r.Get("/{id}/descendants", a.handleDescendants(kind))
}

// legacyRoutes answers the retired approval endpoints before any
// authentication or storage access.
func legacyRoutes(r chi.Router) {
	for _, path := range []string{"/{id}/approve", "/{id}/reject", "/{id}/submit", "/{id}/status"} {
		r.HandleFunc(path, handleLegacy)
	}
}

func handleLegacy(w http.ResponseWriter, _ *http.Request) {
	writeError(w, http.StatusGone, string(model.CodeLegacyEndpointGone),
		"this endpoint was retired; use start-request, cancel-request and requests/{id}/decide")
}
