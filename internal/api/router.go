// Package api serves the JSON HTTP API and the live websocket endpoint.
package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/bishoku/autopilot-codex/internal/service"
)

// NewRouter creates the chi router with all routes and middleware. ws
// serves GET /ws and may be nil.
func NewRouter(svc *service.Service, ws http.Handler, apiKey string, logger *slog.Logger) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(CORS)
	r.Use(Logger(logger))
	r.Use(Recovery(logger))

	h := &Handler{svc: svc, logger: logger}

	r.Get("/api/health", h.Health)

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(apiKey))

		if ws != nil {
			r.Method(http.MethodGet, "/ws", ws)
		}

		r.Route("/api/sessions", func(r chi.Router) {
			r.Get("/", h.ListSessions)
			r.Post("/", h.CreateSession)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.GetSession)
				r.Patch("/", h.UpdateSession)
				r.Get("/intent", h.GetIntent)
				r.Post("/intent", h.SetIntent)

				r.Post("/stages/{stage}/generate", h.GenerateStage)
				r.Get("/runs", h.ListRuns)
				r.Post("/execution/start", h.StartExecution)

				r.Get("/requirements", h.ListRequirements)
				r.Post("/requirements", h.CreateRequirement)
				r.Patch("/requirements/{reqId}", h.UpdateRequirement)
				r.Delete("/requirements/{reqId}", h.DeleteRequirement)

				r.Get("/acceptance-criteria", h.ListCriteria)
				r.Post("/acceptance-criteria", h.CreateCriterion)
				r.Patch("/acceptance-criteria/{acId}", h.UpdateCriterion)
				r.Delete("/acceptance-criteria/{acId}", h.DeleteCriterion)

				r.Get("/impact-analysis", h.GetImpact)
				r.Put("/impact-analysis", h.UpsertImpact)

				r.Get("/tasks", h.ListTasks)
				r.Post("/tasks", h.CreateTask)
				r.Patch("/tasks/{taskId}", h.UpdateTask)
				r.Delete("/tasks/{taskId}", h.DeleteTask)
				r.Post("/tasks/{taskId}/execute", h.ExecuteTask)
				r.Post("/tasks/{taskId}/retry", h.RetryTask)

				r.Post("/export", h.Export)
			})
		})

		r.Route("/api/runs/{runId}", func(r chi.Router) {
			r.Get("/", h.GetRun)
			r.Get("/events", h.ListEvents)
		})
	})

	return r
}

// Handler serves the API routes
type Handler struct {
	svc    *service.Service
	logger *slog.Logger
}

// Health handles GET /api/health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, okResponse{OK: true})
}
