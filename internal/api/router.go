package api

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/switchboard-core/internal/auth"
)

// healthCheckTimeout bounds each dependency check on /health.
const healthCheckTimeout = 2 * time.Second

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		// WebSocket authenticates with a ticket in the query string.
		r.Get("/ws", s.handleWebSocket)

		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Get("/metrics", s.handleMetrics)
			r.Post("/auth/ws-ticket", s.handleWSTicket)

			r.Route("/bridges", func(r chi.Router) {
				r.With(s.requirePermission(auth.PermBridgeRead)).Get("/", s.handleListBridges)

				r.Route("/{service}", func(r chi.Router) {
					r.With(s.requirePermission(auth.PermBridgeRead)).Get("/status", s.handleBridgeStatus)
					r.With(s.requirePermission(auth.PermBridgeOperate)).Post("/start", s.handleStartBridge)
					r.With(s.requirePermission(auth.PermBridgeOperate)).Post("/send", s.handleSendBridge)
					r.With(s.requirePermission(auth.PermBridgeOperate)).Post("/autostart", s.handleBridgeAutostart)
				})
			})
		})
	})

	return r
}

// handleHealth runs every registered dependency check. Any failure turns
// the response into 503 with status "degraded".
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	names := make([]string, 0, len(s.checks))
	for name := range s.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	status := "ok"
	code := http.StatusOK
	checks := make(map[string]string, len(names))
	for _, name := range names {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		err := s.checks[name].HealthCheck(ctx)
		cancel()

		if err != nil {
			checks[name] = "error: " + err.Error()
			status = "degraded"
			code = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}

	writeJSON(w, code, map[string]any{
		"status":  status,
		"version": s.version,
		"checks":  checks,
	})
}
