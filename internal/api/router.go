package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Kenox00/door-lock-sub001/internal/auth"
)

// healthCheckTimeout bounds the dependency checks of GET /health.
const healthCheckTimeout = 2 * time.Second

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	// Lock-facing channel (device token auth, handled by the channel)
	if s.deviceChannel != nil && s.sessionCfg.Path != "" {
		r.Handle(s.sessionCfg.Path, s.deviceChannel)
	}

	r.Route("/api/v1", func(r chi.Router) {
		// Health check (no auth required)
		r.Get("/health", s.handleHealth)

		// Auth endpoints (no auth required)
		r.Post("/auth/login", s.handleLogin)

		// Dashboard WebSocket (auth via ticket, validated in handler)
		r.Get(s.dashboardPath(), s.handleWebSocket)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Get("/auth/me", s.handleMe)
			r.Post("/auth/ws-ticket", s.handleWSTicket)

			r.Route("/devices", func(r chi.Router) {
				r.With(s.requirePermission(auth.PermDeviceRead)).Get("/", s.handleListDevices)
				r.With(s.requirePermission(auth.PermDeviceProvision)).Post("/", s.handleProvisionDevice)

				r.Route("/{id}", func(r chi.Router) {
					r.With(s.requirePermission(auth.PermDeviceRead)).Get("/", s.handleGetDevice)
					r.With(s.requirePermission(auth.PermDeviceRead)).Get("/status", s.handleDeviceStatus)
					r.With(s.requirePermission(auth.PermDeviceOperate)).Post("/commands", s.handleDispatchCommand)

					r.Group(func(r chi.Router) {
						r.Use(s.requirePermission(auth.PermDeviceProvision))
						r.Delete("/", s.handleDeleteDevice)
						r.Post("/token", s.handleRotateToken)
						r.Put("/owner", s.handleSetOwner)
					})
				})
			})

			r.Route("/connections", func(r chi.Router) {
				r.Use(s.requirePermission(auth.PermDeviceRead))
				r.Get("/", s.handleListConnections)
			})

			r.Route("/commands", func(r chi.Router) {
				r.Use(s.requirePermission(auth.PermDeviceRead))
				r.Get("/", s.handleListPending)
				r.Get("/{id}", s.handleGetCommand)
			})

			r.With(s.requirePermission(auth.PermAuditRead)).Get("/audit", s.handleListAuditLogs)
			r.With(s.requirePermission(auth.PermSystemRead)).Get("/metrics", s.handleMetrics)

			r.Route("/users", func(r chi.Router) {
				r.Use(s.requirePermission(auth.PermUserManage))
				r.Get("/", s.handleListUsers)
				r.Post("/", s.handleCreateUser)
				r.Get("/{id}", s.handleGetUser)
				r.Patch("/{id}", s.handleUpdateUser)
			})
		})
	})

	return r
}

// dashboardPath is the dashboard WebSocket route relative to /api/v1.
func (s *Server) dashboardPath() string {
	if s.wsCfg.Path == "" {
		return "/ws"
	}
	return s.wsCfg.Path
}

// handleHealth returns the server health status. It reports "degraded"
// when the database or broker is unreachable.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	status := "ok"
	components := map[string]string{}

	if s.db != nil {
		components["database"] = "ok"
		if err := s.db.HealthCheck(ctx); err != nil {
			components["database"] = "unreachable"
			status = "degraded"
		}
	}
	if s.broker != nil {
		components["broker"] = "connected"
		if !s.broker.IsConnected() {
			components["broker"] = "disconnected"
			status = "degraded"
		}
	}

	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{
		"status":     status,
		"version":    s.version,
		"components": components,
	})
}
