package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		// Health check (no auth required)
		r.Get("/health", s.handleHealth)

		// Auth endpoints (no auth required)
		r.Post("/auth/login", s.handleLogin)
		r.Post("/auth/kit-login", s.handleKitLogin)

		// Public map listing of kits that opted in via show_on_map
		r.Get("/kits/map", s.handleKitMap)

		// Identity-aware routes: the resolver classifies the caller but
		// anonymous callers are admitted — per-handler policy decides.
		r.Group(func(r chi.Router) {
			r.Use(s.identityMiddleware)

			// Anyone may request a ticket; the ticket carries the identity
			r.Post("/auth/ws-ticket", s.handleWSTicket)

			// Measurement history is gated by the subscribe policy
			r.Get("/measurements", s.handleListMeasurements)

			// WebSocket (auth via ticket or token, validated in handler)
			r.Get("/ws", s.handleWebSocket)

			// Management routes require an authenticated user account
			r.Group(func(r chi.Router) {
				r.Use(s.requirePersonMiddleware)

				r.Get("/auth/me", s.handleMe)

				// User account endpoints
				r.Route("/users", func(r chi.Router) {
					r.Get("/", s.handleListUsers)
					r.Post("/", s.handleCreateUser)

					r.Route("/{id}", func(r chi.Router) {
						r.Get("/", s.handleGetUser)
						r.Patch("/", s.handleUpdateUser)
						r.Delete("/", s.handleDeleteUser)
						r.Put("/password", s.handleSetUserPassword)
					})
				})

				// Kit endpoints
				r.Route("/kits", func(r chi.Router) {
					r.Get("/", s.handleListKits)
					r.Post("/", s.handleCreateKit)

					r.Route("/{id}", func(r chi.Router) {
						r.Get("/", s.handleGetKit)
						r.Patch("/", s.handleUpdateKit)
						r.Delete("/", s.handleDeleteKit)

						r.Route("/members", func(r chi.Router) {
							r.Get("/", s.handleListMembers)
							r.Post("/", s.handleAddMember)
							r.Delete("/{userID}", s.handleRemoveMember)
						})

						r.Route("/peripherals", func(r chi.Router) {
							r.Get("/", s.handleListPeripherals)
							r.Post("/", s.handleAddPeripheral)
							r.Delete("/{peripheralID}", s.handleRemovePeripheral)
						})

						r.Route("/experiments", func(r chi.Router) {
							r.Get("/current", s.handleCurrentExperiment)
							r.Post("/", s.handleStartExperiment)
							r.Post("/{experimentID}/end", s.handleEndExperiment)
						})
					})
				})

				// Catalog endpoints
				r.Get("/quantity-types", s.handleListQuantityTypes)
				r.Get("/peripheral-definitions", s.handleListDefinitions)
			})
		})
	})

	return r
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
	})
}
