/*
server.go - HTTP router and middleware configuration

MIDDLEWARE STACK:
  1. RequestID:     Unique ID per request, echoed in the access log
  2. RequestLogger: logrus access log (logging package)
  3. Recoverer:     Panic recovery (500 instead of crash)
  4. CORS:          Cross-origin requests for the frontend

ROUTE GROUPS:
  /api/events/*         Attendance, participation, winners
  /api/submissions/*    Review queue
  /api/shop/*           Catalog and redemption
  /api/users/*          Balances and history
  /api/leaderboard      Top students
  /api/admin/*          Reconciliation
  /api/health           Liveness

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/campusengage/points-engine/logging"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(logging.RequestLogger(h.log))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.Health)

		r.Route("/events/{id}", func(r chi.Router) {
			r.Post("/attendance", h.MarkAttendance)
			r.Post("/participations", h.AwardParticipation)
			r.Post("/winners", h.AwardWinners)
		})

		r.Route("/submissions", func(r chi.Router) {
			r.Get("/pending", h.ListPendingSubmissions)
			r.Post("/{id}/approve", h.ApproveSubmission)
			r.Post("/{id}/reject", h.RejectSubmission)
		})

		r.Route("/shop/items", func(r chi.Router) {
			r.Get("/", h.ListShopItems)
			r.Post("/{id}/redeem", h.Redeem)
		})

		r.Route("/users/{id}", func(r chi.Router) {
			r.Get("/points", h.GetUserPoints)
			r.Get("/redemptions", h.ListUserRedemptions)
		})

		r.Get("/leaderboard", h.Leaderboard)

		r.Route("/admin", func(r chi.Router) {
			r.Post("/reconcile", h.Reconcile)
		})
	})

	return r
}
