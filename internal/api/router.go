// internal/api/router.go
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/pulkita2007/meter-system/internal/auth"
)

// SetupDataRouter serves the device-facing ingest surface; meters
// authenticate with an API key.
func SetupDataRouter(h *APIHandler, am *auth.Manager) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Group(func(r chi.Router) {
		r.Use(am.APIKeyMiddleware)
		r.Post("/api/energy/add", h.HandleAddReading)
	})

	return r
}

// SetupAPIRouter serves the dashboard-facing surface; users authenticate
// with a JWT issued by the user service. The websocket live feed is open.
func SetupAPIRouter(h *APIHandler, am *auth.Manager) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Group(func(r chi.Router) {
		r.Use(am.JWTMiddleware)

		r.Get("/api/energy/readings/{deviceID}", h.HandleGetReadings)
		r.Get("/api/energy/history", h.HandleGetHistory)
		r.Get("/api/energy/insights", h.HandleGetInsights)

		r.Get("/api/alerts", h.HandleListAlerts)
		r.Post("/api/alerts", h.HandleCreateAlert)
		r.Put("/api/alerts/{alertID}/read", h.HandleMarkAlertRead)
		r.Put("/api/alerts/{alertID}/resolve", h.HandleResolveAlert)

		r.Post("/api/ai/predict-energy", h.HandlePredictEnergy)
		r.Get("/api/ai/predictions/{deviceID}", h.HandlePredictionHistory)

		r.Post("/api/chatbot/query", h.HandleChat)
	})

	r.Get("/ws", h.HandleWebSocket)

	return r
}
