package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/upb/llm-chat-gateway/app"
	"github.com/upb/llm-chat-gateway/handlers"
	"github.com/upb/llm-chat-gateway/middleware"
)

// SetupRoutes configures all application routes and middleware
func SetupRoutes(deps *app.Dependencies) http.Handler {
	r := chi.NewRouter()

	// Core middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestLogger(deps.Logger))
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(deps.Config.RequestTimeout()))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   deps.Config.Server.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"X-Request-ID", "Retry-After"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	var history handlers.RefreshHistory
	if deps.Journal != nil {
		history = deps.Journal
	}
	var db handlers.DatabaseChecker
	if deps.DB != nil {
		db = deps.DB
	}

	health := handlers.NewHealthHandler(deps.Snapshots, deps.Refresher, db, deps.Logger)
	chat := handlers.NewChatHandler(deps.Chat, deps.Logger)
	configs := handlers.NewConfigHandler(deps.Snapshots, deps.Refresher, history, deps.Logger)
	admin := middleware.NewAdminAuth(deps.Config.Server.AdminToken, deps.Logger)

	// Health check endpoints
	r.Get("/healthz", health.HandleHealth)
	r.Get("/readyz", health.HandleReadiness)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/status", handlers.StatusHandler(deps.Config.Environment, deps.Config.ConfigStore.Kind, deps.Providers.ListProviders))
		r.Post("/chat", chat.HandleChat)

		r.Route("/config", func(r chi.Router) {
			r.Get("/", configs.HandleGetConfig)
			r.Get("/status", configs.HandleStatus)

			r.Group(func(r chi.Router) {
				r.Use(admin.RequireToken)
				r.Post("/refresh", configs.HandleRefresh)
				r.Get("/history", configs.HandleHistory)
			})
		})
	})

	// 404 handler
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"endpoint not found"}`))
	})

	return r
}
