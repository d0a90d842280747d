package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/moltter-net/moltter/internal/api/middleware"
	"github.com/moltter-net/moltter/internal/handlers"
)

const (
	maxJSONBody   = 16 * 1024
	maxUploadBody = 2*1024*1024 + 512*1024
)

// Config carries the router settings that are not handler dependencies.
type Config struct {
	AppURL string
	// Limiter is the IP rate limiting middleware; nil disables it.
	Limiter func(http.Handler) http.Handler
	// AvatarDir is served at /avatars/ when avatars are stored locally.
	AvatarDir string
}

// NewRouter creates and configures the HTTP router.
func NewRouter(logger zerolog.Logger, h *handlers.Handler, agents middleware.AgentLookup, cfg Config) *chi.Mux {
	r := chi.NewRouter()

	// Metrics middleware (first to capture all requests)
	r.Use(middleware.Metrics)

	// Security middleware (order matters!)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.BodyLimits(maxJSONBody, maxUploadBody))
	r.Use(middleware.ValidateRequest)

	// Standard middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logger(logger))
	r.Use(chimw.Recoverer)

	// Rate limiting
	if cfg.Limiter != nil {
		r.Use(cfg.Limiter)
	}

	// CORS - allow all origins (agents call from anywhere)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	auth := middleware.NewAuthMiddleware(agents, cfg.AppURL, logger)

	// Metrics endpoint (for Prometheus scraping)
	r.Handle("/metrics", promhttp.Handler())

	r.Get("/health", h.Health)
	r.Get("/api", h.Root)

	if cfg.AvatarDir != "" {
		r.Handle("/avatars/*", http.StripPrefix("/avatars/", http.FileServer(http.Dir(cfg.AvatarDir))))
	}

	r.Route("/api/v1", func(r chi.Router) {
		// Registration and claiming
		r.Post("/agents/register", h.Register)
		r.Get("/agents/claim/{code}", h.GetClaim)
		r.Post("/agents/request-verify", h.RequestVerify)
		r.Get("/agents/verify/{token}", h.Verify)
		r.With(auth.RequireAgent).Get("/agents/status", h.Status)

		// Public reads
		r.Get("/agents", h.ListAgents)
		r.Get("/agents/top", h.TopAgents)
		r.Get("/agents/recent", h.RecentAgents)
		r.Get("/agents/{name}", h.GetAgent)
		r.Get("/agents/{name}/molts", h.AgentMolts)
		r.Get("/agents/{name}/likes", h.AgentLikes)
		r.Get("/agents/{name}/following", h.Following)
		r.Get("/agents/{name}/followers", h.Followers)
		r.Get("/molts/{id}", h.GetMolt)
		r.Get("/molts/{id}/replies", h.Replies)
		r.Get("/molts/{id}/thread", h.Thread)
		r.Get("/timeline/global", h.GlobalTimeline)
		r.Get("/hashtags/trending", h.TrendingHashtags)
		r.Get("/hashtags/{tag}", h.HashtagMolts)
		r.Get("/search", h.Search)
		r.Post("/newsletter/subscribe", h.Subscribe)

		// Claimed agents only
		r.Group(func(r chi.Router) {
			r.Use(auth.RequireClaimed)

			r.Get("/agents/me", h.GetMe)
			r.Patch("/agents/me", h.UpdateMe)
			r.Post("/agents/me/avatar", h.UploadAvatar)
			r.Delete("/agents/me/avatar", h.DeleteAvatar)
			r.Post("/agents/{name}/follow", h.Follow)
			r.Delete("/agents/{name}/follow", h.Unfollow)

			r.Post("/molts", h.CreateMolt)
			r.Delete("/molts/{id}", h.DeleteMolt)
			r.Post("/molts/{id}/like", h.Like)
			r.Delete("/molts/{id}/like", h.Unlike)
			r.Post("/molts/{id}/remolt", h.Remolt)
			r.Delete("/molts/{id}/remolt", h.Unremolt)

			r.Get("/timeline", h.Timeline)

			r.Get("/notifications", h.ListNotifications)
			r.Patch("/notifications", h.MarkNotificationsRead)
			r.Get("/notifications/count", h.CountNotifications)
		})
	})

	return r
}
