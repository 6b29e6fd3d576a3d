package router

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/picrelay/picrelay/backend/internal/setup"
	mw "github.com/picrelay/picrelay/shared/middleware"
	"github.com/picrelay/picrelay/shared/middleware/metrics"
	rl "github.com/picrelay/picrelay/shared/middleware/ratelimiter"
)

// New creates and configures the chi router with all the routes.
// IMPORTANT! a limiter passed to Use is shared by every route of that group
func New(deps *setup.Dependencies) http.Handler {
	r := chi.NewRouter()

	r.Use(metrics.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   deps.Config.Public.CorsOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		ExposedHeaders:   []string{"Content-Disposition"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(mw.SecurityHeaders(deps.Config.Public.SecureCookies))

	h := deps.Handler

	// probes and scraping stay outside auth
	r.Group(func(r chi.Router) {
		r.Use(mw.RateLimit(rl.Rps10(), mw.GetIP)) // 10 RPS per IP
		r.Get("/health", h.Health)
		r.Get("/ready", h.Ready)
		r.Handle("/metrics", promhttp.Handler())
	})

	r.Route("/v1", func(r chi.Router) {
		r.Use(deps.AuthMiddleware.NeedAuth())
		r.Use(mw.RateLimit(rl.Rps100(), mw.GetUserIDFromContext)) // 100 RPS per user

		// one upload batch per second per user, each batch may carry many files
		r.With(mw.RateLimit(rl.New(1, 5, time.Hour), mw.GetUserIDFromContext)).Post("/upload", h.Upload)
		r.Get("/upload/progress", h.UploadProgress)

		r.Get("/images", h.ListImages)
		// a gallery page renders a thumbnail per file
		r.With(mw.RateLimit(rl.New(50, 100, time.Hour), mw.GetUserIDFromContext)).Get("/images/proxy", h.ProxyImage)
		r.With(mw.RateLimit(rl.OnceInSecond(), mw.GetUserIDFromContext)).Post("/download", h.Download)

		r.Delete("/files", h.DeleteFiles)

		r.With(mw.RateLimit(rl.Rps10(), mw.GetUserIDFromContext)).Get("/channels", h.ListChannels)
		r.Post("/channels/{id}/join", h.JoinChannel)
	})

	return r
}
