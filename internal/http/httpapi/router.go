package httpapi

import (
	"net/http"
	"time"

	"gallery/internal/http/handlers"
	"gallery/internal/middleware"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
)

func NewRouter(app *handlers.App) http.Handler {
	r := chi.NewRouter()

	r.Use(
		middleware.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		middleware.Logger(app.Logger),
		middleware.I18N("en"),
		middleware.CORS(app.Config.AllowedOrigins),
	)

	r.Get("/v1/healthz", app.Health)
	r.Handle("/metrics", handlers.Metrics())

	// Public gallery reads.
	r.Route("/v1/gallery", func(r chi.Router) {
		r.Get("/", app.GalleryDefault)
		r.Get("/search", app.GallerySearch)
		r.Get("/styles", app.GalleryStyles)
		r.Get("/export.zip", app.GalleryZip)
	})
	r.Get("/v1/artifacts/*", app.ArtifactDownload)
	r.Get("/v1/models", app.Models)

	// Payment provider callback, authenticated by signature instead of JWT.
	r.Post("/v1/webhooks/stripe", app.StripeWebhook)

	// Authenticated surface.
	r.Group(func(r chi.Router) {
		r.Use(middleware.AuthJWT(app.Config.JWTSecret))
		r.Use(middleware.RateLimit(app.Config.RateLimitPerMin, time.Minute))

		r.Get("/v1/me", app.Me)
		r.Post("/v1/uploads", app.UploadInput)
		r.Post("/v1/billing/checkout", app.BillingCheckout)
		r.Post("/v1/billing/portal", app.BillingPortal)

		r.Route("/v1/renders", func(r chi.Router) {
			r.Post("/", app.RenderSubmit)
			r.Get("/{render_id}", app.RenderStatus)
			r.Post("/{render_id}/cancel", app.RenderCancel)
		})
	})

	return r
}
