// Package httpapi assembles the chi router and middleware chain.
package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"mediaforge/internal/http/handlers"
	"mediaforge/internal/infra"
	"mediaforge/internal/middleware"
)

// Options carries router-level knobs that come from configuration.
type Options struct {
	Logger             infra.Logger
	Country            middleware.CountryLookup
	RateLimitPerMinute int
}

// NewRouter wires the middleware chain and the versioned API routes.
func NewRouter(app *handlers.App, opts Options) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	if opts.Country != nil {
		r.Use(middleware.Country(opts.Country))
	}
	r.Use(middleware.Logger(opts.Logger))
	r.Use(middleware.CORS())

	r.Route("/v1", func(r chi.Router) {
		r.Get("/healthz", app.Health)
		r.Get("/stats", app.Stats)

		r.Route("/jobs", func(r chi.Router) {
			if opts.RateLimitPerMinute > 0 {
				r.With(middleware.RateLimit(opts.RateLimitPerMinute, time.Minute)).
					Post("/", app.SubmitJob)
			} else {
				r.Post("/", app.SubmitJob)
			}
			r.Get("/", app.ListJobs)
			r.Get("/{id}", app.JobStatus)
			r.Get("/{id}/result", app.JobResult)
			r.Get("/{id}/artifacts/{name}", app.DownloadArtifact)
			r.Get("/{id}/artifacts.zip", app.DownloadArchive)
			r.Delete("/{id}", app.CancelJob)
		})

		r.Get("/probe-cache", app.ProbeCacheList)
		r.Delete("/probe-cache", app.ProbeCacheDelete)
	})

	return r
}
