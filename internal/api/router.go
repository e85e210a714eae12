// Package api wires the HTTP routes for the image pipeline service.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	mw "github.com/ultraimage/ultraimage/internal/api/middleware"
	"github.com/ultraimage/ultraimage/internal/api/response"
)

// Dependencies holds all handler and middleware dependencies for the router.
type Dependencies struct {
	RateLimit *mw.RateLimit

	HealthHandler   http.HandlerFunc
	UploadHandler   http.HandlerFunc
	StatusHandler   http.HandlerFunc
	DownloadHandler http.HandlerFunc
}

// NewRouter builds the Chi router with the middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(mw.Logger)
	r.Use(mw.Recovery)
	r.Use(mw.ClientIP)

	// Public health check
	r.Get("/api/image/health", orNotImplemented(deps.HealthHandler))

	// Rate-limited pipeline routes
	r.Group(func(r chi.Router) {
		r.Use(deps.RateLimit.Limit)

		r.Post("/api/image/upload", orNotImplemented(deps.UploadHandler))
		r.Get("/api/image/status/{jobID}", orNotImplemented(deps.StatusHandler))
		r.Get("/api/image/download/{jobID}", orNotImplemented(deps.DownloadHandler))
	})

	return r
}

// orNotImplemented returns the handler if non-nil, or a 501 placeholder.
func orNotImplemented(h http.HandlerFunc) http.HandlerFunc {
	if h != nil {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "Endpoint not yet implemented", nil)
	}
}
