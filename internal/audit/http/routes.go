package audithttp

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/atiera/atiera/internal/shared"
)

// Guard wraps routes with capability checks.
type Guard interface {
	RequireAny(perms ...string) func(http.Handler) http.Handler
	RequireAll(perms ...string) func(http.Handler) http.Handler
}

// MountRoutes registers the audit viewer and its API.
func (h *Handler) MountRoutes(r chi.Router, guard Guard) {
	r.Group(func(r chi.Router) {
		r.Use(guard.RequireAny(shared.PermAuditView))
		r.Get("/", h.handlePage)
		r.Get("/api", h.handleList)
		r.Get("/api/stats", h.handleStats)
		r.Get("/export.csv", h.handleExport)
	})
	r.Group(func(r chi.Router) {
		r.Use(guard.RequireAll(shared.PermAuditPurge))
		r.Post("/cleanup", h.handleCleanup)
	})
}
