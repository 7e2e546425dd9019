package rbac

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/atiera/atiera/internal/shared"
	"github.com/atiera/atiera/internal/view"
)

// PermissionsHandler serves the read-only capability catalog page.
type PermissionsHandler struct {
	logger    *slog.Logger
	service   *Service
	templates *view.Engine
	csrf      *shared.CSRFManager
	guard     Middleware
}

// NewPermissionsHandler builds PermissionsHandler instance.
func NewPermissionsHandler(logger *slog.Logger, service *Service, templates *view.Engine, csrf *shared.CSRFManager, guard Middleware) *PermissionsHandler {
	return &PermissionsHandler{logger: logger, service: service, templates: templates, csrf: csrf, guard: guard}
}

// MountRoutes registers the permissions catalog routes.
func (h *PermissionsHandler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.guard.RequireAny(shared.PermPermissionsView))
		r.Get("/", h.handlePage)
	})
}

type permissionRow struct {
	Permission Permission
	Roles      []string
}

func (h *PermissionsHandler) handlePage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	catalog, err := h.service.ListPermissions(ctx)
	if err != nil {
		h.logger.Error("load permissions", slog.Any("error", err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	roles, err := h.service.ListRoles(ctx)
	if err != nil {
		h.logger.Error("load roles", slog.Any("error", err))
	}

	// Invert role grants so each permission row shows its holders.
	holders := make(map[int64][]string)
	for _, role := range roles {
		perms, err := h.service.RolePermissions(ctx, role.ID)
		if err != nil {
			h.logger.Error("load role permissions", slog.Int64("role_id", role.ID), slog.Any("error", err))
			continue
		}
		for _, perm := range perms {
			holders[perm.ID] = append(holders[perm.ID], role.Name)
		}
	}

	rows := make([]permissionRow, 0, len(catalog))
	for _, perm := range catalog {
		rows = append(rows, permissionRow{Permission: perm, Roles: holders[perm.ID]})
	}

	sess := shared.SessionFromContext(ctx)
	csrfToken, _ := h.csrf.EnsureToken(ctx, sess)
	var flash *shared.FlashMessage
	if sess != nil {
		flash = sess.PopFlash()
	}
	viewData := view.TemplateData{
		Title:       "Permissions",
		CSRFToken:   csrfToken,
		Flash:       flash,
		CurrentPath: r.URL.Path,
		Data:        map[string]any{"Permissions": rows, "Groups": groupByModule(catalog)},
	}
	if err := h.templates.Render(w, "pages/permissions/list.html", viewData); err != nil {
		h.logger.Error("render permissions", slog.Any("error", err))
	}
}
