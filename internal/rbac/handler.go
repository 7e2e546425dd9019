package rbac

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sort"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"

	"github.com/atiera/atiera/internal/gateway"
	"github.com/atiera/atiera/internal/platform/httpx"
	"github.com/atiera/atiera/internal/shared"
	"github.com/atiera/atiera/internal/view"
)

// UserOption is a user entry for the role assignment dropdown.
type UserOption struct {
	ID       int64
	Username string
	FullName string
	Roles    []string
}

// UserDirectory lists active users for the roles page.
type UserDirectory interface {
	ActiveUsers(ctx context.Context) ([]UserOption, error)
}

// Handler serves the role management page and its AJAX endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	gateway   *gateway.Gateway
	resolver  *Resolver
	directory UserDirectory
	templates *view.Engine
	csrf      *shared.CSRFManager
	guard     Middleware
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, gw *gateway.Gateway, resolver *Resolver, directory UserDirectory, templates *view.Engine, csrf *shared.CSRFManager, guard Middleware) *Handler {
	return &Handler{
		logger:    logger,
		service:   service,
		gateway:   gw,
		resolver:  resolver,
		directory: directory,
		templates: templates,
		csrf:      csrf,
		guard:     guard,
	}
}

// MountRoutes registers role management routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.guard.RequireAny(shared.PermRolesView))
		r.Get("/", h.handlePage)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.guard.RequireAll(shared.PermRolesManage))
		r.Post("/", h.handleAction)
		r.Delete("/api", h.handleDelete)
	})
}

type roleView struct {
	Role        Role
	Permissions []Permission
	Members     []RoleMember
}

func (h *Handler) handlePage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	roles, err := h.service.ListRoles(ctx)
	if err != nil {
		h.render(w, r, map[string]any{"Errors": map[string]string{"general": "failed to load roles"}}, http.StatusInternalServerError)
		return
	}

	views := make([]roleView, 0, len(roles))
	for _, role := range roles {
		perms, err := h.service.RolePermissions(ctx, role.ID)
		if err != nil {
			h.logger.Error("load role permissions", slog.Int64("role_id", role.ID), slog.Any("error", err))
		}
		members, err := h.service.RoleMembers(ctx, role.ID)
		if err != nil {
			h.logger.Error("load role members", slog.Int64("role_id", role.ID), slog.Any("error", err))
		}
		views = append(views, roleView{Role: role, Permissions: perms, Members: members})
	}

	catalog, err := h.service.ListPermissions(ctx)
	if err != nil {
		h.logger.Error("load permissions", slog.Any("error", err))
	}

	var users []UserOption
	if h.directory != nil {
		if users, err = h.directory.ActiveUsers(ctx); err != nil {
			h.logger.Error("load users", slog.Any("error", err))
		}
	}

	h.render(w, r, map[string]any{
		"Roles":       views,
		"Permissions": groupByModule(catalog),
		"Users":       users,
	}, http.StatusOK)
}

// handleAction dispatches the roles page form by its action discriminator.
func (h *Handler) handleAction(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	var err error
	switch action := r.PostFormValue("action"); action {
	case "create_role":
		err = h.createRole(r)
	case "assign_role":
		err = h.assignRole(r)
	case "assign_permission":
		err = h.assignPermission(r)
	case "initialize_defaults":
		err = h.initializeDefaults(r)
	default:
		h.redirectWithFlash(w, r, "/roles", "error", "Unknown action")
		return
	}

	if err != nil {
		h.redirectWithFlash(w, r, "/roles", "error", flashMessage(err))
		return
	}
	h.redirectWithFlash(w, r, "/roles", "success", "Changes saved")
}

func (h *Handler) createRole(r *http.Request) error {
	name := r.PostFormValue("role_name")
	description := r.PostFormValue("description")

	_, err := h.gateway.Perform(r.Context(), gateway.Request{
		Principal:  shared.PrincipalFromContext(r.Context()),
		Capability: shared.PermRolesManage,
		Action:     "Created role",
		Target:     &gateway.Target{Table: "roles"},
		Validate: func() error {
			if name == "" {
				return gateway.Invalid("role_name", "role name is required")
			}
			return nil
		},
		IPAddress: shared.ClientIP(r),
		UserAgent: r.UserAgent(),
	}, func(ctx context.Context, tx pgx.Tx) (gateway.Outcome, error) {
		role, err := h.service.CreateRole(ctx, tx, name, description)
		if err != nil {
			return gateway.Outcome{}, err
		}
		return gateway.Outcome{
			RecordID:  strconv.FormatInt(role.ID, 10),
			NewValues: map[string]any{"name": role.Name, "description": role.Description},
		}, nil
	})
	return err
}

func (h *Handler) assignRole(r *http.Request) error {
	userID, err := formInt64(r, "user_id")
	if err != nil {
		return err
	}
	roleID, err := formInt64(r, "role_id")
	if err != nil {
		return err
	}

	_, err = h.gateway.Perform(r.Context(), gateway.Request{
		Principal:  shared.PrincipalFromContext(r.Context()),
		Capability: shared.PermRolesManage,
		Action:     "Assigned role to user",
		Target:     &gateway.Target{Table: "user_roles"},
		IPAddress:  shared.ClientIP(r),
		UserAgent:  r.UserAgent(),
	}, func(ctx context.Context, tx pgx.Tx) (gateway.Outcome, error) {
		inserted, err := h.service.AssignRole(ctx, tx, userID, roleID)
		if err != nil {
			return gateway.Outcome{}, err
		}
		return gateway.Outcome{
			NewValues: map[string]any{"user_id": userID, "role_id": roleID, "inserted": inserted},
		}, nil
	})
	if err == nil {
		h.resolver.Invalidate(r.Context(), userID)
	}
	return err
}

func (h *Handler) assignPermission(r *http.Request) error {
	roleID, err := formInt64(r, "role_id")
	if err != nil {
		return err
	}
	permissionID, err := formInt64(r, "permission_id")
	if err != nil {
		return err
	}

	_, err = h.gateway.Perform(r.Context(), gateway.Request{
		Principal:  shared.PrincipalFromContext(r.Context()),
		Capability: shared.PermRolesManage,
		Action:     "Granted permission to role",
		Target:     &gateway.Target{Table: "role_permissions"},
		IPAddress:  shared.ClientIP(r),
		UserAgent:  r.UserAgent(),
	}, func(ctx context.Context, tx pgx.Tx) (gateway.Outcome, error) {
		granted, err := h.service.GrantPermission(ctx, tx, roleID, permissionID)
		if err != nil {
			return gateway.Outcome{}, err
		}
		return gateway.Outcome{
			NewValues: map[string]any{"role_id": roleID, "permission_id": permissionID, "granted": granted},
		}, nil
	})
	if err == nil {
		// Grants change every member of the role.
		h.resolver.InvalidateAll(r.Context())
	}
	return err
}

func (h *Handler) initializeDefaults(r *http.Request) error {
	_, err := h.gateway.Perform(r.Context(), gateway.Request{
		Principal:  shared.PrincipalFromContext(r.Context()),
		Capability: shared.PermRolesManage,
		Action:     "Initialized default roles and permissions",
		Target:     &gateway.Target{Table: "roles"},
		IPAddress:  shared.ClientIP(r),
		UserAgent:  r.UserAgent(),
	}, func(ctx context.Context, tx pgx.Tx) (gateway.Outcome, error) {
		if err := h.service.InitializeDefaults(ctx, tx); err != nil {
			return gateway.Outcome{}, err
		}
		return gateway.Outcome{NewValues: map[string]any{"seeded": true}}, nil
	})
	if err == nil {
		h.resolver.InvalidateAll(r.Context())
	}
	return err
}

type deleteRequest struct {
	Action       string `json:"action"`
	UserID       int64  `json:"user_id"`
	RoleID       int64  `json:"role_id"`
	PermissionID int64  `json:"permission_id"`
}

// handleDelete serves the AJAX removal endpoints used by the roles page.
func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	var req deleteRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Fail(w, http.StatusBadRequest, "invalid request body")
		return
	}

	var (
		err     error
		message string
	)
	switch req.Action {
	case "remove_role":
		err = h.removeRole(r, req.UserID, req.RoleID)
		message = "Role removed"
	case "remove_permission":
		err = h.removePermission(r, req.RoleID, req.PermissionID)
		message = "Permission revoked"
	case "delete_role":
		err = h.deleteRole(r, req.RoleID)
		message = "Role deleted"
	default:
		httpx.Fail(w, http.StatusBadRequest, "unknown action")
		return
	}

	if err != nil {
		status := http.StatusInternalServerError
		if _, ok := gateway.AsValidation(err); ok || errors.Is(err, ErrNotFound) {
			status = http.StatusBadRequest
		}
		httpx.Fail(w, status, flashMessage(err))
		return
	}
	httpx.Success(w, map[string]any{"message": message})
}

func (h *Handler) removeRole(r *http.Request, userID, roleID int64) error {
	_, err := h.gateway.Perform(r.Context(), gateway.Request{
		Principal:  shared.PrincipalFromContext(r.Context()),
		Capability: shared.PermRolesManage,
		Action:     "Removed role from user",
		Target:     &gateway.Target{Table: "user_roles", OldValues: map[string]any{"user_id": userID, "role_id": roleID}},
		IPAddress:  shared.ClientIP(r),
		UserAgent:  r.UserAgent(),
	}, func(ctx context.Context, tx pgx.Tx) (gateway.Outcome, error) {
		if err := h.service.RemoveRole(ctx, tx, userID, roleID); err != nil {
			return gateway.Outcome{}, err
		}
		return gateway.Outcome{}, nil
	})
	if err == nil {
		h.resolver.Invalidate(r.Context(), userID)
	}
	return err
}

func (h *Handler) removePermission(r *http.Request, roleID, permissionID int64) error {
	_, err := h.gateway.Perform(r.Context(), gateway.Request{
		Principal:  shared.PrincipalFromContext(r.Context()),
		Capability: shared.PermRolesManage,
		Action:     "Revoked permission from role",
		Target:     &gateway.Target{Table: "role_permissions", OldValues: map[string]any{"role_id": roleID, "permission_id": permissionID}},
		IPAddress:  shared.ClientIP(r),
		UserAgent:  r.UserAgent(),
	}, func(ctx context.Context, tx pgx.Tx) (gateway.Outcome, error) {
		if err := h.service.RevokePermission(ctx, tx, roleID, permissionID); err != nil {
			return gateway.Outcome{}, err
		}
		return gateway.Outcome{}, nil
	})
	if err == nil {
		h.resolver.InvalidateAll(r.Context())
	}
	return err
}

func (h *Handler) deleteRole(r *http.Request, roleID int64) error {
	role, err := h.service.GetRole(r.Context(), roleID)
	if err != nil {
		return err
	}

	_, err = h.gateway.Perform(r.Context(), gateway.Request{
		Principal:  shared.PrincipalFromContext(r.Context()),
		Capability: shared.PermRolesManage,
		Action:     "Deleted role",
		Target: &gateway.Target{
			Table:     "roles",
			RecordID:  strconv.FormatInt(role.ID, 10),
			OldValues: map[string]any{"name": role.Name, "description": role.Description},
		},
		IPAddress: shared.ClientIP(r),
		UserAgent: r.UserAgent(),
	}, func(ctx context.Context, tx pgx.Tx) (gateway.Outcome, error) {
		if err := h.service.DeleteRole(ctx, tx, roleID); err != nil {
			return gateway.Outcome{}, err
		}
		return gateway.Outcome{}, nil
	})
	if err == nil {
		h.resolver.InvalidateAll(r.Context())
	}
	return err
}

func (h *Handler) render(w http.ResponseWriter, r *http.Request, data map[string]any, status int) {
	sess := shared.SessionFromContext(r.Context())
	csrfToken, _ := h.csrf.EnsureToken(r.Context(), sess)
	var flash *shared.FlashMessage
	if sess != nil {
		flash = sess.PopFlash()
	}
	viewData := view.TemplateData{Title: "Roles & Permissions", CSRFToken: csrfToken, Flash: flash, CurrentPath: r.URL.Path, Data: data}
	w.WriteHeader(status)
	if err := h.templates.Render(w, "pages/roles/list.html", viewData); err != nil {
		h.logger.Error("render roles", slog.Any("error", err))
	}
}

func (h *Handler) redirectWithFlash(w http.ResponseWriter, r *http.Request, location, kind, message string) {
	if sess := shared.SessionFromContext(r.Context()); sess != nil {
		sess.AddFlash(shared.FlashMessage{Kind: kind, Message: message})
	}
	http.Redirect(w, r, location, http.StatusSeeOther)
}

func flashMessage(err error) string {
	if verr, ok := gateway.AsValidation(err); ok {
		return verr.Reason
	}
	switch {
	case errors.Is(err, ErrDuplicateRole):
		return "A role with that name already exists"
	case errors.Is(err, ErrNotFound):
		return "Record not found"
	case errors.Is(err, gateway.ErrForbidden):
		return "Access denied"
	default:
		return "Operation failed"
	}
}

func formInt64(r *http.Request, field string) (int64, error) {
	value, err := strconv.ParseInt(r.PostFormValue(field), 10, 64)
	if err != nil || value <= 0 {
		return 0, gateway.Invalid(field, field+" must be a positive integer")
	}
	return value, nil
}

// groupByModule buckets the capability catalog by its dotted prefix for
// display, modules sorted alphabetically.
func groupByModule(perms []Permission) []PermissionGroup {
	byModule := make(map[string][]Permission)
	for _, perm := range perms {
		module := perm.Module()
		byModule[module] = append(byModule[module], perm)
	}
	modules := make([]string, 0, len(byModule))
	for module := range byModule {
		modules = append(modules, module)
	}
	sort.Strings(modules)

	groups := make([]PermissionGroup, 0, len(modules))
	for _, module := range modules {
		groups = append(groups, PermissionGroup{Module: module, Permissions: byModule[module]})
	}
	return groups
}

// PermissionGroup is a display bucket of permissions sharing a module.
type PermissionGroup struct {
	Module      string
	Permissions []Permission
}
