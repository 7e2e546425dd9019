package users

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"

	"github.com/atiera/atiera/internal/gateway"
	"github.com/atiera/atiera/internal/platform/httpx"
	"github.com/atiera/atiera/internal/rbac"
	"github.com/atiera/atiera/internal/shared"
	"github.com/atiera/atiera/internal/view"
)

// Handler serves the self-service profile page and the admin user API.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	gateway   *gateway.Gateway
	resolver  *rbac.Resolver
	templates *view.Engine
	csrf      *shared.CSRFManager
	guard     rbac.Middleware
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, gw *gateway.Gateway, resolver *rbac.Resolver, templates *view.Engine, csrf *shared.CSRFManager, guard rbac.Middleware) *Handler {
	return &Handler{
		logger:    logger,
		service:   service,
		gateway:   gw,
		resolver:  resolver,
		templates: templates,
		csrf:      csrf,
		guard:     guard,
	}
}

// MountProfileRoutes registers the self-service profile routes.
func (h *Handler) MountProfileRoutes(r chi.Router) {
	r.Get("/", h.handleProfilePage)
	r.Post("/", h.handleProfileAction)
}

// MountUserRoutes registers the admin user management API.
func (h *Handler) MountUserRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.guard.RequireAny(shared.PermUsersView))
		r.Get("/api", h.handleList)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.guard.RequireAll(shared.PermUsersEdit))
		r.Post("/api/deactivate", h.handleDeactivate)
		r.Post("/api/reactivate", h.handleReactivate)
	})
}

func (h *Handler) handleProfilePage(w http.ResponseWriter, r *http.Request) {
	principal := shared.PrincipalFromContext(r.Context())
	if principal == nil {
		http.Redirect(w, r, "/auth/login", http.StatusSeeOther)
		return
	}
	user, err := h.service.GetUser(r.Context(), principal.ID)
	if err != nil {
		h.logger.Error("load profile", slog.Int64("user_id", principal.ID), slog.Any("error", err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	h.renderProfile(w, r, user, nil, http.StatusOK)
}

func (h *Handler) handleProfileAction(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	principal := shared.PrincipalFromContext(r.Context())
	if principal == nil {
		http.Redirect(w, r, "/auth/login", http.StatusSeeOther)
		return
	}

	var (
		err     error
		message string
	)
	switch action := r.PostFormValue("action"); action {
	case "update_profile":
		err = h.updateProfile(r, principal)
		message = "Profile updated"
	case "change_password":
		err = h.changePassword(r, principal)
		message = "Password changed"
	default:
		h.redirectWithFlash(w, r, "/profile", "error", "Unknown action")
		return
	}

	if err != nil {
		h.redirectWithFlash(w, r, "/profile", "error", profileErrorMessage(err))
		return
	}
	h.redirectWithFlash(w, r, "/profile", "success", message)
}

func (h *Handler) updateProfile(r *http.Request, principal *shared.Principal) error {
	profile := Profile{
		FullName:   r.PostFormValue("full_name"),
		Email:      r.PostFormValue("email"),
		Department: r.PostFormValue("department"),
	}

	_, err := h.gateway.Perform(r.Context(), gateway.Request{
		Principal:  principal,
		Capability: shared.PermProfileEdit,
		Action:     "Updated profile",
		Target:     &gateway.Target{Table: "users", RecordID: strconv.FormatInt(principal.ID, 10)},
		IPAddress:  shared.ClientIP(r),
		UserAgent:  r.UserAgent(),
	}, func(ctx context.Context, tx pgx.Tx) (gateway.Outcome, error) {
		before, after, err := h.service.UpdateProfile(ctx, tx, principal.ID, profile)
		if err != nil {
			return gateway.Outcome{}, err
		}
		oldValues, newValues := profileDiff(before, after)
		return gateway.Outcome{OldValues: oldValues, NewValues: newValues}, nil
	})
	return err
}

func (h *Handler) changePassword(r *http.Request, principal *shared.Principal) error {
	current := r.PostFormValue("current_password")
	next := r.PostFormValue("new_password")
	confirm := r.PostFormValue("confirm_password")

	_, err := h.gateway.Perform(r.Context(), gateway.Request{
		Principal:  principal,
		Capability: shared.PermProfileEdit,
		Action:     "Changed password",
		Target:     &gateway.Target{Table: "users", RecordID: strconv.FormatInt(principal.ID, 10)},
		Validate: func() error {
			if next != confirm {
				return gateway.Invalid("confirm_password", "passwords do not match")
			}
			if len(next) < minPasswordLength {
				return gateway.Invalid("new_password", "password must be at least 8 characters")
			}
			return nil
		},
		IPAddress: shared.ClientIP(r),
		UserAgent: r.UserAgent(),
	}, func(ctx context.Context, tx pgx.Tx) (gateway.Outcome, error) {
		if err := h.service.ChangePassword(ctx, tx, principal.ID, current, next); err != nil {
			return gateway.Outcome{}, err
		}
		// Never echo password material into the audit log.
		return gateway.Outcome{NewValues: map[string]any{"password_changed": true}}, nil
	})
	return err
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	users, err := h.service.ListUsers(r.Context())
	if err != nil {
		h.logger.Error("list users", slog.Any("error", err))
		httpx.Fail(w, http.StatusInternalServerError, "failed to load users")
		return
	}
	entries := make([]map[string]any, 0, len(users))
	for _, user := range users {
		entries = append(entries, map[string]any{
			"id":         user.ID,
			"username":   user.Username,
			"full_name":  user.FullName,
			"email":      user.Email,
			"role":       user.Role,
			"department": user.Department,
			"status":     user.Status,
		})
	}
	httpx.Success(w, map[string]any{"users": entries})
}

func (h *Handler) handleDeactivate(w http.ResponseWriter, r *http.Request) {
	h.handleStatusChange(w, r, "Deactivated user", func(ctx context.Context, tx pgx.Tx, id int64) (gateway.Outcome, error) {
		before, err := h.service.Deactivate(ctx, tx, id)
		if err != nil {
			return gateway.Outcome{}, err
		}
		return gateway.Outcome{
			OldValues: map[string]any{"status": before.Status},
			NewValues: map[string]any{"status": shared.StatusInactive},
		}, nil
	})
}

func (h *Handler) handleReactivate(w http.ResponseWriter, r *http.Request) {
	h.handleStatusChange(w, r, "Reactivated user", func(ctx context.Context, tx pgx.Tx, id int64) (gateway.Outcome, error) {
		if err := h.service.Reactivate(ctx, tx, id); err != nil {
			return gateway.Outcome{}, err
		}
		return gateway.Outcome{NewValues: map[string]any{"status": shared.StatusActive}}, nil
	})
}

func (h *Handler) handleStatusChange(w http.ResponseWriter, r *http.Request, action string, mutate func(context.Context, pgx.Tx, int64) (gateway.Outcome, error)) {
	var req struct {
		UserID int64 `json:"user_id"`
	}
	if err := httpx.DecodeJSON(r, &req); err != nil || req.UserID <= 0 {
		httpx.Fail(w, http.StatusBadRequest, "user_id is required")
		return
	}

	principal := shared.PrincipalFromContext(r.Context())
	_, err := h.gateway.Perform(r.Context(), gateway.Request{
		Principal:  principal,
		Capability: shared.PermUsersEdit,
		Action:     action,
		Target:     &gateway.Target{Table: "users", RecordID: strconv.FormatInt(req.UserID, 10)},
		IPAddress:  shared.ClientIP(r),
		UserAgent:  r.UserAgent(),
	}, func(ctx context.Context, tx pgx.Tx) (gateway.Outcome, error) {
		return mutate(ctx, tx, req.UserID)
	})
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, ErrNotFound) {
			status = http.StatusNotFound
		}
		httpx.Fail(w, status, profileErrorMessage(err))
		return
	}
	h.resolver.Invalidate(r.Context(), req.UserID)
	httpx.Success(w, map[string]any{"user_id": req.UserID})
}

// ActiveUsers adapts the service for the roles page dropdown.
func (h *Handler) ActiveUsers(ctx context.Context) ([]rbac.UserOption, error) {
	users, err := h.service.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	options := make([]rbac.UserOption, 0, len(users))
	for _, user := range users {
		options = append(options, rbac.UserOption{ID: user.ID, Username: user.Username, FullName: user.FullName})
	}
	return options, nil
}

func (h *Handler) renderProfile(w http.ResponseWriter, r *http.Request, user User, errs map[string]string, status int) {
	sess := shared.SessionFromContext(r.Context())
	csrfToken, _ := h.csrf.EnsureToken(r.Context(), sess)
	var flash *shared.FlashMessage
	if sess != nil {
		flash = sess.PopFlash()
	}
	viewData := view.TemplateData{
		Title:       "My Profile",
		CSRFToken:   csrfToken,
		Flash:       flash,
		CurrentPath: r.URL.Path,
		Data:        map[string]any{"User": user, "Errors": errs},
	}
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	if err := h.templates.Render(w, "pages/profile.html", viewData); err != nil {
		h.logger.Error("render profile", slog.Any("error", err))
	}
}

func (h *Handler) redirectWithFlash(w http.ResponseWriter, r *http.Request, location, kind, message string) {
	if sess := shared.SessionFromContext(r.Context()); sess != nil {
		sess.AddFlash(shared.FlashMessage{Kind: kind, Message: message})
	}
	http.Redirect(w, r, location, http.StatusSeeOther)
}

// profileDiff reports only the fields that changed, as old/new pairs.
func profileDiff(before, after User) (map[string]any, map[string]any) {
	oldValues := make(map[string]any)
	newValues := make(map[string]any)
	if before.FullName != after.FullName {
		oldValues["full_name"], newValues["full_name"] = before.FullName, after.FullName
	}
	if before.Email != after.Email {
		oldValues["email"], newValues["email"] = before.Email, after.Email
	}
	if before.Department != after.Department {
		oldValues["department"], newValues["department"] = before.Department, after.Department
	}
	return oldValues, newValues
}

func profileErrorMessage(err error) string {
	if verr, ok := gateway.AsValidation(err); ok {
		return verr.Reason
	}
	switch {
	case errors.Is(err, ErrPasswordMismatch):
		return "Current password is incorrect"
	case errors.Is(err, ErrNotFound):
		return "User not found"
	case errors.Is(err, gateway.ErrForbidden):
		return "Access denied"
	default:
		return "Operation failed"
	}
}
