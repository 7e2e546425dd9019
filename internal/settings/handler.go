package settings

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"

	"github.com/atiera/atiera/internal/gateway"
	"github.com/atiera/atiera/internal/rbac"
	"github.com/atiera/atiera/internal/shared"
	"github.com/atiera/atiera/internal/view"
)

// Handler serves the settings page.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	gateway   *gateway.Gateway
	templates *view.Engine
	csrf      *shared.CSRFManager
	guard     rbac.Middleware
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, gw *gateway.Gateway, templates *view.Engine, csrf *shared.CSRFManager, guard rbac.Middleware) *Handler {
	return &Handler{logger: logger, service: service, gateway: gw, templates: templates, csrf: csrf, guard: guard}
}

// MountRoutes registers the settings routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.guard.RequireAny(shared.PermSettingsView))
		r.Get("/", h.handlePage)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.guard.RequireAll(shared.PermSettingsEdit))
		r.Post("/", h.handleUpdate)
	})
}

func (h *Handler) handlePage(w http.ResponseWriter, r *http.Request) {
	sections, err := h.service.Sections(r.Context())
	if err != nil {
		h.logger.Error("load settings", slog.Any("error", err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	sess := shared.SessionFromContext(r.Context())
	csrfToken, _ := h.csrf.EnsureToken(r.Context(), sess)
	var flash *shared.FlashMessage
	if sess != nil {
		flash = sess.PopFlash()
	}
	viewData := view.TemplateData{
		Title:       "Settings",
		CSRFToken:   csrfToken,
		Flash:       flash,
		CurrentPath: r.URL.Path,
		Data:        map[string]any{"Sections": sections},
	}
	if err := h.templates.Render(w, "pages/settings/list.html", viewData); err != nil {
		h.logger.Error("render settings", slog.Any("error", err))
	}
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	section := r.PostFormValue("section")
	if section == "" {
		h.redirectWithFlash(w, r, "/settings", "error", "Section is required")
		return
	}

	values := make(map[string]string)
	for field, submitted := range r.PostForm {
		if field == "section" || field == "csrf_token" || field == "action" {
			continue
		}
		if len(submitted) > 0 {
			values[field] = submitted[0]
		}
	}

	principal := shared.PrincipalFromContext(r.Context())
	_, err := h.gateway.Perform(r.Context(), gateway.Request{
		Principal:  principal,
		Capability: shared.PermSettingsEdit,
		Action:     "Updated system settings",
		Target:     &gateway.Target{Table: "settings", RecordID: section},
		IPAddress:  shared.ClientIP(r),
		UserAgent:  r.UserAgent(),
	}, func(ctx context.Context, tx pgx.Tx) (gateway.Outcome, error) {
		oldValues, newValues, err := h.service.UpdateSection(ctx, tx, section, values)
		if err != nil {
			return gateway.Outcome{}, err
		}
		return gateway.Outcome{OldValues: oldValues, NewValues: newValues}, nil
	})
	if err != nil {
		message := "Operation failed"
		if verr, ok := gateway.AsValidation(err); ok {
			message = verr.Reason
		} else if errors.Is(err, gateway.ErrForbidden) {
			message = "Access denied"
		}
		h.redirectWithFlash(w, r, "/settings", "error", message)
		return
	}
	h.redirectWithFlash(w, r, "/settings", "success", "Settings saved")
}

func (h *Handler) redirectWithFlash(w http.ResponseWriter, r *http.Request, location, kind, message string) {
	if sess := shared.SessionFromContext(r.Context()); sess != nil {
		sess.AddFlash(shared.FlashMessage{Kind: kind, Message: message})
	}
	http.Redirect(w, r, location, http.StatusSeeOther)
}
