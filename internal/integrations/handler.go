package integrations

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"

	"github.com/atiera/atiera/internal/gateway"
	"github.com/atiera/atiera/internal/shared"
	"github.com/atiera/atiera/internal/view"
)

// Handler serves the integrations page and its form actions.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	gateway   *gateway.Gateway
	templates *view.Engine
	csrf      *shared.CSRFManager
	guard     Guard
}

// Guard is the subset of the rbac middleware the handler needs.
type Guard interface {
	RequireAny(perms ...string) func(http.Handler) http.Handler
	RequireAll(perms ...string) func(http.Handler) http.Handler
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, gw *gateway.Gateway, templates *view.Engine, csrf *shared.CSRFManager, guard Guard) *Handler {
	return &Handler{logger: logger, service: service, gateway: gw, templates: templates, csrf: csrf, guard: guard}
}

// MountRoutes registers the integrations routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.guard.RequireAny(shared.PermSettingsView))
		r.Get("/", h.handlePage)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.guard.RequireAll(shared.PermSettingsEdit))
		r.Post("/", h.handleAction)
	})
}

func (h *Handler) handlePage(w http.ResponseWriter, r *http.Request) {
	items, err := h.service.List(r.Context())
	if err != nil {
		h.logger.Error("list integrations", slog.Any("error", err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	stats, err := h.service.Stats(r.Context())
	if err != nil {
		h.logger.Error("integration stats", slog.Any("error", err))
	}

	sess := shared.SessionFromContext(r.Context())
	csrfToken, _ := h.csrf.EnsureToken(r.Context(), sess)
	var flash *shared.FlashMessage
	if sess != nil {
		flash = sess.PopFlash()
	}
	viewData := view.TemplateData{
		Title:       "Integrations",
		CSRFToken:   csrfToken,
		Flash:       flash,
		CurrentPath: r.URL.Path,
		Data:        map[string]any{"Integrations": items, "Stats": stats},
	}
	if err := h.templates.Render(w, "pages/integrations/list.html", viewData); err != nil {
		h.logger.Error("render integrations", slog.Any("error", err))
	}
}

func (h *Handler) handleAction(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	key := r.PostFormValue("key")

	var (
		err     error
		message string
	)
	switch action := r.PostFormValue("action"); action {
	case "configure":
		err = h.configure(r, key)
		message = "Integration configured"
	case "test":
		err = h.testConnection(r, key)
		message = "Connection test passed"
	case "disable":
		err = h.disable(r, key)
		message = "Integration disabled"
	default:
		h.redirectWithFlash(w, r, "/integrations", "error", "Unknown action")
		return
	}

	if err != nil {
		h.redirectWithFlash(w, r, "/integrations", "error", integrationErrorMessage(err))
		return
	}
	h.redirectWithFlash(w, r, "/integrations", "success", message)
}

// configure collects config[field] form values into the payload.
func (h *Handler) configure(r *http.Request, key string) error {
	principal := shared.PrincipalFromContext(r.Context())

	config := make(map[string]string)
	for field, values := range r.PostForm {
		if !strings.HasPrefix(field, "config[") || !strings.HasSuffix(field, "]") {
			continue
		}
		name := field[len("config[") : len(field)-1]
		if len(values) > 0 {
			config[name] = values[0]
		}
	}

	_, err := h.gateway.Perform(r.Context(), gateway.Request{
		Principal:  principal,
		Capability: shared.PermSettingsEdit,
		Action:     "Configured integration",
		Target:     &gateway.Target{Table: "integrations", RecordID: key},
		Validate: func() error {
			return ValidateConfig(key, config)
		},
		IPAddress: shared.ClientIP(r),
		UserAgent: r.UserAgent(),
	}, func(ctx context.Context, tx pgx.Tx) (gateway.Outcome, error) {
		if err := h.service.Configure(ctx, tx, key, config); err != nil {
			return gateway.Outcome{}, err
		}
		// Config values are secrets; audit only which fields were set.
		fields := make([]string, 0, len(config))
		for field := range config {
			fields = append(fields, field)
		}
		return gateway.Outcome{
			NewValues: map[string]any{"integration": key, "fields": fields, "status": StatusActive},
		}, nil
	})
	return err
}

// testConnection probes the endpoint. The probe itself mutates only
// bookkeeping columns, but the action is still funneled through the
// gateway so it lands in the audit log.
func (h *Handler) testConnection(r *http.Request, key string) error {
	principal := shared.PrincipalFromContext(r.Context())
	_, err := h.gateway.Perform(r.Context(), gateway.Request{
		Principal:  principal,
		Capability: shared.PermSettingsEdit,
		Action:     "Tested integration connection",
		Target:     &gateway.Target{Table: "integrations", RecordID: key},
		IPAddress:  shared.ClientIP(r),
		UserAgent:  r.UserAgent(),
	}, func(ctx context.Context, tx pgx.Tx) (gateway.Outcome, error) {
		if err := h.service.Test(ctx, key); err != nil {
			return gateway.Outcome{}, err
		}
		return gateway.Outcome{NewValues: map[string]any{"integration": key, "result": "ok"}}, nil
	})
	return err
}

func (h *Handler) disable(r *http.Request, key string) error {
	principal := shared.PrincipalFromContext(r.Context())
	_, err := h.gateway.Perform(r.Context(), gateway.Request{
		Principal:  principal,
		Capability: shared.PermSettingsEdit,
		Action:     "Disabled integration",
		Target:     &gateway.Target{Table: "integrations", RecordID: key},
		IPAddress:  shared.ClientIP(r),
		UserAgent:  r.UserAgent(),
	}, func(ctx context.Context, tx pgx.Tx) (gateway.Outcome, error) {
		if err := h.service.Disable(ctx, tx, key); err != nil {
			return gateway.Outcome{}, err
		}
		return gateway.Outcome{NewValues: map[string]any{"integration": key, "status": StatusInactive}}, nil
	})
	return err
}

func (h *Handler) redirectWithFlash(w http.ResponseWriter, r *http.Request, location, kind, message string) {
	if sess := shared.SessionFromContext(r.Context()); sess != nil {
		sess.AddFlash(shared.FlashMessage{Kind: kind, Message: message})
	}
	http.Redirect(w, r, location, http.StatusSeeOther)
}

func integrationErrorMessage(err error) string {
	if verr, ok := gateway.AsValidation(err); ok {
		return verr.Reason
	}
	switch {
	case errors.Is(err, ErrUnknownIntegration):
		return "Unknown integration"
	case errors.Is(err, ErrNotConfigured):
		return "Integration is not configured"
	case errors.Is(err, gateway.ErrForbidden):
		return "Access denied"
	default:
		return "Operation failed"
	}
}
