package app

import (
	"io/fs"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/atiera/atiera/internal/audit"
	audithttp "github.com/atiera/atiera/internal/audit/http"
	"github.com/atiera/atiera/internal/auth"
	"github.com/atiera/atiera/internal/integrations"
	"github.com/atiera/atiera/internal/notify"
	"github.com/atiera/atiera/internal/observability"
	"github.com/atiera/atiera/internal/rbac"
	"github.com/atiera/atiera/internal/settings"
	"github.com/atiera/atiera/internal/shared"
	"github.com/atiera/atiera/internal/tasks"
	"github.com/atiera/atiera/internal/twofactor"
	"github.com/atiera/atiera/internal/users"
	"github.com/atiera/atiera/internal/view"
	"github.com/atiera/atiera/jobs"
	"github.com/atiera/atiera/web"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger         *slog.Logger
	Config         *Config
	Templates      *view.Engine
	SessionManager *shared.SessionManager
	CSRFManager    *shared.CSRFManager
	Principals     PrincipalLoader

	AuthHandler         *auth.Handler
	RolesHandler        *rbac.Handler
	PermissionsHandler  *rbac.PermissionsHandler
	UsersHandler        *users.Handler
	AuditHandler        *audithttp.Handler
	TasksHandler        *tasks.Handler
	NotifyHandler       *notify.Handler
	TwoFactorHandler    *twofactor.Handler
	IntegrationsHandler *integrations.Handler
	SettingsHandler     *settings.Handler
	JobHandler          *jobs.Handler

	TaskService   *tasks.Service
	NotifyService *notify.Service
	AuditService  *audit.Service

	RBACMiddleware rbac.Middleware
	Metrics        *observability.Metrics
}

// NewRouter constructs the chi.Router with ATIERA defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:         params.Logger,
		Config:         params.Config,
		SessionManager: params.SessionManager,
		CSRFManager:    params.CSRFManager,
		Principals:     params.Principals,
		Metrics:        params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		params.renderHome(w, r)
	})

	r.Route("/auth", params.AuthHandler.MountRoutes)
	if params.RolesHandler != nil {
		r.Route("/roles", params.RolesHandler.MountRoutes)
	}
	if params.PermissionsHandler != nil {
		r.Route("/permissions", params.PermissionsHandler.MountRoutes)
	}
	if params.UsersHandler != nil {
		r.Route("/users", params.UsersHandler.MountUserRoutes)
		r.Route("/profile", params.UsersHandler.MountProfileRoutes)
	}
	if params.AuditHandler != nil {
		r.Route("/audit", func(r chi.Router) {
			params.AuditHandler.MountRoutes(r, params.RBACMiddleware)
		})
	}
	if params.TasksHandler != nil {
		r.Route("/tasks", params.TasksHandler.MountRoutes)
	}
	if params.NotifyHandler != nil {
		r.Route("/notifications", params.NotifyHandler.MountRoutes)
	}
	if params.TwoFactorHandler != nil {
		r.Route("/twofactor", params.TwoFactorHandler.MountRoutes)
	}
	if params.IntegrationsHandler != nil {
		r.Route("/integrations", params.IntegrationsHandler.MountRoutes)
	}
	if params.SettingsHandler != nil {
		r.Route("/settings", params.SettingsHandler.MountRoutes)
	}
	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	staticFS, err := fs.Sub(web.Static, "static")
	if err != nil {
		params.Logger.Error("create static sub filesystem", slog.Any("error", err))
	} else {
		fileServer := http.StripPrefix("/static/", http.FileServer(http.FS(staticFS)))
		r.Handle("/static/*", staticCacheHandler(fileServer))
	}

	return r
}

// renderHome serves the dashboard, or bounces anonymous visitors to login.
func (params RouterParams) renderHome(w http.ResponseWriter, r *http.Request) {
	principal := shared.PrincipalFromContext(r.Context())
	if principal == nil {
		http.Redirect(w, r, "/auth/login", http.StatusSeeOther)
		return
	}

	var taskCount int
	if params.TaskService != nil {
		if mine, err := params.TaskService.ListMine(r.Context(), principal.ID); err == nil {
			for _, t := range mine {
				if t.Status == tasks.StatusPending || t.Status == tasks.StatusInProgress {
					taskCount++
				}
			}
		}
	}
	var unread int64
	if params.NotifyService != nil {
		unread, _ = params.NotifyService.UnreadCount(r.Context(), principal.ID)
	}
	var auditTotal int64
	if params.AuditService != nil {
		if stats, err := params.AuditService.Stats(r.Context(), 0); err == nil {
			auditTotal = stats.Total
		}
	}

	sess := shared.SessionFromContext(r.Context())
	csrfToken, _ := params.CSRFManager.EnsureToken(r.Context(), sess)
	var flash *shared.FlashMessage
	if sess != nil {
		flash = sess.PopFlash()
	}
	data := view.TemplateData{
		Title:       "Dashboard",
		CSRFToken:   csrfToken,
		Flash:       flash,
		Principal:   principal,
		CurrentPath: r.URL.Path,
		Data: map[string]any{
			"TaskCount":           taskCount,
			"UnreadNotifications": unread,
			"AuditTotal":          auditTotal,
		},
	}
	if err := params.Templates.Render(w, "pages/home.html", data); err != nil {
		params.Logger.Error("render home", slog.Any("error", err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

// staticCacheHandler wraps a file server with Cache-Control headers.
func staticCacheHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "public, max-age=3600")
		next.ServeHTTP(w, r)
	})
}
