package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/atiera/atiera/internal/app"
	"github.com/atiera/atiera/internal/audit"
	audithttp "github.com/atiera/atiera/internal/audit/http"
	"github.com/atiera/atiera/internal/auth"
	"github.com/atiera/atiera/internal/gateway"
	"github.com/atiera/atiera/internal/integrations"
	"github.com/atiera/atiera/internal/notify"
	"github.com/atiera/atiera/internal/observability"
	"github.com/atiera/atiera/internal/platform/cache"
	"github.com/atiera/atiera/internal/platform/db"
	"github.com/atiera/atiera/internal/rbac"
	"github.com/atiera/atiera/internal/settings"
	"github.com/atiera/atiera/internal/shared"
	"github.com/atiera/atiera/internal/tasks"
	"github.com/atiera/atiera/internal/twofactor"
	"github.com/atiera/atiera/internal/users"
	"github.com/atiera/atiera/internal/view"
	"github.com/atiera/atiera/jobs"
)

type userLookup interface {
	GetUser(ctx context.Context, id int64) (users.User, error)
}

type roleLookup interface {
	UserHoldsAssignableRole(ctx context.Context, userID int64) (bool, error)
}

// assigneeDirectory lets the task service check that an assignee is an
// active account holding an assignable role.
type assigneeDirectory struct {
	users userLookup
	roles roleLookup
}

func (d assigneeDirectory) IsAssignable(ctx context.Context, userID int64) (bool, error) {
	user, err := d.users.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, users.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	if user.Status != shared.StatusActive {
		return false, nil
	}
	return d.roles.UserHoldsAssignableRole(ctx, userID)
}

// assigneeLister feeds the assignment dropdown on the tasks page.
type assigneeLister struct {
	users *users.Service
}

func (l assigneeLister) ListAssignable(ctx context.Context) ([]tasks.AssigneeOption, error) {
	active, err := l.users.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	options := make([]tasks.AssigneeOption, 0, len(active))
	for _, user := range active {
		options = append(options, tasks.AssigneeOption{ID: user.ID, Username: user.Username, FullName: user.FullName})
	}
	return options, nil
}

// inAppNotifier pushes in-app notifications for task assignment and
// sign-in activity.
type inAppNotifier struct {
	notify *notify.Service
}

func (n inAppNotifier) Create(ctx context.Context, userID int64, kind, title, message string) error {
	_, err := n.notify.Create(ctx, userID, kind, title, message)
	return err
}

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	dbpool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	// Sessions and permission caching both live in Redis, so a dead
	// instance is fatal at startup.
	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	sessionManager := shared.NewSessionManager(redisClient, "atiera_session", cfg.SessionSecret, cfg.SessionTTL, cfg.SessionIdleTTL, cfg.IsProduction())
	csrfManager := shared.NewCSRFManager(cfg.CSRFSecret)

	templates, err := view.NewEngine()
	if err != nil {
		logger.Error("parse templates", slog.Any("error", err))
		os.Exit(1)
	}

	auditSink := audit.NewPostgresSink(dbpool)
	auditService := audit.NewService(auditSink)

	rbacRepo := rbac.NewRepository(dbpool)
	rbacService := rbac.NewService(rbacRepo)
	resolver := rbac.NewResolver(rbacService, redisClient, 5*time.Minute, logger)
	rbacMiddleware := rbac.Middleware{Resolver: resolver, Logger: logger}

	metrics := observability.NewMetrics()
	gw := gateway.New(dbpool, resolver, auditSink, logger).WithMetrics(metrics)

	notifyRepo := notify.NewRepository(dbpool)
	notifyService := notify.NewService(notifyRepo)
	notifyHandler := notify.NewHandler(logger, notifyService)

	authRepo := auth.NewRepository(dbpool)
	authService := auth.NewService(authRepo, auditSink, inAppNotifier{notify: notifyService}, logger)
	authHandler := auth.NewHandler(logger, authService, templates, sessionManager, csrfManager)

	usersRepo := users.NewRepository(dbpool)
	usersService := users.NewService(usersRepo)
	usersHandler := users.NewHandler(logger, usersService, gw, resolver, templates, csrfManager, rbacMiddleware)

	rolesHandler := rbac.NewHandler(logger, rbacService, gw, resolver, usersHandler, templates, csrfManager, rbacMiddleware)
	permissionsHandler := rbac.NewPermissionsHandler(logger, rbacService, templates, csrfManager, rbacMiddleware)

	auditHandler := audithttp.NewHandler(logger, auditService, templates, cfg.AuditRetention())

	tasksRepo := tasks.NewRepository(dbpool)
	tasksService := tasks.NewService(tasksRepo, assigneeDirectory{users: usersService, roles: rbacService}, inAppNotifier{notify: notifyService})
	tasksHandler := tasks.NewHandler(logger, tasksService, gw, resolver, assigneeLister{users: usersService}, templates, csrfManager, rbacMiddleware)

	jobClient, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	if err != nil {
		logger.Error("init job client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()

	twoFactorRepo := twofactor.NewRepository(dbpool)
	twoFactorService := twofactor.NewService(twoFactorRepo, jobClient)
	twoFactorHandler := twofactor.NewHandler(logger, twoFactorService, gw, rbacMiddleware)

	cipher, err := integrations.NewCipher(cfg.IntegrationsSecret)
	if err != nil {
		logger.Error("init integrations cipher", slog.Any("error", err))
		os.Exit(1)
	}
	integrationsRepo := integrations.NewRepository(dbpool)
	integrationsService := integrations.NewService(integrationsRepo, cipher, nil)
	integrationsHandler := integrations.NewHandler(logger, integrationsService, gw, templates, csrfManager, rbacMiddleware)

	settingsRepo := settings.NewRepository(dbpool)
	settingsService := settings.NewService(settingsRepo)
	settingsHandler := settings.NewHandler(logger, settingsService, gw, templates, csrfManager, rbacMiddleware)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:              logger,
		Config:              cfg,
		Templates:           templates,
		SessionManager:      sessionManager,
		CSRFManager:         csrfManager,
		Principals:          usersService,
		AuthHandler:         authHandler,
		RolesHandler:        rolesHandler,
		PermissionsHandler:  permissionsHandler,
		UsersHandler:        usersHandler,
		AuditHandler:        auditHandler,
		TasksHandler:        tasksHandler,
		NotifyHandler:       notifyHandler,
		TwoFactorHandler:    twoFactorHandler,
		IntegrationsHandler: integrationsHandler,
		SettingsHandler:     settingsHandler,
		JobHandler:          jobHandler,
		TaskService:         tasksService,
		NotifyService:       notifyService,
		AuditService:        auditService,
		RBACMiddleware:      rbacMiddleware,
		Metrics:             metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
