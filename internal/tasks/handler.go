package tasks

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"

	"github.com/atiera/atiera/internal/gateway"
	"github.com/atiera/atiera/internal/rbac"
	"github.com/atiera/atiera/internal/shared"
	"github.com/atiera/atiera/internal/view"
)

// AssigneeOption is a user entry for the assignment dropdown.
type AssigneeOption struct {
	ID       int64
	Username string
	FullName string
}

// AssigneeLister provides the dropdown of assignable users.
type AssigneeLister interface {
	ListAssignable(ctx context.Context) ([]AssigneeOption, error)
}

// Handler serves the tasks page.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	gateway   *gateway.Gateway
	resolver  *rbac.Resolver
	assignees AssigneeLister
	templates *view.Engine
	csrf      *shared.CSRFManager
	guard     rbac.Middleware
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, gw *gateway.Gateway, resolver *rbac.Resolver, assignees AssigneeLister, templates *view.Engine, csrf *shared.CSRFManager, guard rbac.Middleware) *Handler {
	return &Handler{
		logger:    logger,
		service:   service,
		gateway:   gw,
		resolver:  resolver,
		assignees: assignees,
		templates: templates,
		csrf:      csrf,
		guard:     guard,
	}
}

// MountRoutes registers the tasks routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.guard.RequireAny(shared.PermTasksView))
		r.Get("/", h.handlePage)
		r.Post("/", h.handleAction)
	})
}

func (h *Handler) handlePage(w http.ResponseWriter, r *http.Request) {
	principal := shared.PrincipalFromContext(r.Context())
	if principal == nil {
		http.Redirect(w, r, "/auth/login", http.StatusSeeOther)
		return
	}

	items, err := h.service.ListMine(r.Context(), principal.ID)
	if err != nil {
		h.logger.Error("list tasks", slog.Int64("user_id", principal.ID), slog.Any("error", err))
	}

	granted := h.resolver.Resolve(r.Context(), principal.ID)
	_, canAssign := granted[shared.PermTasksAssign]

	var options []AssigneeOption
	if canAssign && h.assignees != nil {
		if options, err = h.assignees.ListAssignable(r.Context()); err != nil {
			h.logger.Error("list assignees", slog.Any("error", err))
		}
	}

	h.render(w, r, map[string]any{
		"Tasks":     items,
		"CanAssign": canAssign,
		"Assignees": options,
	})
}

func (h *Handler) handleAction(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	var err error
	switch action := r.PostFormValue("action"); action {
	case "create_task":
		err = h.createTask(r)
	case "update_status":
		err = h.updateStatus(r)
	default:
		h.redirectWithFlash(w, r, "/tasks", "error", "Unknown action")
		return
	}

	if err != nil {
		h.redirectWithFlash(w, r, "/tasks", "error", taskErrorMessage(err))
		return
	}
	h.redirectWithFlash(w, r, "/tasks", "success", "Changes saved")
}

func (h *Handler) createTask(r *http.Request) error {
	principal := shared.PrincipalFromContext(r.Context())

	input := NewTaskInput{
		Title:       r.PostFormValue("title"),
		Description: r.PostFormValue("description"),
		Priority:    r.PostFormValue("priority"),
		Category:    r.PostFormValue("category"),
	}
	if assignedTo, err := strconv.ParseInt(r.PostFormValue("assigned_to"), 10, 64); err == nil {
		input.AssignedTo = assignedTo
	}
	if raw := r.PostFormValue("due_date"); raw != "" {
		if due, err := time.Parse("2006-01-02", raw); err == nil {
			input.DueDate = &due
		}
	}

	var created Task
	_, err := h.gateway.Perform(r.Context(), gateway.Request{
		Principal:  principal,
		Capability: shared.PermTasksAssign,
		Action:     "Assigned task",
		Target:     &gateway.Target{Table: "tasks"},
		Validate: func() error {
			return h.service.ValidateNew(r.Context(), input)
		},
		IPAddress: shared.ClientIP(r),
		UserAgent: r.UserAgent(),
	}, func(ctx context.Context, tx pgx.Tx) (gateway.Outcome, error) {
		task, err := h.service.Create(ctx, tx, principal.ID, input)
		if err != nil {
			return gateway.Outcome{}, err
		}
		created = task
		return gateway.Outcome{
			RecordID: strconv.FormatInt(task.ID, 10),
			NewValues: map[string]any{
				"title":       task.Title,
				"priority":    task.Priority,
				"assigned_to": task.AssignedTo,
			},
		}, nil
	})
	if err != nil {
		return err
	}
	// Notify only once the task and its audit record have committed.
	if err := h.service.NotifyAssigned(r.Context(), created); err != nil {
		h.logger.Warn("notify assignee", slog.Int64("user_id", created.AssignedTo), slog.Any("error", err))
	}
	return nil
}

func (h *Handler) updateStatus(r *http.Request) error {
	principal := shared.PrincipalFromContext(r.Context())

	taskID, err := strconv.ParseInt(r.PostFormValue("task_id"), 10, 64)
	if err != nil || taskID <= 0 {
		return gateway.Invalid("task_id", "invalid task id")
	}
	status := r.PostFormValue("status")

	_, err = h.gateway.Perform(r.Context(), gateway.Request{
		Principal:  principal,
		Capability: shared.PermTasksView,
		Action:     "Updated task status",
		Target:     &gateway.Target{Table: "tasks", RecordID: strconv.FormatInt(taskID, 10)},
		IPAddress:  shared.ClientIP(r),
		UserAgent:  r.UserAgent(),
	}, func(ctx context.Context, tx pgx.Tx) (gateway.Outcome, error) {
		before, after, err := h.service.UpdateStatus(ctx, tx, principal.ID, taskID, status)
		if err != nil {
			return gateway.Outcome{}, err
		}
		return gateway.Outcome{
			OldValues: map[string]any{"status": before.Status},
			NewValues: map[string]any{"status": after.Status},
		}, nil
	})
	return err
}

func (h *Handler) render(w http.ResponseWriter, r *http.Request, data map[string]any) {
	sess := shared.SessionFromContext(r.Context())
	csrfToken, _ := h.csrf.EnsureToken(r.Context(), sess)
	var flash *shared.FlashMessage
	if sess != nil {
		flash = sess.PopFlash()
	}
	viewData := view.TemplateData{Title: "Tasks", CSRFToken: csrfToken, Flash: flash, CurrentPath: r.URL.Path, Data: data}
	if err := h.templates.Render(w, "pages/tasks/list.html", viewData); err != nil {
		h.logger.Error("render tasks", slog.Any("error", err))
	}
}

func (h *Handler) redirectWithFlash(w http.ResponseWriter, r *http.Request, location, kind, message string) {
	if sess := shared.SessionFromContext(r.Context()); sess != nil {
		sess.AddFlash(shared.FlashMessage{Kind: kind, Message: message})
	}
	http.Redirect(w, r, location, http.StatusSeeOther)
}

func taskErrorMessage(err error) string {
	if verr, ok := gateway.AsValidation(err); ok {
		return verr.Reason
	}
	switch {
	case errors.Is(err, ErrNotFound):
		return "Task not found"
	case errors.Is(err, gateway.ErrForbidden):
		return "Access denied"
	default:
		return "Operation failed"
	}
}
