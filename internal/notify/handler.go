package notify

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/atiera/atiera/internal/platform/httpx"
	"github.com/atiera/atiera/internal/shared"
)

// Handler exposes the notifications JSON API. Every route is scoped to
// the authenticated principal; there is no cross-user access.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers the notifications API.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/api", h.handleList)
	r.Post("/api", h.handleCreate)
	r.Post("/api/{id}/read", h.handleMarkRead)
	r.Post("/api/read-all", h.handleMarkAllRead)
	r.Delete("/api/{id}", h.handleDelete)
	r.Delete("/api", h.handleDeleteAll)
}

func (h *Handler) principal(w http.ResponseWriter, r *http.Request) (*shared.Principal, bool) {
	principal := shared.PrincipalFromContext(r.Context())
	if principal == nil || !principal.IsActive() {
		httpx.Fail(w, http.StatusUnauthorized, "unauthorized")
		return nil, false
	}
	return principal, true
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.principal(w, r)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	items, unread, err := h.service.List(r.Context(), principal.ID, limit)
	if err != nil {
		h.logger.Error("list notifications", slog.Any("error", err))
		httpx.Fail(w, http.StatusInternalServerError, "failed to load notifications")
		return
	}
	if items == nil {
		items = []Notification{}
	}
	httpx.Success(w, map[string]any{"notifications": items, "unread_count": unread})
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.principal(w, r)
	if !ok {
		return
	}
	var req struct {
		Type    string `json:"type"`
		Title   string `json:"title"`
		Message string `json:"message"`
	}
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Fail(w, http.StatusBadRequest, "invalid request body")
		return
	}
	notification, err := h.service.Create(r.Context(), principal.ID, req.Type, req.Title, req.Message)
	if err != nil {
		httpx.Fail(w, http.StatusBadRequest, err.Error())
		return
	}
	httpx.Success(w, map[string]any{"notification": notification})
}

func (h *Handler) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.principal(w, r)
	if !ok {
		return
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Fail(w, http.StatusBadRequest, "invalid notification id")
		return
	}
	if err := h.service.MarkRead(r.Context(), principal.ID, id); err != nil {
		h.respondError(w, err)
		return
	}
	httpx.Success(w, map[string]any{"message": "Notification marked as read"})
}

func (h *Handler) handleMarkAllRead(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.principal(w, r)
	if !ok {
		return
	}
	count, err := h.service.MarkAllRead(r.Context(), principal.ID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.Success(w, map[string]any{"marked_read": count})
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.principal(w, r)
	if !ok {
		return
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Fail(w, http.StatusBadRequest, "invalid notification id")
		return
	}
	if err := h.service.Delete(r.Context(), principal.ID, id); err != nil {
		h.respondError(w, err)
		return
	}
	httpx.Success(w, map[string]any{"message": "Notification deleted"})
}

func (h *Handler) handleDeleteAll(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.principal(w, r)
	if !ok {
		return
	}
	count, err := h.service.DeleteAllRead(r.Context(), principal.ID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.Success(w, map[string]any{"deleted": count})
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	if errors.Is(err, ErrNotFound) {
		httpx.Fail(w, http.StatusNotFound, "notification not found")
		return
	}
	h.logger.Error("notification op", slog.Any("error", err))
	httpx.Fail(w, http.StatusInternalServerError, "operation failed")
}
