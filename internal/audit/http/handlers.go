package audithttp

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/atiera/atiera/internal/audit"
	"github.com/atiera/atiera/internal/platform/httpx"
	"github.com/atiera/atiera/internal/shared"
	"github.com/atiera/atiera/internal/view"
)

// BrowseService defines the business contract for audit retrieval.
type BrowseService interface {
	Browse(ctx context.Context, filters audit.Filters) (audit.Result, error)
	Export(ctx context.Context, filters audit.Filters) ([]audit.Event, error)
	Stats(ctx context.Context, window time.Duration) (audit.Stats, error)
	RunRetention(ctx context.Context, horizon time.Duration, actorID *int64) (int64, error)
}

// Handler serves the audit viewer page and its JSON endpoints.
type Handler struct {
	logger    *slog.Logger
	service   BrowseService
	templates *view.Engine
	retention time.Duration
	now       func() time.Time
}

// NewHandler builds the audit handler.
func NewHandler(logger *slog.Logger, service BrowseService, templates *view.Engine, retention time.Duration) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if retention <= 0 {
		retention = audit.DefaultRetention
	}
	return &Handler{logger: logger, service: service, templates: templates, retention: retention, now: time.Now}
}

func (h *Handler) handlePage(w http.ResponseWriter, r *http.Request) {
	filters := parseFilters(r)
	result, err := h.service.Browse(r.Context(), filters)
	if err != nil {
		h.logger.Error("load audit log", slog.Any("error", err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	stats, err := h.service.Stats(r.Context(), 30*24*time.Hour)
	if err != nil {
		h.logger.Warn("load audit stats", slog.Any("error", err))
	}

	sess := shared.SessionFromContext(r.Context())
	var flash *shared.FlashMessage
	if sess != nil {
		flash = sess.PopFlash()
	}
	paging := shared.NewPagination(result.Page, filters.PageSize, 0, result.HasNext)
	data := view.TemplateData{
		Title:       "Audit Log",
		Flash:       flash,
		CurrentPath: r.URL.Path,
		Data: map[string]any{
			"Events":     result.Events,
			"Stats":      stats,
			"Pagination": paging,
			"Filters":    filters,
		},
	}
	if err := h.templates.Render(w, "pages/audit/list.html", data); err != nil {
		h.logger.Error("render audit log", slog.Any("error", err))
	}
}

type eventJSON struct {
	ID        int64          `json:"id"`
	UserID    *int64         `json:"user_id"`
	Username  string         `json:"username,omitempty"`
	FullName  string         `json:"full_name,omitempty"`
	Action    string         `json:"action"`
	TableName string         `json:"table_name,omitempty"`
	RecordID  string         `json:"record_id,omitempty"`
	OldValues map[string]any `json:"old_values,omitempty"`
	NewValues map[string]any `json:"new_values,omitempty"`
	IPAddress string         `json:"ip_address,omitempty"`
	UserAgent string         `json:"user_agent,omitempty"`
	CreatedAt string         `json:"created_at"`
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	filters := parseFilters(r)
	result, err := h.service.Browse(r.Context(), filters)
	if err != nil {
		h.logger.Error("audit list", slog.Any("error", err))
		httpx.Fail(w, http.StatusInternalServerError, "failed to load audit log")
		return
	}
	events := make([]eventJSON, 0, len(result.Events))
	for _, event := range result.Events {
		events = append(events, toEventJSON(event))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"events":   events,
		"page":     result.Page,
		"has_next": result.HasNext,
	})
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	window := 30 * 24 * time.Hour
	if days, err := strconv.Atoi(r.URL.Query().Get("days")); err == nil && days > 0 {
		window = time.Duration(days) * 24 * time.Hour
	}
	stats, err := h.service.Stats(r.Context(), window)
	if err != nil {
		h.logger.Error("audit stats", slog.Any("error", err))
		httpx.Fail(w, http.StatusInternalServerError, "failed to load audit stats")
		return
	}
	payload := map[string]any{
		"success":      true,
		"total":        stats.Total,
		"unique_users": stats.DistinctUsers,
		"recent_count": stats.RecentCount,
	}
	if !stats.LastEventAt.IsZero() {
		payload["last_activity"] = stats.LastEventAt.Format(time.RFC3339)
	}
	httpx.JSON(w, http.StatusOK, payload)
}

func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request) {
	filters := parseFilters(r)
	events, err := h.service.Export(r.Context(), filters)
	if err != nil {
		h.logger.Error("audit export", slog.Any("error", err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	data, err := audit.WriteCSV(events)
	if err != nil {
		h.logger.Error("audit export csv", slog.Any("error", err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	filename := fmt.Sprintf("audit-log-%s.csv", h.now().Format("2006-01-02"))
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	_, _ = w.Write(data)
}

func (h *Handler) handleCleanup(w http.ResponseWriter, r *http.Request) {
	principal := shared.PrincipalFromContext(r.Context())
	if principal == nil {
		httpx.Fail(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	horizon := h.retention
	if days, err := strconv.Atoi(r.PostFormValue("days")); err == nil && days > 0 {
		horizon = time.Duration(days) * 24 * time.Hour
	}
	// The sink records the purge itself inside the delete transaction, so
	// no separate gateway audit write happens here.
	deleted, err := h.service.RunRetention(r.Context(), horizon, &principal.ID)
	if err != nil {
		h.logger.Error("audit cleanup", slog.Any("error", err))
		httpx.Fail(w, http.StatusInternalServerError, "cleanup failed")
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"success": true, "deleted_count": deleted})
}

func parseFilters(r *http.Request) audit.Filters {
	q := r.URL.Query()
	filters := audit.Filters{
		User:      q.Get("user"),
		Action:    q.Get("action"),
		TableName: q.Get("table_name"),
		RecordID:  q.Get("record_id"),
		IPAddress: q.Get("ip_address"),
		Scope:     q.Get("scope"),
	}
	if id, err := strconv.ParseInt(q.Get("user_id"), 10, 64); err == nil && id > 0 {
		filters.UserID = id
	}
	if from, err := time.Parse("2006-01-02", q.Get("date_from")); err == nil {
		filters.DateFrom = from
	}
	if to, err := time.Parse("2006-01-02", q.Get("date_to")); err == nil {
		filters.DateTo = to
	}
	if page, err := strconv.Atoi(q.Get("page")); err == nil && page > 0 {
		filters.Page = page
	}
	if limit, err := strconv.Atoi(q.Get("limit")); err == nil && limit > 0 {
		filters.PageSize = limit
	}
	if v := strings.TrimSpace(q.Get("include_system")); v == "1" || v == "true" {
		filters.IncludeSystem = true
	}
	return filters
}

func toEventJSON(event audit.Event) eventJSON {
	return eventJSON{
		ID:        event.ID,
		UserID:    event.UserID,
		Username:  event.Username,
		FullName:  event.FullName,
		Action:    event.Action,
		TableName: event.TableName,
		RecordID:  event.RecordID,
		OldValues: event.OldValues,
		NewValues: event.NewValues,
		IPAddress: event.IPAddress,
		UserAgent: event.UserAgent,
		CreatedAt: event.CreatedAt.Format(time.RFC3339),
	}
}
