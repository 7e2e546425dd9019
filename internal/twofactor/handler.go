package twofactor

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
)

// Handler exposes the 2FA administration API.
type Handler struct {
	logger  *slog.Logger
	service *Service
	gateway *gateway.Gateway
	guard   rbac.Middleware
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, gw *gateway.Gateway, guard rbac.Middleware) *Handler {
	return &Handler{logger: logger, service: service, gateway: gw, guard: guard}
}

// MountRoutes registers the 2FA admin routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.guard.RequireAll(shared.PermUsersEdit))
		r.Get("/api/{userID}", h.handleStatus)
		r.Post("/api", h.handleAction)
	})
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseInt(chi.URLParam(r, "userID"), 10, 64)
	if err != nil || userID <= 0 {
		httpx.Fail(w, http.StatusBadRequest, "invalid user id")
		return
	}
	record, err := h.service.GetRecord(r.Context(), userID)
	if err != nil {
		if errors.Is(err, ErrNotEnrolled) {
			httpx.Fail(w, http.StatusNotFound, "user not found")
			return
		}
		h.logger.Error("2fa status", slog.Any("error", err))
		httpx.Fail(w, http.StatusInternalServerError, "failed to load 2FA status")
		return
	}
	httpx.Success(w, map[string]any{
		"user_id":           record.UserID,
		"enabled":           record.Enabled,
		"method":            record.Method,
		"backup_codes_left": record.BackupCodesLeft,
	})
}

type actionRequest struct {
	Action string `json:"action"`
	UserID int64  `json:"user_id"`
}

func (h *Handler) handleAction(w http.ResponseWriter, r *http.Request) {
	var req actionRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Fail(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.UserID <= 0 {
		httpx.Fail(w, http.StatusBadRequest, "user_id is required")
		return
	}

	switch req.Action {
	case "reset_user_2fa":
		h.resetUser(w, r, req.UserID)
	case "regenerate_backup_codes":
		h.regenerateCodes(w, r, req.UserID)
	case "send_test_sms":
		h.sendTestSMS(w, r, req.UserID)
	default:
		httpx.Fail(w, http.StatusBadRequest, "unknown action")
	}
}

func (h *Handler) resetUser(w http.ResponseWriter, r *http.Request, userID int64) {
	principal := shared.PrincipalFromContext(r.Context())
	_, err := h.gateway.Perform(r.Context(), gateway.Request{
		Principal:  principal,
		Capability: shared.PermUsersEdit,
		Action:     "Reset user 2FA",
		Target:     &gateway.Target{Table: "two_factor_settings", RecordID: strconv.FormatInt(userID, 10)},
		IPAddress:  shared.ClientIP(r),
		UserAgent:  r.UserAgent(),
	}, func(ctx context.Context, tx pgx.Tx) (gateway.Outcome, error) {
		before, err := h.service.Reset(ctx, tx, userID)
		if err != nil {
			return gateway.Outcome{}, err
		}
		return gateway.Outcome{
			OldValues: map[string]any{"enabled": before.Enabled, "method": before.Method},
			NewValues: map[string]any{"enabled": false},
		}, nil
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.Success(w, map[string]any{"message": "2FA enrollment reset"})
}

func (h *Handler) regenerateCodes(w http.ResponseWriter, r *http.Request, userID int64) {
	principal := shared.PrincipalFromContext(r.Context())
	outcome, err := h.gateway.Perform(r.Context(), gateway.Request{
		Principal:  principal,
		Capability: shared.PermUsersEdit,
		Action:     "Regenerated 2FA backup codes",
		Target:     &gateway.Target{Table: "two_factor_backup_codes", RecordID: strconv.FormatInt(userID, 10)},
		IPAddress:  shared.ClientIP(r),
		UserAgent:  r.UserAgent(),
	}, func(ctx context.Context, tx pgx.Tx) (gateway.Outcome, error) {
		codes, err := h.service.RegenerateBackupCodes(ctx, tx, userID)
		if err != nil {
			return gateway.Outcome{}, err
		}
		// Codes are shown once and never audited.
		return gateway.Outcome{
			NewValues: map[string]any{"codes_generated": len(codes)},
			Result:    codes,
		}, nil
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	codes, _ := outcome.Result.([]string)
	httpx.Success(w, map[string]any{"backup_codes": codes})
}

// sendTestSMS queues a message but mutates nothing, so it bypasses the
// transaction and is audited as a plain event by the gateway pipeline
// with an empty mutation.
func (h *Handler) sendTestSMS(w http.ResponseWriter, r *http.Request, userID int64) {
	principal := shared.PrincipalFromContext(r.Context())
	outcome, err := h.gateway.Perform(r.Context(), gateway.Request{
		Principal:  principal,
		Capability: shared.PermUsersEdit,
		Action:     "Sent test SMS",
		Target:     &gateway.Target{Table: "two_factor_settings", RecordID: strconv.FormatInt(userID, 10)},
		IPAddress:  shared.ClientIP(r),
		UserAgent:  r.UserAgent(),
	}, func(ctx context.Context, tx pgx.Tx) (gateway.Outcome, error) {
		phone, err := h.service.SendTestSMS(ctx, userID)
		if err != nil {
			return gateway.Outcome{}, err
		}
		return gateway.Outcome{
			NewValues: map[string]any{"queued": true},
			Result:    phone,
		}, nil
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	phone, _ := outcome.Result.(string)
	httpx.Success(w, map[string]any{"message": "Test SMS queued", "to": maskPhone(phone)})
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotEnrolled):
		httpx.Fail(w, http.StatusNotFound, "user not found")
	case errors.Is(err, ErrNoPhoneNumber):
		httpx.Fail(w, http.StatusBadRequest, "no phone number enrolled")
	case errors.Is(err, gateway.ErrForbidden):
		httpx.Fail(w, http.StatusForbidden, "access denied")
	default:
		if verr, ok := gateway.AsValidation(err); ok {
			httpx.Fail(w, http.StatusBadRequest, verr.Reason)
			return
		}
		h.logger.Error("2fa action", slog.Any("error", err))
		httpx.Fail(w, http.StatusInternalServerError, "operation failed")
	}
}

// maskPhone keeps only the last two digits visible.
func maskPhone(phone string) string {
	if len(phone) <= 2 {
		return phone
	}
	masked := make([]byte, len(phone))
	for i := range masked {
		if i >= len(phone)-2 {
			masked[i] = phone[i]
		} else {
			masked[i] = '*'
		}
	}
	return string(masked)
}
