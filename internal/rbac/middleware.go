package rbac

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/atiera/atiera/internal/platform/httpx"
	"github.com/atiera/atiera/internal/shared"
)

// Middleware wires capability checks around HTTP handlers. The principal
// is expected in the request context, placed there by the app middleware.
type Middleware struct {
	Resolver *Resolver
	Logger   *slog.Logger
}

// RequireAny admits requests holding at least one of the capabilities.
func (m Middleware) RequireAny(perms ...string) func(http.Handler) http.Handler {
	normalized := normalizePermissions(perms)
	return m.guard(normalized, func(granted map[string]struct{}) bool {
		for _, perm := range normalized {
			if _, ok := granted[perm]; ok {
				return true
			}
		}
		return false
	})
}

// RequireAll admits requests holding every listed capability.
func (m Middleware) RequireAll(perms ...string) func(http.Handler) http.Handler {
	normalized := normalizePermissions(perms)
	return m.guard(normalized, func(granted map[string]struct{}) bool {
		for _, perm := range normalized {
			if _, ok := granted[perm]; !ok {
				return false
			}
		}
		return true
	})
}

func (m Middleware) guard(normalized []string, allowed func(map[string]struct{}) bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(normalized) == 0 {
				next.ServeHTTP(w, r)
				return
			}
			principal := shared.PrincipalFromContext(r.Context())
			if principal == nil || !principal.IsActive() {
				m.reject(w, r, http.StatusUnauthorized)
				return
			}
			granted := m.Resolver.Resolve(r.Context(), principal.ID)
			if allowed(granted) {
				next.ServeHTTP(w, r)
				return
			}
			if m.Logger != nil {
				m.Logger.Warn("permission denied",
					slog.Int64("user_id", principal.ID),
					slog.String("path", r.URL.Path),
					slog.Any("required", normalized))
			}
			m.reject(w, r, http.StatusForbidden)
		})
	}
}

func (m Middleware) reject(w http.ResponseWriter, r *http.Request, status int) {
	if wantsJSON(r) {
		if status == http.StatusUnauthorized {
			httpx.Fail(w, status, "unauthorized")
		} else {
			httpx.Fail(w, status, "access denied")
		}
		return
	}
	if status == http.StatusUnauthorized {
		http.Redirect(w, r, "/auth/login", http.StatusSeeOther)
		return
	}
	http.Error(w, http.StatusText(status), status)
}

func wantsJSON(r *http.Request) bool {
	if strings.Contains(r.URL.Path, "/api") {
		return true
	}
	accept := r.Header.Get("Accept")
	return strings.Contains(accept, "application/json")
}

func normalizePermissions(perms []string) []string {
	out := make([]string, 0, len(perms))
	for _, perm := range perms {
		if perm = strings.TrimSpace(perm); perm != "" {
			out = append(out, perm)
		}
	}
	return out
}
