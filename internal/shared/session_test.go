package shared

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestSessionManager(t *testing.T, idleTTL time.Duration) *SessionManager {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewSessionManager(client, "test_session", "secret", time.Hour, idleTTL, false)
}

func commitSession(t *testing.T, sm *SessionManager, sess *Session) *http.Cookie {
	t.Helper()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if err := sm.Commit(context.Background(), rec, req, sess); err != nil {
		t.Fatalf("commit: %v", err)
	}
	for _, cookie := range rec.Result().Cookies() {
		if cookie.Name == sm.CookieName() {
			return cookie
		}
	}
	t.Fatalf("expected session cookie in response")
	return nil
}

func TestSessionRoundTrip(t *testing.T) {
	sm := newTestSessionManager(t, 0)
	sess, err := sm.Load(context.Background(), httptest.NewRequest(http.MethodGet, "/", nil))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	sess.SetUser("7")
	sess.Set("theme", "dark")
	cookie := commitSession(t, sm, sess)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(cookie)
	loaded, err := sm.Load(context.Background(), req)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if loaded.User() != "7" {
		t.Fatalf("expected user 7, got %q", loaded.User())
	}
	if loaded.Get("theme") != "dark" {
		t.Fatalf("expected stored value to survive, got %q", loaded.Get("theme"))
	}
}

func TestIdleSessionIsLoggedOut(t *testing.T) {
	sm := newTestSessionManager(t, 30*time.Minute)
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	sm.now = func() time.Time { return base }

	sess, err := sm.Load(context.Background(), httptest.NewRequest(http.MethodGet, "/", nil))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	sess.SetUser("7")
	cookie := commitSession(t, sm, sess)

	// 31 minutes of inactivity pass the idle window.
	sm.now = func() time.Time { return base.Add(31 * time.Minute) }
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(cookie)
	loaded, err := sm.Load(context.Background(), req)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if loaded.User() != "" {
		t.Fatalf("expected idle session to be anonymous, got user %q", loaded.User())
	}
}

func TestActiveSessionSurvivesIdleWindow(t *testing.T) {
	sm := newTestSessionManager(t, 30*time.Minute)
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	sm.now = func() time.Time { return base }

	sess, err := sm.Load(context.Background(), httptest.NewRequest(http.MethodGet, "/", nil))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	sess.SetUser("7")
	cookie := commitSession(t, sm, sess)

	sm.now = func() time.Time { return base.Add(10 * time.Minute) }
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(cookie)
	loaded, err := sm.Load(context.Background(), req)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if loaded.User() != "7" {
		t.Fatalf("expected session to survive inside idle window")
	}
}

func TestAnonymousSessionIgnoresIdleWindow(t *testing.T) {
	sm := newTestSessionManager(t, 30*time.Minute)
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	sm.now = func() time.Time { return base }

	sess, err := sm.Load(context.Background(), httptest.NewRequest(http.MethodGet, "/", nil))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	sess.Set("theme", "dark")
	cookie := commitSession(t, sm, sess)

	sm.now = func() time.Time { return base.Add(2 * time.Hour) }
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(cookie)
	loaded, err := sm.Load(context.Background(), req)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if loaded.Get("theme") != "dark" {
		t.Fatalf("expected anonymous session to survive idleness")
	}
}

func TestDestroyClearsSession(t *testing.T) {
	sm := newTestSessionManager(t, 0)
	sess, err := sm.Load(context.Background(), httptest.NewRequest(http.MethodGet, "/", nil))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	sess.SetUser("7")
	cookie := commitSession(t, sm, sess)

	sm.Destroy(sess)
	rec := httptest.NewRecorder()
	if err := sm.Commit(context.Background(), rec, httptest.NewRequest(http.MethodGet, "/", nil), sess); err != nil {
		t.Fatalf("commit destroy: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(cookie)
	loaded, err := sm.Load(context.Background(), req)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if loaded.User() != "" {
		t.Fatalf("expected destroyed session to be gone")
	}
}

func TestFlashPopsOnce(t *testing.T) {
	sm := newTestSessionManager(t, 0)
	sess, err := sm.Load(context.Background(), httptest.NewRequest(http.MethodGet, "/", nil))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	sess.AddFlash(FlashMessage{Kind: "success", Message: "Saved"})

	flash := sess.PopFlash()
	if flash == nil || flash.Message != "Saved" {
		t.Fatalf("expected flash message, got %+v", flash)
	}
	if sess.PopFlash() != nil {
		t.Fatalf("expected flash to pop only once")
	}
}
