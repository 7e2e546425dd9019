package rbac

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type stubPermissionSource struct {
	perms map[int64][]string
	err   error
	calls int
}

func (s *stubPermissionSource) EffectivePermissions(ctx context.Context, userID int64) ([]string, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.perms[userID], nil
}

func newTestResolver(t *testing.T, source *stubPermissionSource) (*Resolver, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	logger := slog.New(slog.DiscardHandler)
	return NewResolver(source, client, time.Minute, logger), client
}

func TestResolveCachesLookups(t *testing.T) {
	source := &stubPermissionSource{perms: map[int64][]string{7: {"roles.view", "roles.manage"}}}
	resolver, _ := newTestResolver(t, source)

	granted := resolver.Resolve(context.Background(), 7)
	if _, ok := granted["roles.manage"]; !ok {
		t.Fatalf("expected roles.manage granted, got %v", granted)
	}
	resolver.Resolve(context.Background(), 7)
	if source.calls != 1 {
		t.Fatalf("expected 1 store lookup, got %d", source.calls)
	}
}

func TestResolveFailsClosed(t *testing.T) {
	source := &stubPermissionSource{err: errors.New("db down")}
	resolver, _ := newTestResolver(t, source)

	granted := resolver.Resolve(context.Background(), 7)
	if len(granted) != 0 {
		t.Fatalf("expected empty set on source error, got %v", granted)
	}
}

func TestResolveRejectsInvalidUser(t *testing.T) {
	source := &stubPermissionSource{}
	resolver, _ := newTestResolver(t, source)

	if granted := resolver.Resolve(context.Background(), 0); len(granted) != 0 {
		t.Fatalf("expected empty set for user 0, got %v", granted)
	}
	if source.calls != 0 {
		t.Fatalf("expected no store lookup for invalid user")
	}
}

func TestInvalidateForcesRefresh(t *testing.T) {
	source := &stubPermissionSource{perms: map[int64][]string{7: {"tasks.view"}}}
	resolver, _ := newTestResolver(t, source)

	resolver.Resolve(context.Background(), 7)
	source.perms[7] = []string{"tasks.view", "tasks.assign"}
	resolver.Invalidate(context.Background(), 7)

	granted := resolver.Resolve(context.Background(), 7)
	if _, ok := granted["tasks.assign"]; !ok {
		t.Fatalf("expected refreshed grant after invalidate, got %v", granted)
	}
	if source.calls != 2 {
		t.Fatalf("expected 2 store lookups, got %d", source.calls)
	}
}

func TestInvalidateAllDropsEveryUser(t *testing.T) {
	source := &stubPermissionSource{perms: map[int64][]string{
		1: {"settings.view"},
		2: {"settings.view"},
	}}
	resolver, client := newTestResolver(t, source)

	resolver.Resolve(context.Background(), 1)
	resolver.Resolve(context.Background(), 2)
	resolver.InvalidateAll(context.Background())

	keys, err := client.Keys(context.Background(), resolverKeyPrefix+"*").Result()
	if err != nil {
		t.Fatalf("keys: %v", err)
	}
	if len(keys) != 0 {
		t.Fatalf("expected no cached sets after invalidate all, got %v", keys)
	}
}

func TestResolveWithoutCache(t *testing.T) {
	source := &stubPermissionSource{perms: map[int64][]string{7: {"audit.view"}}}
	resolver := NewResolver(source, nil, time.Minute, slog.New(slog.DiscardHandler))

	resolver.Resolve(context.Background(), 7)
	granted := resolver.Resolve(context.Background(), 7)
	if _, ok := granted["audit.view"]; !ok {
		t.Fatalf("expected audit.view granted")
	}
	if source.calls != 2 {
		t.Fatalf("expected uncached resolver to hit the store twice, got %d", source.calls)
	}
}
