package rbac

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

const resolverKeyPrefix = "perms:"

// PermissionSource produces the effective permission names for a user.
type PermissionSource interface {
	EffectivePermissions(ctx context.Context, userID int64) ([]string, error)
}

// Resolver resolves a principal's effective capability set. Lookups are
// cached in Redis with a short TTL and invalidated explicitly after any
// role, grant, or assignment mutation. The resolver fails closed: any
// lookup error yields the empty set, never a panic or an implicit
// all-capabilities grant.
type Resolver struct {
	source PermissionSource
	cache  *redis.Client
	ttl    time.Duration
	logger *slog.Logger
	group  singleflight.Group
}

// NewResolver constructs a Resolver. cache may be nil, disabling caching.
func NewResolver(source PermissionSource, cache *redis.Client, ttl time.Duration, logger *slog.Logger) *Resolver {
	if ttl <= 0 {
		ttl = time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{source: source, cache: cache, ttl: ttl, logger: logger}
}

// Resolve returns the effective capability set for the user. Concurrent
// lookups for the same user collapse into one store round trip.
func (r *Resolver) Resolve(ctx context.Context, userID int64) map[string]struct{} {
	if userID <= 0 {
		return map[string]struct{}{}
	}

	key := fmt.Sprintf("%s%d", resolverKeyPrefix, userID)
	if r.cache != nil {
		if data, err := r.cache.Get(ctx, key).Bytes(); err == nil {
			var names []string
			if err := json.Unmarshal(data, &names); err == nil {
				return toSet(names)
			}
		}
	}

	v, err, _ := r.group.Do(key, func() (any, error) {
		names, err := r.source.EffectivePermissions(ctx, userID)
		if err != nil {
			return nil, err
		}
		if r.cache != nil {
			if data, err := json.Marshal(names); err == nil {
				if err := r.cache.Set(ctx, key, data, r.ttl).Err(); err != nil {
					r.logger.Warn("permission cache write", slog.Any("error", err))
				}
			}
		}
		return names, nil
	})
	if err != nil {
		r.logger.Error("resolve permissions", slog.Int64("user_id", userID), slog.Any("error", err))
		return map[string]struct{}{}
	}
	names, _ := v.([]string)
	return toSet(names)
}

// Invalidate drops the cached set for specific users, forcing the next
// resolution to hit the store.
func (r *Resolver) Invalidate(ctx context.Context, userIDs ...int64) {
	if r.cache == nil || len(userIDs) == 0 {
		return
	}
	keys := make([]string, len(userIDs))
	for i, id := range userIDs {
		keys[i] = fmt.Sprintf("%s%d", resolverKeyPrefix, id)
	}
	if err := r.cache.Del(ctx, keys...).Err(); err != nil {
		r.logger.Warn("permission cache invalidate", slog.Any("error", err))
	}
}

// InvalidateAll drops every cached permission set. Used after role or
// grant mutations whose affected user set is unknown.
func (r *Resolver) InvalidateAll(ctx context.Context) {
	if r.cache == nil {
		return
	}
	iter := r.cache.Scan(ctx, 0, resolverKeyPrefix+"*", 0).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		r.logger.Warn("permission cache scan", slog.Any("error", err))
		return
	}
	if len(keys) > 0 {
		if err := r.cache.Del(ctx, keys...).Err(); err != nil {
			r.logger.Warn("permission cache invalidate all", slog.Any("error", err))
		}
	}
}

func toSet(names []string) map[string]struct{} {
	set := make(map[string]struct{}, len(names))
	for _, name := range names {
		set[name] = struct{}{}
	}
	return set
}
