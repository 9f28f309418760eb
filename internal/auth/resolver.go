package auth

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/gautier900/NodeSQL/internal/obs"
)

// PermissionResolver decides whether a user holds a (resource, action)
// capability through any of their roles.
type PermissionResolver struct {
	cache  PermissionCache
	logger *zap.Logger
}

// NewPermissionResolver builds a resolver. cache may be nil, in which case
// every check is a single query.
func NewPermissionResolver(cache PermissionCache, logger *zap.Logger) *PermissionResolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PermissionResolver{cache: cache, logger: logger}
}

func (r *PermissionResolver) HasPermission(ctx context.Context, perms PermissionStore, userID, resource, action string) (bool, error) {
	userID = strings.TrimSpace(userID)
	resource = strings.TrimSpace(resource)
	action = strings.TrimSpace(action)
	if userID == "" || resource == "" || action == "" {
		return false, fmt.Errorf("%w: user id, resource and action are required", ErrInvalidInput)
	}
	if r.cache == nil {
		return perms.HasPermission(ctx, userID, resource, action)
	}

	log := obs.WithContext(ctx, r.logger)
	keys, gen, ok, err := r.cache.Get(ctx, userID)
	if err != nil {
		obs.PermissionCache.WithLabelValues("error").Inc()
		log.Warn("permission cache read failed", zap.Error(err))
		return perms.HasPermission(ctx, userID, resource, action)
	}
	if ok {
		obs.PermissionCache.WithLabelValues("hit").Inc()
		_, granted := keys[PermissionKey(resource, action)]
		return granted, nil
	}
	obs.PermissionCache.WithLabelValues("miss").Inc()

	list, err := perms.ListForUser(ctx, userID)
	if err != nil {
		return false, err
	}
	flat := make([]string, 0, len(list))
	granted := false
	want := PermissionKey(resource, action)
	for _, p := range list {
		k := p.Key()
		flat = append(flat, k)
		if k == want {
			granted = true
		}
	}
	if err := r.cache.Set(ctx, userID, gen, flat); err != nil {
		log.Warn("permission cache write failed", zap.Error(err))
	}
	return granted, nil
}

// ListPermissions returns the distinct permissions granted across all of the
// user's roles.
func (r *PermissionResolver) ListPermissions(ctx context.Context, perms PermissionStore, userID string) ([]Permission, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	list, err := perms.ListForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	return dedupePermissions(list), nil
}

// Invalidate drops cached grants after a role or permission mutation. A
// failure is returned because stale entries would keep answering until their
// TTL runs out.
func (r *PermissionResolver) Invalidate(ctx context.Context) error {
	if r.cache == nil {
		return nil
	}
	if err := r.cache.Invalidate(ctx); err != nil {
		obs.PermissionCache.WithLabelValues("invalidate_error").Inc()
		return fmt.Errorf("invalidate permission cache: %w", err)
	}
	return nil
}

func dedupePermissions(list []Permission) []Permission {
	if len(list) == 0 {
		return []Permission{}
	}
	seen := make(map[string]struct{}, len(list))
	out := make([]Permission, 0, len(list))
	for _, p := range list {
		k := p.Key()
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, p)
	}
	return out
}
