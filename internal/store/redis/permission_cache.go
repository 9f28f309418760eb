package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	red "github.com/redis/go-redis/v9"

	"github.com/gautier900/NodeSQL/internal/auth"
)

const (
	defaultPermissionPrefix = "users:perm"
	defaultPermissionTTL    = 5 * time.Minute
)

// PermissionCache stores each user's resolved permission keys. Entries are
// tagged with a generation counter; Invalidate bumps the counter so every
// older entry stops matching at once.
type PermissionCache struct {
	client *red.Client
	prefix string
	ttl    time.Duration
}

var _ auth.PermissionCache = (*PermissionCache)(nil)

type cachedPermissions struct {
	Generation int64    `json:"gen"`
	Keys       []string `json:"keys"`
}

func NewPermissionCache(client *red.Client, keyPrefix string, ttl time.Duration) *PermissionCache {
	prefix := strings.TrimSpace(keyPrefix)
	if prefix == "" {
		prefix = defaultPermissionPrefix
	}
	if ttl <= 0 {
		ttl = defaultPermissionTTL
	}
	return &PermissionCache{client: client, prefix: prefix, ttl: ttl}
}

func (c *PermissionCache) Get(ctx context.Context, userID string) (map[string]struct{}, int64, bool, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, 0, false, fmt.Errorf("user id is required")
	}

	pipe := c.client.Pipeline()
	genCmd := pipe.Get(ctx, c.generationKey())
	entryCmd := pipe.Get(ctx, c.key(userID))
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, red.Nil) {
		return nil, 0, false, fmt.Errorf("redis get permissions: %w", err)
	}

	gen, err := genCmd.Int64()
	if err != nil && !errors.Is(err, red.Nil) {
		return nil, 0, false, fmt.Errorf("parse permission generation: %w", err)
	}

	raw, err := entryCmd.Bytes()
	if errors.Is(err, red.Nil) {
		return nil, gen, false, nil
	}
	if err != nil {
		return nil, 0, false, fmt.Errorf("redis get permissions: %w", err)
	}

	var entry cachedPermissions
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, gen, false, nil
	}
	if entry.Generation != gen {
		return nil, gen, false, nil
	}
	keys := make(map[string]struct{}, len(entry.Keys))
	for _, k := range entry.Keys {
		keys[k] = struct{}{}
	}
	return keys, gen, true, nil
}

func (c *PermissionCache) Set(ctx context.Context, userID string, generation int64, keys []string) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return fmt.Errorf("user id is required")
	}
	if keys == nil {
		keys = []string{}
	}
	payload, err := json.Marshal(cachedPermissions{Generation: generation, Keys: keys})
	if err != nil {
		return fmt.Errorf("encode permissions: %w", err)
	}
	if err := c.client.Set(ctx, c.key(userID), payload, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set permissions: %w", err)
	}
	return nil
}

// Invalidate retires every cached entry.
func (c *PermissionCache) Invalidate(ctx context.Context) error {
	if err := c.client.Incr(ctx, c.generationKey()).Err(); err != nil {
		return fmt.Errorf("redis bump permission generation: %w", err)
	}
	return nil
}

func (c *PermissionCache) key(userID string) string {
	return fmt.Sprintf("%s:user:%s", c.prefix, userID)
}

func (c *PermissionCache) generationKey() string {
	return c.prefix + ":gen"
}
