package rbac

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache is the process-local permission cache tier. Implementations must be
// safe for concurrent use.
type Cache interface {
	Get(key string) (PermissionSet, bool)
	Set(key string, perms PermissionSet, ttl time.Duration)
	Delete(key string)
	Clear()
}

type memoryEntry struct {
	perms     PermissionSet
	expiresAt time.Time
}

// MemoryCache is a mutex-guarded map with per-entry expiry, the in-process
// equivalent of the shared tier. Expired entries are dropped lazily on read.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

// NewMemoryCache constructs an empty MemoryCache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]memoryEntry), now: time.Now}
}

// Get returns the cached set when present and not expired.
func (c *MemoryCache) Get(key string) (PermissionSet, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if !entry.expiresAt.After(c.now()) {
		delete(c.entries, key)
		return nil, false
	}
	return entry.perms, true
}

// Set stores the set with the given time to live.
func (c *MemoryCache) Set(key string, perms PermissionSet, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = memoryEntry{perms: perms, expiresAt: c.now().Add(ttl)}
}

// Delete removes one entry.
func (c *MemoryCache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Clear removes every entry.
func (c *MemoryCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]memoryEntry)
}

// SharedCache is the cross-process permission cache tier. Read failures are
// recoverable; the store treats them as misses.
type SharedCache interface {
	Get(ctx context.Context, userID int64) (PermissionSet, bool, error)
	Set(ctx context.Context, userID int64, perms PermissionSet, ttl time.Duration) error
	Delete(ctx context.Context, userID int64) error
	Clear(ctx context.Context) error
}

const redisPermPrefix = "rbac:perms:"

// RedisPermissionCache stores one Redis set per user, expiry handled by
// Redis TTLs so stale entries need no sweeper.
type RedisPermissionCache struct {
	client *redis.Client
}

// NewRedisPermissionCache constructs the shared tier around a Redis client.
func NewRedisPermissionCache(client *redis.Client) *RedisPermissionCache {
	return &RedisPermissionCache{client: client}
}

func (c *RedisPermissionCache) key(userID int64) string {
	return redisPermPrefix + strconv.FormatInt(userID, 10)
}

// Get loads a user's cached permission names. The second return is false
// when no entry exists.
func (c *RedisPermissionCache) Get(ctx context.Context, userID int64) (PermissionSet, bool, error) {
	names, err := c.client.SMembers(ctx, c.key(userID)).Result()
	if err != nil {
		return nil, false, err
	}
	if len(names) == 0 {
		return nil, false, nil
	}
	return NewPermissionSet(names...), true, nil
}

// Set replaces a user's cached permission names with the given TTL.
func (c *RedisPermissionCache) Set(ctx context.Context, userID int64, perms PermissionSet, ttl time.Duration) error {
	if len(perms) == 0 {
		return nil
	}
	key := c.key(userID)
	members := make([]interface{}, 0, len(perms))
	for _, name := range perms.Names() {
		members = append(members, name)
	}
	pipe := c.client.TxPipeline()
	pipe.Del(ctx, key)
	pipe.SAdd(ctx, key, members...)
	pipe.Expire(ctx, key, ttl)
	_, err := pipe.Exec(ctx)
	return err
}

// Delete removes one user's entry.
func (c *RedisPermissionCache) Delete(ctx context.Context, userID int64) error {
	return c.client.Del(ctx, c.key(userID)).Err()
}

// Clear removes every cached entry, the Redis equivalent of truncating the
// original cache table.
func (c *RedisPermissionCache) Clear(ctx context.Context) error {
	iter := c.client.Scan(ctx, 0, redisPermPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		if err := c.client.Del(ctx, iter.Val()).Err(); err != nil {
			return err
		}
	}
	return iter.Err()
}
