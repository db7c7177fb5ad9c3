package rbac

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/singleflight"
)

// DefaultCacheTTL is the lifetime of both cache tiers. After a revocation,
// in-flight requests on other processes may observe the old set for at most
// this long; the mutating request itself invalidates synchronously.
const DefaultCacheTTL = 15 * time.Minute

// Source is the authoritative permission resolver behind both cache tiers.
type Source interface {
	Load(ctx context.Context, userID int64) (PermissionSet, error)
}

// PGSource resolves effective permissions from the relational join.
type PGSource struct {
	pool *pgxpool.Pool
}

// NewPGSource constructs a PGSource.
func NewPGSource(pool *pgxpool.Pool) *PGSource {
	return &PGSource{pool: pool}
}

// Load runs the authoritative join: active permissions of active roles
// currently assigned to the user, expired grants excluded.
func (s *PGSource) Load(ctx context.Context, userID int64) (PermissionSet, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT DISTINCT p.name
		FROM permissions p
		JOIN role_permissions rp ON rp.permission_id = p.id
		JOIN user_roles ur ON ur.role_id = rp.role_id
		JOIN roles r ON r.id = ur.role_id
		WHERE ur.user_id = $1
		  AND p.is_active
		  AND r.is_active
		  AND (ur.expires_at IS NULL OR ur.expires_at > NOW())`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	perms := make(PermissionSet)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		perms[name] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return perms, nil
}

// Metrics receives permission-resolution events. Implemented by
// observability; nil disables reporting.
type Metrics interface {
	PermissionResolved(tier string)
}

// Store resolves effective permission sets through a process-local tier, a
// shared tier and the authoritative source, and owns cache invalidation.
type Store struct {
	source  Source
	local   Cache
	shared  SharedCache
	ttl     time.Duration
	logger  *slog.Logger
	metrics Metrics
	group   singleflight.Group
}

// StoreOption customises a Store.
type StoreOption func(*Store)

// WithTTL overrides the cache lifetime.
func WithTTL(ttl time.Duration) StoreOption {
	return func(s *Store) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithMetrics attaches resolution counters.
func WithMetrics(m Metrics) StoreOption {
	return func(s *Store) { s.metrics = m }
}

// NewStore constructs a Store. The shared tier may be nil, leaving a
// single-tier cache in front of the source.
func NewStore(source Source, local Cache, shared SharedCache, logger *slog.Logger, opts ...StoreOption) *Store {
	if local == nil {
		local = NewMemoryCache()
	}
	if logger == nil {
		logger = slog.Default()
	}
	store := &Store{
		source: source,
		local:  local,
		shared: shared,
		ttl:    DefaultCacheTTL,
		logger: logger,
	}
	for _, opt := range opts {
		opt(store)
	}
	return store
}

// TTL exposes the configured cache lifetime.
func (s *Store) TTL() time.Duration {
	return s.ttl
}

func cacheKey(userID int64) string {
	return fmt.Sprintf("user_%d_permissions", userID)
}

// GetUserPermissions returns the effective permission names for a user.
// It never fails: a source error yields the empty set, so a user whose
// permissions cannot be read is authorized for nothing.
func (s *Store) GetUserPermissions(ctx context.Context, userID int64) PermissionSet {
	key := cacheKey(userID)

	if perms, ok := s.local.Get(key); ok {
		s.resolved("l1")
		return perms
	}

	// Concurrent misses for the same user collapse into one resolution.
	result, _, _ := s.group.Do(key, func() (any, error) {
		return s.resolve(ctx, userID), nil
	})
	return result.(PermissionSet)
}

func (s *Store) resolve(ctx context.Context, userID int64) PermissionSet {
	key := cacheKey(userID)
	// Cache writes run on a detached context: a client disconnect mid-check
	// must not leave the tiers inconsistent with each other.
	wctx := context.WithoutCancel(ctx)

	if s.shared != nil {
		perms, ok, err := s.shared.Get(ctx, userID)
		if err != nil {
			s.logger.Debug("shared permission cache read failed", slog.Int64("user_id", userID), slog.Any("error", err))
		} else if ok {
			s.local.Set(key, perms, s.ttl)
			s.resolved("l2")
			return perms
		}
	}

	perms, err := s.source.Load(ctx, userID)
	if err != nil {
		s.logger.Error("permission source query failed, denying all", slog.Int64("user_id", userID), slog.Any("error", err))
		return make(PermissionSet)
	}
	s.resolved("source")

	s.local.Set(key, perms, s.ttl)
	if s.shared != nil && len(perms) > 0 {
		if err := s.shared.Set(wctx, userID, perms, s.ttl); err != nil {
			s.logger.Debug("shared permission cache write failed", slog.Int64("user_id", userID), slog.Any("error", err))
		}
	}
	return perms
}

// ClearUserPermissionCache removes both tiers for one user. Must be called
// synchronously by any mutation of the user's roles or role permissions
// before the mutating request returns.
func (s *Store) ClearUserPermissionCache(ctx context.Context, userID int64) {
	s.local.Delete(cacheKey(userID))
	if s.shared == nil {
		return
	}
	if err := s.shared.Delete(context.WithoutCancel(ctx), userID); err != nil {
		s.logger.Warn("shared permission cache delete failed", slog.Int64("user_id", userID), slog.Any("error", err))
	}
}

// ClearAllPermissionCaches empties the local tier and the shared tier.
func (s *Store) ClearAllPermissionCaches(ctx context.Context) {
	s.local.Clear()
	if s.shared == nil {
		return
	}
	if err := s.shared.Clear(context.WithoutCancel(ctx)); err != nil {
		s.logger.Warn("shared permission cache clear failed", slog.Any("error", err))
	}
}

func (s *Store) resolved(tier string) {
	if s.metrics != nil {
		s.metrics.PermissionResolved(tier)
	}
}
