package settings

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Setting keys stored in app_settings.
const (
	KeyMaintenanceEnabled = "maintenance_enabled"
	KeyMaintenanceMessage = "maintenance_message"
)

// DefaultMaintenanceMessage is shown when maintenance is enabled without a
// custom message.
const DefaultMaintenanceMessage = "Le site est actuellement en maintenance. Merci de réessayer plus tard."

// DefaultCacheTTL bounds how stale a cached setting may be.
const DefaultCacheTTL = 30 * time.Second

// Repository loads and stores application settings.
type Repository interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
}

// PGRepository persists settings in Postgres.
type PGRepository struct {
	pool *pgxpool.Pool
}

func NewPGRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

func (r *PGRepository) Get(ctx context.Context, key string) (string, error) {
	var value string
	err := r.pool.QueryRow(ctx,
		`SELECT setting_value FROM app_settings WHERE setting_key = $1`, key,
	).Scan(&value)
	if err != nil {
		return "", fmt.Errorf("settings: get %s: %w", key, err)
	}
	return value, nil
}

func (r *PGRepository) Set(ctx context.Context, key, value string) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO app_settings (setting_key, setting_value, updated_at)
		 VALUES ($1, $2, NOW())
		 ON CONFLICT (setting_key) DO UPDATE
		 SET setting_value = EXCLUDED.setting_value, updated_at = NOW()`,
		key, value,
	)
	if err != nil {
		return fmt.Errorf("settings: set %s: %w", key, err)
	}
	return nil
}

type cachedValue struct {
	value     string
	fetchedAt time.Time
}

// Service reads settings through a short-lived in-process cache so that hot
// paths such as the maintenance gate do not hit the database per request.
type Service struct {
	repo   Repository
	ttl    time.Duration
	logger *slog.Logger

	mu    sync.Mutex
	cache map[string]cachedValue
	now   func() time.Time
}

func NewService(repo Repository, ttl time.Duration, logger *slog.Logger) *Service {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Service{
		repo:   repo,
		ttl:    ttl,
		logger: logger,
		cache:  make(map[string]cachedValue),
		now:    time.Now,
	}
}

// Get returns the value for key, consulting the cache first. A repository
// failure is returned to the caller; cached values are never served past
// their TTL.
func (s *Service) Get(ctx context.Context, key string) (string, error) {
	s.mu.Lock()
	if entry, ok := s.cache[key]; ok && s.now().Sub(entry.fetchedAt) < s.ttl {
		s.mu.Unlock()
		return entry.value, nil
	}
	s.mu.Unlock()

	value, err := s.repo.Get(ctx, key)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	s.cache[key] = cachedValue{value: value, fetchedAt: s.now()}
	s.mu.Unlock()
	return value, nil
}

// Set persists the value and refreshes the cache so subsequent reads see the
// new value immediately.
func (s *Service) Set(ctx context.Context, key, value string) error {
	if err := s.repo.Set(ctx, key, value); err != nil {
		return err
	}
	s.mu.Lock()
	s.cache[key] = cachedValue{value: value, fetchedAt: s.now()}
	s.mu.Unlock()
	return nil
}

// IsEnabled interprets a setting as a boolean flag. Only "1" and "true"
// count as enabled.
func (s *Service) IsEnabled(ctx context.Context, key string) (bool, error) {
	value, err := s.Get(ctx, key)
	if err != nil {
		return false, err
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true":
		return true, nil
	default:
		return false, nil
	}
}

// MaintenanceSettings is the resolved maintenance state.
type MaintenanceSettings struct {
	Enabled bool   `json:"enabled"`
	Message string `json:"message"`
}

// Maintenance resolves the current maintenance state. A missing or unreadable
// enabled flag is treated as disabled so a settings outage never locks the
// site; the message falls back to the default when absent or empty.
func (s *Service) Maintenance(ctx context.Context) MaintenanceSettings {
	enabled, err := s.IsEnabled(ctx, KeyMaintenanceEnabled)
	if err != nil {
		s.logger.Warn("lecture du mode maintenance impossible", "error", err)
		return MaintenanceSettings{Enabled: false, Message: DefaultMaintenanceMessage}
	}

	message, err := s.Get(ctx, KeyMaintenanceMessage)
	if err != nil || strings.TrimSpace(message) == "" {
		message = DefaultMaintenanceMessage
	}
	return MaintenanceSettings{Enabled: enabled, Message: message}
}

// SetMaintenance persists the maintenance flag and message.
func (s *Service) SetMaintenance(ctx context.Context, enabled bool, message string) error {
	flag := "0"
	if enabled {
		flag = "1"
	}
	if err := s.Set(ctx, KeyMaintenanceEnabled, flag); err != nil {
		return err
	}
	if strings.TrimSpace(message) == "" {
		message = DefaultMaintenanceMessage
	}
	return s.Set(ctx, KeyMaintenanceMessage, message)
}
