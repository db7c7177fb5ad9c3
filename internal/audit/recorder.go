package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Recorder writes audit entries to Postgres.
type Recorder struct {
	pool *pgxpool.Pool
}

func NewRecorder(pool *pgxpool.Pool) *Recorder {
	return &Recorder{pool: pool}
}

// Record inserts one entry. CreatedAt is set by the database when zero.
func (r *Recorder) Record(ctx context.Context, entry Entry) error {
	createdAt := entry.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err := r.pool.Exec(ctx,
		`INSERT INTO permission_audit_log
		 (event_type, user_id, actor_id, permission_name, role_id, result, ip_address, details, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		entry.EventType, entry.UserID, entry.ActorID, entry.PermissionName,
		entry.RoleID, entry.Result, entry.IPAddress, entry.Details, createdAt,
	)
	if err != nil {
		return fmt.Errorf("audit: record %s: %w", entry.EventType, err)
	}
	return nil
}

// Prune removes entries older than the retention window and returns how many
// rows were deleted.
func (r *Recorder) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM permission_audit_log WHERE created_at < $1`,
		time.Now().Add(-retention),
	)
	if err != nil {
		return 0, fmt.Errorf("audit: prune: %w", err)
	}
	return tag.RowsAffected(), nil
}

// List returns the most recent entries, optionally filtered by event type.
func (r *Recorder) List(ctx context.Context, eventType string, limit, offset int) ([]Entry, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	query := `SELECT id, event_type, user_id, actor_id, permission_name, role_id,
	                 result, ip_address, details, created_at
	          FROM permission_audit_log`
	args := []any{}
	if eventType != "" {
		query += ` WHERE event_type = $1`
		args = append(args, eventType)
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("audit: list: %w", err)
	}
	defer rows.Close()

	entries := make([]Entry, 0, limit)
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.EventType, &e.UserID, &e.ActorID, &e.PermissionName,
			&e.RoleID, &e.Result, &e.IPAddress, &e.Details, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("audit: scan: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
