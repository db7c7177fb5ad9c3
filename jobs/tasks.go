package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/epicoop/epicoop/internal/audit"
	"github.com/epicoop/epicoop/internal/rbac"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskTypeAuditDenial persists one middleware denial to the audit log.
	TaskTypeAuditDenial = "audit:permission_denied"
	// TaskTypeExpireSweep removes expired role assignments.
	TaskTypeExpireSweep = "rbac:expire_sweep"
	// TaskTypeAuditPrune trims the audit log to its retention window.
	TaskTypeAuditPrune = "audit:prune"
)

// AuditDenialPayload carries a denial event from the request path to the
// worker.
type AuditDenialPayload struct {
	UserID     int64     `json:"user_id"`
	ActorID    int64     `json:"actor_id"`
	Permission string    `json:"permission"`
	IPAddress  string    `json:"ip_address"`
	DeniedAt   time.Time `json:"denied_at"`
}

// NewAuditDenialTask constructs an Asynq task for a denial event.
func NewAuditDenialTask(payload AuditDenialPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeAuditDenial, data), nil
}

// NewExpireSweepTask constructs the periodic expiry sweep task.
func NewExpireSweepTask() *asynq.Task {
	return asynq.NewTask(TaskTypeExpireSweep, nil)
}

// NewAuditPruneTask constructs the periodic audit prune task.
func NewAuditPruneTask() *asynq.Task {
	return asynq.NewTask(TaskTypeAuditPrune, nil)
}

// DenialRecorder enqueues denial events instead of writing them inline, so
// an audit insert never adds latency to a 403.
type DenialRecorder struct {
	Client *asynq.Client
	Logger *slog.Logger
}

// RecordDenial satisfies the middleware's recorder interface.
func (d *DenialRecorder) RecordDenial(ctx context.Context, denial rbac.Denial) {
	task, err := NewAuditDenialTask(AuditDenialPayload{
		UserID:     denial.UserID,
		ActorID:    denial.ActorID,
		Permission: denial.Permission,
		IPAddress:  denial.IPAddress,
		DeniedAt:   time.Now(),
	})
	if err != nil {
		d.Logger.Warn("marshal denial task", slog.Any("error", err))
		return
	}
	if _, err := d.Client.EnqueueContext(ctx, task, asynq.Queue(QueueDefault)); err != nil {
		d.Logger.Warn("enqueue denial task", slog.Any("error", err))
	}
}

// NewAuditDenialHandler writes queued denial events to the audit log.
func NewAuditDenialHandler(recorder *audit.Recorder, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload AuditDenialPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
		entry := audit.Entry{
			EventType:      audit.EventPermissionDenied,
			UserID:         &payload.UserID,
			ActorID:        &payload.ActorID,
			PermissionName: &payload.Permission,
			Result:         audit.ResultDenied,
			IPAddress:      &payload.IPAddress,
			CreatedAt:      payload.DeniedAt,
		}
		if err := recorder.Record(ctx, entry); err != nil {
			logger.Error("record denial", slog.Any("error", err))
			return err
		}
		return nil
	}
}

// NewExpireSweepHandler deletes expired role assignments and clears the
// permission caches of every affected user, so expiry takes effect even
// between their requests.
func NewExpireSweepHandler(pool *pgxpool.Pool, resolver rbac.Resolver, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		rows, err := pool.Query(ctx,
			`DELETE FROM user_roles
			 WHERE expires_at IS NOT NULL AND expires_at <= NOW()
			 RETURNING user_id`,
		)
		if err != nil {
			logger.Error("expire sweep", slog.Any("error", err))
			return err
		}
		defer rows.Close()

		var userIDs []int64
		for rows.Next() {
			var id int64
			if err := rows.Scan(&id); err != nil {
				return err
			}
			userIDs = append(userIDs, id)
		}
		if err := rows.Err(); err != nil {
			return err
		}

		for _, userID := range userIDs {
			resolver.ClearUserPermissionCache(ctx, userID)
		}
		if len(userIDs) > 0 {
			logger.Info("expired role assignments swept", slog.Int("count", len(userIDs)))
		}
		return nil
	}
}

// NewAuditPruneHandler trims the audit log to the retention window.
func NewAuditPruneHandler(recorder *audit.Recorder, retention time.Duration, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		deleted, err := recorder.Prune(ctx, retention)
		if err != nil {
			logger.Error("audit prune", slog.Any("error", err))
			return err
		}
		if deleted > 0 {
			logger.Info("audit log pruned", slog.Int64("deleted", deleted))
		}
		return nil
	}
}
