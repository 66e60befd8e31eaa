package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/facilityops/housekeeping/internal/access"
	jobmetrics "github.com/facilityops/housekeeping/internal/jobs"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskPermissionsReconcile seeds missing catalog pages into the matrix.
	TaskPermissionsReconcile = "permissions:reconcile"

	// SourceAPI marks reconcile runs requested over HTTP.
	SourceAPI = "api"
	// SourceScheduler marks reconcile runs fired by the cron scheduler.
	SourceScheduler = "scheduler"

	reconcileJobName = "permissions_reconcile"
)

// ReconcilePayload names where a reconcile run came from. Asynq derives the
// uniqueness key from the payload, so it holds no per-request values.
type ReconcilePayload struct {
	Source string `json:"source,omitempty"`
}

// NewReconcileTask constructs an Asynq task. Tasks with the same source have
// identical payloads.
func NewReconcileTask(source string) (*asynq.Task, error) {
	data, err := json.Marshal(ReconcilePayload{Source: source})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskPermissionsReconcile, data), nil
}

// ReconcileJob ensures every catalog page has an entry for every facility
// and gated role. Existing entries keep their state.
type ReconcileJob struct {
	store   access.Store
	catalog *access.Catalog
	log     *slog.Logger
	metrics *jobmetrics.Metrics
}

// NewReconcileJob constructs the job handler.
func NewReconcileJob(store access.Store, catalog *access.Catalog, logger *slog.Logger, metrics *jobmetrics.Metrics) *ReconcileJob {
	return &ReconcileJob{store: store, catalog: catalog, log: logger, metrics: metrics}
}

// Handle processes TaskPermissionsReconcile tasks.
func (j *ReconcileJob) Handle(ctx context.Context, t *asynq.Task) error {
	var payload ReconcilePayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return fmt.Errorf("%w: decode payload: %v", asynq.SkipRetry, err)
		}
	}
	if j.store == nil || j.catalog == nil {
		return fmt.Errorf("%w: reconcile job not configured", asynq.SkipRetry)
	}

	tracker := j.metrics.Track(reconcileJobName)
	ensured, err := access.Reconcile(ctx, j.store, j.catalog)
	if err != nil {
		j.logger().Error("reconcile permissions", slog.Int("ensured", ensured), slog.Any("error", err))
		return tracker.End(err)
	}
	j.metrics.SetEnsured(reconcileJobName, ensured)
	taskID, _ := asynq.GetTaskID(ctx)
	j.logger().Info("reconcile permissions",
		slog.Int("ensured", ensured),
		slog.String("source", payload.Source),
		slog.String("task_id", taskID))
	return tracker.End(nil)
}

func (j *ReconcileJob) logger() *slog.Logger {
	if j.log != nil {
		return j.log
	}
	return slog.Default()
}
