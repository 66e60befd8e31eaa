package jobs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/facilityops/housekeeping/internal/access"
	jobmetrics "github.com/facilityops/housekeeping/internal/jobs"
)

func TestNewReconcileTask(t *testing.T) {
	task, err := NewReconcileTask(SourceAPI)
	require.NoError(t, err)
	assert.Equal(t, TaskPermissionsReconcile, task.Type())

	var payload ReconcilePayload
	require.NoError(t, json.Unmarshal(task.Payload(), &payload))
	assert.Equal(t, SourceAPI, payload.Source)

	again, err := NewReconcileTask(SourceAPI)
	require.NoError(t, err)
	assert.Equal(t, task.Payload(), again.Payload())
}

func TestReconcileJobSeedsCatalog(t *testing.T) {
	ctx := context.Background()
	store := access.NewMemoryStore()
	catalog, err := access.DefaultCatalog()
	require.NoError(t, err)
	job := NewReconcileJob(store, catalog, nil, jobmetrics.NewMetrics(prometheus.NewRegistry()))

	task, err := NewReconcileTask(SourceScheduler)
	require.NoError(t, err)
	require.NoError(t, job.Handle(ctx, task))
	assert.Equal(t, catalog.Size()*len(access.Facilities()), store.Len())

	// A second run leaves the matrix unchanged.
	require.NoError(t, job.Handle(ctx, asynq.NewTask(TaskPermissionsReconcile, nil)))
	assert.Equal(t, catalog.Size()*len(access.Facilities()), store.Len())
}

func TestReconcileJobSkipsRetryOnBadPayload(t *testing.T) {
	catalog, err := access.DefaultCatalog()
	require.NoError(t, err)
	job := NewReconcileJob(access.NewMemoryStore(), catalog, nil, nil)

	err = job.Handle(context.Background(), asynq.NewTask(TaskPermissionsReconcile, []byte("{")))
	assert.True(t, errors.Is(err, asynq.SkipRetry))

	unconfigured := NewReconcileJob(nil, nil, nil, nil)
	err = unconfigured.Handle(context.Background(), asynq.NewTask(TaskPermissionsReconcile, nil))
	assert.True(t, errors.Is(err, asynq.SkipRetry))
}

func TestJobsHealthWithoutInspector(t *testing.T) {
	r := chi.NewRouter()
	NewHandler(nil, nil).MountRoutes(r)

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"queue":"default","pending":0,"active":0,"retry":0,"archived":0,"paused":false}`, rr.Body.String())
}

func TestWorkerRejectsNil(t *testing.T) {
	var w *Worker
	assert.Error(t, w.Run(context.Background()))
}

func TestNewWorkerRejectsInvalidCron(t *testing.T) {
	task, err := NewReconcileTask(SourceScheduler)
	require.NoError(t, err)
	srv := miniredis.RunT(t)
	_, err = NewWorker(WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: srv.Addr()},
		Cron:      []CronRegistration{{Spec: "not a cron", Task: task}},
	})
	assert.Error(t, err)
}

func TestEnqueueReconcileDeduplicates(t *testing.T) {
	srv := miniredis.RunT(t)
	var logs bytes.Buffer
	client, err := NewClient(asynq.RedisClientOpt{Addr: srv.Addr()}, slog.New(slog.NewTextHandler(&logs, nil)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	id, err := client.EnqueueReconcile(context.Background(), "root@")
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	_, err = client.EnqueueReconcile(context.Background(), "root@")
	assert.ErrorIs(t, err, ErrAlreadyQueued)

	_, err = client.EnqueueReconcile(context.Background(), "ops@")
	assert.ErrorIs(t, err, ErrAlreadyQueued)

	assert.Contains(t, logs.String(), "task_id="+id)
	assert.Contains(t, logs.String(), "requested_by=ops@")
}
