package main

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/freedkr/bc3tree/internal/config"
	"github.com/freedkr/bc3tree/internal/database"
	"github.com/freedkr/bc3tree/internal/logger"
	"github.com/freedkr/bc3tree/internal/metrics"
	"github.com/freedkr/bc3tree/internal/queue"
	"github.com/freedkr/bc3tree/internal/storage"
	"github.com/freedkr/bc3tree/internal/testutil"
)

const budgetBC3 = `~V|FIEBDC-3/2020|Prog 1.0|
~C|OBRA||Obra completa|0|010121|0|
~C|CAP01|m|Capitulo 1|0|010121|0|
~C|P01|m2|Partida 1|10,5|010121|3|
~D|OBRA|CAP01\1\1\|
~D|CAP01|P01\2\1\|
`

const cycleBC3 = `~C|A||Capitulo A|0||0|
~C|B||Capitulo B|0||0|
~D|A|B\1\1\|
~D|B|A\1\1\|
`

type workerFixture struct {
	worker  *ImportWorker
	db      *testutil.MemDB
	queue   *testutil.MemQueue
	store   *testutil.MemStorage
	metrics *metrics.Metrics
}

func newWorkerFixture(t *testing.T) *workerFixture {
	t.Helper()
	cfg := &config.Config{
		Importer: config.ImporterConfig{
			MaxRejectedRelations:   0,
			MaxRejectedRatio:       0.5,
			FailOnValidationErrors: true,
			ExportFormats:          []string{"json"},
			PollInterval:           10 * time.Millisecond,
			Concurrency:            2,
		},
	}
	f := &workerFixture{
		db:      testutil.NewMemDB(),
		queue:   testutil.NewMemQueue(),
		store:   testutil.NewMemStorage(),
		metrics: metrics.New(),
	}
	entry := logger.ForService(logger.Discard(), config.ServiceTypeImportWorker)
	f.worker = NewImportWorker(cfg, f.db, f.queue, f.store, f.metrics, entry)
	return f
}

// submit 模拟API服务的上传流程
func (f *workerFixture) submit(t *testing.T, id, content string) {
	t.Helper()
	ctx := context.Background()
	key := storage.SourceObjectKey(id, "obra.bc3")
	require.NoError(t, f.store.UploadBytes(ctx, key, []byte(content), "application/octet-stream"))
	require.NoError(t, f.db.CreateImport(ctx, &database.ImportRecord{
		ID: id, FileName: "obra.bc3", ObjectKey: key, Status: database.ImportStatusPending,
	}))
	require.NoError(t, f.queue.EnqueueTask(ctx, &queue.Task{
		ID: id, Type: queue.TaskTypeImport, FileName: "obra.bc3", ObjectName: key, Status: queue.StatusPending,
	}))
}

func TestProcessTask_Completed(t *testing.T) {
	f := newWorkerFixture(t)
	f.submit(t, "imp-1", budgetBC3)

	processed, err := f.worker.processTask(context.Background())
	require.NoError(t, err)
	assert.True(t, processed)

	task, err := f.queue.GetTaskStatus(context.Background(), "imp-1")
	require.NoError(t, err)
	assert.Equal(t, queue.StatusCompleted, task.Status)
	assert.Equal(t, storage.ExportObjectKey("imp-1", "json"), task.Exports["json"])

	rec, err := f.db.GetImport(context.Background(), "imp-1")
	require.NoError(t, err)
	assert.Equal(t, database.ImportStatusCompleted, rec.Status)
	assert.Equal(t, 3, rec.TotalNodes)

	tree, err := f.db.LoadTree(context.Background(), "imp-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"OBRA"}, tree.Roots)
}

func TestProcessTask_Rejected(t *testing.T) {
	f := newWorkerFixture(t)
	f.submit(t, "imp-2", cycleBC3)

	processed, err := f.worker.processTask(context.Background())
	require.NoError(t, err)
	assert.True(t, processed)

	task, err := f.queue.GetTaskStatus(context.Background(), "imp-2")
	require.NoError(t, err)
	assert.Equal(t, queue.StatusRejected, task.Status)
	assert.Equal(t, metrics.StageValidate, task.Stage)
	assert.NotEmpty(t, task.Error)

	rec, err := f.db.GetImport(context.Background(), "imp-2")
	require.NoError(t, err)
	assert.Equal(t, database.ImportStatusRejected, rec.Status)
}

func TestProcessTask_MissingSource(t *testing.T) {
	f := newWorkerFixture(t)
	ctx := context.Background()
	require.NoError(t, f.db.CreateImport(ctx, &database.ImportRecord{ID: "imp-3", ObjectKey: "sources/imp-3/x.bc3"}))
	require.NoError(t, f.queue.EnqueueTask(ctx, &queue.Task{ID: "imp-3", Type: queue.TaskTypeImport}))

	_, err := f.worker.processTask(ctx)
	require.NoError(t, err)

	task, err := f.queue.GetTaskStatus(ctx, "imp-3")
	require.NoError(t, err)
	assert.Equal(t, queue.StatusFailed, task.Status)
	assert.Equal(t, metrics.StageFetch, task.Stage)
}

func TestProcessTask_EmptyQueue(t *testing.T) {
	f := newWorkerFixture(t)
	processed, err := f.worker.processTask(context.Background())
	require.NoError(t, err)
	assert.False(t, processed)
}

func TestReportStage(t *testing.T) {
	f := newWorkerFixture(t)
	f.submit(t, "imp-4", budgetBC3)

	events, _, err := f.queue.Subscribe(context.Background(), "imp-4")
	require.NoError(t, err)

	_, err = f.worker.processTask(context.Background())
	require.NoError(t, err)

	var stages []string
	for len(events) > 0 {
		ev := <-events
		if ev.Stage != "" {
			stages = append(stages, ev.Stage)
		}
	}
	assert.Equal(t, []string{
		metrics.StageFetch, metrics.StageParse, metrics.StageBuild,
		metrics.StageValidate, metrics.StagePersist, metrics.StageExport,
	}, stages)
}

func TestRun_StopsOnCancel(t *testing.T) {
	f := newWorkerFixture(t)
	f.submit(t, "imp-5", budgetBC3)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.worker.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		task, err := f.queue.GetTaskStatus(context.Background(), "imp-5")
		return err == nil && task.IsFinished()
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop")
	}
}
