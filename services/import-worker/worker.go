package main

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/freedkr/bc3tree/internal/config"
	"github.com/freedkr/bc3tree/internal/database"
	"github.com/freedkr/bc3tree/internal/importer"
	"github.com/freedkr/bc3tree/internal/metrics"
	"github.com/freedkr/bc3tree/internal/queue"
	"github.com/freedkr/bc3tree/internal/storage"
)

// ImportWorker 从队列消费BC3导入任务
type ImportWorker struct {
	config   *config.Config
	queue    queue.Client
	importer *importer.Importer
	metrics  *metrics.Metrics
	log      *logrus.Entry
}

// NewImportWorker 创建Worker，阶段变化同步到队列中的任务状态
func NewImportWorker(cfg *config.Config, db database.DatabaseInterface, q queue.Client, store storage.StorageInterface, m *metrics.Metrics, log *logrus.Entry) *ImportWorker {
	w := &ImportWorker{config: cfg, queue: q, metrics: m, log: log}
	w.importer = importer.New(cfg, importer.Deps{
		DB:      db,
		Storage: store,
		Metrics: m,
		OnStage: w.reportStage,
	}, log)
	return w
}

// Run 启动 Concurrency 个工作循环，ctx 取消后等待全部退出
func (w *ImportWorker) Run(ctx context.Context) {
	n := w.config.Importer.Concurrency
	if n <= 0 {
		n = 1
	}

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			w.workLoop(ctx, id)
		}(i)
	}
	w.log.WithField("concurrency", n).Info("导入Worker已启动，等待任务...")
	wg.Wait()
}

func (w *ImportWorker) workLoop(ctx context.Context, id int) {
	poll := w.config.Importer.PollInterval
	if poll <= 0 {
		poll = 2 * time.Second
	}
	log := w.log.WithField("loop", id)

	for {
		if ctx.Err() != nil {
			return
		}
		processed, err := w.processTask(ctx)
		if err != nil {
			log.WithError(err).Warn("获取任务失败")
		}
		if processed {
			continue
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(poll):
		}
	}
}

// processTask 处理队列中的一个任务，队列为空时返回 false
func (w *ImportWorker) processTask(ctx context.Context) (bool, error) {
	task, err := w.queue.DequeueTask(ctx, queue.TaskTypeImport)
	if err != nil {
		return false, err
	}
	if task == nil {
		return false, nil
	}

	log := w.log.WithFields(logrus.Fields{"import_id": task.ID, "file": task.FileName})
	log.Info("开始处理导入任务")
	if err := w.handleTask(ctx, task); err != nil {
		log.WithError(err).WithField("stage", importer.StageOf(err)).Warn("导入任务未完成")
	} else {
		log.Info("导入任务处理完成")
	}
	return true, nil
}

func (w *ImportWorker) handleTask(ctx context.Context, task *queue.Task) error {
	if err := w.queue.UpdateTaskStatus(ctx, task.ID, queue.StatusProcessing, "", ""); err != nil {
		w.log.WithError(err).WithField("import_id", task.ID).Warn("更新任务状态失败")
	}

	result, err := w.importer.Run(ctx, task.ID, task.Formats)
	// 状态更新不应随任务上下文一起被取消
	updateCtx := context.WithoutCancel(ctx)
	if err != nil {
		if uerr := w.queue.UpdateTaskStatus(updateCtx, task.ID, importer.StatusFor(err), importer.StageOf(err), err.Error()); uerr != nil {
			w.log.WithError(uerr).WithField("import_id", task.ID).Error("更新任务状态失败")
		}
		return err
	}

	if err := w.queue.UpdateTaskResult(updateCtx, task.ID, result.Exports); err != nil {
		w.log.WithError(err).WithField("import_id", task.ID).Warn("写入任务结果失败")
	}
	return w.queue.UpdateTaskStatus(updateCtx, task.ID, queue.StatusCompleted, "", "")
}

// reportStage 作为导入器的阶段钩子
func (w *ImportWorker) reportStage(ctx context.Context, importID, stage string) {
	if importID == "" {
		return
	}
	if err := w.queue.UpdateTaskStatus(ctx, importID, queue.StatusProcessing, stage, ""); err != nil {
		w.log.WithError(err).WithFields(logrus.Fields{"import_id": importID, "stage": stage}).Warn("同步任务阶段失败")
	}
}
