package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/freedkr/bc3tree/internal/config"
	"github.com/freedkr/bc3tree/internal/database"
	"github.com/freedkr/bc3tree/internal/logger"
	"github.com/freedkr/bc3tree/internal/metrics"
	"github.com/freedkr/bc3tree/internal/queue"
	"github.com/freedkr/bc3tree/internal/storage"
)

func main() {
	var configPath string
	if len(os.Args) > 1 && os.Args[1] == "-config" && len(os.Args) > 2 {
		configPath = os.Args[2]
	} else {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.LoadConfigForService(config.ServiceTypeImportWorker, configPath)
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}
	base := logger.New(cfg.Log)
	entry := logger.ForService(base, config.ServiceTypeImportWorker)

	db, err := database.NewPostgreSQLDB(cfg.Database, base)
	if err != nil {
		entry.WithError(err).Fatal("初始化数据库失败")
	}
	defer db.Close()
	if err := db.CreateTables(context.Background()); err != nil {
		entry.WithError(err).Fatal("创建数据库表失败")
	}

	redisQueue, err := queue.NewRedisQueue(cfg.Queue)
	if err != nil {
		entry.WithError(err).Fatal("初始化队列失败")
	}
	defer redisQueue.Close()

	minioStorage, err := storage.NewMinIOStorage(cfg.Storage)
	if err != nil {
		entry.WithError(err).Fatal("初始化存储失败")
	}
	if err := minioStorage.EnsureBucket(context.Background()); err != nil {
		entry.WithError(err).Fatal("确保存储桶失败")
	}

	m := metrics.New()
	metricsServer := startMetricsServer(cfg.Importer.MetricsAddr, m, entry)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	worker := NewImportWorker(cfg, db, redisQueue, minioStorage, m, entry)
	worker.Run(ctx)

	entry.Info("正在关闭导入Worker...")
	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			entry.WithError(err).Warn("关闭指标服务失败")
		}
	}
	entry.Info("导入Worker已关闭")
}

// startMetricsServer 暴露 /metrics，地址为空时不启动
func startMetricsServer(addr string, m *metrics.Metrics, entry *logrus.Entry) *http.Server {
	if addr == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		entry.WithField("addr", addr).Info("指标服务启动")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			entry.WithError(err).Error("指标服务异常退出")
		}
	}()
	return server
}
