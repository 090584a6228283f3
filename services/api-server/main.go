package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/freedkr/bc3tree/internal/config"
	"github.com/freedkr/bc3tree/internal/database"
	"github.com/freedkr/bc3tree/internal/logger"
	"github.com/freedkr/bc3tree/internal/metrics"
	"github.com/freedkr/bc3tree/internal/queue"
	"github.com/freedkr/bc3tree/internal/storage"
	"github.com/freedkr/bc3tree/services/api-server/handlers"
	"github.com/freedkr/bc3tree/services/api-server/middleware"
)

// Server API服务器
type Server struct {
	config   *config.Config
	db       database.DatabaseInterface
	queue    queue.Client
	storage  storage.StorageInterface
	metrics  *metrics.Metrics
	router   *gin.Engine
	handlers *handlers.Handlers
	log      *logrus.Entry
}

func main() {
	var configPath string
	if len(os.Args) > 1 && os.Args[1] == "-config" && len(os.Args) > 2 {
		configPath = os.Args[2]
	} else {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.LoadConfigForService(config.ServiceTypeAPIServer, configPath)
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}
	base := logger.New(cfg.Log)

	server, err := NewServer(cfg, base)
	if err != nil {
		base.WithError(err).Fatal("创建服务器失败")
	}
	if err := server.Start(); err != nil {
		base.WithError(err).Fatal("启动服务器失败")
	}
}

// NewServer 初始化依赖并注册路由
func NewServer(cfg *config.Config, base *logrus.Logger) (*Server, error) {
	entry := logger.ForService(base, config.ServiceTypeAPIServer)

	gin.SetMode(cfg.APIServer.Mode)
	if cfg.App.Debug {
		gin.SetMode(gin.DebugMode)
	}

	entry.WithField("database", cfg.Database.Database).Info("正在初始化数据库连接")
	db, err := database.NewPostgreSQLDB(cfg.Database, base)
	if err != nil {
		return nil, fmt.Errorf("初始化数据库失败: %w", err)
	}

	ctx := context.Background()
	if err := db.CreateTables(ctx); err != nil {
		return nil, fmt.Errorf("创建数据库表失败: %w", err)
	}

	redisQueue, err := queue.NewRedisQueue(cfg.Queue)
	if err != nil {
		return nil, fmt.Errorf("初始化队列失败: %w", err)
	}

	minioStorage, err := storage.NewMinIOStorage(cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("初始化存储失败: %w", err)
	}
	if err := minioStorage.EnsureBucket(ctx); err != nil {
		return nil, fmt.Errorf("确保存储桶失败: %w", err)
	}

	server := &Server{
		config:  cfg,
		db:      db,
		queue:   redisQueue,
		storage: minioStorage,
		metrics: metrics.New(),
		log:     entry,
	}
	server.handlers = handlers.NewHandlers(db, redisQueue, minioStorage, cfg, entry)
	server.router = NewRouter(server.handlers, server.metrics, entry)
	return server, nil
}

// NewRouter 注册中间件和路由
func NewRouter(h *handlers.Handlers, m *metrics.Metrics, log logrus.FieldLogger) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.Logger(log))
	router.Use(middleware.CORS())

	router.GET("/metrics", gin.WrapH(m.Handler()))

	api := router.Group("/api/v1")

	api.GET("/health", h.Health)
	api.GET("/ready", h.Ready)

	imports := api.Group("/imports")
	{
		imports.POST("", h.UploadImport)
		imports.GET("", h.ListImports)
		imports.GET("/:id", h.GetImport)
		imports.DELETE("/:id", h.DeleteImport)
		imports.GET("/:id/validation", h.GetValidation)
		imports.GET("/:id/ws", h.StreamImport)
		imports.GET("/:id/exports/:format", h.DownloadExport)
	}

	tree := imports.Group("/:id/tree")
	{
		tree.GET("/roots", h.GetRoots)
		tree.GET("/nodes/:code", h.GetNode)
		tree.GET("/nodes/:code/children", h.GetChildren)
		tree.GET("/nodes/:code/path", h.GetPath)
		tree.GET("/levels/:level", h.GetLevel)
		tree.GET("/measurements", h.GetMeasurements)
		tree.GET("/statistics", h.GetStatistics)
	}

	return router
}

// Start 启动HTTP服务并在收到信号后优雅关闭
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.APIServer.Host, s.config.APIServer.Port)

	server := &http.Server{
		Addr:        addr,
		Handler:     s.router,
		ReadTimeout: s.config.APIServer.Timeout,
	}

	go func() {
		s.log.WithField("addr", addr).Info("API服务器启动")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.WithError(err).Fatal("启动服务器失败")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	s.log.Info("正在关闭服务器...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		s.log.WithError(err).Error("服务器关闭失败")
		return err
	}
	if err := s.db.Close(); err != nil {
		s.log.WithError(err).Warn("关闭数据库失败")
	}
	if err := s.queue.Close(); err != nil {
		s.log.WithError(err).Warn("关闭队列失败")
	}

	s.log.Info("服务器已关闭")
	return nil
}
