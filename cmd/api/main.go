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

	"github.com/hadiid1718/VI-downloader/internal/api"
	"github.com/hadiid1718/VI-downloader/internal/api/handlers"
	"github.com/hadiid1718/VI-downloader/internal/config"
	"github.com/hadiid1718/VI-downloader/internal/queue"
	"github.com/hadiid1718/VI-downloader/internal/repository"
	"github.com/hadiid1718/VI-downloader/internal/service/download"
	"github.com/hadiid1718/VI-downloader/internal/service/staging"
	"github.com/hadiid1718/VI-downloader/internal/service/stream"
	"github.com/hadiid1718/VI-downloader/internal/service/ytdlp"
	"github.com/hadiid1718/VI-downloader/pkg/logger"
	"github.com/hibiken/asynq"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func main() {
	// 加载配置
	cfg, err := config.Load("")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// 初始化日志
	if err := logger.Init(
		cfg.Logging.Level,
		cfg.Logging.Format,
		cfg.Logging.Output,
		cfg.Logging.FilePath,
	); err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}
	defer logger.Sync()

	lg := logger.Get()
	lg.Info("starting media-downloader API",
		zap.Int("port", cfg.Server.Port),
		zap.String("mode", cfg.Server.Mode))

	// 初始化数据库
	db, err := initDatabase(cfg)
	if err != nil {
		lg.Fatal("failed to init database", zap.Error(err))
	}

	// 运行迁移
	if err := repository.InitDB(db); err != nil {
		lg.Fatal("failed to migrate database", zap.Error(err))
	}

	// 初始化仓库
	jobRepo := repository.NewJobRepository(db)

	// 暂存目录
	store, err := staging.NewStore(cfg.Download.StagingDir, lg)
	if err != nil {
		lg.Fatal("failed to init staging dir", zap.Error(err))
	}

	// 初始化 asynq 客户端
	redisOpt := asynq.RedisClientOpt{
		Addr: cfg.Redis.URL,
		DB:   cfg.Redis.DB,
	}
	asynqClient := asynq.NewClient(redisOpt)
	defer asynqClient.Close()
	inspector := asynq.NewInspector(redisOpt)
	defer inspector.Close()

	// 业务服务
	fetcher := ytdlp.NewClient(&cfg.Download, lg)
	downloadSvc := download.NewService(&cfg.Download, fetcher, lg)
	queueSvc := queue.NewService(&cfg.Queue, jobRepo, asynqClient, inspector, lg)
	streamEngine := stream.NewEngine(downloadSvc, store, lg)

	// 初始化 Handler
	mediaHandler := handlers.NewMediaHandler(downloadSvc, lg)
	jobHandler := handlers.NewJobHandler(queueSvc, lg)
	streamHandler := handlers.NewStreamHandler(streamEngine, lg)
	fileHandler := handlers.NewFileHandler(store, lg)
	healthHandler := handlers.NewHealthHandler(jobRepo)

	// 设置路由
	router := api.SetupRouter(cfg, lg,
		mediaHandler, jobHandler, streamHandler, fileHandler, healthHandler)

	// 启动服务器
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	go func() {
		lg.Info("server listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			lg.Fatal("failed to start server", zap.Error(err))
		}
	}()

	// 等待中断信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	lg.Info("shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		lg.Error("server shutdown failed", zap.Error(err))
	}
}

func initDatabase(cfg *config.Config) (*gorm.DB, error) {
	var dialector gorm.Dialector

	switch cfg.Database.Driver {
	case "postgres":
		dialector = postgres.Open(cfg.Database.DSN)
	case "sqlite":
		dialector = sqlite.Open(cfg.Database.DSN)
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", cfg.Database.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}

	sqlDB.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	sqlDB.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)

	return db, nil
}
