package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hadiid1718/VI-downloader/internal/config"
	"github.com/hadiid1718/VI-downloader/internal/queue"
	"github.com/hadiid1718/VI-downloader/internal/repository"
	"github.com/hadiid1718/VI-downloader/internal/service/download"
	"github.com/hadiid1718/VI-downloader/internal/service/staging"
	"github.com/hadiid1718/VI-downloader/internal/service/ytdlp"
	"github.com/hadiid1718/VI-downloader/internal/worker"
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
	lg.Info("starting media-downloader Worker",
		zap.Int("concurrency", cfg.Queue.Concurrency))

	// 初始化数据库
	db, err := initDatabase(cfg)
	if err != nil {
		lg.Fatal("failed to init database", zap.Error(err))
	}
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

	// 业务服务
	fetcher := ytdlp.NewClient(&cfg.Download, lg)
	downloadSvc := download.NewService(&cfg.Download, fetcher, lg)

	// 初始化任务处理器
	downloadTask := worker.NewDownloadTask(cfg, jobRepo, downloadSvc, store, lg)

	// 初始化 asynq 服务器
	srv := asynq.NewServer(
		asynq.RedisClientOpt{
			Addr: cfg.Redis.URL,
			DB:   cfg.Redis.DB,
		},
		asynq.Config{
			Concurrency: cfg.Queue.Concurrency,
			Queues:      queue.QueueWeights,
			// 失败任务按纯指数退避再投递：base × 2^(n-1)
			RetryDelayFunc: func(n int, err error, task *asynq.Task) time.Duration {
				if n < 1 {
					n = 1
				}
				return cfg.Queue.BackoffDelay << uint(n-1)
			},
			Logger: &asynqLogger{lg},
		},
	)

	// 注册任务处理器
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.TypeDownload, downloadTask.ProcessTask)

	// 后台巡检
	reconcilerCtx, stopReconciler := context.WithCancel(context.Background())
	reconciler := worker.NewReconciler(cfg, jobRepo, store, lg)
	go reconciler.Run(reconcilerCtx)

	lg.Info("worker started", zap.Int("concurrency", cfg.Queue.Concurrency))

	// 启动服务器
	go func() {
		if err := srv.Run(mux); err != nil {
			lg.Fatal("failed to start worker", zap.Error(err))
		}
	}()

	// 等待中断信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	lg.Info("shutting down worker...")
	stopReconciler()
	srv.Shutdown()
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

// asynqLogger asynq 日志适配器
type asynqLogger struct {
	logger *zap.Logger
}

func (l *asynqLogger) Debug(args ...interface{}) {
	l.logger.Sugar().Debug(args...)
}

func (l *asynqLogger) Info(args ...interface{}) {
	l.logger.Sugar().Info(args...)
}

func (l *asynqLogger) Warn(args ...interface{}) {
	l.logger.Sugar().Warn(args...)
}

func (l *asynqLogger) Error(args ...interface{}) {
	l.logger.Sugar().Error(args...)
}

func (l *asynqLogger) Fatal(args ...interface{}) {
	l.logger.Sugar().Fatal(args...)
}
