package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/hadiid1718/VI-downloader/internal/config"
	"github.com/hadiid1718/VI-downloader/internal/repository"
	"github.com/hadiid1718/VI-downloader/internal/service/staging"
	"go.uber.org/zap"
)

// Reconciler 后台巡检：失联任务回收、暂存过期清理、任务记录保留
type Reconciler struct {
	cfg    *config.Config
	repo   *repository.JobRepository
	store  *staging.Store
	logger *zap.Logger
}

// NewReconciler 创建巡检器
func NewReconciler(
	cfg *config.Config,
	repo *repository.JobRepository,
	store *staging.Store,
	logger *zap.Logger,
) *Reconciler {
	return &Reconciler{
		cfg:    cfg,
		repo:   repo,
		store:  store,
		logger: logger,
	}
}

// Run 启动巡检循环，阻塞直到 ctx 取消
func (r *Reconciler) Run(ctx context.Context) {
	stalled := time.NewTicker(r.cfg.Queue.StalledCheckInterval)
	defer stalled.Stop()
	cleanup := time.NewTicker(r.cfg.Download.CleanupInterval)
	defer cleanup.Stop()
	// 保留策略按日粒度执行即可
	retention := time.NewTicker(12 * time.Hour)
	defer retention.Stop()

	r.logger.Info("reconciler started",
		zap.Duration("stalled_interval", r.cfg.Queue.StalledCheckInterval),
		zap.Duration("cleanup_interval", r.cfg.Download.CleanupInterval))

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("reconciler stopped")
			return
		case <-stalled.C:
			r.reclaimStalled()
		case <-cleanup.C:
			if _, err := r.store.Cleanup(r.cfg.Download.CleanupMaxAge); err != nil {
				r.logger.Error("staging cleanup failed", zap.Error(err))
			}
		case <-retention.C:
			if err := r.repo.DeleteOldJobs(r.cfg.Queue.RetentionDays); err != nil {
				r.logger.Error("retention cleanup failed", zap.Error(err))
			}
		}
	}
}

// reclaimStalled 把超过租约无心跳的 active 任务判定为失联。
// asynq 会在租约到期后重新投递，这里只负责状态回写，
// 避免任务在界面上永远显示执行中。
func (r *Reconciler) reclaimStalled() {
	jobs, err := r.repo.FindStalled(r.cfg.Queue.LeaseDuration)
	if err != nil {
		r.logger.Error("stalled scan failed", zap.Error(err))
		return
	}

	for _, job := range jobs {
		reason := fmt.Errorf("worker lost lease after %s without progress", r.cfg.Queue.LeaseDuration)
		if job.Attempts >= job.MaxAttempts {
			if err := r.repo.MarkFailed(job.ID, reason); err != nil {
				r.logger.Error("failed to fail stalled job", zap.String("job_id", job.ID), zap.Error(err))
				continue
			}
			r.logger.Warn("stalled job marked failed",
				zap.String("job_id", job.ID), zap.Int("attempts", job.Attempts))
			continue
		}

		if err := r.repo.MarkDelayed(job.ID, reason); err != nil {
			r.logger.Error("failed to delay stalled job", zap.String("job_id", job.ID), zap.Error(err))
			continue
		}
		r.logger.Warn("stalled job returned to retry",
			zap.String("job_id", job.ID), zap.Int("attempts", job.Attempts))
	}
}
