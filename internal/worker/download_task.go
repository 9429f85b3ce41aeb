package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hadiid1718/VI-downloader/internal/config"
	"github.com/hadiid1718/VI-downloader/internal/errs"
	"github.com/hadiid1718/VI-downloader/internal/queue"
	"github.com/hadiid1718/VI-downloader/internal/repository"
	"github.com/hadiid1718/VI-downloader/internal/service/download"
	"github.com/hadiid1718/VI-downloader/internal/service/staging"
	"github.com/hadiid1718/VI-downloader/internal/service/ytdlp"
	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

// 阶段完成后的进度检查点。重试从不回退已汇报的进度，
// 进度写入由仓库层做单调保护。
const (
	checkpointMetadata = 10
	checkpointSized    = 30
	checkpointFetching = 50
	checkpointDone     = 100
)

// DownloadTask 下载任务处理器
type DownloadTask struct {
	cfg    *config.Config
	repo   *repository.JobRepository
	svc    *download.Service
	store  *staging.Store
	logger *zap.Logger
}

// NewDownloadTask 创建下载任务处理器
func NewDownloadTask(
	cfg *config.Config,
	repo *repository.JobRepository,
	svc *download.Service,
	store *staging.Store,
	logger *zap.Logger,
) *DownloadTask {
	return &DownloadTask{
		cfg:    cfg,
		repo:   repo,
		svc:    svc,
		store:  store,
		logger: logger,
	}
}

// ProcessTask 处理任务
func (t *DownloadTask) ProcessTask(ctx context.Context, task *asynq.Task) error {
	var payload queue.DownloadPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal payload failed: %v: %w", err, asynq.SkipRetry)
	}

	retried, _ := asynq.GetRetryCount(ctx)
	attempt := retried + 1

	t.logger.Info("processing download task",
		zap.String("job_id", payload.JobID),
		zap.String("url", payload.URL),
		zap.Int("attempt", attempt))

	// 取消是粘性的：已取消的任务即使重试投递也直接丢弃
	if cancelled, err := t.repo.IsCancelled(payload.JobID); err == nil && cancelled {
		t.logger.Info("skipping cancelled job", zap.String("job_id", payload.JobID))
		return nil
	}

	if err := t.repo.MarkActive(payload.JobID, attempt); err != nil {
		t.logger.Error("failed to mark job active", zap.Error(err))
	}

	if err := t.run(ctx, &payload); err != nil {
		return t.settle(ctx, &payload, err)
	}

	t.logger.Info("download task completed", zap.String("job_id", payload.JobID))
	return nil
}

// run 执行下载流水线：探测 → 限额校验 → 拉取 → 投递
func (t *DownloadTask) run(ctx context.Context, payload *queue.DownloadPayload) error {
	// 阶段1：元数据
	md, err := t.svc.ExtractMetadata(ctx, payload.URL)
	if err != nil {
		return fmt.Errorf("extract metadata: %w", err)
	}
	t.checkpoint(payload.JobID, checkpointMetadata)

	if err := t.ensureNotCancelled(payload.JobID); err != nil {
		return err
	}

	// 阶段2：体积限额
	est := t.svc.EstimateSize(md, payload.Format)
	if !est.CanDownload {
		return fmt.Errorf("%w: estimated %.1fMB exceeds limit of %.0fMB",
			errs.ErrSizeExceeded, est.MB, est.MaxAllowedMB)
	}
	t.checkpoint(payload.JobID, checkpointSized)

	if err := t.ensureNotCancelled(payload.JobID); err != nil {
		return err
	}

	// 阶段3：拉取到本次任务独占的会话目录
	sessionDir, err := t.store.NewSession()
	if err != nil {
		return fmt.Errorf("prepare staging: %w", err)
	}
	t.checkpoint(payload.JobID, checkpointFetching)

	onLine := func(line string) {
		if pct, ok := ytdlp.ParseProgressLine(line); ok {
			// 把外部工具的 0-100 映射到 50-99 区段
			scaled := checkpointFetching + int(pct/2)
			if scaled >= checkpointDone {
				scaled = checkpointDone - 1
			}
			t.repo.UpdateProgress(payload.JobID, scaled)
		}
	}

	if err := t.svc.Fetch(ctx, payload.URL, payload.Format, sessionDir, onLine); err != nil {
		t.store.DiscardSession(sessionDir)
		return fmt.Errorf("fetch media: %w", err)
	}

	// 阶段4：投递成品
	staged, err := t.store.CollectSession(sessionDir)
	if err != nil {
		return fmt.Errorf("collect output: %w", err)
	}

	if err := t.repo.MarkCompleted(payload.JobID, md.Platform, md.Title, staged.Filename, staged.FileSize); err != nil {
		return fmt.Errorf("mark completed: %w", err)
	}
	return nil
}

// ensureNotCancelled 阶段间的取消检查
func (t *DownloadTask) ensureNotCancelled(jobID string) error {
	cancelled, err := t.repo.IsCancelled(jobID)
	if err != nil {
		return nil
	}
	if cancelled {
		return fmt.Errorf("job cancelled: %w", asynq.SkipRetry)
	}
	return nil
}

func (t *DownloadTask) checkpoint(jobID string, progress int) {
	if err := t.repo.UpdateProgress(jobID, progress); err != nil {
		t.logger.Warn("failed to write progress checkpoint",
			zap.String("job_id", jobID), zap.Int("progress", progress), zap.Error(err))
	}
}

// settle 失败收尾：永久性错误与耗尽重试次数的任务进终态，
// 其余标记为 delayed 交给 asynq 退避重试。
func (t *DownloadTask) settle(ctx context.Context, payload *queue.DownloadPayload, err error) error {
	if errors.Is(err, asynq.SkipRetry) {
		// 取消导致的中止不算失败
		if cancelled, cerr := t.repo.IsCancelled(payload.JobID); cerr == nil && cancelled {
			return nil
		}
	}

	permanent := errors.Is(err, asynq.SkipRetry) ||
		errors.Is(err, errs.ErrValidation) ||
		errors.Is(err, errs.ErrUnsupportedPlatform) ||
		errors.Is(err, errs.ErrSizeExceeded) ||
		errors.Is(err, errs.ErrBlocked)

	retried, _ := asynq.GetRetryCount(ctx)
	maxRetry, _ := asynq.GetMaxRetry(ctx)
	exhausted := retried >= maxRetry

	if permanent || exhausted {
		if markErr := t.repo.MarkFailed(payload.JobID, err); markErr != nil {
			t.logger.Error("failed to mark job failed", zap.Error(markErr))
		}
		t.logger.Error("download task failed permanently",
			zap.String("job_id", payload.JobID),
			zap.Bool("exhausted", exhausted),
			zap.Error(err))
		if permanent {
			return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		}
		return err
	}

	if markErr := t.repo.MarkDelayed(payload.JobID, err); markErr != nil {
		t.logger.Error("failed to mark job delayed", zap.Error(markErr))
	}
	t.logger.Warn("download task failed, will retry",
		zap.String("job_id", payload.JobID),
		zap.Int("attempt", retried+1),
		zap.Error(err))
	return err
}
