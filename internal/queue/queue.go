package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hadiid1718/VI-downloader/internal/config"
	"github.com/hadiid1718/VI-downloader/internal/errs"
	"github.com/hadiid1718/VI-downloader/internal/model"
	"github.com/hadiid1718/VI-downloader/internal/platform"
	"github.com/hadiid1718/VI-downloader/internal/repository"
	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

const TypeDownload = "download:media"

// 三条优先级队列，worker 按权重抽取
const (
	QueueCritical = "critical"
	QueueDefault  = "default"
	QueueLow      = "low"
)

// QueueWeights worker 端的队列权重配置
var QueueWeights = map[string]int{
	QueueCritical: 6,
	QueueDefault:  3,
	QueueLow:      1,
}

// DownloadPayload 下载任务载荷
type DownloadPayload struct {
	JobID  string `json:"job_id"`
	URL    string `json:"url"`
	Format string `json:"format"`
}

// 请求中的优先级名 → 队列与数值优先级
func resolvePriority(p string) (queueName string, numeric int, err error) {
	switch p {
	case "high":
		return QueueCritical, 1, nil
	case "normal", "":
		return QueueDefault, 5, nil
	case "low":
		return QueueLow, 10, nil
	default:
		return "", 0, errs.Validationf("invalid priority %q, expected high/normal/low", p)
	}
}

// Service 任务队列：入队、查询、取消与统计
type Service struct {
	cfg       *config.QueueConfig
	repo      *repository.JobRepository
	client    *asynq.Client
	inspector *asynq.Inspector
	logger    *zap.Logger
}

// NewService 创建队列服务
func NewService(
	cfg *config.QueueConfig,
	repo *repository.JobRepository,
	client *asynq.Client,
	inspector *asynq.Inspector,
	logger *zap.Logger,
) *Service {
	return &Service{
		cfg:       cfg,
		repo:      repo,
		client:    client,
		inspector: inspector,
		logger:    logger,
	}
}

// Submit 创建任务并入队
func (s *Service) Submit(rawURL, format, priority string) (*model.Job, error) {
	det, err := platform.Detect(rawURL)
	if err != nil {
		return nil, err
	}

	queueName, numeric, err := resolvePriority(priority)
	if err != nil {
		return nil, err
	}

	job := &model.Job{
		ID:          uuid.New().String(),
		URL:         rawURL,
		Format:      format,
		Priority:    numeric,
		Queue:       queueName,
		State:       model.JobStateQueued,
		MaxAttempts: s.cfg.MaxAttempts,
		Platform:    string(det.Platform),
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	}

	if err := s.repo.Create(job); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}

	payload, _ := json.Marshal(DownloadPayload{
		JobID:  job.ID,
		URL:    rawURL,
		Format: format,
	})

	task := asynq.NewTask(TypeDownload, payload)
	info, err := s.client.Enqueue(task,
		asynq.TaskID(job.ID),
		asynq.Queue(queueName),
		asynq.MaxRetry(s.cfg.MaxAttempts-1),
		asynq.Timeout(s.cfg.LeaseDuration),
	)
	if err != nil {
		s.repo.MarkFailed(job.ID, fmt.Errorf("enqueue failed: %w", err))
		return nil, fmt.Errorf("enqueue task: %w", err)
	}

	s.logger.Info("job enqueued",
		zap.String("job_id", job.ID),
		zap.String("queue", info.Queue),
		zap.String("platform", job.Platform))

	return job, nil
}

// Status 查询任务状态
func (s *Service) Status(id string) (*model.Job, error) {
	return s.repo.FindByID(id)
}

// Cancel 取消任务。先写入粘性取消状态，再尽力从队列侧移除：
// 排队中的任务直接删除，执行中的任务发取消信号。
// 粘性状态保证信号未及时送达时后续重试也会被拦下。
func (s *Service) Cancel(id string) (*model.Job, error) {
	changed, err := s.repo.MarkCancelled(id)
	if err != nil {
		return nil, err
	}
	if !changed {
		job, err := s.repo.FindByID(id)
		if err != nil {
			return nil, err
		}
		return nil, errs.Validationf("job %s is already %s", id, job.State)
	}

	for _, q := range []string{QueueCritical, QueueDefault, QueueLow} {
		if err := s.inspector.DeleteTask(q, id); err == nil {
			break
		}
	}
	if err := s.inspector.CancelProcessing(id); err != nil {
		s.logger.Debug("cancel signal not delivered, job may not be running",
			zap.String("job_id", id), zap.Error(err))
	}

	s.logger.Info("job cancelled", zap.String("job_id", id))
	return s.repo.FindByID(id)
}

// Stats 队列统计，数据库计数叠加 Redis 侧的 paused 信息
func (s *Service) Stats() (*model.QueueStats, error) {
	stats, err := s.repo.Stats()
	if err != nil {
		return nil, err
	}

	for _, q := range []string{QueueCritical, QueueDefault, QueueLow} {
		info, err := s.inspector.GetQueueInfo(q)
		if err != nil {
			continue
		}
		if info.Paused {
			stats.Paused++
		}
	}
	return stats, nil
}
