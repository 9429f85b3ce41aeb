package repository

import (
	"errors"
	"fmt"
	"time"

	"github.com/hadiid1718/VI-downloader/internal/errs"
	"github.com/hadiid1718/VI-downloader/internal/model"
	"gorm.io/gorm"
)

// JobRepository 任务仓库
type JobRepository struct {
	db *gorm.DB
}

// NewJobRepository 创建任务仓库
func NewJobRepository(db *gorm.DB) *JobRepository {
	return &JobRepository{db: db}
}

// Create 创建任务
func (r *JobRepository) Create(job *model.Job) error {
	return r.db.Create(job).Error
}

// FindByID 根据 ID 查询任务
func (r *JobRepository) FindByID(id string) (*model.Job, error) {
	var job model.Job
	err := r.db.Where("id = ?", id).First(&job).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: job %s", errs.ErrNotFound, id)
		}
		return nil, err
	}
	return &job, nil
}

// MarkActive 标记任务开始执行
func (r *JobRepository) MarkActive(id string, attempt int) error {
	return r.db.Model(&model.Job{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"state":      model.JobStateActive,
			"attempts":   attempt,
			"updated_at": time.Now(),
		}).Error
}

// UpdateProgress 更新进度。仅在新值更大时写入，重试从不回退已汇报的进度。
func (r *JobRepository) UpdateProgress(id string, progress int) error {
	return r.db.Model(&model.Job{}).
		Where("id = ? AND progress < ?", id, progress).
		Updates(map[string]interface{}{
			"progress":   progress,
			"updated_at": time.Now(),
		}).Error
}

// MarkDelayed 标记任务失败等待重试
func (r *JobRepository) MarkDelayed(id string, reason error) error {
	return r.db.Model(&model.Job{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"state":         model.JobStateDelayed,
			"failed_reason": errs.Truncate(reason.Error(), 1024),
			"updated_at":    time.Now(),
		}).Error
}

// MarkFailed 标记任务终态失败
func (r *JobRepository) MarkFailed(id string, reason error) error {
	return r.db.Model(&model.Job{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"state":         model.JobStateFailed,
			"failed_reason": errs.Truncate(reason.Error(), 1024),
			"updated_at":    time.Now(),
		}).Error
}

// MarkCompleted 标记任务完成
func (r *JobRepository) MarkCompleted(id, platform, title, file string, fileSize int64) error {
	now := time.Now()
	return r.db.Model(&model.Job{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"state":        model.JobStateCompleted,
			"progress":     100,
			"platform":     platform,
			"title":        title,
			"file":         file,
			"file_size":    fileSize,
			"completed_at": &now,
			"updated_at":   now,
		}).Error
}

// MarkCancelled 标记任务取消。终态任务不可再取消。
// 返回是否实际发生了状态变更。
func (r *JobRepository) MarkCancelled(id string) (bool, error) {
	res := r.db.Model(&model.Job{}).
		Where("id = ? AND state NOT IN (?, ?, ?)", id,
			model.JobStateCompleted, model.JobStateFailed, model.JobStateCancelled).
		Updates(map[string]interface{}{
			"state":      model.JobStateCancelled,
			"updated_at": time.Now(),
		})
	return res.RowsAffected > 0, res.Error
}

// IsCancelled 任务是否已被取消
func (r *JobRepository) IsCancelled(id string) (bool, error) {
	var count int64
	err := r.db.Model(&model.Job{}).
		Where("id = ? AND state = ?", id, model.JobStateCancelled).
		Count(&count).Error
	return count > 0, err
}

// Stats 按状态统计任务数量
func (r *JobRepository) Stats() (*model.QueueStats, error) {
	type row struct {
		State string
		N     int64
	}
	var rows []row
	err := r.db.Model(&model.Job{}).
		Select("state, count(*) as n").
		Group("state").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	stats := &model.QueueStats{}
	for _, r := range rows {
		switch r.State {
		case model.JobStateActive:
			stats.Active = r.N
		case model.JobStateQueued:
			stats.Waiting = r.N
		case model.JobStateCompleted:
			stats.Completed = r.N
		case model.JobStateFailed:
			stats.Failed = r.N
		case model.JobStateDelayed:
			stats.Delayed = r.N
		}
	}
	return stats, nil
}

// FindStalled 查找超过租约时长无任何更新的 active 任务
func (r *JobRepository) FindStalled(lease time.Duration) ([]*model.Job, error) {
	cutoff := time.Now().Add(-lease)
	var jobs []*model.Job
	err := r.db.Where("state = ? AND updated_at < ?", model.JobStateActive, cutoff).
		Find(&jobs).Error
	return jobs, err
}

// DeleteOldJobs 删除超过保留天数的终态任务
func (r *JobRepository) DeleteOldJobs(days int) error {
	cutoff := time.Now().AddDate(0, 0, -days)
	return r.db.Where("state IN (?, ?, ?) AND updated_at < ?",
		model.JobStateCompleted,
		model.JobStateFailed,
		model.JobStateCancelled,
		cutoff).
		Delete(&model.Job{}).Error
}

// InitDB 初始化数据库
func InitDB(db *gorm.DB) error {
	// 自动迁移表结构
	if err := db.AutoMigrate(&model.Job{}); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}

	// 创建索引
	if err := db.Exec("CREATE INDEX IF NOT EXISTS idx_jobs_state_updated ON jobs(state, updated_at)").Error; err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}

	return nil
}
