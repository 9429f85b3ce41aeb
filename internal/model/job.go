package model

import (
	"time"

	"gorm.io/gorm"
)

// Job 下载任务模型
type Job struct {
	ID     string `gorm:"primaryKey;size:64" json:"id"`
	URL    string `gorm:"size:2048;not null" json:"url"`
	Format string `gorm:"size:64" json:"format"`

	// 优先级：high=1 / normal=5 / low=10，数值小者先执行
	Priority int    `json:"priority"`
	Queue    string `gorm:"size:32" json:"-"` // asynq 队列名

	// 任务状态
	State string `gorm:"size:32;not null;index" json:"state"` // queued/active/delayed/completed/failed/cancelled

	// 进度信息（0-100，active 期间单调不减，重试时不清零）
	Progress int `json:"progress"`

	// 重试信息
	Attempts     int    `json:"attempts"`
	MaxAttempts  int    `json:"maxAttempts"`
	FailedReason string `gorm:"size:1024" json:"failedReason,omitempty"`

	// 结果信息
	Platform    string     `gorm:"size:32" json:"platform,omitempty"`
	Title       string     `gorm:"size:512" json:"title,omitempty"`
	File        string     `gorm:"size:512" json:"file,omitempty"`
	FileSize    int64      `json:"fileSize,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`

	// 时间戳
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

// TableName 表名
func (Job) TableName() string {
	return "jobs"
}

// JobState 任务状态常量
const (
	JobStateQueued    = "queued"
	JobStateActive    = "active"
	JobStateDelayed   = "delayed" // 失败后等待重试
	JobStateCompleted = "completed"
	JobStateFailed    = "failed"
	JobStateCancelled = "cancelled"
)

// IsTerminal 是否处于终态
func (j *Job) IsTerminal() bool {
	return j.State == JobStateCompleted || j.State == JobStateFailed || j.State == JobStateCancelled
}

// QueueStats 队列统计
type QueueStats struct {
	Active    int64 `json:"active"`
	Waiting   int64 `json:"waiting"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Delayed   int64 `json:"delayed"`
	Paused    int64 `json:"paused"`
}

// Format 单个可下载格式描述
type Format struct {
	FormatID   string  `json:"formatId"`
	Extension  string  `json:"extension"`
	Resolution string  `json:"resolution"`
	Filesize   int64   `json:"filesize"`
	FPS        float64 `json:"fps,omitempty"`
	VCodec     string  `json:"vcodec,omitempty"`
	ACodec     string  `json:"acodec,omitempty"`
}

// Metadata 解析出的媒体元数据
type Metadata struct {
	Title      string   `json:"title"`
	Duration   float64  `json:"duration"`
	Uploader   string   `json:"uploader"`
	UploadDate string   `json:"uploadDate,omitempty"`
	Thumbnail  string   `json:"thumbnail,omitempty"`
	Formats    []Format `json:"formats"`
	Platform   string   `json:"platform"`
	Views      int64    `json:"views,omitempty"`
	Likes      int64    `json:"likes,omitempty"`
}

// SizeEstimate 下载体积预估
type SizeEstimate struct {
	Bytes        int64   `json:"estimatedSizeBytes"`
	MB           float64 `json:"estimatedSizeMB"`
	CanDownload  bool    `json:"canDownload"`
	MaxAllowedMB float64 `json:"maxAllowedMB"`
}

// StagedFile 暂存目录中的文件
type StagedFile struct {
	Filename   string    `json:"filename"`
	FileSize   int64     `json:"fileSize"`
	FileSizeMB float64   `json:"fileSizeMB"`
	ModifiedAt time.Time `json:"modifiedAt"`
}
