package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hadiid1718/VI-downloader/internal/model"
	"go.uber.org/zap"
)

// JobQueue 任务队列操作
type JobQueue interface {
	Submit(rawURL, format, priority string) (*model.Job, error)
	Status(id string) (*model.Job, error)
	Cancel(id string) (*model.Job, error)
	Stats() (*model.QueueStats, error)
}

// JobHandler 队列任务接口
type JobHandler struct {
	queue  JobQueue
	logger *zap.Logger
}

// NewJobHandler 创建处理器
func NewJobHandler(queue JobQueue, logger *zap.Logger) *JobHandler {
	return &JobHandler{queue: queue, logger: logger}
}

// SubmitRequest 提交下载任务请求
type SubmitRequest struct {
	URL      string `json:"url" binding:"required"`
	Format   string `json:"format"`
	Priority string `json:"priority"` // high / normal / low
}

// Submit 提交下载任务，立即返回任务标识
func (h *JobHandler) Submit(c *gin.Context) {
	var req SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		failBind(c, err)
		return
	}

	job, err := h.queue.Submit(req.URL, req.Format, req.Priority)
	if err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"success":   true,
		"jobId":     job.ID,
		"state":     job.State,
		"platform":  job.Platform,
		"statusUrl": "/api/download/status/" + job.ID,
	})
}

// jobView 任务状态的对外视图
func jobView(job *model.Job) gin.H {
	view := gin.H{
		"jobId":       job.ID,
		"url":         job.URL,
		"state":       job.State,
		"progress":    job.Progress,
		"attempts":    job.Attempts,
		"maxAttempts": job.MaxAttempts,
		"platform":    job.Platform,
		"createdAt":   job.CreatedAt.Format(time.RFC3339),
	}
	if job.FailedReason != "" {
		view["failedReason"] = job.FailedReason
	}
	if job.State == model.JobStateCompleted {
		view["title"] = job.Title
		view["file"] = job.File
		view["downloadUrl"] = "/api/download/file/" + job.File
		view["fileSizeMB"] = float64(job.FileSize) / (1024 * 1024)
	}
	return view
}

// Status 查询任务状态
func (h *JobHandler) Status(c *gin.Context) {
	job, err := h.queue.Status(c.Param("jobId"))
	if err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"job":     jobView(job),
	})
}

// Cancel 取消任务
func (h *JobHandler) Cancel(c *gin.Context) {
	job, err := h.queue.Cancel(c.Param("jobId"))
	if err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"job":     jobView(job),
	})
}

// Stats 队列统计
func (h *JobHandler) Stats(c *gin.Context) {
	stats, err := h.queue.Stats()
	if err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"queue":   stats,
	})
}
