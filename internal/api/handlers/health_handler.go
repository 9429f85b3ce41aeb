package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hadiid1718/VI-downloader/internal/repository"
)

// HealthHandler 健康检查接口
type HealthHandler struct {
	repo    *repository.JobRepository
	started time.Time
}

// NewHealthHandler 创建处理器
func NewHealthHandler(repo *repository.JobRepository) *HealthHandler {
	return &HealthHandler{repo: repo, started: time.Now()}
}

// Check 健康检查
func (h *HealthHandler) Check(c *gin.Context) {
	stats, err := h.repo.Stats()
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"success": false,
			"status":  "unhealthy",
			"error":   "database connection failed",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"status":  "healthy",
		"uptime":  time.Since(h.started).Seconds(),
		"stats":   stats,
	})
}
