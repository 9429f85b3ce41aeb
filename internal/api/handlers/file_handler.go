package handlers

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hadiid1718/VI-downloader/internal/errs"
	"github.com/hadiid1718/VI-downloader/internal/service/staging"
	"go.uber.org/zap"
)

// FileHandler 暂存文件接口
type FileHandler struct {
	store  *staging.Store
	logger *zap.Logger
}

// NewFileHandler 创建处理器
func NewFileHandler(store *staging.Store, logger *zap.Logger) *FileHandler {
	return &FileHandler{store: store, logger: logger}
}

// Get 以附件形式下载成品文件
func (h *FileHandler) Get(c *gin.Context) {
	filename := c.Param("filename")

	path, info, err := h.store.Resolve(filename)
	if err != nil {
		fail(c, err)
		return
	}

	c.Header("Content-Length", strconv.FormatInt(info.FileSize, 10))
	c.FileAttachment(path, filename)
}

// List 列出暂存的成品文件
func (h *FileHandler) List(c *gin.Context) {
	files, err := h.store.List()
	if err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"files":   files,
		"count":   len(files),
	})
}

// Delete 删除单个成品文件
func (h *FileHandler) Delete(c *gin.Context) {
	filename := c.Param("filename")

	if err := h.store.Delete(filename); err != nil {
		fail(c, err)
		return
	}

	h.logger.Info("staged file deleted", zap.String("file", filename))
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": fmt.Sprintf("deleted %s", filename),
	})
}

// Cleanup 删除超过指定小时数的成品文件；hoursOld=0 表示清空
func (h *FileHandler) Cleanup(c *gin.Context) {
	hoursStr := c.DefaultQuery("hoursOld", "24")
	hours, err := strconv.ParseFloat(hoursStr, 64)
	if err != nil || hours < 0 {
		fail(c, errs.Validationf("invalid hoursOld %q", hoursStr))
		return
	}

	removed, err := h.store.Cleanup(time.Duration(hours * float64(time.Hour)))
	if err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"removed": removed,
	})
}
