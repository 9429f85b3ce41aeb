package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/hadiid1718/VI-downloader/internal/errs"
	"github.com/hadiid1718/VI-downloader/internal/platform"
	"github.com/hadiid1718/VI-downloader/internal/service/download"
	"go.uber.org/zap"
)

// MediaHandler 媒体探测类接口
type MediaHandler struct {
	svc    *download.Service
	logger *zap.Logger
}

// NewMediaHandler 创建处理器
func NewMediaHandler(svc *download.Service, logger *zap.Logger) *MediaHandler {
	return &MediaHandler{svc: svc, logger: logger}
}

// Detect 识别链接所属平台
func (h *MediaHandler) Detect(c *gin.Context) {
	var req MediaRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		failBind(c, err)
		return
	}

	det, err := platform.Detect(req.URL)
	if err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"platform":  det.Platform,
		"mediaType": det.MediaType,
	})
}

// Metadata 提取完整元数据
func (h *MediaHandler) Metadata(c *gin.Context) {
	var req MediaRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		failBind(c, err)
		return
	}

	md, err := h.svc.ExtractMetadata(c.Request.Context(), req.URL)
	if err != nil {
		h.logger.Warn("metadata extraction failed", zap.String("url", req.URL), zap.Error(err))
		fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"metadata": md,
	})
}

// Formats 列出可下载格式
func (h *MediaHandler) Formats(c *gin.Context) {
	var req MediaRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		failBind(c, err)
		return
	}

	md, err := h.svc.ExtractMetadata(c.Request.Context(), req.URL)
	if err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"title":   md.Title,
		"formats": md.Formats,
	})
}

// Check 判断内容是否可下载
func (h *MediaHandler) Check(c *gin.Context) {
	var req MediaRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		failBind(c, err)
		return
	}

	md, est, err := h.svc.CheckDownloadable(c.Request.Context(), req.URL, req.Format)
	if err != nil {
		// 可判定的拒绝原因仍返回 200，调用方靠 downloadable 字段分支
		status := errs.HTTPStatus(err)
		if status == http.StatusUnprocessableEntity {
			c.JSON(http.StatusOK, gin.H{
				"success":      true,
				"downloadable": false,
				"reason":       err.Error(),
			})
			return
		}
		fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":      true,
		"downloadable": true,
		"title":        md.Title,
		"estimate":     est,
	})
}

// Filesize 预估下载体积
func (h *MediaHandler) Filesize(c *gin.Context) {
	var req MediaRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		failBind(c, err)
		return
	}

	md, err := h.svc.ExtractMetadata(c.Request.Context(), req.URL)
	if err != nil {
		fail(c, err)
		return
	}

	est := h.svc.EstimateSize(md, req.Format)
	c.JSON(http.StatusOK, gin.H{
		"success":            true,
		"title":              md.Title,
		"estimatedSizeBytes": est.Bytes,
		"estimatedSizeMB":    est.MB,
		"canDownload":        est.CanDownload,
		"maxAllowedMB":       est.MaxAllowedMB,
	})
}
