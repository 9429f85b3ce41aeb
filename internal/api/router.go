package api

import (
	"github.com/gin-gonic/gin"
	"github.com/hadiid1718/VI-downloader/internal/api/handlers"
	"github.com/hadiid1718/VI-downloader/internal/api/middleware"
	"github.com/hadiid1718/VI-downloader/internal/config"
	"go.uber.org/zap"
)

// SetupRouter 设置路由
func SetupRouter(
	cfg *config.Config,
	logger *zap.Logger,
	mediaHandler *handlers.MediaHandler,
	jobHandler *handlers.JobHandler,
	streamHandler *handlers.StreamHandler,
	fileHandler *handlers.FileHandler,
	healthHandler *handlers.HealthHandler,
) *gin.Engine {
	// 设置 Gin 模式
	gin.SetMode(cfg.Server.Mode)

	r := gin.New()

	// 全局中间件
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.RequestLogger(logger))
	r.Use(middleware.CORS(&cfg.Security))

	// 健康检查
	r.GET("/health", healthHandler.Check)

	api := r.Group("/api")
	{
		api.GET("/health", healthHandler.Check)

		// 媒体探测
		api.POST("/detect", mediaHandler.Detect)
		api.POST("/metadata", mediaHandler.Metadata)
		api.POST("/formats", mediaHandler.Formats)
		api.POST("/check", mediaHandler.Check)
		api.POST("/filesize", mediaHandler.Filesize)

		// 队列下载
		api.POST("/download", jobHandler.Submit)
		api.GET("/download/status/:jobId", jobHandler.Status)
		api.DELETE("/download/:jobId", jobHandler.Cancel)
		// 浏览器端不便发 DELETE 的备用入口
		api.GET("/download/cancel/:jobId", jobHandler.Cancel)
		api.GET("/queue/stats", jobHandler.Stats)

		// 实时下载
		api.POST("/stream/download", streamHandler.Download)

		// 暂存文件
		api.GET("/download/file/:filename", fileHandler.Get)
		api.GET("/downloads/list", fileHandler.List)
		api.DELETE("/downloads/:filename", fileHandler.Delete)
		api.POST("/downloads/cleanup", fileHandler.Cleanup)
	}

	return r
}
