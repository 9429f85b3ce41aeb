package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/hadiid1718/VI-downloader/internal/service/stream"
	"go.uber.org/zap"
)

// StreamHandler 实时下载接口：进度经 SSE 逐条推送
type StreamHandler struct {
	engine *stream.Engine
	logger *zap.Logger
}

// NewStreamHandler 创建处理器
func NewStreamHandler(engine *stream.Engine, logger *zap.Logger) *StreamHandler {
	return &StreamHandler{engine: engine, logger: logger}
}

// Download 执行实时下载。请求上下文取消（客户端断开）会终止下载进程。
func (h *StreamHandler) Download(c *gin.Context) {
	var req MediaRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		failBind(c, err)
		return
	}

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		fail(c, errors.New("streaming unsupported by connection"))
		return
	}

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")
	c.Writer.WriteHeader(http.StatusOK)
	flusher.Flush()

	emit := func(ev stream.Event) {
		data, err := json.Marshal(ev)
		if err != nil {
			return
		}
		// SSE 帧格式：data: {...}\n\n
		if _, err := c.Writer.Write([]byte("data: " + string(data) + "\n\n")); err != nil {
			return
		}
		flusher.Flush()
	}

	h.engine.Run(c.Request.Context(), req.URL, req.Format, emit)
}
