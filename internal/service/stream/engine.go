package stream

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/hadiid1718/VI-downloader/internal/errs"
	"github.com/hadiid1718/VI-downloader/internal/service/download"
	"github.com/hadiid1718/VI-downloader/internal/service/staging"
	"github.com/hadiid1718/VI-downloader/internal/service/ytdlp"
	"go.uber.org/zap"
)

// Event 推送给客户端的单条进度事件
type Event struct {
	Status      string  `json:"status"`
	Progress    float64 `json:"progress,omitempty"`
	Message     string  `json:"message,omitempty"`
	Title       string  `json:"title,omitempty"`
	File        string  `json:"file,omitempty"`
	DownloadURL string  `json:"downloadUrl,omitempty"`
	FileSizeMB  float64 `json:"fileSizeMB,omitempty"`
	Error       string  `json:"error,omitempty"`
}

const (
	StatusStarting    = "starting"
	StatusDownloading = "downloading"
	StatusProcessing  = "processing"
	StatusCompleted   = "completed"
	StatusError       = "error"
)

// Engine 实时下载：边下载边向单个客户端推送进度。
// ctx 取消（客户端断开）会传导到外部工具进程并终止它。
type Engine struct {
	svc    *download.Service
	store  *staging.Store
	logger *zap.Logger
}

// NewEngine 创建实时下载引擎
func NewEngine(svc *download.Service, store *staging.Store, logger *zap.Logger) *Engine {
	return &Engine{svc: svc, store: store, logger: logger}
}

// Run 执行一次实时下载，事件经 emit 回调推出。
// emit 在单个 goroutine 中顺序调用，进度值严格递增。
func (e *Engine) Run(ctx context.Context, rawURL, formatID string, emit func(Event)) {
	emit(Event{Status: StatusStarting, Message: "resolving media"})

	md, _, err := e.svc.CheckDownloadable(ctx, rawURL, formatID)
	if err != nil {
		emit(errorEvent(err))
		return
	}

	sessionDir, err := e.store.NewSession()
	if err != nil {
		e.logger.Error("failed to create session dir", zap.Error(err))
		emit(errorEvent(fmt.Errorf("%w: prepare staging", errs.ErrExternalTool)))
		return
	}

	emit(Event{Status: StatusDownloading, Progress: 0, Title: md.Title})

	// 进度只增不减：合并阶段 yt-dlp 会重置百分比
	lastProgress := 0.0
	currentFile := ""
	onLine := func(line string) {
		if dest, ok := ytdlp.ParseDestination(line); ok {
			currentFile = filepath.Base(dest)
			return
		}
		pct, ok := ytdlp.ParseProgressLine(line)
		if !ok || pct <= lastProgress {
			return
		}
		lastProgress = pct
		emit(Event{Status: StatusDownloading, Progress: pct, Title: md.Title, File: currentFile})
	}

	if err := e.svc.Fetch(ctx, rawURL, formatID, sessionDir, onLine); err != nil {
		e.store.DiscardSession(sessionDir)
		if ctx.Err() != nil {
			// 客户端已断开，无人接收事件
			e.logger.Info("stream download aborted by client",
				zap.String("url", rawURL), zap.Error(ctx.Err()))
			return
		}
		emit(errorEvent(err))
		return
	}

	emit(Event{Status: StatusProcessing, Progress: lastProgress, Message: "finalizing file"})

	staged, err := e.store.CollectSession(sessionDir)
	if err != nil {
		emit(errorEvent(err))
		return
	}

	emit(Event{
		Status:      StatusCompleted,
		Progress:    100,
		Title:       md.Title,
		File:        staged.Filename,
		DownloadURL: "/api/download/file/" + staged.Filename,
		FileSizeMB:  staged.FileSizeMB,
	})
}

func errorEvent(err error) Event {
	var msg string
	switch {
	case errors.Is(err, errs.ErrSizeExceeded):
		msg = err.Error()
	case errors.Is(err, errs.ErrBlocked):
		msg = "content is blocked, private or removed"
	case errors.Is(err, errs.ErrUnsupportedPlatform):
		msg = "unsupported platform"
	case errors.Is(err, errs.ErrTimeout):
		msg = "download timed out"
	case errors.Is(err, errs.ErrNotFound):
		msg = "content not found"
	default:
		msg = errs.Truncate(err.Error(), 300)
	}
	return Event{Status: StatusError, Error: msg}
}
