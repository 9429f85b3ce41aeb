package download

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hadiid1718/VI-downloader/internal/config"
	"github.com/hadiid1718/VI-downloader/internal/errs"
	"github.com/hadiid1718/VI-downloader/internal/model"
	"github.com/hadiid1718/VI-downloader/internal/platform"
	"github.com/hadiid1718/VI-downloader/internal/service/ytdlp"
	"github.com/hadiid1718/VI-downloader/pkg/retry"
	"go.uber.org/zap"
)

// 按分辨率档位估算码率（kbps），无时长或无档位时回退默认值
var bitrateTiers = []struct {
	height int
	kbps   float64
}{
	{2160, 16000},
	{1440, 9000},
	{1080, 4500},
	{720, 2500},
	{480, 1200},
	{360, 800},
}

const defaultBitrateKbps = 2500

// Service 下载编排：元数据提取、体积预估、下载执行
type Service struct {
	cfg     *config.DownloadConfig
	fetcher ytdlp.Fetcher
	logger  *zap.Logger

	probeBackoff time.Duration
	fetchBackoff time.Duration
}

// NewService 创建编排服务
func NewService(cfg *config.DownloadConfig, fetcher ytdlp.Fetcher, logger *zap.Logger) *Service {
	return &Service{
		cfg:          cfg,
		fetcher:      fetcher,
		logger:       logger,
		probeBackoff: 3 * time.Second,
		fetchBackoff: 2 * time.Second,
	}
}

// ExtractMetadata 提取元数据，瞬态失败时重试。
// Instagram 的多策略探测自带重试，外层不再叠加。
func (s *Service) ExtractMetadata(ctx context.Context, rawURL string) (*model.Metadata, error) {
	det, err := platform.Detect(rawURL)
	if err != nil {
		return nil, err
	}

	if det.Platform == platform.Instagram {
		return s.fetcher.Probe(ctx, rawURL)
	}

	var md *model.Metadata
	err = retry.Do(ctx, 3, s.probeBackoff, func() error {
		var perr error
		md, perr = s.fetcher.Probe(ctx, rawURL)
		// 输入类错误重试不会改变结果
		if perr != nil && (errors.Is(perr, errs.ErrValidation) ||
			errors.Is(perr, errs.ErrUnsupportedPlatform) ||
			errors.Is(perr, errs.ErrNotFound)) {
			return retry.Unrecoverable(perr)
		}
		return perr
	})
	if err != nil {
		return nil, err
	}
	return md, nil
}

// EstimateSize 以时长 × 码率估算体积；无法估算时标记 Bytes=0 并放行
func (s *Service) EstimateSize(md *model.Metadata, formatID string) model.SizeEstimate {
	est := model.SizeEstimate{
		CanDownload:  true,
		MaxAllowedMB: s.cfg.MaxFileSizeMB,
	}

	// 已知精确大小的格式优先；best/空选择取首个带视频编码的格式
	if f, ok := pickFormat(md, formatID); ok && f.Filesize > 0 {
		est.Bytes = f.Filesize
		est.MB = float64(f.Filesize) / (1024 * 1024)
		est.CanDownload = est.MB <= s.cfg.MaxFileSizeMB
		return est
	}

	if md.Duration <= 0 {
		return est
	}

	kbps := defaultBitrateKbps
	height := resolveHeight(md, formatID)
	if height > 0 {
		for _, tier := range bitrateTiers {
			if height >= tier.height {
				kbps = int(tier.kbps)
				break
			}
		}
	}

	est.MB = md.Duration * float64(kbps) / 8000
	est.Bytes = int64(est.MB * 1024 * 1024)
	est.CanDownload = est.MB <= s.cfg.MaxFileSizeMB
	return est
}

// pickFormat 按 formatID 匹配具体格式；best 或未指定时取首个视频格式，否则取首个
func pickFormat(md *model.Metadata, formatID string) (model.Format, bool) {
	if len(md.Formats) == 0 {
		return model.Format{}, false
	}
	if formatID != "" && formatID != "best" {
		for _, f := range md.Formats {
			if f.FormatID == formatID {
				return f, true
			}
		}
		return model.Format{}, false
	}
	for _, f := range md.Formats {
		if f.VCodec != "" && f.VCodec != "none" {
			return f, true
		}
	}
	return md.Formats[0], true
}

// resolveHeight 解析目标格式的像素高度，未指定时取最佳格式
func resolveHeight(md *model.Metadata, formatID string) int {
	pick := func(f model.Format) int {
		var h int
		if _, err := fmt.Sscanf(f.Resolution, "%dp", &h); err == nil {
			return h
		}
		return 0
	}
	for _, f := range md.Formats {
		if formatID != "" && f.FormatID == formatID {
			return pick(f)
		}
	}
	if len(md.Formats) > 0 {
		return pick(md.Formats[0])
	}
	return 0
}

// CheckDownloadable 探测元数据并校验体积上限
func (s *Service) CheckDownloadable(ctx context.Context, rawURL, formatID string) (*model.Metadata, model.SizeEstimate, error) {
	md, err := s.ExtractMetadata(ctx, rawURL)
	if err != nil {
		return nil, model.SizeEstimate{}, err
	}
	est := s.EstimateSize(md, formatID)
	if !est.CanDownload {
		return md, est, fmt.Errorf("%w: estimated %.1fMB exceeds limit of %.0fMB",
			errs.ErrSizeExceeded, est.MB, est.MaxAllowedMB)
	}
	return md, est, nil
}

// Fetch 执行下载，瞬态失败时重试
func (s *Service) Fetch(ctx context.Context, rawURL, formatID, outputDir string, onLine func(line string)) error {
	return retry.Do(ctx, 2, s.fetchBackoff, func() error {
		err := s.fetcher.Fetch(ctx, rawURL, formatID, outputDir, onLine)
		if err != nil && (errors.Is(err, errs.ErrValidation) ||
			errors.Is(err, errs.ErrUnsupportedPlatform) ||
			errors.Is(err, errs.ErrBlocked)) {
			return retry.Unrecoverable(err)
		}
		return err
	})
}
