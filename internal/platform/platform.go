package platform

import (
	"fmt"
	"strings"
	"time"

	"github.com/hadiid1718/VI-downloader/internal/errs"
)

// Platform 受支持的来源平台
type Platform string

const (
	Instagram Platform = "instagram"
	TikTok    Platform = "tiktok"
	Twitter   Platform = "twitter"
	Facebook  Platform = "facebook"
	Pinterest Platform = "pinterest"
)

// MediaType 媒体类型
type MediaType string

const (
	MediaVideo MediaType = "video"
	MediaImage MediaType = "image"
	MediaMixed MediaType = "mixed"
)

// BrowserUA 标准浏览器 UA
const BrowserUA = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// Detection 平台识别结果
type Detection struct {
	Platform  Platform
	MediaType MediaType
}

// Detect 从 URL 识别平台与媒体类型
func Detect(rawURL string) (Detection, error) {
	trimmed := strings.TrimSpace(rawURL)
	if trimmed == "" {
		return Detection{}, errs.Validationf("url is required")
	}

	lower := strings.ToLower(trimmed)

	switch {
	case strings.Contains(lower, "instagram.com"), strings.Contains(lower, "instagr.am"):
		return Detection{Platform: Instagram, MediaType: instagramMediaType(lower)}, nil
	case strings.Contains(lower, "tiktok.com"):
		return Detection{Platform: TikTok, MediaType: MediaVideo}, nil
	case strings.Contains(lower, "twitter.com"), strings.Contains(lower, "x.com"):
		return Detection{Platform: Twitter, MediaType: MediaMixed}, nil
	case strings.Contains(lower, "facebook.com"), strings.Contains(lower, "fb.watch"):
		return Detection{Platform: Facebook, MediaType: facebookMediaType(lower)}, nil
	case strings.Contains(lower, "pinterest.com"), strings.Contains(lower, "pin.it"):
		return Detection{Platform: Pinterest, MediaType: MediaImage}, nil
	}

	return Detection{}, fmt.Errorf("%w: %s", errs.ErrUnsupportedPlatform, trimmed)
}

func instagramMediaType(lower string) MediaType {
	if strings.Contains(lower, "/tv/") {
		return MediaVideo
	}
	// /reel/ 与 /p/ 可能是视频或图片
	return MediaMixed
}

func facebookMediaType(lower string) MediaType {
	if strings.Contains(lower, "watch") || strings.Contains(lower, "video") {
		return MediaVideo
	}
	if strings.Contains(lower, "photo") {
		return MediaImage
	}
	return MediaMixed
}

// Options 传给外部工具的平台参数
type Options struct {
	SocketTimeout            time.Duration
	Retries                  int
	FragmentRetries          int
	SkipUnavailableFragments bool
	UserAgent                string
	Referer                  string
	AcceptLanguage           string
}

// OptionsFor 平台参数表。未识别的平台取安全默认值（30s / 3 次重试）。
func OptionsFor(p Platform) Options {
	base := Options{
		SocketTimeout: 30 * time.Second,
		Retries:       3,
		UserAgent:     BrowserUA,
	}

	switch p {
	case Instagram:
		// Instagram 响应慢且反爬激进
		base.SocketTimeout = 45 * time.Second
		base.Retries = 5
		base.FragmentRetries = 10
		base.SkipUnavailableFragments = true
		base.Referer = "https://www.instagram.com/"
		base.AcceptLanguage = "en-US,en;q=0.9"
	case TikTok:
		base.SocketTimeout = 40 * time.Second
		base.Retries = 5
		base.FragmentRetries = 10
		base.SkipUnavailableFragments = true
	case Twitter:
		base.SocketTimeout = 35 * time.Second
		base.Retries = 4
	case Facebook:
		base.SocketTimeout = 35 * time.Second
		base.Retries = 4
	}

	return base
}
