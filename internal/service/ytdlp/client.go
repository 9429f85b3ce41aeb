package ytdlp

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/hadiid1718/VI-downloader/internal/config"
	"github.com/hadiid1718/VI-downloader/internal/errs"
	"github.com/hadiid1718/VI-downloader/internal/model"
	"github.com/hadiid1718/VI-downloader/internal/platform"
	"go.uber.org/zap"
)

const (
	// 探测输出上限：长视频的 --dump-json 可达数 MB
	maxProbeOutput = 20 * 1024 * 1024
	// 错误流截断上限
	maxErrCapture = 8 * 1024
)

// Fetcher 外部媒体工具的窄接口，测试中可替换为脚本化实现
type Fetcher interface {
	Probe(ctx context.Context, rawURL string) (*model.Metadata, error)
	Fetch(ctx context.Context, rawURL, formatID, outputDir string, onLine func(line string)) error
}

// Client yt-dlp 适配器
type Client struct {
	cfg    *config.DownloadConfig
	http   *resty.Client
	logger *zap.Logger
	binary string
}

// NewClient 创建适配器
func NewClient(cfg *config.DownloadConfig, logger *zap.Logger) *Client {
	client := resty.New().
		SetTimeout(10 * time.Second).
		SetHeader("User-Agent", platform.BrowserUA).
		SetHeader("Accept-Language", "en-US,en;q=0.9")

	return &Client{
		cfg:    cfg,
		http:   client,
		logger: logger,
		binary: "yt-dlp",
	}
}

// rawMetadata yt-dlp --dump-json 输出
type rawMetadata struct {
	Title      string         `json:"title"`
	Duration   float64        `json:"duration"`
	Uploader   string         `json:"uploader"`
	Channel    string         `json:"channel"`
	UploadDate string         `json:"upload_date"`
	Thumbnail  string         `json:"thumbnail"`
	Thumbnails []rawThumbnail `json:"thumbnails"`
	Formats    []rawFormat    `json:"formats"`
	ViewCount  int64          `json:"view_count"`
	LikeCount  int64          `json:"like_count"`
}

type rawThumbnail struct {
	URL    string `json:"url"`
	Height int    `json:"height"`
	Width  int    `json:"width"`
}

type rawFormat struct {
	FormatID       string  `json:"format_id"`
	Ext            string  `json:"ext"`
	Format         string  `json:"format"`
	Height         int     `json:"height"`
	Width          int     `json:"width"`
	Filesize       int64   `json:"filesize"`
	FilesizeApprox int64   `json:"filesize_approx"`
	FPS            float64 `json:"fps"`
	VCodec         string  `json:"vcodec"`
	ACodec         string  `json:"acodec"`
}

// Probe 提取媒体元数据
func (c *Client) Probe(ctx context.Context, rawURL string) (*model.Metadata, error) {
	det, err := platform.Detect(rawURL)
	if err != nil {
		return nil, err
	}

	// Instagram 反爬激进，单独走多策略探测
	if det.Platform == platform.Instagram {
		return c.probeInstagram(ctx, rawURL)
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.ProbeTimeoutFor(string(det.Platform)))
	defer cancel()

	opts := platform.OptionsFor(det.Platform)
	args := probeArgs(rawURL, opts)

	raw, err := c.runProbe(ctx, args)
	if err != nil {
		return nil, err
	}

	return normalizeMetadata(raw, det.Platform), nil
}

func probeArgs(rawURL string, opts platform.Options) []string {
	args := []string{
		"--dump-json",
		"--no-warnings",
		"--socket-timeout", fmt.Sprintf("%d", int(opts.SocketTimeout.Seconds())),
		"--user-agent", opts.UserAgent,
		"--no-check-certificate",
	}
	if opts.Retries > 1 {
		args = append(args, "--retries", fmt.Sprintf("%d", opts.Retries))
	}
	if opts.FragmentRetries > 1 {
		args = append(args, "--fragment-retries", fmt.Sprintf("%d", opts.FragmentRetries))
	}
	if opts.SkipUnavailableFragments {
		args = append(args, "--skip-unavailable-fragments")
	}
	if opts.Referer != "" {
		args = append(args, "--referer", opts.Referer)
	}
	if opts.AcceptLanguage != "" {
		args = append(args, "--add-header", "Accept-Language:"+opts.AcceptLanguage)
	}
	args = append(args, rawURL)
	return args
}

// runProbe 执行探测并解析 JSON 输出
func (c *Client) runProbe(ctx context.Context, args []string) (*rawMetadata, error) {
	cmd := exec.CommandContext(ctx, c.binary, args...)

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return nil, errs.ExternalToolf("setup stdout pipe: %v", err)
	}
	var stderr limitedBuffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return nil, errs.ExternalToolf("start %s: %v", c.binary, err)
	}

	stdout, readErr := io.ReadAll(io.LimitReader(stdoutPipe, maxProbeOutput))
	waitErr := cmd.Wait()

	if ctx.Err() == context.DeadlineExceeded {
		return nil, fmt.Errorf("%w: metadata probe exceeded time limit", errs.ErrTimeout)
	}
	if waitErr != nil {
		return nil, errs.ExternalToolf("%s failed: %v: %s", c.binary, waitErr, stderr.String())
	}
	if readErr != nil {
		return nil, errs.ExternalToolf("read %s output: %v", c.binary, readErr)
	}
	if len(stdout) == 0 {
		return nil, errs.ExternalToolf("%s returned empty output: %s", c.binary, stderr.String())
	}

	var raw rawMetadata
	if err := json.Unmarshal(stdout, &raw); err != nil {
		return nil, errs.ExternalToolf("parse %s output: %v", c.binary, err)
	}
	return &raw, nil
}

// normalizeMetadata 归一化为内部元数据
func normalizeMetadata(raw *rawMetadata, p platform.Platform) *model.Metadata {
	md := &model.Metadata{
		Title:      raw.Title,
		Duration:   raw.Duration,
		Uploader:   raw.Uploader,
		UploadDate: raw.UploadDate,
		Thumbnail:  raw.Thumbnail,
		Platform:   string(p),
		Views:      raw.ViewCount,
		Likes:      raw.LikeCount,
	}
	if md.Title == "" {
		md.Title = "Unknown"
	}
	if md.Uploader == "" {
		md.Uploader = raw.Channel
	}
	if md.Uploader == "" {
		md.Uploader = "Unknown"
	}

	// 缩略图取分辨率最高的一项
	best := 0
	for _, t := range raw.Thumbnails {
		if t.URL != "" && t.Height >= best {
			best = t.Height
			md.Thumbnail = t.URL
		}
	}

	for _, f := range raw.Formats {
		if f.Ext == "" && f.FormatID == "" {
			continue
		}
		size := f.Filesize
		if size == 0 {
			size = f.FilesizeApprox
		}
		ext := f.Ext
		if ext == "" {
			ext = "mp4"
		}
		id := f.FormatID
		if id == "" {
			id = ext
		}
		resolution := "unknown"
		if f.Height > 0 && f.Width > 0 {
			resolution = fmt.Sprintf("%dp", f.Height)
		} else if f.Format != "" {
			resolution = f.Format
		}
		md.Formats = append(md.Formats, model.Format{
			FormatID:   id,
			Extension:  ext,
			Resolution: resolution,
			Filesize:   size,
			FPS:        f.FPS,
			VCodec:     f.VCodec,
			ACodec:     f.ACodec,
		})
	}

	// 降序排列，首元素即 "best"
	sort.SliceStable(md.Formats, func(i, j int) bool {
		return md.Formats[i].Filesize > md.Formats[j].Filesize
	})

	return md
}

// Fetch 下载媒体，按行回调进度输出
func (c *Client) Fetch(ctx context.Context, rawURL, formatID, outputDir string, onLine func(line string)) error {
	det, err := platform.Detect(rawURL)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.PlatformTimeout(string(det.Platform)))
	defer cancel()

	opts := platform.OptionsFor(det.Platform)
	args := fetchArgs(rawURL, det.Platform, formatID, outputDir, opts)

	c.logger.Debug("spawning external fetch",
		zap.String("platform", string(det.Platform)),
		zap.Strings("args", args))

	return c.runFetch(ctx, args, onLine)
}

func fetchArgs(rawURL string, p platform.Platform, formatID, outputDir string, opts platform.Options) []string {
	format := formatID
	if format == "" {
		format = "best"
	}

	args := []string{"-f", format}

	// Instagram 的视频与音频常为分离流，朴素的 best 可能只拿到音频；
	// 强制视频+音频合并到单一容器。
	if p == platform.Instagram {
		args = []string{"-f", "bestvideo+bestaudio/best", "--merge-output-format", "mp4"}
	}

	args = append(args,
		"--no-warnings",
		"--socket-timeout", fmt.Sprintf("%d", int(opts.SocketTimeout.Seconds())),
		"--user-agent", opts.UserAgent,
		"--no-check-certificate",
	)
	if opts.Retries > 1 {
		args = append(args, "--retries", fmt.Sprintf("%d", opts.Retries))
	}
	if opts.FragmentRetries > 1 {
		args = append(args, "--fragment-retries", fmt.Sprintf("%d", opts.FragmentRetries))
	}
	if opts.SkipUnavailableFragments {
		args = append(args, "--skip-unavailable-fragments")
	}
	if opts.Referer != "" {
		args = append(args, "--referer", opts.Referer)
	}
	if opts.AcceptLanguage != "" {
		args = append(args, "--add-header", "Accept-Language:"+opts.AcceptLanguage)
	}

	args = append(args,
		"-o", outputDir+"/%(title)s.%(ext)s",
		"--progress",
		"--newline",
		rawURL,
	)
	return args
}

// runFetch 执行下载进程，逐行转发 stdout
func (c *Client) runFetch(ctx context.Context, args []string, onLine func(line string)) error {
	cmd := exec.CommandContext(ctx, c.binary, args...)

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return errs.ExternalToolf("setup stdout pipe: %v", err)
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return errs.ExternalToolf("setup stderr pipe: %v", err)
	}

	if err := cmd.Start(); err != nil {
		return errs.ExternalToolf("start %s: %v", c.binary, err)
	}

	var stderr limitedBuffer
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		scanLines(stdoutPipe, func(line string) {
			if onLine != nil {
				onLine(line)
			}
		})
	}()
	go func() {
		defer wg.Done()
		scanLines(stderrPipe, func(line string) {
			stderr.WriteLine(line)
		})
	}()

	wg.Wait()
	waitErr := cmd.Wait()

	if ctx.Err() == context.DeadlineExceeded {
		return fmt.Errorf("%w: download exceeded time limit", errs.ErrTimeout)
	}
	if errors.Is(ctx.Err(), context.Canceled) {
		return ctx.Err()
	}
	if waitErr != nil {
		return errs.ExternalToolf("%s failed: %v: %s", c.binary, waitErr, stderr.String())
	}
	return nil
}

// scanLines 按 \n 或 \r 切分（yt-dlp 进度行以 \r 刷新）
func scanLines(r io.Reader, fn func(line string)) {
	scanner := bufio.NewScanner(r)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024)
	scanner.Split(splitByNewlineOrCR)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" {
			fn(line)
		}
	}
}

func splitByNewlineOrCR(data []byte, atEOF bool) (advance int, token []byte, err error) {
	for i := 0; i < len(data); i++ {
		if data[i] == '\n' || data[i] == '\r' {
			if i == 0 {
				return 1, nil, nil
			}
			return i + 1, data[:i], nil
		}
	}
	if atEOF && len(data) > 0 {
		return len(data), data, nil
	}
	return 0, nil, nil
}

// limitedBuffer 截断式缓冲，避免错误流无界增长
type limitedBuffer struct {
	mu sync.Mutex
	b  strings.Builder
}

func (l *limitedBuffer) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	remain := maxErrCapture - l.b.Len()
	if remain <= 0 {
		return len(p), nil
	}
	if len(p) > remain {
		l.b.Write(p[:remain])
		return len(p), nil
	}
	l.b.Write(p)
	return len(p), nil
}

func (l *limitedBuffer) WriteLine(line string) {
	_, _ = l.Write([]byte(line + "\n"))
}

func (l *limitedBuffer) String() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return strings.TrimSpace(l.b.String())
}
