package ytdlp

import (
	"context"
	"fmt"
	"time"

	"github.com/hadiid1718/VI-downloader/internal/errs"
	"github.com/hadiid1718/VI-downloader/internal/model"
	"github.com/hadiid1718/VI-downloader/internal/platform"
	"go.uber.org/zap"
)

// 单次 Instagram 提取策略的时间上限
const instagramStrategyTimeout = 90 * time.Second

// probeInstagram 多策略提取：先做可达性检查，再按参数逐级加码重试。
// Instagram 频繁变更反爬措施，单一参数组合的成功率不稳定。
func (c *Client) probeInstagram(ctx context.Context, rawURL string) (*model.Metadata, error) {
	if err := c.checkInstagramReachable(ctx, rawURL); err != nil {
		return nil, err
	}

	opts := platform.OptionsFor(platform.Instagram)
	strategies := []struct {
		name string
		args []string
	}{
		{"baseline", c.instagramArgs(rawURL, opts, nil)},
		{"fragment-tolerant", c.instagramArgs(rawURL, opts, []string{
			"--fragment-retries", "10",
			"--skip-unavailable-fragments",
		})},
		{"aggressive-retry", c.instagramArgs(rawURL, opts, []string{
			"--retries", "5",
			"--fragment-retries", "10",
			"--skip-unavailable-fragments",
			"--extractor-retries", "3",
		})},
	}

	var lastErr error
	for i, s := range strategies {
		if i > 0 {
			// 逐级加长间隔，降低触发限流的概率
			delay := time.Duration(i) * 2 * time.Second
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		sctx, cancel := context.WithTimeout(ctx, instagramStrategyTimeout)
		raw, err := c.runProbe(sctx, s.args)
		cancel()
		if err == nil {
			return normalizeMetadata(raw, platform.Instagram), nil
		}
		lastErr = err
		c.logger.Warn("instagram extraction strategy failed",
			zap.String("strategy", s.name),
			zap.Error(err))
	}

	return nil, fmt.Errorf("%w: all instagram extraction strategies failed, content may be private or removed: %v",
		errs.ErrBlocked, lastErr)
}

// instagramArgs 基础参数 + 策略附加参数
func (c *Client) instagramArgs(rawURL string, opts platform.Options, extra []string) []string {
	args := []string{
		"--dump-json",
		"--no-warnings",
		"--socket-timeout", fmt.Sprintf("%d", int(opts.SocketTimeout.Seconds())),
		"--user-agent", opts.UserAgent,
		"--referer", opts.Referer,
		"--no-check-certificate",
	}
	if opts.AcceptLanguage != "" {
		args = append(args, "--add-header", "Accept-Language:"+opts.AcceptLanguage)
	}
	args = append(args, extra...)
	args = append(args, rawURL)
	return args
}

// checkInstagramReachable 先以浏览器指纹请求页面，提前识别被屏蔽的内容
func (c *Client) checkInstagramReachable(ctx context.Context, rawURL string) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8").
		Get(rawURL)
	if err != nil {
		return fmt.Errorf("%w: instagram content unreachable: %v", errs.ErrBlocked, err)
	}
	if resp.StatusCode() == 404 {
		return fmt.Errorf("%w: instagram content not found", errs.ErrNotFound)
	}
	if resp.StatusCode() == 429 || resp.StatusCode() == 403 {
		return fmt.Errorf("%w: instagram rejected request with status %d", errs.ErrBlocked, resp.StatusCode())
	}
	return nil
}
