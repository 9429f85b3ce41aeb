package download

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hadiid1718/VI-downloader/internal/config"
	"github.com/hadiid1718/VI-downloader/internal/errs"
	"github.com/hadiid1718/VI-downloader/internal/model"
	"go.uber.org/zap"
)

type fakeFetcher struct {
	probeCalls int
	probeErrs  []error
	md         *model.Metadata

	fetchCalls int
	fetchErrs  []error
}

func (f *fakeFetcher) Probe(ctx context.Context, rawURL string) (*model.Metadata, error) {
	f.probeCalls++
	if len(f.probeErrs) > 0 {
		err := f.probeErrs[0]
		f.probeErrs = f.probeErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	return f.md, nil
}

func (f *fakeFetcher) Fetch(ctx context.Context, rawURL, formatID, outputDir string, onLine func(string)) error {
	f.fetchCalls++
	if len(f.fetchErrs) > 0 {
		err := f.fetchErrs[0]
		f.fetchErrs = f.fetchErrs[1:]
		return err
	}
	return nil
}

func testConfig() *config.DownloadConfig {
	return &config.DownloadConfig{MaxFileSizeMB: 500}
}

func testService(cfg *config.DownloadConfig, f *fakeFetcher) *Service {
	svc := NewService(cfg, f, zap.NewNop())
	svc.probeBackoff = time.Millisecond
	svc.fetchBackoff = time.Millisecond
	return svc
}

func testMetadata() *model.Metadata {
	return &model.Metadata{
		Title:    "clip",
		Duration: 120,
		Formats: []model.Format{
			{FormatID: "22", Extension: "mp4", Resolution: "720p"},
			{FormatID: "18", Extension: "mp4", Resolution: "360p"},
		},
	}
}

func TestExtractMetadataRetriesTransient(t *testing.T) {
	f := &fakeFetcher{
		md:        testMetadata(),
		probeErrs: []error{errs.ExternalToolf("flaky"), errs.ExternalToolf("flaky again"), nil},
	}
	svc := testService(testConfig(), f)

	md, err := svc.ExtractMetadata(context.Background(), "https://www.tiktok.com/@u/video/1")
	if err != nil {
		t.Fatalf("ExtractMetadata: %v", err)
	}
	if md.Title != "clip" {
		t.Errorf("Title = %q", md.Title)
	}
	if f.probeCalls != 3 {
		t.Errorf("probe calls = %d, want 3", f.probeCalls)
	}
}

func TestExtractMetadataNoRetryOnNotFound(t *testing.T) {
	f := &fakeFetcher{probeErrs: []error{errs.ErrNotFound}}
	svc := testService(testConfig(), f)

	_, err := svc.ExtractMetadata(context.Background(), "https://twitter.com/u/status/1")
	if !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if f.probeCalls != 1 {
		t.Errorf("probe calls = %d, want 1 (no retry on permanent error)", f.probeCalls)
	}
}

func TestExtractMetadataRejectsUnsupportedURL(t *testing.T) {
	f := &fakeFetcher{}
	svc := testService(testConfig(), f)

	_, err := svc.ExtractMetadata(context.Background(), "https://example.com/video")
	if !errors.Is(err, errs.ErrUnsupportedPlatform) {
		t.Fatalf("expected ErrUnsupportedPlatform, got %v", err)
	}
	if f.probeCalls != 0 {
		t.Errorf("probe calls = %d, want 0", f.probeCalls)
	}
}

func TestEstimateSizeByDuration(t *testing.T) {
	svc := testService(testConfig(), &fakeFetcher{})

	// 120 秒 @720p 档 2500kbps = 37.5MB
	est := svc.EstimateSize(testMetadata(), "22")
	if est.MB != 37.5 {
		t.Errorf("MB = %v, want 37.5", est.MB)
	}
	if !est.CanDownload {
		t.Error("expected CanDownload = true")
	}
	if est.MaxAllowedMB != 500 {
		t.Errorf("MaxAllowedMB = %v", est.MaxAllowedMB)
	}
}

func TestEstimateSizePrefersExactFilesize(t *testing.T) {
	svc := testService(testConfig(), &fakeFetcher{})
	md := testMetadata()
	md.Formats[0].Filesize = 10 * 1024 * 1024

	est := svc.EstimateSize(md, "22")
	if est.MB != 10 {
		t.Errorf("MB = %v, want 10 (exact filesize)", est.MB)
	}
}

func TestEstimateSizeBestUsesFirstVideoFormat(t *testing.T) {
	svc := testService(testConfig(), &fakeFetcher{})
	md := testMetadata()
	md.Formats[0].VCodec = "avc1"
	md.Formats[0].Filesize = 10 * 1024 * 1024

	for _, id := range []string{"best", ""} {
		est := svc.EstimateSize(md, id)
		if est.MB != 10 {
			t.Errorf("EstimateSize(md, %q).MB = %v, want 10", id, est.MB)
		}
	}
}

func TestEstimateSizeBestSkipsAudioOnly(t *testing.T) {
	svc := testService(testConfig(), &fakeFetcher{})
	md := testMetadata()
	md.Formats[0].VCodec = "none"
	md.Formats[0].Filesize = 1 * 1024 * 1024
	md.Formats[1].VCodec = "avc1"
	md.Formats[1].Filesize = 8 * 1024 * 1024

	est := svc.EstimateSize(md, "best")
	if est.MB != 8 {
		t.Errorf("MB = %v, want 8 (first video format)", est.MB)
	}
}

func TestEstimateSizeOverLimit(t *testing.T) {
	cfg := &config.DownloadConfig{MaxFileSizeMB: 10}
	svc := testService(cfg, &fakeFetcher{})

	est := svc.EstimateSize(testMetadata(), "22")
	if est.CanDownload {
		t.Error("expected CanDownload = false for 37.5MB against 10MB limit")
	}
}

func TestEstimateSizeUnknownDuration(t *testing.T) {
	svc := testService(testConfig(), &fakeFetcher{})
	md := &model.Metadata{Title: "image post"}

	est := svc.EstimateSize(md, "")
	if !est.CanDownload {
		t.Error("expected unknown size to be allowed")
	}
	if est.Bytes != 0 {
		t.Errorf("Bytes = %d, want 0", est.Bytes)
	}
}

func TestCheckDownloadableSizeExceeded(t *testing.T) {
	cfg := &config.DownloadConfig{MaxFileSizeMB: 10}
	f := &fakeFetcher{md: testMetadata()}
	svc := testService(cfg, f)

	md, est, err := svc.CheckDownloadable(context.Background(), "https://www.tiktok.com/@u/video/1", "22")
	if !errors.Is(err, errs.ErrSizeExceeded) {
		t.Fatalf("expected ErrSizeExceeded, got %v", err)
	}
	if md == nil {
		t.Error("metadata should still be returned alongside the size error")
	}
	if est.CanDownload {
		t.Error("estimate should report CanDownload = false")
	}
}

func TestFetchRetriesOnce(t *testing.T) {
	f := &fakeFetcher{fetchErrs: []error{errs.ExternalToolf("network blip"), nil}}
	svc := testService(testConfig(), f)

	err := svc.Fetch(context.Background(), "https://www.tiktok.com/@u/video/1", "best", "/tmp/out", nil)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if f.fetchCalls != 2 {
		t.Errorf("fetch calls = %d, want 2", f.fetchCalls)
	}
}

func TestFetchNoRetryOnBlocked(t *testing.T) {
	f := &fakeFetcher{fetchErrs: []error{errs.ErrBlocked}}
	svc := testService(testConfig(), f)

	err := svc.Fetch(context.Background(), "https://www.instagram.com/reel/abc/", "", "/tmp/out", nil)
	if !errors.Is(err, errs.ErrBlocked) {
		t.Fatalf("expected ErrBlocked, got %v", err)
	}
	if f.fetchCalls != 1 {
		t.Errorf("fetch calls = %d, want 1", f.fetchCalls)
	}
}
