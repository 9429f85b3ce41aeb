package platform

import (
	"errors"
	"testing"
	"time"

	"github.com/hadiid1718/VI-downloader/internal/errs"
)

func TestDetect(t *testing.T) {
	cases := []struct {
		url       string
		platform  Platform
		mediaType MediaType
	}{
		{"https://www.instagram.com/reel/Cabc123/", Instagram, MediaMixed},
		{"https://www.instagram.com/tv/Cabc123/", Instagram, MediaVideo},
		{"https://instagr.am/p/Cabc123/", Instagram, MediaMixed},
		{"https://www.tiktok.com/@u/video/123", TikTok, MediaVideo},
		{"https://vm.tiktok.com/ZMabc/", TikTok, MediaVideo},
		{"https://twitter.com/u/status/1", Twitter, MediaMixed},
		{"https://x.com/u/status/1", Twitter, MediaMixed},
		{"https://www.facebook.com/watch?v=123", Facebook, MediaVideo},
		{"https://www.facebook.com/u/photo/123", Facebook, MediaImage},
		{"https://fb.watch/abc/", Facebook, MediaVideo},
		{"https://www.pinterest.com/pin/123/", Pinterest, MediaImage},
		{"https://pin.it/abc", Pinterest, MediaImage},
	}

	for _, tc := range cases {
		det, err := Detect(tc.url)
		if err != nil {
			t.Errorf("Detect(%q) returned error: %v", tc.url, err)
			continue
		}
		if det.Platform != tc.platform {
			t.Errorf("Detect(%q) platform = %s, want %s", tc.url, det.Platform, tc.platform)
		}
		if det.MediaType != tc.mediaType {
			t.Errorf("Detect(%q) mediaType = %s, want %s", tc.url, det.MediaType, tc.mediaType)
		}
	}
}

func TestDetectUnsupported(t *testing.T) {
	for _, u := range []string{"https://example.com/video/1", "https://vimeo.com/123"} {
		if _, err := Detect(u); !errors.Is(err, errs.ErrUnsupportedPlatform) {
			t.Errorf("Detect(%q) error = %v, want ErrUnsupportedPlatform", u, err)
		}
	}
}

func TestDetectEmptyURL(t *testing.T) {
	if _, err := Detect("  "); !errors.Is(err, errs.ErrValidation) {
		t.Errorf("expected validation error for blank url, got %v", err)
	}
}

func TestOptionsForInstagram(t *testing.T) {
	opts := OptionsFor(Instagram)
	if opts.SocketTimeout != 45*time.Second {
		t.Errorf("instagram socket timeout = %v, want 45s", opts.SocketTimeout)
	}
	if opts.Retries != 5 || opts.FragmentRetries != 10 {
		t.Errorf("instagram retries = %d/%d, want 5/10", opts.Retries, opts.FragmentRetries)
	}
	if !opts.SkipUnavailableFragments {
		t.Error("instagram should skip unavailable fragments")
	}
	if opts.Referer == "" || opts.AcceptLanguage == "" {
		t.Error("instagram should carry browser-like headers")
	}
}

func TestOptionsForUnknownPlatformDefaults(t *testing.T) {
	opts := OptionsFor(Platform("unknown"))
	if opts.SocketTimeout != 30*time.Second {
		t.Errorf("default socket timeout = %v, want 30s", opts.SocketTimeout)
	}
	if opts.Retries != 3 {
		t.Errorf("default retries = %d, want 3", opts.Retries)
	}
	if opts.SkipUnavailableFragments {
		t.Error("default should not skip fragments")
	}
}
