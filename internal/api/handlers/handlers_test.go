package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/hadiid1718/VI-downloader/internal/config"
	"github.com/hadiid1718/VI-downloader/internal/model"
	"github.com/hadiid1718/VI-downloader/internal/service/download"
	"github.com/hadiid1718/VI-downloader/internal/service/staging"
	"github.com/hadiid1718/VI-downloader/internal/service/stream"
	"go.uber.org/zap"
)

type stagedFetcher struct {
	md         *model.Metadata
	outputName string
}

func (f *stagedFetcher) Probe(ctx context.Context, rawURL string) (*model.Metadata, error) {
	return f.md, nil
}

func (f *stagedFetcher) Fetch(ctx context.Context, rawURL, formatID, outputDir string, onLine func(string)) error {
	return os.WriteFile(filepath.Join(outputDir, f.outputName), []byte("data"), 0o644)
}

type fixedFetcher struct {
	md  *model.Metadata
	err error
}

func (f *fixedFetcher) Probe(ctx context.Context, rawURL string) (*model.Metadata, error) {
	return f.md, f.err
}

func (f *fixedFetcher) Fetch(ctx context.Context, rawURL, formatID, outputDir string, onLine func(string)) error {
	return f.err
}

func newMediaRouter(t *testing.T, f *fixedFetcher, maxMB float64) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	cfg := &config.DownloadConfig{MaxFileSizeMB: maxMB}
	h := NewMediaHandler(download.NewService(cfg, f, zap.NewNop()), zap.NewNop())

	r := gin.New()
	r.POST("/api/detect", h.Detect)
	r.POST("/api/metadata", h.Metadata)
	r.POST("/api/check", h.Check)
	r.POST("/api/filesize", h.Filesize)
	return r
}

func postJSON(t *testing.T, r *gin.Engine, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	data, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
	return out
}

func TestDetectEndpoint(t *testing.T) {
	r := newMediaRouter(t, &fixedFetcher{}, 500)

	w := postJSON(t, r, "/api/detect", gin.H{"url": "https://www.tiktok.com/@u/video/1"})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	out := decode(t, w)
	if out["platform"] != "tiktok" {
		t.Errorf("platform = %v", out["platform"])
	}
	if out["success"] != true {
		t.Error("success should be true")
	}
}

func TestDetectUnsupportedReturns400(t *testing.T) {
	r := newMediaRouter(t, &fixedFetcher{}, 500)

	w := postJSON(t, r, "/api/detect", gin.H{"url": "https://example.com/x"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	out := decode(t, w)
	if out["success"] != false {
		t.Error("success should be false")
	}
}

func TestDetectMissingURL(t *testing.T) {
	r := newMediaRouter(t, &fixedFetcher{}, 500)

	w := postJSON(t, r, "/api/detect", gin.H{})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestMetadataEndpoint(t *testing.T) {
	f := &fixedFetcher{md: &model.Metadata{Title: "Clip", Duration: 60, Platform: "tiktok"}}
	r := newMediaRouter(t, f, 500)

	w := postJSON(t, r, "/api/metadata", gin.H{"url": "https://www.tiktok.com/@u/video/1"})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	out := decode(t, w)
	md := out["metadata"].(map[string]interface{})
	if md["title"] != "Clip" {
		t.Errorf("title = %v", md["title"])
	}
}

func TestCheckEndpointOversizedStays200(t *testing.T) {
	// 超限不是请求错误，而是业务层面的不可下载判定
	f := &fixedFetcher{md: &model.Metadata{Title: "Long", Duration: 3600}}
	r := newMediaRouter(t, f, 10)

	w := postJSON(t, r, "/api/check", gin.H{"url": "https://www.tiktok.com/@u/video/1"})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	out := decode(t, w)
	if out["downloadable"] != false {
		t.Errorf("downloadable = %v, want false", out["downloadable"])
	}
	if out["reason"] == "" {
		t.Error("reason should explain the rejection")
	}
}

func TestFilesizeEndpoint(t *testing.T) {
	f := &fixedFetcher{md: &model.Metadata{
		Title:    "Clip",
		Duration: 120,
		Formats:  []model.Format{{FormatID: "22", Resolution: "720p"}},
	}}
	r := newMediaRouter(t, f, 500)

	w := postJSON(t, r, "/api/filesize", gin.H{"url": "https://www.tiktok.com/@u/video/1", "format": "22"})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	out := decode(t, w)
	if out["estimatedSizeMB"] != 37.5 {
		t.Errorf("estimatedSizeMB = %v, want 37.5", out["estimatedSizeMB"])
	}
	if out["canDownload"] != true {
		t.Errorf("canDownload = %v, want true", out["canDownload"])
	}
	if out["maxAllowedMB"] != 500.0 {
		t.Errorf("maxAllowedMB = %v, want 500", out["maxAllowedMB"])
	}
}

func newFileRouter(t *testing.T) (*gin.Engine, *staging.Store) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	store, err := staging.NewStore(t.TempDir(), zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	h := NewFileHandler(store, zap.NewNop())

	r := gin.New()
	r.GET("/api/download/file/:filename", h.Get)
	r.GET("/api/downloads/list", h.List)
	r.DELETE("/api/downloads/:filename", h.Delete)
	r.POST("/api/downloads/cleanup", h.Cleanup)
	return r, store
}

func TestFileGetServesAttachment(t *testing.T) {
	r, store := newFileRouter(t)
	if err := os.WriteFile(filepath.Join(store.Root(), "clip.mp4"), []byte("abcd"), 0o644); err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/download/file/clip.mp4", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if cd := w.Header().Get("Content-Disposition"); cd == "" {
		t.Error("Content-Disposition header missing")
	}
	if cl := w.Header().Get("Content-Length"); cl != "4" {
		t.Errorf("Content-Length = %q, want 4", cl)
	}
}

func TestFileGetRejectsTraversal(t *testing.T) {
	r, _ := newFileRouter(t)

	// gin 不会匹配带斜杠的参数，URL 编码绕过由文件名校验兜底
	req := httptest.NewRequest(http.MethodGet, "/api/download/file/..%2F..%2Fetc%2Fpasswd", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code == http.StatusOK {
		t.Fatalf("traversal request must not succeed, got %d", w.Code)
	}
}

func TestFileDeleteTraversalTriple(t *testing.T) {
	r, _ := newFileRouter(t)

	for _, name := range []string{"..%2F..%2Fetc%2Fpasswd", "a%2Fb", `a%5Cb`} {
		req := httptest.NewRequest(http.MethodDelete, "/api/downloads/"+name, nil)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		if w.Code == http.StatusOK {
			t.Errorf("delete %q must be rejected, got %d", name, w.Code)
		}
	}
}

func TestFileMissingReturns404(t *testing.T) {
	r, _ := newFileRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/api/download/file/nope.mp4", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestCleanupEndpoint(t *testing.T) {
	r, store := newFileRouter(t)
	if err := os.WriteFile(filepath.Join(store.Root(), "old.mp4"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/downloads/cleanup?hoursOld=0", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	out := decode(t, w)
	if out["removed"].(float64) != 1 {
		t.Errorf("removed = %v, want 1", out["removed"])
	}
}

func TestCleanupRejectsBadHours(t *testing.T) {
	r, _ := newFileRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/api/downloads/cleanup?hoursOld=abc", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestStreamCompletedURLResolvesAgainstFileRoute(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cfg := &config.DownloadConfig{StagingDir: t.TempDir(), MaxFileSizeMB: 500}
	store, err := staging.NewStore(cfg.StagingDir, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	f := &stagedFetcher{md: &model.Metadata{Title: "clip", Duration: 10}, outputName: "clip.mp4"}
	engine := stream.NewEngine(download.NewService(cfg, f, zap.NewNop()), store, zap.NewNop())

	var last stream.Event
	engine.Run(context.Background(), "https://www.tiktok.com/@u/video/1", "", func(ev stream.Event) {
		last = ev
	})
	if last.Status != "completed" {
		t.Fatalf("final event = %+v", last)
	}

	// 推送出去的 downloadUrl 必须能被文件路由实际服务
	h := NewFileHandler(store, zap.NewNop())
	r := gin.New()
	r.GET("/api/download/file/:filename", h.Get)

	req := httptest.NewRequest(http.MethodGet, last.DownloadURL, nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("GET %s = %d, want 200", last.DownloadURL, w.Code)
	}
}

type stubQueue struct {
	job   *model.Job
	stats *model.QueueStats
}

func (q *stubQueue) Submit(rawURL, format, priority string) (*model.Job, error) {
	return q.job, nil
}

func (q *stubQueue) Status(id string) (*model.Job, error) { return q.job, nil }

func (q *stubQueue) Cancel(id string) (*model.Job, error) { return q.job, nil }

func (q *stubQueue) Stats() (*model.QueueStats, error) { return q.stats, nil }

func newJobRouter(t *testing.T, q *stubQueue) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	h := NewJobHandler(q, zap.NewNop())

	r := gin.New()
	r.POST("/api/download", h.Submit)
	r.GET("/api/queue/stats", h.Stats)
	return r
}

func TestSubmitResponseCarriesPlatform(t *testing.T) {
	q := &stubQueue{job: &model.Job{
		ID:       "j1",
		State:    model.JobStateQueued,
		Platform: "tiktok",
	}}
	r := newJobRouter(t, q)

	w := postJSON(t, r, "/api/download", gin.H{"url": "https://www.tiktok.com/@u/video/1"})
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	out := decode(t, w)
	if out["platform"] != "tiktok" {
		t.Errorf("platform = %v, want tiktok", out["platform"])
	}
	if out["jobId"] != "j1" {
		t.Errorf("jobId = %v", out["jobId"])
	}
	if out["statusUrl"] != "/api/download/status/j1" {
		t.Errorf("statusUrl = %v", out["statusUrl"])
	}
}

func TestQueueStatsEnvelope(t *testing.T) {
	q := &stubQueue{stats: &model.QueueStats{Active: 2, Waiting: 5, Failed: 1}}
	r := newJobRouter(t, q)

	req := httptest.NewRequest(http.MethodGet, "/api/queue/stats", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	out := decode(t, w)
	queue, ok := out["queue"].(map[string]interface{})
	if !ok {
		t.Fatalf("response should expose counts under \"queue\": %s", w.Body.String())
	}
	if queue["active"] != 2.0 || queue["waiting"] != 5.0 {
		t.Errorf("queue = %v", queue)
	}
}
