package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"yubal/app/config"
	"yubal/app/logger"
	"yubal/app/model"
	"yubal/app/service"
	"yubal/app/store"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logger.Logger {
	return logger.New(config.LogConfig{Level: "error", Format: "text", Output: "stdout"})
}

func testConfig() *config.Config {
	return &config.Config{
		Download: config.DownloadConfig{
			AudioFormat:  "mp3",
			AudioQuality: "0",
		},
	}
}

// stubFetcher 行为可控的下载协作方：hold 不为 nil 时阻塞到通道关闭，
// failResolve 为真时解析直接失败
type stubFetcher struct {
	hold        chan struct{}
	failResolve bool
}

func (f *stubFetcher) Resolve(ctx context.Context, url string) (*model.AlbumInfo, error) {
	if f.failResolve {
		return nil, errors.New("视频不可用")
	}
	if f.hold != nil {
		select {
		case <-f.hold:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return &model.AlbumInfo{
		Title:      "Album",
		Artist:     "Artist",
		TrackCount: 1,
		Tracks:     []model.TrackInfo{{Title: "T", Artist: "Artist", TrackNumber: 1}},
		PlaylistID: "OLAK5uy_x",
		URL:        url,
	}, nil
}

func (f *stubFetcher) Download(ctx context.Context, album *model.AlbumInfo, dir string, opts model.DownloadOptions, onProgress ProgressFuncAlias) (*model.FetchResult, error) {
	onProgress("下载", 50)
	return &model.FetchResult{Album: album, OutputDir: dir, Files: []string{"t.mp3"}}, nil
}

// ProgressFuncAlias 避免在测试里重复写全限定类型
type ProgressFuncAlias = service.ProgressFunc

type stubImporter struct{}

func (stubImporter) Import(ctx context.Context, fetch *model.FetchResult, onProgress ProgressFuncAlias) (*model.ImportResult, error) {
	return &model.ImportResult{Album: fetch.Album, Destination: "/music/Artist/Album", TrackCount: 1}, nil
}

type testEnv struct {
	router    *gin.Engine
	store     *store.JobStore
	scheduler *service.SchedulerService
	fetcher   *stubFetcher
}

func newTestEnv(t *testing.T, maxPending int) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	s := store.NewJobStore()
	fetcher := &stubFetcher{}
	pipeline := service.NewPipelineService(s, fetcher, stubImporter{}, testLogger(), t.TempDir())
	scheduler := service.NewSchedulerService(s, pipeline, testLogger(), maxPending)
	scheduler.Start()
	t.Cleanup(scheduler.Stop)

	cfg := testConfig()
	h := NewJobsHandler(scheduler, s, cfg, testLogger())

	router := gin.New()
	api := router.Group("/api")
	jobs := api.Group("/jobs")
	jobs.POST("", h.Submit)
	jobs.GET("", h.List)
	jobs.DELETE("", h.Clear)
	jobs.GET("/:id", h.Get)
	jobs.POST("/:id/cancel", h.Cancel)
	jobs.DELETE("/:id", h.Delete)

	return &testEnv{router: router, store: s, scheduler: scheduler, fetcher: fetcher}
}

func (e *testEnv) do(method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func waitForTerminal(t *testing.T, s *store.JobStore, id string) model.Job {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		job, err := s.Get(id)
		require.NoError(t, err)
		if job.Status.IsTerminal() {
			return job
		}
		select {
		case <-deadline:
			t.Fatalf("任务 %s 没有在限期内结束", id)
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestSubmitAccepted(t *testing.T) {
	env := newTestEnv(t, 0)

	w := env.do(http.MethodPost, "/api/jobs",
		`{"url":"https://music.youtube.com/playlist?list=OLAK5uy_abc"}`)
	require.Equal(t, http.StatusAccepted, w.Code)

	var resp struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.ID)

	job := waitForTerminal(t, env.store, resp.ID)
	assert.Equal(t, model.JobStatusCompleted, job.Status)
	assert.Equal(t, "mp3", job.Options.AudioFormat, "未指定格式时使用全局默认值")
}

func TestSubmitValidation(t *testing.T) {
	env := newTestEnv(t, 0)

	tests := []struct {
		name string
		body string
	}{
		{"缺少 URL", `{}`},
		{"非法 JSON", `{`},
		{"不是 YouTube 域名", `{"url":"https://example.com/playlist?list=OLAK5uy_a"}`},
		{"没有歌单标识", `{"url":"https://music.youtube.com/watch?v=abc"}`},
		{"非 HTTP 协议", `{"url":"ftp://music.youtube.com/playlist?list=x"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(http.MethodPost, "/api/jobs", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}

	// 没有任何任务被创建
	assert.Empty(t, env.store.List())
}

func TestSubmitConflictWhileBusy(t *testing.T) {
	env := newTestEnv(t, 0)
	env.fetcher.hold = make(chan struct{})

	first := env.do(http.MethodPost, "/api/jobs",
		`{"url":"https://music.youtube.com/playlist?list=OLAK5uy_a"}`)
	require.Equal(t, http.StatusAccepted, first.Code)
	var created struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(first.Body.Bytes(), &created))

	// 等任务起跑
	time.Sleep(50 * time.Millisecond)

	second := env.do(http.MethodPost, "/api/jobs",
		`{"url":"https://music.youtube.com/playlist?list=OLAK5uy_b"}`)
	require.Equal(t, http.StatusConflict, second.Code)

	var conflict struct {
		Error       string `json:"error"`
		ActiveJobID string `json:"active_job_id"`
	}
	require.NoError(t, json.Unmarshal(second.Body.Bytes(), &conflict))
	assert.Equal(t, created.ID, conflict.ActiveJobID)
	assert.NotEmpty(t, conflict.Error)

	close(env.fetcher.hold)
	waitForTerminal(t, env.store, created.ID)
}

func TestListShape(t *testing.T) {
	env := newTestEnv(t, 0)

	w := env.do(http.MethodPost, "/api/jobs",
		`{"url":"https://music.youtube.com/playlist?list=OLAK5uy_a"}`)
	require.Equal(t, http.StatusAccepted, w.Code)
	var created struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	waitForTerminal(t, env.store, created.ID)

	list := env.do(http.MethodGet, "/api/jobs", "")
	require.Equal(t, http.StatusOK, list.Code)

	var resp struct {
		Jobs []model.Job      `json:"jobs"`
		Logs []model.LogEntry `json:"logs"`
	}
	require.NoError(t, json.Unmarshal(list.Body.Bytes(), &resp))
	require.Len(t, resp.Jobs, 1)
	assert.Equal(t, created.ID, resp.Jobs[0].ID)
	assert.NotEmpty(t, resp.Logs)
	for _, entry := range resp.Logs {
		assert.Equal(t, created.ID, entry.JobID)
	}
}

func TestGetJob(t *testing.T) {
	env := newTestEnv(t, 0)

	notFound := env.do(http.MethodGet, "/api/jobs/missing", "")
	assert.Equal(t, http.StatusNotFound, notFound.Code)

	w := env.do(http.MethodPost, "/api/jobs",
		`{"url":"https://music.youtube.com/playlist?list=OLAK5uy_a"}`)
	var created struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	waitForTerminal(t, env.store, created.ID)

	got := env.do(http.MethodGet, "/api/jobs/"+created.ID, "")
	require.Equal(t, http.StatusOK, got.Code)

	var resp struct {
		Job  model.Job        `json:"job"`
		Logs []model.LogEntry `json:"logs"`
	}
	require.NoError(t, json.Unmarshal(got.Body.Bytes(), &resp))
	assert.Equal(t, created.ID, resp.Job.ID)
	assert.NotEmpty(t, resp.Logs)
}

func TestCancelEndpoints(t *testing.T) {
	env := newTestEnv(t, 0)

	notFound := env.do(http.MethodPost, "/api/jobs/missing/cancel", "")
	assert.Equal(t, http.StatusNotFound, notFound.Code)

	env.fetcher.hold = make(chan struct{})
	w := env.do(http.MethodPost, "/api/jobs",
		`{"url":"https://music.youtube.com/playlist?list=OLAK5uy_a"}`)
	var created struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	time.Sleep(50 * time.Millisecond)

	cancel := env.do(http.MethodPost, "/api/jobs/"+created.ID+"/cancel", "")
	assert.Equal(t, http.StatusAccepted, cancel.Code)

	job := waitForTerminal(t, env.store, created.ID)
	assert.Equal(t, model.JobStatusCancelled, job.Status)

	// 终态任务再取消仍然成功
	again := env.do(http.MethodPost, "/api/jobs/"+created.ID+"/cancel", "")
	assert.Equal(t, http.StatusAccepted, again.Code)
	final, err := env.store.Get(created.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCancelled, final.Status)
}

func TestDeleteEndpoints(t *testing.T) {
	env := newTestEnv(t, 0)

	notFound := env.do(http.MethodDelete, "/api/jobs/missing", "")
	assert.Equal(t, http.StatusNotFound, notFound.Code)

	env.fetcher.hold = make(chan struct{})
	w := env.do(http.MethodPost, "/api/jobs",
		`{"url":"https://music.youtube.com/playlist?list=OLAK5uy_a"}`)
	var created struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	time.Sleep(50 * time.Millisecond)

	// 执行中的任务删除被拒绝
	conflict := env.do(http.MethodDelete, "/api/jobs/"+created.ID, "")
	assert.Equal(t, http.StatusConflict, conflict.Code)

	close(env.fetcher.hold)
	waitForTerminal(t, env.store, created.ID)

	ok := env.do(http.MethodDelete, "/api/jobs/"+created.ID, "")
	assert.Equal(t, http.StatusOK, ok.Code)
	_, err := env.store.Get(created.ID)
	assert.Error(t, err)
}

func TestClearEndpoint(t *testing.T) {
	env := newTestEnv(t, 0)

	w := env.do(http.MethodPost, "/api/jobs",
		`{"url":"https://music.youtube.com/playlist?list=OLAK5uy_a"}`)
	var created struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	waitForTerminal(t, env.store, created.ID)

	clear := env.do(http.MethodDelete, "/api/jobs", "")
	require.Equal(t, http.StatusOK, clear.Code)

	var resp struct {
		Cleared int `json:"cleared"`
	}
	require.NoError(t, json.Unmarshal(clear.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Cleared)
	assert.Empty(t, env.store.List())
}

func TestValidateAlbumURL(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		wantErr bool
	}{
		{"专辑歌单", "https://music.youtube.com/playlist?list=OLAK5uy_abc", false},
		{"普通歌单", "https://www.youtube.com/playlist?list=PLabc", false},
		{"watch 带 list", "https://music.youtube.com/watch?v=abc&list=OLAK5uy_x", false},
		{"专辑浏览页", "https://music.youtube.com/browse/MPREb_abc", false},
		{"单个视频", "https://music.youtube.com/watch?v=abc", true},
		{"其他站点", "https://vimeo.com/playlist?list=x", true},
		{"空串", "", true},
		{"裸词", "not-a-url", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateAlbumURL(tt.url)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
