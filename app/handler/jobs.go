package handler

import (
	"errors"
	"net/http"
	"net/url"
	"strings"

	"yubal/app/config"
	"yubal/app/logger"
	"yubal/app/model"
	"yubal/app/service"
	"yubal/app/store"

	"github.com/gin-gonic/gin"
)

// 接受的 YouTube (Music) 域名
var allowedHosts = map[string]bool{
	"music.youtube.com": true,
	"www.youtube.com":   true,
	"youtube.com":       true,
}

// JobsHandler 任务队列接口
type JobsHandler struct {
	scheduler *service.SchedulerService
	store     *store.JobStore
	config    *config.Config
	logger    *logger.Logger
}

// NewJobsHandler 创建任务接口处理器
func NewJobsHandler(scheduler *service.SchedulerService, s *store.JobStore, cfg *config.Config, log *logger.Logger) *JobsHandler {
	return &JobsHandler{
		scheduler: scheduler,
		store:     s,
		config:    cfg,
		logger:    log,
	}
}

// SubmitRequest 提交任务的请求体
type SubmitRequest struct {
	URL          string `json:"url" binding:"required"`
	AudioFormat  string `json:"audio_format"`
	AudioQuality string `json:"audio_quality"`
}

// Submit 提交一个同步任务
// POST /api/jobs
func (h *JobsHandler) Submit(c *gin.Context) {
	var req SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "请求体无效: " + err.Error()})
		return
	}

	if err := ValidateAlbumURL(req.URL); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	opts := h.buildOptions(req)
	job, err := h.scheduler.Submit(req.URL, opts)
	if err != nil {
		var conflict *service.ConflictError
		if errors.As(err, &conflict) {
			c.JSON(http.StatusConflict, gin.H{
				"error":         "已有任务在执行中",
				"active_job_id": conflict.ActiveJobID,
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"id": job.ID})
}

// List 查询全部任务与日志，都按产生顺序返回
// GET /api/jobs
func (h *JobsHandler) List(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"jobs": h.store.List(),
		"logs": h.store.Logs(),
	})
}

// Get 查询单个任务及其日志
// GET /api/jobs/:id
func (h *JobsHandler) Get(c *gin.Context) {
	id := c.Param("id")
	job, err := h.store.Get(id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "任务不存在"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"job":  job,
		"logs": h.store.LogsForJob(id),
	})
}

// Cancel 取消一个任务。对终态任务重复取消是幂等的成功
// POST /api/jobs/:id/cancel
func (h *JobsHandler) Cancel(c *gin.Context) {
	id := c.Param("id")
	if err := h.scheduler.Cancel(id); err != nil {
		if errors.Is(err, store.ErrJobNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "任务不存在"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"id": id, "status": "cancelling"})
}

// Delete 删除一个终态任务及其日志
// DELETE /api/jobs/:id
func (h *JobsHandler) Delete(c *gin.Context) {
	id := c.Param("id")
	if err := h.store.Delete(id); err != nil {
		switch {
		case errors.Is(err, store.ErrJobNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "任务不存在"})
		case errors.Is(err, store.ErrJobNotTerminal):
			c.JSON(http.StatusConflict, gin.H{"error": "任务尚未结束，不能删除"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"id": id, "deleted": true})
}

// Clear 删除所有终态任务
// DELETE /api/jobs
func (h *JobsHandler) Clear(c *gin.Context) {
	cleared := h.store.Clear()
	c.JSON(http.StatusOK, gin.H{"cleared": cleared})
}

// buildOptions 请求参数和全局默认值合并为该任务的配置快照
func (h *JobsHandler) buildOptions(req SubmitRequest) model.DownloadOptions {
	opts := model.DownloadOptions{
		AudioFormat:  req.AudioFormat,
		AudioQuality: req.AudioQuality,
		CookiesFile:  h.config.Download.CookiesFile,
	}
	if opts.AudioFormat == "" {
		opts.AudioFormat = h.config.Download.AudioFormat
	}
	if opts.AudioQuality == "" {
		opts.AudioQuality = h.config.Download.AudioQuality
	}
	return opts
}

// ValidateAlbumURL 校验提交的 URL：必须是 YouTube (Music) 域名，
// 且能看出是专辑或歌单（带 list 参数、专辑歌单 ID 或专辑浏览页路径）
func ValidateAlbumURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return errors.New("URL 格式无效")
	}
	if !allowedHosts[strings.ToLower(u.Hostname())] {
		return errors.New("只支持 YouTube Music 链接")
	}

	if u.Query().Get("list") != "" || strings.HasPrefix(u.Path, "/browse/MPREb_") {
		return nil
	}
	return errors.New("URL 不是专辑或歌单链接")
}
