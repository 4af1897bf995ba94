package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"yubal/app/logger"
	"yubal/app/model"
	"yubal/app/service"
	"yubal/app/store"

	"github.com/gin-gonic/gin"
)

const keepaliveInterval = 15 * time.Second

// SyncHandler 同步式提交接口：提交任务后以 SSE 推送进度，
// 任务到达终态后发送 complete 事件并结束响应。
// 排队和取消语义与 /api/jobs 完全一致，走同一个调度器。
type SyncHandler struct {
	scheduler *service.SchedulerService
	store     *store.JobStore
	jobs      *JobsHandler
	logger    *logger.Logger
	keepalive time.Duration
}

// NewSyncHandler 创建同步接口处理器
func NewSyncHandler(scheduler *service.SchedulerService, s *store.JobStore, jobs *JobsHandler, log *logger.Logger) *SyncHandler {
	return &SyncHandler{
		scheduler: scheduler,
		store:     s,
		jobs:      jobs,
		logger:    log,
		keepalive: keepaliveInterval,
	}
}

// progressEvent SSE progress 事件体
type progressEvent struct {
	JobID    string   `json:"job_id"`
	Step     string   `json:"step"`
	Message  string   `json:"message"`
	Progress *float64 `json:"progress,omitempty"`
}

// completeEvent SSE complete 事件体
type completeEvent struct {
	Success     bool             `json:"success"`
	Album       *model.AlbumInfo `json:"album,omitempty"`
	Destination string           `json:"destination,omitempty"`
	TrackCount  int              `json:"track_count,omitempty"`
	Error       string           `json:"error,omitempty"`
}

// Sync 提交任务并以 SSE 推送全程进度
// POST /api/sync
func (h *SyncHandler) Sync(c *gin.Context) {
	var req SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "请求体无效: " + err.Error()})
		return
	}
	if err := ValidateAlbumURL(req.URL); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	// 先订阅再提交，任务起跑最早的几条日志也不会漏掉
	feed, unsubscribe := h.store.Feed().Subscribe(256)
	defer unsubscribe()

	job, err := h.scheduler.Submit(req.URL, h.jobs.buildOptions(req))
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

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Writer.Flush()

	ticker := time.NewTicker(h.keepalive)
	defer ticker.Stop()

	w := c.Writer
	clientGone := c.Request.Context().Done()
	var lastSeq int64
	for {
		select {
		case <-clientGone:
			// 客户端断开只是停止推送，任务继续在后台执行
			h.logger.Infof("SSE 客户端已断开: 任务 %s 继续执行", job.ID)
			return

		case <-ticker.C:
			// 兜底：订阅缓冲丢了终态日志时，靠任务表把流收尾
			if latest, err := h.store.Get(job.ID); err == nil && latest.Status.IsTerminal() {
				writeEvent(w, lastSeq, "complete", h.buildComplete(job.ID))
				return
			}
			fmt.Fprint(w, ": keepalive\n\n")
			w.Flush()

		case entry, ok := <-feed:
			if !ok {
				return
			}
			if entry.JobID != job.ID {
				continue
			}
			lastSeq = entry.Seq

			writeEvent(w, entry.Seq, "progress", progressEvent{
				JobID:    entry.JobID,
				Step:     entry.Step,
				Message:  entry.Message,
				Progress: entry.Progress,
			})

			if model.JobStatus(entry.Step).IsTerminal() {
				writeEvent(w, entry.Seq, "complete", h.buildComplete(job.ID))
				return
			}
		}
	}
}

// buildComplete 按任务终态组装 complete 事件
func (h *SyncHandler) buildComplete(jobID string) completeEvent {
	job, err := h.store.Get(jobID)
	if err != nil {
		return completeEvent{Success: false, Error: "任务不存在"}
	}

	if job.Status == model.JobStatusCompleted && job.Result != nil {
		return completeEvent{
			Success:     true,
			Album:       job.Result.Album,
			Destination: job.Result.Destination,
			TrackCount:  job.Result.TrackCount,
		}
	}

	errMsg := job.Error
	if errMsg == "" {
		errMsg = string(job.Status)
	}
	return completeEvent{Success: false, Error: errMsg}
}

// writeEvent 写出一个完整的 SSE 事件并立即刷出，id 携带日志序号
func writeEvent(w gin.ResponseWriter, seq int64, event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", seq, event, data)
	w.Flush()
}
