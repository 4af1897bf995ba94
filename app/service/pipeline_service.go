package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"yubal/app/logger"
	"yubal/app/model"
	"yubal/app/store"
)

// ProgressFunc 进度回调，progress 小于 0 表示这条只是日志、没有进度值
type ProgressFunc func(message string, progress float64)

// Fetcher 下载协作方：解析元数据并把音频拉到本地目录
type Fetcher interface {
	Resolve(ctx context.Context, url string) (*model.AlbumInfo, error)
	Download(ctx context.Context, album *model.AlbumInfo, dir string, opts model.DownloadOptions, onProgress ProgressFunc) (*model.FetchResult, error)
}

// Importer 导入协作方：给下载产物打标签并整理进曲库
type Importer interface {
	Import(ctx context.Context, fetch *model.FetchResult, onProgress ProgressFunc) (*model.ImportResult, error)
}

// PipelineService 执行管线：把一个任务从 pending 推进到终态。
// 管线一次只持有一个任务的写权限（由调度器保证），协作方的错误全部
// 在这里收敛为 failed 终态，绝不向调用方抛出。
type PipelineService struct {
	store    *store.JobStore
	fetcher  Fetcher
	importer Importer
	logger   *logger.Logger
	tempDir  string

	// 可选：按 playlist_id 查询曲库索引，用于重复导入提示
	alreadyImported func(playlistID string) bool
}

// NewPipelineService 创建执行管线
func NewPipelineService(s *store.JobStore, fetcher Fetcher, importer Importer, log *logger.Logger, tempDir string) *PipelineService {
	return &PipelineService{
		store:    s,
		fetcher:  fetcher,
		importer: importer,
		logger:   log,
		tempDir:  tempDir,
	}
}

// SetDuplicateCheck 设置曲库重复检查函数
func (p *PipelineService) SetDuplicateCheck(fn func(playlistID string) bool) {
	p.alreadyImported = fn
}

// Run 驱动一个任务走完状态机。取消通过 ctx 传递并贯穿到协作方的子进程；
// 下载一半的文件留在临时目录里，由定时清理处理，不做回滚。
func (p *PipelineService) Run(ctx context.Context, job model.Job) {
	startedAt := time.Now()
	// 起跑迁移被拒绝说明任务在出队之后、执行之前已经被取消，
	// 终态的任务绝不复活
	if err := p.transition(job.ID, model.JobStatusFetchingInfo, fmt.Sprintf("开始同步: %s", job.URL), nil, func(j *model.Job) {
		j.StartedAt = &startedAt
	}); err != nil {
		p.logger.Infof("任务未进入执行: ID=%s, %v", job.ID, err)
		return
	}

	// 阶段一：解析专辑元数据
	album, err := p.fetcher.Resolve(ctx, job.URL)
	if p.finishOnError(ctx, job.ID, err, "解析元数据失败") {
		return
	}
	p.store.AppendLog(job.ID, string(model.JobStatusFetchingInfo),
		fmt.Sprintf("解析完成: %s - %s，共 %d 首", album.Artist, album.Title, album.TrackCount), nil)

	if p.alreadyImported != nil && album.PlaylistID != "" && p.alreadyImported(album.PlaylistID) {
		p.store.AppendLog(job.ID, model.LogStepLog, "曲库中已存在该专辑，本次同步会覆盖或产生重复文件", nil)
	}

	if p.finishOnCancel(ctx, job.ID) {
		return
	}

	// 阶段二：下载
	tempDir := filepath.Join(p.tempDir, job.ID)
	if err := os.MkdirAll(tempDir, 0755); err != nil {
		p.markFailed(job.ID, fmt.Sprintf("创建临时目录失败: %v", err))
		return
	}
	defer os.RemoveAll(tempDir)

	p.transition(job.ID, model.JobStatusDownloading,
		fmt.Sprintf("开始下载 %d 首曲目", album.TrackCount), floatPtr(0), nil)

	fetch, err := p.fetcher.Download(ctx, album, tempDir, job.Options,
		p.progressFunc(ctx, job.ID, model.JobStatusDownloading))
	if p.finishOnError(ctx, job.ID, err, "下载失败") {
		return
	}
	if len(fetch.Files) == 0 {
		p.markFailed(job.ID, "没有任何文件被下载")
		return
	}

	if p.finishOnCancel(ctx, job.ID) {
		return
	}

	// 阶段三：打标签并整理入库
	p.transition(job.ID, model.JobStatusImporting,
		fmt.Sprintf("开始导入 %d 个文件", len(fetch.Files)), floatPtr(0), nil)

	result, err := p.importer.Import(ctx, fetch, p.progressFunc(ctx, job.ID, model.JobStatusImporting))
	if p.finishOnError(ctx, job.ID, err, "导入失败") {
		return
	}

	if p.finishOnCancel(ctx, job.ID) {
		return
	}

	// 终态：成功
	finishedAt := time.Now()
	p.transition(job.ID, model.JobStatusCompleted,
		fmt.Sprintf("同步完成: %s", result.Destination), floatPtr(100), func(j *model.Job) {
			j.Result = result
			j.FinishedAt = &finishedAt
		})
	p.logger.Infof("任务完成: ID=%s, 目标=%s, 曲目数=%d", job.ID, result.Destination, result.TrackCount)
}

// progressFunc 构造某一阶段的进度回调。阶段内进度单调不减，
// 乱序到达的回调会被钳制到已展示的最大值，绝不回退。
func (p *PipelineService) progressFunc(ctx context.Context, jobID string, stage model.JobStatus) ProgressFunc {
	var mu sync.Mutex
	last := 0.0
	return func(message string, progress float64) {
		// 已取消的任务不再接受任何更新，终态由管线统一落盘
		if ctx.Err() != nil {
			return
		}

		var pv *float64
		if progress >= 0 {
			mu.Lock()
			if progress > 100 {
				progress = 100
			}
			if progress < last {
				progress = last
			} else {
				last = progress
			}
			mu.Unlock()

			v := progress
			pv = &v
			if err := p.store.Update(jobID, func(j *model.Job) {
				j.Progress = v
			}); err != nil {
				// 任务已收敛到终态，迟到的进度整条丢弃
				return
			}
		}
		p.store.AppendLogActive(jobID, string(stage), message, pv)
	}
}

// finishOnError 把协作方错误收敛为终态，返回是否已经结束
func (p *PipelineService) finishOnError(ctx context.Context, jobID string, err error, prefix string) bool {
	if err == nil {
		return false
	}
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		p.markCancelled(jobID)
		return true
	}
	p.markFailed(jobID, fmt.Sprintf("%s: %v", prefix, err))
	return true
}

// finishOnCancel 在阶段边界检查取消信号
func (p *PipelineService) finishOnCancel(ctx context.Context, jobID string) bool {
	if ctx.Err() == nil {
		return false
	}
	p.markCancelled(jobID)
	return true
}

func (p *PipelineService) markCancelled(jobID string) {
	finishedAt := time.Now()
	p.transition(jobID, model.JobStatusCancelled, "任务已被取消", nil, func(j *model.Job) {
		j.FinishedAt = &finishedAt
	})
	p.logger.Infof("任务已取消: ID=%s", jobID)
}

func (p *PipelineService) markFailed(jobID, message string) {
	finishedAt := time.Now()
	p.transition(jobID, model.JobStatusFailed, message, nil, func(j *model.Job) {
		j.Error = message
		j.FinishedAt = &finishedAt
	})
	p.logger.Errorf("任务失败: ID=%s, 原因=%s", jobID, message)
}

// transition 落一次状态迁移：更新任务记录并追加对应的日志。
// 任务已在终态时更新会被任务表拒绝，此时不产生日志，原样返回错误。
func (p *PipelineService) transition(jobID string, status model.JobStatus, message string, progress *float64, extra func(*model.Job)) error {
	err := p.store.Update(jobID, func(j *model.Job) {
		j.Status = status
		if progress != nil {
			j.Progress = *progress
		}
		if extra != nil {
			extra(j)
		}
	})
	if err != nil {
		return err
	}
	p.store.AppendLog(jobID, string(status), message, progress)
	return nil
}

func floatPtr(v float64) *float64 {
	return &v
}
