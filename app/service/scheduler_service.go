package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"yubal/app/logger"
	"yubal/app/model"
	"yubal/app/store"
)

// ConflictError 提交被拒绝：队列已被其他任务占用
type ConflictError struct {
	ActiveJobID string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("已有任务在执行中: %s", e.ActiveJobID)
}

// activeJob 当前执行中的任务及其取消句柄。取消句柄由调度器独占持有，
// 每次只会交给一次管线调用，绝不放进包级全局变量。
type activeJob struct {
	id     string
	cancel context.CancelFunc
}

// SchedulerService 顺序调度器：保证任何时刻至多一个任务在执行，
// pending 任务严格按提交顺序运行。单个任务的失败或 panic 都不会
// 终止调度循环。
type SchedulerService struct {
	store    *store.JobStore
	pipeline *PipelineService
	logger   *logger.Logger

	// 允许排队的 pending 任务数，0 表示只要有任务未结束就拒绝新提交
	maxPending int

	mu      sync.Mutex
	active  *activeJob
	running bool
	wake    chan struct{}
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewSchedulerService 创建顺序调度器
func NewSchedulerService(s *store.JobStore, pipeline *PipelineService, log *logger.Logger, maxPending int) *SchedulerService {
	return &SchedulerService{
		store:      s,
		pipeline:   pipeline,
		logger:     log,
		maxPending: maxPending,
		wake:       make(chan struct{}, 1),
		stopCh:     make(chan struct{}),
	}
}

// Start 启动调度循环
func (s *SchedulerService) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return
	}
	s.running = true

	s.wg.Add(1)
	go s.worker()

	s.logger.Info("任务调度器已启动")
}

// Stop 停止调度循环，等待当前任务让出
func (s *SchedulerService) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	if s.active != nil {
		s.active.cancel()
	}
	s.mu.Unlock()

	close(s.stopCh)
	s.wg.Wait()
	s.logger.Info("任务调度器已停止")
}

// Submit 提交一个任务。队列被占用时返回 ConflictError，
// 被拒绝的提交不会在任务表留下任何痕迹。
func (s *SchedulerService) Submit(url string, opts model.DownloadOptions) (model.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if activeID := s.store.ActiveJobID(); activeID != "" {
		if s.maxPending == 0 {
			return model.Job{}, &ConflictError{ActiveJobID: activeID}
		}
		if s.store.CountPending() >= s.maxPending {
			return model.Job{}, &ConflictError{ActiveJobID: activeID}
		}
	}

	job := s.store.Create(url, opts)
	s.logger.Infof("任务已入队: ID=%s, URL=%s", job.ID, url)

	// 唤醒调度循环，不等下一个 tick
	select {
	case s.wake <- struct{}{}:
	default:
	}
	return job, nil
}

// Cancel 取消一个任务。执行中的任务收到取消信号后由管线收敛到终态；
// pending 任务直接迁移到 cancelled，永远不会进入执行；
// 终态任务的取消是幂等的空操作。
func (s *SchedulerService) Cancel(id string) error {
	job, err := s.store.Get(id)
	if err != nil {
		return err
	}

	if job.Status.IsTerminal() {
		return nil
	}

	if job.Status == model.JobStatusPending {
		finishedAt := time.Now()
		won := false
		_ = s.store.Update(id, func(j *model.Job) {
			// 重查一遍状态，避免和调度循环起跑竞争
			if j.Status != model.JobStatusPending {
				return
			}
			j.Status = model.JobStatusCancelled
			j.FinishedAt = &finishedAt
			won = true
		})
		if won {
			s.store.AppendLog(id, string(model.JobStatusCancelled), "任务已被取消", nil)
			s.logger.Infof("pending 任务已取消: ID=%s", id)
			return nil
		}
		// 取消和起跑赛跑输了，按执行中处理
	}

	s.mu.Lock()
	if s.active != nil && s.active.id == id {
		s.active.cancel()
	}
	s.mu.Unlock()

	// 任务可能在上面的查询之后已经自己收敛，终态日志必须保持最后一条
	if s.store.AppendLogActive(id, model.LogStepLog, "收到取消请求", nil) {
		s.logger.Infof("已向执行中任务发送取消信号: ID=%s", id)
	}
	return nil
}

// ActiveJobID 当前执行中的任务 ID，空串表示空闲
func (s *SchedulerService) ActiveJobID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil {
		return ""
	}
	return s.active.id
}

// worker 调度循环：有唤醒信号立即出队，定时器兜底
func (s *SchedulerService) worker() {
	defer s.wg.Done()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-s.wake:
			s.drain()
		case <-ticker.C:
			s.drain()
		}
	}
}

// drain 连续执行队列中的任务，直到没有 pending 为止
func (s *SchedulerService) drain() {
	for {
		select {
		case <-s.stopCh:
			return
		default:
		}

		job, ok := s.store.NextPending()
		if !ok {
			return
		}
		s.runJob(job)
	}
}

// runJob 同步执行一个任务到终态。panic 在这里兜底，
// 强制任务进入 failed，调度循环继续存活。
func (s *SchedulerService) runJob(job model.Job) {
	ctx, cancel := context.WithCancel(context.Background())

	s.mu.Lock()
	s.active = &activeJob{id: job.ID, cancel: cancel}
	s.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			msg := fmt.Sprintf("内部错误: %v", r)
			finishedAt := time.Now()
			if err := s.store.Update(job.ID, func(j *model.Job) {
				j.Status = model.JobStatusFailed
				j.Error = msg
				j.FinishedAt = &finishedAt
			}); err == nil {
				s.store.AppendLog(job.ID, string(model.JobStatusFailed), msg, nil)
			}
			s.logger.Errorf("任务执行发生 panic: ID=%s, %v", job.ID, r)
		}

		s.mu.Lock()
		s.active = nil
		s.mu.Unlock()
		cancel()
	}()

	s.logger.Infof("开始执行任务: ID=%s, URL=%s", job.ID, job.URL)
	s.pipeline.Run(ctx, job)
}
