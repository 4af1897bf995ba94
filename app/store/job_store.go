package store

import (
	"errors"
	"sync"
	"time"

	"yubal/app/model"

	"github.com/google/uuid"
)

var (
	// ErrJobNotFound 任务不存在
	ErrJobNotFound = errors.New("任务不存在")
	// ErrJobNotTerminal 任务尚未结束，不能删除
	ErrJobNotTerminal = errors.New("任务尚未结束")
	// ErrJobTerminal 任务已进入终态，不再接受任何变更
	ErrJobTerminal = errors.New("任务已进入终态")
)

// JobStore 内存任务表，是任务记录与日志的唯一持有者。
// 所有读写都在同一把锁内完成，锁只覆盖内存操作，绝不跨越下载/导入等耗时调用；
// 读操作返回副本，并发读取方不会观察到写了一半的任务记录。
// JobStore 本身不做任何状态迁移，迁移逻辑属于执行管线和调度器。
type JobStore struct {
	mu    sync.RWMutex
	jobs  map[string]*model.Job
	order []string // 按提交顺序保存任务 ID
	logs  []model.LogEntry
	seq   int64
	feed  *LogFeed

	now   func() time.Time
	newID func() string
}

// NewJobStore 创建任务表
func NewJobStore() *JobStore {
	return &JobStore{
		jobs:  make(map[string]*model.Job),
		feed:  NewLogFeed(),
		now:   time.Now,
		newID: uuid.NewString,
	}
}

// Feed 返回日志多路分发器，供推送型消费者订阅
func (s *JobStore) Feed() *LogFeed {
	return s.feed
}

// Create 创建一个 pending 状态的任务，下载配置在此刻快照固定
func (s *JobStore) Create(url string, opts model.DownloadOptions) model.Job {
	s.mu.Lock()
	defer s.mu.Unlock()

	job := &model.Job{
		ID:        s.newID(),
		URL:       url,
		Options:   opts,
		Status:    model.JobStatusPending,
		CreatedAt: s.now(),
	}
	s.jobs[job.ID] = job
	s.order = append(s.order, job.ID)
	return *job
}

// Get 按 ID 查询任务，返回副本
func (s *JobStore) Get(id string) (model.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[id]
	if !ok {
		return model.Job{}, ErrJobNotFound
	}
	return *job, nil
}

// List 按提交顺序返回所有任务的副本
func (s *JobStore) List() []model.Job {
	s.mu.RLock()
	defer s.mu.RUnlock()

	jobs := make([]model.Job, 0, len(s.order))
	for _, id := range s.order {
		jobs = append(jobs, *s.jobs[id])
	}
	return jobs
}

// Update 在锁内对指定任务应用变更函数。终态是单向状态机的终点：
// 已到终态的任务拒绝一切变更，取消和起跑赛跑时输的一方在这里被挡住。
func (s *JobStore) Update(id string, mutate func(*model.Job)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	if job.Status.IsTerminal() {
		return ErrJobTerminal
	}
	mutate(job)
	return nil
}

// Delete 删除终态任务及其全部日志，非终态返回冲突错误
func (s *JobStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	if !job.Status.IsTerminal() {
		return ErrJobNotTerminal
	}

	delete(s.jobs, id)
	s.removeFromOrder(id)
	s.dropLogs(map[string]bool{id: true})
	return nil
}

// Clear 删除所有终态任务及其日志，返回删除数量
func (s *JobStore) Clear() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clearLocked(func(job *model.Job) bool {
		return job.Status.IsTerminal()
	})
}

// ClearFinishedBefore 删除在 cutoff 之前结束的终态任务，供定时清理使用
func (s *JobStore) ClearFinishedBefore(cutoff time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clearLocked(func(job *model.Job) bool {
		return job.Status.IsTerminal() && job.FinishedAt != nil && job.FinishedAt.Before(cutoff)
	})
}

func (s *JobStore) clearLocked(match func(*model.Job) bool) int {
	removed := make(map[string]bool)
	kept := s.order[:0]
	for _, id := range s.order {
		if match(s.jobs[id]) {
			removed[id] = true
			delete(s.jobs, id)
		} else {
			kept = append(kept, id)
		}
	}
	s.order = kept
	s.dropLogs(removed)
	return len(removed)
}

// NextPending 返回最早提交且仍处于 pending 的任务副本，没有则返回 false。
// 已在 pending 阶段被取消的任务状态不再是 pending，自然被过滤，不会进入执行。
func (s *JobStore) NextPending() (model.Job, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, id := range s.order {
		if job := s.jobs[id]; job.Status == model.JobStatusPending {
			return *job, true
		}
	}
	return model.Job{}, false
}

// ActiveJobID 返回当前"占用"队列的任务 ID：优先返回正在执行的任务，
// 没有执行中的任务时返回最早的 pending 任务，全部终态则返回空串
func (s *JobStore) ActiveJobID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	firstPending := ""
	for _, id := range s.order {
		job := s.jobs[id]
		if job.Status.IsTerminal() {
			continue
		}
		if job.Status == model.JobStatusPending {
			if firstPending == "" {
				firstPending = id
			}
			continue
		}
		return id
	}
	return firstPending
}

// CountPending 统计 pending 任务数
func (s *JobStore) CountPending() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, id := range s.order {
		if s.jobs[id].Status == model.JobStatusPending {
			n++
		}
	}
	return n
}

// AppendLog 追加一条任务日志并推送给订阅者，日志追加后不可变
func (s *JobStore) AppendLog(jobID, step, message string, progress *float64) {
	s.appendLog(jobID, step, message, progress, false)
}

// AppendLogActive 仅当任务还未到终态时追加日志，追加与状态检查在同一把锁内，
// 保证终态日志永远是该任务的最后一条。返回是否真的追加了。
func (s *JobStore) AppendLogActive(jobID, step, message string, progress *float64) bool {
	return s.appendLog(jobID, step, message, progress, true)
}

func (s *JobStore) appendLog(jobID, step, message string, progress *float64, onlyActive bool) bool {
	s.mu.Lock()
	if onlyActive {
		job, ok := s.jobs[jobID]
		if !ok || job.Status.IsTerminal() {
			s.mu.Unlock()
			return false
		}
	}
	s.seq++
	entry := model.LogEntry{
		Seq:       s.seq,
		JobID:     jobID,
		Timestamp: s.now(),
		Step:      step,
		Message:   message,
		Progress:  progress,
	}
	s.logs = append(s.logs, entry)
	s.mu.Unlock()

	// 推送放在锁外，订阅者再慢也不会阻塞任务表
	s.feed.Publish(entry)
	return true
}

// Logs 返回全部日志的快照，按追加顺序
func (s *JobStore) Logs() []model.LogEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	logs := make([]model.LogEntry, len(s.logs))
	copy(logs, s.logs)
	return logs
}

// LogsForJob 返回指定任务的日志快照
func (s *JobStore) LogsForJob(jobID string) []model.LogEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var logs []model.LogEntry
	for _, entry := range s.logs {
		if entry.JobID == jobID {
			logs = append(logs, entry)
		}
	}
	return logs
}

func (s *JobStore) removeFromOrder(id string) {
	for i, v := range s.order {
		if v == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			return
		}
	}
}

func (s *JobStore) dropLogs(removed map[string]bool) {
	if len(removed) == 0 {
		return
	}
	kept := s.logs[:0]
	for _, entry := range s.logs {
		if !removed[entry.JobID] {
			kept = append(kept, entry)
		}
	}
	s.logs = kept
}
