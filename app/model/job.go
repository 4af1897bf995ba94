package model

import (
	"time"
)

// JobStatus 任务状态
type JobStatus string

const (
	JobStatusPending      JobStatus = "pending"       // 已接收，等待执行
	JobStatusFetchingInfo JobStatus = "fetching_info" // 正在解析专辑元数据
	JobStatusDownloading  JobStatus = "downloading"   // 正在下载音频
	JobStatusImporting    JobStatus = "importing"     // 正在打标签并整理入库
	JobStatusCompleted    JobStatus = "completed"     // 终态：成功
	JobStatusFailed       JobStatus = "failed"        // 终态：失败
	JobStatusCancelled    JobStatus = "cancelled"     // 终态：已取消
)

// IsTerminal 判断是否为终态，终态任务不再发生任何状态迁移
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// 日志步骤标签：任务状态的子集，外加自由文本行使用的通用标签
const (
	LogStepLog   = "log"
	LogStepError = "error"
)

// DownloadOptions 下载配置快照，任务创建时固定，之后修改全局配置不影响已提交的任务
type DownloadOptions struct {
	AudioFormat  string `json:"audio_format"`
	AudioQuality string `json:"audio_quality"`
	CookiesFile  string `json:"-"`
}

// Job 一次完整的专辑同步任务
type Job struct {
	ID         string          `json:"id"`
	URL        string          `json:"url"`
	Options    DownloadOptions `json:"options"`
	Status     JobStatus       `json:"status"`
	Progress   float64         `json:"progress"`
	Error      string          `json:"error,omitempty"`
	Result     *ImportResult   `json:"result,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	StartedAt  *time.Time      `json:"started_at,omitempty"`
	FinishedAt *time.Time      `json:"finished_at,omitempty"`
}

// LogEntry 任务进度日志，追加后不可变
type LogEntry struct {
	Seq       int64     `json:"-"`
	JobID     string    `json:"job_id"`
	Timestamp time.Time `json:"timestamp"`
	Step      string    `json:"step"`
	Message   string    `json:"message"`
	Progress  *float64  `json:"progress,omitempty"`
}

// TrackInfo 单曲元数据
type TrackInfo struct {
	Title       string `json:"title"`
	Artist      string `json:"artist"`
	TrackNumber int    `json:"track_number"`
	Duration    int    `json:"duration"`
}

// AlbumInfo 专辑/歌单元数据，由解析阶段产出
type AlbumInfo struct {
	Title      string      `json:"title"`
	Artist     string      `json:"artist"`
	Year       int         `json:"year,omitempty"`
	TrackCount int         `json:"track_count"`
	Tracks     []TrackInfo `json:"tracks,omitempty"`
	PlaylistID string      `json:"playlist_id"`
	CoverURL   string      `json:"cover_url,omitempty"`
	URL        string      `json:"url"`
}

// FetchResult 下载阶段的产出，交给导入阶段继续处理
type FetchResult struct {
	Album     *AlbumInfo `json:"album"`
	OutputDir string     `json:"output_dir"`
	Files     []string   `json:"files"`
}

// ImportResult 导入阶段的最终产出，任务成功时写入 Job.Result
type ImportResult struct {
	Album       *AlbumInfo `json:"album"`
	Destination string     `json:"destination"`
	TrackCount  int        `json:"track_count"`
}
