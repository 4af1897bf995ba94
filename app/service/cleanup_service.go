package service

import (
	"os"
	"path/filepath"
	"time"

	"yubal/app/config"
	"yubal/app/logger"
	"yubal/app/store"

	"github.com/robfig/cron/v3"
)

// CleanupService 定时清理：按保留期删除终态任务记录，
// 顺带清掉没有对应任务的孤儿临时目录
type CleanupService struct {
	store         *store.JobStore
	logger        *logger.Logger
	cron          *cron.Cron
	spec          string
	retentionDays int
	tempDir       string
}

// NewCleanupService 创建清理服务
func NewCleanupService(s *store.JobStore, log *logger.Logger, queueCfg config.QueueConfig, downloadCfg config.DownloadConfig) *CleanupService {
	return &CleanupService{
		store:         s,
		logger:        log,
		cron:          cron.New(),
		spec:          queueCfg.CleanupCron,
		retentionDays: queueCfg.RetentionDays,
		tempDir:       downloadCfg.TempDir,
	}
}

// Start 注册定时任务并启动调度
func (c *CleanupService) Start() error {
	if _, err := c.cron.AddFunc(c.spec, c.Run); err != nil {
		return err
	}
	c.cron.Start()
	c.logger.Infof("定时清理已启动: %s, 保留 %d 天", c.spec, c.retentionDays)
	return nil
}

// Stop 停止调度，等待执行中的清理结束
func (c *CleanupService) Stop() {
	ctx := c.cron.Stop()
	<-ctx.Done()
	c.logger.Info("定时清理已停止")
}

// Run 执行一轮清理
func (c *CleanupService) Run() {
	cutoff := time.Now().AddDate(0, 0, -c.retentionDays)
	removed := c.store.ClearFinishedBefore(cutoff)
	if removed > 0 {
		c.logger.Infof("已清理 %d 个终态任务", removed)
	}

	c.cleanOrphanedTempDirs()
}

// cleanOrphanedTempDirs 删除任务表里已经不存在的任务留下的临时目录
func (c *CleanupService) cleanOrphanedTempDirs() {
	entries, err := os.ReadDir(c.tempDir)
	if err != nil {
		return
	}

	known := make(map[string]bool)
	for _, job := range c.store.List() {
		known[job.ID] = true
	}

	for _, entry := range entries {
		if !entry.IsDir() || known[entry.Name()] {
			continue
		}
		dir := filepath.Join(c.tempDir, entry.Name())
		if err := os.RemoveAll(dir); err != nil {
			c.logger.Warnf("删除孤儿临时目录失败: %s, %v", dir, err)
			continue
		}
		c.logger.Infof("已删除孤儿临时目录: %s", dir)
	}
}
