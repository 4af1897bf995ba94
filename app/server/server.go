package server

import (
	"context"
	"net/http"

	"yubal/app/config"
	"yubal/app/database"
	"yubal/app/filewatcher"
	"yubal/app/handler"
	"yubal/app/logger"
	"yubal/app/service"
	"yubal/app/store"
	"yubal/app/utils/cover"

	"github.com/gin-gonic/gin"
)

// Server 表示 HTTP 服务器
type Server struct {
	Config *config.Config
	Logger *logger.Logger
	gin    *gin.Engine
	http   *http.Server

	store     *store.JobStore
	scheduler *service.SchedulerService
	cleanup   *service.CleanupService
	library   *service.LibraryService
	covers    *cover.Fetcher
	watcher   *filewatcher.CookiesWatcher
}

// New 创建一个新的 Server 实例并完成全部装配
func New(cfg *config.Config, log *logger.Logger) *Server {
	router := gin.Default()

	jobStore := store.NewJobStore()
	library := service.NewLibraryService(database.GetDB(), log)
	covers := cover.NewFetcher()

	downloader := service.NewDownloaderService(log, cfg.Download)
	importer := service.NewImporterService(log, cfg.Library, library, covers)
	pipeline := service.NewPipelineService(jobStore, downloader, importer, log, cfg.Download.TempDir)
	pipeline.SetDuplicateCheck(library.HasPlaylist)

	scheduler := service.NewSchedulerService(jobStore, pipeline, log, cfg.Queue.MaxPending)
	cleanup := service.NewCleanupService(jobStore, log, cfg.Queue, cfg.Download)
	watcher := filewatcher.NewCookiesWatcher(cfg.Download.CookiesFile, log)

	s := &Server{
		gin: router,
		http: &http.Server{
			Addr:    ":" + cfg.Server.Port,
			Handler: router,
		},
		Config:    cfg,
		Logger:    log,
		store:     jobStore,
		scheduler: scheduler,
		cleanup:   cleanup,
		library:   library,
		covers:    covers,
		watcher:   watcher,
	}

	s.setupRoutes()
	return s
}

// Start 启动服务器及后台服务
func (s *Server) Start() error {
	s.Logger.Infof("在端口 %s 启动服务器", s.http.Addr)

	s.scheduler.Start()

	if err := s.cleanup.Start(); err != nil {
		s.Logger.Errorf("启动定时清理失败: %v", err)
	}
	if err := s.watcher.Start(); err != nil {
		s.Logger.Errorf("启动 cookies 文件监控失败: %v", err)
	}

	return s.http.ListenAndServe()
}

// Shutdown 按依赖顺序关停：先停调度器让任务收敛，再关外围服务
func (s *Server) Shutdown(ctx context.Context) error {
	s.scheduler.Stop()
	s.cleanup.Stop()

	if err := s.watcher.Stop(); err != nil {
		s.Logger.Errorf("停止 cookies 文件监控失败: %v", err)
	}
	s.covers.Close()

	if err := database.Close(); err != nil {
		s.Logger.Errorf("关闭数据库连接失败: %v", err)
	}
	return s.http.Shutdown(ctx)
}

// setupRoutes 设置API路由
func (s *Server) setupRoutes() {
	jobsHandler := handler.NewJobsHandler(s.scheduler, s.store, s.Config, s.Logger)
	syncHandler := handler.NewSyncHandler(s.scheduler, s.store, jobsHandler, s.Logger)
	libraryHandler := handler.NewLibraryHandler(s.library)
	cookiesHandler := handler.NewCookiesHandler(s.Config.Download.CookiesFile, s.Logger)

	api := s.gin.Group("/api")

	// 任务队列
	jobs := api.Group("/jobs")
	{
		jobs.POST("", jobsHandler.Submit)
		jobs.GET("", jobsHandler.List)
		jobs.DELETE("", jobsHandler.Clear)
		jobs.GET("/:id", jobsHandler.Get)
		jobs.POST("/:id/cancel", jobsHandler.Cancel)
		jobs.DELETE("/:id", jobsHandler.Delete)
	}

	// 同步式提交，SSE 推送进度
	api.POST("/sync", syncHandler.Sync)

	// 曲库索引
	api.GET("/library", libraryHandler.List)

	// cookies 管理
	cookies := api.Group("/cookies")
	{
		cookies.GET("", cookiesHandler.Status)
		cookies.PUT("", cookiesHandler.Upload)
		cookies.DELETE("", cookiesHandler.Delete)
	}

	// 健康检查
	s.gin.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
}
