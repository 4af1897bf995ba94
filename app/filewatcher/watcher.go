package filewatcher

import (
	"os"
	"path/filepath"
	"sync"

	"yubal/app/logger"

	"github.com/fsnotify/fsnotify"
)

// CookiesWatcher 监控 cookies 文件的变化。cookies 过期是下载失败最常见的
// 原因，文件被替换或删除时记一条日志，方便排查。监控的是父目录，
// 这样文件被原子替换（写临时文件再 rename）也能收到事件。
type CookiesWatcher struct {
	path    string
	logger  *logger.Logger
	watcher *fsnotify.Watcher

	mu      sync.Mutex
	running bool
	done    chan struct{}
}

// NewCookiesWatcher 创建 cookies 文件监控器
func NewCookiesWatcher(path string, log *logger.Logger) *CookiesWatcher {
	return &CookiesWatcher{
		path:   path,
		logger: log,
	}
}

// Start 启动监控
func (w *CookiesWatcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running || w.path == "" {
		return nil
	}

	dir := filepath.Dir(w.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return err
	}

	w.watcher = watcher
	w.running = true
	w.done = make(chan struct{})
	go w.loop()

	w.logger.Infof("cookies 文件监控已启动: %s", w.path)
	return nil
}

// Stop 停止监控
func (w *CookiesWatcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.running {
		return nil
	}
	w.running = false

	err := w.watcher.Close()
	<-w.done
	w.logger.Info("cookies 文件监控已停止")
	return err
}

func (w *CookiesWatcher) loop() {
	defer close(w.done)

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			switch {
			case event.Has(fsnotify.Create):
				w.logger.Infof("cookies 文件已创建: %s", w.path)
			case event.Has(fsnotify.Write):
				w.logger.Infof("cookies 文件已更新: %s", w.path)
			case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
				w.logger.Warnf("cookies 文件已被移除: %s", w.path)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Errorf("cookies 文件监控出错: %v", err)
		}
	}
}
