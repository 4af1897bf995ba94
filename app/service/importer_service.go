package service

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"yubal/app/config"
	"yubal/app/logger"
	"yubal/app/model"
	"yubal/app/utils/cover"
	"yubal/app/utils/m3u"
	"yubal/app/utils/pathhelper"
)

const beetsImportTimeout = 5 * time.Minute

// IsAlbumPlaylist 判断 playlist_id 是否指向官方专辑。
// OLAK5uy_ 开头是专辑歌单，MPREb_ 开头是专辑浏览页，
// 其余一律按用户歌单处理。
func IsAlbumPlaylist(playlistID string) bool {
	return strings.HasPrefix(playlistID, "OLAK5uy_") || strings.HasPrefix(playlistID, "MPREb_")
}

// ImporterService 导入服务：官方专辑交给 beets 打标签入库，
// 用户歌单手动整理到歌单目录并生成 M3U 和封面。
type ImporterService struct {
	logger  *logger.Logger
	library *LibraryService
	covers  *cover.Fetcher

	beetsPath    string
	beetsConfig  string
	libraryDir   string
	playlistsDir string
}

// NewImporterService 创建导入服务
func NewImporterService(log *logger.Logger, cfg config.LibraryConfig, library *LibraryService, covers *cover.Fetcher) *ImporterService {
	return &ImporterService{
		logger:       log,
		library:      library,
		covers:       covers,
		beetsPath:    cfg.BeetsPath,
		beetsConfig:  cfg.BeetsConfig,
		libraryDir:   cfg.LibraryDir,
		playlistsDir: cfg.PlaylistsDir,
	}
}

// Import 把下载产物整理进曲库
func (s *ImporterService) Import(ctx context.Context, fetch *model.FetchResult, onProgress ProgressFunc) (*model.ImportResult, error) {
	var result *model.ImportResult
	var err error

	if IsAlbumPlaylist(fetch.Album.PlaylistID) {
		result, err = s.importWithBeets(ctx, fetch, onProgress)
	} else {
		result, err = s.organizePlaylist(ctx, fetch, onProgress)
	}
	if err != nil {
		return nil, err
	}

	if s.library != nil {
		s.library.Record(result.Album, result.Destination, result.TrackCount)
	}
	return result, nil
}

// importWithBeets 调用 beets 子进程完成打标签和归档。
// beets 偶尔会停下来等确认，stdin 持续喂换行让它走默认选项，
// 整个导入有超时兜底。
func (s *ImporterService) importWithBeets(ctx context.Context, fetch *model.FetchResult, onProgress ProgressFunc) (*model.ImportResult, error) {
	ctx, cancel := context.WithTimeout(ctx, beetsImportTimeout)
	defer cancel()

	if err := os.MkdirAll(s.libraryDir, 0755); err != nil {
		return nil, fmt.Errorf("创建曲库目录失败: %w", err)
	}

	args := []string{}
	if s.beetsConfig != "" {
		args = append(args, "--config", s.beetsConfig)
	}
	args = append(args, "--directory", s.libraryDir, "import", "-q", fetch.OutputDir)

	cmd := exec.CommandContext(ctx, s.beetsPath, args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("创建 beets 输入管道失败: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("创建 beets 输出管道失败: %w", err)
	}
	cmd.Stderr = cmd.Stdout

	s.logger.Infof("beets 导入开始: %s", fetch.OutputDir)
	importStart := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("启动 beets 失败: %w", err)
	}

	// 持续喂换行，任何交互式提问都走默认选项
	go feedNewlines(ctx, stdin)

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		onProgress("[beets] "+line, -1)
	}

	if err := cmd.Wait(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("beets 导入超时")
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("beets 导入失败: %w", err)
	}

	destination := s.findNewestAlbumDir(importStart)
	if destination == "" {
		destination = s.libraryDir
	}
	onProgress(fmt.Sprintf("导入完成: %s", destination), 100)

	return &model.ImportResult{
		Album:       fetch.Album,
		Destination: destination,
		TrackCount:  len(fetch.Files),
	}, nil
}

// organizePlaylist 把用户歌单整理到歌单目录：清洗目录名、搬移文件、
// 生成方形封面和扩展 M3U
func (s *ImporterService) organizePlaylist(ctx context.Context, fetch *model.FetchResult, onProgress ProgressFunc) (*model.ImportResult, error) {
	name := pathhelper.CleanFilename(fetch.Album.Title)
	destDir := filepath.Join(s.playlistsDir, name)
	if err := os.MkdirAll(destDir, 0755); err != nil {
		return nil, fmt.Errorf("创建歌单目录失败: %w", err)
	}

	var entries []m3u.Entry
	total := len(fetch.Files)
	for i, src := range fetch.Files {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		base := pathhelper.CleanFilename(filepath.Base(src))
		dest := filepath.Join(destDir, base)
		if err := moveFile(src, dest); err != nil {
			return nil, fmt.Errorf("移动文件失败: %w", err)
		}

		track := model.TrackInfo{Title: strings.TrimSuffix(base, filepath.Ext(base)), Artist: fetch.Album.Artist}
		if i < len(fetch.Album.Tracks) {
			track = fetch.Album.Tracks[i]
		}
		entries = append(entries, m3u.Entry{
			Path:  filepath.Join(name, base),
			Track: track,
		})
		onProgress(fmt.Sprintf("已整理: %s", base), float64(i+1)/float64(total)*100)
	}

	if fetch.Album.CoverURL != "" && s.covers != nil {
		coverPath := filepath.Join(destDir, "cover.jpg")
		if err := s.covers.SaveCover(ctx, fetch.Album.CoverURL, coverPath); err != nil {
			s.logger.Warnf("保存封面失败: %v", err)
			onProgress(fmt.Sprintf("保存封面失败: %v", err), -1)
		} else {
			onProgress("封面已保存", -1)
		}
	}

	playlistPath := filepath.Join(s.playlistsDir, name+".m3u")
	if err := m3u.Write(playlistPath, entries); err != nil {
		return nil, fmt.Errorf("写入歌单文件失败: %w", err)
	}
	onProgress(fmt.Sprintf("歌单已生成: %s", playlistPath), 100)

	return &model.ImportResult{
		Album:       fetch.Album,
		Destination: destDir,
		TrackCount:  total,
	}, nil
}

// findNewestAlbumDir 在曲库里找 beets 本次导入产生的专辑目录：
// 布局固定为 艺人/专辑 两层，取导入开始之后有改动的最新目录
func (s *ImporterService) findNewestAlbumDir(since time.Time) string {
	artists, err := os.ReadDir(s.libraryDir)
	if err != nil {
		return ""
	}

	newest := ""
	var newestTime time.Time
	for _, artist := range artists {
		if !artist.IsDir() {
			continue
		}
		albums, err := os.ReadDir(filepath.Join(s.libraryDir, artist.Name()))
		if err != nil {
			continue
		}
		for _, album := range albums {
			if !album.IsDir() {
				continue
			}
			info, err := album.Info()
			if err != nil {
				continue
			}
			if info.ModTime().After(since.Add(-time.Second)) && info.ModTime().After(newestTime) {
				newest = filepath.Join(s.libraryDir, artist.Name(), album.Name())
				newestTime = info.ModTime()
			}
		}
	}
	return newest
}

// feedNewlines 每秒向子进程 stdin 写一个换行，直到进程结束
func feedNewlines(ctx context.Context, stdin io.WriteCloser) {
	defer stdin.Close()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := io.WriteString(stdin, "\n"); err != nil {
				return
			}
		}
	}
}

// moveFile 优先用 rename，跨文件系统时退回复制再删除
func moveFile(src, dest string) error {
	if err := os.Rename(src, dest); err == nil {
		return nil
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Remove(src)
}
