package service

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"yubal/app/config"
	"yubal/app/logger"
	"yubal/app/model"
)

// 下载产物认定为音频的扩展名
var audioExtensions = map[string]bool{
	".mp3":  true,
	".m4a":  true,
	".opus": true,
	".flac": true,
	".ogg":  true,
	".aac":  true,
	".wav":  true,
}

// 匹配 yt-dlp --newline 输出的下载进度行，例如 "[download]  42.3% of 5.2MiB at ..."
var downloadPercentPattern = regexp.MustCompile(`^\[download\]\s+(\d+(?:\.\d+)?)%`)

// DownloaderService 通过 yt-dlp 子进程下载 YouTube Music 专辑。
// 所有子进程都用 exec.CommandContext 启动，取消任务时直接终止进程，
// 而不是等它自己跑完。
type DownloaderService struct {
	logger    *logger.Logger
	ytdlpPath string
}

// NewDownloaderService 创建下载服务
func NewDownloaderService(log *logger.Logger, cfg config.DownloadConfig) *DownloaderService {
	return &DownloaderService{
		logger:    log,
		ytdlpPath: cfg.YtdlpPath,
	}
}

// ytdlpInfo --dump-single-json 输出中我们关心的字段
type ytdlpInfo struct {
	ID          string           `json:"id"`
	Title       string           `json:"title"`
	Album       string           `json:"album"`
	Artist      string           `json:"artist"`
	Uploader    string           `json:"uploader"`
	Channel     string           `json:"channel"`
	ReleaseYear int              `json:"release_year"`
	UploadDate  string           `json:"upload_date"`
	Duration    float64          `json:"duration"`
	Entries     []ytdlpInfo      `json:"entries"`
	Thumbnails  []ytdlpThumbnail `json:"thumbnails"`
}

type ytdlpThumbnail struct {
	URL    string `json:"url"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// Resolve 只解析元数据，不下载任何内容
func (d *DownloaderService) Resolve(ctx context.Context, url string) (*model.AlbumInfo, error) {
	args := []string{
		"--dump-single-json",
		"--flat-playlist",
		"--no-warnings",
		url,
	}

	cmd := exec.CommandContext(ctx, d.ytdlpPath, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	d.logger.Debugf("解析元数据: %s %s", d.ytdlpPath, strings.Join(args, " "))
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("yt-dlp 解析失败: %s", ytdlpErrorLine(stderr.String(), err))
	}

	var info ytdlpInfo
	if err := json.Unmarshal(stdout.Bytes(), &info); err != nil {
		return nil, fmt.Errorf("解析 yt-dlp 输出失败: %w", err)
	}

	album := parseAlbumInfo(&info, url)
	if album.TrackCount == 0 {
		return nil, fmt.Errorf("URL 中没有可下载的曲目")
	}
	return album, nil
}

// Download 下载专辑全部曲目到 dir，进度通过回调上报
func (d *DownloaderService) Download(ctx context.Context, album *model.AlbumInfo, dir string, opts model.DownloadOptions, onProgress ProgressFunc) (*model.FetchResult, error) {
	args := []string{
		"-f", "bestaudio/best",
		"-x",
		"--audio-format", opts.AudioFormat,
		"--audio-quality", opts.AudioQuality,
		"--embed-thumbnail",
		"--add-metadata",
		"--newline",
		"--no-warnings",
		"-o", filepath.Join(dir, "%(playlist_index|0)02d - %(title)s.%(ext)s"),
	}
	if opts.CookiesFile != "" {
		if _, err := os.Stat(opts.CookiesFile); err == nil {
			args = append(args, "--cookies", opts.CookiesFile)
		}
	}
	args = append(args, album.URL)

	cmd := exec.CommandContext(ctx, d.ytdlpPath, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("创建输出管道失败: %w", err)
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	d.logger.Infof("开始下载: %s (%d 首)", album.Title, album.TrackCount)
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("启动 yt-dlp 失败: %w", err)
	}

	d.streamProgress(stdout, album.TrackCount, onProgress)

	if err := cmd.Wait(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("yt-dlp 下载失败: %s", ytdlpErrorLine(stderr.String(), err))
	}

	files, err := collectAudioFiles(dir)
	if err != nil {
		return nil, fmt.Errorf("扫描下载目录失败: %w", err)
	}

	return &model.FetchResult{
		Album:     album,
		OutputDir: dir,
		Files:     files,
	}, nil
}

// streamProgress 逐行解析 yt-dlp 输出，换算成整张专辑的总体进度。
// 单曲进度按 (已完成曲目数 + 当前曲目百分比) / 总数 折算到 0-100。
func (d *DownloaderService) streamProgress(r io.Reader, trackCount int, onProgress ProgressFunc) {
	if trackCount <= 0 {
		trackCount = 1
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	started := -1 // 已经开始下载的曲目数减一
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "[download] Destination:") {
			started++
			name := filepath.Base(strings.TrimSpace(strings.TrimPrefix(line, "[download] Destination:")))
			onProgress(fmt.Sprintf("正在下载: %s", name), overallPercent(started, 0, trackCount))
			continue
		}

		if m := downloadPercentPattern.FindStringSubmatch(line); m != nil {
			pct, err := strconv.ParseFloat(m[1], 64)
			if err != nil || started < 0 {
				continue
			}
			onProgress(line, overallPercent(started, pct, trackCount))
			continue
		}

		if strings.HasPrefix(line, "[ExtractAudio] Destination:") {
			name := filepath.Base(strings.TrimSpace(strings.TrimPrefix(line, "[ExtractAudio] Destination:")))
			onProgress(fmt.Sprintf("已完成: %s", name), overallPercent(started, 100, trackCount))
			continue
		}
	}
}

func overallPercent(started int, trackPct float64, trackCount int) float64 {
	if started < 0 {
		started = 0
	}
	pct := (float64(started) + trackPct/100) / float64(trackCount) * 100
	if pct > 100 {
		pct = 100
	}
	return pct
}

// parseAlbumInfo 把 yt-dlp 的输出整理成专辑元数据
func parseAlbumInfo(info *ytdlpInfo, url string) *model.AlbumInfo {
	album := &model.AlbumInfo{
		Title:      firstNonEmpty(info.Title, "Unknown Album"),
		Artist:     firstNonEmpty(info.Uploader, info.Channel, "Unknown"),
		Year:       extractYear(info),
		PlaylistID: info.ID,
		CoverURL:   pickSquareThumbnail(info.Thumbnails),
		URL:        url,
	}

	if len(info.Entries) > 0 {
		for i, entry := range info.Entries {
			album.Tracks = append(album.Tracks, model.TrackInfo{
				Title:       firstNonEmpty(entry.Title, fmt.Sprintf("Track %d", i+1)),
				Artist:      firstNonEmpty(entry.Artist, entry.Uploader, album.Artist),
				TrackNumber: i + 1,
				Duration:    int(entry.Duration),
			})
		}
		album.TrackCount = len(album.Tracks)
		return album
	}

	// 单曲
	album.Title = firstNonEmpty(info.Album, info.Title, "Unknown")
	album.Artist = firstNonEmpty(info.Artist, info.Uploader, "Unknown")
	album.Tracks = []model.TrackInfo{{
		Title:       firstNonEmpty(info.Title, "Unknown"),
		Artist:      firstNonEmpty(info.Artist, "Unknown"),
		TrackNumber: 1,
		Duration:    int(info.Duration),
	}}
	album.TrackCount = 1
	return album
}

// pickSquareThumbnail 优先取最大的方形封面，没有方形就取最后一张
func pickSquareThumbnail(thumbs []ytdlpThumbnail) string {
	best := ""
	bestWidth := 0
	for _, t := range thumbs {
		if t.Width == t.Height && t.Width > bestWidth {
			best = t.URL
			bestWidth = t.Width
		}
	}
	if best != "" {
		return best
	}
	if len(thumbs) > 0 {
		return thumbs[len(thumbs)-1].URL
	}
	return ""
}

func extractYear(info *ytdlpInfo) int {
	if info.ReleaseYear > 0 {
		return info.ReleaseYear
	}
	if len(info.UploadDate) >= 4 {
		if year, err := strconv.Atoi(info.UploadDate[:4]); err == nil {
			return year
		}
	}
	return 0
}

// collectAudioFiles 扫描目录中的音频文件，按文件名排序
func collectAudioFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var files []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if audioExtensions[strings.ToLower(filepath.Ext(entry.Name()))] {
			files = append(files, filepath.Join(dir, entry.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}

// ytdlpErrorLine 从 stderr 里提取最后一条 ERROR 行，没有就退回进程错误
func ytdlpErrorLine(stderr string, fallback error) string {
	lines := strings.Split(strings.TrimSpace(stderr), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if strings.HasPrefix(line, "ERROR") {
			return line
		}
	}
	if len(lines) > 0 && lines[len(lines)-1] != "" {
		return lines[len(lines)-1]
	}
	return fallback.Error()
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
