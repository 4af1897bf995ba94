package config

import (
	"fmt"
	"log"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Log      LogConfig      `mapstructure:"log"`
	Download DownloadConfig `mapstructure:"download"`
	Library  LibraryConfig  `mapstructure:"library"`
	Queue    QueueConfig    `mapstructure:"queue"`
}

type ServerConfig struct {
	Port string `mapstructure:"port"`
}

type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`      // json 或 text
	Output     string `mapstructure:"output"`      // stdout 或 file
	MaxSize    int    `mapstructure:"max_size"`    // 兆字节
	MaxBackups int    `mapstructure:"max_backups"` // 备份数量
	MaxAge     int    `mapstructure:"max_age"`     // 天数
	Compress   bool   `mapstructure:"compress"`    // 是否压缩旧文件
}

type DownloadConfig struct {
	YtdlpPath    string `mapstructure:"ytdlp_path"`    // yt-dlp 可执行文件路径
	AudioFormat  string `mapstructure:"audio_format"`  // 目标音频格式
	AudioQuality string `mapstructure:"audio_quality"` // ffmpeg 音质参数，0 为最高
	TempDir      string `mapstructure:"temp_dir"`      // 每个任务的临时下载目录
	CookiesFile  string `mapstructure:"cookies_file"`  // yt-dlp cookies 文件路径
}

type LibraryConfig struct {
	LibraryDir   string `mapstructure:"library_dir"`   // beets 管理的专辑库目录
	PlaylistsDir string `mapstructure:"playlists_dir"` // 歌单文件的输出目录
	BeetsPath    string `mapstructure:"beets_path"`    // beet 可执行文件路径
	BeetsConfig  string `mapstructure:"beets_config"`  // beets 配置文件，空则使用 beets 默认
	DatabasePath string `mapstructure:"database_path"` // 曲库索引 sqlite 文件
}

type QueueConfig struct {
	MaxPending    int    `mapstructure:"max_pending"`    // 允许排队的 pending 任务数，0 表示有任务未结束即拒绝提交
	CleanupCron   string `mapstructure:"cleanup_cron"`   // 终态任务定时清理表达式
	RetentionDays int    `mapstructure:"retention_days"` // 终态任务保留天数
}

func Load() *Config {
	setDefaults()

	// 读取配置
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			log.Println("未找到配置文件，使用默认配置")
		} else {
			log.Fatalf("读取配置文件出错: %v", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		log.Fatalf("无法解码配置: %v", err)
	}

	// 验证配置
	if err := validateConfig(&config); err != nil {
		log.Fatalf("配置验证失败: %v", err)
	}

	return &config
}

// setDefaults 设置默认配置
func setDefaults() {
	viper.SetDefault("server.port", "8080")

	// 日志默认配置
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "text")
	viper.SetDefault("log.output", "stdout")
	viper.SetDefault("log.max_size", 100)
	viper.SetDefault("log.max_backups", 3)
	viper.SetDefault("log.max_age", 28)
	viper.SetDefault("log.compress", true)

	// 下载默认配置
	viper.SetDefault("download.ytdlp_path", "yt-dlp")
	viper.SetDefault("download.audio_format", "mp3")
	viper.SetDefault("download.audio_quality", "0")
	viper.SetDefault("download.temp_dir", "data/tmp")
	viper.SetDefault("download.cookies_file", "data/cookies.txt")

	// 曲库默认配置
	viper.SetDefault("library.library_dir", "data/music")
	viper.SetDefault("library.playlists_dir", "data/music/Playlists")
	viper.SetDefault("library.beets_path", "beet")
	viper.SetDefault("library.database_path", "data/yubal.db")

	// 队列默认配置
	viper.SetDefault("queue.max_pending", 0)
	viper.SetDefault("queue.cleanup_cron", "0 4 * * *")
	viper.SetDefault("queue.retention_days", 7)
}

// validateConfig 验证配置的有效性
func validateConfig(config *Config) error {
	if config.Server.Port == "" {
		return fmt.Errorf("服务器端口未设置")
	}
	if config.Download.AudioFormat == "" {
		return fmt.Errorf("音频格式未设置")
	}
	if config.Library.LibraryDir == "" {
		return fmt.Errorf("曲库目录未设置")
	}
	if config.Queue.MaxPending < 0 {
		return fmt.Errorf("queue.max_pending 不能为负数")
	}
	return nil
}
