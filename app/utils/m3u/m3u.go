package m3u

import (
	"fmt"
	"os"
	"strings"

	"yubal/app/model"
)

// Entry 歌单中的一行：文件的相对路径和它的曲目信息
type Entry struct {
	Path  string
	Track model.TrackInfo
}

// Generate 生成扩展 M3U 内容。路径按传入顺序写出，
// 时长未知时写 -1，结尾保证有换行。
func Generate(entries []Entry) string {
	var b strings.Builder
	b.WriteString("#EXTM3U\n")
	for _, e := range entries {
		duration := e.Track.Duration
		if duration <= 0 {
			duration = -1
		}
		b.WriteString(fmt.Sprintf("#EXTINF:%d,%s - %s\n", duration, e.Track.Artist, e.Track.Title))
		b.WriteString(e.Path)
		b.WriteString("\n")
	}
	return b.String()
}

// Write 把歌单写到磁盘
func Write(path string, entries []Entry) error {
	return os.WriteFile(path, []byte(Generate(entries)), 0644)
}
