package service

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"yubal/app/config"
	"yubal/app/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsAlbumPlaylist(t *testing.T) {
	tests := []struct {
		name       string
		playlistID string
		want       bool
	}{
		{"专辑歌单", "OLAK5uy_abc123", true},
		{"专辑浏览页", "MPREb_xyz", true},
		{"用户歌单", "PLabc123", false},
		{"电台歌单", "RDCLAK5uy_abc", false},
		{"空 ID", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsAlbumPlaylist(tt.playlistID))
		})
	}
}

func newTestImporter(t *testing.T) (*ImporterService, string, string) {
	t.Helper()
	libraryDir := t.TempDir()
	playlistsDir := t.TempDir()
	imp := NewImporterService(testLogger(), config.LibraryConfig{
		LibraryDir:   libraryDir,
		PlaylistsDir: playlistsDir,
		BeetsPath:    "beet",
	}, nil, nil)
	return imp, libraryDir, playlistsDir
}

func writePlaylistFetch(t *testing.T, title string) *model.FetchResult {
	t.Helper()
	outputDir := t.TempDir()
	files := []string{
		filepath.Join(outputDir, "01 - First.mp3"),
		filepath.Join(outputDir, "02 - Second.mp3"),
	}
	for _, f := range files {
		require.NoError(t, os.WriteFile(f, []byte("audio"), 0644))
	}

	return &model.FetchResult{
		Album: &model.AlbumInfo{
			Title:      title,
			Artist:     "Various",
			TrackCount: 2,
			Tracks: []model.TrackInfo{
				{Title: "First", Artist: "Artist A", TrackNumber: 1, Duration: 180},
				{Title: "Second", Artist: "Artist B", TrackNumber: 2, Duration: 200},
			},
			PlaylistID: "PLuser123",
			URL:        "https://music.youtube.com/playlist?list=PLuser123",
		},
		OutputDir: outputDir,
		Files:     files,
	}
}

func TestOrganizePlaylist(t *testing.T) {
	imp, _, playlistsDir := newTestImporter(t)
	fetch := writePlaylistFetch(t, "My Mix")

	var lastProgress float64
	result, err := imp.Import(context.Background(), fetch, func(message string, progress float64) {
		if progress >= 0 {
			lastProgress = progress
		}
	})
	require.NoError(t, err)

	// 文件被搬进歌单目录
	destDir := filepath.Join(playlistsDir, "My Mix")
	assert.Equal(t, destDir, result.Destination)
	assert.Equal(t, 2, result.TrackCount)
	assert.FileExists(t, filepath.Join(destDir, "01 - First.mp3"))
	assert.FileExists(t, filepath.Join(destDir, "02 - Second.mp3"))
	assert.NoFileExists(t, fetch.Files[0], "原始文件必须被移走")

	// 歌单文件使用相对路径
	data, err := os.ReadFile(filepath.Join(playlistsDir, "My Mix.m3u"))
	require.NoError(t, err)
	content := string(data)
	assert.True(t, strings.HasPrefix(content, "#EXTM3U\n"))
	assert.Contains(t, content, "#EXTINF:180,Artist A - First")
	assert.Contains(t, content, filepath.Join("My Mix", "01 - First.mp3"))
	assert.True(t, strings.HasSuffix(content, "\n"))

	assert.Equal(t, 100.0, lastProgress)
}

func TestOrganizePlaylistSanitizesName(t *testing.T) {
	imp, _, playlistsDir := newTestImporter(t)
	fetch := writePlaylistFetch(t, `Mix: "Best/Of" 2024?`)

	result, err := imp.Import(context.Background(), fetch, func(string, float64) {})
	require.NoError(t, err)

	assert.NotContains(t, filepath.Base(result.Destination), "/")
	assert.NotContains(t, filepath.Base(result.Destination), "?")
	assert.True(t, strings.HasPrefix(result.Destination, playlistsDir))
}

func TestOrganizePlaylistCancelled(t *testing.T) {
	imp, _, _ := newTestImporter(t)
	fetch := writePlaylistFetch(t, "Cancelled Mix")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := imp.Import(ctx, fetch, func(string, float64) {})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMoveFileAcrossDirs(t *testing.T) {
	srcDir := t.TempDir()
	destDir := t.TempDir()

	src := filepath.Join(srcDir, "a.mp3")
	require.NoError(t, os.WriteFile(src, []byte("payload"), 0644))

	dest := filepath.Join(destDir, "a.mp3")
	require.NoError(t, moveFile(src, dest))

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))
	assert.NoFileExists(t, src)
}

func TestFindNewestAlbumDir(t *testing.T) {
	imp, libraryDir, _ := newTestImporter(t)

	albumDir := filepath.Join(libraryDir, "Artist", "Album")
	require.NoError(t, os.MkdirAll(albumDir, 0755))

	found := imp.findNewestAlbumDir(time.Now().Add(-time.Minute))
	assert.Equal(t, albumDir, found)
}
