package model

import (
	"time"
)

// LibraryAlbum 曲库索引记录，每次导入成功后写入一条
type LibraryAlbum struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	Artist      string    `gorm:"index" json:"artist"`
	Title       string    `json:"title"`
	Year        int       `json:"year,omitempty"`
	PlaylistID  string    `gorm:"index" json:"playlist_id"`
	Destination string    `json:"destination"`
	TrackCount  int       `json:"track_count"`
	ImportedAt  time.Time `json:"imported_at"`
}

// TableName 指定表名
func (LibraryAlbum) TableName() string {
	return "library_albums"
}
