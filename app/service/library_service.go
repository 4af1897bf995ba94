package service

import (
	"time"

	"yubal/app/logger"
	"yubal/app/model"

	"gorm.io/gorm"
)

// LibraryService 曲库索引：记录每次成功导入的专辑，
// 供查询接口和重复导入提示使用。索引只是辅助信息，
// 写入失败不影响任务结果。
type LibraryService struct {
	db     *gorm.DB
	logger *logger.Logger
}

// NewLibraryService 创建曲库索引服务
func NewLibraryService(db *gorm.DB, log *logger.Logger) *LibraryService {
	return &LibraryService{
		db:     db,
		logger: log,
	}
}

// Record 记录一次成功的导入
func (s *LibraryService) Record(album *model.AlbumInfo, destination string, trackCount int) {
	if s.db == nil {
		return
	}

	entry := model.LibraryAlbum{
		Artist:      album.Artist,
		Title:       album.Title,
		Year:        album.Year,
		PlaylistID:  album.PlaylistID,
		Destination: destination,
		TrackCount:  trackCount,
		ImportedAt:  time.Now(),
	}
	if err := s.db.Create(&entry).Error; err != nil {
		s.logger.Warnf("写入曲库索引失败: %v", err)
	}
}

// HasPlaylist 按 playlist_id 检查专辑是否已经导入过
func (s *LibraryService) HasPlaylist(playlistID string) bool {
	if s.db == nil || playlistID == "" {
		return false
	}

	var count int64
	if err := s.db.Model(&model.LibraryAlbum{}).Where("playlist_id = ?", playlistID).Count(&count).Error; err != nil {
		s.logger.Warnf("查询曲库索引失败: %v", err)
		return false
	}
	return count > 0
}

// List 按导入时间倒序返回曲库索引
func (s *LibraryService) List() ([]model.LibraryAlbum, error) {
	if s.db == nil {
		return nil, nil
	}

	var albums []model.LibraryAlbum
	err := s.db.Order("imported_at DESC").Find(&albums).Error
	return albums, err
}
