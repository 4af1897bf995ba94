package handler

import (
	"net/http"

	"yubal/app/service"

	"github.com/gin-gonic/gin"
)

// LibraryHandler 曲库索引查询接口
type LibraryHandler struct {
	library *service.LibraryService
}

// NewLibraryHandler 创建曲库接口处理器
func NewLibraryHandler(library *service.LibraryService) *LibraryHandler {
	return &LibraryHandler{library: library}
}

// List 返回已导入的专辑索引，按导入时间倒序
// GET /api/library
func (h *LibraryHandler) List(c *gin.Context) {
	albums, err := h.library.List()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"albums": albums})
}
