package handler

import (
	"io"
	"net/http"
	"os"
	"path/filepath"

	"yubal/app/logger"

	"github.com/gin-gonic/gin"
)

const maxCookiesSize = 1 << 20 // 1MB

// CookiesHandler 管理 yt-dlp 使用的 cookies 文件。
// cookies 里有账号凭据，接口只报告状态，绝不回显内容。
type CookiesHandler struct {
	path   string
	logger *logger.Logger
}

// NewCookiesHandler 创建 cookies 接口处理器
func NewCookiesHandler(path string, log *logger.Logger) *CookiesHandler {
	return &CookiesHandler{
		path:   path,
		logger: log,
	}
}

// Status 查询 cookies 文件状态
// GET /api/cookies
func (h *CookiesHandler) Status(c *gin.Context) {
	info, err := os.Stat(h.path)
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"exists": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"exists":      true,
		"size":        info.Size(),
		"modified_at": info.ModTime(),
	})
}

// Upload 用请求体整体替换 cookies 文件
// PUT /api/cookies
func (h *CookiesHandler) Upload(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxCookiesSize+1))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "读取请求体失败"})
		return
	}
	if len(body) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cookies 内容为空"})
		return
	}
	if len(body) > maxCookiesSize {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "cookies 文件过大"})
		return
	}

	if err := os.MkdirAll(filepath.Dir(h.path), 0755); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if err := os.WriteFile(h.path, body, 0600); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	h.logger.Infof("cookies 文件已更新: %d 字节", len(body))
	c.JSON(http.StatusOK, gin.H{"updated": true, "size": len(body)})
}

// Delete 删除 cookies 文件
// DELETE /api/cookies
func (h *CookiesHandler) Delete(c *gin.Context) {
	if err := os.Remove(h.path); err != nil {
		if os.IsNotExist(err) {
			c.JSON(http.StatusNotFound, gin.H{"error": "cookies 文件不存在"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	h.logger.Info("cookies 文件已删除")
	c.JSON(http.StatusOK, gin.H{"deleted": true})
}
