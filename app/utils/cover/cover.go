package cover

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"os"
	"time"

	"github.com/disintegration/imaging"
	gocache "github.com/patrickmn/go-cache"
	"resty.dev/v3"
)

const maxCoverSize = 1200

// Fetcher 下载专辑封面并整理成方形 JPEG。
// 同一个 URL 短时间内重复请求走缓存，不再访问网络。
type Fetcher struct {
	client *resty.Client
	cache  *gocache.Cache
}

// NewFetcher 创建封面下载器
func NewFetcher() *Fetcher {
	client := resty.New()
	client.SetTimeout(30 * time.Second)

	return &Fetcher{
		client: client,
		cache:  gocache.New(1*time.Hour, 10*time.Minute),
	}
}

// Close 释放底层 HTTP 客户端
func (f *Fetcher) Close() {
	f.client.Close()
}

// Fetch 下载封面并返回处理好的 JPEG 字节
func (f *Fetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	if url == "" {
		return nil, fmt.Errorf("封面 URL 为空")
	}

	if cached, ok := f.cache.Get(url); ok {
		return cached.([]byte), nil
	}

	resp, err := f.client.R().SetContext(ctx).Get(url)
	if err != nil {
		return nil, fmt.Errorf("下载封面失败: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("下载封面失败: HTTP %d", resp.StatusCode())
	}

	data, err := Normalize(resp.Bytes())
	if err != nil {
		return nil, err
	}

	f.cache.Set(url, data, gocache.DefaultExpiration)
	return data, nil
}

// SaveCover 下载封面并写到指定路径
func (f *Fetcher) SaveCover(ctx context.Context, url, path string) error {
	data, err := f.Fetch(ctx, url)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Normalize 把任意封面图整理成方形 JPEG：居中裁成正方形，
// 超过上限时缩小，小图保持原尺寸不放大。
func Normalize(raw []byte) ([]byte, error) {
	img, err := imaging.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("解码封面失败: %w", err)
	}

	img = CropSquare(img)
	if img.Bounds().Dx() > maxCoverSize {
		img = imaging.Resize(img, maxCoverSize, maxCoverSize, imaging.Lanczos)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
		return nil, fmt.Errorf("编码封面失败: %w", err)
	}
	return buf.Bytes(), nil
}

// CropSquare 以短边为准从中心裁出正方形
func CropSquare(img image.Image) image.Image {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w == h {
		return img
	}

	side := w
	if h < side {
		side = h
	}
	return imaging.CropCenter(img, side, side)
}
