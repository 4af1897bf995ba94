package cover

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encodeTestImage(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x % 256), G: uint8(y % 256), B: 64, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	return buf.Bytes()
}

func TestCropSquare(t *testing.T) {
	tests := []struct {
		name string
		w, h int
		want int
	}{
		{"横图裁成短边", 1280, 720, 720},
		{"竖图裁成短边", 600, 900, 600},
		{"方图原样返回", 500, 500, 500},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			img := image.NewRGBA(image.Rect(0, 0, tt.w, tt.h))
			out := CropSquare(img)
			assert.Equal(t, tt.want, out.Bounds().Dx())
			assert.Equal(t, tt.want, out.Bounds().Dy())
		})
	}
}

func TestNormalizeProducesSquareJPEG(t *testing.T) {
	raw := encodeTestImage(t, 1280, 720)

	data, err := Normalize(raw)
	require.NoError(t, err)

	img, format, err := image.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, "jpeg", format)
	assert.Equal(t, img.Bounds().Dx(), img.Bounds().Dy())
	assert.Equal(t, 720, img.Bounds().Dx())
}

func TestNormalizeCapsLargeCovers(t *testing.T) {
	raw := encodeTestImage(t, 2000, 2000)

	data, err := Normalize(raw)
	require.NoError(t, err)

	img, _, err := image.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, maxCoverSize, img.Bounds().Dx())
	assert.Equal(t, maxCoverSize, img.Bounds().Dy())
}

func TestNormalizeRejectsGarbage(t *testing.T) {
	_, err := Normalize([]byte("definitely not an image"))
	assert.Error(t, err)
}
