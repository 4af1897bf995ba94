package pathhelper

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCleanFilename(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"普通名字", "My Album", "My Album"},
		{"斜杠替换", "AC/DC", "AC_DC"},
		{"冒号替换", "Live: At Home", "Live- At Home"},
		{"问号和星号删除", "What? The * Best", "What The  Best"},
		{"引号和尖括号", `He said "<hi>"`, "He said '(hi)'"},
		{"竖线", "A|B", "A-B"},
		{"首尾空白", "  spaced  ", "spaced"},
		{"首尾点", "..hidden.", "hidden"},
		{"空串兜底", "", "Unknown"},
		{"全是非法字符", "???", "Unknown"},
		{"中文保留", "周杰伦 - 十一月的萧邦", "周杰伦 - 十一月的萧邦"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CleanFilename(tt.input))
		})
	}
}

func TestCleanFilenameLengthCap(t *testing.T) {
	long := strings.Repeat("很", 500)
	got := CleanFilename(long)
	assert.LessOrEqual(t, len([]rune(got)), 180)
	assert.NotEmpty(t, got)
}

func TestCleanFilenameNormalizesUnicode(t *testing.T) {
	// e + 组合重音符 归一成单个预组合字符
	decomposed := "Cafe\u0301"
	assert.Equal(t, "Caf\u00e9", CleanFilename(decomposed))
}
