package pathhelper

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// 文件名里不允许出现的字符及其替换
var filenameReplacer = strings.NewReplacer(
	"/", "_",
	"\\", "_",
	":", "-",
	"*", "",
	"?", "",
	"\"", "'",
	"<", "(",
	">", ")",
	"|", "-",
	"\x00", "",
)

const maxFilenameRunes = 180

// CleanFilename 把任意字符串整理成可以安全用作文件/目录名的形式。
// Unicode 统一成 NFC，替换文件系统保留字符，并限制长度。
func CleanFilename(name string) string {
	name = norm.NFC.String(name)
	name = filenameReplacer.Replace(name)
	name = strings.TrimSpace(name)
	// 去掉首尾的点，避免隐藏目录和 Windows 下的非法名
	name = strings.Trim(name, ".")

	if runes := []rune(name); len(runes) > maxFilenameRunes {
		name = strings.TrimSpace(string(runes[:maxFilenameRunes]))
	}
	if name == "" {
		return "Unknown"
	}
	return name
}
