package util

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

// legacyCharmap 非 UTF-8 字节按 Windows-1252 还原（Cisco/Juniper 描述中常见的 Latin-1 字符）
var legacyCharmap = charmap.Windows1252

// EnsureUTF8Bytes 将设备输出转成 UTF-8 文本；合法的 UTF-8 序列原样保留，
// 每个非法字节单独映射为一个字符，不会吞掉后续字节
func EnsureUTF8Bytes(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	if utf8.Valid(b) {
		return string(b)
	}
	var sb strings.Builder
	sb.Grow(len(b) + len(b)/2)
	for len(b) > 0 {
		r, size := utf8.DecodeRune(b)
		if r == utf8.RuneError && size == 1 {
			sb.WriteRune(legacyCharmap.DecodeByte(b[0]))
		} else {
			sb.Write(b[:size])
		}
		b = b[size:]
	}
	return sb.String()
}

var ansiEscape = regexp.MustCompile(`\x1b\[[0-9;?]*[A-Za-z]`)

// CleanTerminal 清理终端控制字符：ANSI 转义、退格覆盖（分页符擦除），统一换行为 \n
func CleanTerminal(s string) string {
	s = ansiEscape.ReplaceAllString(s, "")
	if strings.ContainsRune(s, '\b') {
		var out []rune
		for _, r := range s {
			if r == '\b' {
				if len(out) > 0 {
					out = out[:len(out)-1]
				}
				continue
			}
			out = append(out, r)
		}
		s = string(out)
	}
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	return s
}

// Lines 清理后按行切分
func Lines(s string) []string {
	return strings.Split(CleanTerminal(s), "\n")
}
