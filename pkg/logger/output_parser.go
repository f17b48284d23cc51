package logger

import (
	"strings"

	"github.com/sirupsen/logrus"
)

// OutputLines 命令输出的头部和尾部行
type OutputLines struct {
	HeadLines []string `json:"head_lines"`
	TailLines []string `json:"tail_lines"`
}

// ParseOutputLines 提取输出的前后 maxLines 行（默认 5），总行数不足时 head 与 tail 相同
func ParseOutputLines(output string, maxLines int) OutputLines {
	if maxLines <= 0 {
		maxLines = 5
	}
	output = strings.ReplaceAll(output, "\r\n", "\n")
	output = strings.ReplaceAll(output, "\r", "\n")
	output = strings.TrimRight(output, "\n")
	if output == "" {
		return OutputLines{}
	}

	lines := strings.Split(output, "\n")
	n := len(lines)
	if n <= maxLines {
		return OutputLines{
			HeadLines: append([]string(nil), lines...),
			TailLines: append([]string(nil), lines...),
		}
	}
	return OutputLines{
		HeadLines: append([]string(nil), lines[:maxLines]...),
		TailLines: append([]string(nil), lines[n-maxLines:]...),
	}
}

// FormatOutputLines 格式化为单行日志文本
func FormatOutputLines(lines OutputLines) string {
	var parts []string
	if len(lines.HeadLines) > 0 {
		parts = append(parts, "head-lines: ["+strings.Join(lines.HeadLines, " ⟩ ")+"]")
	}
	if len(lines.TailLines) > 0 && !equalLines(lines.HeadLines, lines.TailLines) {
		parts = append(parts, "tail-lines: ["+strings.Join(lines.TailLines, " ⟩ ")+"]")
	}
	return strings.Join(parts, ", ")
}

func equalLines(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// DebugCommandOutput 在 debug 级别记录命令回显的 head/tail 行
func DebugCommandOutput(command string, output string, maxLines int) {
	if !GetLogger().IsLevelEnabled(logrus.DebugLevel) {
		return
	}
	lines := ParseOutputLines(output, maxLines)
	if len(lines.HeadLines) == 0 {
		return
	}
	Debugf("Command echo [%s]: %s", command, FormatOutputLines(lines))
}
