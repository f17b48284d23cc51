package parser

import (
	"regexp"
	"strings"

	"github.com/sshcollectorpro/netops/internal/util"
)

var (
	avocentSerial = regexp.MustCompile(`serial number: (\S+)`)
	chassisLine   = regexp.MustCompile(`^Chassis\s+(\S+)\s+(\S+)$`)
	wlcModel      = regexp.MustCompile(`Model Number\s*:\s*(\S+)`)
	wlcSerial     = regexp.MustCompile(`System Serial Number\s*:\s*(\S+)`)
)

// ParseAvocentSerial 控制台服务器 system/information 中的序列号
func ParseAvocentSerial(raw string) (string, bool) {
	if m := avocentSerial.FindStringSubmatch(raw); m != nil {
		return m[1], true
	}
	return "", false
}

// ParseChassisSerial Junos show chassis hardware 的 Chassis 行序列号
func ParseChassisSerial(raw string) (string, bool) {
	for _, line := range util.Lines(raw) {
		l := strings.TrimSpace(line)
		if !strings.HasPrefix(l, "Chassis") {
			continue
		}
		if m := chassisLine.FindStringSubmatch(l); m != nil {
			return m[1], true
		}
		if parts := strings.Fields(l); len(parts) >= 3 {
			return parts[len(parts)-2], true
		}
	}
	return "", false
}

// ParseWLCVersion 无线控制器 show version 的型号与序列号，缺失时为 Unknown
func ParseWLCVersion(raw string) (model, serial string) {
	model, serial = "Unknown", "Unknown"
	if m := wlcModel.FindStringSubmatch(raw); m != nil {
		model = m[1]
	}
	if m := wlcSerial.FindStringSubmatch(raw); m != nil {
		serial = m[1]
	}
	return model, serial
}

// ParseRoutes Junos show route 中以数字开头且含 / 的行，取首列前缀
func ParseRoutes(raw string) []string {
	var out []string
	for _, line := range util.Lines(raw) {
		l := strings.TrimSpace(line)
		if l == "" || l[0] < '0' || l[0] > '9' || !strings.Contains(l, "/") {
			continue
		}
		out = append(out, strings.Fields(l)[0])
	}
	return out
}

// StripEcho 去除首行命令回显与末行提示符，返回命令正文
func StripEcho(raw, command string) string {
	lines := util.Lines(raw)
	cmd := strings.TrimSpace(command)
	for len(lines) > 0 && (strings.TrimSpace(lines[0]) == "" || (cmd != "" && strings.HasSuffix(strings.TrimSpace(lines[0]), cmd))) {
		lines = lines[1:]
	}
	for len(lines) > 0 && (strings.TrimSpace(lines[len(lines)-1]) == "" || isPromptLine(lines[len(lines)-1])) {
		lines = lines[:len(lines)-1]
	}
	return strings.Join(lines, "\n")
}
