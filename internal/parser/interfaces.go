// Package parser 将设备命令回显解析为结构化记录
package parser

import (
	"regexp"
	"strings"

	"github.com/sshcollectorpro/netops/internal/util"
)

// Interface 接口状态与描述
type Interface struct {
	Name        string `json:"interface"`
	AdminStatus string `json:"admin_status"`
	OperStatus  string `json:"oper_status"`
	Description string `json:"description"`
}

var (
	// genericIntPattern Junos 与通用格式：interface admin oper [description]
	genericIntPattern = regexp.MustCompile(`^(\S+)\s+(\S+)\s+(\S+)(?:\s+(.*))?$`)
	ciscoIntPattern   = regexp.MustCompile(`^(\S+)\s+(\S+)\s+(\S+)\s*(.*)$`)
	splitWS           = regexp.MustCompile(`\s+`)
)

// ParseCiscoInterfaces 解析 show interfaces description
// 优先按表头列位置切分（描述中可含空格、状态可为 "admin down"），无表头时逐行正则
func ParseCiscoInterfaces(raw, sentCmd string) []Interface {
	lines := util.Lines(raw)
	header := -1
	for i, l := range lines {
		low := strings.ToLower(l)
		if strings.Contains(low, "interface") && strings.Contains(low, "status") && strings.Contains(low, "protocol") {
			header = i
			break
		}
	}
	if header < 0 {
		return parseCiscoNoHeader(lines)
	}

	low := strings.ToLower(lines[header])
	ifaceStart := strings.Index(low, "interface")
	statusStart := strings.Index(low, "status")
	protoStart := strings.Index(low, "protocol")
	descStart := strings.Index(low, "description")
	if descStart < 0 {
		descStart = protoStart + 8
	}
	sent := strings.ToLower(strings.TrimSpace(sentCmd))

	var out []Interface
	for _, l := range lines[header+1:] {
		if strings.TrimSpace(l) == "" {
			continue
		}
		lowl := strings.ToLower(l)
		if skipLine(lowl) || (sent != "" && strings.HasPrefix(strings.TrimSpace(lowl), sent)) {
			continue
		}
		if isPromptLine(l) {
			continue
		}
		it := Interface{
			Name:        column(l, ifaceStart, statusStart),
			AdminStatus: column(l, statusStart, protoStart),
			OperStatus:  column(l, protoStart, descStart),
			Description: column(l, descStart, -1),
		}
		if it.Name == "" || strings.ContainsAny(it.Name, " \t") {
			// 行未对齐表头时退回按空白切分
			parts := splitWS.Split(strings.TrimSpace(l), 4)
			if len(parts) < 3 {
				continue
			}
			it = fromParts(parts)
		}
		out = append(out, it)
	}
	return out
}

func parseCiscoNoHeader(lines []string) []Interface {
	var out []Interface
	for _, line := range lines {
		l := strings.TrimSpace(line)
		lowl := strings.ToLower(l)
		if l == "" || strings.HasPrefix(lowl, "interface") || skipLine(lowl) || strings.HasPrefix(lowl, "show ") || isPromptLine(l) {
			continue
		}
		if m := ciscoIntPattern.FindStringSubmatch(l); m != nil {
			out = append(out, Interface{Name: m[1], AdminStatus: m[2], OperStatus: m[3], Description: strings.TrimSpace(m[4])})
			continue
		}
		if parts := splitWS.Split(l, 4); len(parts) >= 3 {
			out = append(out, fromParts(parts))
		}
	}
	return out
}

// ParseGenericInterfaces 解析 Junos show interfaces descriptions 及未知厂商输出
func ParseGenericInterfaces(raw string) []Interface {
	var out []Interface
	for _, line := range util.Lines(raw) {
		l := strings.TrimSpace(line)
		lowl := strings.ToLower(l)
		if l == "" || strings.HasPrefix(lowl, "interface") || strings.Contains(lowl, "--more--") || isPromptLine(l) {
			continue
		}
		m := genericIntPattern.FindStringSubmatch(l)
		if m == nil {
			continue
		}
		out = append(out, Interface{Name: m[1], AdminStatus: m[2], OperStatus: m[3], Description: m[4]})
	}
	return out
}

// IndexInterfaces 按接口名建立索引，重复接口后者覆盖前者
func IndexInterfaces(items []Interface) map[string]Interface {
	idx := make(map[string]Interface, len(items))
	for _, it := range items {
		idx[it.Name] = it
	}
	return idx
}

func fromParts(parts []string) Interface {
	it := Interface{Name: parts[0], AdminStatus: parts[1], OperStatus: parts[2]}
	if len(parts) > 3 {
		it.Description = strings.TrimSpace(parts[3])
	}
	return it
}

// column 截取 [start,end) 列，越界时返回空串
func column(line string, start, end int) string {
	if start < 0 || start >= len(line) {
		return ""
	}
	if end < 0 || end > len(line) {
		end = len(line)
	}
	if end < start {
		return ""
	}
	return strings.TrimSpace(line[start:end])
}

func skipLine(lowl string) bool {
	return strings.Contains(lowl, "--more--") || strings.HasPrefix(strings.TrimSpace(lowl), "%")
}

// isPromptLine 形如 "R1#"、"user@host>" 的提示符行
func isPromptLine(l string) bool {
	t := strings.TrimSpace(l)
	if t == "" || strings.ContainsAny(t, " \t") {
		return false
	}
	return strings.HasSuffix(t, "#") || strings.HasSuffix(t, ">")
}
