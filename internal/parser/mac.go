package parser

import (
	"regexp"
	"strings"

	"github.com/sshcollectorpro/netops/internal/util"
)

// MACEntry MAC 地址表条目
type MACEntry struct {
	VLAN string `json:"vlan"`
	MAC  string `json:"mac"`
	Port string `json:"port"`
}

var macPattern = regexp.MustCompile(`^(\S+)\s+([0-9a-fA-F:.\-]+)\s+\S+\s+(\S+)`)

// ParseMACTable 解析 show mac address-table，跳过表头、分页提示与 CPU 端口
func ParseMACTable(raw string) []MACEntry {
	var out []MACEntry
	for _, line := range util.Lines(raw) {
		l := strings.TrimSpace(line)
		lowl := strings.ToLower(l)
		if l == "" || strings.HasPrefix(lowl, "vlan") || strings.Contains(lowl, "--more--") {
			continue
		}
		m := macPattern.FindStringSubmatch(l)
		if m == nil || !looksLikeMAC(m[2]) {
			continue
		}
		if strings.EqualFold(m[3], "CPU") {
			continue
		}
		out = append(out, MACEntry{VLAN: m[1], MAC: m[2], Port: m[3]})
	}
	return out
}

// looksLikeMAC 排除 "----" 分隔线等误匹配
func looksLikeMAC(s string) bool {
	hex := 0
	for _, r := range s {
		if (r >= '0' && r <= '9') || (r >= 'a' && r <= 'f') || (r >= 'A' && r <= 'F') {
			hex++
		}
	}
	return hex == 12
}

// InterfaceMAC 接口与 MAC 的关联行
type InterfaceMAC struct {
	Host        string `json:"host"`
	Interface   string `json:"interface"`
	AdminStatus string `json:"admin_status"`
	OperStatus  string `json:"oper_status"`
	Description string `json:"description"`
	MAC         string `json:"mac address"`
	VLAN        string `json:"vlan"`
}

// InterfaceMACHeader CSV 表头
var InterfaceMACHeader = []string{"host", "interface", "admin_status", "oper_status", "description", "mac address", "vlan"}

// Record CSV 行
func (r InterfaceMAC) Record() []string {
	return []string{r.Host, r.Interface, r.AdminStatus, r.OperStatus, r.Description, r.MAC, r.VLAN}
}

// JoinInterfacesMAC 每个 MAC 一行，补充所在接口的状态与描述
func JoinInterfacesMAC(host string, ifaces []Interface, macs []MACEntry) []InterfaceMAC {
	idx := IndexInterfaces(ifaces)
	out := make([]InterfaceMAC, 0, len(macs))
	for _, m := range macs {
		it := idx[m.Port]
		out = append(out, InterfaceMAC{
			Host:        host,
			Interface:   m.Port,
			AdminStatus: it.AdminStatus,
			OperStatus:  it.OperStatus,
			Description: it.Description,
			MAC:         m.MAC,
			VLAN:        m.VLAN,
		})
	}
	return out
}
