// Package platform 按横幅识别厂商，并提供各厂商的命令与解析方式
package platform

import (
	"strings"
	"sync"

	"github.com/sshcollectorpro/netops/internal/parser"
)

// Vendor 厂商（封闭集合）
type Vendor string

const (
	Cisco   Vendor = "cisco"
	Juniper Vendor = "juniper"
	Unknown Vendor = "unknown"
)

// Profile 厂商行为：会话准备命令、采集命令与回显解析
type Profile interface {
	Vendor() Vendor
	// PrepareCommands 打开 Shell 后执行一次（关闭分页、进入 CLI）
	PrepareCommands() []string
	// PagingMarker 厂商分页提示，空表示沿用会话配置
	PagingMarker() string
	InterfaceDescriptionCommand() string
	MACTableCommand() string
	ParseInterfaces(raw, sentCmd string) []parser.Interface
}

var (
	registryMu sync.RWMutex
	registry   = map[Vendor]Profile{}
)

// Register 注册厂商实现
func Register(p Profile) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[p.Vendor()] = p
}

// Get 获取厂商实现，未注册时返回 Unknown
func Get(v Vendor) Profile {
	registryMu.RLock()
	defer registryMu.RUnlock()
	if p, ok := registry[v]; ok {
		return p
	}
	return registry[Unknown]
}

// Detect 根据横幅判断厂商：junos/juniper 优先，其次 ios/cisco
func Detect(banner string) Vendor {
	low := strings.ToLower(banner)
	switch {
	case strings.Contains(low, "junos") || strings.Contains(low, "juniper"):
		return Juniper
	case strings.Contains(low, "ios") || strings.Contains(low, "cisco"):
		return Cisco
	default:
		return Unknown
	}
}

// ForBanner Detect 与 Get 的组合
func ForBanner(banner string) Profile {
	return Get(Detect(banner))
}

// Parse 从配置或命令行字符串解析厂商
func Parse(s string) Vendor {
	switch Vendor(strings.ToLower(strings.TrimSpace(s))) {
	case Cisco, "ios", "ios-xe", "cisco_ios":
		return Cisco
	case Juniper, "junos":
		return Juniper
	default:
		return Unknown
	}
}

func init() {
	Register(cisco{})
	Register(juniper{})
	Register(unknown{})
}
