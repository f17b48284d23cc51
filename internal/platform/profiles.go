package platform

import "github.com/sshcollectorpro/netops/internal/parser"

type cisco struct{}

func (cisco) Vendor() Vendor { return Cisco }

func (cisco) PrepareCommands() []string {
	return []string{"terminal length 0", "terminal width 511"}
}

func (cisco) PagingMarker() string { return "" }

func (cisco) InterfaceDescriptionCommand() string { return "show interfaces description" }

func (cisco) MACTableCommand() string { return "show mac address-table" }

func (cisco) ParseInterfaces(raw, sentCmd string) []parser.Interface {
	return parser.ParseCiscoInterfaces(raw, sentCmd)
}

type juniper struct{}

func (juniper) Vendor() Vendor { return Juniper }

// PrepareCommands 从 shell 进入 Junos CLI 并关闭分页
func (juniper) PrepareCommands() []string { return []string{"cli", "set cli screen-length 0"} }

// PagingMarker Junos 分页提示为 ---(more)--- 或 ---(more 45%)---
func (juniper) PagingMarker() string { return "---(more" }

func (juniper) InterfaceDescriptionCommand() string { return "show interfaces descriptions" }

func (juniper) MACTableCommand() string { return "show mac address-table" }

func (juniper) ParseInterfaces(raw, _ string) []parser.Interface {
	return parser.ParseGenericInterfaces(raw)
}

// unknown 无法识别的设备：不做准备，按通用格式解析
type unknown struct{}

func (unknown) Vendor() Vendor { return Unknown }

func (unknown) PrepareCommands() []string { return nil }

func (unknown) PagingMarker() string { return "" }

func (unknown) InterfaceDescriptionCommand() string { return "show interfaces description" }

func (unknown) MACTableCommand() string { return "show mac address-table" }

func (unknown) ParseInterfaces(raw, _ string) []parser.Interface {
	return parser.ParseGenericInterfaces(raw)
}
