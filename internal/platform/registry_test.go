package platform

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDetect(t *testing.T) {
	cases := map[string]Vendor{
		"Cisco IOS XE Software, Version 17.9.4": Cisco,
		"--- JUNOS 21.4R3 Kernel 64-bit":        Juniper,
		"Juniper Networks EX3400, IOS-like cli": Juniper,
		"cisco Catalyst":                        Cisco,
		"Welcome to ACS8000":                    Unknown,
		"":                                      Unknown,
	}
	for banner, want := range cases {
		assert.Equal(t, want, Detect(banner), banner)
	}
}

func TestProfiles(t *testing.T) {
	c := ForBanner("Cisco IOS Software")
	assert.Equal(t, Cisco, c.Vendor())
	assert.Equal(t, []string{"terminal length 0", "terminal width 511"}, c.PrepareCommands())

	j := Get(Juniper)
	assert.Equal(t, []string{"cli", "set cli screen-length 0"}, j.PrepareCommands())
	assert.Equal(t, "---(more", j.PagingMarker())
	assert.Empty(t, c.PagingMarker(), "Cisco 沿用会话配置的 --More--")

	u := Get(Vendor("huawei"))
	assert.Equal(t, Unknown, u.Vendor(), "未注册厂商回退到 Unknown")
	assert.Empty(t, u.PrepareCommands())
}

func TestParseVendor(t *testing.T) {
	assert.Equal(t, Cisco, Parse("IOS-XE"))
	assert.Equal(t, Juniper, Parse("junos"))
	assert.Equal(t, Unknown, Parse("avocent"))
}
