package job

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sshcollectorpro/netops/internal/batch"
	"github.com/sshcollectorpro/netops/internal/config"
	"github.com/sshcollectorpro/netops/internal/hosts"
	"github.com/sshcollectorpro/netops/internal/output"
	"github.com/sshcollectorpro/netops/pkg/ssh"
	"github.com/sshcollectorpro/netops/simulate"
)

const (
	intDesc = "Interface                      Status         Protocol Description\n" +
		"Gi1/0/1                        up             up       Uplink to core-01\n" +
		"Gi1/0/2                        down           down     Printer 2nd floor\n"
	macTable = "Vlan    Mac Address       Type        Ports\n" +
		"----    -----------       --------    -----\n" +
		"  10    a4b1.c1d2.e3f4    DYNAMIC     Gi1/0/1\n" +
		"  20    0011.2233.4455    DYNAMIC     Gi1/0/2\n"
	dhcpPool = "ip dhcp pool GUEST\n vrf GUEST\n lease 0 4\n"
)

func simSession() ssh.SessionConfig {
	cfg := ssh.DefaultSessionConfig()
	cfg.Username = "admin"
	cfg.Password = "nova"
	cfg.ConnectTimeout = 3 * time.Second
	cfg.PollInterval = 20 * time.Millisecond
	cfg.ReadTimeout = 500 * time.Millisecond
	cfg.BannerGrace = 100 * time.Millisecond
	cfg.MaxIterations = 100
	return cfg
}

func startDevice(t *testing.T, dev simulate.DeviceConfig) string {
	t.Helper()
	srv := simulate.NewServer(dev.Hostname, dev, simulate.Auth{Username: "admin", Password: "nova"})
	require.NoError(t, srv.Start())
	t.Cleanup(srv.Close)
	return srv.Addr()
}

func ciscoSwitch(t *testing.T) string {
	return startDevice(t, simulate.DeviceConfig{
		Vendor: "cisco", Hostname: "SW1", Banner: "Cisco IOS XE Software", PageLines: 2,
		Commands: map[string]string{
			"show interfaces description": intDesc,
			"show mac address-table":      macTable,
			"sh run | sec dhcp":           dhcpPool,
			"show running-config | section ip dhcp pool GUEST": dhcpPool,
			"clear ip dhcp binding vrf GUEST *":                 "",
		},
	})
}

func testConfig(t *testing.T) *config.Config {
	cfg := &config.Config{Site: "LON"}
	cfg.Output.Dir = t.TempDir()
	cfg.Output.Snapshot = "none"
	cfg.Jobs.Show.Command = "sh run | sec dhcp"
	cfg.Jobs.ClearDHCP = config.ClearDHCPJobConfig{Command: "clear ip dhcp binding vrf GUEST *", MaxIterations: 10}
	cfg.Jobs.DHCPPool = config.DHCPPoolJobConfig{
		Lines:         []string{"ip dhcp pool GUEST", " vrf GUEST", " lease 0 4"},
		VerifyCommand: "show running-config | section ip dhcp pool GUEST",
		MaxIterations: 120,
		Output:        "combined_dhcp_pool_GUEST.txt",
	}
	cfg.Jobs.Banner = config.BannerJobConfig{Message: `Authorized "staff" only`, MaxIterations: 40}
	cfg.Jobs.Routes.Command = "show route all"
	cfg.Jobs.WLC.Commands = []string{"show redundancy", "show wireless summary", "show mobility summary", "show mobility anchor"}
	return cfg
}

func runJob(t *testing.T, cfg *config.Config, name string, dryRun bool, targets []hosts.Target) (*batch.Report, []output.Artifact) {
	t.Helper()
	j, err := New(name, cfg, output.NewWriter(cfg.Output.Dir, name, nil))
	require.NoError(t, err)
	runner := &batch.Runner{Dialer: batch.SSHDialer{Config: simSession()}, Workers: 2, DryRun: dryRun}
	report, arts, err := Execute(context.Background(), runner, targets, j)
	require.NoError(t, err)
	return report, arts
}

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return rows
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	bs, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(bs)
}

func TestRegistry(t *testing.T) {
	names := Names()
	for _, n := range []string{"banner", "clear-dhcp", "dhcp-pool", "interface-desc", "interfaces-mac", "routes", "serials", "show", "wlc-ha"} {
		assert.Contains(t, names, n)
	}
	_, err := New("reboot", &config.Config{}, output.NewWriter(t.TempDir(), "reboot", nil))
	assert.ErrorIs(t, err, ErrUnknownJob)

	_, err = New("show", &config.Config{}, output.NewWriter(t.TempDir(), "show", nil))
	assert.ErrorIs(t, err, ErrNoCommand)
}

func TestInterfacesMAC(t *testing.T) {
	cfg := testConfig(t)
	cfg.Output.Debug = true
	addr := ciscoSwitch(t)

	report, arts := runJob(t, cfg, "interfaces-mac", false, []hosts.Target{{Name: "sw1", Address: addr}})
	require.Equal(t, 1, report.Succeeded)
	require.Len(t, arts, 3, "快照文件 + 两个调试文件")

	assert.True(t, strings.HasSuffix(arts[0].Path, "_LON.csv"))
	rows := readCSV(t, arts[0].Path)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"host", "interface", "admin_status", "oper_status", "description", "mac address", "vlan"}, rows[0])
	assert.Equal(t, []string{"sw1", "Gi1/0/1", "up", "up", "Uplink to core-01", "a4b1.c1d2.e3f4", "10"}, rows[1])
	assert.Equal(t, "Printer 2nd floor", rows[2][4])
}

func TestInterfaceDesc(t *testing.T) {
	cfg := testConfig(t)
	addr := ciscoSwitch(t)

	_, arts := runJob(t, cfg, "interface-desc", false, []hosts.Target{{Name: "sw1", Address: addr}})
	require.Len(t, arts, 1)
	assert.Contains(t, filepath.Base(arts[0].Path), "interfaces_description_")
	rows := readCSV(t, arts[0].Path)
	require.Len(t, rows, 3)
	assert.Equal(t, InterfaceDescHeader, rows[0])
	assert.Equal(t, []string{"sw1", "Gi1/0/2", "down", "down", "Printer 2nd floor"}, rows[2])
}

func TestShowWritesFilePerHost(t *testing.T) {
	cfg := testConfig(t)
	addr := ciscoSwitch(t)

	_, arts := runJob(t, cfg, "show", false, []hosts.Target{
		{Name: "sw1", Address: addr},
		{Name: "down", Address: "127.0.0.1:1"},
	})
	require.Len(t, arts, 1, "连接失败的设备不写文件")
	assert.True(t, strings.HasPrefix(filepath.Base(arts[0].Path), "sw1_"))
	assert.Contains(t, readFile(t, arts[0].Path), "ip dhcp pool GUEST")
}

func TestClearDHCPWritesNothing(t *testing.T) {
	cfg := testConfig(t)
	addr := ciscoSwitch(t)

	report, arts := runJob(t, cfg, "clear-dhcp", false, []hosts.Target{{Name: "sw1", Address: addr}})
	assert.Empty(t, arts)
	require.Len(t, report.Outcomes, 1)
	assert.Equal(t, batch.StatusOK, report.Outcomes[0].Status())
}

func TestDHCPPool(t *testing.T) {
	cfg := testConfig(t)
	addr := ciscoSwitch(t)

	_, arts := runJob(t, cfg, "dhcp-pool", false, []hosts.Target{
		{Name: "sw1", Address: addr},
		{Name: "down", Address: "127.0.0.1:1"},
	})
	require.Len(t, arts, 1)
	assert.Equal(t, "combined_dhcp_pool_GUEST.txt", filepath.Base(arts[0].Path))

	text := readFile(t, arts[0].Path)
	assert.Contains(t, text, "--- sw1 ("+addr+") ---\nip dhcp pool GUEST\n vrf GUEST\n lease 0 4\n\n")
	assert.Contains(t, text, "--- down (127.0.0.1:1) ---\nERROR: connect 127.0.0.1:1")
}

func TestDHCPPoolDryRun(t *testing.T) {
	cfg := testConfig(t)
	_, arts := runJob(t, cfg, "dhcp-pool", true, []hosts.Target{{Name: "sw1", Address: "127.0.0.1:1"}})
	require.Len(t, arts, 1)
	assert.Contains(t, readFile(t, arts[0].Path), "--- sw1 (127.0.0.1:1) ---\nDRY RUN\nip dhcp pool GUEST")
}

func TestDryRunSkipsFilesForCollectors(t *testing.T) {
	cfg := testConfig(t)
	report, arts := runJob(t, cfg, "show", true, []hosts.Target{{Name: "sw1", Address: "127.0.0.1:1"}})
	assert.Empty(t, arts)
	assert.Equal(t, batch.StatusDryRun, report.Outcomes[0].Status())
}

func TestBuildJunosBlock(t *testing.T) {
	got := BuildJunosBlock("Line \"one\"\nC:\\path")
	assert.Equal(t, "system {\n  login {\n    message \"Line \\\"one\\\"\\nC:\\\\path\";\n  }\n}\n", got)
}

func TestBannerCommit(t *testing.T) {
	cfg := testConfig(t)
	addr := startDevice(t, simulate.DeviceConfig{Vendor: "juniper", Hostname: "mx1", Banner: "--- JUNOS 21.4R3 Kernel 64-bit"})

	report, arts := runJob(t, cfg, "banner", false, []hosts.Target{{Name: "mx1", Address: addr}})
	require.Len(t, report.Outcomes, 1)
	o := report.Outcomes[0]
	require.NoError(t, o.Err)
	p := o.Payload.(*bannerPayload)
	assert.True(t, p.Success)
	assert.Equal(t, "commit complete", p.Matched)

	require.Len(t, arts, 2)
	rows := readCSV(t, arts[0].Path)
	assert.Equal(t, []string{"mx1", addr, "ok", ""}, rows[1])
	assert.Equal(t, "mx1_banner_debug.txt", filepath.Base(arts[1].Path))
	assert.Contains(t, readFile(t, arts[1].Path), "commit complete")
}

func TestBannerRejectsCisco(t *testing.T) {
	cfg := testConfig(t)
	addr := ciscoSwitch(t)

	report, _ := runJob(t, cfg, "banner", false, []hosts.Target{{Name: "sw1", Address: addr}})
	assert.ErrorIs(t, report.Outcomes[0].Err, ErrUnsupportedVendor)
}

func TestBannerDryRun(t *testing.T) {
	cfg := testConfig(t)
	_, arts := runJob(t, cfg, "banner", true, []hosts.Target{{Name: "mx1", Address: "127.0.0.1:1"}})
	require.Len(t, arts, 1, "演练不写调试文件")
	rows := readCSV(t, arts[0].Path)
	assert.Equal(t, "dry-run", rows[1][2])
	assert.Contains(t, rows[1][3], `message "Authorized \"staff\" only";`)
}

type fakePinger struct {
	mu    sync.Mutex
	hosts []string
	alive bool
}

func (p *fakePinger) Ping(_ context.Context, host string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.hosts = append(p.hosts, host)
	return p.alive
}

func TestSerials(t *testing.T) {
	cfg := testConfig(t)
	acs := startDevice(t, simulate.DeviceConfig{
		Vendor: "avocent", Hostname: "acs1", Banner: "Welcome to ACS8000",
		Commands: map[string]string{
			"cd system/information": "",
			"show":                  "name: acs8000\nserial number: 2109123456\n",
		},
	})
	noSerial := startDevice(t, simulate.DeviceConfig{Vendor: "avocent", Hostname: "acs2"})

	pinger := &fakePinger{alive: true}
	j := &Serials{base: base{cfg, output.NewWriter(cfg.Output.Dir, "serials", nil)}, Pinger: pinger}
	runner := &batch.Runner{Dialer: batch.SSHDialer{Config: simSession()}, Workers: 1}
	_, arts, err := Execute(context.Background(), runner, []hosts.Target{
		{Name: "acs1", Address: acs},
		{Name: "acs2", Address: noSerial},
		{Name: "gone", Address: "127.0.0.1:1"},
	}, j)
	require.NoError(t, err)
	require.Len(t, arts, 1)
	assert.Equal(t, "avocent_serials.csv", filepath.Base(arts[0].Path))

	rows := readCSV(t, arts[0].Path)
	require.Len(t, rows, 4)
	assert.Equal(t, SerialsHeader, rows[0])
	assert.Equal(t, []string{"acs1", acs, "2109123456", "yes"}, rows[1])
	assert.Equal(t, []string{"acs2", noSerial, "", "yes"}, rows[2])
	assert.Equal(t, []string{"gone", "127.0.0.1:1", "", "no SSH and yes ICMP"}, rows[3])
	assert.Equal(t, []string{"127.0.0.1"}, pinger.hosts)
}

func TestSerialsFailedWithoutProbe(t *testing.T) {
	cfg := testConfig(t)
	j := &Serials{base: base{cfg, output.NewWriter(cfg.Output.Dir, "serials", nil)}}
	report := &batch.Report{Outcomes: []batch.DeviceOutcome{
		{Target: hosts.Target{Name: "acs9", Address: "10.0.0.9"}, Err: context.Canceled},
	}}

	arts, err := j.Finish(context.Background(), report)
	require.NoError(t, err)
	rows := readCSV(t, arts[0].Path)
	assert.Equal(t, []string{"acs9", "10.0.0.9", "", "no SSH and no ICMP"}, rows[1])
}

func TestSerialsDryRun(t *testing.T) {
	cfg := testConfig(t)
	_, arts := runJob(t, cfg, "serials", true, []hosts.Target{{Name: "acs1", Address: "10.0.0.1"}})
	rows := readCSV(t, arts[0].Path)
	assert.Equal(t, []string{"acs1", "10.0.0.1", "DRY_RUN", "yes"}, rows[1])
}

func TestWLCHA(t *testing.T) {
	cfg := testConfig(t)
	addr := startDevice(t, simulate.DeviceConfig{
		Vendor: "cisco", Hostname: "WLC1", Banner: "Cisco IOS XE Software",
		Commands: map[string]string{
			"show version":          "Model Number                       : C9800-40-K9\nSystem Serial Number               : TTM12345678\n",
			"show redundancy":       "Redundant System Information :\nAvailable system uptime = 10 weeks",
			"show wireless summary": "Max APs supported : 2000",
			"show mobility summary": "Mobility Group Name: default",
			"show mobility anchor":  "Anchor IP 10.9.9.9",
		},
	})

	_, arts := runJob(t, cfg, "wlc-ha", false, []hosts.Target{
		{Address: addr},
		{Address: "127.0.0.1:1"},
	})
	require.Len(t, arts, 2)
	rows := readCSV(t, arts[0].Path)
	require.Len(t, rows, 3)
	assert.Equal(t, WLCHeader, rows[0])
	assert.Equal(t, []string{addr, "C9800-40-K9", "TTM12345678"}, rows[1][:3])
	assert.Contains(t, rows[1][3], "Available system uptime")
	assert.Equal(t, "Anchor IP 10.9.9.9", rows[1][6])
	assert.Empty(t, rows[1][8])
	assert.Equal(t, "Unknown", rows[2][1])
	assert.Contains(t, rows[2][8], "connect 127.0.0.1:1")

	var results []WLCResult
	require.NoError(t, json.Unmarshal([]byte(readFile(t, arts[1].Path)), &results))
	require.Len(t, results, 2)
	assert.Equal(t, "Max APs supported : 2000", results[0].WirelessState)
}

func TestRoutesWithComparison(t *testing.T) {
	cfg := testConfig(t)
	subnets := filepath.Join(t.TempDir(), "AD_routes.csv")
	require.NoError(t, os.WriteFile(subnets, []byte("Site\tSubnets\nLondon\t10.1.0.0/16\n"), 0o644))
	cfg.Jobs.Routes.SiteSubnets = subnets

	addr := startDevice(t, simulate.DeviceConfig{
		Vendor: "juniper", Hostname: "mx1", Banner: "--- JUNOS 21.4R3",
		Commands: map[string]string{"show route all": "inet.0: 2 destinations\n\n" +
			"10.1.0.0/16        *[Static/5] 1w2d\n" +
			"10.1.4.0/24        *[Direct/0] 3d\n" +
			"172.16.0.0/12      *[Static/5]\n"},
	})

	_, arts := runJob(t, cfg, "routes", false, []hosts.Target{{Name: "mx1", Address: addr}})
	require.Len(t, arts, 2)
	assert.Equal(t, [][]string{{"Route"}, {"10.1.0.0/16"}, {"10.1.4.0/24"}, {"172.16.0.0/12"}}, readCSV(t, arts[0].Path))
	assert.Equal(t, [][]string{
		{"SiteName", "Router_Route", "Result"},
		{"London", "10.1.0.0/16", "Perfect match"},
		{"London", "10.1.4.0/24", "Subnet of 10.1.0.0/16"},
	}, readCSV(t, arts[1].Path))
}

func TestRoutesOnPagedJunos(t *testing.T) {
	cfg := testConfig(t)
	var b strings.Builder
	b.WriteString("inet.0: 30 destinations\n\n")
	for i := 1; i <= 30; i++ {
		fmt.Fprintf(&b, "10.%d.0.0/16        *[Static/5] 1w2d\n", i)
	}
	addr := startDevice(t, simulate.DeviceConfig{
		Vendor: "juniper", Hostname: "mx1", Banner: "--- JUNOS 21.4R3", PageLines: 4,
		Commands: map[string]string{"show route all": b.String()},
	})

	report, arts := runJob(t, cfg, "routes", false, []hosts.Target{{Name: "mx1", Address: addr}})
	require.Equal(t, 1, report.Succeeded, "会话准备后不应因分页而截断")
	rows := readCSV(t, arts[0].Path)
	require.Len(t, rows, 31)
	assert.Equal(t, []string{"10.30.0.0/16"}, rows[30])
}

func TestOverrideCommand(t *testing.T) {
	cfg := testConfig(t)
	require.NoError(t, OverrideCommand(cfg, "show", " show clock "))
	assert.Equal(t, "show clock", cfg.Jobs.Show.Command)
	require.NoError(t, OverrideCommand(cfg, "wlc-ha", ""), "空命令不覆盖")
	assert.Error(t, OverrideCommand(cfg, "wlc-ha", "show version"))
}
