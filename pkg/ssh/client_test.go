package ssh_test

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sshcollectorpro/netops/pkg/ssh"
	"github.com/sshcollectorpro/netops/simulate"
)

func startDevice(t *testing.T, dev simulate.DeviceConfig) string {
	t.Helper()
	srv := simulate.NewServer("test", dev, simulate.Auth{Username: "admin", Password: "nova"})
	require.NoError(t, srv.Start())
	t.Cleanup(srv.Close)
	return srv.Addr()
}

func simConfig() ssh.SessionConfig {
	cfg := ssh.DefaultSessionConfig()
	cfg.Username = "admin"
	cfg.Password = "nova"
	cfg.ConnectTimeout = 5 * time.Second
	cfg.PollInterval = 20 * time.Millisecond
	cfg.ReadTimeout = 500 * time.Millisecond
	cfg.BannerGrace = 100 * time.Millisecond
	cfg.MaxIterations = 100
	return cfg
}

func TestOpenReadsBannerAndRunsCommand(t *testing.T) {
	addr := startDevice(t, simulate.DeviceConfig{
		Vendor:   "cisco",
		Hostname: "R1",
		Banner:   "Cisco IOS XE Software",
		Commands: map[string]string{"show clock": "*10:00:00.000 UTC Mon Oct 12 2026"},
	})

	sess, err := ssh.Open(context.Background(), addr, simConfig())
	require.NoError(t, err)
	defer sess.Close()

	assert.Contains(t, sess.Banner(), "Cisco IOS XE Software")

	res := sess.RunCommand(context.Background(), "show clock")
	assert.True(t, res.PromptDetected, "应识别到提示符")
	assert.Contains(t, res.RawOutput, "10:00:00.000 UTC")
	assert.True(t, strings.HasSuffix(strings.TrimSpace(res.RawOutput), "R1#"))
}

func TestOpenAcknowledgesPaging(t *testing.T) {
	var b strings.Builder
	for i := 1; i <= 25; i++ {
		fmt.Fprintf(&b, "Gi1/0/%d  connected  1  a-full a-1000\n", i)
	}
	addr := startDevice(t, simulate.DeviceConfig{
		Vendor:    "cisco",
		Hostname:  "SW1",
		PageLines: 10,
		Commands:  map[string]string{"show interfaces status": b.String()},
	})

	sess, err := ssh.Open(context.Background(), addr, simConfig())
	require.NoError(t, err)
	defer sess.Close()

	res := sess.RunCommand(context.Background(), "show interfaces status")
	assert.True(t, res.PromptDetected)
	assert.Equal(t, 2, res.PagesAcknowledged)
	assert.Contains(t, res.RawOutput, "Gi1/0/25")
}

func TestOpenAcknowledgesJunosPaging(t *testing.T) {
	var b strings.Builder
	for i := 1; i <= 12; i++ {
		fmt.Fprintf(&b, "10.%d.0.0/16        *[Static/5] 1w2d\n", i)
	}
	addr := startDevice(t, simulate.DeviceConfig{
		Vendor:    "juniper",
		Hostname:  "mx1",
		PageLines: 5,
		Commands:  map[string]string{"show route all": b.String()},
	})

	sess, err := ssh.Open(context.Background(), addr, simConfig())
	require.NoError(t, err)
	defer sess.Close()
	sess.SetPagingMarker("---(more")

	res := sess.RunCommand(context.Background(), "show route all")
	assert.True(t, res.PromptDetected, "Junos 分页提示应被应答")
	assert.Equal(t, 2, res.PagesAcknowledged)
	assert.Contains(t, res.RawOutput, "10.12.0.0/16")
}

func TestDialWrongPassword(t *testing.T) {
	addr := startDevice(t, simulate.DeviceConfig{Vendor: "cisco"})
	cfg := simConfig()
	cfg.Password = "wrong"

	_, err := ssh.Dial(context.Background(), addr, cfg)
	assert.Error(t, err)
}

func TestDialUnreachable(t *testing.T) {
	cfg := simConfig()
	cfg.ConnectTimeout = 200 * time.Millisecond

	_, err := ssh.Dial(context.Background(), "127.0.0.1:1", cfg)
	assert.Error(t, err)
}

func TestSessionCloseTwiceOverSSH(t *testing.T) {
	addr := startDevice(t, simulate.DeviceConfig{Vendor: "juniper", Hostname: "mx1"})

	sess, err := ssh.Open(context.Background(), addr, simConfig())
	require.NoError(t, err)

	res := sess.RunCommand(context.Background(), "cli")
	assert.True(t, res.PromptDetected)

	assert.NotPanics(t, func() {
		sess.Close()
		sess.Close()
	})
}
