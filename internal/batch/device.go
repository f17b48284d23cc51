package batch

import (
	"context"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/sshcollectorpro/netops/internal/hosts"
	"github.com/sshcollectorpro/netops/internal/platform"
	"github.com/sshcollectorpro/netops/pkg/logger"
	"github.com/sshcollectorpro/netops/pkg/ssh"
)

// Device 作业执行期间的单台设备：目标、会话与厂商
type Device struct {
	Target  hosts.Target
	Session *ssh.Session
	Profile platform.Profile

	results []*ssh.CommandResult
}

// Vendor 厂商
func (d *Device) Vendor() platform.Vendor {
	if d.Profile == nil {
		return platform.Unknown
	}
	return d.Profile.Vendor()
}

// Run 执行一条命令并记入结果
func (d *Device) Run(ctx context.Context, command string) *ssh.CommandResult {
	return d.RunWith(ctx, command, ssh.RunOptions{})
}

// RunWith 带覆盖项执行一条命令并记入结果
func (d *Device) RunWith(ctx context.Context, command string, opts ssh.RunOptions) *ssh.CommandResult {
	res := d.Session.RunCommandWith(ctx, command, opts)
	d.results = append(d.results, res)
	return res
}

// SendLine 发送一行但不等待提示符（多行配置块）
func (d *Device) SendLine(ctx context.Context, line string, settle time.Duration) error {
	return d.Session.SendLine(ctx, line, settle)
}

// Send 发送原始文本但不等待提示符（例如 ^D）
func (d *Device) Send(ctx context.Context, text string, settle time.Duration) error {
	return d.Session.Send(ctx, text, settle)
}

// Results 已执行命令的结果
func (d *Device) Results() []*ssh.CommandResult {
	return d.results
}

// Log 带设备字段的日志
func (d *Device) Log() *logrus.Entry {
	return logger.WithDevice(d.Target.Label(), d.Target.Address).WithField("vendor", string(d.Vendor()))
}

// prepare 执行厂商准备命令，不计入作业结果
func (d *Device) prepare(ctx context.Context) {
	d.Session.SetPagingMarker(d.Profile.PagingMarker())
	for _, c := range d.Profile.PrepareCommands() {
		res := d.Session.RunCommand(ctx, c)
		if res.Degraded() {
			d.Log().WithField("command", c).Warn("Prepare command did not return to a prompt")
		}
	}
}

// Drain 读尽已到达的输出（原始发送之后、下一条命令之前调用）
func (d *Device) Drain() string {
	var b strings.Builder
	for i := 0; i < 20; i++ {
		s := d.Session.Drain()
		if s == "" {
			break
		}
		b.WriteString(s)
	}
	return b.String()
}
