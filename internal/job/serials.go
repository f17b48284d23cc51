package job

import (
	"context"
	"net"
	"os/exec"
	"strings"
	"time"

	"github.com/sshcollectorpro/netops/internal/batch"
	"github.com/sshcollectorpro/netops/internal/config"
	"github.com/sshcollectorpro/netops/internal/hosts"
	"github.com/sshcollectorpro/netops/internal/output"
	"github.com/sshcollectorpro/netops/internal/parser"
)

// SerialsHeader 序列号表头
var SerialsHeader = []string{"device_name", "ip_address", "serial_number", "alive"}

const (
	aliveYes         = "yes"
	aliveICMPOnly    = "no SSH and yes ICMP"
	aliveUnreachable = "no SSH and no ICMP"
)

// Pinger ICMP 可达性探测
type Pinger interface {
	Ping(ctx context.Context, host string) bool
}

// ExecPinger 调用系统 ping（2 个包，2 秒超时）
type ExecPinger struct{}

func (ExecPinger) Ping(ctx context.Context, host string) bool {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return exec.CommandContext(ctx, "ping", "-c", "2", "-W", "2", host).Run() == nil
}

type serialRow struct {
	Serial string
	Alive  string
}

// Serials 控制台服务器序列号盘点；SSH 失败时以 ICMP 判断存活
type Serials struct {
	base
	Pinger Pinger
}

func (Serials) Name() string { return "serials" }

func (j *Serials) Run(ctx context.Context, dev *batch.Device) (batch.Payload, error) {
	dev.Run(ctx, "cd system/information")
	res := dev.Run(ctx, "show")
	serial, ok := parser.ParseAvocentSerial(res.RawOutput)
	if !ok {
		res = dev.Run(ctx, "show system/information")
		serial, ok = parser.ParseAvocentSerial(res.RawOutput)
	}
	if !ok {
		res = dev.Run(ctx, "show chassis hardware")
		serial, ok = parser.ParseChassisSerial(res.RawOutput)
	}
	if !ok {
		dev.Log().Warn("Serial number not found")
	} else {
		dev.Log().Infof("Serial number %s", serial)
	}
	return &serialRow{Serial: serial, Alive: aliveYes}, nil
}

// DryRun 不连接设备
func (j *Serials) DryRun(_ context.Context, _ hosts.Target) (batch.Payload, error) {
	return &serialRow{Serial: "DRY_RUN", Alive: aliveYes}, nil
}

// DialFailed SSH 不可达时探测 ICMP
func (j *Serials) DialFailed(ctx context.Context, target hosts.Target, _ error) batch.Payload {
	host := target.Address
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	if j.Pinger != nil && j.Pinger.Ping(ctx, host) {
		return &serialRow{Alive: aliveICMPOnly}
	}
	return &serialRow{Alive: aliveUnreachable}
}

func (j *Serials) Finish(ctx context.Context, report *batch.Report) ([]output.Artifact, error) {
	rows := make([][]string, 0, len(report.Outcomes))
	for _, o := range report.Outcomes {
		row := serialRow{Alive: aliveYes}
		if o.Err != nil {
			// 未到达探测（例如连接前已取消）
			row.Alive = aliveUnreachable
		}
		if p, ok := o.Payload.(*serialRow); ok {
			row = *p
		}
		rows = append(rows, []string{o.Target.Label(), o.Target.Address, strings.TrimSpace(row.Serial), row.Alive})
	}
	a, err := j.w.WriteCSV(ctx, "avocent_serials.csv", SerialsHeader, rows)
	if err != nil {
		return nil, err
	}
	return []output.Artifact{a}, nil
}

func init() {
	Register("serials", func(cfg *config.Config, w *output.Writer) (Job, error) {
		return &Serials{base: base{cfg, w}, Pinger: ExecPinger{}}, nil
	})
}
