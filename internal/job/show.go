package job

import (
	"context"
	"errors"
	"fmt"

	"github.com/sshcollectorpro/netops/internal/batch"
	"github.com/sshcollectorpro/netops/internal/config"
	"github.com/sshcollectorpro/netops/internal/output"
	"github.com/sshcollectorpro/netops/internal/util"
	"github.com/sshcollectorpro/netops/pkg/ssh"
)

// ErrNoCommand 作业未配置命令
var ErrNoCommand = errors.New("no command configured")

// showMaxIterations 长输出命令（运行配置等）的轮询上限
const showMaxIterations = 120

// Show 单命令采集，每台设备一个文本文件
type Show struct {
	base
	command string
}

func (Show) Name() string { return "show" }

func (j *Show) Run(ctx context.Context, dev *batch.Device) (batch.Payload, error) {
	res := dev.RunWith(ctx, j.command, ssh.RunOptions{MaxIterations: showMaxIterations})
	if res.Degraded() {
		dev.Log().Warnf("Prompt not detected for %q. Output may be incomplete.", j.command)
	}
	return util.CleanTerminal(res.RawOutput), nil
}

func (j *Show) Finish(ctx context.Context, report *batch.Report) ([]output.Artifact, error) {
	var arts []output.Artifact
	for _, o := range report.Outcomes {
		text, ok := o.Payload.(string)
		if !ok {
			continue
		}
		a, err := j.w.WriteText(ctx, fmt.Sprintf("%s_%s.txt", fileLabel(o.Target), j.stamp()), text)
		if err != nil {
			return arts, err
		}
		arts = append(arts, a)
	}
	return arts, nil
}

// ClearDHCP 清除 DHCP 绑定，只记录日志
type ClearDHCP struct {
	base
	command       string
	maxIterations int
}

func (ClearDHCP) Name() string { return "clear-dhcp" }

func (j *ClearDHCP) Run(ctx context.Context, dev *batch.Device) (batch.Payload, error) {
	dev.Run(ctx, "cli")
	res := dev.RunWith(ctx, j.command, ssh.RunOptions{MaxIterations: j.maxIterations})
	out := util.CleanTerminal(res.RawOutput)
	if res.Degraded() {
		dev.Log().Warnf("Prompt not detected for %q", j.command)
	} else {
		dev.Log().Info("Cleared DHCP bindings")
	}
	dev.Log().Debug(out)
	return out, nil
}

func (j *ClearDHCP) Finish(context.Context, *batch.Report) ([]output.Artifact, error) {
	return nil, nil
}

func init() {
	Register("show", func(cfg *config.Config, w *output.Writer) (Job, error) {
		if cfg.Jobs.Show.Command == "" {
			return nil, fmt.Errorf("show: %w", ErrNoCommand)
		}
		return &Show{base: base{cfg, w}, command: cfg.Jobs.Show.Command}, nil
	})
	Register("clear-dhcp", func(cfg *config.Config, w *output.Writer) (Job, error) {
		if cfg.Jobs.ClearDHCP.Command == "" {
			return nil, fmt.Errorf("clear-dhcp: %w", ErrNoCommand)
		}
		return &ClearDHCP{
			base:          base{cfg, w},
			command:       cfg.Jobs.ClearDHCP.Command,
			maxIterations: cfg.Jobs.ClearDHCP.MaxIterations,
		}, nil
	})
}
