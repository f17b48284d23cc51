// Package batch 在一组设备上执行作业：连接、识别厂商、准备会话、执行、关闭
package batch

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/sshcollectorpro/netops/internal/hosts"
	"github.com/sshcollectorpro/netops/internal/platform"
	"github.com/sshcollectorpro/netops/pkg/logger"
	"github.com/sshcollectorpro/netops/pkg/ssh"
)

// Payload 作业对单台设备产出的数据
type Payload interface{}

// Job 单台设备上的作业
type Job interface {
	Name() string
	Run(ctx context.Context, dev *Device) (Payload, error)
}

// DryRunner 支持演练的作业：不连接设备，仅输出计划
type DryRunner interface {
	DryRun(ctx context.Context, target hosts.Target) (Payload, error)
}

// DialFailureHandler 连接失败时仍需产出数据的作业（例如 ICMP 探测）
type DialFailureHandler interface {
	DialFailed(ctx context.Context, target hosts.Target, err error) Payload
}

// Dialer 打开设备会话
type Dialer interface {
	Dial(ctx context.Context, target hosts.Target) (*ssh.Session, error)
}

// DialFunc 函数形式的 Dialer
type DialFunc func(ctx context.Context, target hosts.Target) (*ssh.Session, error)

func (f DialFunc) Dial(ctx context.Context, target hosts.Target) (*ssh.Session, error) {
	return f(ctx, target)
}

// SSHDialer 通过 SSH 打开交互式 Shell
type SSHDialer struct {
	Config ssh.SessionConfig
}

func (d SSHDialer) Dial(ctx context.Context, target hosts.Target) (*ssh.Session, error) {
	return ssh.Open(ctx, target.Address, d.Config)
}

// Recorder 持久化执行报告
type Recorder interface {
	Record(ctx context.Context, report *Report) error
}

// Runner 批量执行器
type Runner struct {
	Dialer Dialer
	// Workers 并发设备数，<=1 为顺序执行
	Workers  int
	DryRun   bool
	Recorder Recorder
}

// Run 对每个目标执行作业；单台设备失败不影响其它设备，报告保持输入顺序
func (r *Runner) Run(ctx context.Context, targets []hosts.Target, job Job) *Report {
	return r.RunWithID(ctx, uuid.NewString(), targets, job)
}

// RunWithID 同 Run，使用调用方预先分配的执行 ID（异步接口先返回 ID）
func (r *Runner) RunWithID(ctx context.Context, id string, targets []hosts.Target, job Job) *Report {
	report := newReport(id, job.Name(), r.DryRun)
	report.Outcomes = make([]DeviceOutcome, len(targets))

	workers := r.Workers
	if workers < 1 {
		workers = 1
	}
	var g errgroup.Group
	g.SetLimit(workers)
	for i := range targets {
		idx := i
		g.Go(func() error {
			report.Outcomes[idx] = r.runOne(ctx, targets[idx], job)
			return nil
		})
	}
	_ = g.Wait()
	report.finish()

	logger.WithFields(map[string]interface{}{
		"job":       report.Job,
		"run_id":    report.ID,
		"devices":   len(report.Outcomes),
		"succeeded": report.Succeeded,
		"degraded":  report.Degraded,
		"failed":    report.Failed,
		"dry_run":   report.DryRuns,
	}).Info("Batch finished")

	if r.Recorder != nil {
		if err := r.Recorder.Record(ctx, report); err != nil {
			logger.WithError(err).Warn("Failed to record batch report")
		}
	}
	return report
}

func (r *Runner) runOne(ctx context.Context, target hosts.Target, job Job) (out DeviceOutcome) {
	start := time.Now()
	out = DeviceOutcome{Target: target, Vendor: platform.Unknown, Started: start}
	defer func() { out.Duration = time.Since(start) }()
	log := logger.WithDevice(target.Label(), target.Address)

	if err := ctx.Err(); err != nil {
		out.Err = err
		return out
	}

	if r.DryRun {
		out.DryRun = true
		if dr, ok := job.(DryRunner); ok {
			out.Payload, out.Err = dr.DryRun(ctx, target)
		}
		log.Info("Dry run, no connection made")
		return out
	}

	log.Info("Connecting")
	sess, err := r.Dialer.Dial(ctx, target)
	if err != nil {
		out.Err = fmt.Errorf("connect %s: %w", target.Address, err)
		if h, ok := job.(DialFailureHandler); ok {
			out.Payload = h.DialFailed(ctx, target, err)
		}
		log.WithError(err).Warn("Failed to connect")
		return out
	}
	defer sess.Close()
	sess.SetLabel(target.Label())

	dev := &Device{Target: target, Session: sess, Profile: platform.ForBanner(sess.Banner())}
	out.Vendor = dev.Vendor()
	dev.prepare(ctx)

	out.Payload, out.Err = job.Run(ctx, dev)
	out.Results = dev.Results()
	if out.Err != nil {
		dev.Log().WithError(out.Err).Warn("Job failed on device")
	}
	return out
}
