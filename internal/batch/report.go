package batch

import (
	"time"

	"github.com/sshcollectorpro/netops/internal/hosts"
	"github.com/sshcollectorpro/netops/internal/platform"
	"github.com/sshcollectorpro/netops/pkg/ssh"
)

// Status 单台设备的执行状态
type Status string

const (
	StatusOK       Status = "ok"
	StatusDegraded Status = "degraded"
	StatusFailed   Status = "failed"
	StatusDryRun   Status = "dry-run"
)

// DeviceOutcome 单台设备的执行结果
type DeviceOutcome struct {
	Target   hosts.Target
	Vendor   platform.Vendor
	Payload  Payload
	Results  []*ssh.CommandResult
	Err      error
	DryRun   bool
	Started  time.Time
	Duration time.Duration
}

// Status 失败优先于降级；任一命令未确认完成即为降级
func (o DeviceOutcome) Status() Status {
	switch {
	case o.DryRun && o.Err == nil:
		return StatusDryRun
	case o.Err != nil:
		return StatusFailed
	}
	for _, r := range o.Results {
		if r.Degraded() {
			return StatusDegraded
		}
	}
	return StatusOK
}

// Error 错误文本，无错误时为空
func (o DeviceOutcome) Error() string {
	if o.Err == nil {
		return ""
	}
	return o.Err.Error()
}

// Report 一次批量执行的汇总
type Report struct {
	ID        string
	Job       string
	DryRun    bool
	Started   time.Time
	Finished  time.Time
	Outcomes  []DeviceOutcome
	Succeeded int
	Degraded  int
	Failed    int
	// DryRuns 演练模式下未连接的设备数，不计入成功
	DryRuns int
}

func newReport(id, job string, dryRun bool) *Report {
	return &Report{ID: id, Job: job, DryRun: dryRun, Started: time.Now()}
}

func (r *Report) finish() {
	r.Finished = time.Now()
	r.Succeeded, r.Degraded, r.Failed, r.DryRuns = 0, 0, 0, 0
	for _, o := range r.Outcomes {
		switch o.Status() {
		case StatusFailed:
			r.Failed++
		case StatusDegraded:
			r.Degraded++
		case StatusDryRun:
			r.DryRuns++
		default:
			r.Succeeded++
		}
	}
}

// Payloads 按输入顺序返回非空的设备数据
func (r *Report) Payloads() []Payload {
	out := make([]Payload, 0, len(r.Outcomes))
	for _, o := range r.Outcomes {
		if o.Payload != nil {
			out = append(out, o.Payload)
		}
	}
	return out
}
