// Package job 作业实现：逐台设备执行命令并汇总写出结果文件
package job

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sshcollectorpro/netops/internal/batch"
	"github.com/sshcollectorpro/netops/internal/config"
	"github.com/sshcollectorpro/netops/internal/hosts"
	"github.com/sshcollectorpro/netops/internal/output"
	"github.com/sshcollectorpro/netops/pkg/logger"
)

// ErrUnknownJob 未注册的作业名
var ErrUnknownJob = errors.New("unknown job")

// Job 逐台设备执行，结束后汇总写出结果
type Job interface {
	batch.Job
	Finish(ctx context.Context, report *batch.Report) ([]output.Artifact, error)
}

// Factory 作业构造函数
type Factory func(cfg *config.Config, w *output.Writer) (Job, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{}
)

// Register 注册作业
func Register(name string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = f
}

// New 按名称构造作业
func New(name string, cfg *config.Config, w *output.Writer) (Job, error) {
	registryMu.RLock()
	f, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	return f(cfg, w)
}

// Names 已注册的作业名（排序）
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	out := make([]string, 0, len(registry))
	for name := range registry {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Execute 执行作业并写出结果；演练模式下不支持演练的作业不写文件
func Execute(ctx context.Context, runner *batch.Runner, targets []hosts.Target, j Job) (*batch.Report, []output.Artifact, error) {
	return ExecuteWithID(ctx, runner, "", targets, j)
}

// ExecuteWithID 同 Execute，id 为空时自动生成
func ExecuteWithID(ctx context.Context, runner *batch.Runner, id string, targets []hosts.Target, j Job) (*batch.Report, []output.Artifact, error) {
	var report *batch.Report
	if id == "" {
		report = runner.Run(ctx, targets, j)
	} else {
		report = runner.RunWithID(ctx, id, targets, j)
	}
	if report.DryRun {
		if _, ok := j.(batch.DryRunner); !ok {
			logger.Infof("Dry run of %s finished for %d devices, no files written", j.Name(), len(targets))
			return report, nil, nil
		}
	}
	arts, err := j.Finish(ctx, report)
	for _, a := range arts {
		logger.WithField("job", j.Name()).Infof("Data saved to %s", a.Path)
	}
	return report, arts, err
}

// base 作业共用字段
type base struct {
	cfg *config.Config
	w   *output.Writer
}

// stamp 文件名时间戳
func (b base) stamp() string {
	return b.w.Stamp.Format("20060102_150405")
}

// fileLabel 设备名中不适合出现在文件名里的字符替换为下划线
func fileLabel(t hosts.Target) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', ' ', '*', '?', '"', '<', '>', '|':
			return '_'
		}
		return r
	}, t.Label())
}

// Paths 结果文件路径
func Paths(arts []output.Artifact) []string {
	out := make([]string, 0, len(arts))
	for _, a := range arts {
		out = append(out, a.Path)
	}
	return out
}

// timestamp 结果行中的时间格式
func timestamp(t time.Time) string {
	return t.Format("2006-01-02 15:04:05")
}

// OverrideCommand 覆盖单命令作业（show / clear-dhcp / routes / dhcp-pool 校验）的命令
func OverrideCommand(cfg *config.Config, name, command string) error {
	command = strings.TrimSpace(command)
	if command == "" {
		return nil
	}
	switch name {
	case "show":
		cfg.Jobs.Show.Command = command
	case "clear-dhcp":
		cfg.Jobs.ClearDHCP.Command = command
	case "routes":
		cfg.Jobs.Routes.Command = command
	case "dhcp-pool":
		cfg.Jobs.DHCPPool.VerifyCommand = command
	default:
		return fmt.Errorf("%s does not take a command", name)
	}
	return nil
}
