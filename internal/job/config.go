package job

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sshcollectorpro/netops/internal/batch"
	"github.com/sshcollectorpro/netops/internal/config"
	"github.com/sshcollectorpro/netops/internal/hosts"
	"github.com/sshcollectorpro/netops/internal/output"
	"github.com/sshcollectorpro/netops/internal/parser"
	"github.com/sshcollectorpro/netops/internal/platform"
	"github.com/sshcollectorpro/netops/internal/util"
	"github.com/sshcollectorpro/netops/pkg/ssh"
)

var (
	// ErrUnsupportedVendor 作业不支持该厂商
	ErrUnsupportedVendor = errors.New("unsupported vendor")
	// ErrCommitFailed 提交未确认成功
	ErrCommitFailed = errors.New("commit not confirmed")
)

// DHCPPool 下发 DHCP 地址池配置并回显校验
type DHCPPool struct {
	base
	pool config.DHCPPoolJobConfig
}

func (DHCPPool) Name() string { return "dhcp-pool" }

func (j *DHCPPool) Run(ctx context.Context, dev *batch.Device) (batch.Payload, error) {
	dev.Run(ctx, "configure terminal")
	for _, line := range j.pool.Lines {
		if res := dev.Run(ctx, line); res.Degraded() {
			dev.Log().Warnf("Prompt not detected after config line %q", line)
		}
	}
	dev.Run(ctx, "end")
	dev.Run(ctx, "terminal length 0")

	res := dev.RunWith(ctx, j.pool.VerifyCommand, ssh.RunOptions{MaxIterations: j.pool.MaxIterations})
	if res.Degraded() {
		dev.Log().Warn("Prompt not detected (verify). Output may be incomplete.")
	}
	return parser.StripEcho(util.CleanTerminal(res.RawOutput), j.pool.VerifyCommand), nil
}

// DryRun 返回将要下发的配置
func (j *DHCPPool) DryRun(_ context.Context, _ hosts.Target) (batch.Payload, error) {
	return "DRY RUN\n" + strings.Join(j.pool.Lines, "\n"), nil
}

func (j *DHCPPool) Finish(ctx context.Context, report *batch.Report) ([]output.Artifact, error) {
	var b strings.Builder
	for _, o := range report.Outcomes {
		fmt.Fprintf(&b, "--- %s (%s) ---\n", o.Target.Label(), o.Target.Address)
		if o.Err != nil {
			b.WriteString("ERROR: " + o.Error())
		} else if text, ok := o.Payload.(string); ok {
			b.WriteString(text)
		}
		b.WriteString("\n\n")
	}
	a, err := j.w.WriteText(ctx, j.pool.Output, b.String())
	if err != nil {
		return nil, err
	}
	return []output.Artifact{a}, nil
}

// commitMarkers commit and-quit 的结束标记
var commitMarkers = []string{"commit complete", "error:", "configuration check"}

// Banner 通过 load merge terminal 下发 Junos 登录横幅
type Banner struct {
	base
	message       string
	maxIterations int
}

type bannerPayload struct {
	Block   string
	Debug   string
	Matched string
	Success bool
}

// BannerResultHeader 横幅结果表头
var BannerResultHeader = []string{"device_name", "ip_address", "status", "detail"}

func (Banner) Name() string { return "banner" }

func (j *Banner) Run(ctx context.Context, dev *batch.Device) (batch.Payload, error) {
	if dev.Vendor() == platform.Cisco {
		return nil, fmt.Errorf("banner: %w: %s", ErrUnsupportedVendor, dev.Vendor())
	}
	p := &bannerPayload{Block: BuildJunosBlock(j.message)}

	dev.Run(ctx, "configure")
	if err := dev.SendLine(ctx, "load merge terminal", 500*time.Millisecond); err != nil {
		return p, err
	}
	if err := dev.Send(ctx, p.Block+"\n", 200*time.Millisecond); err != nil {
		return p, err
	}
	if err := dev.Send(ctx, "\x04", time.Second); err != nil {
		return p, err
	}
	loaded := dev.Drain()

	res := dev.RunWith(ctx, "commit and-quit", ssh.RunOptions{
		MaxIterations:     j.maxIterations,
		CompletionMarkers: commitMarkers,
	})
	p.Debug = loaded + res.RawOutput
	p.Matched = res.Matched
	p.Success = strings.Contains(strings.ToLower(res.RawOutput), "commit complete")
	if !p.Success {
		return p, fmt.Errorf("banner: %w (matched %q)", ErrCommitFailed, res.Matched)
	}
	dev.Log().Info("Banner committed")
	return p, nil
}

// DryRun 返回将要下发的配置块
func (j *Banner) DryRun(_ context.Context, _ hosts.Target) (batch.Payload, error) {
	return &bannerPayload{Block: BuildJunosBlock(j.message)}, nil
}

func (j *Banner) Finish(ctx context.Context, report *batch.Report) ([]output.Artifact, error) {
	var arts []output.Artifact
	rows := make([][]string, 0, len(report.Outcomes))
	for _, o := range report.Outcomes {
		p, _ := o.Payload.(*bannerPayload)
		status, detail := string(o.Status()), o.Error()
		if o.DryRun && p != nil {
			detail = p.Block
		}
		rows = append(rows, []string{o.Target.Label(), o.Target.Address, status, detail})

		if p == nil || p.Debug == "" {
			continue
		}
		a, err := j.w.WriteText(ctx, fileLabel(o.Target)+"_banner_debug.txt", p.Debug)
		if err != nil {
			return arts, err
		}
		arts = append(arts, a)
	}
	a, err := j.w.WriteCSV(ctx, fmt.Sprintf("banner_results_%s.csv", j.stamp()), BannerResultHeader, rows)
	if err != nil {
		return arts, err
	}
	return append([]output.Artifact{a}, arts...), nil
}

// BuildJunosBlock system login message 配置块，消息按 Junos 字符串规则转义
func BuildJunosBlock(message string) string {
	esc := strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`).Replace(message)
	return "system {\n  login {\n    message \"" + esc + "\";\n  }\n}\n"
}

func init() {
	Register("dhcp-pool", func(cfg *config.Config, w *output.Writer) (Job, error) {
		c := cfg.Jobs.DHCPPool
		if len(c.Lines) == 0 || c.VerifyCommand == "" {
			return nil, fmt.Errorf("dhcp-pool: %w", ErrNoCommand)
		}
		if c.Output == "" {
			c.Output = "combined_dhcp_pool.txt"
		}
		return &DHCPPool{base: base{cfg, w}, pool: c}, nil
	})
	Register("banner", func(cfg *config.Config, w *output.Writer) (Job, error) {
		if strings.TrimSpace(cfg.Jobs.Banner.Message) == "" {
			return nil, errors.New("banner: message is empty")
		}
		return &Banner{
			base:          base{cfg, w},
			message:       cfg.Jobs.Banner.Message,
			maxIterations: cfg.Jobs.Banner.MaxIterations,
		}, nil
	})
}
