package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/sshcollectorpro/netops/internal/batch"
	"github.com/sshcollectorpro/netops/internal/config"
	"github.com/sshcollectorpro/netops/internal/credential"
	"github.com/sshcollectorpro/netops/internal/database"
	"github.com/sshcollectorpro/netops/internal/hosts"
	"github.com/sshcollectorpro/netops/internal/job"
	"github.com/sshcollectorpro/netops/internal/output"
	"github.com/sshcollectorpro/netops/pkg/logger"
)

// jobSpec 作业子命令定义
type jobSpec struct {
	name  string
	short string
	// command 是否接受 --command
	command bool
	flags   func(cmd *cobra.Command, bind map[string]string)
}

var jobSpecs = []jobSpec{
	{
		name:  "interfaces-mac",
		short: "Collect interface descriptions and MAC tables into a snapshot CSV",
		flags: func(cmd *cobra.Command, bind map[string]string) {
			cmd.Flags().Bool("debug", false, "also write raw command output per device")
			cmd.Flags().String("snapshot", "", "snapshot type: base|daytime|none|auto")
			bind["debug"] = "output.debug"
			bind["snapshot"] = "output.snapshot"
		},
	},
	{name: "interface-desc", short: "Collect interface descriptions into a CSV"},
	{name: "show", short: "Run one command per device and save the output", command: true},
	{name: "clear-dhcp", short: "Clear DHCP bindings", command: true},
	{name: "dhcp-pool", short: "Push DHCP pool lines and save the verification output", command: true},
	{
		name:  "banner",
		short: "Set the Junos login banner",
		flags: func(cmd *cobra.Command, bind map[string]string) {
			cmd.Flags().String("message", "", "banner text")
			bind["message"] = "jobs.banner.message"
		},
	},
	{name: "serials", short: "Collect console server serial numbers (ICMP probe on SSH failure)"},
	{name: "wlc-ha", short: "Collect wireless controller HA and mobility state"},
	{
		name:    "routes",
		short:   "Collect routes and optionally compare them with site subnets",
		command: true,
		flags: func(cmd *cobra.Command, bind map[string]string) {
			cmd.Flags().String("site-subnets", "", "tab-separated site subnets file")
			bind["site-subnets"] = "jobs.routes.site_subnets"
		},
	},
}

func (a *app) jobCommands() []*cobra.Command {
	cmds := make([]*cobra.Command, 0, len(jobSpecs))
	for _, spec := range jobSpecs {
		spec := spec
		var command string
		cmd := &cobra.Command{
			Use:   spec.name,
			Short: spec.short,
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				if err := job.OverrideCommand(a.cfg, spec.name, command); err != nil {
					return err
				}
				ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
				defer stop()
				return runJob(ctx, a.cfg, spec.name, cmd.OutOrStdout())
			},
		}
		if spec.command {
			cmd.Flags().StringVar(&command, "command", "", "command to run instead of the configured one")
		}
		if spec.flags != nil {
			spec.flags(cmd, a.bindings)
		}
		cmds = append(cmds, cmd)
	}
	return cmds
}

// runJob 读取清单与凭据，执行作业并打印汇总
func runJob(ctx context.Context, cfg *config.Config, name string, out io.Writer) error {
	targets, err := hosts.Load(cfg.HostsFile)
	if err != nil {
		return err
	}
	if !cfg.Batch.DryRun && cfg.Session.Username == "" {
		creds, err := credential.Load(cfg.Credentials)
		if err != nil {
			return fmt.Errorf("failed to load credentials: %w", err)
		}
		cfg.Session.Username, cfg.Session.Password = creds.Username, creds.Password
	}

	j, err := job.New(name, cfg, output.NewWriter(cfg.Output.Dir, name, output.NewStorageWriter(cfg.Storage)))
	if err != nil {
		return err
	}

	runner := &batch.Runner{
		Dialer:  batch.SSHDialer{Config: cfg.Session},
		Workers: cfg.Batch.Workers,
		DryRun:  cfg.Batch.DryRun,
	}
	var store *database.Store
	if cfg.Database.Enabled {
		conn, err := database.Open(cfg.Database.SQLite)
		if err != nil {
			logger.WithError(err).Warn("Run history disabled")
		} else {
			defer closeDB(conn)
			store = database.NewStore(conn)
			runner.Recorder = store
		}
	}

	report, arts, err := job.Execute(ctx, runner, targets, j)
	if store != nil && len(arts) > 0 {
		if err := store.AttachArtifacts(ctx, report.ID, job.Paths(arts)); err != nil {
			logger.WithError(err).Warn("Failed to attach artifacts to run")
		}
	}
	printReport(out, report, arts)
	return err
}

func printReport(out io.Writer, report *batch.Report, arts []output.Artifact) {
	fmt.Fprintf(out, "%s run %s\n", report.Job, report.ID)
	for _, o := range report.Outcomes {
		fmt.Fprintf(out, "  %-24s %-22s %-8s %-9s %s\n", o.Target.Label(), o.Target.Address, o.Vendor, o.Status(), o.Error())
	}
	fmt.Fprintf(out, "ok=%d degraded=%d failed=%d dry-run=%d in %s\n",
		report.Succeeded, report.Degraded, report.Failed, report.DryRuns, report.Finished.Sub(report.Started).Round(time.Millisecond))
	for _, a := range arts {
		fmt.Fprintf(out, "  -> %s\n", a.Path)
	}
}
