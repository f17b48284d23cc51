package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/sshcollectorpro/netops/internal/config"
	"github.com/sshcollectorpro/netops/pkg/logger"
)

// app 命令行共享状态
type app struct {
	cfgFile string
	cfg     *config.Config
	// bindings 子命令 flag 名到配置键（只绑定当前命令上存在的 flag）
	bindings map[string]string
}

// persistentBindings 全局 flag 对应的配置键
var persistentBindings = map[string]string{
	"hosts":      "hosts_file",
	"workers":    "batch.workers",
	"dry-run":    "batch.dry_run",
	"site":       "site",
	"output-dir": "output.dir",
	"log-level":  "log.level",
}

func newRootCmd() *cobra.Command {
	a := &app{bindings: map[string]string{}}
	root := &cobra.Command{
		Use:   "netops",
		Short: "Run interactive SSH jobs against network devices",
		Long: "Connects to Cisco / Juniper / console-server devices over SSH, drives their interactive CLI " +
			"with prompt detection and --More-- paging, and writes CSV/JSON/text results.",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.load(cmd)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&a.cfgFile, "config", "c", "", "config file (default: configs/config.yaml)")
	pf.String("hosts", "", "hosts file, one \"name address\" per line")
	pf.Int("workers", 1, "devices processed concurrently (1 = sequential)")
	pf.Bool("dry-run", false, "do not connect to devices")
	pf.String("site", "", "site code used in snapshot file names")
	pf.String("output-dir", "", "directory for result files")
	pf.String("log-level", "", "log level (debug|info|warn|error)")

	root.AddCommand(a.jobCommands()...)
	root.AddCommand(
		a.compareMACCmd(),
		a.mergeMACCmd(),
		a.compareRoutesCmd(),
		a.encryptCmd(),
		a.serveCmd(),
		a.simulateCmd(),
	)
	return root
}

// load 加载配置（命令行 flag 优先）并初始化日志
func (a *app) load(cmd *cobra.Command) error {
	bind := func(v *viper.Viper) error {
		for name, key := range persistentBindings {
			if f := cmd.Flags().Lookup(name); f != nil && f.Changed {
				if err := v.BindPFlag(key, f); err != nil {
					return err
				}
			}
		}
		for name, key := range a.bindings {
			if f := cmd.Flags().Lookup(name); f != nil && f.Changed {
				if err := v.BindPFlag(key, f); err != nil {
					return err
				}
			}
		}
		return nil
	}
	cfg, err := config.Load(a.cfgFile, bind)
	if err != nil {
		return err
	}
	if err := logger.Init(cfg.Log); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	a.cfg = cfg
	return nil
}
