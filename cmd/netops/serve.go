package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/sshcollectorpro/netops/api/handler"
	"github.com/sshcollectorpro/netops/api/router"
	"github.com/sshcollectorpro/netops/internal/batch"
	"github.com/sshcollectorpro/netops/internal/config"
	"github.com/sshcollectorpro/netops/internal/credential"
	"github.com/sshcollectorpro/netops/internal/database"
	"github.com/sshcollectorpro/netops/internal/output"
	"github.com/sshcollectorpro/netops/pkg/logger"
)

// defaultConfigPath 未指定 --config 时监听的配置文件
const defaultConfigPath = "configs/config.yaml"

func (a *app) serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API (trigger jobs, query run history)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.serve(ctx)
		},
	}
}

func (a *app) serve(ctx context.Context) error {
	cfg := a.cfg
	if cfg.Session.Username == "" {
		if creds, err := credential.Load(cfg.Credentials); err != nil {
			logger.WithError(err).Warn("Credentials not loaded, jobs will fail to authenticate")
		} else {
			cfg.Session.Username, cfg.Session.Password = creds.Username, creds.Password
		}
	}

	var store *database.Store
	if cfg.Database.Enabled {
		if err := database.InitSQLite(cfg.Database.SQLite); err != nil {
			return err
		}
		defer func() { _ = database.Close() }()
		store = database.NewStore(database.GetDB())
	}

	runner := batch.Runner{
		Dialer:  batch.SSHDialer{Config: cfg.Session},
		Workers: cfg.Batch.Workers,
		DryRun:  cfg.Batch.DryRun,
	}
	if store != nil {
		runner.Recorder = store
	}
	jobs := handler.NewJobHandler(ctx, cfg, runner, store, output.NewStorageWriter(cfg.Storage))
	r := router.SetupRouter(cfg.Server.Mode, handler.NewRunHandler(store), jobs)

	server := &http.Server{
		Addr:           cfg.GetServerAddr(),
		Handler:        r,
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		MaxHeaderBytes: 1 << 20, // 1MB
	}

	errCh := make(chan error, 1)
	go func() {
		logger.WithField("addr", server.Addr).Info("Server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	go a.watchConfig(ctx)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("Server forced to shutdown")
	}
	jobs.Wait()
	logger.Info("Server exited")
	return nil
}

// watchConfig 配置文件变化时重新加载日志级别
func (a *app) watchConfig(ctx context.Context) {
	path := a.cfgFile
	if path == "" {
		path = defaultConfigPath
	}
	if _, err := os.Stat(path); err != nil {
		logger.WithField("path", path).Debug("Config file not found, skip watch")
		return
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		logger.WithError(err).Warn("Config watch init failed")
		return
	}
	defer watcher.Close()
	if err := watcher.Add(path); err != nil {
		logger.WithError(err).Warn("Config watch add failed")
		return
	}

	var debounce *time.Timer
	reload := func() {
		newCfg, err := config.Load(path)
		if err != nil {
			logger.WithError(err).Warn("Config reload failed")
			return
		}
		logger.SetLevel(newCfg.Log.Level)
		logger.WithField("level", newCfg.Log.Level).Info("Config reloaded")
	}
	for {
		select {
		case <-ctx.Done():
			if debounce != nil {
				debounce.Stop()
			}
			return
		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(300*time.Millisecond, reload)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			logger.WithError(err).Warn("Config watch error")
		}
	}
}

func closeDB(conn *gorm.DB) {
	if sqlDB, err := conn.DB(); err == nil {
		_ = sqlDB.Close()
	}
}
