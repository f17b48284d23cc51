package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "site: NYC\n"))
	require.NoError(t, err)

	assert.Equal(t, "NYC", cfg.Site)
	assert.Equal(t, 500*time.Millisecond, cfg.Session.PollInterval, "默认轮询间隔 0.5s")
	assert.Equal(t, 20, cfg.Session.MaxIterations)
	assert.Equal(t, 2*time.Second, cfg.Session.ReadTimeout)
	assert.Equal(t, []string{">", "#"}, cfg.Session.PromptTerminators)
	assert.Equal(t, "--More--", cfg.Session.PagingMarker)
	assert.Equal(t, " ", cfg.Session.PagingResponse)
	assert.Equal(t, "device_user", cfg.Credentials.UserKey)
	assert.Equal(t, 120, cfg.Jobs.DHCPPool.MaxIterations)
	assert.Equal(t, "sh run | sec dhcp", cfg.Jobs.Show.Command)
	assert.Equal(t, "auto", cfg.Output.Snapshot)
	assert.Same(t, cfg, Get())
}

func TestLoadFileValues(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
session:
  poll_interval: 100ms
  max_iterations: 50
  prompt_terminators: ["#"]
batch:
  workers: 8
server:
  host: 0.0.0.0
  port: 9090
`))
	require.NoError(t, err)
	assert.Equal(t, 100*time.Millisecond, cfg.Session.PollInterval)
	assert.Equal(t, 50, cfg.Session.MaxIterations)
	assert.Equal(t, []string{"#"}, cfg.Session.PromptTerminators)
	assert.Equal(t, 8, cfg.Batch.Workers)
	assert.Equal(t, "0.0.0.0:9090", cfg.GetServerAddr())
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("NETOPS_BATCH_WORKERS", "6")
	t.Setenv("NETOPS_OUTPUT_SNAPSHOT", "base")

	cfg, err := Load(writeConfig(t, "batch:\n  workers: 2\n"))
	require.NoError(t, err)
	assert.Equal(t, 6, cfg.Batch.Workers, "环境变量优先于配置文件")
	assert.Equal(t, "base", cfg.Output.Snapshot)
}

func TestLoadOptionOverride(t *testing.T) {
	cfg, err := Load(writeConfig(t, ""), func(v *viper.Viper) error {
		v.Set("batch.dry_run", true)
		return nil
	})
	require.NoError(t, err)
	assert.True(t, cfg.Batch.DryRun)
}

func TestLoadExpandsSecrets(t *testing.T) {
	t.Setenv("MINIO_SECRET_FOR_TEST", "s3cr3t")
	cfg, err := Load(writeConfig(t, "storage:\n  minio:\n    secret_key: ${MINIO_SECRET_FOR_TEST}\n"))
	require.NoError(t, err)
	assert.Equal(t, "s3cr3t", cfg.Storage.Minio.SecretKey)
}

func TestLoadRejectsInvalidSnapshot(t *testing.T) {
	_, err := Load(writeConfig(t, "output:\n  snapshot: weekly\n"))
	assert.Error(t, err)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
