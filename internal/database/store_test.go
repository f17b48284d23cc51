package database

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sshcollectorpro/netops/internal/batch"
	"github.com/sshcollectorpro/netops/internal/config"
	"github.com/sshcollectorpro/netops/internal/hosts"
	"github.com/sshcollectorpro/netops/internal/model"
	"github.com/sshcollectorpro/netops/internal/platform"
	"github.com/sshcollectorpro/netops/pkg/ssh"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	conn, err := Open(config.SQLiteConfig{Path: filepath.Join(t.TempDir(), "db", "netops.db"), ConnMaxLifetime: time.Hour})
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := conn.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	require.NoError(t, Health(conn))
	return NewStore(conn)
}

func sampleReport(id string, started time.Time) *batch.Report {
	return &batch.Report{
		ID:       id,
		Job:      "interfaces-mac",
		Started:  started,
		Finished: started.Add(3 * time.Second),
		Outcomes: []batch.DeviceOutcome{
			{
				Target:  hosts.Target{Name: "sw1", Address: "10.0.0.1"},
				Vendor:  platform.Cisco,
				Started: started,
				Results: []*ssh.CommandResult{
					{Command: "show interfaces description", PromptDetected: true, PagesAcknowledged: 2},
					{Command: "show mac address-table", PromptDetected: true, PagesAcknowledged: 1},
				},
				Duration: time.Second,
			},
			{
				Target:  hosts.Target{Address: "10.0.0.2"},
				Started: started.Add(time.Millisecond),
				Err:     errors.New("connect 10.0.0.2: refused"),
			},
		},
		Succeeded: 1,
		Failed:    1,
	}
}

func TestRecordAndGetRun(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	now := time.Now().Truncate(time.Second)

	require.NoError(t, s.Begin(ctx, "run-1", "interfaces-mac", 2))
	run, err := s.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusRunning, run.Status)

	require.NoError(t, s.Record(ctx, sampleReport("run-1", now)))
	// 重复保存覆盖设备记录
	require.NoError(t, s.Record(ctx, sampleReport("run-1", now)))
	require.NoError(t, s.AttachArtifacts(ctx, "run-1", []string{"outputs/a.csv"}))

	run, err = s.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusPartial, run.Status)
	assert.Equal(t, 2, run.Total)
	assert.Equal(t, int64(3000), run.Duration)
	assert.Equal(t, `["outputs/a.csv"]`, run.Artifacts)
	require.Len(t, run.Devices, 2)

	d := run.Devices[0]
	assert.Equal(t, "sw1", d.Name)
	assert.Equal(t, "cisco", d.Vendor)
	assert.Equal(t, "ok", d.Status)
	assert.Equal(t, 3, d.PagesAcknowledged)
	assert.Equal(t, "show interfaces description\nshow mac address-table", d.Commands)
	assert.Equal(t, "failed", run.Devices[1].Status)
	assert.Contains(t, run.Devices[1].ErrorMsg, "refused")
}

func TestGetRunNotFound(t *testing.T) {
	s := openStore(t)
	_, err := s.GetRun(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestListRuns(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	base := time.Now().Add(-time.Hour)
	for i, id := range []string{"a", "b", "c"} {
		r := sampleReport(id, base.Add(time.Duration(i)*time.Minute))
		if id == "c" {
			r.Job = "routes"
		}
		require.NoError(t, s.Record(ctx, r))
	}

	runs, total, err := s.ListRuns(ctx, "", 2, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	require.Len(t, runs, 2)
	assert.Equal(t, "c", runs[0].ID, "最新的在前")
	assert.Empty(t, runs[0].Devices, "列表不加载设备记录")

	runs, total, err = s.ListRuns(ctx, "interfaces-mac", 10, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	assert.Equal(t, "b", runs[0].ID)
}

func TestFail(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	require.NoError(t, s.Begin(ctx, "r", "show", 0))
	require.NoError(t, s.Fail(ctx, "r", errors.New("hosts: no targets found")))
	run, err := s.GetRun(ctx, "r")
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusFailed, run.Status)
	assert.Equal(t, "hosts: no targets found", run.ErrorMsg)
}

func TestIsBusyError(t *testing.T) {
	assert.True(t, IsBusyError(errors.New("database is locked (5) (SQLITE_BUSY)")))
	assert.False(t, IsBusyError(errors.New("no such table")))
	assert.False(t, IsBusyError(nil))
}
