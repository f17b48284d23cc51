package router

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sshcollectorpro/netops/api/handler"
	"github.com/sshcollectorpro/netops/internal/batch"
	"github.com/sshcollectorpro/netops/internal/config"
	"github.com/sshcollectorpro/netops/internal/database"
	"github.com/sshcollectorpro/netops/internal/model"
	"github.com/sshcollectorpro/netops/pkg/ssh"
	"github.com/sshcollectorpro/netops/simulate"
)

func testRouter(t *testing.T, withDB bool) (*gin.Engine, *handler.JobHandler) {
	t.Helper()
	cfg := &config.Config{Site: "LON", HostsFile: filepath.Join(t.TempDir(), "missing.txt")}
	cfg.Output.Dir = t.TempDir()
	cfg.Output.Snapshot = "none"
	cfg.Jobs.Show.Command = "sh run | sec dhcp"

	sess := ssh.DefaultSessionConfig()
	sess.Username, sess.Password = "admin", "nova"
	sess.ConnectTimeout = 3 * time.Second
	sess.PollInterval = 20 * time.Millisecond
	sess.ReadTimeout = 500 * time.Millisecond
	sess.BannerGrace = 100 * time.Millisecond

	runner := batch.Runner{Dialer: batch.SSHDialer{Config: sess}, Workers: 2}
	var store *database.Store
	if withDB {
		conn, err := database.Open(config.SQLiteConfig{Path: filepath.Join(t.TempDir(), "netops.db"), ConnMaxLifetime: time.Hour})
		require.NoError(t, err)
		t.Cleanup(func() {
			if sqlDB, err := conn.DB(); err == nil {
				_ = sqlDB.Close()
			}
		})
		store = database.NewStore(conn)
		runner.Recorder = store
	}

	jobs := handler.NewJobHandler(context.Background(), cfg, runner, store, nil)
	return SetupRouter(gin.TestMode, handler.NewRunHandler(store), jobs), jobs
}

func do(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHealthWithoutDatabase(t *testing.T) {
	r, _ := testRouter(t, false)
	w := do(r, http.MethodGet, "/api/v1/health", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"database":"disabled"`)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	w = do(r, http.MethodGet, "/api/v1/runs", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestRequestIDIsEchoed(t *testing.T) {
	r, _ := testRouter(t, false)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, "abc-123", w.Header().Get("X-Request-ID"))
}

func TestRunJobValidation(t *testing.T) {
	r, _ := testRouter(t, false)

	w := do(r, http.MethodPost, "/api/v1/jobs/reboot", `{"hosts":["10.0.0.1"]}`)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(r, http.MethodPost, "/api/v1/jobs/show", `{"hosts":`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(r, http.MethodPost, "/api/v1/jobs/show", "")
	assert.Equal(t, http.StatusBadRequest, w.Code, "清单文件不存在")
	assert.Contains(t, w.Body.String(), "INVALID_HOSTS")

	w = do(r, http.MethodPost, "/api/v1/jobs/wlc-ha", `{"hosts":["10.0.0.1"],"command":"show clock"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(r, http.MethodGet, "/nope", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListJobs(t *testing.T) {
	r, _ := testRouter(t, false)
	w := do(r, http.MethodGet, "/api/v1/jobs", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"interfaces-mac"`)
}

func TestRunJobEndToEnd(t *testing.T) {
	srv := simulate.NewServer("SW1", simulate.DeviceConfig{
		Vendor: "cisco", Hostname: "SW1", Banner: "Cisco IOS XE Software",
		Commands: map[string]string{"show clock": "*10:00:00.000 UTC Mon Mar 4 2024"},
	}, simulate.Auth{Username: "admin", Password: "nova"})
	require.NoError(t, srv.Start())
	t.Cleanup(srv.Close)

	r, jobs := testRouter(t, true)
	w := do(r, http.MethodPost, "/api/v1/jobs/show", `{"hosts":["sw1 `+srv.Addr()+`"],"command":"show clock"}`)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	var accepted struct {
		Data struct {
			RunID   string `json:"run_id"`
			Devices int    `json:"devices"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &accepted))
	require.NotEmpty(t, accepted.Data.RunID)
	assert.Equal(t, 1, accepted.Data.Devices)

	jobs.Wait()

	w = do(r, http.MethodGet, "/api/v1/runs/"+accepted.Data.RunID, "")
	require.Equal(t, http.StatusOK, w.Code)
	var got struct {
		Data model.Run `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, model.RunStatusSuccess, got.Data.Status)
	assert.Equal(t, "show", got.Data.Job)
	require.Len(t, got.Data.Devices, 1)
	assert.Equal(t, "cisco", got.Data.Devices[0].Vendor)
	assert.Contains(t, got.Data.Artifacts, "sw1_")

	w = do(r, http.MethodGet, "/api/v1/runs?job=show", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"total":1`)

	w = do(r, http.MethodGet, "/api/v1/runs/does-not-exist", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}
