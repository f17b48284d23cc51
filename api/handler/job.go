package handler

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/sshcollectorpro/netops/internal/batch"
	"github.com/sshcollectorpro/netops/internal/config"
	"github.com/sshcollectorpro/netops/internal/database"
	"github.com/sshcollectorpro/netops/internal/hosts"
	"github.com/sshcollectorpro/netops/internal/job"
	"github.com/sshcollectorpro/netops/internal/output"
	"github.com/sshcollectorpro/netops/pkg/logger"
)

// RunJobRequest 触发作业的请求体
type RunJobRequest struct {
	// Hosts 每项格式同清单文件行；为空时读取配置的清单文件
	Hosts   []string `json:"hosts"`
	Command string   `json:"command"`
	DryRun  bool     `json:"dry_run"`
}

// JobHandler 作业触发处理器，作业在后台执行
type JobHandler struct {
	ctx     context.Context
	cfg     *config.Config
	runner  batch.Runner
	store   *database.Store
	archive output.StorageWriter
	wg      sync.WaitGroup
}

// NewJobHandler 创建作业处理器；runner 为模板，每次请求复制一份
func NewJobHandler(ctx context.Context, cfg *config.Config, runner batch.Runner, store *database.Store, archive output.StorageWriter) *JobHandler {
	return &JobHandler{ctx: ctx, cfg: cfg, runner: runner, store: store, archive: archive}
}

// ListJobs 已注册的作业名
// @Summary 作业列表
// @Tags jobs
// @Produce json
// @Router /api/v1/jobs [get]
func (h *JobHandler) ListJobs(c *gin.Context) {
	c.JSON(http.StatusOK, SuccessResponse{Code: "SUCCESS", Message: "ok", Data: job.Names()})
}

// RunJob 异步执行作业，立即返回执行 ID
// @Summary 触发作业
// @Tags jobs
// @Accept json
// @Produce json
// @Param name path string true "作业名"
// @Param request body RunJobRequest false "设备与命令"
// @Success 202 {object} SuccessResponse
// @Failure 400 {object} ErrorResponse "请求参数错误"
// @Failure 404 {object} ErrorResponse "作业不存在"
// @Router /api/v1/jobs/{name} [post]
func (h *JobHandler) RunJob(c *gin.Context) {
	name := c.Param("name")
	var req RunJobRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, ErrorResponse{Code: "INVALID_PARAMS", Message: "请求参数无效: " + err.Error()})
		return
	}

	cfg := *h.cfg
	if err := job.OverrideCommand(&cfg, name, req.Command); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Code: "INVALID_PARAMS", Message: err.Error()})
		return
	}

	var targets []hosts.Target
	var err error
	if len(req.Hosts) > 0 {
		targets, err = hosts.FromList(req.Hosts)
	} else {
		targets, err = hosts.Load(cfg.HostsFile)
	}
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Code: "INVALID_HOSTS", Message: err.Error()})
		return
	}

	j, err := job.New(name, &cfg, output.NewWriter(cfg.Output.Dir, name, h.archive))
	if errors.Is(err, job.ErrUnknownJob) {
		c.JSON(http.StatusNotFound, ErrorResponse{Code: "JOB_NOT_FOUND", Message: "作业不存在: " + name})
		return
	}
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Code: "INVALID_JOB", Message: err.Error()})
		return
	}

	id := uuid.NewString()
	if h.store != nil {
		if err := h.store.Begin(c.Request.Context(), id, name, len(targets)); err != nil {
			logger.WithError(err).WithField("run_id", id).Warn("Failed to create run record")
		}
	}

	runner := h.runner
	runner.DryRun = runner.DryRun || req.DryRun
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		_, arts, err := job.ExecuteWithID(h.ctx, &runner, id, targets, j)
		if h.store == nil {
			return
		}
		ctx := context.Background()
		if err != nil {
			logger.WithError(err).WithField("run_id", id).Warn("Job finished with error")
			_ = h.store.Fail(ctx, id, err)
		}
		if len(arts) > 0 {
			if err := h.store.AttachArtifacts(ctx, id, job.Paths(arts)); err != nil {
				logger.WithError(err).WithField("run_id", id).Warn("Failed to attach artifacts")
			}
		}
	}()

	logger.WithFields(map[string]interface{}{"run_id": id, "job": name, "devices": len(targets)}).Info("Job accepted")
	c.JSON(http.StatusAccepted, SuccessResponse{
		Code:    "ACCEPTED",
		Message: "作业已提交",
		Data:    gin.H{"run_id": id, "job": name, "devices": len(targets), "dry_run": runner.DryRun},
	})
}

// Wait 等待后台作业结束（服务退出时调用）
func (h *JobHandler) Wait() {
	h.wg.Wait()
}
