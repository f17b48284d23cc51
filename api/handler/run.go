package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/sshcollectorpro/netops/internal/database"
	"github.com/sshcollectorpro/netops/pkg/logger"
)

// RunHandler 执行历史查询
type RunHandler struct {
	store *database.Store
}

// NewRunHandler 创建执行历史处理器；store 为 nil 表示未启用数据库
func NewRunHandler(store *database.Store) *RunHandler {
	return &RunHandler{store: store}
}

// Health 健康检查
// @Summary 服务健康状态
// @Tags system
// @Produce json
// @Router /api/v1/health [get]
func (h *RunHandler) Health(c *gin.Context) {
	db := "disabled"
	if h.store != nil {
		db = "ok"
		if err := database.Health(h.store.DB()); err != nil {
			db = "error: " + err.Error()
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"status":   "healthy",
		"database": db,
	})
}

// ListRuns 分页查询执行记录
// @Summary 执行记录列表
// @Tags runs
// @Produce json
// @Param job query string false "作业名"
// @Param limit query int false "每页数量"
// @Param offset query int false "偏移"
// @Router /api/v1/runs [get]
func (h *RunHandler) ListRuns(c *gin.Context) {
	if !h.ready(c) {
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if offset < 0 {
		offset = 0
	}
	runs, total, err := h.store.ListRuns(c.Request.Context(), c.Query("job"), limit, offset)
	if err != nil {
		logger.WithError(err).Warn("Failed to list runs")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Code: "QUERY_FAILED", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{
		Code:    "SUCCESS",
		Message: "ok",
		Data:    gin.H{"runs": runs, "total": total},
	})
}

// GetRun 查询单次执行及设备记录
// @Summary 执行记录详情
// @Tags runs
// @Produce json
// @Param id path string true "执行ID"
// @Router /api/v1/runs/{id} [get]
func (h *RunHandler) GetRun(c *gin.Context) {
	if !h.ready(c) {
		return
	}
	id := c.Param("id")
	run, err := h.store.GetRun(c.Request.Context(), id)
	if errors.Is(err, database.ErrRunNotFound) {
		c.JSON(http.StatusNotFound, ErrorResponse{Code: "RUN_NOT_FOUND", Message: "执行记录不存在: " + id})
		return
	}
	if err != nil {
		logger.WithError(err).WithField("run_id", id).Warn("Failed to get run")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Code: "QUERY_FAILED", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Code: "SUCCESS", Message: "ok", Data: run})
}

func (h *RunHandler) ready(c *gin.Context) bool {
	if h.store == nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Code: "DATABASE_DISABLED", Message: "数据库未启用"})
		return false
	}
	return true
}
