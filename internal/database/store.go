// Package database 作业执行历史（SQLite）
package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/sshcollectorpro/netops/internal/batch"
	"github.com/sshcollectorpro/netops/internal/model"
)

// ErrRunNotFound 执行记录不存在
var ErrRunNotFound = errors.New("run not found")

// Store 执行历史读写，实现 batch.Recorder
type Store struct {
	db *gorm.DB
}

// NewStore 基于已打开的数据库创建
func NewStore(conn *gorm.DB) *Store {
	return &Store{db: conn}
}

// DB 底层连接
func (s *Store) DB() *gorm.DB {
	return s.db
}

// Begin 写入一条 running 状态的执行记录（异步接口先返回 ID）
func (s *Store) Begin(ctx context.Context, id, job string, total int) error {
	run := model.Run{ID: id, Job: job, Status: model.RunStatusRunning, Total: total, StartTime: time.Now()}
	return s.db.WithContext(ctx).Create(&run).Error
}

// Record 保存报告：覆盖执行记录并重写设备记录
func (s *Store) Record(ctx context.Context, report *batch.Report) error {
	run := runFromReport(report)
	records := make([]model.DeviceRecord, 0, len(report.Outcomes))
	for _, o := range report.Outcomes {
		records = append(records, deviceRecord(report.ID, o))
	}

	return TransactionWithRetry(s.db.WithContext(ctx), func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&run).Error; err != nil {
			return fmt.Errorf("failed to save run: %w", err)
		}
		if err := tx.Where("run_id = ?", run.ID).Delete(&model.DeviceRecord{}).Error; err != nil {
			return err
		}
		if len(records) == 0 {
			return nil
		}
		return tx.CreateInBatches(records, 100).Error
	}, 5, 50*time.Millisecond)
}

// Fail 将执行记录标记为失败（例如作业在批量执行前出错）
func (s *Store) Fail(ctx context.Context, id string, cause error) error {
	return s.db.WithContext(ctx).Model(&model.Run{}).Where("id = ?", id).Updates(map[string]interface{}{
		"status":    model.RunStatusFailed,
		"error_msg": cause.Error(),
		"end_time":  time.Now(),
	}).Error
}

// AttachArtifacts 记录结果文件路径
func (s *Store) AttachArtifacts(ctx context.Context, id string, paths []string) error {
	data, err := json.Marshal(paths)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Model(&model.Run{}).Where("id = ?", id).Update("artifacts", string(data)).Error
}

// ListRuns 按开始时间倒序分页，可按作业名过滤
func (s *Store) ListRuns(ctx context.Context, job string, limit, offset int) ([]model.Run, int64, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	q := s.db.WithContext(ctx).Model(&model.Run{})
	if job = strings.TrimSpace(job); job != "" {
		q = q.Where("job = ?", job)
	}
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var runs []model.Run
	if err := q.Order("start_time DESC").Limit(limit).Offset(offset).Find(&runs).Error; err != nil {
		return nil, 0, err
	}
	return runs, total, nil
}

// GetRun 查询执行记录及其设备记录
func (s *Store) GetRun(ctx context.Context, id string) (*model.Run, error) {
	var run model.Run
	err := s.db.WithContext(ctx).
		Preload("Devices", func(db *gorm.DB) *gorm.DB { return db.Order("start_time ASC") }).
		First(&run, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}

func runFromReport(r *batch.Report) model.Run {
	run := model.Run{
		ID:        r.ID,
		Job:       r.Job,
		DryRun:    r.DryRun,
		Total:     len(r.Outcomes),
		Succeeded: r.Succeeded,
		Degraded:  r.Degraded,
		Failed:    r.Failed,
		StartTime: r.Started,
		EndTime:   r.Finished,
		Duration:  r.Finished.Sub(r.Started).Milliseconds(),
	}
	switch {
	case r.Failed == 0 && r.Degraded == 0:
		run.Status = model.RunStatusSuccess
	case r.Succeeded == 0 && r.Degraded == 0:
		run.Status = model.RunStatusFailed
	default:
		run.Status = model.RunStatusPartial
	}
	return run
}

func deviceRecord(runID string, o batch.DeviceOutcome) model.DeviceRecord {
	cmds := make([]string, 0, len(o.Results))
	pages := 0
	for _, res := range o.Results {
		cmds = append(cmds, res.Command)
		pages += res.PagesAcknowledged
	}
	return model.DeviceRecord{
		ID:                uuid.NewString(),
		RunID:             runID,
		Name:              o.Target.Name,
		Address:           o.Target.Address,
		Vendor:            string(o.Vendor),
		Status:            string(o.Status()),
		Commands:          strings.Join(cmds, "\n"),
		PagesAcknowledged: pages,
		ErrorMsg:          o.Error(),
		StartTime:         o.Started,
		Duration:          o.Duration.Milliseconds(),
	}
}
