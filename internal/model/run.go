package model

import (
	"time"
)

// Run 一次作业执行
type Run struct {
	ID        string `json:"id" gorm:"primaryKey;type:varchar(64)"`
	Job       string `json:"job" gorm:"type:varchar(32);not null;index"`
	Status    string `json:"status" gorm:"type:varchar(16);not null;default:'running'"`
	DryRun    bool   `json:"dry_run" gorm:"not null;default:false"`
	Total     int    `json:"total" gorm:"not null;default:0"`
	Succeeded int    `json:"succeeded" gorm:"not null;default:0"`
	Degraded  int    `json:"degraded" gorm:"not null;default:0"`
	Failed    int    `json:"failed" gorm:"not null;default:0"`
	// Artifacts 结果文件路径（JSON 数组）
	Artifacts string         `json:"artifacts" gorm:"type:text"`
	ErrorMsg  string         `json:"error_msg" gorm:"type:text"`
	StartTime time.Time      `json:"start_time"`
	EndTime   time.Time      `json:"end_time"`
	Duration  int64          `json:"duration"` // 执行时长，毫秒
	Devices   []DeviceRecord `json:"devices,omitempty" gorm:"foreignKey:RunID;constraint:OnDelete:CASCADE"`
	CreatedAt time.Time      `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time      `json:"updated_at" gorm:"autoUpdateTime"`
}

// TableName 表名
func (Run) TableName() string {
	return "runs"
}

// RunStatus 执行状态枚举
const (
	RunStatusRunning = "running"
	RunStatusSuccess = "success"
	RunStatusPartial = "partial"
	RunStatusFailed  = "failed"
)

// DeviceRecord 单台设备的执行记录
type DeviceRecord struct {
	ID      string `json:"id" gorm:"primaryKey;type:varchar(64)"`
	RunID   string `json:"run_id" gorm:"type:varchar(64);not null;index"`
	Name    string `json:"name" gorm:"type:varchar(128)"`
	Address string `json:"address" gorm:"type:varchar(128);not null"`
	Vendor  string `json:"vendor" gorm:"type:varchar(16)"`
	Status  string `json:"status" gorm:"type:varchar(16);not null"`
	// Commands 已执行命令，换行分隔
	Commands          string    `json:"commands" gorm:"type:text"`
	PagesAcknowledged int       `json:"pages_acknowledged"`
	ErrorMsg          string    `json:"error_msg" gorm:"type:text"`
	StartTime         time.Time `json:"start_time"`
	Duration          int64     `json:"duration"` // 毫秒
	CreatedAt         time.Time `json:"created_at" gorm:"autoCreateTime"`
}

// TableName 表名
func (DeviceRecord) TableName() string {
	return "device_records"
}
