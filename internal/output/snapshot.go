package output

import (
	"fmt"
	"strings"
	"time"
)

// Snapshot 接口/MAC 快照类型
type Snapshot string

const (
	SnapshotBase    Snapshot = "base"
	SnapshotDaytime Snapshot = "daytime"
	SnapshotNone    Snapshot = "none"
	SnapshotAuto    Snapshot = "auto"
)

// ResolveSnapshot 解析快照类型；auto 按计划任务的小时约定推断
// 0、20 点为 BASE；5、9、10、14 点为 DAYTIME；其它为 none
func ResolveSnapshot(mode string, now time.Time) Snapshot {
	switch Snapshot(strings.ToLower(strings.TrimSpace(mode))) {
	case SnapshotBase:
		return SnapshotBase
	case SnapshotDaytime:
		return SnapshotDaytime
	case SnapshotNone:
		return SnapshotNone
	}
	switch now.Hour() {
	case 0, 20:
		return SnapshotBase
	case 5, 9, 10, 14:
		return SnapshotDaytime
	default:
		return SnapshotNone
	}
}

// Suffix 文件名后缀（.BASE / .DAYTIME / 空）
func (s Snapshot) Suffix() string {
	switch s {
	case SnapshotBase:
		return ".BASE"
	case SnapshotDaytime:
		return ".DAYTIME"
	default:
		return ""
	}
}

// SnapshotFileName interfaces_and_mac_<YYYYmmdd_HHMMSS>_<SITE>[.BASE|.DAYTIME].csv
func SnapshotFileName(site, mode string, now time.Time) string {
	return fmt.Sprintf("interfaces_and_mac_%s_%s%s.csv", now.Format("20060102_150405"), site, ResolveSnapshot(mode, now).Suffix())
}
