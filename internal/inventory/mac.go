// Package inventory 离线对比工具：MAC 基线差异、差异合并、路由与站点网段比对
package inventory

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/sshcollectorpro/netops/pkg/logger"
)

// ErrNoMACColumn CSV 中找不到 MAC 列
var ErrNoMACColumn = errors.New("no MAC column found")

var (
	nonHex      = regexp.MustCompile(`[^0-9a-fA-F]`)
	fileStampRe = regexp.MustCompile(`(20\d{6}_\d{6})`)
)

// NormalizeMAC 去掉非十六进制字符并转小写
func NormalizeMAC(mac string) string {
	return strings.ToLower(nonHex.ReplaceAllString(mac, ""))
}

// FindMACField 优先精确匹配 "mac address"，否则取第一个包含 mac 的列
func FindMACField(header []string) (int, bool) {
	for i, h := range header {
		if strings.ToLower(h) == "mac address" {
			return i, true
		}
	}
	for i, h := range header {
		if strings.Contains(strings.ToLower(h), "mac") {
			return i, true
		}
	}
	return -1, false
}

// Baseline 基线 MAC 集合（已归一化）
type Baseline map[string]struct{}

// Has 是否在基线中
func (b Baseline) Has(mac string) bool {
	_, ok := b[NormalizeMAC(mac)]
	return ok
}

// LoadBaseline 合并多个基线文件的 MAC；文件缺失或无 MAC 列时告警并跳过
func LoadBaseline(paths []string) Baseline {
	base := Baseline{}
	for _, p := range paths {
		header, rows, err := readCSV(p)
		if err != nil {
			logger.Warnf("Baseline file %s skipped: %v", p, err)
			continue
		}
		idx, ok := FindMACField(header)
		if !ok {
			logger.Warnf("No MAC column found in %s, skipping", p)
			continue
		}
		n := 0
		for _, row := range rows {
			if mac := NormalizeMAC(field(row, idx)); mac != "" {
				if _, seen := base[mac]; !seen {
					n++
				}
				base[mac] = struct{}{}
			}
		}
		logger.Infof("Loaded %d MACs from baseline %s", n, p)
	}
	logger.Infof("Total baseline MACs: %d", len(base))
	return base
}

// CompareResult 单个对比文件的结果
type CompareResult struct {
	Path  string `json:"path"`
	Total int    `json:"total"`
	Diff  int    `json:"diff"`
	// OutPath 仅在存在差异行时写出
	OutPath string `json:"out_path,omitempty"`
}

// DiffPath <stem>_diff_vs_baseline<ext>
func DiffPath(path string) string {
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + "_diff_vs_baseline" + ext
}

// CompareFile 写出 MAC 不在基线中的行，保留原有全部列
func CompareFile(path string, base Baseline) (CompareResult, error) {
	res := CompareResult{Path: path}
	header, rows, err := readCSV(path)
	if err != nil {
		return res, err
	}
	idx, ok := FindMACField(header)
	if !ok {
		return res, fmt.Errorf("%s: %w", path, ErrNoMACColumn)
	}
	res.Total = len(rows)

	var diff [][]string
	for _, row := range rows {
		mac := NormalizeMAC(field(row, idx))
		if mac == "" {
			continue
		}
		if _, ok := base[mac]; !ok {
			diff = append(diff, row)
		}
	}
	res.Diff = len(diff)
	if len(diff) == 0 {
		logger.Infof("No differing MACs found in %s", path)
		return res, nil
	}

	res.OutPath = DiffPath(path)
	if err := writeCSV(res.OutPath, header, diff); err != nil {
		return res, err
	}
	logger.Infof("Wrote %d differing rows to %s", len(diff), res.OutPath)
	return res, nil
}

// MergeDiffs 合并差异文件，按归一化 MAC 去重（先出现者保留）
// 列以第一个文件为准，并追加 source_file、source_timestamp
func MergeDiffs(paths []string) ([]string, [][]string, error) {
	var outHeader []string
	var out [][]string
	seen := map[string]struct{}{}

	for _, p := range paths {
		header, rows, err := readCSV(p)
		if err != nil {
			return nil, nil, err
		}
		if outHeader == nil {
			outHeader = append(append([]string{}, header...), "source_file", "source_timestamp")
		}
		idx, ok := FindMACField(header)
		if !ok {
			logger.Warnf("Skipping %s: no mac field", p)
			continue
		}
		pos := make(map[string]int, len(header))
		for i, h := range header {
			pos[h] = i
		}
		name := filepath.Base(p)
		stamp := ""
		if m := fileStampRe.FindStringSubmatch(name); m != nil {
			stamp = m[1]
		}

		for _, row := range rows {
			mac := NormalizeMAC(field(row, idx))
			if mac == "" {
				continue
			}
			if _, dup := seen[mac]; dup {
				continue
			}
			seen[mac] = struct{}{}

			rec := make([]string, len(outHeader))
			for i, h := range outHeader[:len(outHeader)-2] {
				if j, ok := pos[h]; ok {
					rec[i] = field(row, j)
				}
			}
			rec[len(rec)-2] = name
			rec[len(rec)-1] = stamp
			out = append(out, rec)
		}
	}
	return outHeader, out, nil
}

// WriteMerged 合并差异文件并写出 combined_unique_macs_<ts>.csv
func WriteMerged(dir string, paths []string, now time.Time) (string, int, error) {
	header, rows, err := MergeDiffs(paths)
	if err != nil {
		return "", 0, err
	}
	out := filepath.Join(dir, fmt.Sprintf("combined_unique_macs_%s.csv", now.Format("20060102_150405")))
	if err := writeCSV(out, header, rows); err != nil {
		return "", 0, err
	}
	logger.Infof("Wrote %d unique MAC rows to %s", len(rows), out)
	return out, len(rows), nil
}

// Glob 按模式查找文件并排序
func Glob(dir, pattern string) []string {
	matches, _ := filepath.Glob(filepath.Join(dir, pattern))
	sort.Strings(matches)
	return matches
}

// BaselinePattern 站点基线快照文件模式
func BaselinePattern(site string) string {
	return fmt.Sprintf("interfaces_and_mac_*_%s.BASE.csv", site)
}

// DaytimePattern 站点日间快照文件模式
func DaytimePattern(site string) string {
	return fmt.Sprintf("interfaces_and_mac_*_%s.DAYTIME.csv", site)
}

// DiffPattern 差异文件模式
const DiffPattern = "*_diff_vs_baseline.csv"

func field(row []string, i int) string {
	if i >= 0 && i < len(row) {
		return row[i]
	}
	return ""
}

func readCSV(path string) ([]string, [][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	rows, err := r.ReadAll()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return header, rows, nil
}

func writeCSV(path string, header []string, rows [][]string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		f.Close()
		return err
	}
	if err := w.WriteAll(rows); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
