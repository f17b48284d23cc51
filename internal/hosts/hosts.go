// Package hosts 读取设备清单文件
package hosts

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// ErrEmpty 清单中没有任何设备
var ErrEmpty = errors.New("hosts: no targets found")

// Target 单台设备，构造后不可变
type Target struct {
	Address string   `json:"address"`
	Name    string   `json:"name"`
	Extra   []string `json:"extra,omitempty"`
}

// Label 日志与输出使用的设备名
func (t Target) Label() string {
	if t.Name != "" {
		return t.Name
	}
	return t.Address
}

// Load 读取清单文件
func Load(path string) ([]Target, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open hosts file: %w", err)
	}
	defer f.Close()
	targets, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return targets, nil
}

// Parse 解析清单：每行 "name address [extra...]" 或 "address"
// 空行与 # 注释跳过，地址尾部的 /掩码 去除
func Parse(r io.Reader) ([]Target, error) {
	var targets []Target
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		var t Target
		if len(fields) == 1 {
			t.Address = stripMask(fields[0])
			t.Name = t.Address
		} else {
			t.Name = fields[0]
			t.Address = stripMask(fields[1])
			if len(fields) > 2 {
				t.Extra = append([]string(nil), fields[2:]...)
			}
		}
		targets = append(targets, t)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if len(targets) == 0 {
		return nil, ErrEmpty
	}
	return targets, nil
}

// FromList 由命令行或 API 给出的地址构造清单（元素格式同文件行）
func FromList(items []string) ([]Target, error) {
	return Parse(strings.NewReader(strings.Join(items, "\n")))
}

func stripMask(addr string) string {
	if i := strings.IndexByte(addr, '/'); i >= 0 {
		return addr[:i]
	}
	return addr
}
