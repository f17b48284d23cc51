// Package output 写入作业结果文件（CSV / JSON / 文本），并按配置归档
package output

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sshcollectorpro/netops/pkg/logger"
)

// Artifact 一个已写出的结果文件
type Artifact struct {
	Path    string        `json:"path"`
	Archive *StoredObject `json:"archive,omitempty"`
}

// Writer 作业结果写入器：先写 Dir 下的文件，再交给 Store 归档
type Writer struct {
	Dir   string
	Job   string
	Stamp time.Time
	// Store 为 nil 时不归档
	Store StorageWriter
}

// NewWriter 创建写入器，Stamp 取当前时间
func NewWriter(dir, job string, store StorageWriter) *Writer {
	return &Writer{Dir: dir, Job: job, Stamp: time.Now(), Store: store}
}

// WriteCSV 写 CSV：表头 + 行
func (w *Writer) WriteCSV(ctx context.Context, name string, header []string, rows [][]string) (Artifact, error) {
	var buf bytes.Buffer
	cw := csv.NewWriter(&buf)
	if len(header) > 0 {
		if err := cw.Write(header); err != nil {
			return Artifact{}, err
		}
	}
	if err := cw.WriteAll(rows); err != nil {
		return Artifact{}, fmt.Errorf("failed to encode csv: %w", err)
	}
	return w.write(ctx, name, buf.Bytes(), "text/csv; charset=utf-8")
}

// WriteJSON 写缩进 JSON
func (w *Writer) WriteJSON(ctx context.Context, name string, v interface{}) (Artifact, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return Artifact{}, fmt.Errorf("failed to encode json: %w", err)
	}
	return w.write(ctx, name, append(data, '\n'), "application/json")
}

// WriteText 写纯文本
func (w *Writer) WriteText(ctx context.Context, name, content string) (Artifact, error) {
	return w.write(ctx, name, []byte(content), "text/plain; charset=utf-8")
}

func (w *Writer) write(ctx context.Context, name string, data []byte, contentType string) (Artifact, error) {
	dir := w.Dir
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Artifact{}, fmt.Errorf("failed to create output dir: %w", err)
	}
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, data, 0o644); err != nil {
		return Artifact{}, fmt.Errorf("failed to write %s: %w", p, err)
	}
	art := Artifact{Path: p}

	if w.Store != nil {
		obj, err := w.Store.Write(ctx, StorageMeta{Job: w.Job, Stamp: w.Stamp, File: name}, data, contentType)
		if err != nil {
			// 归档失败不影响本地结果
			logger.WithError(err).WithField("file", p).Warn("Archive write reported an error")
		}
		if obj.URI != "" {
			art.Archive = &obj
		}
	}
	return art, nil
}
