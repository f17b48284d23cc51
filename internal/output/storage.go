package output

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	minio "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/sshcollectorpro/netops/internal/config"
	"github.com/sshcollectorpro/netops/pkg/logger"
)

// StorageWriter 抽象归档写入器
type StorageWriter interface {
	Write(ctx context.Context, meta StorageMeta, data []byte, contentType string) (StoredObject, error)
}

// StorageMeta 归档元数据，路径为 prefix/job/date_time/file
type StorageMeta struct {
	Job   string
	Stamp time.Time
	// File 文件名，不含扩展名时追加 .txt
	File string
}

// StoredObject 归档结果
type StoredObject struct {
	URI         string `json:"uri"`
	Size        int64  `json:"size"`
	Checksum    string `json:"checksum"`
	ContentType string `json:"content_type"`
}

// objectPath 归档对象的相对路径（POSIX 风格）
func (m StorageMeta) objectPath(prefix string) string {
	stamp := m.Stamp
	if stamp.IsZero() {
		stamp = time.Now()
	}
	parts := []string{}
	if p := strings.Trim(strings.TrimSpace(prefix), "/"); p != "" {
		parts = append(parts, p)
	}
	job := slug(m.Job)
	if job == "" {
		job = "adhoc"
	}
	parts = append(parts, job, stamp.Format("20060102_150405"))

	filename := slug(m.File)
	if filename == "" {
		filename = "output"
	}
	if !strings.Contains(filename, ".") {
		filename += ".txt"
	}
	parts = append(parts, filename)
	return path.Join(parts...)
}

// NewStorageWriter 根据配置创建写入器；backend 为 none 或空时返回 nil
func NewStorageWriter(cfg config.StorageConfig) StorageWriter {
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "local":
		return &LocalStorageWriter{cfg: cfg}
	case "minio":
		// MinIO 初始化失败时 minio 为 nil，写入时回退本地
		return &DelegatingStorageWriter{local: &LocalStorageWriter{cfg: cfg}, minio: initMinioWriter(cfg)}
	default:
		return nil
	}
}

// DelegatingStorageWriter 优先写 MinIO，失败回退本地
type DelegatingStorageWriter struct {
	local *LocalStorageWriter
	minio *MinioStorageWriter
}

// Write 写入；回退成功时同时返回对象与预警错误，便于上层记录但不中断流程
func (w *DelegatingStorageWriter) Write(ctx context.Context, meta StorageMeta, data []byte, contentType string) (StoredObject, error) {
	if w.minio == nil {
		logger.Warnf("MinIO backend selected but client not initialized; falling back to local")
		obj, lerr := w.local.Write(ctx, meta, data, contentType)
		if lerr != nil {
			return StoredObject{}, fmt.Errorf("minio client not initialized; local fallback failed: %w", lerr)
		}
		return obj, fmt.Errorf("minio client not initialized; wrote to local instead")
	}
	obj, err := w.minio.Write(ctx, meta, data, contentType)
	if err != nil {
		logger.WithError(err).Warn("MinIO write failed; falling back to local")
		objLocal, lerr := w.local.Write(ctx, meta, data, contentType)
		if lerr != nil {
			return StoredObject{}, fmt.Errorf("minio write failed: %v; local fallback failed: %w", err, lerr)
		}
		return objLocal, fmt.Errorf("minio write failed: %w; fell back to local successfully", err)
	}
	return obj, nil
}

// LocalStorageWriter 本地文件归档
type LocalStorageWriter struct {
	cfg config.StorageConfig
}

// NewLocalStorageWriter 创建本地归档写入器
func NewLocalStorageWriter(cfg config.StorageConfig) *LocalStorageWriter {
	return &LocalStorageWriter{cfg: cfg}
}

func (w *LocalStorageWriter) Write(_ context.Context, meta StorageMeta, data []byte, contentType string) (StoredObject, error) {
	baseDir := strings.TrimSpace(w.cfg.Local.BaseDir)
	if baseDir == "" {
		baseDir = "./data/archive"
	}
	fullPath := filepath.Join(baseDir, filepath.FromSlash(meta.objectPath(w.cfg.Prefix)))

	dir := filepath.Dir(fullPath)
	if w.cfg.Local.MkdirIfMissing {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return StoredObject{}, fmt.Errorf("failed to create dir: %w", err)
		}
	}
	if err := os.WriteFile(fullPath, data, 0o644); err != nil {
		return StoredObject{}, fmt.Errorf("failed to write file: %w", err)
	}

	return StoredObject{
		URI:         "file://" + fullPath,
		Size:        int64(len(data)),
		Checksum:    checksum(data),
		ContentType: orDefault(contentType),
	}, nil
}

// MinioStorageWriter MinIO 对象存储归档
type MinioStorageWriter struct {
	cfg           config.StorageConfig
	client        *minio.Client
	endpoint      string
	bucketEnsured bool
}

// initMinioWriter 初始化 MinIO 客户端（不做网络访问，连通性在写入时校验）
func initMinioWriter(cfg config.StorageConfig) *MinioStorageWriter {
	host := strings.TrimSpace(cfg.Minio.Host)
	port := cfg.Minio.Port
	if host == "" || port <= 0 {
		logger.Warnf("MinIO configuration incomplete; host/port missing")
		return nil
	}
	endpoint := net.JoinHostPort(host, fmt.Sprint(port))

	transport := &http.Transport{
		DialContext:           (&net.Dialer{Timeout: 5 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		TLSHandshakeTimeout:   5 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
		ExpectContinueTimeout: 5 * time.Second,
		IdleConnTimeout:       90 * time.Second,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   100,
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:     credentials.NewStaticV4(cfg.Minio.AccessKey, cfg.Minio.SecretKey, ""),
		Secure:    cfg.Minio.Secure,
		Transport: transport,
	})
	if err != nil {
		logger.WithError(err).Error("MinIO client initialization failed")
		return nil
	}
	return &MinioStorageWriter{cfg: cfg, client: client, endpoint: endpoint}
}

// Write 将内容写入 MinIO
func (w *MinioStorageWriter) Write(ctx context.Context, meta StorageMeta, data []byte, contentType string) (StoredObject, error) {
	if w == nil || w.client == nil {
		return StoredObject{}, fmt.Errorf("minio client not initialized")
	}
	bucket := strings.TrimSpace(w.cfg.Minio.Bucket)
	if bucket == "" {
		return StoredObject{}, fmt.Errorf("minio bucket not configured")
	}
	objectName := meta.objectPath(w.cfg.Prefix)
	ct := orDefault(contentType)

	// 写入前快速连通性探测
	if err := w.fastConnectivityCheck(ctx); err != nil {
		return StoredObject{}, fmt.Errorf("minio connectivity failed to %s: %w", w.endpoint, err)
	}

	if !w.bucketEnsured {
		if err := w.ensureBucket(ctx, bucket, 3); err != nil {
			return StoredObject{}, fmt.Errorf("minio ensure bucket failed: %w", err)
		}
		w.bucketEnsured = true
	}

	// 指数退避重试
	var lastErr error
	attempts := []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second}
	for i := 0; i < len(attempts); i++ {
		attemptCtx, cancel := attemptContext(ctx, attempts[i])
		_, err := w.client.PutObject(attemptCtx, bucket, objectName, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{ContentType: ct})
		cancel()
		if err == nil {
			lastErr = nil
			break
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
		time.Sleep(attempts[i])
	}
	if lastErr != nil {
		return StoredObject{}, fmt.Errorf("minio put object failed after retries: %w", lastErr)
	}

	return StoredObject{
		URI:         "minio://" + path.Join(bucket, objectName),
		Size:        int64(len(data)),
		Checksum:    checksum(data),
		ContentType: ct,
	}, nil
}

// fastConnectivityCheck 使用 TCP 直连做快速连通性校验
func (w *MinioStorageWriter) fastConnectivityCheck(parent context.Context) error {
	d := &net.Dialer{Timeout: 3 * time.Second}
	conn, err := d.DialContext(parent, "tcp", w.endpoint)
	if err != nil {
		return err
	}
	_ = conn.Close()
	return nil
}

// ensureBucket 校验并创建 bucket，支持有限重试
func (w *MinioStorageWriter) ensureBucket(parent context.Context, bucket string, retries int) error {
	var lastErr error
	for i := 0; i <= retries; i++ {
		ctx, cancel := attemptContext(parent, 10*time.Second)
		exists, err := w.client.BucketExists(ctx, bucket)
		cancel()
		if err == nil && exists {
			return nil
		}
		if err == nil {
			ctx2, cancel2 := attemptContext(parent, 10*time.Second)
			err = w.client.MakeBucket(ctx2, bucket, minio.MakeBucketOptions{})
			cancel2()
			if err == nil {
				return nil
			}
		}
		lastErr = err
		time.Sleep(time.Duration(i+1) * time.Second)
	}
	if lastErr != nil {
		return lastErr
	}
	return fmt.Errorf("bucket ensure failed for %s", bucket)
}

// attemptContext 构造限时上下文，尊重父上下文的剩余截止时间
func attemptContext(parent context.Context, prefer time.Duration) (context.Context, context.CancelFunc) {
	if deadline, ok := parent.Deadline(); ok {
		remain := time.Until(deadline)
		if remain > time.Second && prefer < remain {
			return context.WithTimeout(parent, prefer)
		}
		if remain > time.Second {
			return context.WithTimeout(parent, remain-time.Second)
		}
		return context.WithTimeout(parent, time.Second)
	}
	return context.WithTimeout(parent, prefer)
}

func checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(sum[:])
}

func orDefault(contentType string) string {
	if contentType != "" {
		return contentType
	}
	return "text/plain; charset=utf-8"
}

var slugRe = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

func slug(s string) string {
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, " ", "_")
	s = strings.ReplaceAll(s, "/", "_")
	s = strings.ReplaceAll(s, "\\", "_")
	s = slugRe.ReplaceAllString(s, "")
	return strings.Trim(s, "._")
}
