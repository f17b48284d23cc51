package ssh

import (
	"errors"
	"io"
	"net"
	"strings"
	"sync"
	"time"
)

var (
	// ErrReadTimeout 本次读取在超时内没有数据（轮询中视为“本轮无数据”）
	ErrReadTimeout = errors.New("ssh: read timeout")
	// ErrChannelClosed 通道已关闭
	ErrChannelClosed = errors.New("ssh: channel closed")
)

// Channel 已认证的双向字节流通道
type Channel interface {
	// Send 写入原始字节
	Send(data []byte) error
	// Receive 在 timeout 内读取最多 max 字节；无数据时返回 ErrReadTimeout
	Receive(max int, timeout time.Duration) ([]byte, error)
	// Close 释放通道，重复调用安全
	Close() error
}

// ShellChannel 基于 PTY Shell 的 Channel 实现
// 读取协程将 stdout/stderr 推入队列，Receive 按超时取出
type ShellChannel struct {
	stdin   io.WriteCloser
	closers []io.Closer

	chunks chan []byte
	done   chan struct{}
	quit   chan struct{}

	readMu  sync.Mutex
	pending []byte

	errMu   sync.Mutex
	readErr error

	writeMu   sync.Mutex
	closed    bool
	closeOnce sync.Once
	closeErr  error
}

// newShellChannel 包装 stdin 与输出流；closers 按顺序在 Close 时关闭（session、client）
func newShellChannel(stdin io.WriteCloser, session io.Closer, client io.Closer, outputs ...io.Reader) *ShellChannel {
	c := &ShellChannel{
		stdin:  stdin,
		chunks: make(chan []byte, 256),
		done:   make(chan struct{}),
		quit:   make(chan struct{}),
	}
	if session != nil {
		c.closers = append(c.closers, session)
	}
	if client != nil {
		c.closers = append(c.closers, client)
	}

	var wg sync.WaitGroup
	for _, r := range outputs {
		if r == nil {
			continue
		}
		wg.Add(1)
		go func(r io.Reader) {
			defer wg.Done()
			c.pump(r)
		}(r)
	}
	go func() {
		wg.Wait()
		close(c.done)
	}()
	return c
}

// NewStreamChannel 用任意读写流构造 Channel（如 net.Pipe、串口代理）
func NewStreamChannel(rw io.ReadWriteCloser) *ShellChannel {
	return newShellChannel(rw, nil, nil, rw)
}

func (c *ShellChannel) pump(r io.Reader) {
	buf := make([]byte, 4096)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			select {
			case c.chunks <- data:
			case <-c.quit:
				return
			}
		}
		if err != nil {
			c.setErr(err)
			return
		}
	}
}

func (c *ShellChannel) setErr(err error) {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	if c.readErr == nil {
		c.readErr = err
	}
}

func (c *ShellChannel) err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	if c.readErr == nil {
		return io.EOF
	}
	return c.readErr
}

// Send 写入原始字节
func (c *ShellChannel) Send(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.closed {
		return ErrChannelClosed
	}
	_, err := c.stdin.Write(data)
	return err
}

// Receive 读取可用数据：先等待首块，再非阻塞合并后续块直到 max
func (c *ShellChannel) Receive(max int, timeout time.Duration) ([]byte, error) {
	c.readMu.Lock()
	defer c.readMu.Unlock()
	if max <= 0 {
		max = 65535
	}

	var buf []byte
	if len(c.pending) > 0 {
		buf = c.pending
		c.pending = nil
	} else {
		if timeout <= 0 {
			timeout = time.Millisecond
		}
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		select {
		case b := <-c.chunks:
			buf = b
		case <-c.done:
			// 远端已结束，先取尽队列残留
			select {
			case b := <-c.chunks:
				buf = b
			default:
				return nil, c.err()
			}
		case <-timer.C:
			return nil, ErrReadTimeout
		}
	}

gather:
	for len(buf) < max {
		select {
		case b := <-c.chunks:
			buf = append(buf, b...)
		default:
			break gather
		}
	}
	if len(buf) > max {
		c.pending = append([]byte(nil), buf[max:]...)
		buf = buf[:max]
	}
	return buf, nil
}

// Close 关闭 stdin、会话与连接；重复调用返回首次结果
func (c *ShellChannel) Close() error {
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		c.closed = true
		c.writeMu.Unlock()
		close(c.quit)

		var errs []error
		if c.stdin != nil {
			if err := c.stdin.Close(); err != nil && !isClosedErr(err) {
				errs = append(errs, err)
			}
		}
		for _, cl := range c.closers {
			if err := cl.Close(); err != nil && !isClosedErr(err) {
				errs = append(errs, err)
			}
		}
		c.closeErr = errors.Join(errs...)
	})
	return c.closeErr
}

// isClosedErr 判断是否为“已关闭”类错误（关闭阶段忽略）
func isClosedErr(err error) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || errors.Is(err, ErrChannelClosed) || errors.Is(err, io.ErrClosedPipe) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "use of closed") || strings.Contains(msg, "already closed")
}
