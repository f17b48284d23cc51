package ssh

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/sshcollectorpro/netops/internal/util"
	"github.com/sshcollectorpro/netops/pkg/logger"
)

// State 单条命令的轮询状态
type State int

const (
	StateIdle State = iota
	StateSent
	StatePolling
	StatePromptSeen
	StateExhausted
	StateReadFailed
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSent:
		return "sent"
	case StatePolling:
		return "polling"
	case StatePromptSeen:
		return "prompt_seen"
	case StateExhausted:
		return "exhausted"
	case StateReadFailed:
		return "read_failed"
	case StateCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Terminal 是否为终止状态
func (s State) Terminal() bool {
	return s >= StatePromptSeen
}

// SessionConfig 会话参数，构造后不可变，可在多个会话之间共享
type SessionConfig struct {
	Username string `mapstructure:"username" json:"username"`
	Password string `mapstructure:"password" json:"-"`
	Port     int    `mapstructure:"port" json:"port"`

	ConnectTimeout time.Duration `mapstructure:"connect_timeout" json:"connect_timeout"`
	// ReadTimeout 单次读取的最长等待
	ReadTimeout time.Duration `mapstructure:"read_timeout" json:"read_timeout"`
	// PollInterval 每轮轮询前的休眠
	PollInterval  time.Duration `mapstructure:"poll_interval" json:"poll_interval"`
	MaxIterations int           `mapstructure:"max_iterations" json:"max_iterations"`
	// BannerGrace 打开 Shell 后等待横幅的时间
	BannerGrace time.Duration `mapstructure:"banner_grace" json:"banner_grace"`
	ReadSize    int           `mapstructure:"read_size" json:"read_size"`

	PromptTerminators []string `mapstructure:"prompt_terminators" json:"prompt_terminators"`
	PagingMarker      string   `mapstructure:"paging_marker" json:"paging_marker"`
	PagingResponse    string   `mapstructure:"paging_response" json:"paging_response"`
	CommandTerminator string   `mapstructure:"command_terminator" json:"command_terminator"`
}

// DefaultSessionConfig 默认会话参数
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		Port:              22,
		ConnectTimeout:    10 * time.Second,
		ReadTimeout:       2 * time.Second,
		PollInterval:      500 * time.Millisecond,
		MaxIterations:     20,
		BannerGrace:       time.Second,
		ReadSize:          65535,
		PromptTerminators: []string{">", "#"},
		PagingMarker:      "--More--",
		PagingResponse:    " ",
		CommandTerminator: "\n",
	}
}

// withDefaults 补齐零值字段；PagingMarker 为空表示不处理分页
func (c SessionConfig) withDefaults() SessionConfig {
	d := DefaultSessionConfig()
	if c.Port == 0 {
		c.Port = d.Port
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = d.ConnectTimeout
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = d.ReadTimeout
	}
	if c.PollInterval <= 0 {
		c.PollInterval = d.PollInterval
	}
	if c.MaxIterations <= 0 {
		c.MaxIterations = d.MaxIterations
	}
	if c.BannerGrace < 0 {
		c.BannerGrace = 0
	}
	if c.ReadSize <= 0 {
		c.ReadSize = d.ReadSize
	}
	if len(c.PromptTerminators) == 0 {
		c.PromptTerminators = d.PromptTerminators
	}
	if c.CommandTerminator == "" {
		c.CommandTerminator = d.CommandTerminator
	}
	return c
}

// Budget 单条命令的最长耗时
func (c SessionConfig) Budget(maxIterations int) time.Duration {
	if maxIterations <= 0 {
		maxIterations = c.MaxIterations
	}
	return time.Duration(maxIterations)*c.PollInterval + c.ReadTimeout
}

// CommandResult 单条命令的执行结果
// PromptDetected 为 false 时 RawOutput 为尽力而为的输出，可能被截断
type CommandResult struct {
	Command           string        `json:"command"`
	RawOutput         string        `json:"raw_output"`
	PromptDetected    bool          `json:"prompt_detected"`
	State             State         `json:"-"`
	Iterations        int           `json:"iterations"`
	PagesAcknowledged int           `json:"pages_acknowledged"`
	Matched           string        `json:"matched,omitempty"`
	Duration          time.Duration `json:"duration"`
	Err               error         `json:"-"`
}

// Degraded 未确认命令完成
func (r *CommandResult) Degraded() bool {
	return r == nil || !r.PromptDetected
}

// RunOptions 单条命令的覆盖项
type RunOptions struct {
	// MaxIterations 覆盖会话的轮询上限（长输出命令使用更大的值）
	MaxIterations int
	// CompletionMarkers 累计输出中出现任一标记即视为完成
	CompletionMarkers []string
}

// Session 交互式命令会话：发送命令、轮询读取、处理分页、识别提示符
type Session struct {
	ch     Channel
	cfg    SessionConfig
	banner string
	label  string

	mu    sync.Mutex
	state State

	closed    atomic.Bool
	closeOnce sync.Once
}

// SetPagingMarker 识别厂商后替换分页提示；空字符串不做修改
func (s *Session) SetPagingMarker(marker string) {
	if marker != "" {
		s.cfg.PagingMarker = marker
	}
}

// NewSession 基于已认证的通道创建会话并读取横幅
func NewSession(ch Channel, cfg SessionConfig) *Session {
	return NewSessionContext(context.Background(), ch, cfg)
}

// NewSessionContext 同 NewSession，横幅等待可被 ctx 取消
func NewSessionContext(ctx context.Context, ch Channel, cfg SessionConfig) *Session {
	s := &Session{ch: ch, cfg: cfg.withDefaults(), state: StateIdle}
	if !sleepContext(ctx, s.cfg.BannerGrace) {
		return s
	}
	data, err := ch.Receive(s.cfg.ReadSize, s.cfg.ReadTimeout)
	if err != nil && !errors.Is(err, ErrReadTimeout) {
		logger.Debugf("Banner read failed: %v", err)
	}
	s.banner = util.EnsureUTF8Bytes(data)
	return s
}

// Banner 横幅文本（可能为空）
func (s *Session) Banner() string {
	return s.banner
}

// Config 会话生效的参数
func (s *Session) Config() SessionConfig {
	return s.cfg
}

// SetLabel 设置日志中使用的设备标识
func (s *Session) SetLabel(label string) {
	s.label = label
}

// State 最近一条命令的状态
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// RunCommand 发送命令并轮询直到识别提示符、轮询耗尽、读失败或 ctx 取消；不返回错误
func (s *Session) RunCommand(ctx context.Context, command string) *CommandResult {
	return s.RunCommandWith(ctx, command, RunOptions{})
}

// RunCommandWith 同 RunCommand，可覆盖轮询上限与完成标记
func (s *Session) RunCommandWith(ctx context.Context, command string, opts RunOptions) *CommandResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	res := &CommandResult{Command: command}
	defer func() {
		res.Duration = time.Since(start)
		s.state = res.State
	}()

	if s.closed.Load() {
		res.State = StateReadFailed
		res.Err = ErrChannelClosed
		return res
	}

	maxIter := opts.MaxIterations
	if maxIter <= 0 {
		maxIter = s.cfg.MaxIterations
	}
	deadline := start.Add(s.cfg.Budget(maxIter))

	s.state = StateIdle
	if err := s.ch.Send([]byte(command + s.cfg.CommandTerminator)); err != nil {
		res.State = StateReadFailed
		res.Err = fmt.Errorf("send %q: %w", command, err)
		s.log().WithError(err).Warnf("Send failed for command: %s", command)
		return res
	}
	s.state = StateSent

	var raw bytes.Buffer
	finish := func(state State) *CommandResult {
		res.State = state
		res.PromptDetected = state == StatePromptSeen
		res.RawOutput = util.EnsureUTF8Bytes(raw.Bytes())
		return res
	}

	for res.Iterations < maxIter {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			break
		}
		nap := s.cfg.PollInterval
		if nap > remaining {
			nap = remaining
		}
		if !sleepContext(ctx, nap) {
			res.Err = ctx.Err()
			s.log().Warnf("Command cancelled: %s", command)
			return finish(StateCancelled)
		}
		s.state = StatePolling
		res.Iterations++

		timeout := s.cfg.ReadTimeout
		if left := time.Until(deadline); left < timeout {
			timeout = left
		}
		if timeout <= 0 {
			break
		}
		chunk, err := s.ch.Receive(s.cfg.ReadSize, timeout)
		if err != nil {
			if errors.Is(err, ErrReadTimeout) {
				continue
			}
			res.Err = err
			s.log().WithError(err).Warnf("Read failed for command: %s", command)
			return finish(StateReadFailed)
		}
		if len(chunk) == 0 {
			continue
		}
		raw.Write(chunk)

		if s.cfg.PagingMarker != "" && bytes.Contains(chunk, []byte(s.cfg.PagingMarker)) {
			if err := s.ch.Send([]byte(s.cfg.PagingResponse)); err != nil {
				res.Err = fmt.Errorf("paging response: %w", err)
				return finish(StateReadFailed)
			}
			res.PagesAcknowledged++
		}

		if m := matchMarker(raw.Bytes(), opts.CompletionMarkers); m != "" {
			res.Matched = m
			return finish(StatePromptSeen)
		}
		if s.endsWithPrompt(chunk) {
			return finish(StatePromptSeen)
		}
	}

	finish(StateExhausted)
	s.log().WithFields(logrus.Fields{
		"iterations": res.Iterations,
		"bytes":      raw.Len(),
	}).Warnf("Prompt not detected for command: %s", command)
	logger.DebugCommandOutput(command, res.RawOutput, 5)
	return res
}

// Send 原样写入文本（不追加换行、不轮询），随后等待 settle
func (s *Session) Send(ctx context.Context, text string, settle time.Duration) error {
	if s.closed.Load() {
		return ErrChannelClosed
	}
	if err := s.ch.Send([]byte(text)); err != nil {
		return fmt.Errorf("send: %w", err)
	}
	if !sleepContext(ctx, settle) {
		return ctx.Err()
	}
	return nil
}

// SendLine 写入一行文本（追加命令结束符）
func (s *Session) SendLine(ctx context.Context, line string, settle time.Duration) error {
	return s.Send(ctx, line+s.cfg.CommandTerminator, settle)
}

// Drain 读取当前已到达的输出（一次读取，超时返回空）
func (s *Session) Drain() string {
	if s.closed.Load() {
		return ""
	}
	data, err := s.ch.Receive(s.cfg.ReadSize, s.cfg.PollInterval)
	if err != nil {
		return ""
	}
	return util.EnsureUTF8Bytes(data)
}

// Close 关闭会话，重复调用安全，不返回错误
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		if s.ch == nil {
			return
		}
		if err := s.ch.Close(); err != nil && !isClosedErr(err) {
			s.log().WithError(err).Debug("Close session")
		}
	})
}

func (s *Session) endsWithPrompt(chunk []byte) bool {
	trimmed := strings.TrimRight(string(chunk), " \t\r\n")
	if trimmed == "" {
		return false
	}
	for _, t := range s.cfg.PromptTerminators {
		if t != "" && strings.HasSuffix(trimmed, t) {
			return true
		}
	}
	return false
}

func (s *Session) log() *logrus.Entry {
	if s.label == "" {
		return logrus.NewEntry(logger.GetLogger())
	}
	return logger.WithField("device", s.label)
}

func matchMarker(output []byte, markers []string) string {
	if len(markers) == 0 {
		return ""
	}
	lower := bytes.ToLower(output)
	for _, m := range markers {
		if m != "" && bytes.Contains(lower, bytes.ToLower([]byte(m))) {
			return m
		}
	}
	return ""
}

// sleepContext 可取消的休眠，ctx 结束返回 false
func sleepContext(ctx context.Context, d time.Duration) bool {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := ctx.Err(); err != nil {
		return false
	}
	if d <= 0 {
		return true
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
