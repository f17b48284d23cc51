package ssh

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeChannel 按脚本返回数据：每次 Receive 消费一个步骤，脚本耗尽后返回超时
type fakeChannel struct {
	mu     sync.Mutex
	steps  []fakeStep
	reads  int
	sent   []string
	events []string
	closes int
}

type fakeStep struct {
	data string
	err  error
}

func chunks(parts ...string) []fakeStep {
	steps := make([]fakeStep, 0, len(parts))
	for _, p := range parts {
		steps = append(steps, fakeStep{data: p})
	}
	return steps
}

func (f *fakeChannel) Send(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, string(data))
	f.events = append(f.events, "send:"+string(data))
	return nil
}

func (f *fakeChannel) Receive(max int, timeout time.Duration) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads++
	f.events = append(f.events, "read")
	if len(f.steps) == 0 {
		return nil, ErrReadTimeout
	}
	step := f.steps[0]
	f.steps = f.steps[1:]
	if step.err != nil {
		return nil, step.err
	}
	return []byte(step.data), nil
}

func (f *fakeChannel) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
	return nil
}

func (f *fakeChannel) countSent(s string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, v := range f.sent {
		if v == s {
			n++
		}
	}
	return n
}

func testConfig() SessionConfig {
	cfg := DefaultSessionConfig()
	cfg.PromptTerminators = []string{"#", ">"}
	cfg.PagingMarker = "--More--"
	cfg.PagingResponse = " "
	cfg.PollInterval = 2 * time.Millisecond
	cfg.ReadTimeout = 200 * time.Millisecond
	cfg.BannerGrace = 0
	cfg.MaxIterations = 10
	return cfg
}

// newTestSession 横幅读取消费掉一个空步骤，读计数从 0 开始
func newTestSession(t *testing.T, cfg SessionConfig, steps ...fakeStep) (*Session, *fakeChannel) {
	t.Helper()
	ch := &fakeChannel{}
	s := NewSession(ch, cfg)
	ch.mu.Lock()
	ch.steps = steps
	ch.reads = 0
	ch.events = nil
	ch.mu.Unlock()
	return s, ch
}

func TestNewSessionReadsBanner(t *testing.T) {
	ch := &fakeChannel{steps: chunks("Cisco IOS Software\r\nRouter>")}
	s := NewSession(ch, testConfig())
	assert.Equal(t, "Cisco IOS Software\r\nRouter>", s.Banner())
	assert.Equal(t, StateIdle, s.State())
}

func TestNewSessionEmptyBanner(t *testing.T) {
	ch := &fakeChannel{}
	s := NewSession(ch, testConfig())
	assert.Empty(t, s.Banner(), "无横幅时应为空文本")
}

func TestRunCommandSingleChunkPrompt(t *testing.T) {
	s, ch := newTestSession(t, testConfig(), chunks("Router#")...)

	res := s.RunCommand(context.Background(), "show version")

	require.NotNil(t, res)
	assert.Equal(t, "Router#", res.RawOutput)
	assert.True(t, res.PromptDetected)
	assert.Equal(t, StatePromptSeen, res.State)
	assert.Equal(t, 1, res.Iterations, "应在第一轮即停止")
	assert.Equal(t, 1, ch.reads)
	assert.Equal(t, []string{"show version\n"}, ch.sent)
}

func TestRunCommandStopsOnPromptTick(t *testing.T) {
	s, ch := newTestSession(t, testConfig(), chunks("line1\n", "line2\n", "R1#", "trailing")...)

	res := s.RunCommand(context.Background(), "show clock")

	assert.True(t, res.PromptDetected)
	assert.Equal(t, "line1\nline2\nR1#", res.RawOutput)
	assert.Equal(t, 3, res.Iterations)
	assert.Equal(t, 3, ch.reads, "识别提示符后不应再读取")
}

func TestRunCommandPromptWithTrailingWhitespace(t *testing.T) {
	s, _ := newTestSession(t, testConfig(), chunks("output\r\nuser@mx1> ")...)

	res := s.RunCommand(context.Background(), "show route")

	assert.True(t, res.PromptDetected)
}

func TestRunCommandPagingScenario(t *testing.T) {
	s, ch := newTestSession(t, testConfig(), chunks("line1\n--More--", "line2\nR1#")...)

	res := s.RunCommand(context.Background(), "show running-config")

	assert.Equal(t, "line1\n--More--line2\nR1#", res.RawOutput)
	assert.True(t, res.PromptDetected)
	assert.Equal(t, 1, res.PagesAcknowledged)
	assert.Equal(t, 1, ch.countSent(" "))
	assert.Equal(t, []string{"send:show running-config\n", "read", "send: ", "read"}, ch.events,
		"分页响应应在两次读取之间发送")
}

func TestRunCommandPagingOncePerChunk(t *testing.T) {
	steps := chunks("a\n--More--", "b\n--More--", "c\n--More--", "d\n--More--", "done\nSW1#")
	s, ch := newTestSession(t, testConfig(), steps...)

	res := s.RunCommand(context.Background(), "show mac address-table")

	assert.True(t, res.PromptDetected)
	assert.Equal(t, 4, res.PagesAcknowledged)
	assert.Equal(t, 4, ch.countSent(" "))
}

func TestRunCommandExhaustedConcatenatesChunks(t *testing.T) {
	cfg := testConfig()
	cfg.MaxIterations = 5
	s, ch := newTestSession(t, cfg, chunks("part1 ", "part2 ", "part3")...)

	res := s.RunCommand(context.Background(), "show tech")

	assert.False(t, res.PromptDetected)
	assert.Equal(t, StateExhausted, res.State)
	assert.Equal(t, "part1 part2 part3", res.RawOutput)
	assert.Equal(t, 5, res.Iterations)
	assert.Equal(t, 5, ch.reads)
	assert.True(t, res.Degraded())
}

func TestRunCommandTimeoutsAreEmptyTicks(t *testing.T) {
	steps := []fakeStep{{err: ErrReadTimeout}, {data: "x"}, {err: ErrReadTimeout}, {data: "R#"}}
	s, _ := newTestSession(t, testConfig(), steps...)

	res := s.RunCommand(context.Background(), "show ip int brief")

	assert.True(t, res.PromptDetected)
	assert.Equal(t, "xR#", res.RawOutput)
	assert.Equal(t, 4, res.Iterations)
}

func TestRunCommandReadErrorOnThirdRead(t *testing.T) {
	boom := errors.New("connection reset by peer")
	steps := []fakeStep{{data: "chunk1 "}, {data: "chunk2"}, {err: boom}, {data: "never#"}}
	s, ch := newTestSession(t, testConfig(), steps...)

	var res *CommandResult
	require.NotPanics(t, func() {
		res = s.RunCommand(context.Background(), "show interfaces")
	})

	assert.Equal(t, "chunk1 chunk2", res.RawOutput)
	assert.False(t, res.PromptDetected)
	assert.Equal(t, StateReadFailed, res.State)
	assert.ErrorIs(t, res.Err, boom)
	assert.Equal(t, 3, ch.reads)
}

func TestRunCommandTerminationBound(t *testing.T) {
	cfg := testConfig()
	cfg.PollInterval = 10 * time.Millisecond
	cfg.ReadTimeout = 20 * time.Millisecond
	cfg.MaxIterations = 5
	ch := &slowChannel{delay: cfg.ReadTimeout}
	s := NewSession(ch, cfg)

	start := time.Now()
	res := s.RunCommand(context.Background(), "show logging")
	elapsed := time.Since(start)

	assert.False(t, res.PromptDetected)
	bound := cfg.Budget(0)
	assert.LessOrEqual(t, elapsed, bound+50*time.Millisecond, "应在轮询预算内返回")
}

func TestRunCommandCompletionMarker(t *testing.T) {
	s, _ := newTestSession(t, testConfig(), chunks("commit and-quit\r\n", "commit com", "plete\r\nExiting configuration mode")...)

	res := s.RunCommandWith(context.Background(), "commit and-quit", RunOptions{
		MaxIterations:     40,
		CompletionMarkers: []string{"commit complete", "error:"},
	})

	assert.True(t, res.PromptDetected)
	assert.Equal(t, "commit complete", res.Matched)
}

func TestRunCommandCompletionMarkerIgnoresCase(t *testing.T) {
	s, _ := newTestSession(t, testConfig(), chunks("commit and-quit\r\n", "Error: configuration database locked\r\n")...)

	res := s.RunCommandWith(context.Background(), "commit and-quit", RunOptions{
		MaxIterations:     5,
		CompletionMarkers: []string{"commit complete", "error:"},
	})

	assert.Equal(t, "error:", res.Matched)
}

func TestRunCommandKeepsInvalidBytes(t *testing.T) {
	s, _ := newTestSession(t, testConfig(), chunks("\xff\xfeabc", "Gi1/0/1 Caf\xe9Lobby\r\n", "R#")...)

	res := s.RunCommand(context.Background(), "show interfaces description")

	assert.True(t, res.PromptDetected)
	assert.Equal(t, "ÿþabcGi1/0/1 CaféLobby\r\nR#", res.RawOutput, "每个非法字节对应一个字符，其余字节不丢失")
}

func TestRunCommandMultiByteSplitAcrossChunks(t *testing.T) {
	// "é" 的两个 UTF-8 字节分在两次读取中
	s, _ := newTestSession(t, testConfig(), chunks("Caf\xc3", "\xa9\r\nR#")...)

	res := s.RunCommand(context.Background(), "show version")

	assert.Equal(t, "Café\r\nR#", res.RawOutput)
}

func TestRunCommandMaxIterationsOverride(t *testing.T) {
	s, ch := newTestSession(t, testConfig())

	res := s.RunCommandWith(context.Background(), "show run", RunOptions{MaxIterations: 3})

	assert.Equal(t, 3, res.Iterations)
	assert.Equal(t, 3, ch.reads)
}

func TestRunCommandCancelled(t *testing.T) {
	cfg := testConfig()
	cfg.PollInterval = 50 * time.Millisecond
	s, _ := newTestSession(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := s.RunCommand(ctx, "show version")

	assert.Equal(t, StateCancelled, res.State)
	assert.False(t, res.PromptDetected)
	assert.ErrorIs(t, res.Err, context.Canceled)
}

func TestCloseTwice(t *testing.T) {
	s, ch := newTestSession(t, testConfig())

	assert.NotPanics(t, func() {
		s.Close()
		s.Close()
	})
	assert.Equal(t, 1, ch.closes)
}

func TestRunCommandAfterClose(t *testing.T) {
	s, _ := newTestSession(t, testConfig(), chunks("R#")...)
	s.Close()

	res := s.RunCommand(context.Background(), "show version")

	assert.False(t, res.PromptDetected)
	assert.ErrorIs(t, res.Err, ErrChannelClosed)
}

func TestSendWritesRawText(t *testing.T) {
	s, ch := newTestSession(t, testConfig())

	require.NoError(t, s.Send(context.Background(), "\x04", 0))
	require.NoError(t, s.SendLine(context.Background(), "configure", 0))

	assert.Equal(t, []string{"\x04", "configure\n"}, ch.sent)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "prompt_seen", StatePromptSeen.String())
	assert.Equal(t, "exhausted", StateExhausted.String())
	assert.True(t, StateReadFailed.Terminal())
	assert.False(t, StatePolling.Terminal())
}

// slowChannel 每次读取都等满超时，模拟无响应设备
type slowChannel struct {
	delay time.Duration
}

func (c *slowChannel) Send([]byte) error { return nil }

func (c *slowChannel) Receive(max int, timeout time.Duration) ([]byte, error) {
	time.Sleep(timeout)
	return nil, ErrReadTimeout
}

func (c *slowChannel) Close() error { return nil }
