package simulate

import (
	"bufio"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"golang.org/x/crypto/ssh"

	"github.com/sshcollectorpro/netops/pkg/logger"
)

// Config 模拟器配置（simulate.yaml）
type Config struct {
	Username    string                  `mapstructure:"username"`
	Password    string                  `mapstructure:"password"`
	IdleSeconds int                     `mapstructure:"idle_seconds"`
	MaxConn     int                     `mapstructure:"max_conn"`
	HostKeyFile string                  `mapstructure:"host_key_file"`
	Devices     map[string]DeviceConfig `mapstructure:"devices"`
}

// DeviceConfig 单台模拟设备
type DeviceConfig struct {
	Listen   string `mapstructure:"listen"`
	Vendor   string `mapstructure:"vendor"`
	Hostname string `mapstructure:"hostname"`
	Banner   string `mapstructure:"banner"`
	// PageLines 每页行数，0 表示不分页；terminal length 0 会关闭分页
	PageLines  int               `mapstructure:"page_lines"`
	Echo       bool              `mapstructure:"echo"`
	Commands   map[string]string `mapstructure:"commands"`
	CommandDir string            `mapstructure:"command_dir"`
}

// LoadConfig 读取模拟器 YAML 配置
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigFile(path)
	v.SetDefault("username", "admin")
	v.SetDefault("password", "nova")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read simulate config: %w", err)
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal simulate config: %w", err)
	}
	return &cfg, nil
}

// Manager 管理多台模拟设备，每台设备独立监听
type Manager struct {
	mu      sync.Mutex
	servers map[string]*Server
}

// Start 启动配置中的全部设备；部分失败时记录日志并继续
func Start(cfg *Config) (*Manager, error) {
	signer, err := loadOrCreateHostKey(cfg.HostKeyFile)
	if err != nil {
		return nil, err
	}
	m := &Manager{servers: make(map[string]*Server)}
	names := make([]string, 0, len(cfg.Devices))
	for name := range cfg.Devices {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		srv := NewServer(name, cfg.Devices[name], Auth{Username: cfg.Username, Password: cfg.Password})
		srv.hostKey = signer
		srv.idle = time.Duration(cfg.IdleSeconds) * time.Second
		srv.maxConn = cfg.MaxConn
		if err := srv.Start(); err != nil {
			logger.WithField("device", name).WithError(err).Error("Simulate: start device failed")
			continue
		}
		m.servers[name] = srv
		logger.WithFields(logrus.Fields{"device": name, "addr": srv.Addr()}).Info("Simulate: device started")
	}
	if len(m.servers) == 0 {
		return nil, errors.New("simulate: no device started")
	}
	return m, nil
}

// Addr 设备监听地址
func (m *Manager) Addr(name string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.servers[name]; ok {
		return s.Addr()
	}
	return ""
}

// Stop 停止全部设备
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.servers {
		s.Close()
	}
}

// Auth 模拟设备接受的凭据
type Auth struct {
	Username string
	Password string
}

// Server 单台模拟设备的 SSH 服务
type Server struct {
	name    string
	dev     DeviceConfig
	auth    Auth
	hostKey ssh.Signer
	idle    time.Duration
	maxConn int

	listener net.Listener
	ctx      context.Context
	cancel   context.CancelFunc
	mu       sync.Mutex
	active   int
	wg       sync.WaitGroup
}

// NewServer 创建模拟设备；Listen 为空时监听 127.0.0.1 随机端口
func NewServer(name string, dev DeviceConfig, auth Auth) *Server {
	if dev.Hostname == "" {
		dev.Hostname = name
	}
	if dev.Listen == "" {
		dev.Listen = "127.0.0.1:0"
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{name: name, dev: dev, auth: auth, ctx: ctx, cancel: cancel}
}

// Start 开始监听
func (s *Server) Start() error {
	if s.hostKey == nil {
		signer, err := loadOrCreateHostKey("")
		if err != nil {
			return err
		}
		s.hostKey = signer
	}
	ln, err := net.Listen("tcp", s.dev.Listen)
	if err != nil {
		return err
	}
	s.listener = ln

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			conn, err := ln.Accept()
			if err != nil {
				if s.ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
					return
				}
				logger.WithError(err).Warn("Simulate: accept error")
				time.Sleep(100 * time.Millisecond)
				continue
			}
			s.mu.Lock()
			if s.maxConn > 0 && s.active >= s.maxConn {
				s.mu.Unlock()
				_ = conn.Close()
				logger.WithField("device", s.name).Warn("Simulate: reject connection, max_conn exceeded")
				continue
			}
			s.active++
			s.mu.Unlock()

			s.wg.Add(1)
			go func(c net.Conn) {
				defer s.wg.Done()
				s.handleConn(c)
				s.mu.Lock()
				s.active--
				s.mu.Unlock()
			}(conn)
		}
	}()
	return nil
}

// Addr 实际监听地址
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Close 停止监听并断开全部会话
func (s *Server) Close() {
	s.cancel()
	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.wg.Wait()
}

func (s *Server) handleConn(nc net.Conn) {
	srvCfg := &ssh.ServerConfig{
		PasswordCallback: func(meta ssh.ConnMetadata, password []byte) (*ssh.Permissions, error) {
			if s.accept(meta.User(), string(password)) {
				return nil, nil
			}
			return nil, fmt.Errorf("access denied")
		},
		KeyboardInteractiveCallback: func(meta ssh.ConnMetadata, challenge ssh.KeyboardInteractiveChallenge) (*ssh.Permissions, error) {
			answers, err := challenge(meta.User(), "Authentication", []string{"Password:"}, []bool{false})
			if err != nil {
				return nil, err
			}
			if len(answers) > 0 && s.accept(meta.User(), answers[0]) {
				return nil, nil
			}
			return nil, fmt.Errorf("access denied")
		},
	}
	srvCfg.AddHostKey(s.hostKey)

	conn, chans, reqs, err := ssh.NewServerConn(nc, srvCfg)
	if err != nil {
		logger.WithField("device", s.name).WithError(err).Debug("Simulate: SSH handshake failed")
		_ = nc.Close()
		return
	}
	defer conn.Close()
	go ssh.DiscardRequests(reqs)

	// 关闭服务时断开连接
	go func() {
		<-s.ctx.Done()
		_ = conn.Close()
	}()

	for newCh := range chans {
		if newCh.ChannelType() != "session" {
			_ = newCh.Reject(ssh.UnknownChannelType, "unknown channel type")
			continue
		}
		channel, requests, err := newCh.Accept()
		if err != nil {
			continue
		}
		go s.handleSession(channel, requests, conn.User())
	}
}

func (s *Server) accept(user, password string) bool {
	if s.auth.Username != "" && strings.TrimSpace(user) != s.auth.Username {
		return false
	}
	return strings.TrimSpace(password) == s.auth.Password
}

func (s *Server) handleSession(channel ssh.Channel, requests <-chan *ssh.Request, user string) {
	defer channel.Close()
	for req := range requests {
		switch req.Type {
		case "pty-req", "env", "window-change":
			_ = req.Reply(true, nil)
		case "shell":
			_ = req.Reply(true, nil)
			newShell(s, channel, user).run()
			return
		default:
			_ = req.Reply(false, nil)
		}
	}
}

// loadOrCreateHostKey 指定文件时加载或生成持久化的 RSA 密钥，否则生成内存中的 ed25519 密钥
func loadOrCreateHostKey(path string) (ssh.Signer, error) {
	if path == "" {
		_, priv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return nil, fmt.Errorf("failed to generate host key: %w", err)
		}
		return ssh.NewSignerFromKey(priv)
	}

	if bs, err := os.ReadFile(path); err == nil {
		signer, err := ssh.ParsePrivateKey(bs)
		if err == nil {
			return signer, nil
		}
		logger.WithError(err).Warn("Simulate: host key parse failed, regenerating")
	}

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, fmt.Errorf("failed to generate host key: %w", err)
	}
	pemBytes := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to ensure host key dir: %w", err)
	}
	if err := os.WriteFile(path, pemBytes, 0o600); err != nil {
		return nil, fmt.Errorf("failed to write host key: %w", err)
	}
	return ssh.ParsePrivateKey(pemBytes)
}

// shell 单个交互式会话的状态
type shell struct {
	srv       *Server
	channel   ssh.Channel
	reader    *bufio.Reader
	user      string
	pageLines int
	config    bool
}

func newShell(srv *Server, channel ssh.Channel, user string) *shell {
	return &shell{
		srv:       srv,
		channel:   channel,
		reader:    bufio.NewReader(channel),
		user:      user,
		pageLines: srv.dev.PageLines,
	}
}

func (sh *shell) juniper() bool {
	return strings.EqualFold(sh.srv.dev.Vendor, "juniper")
}

func (sh *shell) prompt() string {
	host := sh.srv.dev.Hostname
	switch {
	case strings.EqualFold(sh.srv.dev.Vendor, "avocent"):
		return "cli-> "
	case sh.juniper() && sh.config:
		return fmt.Sprintf("\r\n[edit]\r\n%s@%s# ", sh.user, host)
	case sh.juniper():
		return fmt.Sprintf("%s@%s> ", sh.user, host)
	case sh.config:
		return host + "(config)#"
	default:
		return host + "#"
	}
}

func (sh *shell) write(s string) {
	_, _ = sh.channel.Write([]byte(s))
}

func (sh *shell) run() {
	if b := sh.srv.dev.Banner; b != "" {
		sh.write(ensureCRLF(b))
	}
	sh.write(sh.prompt())

	var idleTimer *time.Timer
	if sh.srv.idle > 0 {
		idleTimer = time.AfterFunc(sh.srv.idle, func() {
			sh.write("\r\nSession closed due to idle timeout.\r\n")
			_ = sh.channel.Close()
		})
		defer idleTimer.Stop()
	}

	for {
		line, err := sh.reader.ReadString('\n')
		if err != nil && line == "" {
			if !errors.Is(err, io.EOF) {
				logger.WithError(err).Debug("Simulate: session read error")
			}
			return
		}
		if idleTimer != nil {
			idleTimer.Reset(sh.srv.idle)
		}
		cmd := strings.TrimSpace(strings.ReplaceAll(line, "\r", ""))
		if sh.srv.dev.Echo {
			sh.write(cmd + "\r\n")
		}
		if !sh.handle(cmd) {
			return
		}
		sh.write(sh.prompt())
	}
}

// handle 执行一条命令，返回 false 表示会话结束
func (sh *shell) handle(cmd string) bool {
	lower := strings.ToLower(cmd)
	switch {
	case cmd == "":
		return true
	case lower == "exit" || lower == "quit" || lower == "logout":
		if sh.config {
			sh.config = false
			return true
		}
		return false
	case strings.HasPrefix(lower, "terminal length") || strings.HasPrefix(lower, "ter len") ||
		strings.HasPrefix(lower, "set cli screen-length"):
		if strings.HasSuffix(lower, " 0") {
			sh.pageLines = 0
		}
		return true
	case strings.HasPrefix(lower, "terminal width"), lower == "cli":
		return true
	case lower == "configure" || lower == "configure terminal" || lower == "conf t":
		sh.config = true
		if sh.juniper() {
			sh.write("Entering configuration mode\r\n")
		} else {
			sh.write("Enter configuration commands, one per line.  End with CNTL/Z.\r\n")
		}
		return true
	case lower == "end" && !sh.juniper():
		sh.config = false
		return true
	case lower == "load merge terminal":
		sh.write("[Type ^D at a new line to end input]\r\n")
		if _, err := sh.reader.ReadString('\x04'); err != nil {
			return false
		}
		sh.write("load complete\r\n")
		return true
	case lower == "commit and-quit":
		sh.write("commit complete\r\nExiting configuration mode\r\n")
		sh.config = false
		return true
	}

	if sh.config {
		// 配置模式下的普通配置行直接接受
		if _, ok := sh.lookup(cmd); !ok {
			return true
		}
	}

	out, ok := sh.lookup(cmd)
	if !ok {
		if sh.juniper() {
			sh.write("error: syntax error, expecting <command>: " + cmd + "\r\n")
		} else {
			sh.write("% Invalid input detected at '^' marker.\r\n")
		}
		return true
	}
	return sh.paginate(ensureCRLF(out))
}

func (sh *shell) lookup(cmd string) (string, bool) {
	if out, ok := sh.srv.dev.Commands[cmd]; ok {
		return out, true
	}
	// viper 将键名转为小写
	if out, ok := sh.srv.dev.Commands[strings.ToLower(cmd)]; ok {
		return out, true
	}
	if dir := sh.srv.dev.CommandDir; dir != "" {
		for _, name := range []string{cmd, strings.ReplaceAll(cmd, " ", "_")} {
			if bs, err := os.ReadFile(filepath.Join(dir, name+".txt")); err == nil {
				return string(bs), true
			}
		}
	}
	return "", false
}

// paginate 按页输出，每页后打印分页提示并等待空格（回车继续、q 终止）
// Juniper 使用 ---(more)---，其它厂商使用 --More--
func (sh *shell) paginate(out string) bool {
	if sh.pageLines <= 0 {
		sh.write(out)
		return true
	}
	lines := strings.SplitAfter(out, "\r\n")
	for i := 0; i < len(lines); i += sh.pageLines {
		end := i + sh.pageLines
		if end > len(lines) {
			end = len(lines)
		}
		sh.write(strings.Join(lines[i:end], ""))
		if end >= len(lines) || strings.TrimSpace(strings.Join(lines[end:], "")) == "" {
			return true
		}
		pager := " --More-- "
		if sh.juniper() {
			pager = "---(more)---"
		}
		sh.write(pager)
		for {
			b, err := sh.reader.ReadByte()
			if err != nil {
				return false
			}
			if b == 'q' || b == 'Q' {
				sh.write("\r\n")
				return true
			}
			if b == ' ' || b == '\r' || b == '\n' {
				break
			}
		}
		erase := strings.Repeat("\b", len(pager))
		sh.write(erase + strings.Repeat(" ", len(pager)) + erase)
	}
	return true
}

func ensureCRLF(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\n", "\r\n")
	if !strings.HasSuffix(s, "\r\n") {
		s += "\r\n"
	}
	return s
}
