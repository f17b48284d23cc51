package ssh

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/sshcollectorpro/netops/pkg/logger"
)

// Client 已认证的 SSH 连接
type Client struct {
	address    string
	connection *ssh.Client
}

// Dial 建立并认证 SSH 连接（连接失败即 ConnectFailure，由调用方跳过该设备）
// address 可以是纯地址，也可以带端口（host:port）；未带端口时使用 cfg.Port
func Dial(ctx context.Context, address string, cfg SessionConfig) (*Client, error) {
	cfg = cfg.withDefaults()
	addr := joinHostPort(address, cfg.Port)

	sshConfig := &ssh.ClientConfig{
		User:            cfg.Username,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         cfg.ConnectTimeout,
		Config: ssh.Config{
			// 支持旧版本的密钥交换算法
			KeyExchanges: []string{
				"curve25519-sha256",
				"diffie-hellman-group14-sha256",
				"diffie-hellman-group14-sha1",
				"diffie-hellman-group1-sha1",
				"diffie-hellman-group-exchange-sha256",
				"diffie-hellman-group-exchange-sha1",
				"ecdh-sha2-nistp256",
				"ecdh-sha2-nistp384",
				"ecdh-sha2-nistp521",
			},
			// 支持旧版本的加密算法
			Ciphers: []string{
				"aes128-ctr",
				"aes192-ctr",
				"aes256-ctr",
				"aes128-gcm@openssh.com",
				"aes256-gcm@openssh.com",
				"chacha20-poly1305@openssh.com",
				"aes128-cbc",
				"aes192-cbc",
				"aes256-cbc",
				"3des-cbc",
			},
			MACs: []string{
				"hmac-sha2-256-etm@openssh.com",
				"hmac-sha2-256",
				"hmac-sha1",
				"hmac-sha1-96",
			},
		},
		HostKeyAlgorithms: []string{
			"ssh-rsa",
			"rsa-sha2-256",
			"rsa-sha2-512",
			"ecdsa-sha2-nistp256",
			"ecdsa-sha2-nistp384",
			"ecdsa-sha2-nistp521",
			"ssh-ed25519",
		},
	}

	// 同时尝试 password 与 keyboard-interactive，提高与网络设备的兼容性
	password := cfg.Password
	sshConfig.Auth = []ssh.AuthMethod{
		ssh.Password(password),
		ssh.KeyboardInteractive(func(user, instruction string, questions []string, echos []bool) ([]string, error) {
			answers := make([]string, len(questions))
			for i := range questions {
				answers[i] = password
			}
			return answers, nil
		}),
	}

	dialCtx := ctx
	if cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, cfg.ConnectTimeout)
		defer cancel()
	}

	dialer := &net.Dialer{Timeout: cfg.ConnectTimeout}
	conn, err := dialer.DialContext(dialCtx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", addr, err)
	}

	// 握手阶段同样受连接超时约束
	if cfg.ConnectTimeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(cfg.ConnectTimeout))
	}
	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, sshConfig)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create SSH connection to %s: %w", addr, err)
	}
	_ = conn.SetDeadline(time.Time{})

	logger.Debugf("SSH connected: %s as %s", addr, cfg.Username)
	return &Client{address: addr, connection: ssh.NewClient(sshConn, chans, reqs)}, nil
}

// Address 返回实际连接的 host:port
func (c *Client) Address() string {
	return c.address
}

// OpenShell 在连接上打开交互式 PTY Shell，返回的通道拥有该连接（关闭通道即关闭连接）
func (c *Client) OpenShell() (*ShellChannel, error) {
	if c.connection == nil {
		return nil, fmt.Errorf("SSH connection not established")
	}

	session, err := c.connection.NewSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	// 设置终端模式（启用回显，兼容网络设备CLI），并使用终端类型回退
	modes := ssh.TerminalModes{
		ssh.ECHO:          1,
		ssh.TTY_OP_ISPEED: 14400,
		ssh.TTY_OP_OSPEED: 14400,
	}
	var ptyErr error
	for _, term := range []string{"vt100", "xterm", "ansi", "dumb"} {
		if ptyErr = session.RequestPty(term, 80, 24, modes); ptyErr == nil {
			break
		}
	}
	if ptyErr != nil {
		session.Close()
		return nil, fmt.Errorf("failed to request pty: %w", ptyErr)
	}

	stdin, err := session.StdinPipe()
	if err != nil {
		session.Close()
		return nil, fmt.Errorf("failed to get stdin: %w", err)
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		session.Close()
		return nil, fmt.Errorf("failed to get stdout: %w", err)
	}
	stderr, err := session.StderrPipe()
	if err != nil {
		session.Close()
		return nil, fmt.Errorf("failed to get stderr: %w", err)
	}

	if err := session.Shell(); err != nil {
		session.Close()
		return nil, fmt.Errorf("failed to start shell: %w", err)
	}

	return newShellChannel(stdin, session, c.connection, stdout, stderr), nil
}

// Close 关闭连接（已移交给 ShellChannel 时由通道负责关闭）
func (c *Client) Close() error {
	if c.connection == nil {
		return nil
	}
	err := c.connection.Close()
	c.connection = nil
	if isClosedErr(err) {
		return nil
	}
	return err
}

// Open 连接、认证、打开 Shell 并完成初始横幅读取
func Open(ctx context.Context, address string, cfg SessionConfig) (*Session, error) {
	client, err := Dial(ctx, address, cfg)
	if err != nil {
		return nil, err
	}
	ch, err := client.OpenShell()
	if err != nil {
		client.Close()
		return nil, err
	}
	return NewSessionContext(ctx, ch, cfg), nil
}

func joinHostPort(address string, port int) string {
	address = strings.TrimSpace(address)
	if _, _, err := net.SplitHostPort(address); err == nil {
		return address
	}
	if port < 1 || port > 65535 {
		port = 22
	}
	return net.JoinHostPort(strings.Trim(address, "[]"), strconv.Itoa(port))
}
