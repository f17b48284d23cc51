// Package credential 读取 Fernet 加密的设备凭据文件（secret.key + credentials.txt.enc）
package credential

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fernet/fernet-go"

	"github.com/sshcollectorpro/netops/internal/config"
)

// ErrMissingKey 明文中缺少用户名或密码
var ErrMissingKey = errors.New("credential: missing username or password")

// tokenMaxAge 令牌不设有效期
const tokenMaxAge = 100 * 365 * 24 * time.Hour

// Credentials 设备登录凭据
type Credentials struct {
	Username string
	Password string
}

// Load 按配置读取密钥与密文并解析凭据
func Load(cfg config.CredentialsConfig) (Credentials, error) {
	keyData, err := os.ReadFile(cfg.KeyFile)
	if err != nil {
		return Credentials{}, fmt.Errorf("failed to read key file: %w", err)
	}
	token, err := os.ReadFile(cfg.File)
	if err != nil {
		return Credentials{}, fmt.Errorf("failed to read credentials file: %w", err)
	}
	plain, err := Decrypt(keyData, token)
	if err != nil {
		return Credentials{}, err
	}
	return Parse(string(plain), cfg.UserKey, cfg.PassKey)
}

// Decrypt 使用 Fernet 密钥解密
func Decrypt(keyData, token []byte) ([]byte, error) {
	key, err := fernet.DecodeKey(strings.TrimSpace(string(keyData)))
	if err != nil {
		return nil, fmt.Errorf("invalid fernet key: %w", err)
	}
	msg := fernet.VerifyAndDecrypt([]byte(strings.TrimSpace(string(token))), tokenMaxAge, []*fernet.Key{key})
	if msg == nil {
		return nil, errors.New("credential: decrypt failed (wrong key or corrupted file)")
	}
	return msg, nil
}

// Parse 解析明文凭据
// 支持 key=value 行（# 注释），以及控制台服务器使用的单行 username,password
func Parse(plain, userKey, passKey string) (Credentials, error) {
	userKeys := candidates(userKey, "device_user", "user", "username")
	passKeys := candidates(passKey, "device_pass", "password", "pass")

	values := make(map[string]string)
	var firstLine string
	sc := bufio.NewScanner(strings.NewReader(plain))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if firstLine == "" {
			firstLine = line
		}
		if k, v, ok := strings.Cut(line, "="); ok {
			values[strings.ToLower(strings.TrimSpace(k))] = strings.TrimSpace(v)
		}
	}

	var c Credentials
	for _, k := range userKeys {
		if v, ok := values[k]; ok && c.Username == "" {
			c.Username = v
		}
	}
	for _, k := range passKeys {
		if v, ok := values[k]; ok && c.Password == "" {
			c.Password = v
		}
	}

	if len(values) == 0 && strings.Contains(firstLine, ",") {
		user, pass, _ := strings.Cut(firstLine, ",")
		c = Credentials{Username: strings.TrimSpace(user), Password: strings.TrimSpace(pass)}
	}

	if c.Username == "" || c.Password == "" {
		return Credentials{}, ErrMissingKey
	}
	return c, nil
}

func candidates(preferred string, defaults ...string) []string {
	out := make([]string, 0, len(defaults)+1)
	if p := strings.ToLower(strings.TrimSpace(preferred)); p != "" {
		out = append(out, p)
	}
	return append(out, defaults...)
}

// GenerateKey 生成新的 Fernet 密钥（URL 安全 base64）
func GenerateKey() (string, error) {
	var k fernet.Key
	if err := k.Generate(); err != nil {
		return "", fmt.Errorf("failed to generate key: %w", err)
	}
	return k.Encode(), nil
}

// Encrypt 使用密钥加密明文
func Encrypt(encodedKey string, plain []byte) ([]byte, error) {
	key, err := fernet.DecodeKey(strings.TrimSpace(encodedKey))
	if err != nil {
		return nil, fmt.Errorf("invalid fernet key: %w", err)
	}
	tok, err := fernet.EncryptAndSign(plain, key)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt: %w", err)
	}
	return tok, nil
}

// EncryptFile 生成新密钥写入 keyPath，并将 plainPath 加密写入 outPath
func EncryptFile(plainPath, keyPath, outPath string) error {
	plain, err := os.ReadFile(plainPath)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", plainPath, err)
	}
	key, err := GenerateKey()
	if err != nil {
		return err
	}
	tok, err := Encrypt(key, plain)
	if err != nil {
		return err
	}
	for _, p := range []string{keyPath, outPath} {
		if dir := filepath.Dir(p); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return err
			}
		}
	}
	if err := os.WriteFile(keyPath, []byte(key), 0o600); err != nil {
		return fmt.Errorf("failed to write key: %w", err)
	}
	if err := os.WriteFile(outPath, tok, 0o600); err != nil {
		return fmt.Errorf("failed to write credentials: %w", err)
	}
	return nil
}
