package credential

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sshcollectorpro/netops/internal/config"
)

func TestParseKeyValue(t *testing.T) {
	c, err := Parse("# device creds\ndevice_user = netadmin\ndevice_pass=p@ss=word\n", "device_user", "device_pass")
	require.NoError(t, err)
	assert.Equal(t, "netadmin", c.Username)
	assert.Equal(t, "p@ss=word", c.Password, "只按第一个等号切分")
}

func TestParseAlternateKeys(t *testing.T) {
	c, err := Parse("username=wlc\npassword=secret\n", "", "")
	require.NoError(t, err)
	assert.Equal(t, Credentials{Username: "wlc", Password: "secret"}, c)
}

func TestParseCSVLine(t *testing.T) {
	c, err := Parse("\noob-admin,oob-pass\n", "device_user", "device_pass")
	require.NoError(t, err)
	assert.Equal(t, Credentials{Username: "oob-admin", Password: "oob-pass"}, c)
}

func TestParseMissing(t *testing.T) {
	_, err := Parse("device_user=only\n", "device_user", "device_pass")
	assert.ErrorIs(t, err, ErrMissingKey)
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)

	tok, err := Encrypt(key, []byte("device_user=a\ndevice_pass=b\n"))
	require.NoError(t, err)

	plain, err := Decrypt([]byte(key+"\n"), tok)
	require.NoError(t, err)
	assert.Equal(t, "device_user=a\ndevice_pass=b\n", string(plain))

	other, err := GenerateKey()
	require.NoError(t, err)
	_, err = Decrypt([]byte(other), tok)
	assert.Error(t, err, "错误密钥应解密失败")
}

func TestEncryptFileAndLoad(t *testing.T) {
	dir := t.TempDir()
	plainPath := filepath.Join(dir, "credentials.txt")
	require.NoError(t, os.WriteFile(plainPath, []byte("device_user=ops\ndevice_pass=nova\n"), 0o600))

	cfg := config.CredentialsConfig{
		KeyFile: filepath.Join(dir, "secret.key"),
		File:    filepath.Join(dir, "credentials.txt.enc"),
		UserKey: "device_user",
		PassKey: "device_pass",
	}
	require.NoError(t, EncryptFile(plainPath, cfg.KeyFile, cfg.File))

	c, err := Load(cfg)
	require.NoError(t, err)
	assert.Equal(t, Credentials{Username: "ops", Password: "nova"}, c)
}

func TestLoadMissingFiles(t *testing.T) {
	_, err := Load(config.CredentialsConfig{KeyFile: filepath.Join(t.TempDir(), "none.key")})
	assert.Error(t, err)
}
