package hosts

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	in := `
# core switches
lon-core-01 10.0.0.1
10.0.0.2
lon-oob-01 10.0.9.5/24 Avocent
`
	got, err := Parse(strings.NewReader(in))
	require.NoError(t, err)
	require.Len(t, got, 3)

	assert.Equal(t, Target{Name: "lon-core-01", Address: "10.0.0.1"}, got[0])
	assert.Equal(t, Target{Name: "10.0.0.2", Address: "10.0.0.2"}, got[1])
	assert.Equal(t, "10.0.9.5", got[2].Address, "去除掩码")
	assert.Equal(t, []string{"Avocent"}, got[2].Extra)
	assert.Equal(t, "lon-core-01", got[0].Label())
}

func TestParseEmpty(t *testing.T) {
	_, err := Parse(strings.NewReader("# nothing\n\n"))
	assert.ErrorIs(t, err, ErrEmpty)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hosts.txt")
	require.NoError(t, os.WriteFile(path, []byte("sw1 192.0.2.10\n"), 0o644))

	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []Target{{Name: "sw1", Address: "192.0.2.10"}}, got)

	_, err = Load(filepath.Join(t.TempDir(), "missing.txt"))
	assert.Error(t, err)
}

func TestFromList(t *testing.T) {
	got, err := FromList([]string{"192.0.2.1", "edge 192.0.2.2"})
	require.NoError(t, err)
	assert.Equal(t, "edge", got[1].Name)
}
