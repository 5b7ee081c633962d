package infra

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPaths(t *testing.T) {
	p := Paths{Home: "/Users/alice"}

	assert.Equal(t, "/Users/alice/.sendguard", p.DataDir())
	assert.Equal(t, "/Users/alice/.sendguard/config.toml", p.ConfigFile())
	assert.Equal(t, "/Users/alice/.sendguard/.env", p.EnvFile())
	assert.Equal(t, "/Users/alice/Library/Logs/sendguard/sendguard.log", p.LogFile())
	assert.Equal(t, "/Users/alice/Library/LaunchAgents", p.LaunchAgentsDir())
}

func TestPaths_ExpandHome(t *testing.T) {
	p := Paths{Home: "/Users/alice"}

	tests := []struct {
		in, want string
	}{
		{"~", "/Users/alice"},
		{"~/x/y", "/Users/alice/x/y"},
		{"/abs/path", "/abs/path"},
		{"rel/~/path", "rel/~/path"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, p.ExpandHome(tt.in), tt.in)
	}
}

func TestRealUserHome(t *testing.T) {
	t.Setenv("SUDO_USER", "")
	home, err := os.UserHomeDir()
	require.NoError(t, err)
	assert.Equal(t, home, RealUserHome())
	assert.Equal(t, home, DefaultPaths().Home)
}

func TestResolveExecutable(t *testing.T) {
	exe, err := ResolveExecutable()
	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(exe))
}
