package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eliteGoblin/sendguard/internal/daemon"
)

func TestExitCode(t *testing.T) {
	assert.Equal(t, 0, exitCode(nil))
	assert.Equal(t, 0, exitCode(fmt.Errorf("%w (pid 12)", daemon.ErrDaemonRunning)))
	assert.Equal(t, 1, exitCode(errors.New("boom")))
}

func TestOnOff(t *testing.T) {
	assert.Equal(t, "enabled", onOff(true))
	assert.Equal(t, "disabled", onOff(false))
}

func TestVersionInfo_JSON(t *testing.T) {
	out, err := json.Marshal(versionInfo{Version: "1.0.0", Commit: "abc", BuildTime: "now"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"version":"1.0.0","commit":"abc","build_time":"now"}`, string(out))
}

func TestRootCommand_Subcommands(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"run", "start", "stop", "status", "enable", "disable", "toggle", "permission", "autostart", "version"} {
		assert.True(t, names[want], "missing command %q", want)
	}
}
