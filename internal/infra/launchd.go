package infra

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"text/template"

	"github.com/eliteGoblin/sendguard/internal/domain"
)

// LaunchAgentLabel identifies the login item.
const LaunchAgentLabel = "com.sendguard.agent"

// Runs `run` once per login; launchd does not restart it after exit.
const launchAgentTemplate = `<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
    <key>Label</key>
    <string>{{.Label}}</string>

    <key>ProgramArguments</key>
    <array>
        <string>{{.ExecutablePath}}</string>
        <string>run</string>
    </array>

    <key>RunAtLoad</key>
    <true/>

    <key>KeepAlive</key>
    <false/>

    <key>ProcessType</key>
    <string>Interactive</string>

    <key>StandardOutPath</key>
    <string>{{.StdoutPath}}</string>

    <key>StandardErrorPath</key>
    <string>{{.StderrPath}}</string>

    <key>EnvironmentVariables</key>
    <dict>
        <key>PATH</key>
        <string>/usr/local/bin:/usr/bin:/bin:/usr/sbin:/sbin</string>
    </dict>
</dict>
</plist>
`

type plistConfig struct {
	Label          string
	ExecutablePath string
	StdoutPath     string
	StderrPath     string
}

// LaunchAgentManagerImpl implements domain.LaunchAgentManager for the
// per-user LaunchAgents directory.
type LaunchAgentManagerImpl struct {
	plistDir  string
	plistPath string
	logDir    string
	cmdRunner CommandRunner
}

// NewLaunchAgentManager creates a manager for paths.
func NewLaunchAgentManager(paths Paths) *LaunchAgentManagerImpl {
	return NewLaunchAgentManagerWithRunner(paths, &RealCommandRunner{})
}

// NewLaunchAgentManagerWithRunner creates a manager with an injectable command runner.
func NewLaunchAgentManagerWithRunner(paths Paths, runner CommandRunner) *LaunchAgentManagerImpl {
	dir := paths.LaunchAgentsDir()
	return &LaunchAgentManagerImpl{
		plistDir:  dir,
		plistPath: filepath.Join(dir, LaunchAgentLabel+".plist"),
		logDir:    filepath.Dir(paths.LogFile()),
		cmdRunner: runner,
	}
}

func (m *LaunchAgentManagerImpl) render(execPath string) ([]byte, error) {
	tmpl, err := template.New("plist").Parse(launchAgentTemplate)
	if err != nil {
		return nil, fmt.Errorf("parse plist template: %w", err)
	}

	var buf bytes.Buffer
	err = tmpl.Execute(&buf, plistConfig{
		Label:          LaunchAgentLabel,
		ExecutablePath: execPath,
		StdoutPath:     filepath.Join(m.logDir, "launchd.out.log"),
		StderrPath:     filepath.Join(m.logDir, "launchd.err.log"),
	})
	if err != nil {
		return nil, fmt.Errorf("render plist template: %w", err)
	}
	return buf.Bytes(), nil
}

// Install writes the plist and loads it with launchctl. An existing plist
// is replaced.
func (m *LaunchAgentManagerImpl) Install(execPath string) error {
	if execPath == "" {
		return errors.New("executable path is empty")
	}
	content, err := m.render(execPath)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(m.plistDir, 0o755); err != nil {
		return fmt.Errorf("create LaunchAgents directory: %w", err)
	}
	if err := os.MkdirAll(m.logDir, 0o755); err != nil {
		return fmt.Errorf("create log directory: %w", err)
	}

	if m.IsInstalled() {
		_ = m.cmdRunner.Run("launchctl", "unload", m.plistPath)
	}
	if err := os.WriteFile(m.plistPath, content, 0o644); err != nil {
		return fmt.Errorf("write plist: %w", err)
	}
	if err := m.cmdRunner.Run("launchctl", "load", m.plistPath); err != nil {
		return fmt.Errorf("launchctl load: %w", err)
	}
	return nil
}

// Uninstall unloads and removes the plist. Missing plist is not an error.
func (m *LaunchAgentManagerImpl) Uninstall() error {
	if !m.IsInstalled() {
		return nil
	}
	// Fails when the agent is not loaded; the file still has to go.
	_ = m.cmdRunner.Run("launchctl", "unload", m.plistPath)

	if err := os.Remove(m.plistPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove plist: %w", err)
	}
	return nil
}

// IsInstalled checks if the plist file exists.
func (m *LaunchAgentManagerImpl) IsInstalled() bool {
	_, err := os.Stat(m.plistPath)
	return err == nil
}

// NeedsUpdate reports whether an installed plist differs from what Install
// would write for execPath.
func (m *LaunchAgentManagerImpl) NeedsUpdate(execPath string) bool {
	if !m.IsInstalled() {
		return false
	}
	current, err := os.ReadFile(m.plistPath)
	if err != nil {
		return true
	}
	expected, err := m.render(execPath)
	if err != nil {
		return true
	}
	return !bytes.Equal(current, expected)
}

// GetPlistPath returns the plist file path.
func (m *LaunchAgentManagerImpl) GetPlistPath() string {
	return m.plistPath
}

var _ domain.LaunchAgentManager = (*LaunchAgentManagerImpl)(nil)
