package infra

import (
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"strings"
)

const (
	dataDirName    = ".sendguard"
	configFileName = "config.toml"
	envFileName    = ".env"
	logDirName     = "sendguard"
	logFileName    = "sendguard.log"
)

// Paths resolves every on-disk location the tool uses from a home directory.
type Paths struct {
	Home string
}

// DefaultPaths uses the invoking user's home directory, also under sudo.
func DefaultPaths() Paths {
	return Paths{Home: RealUserHome()}
}

// RealUserHome returns the invoking user's home directory. Under sudo,
// os.UserHomeDir returns /var/root, so SUDO_USER is consulted first.
func RealUserHome() string {
	if sudoUser := os.Getenv("SUDO_USER"); sudoUser != "" {
		if u, err := user.Lookup(sudoUser); err == nil {
			return u.HomeDir
		}
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return os.TempDir()
	}
	return home
}

// ResolveExecutable returns the running binary with symlinks resolved, the
// path written into the LaunchAgent and used for self-exec.
func ResolveExecutable() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("locate executable: %w", err)
	}
	resolved, err := filepath.EvalSymlinks(exe)
	if err != nil {
		return exe, nil
	}
	return resolved, nil
}

// DataDir is ~/.sendguard.
func (p Paths) DataDir() string {
	return filepath.Join(p.Home, dataDirName)
}

// ConfigFile is ~/.sendguard/config.toml.
func (p Paths) ConfigFile() string {
	return filepath.Join(p.DataDir(), configFileName)
}

// EnvFile is ~/.sendguard/.env.
func (p Paths) EnvFile() string {
	return filepath.Join(p.DataDir(), envFileName)
}

// LogFile is ~/Library/Logs/sendguard/sendguard.log.
func (p Paths) LogFile() string {
	return filepath.Join(p.Home, "Library", "Logs", logDirName, logFileName)
}

// LaunchAgentsDir is ~/Library/LaunchAgents.
func (p Paths) LaunchAgentsDir() string {
	return filepath.Join(p.Home, "Library", "LaunchAgents")
}

// ExpandHome expands a leading ~ to the home directory.
func (p Paths) ExpandHome(path string) string {
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(p.Home, path[2:])
	}
	if path == "~" {
		return p.Home
	}
	return path
}
