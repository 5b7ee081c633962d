// Package infra implements the OS-facing adapters: event tap, workspace
// notifications, accessibility trust, settings, state and processes.
package infra

import (
	"errors"
	"os"
	"strings"

	"github.com/shirou/gopsutil/v3/process"
	"golang.org/x/sys/unix"

	"github.com/eliteGoblin/sendguard/internal/domain"
)

// ProcessManagerImpl implements domain.ProcessManager using gopsutil.
type ProcessManagerImpl struct{}

// NewProcessManager creates a new process manager.
func NewProcessManager() domain.ProcessManager {
	return &ProcessManagerImpl{}
}

// FindByName returns PIDs of processes whose name matches (case-insensitive).
func (pm *ProcessManagerImpl) FindByName(pattern string) ([]int, error) {
	procs, err := process.Processes()
	if err != nil {
		return nil, err
	}

	var found []int
	for _, p := range procs {
		name, err := p.Name()
		if err != nil {
			continue // exited while iterating
		}
		if strings.EqualFold(name, pattern) {
			found = append(found, int(p.Pid))
		}
	}
	return found, nil
}

// Terminate asks a process to exit with SIGTERM.
func (pm *ProcessManagerImpl) Terminate(pid int) error {
	if pid <= 0 {
		return errors.New("invalid pid")
	}
	p, err := process.NewProcess(int32(pid))
	if err != nil {
		return err
	}
	return p.Terminate()
}

// IsRunning probes pid with signal 0. EPERM means it exists but belongs to
// another user.
func (pm *ProcessManagerImpl) IsRunning(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}

// GetCurrentPID returns the current process PID.
func (pm *ProcessManagerImpl) GetCurrentPID() int {
	return os.Getpid()
}

var _ domain.ProcessManager = (*ProcessManagerImpl)(nil)
