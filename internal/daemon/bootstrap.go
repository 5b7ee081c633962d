package daemon

import (
	"errors"
	"fmt"
	"os/exec"
	"syscall"
	"time"

	"github.com/eliteGoblin/sendguard/internal/domain"
)

// ErrDaemonRunning is returned when a live daemon is already registered.
var ErrDaemonRunning = errors.New("daemon already running")

// daemonCommand builds the detached self-exec of `run`.
func daemonCommand(execPath string) *exec.Cmd {
	cmd := exec.Command(execPath, "run")

	// Detach from parent process
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setsid: true,
	}

	// No stdin/stdout/stderr; the daemon logs to its own file.
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil

	return cmd
}

// StartDaemon spawns a detached daemon from execPath.
func StartDaemon(execPath string) error {
	if execPath == "" {
		return errors.New("executable path is empty")
	}
	cmd := daemonCommand(execPath)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start daemon: %w", err)
	}
	// The child outlives us; don't leave a zombie if it exits first.
	go cmd.Wait()
	return nil
}

// RunningDaemon returns the registered daemon PID if that process is alive.
// A stale registration (dead PID) reports 0.
func RunningDaemon(store domain.StateStore, pm domain.ProcessManager) (int, error) {
	status, err := store.Status()
	if err != nil {
		return 0, err
	}
	if status == nil || status.PID <= 0 {
		return 0, nil
	}
	if status.PID == pm.GetCurrentPID() || !pm.IsRunning(status.PID) {
		return 0, nil
	}
	return status.PID, nil
}

// StopDaemon terminates the registered daemon and waits up to timeout for
// it to exit. Returns the stopped PID, or 0 when nothing was running.
func StopDaemon(store domain.StateStore, pm domain.ProcessManager, timeout time.Duration) (int, error) {
	pid, err := RunningDaemon(store, pm)
	if err != nil || pid == 0 {
		return 0, err
	}

	if err := pm.Terminate(pid); err != nil {
		return pid, fmt.Errorf("terminate daemon %d: %w", pid, err)
	}

	deadline := time.Now().Add(timeout)
	for pm.IsRunning(pid) {
		if time.Now().After(deadline) {
			return pid, fmt.Errorf("daemon %d did not exit within %s", pid, timeout)
		}
		time.Sleep(50 * time.Millisecond)
	}

	// The daemon clears its own row on clean shutdown; this covers a kill.
	if err := store.Clear(); err != nil {
		return pid, err
	}
	return pid, nil
}
