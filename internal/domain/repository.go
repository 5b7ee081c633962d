package domain

import "context"

// TapHandler receives every event delivered to the tap, on the tap thread.
// It may mutate ev.Flags; the adapter writes the change back to the OS event.
type TapHandler func(eventType EventType, ev *KeyEvent)

// TapFactory installs the OS-level key-down tap.
// Install must be called on the thread that will run the loop.
type TapFactory interface {
	Install(handler TapHandler) (TapHandle, error)
}

// TapHandle is an installed tap bound to the run loop of the installing thread.
type TapHandle interface {
	// Run blocks servicing the loop until Stop is called.
	Run()

	// Stop asks the loop to return. Safe from any thread.
	Stop()

	// Enable turns the tap on or off without removing it.
	Enable(enabled bool)

	// Release invalidates the loop binding and frees the tap.
	// Called once, on the loop thread, after Run returns.
	Release()

	// OnLoopThread reports whether the caller is running on the loop thread.
	OnLoopThread() bool
}

// TrustChecker queries the OS for Accessibility/Input Monitoring trust.
// Implementation: AXIsProcessTrustedWithOptions on macOS.
type TrustChecker interface {
	// IsTrusted returns the current trust state without prompting.
	IsTrusted() bool

	// Prompt asks the OS to show its consent dialog.
	Prompt()
}

// ActivationSource delivers application-activation notifications.
// Implementation: NSWorkspaceDidActivateApplicationNotification on macOS.
type ActivationSource interface {
	// Frontmost returns the bundle ID of the currently active application.
	Frontmost() (string, error)

	// Watch calls onActivate with the bundle ID of each newly activated
	// application until ctx is done.
	Watch(ctx context.Context, onActivate func(bundleID string)) error
}

// GuardSettings exposes the guard toggle to the hot path.
type GuardSettings interface {
	// GuardEnabled must be safe to call from any thread without blocking.
	GuardEnabled() bool
}

// FrontmostChecker reports whether the target application has focus.
type FrontmostChecker interface {
	IsTargetAppFrontmost() bool
}

// PermissionNotifier is the user-facing side of a missing permission.
// Calls are fire-and-forget.
type PermissionNotifier interface {
	PermissionMissing()
}

// ProcessManager handles OS process operations.
// Implementation: uses gopsutil for cross-platform support.
type ProcessManager interface {
	// FindByName returns PIDs of processes matching the pattern.
	FindByName(pattern string) ([]int, error)

	// Terminate sends SIGTERM to a process.
	Terminate(pid int) error

	// IsRunning checks if a PID exists and is running.
	IsRunning(pid int) bool

	// GetCurrentPID returns the current process PID.
	GetCurrentPID() int
}

// StateStore persists the running daemon's registration and counters so
// that other invocations of the CLI can report on it.
type StateStore interface {
	// Register records the current daemon.
	Register(pid int, appVersion string) error

	// Heartbeat updates the liveness timestamp and the latest engine snapshot.
	Heartbeat(engineState EngineState, stats InterceptStats) error

	// Status returns the last persisted daemon state, or nil if none.
	Status() (*DaemonStatus, error)

	// Clear removes the daemon registration (on clean shutdown).
	Clear() error

	// Close releases resources (e.g., database connection).
	Close() error
}

// KeyProvider abstracts the source of the state database encryption key.
type KeyProvider interface {
	// GetKey returns the encryption key bytes.
	GetKey() ([]byte, error)

	// StoreKey persists a new encryption key.
	StoreKey(key []byte) error

	// KeyExists checks if a key has been generated.
	KeyExists() bool
}

// LaunchAgentManager handles the login-item LaunchAgent plist.
type LaunchAgentManager interface {
	// Install creates and loads the LaunchAgent plist.
	Install(execPath string) error

	// Uninstall unloads and removes the LaunchAgent plist.
	Uninstall() error

	// IsInstalled checks if LaunchAgent is installed.
	IsInstalled() bool

	// GetPlistPath returns the plist file path.
	GetPlistPath() string

	// NeedsUpdate checks if plist exists but has different content than expected.
	NeedsUpdate(execPath string) bool
}
