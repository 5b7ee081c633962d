package daemon

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eliteGoblin/sendguard/internal/domain"
	"github.com/eliteGoblin/sendguard/internal/infra"
)

// mockSettingsSource is an in-memory SettingsSource.
type mockSettingsSource struct {
	mu       sync.Mutex
	cfg      infra.Settings
	guard    atomic.Bool
	onChange []func(old, updated infra.Settings)
	watches  atomic.Int32
	updates  atomic.Int32
}

func newMockSettingsSource(cfg infra.Settings) *mockSettingsSource {
	m := &mockSettingsSource{cfg: cfg}
	m.guard.Store(cfg.GuardEnabled)
	return m
}

func (m *mockSettingsSource) GuardEnabled() bool { return m.guard.Load() }

func (m *mockSettingsSource) Settings() infra.Settings {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cfg
}

func (m *mockSettingsSource) Update(fn func(*infra.Settings)) error {
	m.updates.Add(1)
	m.mu.Lock()
	old := m.cfg
	fn(&m.cfg)
	updated := m.cfg
	callbacks := append([]func(old, updated infra.Settings){}, m.onChange...)
	m.mu.Unlock()

	m.guard.Store(updated.GuardEnabled)
	if old != updated {
		for _, cb := range callbacks {
			cb(old, updated)
		}
	}
	return nil
}

func (m *mockSettingsSource) OnChange(cb func(old, updated infra.Settings)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onChange = append(m.onChange, cb)
}

func (m *mockSettingsSource) Watch(ctx context.Context) error {
	m.watches.Add(1)
	return nil
}

func (m *mockSettingsSource) setGuard(enabled bool) {
	_ = m.Update(func(cfg *infra.Settings) { cfg.GuardEnabled = enabled })
}

// mockGate is a PermissionGate whose grant is triggered by the test.
type mockGate struct {
	trusted  atomic.Bool
	requests atomic.Int32
	polls    atomic.Int32
	stops    atomic.Int32

	mu        sync.Mutex
	onGranted func()
}

func (m *mockGate) IsTrusted() bool { return m.trusted.Load() }

func (m *mockGate) RequestPermission() { m.requests.Add(1) }

func (m *mockGate) PollUntilTrusted(ctx context.Context, interval time.Duration, onGranted func()) func() {
	m.polls.Add(1)
	m.mu.Lock()
	m.onGranted = onGranted
	m.mu.Unlock()
	return func() { m.stops.Add(1) }
}

func (m *mockGate) polling() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.onGranted != nil
}

// grant flips trust on and fires the pending poll callback.
func (m *mockGate) grant() {
	m.trusted.Store(true)
	m.mu.Lock()
	cb := m.onGranted
	m.onGranted = nil
	m.mu.Unlock()
	if cb != nil {
		cb()
	}
}

// mockTracker blocks until ctx is done.
type mockTracker struct {
	running atomic.Bool
}

func (m *mockTracker) Run(ctx context.Context) error {
	m.running.Store(true)
	<-ctx.Done()
	m.running.Store(false)
	return ctx.Err()
}

func (m *mockTracker) IsTargetAppFrontmost() bool { return true }

// mockStore is an in-memory StateStore.
type mockStore struct {
	mu          sync.Mutex
	status      *domain.DaemonStatus
	registerErr error
	heartbeats  int
	clears      int
}

func (m *mockStore) Register(pid int, appVersion string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.registerErr != nil {
		return m.registerErr
	}
	now := time.Now()
	m.status = &domain.DaemonStatus{
		PID:           pid,
		AppVersion:    appVersion,
		StartedAt:     now,
		LastHeartbeat: now,
		EngineState:   domain.EngineStopped.String(),
	}
	return nil
}

func (m *mockStore) Heartbeat(engineState domain.EngineState, stats domain.InterceptStats) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.status == nil {
		return errors.New("daemon not registered")
	}
	m.heartbeats++
	m.status.LastHeartbeat = time.Now()
	m.status.EngineState = engineState.String()
	m.status.Stats = stats
	return nil
}

func (m *mockStore) Status() (*domain.DaemonStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.status == nil {
		return nil, nil
	}
	status := *m.status
	return &status, nil
}

func (m *mockStore) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clears++
	m.status = nil
	return nil
}

func (m *mockStore) Close() error { return nil }

func (m *mockStore) heartbeatCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.heartbeats
}

func (m *mockStore) clearCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.clears
}

// mockProcessManager tracks a fixed set of live PIDs.
type mockProcessManager struct {
	mu         sync.Mutex
	pid        int
	running    map[int]bool
	terminated []int
	sticky     bool // process ignores Terminate
}

func newMockProcessManager(pid int) *mockProcessManager {
	return &mockProcessManager{pid: pid, running: make(map[int]bool)}
}

func (m *mockProcessManager) FindByName(pattern string) ([]int, error) { return nil, nil }

func (m *mockProcessManager) Terminate(pid int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.terminated = append(m.terminated, pid)
	if !m.sticky {
		delete(m.running, pid)
	}
	return nil
}

func (m *mockProcessManager) IsRunning(pid int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running[pid]
}

func (m *mockProcessManager) GetCurrentPID() int { return m.pid }
