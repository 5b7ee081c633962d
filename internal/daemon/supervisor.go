package daemon

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/sendguard/internal/domain"
	"github.com/eliteGoblin/sendguard/internal/infra"
)

// PermissionGate is the part of infra.PermissionGate the supervisor drives.
type PermissionGate interface {
	IsTrusted() bool
	RequestPermission()
	PollUntilTrusted(ctx context.Context, interval time.Duration, onGranted func()) (stop func())
}

// SettingsSource is the part of infra.SettingsStore the supervisor drives.
type SettingsSource interface {
	domain.GuardSettings
	Settings() infra.Settings
	Update(fn func(*infra.Settings)) error
	OnChange(cb func(old, updated infra.Settings))
	Watch(ctx context.Context) error
}

// ForegroundRunner follows application activation until ctx is done.
type ForegroundRunner interface {
	Run(ctx context.Context) error
}

var (
	_ PermissionGate   = (*infra.PermissionGate)(nil)
	_ SettingsSource   = (*infra.SettingsStore)(nil)
	_ ForegroundRunner = (*infra.ForegroundTracker)(nil)
)

// SupervisorConfig holds supervisor configuration.
type SupervisorConfig struct {
	HeartbeatInterval time.Duration // How often engine state is persisted
	AppVersion        string
}

// DefaultSupervisorConfig returns default supervisor configuration.
func DefaultSupervisorConfig() SupervisorConfig {
	return SupervisorConfig{
		HeartbeatInterval: 30 * time.Second,
	}
}

// Supervisor is the long-running daemon. It keeps the engine in step with
// the guard toggle and the accessibility permission.
type Supervisor struct {
	config   SupervisorConfig
	engine   TapEngine
	gate     PermissionGate
	settings SettingsSource
	tracker  ForegroundRunner
	notifier domain.PermissionNotifier
	store    domain.StateStore
	pm       domain.ProcessManager
	logger   *zap.Logger

	reconcileCh chan struct{}
	grantedCh   chan struct{}
	retryCh     chan struct{}
	stopPoll    func()
	retry       *time.Timer
}

// NewSupervisor creates the daemon. store may be nil.
func NewSupervisor(
	config SupervisorConfig,
	engine TapEngine,
	gate PermissionGate,
	settings SettingsSource,
	tracker ForegroundRunner,
	notifier domain.PermissionNotifier,
	store domain.StateStore,
	pm domain.ProcessManager,
	logger *zap.Logger,
) *Supervisor {
	return &Supervisor{
		config:      config,
		engine:      engine,
		gate:        gate,
		settings:    settings,
		tracker:     tracker,
		notifier:    notifier,
		store:       store,
		pm:          pm,
		logger:      logger,
		reconcileCh: make(chan struct{}, 1),
		grantedCh:   make(chan struct{}, 1),
		retryCh:     make(chan struct{}, 1),
	}
}

// Run blocks until ctx is canceled, then stops the engine and clears the
// daemon registration.
func (s *Supervisor) Run(ctx context.Context) error {
	if s.store != nil {
		if err := s.store.Register(s.pm.GetCurrentPID(), s.config.AppVersion); err != nil {
			s.logger.Error("failed to register daemon", zap.Error(err))
			return err
		}
	}

	s.logger.Info("daemon started",
		zap.Int("pid", s.pm.GetCurrentPID()),
		zap.String("version", s.config.AppVersion),
		zap.Bool("guard_enabled", s.settings.GuardEnabled()))

	go func() {
		if err := s.tracker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Warn("foreground tracker stopped", zap.Error(err))
		}
	}()

	s.settings.OnChange(func(old, updated infra.Settings) {
		if old.GuardEnabled != updated.GuardEnabled {
			signal(s.reconcileCh)
		}
	})
	if err := s.settings.Watch(ctx); err != nil {
		s.logger.Warn("settings hot reload unavailable", zap.Error(err))
	}

	prompted := s.handleFirstRun()
	s.checkPermission(ctx, prompted)
	s.reconcile(ctx)

	heartbeatTicker := time.NewTicker(s.config.HeartbeatInterval)
	defer heartbeatTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.shutdown()
			return nil

		case <-s.reconcileCh:
			s.reconcile(ctx)

		case <-s.grantedCh:
			s.stopPoll = nil
			s.reconcile(ctx)

		case <-s.retryCh:
			s.retry = nil
			s.reconcile(ctx)

		case <-heartbeatTicker.C:
			s.heartbeat()
		}
	}
}

// handleFirstRun asks for permission up front on the very first launch and
// reports whether it prompted.
func (s *Supervisor) handleFirstRun() bool {
	if !s.settings.Settings().FirstRun {
		return false
	}
	s.logger.Info("first run")
	s.gate.RequestPermission()
	if err := s.settings.Update(func(cfg *infra.Settings) { cfg.FirstRun = false }); err != nil {
		s.logger.Warn("failed to persist first_run", zap.Error(err))
	}
	return true
}

// checkPermission starts polling when trust is missing. The consent prompt
// is skipped when the first-run prompt has just been shown.
func (s *Supervisor) checkPermission(ctx context.Context, prompted bool) {
	if s.gate.IsTrusted() {
		return
	}
	if !prompted {
		s.gate.RequestPermission()
	}
	if s.notifier != nil {
		s.notifier.PermissionMissing()
	}
	s.startPolling(ctx)
}

func (s *Supervisor) startPolling(ctx context.Context) {
	if s.stopPoll != nil {
		return
	}
	interval := s.pollInterval()
	s.logger.Info("waiting for accessibility permission", zap.Duration("poll_interval", interval))
	s.stopPoll = s.gate.PollUntilTrusted(ctx, interval, func() { signal(s.grantedCh) })
}

// scheduleRetry reconciles again after one poll interval. Used when the tap
// is refused although the process already reads as trusted.
func (s *Supervisor) scheduleRetry() {
	if s.retry != nil {
		return
	}
	interval := s.pollInterval()
	s.logger.Debug("event tap refused while trusted, retrying", zap.Duration("retry_in", interval))
	s.retry = time.AfterFunc(interval, func() { signal(s.retryCh) })
}

func (s *Supervisor) pollInterval() time.Duration {
	if d := s.settings.Settings().PermissionPollInterval.Duration; d > 0 {
		return d
	}
	return infra.DefaultPermissionPollInterval
}

// reconcile starts or stops the engine to match the guard toggle, then
// persists the resulting engine state.
func (s *Supervisor) reconcile(ctx context.Context) {
	defer s.heartbeat()

	if !s.settings.GuardEnabled() {
		if s.engine.State() != domain.EngineStopped {
			s.logger.Info("guard disabled, stopping event tap")
			s.engine.Stop()
		}
		return
	}

	if s.stopPoll != nil || s.retry != nil {
		// The grant callback or the retry timer reconciles again.
		return
	}

	err := s.engine.Start()
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrPermissionDenied):
		if s.gate.IsTrusted() {
			s.scheduleRetry()
		} else {
			s.startPolling(ctx)
		}
	default:
		s.logger.Error("failed to start event tap", zap.Error(err))
	}
}

func (s *Supervisor) heartbeat() {
	if s.store == nil {
		return
	}
	if err := s.store.Heartbeat(s.engine.State(), s.engine.Stats()); err != nil {
		s.logger.Warn("failed to update heartbeat", zap.Error(err))
	}
}

func (s *Supervisor) shutdown() {
	s.logger.Info("daemon stopping")
	if s.stopPoll != nil {
		s.stopPoll()
		s.stopPoll = nil
	}
	if s.retry != nil {
		s.retry.Stop()
		s.retry = nil
	}
	s.engine.Stop()

	stats := s.engine.Stats()
	s.logger.Info("event tap totals",
		zap.Uint64("key_downs", stats.KeyDowns),
		zap.Uint64("rewritten", stats.Rewritten),
		zap.Uint64("reenabled", stats.Reenabled),
		zap.Uint64("recovered", stats.Recovered))

	if s.store != nil {
		if err := s.store.Clear(); err != nil {
			s.logger.Warn("failed to clear daemon registration", zap.Error(err))
		}
	}
}

func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
