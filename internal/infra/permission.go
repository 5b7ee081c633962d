package infra

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/sendguard/internal/domain"
)

const (
	// AccessibilitySettingsURL opens Privacy & Security > Accessibility.
	AccessibilitySettingsURL = "x-apple.systempreferences:com.apple.preference.security?Privacy_Accessibility"

	// DefaultPermissionPollInterval is how often trust is re-checked while missing.
	DefaultPermissionPollInterval = 2 * time.Second

	// AccessibilityEnvVar overrides the trust state on hosts without AX.
	AccessibilityEnvVar = "SENDGUARD_ACCESSIBILITY"
)

// PermissionGate wraps the OS trust check. Missing trust is a normal state,
// reported as false rather than an error.
type PermissionGate struct {
	checker   domain.TrustChecker
	cmdRunner CommandRunner
	logger    *zap.Logger
}

// NewPermissionGate creates a gate over checker.
func NewPermissionGate(checker domain.TrustChecker, logger *zap.Logger) *PermissionGate {
	return &PermissionGate{
		checker:   checker,
		cmdRunner: &RealCommandRunner{},
		logger:    logger,
	}
}

// IsTrusted returns the current trust state without prompting.
func (g *PermissionGate) IsTrusted() bool {
	return g.checker.IsTrusted()
}

// RequestPermission shows the OS consent prompt if trust is missing.
func (g *PermissionGate) RequestPermission() {
	if g.checker.IsTrusted() {
		return
	}
	g.logger.Info("requesting accessibility permission")
	g.checker.Prompt()
}

// OpenSettings opens the Accessibility pane of System Settings.
func (g *PermissionGate) OpenSettings() error {
	if err := g.cmdRunner.Run("open", AccessibilitySettingsURL); err != nil {
		return fmt.Errorf("open accessibility settings: %w", err)
	}
	return nil
}

// PollUntilTrusted checks trust now and then every interval. The first time
// it finds the process trusted it calls onGranted once and stops. The
// returned stop function (or ctx) cancels polling; it is safe to call
// repeatedly.
func (g *PermissionGate) PollUntilTrusted(ctx context.Context, interval time.Duration, onGranted func()) (stop func()) {
	if interval <= 0 {
		interval = DefaultPermissionPollInterval
	}
	ctx, cancel := context.WithCancel(ctx)

	go func() {
		defer cancel()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			if g.checker.IsTrusted() {
				if ctx.Err() != nil {
					return
				}
				g.logger.Info("accessibility permission granted")
				if onGranted != nil {
					onGranted()
				}
				return
			}

			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()

	return cancel
}

// GuidanceNotifier implements domain.PermissionNotifier. It logs what the
// user has to do and, when configured, opens the settings pane once per
// process.
type GuidanceNotifier struct {
	gate         *PermissionGate
	openSettings func() bool
	logger       *zap.Logger

	opened atomic.Bool
	wg     sync.WaitGroup
}

// NewGuidanceNotifier creates a notifier. openSettings is consulted on each
// notification; nil never opens the pane.
func NewGuidanceNotifier(gate *PermissionGate, openSettings func() bool, logger *zap.Logger) *GuidanceNotifier {
	return &GuidanceNotifier{gate: gate, openSettings: openSettings, logger: logger}
}

// PermissionMissing reports the missing permission without blocking the caller.
func (n *GuidanceNotifier) PermissionMissing() {
	n.logger.Warn("accessibility permission required",
		zap.String("guidance", "System Settings > Privacy & Security > Accessibility: enable sendguard"),
		zap.String("settings_url", AccessibilitySettingsURL))

	if n.openSettings == nil || !n.openSettings() {
		return
	}
	if !n.opened.CompareAndSwap(false, true) {
		return
	}

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		if err := n.gate.OpenSettings(); err != nil {
			n.logger.Warn("failed to open accessibility settings", zap.Error(err))
		}
	}()
}

// Wait blocks until any settings-pane launch has finished.
func (n *GuidanceNotifier) Wait() {
	n.wg.Wait()
}

// parseTrustOverride interprets AccessibilityEnvVar. ok is false for values
// that do not express a decision.
func parseTrustOverride(value string) (trusted, ok bool) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "granted", "allow", "allowed", "yes", "true", "1":
		return true, true
	case "denied", "deny", "no", "false", "0", "blocked":
		return false, true
	default:
		return false, false
	}
}

var _ domain.PermissionNotifier = (*GuidanceNotifier)(nil)
