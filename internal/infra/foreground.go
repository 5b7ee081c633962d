package infra

import (
	"context"
	"errors"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/eliteGoblin/sendguard/internal/domain"
	"github.com/eliteGoblin/sendguard/internal/policy"
)

// ForegroundTracker caches the bundle ID of the active application. The
// activation handler is the only writer; the tap thread reads it with a
// single atomic load.
type ForegroundTracker struct {
	source  domain.ActivationSource
	target  policy.Target
	logger  *zap.Logger
	current atomic.Pointer[string]
}

// NewForegroundTracker creates a tracker for target.
func NewForegroundTracker(source domain.ActivationSource, target policy.Target, logger *zap.Logger) *ForegroundTracker {
	t := &ForegroundTracker{source: source, target: target, logger: logger}
	empty := ""
	t.current.Store(&empty)
	return t
}

// Run seeds the cache from the current frontmost app, then follows
// activation notifications until ctx is done.
func (t *ForegroundTracker) Run(ctx context.Context) error {
	bundleID, err := t.source.Frontmost()
	switch {
	case errors.Is(err, domain.ErrUnsupportedPlatform):
		t.logger.Warn("foreground tracking unsupported on this platform")
		return err
	case err != nil:
		t.logger.Warn("failed to read frontmost application", zap.Error(err))
	default:
		t.Activated(bundleID)
	}

	t.logger.Info("foreground tracker started",
		zap.String("target", t.target.BundleID),
		zap.String("frontmost", t.Current()))

	return t.source.Watch(ctx, t.Activated)
}

// Activated records bundleID as the frontmost application.
func (t *ForegroundTracker) Activated(bundleID string) {
	prev := t.current.Swap(&bundleID)
	if prev != nil && *prev == bundleID {
		return
	}
	if t.target.Matches(bundleID) {
		t.logger.Debug("target application activated", zap.String("bundle_id", bundleID))
	} else if prev != nil && t.target.Matches(*prev) {
		t.logger.Debug("target application deactivated", zap.String("bundle_id", bundleID))
	}
}

// Current returns the cached bundle ID.
func (t *ForegroundTracker) Current() string {
	return *t.current.Load()
}

// IsTargetAppFrontmost is safe to call from the tap thread.
func (t *ForegroundTracker) IsTargetAppFrontmost() bool {
	return t.target.Matches(*t.current.Load())
}

// Target returns the tracked target.
func (t *ForegroundTracker) Target() policy.Target {
	return t.target
}

var _ domain.FrontmostChecker = (*ForegroundTracker)(nil)
