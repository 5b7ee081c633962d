// Package usecase contains application business logic.
package usecase

import (
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/sendguard/internal/domain"
	"github.com/eliteGoblin/sendguard/internal/policy"
)

// Outcome tells the tap adapter what the interceptor did with an event.
type Outcome int

const (
	// OutcomePassThrough means the event goes back to the OS unchanged.
	OutcomePassThrough Outcome = iota
	// OutcomeRewritten means the event's flags were changed.
	OutcomeRewritten
	// OutcomeReenableTap means the OS disabled the tap and it must be turned back on.
	OutcomeReenableTap
)

func (o Outcome) String() string {
	switch o {
	case OutcomePassThrough:
		return "pass-through"
	case OutcomeRewritten:
		return "rewritten"
	case OutcomeReenableTap:
		return "reenable-tap"
	default:
		return "unknown"
	}
}

// Interceptor is the per-keystroke callback. It runs on the tap thread and
// must never block: every input it reads is an atomic.
type Interceptor struct {
	settings  domain.GuardSettings
	frontmost domain.FrontmostChecker
	clock     func() time.Time
	logger    *zap.Logger

	keyDowns    atomic.Uint64
	rewritten   atomic.Uint64
	passedOver  atomic.Uint64
	reenabled   atomic.Uint64
	recovered   atomic.Uint64
	lastRewrite atomic.Int64
}

// NewInterceptor creates the callback handler.
func NewInterceptor(
	settings domain.GuardSettings,
	frontmost domain.FrontmostChecker,
	logger *zap.Logger,
) *Interceptor {
	return &Interceptor{
		settings:  settings,
		frontmost: frontmost,
		clock:     time.Now,
		logger:    logger,
	}
}

// Intercept handles one event delivered to the tap. ev may be mutated.
func (i *Interceptor) Intercept(eventType domain.EventType, ev *domain.KeyEvent) Outcome {
	// The OS silently switches the tap off after a slow callback or on user
	// input; if we don't turn it back on the guard is gone for good.
	if eventType.IsTapDisabled() {
		i.reenabled.Add(1)
		i.logger.Debug("event tap disabled by OS, re-enabling",
			zap.Stringer("reason", eventType))
		return OutcomeReenableTap
	}

	if eventType != domain.EventKeyDown || ev == nil {
		return OutcomePassThrough
	}
	i.keyDowns.Add(1)

	action := policy.DecideLazy(ev.Code, ev.Flags, i.settings.GuardEnabled(), i.frontmost.IsTargetAppFrontmost)
	if action == policy.ActionPassThrough {
		if ev.Code == domain.KeyCodeReturn {
			i.passedOver.Add(1)
		}
		return OutcomePassThrough
	}

	before := ev.Flags
	ev.Flags = policy.Apply(ev.Flags, action)
	i.rewritten.Add(1)
	i.lastRewrite.Store(i.clock().UnixNano())

	i.logger.Debug("enter rewritten to shift+enter",
		zap.Stringer("flags_before", before),
		zap.Stringer("flags_after", ev.Flags))

	return OutcomeRewritten
}

// RecordRecovered counts a panic absorbed at the OS callback boundary.
func (i *Interceptor) RecordRecovered() {
	i.recovered.Add(1)
}

// Stats returns a snapshot of the counters.
func (i *Interceptor) Stats() domain.InterceptStats {
	stats := domain.InterceptStats{
		KeyDowns:   i.keyDowns.Load(),
		Rewritten:  i.rewritten.Load(),
		PassedOver: i.passedOver.Load(),
		Reenabled:  i.reenabled.Load(),
		Recovered:  i.recovered.Load(),
	}
	if ns := i.lastRewrite.Load(); ns != 0 {
		stats.LastRewrite = time.Unix(0, ns)
	}
	return stats
}
