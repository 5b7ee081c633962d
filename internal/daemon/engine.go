// Package daemon implements the event tap engine and the background
// supervisor that drives it.
package daemon

import (
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/eliteGoblin/sendguard/internal/domain"
	"github.com/eliteGoblin/sendguard/internal/usecase"
)

// TapEngine is the lifecycle surface the supervisor needs from Engine.
type TapEngine interface {
	Start() error
	Stop()
	State() domain.EngineState
	Stats() domain.InterceptStats
}

var _ TapEngine = (*Engine)(nil)

// Engine owns the OS event tap and the dedicated thread its run loop lives on.
// At most one tap exists per engine.
type Engine struct {
	factory     domain.TapFactory
	interceptor *usecase.Interceptor
	notifier    domain.PermissionNotifier
	logger      *zap.Logger

	mu     sync.Mutex
	state  atomic.Int32
	handle domain.TapHandle
	done   chan struct{}
	denied bool // install refused since the last successful start
}

// NewEngine creates a stopped engine.
func NewEngine(
	factory domain.TapFactory,
	interceptor *usecase.Interceptor,
	notifier domain.PermissionNotifier,
	logger *zap.Logger,
) *Engine {
	e := &Engine{
		factory:     factory,
		interceptor: interceptor,
		notifier:    notifier,
		logger:      logger,
	}
	e.state.Store(int32(domain.EngineStopped))
	return e
}

// State returns the current lifecycle state.
func (e *Engine) State() domain.EngineState {
	return domain.EngineState(e.state.Load())
}

// Stats returns the interceptor counters.
func (e *Engine) Stats() domain.InterceptStats {
	return e.interceptor.Stats()
}

// Start installs the tap and begins delivering events. It returns once the
// tap is live or has failed to install. Calling Start on a running engine is
// a no-op.
func (e *Engine) Start() error {
	e.mu.Lock()
	for e.State() == domain.EngineStopping {
		handle, done := e.handle, e.done
		e.mu.Unlock()
		if handle != nil && handle.OnLoopThread() {
			// The loop cannot be restarted from inside its own callback.
			return nil
		}
		if done != nil {
			<-done
		}
		e.mu.Lock()
	}
	defer e.mu.Unlock()

	if s := e.State(); s == domain.EngineRunning || s == domain.EngineStarting {
		return nil
	}

	e.setState(domain.EngineStarting)
	installed := make(chan installResult, 1)
	done := make(chan struct{})
	e.done = done

	go e.loop(installed, done)

	res := <-installed
	if err := res.err; err != nil {
		e.setState(domain.EngineStopped)
		e.done = nil
		if !errors.Is(err, domain.ErrPermissionDenied) {
			e.logger.Warn("event tap install failed", zap.Error(err))
		} else if e.denied {
			e.logger.Debug("event tap install still refused", zap.Error(err))
		} else {
			e.denied = true
			e.logger.Warn("event tap install failed", zap.Error(err))
			if e.notifier != nil {
				e.notifier.PermissionMissing()
			}
		}
		return fmt.Errorf("start event tap: %w", err)
	}

	e.denied = false
	e.handle = res.handle
	e.setState(domain.EngineRunning)
	e.logger.Info("event tap started")
	return nil
}

// Stop disables the tap and ends its run loop. It is safe from any goroutine
// and on a stopped engine. From any goroutine other than the tap thread it
// returns only after the loop has exited, so no callback runs afterwards.
// From the tap thread it requests the stop and returns immediately.
func (e *Engine) Stop() {
	e.mu.Lock()
	switch e.State() {
	case domain.EngineStopped:
		e.mu.Unlock()
		return
	case domain.EngineStopping:
		handle, done := e.handle, e.done
		e.mu.Unlock()
		e.wait(handle, done)
		return
	}

	e.setState(domain.EngineStopping)
	handle, done := e.handle, e.done
	e.mu.Unlock()

	handle.Enable(false)
	handle.Stop()
	e.logger.Info("event tap stopping")
	e.wait(handle, done)
}

func (e *Engine) wait(handle domain.TapHandle, done chan struct{}) {
	if done == nil || (handle != nil && handle.OnLoopThread()) {
		return
	}
	<-done
}

type installResult struct {
	handle domain.TapHandle
	err    error
}

// loop runs on its own OS thread for the lifetime of one tap.
func (e *Engine) loop(installed chan<- installResult, done chan struct{}) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	var handle domain.TapHandle
	handler := func(eventType domain.EventType, ev *domain.KeyEvent) {
		defer func() {
			if r := recover(); r != nil {
				e.interceptor.RecordRecovered()
				e.logger.Error("recovered panic in tap callback",
					zap.Any("panic", r),
					zap.Stringer("event_type", eventType))
			}
		}()

		if e.interceptor.Intercept(eventType, ev) == usecase.OutcomeReenableTap &&
			handle != nil && e.State() != domain.EngineStopping {
			handle.Enable(true)
		}
	}

	h, err := e.factory.Install(handler)
	if err != nil {
		close(done)
		installed <- installResult{err: err}
		return
	}
	handle = h
	installed <- installResult{handle: h}

	h.Run()

	h.Release()
	e.mu.Lock()
	e.handle = nil
	e.done = nil
	e.setState(domain.EngineStopped)
	e.mu.Unlock()
	close(done)
	e.logger.Info("event tap stopped")
}

func (e *Engine) setState(s domain.EngineState) {
	e.state.Store(int32(s))
}
