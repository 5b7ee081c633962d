// Package fixtures provides test helpers for engine and integration tests.
package fixtures

import (
	"bytes"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/eliteGoblin/sendguard/internal/domain"
)

var (
	_ domain.TapFactory = (*FakeTapFactory)(nil)
	_ domain.TapHandle  = (*FakeTapHandle)(nil)
)

// FakeTapFactory stands in for the OS event tap. Events are injected by the
// test and delivered on the goroutine running the handle's Run loop.
type FakeTapFactory struct {
	installs   atomic.Int32
	mu         sync.Mutex
	installErr error
	handles    []*FakeTapHandle
}

// NewFakeTapFactory creates a factory whose installs succeed.
func NewFakeTapFactory() *FakeTapFactory {
	return &FakeTapFactory{}
}

// SetInstallErr makes every later Install fail with err; nil clears it.
func (f *FakeTapFactory) SetInstallErr(err error) {
	f.mu.Lock()
	f.installErr = err
	f.mu.Unlock()
}

// Install records the attempt and returns a new handle bound to handler.
func (f *FakeTapFactory) Install(handler domain.TapHandler) (domain.TapHandle, error) {
	f.installs.Add(1)
	f.mu.Lock()
	err := f.installErr
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}

	h := &FakeTapHandle{
		handler: handler,
		events:  make(chan injection),
		stop:    make(chan struct{}),
		exited:  make(chan struct{}),
		running: make(chan struct{}),
	}

	f.mu.Lock()
	f.handles = append(f.handles, h)
	f.mu.Unlock()
	return h, nil
}

// Installs returns how many times Install was called.
func (f *FakeTapFactory) Installs() int {
	return int(f.installs.Load())
}

// Last returns the most recently installed handle, or nil.
func (f *FakeTapFactory) Last() *FakeTapHandle {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.handles) == 0 {
		return nil
	}
	return f.handles[len(f.handles)-1]
}

type injection struct {
	eventType domain.EventType
	ev        domain.KeyEvent
	reply     chan domain.KeyEvent
}

// FakeTapHandle is a channel-driven run loop.
type FakeTapHandle struct {
	handler domain.TapHandler
	events  chan injection

	stop     chan struct{}
	stopOnce sync.Once
	exited   chan struct{}
	running  chan struct{}
	loopGID  atomic.Uint64

	enabled   atomic.Bool
	enables   atomic.Int32
	disables  atomic.Int32
	released  atomic.Bool
	delivered atomic.Int32
}

// Run delivers injected events to the handler until Stop is called.
func (h *FakeTapHandle) Run() {
	h.loopGID.Store(goroutineID())
	h.enabled.Store(true)
	close(h.running)
	defer close(h.exited)

	for {
		select {
		case <-h.stop:
			return
		case in := <-h.events:
			ev := in.ev
			h.delivered.Add(1)
			h.handler(in.eventType, &ev)
			in.reply <- ev
		}
	}
}

// Stop ends the Run loop. Safe to call more than once.
func (h *FakeTapHandle) Stop() {
	h.stopOnce.Do(func() { close(h.stop) })
}

// Enable records the enable state requested by the engine.
func (h *FakeTapHandle) Enable(on bool) {
	if on {
		h.enables.Add(1)
	} else {
		h.disables.Add(1)
	}
	h.enabled.Store(on)
}

// Release marks the handle as released.
func (h *FakeTapHandle) Release() {
	h.released.Store(true)
}

// OnLoopThread reports whether the caller is the goroutine running Run.
func (h *FakeTapHandle) OnLoopThread() bool {
	gid := h.loopGID.Load()
	return gid != 0 && gid == goroutineID()
}

// Inject delivers one event through the loop and returns the event as the
// handler left it. ok is false when the loop is no longer running.
func (h *FakeTapHandle) Inject(eventType domain.EventType, ev domain.KeyEvent) (out domain.KeyEvent, ok bool) {
	<-h.running
	in := injection{eventType: eventType, ev: ev, reply: make(chan domain.KeyEvent, 1)}
	select {
	case h.events <- in:
	case <-h.exited:
		return ev, false
	}
	return <-in.reply, true
}

// KeyDown injects a key-down event.
func (h *FakeTapHandle) KeyDown(code domain.KeyCode, flags domain.ModifierFlags) (domain.KeyEvent, bool) {
	return h.Inject(domain.EventKeyDown, domain.KeyEvent{Code: code, Flags: flags})
}

// Running is closed once Run has started.
func (h *FakeTapHandle) Running() <-chan struct{} { return h.running }

// Exited is closed once Run has returned.
func (h *FakeTapHandle) Exited() <-chan struct{} { return h.exited }

// Enabled reports the last enable state.
func (h *FakeTapHandle) Enabled() bool { return h.enabled.Load() }

// Enables returns the number of Enable(true) calls.
func (h *FakeTapHandle) Enables() int { return int(h.enables.Load()) }

// Disables returns the number of Enable(false) calls.
func (h *FakeTapHandle) Disables() int { return int(h.disables.Load()) }

// Released reports whether Release was called.
func (h *FakeTapHandle) Released() bool { return h.released.Load() }

// Delivered returns how many events reached the handler.
func (h *FakeTapHandle) Delivered() int { return int(h.delivered.Load()) }

// goroutineID parses the current goroutine's id from its stack header.
func goroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	b := bytes.TrimPrefix(buf[:n], []byte("goroutine "))
	if i := bytes.IndexByte(b, ' '); i > 0 {
		b = b[:i]
	}
	id, _ := strconv.ParseUint(string(b), 10, 64)
	return id
}
