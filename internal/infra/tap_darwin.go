//go:build darwin

package infra

/*
#cgo darwin LDFLAGS: -framework ApplicationServices -framework CoreFoundation
#include <ApplicationServices/ApplicationServices.h>
#include <CoreFoundation/CoreFoundation.h>
#include <pthread.h>
#include <stdint.h>

extern int sgGoTapEvent(uintptr_t handle, uint32_t type, uint16_t keycode, uint64_t *flags);

typedef struct {
	CFMachPortRef tap;
	CFRunLoopSourceRef source;
	CFRunLoopRef loop;
	pthread_t thread;
} sgTap;

static CGEventRef sgTapCallback(CGEventTapProxy proxy, CGEventType type, CGEventRef event, void *refcon) {
	uint16_t keycode = 0;
	uint64_t flags = 0;
	if (type == kCGEventKeyDown) {
		keycode = (uint16_t)CGEventGetIntegerValueField(event, kCGKeyboardEventKeycode);
		flags = (uint64_t)CGEventGetFlags(event);
	}
	if (sgGoTapEvent((uintptr_t)refcon, (uint32_t)type, keycode, &flags) && event != NULL) {
		CGEventSetFlags(event, (CGEventFlags)flags);
	}
	return event;
}

static int sgTapInstall(uintptr_t handle, sgTap *t) {
	CGEventMask mask = CGEventMaskBit(kCGEventKeyDown);
	CFMachPortRef tap = CGEventTapCreate(kCGSessionEventTap, kCGHeadInsertEventTap,
	                                     kCGEventTapOptionDefault, mask,
	                                     sgTapCallback, (void *)handle);
	if (tap == NULL) {
		return 0;
	}
	CFRunLoopSourceRef source = CFMachPortCreateRunLoopSource(kCFAllocatorDefault, tap, 0);
	if (source == NULL) {
		CFMachPortInvalidate(tap);
		CFRelease(tap);
		return 0;
	}
	t->tap = tap;
	t->source = source;
	t->loop = CFRunLoopGetCurrent();
	t->thread = pthread_self();
	CFRunLoopAddSource(t->loop, source, kCFRunLoopCommonModes);
	CGEventTapEnable(tap, true);
	return 1;
}

static void sgTapRunOnce(double seconds) {
	CFRunLoopRunInMode(kCFRunLoopDefaultMode, seconds, false);
}

static void sgTapStop(sgTap *t) {
	if (t->loop != NULL) {
		CFRunLoopStop(t->loop);
	}
}

static void sgTapEnable(sgTap *t, int on) {
	if (t->tap != NULL) {
		CGEventTapEnable(t->tap, on ? true : false);
	}
}

static int sgTapOnLoopThread(sgTap *t) {
	return pthread_equal(pthread_self(), t->thread) ? 1 : 0;
}

static void sgTapRelease(sgTap *t) {
	if (t->source != NULL) {
		CFRunLoopRemoveSource(t->loop, t->source, kCFRunLoopCommonModes);
		CFRelease(t->source);
		t->source = NULL;
	}
	if (t->tap != NULL) {
		CFMachPortInvalidate(t->tap);
		CFRelease(t->tap);
		t->tap = NULL;
	}
	t->loop = NULL;
}
*/
import "C"

import (
	"fmt"
	"runtime/cgo"
	"sync/atomic"

	"github.com/eliteGoblin/sendguard/internal/domain"
)

// tapRunSlice bounds each CFRunLoopRunInMode call so a stop request that
// lands before the loop is running is still observed.
const tapRunSlice = 0.5

// cgEventTapFactory installs a session-level, head-insert, key-down-only
// CGEventTap that is allowed to modify events.
type cgEventTapFactory struct{}

// NewTapFactory returns the CoreGraphics tap factory.
func NewTapFactory() domain.TapFactory {
	return cgEventTapFactory{}
}

// Install must be called on the OS thread that will call Run.
func (cgEventTapFactory) Install(handler domain.TapHandler) (domain.TapHandle, error) {
	h := &cgTapHandle{handler: handler}
	h.self = cgo.NewHandle(h)

	if C.sgTapInstall(C.uintptr_t(h.self), &h.tap) == 0 {
		h.self.Delete()
		return nil, fmt.Errorf("%w: CGEventTapCreate returned NULL", domain.ErrPermissionDenied)
	}
	return h, nil
}

type cgTapHandle struct {
	handler  domain.TapHandler
	self     cgo.Handle
	tap      C.sgTap
	stopping atomic.Bool
	released bool
}

func (h *cgTapHandle) Run() {
	for !h.stopping.Load() {
		C.sgTapRunOnce(C.double(tapRunSlice))
	}
}

func (h *cgTapHandle) Stop() {
	h.stopping.Store(true)
	C.sgTapStop(&h.tap)
}

func (h *cgTapHandle) Enable(enabled bool) {
	on := C.int(0)
	if enabled {
		on = 1
	}
	C.sgTapEnable(&h.tap, on)
}

func (h *cgTapHandle) Release() {
	if h.released {
		return
	}
	h.released = true
	C.sgTapRelease(&h.tap)
	h.self.Delete()
}

func (h *cgTapHandle) OnLoopThread() bool {
	return C.sgTapOnLoopThread(&h.tap) != 0
}

// dispatch runs on the loop thread for every tapped event. It reports
// whether flags changed.
func (h *cgTapHandle) dispatch(eventType uint32, keycode uint16, flags *uint64) bool {
	ev := domain.KeyEvent{Code: domain.KeyCode(keycode), Flags: domain.ModifierFlags(*flags)}
	h.handler(domain.EventType(eventType), &ev)

	if uint64(ev.Flags) == *flags {
		return false
	}
	*flags = uint64(ev.Flags)
	return true
}
