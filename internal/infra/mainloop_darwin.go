//go:build darwin

package infra

/*
#cgo darwin LDFLAGS: -framework CoreFoundation
#include <CoreFoundation/CoreFoundation.h>

static void sgNoopTimer(CFRunLoopTimerRef timer, void *info) {}

// A far-future repeating timer keeps the main loop from finishing when it
// has no other sources yet.
static CFRunLoopTimerRef sgAddKeepAlive(void) {
	CFRunLoopTimerRef timer = CFRunLoopTimerCreate(kCFAllocatorDefault,
		CFAbsoluteTimeGetCurrent() + 3600.0, 3600.0, 0, 0, sgNoopTimer, NULL);
	CFRunLoopAddTimer(CFRunLoopGetMain(), timer, kCFRunLoopCommonModes);
	return timer;
}

static void sgRemoveKeepAlive(CFRunLoopTimerRef timer) {
	CFRunLoopTimerInvalidate(timer);
	CFRelease(timer);
}

static void sgRunMainSlice(double seconds) {
	CFRunLoopRunInMode(kCFRunLoopDefaultMode, seconds, false);
}

static void sgStopMain(void) {
	CFRunLoopStop(CFRunLoopGetMain());
}
*/
import "C"

import "context"

// RunMainLoop services the main run loop until ctx is done. It must be called
// from the main goroutine with the OS thread locked (see cmd/sendguard).
func RunMainLoop(ctx context.Context) {
	timer := C.sgAddKeepAlive()
	defer C.sgRemoveKeepAlive(timer)

	go func() {
		<-ctx.Done()
		C.sgStopMain()
	}()

	for ctx.Err() == nil {
		C.sgRunMainSlice(C.double(1.0))
	}
}
