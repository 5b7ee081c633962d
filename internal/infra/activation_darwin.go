//go:build darwin

package infra

/*
#cgo darwin CFLAGS: -x objective-c -fobjc-arc
#cgo darwin LDFLAGS: -framework AppKit -framework Foundation
#include <AppKit/AppKit.h>
#include <stdint.h>
#include <stdlib.h>
#include <string.h>

extern void sgGoAppActivated(uintptr_t watcherID, char *bundleID);

static char *sgFrontmostBundleID(void) {
	@autoreleasepool {
		NSRunningApplication *app = [[NSWorkspace sharedWorkspace] frontmostApplication];
		NSString *bundleID = app.bundleIdentifier;
		if (bundleID == nil) {
			return NULL;
		}
		return strdup([bundleID UTF8String]);
	}
}

static void *sgObserveActivations(uintptr_t watcherID) {
	NSNotificationCenter *center = [[NSWorkspace sharedWorkspace] notificationCenter];
	id token = [center addObserverForName:NSWorkspaceDidActivateApplicationNotification
	                               object:nil
	                                queue:[NSOperationQueue mainQueue]
	                           usingBlock:^(NSNotification *note) {
		NSRunningApplication *app = note.userInfo[NSWorkspaceApplicationKey];
		NSString *bundleID = app.bundleIdentifier ?: @"";
		sgGoAppActivated(watcherID, (char *)[bundleID UTF8String]);
	}];
	return (__bridge_retained void *)token;
}

static void sgRemoveActivationObserver(void *token) {
	id observer = (__bridge_transfer id)token;
	[[[NSWorkspace sharedWorkspace] notificationCenter] removeObserver:observer];
}
*/
import "C"

import (
	"context"
	"unsafe"

	"github.com/eliteGoblin/sendguard/internal/domain"
)

// workspaceActivationSource reads NSWorkspace. Notifications are delivered
// on the main queue, so the main thread must be inside RunMainLoop.
type workspaceActivationSource struct{}

// NewActivationSource returns the NSWorkspace-backed activation source.
func NewActivationSource() domain.ActivationSource {
	return workspaceActivationSource{}
}

func (workspaceActivationSource) Frontmost() (string, error) {
	cs := C.sgFrontmostBundleID()
	if cs == nil {
		return "", nil
	}
	defer C.free(unsafe.Pointer(cs))
	return C.GoString(cs), nil
}

func (workspaceActivationSource) Watch(ctx context.Context, onActivate func(bundleID string)) error {
	id := registerActivationWatcher(onActivate)
	defer unregisterActivationWatcher(id)

	token := C.sgObserveActivations(C.uintptr_t(id))
	defer C.sgRemoveActivationObserver(token)

	<-ctx.Done()
	return nil
}
