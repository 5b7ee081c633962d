//go:build darwin

package infra

/*
#cgo darwin LDFLAGS: -framework ApplicationServices -framework CoreFoundation
#include <ApplicationServices/ApplicationServices.h>
#include <CoreFoundation/CoreFoundation.h>

static Boolean sgAXTrusted(Boolean prompt) {
	const void *keys[] = { kAXTrustedCheckOptionPrompt };
	const void *values[] = { prompt ? kCFBooleanTrue : kCFBooleanFalse };
	CFDictionaryRef options = CFDictionaryCreate(kCFAllocatorDefault, keys, values, 1,
	                                             &kCFTypeDictionaryKeyCallBacks,
	                                             &kCFTypeDictionaryValueCallBacks);
	Boolean trusted = AXIsProcessTrustedWithOptions(options);
	CFRelease(options);
	return trusted;
}
*/
import "C"

import "github.com/eliteGoblin/sendguard/internal/domain"

// axTrustChecker asks the Accessibility subsystem whether this process may
// observe and modify input events.
type axTrustChecker struct{}

// NewTrustChecker returns the AX-backed trust checker.
func NewTrustChecker() domain.TrustChecker {
	return axTrustChecker{}
}

func (axTrustChecker) IsTrusted() bool {
	return C.sgAXTrusted(C.Boolean(0)) != C.Boolean(0)
}

func (axTrustChecker) Prompt() {
	C.sgAXTrusted(C.Boolean(1))
}
