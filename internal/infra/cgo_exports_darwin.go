//go:build darwin

package infra

/*
#include <stdint.h>
*/
import "C"

import "runtime/cgo"

//export sgGoTapEvent
func sgGoTapEvent(handle C.uintptr_t, eventType C.uint32_t, keycode C.uint16_t, flags *C.uint64_t) C.int {
	h, ok := cgo.Handle(handle).Value().(*cgTapHandle)
	if !ok {
		return 0
	}
	f := uint64(*flags)
	if !h.dispatch(uint32(eventType), uint16(keycode), &f) {
		return 0
	}
	*flags = C.uint64_t(f)
	return 1
}

//export sgGoAppActivated
func sgGoAppActivated(watcherID C.uintptr_t, bundleID *C.char) {
	deliverActivation(uintptr(watcherID), C.GoString(bundleID))
}
