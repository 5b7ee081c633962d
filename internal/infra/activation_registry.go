package infra

import "sync"

// Activation callbacks cross the cgo boundary as integer IDs. A notification
// that arrives after its watcher is gone finds no entry and is dropped.
var (
	activationMu       sync.Mutex
	activationWatchers = map[uintptr]func(string){}
	nextActivationID   uintptr
)

func registerActivationWatcher(fn func(string)) uintptr {
	activationMu.Lock()
	defer activationMu.Unlock()
	nextActivationID++
	activationWatchers[nextActivationID] = fn
	return nextActivationID
}

func unregisterActivationWatcher(id uintptr) {
	activationMu.Lock()
	defer activationMu.Unlock()
	delete(activationWatchers, id)
}

func deliverActivation(id uintptr, bundleID string) {
	activationMu.Lock()
	fn := activationWatchers[id]
	activationMu.Unlock()
	if fn != nil {
		fn(bundleID)
	}
}
