// Package policy decides what to do with a single key-down event.
// Everything here is pure: no I/O, no locks, no shared state.
package policy

import "github.com/eliteGoblin/sendguard/internal/domain"

// Action is the verdict for one key event.
type Action int

const (
	// ActionPassThrough returns the event to the OS untouched.
	ActionPassThrough Action = iota
	// ActionAddShift sets the Shift bit so Enter inserts a newline.
	ActionAddShift
)

func (a Action) String() string {
	switch a {
	case ActionPassThrough:
		return "pass-through"
	case ActionAddShift:
		return "add-shift"
	default:
		return "unknown"
	}
}

// Decide applies the rewrite rules in order; the first match wins.
//
//  1. guard disabled              -> pass through
//  2. key is not Return           -> pass through
//  3. target app not frontmost    -> pass through
//  4. Command held                -> pass through (Cmd+Enter still sends)
//  5. otherwise                   -> add Shift
func Decide(code domain.KeyCode, flags domain.ModifierFlags, guardEnabled, frontmost bool) Action {
	return DecideLazy(code, flags, guardEnabled, func() bool { return frontmost })
}

// DecideLazy is Decide with the frontmost check deferred until the cheap
// checks have passed. The hot path uses this form.
func DecideLazy(code domain.KeyCode, flags domain.ModifierFlags, guardEnabled bool, frontmost func() bool) Action {
	if !guardEnabled {
		return ActionPassThrough
	}
	if code != domain.KeyCodeReturn {
		return ActionPassThrough
	}
	if !frontmost() {
		return ActionPassThrough
	}
	if flags.Has(domain.FlagCommand) {
		return ActionPassThrough
	}
	return ActionAddShift
}

// Apply returns flags with the verdict applied. Existing bits are never cleared.
func Apply(flags domain.ModifierFlags, action Action) domain.ModifierFlags {
	if action == ActionAddShift {
		return flags.With(domain.FlagShift)
	}
	return flags
}
