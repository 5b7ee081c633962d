// Package domain contains core business entities and interfaces.
// This is the innermost layer in Clean Architecture - no external dependencies.
package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrPermissionDenied means the OS refused to create the event tap,
	// almost always because Accessibility trust has not been granted.
	ErrPermissionDenied = errors.New("accessibility permission required to install event tap")

	// ErrUnsupportedPlatform is returned by OS adapters on hosts without an event tap facility.
	ErrUnsupportedPlatform = errors.New("event interception not supported on this platform")
)

// KeyCode is a hardware-independent virtual key code (macOS numbering).
type KeyCode uint16

// KeyCodeReturn is the Return/Enter key on the main keyboard block.
const KeyCodeReturn KeyCode = 36

// EventType mirrors CGEventType for the event categories the tap cares about.
type EventType uint32

const (
	EventKeyDown      EventType = 10
	EventKeyUp        EventType = 11
	EventFlagsChanged EventType = 12

	// Sent by the OS when it disables a tap: the callback was too slow, or the
	// user (or secure input) turned it off.
	EventTapDisabledByTimeout   EventType = 0xFFFFFFFE
	EventTapDisabledByUserInput EventType = 0xFFFFFFFF
)

// IsTapDisabled reports whether the event is an OS notification that the tap was disabled.
func (t EventType) IsTapDisabled() bool {
	return t == EventTapDisabledByTimeout || t == EventTapDisabledByUserInput
}

func (t EventType) String() string {
	switch t {
	case EventKeyDown:
		return "key-down"
	case EventKeyUp:
		return "key-up"
	case EventFlagsChanged:
		return "flags-changed"
	case EventTapDisabledByTimeout:
		return "tap-disabled-timeout"
	case EventTapDisabledByUserInput:
		return "tap-disabled-user-input"
	default:
		return fmt.Sprintf("event(%d)", uint32(t))
	}
}

// ModifierFlags mirrors the CGEventFlags bit set.
type ModifierFlags uint64

const (
	FlagAlphaShift  ModifierFlags = 0x00010000 // caps lock
	FlagShift       ModifierFlags = 0x00020000
	FlagControl     ModifierFlags = 0x00040000
	FlagAlternate   ModifierFlags = 0x00080000
	FlagCommand     ModifierFlags = 0x00100000
	FlagNumericPad  ModifierFlags = 0x00200000
	FlagHelp        ModifierFlags = 0x00400000
	FlagSecondaryFn ModifierFlags = 0x00800000
)

var flagNames = []struct {
	flag ModifierFlags
	name string
}{
	{FlagAlphaShift, "capsLock"},
	{FlagShift, "shift"},
	{FlagControl, "control"},
	{FlagAlternate, "option"},
	{FlagCommand, "command"},
	{FlagNumericPad, "numericPad"},
	{FlagHelp, "help"},
	{FlagSecondaryFn, "fn"},
}

// Has reports whether every bit of m is set.
func (f ModifierFlags) Has(m ModifierFlags) bool {
	return f&m == m
}

// With returns f with the bits of m added.
func (f ModifierFlags) With(m ModifierFlags) ModifierFlags {
	return f | m
}

func (f ModifierFlags) String() string {
	var names []string
	for _, fn := range flagNames {
		if f.Has(fn.flag) {
			names = append(names, fn.name)
		}
	}
	return "{" + strings.Join(names, ",") + "}"
}

// KeyEvent is one physical key occurrence handed to us by the OS.
// It is only valid for the duration of a single callback.
type KeyEvent struct {
	Code  KeyCode
	Flags ModifierFlags
}

// EngineState is the lifecycle state of the event tap engine.
type EngineState int32

const (
	EngineStopped EngineState = iota
	EngineStarting
	EngineRunning
	EngineStopping
)

func (s EngineState) String() string {
	switch s {
	case EngineStopped:
		return "stopped"
	case EngineStarting:
		return "starting"
	case EngineRunning:
		return "running"
	case EngineStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// InterceptStats counts what the tap callback has done since the daemon started.
type InterceptStats struct {
	KeyDowns    uint64
	Rewritten   uint64
	PassedOver  uint64
	Reenabled   uint64
	Recovered   uint64 // panics absorbed at the OS callback boundary
	LastRewrite time.Time
}

// DaemonStatus is the persisted state of the running daemon (for status command).
type DaemonStatus struct {
	PID           int
	AppVersion    string
	StartedAt     time.Time
	LastHeartbeat time.Time
	EngineState   string
	Stats         InterceptStats
}
