package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/eliteGoblin/sendguard/internal/domain"
)

const keyCodeDownArrow domain.KeyCode = 125

func TestDecide(t *testing.T) {
	tests := []struct {
		name      string
		code      domain.KeyCode
		flags     domain.ModifierFlags
		guard     bool
		frontmost bool
		want      Action
	}{
		{"guard off passes through", domain.KeyCodeReturn, 0, false, true, ActionPassThrough},
		{"non-enter key passes through", 40, 0, true, true, ActionPassThrough},
		{"arrow key passes through", keyCodeDownArrow, 0, true, true, ActionPassThrough},
		{"target not frontmost passes through", domain.KeyCodeReturn, 0, true, false, ActionPassThrough},
		{"command bypasses rewrite", domain.KeyCodeReturn, domain.FlagCommand, true, true, ActionPassThrough},
		{"command with shift bypasses rewrite", domain.KeyCodeReturn, domain.FlagCommand | domain.FlagShift, true, true, ActionPassThrough},
		{"bare enter is rewritten", domain.KeyCodeReturn, 0, true, true, ActionAddShift},
		{"enter with caps lock is rewritten", domain.KeyCodeReturn, domain.FlagAlphaShift, true, true, ActionAddShift},
		{"enter with option is rewritten", domain.KeyCodeReturn, domain.FlagAlternate, true, true, ActionAddShift},
		{"enter already shifted is rewritten", domain.KeyCodeReturn, domain.FlagShift, true, true, ActionAddShift},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Decide(tt.code, tt.flags, tt.guard, tt.frontmost))
		})
	}
}

func TestDecide_NonEnterKeysNeverRewritten(t *testing.T) {
	for code := domain.KeyCode(0); code < 128; code++ {
		if code == domain.KeyCodeReturn {
			continue
		}
		assert.Equal(t, ActionPassThrough, Decide(code, 0, true, true), "key code %d", code)
	}
}

func TestDecide_Deterministic(t *testing.T) {
	flagSets := []domain.ModifierFlags{0, domain.FlagShift, domain.FlagCommand, domain.FlagAlphaShift | domain.FlagControl}
	codes := []domain.KeyCode{0, 36, 40, 76}

	for _, code := range codes {
		for _, flags := range flagSets {
			for _, guard := range []bool{false, true} {
				for _, front := range []bool{false, true} {
					first := Decide(code, flags, guard, front)
					for i := 0; i < 10; i++ {
						assert.Equal(t, first, Decide(code, flags, guard, front))
					}
				}
			}
		}
	}
}

func TestDecideLazy_ShortCircuitsFrontmostCheck(t *testing.T) {
	calls := 0
	frontmost := func() bool {
		calls++
		return true
	}

	DecideLazy(domain.KeyCodeReturn, 0, false, frontmost)
	DecideLazy(40, 0, true, frontmost)
	assert.Zero(t, calls, "frontmost must not be queried when guard is off or key is not Return")

	assert.Equal(t, ActionAddShift, DecideLazy(domain.KeyCodeReturn, 0, true, frontmost))
	assert.Equal(t, 1, calls)
}

func TestApply(t *testing.T) {
	tests := []struct {
		name   string
		flags  domain.ModifierFlags
		action Action
		want   domain.ModifierFlags
	}{
		{"pass-through leaves flags", domain.FlagAlphaShift, ActionPassThrough, domain.FlagAlphaShift},
		{"add-shift on empty flags", 0, ActionAddShift, domain.FlagShift},
		{"add-shift preserves caps lock", domain.FlagAlphaShift, ActionAddShift, domain.FlagAlphaShift | domain.FlagShift},
		{"add-shift preserves unknown bits", 0x0100 | domain.FlagControl, ActionAddShift, 0x0100 | domain.FlagControl | domain.FlagShift},
		{"add-shift is idempotent", domain.FlagShift, ActionAddShift, domain.FlagShift},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Apply(tt.flags, tt.action))
		})
	}
}

func TestAction_String(t *testing.T) {
	assert.Equal(t, "pass-through", ActionPassThrough.String())
	assert.Equal(t, "add-shift", ActionAddShift.String())
	assert.Equal(t, "unknown", Action(42).String())
}

func TestTarget(t *testing.T) {
	t.Run("defaults to discord", func(t *testing.T) {
		target := NewTarget("  ")
		assert.Equal(t, DefaultTargetBundleID, target.BundleID)
		assert.Equal(t, "Discord", target.ProcessName())
	})

	t.Run("matches case-insensitively", func(t *testing.T) {
		target := NewTarget("com.hnc.Discord")
		assert.True(t, target.Matches("com.hnc.discord"))
		assert.False(t, target.Matches("com.apple.Safari"))
		assert.False(t, target.Matches(""))
	})

	t.Run("custom bundle derives process name", func(t *testing.T) {
		target := NewTarget("com.tinyspeck.slackmacgap")
		assert.Equal(t, "slackmacgap", target.ProcessName())
	})
}
