//go:build !darwin

package infra

import (
	"os"

	"github.com/eliteGoblin/sendguard/internal/domain"
)

// envTrustChecker reports trust from AccessibilityEnvVar. There is no
// consent prompt off macOS; unset or unrecognised means denied.
type envTrustChecker struct {
	lookup func(string) (string, bool)
}

// NewTrustChecker returns the environment-backed trust checker.
func NewTrustChecker() domain.TrustChecker {
	return envTrustChecker{lookup: os.LookupEnv}
}

func (c envTrustChecker) IsTrusted() bool {
	value, ok := c.lookup(AccessibilityEnvVar)
	if !ok {
		return false
	}
	trusted, _ := parseTrustOverride(value)
	return trusted
}

func (envTrustChecker) Prompt() {}
