//go:build !darwin

package infra

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEnvTrustChecker(t *testing.T) {
	env := map[string]string{}
	checker := envTrustChecker{lookup: func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}}

	assert.False(t, checker.IsTrusted(), "unset means denied")

	env[AccessibilityEnvVar] = "granted"
	assert.True(t, checker.IsTrusted())

	env[AccessibilityEnvVar] = "denied"
	assert.False(t, checker.IsTrusted())

	env[AccessibilityEnvVar] = "whatever"
	assert.False(t, checker.IsTrusted())

	checker.Prompt()
}

func TestNewTrustChecker_UsesEnvironment(t *testing.T) {
	t.Setenv(AccessibilityEnvVar, "granted")
	assert.True(t, NewTrustChecker().IsTrusted())
}
