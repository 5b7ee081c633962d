//go:build !darwin

package infra

import (
	"fmt"

	"github.com/eliteGoblin/sendguard/internal/domain"
)

type unsupportedTapFactory struct{}

// NewTapFactory returns a factory whose Install always fails off macOS.
func NewTapFactory() domain.TapFactory {
	return unsupportedTapFactory{}
}

func (unsupportedTapFactory) Install(domain.TapHandler) (domain.TapHandle, error) {
	return nil, fmt.Errorf("install event tap: %w", domain.ErrUnsupportedPlatform)
}
