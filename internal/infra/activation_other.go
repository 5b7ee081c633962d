//go:build !darwin

package infra

import (
	"context"

	"github.com/eliteGoblin/sendguard/internal/domain"
)

type unsupportedActivationSource struct{}

// NewActivationSource returns a source that reports no frontmost application.
func NewActivationSource() domain.ActivationSource {
	return unsupportedActivationSource{}
}

func (unsupportedActivationSource) Frontmost() (string, error) {
	return "", domain.ErrUnsupportedPlatform
}

func (unsupportedActivationSource) Watch(ctx context.Context, _ func(string)) error {
	return domain.ErrUnsupportedPlatform
}
