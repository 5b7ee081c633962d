//go:build !darwin

package infra

import "context"

// RunMainLoop blocks until ctx is done.
func RunMainLoop(ctx context.Context) {
	<-ctx.Done()
}
