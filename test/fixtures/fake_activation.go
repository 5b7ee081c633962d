package fixtures

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/eliteGoblin/sendguard/internal/domain"
)

var (
	_ domain.ActivationSource = (*FakeActivationSource)(nil)
	_ domain.TrustChecker     = (*FakeTrustChecker)(nil)
)

// FakeActivationSource replays application activations pushed by the test.
type FakeActivationSource struct {
	frontmost   string
	activations chan string
	watching    chan struct{}
	once        sync.Once
}

// NewFakeActivationSource creates a source whose initial frontmost app is
// frontmost.
func NewFakeActivationSource(frontmost string) *FakeActivationSource {
	return &FakeActivationSource{
		frontmost:   frontmost,
		activations: make(chan string),
		watching:    make(chan struct{}),
	}
}

// Frontmost returns the initial frontmost bundle ID.
func (s *FakeActivationSource) Frontmost() (string, error) {
	return s.frontmost, nil
}

// Watch delivers activations until ctx is done.
func (s *FakeActivationSource) Watch(ctx context.Context, onActivate func(bundleID string)) error {
	s.once.Do(func() { close(s.watching) })
	for {
		select {
		case <-ctx.Done():
			return nil
		case bundleID := <-s.activations:
			onActivate(bundleID)
		}
	}
}

// Watching is closed once Watch has been called.
func (s *FakeActivationSource) Watching() <-chan struct{} { return s.watching }

// Activate brings bundleID to the front. It blocks until Watch receives it.
func (s *FakeActivationSource) Activate(bundleID string) {
	s.activations <- bundleID
}

// FakeTrustChecker is a switchable accessibility trust state.
type FakeTrustChecker struct {
	trusted atomic.Bool
	prompts atomic.Int32
}

// NewFakeTrustChecker creates a checker with the given trust state.
func NewFakeTrustChecker(trusted bool) *FakeTrustChecker {
	c := &FakeTrustChecker{}
	c.trusted.Store(trusted)
	return c
}

// IsTrusted implements domain.TrustChecker.
func (c *FakeTrustChecker) IsTrusted() bool { return c.trusted.Load() }

// Prompt implements domain.TrustChecker.
func (c *FakeTrustChecker) Prompt() { c.prompts.Add(1) }

// SetTrusted grants or revokes trust.
func (c *FakeTrustChecker) SetTrusted(trusted bool) { c.trusted.Store(trusted) }

// Prompts returns how many times the consent dialog was requested.
func (c *FakeTrustChecker) Prompts() int { return int(c.prompts.Load()) }
