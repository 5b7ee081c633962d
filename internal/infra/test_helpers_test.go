package infra

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/eliteGoblin/sendguard/internal/domain"
)

// mockCommandRunner records commands instead of executing them.
type mockCommandRunner struct {
	mu       sync.Mutex
	commands []string
	err      error
	output   []byte
}

func (m *mockCommandRunner) Run(name string, args ...string) error {
	m.record(name, args)
	return m.err
}

func (m *mockCommandRunner) Output(name string, args ...string) ([]byte, error) {
	m.record(name, args)
	return m.output, m.err
}

func (m *mockCommandRunner) record(name string, args []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.commands = append(m.commands, strings.Join(append([]string{name}, args...), " "))
}

func (m *mockCommandRunner) Commands() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.commands...)
}

// mockTrustChecker is a switchable trust state.
type mockTrustChecker struct {
	trusted atomic.Bool
	checks  atomic.Int32
	prompts atomic.Int32
}

func (m *mockTrustChecker) IsTrusted() bool {
	m.checks.Add(1)
	return m.trusted.Load()
}

func (m *mockTrustChecker) Prompt() {
	m.prompts.Add(1)
}

// mockActivationSource replays activations pushed through its channel.
type mockActivationSource struct {
	frontmost    string
	frontmostErr error
	activations  chan string
	watching     chan struct{}
}

func newMockActivationSource(frontmost string) *mockActivationSource {
	return &mockActivationSource{
		frontmost:   frontmost,
		activations: make(chan string),
		watching:    make(chan struct{}),
	}
}

func (m *mockActivationSource) Frontmost() (string, error) {
	return m.frontmost, m.frontmostErr
}

func (m *mockActivationSource) Watch(ctx context.Context, onActivate func(string)) error {
	close(m.watching)
	for {
		select {
		case <-ctx.Done():
			return nil
		case id := <-m.activations:
			onActivate(id)
		}
	}
}

var (
	_ domain.TrustChecker     = (*mockTrustChecker)(nil)
	_ domain.ActivationSource = (*mockActivationSource)(nil)
	_ CommandRunner           = (*mockCommandRunner)(nil)
)
