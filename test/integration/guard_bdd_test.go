//go:build integration

package integration

import (
	"context"
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/eliteGoblin/sendguard/internal/daemon"
	"github.com/eliteGoblin/sendguard/internal/domain"
	"github.com/eliteGoblin/sendguard/internal/infra"
	"github.com/eliteGoblin/sendguard/internal/policy"
	"github.com/eliteGoblin/sendguard/internal/usecase"
	"github.com/eliteGoblin/sendguard/test/fixtures"
)

const (
	discord = policy.DefaultTargetBundleID
	safari  = "com.apple.Safari"
)

var _ = Describe("Guard daemon", func() {
	var (
		tmpDir     string
		configPath string
		settings   *infra.SettingsStore
		trust      *fixtures.FakeTrustChecker
		source     *fixtures.FakeActivationSource
		tracker    *infra.ForegroundTracker
		factory    *fixtures.FakeTapFactory
		engine     *daemon.Engine
		store      *infra.SQLCipherStateStore
		cancel     context.CancelFunc
		done       chan error
	)

	writeSettings := func(mutate func(*infra.Settings)) {
		cfg := infra.DefaultSettings()
		cfg.FirstRun = false
		cfg.PermissionPollInterval = infra.Duration{Duration: 100 * time.Millisecond}
		mutate(&cfg)
		cli := infra.NewSettingsStore(configPath, zap.NewNop())
		Expect(cli.Update(func(s *infra.Settings) { *s = cfg })).To(Succeed())
	}

	startDaemon := func() {
		settings = infra.NewSettingsStore(configPath, zap.NewNop())
		Expect(settings.Load()).To(Succeed())

		logger := zap.NewNop()
		gate := infra.NewPermissionGate(trust, logger)
		notifier := infra.NewGuidanceNotifier(gate, nil, logger)
		tracker = infra.NewForegroundTracker(source, settings.Settings().Target(), logger)
		interceptor := usecase.NewInterceptor(settings, tracker, logger)
		engine = daemon.NewEngine(factory, interceptor, notifier, logger)

		config := daemon.DefaultSupervisorConfig()
		config.HeartbeatInterval = 50 * time.Millisecond
		config.AppVersion = "test"
		supervisor := daemon.NewSupervisor(config, engine, gate, settings, tracker,
			notifier, store, infra.NewProcessManager(), logger)

		var ctx context.Context
		ctx, cancel = context.WithCancel(context.Background())
		done = make(chan error, 1)
		go func() { done <- supervisor.Run(ctx) }()
		Eventually(source.Watching()).Should(BeClosed())
	}

	currentHandle := func() *fixtures.FakeTapHandle {
		var h *fixtures.FakeTapHandle
		Eventually(func() bool {
			h = factory.Last()
			return h != nil && engine.State() == domain.EngineRunning
		}).Should(BeTrue())
		Eventually(h.Running()).Should(BeClosed())
		return h
	}

	bringToFront := func(bundleID string) {
		source.Activate(bundleID)
		Eventually(tracker.Current).Should(Equal(bundleID))
	}

	BeforeEach(func() {
		var err error
		tmpDir, err = os.MkdirTemp("", "sendguard-integration-*")
		Expect(err).NotTo(HaveOccurred())
		configPath = filepath.Join(tmpDir, "config.toml")

		trust = fixtures.NewFakeTrustChecker(true)
		source = fixtures.NewFakeActivationSource(safari)
		factory = fixtures.NewFakeTapFactory()

		store, err = infra.OpenStateStore(tmpDir, infra.NewFileKeyProvider(tmpDir))
		Expect(err).NotTo(HaveOccurred())

		writeSettings(func(*infra.Settings) {})
	})

	AfterEach(func() {
		if cancel != nil {
			cancel()
			Eventually(done, 2*time.Second).Should(Receive(BeNil()))
			cancel = nil
		}
		store.Close()
		os.RemoveAll(tmpDir)
	})

	Describe("rewriting Enter", func() {
		BeforeEach(startDaemon)

		It("adds Shift to Enter only while Discord is frontmost", func() {
			h := currentHandle()

			ev, ok := h.KeyDown(domain.KeyCodeReturn, 0)
			Expect(ok).To(BeTrue())
			Expect(ev.Flags).To(Equal(domain.ModifierFlags(0)), "Safari is frontmost")

			bringToFront(discord)
			ev, ok = h.KeyDown(domain.KeyCodeReturn, domain.FlagAlphaShift)
			Expect(ok).To(BeTrue())
			Expect(ev.Flags).To(Equal(domain.FlagAlphaShift | domain.FlagShift))

			bringToFront(safari)
			ev, _ = h.KeyDown(domain.KeyCodeReturn, 0)
			Expect(ev.Flags).To(Equal(domain.ModifierFlags(0)))
		})

		It("lets Cmd+Enter and other keys through in Discord", func() {
			h := currentHandle()
			bringToFront(discord)

			ev, _ := h.KeyDown(domain.KeyCodeReturn, domain.FlagCommand)
			Expect(ev.Flags).To(Equal(domain.FlagCommand))

			ev, _ = h.KeyDown(40, 0)
			Expect(ev.Flags).To(Equal(domain.ModifierFlags(0)))
		})

		It("re-enables the tap when the OS disables it", func() {
			h := currentHandle()
			before := h.Enables()

			_, ok := h.Inject(domain.EventTapDisabledByTimeout, domain.KeyEvent{})
			Expect(ok).To(BeTrue())
			Expect(h.Enables()).To(Equal(before + 1))
			Expect(h.Enabled()).To(BeTrue())
		})
	})

	Describe("toggling the guard", func() {
		BeforeEach(startDaemon)

		It("follows config.toml edits made by another process", func() {
			first := currentHandle()

			writeSettings(func(s *infra.Settings) { s.GuardEnabled = false })
			Eventually(first.Exited(), 2*time.Second).Should(BeClosed())
			Eventually(engine.State).Should(Equal(domain.EngineStopped))
			Expect(first.Released()).To(BeTrue())

			writeSettings(func(s *infra.Settings) { s.GuardEnabled = true })
			Eventually(factory.Installs, 2*time.Second).Should(Equal(2))

			second := currentHandle()
			bringToFront(discord)
			ev, _ := second.KeyDown(domain.KeyCodeReturn, 0)
			Expect(ev.Flags).To(Equal(domain.FlagShift))
		})
	})

	Describe("accessibility permission", func() {
		BeforeEach(func() {
			trust.SetTrusted(false)
			startDaemon()
		})

		It("installs the tap once trust is granted", func() {
			Eventually(trust.Prompts).Should(BeNumerically(">=", 1))
			Consistently(factory.Installs, 300*time.Millisecond).Should(BeZero())

			trust.SetTrusted(true)
			Eventually(factory.Installs, 2*time.Second).Should(Equal(1))
			currentHandle()
		})
	})

	Describe("status reporting", func() {
		BeforeEach(startDaemon)

		It("persists heartbeats with tap counters and clears on shutdown", func() {
			h := currentHandle()
			bringToFront(discord)
			h.KeyDown(domain.KeyCodeReturn, 0)

			Eventually(func() (uint64, error) {
				status, err := store.Status()
				if err != nil || status == nil {
					return 0, err
				}
				return status.Stats.Rewritten, nil
			}, 2*time.Second).Should(Equal(uint64(1)))

			status, err := store.Status()
			Expect(err).NotTo(HaveOccurred())
			Expect(status.PID).To(Equal(os.Getpid()))
			Expect(status.AppVersion).To(Equal("test"))
			Expect(status.EngineState).To(Equal("running"))

			cancel()
			Eventually(done, 2*time.Second).Should(Receive(BeNil()))
			cancel = nil

			status, err = store.Status()
			Expect(err).NotTo(HaveOccurred())
			Expect(status).To(BeNil())
		})
	})
})
