package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/eliteGoblin/sendguard/internal/daemon"
	"github.com/eliteGoblin/sendguard/internal/domain"
	"github.com/eliteGoblin/sendguard/internal/infra"
	"github.com/eliteGoblin/sendguard/internal/usecase"
)

const stopTimeout = 5 * time.Second

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the guard in the foreground",
	Long: `Runs the guard in the foreground until interrupted. This is what the
LaunchAgent and 'sendguard start' execute.`,
	RunE: runDaemon,
}

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the guard in the background",
	RunE:  runStart,
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the background guard",
	RunE:  runStop,
}

func runDaemon(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()
	logger := a.logger

	pm := infra.NewProcessManager()

	// The daemon keeps working without its state database; only status
	// reporting is lost.
	var store domain.StateStore
	if s, err := a.openStore(); err != nil {
		logger.Warn("state database unavailable", zap.Error(err))
	} else {
		defer s.Close()
		if pid, err := daemon.RunningDaemon(s, pm); err == nil && pid != 0 {
			return fmt.Errorf("%w (pid %d)", daemon.ErrDaemonRunning, pid)
		}
		store = s
	}

	cfg := a.settings.Settings()
	gate := infra.NewPermissionGate(infra.NewTrustChecker(), logger.Named("permission"))
	notifier := infra.NewGuidanceNotifier(gate, func() bool {
		return a.settings.Settings().OpenSettingsOnDenied
	}, logger.Named("permission"))

	tracker := infra.NewForegroundTracker(infra.NewActivationSource(), cfg.Target(), logger.Named("foreground"))
	a.settings.OnChange(func(old, updated infra.Settings) {
		if old.TargetBundleID != updated.TargetBundleID {
			logger.Warn("target_bundle_id changed; restart sendguard to apply",
				zap.String("current", tracker.Target().BundleID),
				zap.String("configured", updated.TargetBundleID))
		}
	})

	interceptor := usecase.NewInterceptor(a.settings, tracker, logger.Named("tap"))
	engine := daemon.NewEngine(infra.NewTapFactory(), interceptor, notifier, logger.Named("engine"))

	config := daemon.DefaultSupervisorConfig()
	config.AppVersion = Version
	supervisor := daemon.NewSupervisor(config, engine, gate, a.settings, tracker, notifier, store, pm, logger)

	// Set up graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigChan:
			logger.Info("received shutdown signal", zap.Stringer("signal", sig))
			cancel()
		case <-ctx.Done():
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		errCh <- supervisor.Run(ctx)
		cancel()
	}()

	// Blocks the main thread servicing Cocoa until shutdown.
	infra.RunMainLoop(ctx)

	err = <-errCh
	notifier.Wait()
	if err != nil {
		logger.Error("daemon exited with error", zap.Error(err))
	}
	return err
}

func runStart(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	pm := infra.NewProcessManager()
	store, err := a.openStore()
	if err != nil {
		return fmt.Errorf("failed to open state database: %w", err)
	}
	defer store.Close()

	if pid, err := daemon.RunningDaemon(store, pm); err == nil && pid != 0 {
		fmt.Printf("sendguard is already running (pid %d)\n", pid)
		return nil
	}

	execPath, err := infra.ResolveExecutable()
	if err != nil {
		return fmt.Errorf("failed to get executable path: %w", err)
	}
	if err := daemon.StartDaemon(execPath); err != nil {
		return fmt.Errorf("failed to start daemon: %w", err)
	}

	// Wait a moment for the daemon to register
	pid := 0
	deadline := time.Now().Add(2 * time.Second)
	for pid == 0 && time.Now().Before(deadline) {
		time.Sleep(100 * time.Millisecond)
		pid, _ = daemon.RunningDaemon(store, pm)
	}

	cfg := a.settings.Settings()
	fmt.Println("\n=== sendguard Started ===")
	if pid != 0 {
		fmt.Printf("PID: %d\n", pid)
	} else {
		fmt.Printf("Daemon launched; check %s if it does not appear in 'sendguard status'.\n", a.paths.LogFile())
	}
	fmt.Printf("Guard: %s\n", onOff(cfg.GuardEnabled))
	fmt.Printf("Target: %s\n", cfg.Target().BundleID)
	if !infra.NewPermissionGate(infra.NewTrustChecker(), a.logger).IsTrusted() {
		fmt.Println("\nAccessibility permission is missing; the guard starts once it is granted.")
	}
	fmt.Println("=========================")
	return nil
}

func runStop(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	store, err := a.openStore()
	if err != nil {
		return fmt.Errorf("failed to open state database: %w", err)
	}
	defer store.Close()

	pid, err := daemon.StopDaemon(store, infra.NewProcessManager(), stopTimeout)
	if err != nil {
		return fmt.Errorf("failed to stop daemon: %w", err)
	}
	if pid == 0 {
		fmt.Println("sendguard is not running")
		return nil
	}

	a.logger.Info("daemon stopped from CLI", zap.Int("pid", pid))
	fmt.Printf("Stopped sendguard (pid %d)\n", pid)
	return nil
}

// exitCode maps daemon errors to process exit codes for launchd.
func exitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, daemon.ErrDaemonRunning):
		return 0
	default:
		return 1
	}
}
