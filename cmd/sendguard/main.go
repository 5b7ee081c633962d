// Package main is the CLI entry point for sendguard.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/eliteGoblin/sendguard/internal/daemon"
	"github.com/eliteGoblin/sendguard/internal/domain"
	"github.com/eliteGoblin/sendguard/internal/infra"
)

var (
	// Version info (set via ldflags)
	Version   = "0.1.0"
	Commit    = "dev"
	BuildTime = "unknown"
)

// The event tap and NSWorkspace notifications need the process main thread;
// pin the main goroutine to it before anything else runs.
func init() {
	runtime.LockOSThread()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(exitCode(err))
	}
}

var rootCmd = &cobra.Command{
	Use:   "sendguard",
	Short: "Stops Enter from sending messages in Discord",
	Long: `sendguard runs in the background and turns a bare Enter into
Shift+Enter while Discord is the frontmost application, so Enter inserts
a newline instead of sending. Cmd+Enter still sends.

It needs the Accessibility permission (System Settings > Privacy &
Security > Accessibility).`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show guard, permission and daemon status",
	RunE:  runStatus,
}

var enableCmd = &cobra.Command{
	Use:   "enable",
	Short: "Turn the guard on",
	Long:  `Turns the guard on. A running daemon picks up the change immediately.`,
	RunE:  func(cmd *cobra.Command, args []string) error { return setGuard(true) },
}

var disableCmd = &cobra.Command{
	Use:   "disable",
	Short: "Turn the guard off (Enter sends again)",
	RunE:  func(cmd *cobra.Command, args []string) error { return setGuard(false) },
}

var toggleCmd = &cobra.Command{
	Use:   "toggle",
	Short: "Flip the guard on or off",
	RunE:  runToggle,
}

var permissionCmd = &cobra.Command{
	Use:   "permission",
	Short: "Check or request the Accessibility permission",
	Long: `Reports whether sendguard is trusted for Accessibility.
--request shows the system consent dialog; --open opens the settings pane.`,
	RunE: runPermission,
}

var autostartCmd = &cobra.Command{
	Use:   "autostart",
	Short: "Manage starting sendguard at login",
}

var autostartEnableCmd = &cobra.Command{
	Use:   "enable",
	Short: "Install the LaunchAgent so sendguard starts at login",
	RunE:  runAutostartEnable,
}

var autostartDisableCmd = &cobra.Command{
	Use:   "disable",
	Short: "Remove the LaunchAgent",
	RunE:  runAutostartDisable,
}

var autostartStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whether the LaunchAgent is installed",
	RunE:  runAutostartStatus,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  `Prints version, commit, and build time. Use --json for machine-readable output.`,
	Run:   runVersion,
}

var (
	debugFlag         bool
	jsonOutput        bool
	permissionRequest bool
	permissionOpen    bool
)

func init() {
	rootCmd.PersistentFlags().BoolVar(&debugFlag, "debug", false, "Verbose logging to the log file and stderr")
	versionCmd.Flags().BoolVar(&jsonOutput, "json", false, "Output version info as JSON")
	permissionCmd.Flags().BoolVar(&permissionRequest, "request", false, "Show the system permission prompt")
	permissionCmd.Flags().BoolVar(&permissionOpen, "open", false, "Open the Accessibility settings pane")

	autostartCmd.AddCommand(autostartEnableCmd)
	autostartCmd.AddCommand(autostartDisableCmd)
	autostartCmd.AddCommand(autostartStatusCmd)

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(enableCmd)
	rootCmd.AddCommand(disableCmd)
	rootCmd.AddCommand(toggleCmd)
	rootCmd.AddCommand(permissionCmd)
	rootCmd.AddCommand(autostartCmd)
	rootCmd.AddCommand(versionCmd)
}

// app bundles what every command needs.
type app struct {
	paths    infra.Paths
	settings *infra.SettingsStore
	logger   *zap.Logger
}

// newApp loads .env and config.toml, then builds the logger. The settings
// file is read twice because the logger level depends on it.
func newApp() (*app, error) {
	paths := infra.DefaultPaths()
	if err := infra.LoadEnvFile(paths.EnvFile()); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	}

	bootstrap := infra.NewSettingsStore(paths.ConfigFile(), zap.NewNop())
	if err := bootstrap.Load(); err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}

	logger := infra.NewLogger(infra.LoggerOptions{
		Path:  paths.LogFile(),
		Debug: debugFlag || bootstrap.Settings().Debug,
	})

	settings := infra.NewSettingsStore(paths.ConfigFile(), logger.Named("settings"))
	if err := settings.Load(); err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}

	return &app{paths: paths, settings: settings, logger: logger}, nil
}

func (a *app) close() {
	_ = a.logger.Sync()
}

// openStore opens the encrypted state database. Callers own Close.
func (a *app) openStore() (*infra.SQLCipherStateStore, error) {
	dataDir := a.paths.DataDir()
	return infra.OpenStateStore(dataDir, infra.NewFileKeyProvider(dataDir))
}

func setGuard(enabled bool) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.settings.SetGuardEnabled(enabled); err != nil {
		return fmt.Errorf("failed to save settings: %w", err)
	}
	a.logger.Info("guard toggled from CLI", zap.Bool("guard_enabled", enabled))
	fmt.Printf("Guard: %s\n", onOff(enabled))
	return nil
}

func runToggle(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	enabled := !a.settings.GuardEnabled()
	a.close()
	return setGuard(enabled)
}

func runStatus(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	cfg := a.settings.Settings()
	target := cfg.Target()
	pm := infra.NewProcessManager()
	gate := infra.NewPermissionGate(infra.NewTrustChecker(), a.logger)
	launchAgent := infra.NewLaunchAgentManager(a.paths)

	fmt.Println("\n=== sendguard Status ===")
	fmt.Printf("Guard: %s\n", onOff(cfg.GuardEnabled))
	if gate.IsTrusted() {
		fmt.Println("Accessibility: granted")
	} else {
		fmt.Println("Accessibility: NOT GRANTED (run 'sendguard permission --open')")
	}

	targetState := "not running"
	if pids, err := pm.FindByName(target.ProcessName()); err == nil && len(pids) > 0 {
		targetState = "running"
	}
	fmt.Printf("Target: %s (%s %s)\n", target.BundleID, target.ProcessName(), targetState)

	if launchAgent.IsInstalled() {
		fmt.Println("Auto-start: enabled")
	} else {
		fmt.Println("Auto-start: disabled")
	}

	store, err := a.openStore()
	if err != nil {
		fmt.Printf("Daemon: unknown (%v)\n", err)
		fmt.Println("========================")
		return nil
	}
	defer store.Close()

	pid, err := daemon.RunningDaemon(store, pm)
	if err != nil {
		return fmt.Errorf("failed to read daemon state: %w", err)
	}
	if pid == 0 {
		fmt.Println("Daemon: NOT RUNNING")
		fmt.Println("\nRun 'sendguard start' to start it.")
		fmt.Println("========================")
		return nil
	}

	status, err := store.Status()
	if err != nil || status == nil {
		fmt.Printf("Daemon: RUNNING (pid %d)\n", pid)
		fmt.Println("========================")
		return nil
	}

	fmt.Printf("Daemon: RUNNING (pid %d, v%s, up %s)\n",
		status.PID, status.AppVersion, time.Since(status.StartedAt).Round(time.Second))
	fmt.Printf("Event tap: %s\n", status.EngineState)
	fmt.Printf("Last heartbeat: %s ago\n", time.Since(status.LastHeartbeat).Round(time.Second))
	printStats(status.Stats)
	fmt.Println("========================")
	return nil
}

func printStats(stats domain.InterceptStats) {
	fmt.Printf("Key-downs seen: %d\n", stats.KeyDowns)
	fmt.Printf("Enter rewritten: %d\n", stats.Rewritten)
	if !stats.LastRewrite.IsZero() {
		fmt.Printf("Last rewrite: %s ago\n", time.Since(stats.LastRewrite).Round(time.Second))
	}
	if stats.Reenabled > 0 {
		fmt.Printf("Tap re-enabled: %d times\n", stats.Reenabled)
	}
	if stats.Recovered > 0 {
		fmt.Printf("Callback errors recovered: %d\n", stats.Recovered)
	}
}

func runPermission(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	gate := infra.NewPermissionGate(infra.NewTrustChecker(), a.logger)

	if permissionRequest {
		gate.RequestPermission()
	}
	if permissionOpen {
		if err := gate.OpenSettings(); err != nil {
			return fmt.Errorf("failed to open settings: %w", err)
		}
	}

	if gate.IsTrusted() {
		fmt.Println("Accessibility: granted")
		return nil
	}

	fmt.Println("Accessibility: NOT GRANTED")
	fmt.Println("\nEnable sendguard in System Settings > Privacy & Security > Accessibility.")
	fmt.Printf("Settings pane: %s\n", infra.AccessibilitySettingsURL)
	return nil
}

func runAutostartEnable(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	execPath, err := infra.ResolveExecutable()
	if err != nil {
		return fmt.Errorf("failed to get executable path: %w", err)
	}

	launchAgent := infra.NewLaunchAgentManager(a.paths)
	if err := launchAgent.Install(execPath); err != nil {
		return fmt.Errorf("failed to install LaunchAgent: %w", err)
	}
	if err := a.settings.Update(func(cfg *infra.Settings) { cfg.Autostart = true }); err != nil {
		fmt.Printf("Warning: could not save settings: %v\n", err)
	}

	a.logger.Info("autostart enabled", zap.String("plist", launchAgent.GetPlistPath()))
	fmt.Printf("Installed LaunchAgent: %s\n", launchAgent.GetPlistPath())
	return nil
}

func runAutostartDisable(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	launchAgent := infra.NewLaunchAgentManager(a.paths)
	if err := launchAgent.Uninstall(); err != nil {
		return fmt.Errorf("failed to remove LaunchAgent: %w", err)
	}
	if err := a.settings.Update(func(cfg *infra.Settings) { cfg.Autostart = false }); err != nil {
		fmt.Printf("Warning: could not save settings: %v\n", err)
	}

	a.logger.Info("autostart disabled")
	fmt.Println("LaunchAgent removed")
	return nil
}

func runAutostartStatus(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	launchAgent := infra.NewLaunchAgentManager(a.paths)
	if !launchAgent.IsInstalled() {
		fmt.Println("Auto-start: disabled")
		return nil
	}

	fmt.Println("Auto-start: enabled")
	fmt.Printf("Plist: %s\n", launchAgent.GetPlistPath())
	if execPath, err := infra.ResolveExecutable(); err == nil && launchAgent.NeedsUpdate(execPath) {
		fmt.Println("Plist is out of date; run 'sendguard autostart enable' to refresh it.")
	}
	return nil
}

type versionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
}

func runVersion(cmd *cobra.Command, args []string) {
	if jsonOutput {
		out, _ := json.Marshal(versionInfo{Version: Version, Commit: Commit, BuildTime: BuildTime})
		fmt.Println(string(out))
	} else {
		fmt.Printf("sendguard %s (commit: %s, built: %s)\n",
			Version, Commit, BuildTime)
	}
}

func onOff(enabled bool) string {
	if enabled {
		return "enabled"
	}
	return "disabled"
}
