package infra

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/eliteGoblin/sendguard/internal/domain"
	"github.com/eliteGoblin/sendguard/internal/policy"
)

// Environment overrides, applied on top of the settings file.
const (
	EnvDebug          = "SENDGUARD_DEBUG"
	EnvTargetBundleID = "SENDGUARD_TARGET_BUNDLE_ID"
)

const (
	defaultReloadDebounce = 100 * time.Millisecond
	minPollInterval       = 100 * time.Millisecond
)

// Duration is a time.Duration that reads and writes as "2s" in TOML.
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Settings is the contents of config.toml.
type Settings struct {
	GuardEnabled           bool     `toml:"guard_enabled"`
	Autostart              bool     `toml:"autostart"`
	Debug                  bool     `toml:"debug"`
	TargetBundleID         string   `toml:"target_bundle_id"`
	PermissionPollInterval Duration `toml:"permission_poll_interval"`
	OpenSettingsOnDenied   bool     `toml:"open_settings_on_denied"`
	FirstRun               bool     `toml:"first_run"`
}

// DefaultSettings returns the settings used when no file exists.
func DefaultSettings() Settings {
	return Settings{
		GuardEnabled:           true,
		TargetBundleID:         policy.DefaultTargetBundleID,
		PermissionPollInterval: Duration{DefaultPermissionPollInterval},
		OpenSettingsOnDenied:   true,
		FirstRun:               true,
	}
}

func (s *Settings) normalize() {
	s.TargetBundleID = policy.NewTarget(s.TargetBundleID).BundleID
	if s.PermissionPollInterval.Duration < minPollInterval {
		s.PermissionPollInterval.Duration = DefaultPermissionPollInterval
	}
}

// Target returns the configured target application.
func (s Settings) Target() policy.Target {
	return policy.NewTarget(s.TargetBundleID)
}

// SettingsStore owns config.toml. The guard flag is mirrored into an atomic
// so the tap thread never takes the mutex.
type SettingsStore struct {
	path      string
	lookupEnv func(string) (string, bool)
	logger    *zap.Logger
	debounce  time.Duration

	guard atomic.Bool

	writeMu   sync.Mutex // serialises Update
	mu        sync.Mutex
	file      Settings // as on disk
	effective Settings // file plus env overrides
	onChange  []func(old, updated Settings)
}

// NewSettingsStore creates a store for path. Call Load before use.
func NewSettingsStore(path string, logger *zap.Logger) *SettingsStore {
	s := &SettingsStore{
		path:      path,
		lookupEnv: os.LookupEnv,
		logger:    logger,
		debounce:  defaultReloadDebounce,
		file:      DefaultSettings(),
		effective: DefaultSettings(),
	}
	s.guard.Store(s.effective.GuardEnabled)
	return s
}

// LoadEnvFile loads KEY=value pairs from path into the process environment
// without overriding variables that are already set. A missing file is fine.
func LoadEnvFile(path string) error {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

// Path returns the settings file path.
func (s *SettingsStore) Path() string {
	return s.path
}

// Load reads the file (defaults when missing) and applies env overrides.
func (s *SettingsStore) Load() error {
	file, err := readSettingsFile(s.path)
	if err != nil {
		return err
	}
	s.swap(file)
	return nil
}

// Settings returns the effective settings.
func (s *SettingsStore) Settings() Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.effective
}

// GuardEnabled implements domain.GuardSettings.
func (s *SettingsStore) GuardEnabled() bool {
	return s.guard.Load()
}

// SetGuardEnabled persists the guard toggle.
func (s *SettingsStore) SetGuardEnabled(enabled bool) error {
	return s.Update(func(cfg *Settings) { cfg.GuardEnabled = enabled })
}

// Update applies fn to the on-disk settings, writes the file, and notifies
// OnChange listeners.
func (s *SettingsStore) Update(fn func(*Settings)) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	next := s.file
	s.mu.Unlock()

	fn(&next)
	next.normalize()
	if err := writeSettingsFile(s.path, next); err != nil {
		return err
	}
	s.swap(next)
	return nil
}

// Save writes the current on-disk settings, creating the file if needed.
func (s *SettingsStore) Save() error {
	s.mu.Lock()
	file := s.file
	s.mu.Unlock()
	return writeSettingsFile(s.path, file)
}

// OnChange registers a callback run after every reload or update that
// changes the effective settings.
func (s *SettingsStore) OnChange(cb func(old, updated Settings)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onChange = append(s.onChange, cb)
}

// Watch reloads the file whenever it changes on disk until ctx is done. The
// containing directory is watched so editors that replace the file are seen.
func (s *SettingsStore) Watch(ctx context.Context) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create settings directory: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("watch directory: %w", err)
	}

	go s.watchLoop(ctx, watcher)
	return nil
}

func (s *SettingsStore) watchLoop(ctx context.Context, watcher *fsnotify.Watcher) {
	defer watcher.Close()

	var debounceTimer *time.Timer
	defer func() {
		if debounceTimer != nil {
			debounceTimer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != filepath.Base(s.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(s.debounce, s.reload)

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			s.logger.Warn("settings watcher error", zap.Error(err))
		}
	}
}

func (s *SettingsStore) reload() {
	file, err := readSettingsFile(s.path)
	if err != nil {
		s.logger.Warn("settings reload failed, keeping previous values", zap.Error(err))
		return
	}
	s.swap(file)
}

// swap installs file as the current settings and notifies listeners if the
// effective values changed.
func (s *SettingsStore) swap(file Settings) {
	effective := file
	s.applyEnv(&effective)

	s.mu.Lock()
	old := s.effective
	s.file = file
	s.effective = effective
	s.guard.Store(effective.GuardEnabled)
	callbacks := append([]func(old, updated Settings){}, s.onChange...)
	s.mu.Unlock()

	if old == effective {
		return
	}
	s.logger.Info("settings changed",
		zap.Bool("guard_enabled", effective.GuardEnabled),
		zap.String("target_bundle_id", effective.TargetBundleID))
	for _, cb := range callbacks {
		cb(old, effective)
	}
}

func (s *SettingsStore) applyEnv(cfg *Settings) {
	if v, ok := s.lookupEnv(EnvDebug); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Debug = b
		}
	}
	if v, ok := s.lookupEnv(EnvTargetBundleID); ok && v != "" {
		cfg.TargetBundleID = v
	}
	cfg.normalize()
}

func readSettingsFile(path string) (Settings, error) {
	cfg := DefaultSettings()
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("read settings: %w", err)
	}
	if _, err := toml.Decode(string(data), &cfg); err != nil {
		return DefaultSettings(), fmt.Errorf("decode settings %s: %w", path, err)
	}
	cfg.normalize()
	return cfg, nil
}

// writeSettingsFile replaces path atomically via a temp file and rename.
func writeSettingsFile(path string, cfg Settings) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create settings directory: %w", err)
	}

	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".config-*.toml")
	if err != nil {
		return fmt.Errorf("create temp settings: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		return fmt.Errorf("write settings: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0o600); err != nil {
		return fmt.Errorf("chmod settings: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace settings: %w", err)
	}
	return nil
}

var _ domain.GuardSettings = (*SettingsStore)(nil)
