package infra

import (
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	// Ensure sqlcipher driver is registered.
	_ "github.com/mutecomm/go-sqlcipher/v4"

	"github.com/eliteGoblin/sendguard/internal/domain"
)

const (
	stateDBName        = "state.db"
	stateSchemaVersion = "1"
)

// SQLCipherStateStore keeps the daemon registration and its tap counters in
// an encrypted SQLite database so the CLI can report on a detached daemon.
type SQLCipherStateStore struct {
	db     *sql.DB
	dbPath string
	now    func() time.Time
}

// NewSQLCipherStateStore opens (or creates) state.db under dataDir.
// The key is used as the SQLCipher passphrase via PRAGMA key.
func NewSQLCipherStateStore(dataDir string, key []byte) (*SQLCipherStateStore, error) {
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, stateDBName)
	dsn := fmt.Sprintf("%s?_pragma_key=x'%s'&_pragma_cipher_page_size=4096", dbPath, hex.EncodeToString(key))
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open state database: %w", err)
	}
	// The daemon and CLI invocations share the file; one connection per process.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect to state database: %w", err)
	}

	s := &SQLCipherStateStore{db: db, dbPath: dbPath, now: time.Now}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate state database: %w", err)
	}
	return s, nil
}

// OpenStateStore resolves the key through provider and opens the store.
func OpenStateStore(dataDir string, provider domain.KeyProvider) (*SQLCipherStateStore, error) {
	key, err := EnsureKey(provider)
	if err != nil {
		return nil, fmt.Errorf("state database key: %w", err)
	}
	return NewSQLCipherStateStore(dataDir, key)
}

func (s *SQLCipherStateStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS daemon (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		pid INTEGER NOT NULL,
		app_version TEXT NOT NULL DEFAULT '',
		started_at INTEGER NOT NULL,
		last_heartbeat INTEGER NOT NULL,
		engine_state TEXT NOT NULL DEFAULT 'stopped'
	);

	CREATE TABLE IF NOT EXISTS tap_counters (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		key_downs INTEGER NOT NULL DEFAULT 0,
		rewritten INTEGER NOT NULL DEFAULT 0,
		passed_over INTEGER NOT NULL DEFAULT 0,
		reenabled INTEGER NOT NULL DEFAULT 0,
		recovered INTEGER NOT NULL DEFAULT 0,
		last_rewrite INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}
	_, err := s.db.Exec(`INSERT OR REPLACE INTO meta (key, value) VALUES ('schema_version', ?)`, stateSchemaVersion)
	return err
}

// Register records pid as the running daemon and resets its counters.
func (s *SQLCipherStateStore) Register(pid int, appVersion string) error {
	now := s.now().Unix()

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`
		INSERT OR REPLACE INTO daemon (id, pid, app_version, started_at, last_heartbeat, engine_state)
		VALUES (1, ?, ?, ?, ?, ?)`,
		pid, appVersion, now, now, domain.EngineStopped.String(),
	); err != nil {
		return err
	}
	if _, err := tx.Exec(`INSERT OR REPLACE INTO tap_counters (id) VALUES (1)`); err != nil {
		return err
	}
	return tx.Commit()
}

// Heartbeat stores the latest engine snapshot.
func (s *SQLCipherStateStore) Heartbeat(engineState domain.EngineState, stats domain.InterceptStats) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	result, err := tx.Exec(`UPDATE daemon SET last_heartbeat = ?, engine_state = ? WHERE id = 1`,
		s.now().Unix(), engineState.String())
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return errors.New("daemon not registered")
	}

	var lastRewrite int64
	if !stats.LastRewrite.IsZero() {
		lastRewrite = stats.LastRewrite.Unix()
	}
	if _, err := tx.Exec(`
		UPDATE tap_counters
		SET key_downs = ?, rewritten = ?, passed_over = ?, reenabled = ?, recovered = ?, last_rewrite = ?
		WHERE id = 1`,
		int64(stats.KeyDowns), int64(stats.Rewritten), int64(stats.PassedOver),
		int64(stats.Reenabled), int64(stats.Recovered), lastRewrite,
	); err != nil {
		return err
	}
	return tx.Commit()
}

// Status returns the registered daemon, or nil when none is registered.
func (s *SQLCipherStateStore) Status() (*domain.DaemonStatus, error) {
	var (
		status                 domain.DaemonStatus
		startedAt, heartbeat   int64
		keyDowns, rewritten    int64
		passedOver, reenabled  int64
		recovered, lastRewrite int64
	)
	err := s.db.QueryRow(`
		SELECT d.pid, d.app_version, d.started_at, d.last_heartbeat, d.engine_state,
		       c.key_downs, c.rewritten, c.passed_over, c.reenabled, c.recovered, c.last_rewrite
		FROM daemon d LEFT JOIN tap_counters c ON c.id = d.id
		WHERE d.id = 1`,
	).Scan(&status.PID, &status.AppVersion, &startedAt, &heartbeat, &status.EngineState,
		&keyDowns, &rewritten, &passedOver, &reenabled, &recovered, &lastRewrite)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	status.StartedAt = time.Unix(startedAt, 0)
	status.LastHeartbeat = time.Unix(heartbeat, 0)
	status.Stats = domain.InterceptStats{
		KeyDowns:   uint64(keyDowns),
		Rewritten:  uint64(rewritten),
		PassedOver: uint64(passedOver),
		Reenabled:  uint64(reenabled),
		Recovered:  uint64(recovered),
	}
	if lastRewrite != 0 {
		status.Stats.LastRewrite = time.Unix(lastRewrite, 0)
	}
	return &status, nil
}

// Clear removes the daemon registration.
func (s *SQLCipherStateStore) Clear() error {
	if _, err := s.db.Exec(`DELETE FROM daemon`); err != nil {
		return err
	}
	_, err := s.db.Exec(`DELETE FROM tap_counters`)
	return err
}

// Path returns the database file path.
func (s *SQLCipherStateStore) Path() string {
	return s.dbPath
}

// Close releases the database connection.
func (s *SQLCipherStateStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

var _ domain.StateStore = (*SQLCipherStateStore)(nil)
