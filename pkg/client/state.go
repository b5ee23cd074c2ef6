package client

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// State manages client-side persistent state
type State struct {
	db  *sql.DB
	dir string // Directory where state is stored
}

// OpenState opens or creates the client state database
func OpenState(path string) (*State, error) {
	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open state database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &State{db: db, dir: dir}, nil
}

// migrations are applied in order; the index+1 is the schema version.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS Config (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS ServerKey (
		address     TEXT PRIMARY KEY,
		fingerprint TEXT NOT NULL,
		first_seen  INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS ConnectionHistory (
		address         TEXT PRIMARY KEY,
		last_success_at INTEGER NOT NULL
	)`,
}

func runMigrations(db *sql.DB) error {
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version    INTEGER PRIMARY KEY,
		applied_at INTEGER NOT NULL
	)`); err != nil {
		return err
	}

	var current int
	if err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&current); err != nil {
		return err
	}

	for i := current; i < len(migrations); i++ {
		tx, err := db.Begin()
		if err != nil {
			return err
		}
		if _, err := tx.Exec(migrations[i]); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d: %w", i+1, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)", i+1, time.Now().Unix()); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d: %w", i+1, err)
		}
		if err := tx.Commit(); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the state database
func (s *State) Close() error {
	return s.db.Close()
}

// GetConfig retrieves a configuration value
func (s *State) GetConfig(key string) (string, error) {
	var value string
	err := s.db.QueryRow("SELECT value FROM Config WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return value, err
}

// SetConfig stores a configuration value
func (s *State) SetConfig(key, value string) error {
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO Config (key, value) VALUES (?, ?)
	`, key, value)
	return err
}

// GetLastNickname returns the last used nickname
func (s *State) GetLastNickname() string {
	nickname, _ := s.GetConfig("last_nickname")
	return nickname
}

// SetLastNickname stores the last used nickname
func (s *State) SetLastNickname(nickname string) error {
	return s.SetConfig("last_nickname", nickname)
}

// GetServerKey returns the pinned key fingerprint for address, or "" if
// none has been seen.
func (s *State) GetServerKey(address string) (string, error) {
	var fingerprint string
	err := s.db.QueryRow("SELECT fingerprint FROM ServerKey WHERE address = ?", address).Scan(&fingerprint)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return fingerprint, err
}

// SaveServerKey pins fingerprint for address, replacing any previous pin.
func (s *State) SaveServerKey(address, fingerprint string) error {
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO ServerKey (address, fingerprint, first_seen) VALUES (?, ?, ?)
	`, address, fingerprint, time.Now().Unix())
	return err
}

// DeleteServerKey forgets the pin for address.
func (s *State) DeleteServerKey(address string) error {
	_, err := s.db.Exec("DELETE FROM ServerKey WHERE address = ?", address)
	return err
}

// GetLastConnected returns when address was last connected to successfully,
// or the zero time.
func (s *State) GetLastConnected(address string) (time.Time, error) {
	var at int64
	err := s.db.QueryRow("SELECT last_success_at FROM ConnectionHistory WHERE address = ?", address).Scan(&at)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(at, 0), nil
}

// SaveSuccessfulConnection records a successful connection to address
func (s *State) SaveSuccessfulConnection(address string) error {
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO ConnectionHistory (address, last_success_at) VALUES (?, ?)
	`, address, time.Now().Unix())
	return err
}

// GetStateDir returns the directory where state is stored
func (s *State) GetStateDir() string {
	return s.dir
}

// PinServerKey implements trust-on-first-use: the first fingerprint seen for
// address is stored, and any later different fingerprint is rejected with
// ErrServerKeyChanged.
func PinServerKey(st StateInterface, address, fingerprint string) error {
	pinned, err := st.GetServerKey(address)
	if err != nil {
		return fmt.Errorf("failed to read pinned key: %w", err)
	}
	if pinned == "" {
		return st.SaveServerKey(address, fingerprint)
	}
	if pinned != fingerprint {
		return fmt.Errorf("%w: %s presented %s, pinned %s", ErrServerKeyChanged, address, fingerprint, pinned)
	}
	return nil
}
