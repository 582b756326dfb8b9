// Package settings persists per-conversation command toggles in SQLite.
package settings

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/bloomdevelop/weasel/pkg/weasel"
)

// schemaVersion is stored in PRAGMA user_version.
//   - v1: disabled_commands table
const schemaVersion = 1

// ErrInvalidKey reports an empty conversation or command name.
var ErrInvalidKey = errors.New("settings: empty conversation or command name")

// Store implements weasel.CommandSettings over one SQLite file.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

var _ weasel.CommandSettings = (*Store)(nil)

// Open opens or creates the database at path, migrating it to the current
// schema. The special path ":memory:" opens a private in-memory database.
func Open(path string) (*Store, error) {
	dsn := strings.TrimSpace(path)
	if dsn == "" {
		return nil, fmt.Errorf("open settings: empty path")
	}
	if dsn != ":memory:" {
		dsn = filepath.Clean(dsn)
		if err := os.MkdirAll(filepath.Dir(dsn), 0o700); err != nil {
			return nil, fmt.Errorf("open settings: create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open settings %s: %w", dsn, err)
	}
	// One connection keeps ":memory:" a single database and serializes writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("open settings %s: %w", dsn, err)
	}

	return &Store{db: db, now: time.Now}, nil
}

// Close releases the database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}

	return s.db.Close()
}

// IsDisabled reports whether name is disabled in conversation.
func (s *Store) IsDisabled(ctx context.Context, conversation string, name string) (bool, error) {
	if err := validateKey(conversation, name); err != nil {
		return false, err
	}

	var found int
	err := s.db.QueryRowContext(ctx, `
SELECT 1 FROM disabled_commands WHERE conversation = ? AND name = ?
`, conversation, name).Scan(&found)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return false, nil
	case err != nil:
		return false, fmt.Errorf("query disabled %s/%s: %w", conversation, name, err)
	}

	return true, nil
}

// Disable turns name off in conversation. Disabling twice is a no-op.
func (s *Store) Disable(ctx context.Context, conversation string, name string) error {
	if err := validateKey(conversation, name); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx, `
INSERT INTO disabled_commands(conversation, name, disabled_at_unix_ms)
VALUES(?, ?, ?)
ON CONFLICT(conversation, name) DO NOTHING
`, conversation, name, s.now().UnixMilli())
	if err != nil {
		return fmt.Errorf("disable %s/%s: %w", conversation, name, err)
	}

	return nil
}

// Enable turns name back on in conversation. Enabling an enabled command is a no-op.
func (s *Store) Enable(ctx context.Context, conversation string, name string) error {
	if err := validateKey(conversation, name); err != nil {
		return err
	}

	if _, err := s.db.ExecContext(ctx, `
DELETE FROM disabled_commands WHERE conversation = ? AND name = ?
`, conversation, name); err != nil {
		return fmt.Errorf("enable %s/%s: %w", conversation, name, err)
	}

	return nil
}

// Disabled lists the disabled names in conversation, sorted.
func (s *Store) Disabled(ctx context.Context, conversation string) ([]string, error) {
	if strings.TrimSpace(conversation) == "" {
		return nil, ErrInvalidKey
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT name FROM disabled_commands WHERE conversation = ? ORDER BY name ASC
`, conversation)
	if err != nil {
		return nil, fmt.Errorf("list disabled in %s: %w", conversation, err)
	}
	defer rows.Close()

	names := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan disabled name: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list disabled in %s: %w", conversation, err)
	}

	return names, nil
}

func validateKey(conversation string, name string) error {
	if strings.TrimSpace(conversation) == "" || strings.TrimSpace(name) == "" {
		return ErrInvalidKey
	}

	return nil
}

func initSchema(db *sql.DB) error {
	if _, err := db.Exec(`PRAGMA journal_mode=WAL;`); err != nil {
		return fmt.Errorf("pragma journal_mode: %w", err)
	}
	if _, err := db.Exec(`PRAGMA busy_timeout=3000;`); err != nil {
		return fmt.Errorf("pragma busy_timeout: %w", err)
	}

	return migrateSchema(db)
}

func migrateSchema(db *sql.DB) error {
	var version int
	if err := db.QueryRow(`PRAGMA user_version;`).Scan(&version); err != nil {
		return fmt.Errorf("pragma user_version: %w", err)
	}
	if version >= schemaVersion {
		return nil
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin migration: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.Exec(`
CREATE TABLE IF NOT EXISTS disabled_commands (
  conversation TEXT NOT NULL,
  name TEXT NOT NULL,
  disabled_at_unix_ms INTEGER NOT NULL,
  PRIMARY KEY (conversation, name)
);
`); err != nil {
		return fmt.Errorf("create disabled_commands: %w", err)
	}
	if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version=%d;", schemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}

	return tx.Commit()
}
