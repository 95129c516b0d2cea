// Package sqlite provides a SQLite persistence sink for xrelay, backed by the
// pure-Go modernc.org/sqlite driver.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"sync/atomic"

	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"github.com/trickstertwo/xrelay"
)

// SinkName is the name the SQLite sink registers under.
const SinkName = "sqlite"

func init() {
	if err := xrelay.RegisterSink(SinkName, func(cfg map[string]any) (xrelay.Sink, error) {
		return Open(ConfigFromMap(cfg))
	}); err != nil {
		panic(fmt.Errorf("xrelay: failed to register sink %q: %w", SinkName, err))
	}
}

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Config for the SQLite sink.
type Config struct {
	// Path is the database file, or ":memory:".
	Path string
	// Table receives one row per message (default "logs").
	Table string
}

// Defaults returns a Config writing to ./xrelay.db.
func Defaults() Config {
	return Config{Path: "xrelay.db", Table: "logs"}
}

// Validate checks the path and table name.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Path) == "" {
		return fmt.Errorf("config: path required")
	}
	if !tableName.MatchString(c.Table) {
		return fmt.Errorf("config: invalid table name %q", c.Table)
	}
	return nil
}

// ConfigFromMap safely converts cfg into Config with defaults.
func ConfigFromMap(cfg map[string]any) Config {
	c := Defaults()
	if v, ok := cfg["path"].(string); ok && v != "" {
		c.Path = v
	}
	if v, ok := cfg["table"].(string); ok && v != "" {
		c.Table = v
	}
	return c
}

func (c Config) toMap() map[string]any {
	return map[string]any{"path": c.Path, "table": c.Table}
}

func (c Config) dsn() string {
	if c.Path == ":memory:" {
		return c.Path
	}
	return "file:" + filepath.Clean(c.Path) + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
}

// Sink inserts each message as one row holding the msg column.
type Sink struct {
	db        *sql.DB
	table     string
	insertSQL string
	closed    atomic.Bool
}

// Open opens the database and creates the table if missing.
func Open(cfg Config) (*Sink, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", cfg.dsn())
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// SQLite serializes writers; one connection also keeps ":memory:" a single database.
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	s := &Sink{
		db:        db,
		table:     cfg.Table,
		insertSQL: fmt.Sprintf("INSERT INTO %s (msg, received_at) VALUES (?, ?)", cfg.Table),
	}
	if err := s.EnsureSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// EnsureSchema creates the log table if it does not exist.
func (s *Sink) EnsureSchema(ctx context.Context) error {
	q := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    msg TEXT NOT NULL,
    received_at INTEGER NOT NULL
);`, s.table)
	if _, err := s.db.ExecContext(ctx, q); err != nil {
		return fmt.Errorf("ensure %s table: %w", s.table, err)
	}
	return nil
}

// Store inserts msg. received_at holds the relay receive time in Unix milliseconds.
func (s *Sink) Store(ctx context.Context, msg xrelay.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, s.insertSQL, msg.Payload, msg.ReceivedAt.UTC().UnixMilli()); err != nil {
		return fmt.Errorf("insert log message: %w", err)
	}
	return nil
}

// Messages returns the most recent stored payloads, oldest first.
func (s *Sink) Messages(ctx context.Context, limit int) ([]string, error) {
	q := fmt.Sprintf("SELECT msg FROM (SELECT id, msg FROM %s ORDER BY id DESC LIMIT ?) ORDER BY id ASC", s.table)
	rows, err := s.db.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("query log messages: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var m string
		if err := rows.Scan(&m); err != nil {
			return nil, fmt.Errorf("scan log message: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// Close closes the database handle. Idempotent.
func (s *Sink) Close(context.Context) error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.db.Close()
}

// IsBusy reports whether err is a transient lock conflict worth retrying.
func IsBusy(err error) bool {
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() & 0xff {
		case sqlite3lib.SQLITE_BUSY, sqlite3lib.SQLITE_LOCKED:
			return true
		}
	}
	return false
}
