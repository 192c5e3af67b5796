// Package calllog keeps an audit trail of every inbound webhook in a
// local SQLite database. The log is for operators debugging a live
// show; a write failure must never fail the request that triggered it.
package calllog

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Request kinds recorded in the log.
const (
	KindCall   = "call"
	KindText   = "text"
	KindStatus = "status"
)

// Entry is one logged webhook.
type Entry struct {
	ID         int64     `json:"id"`
	ReceivedAt time.Time `json:"received_at"`
	Kind       string    `json:"kind"`
	Caller     string    `json:"caller"`
	Dialed     string    `json:"dialed"`
	Digits     string    `json:"digits"`
	Body       string    `json:"body"`
	Script     string    `json:"script"`
	Scene      string    `json:"scene"`
	Room       string    `json:"room"`
	Status     string    `json:"status"`
}

// Log wraps a sql.DB connection holding the call log.
type Log struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open creates or opens the call log database under dataDir with WAL
// mode enabled and runs any pending migrations.
func Open(dataDir string, logger *slog.Logger) (*Log, error) {
	if err := os.MkdirAll(dataDir, 0750); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "halpline.db")
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(on)", dbPath)

	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening call log: %w", err)
	}

	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("pinging call log: %w", err)
	}

	// SQLite performs best with a single writer connection.
	sqlDB.SetMaxOpenConns(1)

	l := &Log{db: sqlDB, logger: logger.With("subsystem", "calllog")}

	if err := l.migrate(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	l.logger.Info("call log opened", "path", dbPath)
	return l, nil
}

// Close closes the underlying database.
func (l *Log) Close() error { return l.db.Close() }

// Record inserts one entry. Failures are logged and swallowed so a
// broken log never takes a live call down with it.
func (l *Log) Record(ctx context.Context, e Entry) {
	if e.ReceivedAt.IsZero() {
		e.ReceivedAt = time.Now().UTC()
	}
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO call_log (received_at, kind, caller, dialed, digits,
		 body, script, scene, room, status)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ReceivedAt, e.Kind, e.Caller, e.Dialed, e.Digits,
		e.Body, e.Script, e.Scene, e.Room, e.Status,
	)
	if err != nil {
		l.logger.Error("call log write failed", "kind", e.Kind, "caller", e.Caller, "error", err)
	}
}

// ListRecent returns the most recent entries up to the given limit.
func (l *Log) ListRecent(ctx context.Context, limit int) ([]Entry, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT id, received_at, kind, caller, dialed, digits,
		 body, script, scene, room, status
		 FROM call_log ORDER BY received_at DESC, id DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("listing recent entries: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

// ListByCaller returns a caller's entries, most recent first.
func (l *Log) ListByCaller(ctx context.Context, caller string, limit int) ([]Entry, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT id, received_at, kind, caller, dialed, digits,
		 body, script, scene, room, status
		 FROM call_log WHERE caller = ?
		 ORDER BY received_at DESC, id DESC LIMIT ?`, caller, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("listing entries for %s: %w", caller, err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

func scanEntries(rows *sql.Rows) ([]Entry, error) {
	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.ReceivedAt, &e.Kind, &e.Caller, &e.Dialed,
			&e.Digits, &e.Body, &e.Script, &e.Scene, &e.Room, &e.Status); err != nil {
			return nil, fmt.Errorf("scanning call log row: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating call log rows: %w", err)
	}
	return entries, nil
}

// migrate runs all pending SQL migration files in order.
func (l *Log) migrate() error {
	_, err := l.db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version TEXT PRIMARY KEY,
		applied_at DATETIME DEFAULT (datetime('now'))
	)`)
	if err != nil {
		return fmt.Errorf("creating schema_migrations table: %w", err)
	}

	entries, err := fs.ReadDir(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version := strings.TrimSuffix(entry.Name(), ".sql")

		var count int
		err := l.db.QueryRow("SELECT COUNT(*) FROM schema_migrations WHERE version = ?", version).Scan(&count)
		if err != nil {
			return fmt.Errorf("checking migration %s: %w", version, err)
		}
		if count > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile(filepath.Join("migrations", entry.Name()))
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", version, err)
		}

		tx, err := l.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %s: %w", version, err)
		}

		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("executing migration %s: %w", version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %s: %w", version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %s: %w", version, err)
		}

		l.logger.Info("applied migration", "version", version)
	}

	return nil
}
