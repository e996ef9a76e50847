// Package sqlite provides the durable store for Sentinel.
// Uses WAL mode for concurrent reads and crash-safe writes. The table layout
// (test_execution_event, coverage_graph_nodes, coverage_graph_edges,
// drift_signals, migration_state) is part of the compatibility surface.
package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver (no CGO required)
)

// DB wraps a SQLite connection with WAL mode and migrations.
type DB struct {
	db *sql.DB
}

// Open creates or opens the SQLite database at dir/sentinel.db.
// Enables WAL mode, foreign keys, and 5-second busy timeout.
func Open(dir string) (*DB, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	dbPath := filepath.Join(dir, "sentinel.db")
	dsn := dbPath + "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	// Connection pool settings for SQLite
	db.SetMaxOpenConns(1) // SQLite is single-writer
	db.SetMaxIdleConns(1)

	d := &DB{db: db}
	if err := d.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return d, nil
}

// Close cleanly shuts down the database.
func (d *DB) Close() error {
	return d.db.Close()
}

// Ping checks database connectivity.
func (d *DB) Ping() error {
	return d.db.Ping()
}

// migrate runs idempotent schema migrations.
func (d *DB) migrate() error {
	migrations := []string{
		// Durable event log — one row per observed execution fact.
		`CREATE TABLE IF NOT EXISTS test_execution_event (
			id                  INTEGER PRIMARY KEY AUTOINCREMENT,
			event_type          TEXT NOT NULL,
			framework           TEXT NOT NULL,
			test_id             TEXT NOT NULL,
			timestamp           INTEGER NOT NULL,
			status              TEXT,
			duration_ms         REAL,
			error_message       TEXT,
			stack_trace         TEXT,
			metadata            TEXT NOT NULL DEFAULT '{}',
			schema_version      TEXT NOT NULL,
			application_version TEXT,
			product_name        TEXT,
			environment         TEXT,
			created_at          INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_event_test ON test_execution_event(test_id, timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_event_type ON test_execution_event(event_type)`,

		// Coverage graph — nodes created lazily, never deleted by the engine.
		`CREATE TABLE IF NOT EXISTS coverage_graph_nodes (
			node_id    TEXT PRIMARY KEY,
			node_type  TEXT NOT NULL,
			metadata   TEXT NOT NULL DEFAULT '{}',
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_nodes_type ON coverage_graph_nodes(node_type)`,

		// Coverage graph edges — weight is monotonically non-decreasing and
		// bumped via atomic UPSERT so concurrent processes cannot lose counts.
		`CREATE TABLE IF NOT EXISTS coverage_graph_edges (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			from_node  TEXT NOT NULL,
			to_node    TEXT NOT NULL,
			edge_type  TEXT NOT NULL,
			weight     INTEGER NOT NULL DEFAULT 1,
			first_seen INTEGER NOT NULL,
			last_seen  INTEGER NOT NULL,
			metadata   TEXT NOT NULL DEFAULT '{}',
			UNIQUE(from_node, to_node, edge_type)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_edges_from ON coverage_graph_edges(from_node)`,
		`CREATE INDEX IF NOT EXISTS idx_edges_to ON coverage_graph_edges(to_node)`,

		// Drift signals — append-only anomaly history.
		`CREATE TABLE IF NOT EXISTS drift_signals (
			id              TEXT PRIMARY KEY,
			signal_type     TEXT NOT NULL,
			test_id         TEXT NOT NULL,
			severity        TEXT NOT NULL,
			description     TEXT NOT NULL,
			metadata        TEXT NOT NULL DEFAULT '{}',
			detected_at     INTEGER NOT NULL,
			acknowledged    BOOLEAN DEFAULT 0,
			acknowledged_at INTEGER,
			acknowledged_by TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_signals_test ON drift_signals(test_id)`,
		`CREATE INDEX IF NOT EXISTS idx_signals_detected ON drift_signals(detected_at)`,

		// Per-project lifecycle state machine record.
		`CREATE TABLE IF NOT EXISTS migration_state (
			project_id             TEXT PRIMARY KEY,
			mode                   TEXT NOT NULL,
			migration_completed_at INTEGER,
			observer_enabled       BOOLEAN DEFAULT 0,
			hooks_registered       BOOLEAN DEFAULT 0,
			last_event_at          INTEGER,
			metadata               TEXT NOT NULL DEFAULT '{}'
		)`,
	}

	for _, m := range migrations {
		if _, err := d.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\nSQL: %s", err, m)
		}
	}
	return nil
}

// ─── Helpers ────────────────────────────────────────────────────────────────

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func nullableUnix(t time.Time) sql.NullInt64 {
	if t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.Unix(), Valid: true}
}

func unixOrZero(v sql.NullInt64) time.Time {
	if !v.Valid {
		return time.Time{}
	}
	return time.Unix(v.Int64, 0)
}

func marshalMeta(m map[string]string) string {
	if len(m) == 0 {
		return "{}"
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "{}"
	}
	return string(b)
}

func unmarshalMeta(s string) map[string]string {
	if s == "" || s == "{}" {
		return nil
	}
	var m map[string]string
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil
	}
	return m
}
