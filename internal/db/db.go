package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"albion-flipper/internal/logger"
	_ "modernc.org/sqlite"
)

// DB wraps a SQLite database connection.
type DB struct {
	sql *sql.DB
}

const dsnPragmas = "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"

// DefaultPath is the database file in the working directory, falling back to
// the executable directory.
func DefaultPath() string {
	if wd, err := os.Getwd(); err == nil {
		return filepath.Join(wd, "flipper.db")
	}
	exe, _ := os.Executable()
	return filepath.Join(filepath.Dir(exe), "flipper.db")
}

// Open opens (or creates) the SQLite database at path and runs migrations.
// An empty path uses DefaultPath().
func Open(path string) (*DB, error) {
	if path == "" {
		path = DefaultPath()
	}
	sqlDB, err := sql.Open("sqlite", path+dsnPragmas)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("ping db: %w", err)
	}
	d := &DB{sql: sqlDB}
	if err := d.migrate(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("migrate db: %w", err)
	}
	logger.Success("DB", fmt.Sprintf("Opened %s", path))
	return d, nil
}

// Close closes the database connection.
func (d *DB) Close() error {
	return d.sql.Close()
}

func (d *DB) migrate() error {
	version := 0
	d.sql.QueryRow("SELECT version FROM schema_version ORDER BY version DESC LIMIT 1").Scan(&version)

	if version < 1 {
		_, err := d.sql.Exec(`
			CREATE TABLE IF NOT EXISTS schema_version (version INTEGER PRIMARY KEY);

			CREATE TABLE IF NOT EXISTS config (
				key   TEXT PRIMARY KEY,
				value TEXT NOT NULL
			);

			CREATE TABLE IF NOT EXISTS categories (
				id        INTEGER PRIMARY KEY AUTOINCREMENT,
				name      TEXT NOT NULL,
				slug      TEXT NOT NULL UNIQUE,
				parent_id INTEGER REFERENCES categories(id) ON DELETE SET NULL
			);

			CREATE TABLE IF NOT EXISTS item_templates (
				id           INTEGER PRIMARY KEY AUTOINCREMENT,
				template_key TEXT NOT NULL UNIQUE,
				mode         TEXT NOT NULL DEFAULT 'TIERED',
				tier_min     INTEGER,
				tier_max     INTEGER,
				ench_min     INTEGER NOT NULL DEFAULT 0,
				ench_max     INTEGER NOT NULL DEFAULT 0,
				qualities    TEXT NOT NULL DEFAULT '1,2,3,4,5',
				is_active    INTEGER NOT NULL DEFAULT 1,
				notes        TEXT
			);

			CREATE TABLE IF NOT EXISTS template_categories (
				template_id INTEGER NOT NULL REFERENCES item_templates(id) ON DELETE CASCADE,
				category_id INTEGER NOT NULL REFERENCES categories(id) ON DELETE CASCADE,
				PRIMARY KEY (template_id, category_id)
			);

			INSERT OR IGNORE INTO schema_version (version) VALUES (1);
		`)
		if err != nil {
			return fmt.Errorf("migration v1: %w", err)
		}
		logger.Info("DB", "Applied migration v1")
	}

	if version < 2 {
		_, err := d.sql.Exec(`
			CREATE INDEX IF NOT EXISTS idx_categories_parent ON categories(parent_id);
			CREATE INDEX IF NOT EXISTS idx_template_categories_cat ON template_categories(category_id);
			CREATE INDEX IF NOT EXISTS idx_item_templates_active ON item_templates(is_active);

			INSERT OR IGNORE INTO schema_version (version) VALUES (2);
		`)
		if err != nil {
			return fmt.Errorf("migration v2: %w", err)
		}
		logger.Info("DB", "Applied migration v2")
	}

	if version < 3 {
		_, err := d.sql.Exec(`
			CREATE TABLE IF NOT EXISTS snapshot_history (
				id           INTEGER PRIMARY KEY AUTOINCREMENT,
				snapshot_id  TEXT NOT NULL UNIQUE,
				timestamp    TEXT NOT NULL,
				categories   TEXT NOT NULL DEFAULT '[]',
				item_count   INTEGER NOT NULL DEFAULT 0,
				route_count  INTEGER NOT NULL DEFAULT 0,
				flip_count   INTEGER NOT NULL DEFAULT 0,
				top_profit   INTEGER NOT NULL DEFAULT 0,
				duration_ms  INTEGER NOT NULL DEFAULT 0
			);

			CREATE TABLE IF NOT EXISTS flip_results (
				scan_id         INTEGER NOT NULL REFERENCES snapshot_history(id) ON DELETE CASCADE,
				rank            INTEGER NOT NULL,
				item_id         TEXT NOT NULL,
				origin_quality  INTEGER NOT NULL,
				bm_quality      INTEGER NOT NULL,
				origin_city     TEXT NOT NULL,
				origin_price    INTEGER NOT NULL,
				origin_source   TEXT NOT NULL,
				bm_price        INTEGER NOT NULL,
				bm_source       TEXT NOT NULL,
				profit_net      INTEGER NOT NULL,
				margin_net      REAL NOT NULL,
				profit_flip     INTEGER NOT NULL,
				margin_flip     REAL NOT NULL,
				profit_order    INTEGER NOT NULL,
				margin_order    REAL NOT NULL,
				is_robust       INTEGER NOT NULL,
				PRIMARY KEY (scan_id, rank)
			);

			CREATE INDEX IF NOT EXISTS idx_snapshot_history_ts ON snapshot_history(timestamp);

			INSERT OR IGNORE INTO schema_version (version) VALUES (3);
		`)
		if err != nil {
			return fmt.Errorf("migration v3: %w", err)
		}
		logger.Info("DB", "Applied migration v3")
	}

	return nil
}

// SqlDB returns the underlying *sql.DB.
func (d *DB) SqlDB() *sql.DB {
	return d.sql
}
