package repository

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/opensource-finance/kestrel/internal/domain"
	_ "modernc.org/sqlite"
)

// sqlitePragmas tune the pure-Go driver for a single-node deployment.
const sqlitePragmas = "_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)&_time_format=sqlite"

// openSQLite opens a SQLite database via modernc.org/sqlite (no CGO).
func openSQLite(cfg domain.RepositoryConfig) (*sql.DB, error) {
	path := cfg.SQLitePath
	if path == "" {
		path = "./kestrel.db"
	}

	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", sqliteDSN(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	// One connection serializes writers. Code running inside InTx must only
	// use the LedgerTx it was given.
	if cfg.MaxOpenConns == 0 {
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping sqlite database: %w", err)
	}

	return db, nil
}

func sqliteDSN(path string) string {
	return fmt.Sprintf("file:%s?%s", path, sqlitePragmas)
}
