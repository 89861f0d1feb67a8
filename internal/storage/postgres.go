package storage

import (
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// History is an append-mostly SQL mirror of finished scans for reporting.
// It is never read by the orchestrator.
type History struct {
	db *sql.DB
}

func NewHistory(driver, dsn string) (*History, error) {
	switch driver {
	case "postgres", "sqlite3":
	default:
		return nil, fmt.Errorf("unsupported history driver %q", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, err
	}
	if driver == "sqlite3" {
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &History{db: db}, nil
}

func (h *History) Close() error {
	if h == nil || h.db == nil {
		return nil
	}
	return h.db.Close()
}

// DB returns underlying *sql.DB (for migrations etc.)
func (h *History) DB() *sql.DB {
	return h.db
}

func (h *History) Migrate() error {
	return RunMigrations(h.db, migrationFiles)
}
