package sqlite

import (
	"database/sql"
	_ "embed"
	"fmt"
	"strings"

	_ "modernc.org/sqlite" // Register sqlite driver
)

//go:embed migrations/001_initial.sql
var schema string

type DB struct {
	*sql.DB
}

func Open(dsn string) (*DB, error) {
	memory := dsn == ":memory:"
	if !memory && !strings.Contains(dsn, "?") {
		// journal_mode sticks to the database file, but busy_timeout and
		// foreign_keys reset per connection. DSN pragmas run on every
		// connection the pool opens; a PRAGMA statement reaches only one.
		dsn += "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if memory {
		// In-memory databases are per-connection; a pool of them is a pool
		// of separate empty databases. One connection keeps the schema and
		// all queries on the same data, and makes session pragmas stick.
		db.SetMaxOpenConns(1)
		for _, pragma := range []string{
			"PRAGMA foreign_keys=ON",
			"PRAGMA busy_timeout=5000",
		} {
			if _, err := db.Exec(pragma); err != nil {
				_ = db.Close()
				return nil, fmt.Errorf("exec %s: %w", pragma, err)
			}
		}
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return &DB{db}, nil
}
