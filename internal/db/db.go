// Package db provides sqlite-backed persistence for the identity gallery
// and the authentication audit trail. Schema is managed by golang-migrate;
// OpenDB never creates tables itself.
package db

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// DB wraps the sqlite connection shared by the identity and audit stores.
type DB struct {
	*sql.DB
}

// OpenDB opens (or creates) the sqlite database at path and applies the
// connection pragmas. The schema itself is managed by migrations.
func OpenDB(path string) (*DB, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	// modernc sqlite allows one writer; a busy timeout avoids spurious
	// SQLITE_BUSY from the fire-and-forget audit writes.
	pragmas := []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode = WAL",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := conn.Exec(p); err != nil {
			conn.Close()
			return nil, fmt.Errorf("apply %q: %w", p, err)
		}
	}

	return &DB{conn}, nil
}
