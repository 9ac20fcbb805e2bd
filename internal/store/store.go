package store

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// Store is the SQLite persistence layer for the incremental build cache.
type Store struct {
	db *sql.DB
}

// NewStore opens a SQLite database at dbPath with WAL mode enabled.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=30000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate creates all tables and indexes. Idempotent.
func (s *Store) Migrate() error {
	_, err := s.db.Exec(schemaDDL)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

const schemaDDL = `
CREATE TABLE IF NOT EXISTS metadata (
  key             TEXT PRIMARY KEY,
  value           TEXT NOT NULL
);

-- Seed string table of the previous build; idx is the string's index.
CREATE TABLE IF NOT EXISTS strings (
  idx             INTEGER PRIMARY KEY,
  value           TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS files (
  id              INTEGER PRIMARY KEY,
  path            TEXT NOT NULL UNIQUE,
  modified_ns     INTEGER NOT NULL,
  last_built_ns   INTEGER
);

CREATE TABLE IF NOT EXISTS file_declarations (
  file_id         INTEGER NOT NULL REFERENCES files(id),
  seq             INTEGER NOT NULL DEFAULT 0,
  name            TEXT NOT NULL,
  hash            TEXT NOT NULL,
  PRIMARY KEY (file_id, name)
);

CREATE TABLE IF NOT EXISTS declarations (
  name            TEXT PRIMARY KEY,
  hash            TEXT NOT NULL,
  record          BLOB
);

CREATE INDEX IF NOT EXISTS idx_file_declarations_name ON file_declarations(name);
CREATE INDEX IF NOT EXISTS idx_declarations_hash ON declarations(hash);
`

// Reset deletes every row, keeping the schema.
func (s *Store) Reset() error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()
	if err := resetTx(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func resetTx(tx *sql.Tx) error {
	for _, q := range []string{
		"DELETE FROM file_declarations",
		"DELETE FROM files",
		"DELETE FROM declarations",
		"DELETE FROM strings",
		"DELETE FROM metadata",
	} {
		if _, err := tx.Exec(q); err != nil {
			return fmt.Errorf("reset: %w", err)
		}
	}
	return nil
}

// Stats counts rows per table.
func (s *Store) Stats() (Stats, error) {
	var st Stats
	for _, q := range []struct {
		query string
		dest  any
	}{
		{"SELECT COUNT(*) FROM strings", &st.Strings},
		{"SELECT COUNT(*) FROM files", &st.Files},
		{"SELECT COUNT(*) FROM declarations", &st.Declarations},
		{"SELECT COALESCE(SUM(LENGTH(record)), 0) FROM declarations", &st.RecordBytes},
	} {
		if err := s.db.QueryRow(q.query).Scan(q.dest); err != nil {
			return Stats{}, fmt.Errorf("stats: %w", err)
		}
	}
	return st, nil
}
