package store

import (
	"database/sql"
	"fmt"
)

// --- File operations ---

type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

func insertFileTx(db execer, f *File) (int64, error) {
	res, err := db.Exec(
		"INSERT INTO files (path, modified_ns, last_built_ns) VALUES (?, ?, ?)",
		f.Path, toNanos(f.ModifiedTime), toNanos(f.LastBuilt),
	)
	if err != nil {
		return 0, fmt.Errorf("insert file: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("last insert id: %w", err)
	}
	f.ID = id
	return id, nil
}

// Files returns every file ordered by path.
func (s *Store) Files() ([]*File, error) {
	rows, err := s.db.Query("SELECT id, path, modified_ns, last_built_ns FROM files ORDER BY path")
	if err != nil {
		return nil, fmt.Errorf("files: %w", err)
	}
	defer rows.Close()
	var files []*File
	for rows.Next() {
		f := &File{}
		var mod, built sql.NullInt64
		if err := rows.Scan(&f.ID, &f.Path, &mod, &built); err != nil {
			return nil, fmt.Errorf("scan file: %w", err)
		}
		f.ModifiedTime = fromNanos(mod.Int64)
		f.LastBuilt = fromNanos(built.Int64)
		files = append(files, f)
	}
	return files, rows.Err()
}

func insertFileDeclarationTx(db execer, fd *FileDeclaration) error {
	_, err := db.Exec(
		"INSERT OR REPLACE INTO file_declarations (file_id, seq, name, hash) VALUES (?, ?, ?, ?)",
		fd.FileID, fd.Seq, fd.Name, fd.Hash,
	)
	if err != nil {
		return fmt.Errorf("insert file declaration: %w", err)
	}
	return nil
}

// --- Declaration operations ---

func upsertDeclarationTx(db execer, d *Declaration) error {
	_, err := db.Exec(
		`INSERT INTO declarations (name, hash, record) VALUES (?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET hash = excluded.hash, record = excluded.record`,
		d.Name, d.Hash, d.Record,
	)
	if err != nil {
		return fmt.Errorf("upsert declaration %s: %w", d.Name, err)
	}
	return nil
}

// Declarations returns every declaration ordered by name.
func (s *Store) Declarations() ([]*Declaration, error) {
	rows, err := s.db.Query("SELECT name, hash, record FROM declarations ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("declarations: %w", err)
	}
	defer rows.Close()
	var out []*Declaration
	for rows.Next() {
		d := &Declaration{}
		if err := rows.Scan(&d.Name, &d.Hash, &d.Record); err != nil {
			return nil, fmt.Errorf("scan declaration: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// --- String table ---

// Strings returns the stored string table in index order.
func (s *Store) Strings() ([]string, error) {
	rows, err := s.db.Query("SELECT idx, value FROM strings ORDER BY idx")
	if err != nil {
		return nil, fmt.Errorf("strings: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var idx int
		var v string
		if err := rows.Scan(&idx, &v); err != nil {
			return nil, fmt.Errorf("scan string: %w", err)
		}
		if idx != len(out) {
			return nil, fmt.Errorf("strings: gap at index %d", len(out))
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func replaceStringsTx(tx *sql.Tx, ss []string) error {
	if _, err := tx.Exec("DELETE FROM strings"); err != nil {
		return fmt.Errorf("clear strings: %w", err)
	}
	stmt, err := tx.Prepare("INSERT INTO strings (idx, value) VALUES (?, ?)")
	if err != nil {
		return fmt.Errorf("prepare strings: %w", err)
	}
	defer stmt.Close()
	for i, v := range ss {
		if _, err := stmt.Exec(i, v); err != nil {
			return fmt.Errorf("insert string %d: %w", i, err)
		}
	}
	return nil
}
