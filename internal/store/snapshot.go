package store

import (
	"fmt"
	"sort"
	"time"
)

// ReadSnapshot loads the whole cache database.
func (s *Store) ReadSnapshot() (*Snapshot, error) {
	snap := &Snapshot{Meta: make(map[string]string)}

	rows, err := s.db.Query("SELECT key, value FROM metadata")
	if err != nil {
		return nil, fmt.Errorf("read snapshot: metadata: %w", err)
	}
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			rows.Close()
			return nil, fmt.Errorf("read snapshot: scan metadata: %w", err)
		}
		snap.Meta[k] = v
	}
	rows.Close()

	if snap.Strings, err = s.Strings(); err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}

	files, err := s.Files()
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	byID := make(map[int64]*SnapshotFile, len(files))
	for _, f := range files {
		sf := &SnapshotFile{Path: f.Path, ModifiedTime: f.ModifiedTime}
		byID[f.ID] = sf
		snap.Files = append(snap.Files, sf)
	}

	rows, err = s.db.Query("SELECT file_id, seq, name, hash FROM file_declarations ORDER BY file_id, seq, name")
	if err != nil {
		return nil, fmt.Errorf("read snapshot: file declarations: %w", err)
	}
	for rows.Next() {
		fd := &FileDeclaration{}
		if err := rows.Scan(&fd.FileID, &fd.Seq, &fd.Name, &fd.Hash); err != nil {
			rows.Close()
			return nil, fmt.Errorf("read snapshot: scan file declaration: %w", err)
		}
		if sf, ok := byID[fd.FileID]; ok {
			sf.Declarations = append(sf.Declarations, fd)
		}
	}
	rows.Close()

	if snap.Declarations, err = s.Declarations(); err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	return snap, nil
}

// WriteSnapshot replaces the database contents with snap in a single
// transaction.
//
// Insert order respects FK dependencies:
//  1. Metadata and strings (no dependencies)
//  2. Files
//  3. FileDeclarations (depend on file_id)
//  4. Declarations
func (s *Store) WriteSnapshot(snap *Snapshot) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("write snapshot: begin: %w", err)
	}
	defer tx.Rollback()

	if err := resetTx(tx); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}

	// 1. Metadata and strings
	keys := make([]string, 0, len(snap.Meta))
	for k := range snap.Meta {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if _, err := tx.Exec("INSERT INTO metadata (key, value) VALUES (?, ?)", k, snap.Meta[k]); err != nil {
			return fmt.Errorf("write snapshot: metadata %s: %w", k, err)
		}
	}
	if err := replaceStringsTx(tx, snap.Strings); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}

	// 2-3. Files and their declaration links
	now := time.Now()
	for _, sf := range snap.Files {
		f := &File{Path: sf.Path, ModifiedTime: sf.ModifiedTime, LastBuilt: now}
		fileID, err := insertFileTx(tx, f)
		if err != nil {
			return fmt.Errorf("write snapshot: file %q: %w", sf.Path, err)
		}
		for i, d := range sf.Declarations {
			fd := &FileDeclaration{FileID: fileID, Seq: i, Name: d.Name, Hash: d.Hash}
			if err := insertFileDeclarationTx(tx, fd); err != nil {
				return fmt.Errorf("write snapshot: %w", err)
			}
		}
	}

	// 4. Declarations
	for _, d := range snap.Declarations {
		if err := upsertDeclarationTx(tx, d); err != nil {
			return fmt.Errorf("write snapshot: %w", err)
		}
	}

	return tx.Commit()
}
