// Package chunkindex implements the client-side relational index of a
// backup's folder/file/chunk hierarchy, persisted as a portable single-file
// SQLite database so a backup can be restored on any host.
package chunkindex

import (
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

var ErrNotFound = errors.New("chunkindex: row not found")

// Folder is a node in the rooted forest of backed-up directories.
// ParentFolder is nil for a root folder.
type Folder struct {
	ID           int64
	Name         string
	ParentFolder *int64
}

// File belongs to exactly one folder. LastChangeDate is stored local-naive:
// restoration is assumed to happen on the original or an equivalent host.
type File struct {
	ID             int64
	Name           string
	LastChangeDate time.Time
	Folder         int64
}

// Chunk belongs to exactly one file. Predecessor is reserved for a future
// multi-chunk-per-file design and is always nil today.
type Chunk struct {
	ID              int64
	ChunkIdentifier string
	File            int64
	Predecessor     *int64
}

// Index is a single backup's chunk-index database.
type Index struct {
	db *sql.DB
}

// Open opens (creating the schema if absent) the chunk-index file at path.
// The same call serves both a fresh build (empty file) and a restored
// manifest (already-populated file downloaded from a node).
func Open(path string) (*Index, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("chunkindex: open %s: %w", path, err)
	}
	idx := &Index{db: db}
	if err := idx.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return idx, nil
}

func (idx *Index) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS folders (
			id            INTEGER PRIMARY KEY AUTOINCREMENT,
			name          TEXT NOT NULL,
			parent_folder INTEGER
		);
		CREATE TABLE IF NOT EXISTS files (
			id               INTEGER PRIMARY KEY AUTOINCREMENT,
			name             TEXT NOT NULL,
			last_change_date DATETIME NOT NULL,
			folder           INTEGER NOT NULL
		);
		CREATE TABLE IF NOT EXISTS chunks (
			id               INTEGER PRIMARY KEY AUTOINCREMENT,
			chunk_identifier TEXT NOT NULL,
			file             INTEGER NOT NULL,
			predecessor      INTEGER
		);
	`
	if _, err := idx.db.Exec(schema); err != nil {
		return fmt.Errorf("chunkindex: init schema: %w", err)
	}
	return nil
}

// Close closes the underlying database handle.
func (idx *Index) Close() error {
	return idx.db.Close()
}

// AddFolder inserts a folder row and returns it with its assigned id.
// modernc.org/sqlite's driver exposes LastInsertId, which stands in for the
// insert-then-requery dance a RETURNING-less driver would otherwise need.
func (idx *Index) AddFolder(name string, parent *int64) (Folder, error) {
	res, err := idx.db.Exec(`INSERT INTO folders (name, parent_folder) VALUES (?, ?)`, name, parent)
	if err != nil {
		return Folder{}, fmt.Errorf("chunkindex: add_folder: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Folder{}, fmt.Errorf("chunkindex: add_folder: %w", err)
	}
	return Folder{ID: id, Name: name, ParentFolder: parent}, nil
}

// AddFile inserts a file row under folder and returns it with its id.
func (idx *Index) AddFile(name string, lastChangeDate time.Time, folder int64) (File, error) {
	res, err := idx.db.Exec(
		`INSERT INTO files (name, last_change_date, folder) VALUES (?, ?, ?)`,
		name, lastChangeDate, folder,
	)
	if err != nil {
		return File{}, fmt.Errorf("chunkindex: add_file: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return File{}, fmt.Errorf("chunkindex: add_file: %w", err)
	}
	return File{ID: id, Name: name, LastChangeDate: lastChangeDate, Folder: folder}, nil
}

// AddChunk inserts a chunk row pointing at file. Predecessor is currently
// always nil (one chunk per file).
func (idx *Index) AddChunk(chunkIdentifier string, file int64, predecessor *int64) (Chunk, error) {
	res, err := idx.db.Exec(
		`INSERT INTO chunks (chunk_identifier, file, predecessor) VALUES (?, ?, ?)`,
		chunkIdentifier, file, predecessor,
	)
	if err != nil {
		return Chunk{}, fmt.Errorf("chunkindex: add_chunk: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Chunk{}, fmt.Errorf("chunkindex: add_chunk: %w", err)
	}
	return Chunk{ID: id, ChunkIdentifier: chunkIdentifier, File: file, Predecessor: predecessor}, nil
}

// GetAllChunks returns every chunk row.
func (idx *Index) GetAllChunks() ([]Chunk, error) {
	rows, err := idx.db.Query(`SELECT id, chunk_identifier, file, predecessor FROM chunks`)
	if err != nil {
		return nil, fmt.Errorf("chunkindex: get_all_chunks: %w", err)
	}
	defer rows.Close()

	var out []Chunk
	for rows.Next() {
		var c Chunk
		var predecessor sql.NullInt64
		if err := rows.Scan(&c.ID, &c.ChunkIdentifier, &c.File, &predecessor); err != nil {
			return nil, fmt.Errorf("chunkindex: scan chunk row: %w", err)
		}
		if predecessor.Valid {
			v := predecessor.Int64
			c.Predecessor = &v
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// GetFoldersByParent returns the folders directly under parent. A nil
// parent means "root folders" (parent_folder IS NULL).
func (idx *Index) GetFoldersByParent(parent *int64) ([]Folder, error) {
	var rows *sql.Rows
	var err error
	if parent == nil {
		rows, err = idx.db.Query(`SELECT id, name, parent_folder FROM folders WHERE parent_folder IS NULL`)
	} else {
		rows, err = idx.db.Query(`SELECT id, name, parent_folder FROM folders WHERE parent_folder = ?`, *parent)
	}
	if err != nil {
		return nil, fmt.Errorf("chunkindex: get_folders_by_parent: %w", err)
	}
	defer rows.Close()

	var out []Folder
	for rows.Next() {
		var f Folder
		var parentFolder sql.NullInt64
		if err := rows.Scan(&f.ID, &f.Name, &parentFolder); err != nil {
			return nil, fmt.Errorf("chunkindex: scan folder row: %w", err)
		}
		if parentFolder.Valid {
			v := parentFolder.Int64
			f.ParentFolder = &v
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// GetFilePath reconstructs fileID's path relative to the backup root by
// walking the parent-folder chain, within a single transaction so a
// concurrent mutation is never observed mid-walk.
func (idx *Index) GetFilePath(fileID int64) (string, error) {
	tx, err := idx.db.Begin()
	if err != nil {
		return "", fmt.Errorf("chunkindex: get_file_path: begin: %w", err)
	}
	defer tx.Rollback()

	var fileName string
	var folderID int64
	err = tx.QueryRow(`SELECT name, folder FROM files WHERE id = ?`, fileID).Scan(&fileName, &folderID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("chunkindex: get_file_path: load file %d: %w", fileID, err)
	}

	parts := []string{fileName}
	currentFolder := &folderID
	for currentFolder != nil {
		var name string
		var parentFolder sql.NullInt64
		err := tx.QueryRow(`SELECT name, parent_folder FROM folders WHERE id = ?`, *currentFolder).Scan(&name, &parentFolder)
		if err != nil {
			return "", fmt.Errorf("chunkindex: get_file_path: load folder %d: %w", *currentFolder, err)
		}
		parts = append([]string{name}, parts...)
		if parentFolder.Valid {
			v := parentFolder.Int64
			currentFolder = &v
		} else {
			currentFolder = nil
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("chunkindex: get_file_path: commit: %w", err)
	}
	return filepath.Join(parts...), nil
}
