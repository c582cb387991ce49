// Package metadata implements the node's transactional relational index of
// known chunk identifiers.
package metadata

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

var (
	ErrNotFound      = errors.New("metadata: chunk not found")
	ErrAlreadyExists = errors.New("metadata: chunk already exists")
)

// Chunk is the node-side view of a chunk: its identifier, retention
// deadline, and whether it is a backup manifest.
type Chunk struct {
	Identifier string
	Expiration time.Time
	RootHandle bool
}

// Store is a SQLite-backed chunk metadata table.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the metadata table at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("metadata: open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	store := &Store{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func (s *Store) initSchema() error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
	}
	for _, p := range pragmas {
		if _, err := s.db.Exec(p); err != nil {
			return fmt.Errorf("metadata: set pragma: %w", err)
		}
	}

	schema := `
		CREATE TABLE IF NOT EXISTS chunks (
			identifier      TEXT PRIMARY KEY,
			expiration_date DATETIME NOT NULL,
			root_handle     BOOLEAN NOT NULL
		);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("metadata: initialize schema: %w", err)
	}
	return nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Get returns the chunk row for identifier.
func (s *Store) Get(identifier string) (Chunk, error) {
	return scanChunkRow(s.db.QueryRow(
		`SELECT identifier, expiration_date, root_handle FROM chunks WHERE identifier = ?`,
		identifier,
	))
}

// Add inserts a new chunk row. It fails with ErrAlreadyExists if the
// identifier is already present.
func (s *Store) Add(c Chunk) (Chunk, error) {
	_, err := s.db.Exec(
		`INSERT INTO chunks (identifier, expiration_date, root_handle) VALUES (?, ?, ?)`,
		c.Identifier, c.Expiration.UTC(), c.RootHandle,
	)
	if err != nil {
		if isUniqueConstraintErr(err) {
			return Chunk{}, ErrAlreadyExists
		}
		return Chunk{}, fmt.Errorf("metadata: add %s: %w", c.Identifier, err)
	}
	return c, nil
}

// GetRootHandles returns every chunk flagged as a backup manifest.
func (s *Store) GetRootHandles() ([]Chunk, error) {
	rows, err := s.db.Query(
		`SELECT identifier, expiration_date, root_handle FROM chunks WHERE root_handle = 1`,
	)
	if err != nil {
		return nil, fmt.Errorf("metadata: get root handles: %w", err)
	}
	defer rows.Close()
	return scanChunkRows(rows)
}

// LoadRandom returns up to n rows chosen uniformly at random.
func (s *Store) LoadRandom(n int) ([]Chunk, error) {
	rows, err := s.db.Query(
		`SELECT identifier, expiration_date, root_handle FROM chunks ORDER BY RANDOM() LIMIT ?`,
		n,
	)
	if err != nil {
		return nil, fmt.Errorf("metadata: load random: %w", err)
	}
	defer rows.Close()
	return scanChunkRows(rows)
}

// UpdateMerge applies the merge-update rule in one transaction: the stored
// expiration becomes the later of the existing and new values, and
// root_handle becomes the logical OR of both. It writes only if something
// changed, and returns the post-image. ErrNotFound if the row is absent.
func (s *Store) UpdateMerge(c Chunk) (Chunk, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return Chunk{}, fmt.Errorf("metadata: begin transaction: %w", err)
	}
	defer tx.Rollback()

	existing, err := scanChunkRow(tx.QueryRow(
		`SELECT identifier, expiration_date, root_handle FROM chunks WHERE identifier = ?`,
		c.Identifier,
	))
	if err != nil {
		return Chunk{}, err
	}

	newExpiration := existing.Expiration
	if c.Expiration.After(existing.Expiration) {
		newExpiration = c.Expiration
	}
	newRootHandle := existing.RootHandle || c.RootHandle

	if !newExpiration.Equal(existing.Expiration) || newRootHandle != existing.RootHandle {
		if _, err := tx.Exec(
			`UPDATE chunks SET expiration_date = ?, root_handle = ? WHERE identifier = ?`,
			newExpiration.UTC(), newRootHandle, c.Identifier,
		); err != nil {
			return Chunk{}, fmt.Errorf("metadata: update_merge %s: %w", c.Identifier, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return Chunk{}, fmt.Errorf("metadata: commit update_merge %s: %w", c.Identifier, err)
	}

	return Chunk{Identifier: c.Identifier, Expiration: newExpiration, RootHandle: newRootHandle}, nil
}

// GetAndUpdate applies UpdateMerge to each chunk, returning only those that
// existed; missing rows are silently dropped (get_chunk_states answers
// "what do you have of these", it does not create rows as a side effect).
func (s *Store) GetAndUpdate(chunks []Chunk) ([]Chunk, error) {
	var out []Chunk
	for _, c := range chunks {
		updated, err := s.UpdateMerge(c)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, updated)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanChunkRow(row rowScanner) (Chunk, error) {
	var c Chunk
	if err := row.Scan(&c.Identifier, &c.Expiration, &c.RootHandle); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Chunk{}, ErrNotFound
		}
		return Chunk{}, fmt.Errorf("metadata: scan chunk row: %w", err)
	}
	c.Expiration = c.Expiration.UTC()
	return c, nil
}

func scanChunkRows(rows *sql.Rows) ([]Chunk, error) {
	var out []Chunk
	for rows.Next() {
		var c Chunk
		if err := rows.Scan(&c.Identifier, &c.Expiration, &c.RootHandle); err != nil {
			return nil, fmt.Errorf("metadata: scan chunk row: %w", err)
		}
		c.Expiration = c.Expiration.UTC()
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("metadata: iterate rows: %w", err)
	}
	return out, nil
}

func isUniqueConstraintErr(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
