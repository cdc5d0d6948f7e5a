// Package archstore keeps named network architectures in a sqlite database so
// experiments can share and look up layer lists by name.
package archstore

import (
	"bytes"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	_ "github.com/mattn/go-sqlite3"

	// deadlock detecting mutex; database calls are serialized through it
	sync "github.com/sasha-s/go-deadlock"

	"github.com/tsawler/go-htr/layers"
)

// ErrNotFound is returned when no architecture has the requested name.
var ErrNotFound = errors.New("architecture not found")

// Debug logs every statement when set.
var Debug = false

// Record is one stored architecture.
type Record struct {
	Name         string
	Architecture layers.Architecture
	Downsampling int
	UpdatedAt    time.Time
}

// Store is a sqlite-backed architecture registry.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// Open opens (or creates) the database at path. Use ":memory:" for a private
// in-memory database.
func Open(path string) (*Store, error) {
	sdb, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open architecture store: %v", err)
	}
	// a single connection keeps ":memory:" databases alive across calls
	sdb.SetMaxOpenConns(1)

	s := &Store{db: sdb}
	if err := s.exec(`CREATE TABLE IF NOT EXISTS architectures (
		name TEXT PRIMARY KEY,
		spec TEXT NOT NULL,
		downsampling INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	)`); err != nil {
		sdb.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) exec(q string, args ...interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if Debug {
		log.Printf("[archstore] Exec: %v", q)
	}
	if _, err := s.db.Exec(q, args...); err != nil {
		return fmt.Errorf("architecture store: %v", err)
	}
	return nil
}

// Save validates arch and stores it under name, replacing any previous entry.
func (s *Store) Save(name string, arch layers.Architecture) error {
	if name == "" {
		return fmt.Errorf("architecture name must not be empty")
	}
	if err := arch.Validate(); err != nil {
		return err
	}
	down, err := arch.DownsamplingCount()
	if err != nil {
		return err
	}
	data, err := arch.MarshalCanonical()
	if err != nil {
		return err
	}
	return s.exec(
		`INSERT INTO architectures (name, spec, downsampling, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET spec = excluded.spec, downsampling = excluded.downsampling, updated_at = excluded.updated_at`,
		name, string(data), down, time.Now().UTC().UnixNano(),
	)
}

func decodeRecord(name, spec string, down int, updated int64) (*Record, error) {
	arch, err := layers.LoadArchitecture(bytes.NewReader([]byte(spec)))
	if err != nil {
		return nil, fmt.Errorf("stored architecture %q: %w", name, err)
	}
	return &Record{
		Name:         name,
		Architecture: arch,
		Downsampling: down,
		UpdatedAt:    time.Unix(0, updated).UTC(),
	}, nil
}

// Get returns the architecture stored under name.
func (s *Store) Get(name string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if Debug {
		log.Printf("[archstore] Get: %s", name)
	}

	var spec string
	var down int
	var updated int64
	err := s.db.QueryRow(
		"SELECT spec, downsampling, updated_at FROM architectures WHERE name = ?", name,
	).Scan(&spec, &down, &updated)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	} else if err != nil {
		return nil, fmt.Errorf("architecture store: %v", err)
	}
	return decodeRecord(name, spec, down, updated)
}

// List returns every stored architecture ordered by name.
func (s *Store) List() ([]*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query("SELECT name, spec, downsampling, updated_at FROM architectures ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("architecture store: %v", err)
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		var name, spec string
		var down int
		var updated int64
		if err := rows.Scan(&name, &spec, &down, &updated); err != nil {
			return nil, fmt.Errorf("architecture store: %v", err)
		}
		rec, err := decodeRecord(name, spec, down, updated)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("architecture store: %v", err)
	}
	return records, nil
}

// Delete removes name. Deleting a missing name returns ErrNotFound.
func (s *Store) Delete(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.db.Exec("DELETE FROM architectures WHERE name = ?", name)
	if err != nil {
		return fmt.Errorf("architecture store: %v", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("architecture store: %v", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}
