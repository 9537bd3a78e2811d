// Package store is the persistent record store: one SQLite table of
// (key, value) rows where every entity type owns a key prefix. Handlers are
// stateless, so this table is the only state shared between events.
package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when no record exists under the given key.
var ErrNotFound = errors.New("record not found")

// Record is implemented by every persisted entity type. Prefix returns the
// type's key namespace within the shared table.
type Record interface {
	Prefix() string
}

// Store handles SQLite persistence.
type Store struct {
	db *sql.DB
}

// New opens (or creates) the database and runs migrations.
func New(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// WAL mode for better concurrent reads
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS records (
			pk    TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);
	`)
	return err
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func key[T Record](k string) string {
	var zero T
	return zero.Prefix() + ":" + k
}

// Put writes a record, replacing any previous value under the same key.
func Put[T Record](s *Store, k string, value T) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO records (pk, value) VALUES (?, ?)
		ON CONFLICT(pk) DO UPDATE SET value = excluded.value
	`, key[T](k), string(data))
	return err
}

// Get loads the record stored under k, or ErrNotFound.
func Get[T Record](s *Store, k string) (T, error) {
	var value T
	var raw string
	err := s.db.QueryRow("SELECT value FROM records WHERE pk = ?", key[T](k)).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return value, ErrNotFound
	}
	if err != nil {
		return value, err
	}
	if err := json.Unmarshal([]byte(raw), &value); err != nil {
		return value, fmt.Errorf("unmarshal record: %w", err)
	}
	return value, nil
}

// Delete removes the record under k and returns the old value. Exactly one
// caller observes the old value; a concurrent second delete gets ErrNotFound,
// which makes Delete usable as an atomic claim on teardown paths.
func Delete[T Record](s *Store, k string) (T, error) {
	var value T
	var raw string
	err := s.db.QueryRow("DELETE FROM records WHERE pk = ? RETURNING value", key[T](k)).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return value, ErrNotFound
	}
	if err != nil {
		return value, err
	}
	if err := json.Unmarshal([]byte(raw), &value); err != nil {
		return value, fmt.Errorf("unmarshal record: %w", err)
	}
	return value, nil
}

// DeleteIf removes the record under k only if the stored value still equals
// expected, reporting whether a row was deleted. A disconnect that lost the
// race against a newer connect must not delete the newer entry.
func DeleteIf[T Record](s *Store, k string, expected T) (bool, error) {
	data, err := json.Marshal(expected)
	if err != nil {
		return false, fmt.Errorf("marshal record: %w", err)
	}
	res, err := s.db.Exec("DELETE FROM records WHERE pk = ? AND value = ?", key[T](k), string(data))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
