// Package savefile stores object snapshots in a SQLite database, keyed by a
// save name.
package savefile

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/chazu/dreamcore/vm"
	"github.com/chazu/dreamcore/vm/snapshot"
	"github.com/gofrs/uuid"
	"github.com/tliron/commonlog"

	_ "modernc.org/sqlite"
)

var log = commonlog.GetLogger("dream.savefile")

// ErrNotFound indicates the requested save doesn't exist.
var ErrNotFound = errors.New("save not found")

// Entry describes one stored save.
type Entry struct {
	ID      uuid.UUID
	Name    string
	Type    vm.Path
	Size    int
	SavedAt time.Time
}

// Store handles SQLite storage for snapshots.
type Store struct {
	db     *sql.DB
	dbPath string
	mu     sync.Mutex
}

// Open opens (creating if needed) the database at dbPath.
func Open(dbPath string) (*Store, error) {
	if dir := filepath.Dir(dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating savefile directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Set busy timeout for concurrent access
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS saves (
		id       TEXT PRIMARY KEY,
		name     TEXT NOT NULL UNIQUE,
		type     TEXT NOT NULL,
		data     BLOB NOT NULL,
		saved_at INTEGER NOT NULL
	)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating table: %w", err)
	}
	return &Store{db: db, dbPath: dbPath}, nil
}

// Path returns the database file.
func (s *Store) Path() string { return s.dbPath }

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Save snapshots obj under name, replacing an earlier save of the same name.
// The record keeps the ID it was first given.
func (s *Store) Save(name string, obj *vm.Object) (uuid.UUID, error) {
	data, err := snapshot.Encode(obj, obj.Tree().Refs())
	if err != nil {
		return uuid.Nil, err
	}
	id, err := uuid.NewV4()
	if err != nil {
		return uuid.Nil, fmt.Errorf("generating save id: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.db.Exec(`INSERT INTO saves (id, name, type, data, saved_at) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET type = excluded.type, data = excluded.data, saved_at = excluded.saved_at`,
		id.String(), name, string(obj.Type()), data, time.Now().UnixNano())
	if err != nil {
		return uuid.Nil, fmt.Errorf("saving %s: %w", name, err)
	}

	var stored string
	if err := s.db.QueryRow("SELECT id FROM saves WHERE name = ?", name).Scan(&stored); err != nil {
		return uuid.Nil, fmt.Errorf("reading back %s: %w", name, err)
	}
	log.Infof("saved %s as %q (%d bytes)", obj, name, len(data))
	return uuid.FromString(stored)
}

// Load applies the save called name onto obj. A save holding object
// references only loads into the session that wrote it; elsewhere it fails
// with snapshot.ErrDanglingReference.
func (s *Store) Load(name string, obj *vm.Object) error {
	var data []byte
	err := s.db.QueryRow("SELECT data FROM saves WHERE name = ?", name).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return fmt.Errorf("querying %s: %w", name, err)
	}
	return snapshot.Apply(obj, data, obj.Tree().Refs())
}

// List returns every save, most recent first.
func (s *Store) List() ([]Entry, error) {
	rows, err := s.db.Query("SELECT id, name, type, length(data), saved_at FROM saves ORDER BY saved_at DESC, name")
	if err != nil {
		return nil, fmt.Errorf("listing saves: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			id, name, typ string
			size          int
			savedAt       int64
		)
		if err := rows.Scan(&id, &name, &typ, &size, &savedAt); err != nil {
			return nil, fmt.Errorf("scanning save: %w", err)
		}
		uid, err := uuid.FromString(id)
		if err != nil {
			return nil, fmt.Errorf("save %s has a malformed id: %w", name, err)
		}
		entries = append(entries, Entry{
			ID:      uid,
			Name:    name,
			Type:    vm.Path(typ),
			Size:    size,
			SavedAt: time.Unix(0, savedAt),
		})
	}
	return entries, rows.Err()
}

// Remove deletes the save called name.
func (s *Store) Remove(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec("DELETE FROM saves WHERE name = ?", name)
	if err != nil {
		return fmt.Errorf("removing %s: %w", name, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return nil
}
