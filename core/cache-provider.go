package core

import (
	"database/sql"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	_ "github.com/glebarez/go-sqlite"
)

// Index keeps track of the artifacts stored on disk.
// The cache files themselves are the source of truth for hits;
// the index remembers where they came from and when.
//
// Implementations must be thread-safe!
type Index interface {
	// Get returns the entry for the given key, if it exists.
	Get(key string) (IndexEntry, bool, error)
	// Put stores the entry, replacing any entry with the same key.
	Put(entry IndexEntry) error
	// All returns all entries whose key has the given prefix, ordered by key.
	All(prefix string) ([]IndexEntry, error)
	// Purge removes the entry for the given key.
	Purge(key string) error
	// Close releases the underlying storage.
	Close() error
}

type IndexEntry struct {
	// Key is the normalized URL of the resource.
	Key         string    `json:"key"`
	Path        string    `json:"path"`
	Size        int64     `json:"size"`
	StatusCode  int       `json:"status"`
	ContentType string    `json:"contentType,omitempty"`
	FetchedAt   time.Time `json:"fetchedAt"`
}

type MemIndex struct {
	mutex *sync.RWMutex
	db    map[string]IndexEntry
}

func NewMemIndex() MemIndex {
	return MemIndex{
		mutex: &sync.RWMutex{},
		db:    make(map[string]IndexEntry),
	}
}

func (m MemIndex) Get(key string) (IndexEntry, bool, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	entry, ok := m.db[key]
	return entry, ok, nil
}

func (m MemIndex) Put(entry IndexEntry) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.db[entry.Key] = entry
	return nil
}

func (m MemIndex) All(prefix string) ([]IndexEntry, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	entries := make([]IndexEntry, 0)
	for key, entry := range m.db {
		if strings.HasPrefix(key, prefix) {
			entries = append(entries, entry)
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })
	return entries, nil
}

func (m MemIndex) Purge(key string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	delete(m.db, key)
	return nil
}

func (m MemIndex) Close() error {
	return nil
}

type SQLiteIndex struct {
	db         *sql.DB
	writeMutex *sync.Mutex
}

// NewSQLiteIndex opens (or creates) the index database.
// Use "memory" as the filename for an in-memory database.
func NewSQLiteIndex(filename string) (SQLiteIndex, error) {
	if filename == "memory" {
		filename = "file::memory:?cache=shared"
	}
	db, err := sql.Open("sqlite", filename)
	if err != nil {
		return SQLiteIndex{}, err
	}
	for _, stmt := range []string{
		"CREATE TABLE IF NOT EXISTS artifacts (key TEXT PRIMARY KEY, path TEXT, size INTEGER, status INTEGER, content_type TEXT, fetched_at INTEGER)",
		"CREATE INDEX IF NOT EXISTS fetched_at_idx ON artifacts (fetched_at)",
		"PRAGMA journal_mode=WAL",
	} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return SQLiteIndex{}, err
		}
	}
	return SQLiteIndex{
		db:         db,
		writeMutex: &sync.Mutex{},
	}, nil
}

func (s SQLiteIndex) Get(key string) (IndexEntry, bool, error) {
	var entry IndexEntry
	var fetchedAt int64
	err := s.db.QueryRow("SELECT key, path, size, status, content_type, fetched_at FROM artifacts WHERE key = ?", key).
		Scan(&entry.Key, &entry.Path, &entry.Size, &entry.StatusCode, &entry.ContentType, &fetchedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return entry, false, nil
	}
	if err != nil {
		return entry, false, err
	}
	entry.FetchedAt = time.Unix(fetchedAt, 0)
	return entry, true, nil
}

func (s SQLiteIndex) Put(entry IndexEntry) error {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	_, err := s.db.Exec("INSERT OR REPLACE INTO artifacts (key, path, size, status, content_type, fetched_at) VALUES (?, ?, ?, ?, ?, ?)",
		entry.Key, entry.Path, entry.Size, entry.StatusCode, entry.ContentType, entry.FetchedAt.Unix())
	return err
}

func (s SQLiteIndex) All(prefix string) ([]IndexEntry, error) {
	entries := make([]IndexEntry, 0)
	rows, err := s.db.Query("SELECT key, path, size, status, content_type, fetched_at FROM artifacts WHERE key LIKE ? ESCAPE '\\' ORDER BY key", likePrefix(prefix))
	if err != nil {
		return entries, err
	}
	defer rows.Close()
	for rows.Next() {
		var entry IndexEntry
		var fetchedAt int64
		if err := rows.Scan(&entry.Key, &entry.Path, &entry.Size, &entry.StatusCode, &entry.ContentType, &fetchedAt); err != nil {
			return entries, err
		}
		entry.FetchedAt = time.Unix(fetchedAt, 0)
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func (s SQLiteIndex) Purge(key string) error {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	_, err := s.db.Exec("DELETE FROM artifacts WHERE key = ?", key)
	return err
}

func (s SQLiteIndex) Close() error {
	return s.db.Close()
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func likePrefix(prefix string) string {
	return likeEscaper.Replace(prefix) + "%"
}
