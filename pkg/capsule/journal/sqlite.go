package journal

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/mitchellh/go-homedir"
	_ "modernc.org/sqlite"
)

var sqliteSchema = []string{
	`PRAGMA journal_mode=WAL`,
	`CREATE TABLE IF NOT EXISTS journal (
		queue TEXT NOT NULL,
		seq INTEGER NOT NULL,
		appended_at TEXT NOT NULL,
		data BLOB NOT NULL,
		PRIMARY KEY (queue, seq)
	)`,
}

const (
	sqlAppend = `INSERT INTO journal (queue, seq, appended_at, data) VALUES (?, ?, ?, ?)
		ON CONFLICT(queue, seq) DO UPDATE SET appended_at = excluded.appended_at, data = excluded.data`
	sqlDelete   = `DELETE FROM journal WHERE queue = ? AND seq = ?`
	sqlTruncate = `DELETE FROM journal WHERE queue = ?`
	sqlList     = `SELECT seq, appended_at, data FROM journal WHERE queue = ? ORDER BY seq`
	sqlQueues   = `SELECT DISTINCT queue FROM journal ORDER BY queue`
)

// SQLiteStore keeps the journal in a SQLite file so it survives restarts.
type SQLiteStore struct {
	mu sync.RWMutex
	db *sql.DB // nil once closed
}

// NewSQLiteStore opens the journal at path, creating it if needed. A
// leading "~" is expanded; ":memory:" gives a private in-memory database.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	dsn, err := homedir.Expand(path)
	if err != nil {
		return nil, fmt.Errorf("journal path %q: %w", path, err)
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open journal %q: %w", dsn, err)
	}
	// ":memory:" is per connection.
	db.SetMaxOpenConns(1)
	for _, stmt := range sqliteSchema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("prepare journal %q: %w", dsn, err)
		}
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) exec(what, query string, args ...any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return ErrStoreClosed
	}
	if _, err := s.db.Exec(query, args...); err != nil {
		return fmt.Errorf("journal %s: %w", what, err)
	}
	return nil
}

func (s *SQLiteStore) Append(queue string, seq uint64, data []byte) error {
	if data == nil {
		data = []byte{}
	}
	stamp := time.Now().UTC().Format(time.RFC3339Nano)
	return s.exec("append", sqlAppend, queue, int64(seq), stamp, data)
}

func (s *SQLiteStore) Delete(queue string, seq uint64) error {
	return s.exec("delete", sqlDelete, queue, int64(seq))
}

func (s *SQLiteStore) Truncate(queue string) error {
	return s.exec("truncate", sqlTruncate, queue)
}

// query runs a read and hands each row to scan.
func (s *SQLiteStore) query(what string, scan func(*sql.Rows) error, query string, args ...any) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return ErrStoreClosed
	}
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return fmt.Errorf("journal %s: %w", what, err)
	}
	defer rows.Close()
	for rows.Next() {
		if err := scan(rows); err != nil {
			return fmt.Errorf("journal %s: %w", what, err)
		}
	}
	return rows.Err()
}

func (s *SQLiteStore) List(queue string) ([]Entry, error) {
	entries := []Entry{}
	err := s.query("list", func(rows *sql.Rows) error {
		var (
			seq   int64
			stamp string
			data  []byte
		)
		if err := rows.Scan(&seq, &stamp, &data); err != nil {
			return err
		}
		at, _ := time.Parse(time.RFC3339Nano, stamp)
		entries = append(entries, Entry{Queue: queue, Seq: uint64(seq), Timestamp: at, Data: data})
		return nil
	}, sqlList, queue)
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func (s *SQLiteStore) Queues() ([]string, error) {
	names := []string{}
	err := s.query("queues", func(rows *sql.Rows) error {
		var name string
		if err := rows.Scan(&name); err != nil {
			return err
		}
		names = append(names, name)
		return nil
	}, sqlQueues)
	if err != nil {
		return nil, err
	}
	return names, nil
}

// Close closes the database. Closing twice is a no-op.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}
