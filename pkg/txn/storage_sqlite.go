package txn

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"

	"dal/runtime-go/pkg/runtime"
)

// SQLiteStorage keeps committed state in a kv_store table.
type SQLiteStorage struct {
	db *sql.DB
}

// OpenSQLiteStorage opens (or creates) the database at path. ":memory:"
// gives a private in-memory database.
func OpenSQLiteStorage(path string) (*SQLiteStorage, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite storage: empty path")
	}
	dsn := ":memory:"
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("sqlite storage: mkdir: %w", err)
		}
		dsn = fmt.Sprintf("file:%s?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000", path)
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite storage: open %s: %w", path, err)
	}
	// One connection keeps ":memory:" databases shared and serializes writers.
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite storage: ping: %w", err)
	}
	const schema = `CREATE TABLE IF NOT EXISTS kv_store (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	)`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite storage: create schema: %w", err)
	}
	Logger().Debug("sqlite storage opened")
	return &SQLiteStorage{db: db}, nil
}

func (s *SQLiteStorage) Get(key string) (runtime.Value, bool, error) {
	var encoded string
	err := s.db.QueryRow(`SELECT value FROM kv_store WHERE key = ?`, key).Scan(&encoded)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("sqlite storage: get %s: %w", key, err)
	}
	v, err := runtime.DecodeJSON([]byte(encoded))
	if err != nil {
		return nil, false, fmt.Errorf("sqlite storage: decode %s: %w", key, err)
	}
	return v, true, nil
}

func (s *SQLiteStorage) Apply(batch []Write) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("sqlite storage: begin: %w", err)
	}
	for _, w := range batch {
		if w.Delete {
			if _, err := tx.Exec(`DELETE FROM kv_store WHERE key = ?`, w.Key); err != nil {
				tx.Rollback()
				return fmt.Errorf("sqlite storage: delete %s: %w", w.Key, err)
			}
			continue
		}
		encoded, err := runtime.EncodeJSON(w.Value)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("sqlite storage: encode %s: %w", w.Key, err)
		}
		if _, err := tx.Exec(
			`INSERT INTO kv_store (key, value) VALUES (?, ?)
			 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
			w.Key, string(encoded),
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("sqlite storage: put %s: %w", w.Key, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite storage: commit: %w", err)
	}
	return nil
}

func (s *SQLiteStorage) Keys() ([]string, error) {
	rows, err := s.db.Query(`SELECT key FROM kv_store ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("sqlite storage: keys: %w", err)
	}
	defer rows.Close()
	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("sqlite storage: scan: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}
