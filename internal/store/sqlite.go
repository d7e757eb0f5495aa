package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	_ "modernc.org/sqlite"
)

// SQLiteStore is a SQLite-backed Store, grounded on the teacher's
// graph/store/sqlite.go SQLiteStore[S]: single-writer WAL-mode database,
// auto-migrated on first use, pure-Go driver (modernc.org/sqlite, no
// cgo) so the binary stays cross-compilable the way the teacher's does.
//
// Unlike the teacher's store, which persists one typed state snapshot per
// run, this store persists opaque namespaced bytes — every component owns
// its own record encoding and calls Get/Set directly.
type SQLiteStore struct {
	db   *sql.DB
	mu   sync.Mutex
	path string
}

// NewSQLiteStore opens (creating if necessary) a SQLite database at path
// and ensures its schema exists. Use ":memory:" for ephemeral/test stores.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	ctx := context.Background()
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("store: apply %q: %w", pragma, err)
		}
	}

	s := &SQLiteStore{db: db, path: path}
	if err := s.createSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) createSchema(ctx context.Context) error {
	const schema = `
CREATE TABLE IF NOT EXISTS kv (
	ns TEXT NOT NULL,
	key TEXT NOT NULL,
	value BLOB NOT NULL,
	PRIMARY KEY (ns, key)
);
CREATE INDEX IF NOT EXISTS idx_kv_ns ON kv(ns);
`
	_, err := s.db.ExecContext(ctx, schema)
	if err != nil {
		return fmt.Errorf("store: create schema: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, ns, key string) ([]byte, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE ns = ? AND key = ?`, ns, key)
	var v []byte
	if err := row.Scan(&v); err != nil {
		if err == sql.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("store: get %s/%s: %w", ns, key, err)
	}
	return v, true, nil
}

func (s *SQLiteStore) Set(ctx context.Context, ns, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO kv (ns, key, value) VALUES (?, ?, ?)
		 ON CONFLICT(ns, key) DO UPDATE SET value = excluded.value`,
		ns, key, value)
	if err != nil {
		return fmt.Errorf("store: set %s/%s: %w", ns, key, err)
	}
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, ns, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE ns = ? AND key = ?`, ns, key)
	if err != nil {
		return fmt.Errorf("store: delete %s/%s: %w", ns, key, err)
	}
	return nil
}

func (s *SQLiteStore) GetGroup(ctx context.Context, ns string) ([][]byte, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT value FROM kv WHERE ns = ?`, ns)
	if err != nil {
		return nil, fmt.Errorf("store: get group %s: %w", ns, err)
	}
	defer rows.Close()
	var out [][]byte
	for rows.Next() {
		var v []byte
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("store: scan group %s: %w", ns, err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Keys(ctx context.Context, ns, prefix string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key FROM kv WHERE ns = ? AND key LIKE ? ESCAPE '\'`,
		ns, escapeLike(prefix)+"%")
	if err != nil {
		return nil, fmt.Errorf("store: keys %s: %w", ns, err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("store: scan keys %s: %w", ns, err)
		}
		out = append(out, k)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) CheckAndSet(ctx context.Context, ns, key string, expectFound bool, expect, newValue []byte) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("store: begin cas tx: %w", err)
	}
	defer tx.Rollback()

	var current []byte
	row := tx.QueryRowContext(ctx, `SELECT value FROM kv WHERE ns = ? AND key = ?`, ns, key)
	err = row.Scan(&current)
	found := err == nil
	if err != nil && err != sql.ErrNoRows {
		return false, fmt.Errorf("store: cas read %s/%s: %w", ns, key, err)
	}
	if found != expectFound || (found && string(current) != string(expect)) {
		return false, nil
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO kv (ns, key, value) VALUES (?, ?, ?)
		 ON CONFLICT(ns, key) DO UPDATE SET value = excluded.value`,
		ns, key, newValue); err != nil {
		return false, fmt.Errorf("store: cas write %s/%s: %w", ns, key, err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("store: cas commit %s/%s: %w", ns, key, err)
	}
	return true, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func escapeLike(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '%' || c == '_' || c == '\\' {
			out = append(out, '\\')
		}
		out = append(out, c)
	}
	return string(out)
}
