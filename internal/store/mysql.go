package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/go-sql-driver/mysql"
)

// MySQLStore is a MySQL-backed Store for deployments that prefer a shared
// database server over a per-process SQLite file — grounded on the
// teacher's go.mod direct dependency on github.com/go-sql-driver/mysql
// (used there for a MySQL store backend alongside SQLiteStore).
type MySQLStore struct {
	db *sql.DB
}

// NewMySQLStore opens a connection pool against dsn and ensures the kv
// table exists. dsn follows go-sql-driver/mysql's DSN format, e.g.
// "user:pass@tcp(127.0.0.1:3306)/erasureflow?parseTime=true".
func NewMySQLStore(ctx context.Context, dsn string) (*MySQLStore, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open mysql: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: ping mysql: %w", err)
	}
	s := &MySQLStore{db: db}
	if err := s.createSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *MySQLStore) createSchema(ctx context.Context) error {
	const schema = `
CREATE TABLE IF NOT EXISTS kv (
	ns VARCHAR(191) NOT NULL,
	kkey VARCHAR(191) NOT NULL,
	value LONGBLOB NOT NULL,
	PRIMARY KEY (ns, kkey)
) ENGINE=InnoDB;
`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("store: create mysql schema: %w", err)
	}
	return nil
}

func (s *MySQLStore) Get(ctx context.Context, ns, key string) ([]byte, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE ns = ? AND kkey = ?`, ns, key)
	var v []byte
	if err := row.Scan(&v); err != nil {
		if err == sql.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("store: mysql get %s/%s: %w", ns, key, err)
	}
	return v, true, nil
}

func (s *MySQLStore) Set(ctx context.Context, ns, key string, value []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO kv (ns, kkey, value) VALUES (?, ?, ?)
		 ON DUPLICATE KEY UPDATE value = VALUES(value)`,
		ns, key, value)
	if err != nil {
		return fmt.Errorf("store: mysql set %s/%s: %w", ns, key, err)
	}
	return nil
}

func (s *MySQLStore) Delete(ctx context.Context, ns, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE ns = ? AND kkey = ?`, ns, key)
	if err != nil {
		return fmt.Errorf("store: mysql delete %s/%s: %w", ns, key, err)
	}
	return nil
}

func (s *MySQLStore) GetGroup(ctx context.Context, ns string) ([][]byte, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT value FROM kv WHERE ns = ?`, ns)
	if err != nil {
		return nil, fmt.Errorf("store: mysql get group %s: %w", ns, err)
	}
	defer rows.Close()
	var out [][]byte
	for rows.Next() {
		var v []byte
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("store: mysql scan group %s: %w", ns, err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (s *MySQLStore) Keys(ctx context.Context, ns, prefix string) ([]string, error) {
	escaped := strings.NewReplacer("\\", "\\\\", "%", "\\%", "_", "\\_").Replace(prefix)
	rows, err := s.db.QueryContext(ctx,
		`SELECT kkey FROM kv WHERE ns = ? AND kkey LIKE ? ESCAPE '\\'`, ns, escaped+"%")
	if err != nil {
		return nil, fmt.Errorf("store: mysql keys %s: %w", ns, err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("store: mysql scan keys %s: %w", ns, err)
		}
		out = append(out, k)
	}
	return out, rows.Err()
}

func (s *MySQLStore) CheckAndSet(ctx context.Context, ns, key string, expectFound bool, expect, newValue []byte) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("store: mysql begin cas tx: %w", err)
	}
	defer tx.Rollback()

	var current []byte
	row := tx.QueryRowContext(ctx, `SELECT value FROM kv WHERE ns = ? AND kkey = ? FOR UPDATE`, ns, key)
	err = row.Scan(&current)
	found := err == nil
	if err != nil && err != sql.ErrNoRows {
		return false, fmt.Errorf("store: mysql cas read %s/%s: %w", ns, key, err)
	}
	if found != expectFound || (found && string(current) != string(expect)) {
		return false, nil
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO kv (ns, kkey, value) VALUES (?, ?, ?)
		 ON DUPLICATE KEY UPDATE value = VALUES(value)`,
		ns, key, newValue); err != nil {
		return false, fmt.Errorf("store: mysql cas write %s/%s: %w", ns, key, err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("store: mysql cas commit %s/%s: %w", ns, key, err)
	}
	return true, nil
}

func (s *MySQLStore) Close() error {
	return s.db.Close()
}
