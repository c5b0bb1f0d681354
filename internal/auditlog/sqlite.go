package auditlog

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS audit_leaves (
	leaf_index  INTEGER PRIMARY KEY,
	leaf_hash   BLOB NOT NULL,
	entry       BLOB NOT NULL
);
`

// SQLiteStore persists leaves in a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at path. ":memory:" works
// because the pool is held to a single connection.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma: %w", err)
	}
	if _, err := db.Exec("PRAGMA synchronous=FULL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma sync: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Append(ctx context.Context, rec Record) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_leaves (leaf_index, leaf_hash, entry) VALUES (?, ?, ?)`,
		int64(rec.Index), rec.LeafHash[:], rec.Entry,
	)
	if err != nil {
		return fmt.Errorf("insert leaf %d: %w", rec.Index, err)
	}
	return nil
}

func (s *SQLiteStore) Load(ctx context.Context) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT leaf_index, leaf_hash, entry FROM audit_leaves ORDER BY leaf_index`)
	if err != nil {
		return nil, fmt.Errorf("query leaves: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			idx   int64
			hash  []byte
			entry []byte
		)
		if err := rows.Scan(&idx, &hash, &entry); err != nil {
			return nil, fmt.Errorf("scan leaf: %w", err)
		}
		rec, err := newRecord(idx, hash, entry)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func newRecord(idx int64, hash, entry []byte) (Record, error) {
	if idx < 0 {
		return Record{}, fmt.Errorf("%w: negative leaf index %d", ErrCorruptStore, idx)
	}
	if len(hash) != len(Hash{}) {
		return Record{}, fmt.Errorf("%w: leaf %d hash has %d bytes", ErrCorruptStore, idx, len(hash))
	}
	var h Hash
	copy(h[:], hash)
	return Record{Index: uint64(idx), LeafHash: h, Entry: entry}, nil
}
