package auditlog

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS audit_leaves (
	leaf_index  BIGINT PRIMARY KEY,
	leaf_hash   BYTEA NOT NULL,
	entry       BYTEA NOT NULL
)`

// pgDB is the subset of *pgxpool.Pool the store uses.
type pgDB interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// PostgresStore persists leaves in PostgreSQL.
type PostgresStore struct {
	db    pgDB
	close func()
}

// NewPostgresStore connects to dsn and creates the leaf table if needed.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &PostgresStore{db: pool, close: pool.Close}, nil
}

func (s *PostgresStore) Append(ctx context.Context, rec Record) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO audit_leaves (leaf_index, leaf_hash, entry) VALUES ($1, $2, $3)`,
		int64(rec.Index), rec.LeafHash[:], rec.Entry,
	)
	if err != nil {
		return fmt.Errorf("insert leaf %d: %w", rec.Index, err)
	}
	return nil
}

func (s *PostgresStore) Load(ctx context.Context) ([]Record, error) {
	rows, err := s.db.Query(ctx,
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

func (s *PostgresStore) Close() error {
	if s.close != nil {
		s.close()
	}
	return nil
}
