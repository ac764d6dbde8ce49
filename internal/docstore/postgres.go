package docstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/lib/pq"
)

const (
	postgresDocumentsTableName = "cloutdash_documents"
	postgresOperationTimeout   = 10 * time.Second
)

type sqlOpenFunc func(driverName, dsn string) (*sql.DB, error)

// PostgresStore keeps every document as a row keyed by its full path. A batch commits in one
// transaction.
type PostgresStore struct {
	dsn       string
	tableName string
	maxOps    int
	openDB    sqlOpenFunc

	initOnce sync.Once
	initErr  error
	db       *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, errors.New("postgres store: empty dsn")
	}
	return &PostgresStore{
		dsn:       dsn,
		tableName: postgresDocumentsTableName,
		maxOps:    DefaultMaxBatchOps,
		openDB:    sql.Open,
	}, nil
}

func (s *PostgresStore) ensureReady() error {
	s.initOnce.Do(func() {
		db, err := s.openDB("postgres", s.dsn)
		if err != nil {
			s.initErr = err
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), postgresOperationTimeout)
		defer cancel()

		table := postgresQuoteIdentifier(s.tableName)
		stmts := []string{
			fmt.Sprintf(`
				CREATE TABLE IF NOT EXISTS %s (
					path TEXT PRIMARY KEY,
					collection TEXT NOT NULL,
					data JSONB NOT NULL,
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				)`, table),
			fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (collection)`,
				postgresQuoteIdentifier(s.tableName+"_collection_idx"), table),
		}
		for _, stmt := range stmts {
			if _, err := db.ExecContext(ctx, stmt); err != nil {
				_ = db.Close()
				s.initErr = err
				return
			}
		}
		s.db = db
	})
	return s.initErr
}

func (s *PostgresStore) Get(ctx context.Context, path string) ([]byte, error) {
	if err := s.ensureReady(); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()

	query := fmt.Sprintf("SELECT data FROM %s WHERE path = $1", postgresQuoteIdentifier(s.tableName))
	var payload string
	err := s.db.QueryRowContext(ctx, query, path).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return []byte(payload), nil
}

func (s *PostgresStore) Set(ctx context.Context, path string, value interface{}, merge bool) error {
	b := s.Batch()
	if err := b.Set(path, value, merge); err != nil {
		return err
	}
	return b.Commit(ctx)
}

func (s *PostgresStore) List(ctx context.Context, collection string) ([]string, error) {
	if err := s.ensureReady(); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()

	query := fmt.Sprintf("SELECT path FROM %s WHERE collection = $1 ORDER BY path", postgresQuoteIdentifier(s.tableName))
	rows, err := s.db.QueryContext(ctx, query, collection)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var path string
		if err := rows.Scan(&path); err != nil {
			return nil, err
		}
		ids = append(ids, Base(path))
	}
	return ids, rows.Err()
}

func (s *PostgresStore) Batch() Batch {
	return &postgresBatch{store: s}
}

func (s *PostgresStore) MaxBatchOps() int {
	return s.maxOps
}

func (s *PostgresStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *PostgresStore) commit(ctx context.Context, ops []operation) error {
	if err := s.ensureReady(); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	table := postgresQuoteIdentifier(s.tableName)
	upsert := fmt.Sprintf(`
		INSERT INTO %s (path, collection, data, updated_at)
		VALUES ($1, $2, $3::jsonb, NOW())
		ON CONFLICT (path)
		DO UPDATE SET data = EXCLUDED.data, updated_at = NOW()`, table)
	merge := fmt.Sprintf(`
		INSERT INTO %s (path, collection, data, updated_at)
		VALUES ($1, $2, $3::jsonb, NOW())
		ON CONFLICT (path)
		DO UPDATE SET data = %s.data || EXCLUDED.data, updated_at = NOW()`, table, table)
	del := fmt.Sprintf("DELETE FROM %s WHERE path = $1", table)

	for _, op := range ops {
		if !validPath(op.path) {
			return fmt.Errorf("invalid document path %q", op.path)
		}
		switch {
		case op.delete:
			_, err = tx.ExecContext(ctx, del, op.path)
		case op.merge:
			_, err = tx.ExecContext(ctx, merge, op.path, Parent(op.path), string(op.data))
		default:
			_, err = tx.ExecContext(ctx, upsert, op.path, Parent(op.path), string(op.data))
		}
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

type postgresBatch struct {
	store *PostgresStore
	ops   []operation
}

func (b *postgresBatch) Set(path string, value interface{}, merge bool) error {
	data, err := encode(value)
	if err != nil {
		return err
	}
	b.ops = append(b.ops, operation{path: path, data: data, merge: merge})
	return nil
}

func (b *postgresBatch) Delete(path string) {
	b.ops = append(b.ops, operation{path: path, delete: true})
}

func (b *postgresBatch) Len() int {
	return len(b.ops)
}

func (b *postgresBatch) Commit(ctx context.Context) error {
	if len(b.ops) > b.store.maxOps {
		return ErrBatchTooLarge
	}
	if len(b.ops) == 0 {
		return nil
	}
	return b.store.commit(ctx, b.ops)
}

func postgresQuoteIdentifier(identifier string) string {
	return `"` + strings.ReplaceAll(identifier, `"`, `""`) + `"`
}
