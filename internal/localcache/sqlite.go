package localcache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	json "github.com/goccy/go-json"
	_ "modernc.org/sqlite"

	"cloutdash/internal/models"
)

// SchemaVersion is the current schema version of the local cache database.
const SchemaVersion = 1

// SQLiteCache stores one zstd-compressed snapshot row in a SQLite file.
type SQLiteCache struct {
	db         *sql.DB
	compressor CompressorInterface
}

// Open opens (or creates) the cache database at path and applies migrations.
func Open(path string, compressor CompressorInterface) (*SQLiteCache, error) {
	if path == "" {
		return nil, fmt.Errorf("open: empty cache path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("open: create cache dir: %w", err)
	}

	db, err := sql.Open("sqlite", "file:"+path+"?mode=rwc")
	if err != nil {
		return nil, fmt.Errorf("open: sql open: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("open: ping: %w", err)
	}
	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("open: migrate: %w", err)
	}
	return &SQLiteCache{db: db, compressor: compressor}, nil
}

func migrate(db *sql.DB) error {
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (version INTEGER PRIMARY KEY);`); err != nil {
		return fmt.Errorf("migrate: create schema_migrations: %w", err)
	}

	var current int
	if err := db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_migrations;`).Scan(&current); err != nil {
		return fmt.Errorf("migrate: read current version: %w", err)
	}
	if current >= SchemaVersion {
		return nil
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("migrate: begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.Exec(`
		CREATE TABLE IF NOT EXISTS snapshot (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			payload BLOB NOT NULL,
			updated_at TEXT NOT NULL
		);
	`)
	if err != nil {
		return fmt.Errorf("migrate: create snapshot table: %w", err)
	}
	if _, err := tx.Exec(`INSERT INTO schema_migrations(version) VALUES (?);`, SchemaVersion); err != nil {
		return fmt.Errorf("migrate: record schema version: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("migrate: commit transaction: %w", err)
	}
	return nil
}

func (c *SQLiteCache) Load(ctx context.Context) (*models.Snapshot, error) {
	var payload []byte
	err := c.db.QueryRowContext(ctx, `SELECT payload FROM snapshot WHERE id = 1;`).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return &models.Snapshot{}, nil
	}
	if err != nil {
		return nil, err
	}

	data, err := c.compressor.Decompress(payload)
	if err != nil {
		return nil, err
	}
	snap := &models.Snapshot{}
	if err := json.Unmarshal(data, snap); err != nil {
		return nil, err
	}
	return snap, nil
}

func (c *SQLiteCache) Save(ctx context.Context, snap *models.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	payload, err := c.compressor.Compress(data)
	if err != nil {
		return err
	}
	_, err = c.db.ExecContext(ctx, `
		INSERT INTO snapshot (id, payload, updated_at) VALUES (1, ?, ?)
		ON CONFLICT (id) DO UPDATE SET payload = excluded.payload, updated_at = excluded.updated_at;
	`, payload, time.Now().UTC().Format(time.RFC3339))
	return err
}

func (c *SQLiteCache) Clear(ctx context.Context) error {
	_, err := c.db.ExecContext(ctx, `DELETE FROM snapshot;`)
	return err
}

func (c *SQLiteCache) Close() error {
	c.compressor.Close()
	return c.db.Close()
}
