// Package sqlite stores records in a single SQLite database file.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/JakeFAU/snowball-crawler/internal/cache"
	"github.com/JakeFAU/snowball-crawler/internal/crawler"
)

// Cache implements crawler.RecordCache on SQLite.
type Cache struct {
	db   *sql.DB
	path string
}

// Open opens or creates the database at path and ensures the schema exists.
func Open(ctx context.Context, path string) (*Cache, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?mode=rwc")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite only supports one writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	const schema = `
	CREATE TABLE IF NOT EXISTS records (
		id TEXT PRIMARY KEY,
		payload BLOB NOT NULL,
		stored_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return &Cache{db: db, path: path}, nil
}

// Close closes the database connection.
func (c *Cache) Close() error {
	return c.db.Close()
}

// Has reports whether a row exists for id.
func (c *Cache) Has(ctx context.Context, id crawler.RecordID) (bool, error) {
	if err := cache.ValidateID(id); err != nil {
		return false, err
	}
	var one int
	err := c.db.QueryRowContext(ctx, `SELECT 1 FROM records WHERE id = ?`, string(id)).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("query record: %w", err)
	}
	return true, nil
}

// Read returns the stored payload for id.
func (c *Cache) Read(ctx context.Context, id crawler.RecordID) (crawler.Record, error) {
	if err := cache.ValidateID(id); err != nil {
		return nil, err
	}
	var payload []byte
	err := c.db.QueryRowContext(ctx, `SELECT payload FROM records WHERE id = ?`, string(id)).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, crawler.ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read record: %w", err)
	}
	return payload, nil
}

// Write upserts the payload for id.
func (c *Cache) Write(ctx context.Context, id crawler.RecordID, rec crawler.Record) error {
	if err := cache.ValidateID(id); err != nil {
		return err
	}
	_, err := c.db.ExecContext(ctx, `
	INSERT INTO records (id, payload, stored_at) VALUES (?, ?, CURRENT_TIMESTAMP)
	ON CONFLICT(id) DO UPDATE SET payload = excluded.payload, stored_at = excluded.stored_at`,
		string(id), []byte(rec))
	if err != nil {
		return fmt.Errorf("write record: %w", err)
	}
	return nil
}

// Count returns the number of stored records.
func (c *Cache) Count(ctx context.Context) (int, error) {
	var n int
	if err := c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM records`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count records: %w", err)
	}
	return n, nil
}
