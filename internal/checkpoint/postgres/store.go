// Package postgres keeps the checkpoint document in a Postgres table, one row per crawl.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/snowball-crawler/internal/checkpoint"
	"github.com/JakeFAU/snowball-crawler/internal/crawler"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

const defaultTable = "crawl_checkpoints"

// Config controls the Postgres connection pool used for checkpoints.
type Config struct {
	DSN             string
	Table           string
	Name            string
	MaxConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

// Store implements crawler.CheckpointStore on Postgres. The document column
// is BYTEA so the encoded bytes, and therefore the checksum, survive unchanged.
type Store struct {
	pool  pool
	table string
	name  string
	codec *checkpoint.Codec
}

// New connects to Postgres and ensures the checkpoint table exists.
func New(ctx context.Context, cfg Config, codec *checkpoint.Codec) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("checkpoint.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	store, err := NewWithPool(p, cfg.Table, cfg.Name, codec)
	if err != nil {
		p.Close()
		return nil, err
	}
	if err := store.EnsureSchema(ctx); err != nil {
		p.Close()
		return nil, err
	}
	return store, nil
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(p pool, table, name string, codec *checkpoint.Codec) (*Store, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if codec == nil {
		return nil, fmt.Errorf("codec is required")
	}
	if table == "" {
		table = defaultTable
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	if name == "" {
		return nil, fmt.Errorf("checkpoint name is required")
	}
	return &Store{pool: p, table: table, name: name, codec: codec}, nil
}

// EnsureSchema creates the checkpoint table when missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	name TEXT PRIMARY KEY,
	document BYTEA NOT NULL,
	checksum TEXT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create checkpoint table: %w", err)
	}
	return nil
}

// Load returns the stored snapshot, or an empty one when no row exists yet.
func (s *Store) Load(ctx context.Context) (crawler.Snapshot, error) {
	query := fmt.Sprintf(`SELECT document FROM %s WHERE name = $1`, s.table)
	var doc []byte
	if err := s.pool.QueryRow(ctx, query, s.name).Scan(&doc); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return crawler.Snapshot{}.Normalize(), nil
		}
		return crawler.Snapshot{}, fmt.Errorf("select checkpoint: %w", err)
	}
	snap, err := s.codec.Decode(doc)
	if err != nil {
		return crawler.Snapshot{}, fmt.Errorf("decode checkpoint %q: %w", s.name, err)
	}
	return snap, nil
}

// Save upserts the document in a single statement.
func (s *Store) Save(ctx context.Context, snap crawler.Snapshot) error {
	doc, sum, err := s.codec.Encode(snap)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`
INSERT INTO %s (name, document, checksum, updated_at)
VALUES ($1, $2, $3, now())
ON CONFLICT (name) DO UPDATE SET
	document = EXCLUDED.document,
	checksum = EXCLUDED.checksum,
	updated_at = EXCLUDED.updated_at`, s.table)
	if _, err := s.pool.Exec(ctx, query, s.name, doc, sum); err != nil {
		return fmt.Errorf("upsert checkpoint: %w", err)
	}
	return nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}
