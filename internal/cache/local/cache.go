// Package local stores one JSON file per record on the local filesystem.
package local

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/JakeFAU/snowball-crawler/internal/cache"
	"github.com/JakeFAU/snowball-crawler/internal/crawler"
)

// Config captures the parameters for the local filesystem cache.
type Config struct {
	// BaseDir is the root directory where records will be stored.
	BaseDir string `mapstructure:"base_dir" yaml:"base_dir"`
}

// Cache implements crawler.RecordCache on the local filesystem.
type Cache struct {
	baseDir string
}

// New creates the base directory if needed and checks that it is writable.
func New(cfg Config) (*Cache, error) {
	if strings.TrimSpace(cfg.BaseDir) == "" {
		return nil, fmt.Errorf("base directory is required")
	}

	info, err := os.Stat(cfg.BaseDir)
	switch {
	case errors.Is(err, os.ErrNotExist):
		if mkErr := os.MkdirAll(cfg.BaseDir, 0o750); mkErr != nil {
			return nil, fmt.Errorf("failed to create base directory: %w", mkErr)
		}
	case err != nil:
		return nil, fmt.Errorf("failed to stat base directory: %w", err)
	case !info.IsDir():
		return nil, fmt.Errorf("base directory path is not a directory")
	}

	testFile := filepath.Join(cfg.BaseDir, ".writable_test")
	if err := os.WriteFile(testFile, []byte("test"), 0o600); err != nil {
		return nil, fmt.Errorf("base directory is not writable: %w", err)
	}
	if err := os.Remove(testFile); err != nil {
		return nil, fmt.Errorf("failed to clean up test file: %w", err)
	}

	return &Cache{baseDir: filepath.Clean(cfg.BaseDir)}, nil
}

func (c *Cache) path(id crawler.RecordID) (string, error) {
	if err := cache.ValidateID(id); err != nil {
		return "", err
	}
	full := filepath.Join(c.baseDir, cache.ObjectName(id))
	if !strings.HasPrefix(full, c.baseDir+string(filepath.Separator)) {
		return "", fmt.Errorf("path traversal detected")
	}
	return full, nil
}

// Has reports whether a file exists for id.
func (c *Cache) Has(_ context.Context, id crawler.RecordID) (bool, error) {
	p, err := c.path(id)
	if err != nil {
		return false, err
	}
	if _, err := os.Stat(p); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("stat record: %w", err)
	}
	return true, nil
}

// Read returns the stored payload for id.
func (c *Cache) Read(_ context.Context, id crawler.RecordID) (crawler.Record, error) {
	p, err := c.path(id)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, crawler.ErrRecordNotFound
		}
		return nil, fmt.Errorf("read record: %w", err)
	}
	return data, nil
}

// Write stores rec atomically, overwriting any previous file.
func (c *Cache) Write(_ context.Context, id crawler.RecordID, rec crawler.Record) error {
	p, err := c.path(id)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(c.baseDir, ".record-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp record: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(rec); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to write file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close temp record: %w", err)
	}
	if err := os.Rename(tmpName, p); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("rename record: %w", err)
	}
	return nil
}
