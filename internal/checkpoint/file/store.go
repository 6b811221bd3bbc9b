// Package file stores the checkpoint document on the local filesystem.
package file

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/JakeFAU/snowball-crawler/internal/checkpoint"
	"github.com/JakeFAU/snowball-crawler/internal/crawler"
)

// Store implements crawler.CheckpointStore with a single JSON file.
type Store struct {
	path  string
	codec *checkpoint.Codec
}

// New creates a Store writing to path.
func New(path string, codec *checkpoint.Codec) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("checkpoint path is required")
	}
	if codec == nil {
		return nil, fmt.Errorf("codec is required")
	}
	return &Store{path: filepath.Clean(path), codec: codec}, nil
}

// Path returns the checkpoint file location.
func (s *Store) Path() string {
	return s.path
}

// Load reads the checkpoint. A missing file yields an empty snapshot.
func (s *Store) Load(_ context.Context) (crawler.Snapshot, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return crawler.Snapshot{}.Normalize(), nil
		}
		return crawler.Snapshot{}, fmt.Errorf("read checkpoint: %w", err)
	}
	snap, err := s.codec.Decode(data)
	if err != nil {
		return crawler.Snapshot{}, fmt.Errorf("decode %s: %w", s.path, err)
	}
	return snap, nil
}

// Save writes snap to a temporary file in the same directory and renames it
// over the previous checkpoint, so a crash never leaves a partial document.
func (s *Store) Save(_ context.Context, snap crawler.Snapshot) error {
	doc, _, err := s.codec.Encode(snap)
	if err != nil {
		return err
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("failed to create checkpoint directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp checkpoint: %w", err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(doc); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp checkpoint: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync temp checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp checkpoint: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("replace checkpoint: %w", err)
	}
	committed = true
	return nil
}
