// Package gcs stores records as objects in a Google Cloud Storage bucket.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"cloud.google.com/go/storage"

	"github.com/JakeFAU/snowball-crawler/internal/cache"
	"github.com/JakeFAU/snowball-crawler/internal/crawler"
)

// Config captures the parameters required to address records in GCS.
type Config struct {
	Bucket string
	Prefix string
}

// objectStore is the subset of bucket operations the cache needs.
type objectStore interface {
	Exists(ctx context.Context, name string) (bool, error)
	Read(ctx context.Context, name string) ([]byte, error)
	Write(ctx context.Context, name, contentType string, data []byte) error
}

// Cache implements crawler.RecordCache on a GCS bucket.
type Cache struct {
	store  objectStore
	bucket string
	prefix string
}

// New creates a GCS-backed record cache.
func New(client *storage.Client, cfg Config) (*Cache, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	return newCache(&bucketStore{bucket: client.Bucket(cfg.Bucket)}, cfg), nil
}

func newCache(store objectStore, cfg Config) *Cache {
	return &Cache{
		store:  store,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
	}
}

func (c *Cache) objectName(id crawler.RecordID) (string, error) {
	if err := cache.ValidateID(id); err != nil {
		return "", err
	}
	if c.prefix == "" {
		return cache.ObjectName(id), nil
	}
	return path.Join(c.prefix, cache.ObjectName(id)), nil
}

// URI returns the gs:// location of id.
func (c *Cache) URI(id crawler.RecordID) (string, error) {
	name, err := c.objectName(id)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("gs://%s/%s", c.bucket, name), nil
}

// Has reports whether the object for id exists.
func (c *Cache) Has(ctx context.Context, id crawler.RecordID) (bool, error) {
	name, err := c.objectName(id)
	if err != nil {
		return false, err
	}
	return c.store.Exists(ctx, name)
}

// Read downloads the object for id.
func (c *Cache) Read(ctx context.Context, id crawler.RecordID) (crawler.Record, error) {
	name, err := c.objectName(id)
	if err != nil {
		return nil, err
	}
	data, err := c.store.Read(ctx, name)
	if err != nil {
		return nil, err
	}
	return data, nil
}

// Write uploads rec, replacing any existing object.
func (c *Cache) Write(ctx context.Context, id crawler.RecordID, rec crawler.Record) error {
	name, err := c.objectName(id)
	if err != nil {
		return err
	}
	return c.store.Write(ctx, name, "application/json", rec)
}

type bucketStore struct {
	bucket *storage.BucketHandle
}

func (b *bucketStore) Exists(ctx context.Context, name string) (bool, error) {
	if _, err := b.bucket.Object(name).Attrs(ctx); err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("object attrs %s: %w", name, err)
	}
	return true, nil
}

func (b *bucketStore) Read(ctx context.Context, name string) ([]byte, error) {
	reader, err := b.bucket.Object(name).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, crawler.ErrRecordNotFound
		}
		return nil, fmt.Errorf("open object %s: %w", name, err)
	}
	defer func() { _ = reader.Close() }()
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read object %s: %w", name, err)
	}
	return data, nil
}

func (b *bucketStore) Write(ctx context.Context, name, contentType string, data []byte) error {
	writer := b.bucket.Object(name).NewWriter(ctx)
	writer.ContentType = contentType
	if _, err := writer.Write(data); err != nil {
		if closeErr := writer.Close(); closeErr != nil {
			return fmt.Errorf("write object %s: %w (close writer: %v)", name, err, closeErr)
		}
		return fmt.Errorf("write object %s: %w", name, err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("close writer for %s: %w", name, err)
	}
	return nil
}
