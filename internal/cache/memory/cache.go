// Package memory keeps records in process memory for tests and dry runs.
package memory

import (
	"context"
	"sync"

	"github.com/JakeFAU/snowball-crawler/internal/crawler"
)

// Cache implements crawler.RecordCache with a map.
type Cache struct {
	mu      sync.RWMutex
	records map[crawler.RecordID]crawler.Record
}

// New creates an empty cache.
func New() *Cache {
	return &Cache{records: make(map[crawler.RecordID]crawler.Record)}
}

// Has reports whether id is cached.
func (c *Cache) Has(_ context.Context, id crawler.RecordID) (bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.records[id]
	return ok, nil
}

// Read returns a copy of the cached record.
func (c *Cache) Read(_ context.Context, id crawler.RecordID) (crawler.Record, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	rec, ok := c.records[id]
	if !ok {
		return nil, crawler.ErrRecordNotFound
	}
	return append(crawler.Record(nil), rec...), nil
}

// Write stores a copy of rec, replacing any previous entry.
func (c *Cache) Write(_ context.Context, id crawler.RecordID, rec crawler.Record) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records[id] = append(crawler.Record(nil), rec...)
	return nil
}

// Len returns the number of cached records.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.records)
}
