package manifest

import (
	"fmt"
	"os"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
)

type cacheEntry struct {
	modTime time.Time
	size    int64
	doc     *Document
}

// Cache memoizes parsed descriptor files. An entry is reused only while the
// file's modification time and size are unchanged.
type Cache struct {
	entries *lru.LRU[string, *cacheEntry]
	hits    atomic.Int64
	misses  atomic.Int64
}

// NewCache creates a cache holding at most size documents for ttl
func NewCache(size int, ttl time.Duration) *Cache {
	if size < 1 {
		size = 1
	}
	return &Cache{
		entries: lru.NewLRU[string, *cacheEntry](size, nil, ttl),
	}
}

// LoadFile returns the cached document for path, re-reading it when the file changed
func (c *Cache) LoadFile(path string) (*Document, error) {
	info, err := os.Stat(path)
	if err != nil {
		c.entries.Remove(path)
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	if entry, ok := c.entries.Get(path); ok && entry.modTime.Equal(info.ModTime()) && entry.size == info.Size() {
		c.hits.Add(1)
		return entry.doc, nil
	}

	c.misses.Add(1)
	doc, err := LoadFile(path)
	if err != nil {
		return nil, err
	}
	c.entries.Add(path, &cacheEntry{modTime: info.ModTime(), size: info.Size(), doc: doc})
	return doc, nil
}

// LoadDir is the cached form of the package-level LoadDir
func (c *Cache) LoadDir(dir string) (*Document, error) {
	path, err := FindFile(dir)
	if err != nil {
		return nil, err
	}
	return c.LoadFile(path)
}

// Invalidate drops the entry for path
func (c *Cache) Invalidate(path string) {
	c.entries.Remove(path)
}

// Purge drops every entry
func (c *Cache) Purge() {
	c.entries.Purge()
}

// Stats returns hit and miss counts
func (c *Cache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}
