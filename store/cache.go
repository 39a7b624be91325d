package store

import (
	"errors"

	lru "github.com/hashicorp/golang-lru/v2"

	"dsplay/log"
)

// memEntries is the number of payloads kept in memory. ROMs weigh tens of
// megabytes, keep this small.
const memEntries = 2

// Cache holds previously acquired payloads, keyed by their source URL.
type Cache struct {
	bucket  *Bucket
	mem     *lru.Cache[string, []byte]
	minSize int
}

// NewCache returns the ROM cache of s. Entries smaller than minSize are
// considered partial or corrupt and ignored.
func NewCache(s *Store, minSize int) *Cache {
	mem, err := lru.New[string, []byte](memEntries)
	if err != nil {
		panic(err)
	}
	return &Cache{
		bucket:  s.Bucket("rom_cache"),
		mem:     mem,
		minSize: minSize,
	}
}

// Get returns the payload cached under key. Read failures and undersized
// entries are reported as absent.
func (c *Cache) Get(key string) ([]byte, bool) {
	if data, ok := c.mem.Get(key); ok {
		return data, true
	}

	data, err := c.bucket.Get(key)
	switch {
	case errors.Is(err, ErrNotFound):
		return nil, false
	case err != nil:
		log.ModCache.WarnZ("cache read failed").String("key", key).Error("err", err).End()
		return nil, false
	case len(data) < c.minSize:
		log.ModCache.DebugZ("ignoring undersized cache entry").String("key", key).Int("size", len(data)).End()
		return nil, false
	}

	c.mem.Add(key, data)
	return data, true
}

// Put stores data under key.
func (c *Cache) Put(key string, data []byte) error {
	if err := c.bucket.Put(key, data); err != nil {
		return err
	}
	c.mem.Add(key, data)
	return nil
}

// Delete removes the entry cached under key.
func (c *Cache) Delete(key string) error {
	c.mem.Remove(key)
	return c.bucket.Delete(key)
}

// List returns the cached entries.
func (c *Cache) List() ([]Info, error) {
	return c.bucket.List()
}

// Clear removes all cached entries.
func (c *Cache) Clear() error {
	c.mem.Purge()
	return c.bucket.Clear()
}
