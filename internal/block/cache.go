package block

import "sync"

type cacheKey struct {
	appID       string
	partitionID int64
}

// Cache shares broadcast blocks between all tasks of an application.
type Cache struct {
	mu     sync.Mutex
	blocks map[cacheKey]Block
}

// NewCache creates an empty Cache.
func NewCache() *Cache {
	return &Cache{blocks: make(map[cacheKey]Block)}
}

// GetOrCreate returns the block for (appID, partitionID), creating an empty
// one on first use. created reports whether a new block was made.
func (c *Cache) GetOrCreate(appID string, partitionID int64) (b Block, created bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := cacheKey{appID, partitionID}
	if b, ok := c.blocks[key]; ok {
		return b, false
	}
	b = New()
	c.blocks[key] = b
	return b, true
}

// Drop forgets every block of an application.
func (c *Cache) Drop(appID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for key := range c.blocks {
		if key.appID == appID {
			delete(c.blocks, key)
			n++
		}
	}
	return n
}

// Len returns the number of cached blocks.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.blocks)
}
