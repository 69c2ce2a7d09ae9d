// ABOUTME: Persisted identity cache backed by a JSON array of token strings.
// ABOUTME: Read at startup, rewritten atomically whenever new identities are minted.

package identity

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"

	"github.com/natefinch/atomic"
)

// Cache stores issued identity tokens across process runs. The on-disk
// format is a plain JSON array of strings; the sequence is append-only
// across runs.
type Cache struct {
	mu   sync.Mutex
	path string
}

// NewCache creates a cache persisted at path. The file need not exist yet.
func NewCache(path string) *Cache {
	return &Cache{path: path}
}

// Load reads all cached identities. A missing file is an empty cache, not
// an error. A corrupt file is also treated as empty so a damaged cache
// never blocks startup; the next Save rewrites it.
func (c *Cache) Load() ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := os.ReadFile(c.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading identity cache: %w", err)
	}

	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		return nil, nil
	}
	return ids, nil
}

// Save rewrites the cache with the full identity list. The write is atomic
// so a crash mid-rewrite never corrupts the previous contents.
func (c *Cache) Save(ids []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := json.Marshal(ids)
	if err != nil {
		return fmt.Errorf("encoding identity cache: %w", err)
	}
	if err := atomic.WriteFile(c.path, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("writing identity cache: %w", err)
	}
	return nil
}
