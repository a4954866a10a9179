// Package ristretto implements the image cache port using dgraph-io/ristretto
// as an in-process cache of decoded source images.
package ristretto

import (
	"context"

	"github.com/dgraph-io/ristretto/v2"

	"github.com/Strob0t/AIDTrainer/internal/port/cache"
	"github.com/Strob0t/AIDTrainer/internal/port/dataset"
)

// Cache wraps a ristretto cache keyed by source path. The cost of an entry is
// the size of its pixel buffer in bytes.
type Cache struct {
	c *ristretto.Cache[string, dataset.Image]
}

var _ cache.Images = (*Cache)(nil)

// New creates a ristretto-backed cache. maxCostBytes is the maximum total
// size of cached pixels in bytes.
func New(maxCostBytes int64) (*Cache, error) {
	c, err := ristretto.NewCache(&ristretto.Config[string, dataset.Image]{
		NumCounters: max(maxCostBytes/(64*1024)*10, 1000), // ~10x expected images
		MaxCost:     maxCostBytes,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &Cache{c: c}, nil
}

// Get retrieves an image from the cache.
func (c *Cache) Get(_ context.Context, key string) (dataset.Image, bool) {
	return c.c.Get(key)
}

// Set stores an image in the cache.
func (c *Cache) Set(_ context.Context, key string, img dataset.Image) bool {
	return c.c.Set(key, img, cost(img))
}

// Wait blocks until buffered writes are applied.
func (c *Cache) Wait() {
	c.c.Wait()
}

// Close shuts down the cache and releases resources.
func (c *Cache) Close() {
	c.c.Close()
}

func cost(img dataset.Image) int64 {
	return int64(len(img.Pix)) * 4
}
