package cache

import (
	"context"
	"fmt"

	"github.com/dgraph-io/ristretto"

	"github.com/annel0/craft-world/internal/vec"
)

const defaultMaxBytes = 64 << 20

// MemoryCache in-process уровень на ristretto; стоимость записи равна её длине
type MemoryCache struct {
	c *ristretto.Cache
}

// NewMemoryCache создаёт кеш с бюджетом maxBytes
func NewMemoryCache(maxBytes int64) (*MemoryCache, error) {
	if maxBytes <= 0 {
		maxBytes = defaultMaxBytes
	}
	// ~1 счётчик на каждые 100 байт бюджета при средней строке в несколько КБ
	counters := maxBytes / 100
	if counters < 1000 {
		counters = 1000
	}
	c, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: counters,
		MaxCost:     maxBytes,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("cache: ristretto: %w", err)
	}
	return &MemoryCache{c: c}, nil
}

func (m *MemoryCache) Get(_ context.Context, cc vec.ChunkCoord, seq uint64) ([]byte, bool) {
	v, ok := m.c.Get(key("", cc, seq))
	if !ok {
		cacheMisses.WithLabelValues("memory").Inc()
		return nil, false
	}
	cacheHits.WithLabelValues("memory").Inc()
	return v.([]byte), true
}

func (m *MemoryCache) Put(_ context.Context, cc vec.ChunkCoord, seq uint64, line []byte) {
	m.c.Set(key("", cc, seq), line, int64(len(line)))
}

// Wait дожидается применения буферизованных Put
func (m *MemoryCache) Wait() {
	m.c.Wait()
}

func (m *MemoryCache) Close() error {
	m.c.Close()
	return nil
}
