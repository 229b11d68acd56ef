package cache

import (
	"context"

	"github.com/annel0/craft-world/internal/vec"
)

// Tiered горячий in-process уровень перед общим холодным
type Tiered struct {
	hot  DumpCache
	cold DumpCache
}

// NewTiered объединяет два уровня
func NewTiered(hot, cold DumpCache) *Tiered {
	return &Tiered{hot: hot, cold: cold}
}

// Get ищет в горячем уровне, затем в холодном; найденное в холодном
// поднимается в горячий.
func (t *Tiered) Get(ctx context.Context, cc vec.ChunkCoord, seq uint64) ([]byte, bool) {
	if line, ok := t.hot.Get(ctx, cc, seq); ok {
		return line, true
	}
	line, ok := t.cold.Get(ctx, cc, seq)
	if ok {
		t.hot.Put(ctx, cc, seq, line)
	}
	return line, ok
}

func (t *Tiered) Put(ctx context.Context, cc vec.ChunkCoord, seq uint64, line []byte) {
	t.hot.Put(ctx, cc, seq, line)
	t.cold.Put(ctx, cc, seq, line)
}

func (t *Tiered) Close() error {
	err := t.hot.Close()
	if cerr := t.cold.Close(); err == nil {
		err = cerr
	}
	return err
}
