package deltalog

import (
	"context"
	"sync"

	"github.com/annel0/craft-world/internal/vec"
	"github.com/annel0/craft-world/internal/world"
)

// MemoryLog журнал в памяти; не переживает перезапуск процесса
type MemoryLog struct {
	mu      sync.RWMutex
	byChunk map[vec.ChunkCoord][]world.Edit
	all     []world.Edit
	last    uint64
}

// NewMemoryLog создаёт пустой журнал в памяти
func NewMemoryLog() *MemoryLog {
	return &MemoryLog{byChunk: make(map[vec.ChunkCoord][]world.Edit)}
}

func (m *MemoryLog) Append(_ context.Context, edits []world.Edit) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := checkBatch(m.last, edits); err != nil {
		return err
	}
	for _, e := range edits {
		cc := e.Chunk()
		m.byChunk[cc] = append(m.byChunk[cc], e)
		m.all = append(m.all, e)
		m.last = e.Seq
	}
	return nil
}

func (m *MemoryLog) LoadEdits(_ context.Context, cc vec.ChunkCoord) ([]world.Edit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	src := m.byChunk[cc]
	out := make([]world.Edit, len(src))
	copy(out, src)
	return out, nil
}

func (m *MemoryLog) LastSeq(context.Context) (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.last, nil
}

// Scan обходит правки в порядке seq
func (m *MemoryLog) Scan(ctx context.Context, fn func(world.Edit) error) error {
	m.mu.RLock()
	snapshot := make([]world.Edit, len(m.all))
	copy(snapshot, m.all)
	m.mu.RUnlock()

	for _, e := range snapshot {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(e); err != nil {
			return err
		}
	}
	return nil
}

func (m *MemoryLog) Close() error { return nil }
