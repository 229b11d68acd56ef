package world

import (
	"sort"
	"sync"

	"github.com/annel0/craft-world/internal/vec"
	"github.com/annel0/craft-world/internal/world/block"
)

// Arena набор резидентных чанков по координатам.
// Используется и сервером (World), и клиентским кэшем.
type Arena struct {
	chunks map[vec.ChunkCoord]*Chunk
	mu     sync.RWMutex
}

// NewArena создаёт пустую арену
func NewArena() *Arena {
	return &Arena{chunks: make(map[vec.ChunkCoord]*Chunk)}
}

// Get возвращает резидентный чанк
func (a *Arena) Get(cc vec.ChunkCoord) (*Chunk, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	c, ok := a.chunks[cc]
	return c, ok
}

// Put кладёт чанк, заменяя существующий с теми же координатами
func (a *Arena) Put(c *Chunk) {
	a.mu.Lock()
	a.chunks[c.Coords] = c
	a.mu.Unlock()
}

// Delete выгружает чанк
func (a *Arena) Delete(cc vec.ChunkCoord) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.chunks[cc]; !ok {
		return false
	}
	delete(a.chunks, cc)
	return true
}

// Len число резидентных чанков
func (a *Arena) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.chunks)
}

// Clear выгружает все чанки
func (a *Arena) Clear() {
	a.mu.Lock()
	a.chunks = make(map[vec.ChunkCoord]*Chunk)
	a.mu.Unlock()
}

// Coords координаты резидентных чанков в стабильном порядке
func (a *Arena) Coords() []vec.ChunkCoord {
	a.mu.RLock()
	out := make([]vec.ChunkCoord, 0, len(a.chunks))
	for cc := range a.chunks {
		out = append(out, cc)
	}
	a.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].P != out[j].P {
			return out[i].P < out[j].P
		}
		return out[i].Q < out[j].Q
	})
	return out
}

// Dirty координаты чанков, ожидающих перестройки меша
func (a *Arena) Dirty() []vec.ChunkCoord {
	var out []vec.ChunkCoord
	for _, cc := range a.Coords() {
		if c, ok := a.Get(cc); ok && c.IsDirty() {
			out = append(out, cc)
		}
	}
	return out
}

// MarkDirtyAround помечает грязным чанк блока pos и каждый резидентный
// чанк, у которого есть ячейка на расстоянии 1 от pos (включая диагонали).
func (a *Arena) MarkDirtyAround(pos vec.Vec3) []vec.ChunkCoord {
	seen := make(map[vec.ChunkCoord]struct{}, 4)
	var marked []vec.ChunkCoord
	for dx := -1; dx <= 1; dx++ {
		for dz := -1; dz <= 1; dz++ {
			cc := vec.Vec3{X: pos.X + dx, Y: pos.Y, Z: pos.Z + dz}.Chunk()
			if _, dup := seen[cc]; dup {
				continue
			}
			seen[cc] = struct{}{}
			if c, ok := a.Get(cc); ok {
				c.MarkDirty()
				marked = append(marked, cc)
			}
		}
	}
	return marked
}

// Neighborhood снимок чанка cc и приграничных ячеек его восьми соседей.
// Отсутствующие соседи считаются пустыми. Если clearDirty, флаг dirty
// снимается атомарно со снятием копии.
func (a *Arena) Neighborhood(cc vec.ChunkCoord, clearDirty bool) (*Neighborhood, bool) {
	center, ok := a.Get(cc)
	if !ok {
		return nil, false
	}

	center.mu.Lock()
	snap := center.cloneLocked()
	if clearDirty {
		center.dirty = false
	}
	center.mu.Unlock()

	n := &Neighborhood{
		Center: snap,
		border: make(map[vec.Vec3]block.Block),
	}
	for _, nc := range cc.Ring(1) {
		if nc == cc {
			continue
		}
		c, ok := a.Get(nc)
		if !ok {
			continue
		}
		n.copyBorder(c)
	}
	return n, true
}

// MarkDirtyNeighbors помечает грязными резидентных соседей cc: у них
// появился сосед, влияющий на отсечение граней и AO на границе.
func (a *Arena) MarkDirtyNeighbors(cc vec.ChunkCoord) {
	for _, nc := range cc.Ring(1) {
		if nc == cc {
			continue
		}
		if c, ok := a.Get(nc); ok {
			c.MarkDirty()
		}
	}
}
