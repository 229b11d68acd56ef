// Package client клиентская сторона синхронизации: зеркало чанков сервера,
// сессия с очередью входящих сообщений и выбор блока взглядом.
package client

import (
	"sort"
	"sync"

	"github.com/annel0/craft-world/internal/vec"
	"github.com/annel0/craft-world/internal/world"
	"github.com/annel0/craft-world/internal/world/block"
	"github.com/annel0/craft-world/internal/world/noise"
)

// DefaultCapacity сколько чанков держит кэш по умолчанию
const DefaultCapacity = 256

// Cache локальное зеркало состояния чанков сервера.
//
// Дамп заменяет чанк целиком. Правка применяется, только если её seq
// больше seq дампа чанка и больше последнего seq, применённого к этой клетке;
// правки для нерезидентных чанков отбрасываются.
type Cache struct {
	arena    *world.Arena
	capacity int
	maxY     int // верх базового рельефа; ограничивает размер принимаемых дампов

	mu      sync.RWMutex
	dumpSeq map[vec.ChunkCoord]uint64
	cellSeq map[vec.ChunkCoord]map[vec.Vec3]uint64
}

// NewCache создаёт пустой кэш на capacity чанков
func NewCache(capacity int) *Cache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Cache{
		arena:    world.NewArena(),
		capacity: capacity,
		maxY:     noise.New(noise.DefaultConfig()).MaxY(),
		dumpSeq:  make(map[vec.ChunkCoord]uint64),
		cellSeq:  make(map[vec.ChunkCoord]map[vec.Vec3]uint64),
	}
}

// SetTerrainMaxY задаёт верх базового рельефа сервера (noise.Field.MaxY)
func (c *Cache) SetTerrainMaxY(y int) {
	c.mu.Lock()
	c.maxY = y
	c.mu.Unlock()
}

// ApplyDump заменяет чанк содержимым дампа. Дамп с блоками сверх того, что
// могут дать рельеф и d.Seq правок, отвергается с world.ErrInvalidDump.
func (c *Cache) ApplyDump(d world.ChunkDump) error {
	c.mu.RLock()
	limit := world.DumpBlockLimit(c.maxY, d.Seq)
	c.mu.RUnlock()

	chunk := world.NewChunk(d.Coords)
	if err := chunk.LoadRunsLimit(d.Runs, d.Seq, limit); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.arena.Put(chunk)
	c.dumpSeq[d.Coords] = d.Seq
	delete(c.cellSeq, d.Coords)
	c.arena.MarkDirtyNeighbors(d.Coords)
	return nil
}

// ApplyDelta применяет авторитетную правку. Возвращает false, если правка
// устарела или её чанк не загружен.
func (c *Cache) ApplyDelta(pos vec.Vec3, b block.Block, seq uint64) bool {
	cc := pos.Chunk()

	c.mu.Lock()
	defer c.mu.Unlock()

	chunk, ok := c.arena.Get(cc)
	if !ok {
		return false
	}
	if seq <= c.dumpSeq[cc] {
		return false
	}
	cells := c.cellSeq[cc]
	if cells == nil {
		cells = make(map[vec.Vec3]uint64)
		c.cellSeq[cc] = cells
	}
	if seq <= cells[pos] {
		return false
	}
	cells[pos] = seq

	chunk.SetBlock(pos, b)
	chunk.ObserveSeq(seq)
	c.arena.MarkDirtyAround(pos)
	return true
}

// BlockAt блок в кэше; вне загруженных чанков пусто
func (c *Cache) BlockAt(v vec.Vec3) block.Block {
	chunk, ok := c.arena.Get(v.Chunk())
	if !ok {
		return block.Air
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return chunk.Block(v)
}

// HeldSeq seq состояния чанка, которое держит кэш (для C p q seq)
func (c *Cache) HeldSeq(cc vec.ChunkCoord) (uint64, bool) {
	chunk, ok := c.arena.Get(cc)
	if !ok {
		return 0, false
	}
	return chunk.LastSeq(), true
}

// IsResident true, если чанк загружен
func (c *Cache) IsResident(cc vec.ChunkCoord) bool {
	_, ok := c.arena.Get(cc)
	return ok
}

// Neighborhood снимок чанка с соседями для мешинга
func (c *Cache) Neighborhood(cc vec.ChunkCoord, clearDirty bool) (*world.Neighborhood, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.arena.Neighborhood(cc, clearDirty)
}

// Dirty чанки, ждущие перестройки меша
func (c *Cache) Dirty() []vec.ChunkCoord {
	return c.arena.Dirty()
}

// Coords загруженные чанки
func (c *Cache) Coords() []vec.ChunkCoord {
	return c.arena.Coords()
}

// Len число загруженных чанков
func (c *Cache) Len() int {
	return c.arena.Len()
}

// Evict выгружает чанки дальше keepRadius от center, затем самые дальние,
// пока кэш не уложится в ёмкость. Возвращает выгруженные координаты.
func (c *Cache) Evict(center vec.ChunkCoord, keepRadius int) []vec.ChunkCoord {
	coords := c.arena.Coords()
	outside := func(cc vec.ChunkCoord) bool { return center.ChebyshevTo(cc) > keepRadius }
	sort.SliceStable(coords, func(i, j int) bool {
		oi, oj := outside(coords[i]), outside(coords[j])
		if oi != oj {
			return oi
		}
		return center.DistanceTo(coords[i]) > center.DistanceTo(coords[j])
	})

	c.mu.Lock()
	defer c.mu.Unlock()
	var evicted []vec.ChunkCoord
	n := len(coords)
	for _, cc := range coords {
		if n <= c.capacity && !outside(cc) {
			break
		}
		c.dropLocked(cc)
		evicted = append(evicted, cc)
		n--
	}
	return evicted
}

// Reset забывает всё состояние (после разрыва соединения)
func (c *Cache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.arena.Clear()
	c.dumpSeq = make(map[vec.ChunkCoord]uint64)
	c.cellSeq = make(map[vec.ChunkCoord]map[vec.Vec3]uint64)
}

func (c *Cache) dropLocked(cc vec.ChunkCoord) {
	c.arena.Delete(cc)
	delete(c.dumpSeq, cc)
	delete(c.cellSeq, cc)
}
