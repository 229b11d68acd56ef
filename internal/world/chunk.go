package world

import (
	"fmt"
	"sort"
	"sync"

	"github.com/annel0/craft-world/internal/vec"
	"github.com/annel0/craft-world/internal/world/block"
)

// SectionHeight высота плотной секции колонны
const SectionHeight = 32

const sectionVolume = vec.ChunkSize * SectionHeight * vec.ChunkSize

type section struct {
	blocks [sectionVolume]block.Block
	count  int // непустых блоков
}

func sectionIndex(lx, ly, lz int) int {
	return (ly*vec.ChunkSize+lz)*vec.ChunkSize + lx
}

// Chunk колонна 32x32 блоков неограниченной высоты.
// Блоки хранятся плотными секциями по 32 по Y; пустые секции не создаются.
type Chunk struct {
	Coords vec.ChunkCoord // Координаты чанка в мире

	sections  map[int]*section
	generated bool   // базовый рельеф синтезирован; однажды установленный, не сбрасывается
	dirty     bool   // нужна перестройка меша
	version   uint64 // счётчик изменений содержимого
	lastSeq   uint64 // наибольший seq правки, отражённой в чанке

	mu sync.RWMutex
}

// NewChunk создаёт пустой чанк с указанными координатами
func NewChunk(coords vec.ChunkCoord) *Chunk {
	return &Chunk{
		Coords:   coords,
		sections: make(map[int]*section),
	}
}

func (c *Chunk) local(v vec.Vec3) (lx, lz int) {
	if v.Chunk() != c.Coords {
		// Блок вне footprint чанка: ошибка программиста, не данных
		panic(fmt.Sprintf("world: блок %v вне чанка %v", v, c.Coords))
	}
	return v.Local()
}

// Block возвращает блок по мировым координатам
func (c *Chunk) Block(v vec.Vec3) block.Block {
	lx, lz := c.local(v)
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.getLocked(lx, v.Y, lz)
}

func (c *Chunk) getLocked(lx, y, lz int) block.Block {
	s, ok := c.sections[vec.FloorDiv(y, SectionHeight)]
	if !ok {
		return block.Air
	}
	return s.blocks[sectionIndex(lx, vec.FloorMod(y, SectionHeight), lz)]
}

// SetBlock устанавливает блок по мировым координатам и возвращает true,
// если значение изменилось. Флаг dirty не трогает: это делает владелец.
func (c *Chunk) SetBlock(v vec.Vec3, b block.Block) bool {
	lx, lz := c.local(v)
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.setLocked(lx, v.Y, lz, b.Normalize())
}

func (c *Chunk) setLocked(lx, y, lz int, b block.Block) bool {
	key := vec.FloorDiv(y, SectionHeight)
	s, ok := c.sections[key]
	if !ok {
		if b.IsEmpty() {
			return false
		}
		s = &section{}
		c.sections[key] = s
	}
	idx := sectionIndex(lx, vec.FloorMod(y, SectionHeight), lz)
	old := s.blocks[idx]
	if old == b {
		return false
	}
	s.blocks[idx] = b
	switch {
	case old.IsEmpty():
		s.count++
	case b.IsEmpty():
		s.count--
	}
	if s.count == 0 {
		delete(c.sections, key)
	}
	c.version++
	return true
}

// IsGenerated true, если базовый рельеф уже синтезирован
func (c *Chunk) IsGenerated() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.generated
}

func (c *Chunk) markGenerated() {
	c.mu.Lock()
	c.generated = true
	c.dirty = true
	c.mu.Unlock()
}

// IsDirty true, если меш чанка устарел
func (c *Chunk) IsDirty() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.dirty
}

// MarkDirty помечает чанк для перестройки меша
func (c *Chunk) MarkDirty() {
	c.mu.Lock()
	c.dirty = true
	c.mu.Unlock()
}

// ClearDirty снимает флаг перестройки
func (c *Chunk) ClearDirty() {
	c.mu.Lock()
	c.dirty = false
	c.mu.Unlock()
}

// Version счётчик изменений содержимого
func (c *Chunk) Version() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.version
}

// LastSeq наибольший seq правки, отражённой в чанке
func (c *Chunk) LastSeq() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastSeq
}

// ObserveSeq поднимает lastSeq до seq
func (c *Chunk) ObserveSeq(seq uint64) {
	c.mu.Lock()
	if seq > c.lastSeq {
		c.lastSeq = seq
	}
	c.mu.Unlock()
}

// BlockCount число непустых блоков
func (c *Chunk) BlockCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n := 0
	for _, s := range c.sections {
		n += s.count
	}
	return n
}

// ForEachBlock обходит непустые блоки в порядке секций снизу вверх.
// Вызывать fn, изменяющую этот же чанк, нельзя.
func (c *Chunk) ForEachBlock(fn func(v vec.Vec3, b block.Block)) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	ox, oz := c.Coords.Origin()
	for _, key := range c.sectionKeysLocked() {
		s := c.sections[key]
		baseY := key * SectionHeight
		for i, b := range s.blocks {
			if b.IsEmpty() {
				continue
			}
			lx := i % vec.ChunkSize
			lz := (i / vec.ChunkSize) % vec.ChunkSize
			ly := i / (vec.ChunkSize * vec.ChunkSize)
			fn(vec.Vec3{X: ox + lx, Y: baseY + ly, Z: oz + lz}, b)
		}
	}
}

func (c *Chunk) sectionKeysLocked() []int {
	keys := make([]int, 0, len(c.sections))
	for k := range c.sections {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}

// Clone возвращает глубокую копию чанка (для снимков и мешинга)
func (c *Chunk) Clone() *Chunk {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cloneLocked()
}

func (c *Chunk) cloneLocked() *Chunk {
	cp := &Chunk{
		Coords:    c.Coords,
		sections:  make(map[int]*section, len(c.sections)),
		generated: c.generated,
		dirty:     c.dirty,
		version:   c.version,
		lastSeq:   c.lastSeq,
	}
	for k, s := range c.sections {
		sc := *s
		cp.sections[k] = &sc
	}
	return cp
}
