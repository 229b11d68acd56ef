package world

import (
	"errors"
	"fmt"
	"math"

	"github.com/annel0/craft-world/internal/vec"
	"github.com/annel0/craft-world/internal/world/block"
)

// Run вертикальная серия одинаковых блоков в локальной колонне (LX, LZ),
// начиная с Y вверх на Count блоков.
type Run struct {
	LX, LZ int
	Y      int
	Count  int
	Block  block.Block
}

// ChunkDump авторитетное состояние чанка на момент Seq
type ChunkDump struct {
	Coords vec.ChunkCoord
	Seq    uint64
	Runs   []Run
}

// Runs кодирует непустые блоки чанка сериями по колоннам
func (c *Chunk) Runs() []Run {
	c.mu.RLock()
	defer c.mu.RUnlock()

	keys := c.sectionKeysLocked()
	if len(keys) == 0 {
		return nil
	}

	var runs []Run
	for lx := 0; lx < vec.ChunkSize; lx++ {
		for lz := 0; lz < vec.ChunkSize; lz++ {
			cur := -1
			for k, key := range keys {
				// серия продолжается в следующую секцию, только если та смежна
				if k > 0 && keys[k-1] != key-1 {
					cur = -1
				}
				s := c.sections[key]
				baseY := key * SectionHeight
				for ly := 0; ly < SectionHeight; ly++ {
					b := s.blocks[sectionIndex(lx, ly, lz)]
					if cur >= 0 && runs[cur].Block == b {
						runs[cur].Count++
						continue
					}
					if b.IsEmpty() {
						cur = -1
						continue
					}
					runs = append(runs, Run{LX: lx, LZ: lz, Y: baseY + ly, Count: 1, Block: b})
					cur = len(runs) - 1
				}
			}
		}
	}
	return runs
}

// ErrInvalidDump серии дампа нельзя загрузить в чанк
var ErrInvalidDump = errors.New("world: недопустимый дамп чанка")

// DumpBlockLimit сколько непустых блоков может содержать честный дамп чанка:
// базовый рельеф не выше maxY плюс по одному блоку на каждую правку до seq.
func DumpBlockLimit(maxY int, seq uint64) int {
	if maxY < 0 {
		maxY = 0
	}
	if maxY >= math.MaxInt/(vec.ChunkSize*vec.ChunkSize)-1 {
		return math.MaxInt
	}
	terrain := uint64(vec.ChunkSize*vec.ChunkSize) * uint64(maxY+1)
	if seq > math.MaxInt-terrain {
		return math.MaxInt
	}
	return int(terrain + seq)
}

// ValidateRuns проверяет серии: колонна внутри чанка, положительная длина без
// переполнения Y, допустимый блок и не больше limit блоков всего (limit <= 0
// снимает ограничение).
func ValidateRuns(runs []Run, limit int) error {
	total := 0
	for _, r := range runs {
		if r.LX < 0 || r.LX >= vec.ChunkSize || r.LZ < 0 || r.LZ >= vec.ChunkSize {
			return fmt.Errorf("%w: серия вне колонны: %d,%d", ErrInvalidDump, r.LX, r.LZ)
		}
		if r.Count <= 0 {
			return fmt.Errorf("%w: серия нулевой длины в %d,%d", ErrInvalidDump, r.LX, r.LZ)
		}
		if r.Y > math.MaxInt-(r.Count-1) {
			return fmt.Errorf("%w: серия %d+%d переполняет Y", ErrInvalidDump, r.Y, r.Count)
		}
		if limit > 0 && r.Count > limit-total {
			return fmt.Errorf("%w: больше %d блоков", ErrInvalidDump, limit)
		}
		total += r.Count
		if err := block.Validate(r.Block.Material(), r.Block.Flags()); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidDump, err)
		}
	}
	return nil
}

// LoadRuns целиком заменяет содержимое чанка сериями из дампа.
// Чанк считается сгенерированным и грязным.
func (c *Chunk) LoadRuns(runs []Run, seq uint64) error {
	return c.LoadRunsLimit(runs, seq, 0)
}

// LoadRunsLimit как LoadRuns, но отвергает дамп больше limit блоков
func (c *Chunk) LoadRunsLimit(runs []Run, seq uint64, limit int) error {
	if err := ValidateRuns(runs, limit); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.sections = make(map[int]*section)
	for _, r := range runs {
		for i := 0; i < r.Count; i++ {
			c.setLocked(r.LX, r.Y+i, r.LZ, r.Block.Normalize())
		}
	}
	c.generated = true
	c.dirty = true
	c.lastSeq = seq
	c.version++
	return nil
}
