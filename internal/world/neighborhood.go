package world

import (
	"github.com/annel0/craft-world/internal/vec"
	"github.com/annel0/craft-world/internal/world/block"
)

// Neighborhood неизменяемый снимок для построения меша: полный центральный
// чанк плюс полоса шириной в одну ячейку вдоль его границы у соседей.
type Neighborhood struct {
	Center *Chunk
	border map[vec.Vec3]block.Block
}

// NewNeighborhood собирает снимок из отдельных чанков (neighbors может
// содержать nil). Используется в тестах и инструментах.
func NewNeighborhood(center *Chunk, neighbors ...*Chunk) *Neighborhood {
	n := &Neighborhood{
		Center: center.Clone(),
		border: make(map[vec.Vec3]block.Block),
	}
	for _, c := range neighbors {
		if c != nil && c.Coords != center.Coords && c.Coords.ChebyshevTo(center.Coords) == 1 {
			n.copyBorder(c)
		}
	}
	return n
}

// BlockAt блок по мировым координатам; всё вне снимка пусто
func (n *Neighborhood) BlockAt(v vec.Vec3) block.Block {
	if v.Chunk() == n.Center.Coords {
		return n.Center.Block(v)
	}
	return n.border[v]
}

// copyBorder копирует из соседа ячейки, смежные с центральным чанком
func (n *Neighborhood) copyBorder(c *Chunk) {
	cx, cz := n.Center.Coords.Origin()
	minX, maxX := cx-1, cx+vec.ChunkSize
	minZ, maxZ := cz-1, cz+vec.ChunkSize

	c.ForEachBlock(func(v vec.Vec3, b block.Block) {
		if v.X < minX || v.X > maxX || v.Z < minZ || v.Z > maxZ {
			return
		}
		n.border[v] = b
	})
}
