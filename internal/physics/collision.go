// Package physics двигает тело игрока по миру блоков: гравитация, прыжок,
// полёт и выталкивание из непроходимых блоков.
package physics

import (
	"math"

	"github.com/annel0/craft-world/internal/vec"
	"github.com/annel0/craft-world/internal/world/block"
)

// BlockSource источник блоков; клиентский кэш удовлетворяет ему
type BlockSource interface {
	BlockAt(v vec.Vec3) block.Block
}

// BoxCollider тело игрока: колонна Height блоков над ногами, по горизонтали
// ближе Pad к центру соседнего непроходимого блока не подойти.
type BoxCollider struct {
	Height int
	Pad    float64
}

// NewBoxCollider коллайдер игрока: два блока в высоту, отступ 0.25
func NewBoxCollider() BoxCollider {
	return BoxCollider{Height: 2, Pad: 0.25}
}

// Contact контакты после разрешения коллизий
type Contact struct {
	Ground  bool
	Ceiling bool
	Wall    bool
}

// IsObstacle true для блоков, сквозь которые нельзя пройти.
// Растения и пустота проходимы.
func IsObstacle(b block.Block) bool {
	if b.IsEmpty() {
		return false
	}
	props, ok := block.Get(b.Material())
	return !ok || !props.Plant
}

func obstacle(src BlockSource, x, y, z int) bool {
	return IsObstacle(src.BlockAt(vec.Vec3{X: x, Y: y, Z: z}))
}

// Collide выталкивает тело с ногами в pos из непроходимых блоков и
// возвращает исправленную позицию.
func (bc BoxCollider) Collide(src BlockSource, pos vec.Vec3Float) (vec.Vec3Float, Contact) {
	var c Contact

	// вертикаль: ноги внутри блока поднимаются на его верх
	feet := pos.Block()
	if obstacle(src, feet.X, feet.Y, feet.Z) {
		pos.Y = float64(feet.Y + 1)
		c.Ground = true
	} else if pos.Y == math.Floor(pos.Y) && obstacle(src, feet.X, feet.Y-1, feet.Z) {
		c.Ground = true
	}
	top := pos.Y + float64(bc.Height)
	if head := math.Floor(top); top > head && obstacle(src, feet.X, int(head), feet.Z) {
		pos.Y = head - float64(bc.Height)
		c.Ceiling = true
	}

	// горизонталь: по каждому ряду блоков, которые занимает тело
	nx, nz := int(math.Floor(pos.X)), int(math.Floor(pos.Z))
	px := pos.X - (float64(nx) + 0.5)
	pz := pos.Z - (float64(nz) + 0.5)
	y0 := int(math.Floor(pos.Y))
	for y := y0; y < y0+bc.Height; y++ {
		if px < -bc.Pad && obstacle(src, nx-1, y, nz) {
			pos.X = float64(nx) + 0.5 - bc.Pad
			c.Wall = true
		}
		if px > bc.Pad && obstacle(src, nx+1, y, nz) {
			pos.X = float64(nx) + 0.5 + bc.Pad
			c.Wall = true
		}
		if pz < -bc.Pad && obstacle(src, nx, y, nz-1) {
			pos.Z = float64(nz) + 0.5 - bc.Pad
			c.Wall = true
		}
		if pz > bc.Pad && obstacle(src, nx, y, nz+1) {
			pos.Z = float64(nz) + 0.5 + bc.Pad
			c.Wall = true
		}
	}
	return pos, c
}

// Intersects true, если блок v пересекается с телом, стоящим в pos.
// Клиент не ставит блок внутрь себя.
func (bc BoxCollider) Intersects(pos vec.Vec3Float, v vec.Vec3) bool {
	feet := pos.Block()
	if v.X != feet.X || v.Z != feet.Z {
		return false
	}
	return v.Y >= feet.Y && float64(v.Y) < pos.Y+float64(bc.Height)
}
