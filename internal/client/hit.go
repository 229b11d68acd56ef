package client

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/annel0/craft-world/internal/vec"
	"github.com/annel0/craft-world/internal/world/block"
)

// BlockSource любой источник блоков для трассировки луча
type BlockSource interface {
	BlockAt(v vec.Vec3) block.Block
}

// HitResult результат трассировки: блок под прицелом и пустая клетка
// перед ним, куда ставится новый блок.
type HitResult struct {
	Block    vec.Vec3
	Prev     vec.Vec3
	Material block.Block
	Distance float32
}

// Hit шагает лучом из origin вдоль dir по клеткам сетки (DDA) и возвращает
// первый непустой блок не дальше maxDistance.
func Hit(src BlockSource, origin, dir mgl32.Vec3, maxDistance float32) (HitResult, bool) {
	if dir.Len() == 0 || maxDistance <= 0 {
		return HitResult{}, false
	}
	dir = dir.Normalize()

	cell := [3]int{floor(origin[0]), floor(origin[1]), floor(origin[2])}
	var step [3]int
	var tMax, tDelta [3]float32
	for i := 0; i < 3; i++ {
		switch {
		case dir[i] > 0:
			step[i] = 1
			tDelta[i] = 1 / dir[i]
			tMax[i] = (float32(cell[i]+1) - origin[i]) * tDelta[i]
		case dir[i] < 0:
			step[i] = -1
			tDelta[i] = -1 / dir[i]
			tMax[i] = (origin[i] - float32(cell[i])) * tDelta[i]
		default:
			tDelta[i] = math.MaxFloat32
			tMax[i] = math.MaxFloat32
		}
	}

	prev := toVec(cell)
	var t float32
	for t <= maxDistance {
		v := toVec(cell)
		if b := src.BlockAt(v); !b.IsEmpty() {
			return HitResult{Block: v, Prev: prev, Material: b, Distance: t}, true
		}
		prev = v

		axis := 0
		if tMax[1] < tMax[axis] {
			axis = 1
		}
		if tMax[2] < tMax[axis] {
			axis = 2
		}
		t = tMax[axis]
		cell[axis] += step[axis]
		tMax[axis] += tDelta[axis]
	}
	return HitResult{}, false
}

func floor(f float32) int {
	return int(math.Floor(float64(f)))
}

func toVec(c [3]int) vec.Vec3 {
	return vec.Vec3{X: c[0], Y: c[1], Z: c[2]}
}
