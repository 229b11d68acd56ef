package noise

import (
	"math"

	"github.com/aquilax/go-perlin"

	"github.com/annel0/craft-world/internal/world/block"
)

// Смещения сида для независимых слоёв шума
const (
	detailSeedOffset = 1
	caveSeedOffset   = 2
	plantSeedOffset  = 3
	treeSeedOffset   = 4
)

// Форма деревьев: ствол 4..7 блоков, шар листвы радиуса 2 вокруг его вершины
const (
	minTrunk    = 4
	trunkSpread = 4
	crownRadius = 2
	minTreeSoil = 5 // деревья растут только на колоннах выше этой высоты
	treeReach   = minTrunk + trunkSpread - 1 + crownRadius
)

// Field детерминированный генератор рельефа.
// Не содержит изменяемого состояния и безопасен для параллельного чтения.
type Field struct {
	cfg       Config
	elevation *perlin.Perlin
	detail    *perlin.Perlin
	caves     *perlin.Perlin
}

// New создаёт поле шума. Таблицы перестановок go-perlin строятся из сида,
// поэтому два Field с одним Config всегда совпадают.
func New(cfg Config) *Field {
	cfg = cfg.withDefaults()
	return &Field{
		cfg:       cfg,
		elevation: perlin.NewPerlin(cfg.Elevation.Alpha, cfg.Elevation.Beta, cfg.Elevation.Count, cfg.Seed),
		detail:    perlin.NewPerlin(cfg.Detail.Alpha, cfg.Detail.Beta, cfg.Detail.Count, cfg.Seed+detailSeedOffset),
		caves:     perlin.NewPerlin(cfg.Caves.Alpha, cfg.Caves.Beta, cfg.Caves.Count, cfg.Seed+caveSeedOffset),
	}
}

// Config возвращает фактические параметры поля
func (f *Field) Config() Config {
	return f.cfg
}

// MaxY верхняя граница генерации: выше неё базовый рельеф всегда пуст
func (f *Field) MaxY() int {
	if f.cfg.TreeChance > 0 {
		return f.cfg.MaxHeight + 1 + treeReach
	}
	return f.cfg.MaxHeight + 1
}

// HeightAt высота поверхности (y верхнего твёрдого блока) в колонне (x, z).
//
//	h = base + elevation.amplitude*E(x*s1, z*s1) + detail.amplitude*D(x*s2, z*s2)
//
// результат округляется вниз и ограничивается [min_height, max_height].
func (f *Field) HeightAt(x, z int) int {
	fx, fz := float64(x), float64(z)
	e := f.elevation.Noise2D(fx*f.cfg.Elevation.Scale, fz*f.cfg.Elevation.Scale)
	d := f.detail.Noise2D(fx*f.cfg.Detail.Scale, fz*f.cfg.Detail.Scale)

	h := int(math.Floor(float64(f.cfg.BaseHeight) + f.cfg.Elevation.Amplitude*e + f.cfg.Detail.Amplitude*d))
	if h < f.cfg.MinHeight {
		h = f.cfg.MinHeight
	}
	if h > f.cfg.MaxHeight {
		h = f.cfg.MaxHeight
	}
	return h
}

// MaterialAt базовый (сгенерированный) блок в точке. Тотальная функция.
func (f *Field) MaterialAt(x, y, z int) block.Block {
	if y < 0 || y > f.MaxY() {
		return block.Air
	}
	h := f.HeightAt(x, z)
	if y <= h {
		return f.terrainAt(x, y, z, h)
	}
	var near [(2*crownRadius + 1) * (2*crownRadius + 1)]tree
	return f.aboveGround(x, y, z, h, f.treesNear(x, z, near[:0]))
}

// Column заполняет buf блоками колонны (x, z) для y в [0, MaxY()].
// Высота и соседние деревья считаются один раз на колонну.
func (f *Field) Column(x, z int, buf []block.Block) []block.Block {
	buf = buf[:0]
	h := f.HeightAt(x, z)
	var near [(2*crownRadius + 1) * (2*crownRadius + 1)]tree
	trees := f.treesNear(x, z, near[:0])
	for y := 0; y <= f.MaxY(); y++ {
		if y <= h {
			buf = append(buf, f.terrainAt(x, y, z, h))
		} else {
			buf = append(buf, f.aboveGround(x, y, z, h, trees))
		}
	}
	return buf
}

// TopAt y самого верхнего сгенерированного блока колонны, на котором можно
// стоять: растения не считаются, ствол и листва считаются
func (f *Field) TopAt(x, z int) int {
	col := f.Column(x, z, nil)
	for y := len(col) - 1; y > 0; y-- {
		b := col[y]
		if b.IsEmpty() {
			continue
		}
		if p, _ := block.Get(b.Material()); !p.Plant {
			return y
		}
	}
	return 0
}

// TreeAt высота ствола дерева с корнем в колонне (x, z)
func (f *Field) TreeAt(x, z int) (trunk int, ok bool) {
	t, ok := f.treeAt(x, z)
	return t.trunk, ok
}

func (f *Field) terrainAt(x, y, z, h int) block.Block {
	switch {
	case y == 0:
		return block.Of(block.Stone)
	case y == h:
		return block.Of(f.surfaceMaterial(h))
	case y < h-f.cfg.Caves.MinDepth && f.carved(x, y, z):
		return block.Air
	case y >= h-f.cfg.DirtDepth:
		return block.Of(block.Dirt)
	default:
		return block.Of(block.Stone)
	}
}

// aboveGround блок над поверхностью колонны: ствол, затем листва, затем растение
func (f *Field) aboveGround(x, y, z, h int, trees []tree) block.Block {
	for _, t := range trees {
		if t.x == x && t.z == z && y >= t.base && y <= t.top() {
			return block.Of(block.Wood)
		}
	}
	for _, t := range trees {
		dx, dy, dz := x-t.x, y-t.top(), z-t.z
		if dy >= -1 && dx*dx+dy*dy+dz*dz <= crownRadius*crownRadius {
			return block.Of(block.Leaves)
		}
	}
	if y == h+1 {
		return f.plantAt(x, z, h)
	}
	return block.Air
}

// tree дерево с корнем в колонне (x, z); base это y нижнего блока ствола
type tree struct {
	x, z  int
	base  int
	trunk int
}

func (t tree) top() int {
	return t.base + t.trunk - 1
}

// treeAt хеш проверяется до HeightAt: шум считается только для редких корней
func (f *Field) treeAt(x, z int) (tree, bool) {
	if f.cfg.TreeChance <= 0 {
		return tree{}, false
	}
	v := hash2(int64(x), int64(z), f.cfg.Seed+treeSeedOffset)
	if float64(v&0xFFFF)/65536.0 >= f.cfg.TreeChance {
		return tree{}, false
	}
	h := f.HeightAt(x, z)
	if h <= minTreeSoil || f.surfaceMaterial(h) != block.Grass {
		return tree{}, false
	}
	return tree{x: x, z: z, base: h + 1, trunk: minTrunk + int((v>>16)%trunkSpread)}, true
}

// treesNear деревья, чья крона может задеть колонну (x, z)
func (f *Field) treesNear(x, z int, buf []tree) []tree {
	if f.cfg.TreeChance <= 0 {
		return buf
	}
	for dx := -crownRadius; dx <= crownRadius; dx++ {
		for dz := -crownRadius; dz <= crownRadius; dz++ {
			if t, ok := f.treeAt(x+dx, z+dz); ok {
				buf = append(buf, t)
			}
		}
	}
	return buf
}

func (f *Field) surfaceMaterial(h int) block.Material {
	switch {
	case h <= f.cfg.SandLevel:
		return block.Sand
	case h > f.cfg.SnowLevel:
		return block.Snow
	default:
		return block.Grass
	}
}

// plantAt растение над травой; выбор по хешу координат, без состояния ГСЧ
func (f *Field) plantAt(x, z, h int) block.Block {
	if f.surfaceMaterial(h) != block.Grass || f.cfg.PlantChance <= 0 {
		return block.Air
	}
	v := hash2(int64(x), int64(z), f.cfg.Seed+plantSeedOffset)
	if float64(v&0xFFFF)/65536.0 >= f.cfg.PlantChance {
		return block.Air
	}
	return block.Of(block.Plants[(v>>16)%uint64(len(block.Plants))])
}

func (f *Field) carved(x, y, z int) bool {
	s := f.cfg.Caves.Scale
	return f.caves.Noise3D(float64(x)*s, float64(y)*s, float64(z)*s) > f.cfg.Caves.Threshold
}

// hash2 целочисленный хеш в стиле SplitMix64
func hash2(x, z, seed int64) uint64 {
	v := uint64(x)*0x9E3779B97F4A7C15 ^ uint64(z)*0xC2B2AE3D27D4EB4F ^ uint64(seed)
	v += 0x9E3779B97F4A7C15
	v = (v ^ (v >> 30)) * 0xBF58476D1CE4E5B9
	v = (v ^ (v >> 27)) * 0x94D049BB133111EB
	return v ^ (v >> 31)
}
