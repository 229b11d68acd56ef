// Package mesh превращает снимок чанка в список видимых граней
// с отсечением скрытых граней и затенением углов (AO).
package mesh

import (
	"github.com/annel0/craft-world/internal/vec"
	"github.com/annel0/craft-world/internal/world"
	"github.com/annel0/craft-world/internal/world/block"
)

// Quad видимая грань блока
type Quad struct {
	Pos   vec.Vec3    // блок, которому принадлежит грань
	Face  vec.Face    // ориентация (нормаль) грани
	Block block.Block // материал и флаги (FlagLight для светящихся)
	// AO яркость вершин в порядке обхода Face.Tangents:
	// (-u,-v), (+u,-v), (+u,+v), (-u,+v); 1 = без затенения
	AO [4]float32
	// Cross диагональный квад растения; Face тогда лишь различает
	// две плоскости креста
	Cross bool
}

// aoWeights яркость вершины по уровню затенения 0..3
var aoWeights = [4]float32{1.0, 0.75, 0.5, 0.25}

// corners знаки (u, v) вершин в порядке обхода
var corners = [4][2]int{{-1, -1}, {1, -1}, {1, 1}, {-1, 1}}

// Lookup источник блоков для мешинга; world.Neighborhood удовлетворяет ему
type Lookup interface {
	BlockAt(v vec.Vec3) block.Block
}

// Build строит меш центрального чанка снимка. Результат детерминирован:
// блоки обходятся в порядке хранения, грани в порядке vec.Face.
func Build(n *world.Neighborhood) []Quad {
	var quads []Quad
	n.Center.ForEachBlock(func(v vec.Vec3, b block.Block) {
		quads = appendBlock(quads, n, v, b)
	})
	return quads
}

func appendBlock(quads []Quad, src Lookup, v vec.Vec3, b block.Block) []Quad {
	if p, ok := block.Get(b.Material()); ok && p.Plant {
		return append(quads,
			Quad{Pos: v, Face: vec.FaceFront, Block: b, AO: [4]float32{1, 1, 1, 1}, Cross: true},
			Quad{Pos: v, Face: vec.FaceRight, Block: b, AO: [4]float32{1, 1, 1, 1}, Cross: true},
		)
	}

	for f := vec.Face(0); f < vec.FaceCount; f++ {
		nb := src.BlockAt(v.Add(f.Normal()))
		if !exposed(b, nb) {
			continue
		}
		quads = append(quads, Quad{Pos: v, Face: f, Block: b, AO: faceAO(src, v, f)})
	}
	return quads
}

// exposed решает, видна ли грань блока b, смотрящая на соседа nb.
// Грань видна, если сосед пуст или прозрачен и сделан из другого
// материала: стекло рядом со стеклом не рисует внутренних граней.
func exposed(b, nb block.Block) bool {
	if nb.IsEmpty() {
		return true
	}
	return nb.IsTransparent() && nb.Material() != b.Material()
}

// faceAO считает затенение четырёх вершин грани по трём ячейкам,
// касающимся каждой вершины в слое перед гранью: две стороны и угол.
// Обе стороны заняты => максимальное затенение независимо от угла.
func faceAO(src Lookup, v vec.Vec3, f vec.Face) [4]float32 {
	front := v.Add(f.Normal())
	u, w := f.Tangents()

	var ao [4]float32
	for i, c := range corners {
		du := scale(u, c[0])
		dv := scale(w, c[1])
		side1 := occludes(src.BlockAt(front.Add(du)))
		side2 := occludes(src.BlockAt(front.Add(dv)))
		corner := occludes(src.BlockAt(front.Add(du).Add(dv)))
		ao[i] = aoWeights[aoLevel(side1, side2, corner)]
	}
	return ao
}

func aoLevel(side1, side2, corner bool) int {
	if side1 && side2 {
		return 3
	}
	level := 0
	for _, s := range [3]bool{side1, side2, corner} {
		if s {
			level++
		}
	}
	return level
}

func occludes(b block.Block) bool {
	return b.IsOpaque()
}

func scale(v vec.Vec3, k int) vec.Vec3 {
	return vec.Vec3{X: v.X * k, Y: v.Y * k, Z: v.Z * k}
}
