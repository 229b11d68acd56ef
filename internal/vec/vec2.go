package vec

import "math"

// ChunkSize ширина чанка по X и Z в блоках
const ChunkSize = 32

// ChunkCoord представляет координаты колонны-чанка (p, q)
type ChunkCoord struct {
	P, Q int
}

// FloorDiv делит с округлением вниз (для отрицательных координат)
func FloorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

// FloorMod возвращает неотрицательный остаток
func FloorMod(a, b int) int {
	m := a % b
	if m < 0 {
		m += b
	}
	return m
}

// Chunked преобразует мировую координату X или Z в координату чанка
func Chunked(x int) int {
	return FloorDiv(x, ChunkSize)
}

// Origin возвращает мировые координаты угла (минимальные X, Z) чанка
func (c ChunkCoord) Origin() (x, z int) {
	return c.P * ChunkSize, c.Q * ChunkSize
}

// Contains проверяет, попадает ли блок в footprint чанка
func (c ChunkCoord) Contains(v Vec3) bool {
	return v.Chunk() == c
}

// Add смещает координаты чанка
func (c ChunkCoord) Add(dp, dq int) ChunkCoord {
	return ChunkCoord{P: c.P + dp, Q: c.Q + dq}
}

// ChebyshevTo возвращает расстояние в чанках по большей оси
func (c ChunkCoord) ChebyshevTo(other ChunkCoord) int {
	dp := c.P - other.P
	if dp < 0 {
		dp = -dp
	}
	dq := c.Q - other.Q
	if dq < 0 {
		dq = -dq
	}
	if dp > dq {
		return dp
	}
	return dq
}

// DistanceTo вычисляет евклидово расстояние между чанками
func (c ChunkCoord) DistanceTo(other ChunkCoord) float64 {
	dp := float64(c.P - other.P)
	dq := float64(c.Q - other.Q)
	return math.Sqrt(dp*dp + dq*dq)
}

// Ring возвращает все чанки в квадрате радиуса r вокруг c, включая сам c
func (c ChunkCoord) Ring(r int) []ChunkCoord {
	out := make([]ChunkCoord, 0, (2*r+1)*(2*r+1))
	for dp := -r; dp <= r; dp++ {
		for dq := -r; dq <= r; dq++ {
			out = append(out, c.Add(dp, dq))
		}
	}
	return out
}
