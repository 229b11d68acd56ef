package vec

import "math"

// Vec3 представляет трехмерный вектор с целочисленными координатами (координата блока)
type Vec3 struct {
	X int
	Y int
	Z int
}

// Vec3Float представляет трехмерный вектор с плавающими координатами
type Vec3Float struct {
	X float64
	Y float64
	Z float64
}

// Chunk возвращает координаты чанка, которому принадлежит блок
func (v Vec3) Chunk() ChunkCoord {
	return ChunkCoord{P: Chunked(v.X), Q: Chunked(v.Z)}
}

// Local возвращает локальные X и Z внутри чанка (0..ChunkSize-1)
func (v Vec3) Local() (lx, lz int) {
	return FloorMod(v.X, ChunkSize), FloorMod(v.Z, ChunkSize)
}

// Equals проверяет равенство векторов
func (v Vec3) Equals(other Vec3) bool {
	return v.X == other.X && v.Y == other.Y && v.Z == other.Z
}

// Add складывает два вектора
func (v Vec3) Add(other Vec3) Vec3 {
	return Vec3{
		X: v.X + other.X,
		Y: v.Y + other.Y,
		Z: v.Z + other.Z,
	}
}

// Block возвращает блок, в котором находится точка
func (v Vec3Float) Block() Vec3 {
	return Vec3{
		X: int(math.Floor(v.X)),
		Y: int(math.Floor(v.Y)),
		Z: int(math.Floor(v.Z)),
	}
}

// Chunk возвращает чанк, в котором находится точка
func (v Vec3Float) Chunk() ChunkCoord {
	return v.Block().Chunk()
}
