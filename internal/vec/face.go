package vec

// Face одна из шести граней блока
type Face uint8

const (
	FaceRight  Face = iota // +X
	FaceLeft               // -X
	FaceTop                // +Y
	FaceBottom             // -Y
	FaceFront              // +Z
	FaceBack               // -Z

	FaceCount
)

var faceNames = [FaceCount]string{"right", "left", "top", "bottom", "front", "back"}

func (f Face) String() string {
	if f >= FaceCount {
		return "unknown"
	}
	return faceNames[f]
}

// Normal возвращает единичную нормаль грани
func (f Face) Normal() Vec3 {
	switch f {
	case FaceRight:
		return Vec3{X: 1}
	case FaceLeft:
		return Vec3{X: -1}
	case FaceTop:
		return Vec3{Y: 1}
	case FaceBottom:
		return Vec3{Y: -1}
	case FaceFront:
		return Vec3{Z: 1}
	default:
		return Vec3{Z: -1}
	}
}

// Tangents возвращает две оси в плоскости грани (u, v).
// Порядок фиксирован: вершины квада обходятся как (-u,-v), (+u,-v), (+u,+v), (-u,+v).
func (f Face) Tangents() (u, v Vec3) {
	switch f {
	case FaceRight, FaceLeft:
		return Vec3{Z: 1}, Vec3{Y: 1}
	case FaceTop, FaceBottom:
		return Vec3{X: 1}, Vec3{Z: 1}
	default:
		return Vec3{X: 1}, Vec3{Y: 1}
	}
}
