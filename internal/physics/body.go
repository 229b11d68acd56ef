package physics

import (
	"math"

	"github.com/annel0/craft-world/internal/vec"
)

// Константы движения, блоков в секунду
const (
	WalkSpeed        = 5.0
	FlySpeed         = 20.0
	Gravity          = 25.0
	JumpVelocity     = 8.0
	TerminalVelocity = 50.0

	// maxStep предел смещения за один подшаг, чтобы не проскочить блок
	maxStep = 0.2
)

// Input управление на кадр. Forward и Strafe в [-1, 1], Yaw в радианах.
type Input struct {
	Forward float64
	Strafe  float64
	Jump    bool
	Yaw     float64
}

// residentSource источник, знающий, какие чанки загружены
type residentSource interface {
	IsResident(cc vec.ChunkCoord) bool
}

// Body движущееся тело игрока
type Body struct {
	Pos      vec.Vec3Float
	VY       float64
	Flying   bool
	OnGround bool
	Collider BoxCollider
}

// NewBody тело игрока в pos
func NewBody(pos vec.Vec3Float) *Body {
	return &Body{Pos: pos, Collider: NewBoxCollider()}
}

// Step продвигает тело на dt секунд. Если источник знает о загрузке чанков,
// тело стоит, пока его чанк не загружен. Возвращает контакты последнего подшага.
func (b *Body) Step(src BlockSource, in Input, dt float64) Contact {
	if rs, ok := src.(residentSource); ok && !rs.IsResident(b.Pos.Chunk()) {
		return Contact{}
	}

	speed := WalkSpeed
	if b.Flying {
		speed = FlySpeed
	}
	dx := math.Cos(in.Yaw)*in.Forward - math.Sin(in.Yaw)*in.Strafe
	dz := math.Sin(in.Yaw)*in.Forward + math.Cos(in.Yaw)*in.Strafe
	if l := math.Hypot(dx, dz); l > 1 {
		dx, dz = dx/l, dz/l
	}
	dx, dz = dx*speed, dz*speed

	if b.Flying {
		b.VY = 0
		if in.Jump {
			b.VY = speed
		}
	} else {
		if in.Jump && b.OnGround {
			b.VY = JumpVelocity
		}
		b.VY = math.Max(b.VY-Gravity*dt, -TerminalVelocity)
	}

	dist := math.Max(math.Hypot(dx, dz), math.Abs(b.VY)) * dt
	steps := int(math.Ceil(dist / maxStep))
	if steps < 1 {
		steps = 1
	}
	h := dt / float64(steps)

	var c Contact
	for i := 0; i < steps; i++ {
		b.Pos.X += dx * h
		b.Pos.Y += b.VY * h
		b.Pos.Z += dz * h
		b.Pos, c = b.Collider.Collide(src, b.Pos)
		if c.Ground && b.VY < 0 {
			b.VY = 0
		}
		if c.Ceiling && b.VY > 0 {
			b.VY = 0
		}
	}
	b.OnGround = c.Ground
	if b.Pos.Y < 0 {
		// под миром ничего нет
		b.Pos.Y, b.VY, b.OnGround = 0, 0, true
	}
	return c
}
