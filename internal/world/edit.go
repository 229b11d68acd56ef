package world

import (
	"context"
	"errors"
	"time"

	"github.com/annel0/craft-world/internal/vec"
	"github.com/annel0/craft-world/internal/world/block"
)

// Edit одно авторитетное изменение блока игроком. После записи не меняется.
type Edit struct {
	Pos    vec.Vec3    `json:"pos"`
	Block  block.Block `json:"block"`
	Author uint64      `json:"author"` // ID игрока; 0 = система
	Seq    uint64      `json:"seq"`    // глобальный порядковый номер сервера
	Time   time.Time   `json:"time"`
}

// Chunk возвращает чанк, которому принадлежит правка
func (e Edit) Chunk() vec.ChunkCoord {
	return e.Pos.Chunk()
}

// EditLog долговременный журнал правок (DeltaLog).
// Append должен вернуть nil только после того, как весь пакет записан надёжно.
type EditLog interface {
	// Append атомарно дописывает пакет правок в порядке Seq
	Append(ctx context.Context, edits []Edit) error
	// LoadEdits возвращает правки чанка по возрастанию Seq
	LoadEdits(ctx context.Context, cc vec.ChunkCoord) ([]Edit, error)
	// LastSeq наибольший записанный Seq (0 для пустого журнала)
	LastSeq(ctx context.Context) (uint64, error)
}

var (
	// ErrPersistence журнал не подтвердил запись; правки не применены
	ErrPersistence = errors.New("world: ошибка записи журнала правок")
	// ErrInvalidEdit правка с недопустимым материалом или флагами
	ErrInvalidEdit = errors.New("world: недопустимая правка")
)
