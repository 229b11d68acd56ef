package world

import (
	"context"
	"fmt"
)

// ReplayInto применяет к чанку все правки из журнала по порядку,
// поздние правки перекрывают ранние. Возвращает число применённых правок.
func ReplayInto(ctx context.Context, log EditLog, c *Chunk) (int, error) {
	edits, err := log.LoadEdits(ctx, c.Coords)
	if err != nil {
		return 0, fmt.Errorf("%w: загрузка правок чанка %v: %v", ErrPersistence, c.Coords, err)
	}

	var prev uint64
	for _, e := range edits {
		if e.Chunk() != c.Coords {
			return 0, fmt.Errorf("журнал вернул правку %v чужого чанка %v", e.Pos, c.Coords)
		}
		if e.Seq < prev {
			return 0, fmt.Errorf("журнал нарушил порядок: seq %d после %d", e.Seq, prev)
		}
		prev = e.Seq
		c.SetBlock(e.Pos, e.Block)
		c.ObserveSeq(e.Seq)
	}
	return len(edits), nil
}
