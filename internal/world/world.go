package world

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/annel0/craft-world/internal/logging"
	"github.com/annel0/craft-world/internal/vec"
	"github.com/annel0/craft-world/internal/world/block"
	"github.com/annel0/craft-world/internal/world/noise"
)

// World авторитетное хранилище чанков сервера.
// Все изменения идут через ApplyEdits; читатели снимков берут RLock.
type World struct {
	arena *Arena
	field *noise.Field
	log   EditLog

	seq         uint64        // последний выданный seq
	generations atomic.Uint64 // сколько раз запускалась генерация рельефа
	mu          sync.RWMutex  // сериализует правки относительно снимков
	genMu       sync.Mutex    // одна генерация за раз
}

// New создаёт мир поверх журнала правок и восстанавливает счётчик seq
func New(ctx context.Context, field *noise.Field, log EditLog) (*World, error) {
	last, err := log.LastSeq(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: чтение последнего seq: %v", ErrPersistence, err)
	}
	logging.Info("🌍 Мир открыт: seed=%d, последний seq=%d", field.Config().Seed, last)
	return &World{
		arena: NewArena(),
		field: field,
		log:   log,
		seq:   last,
	}, nil
}

// Field генератор рельефа мира
func (w *World) Field() *noise.Field {
	return w.field
}

// Arena резидентные чанки
func (w *World) Arena() *Arena {
	return w.arena
}

// LastSeq последний применённый seq
func (w *World) LastSeq() uint64 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.seq
}

// Generations число запусков генерации (чанки генерируются ровно один раз)
func (w *World) Generations() uint64 {
	return w.generations.Load()
}

// GetOrGenerate возвращает резидентный чанк, при необходимости синтезируя
// рельеф и переигрывая поверх него журнал правок.
func (w *World) GetOrGenerate(ctx context.Context, cc vec.ChunkCoord) (*Chunk, error) {
	if c, ok := w.arena.Get(cc); ok {
		return c, nil
	}

	w.genMu.Lock()
	defer w.genMu.Unlock()
	if c, ok := w.arena.Get(cc); ok {
		return c, nil
	}

	c := w.generate(cc)
	n, err := ReplayInto(ctx, w.log, c)
	if err != nil {
		return nil, err
	}
	c.markGenerated()
	w.arena.Put(c)
	w.arena.MarkDirtyNeighbors(cc)

	logging.Debug("Чанк %v сгенерирован, переиграно правок: %d", cc, n)
	return c, nil
}

func (w *World) generate(cc vec.ChunkCoord) *Chunk {
	w.generations.Add(1)
	c := NewChunk(cc)
	ox, oz := cc.Origin()
	buf := make([]block.Block, 0, w.field.MaxY()+1)
	for lx := 0; lx < vec.ChunkSize; lx++ {
		for lz := 0; lz < vec.ChunkSize; lz++ {
			buf = w.field.Column(ox+lx, oz+lz, buf)
			for y, b := range buf {
				if !b.IsEmpty() {
					c.setLocked(lx, y, lz, b)
				}
			}
		}
	}
	return c
}

// BlockAt читает блок, генерируя чанк при первом обращении
func (w *World) BlockAt(ctx context.Context, v vec.Vec3) (block.Block, error) {
	c, err := w.GetOrGenerate(ctx, v.Chunk())
	if err != nil {
		return block.Air, err
	}
	w.mu.RLock()
	defer w.mu.RUnlock()
	return c.Block(v), nil
}

// ApplyEdit одиночная правка; см. ApplyEdits
func (w *World) ApplyEdit(ctx context.Context, e Edit) (Edit, error) {
	out, err := w.ApplyEdits(ctx, []Edit{e})
	if err != nil {
		return Edit{}, err
	}
	return out[0], nil
}

// ApplyEdits присваивает пакету подряд идущие seq, надёжно пишет его
// в журнал и только затем применяет в памяти. Если журнал отказал,
// пакет целиком отклоняется и счётчик seq не продвигается.
// Возвращает правки с проставленными Seq и Time.
func (w *World) ApplyEdits(ctx context.Context, edits []Edit) ([]Edit, error) {
	if len(edits) == 0 {
		return nil, nil
	}
	for _, e := range edits {
		if err := block.Validate(e.Block.Material(), e.Block.Flags()); err != nil {
			return nil, fmt.Errorf("%w %v: %v", ErrInvalidEdit, e.Pos, err)
		}
	}

	// Правка нуждается в сгенерированном чанке, иначе генерация позже
	// перетерла бы её рельеф. Генерация идёт до захвата mu.
	chunks := make(map[vec.ChunkCoord]*Chunk, 1)
	for _, e := range edits {
		cc := e.Chunk()
		if _, ok := chunks[cc]; ok {
			continue
		}
		c, err := w.GetOrGenerate(ctx, cc)
		if err != nil {
			return nil, err
		}
		chunks[cc] = c
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	now := time.Now()
	batch := make([]Edit, len(edits))
	for i, e := range edits {
		e.Block = e.Block.Normalize()
		e.Seq = w.seq + uint64(i) + 1
		if e.Time.IsZero() {
			e.Time = now
		}
		batch[i] = e
	}

	if err := w.log.Append(ctx, batch); err != nil {
		logging.Error("Журнал правок отклонил пакет из %d правок: %v", len(batch), err)
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	w.seq = batch[len(batch)-1].Seq

	for _, e := range batch {
		c := chunks[e.Chunk()]
		c.SetBlock(e.Pos, e.Block)
		c.ObserveSeq(e.Seq)
		w.arena.MarkDirtyAround(e.Pos)
	}
	return batch, nil
}

// Dump снимок чанка для отправки клиенту: содержимое и seq, отражённый в нём
func (w *World) Dump(ctx context.Context, cc vec.ChunkCoord) (ChunkDump, error) {
	c, err := w.GetOrGenerate(ctx, cc)
	if err != nil {
		return ChunkDump{}, err
	}
	w.mu.RLock()
	defer w.mu.RUnlock()
	return ChunkDump{Coords: cc, Seq: c.LastSeq(), Runs: c.Runs()}, nil
}

// ChunkSeq seq, отражённый в текущем состоянии чанка
func (w *World) ChunkSeq(ctx context.Context, cc vec.ChunkCoord) (uint64, error) {
	c, err := w.GetOrGenerate(ctx, cc)
	if err != nil {
		return 0, err
	}
	w.mu.RLock()
	defer w.mu.RUnlock()
	return c.LastSeq(), nil
}

// Neighborhood согласованный снимок для мешинга (только резидентные чанки)
func (w *World) Neighborhood(cc vec.ChunkCoord, clearDirty bool) (*Neighborhood, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.arena.Neighborhood(cc, clearDirty)
}

// Unload выгружает чанк из памяти; журнал восстановит его правки
func (w *World) Unload(cc vec.ChunkCoord) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.arena.Delete(cc)
}

// IsResident true, если чанк загружен в память
func (w *World) IsResident(cc vec.ChunkCoord) bool {
	_, ok := w.arena.Get(cc)
	return ok
}

// History правки чанка из журнала по возрастанию seq
func (w *World) History(ctx context.Context, cc vec.ChunkCoord) ([]Edit, error) {
	edits, err := w.log.LoadEdits(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("%w: история %v: %v", ErrPersistence, cc, err)
	}
	return edits, nil
}
