package world

import (
	"context"
	"errors"
	"math"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/craft-world/internal/vec"
	"github.com/annel0/craft-world/internal/world/block"
	"github.com/annel0/craft-world/internal/world/noise"
)

// memLog минимальный журнал для тестов пакета с возможностью отказа
type memLog struct {
	mu    sync.Mutex
	edits []Edit
	fail  error
}

func (m *memLog) Append(_ context.Context, edits []Edit) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return m.fail
	}
	m.edits = append(m.edits, edits...)
	return nil
}

func (m *memLog) LoadEdits(_ context.Context, cc vec.ChunkCoord) ([]Edit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Edit
	for _, e := range m.edits {
		if e.Chunk() == cc {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

func (m *memLog) LastSeq(context.Context) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.edits) == 0 {
		return 0, nil
	}
	return m.edits[len(m.edits)-1].Seq, nil
}

func newTestWorld(t *testing.T, log EditLog) *World {
	t.Helper()
	cfg := noise.DefaultConfig()
	cfg.Seed = 1234
	w, err := New(context.Background(), noise.New(cfg), log)
	require.NoError(t, err)
	return w
}

func TestGetOrGenerateIsIdempotent(t *testing.T) {
	w := newTestWorld(t, &memLog{})
	ctx := context.Background()
	cc := vec.ChunkCoord{P: 2, Q: -1}

	first, err := w.GetOrGenerate(ctx, cc)
	require.NoError(t, err)
	second, err := w.GetOrGenerate(ctx, cc)
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, uint64(1), w.Generations(), "генерация должна выполниться ровно один раз")
}

func TestConcurrentGenerateOnce(t *testing.T) {
	w := newTestWorld(t, &memLog{})
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := w.GetOrGenerate(ctx, vec.ChunkCoord{P: 5, Q: 5})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, uint64(1), w.Generations())
}

func TestGeneratedTerrainMatchesField(t *testing.T) {
	w := newTestWorld(t, &memLog{})
	ctx := context.Background()
	for _, v := range []vec.Vec3{{X: 0, Y: 0, Z: 0}, {X: -17, Y: 5, Z: 40}, {X: 100, Y: 9, Z: -3}, {X: 3, Y: -1, Z: 3}} {
		b, err := w.BlockAt(ctx, v)
		require.NoError(t, err)
		assert.Equal(t, w.Field().MaterialAt(v.X, v.Y, v.Z), b, "блок %v", v)
	}
}

func TestTreeCrownCrossesChunkBorder(t *testing.T) {
	w := newTestWorld(t, &memLog{})
	f := w.Field()
	ctx := context.Background()

	// Корень в последней колонне чанка: листва уходит в соседний по X
	found := false
	var root vec.Vec3
	for p := -8; p < 8 && !found; p++ {
		x := p*vec.ChunkSize + vec.ChunkSize - 1
		for z := -200; z < 200; z++ {
			trunk, ok := f.TreeAt(x, z)
			if !ok {
				continue
			}
			top := f.HeightAt(x, z) + trunk
			if f.MaterialAt(x+1, top+1, z) == block.Of(block.Leaves) {
				root, found = vec.Vec3{X: x, Y: top, Z: z}, true
				break
			}
		}
	}
	require.True(t, found, "дерево на границе чанка не найдено")
	require.NotEqual(t, root.Chunk(), vec.Vec3{X: root.X + 1, Z: root.Z}.Chunk())

	for dx := 0; dx <= 2; dx++ {
		for dy := -1; dy <= 2; dy++ {
			v := vec.Vec3{X: root.X + dx, Y: root.Y + dy, Z: root.Z}
			b, err := w.BlockAt(ctx, v)
			require.NoError(t, err)
			assert.Equal(t, f.MaterialAt(v.X, v.Y, v.Z), b, "блок %v", v)
		}
	}
	b, err := w.BlockAt(ctx, vec.Vec3{X: root.X + 1, Y: root.Y + 1, Z: root.Z})
	require.NoError(t, err)
	assert.Equal(t, block.Of(block.Leaves), b)
}

func TestEditSurvivesRestart(t *testing.T) {
	log := &memLog{}
	ctx := context.Background()
	pos := vec.Vec3{X: 5, Y: 10, Z: -3}

	w := newTestWorld(t, log)
	applied, err := w.ApplyEdit(ctx, Edit{Pos: pos, Block: block.Of(block.Glass), Author: 1})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), applied.Seq)
	assert.False(t, applied.Time.IsZero())

	restarted := newTestWorld(t, log)
	assert.Equal(t, uint64(1), restarted.LastSeq(), "seq восстанавливается из журнала")
	b, err := restarted.BlockAt(ctx, pos)
	require.NoError(t, err)
	assert.Equal(t, block.Of(block.Glass), b)
}

func TestLastWriterWins(t *testing.T) {
	log := &memLog{}
	ctx := context.Background()
	pos := vec.Vec3{X: 1, Y: 1, Z: 1}

	w := newTestWorld(t, log)
	_, err := w.ApplyEdit(ctx, Edit{Pos: pos, Block: block.Of(block.Stone), Author: 1})
	require.NoError(t, err)
	second, err := w.ApplyEdit(ctx, Edit{Pos: pos, Block: block.Air, Author: 2})
	require.NoError(t, err)
	assert.Equal(t, uint64(2), second.Seq)

	b, err := w.BlockAt(ctx, pos)
	require.NoError(t, err)
	assert.True(t, b.IsEmpty())

	// Переигрывание журнала даёт тот же итог
	c := NewChunk(pos.Chunk())
	n, err := ReplayInto(ctx, log, c)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.True(t, c.Block(pos).IsEmpty())
	assert.Equal(t, uint64(2), c.LastSeq())
}

func TestBatchGetsConsecutiveSeqs(t *testing.T) {
	w := newTestWorld(t, &memLog{})
	batch, err := w.ApplyEdits(context.Background(), []Edit{
		{Pos: vec.Vec3{X: 0, Y: 50, Z: 0}, Block: block.Of(block.Brick)},
		{Pos: vec.Vec3{X: 40, Y: 50, Z: 0}, Block: block.Of(block.Wood)},
		{Pos: vec.Vec3{X: -40, Y: 50, Z: 0}, Block: block.Of(block.Plank)},
	})
	require.NoError(t, err)
	require.Len(t, batch, 3)
	for i, e := range batch {
		assert.Equal(t, uint64(i+1), e.Seq)
	}
	assert.Equal(t, uint64(3), w.LastSeq())
}

func TestPersistenceFailureRejectsBatch(t *testing.T) {
	log := &memLog{}
	ctx := context.Background()
	w := newTestWorld(t, log)
	pos := vec.Vec3{X: 3, Y: 60, Z: 3}

	log.fail = errors.New("диск полон")
	_, err := w.ApplyEdit(ctx, Edit{Pos: pos, Block: block.Of(block.Brick)})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPersistence)
	assert.Equal(t, uint64(0), w.LastSeq(), "seq не должен продвинуться")

	b, err := w.BlockAt(ctx, pos)
	require.NoError(t, err)
	assert.True(t, b.IsEmpty(), "отклонённая правка не применяется в памяти")

	log.fail = nil
	applied, err := w.ApplyEdit(ctx, Edit{Pos: pos, Block: block.Of(block.Brick)})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), applied.Seq)
}

func TestInvalidEditRejected(t *testing.T) {
	w := newTestWorld(t, &memLog{})
	_, err := w.ApplyEdit(context.Background(), Edit{Pos: vec.Vec3{}, Block: block.New(99, 0)})
	assert.ErrorIs(t, err, ErrInvalidEdit)
	_, err = w.ApplyEdit(context.Background(), Edit{Pos: vec.Vec3{}, Block: block.New(block.Stone, 0x80)})
	assert.ErrorIs(t, err, ErrInvalidEdit)
}

func TestDirtyLifecycle(t *testing.T) {
	w := newTestWorld(t, &memLog{})
	ctx := context.Background()
	cc := vec.ChunkCoord{P: 2, Q: -1}

	c, err := w.GetOrGenerate(ctx, cc)
	require.NoError(t, err)
	assert.True(t, c.IsDirty(), "свежесгенерированный чанк требует меша")

	_, ok := w.Neighborhood(cc, true)
	require.True(t, ok)
	assert.False(t, c.IsDirty())

	ox, oz := cc.Origin()
	_, err = w.ApplyEdit(ctx, Edit{Pos: vec.Vec3{X: ox + 10, Y: 30, Z: oz + 10}, Block: block.Of(block.Cement)})
	require.NoError(t, err)
	assert.True(t, c.IsDirty())
}

func TestBoundaryEditDirtiesNeighbors(t *testing.T) {
	w := newTestWorld(t, &memLog{})
	ctx := context.Background()
	coords := []vec.ChunkCoord{{P: 0, Q: 0}, {P: -1, Q: 0}, {P: 0, Q: -1}, {P: -1, Q: -1}, {P: 1, Q: 0}}
	for _, cc := range coords {
		_, err := w.GetOrGenerate(ctx, cc)
		require.NoError(t, err)
	}
	clean := func() {
		for _, cc := range coords {
			c, _ := w.Arena().Get(cc)
			c.ClearDirty()
		}
	}

	clean()
	_, err := w.ApplyEdit(ctx, Edit{Pos: vec.Vec3{X: 0, Y: 30, Z: 0}, Block: block.Of(block.Stone)})
	require.NoError(t, err)
	for _, cc := range coords[:4] {
		c, _ := w.Arena().Get(cc)
		assert.True(t, c.IsDirty(), "угловая правка должна пометить %v", cc)
	}
	c, _ := w.Arena().Get(vec.ChunkCoord{P: 1, Q: 0})
	assert.False(t, c.IsDirty())

	clean()
	_, err = w.ApplyEdit(ctx, Edit{Pos: vec.Vec3{X: 10, Y: 30, Z: 10}, Block: block.Of(block.Stone)})
	require.NoError(t, err)
	for _, cc := range coords[1:] {
		c, _ := w.Arena().Get(cc)
		assert.False(t, c.IsDirty(), "внутренняя правка не трогает соседа %v", cc)
	}
}

func TestNeighborhoodSeesBorder(t *testing.T) {
	w := newTestWorld(t, &memLog{})
	ctx := context.Background()
	_, err := w.GetOrGenerate(ctx, vec.ChunkCoord{P: 0, Q: 0})
	require.NoError(t, err)
	_, err = w.ApplyEdit(ctx, Edit{Pos: vec.Vec3{X: 32, Y: 80, Z: 5}, Block: block.Of(block.Brick)})
	require.NoError(t, err)
	_, err = w.ApplyEdit(ctx, Edit{Pos: vec.Vec3{X: 33, Y: 80, Z: 5}, Block: block.Of(block.Brick)})
	require.NoError(t, err)

	n, ok := w.Neighborhood(vec.ChunkCoord{P: 0, Q: 0}, false)
	require.True(t, ok)
	assert.Equal(t, block.Of(block.Brick), n.BlockAt(vec.Vec3{X: 32, Y: 80, Z: 5}))
	assert.Equal(t, block.Air, n.BlockAt(vec.Vec3{X: 33, Y: 80, Z: 5}), "вне полосы соседа снимок пуст")
	assert.Equal(t, block.Air, n.BlockAt(vec.Vec3{X: 5, Y: 80, Z: -100}), "отсутствующий сосед пуст")
}

func TestDumpCarriesChunkSeq(t *testing.T) {
	w := newTestWorld(t, &memLog{})
	ctx := context.Background()
	_, err := w.ApplyEdit(ctx, Edit{Pos: vec.Vec3{X: 100, Y: 1, Z: 100}, Block: block.Of(block.Stone)})
	require.NoError(t, err)
	_, err = w.ApplyEdit(ctx, Edit{Pos: vec.Vec3{X: 1, Y: 70, Z: 1}, Block: block.Of(block.Glass)})
	require.NoError(t, err)

	d, err := w.Dump(ctx, vec.ChunkCoord{P: 0, Q: 0})
	require.NoError(t, err)
	assert.Equal(t, uint64(2), d.Seq)

	c := NewChunk(d.Coords)
	require.NoError(t, c.LoadRuns(d.Runs, d.Seq))
	assert.Equal(t, block.Of(block.Glass), c.Block(vec.Vec3{X: 1, Y: 70, Z: 1}))
}

func TestDumpAtExtremeHeights(t *testing.T) {
	for _, y := range []int{1 << 40, math.MaxInt, math.MinInt} {
		w := newTestWorld(t, &memLog{})
		ctx := context.Background()
		pos := vec.Vec3{X: 3, Y: y, Z: 5}
		_, err := w.ApplyEdit(ctx, Edit{Pos: pos, Block: block.Of(block.Brick)})
		require.NoError(t, err)

		done := make(chan ChunkDump, 1)
		go func() {
			d, err := w.Dump(ctx, pos.Chunk())
			assert.NoError(t, err)
			done <- d
		}()
		var d ChunkDump
		select {
		case d = <-done:
		case <-time.After(5 * time.Second):
			t.Fatalf("дамп с блоком на y=%d не завершился", y)
		}

		c := NewChunk(d.Coords)
		require.NoError(t, c.LoadRuns(d.Runs, d.Seq))
		assert.Equal(t, block.Of(block.Brick), c.Block(pos), "y=%d", y)
		src, _ := w.Arena().Get(pos.Chunk())
		assert.Equal(t, src.BlockCount(), c.BlockCount(), "y=%d", y)
	}
}

func TestUnloadAndReload(t *testing.T) {
	log := &memLog{}
	w := newTestWorld(t, log)
	ctx := context.Background()
	pos := vec.Vec3{X: 7, Y: 90, Z: 7}
	_, err := w.ApplyEdit(ctx, Edit{Pos: pos, Block: block.Of(block.Snow)})
	require.NoError(t, err)

	assert.True(t, w.Unload(pos.Chunk()))
	b, err := w.BlockAt(ctx, pos)
	require.NoError(t, err)
	assert.Equal(t, block.Of(block.Snow), b)
	assert.Equal(t, uint64(2), w.Generations())
}
