package mesh

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/craft-world/internal/deltalog"
	"github.com/annel0/craft-world/internal/vec"
	"github.com/annel0/craft-world/internal/world"
	"github.com/annel0/craft-world/internal/world/block"
	"github.com/annel0/craft-world/internal/world/noise"
)

// gatedSource задерживает снимки, пока тест не откроет gate
type gatedSource struct {
	arena    *world.Arena
	gate     chan struct{}
	builds   atomic.Int32
	resident func(vec.ChunkCoord) bool
}

func (g *gatedSource) Neighborhood(cc vec.ChunkCoord, clearDirty bool) (*world.Neighborhood, bool) {
	g.builds.Add(1)
	<-g.gate
	return g.arena.Neighborhood(cc, clearDirty)
}

func (g *gatedSource) IsResident(cc vec.ChunkCoord) bool {
	if g.resident != nil {
		return g.resident(cc)
	}
	_, ok := g.arena.Get(cc)
	return ok
}

type collector struct {
	mu      sync.Mutex
	results []Result
	ch      chan Result
}

func newCollector() *collector {
	return &collector{ch: make(chan Result, 64)}
}

func (c *collector) add(r Result) {
	c.mu.Lock()
	c.results = append(c.results, r)
	c.mu.Unlock()
	c.ch <- r
}

func (c *collector) wait(t *testing.T) Result {
	t.Helper()
	select {
	case r := <-c.ch:
		return r
	case <-time.After(5 * time.Second):
		t.Fatal("результат мешинга не пришёл")
		return Result{}
	}
}

func TestSchedulerCoalescesDuplicateRequests(t *testing.T) {
	arena := world.NewArena()
	cc := vec.ChunkCoord{P: 1, Q: 1}
	c := world.NewChunk(cc)
	c.SetBlock(vec.Vec3{X: 40, Y: 1, Z: 40}, block.Of(block.Stone))
	arena.Put(c)

	src := &gatedSource{arena: arena, gate: make(chan struct{})}
	out := newCollector()
	s := NewScheduler(src, 4, out.add)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)

	s.Schedule(cc)
	require.Eventually(t, func() bool { return src.builds.Load() == 1 }, time.Second, time.Millisecond)

	// Пока сборка идёт, повторные запросы склеиваются в одну пересборку
	for i := 0; i < 10; i++ {
		s.Schedule(cc)
	}
	close(src.gate)

	first := out.wait(t)
	second := out.wait(t)
	assert.Equal(t, cc, first.Coords)
	assert.Equal(t, cc, second.Coords)
	assert.Len(t, first.Quads, 6)

	require.Eventually(t, func() bool { return s.Pending() == 0 }, time.Second, time.Millisecond)
	assert.Equal(t, int32(2), src.builds.Load())
}

func TestSchedulerDropsEvictedChunk(t *testing.T) {
	arena := world.NewArena()
	cc := vec.ChunkCoord{}
	arena.Put(world.NewChunk(cc))

	gate := make(chan struct{})
	close(gate)
	var evicted atomic.Bool
	src := &gatedSource{arena: arena, gate: gate, resident: func(vec.ChunkCoord) bool { return !evicted.Load() }}
	out := newCollector()
	s := NewScheduler(src, 1, out.add)
	s.Start(context.Background())
	defer s.Close()

	evicted.Store(true)
	s.Schedule(cc)
	require.Eventually(t, func() bool { return src.builds.Load() == 1 && s.Pending() == 0 }, time.Second, time.Millisecond)

	// Чанка нет в арене: снимок не строится вовсе
	s.Schedule(vec.ChunkCoord{P: 9, Q: 9})
	require.Eventually(t, func() bool { return src.builds.Load() == 2 && s.Pending() == 0 }, time.Second, time.Millisecond)

	out.mu.Lock()
	defer out.mu.Unlock()
	assert.Empty(t, out.results, "меш выгруженного чанка не доставляется")
}

func TestRebuildClearsDirtyUntilEdit(t *testing.T) {
	ctx := context.Background()
	cfg := noise.DefaultConfig()
	cfg.Seed = 99
	w, err := world.New(ctx, noise.New(cfg), deltalog.NewMemoryLog())
	require.NoError(t, err)

	cc := vec.ChunkCoord{P: 2, Q: -1}
	c, err := w.GetOrGenerate(ctx, cc)
	require.NoError(t, err)
	require.True(t, c.IsDirty())

	out := newCollector()
	s := NewScheduler(w, 2, out.add)
	s.Start(ctx)
	defer s.Close()

	s.ScheduleAll(w.Arena().Dirty())
	r := out.wait(t)
	assert.Equal(t, cc, r.Coords)
	assert.NotEmpty(t, r.Quads)
	assert.False(t, c.IsDirty(), "после сборки чанк чистый")
	assert.Empty(t, w.Arena().Dirty())

	ox, oz := cc.Origin()
	_, err = w.ApplyEdit(ctx, world.Edit{Pos: vec.Vec3{X: ox + 3, Y: 100, Z: oz + 3}, Block: block.Of(block.Brick)})
	require.NoError(t, err)
	assert.True(t, c.IsDirty())

	s.ScheduleAll(w.Arena().Dirty())
	r = out.wait(t)
	found := false
	for _, q := range r.Quads {
		if q.Pos == (vec.Vec3{X: ox + 3, Y: 100, Z: oz + 3}) {
			found = true
		}
	}
	assert.True(t, found, "новый меш содержит поставленный блок")
}
