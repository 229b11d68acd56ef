package mesh

import (
	"context"
	"sync"
	"time"

	"github.com/annel0/craft-world/internal/logging"
	"github.com/annel0/craft-world/internal/vec"
	"github.com/annel0/craft-world/internal/world"
)

// Source резидентные чанки, которые можно мешить.
// Neighborhood с clearDirty=true снимает флаг dirty атомарно со снимком.
type Source interface {
	Neighborhood(cc vec.ChunkCoord, clearDirty bool) (*world.Neighborhood, bool)
	IsResident(cc vec.ChunkCoord) bool
}

// Result построенный меш чанка
type Result struct {
	Coords  vec.ChunkCoord
	Quads   []Quad
	Version uint64 // версия содержимого чанка в снимке
}

// Scheduler пул воркеров перестройки мешей. Для каждого чанка одновременно
// выполняется не больше одной сборки; если чанк запросили во время сборки,
// он будет собран ещё раз после неё. Результаты для выгруженных чанков
// отбрасываются.
type Scheduler struct {
	src      Source
	workers  int
	onResult func(Result)

	mu       sync.Mutex
	cond     *sync.Cond
	queue    []vec.ChunkCoord
	queued   map[vec.ChunkCoord]bool
	inflight map[vec.ChunkCoord]bool
	again    map[vec.ChunkCoord]bool
	closed   bool

	wg sync.WaitGroup
}

// NewScheduler создаёт планировщик; onResult вызывается из воркеров
func NewScheduler(src Source, workers int, onResult func(Result)) *Scheduler {
	if workers <= 0 {
		workers = 1
	}
	s := &Scheduler{
		src:      src,
		workers:  workers,
		onResult: onResult,
		queued:   make(map[vec.ChunkCoord]bool),
		inflight: make(map[vec.ChunkCoord]bool),
		again:    make(map[vec.ChunkCoord]bool),
	}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// Start запускает воркеры; они завершаются по ctx или Close
func (s *Scheduler) Start(ctx context.Context) {
	for i := 0; i < s.workers; i++ {
		s.wg.Add(1)
		go s.worker()
	}
	go func() {
		<-ctx.Done()
		s.Close()
	}()
}

// Close останавливает воркеры и ждёт завершения текущих сборок
func (s *Scheduler) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	pendingBuilds.Sub(float64(len(s.queue)))
	s.queue = nil
	s.queued = make(map[vec.ChunkCoord]bool)
	s.cond.Broadcast()
	s.mu.Unlock()
	s.wg.Wait()
}

// Schedule ставит чанк в очередь на перестройку
func (s *Scheduler) Schedule(cc vec.ChunkCoord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scheduleLocked(cc)
}

// ScheduleAll ставит в очередь несколько чанков
func (s *Scheduler) ScheduleAll(coords []vec.ChunkCoord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, cc := range coords {
		s.scheduleLocked(cc)
	}
}

func (s *Scheduler) scheduleLocked(cc vec.ChunkCoord) {
	if s.closed || s.queued[cc] {
		return
	}
	if s.inflight[cc] {
		s.again[cc] = true
		return
	}
	s.queued[cc] = true
	s.queue = append(s.queue, cc)
	pendingBuilds.Inc()
	s.cond.Signal()
}

// Pending число чанков в очереди и в работе
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue) + len(s.inflight)
}

func (s *Scheduler) next() (vec.ChunkCoord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for len(s.queue) == 0 && !s.closed {
		s.cond.Wait()
	}
	if s.closed {
		return vec.ChunkCoord{}, false
	}
	cc := s.queue[0]
	s.queue = s.queue[1:]
	delete(s.queued, cc)
	s.inflight[cc] = true
	pendingBuilds.Dec()
	return cc, true
}

func (s *Scheduler) worker() {
	defer s.wg.Done()
	for {
		cc, ok := s.next()
		if !ok {
			return
		}
		s.build(cc)

		s.mu.Lock()
		delete(s.inflight, cc)
		if s.again[cc] {
			delete(s.again, cc)
			s.scheduleLocked(cc)
		}
		s.mu.Unlock()
	}
}

func (s *Scheduler) build(cc vec.ChunkCoord) {
	n, ok := s.src.Neighborhood(cc, true)
	if !ok {
		discardedBuilds.Inc()
		return
	}

	start := time.Now()
	quads := Build(n)
	buildDuration.Observe(time.Since(start).Seconds())

	if !s.src.IsResident(cc) {
		discardedBuilds.Inc()
		logging.GetMeshLogger().Trace("Меш чанка %v отброшен: чанк выгружен", cc)
		return
	}
	builtQuads.Add(float64(len(quads)))
	if s.onResult != nil {
		s.onResult(Result{Coords: cc, Quads: quads, Version: n.Center.Version()})
	}
}
