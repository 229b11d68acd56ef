// Команда botclient подключает к серверу мира несколько безголовых клиентов:
// они бродят, ставят и ломают блоки и строят меши полученных чанков.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math"
	"math/rand"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/annel0/craft-world/internal/client"
	"github.com/annel0/craft-world/internal/logging"
	"github.com/annel0/craft-world/internal/mesh"
	"github.com/annel0/craft-world/internal/physics"
	"github.com/annel0/craft-world/internal/world/block"
)

type botStats struct {
	placed atomic.Int64
	broken atomic.Int64
	quads  atomic.Int64
	meshes atomic.Int64
}

func main() {
	var (
		addr      = flag.String("addr", "127.0.0.1:4080", "world server address")
		transport = flag.String("transport", "tcp", "tcp | kcp | ws")
		wsPath    = flag.String("ws-path", "/ws", "websocket path")
		bots      = flag.Int("bots", 1, "number of bots")
		radius    = flag.Int("radius", 4, "view radius, must match the server")
		duration  = flag.Duration("duration", 30*time.Second, "how long to run (0 = until signal)")
		editEvery = flag.Duration("edit-every", 2*time.Second, "interval between block edits")
		seed      = flag.Int64("seed", time.Now().UnixNano(), "bot RNG seed")
		terrainY  = flag.Int("terrain-max-y", 0, "server world.noise.max_height+1 (0 = default terrain)")
	)
	flag.Parse()

	if err := logging.InitDefaultLogger("botclient", logging.Options{ConsoleLevel: logging.INFO}); err != nil {
		log.Fatalf("❌ Ошибка инициализации логирования: %v", err)
	}
	defer logging.CloseLogger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if *duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *duration)
		defer cancel()
	}

	var stats botStats
	var wg sync.WaitGroup
	for i := 0; i < *bots; i++ {
		opts := client.Options{Addr: *addr, Transport: *transport, WSPath: *wsPath, ViewRadius: *radius, TerrainMaxY: *terrainY}
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(*seed + int64(i)))
			if err := runBot(ctx, i, opts, *editEvery, rng, &stats); err != nil {
				logging.Error("Бот %d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	logging.Info("📊 Поставлено %d, сломано %d, мешей %d, квадов %d",
		stats.placed.Load(), stats.broken.Load(), stats.meshes.Load(), stats.quads.Load())
}

func runBot(ctx context.Context, n int, opts client.Options, editEvery time.Duration, rng *rand.Rand, stats *botStats) error {
	sess, err := client.Connect(ctx, opts)
	if err != nil {
		return err
	}
	defer sess.Close()
	if err := sess.Say(fmt.Sprintf("/nick bot%d", n)); err != nil {
		return err
	}

	sched := mesh.NewScheduler(sess.Cache(), 2, func(r mesh.Result) {
		stats.meshes.Add(1)
		stats.quads.Add(int64(len(r.Quads)))
	})
	sched.Start(ctx)
	defer sched.Close()

	heading := rng.Float64() * 2 * math.Pi
	const dt = 0.05
	frame := time.NewTicker(time.Duration(dt * float64(time.Second)))
	defer frame.Stop()
	lastEdit := time.Now()

	var body *physics.Body
	var spawnedAs uint64
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-frame.C:
		}

		if _, err := sess.Drain(); err != nil {
			logging.Warn("Бот %d: %v, переподключение", n, err)
			if err := sess.Reconnect(ctx); err != nil {
				return err
			}
			continue
		}
		if sess.ID() == 0 {
			continue
		}
		if sess.ID() != spawnedAs {
			// новое рукопожатие: сервер задал позицию
			body = physics.NewBody(sess.Position())
			spawnedAs = sess.ID()
		}
		sched.ScheduleAll(sess.Cache().Dirty())

		if rng.Intn(40) == 0 {
			heading += rng.Float64() - 0.5
		}
		c := body.Step(sess.Cache(), physics.Input{Forward: 1, Yaw: heading, Jump: rng.Intn(20) == 0}, dt)
		if c.Wall && body.OnGround {
			heading += math.Pi / 2
		}
		if err := sess.Move(body.Pos, heading, 0); err != nil {
			continue
		}

		if time.Since(lastEdit) >= editEvery {
			lastEdit = time.Now()
			edit(sess, body, heading, rng, stats)
		}
	}
}

// edit смотрит вперёд и вниз: ставит блок перед найденным или ломает его
func edit(sess *client.Session, body *physics.Body, heading float64, rng *rand.Rand, stats *botStats) {
	pos := body.Pos
	eye := mgl32.Vec3{float32(pos.X), float32(pos.Y) + 1.6, float32(pos.Z)}
	dir := mgl32.Vec3{float32(math.Cos(heading)), -0.6, float32(math.Sin(heading))}.Normalize()

	hit, ok := client.Hit(sess.Cache(), eye, dir, 8)
	if !ok {
		return
	}
	if rng.Intn(3) == 0 {
		if err := sess.Break(hit.Block); err == nil {
			stats.broken.Add(1)
		}
		return
	}
	if body.Collider.Intersects(pos, hit.Prev) {
		return
	}
	materials := []block.Material{block.Brick, block.Plank, block.Cobble, block.Glass, block.LightStone}
	b := block.Of(materials[rng.Intn(len(materials))])
	if b.Material() == block.LightStone {
		b = block.New(block.LightStone, block.FlagLight)
	}
	if err := sess.Place(hit.Prev, b); err == nil {
		stats.placed.Add(1)
	}
}
