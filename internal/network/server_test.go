package network

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/craft-world/internal/deltalog"
	"github.com/annel0/craft-world/internal/protocol"
	"github.com/annel0/craft-world/internal/storage"
	"github.com/annel0/craft-world/internal/vec"
	"github.com/annel0/craft-world/internal/world"
	"github.com/annel0/craft-world/internal/world/block"
	"github.com/annel0/craft-world/internal/world/noise"
)

const waitFor = 5 * time.Second

// flakyLog журнал, который по флагу отказывает в записи
type flakyLog struct {
	*deltalog.MemoryLog
	fail atomic.Bool
}

func (f *flakyLog) Append(ctx context.Context, edits []world.Edit) error {
	if f.fail.Load() {
		return errors.New("disk full")
	}
	return f.MemoryLog.Append(ctx, edits)
}

func startServer(t *testing.T, opts Options) (*Server, *flakyLog) {
	t.Helper()
	log := &flakyLog{MemoryLog: deltalog.NewMemoryLog()}
	w, err := world.New(context.Background(), noise.New(noise.DefaultConfig()), log)
	require.NoError(t, err)

	if opts.Addr == "" {
		opts.Addr = "127.0.0.1:0"
	}
	s := NewServer(w, opts, nil, nil)
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(func() { s.Close() })
	return s, log
}

type testClient struct {
	t     *testing.T
	lc    LineConn
	lines chan []byte
	id    uint64
}

func dial(t *testing.T, s *Server) *testClient {
	t.Helper()
	lc, err := Dial(context.Background(), TransportTCP, s.Addr().String(), "", 0)
	require.NoError(t, err)
	c := &testClient{t: t, lc: lc, lines: make(chan []byte, 1024)}
	go func() {
		defer close(c.lines)
		for {
			line, err := lc.ReadLine()
			if err != nil {
				return
			}
			c.lines <- append([]byte(nil), line...)
		}
	}()
	t.Cleanup(func() { lc.Close() })
	return c
}

// join подключается, проходит рукопожатие и возвращает U
func join(t *testing.T, s *Server) (*testClient, protocol.You) {
	t.Helper()
	c := dial(t, s)
	c.send("V %d", protocol.Version)
	you := c.expect(protocol.TagYou).(protocol.You)
	c.id = you.ID
	return c, you
}

func (c *testClient) send(format string, args ...interface{}) {
	c.t.Helper()
	require.NoError(c.t, c.lc.WriteLine([]byte(fmt.Sprintf(format, args...)+"\n")))
}

// expect читает строки до первой с тегом tag
func (c *testClient) expect(tag byte) protocol.Message {
	c.t.Helper()
	deadline := time.After(waitFor)
	for {
		select {
		case line, ok := <-c.lines:
			require.True(c.t, ok, "соединение закрыто в ожидании %q", tag)
			if len(line) == 0 || line[0] != tag {
				continue
			}
			m, err := protocol.ParseServer(line)
			require.NoError(c.t, err, "строка %q", line)
			return m
		case <-deadline:
			c.t.Fatalf("нет сообщения %q за %s", tag, waitFor)
			return nil
		}
	}
}

// next следующая строка, кроме позиций, имён других игроков и времени
func (c *testClient) next() protocol.Message {
	c.t.Helper()
	deadline := time.After(waitFor)
	for {
		select {
		case line, ok := <-c.lines:
			require.True(c.t, ok, "соединение закрыто")
			if len(line) > 0 && (line[0] == protocol.TagPosition || line[0] == protocol.TagNick || line[0] == protocol.TagTime) {
				continue
			}
			m, err := protocol.ParseServer(line)
			require.NoError(c.t, err, "строка %q", line)
			return m
		case <-deadline:
			c.t.Fatal("нет сообщения")
			return nil
		}
	}
}

func (c *testClient) expectClosed() {
	c.t.Helper()
	deadline := time.After(waitFor)
	for {
		select {
		case _, ok := <-c.lines:
			if !ok {
				return
			}
		case <-deadline:
			c.t.Fatal("сервер не закрыл соединение")
		}
	}
}

// subscribe запрашивает чанк и возвращает дамп
func (c *testClient) subscribe(cc vec.ChunkCoord) protocol.Dump {
	c.t.Helper()
	c.send("C %d %d", cc.P, cc.Q)
	for {
		d := c.expect(protocol.TagDump).(protocol.Dump)
		if d.Coords == cc {
			return d
		}
	}
}

func chunkFromDump(t *testing.T, d protocol.Dump) *world.Chunk {
	t.Helper()
	c := world.NewChunk(d.Coords)
	require.NoError(t, c.LoadRuns(d.Runs, d.Seq))
	return c
}

// airPos точка над рельефом в колонне (x, z)
func airPos(s *Server, x, z int) vec.Vec3 {
	return vec.Vec3{X: x, Y: s.World().Field().TopAt(x, z) + 3, Z: z}
}

func TestHandshakeAssignsSpawn(t *testing.T) {
	s, _ := startServer(t, Options{})
	_, you := join(t, s)

	assert.NotZero(t, you.ID)
	top := s.World().Field().TopAt(0, 0)
	assert.Equal(t, float64(top+1), you.Pos.Y)
	assert.Equal(t, vec.ChunkCoord{}, you.Pos.Chunk())
}

func TestTimeFollowsYouAndRepeats(t *testing.T) {
	s, _ := startServer(t, Options{DayLength: 90 * time.Second, TimeInterval: 20 * time.Millisecond})
	c, _ := join(t, s)

	// сразу за U идёт E
	select {
	case line := <-c.lines:
		m, err := protocol.ParseServer(line)
		require.NoError(t, err)
		first, ok := m.(protocol.Time)
		require.True(t, ok, "после U пришло %q", line)
		assert.Equal(t, 90.0, first.DayLength)
		assert.GreaterOrEqual(t, first.Timestamp, 0.0)

		next := c.expect(protocol.TagTime).(protocol.Time)
		assert.Greater(t, next.Timestamp, first.Timestamp)
	case <-time.After(waitFor):
		t.Fatal("нет строки после U")
	}
}

func TestHandshakeRejectsWrongVersion(t *testing.T) {
	s, _ := startServer(t, Options{})
	c := dial(t, s)
	c.send("V %d", protocol.Version+1)
	c.expectClosed()
}

func TestHandshakeRequiresVersionFirst(t *testing.T) {
	s, _ := startServer(t, Options{})
	c := dial(t, s)
	c.send("C 0 0")
	c.expectClosed()
}

func TestEditsBroadcastAndLateJoinerSeesLatest(t *testing.T) {
	s, _ := startServer(t, Options{})
	a, _ := join(t, s)
	b, _ := join(t, s)
	a.subscribe(vec.ChunkCoord{})
	b.subscribe(vec.ChunkCoord{})

	pos := airPos(s, 3, 4)
	a.send("B %d %d %d %d 0", pos.X, pos.Y, pos.Z, block.Stone)
	a.send("B %d %d %d %d 0", pos.X, pos.Y, pos.Z, block.Glass)

	for _, c := range []*testClient{a, b} {
		first := c.expect(protocol.TagBlock).(protocol.BlockDelta)
		second := c.expect(protocol.TagBlock).(protocol.BlockDelta)
		assert.Equal(t, block.Of(block.Stone), first.Block)
		assert.Equal(t, uint64(1), first.Seq)
		assert.Equal(t, block.Of(block.Glass), second.Block)
		assert.Equal(t, uint64(2), second.Seq)
	}

	late, _ := join(t, s)
	d := late.subscribe(vec.ChunkCoord{})
	assert.Equal(t, uint64(2), d.Seq)
	assert.Equal(t, block.Of(block.Glass), chunkFromDump(t, d).Block(pos))
}

func TestMalformedLineDropsOnlySender(t *testing.T) {
	s, _ := startServer(t, Options{})
	a, _ := join(t, s)
	b, _ := join(t, s)

	a.send("B 1 2")
	a.expectClosed()

	gone := b.expect(protocol.TagGone).(protocol.Gone)
	assert.Equal(t, a.id, gone.ID)

	b.send("T hello")
	talk := b.expect(protocol.TagTalk).(protocol.Talk)
	assert.Equal(t, fmt.Sprintf("guest%d> hello", b.id), talk.Text)
}

func TestPersistenceFailureRejectsEdit(t *testing.T) {
	s, log := startServer(t, Options{})
	a, _ := join(t, s)
	a.subscribe(vec.ChunkCoord{})
	pos := airPos(s, 1, 1)

	log.fail.Store(true)
	a.send("B %d %d %d %d 0", pos.X, pos.Y, pos.Z, block.Brick)
	rej := a.next().(protocol.Reject)
	assert.Equal(t, pos, rej.Pos)
	assert.Equal(t, RejectPersistence, rej.Reason)
	assert.Equal(t, uint64(0), s.World().LastSeq())

	b, err := s.World().BlockAt(context.Background(), pos)
	require.NoError(t, err)
	assert.True(t, b.IsEmpty())

	log.fail.Store(false)
	a.send("B %d %d %d %d 0", pos.X, pos.Y, pos.Z, block.Brick)
	delta := a.next().(protocol.BlockDelta)
	assert.Equal(t, uint64(1), delta.Seq)
}

func TestEditOutsideSubscriptionRejected(t *testing.T) {
	s, _ := startServer(t, Options{})
	a, _ := join(t, s)

	pos := airPos(s, 0, 0)
	a.send("B %d %d %d %d 0", pos.X, pos.Y, pos.Z, block.Stone)
	rej := a.next().(protocol.Reject)
	assert.Equal(t, RejectDesync, rej.Reason)
	assert.Equal(t, uint64(0), s.World().LastSeq())
}

func TestChunkRequestBeyondRadiusIgnored(t *testing.T) {
	s, _ := startServer(t, Options{ViewRadius: 2})
	a, _ := join(t, s)

	a.send("C 3 0")
	a.send("T /help")
	talk := a.next().(protocol.Talk)
	assert.Equal(t, helpText, talk.Text)
	assert.False(t, s.World().IsResident(vec.ChunkCoord{P: 3, Q: 0}))
}

func TestChunkRequestWithCurrentSeqSkipsDump(t *testing.T) {
	s, _ := startServer(t, Options{})
	a, _ := join(t, s)
	d := a.subscribe(vec.ChunkCoord{})
	assert.Equal(t, uint64(0), d.Seq)

	pos := airPos(s, 2, 2)
	a.send("B %d %d %d %d 0", pos.X, pos.Y, pos.Z, block.Plank)
	delta := a.next().(protocol.BlockDelta)
	require.Equal(t, uint64(1), delta.Seq)

	// у клиента актуальный seq: дампа быть не должно
	a.send("C 0 0 1")
	a.send("T /help")
	_, isTalk := a.next().(protocol.Talk)
	assert.True(t, isTalk)

	// устаревший seq: дамп приходит
	a.send("C 0 0 0")
	d = a.next().(protocol.Dump)
	assert.Equal(t, uint64(1), d.Seq)
	assert.Equal(t, block.Of(block.Plank), chunkFromDump(t, d).Block(pos))
}

func TestMovePrunesSubscription(t *testing.T) {
	s, _ := startServer(t, Options{ViewRadius: 1})
	a, _ := join(t, s)
	a.subscribe(vec.ChunkCoord{})

	// игрок ушёл на 5 чанков: (0,0) выпал из подписки
	a.send("P %d 40 0.5 0 0", 5*vec.ChunkSize+1)
	pos := airPos(s, 0, 0)
	a.send("B %d %d %d %d 0", pos.X, pos.Y, pos.Z, block.Stone)
	rej := a.next().(protocol.Reject)
	assert.Equal(t, RejectDesync, rej.Reason)
}

func TestNickListAndGone(t *testing.T) {
	s, _ := startServer(t, Options{})
	a, _ := join(t, s)
	b, _ := join(t, s)

	a.send("T /nick alice")
	for {
		n := b.expect(protocol.TagNick).(protocol.Nick)
		if n.ID == a.id && n.Name == "alice" {
			break
		}
	}

	b.send("T /list")
	talk := b.expect(protocol.TagTalk).(protocol.Talk)
	assert.Contains(t, talk.Text, "alice")
	assert.Contains(t, talk.Text, fmt.Sprintf("guest%d", b.id))

	a.lc.Close()
	gone := b.expect(protocol.TagGone).(protocol.Gone)
	assert.Equal(t, a.id, gone.ID)
	require.Eventually(t, func() bool { return len(s.Players()) == 1 }, waitFor, 10*time.Millisecond)
}

func TestPositionsRelayed(t *testing.T) {
	s, _ := startServer(t, Options{PositionInterval: 20 * time.Millisecond})
	a, _ := join(t, s)
	b, _ := join(t, s)

	a.send("P 1.5 40 2.5 0.25 -1")
	for {
		m := b.expect(protocol.TagPosition).(protocol.PlayerMove)
		if m.ID == a.id && m.Pos.X == 1.5 {
			assert.Equal(t, 2.5, m.Pos.Z)
			assert.Equal(t, 0.25, m.RX)
			assert.Equal(t, -1.0, m.RY)
			break
		}
	}
}

func TestTeleportCommand(t *testing.T) {
	s, _ := startServer(t, Options{})
	a, _ := join(t, s)

	a.send("T /pq 2 -3")
	you := a.expect(protocol.TagYou).(protocol.You)
	assert.Equal(t, vec.ChunkCoord{P: 2, Q: -3}, you.Pos.Chunk())

	a.send("T /spawn")
	you = a.expect(protocol.TagYou).(protocol.You)
	assert.Equal(t, vec.ChunkCoord{}, you.Pos.Chunk())
}

func TestNickRestoresSavedPosition(t *testing.T) {
	repo := storage.NewMemoryPositionRepo()
	s, _ := startServer(t, Options{Positions: repo})

	guest, _ := join(t, s)
	a, _ := join(t, s)
	a.send("T /nick alice")
	a.send("P 70.5 40 -12.5 0.5 0.25")
	guest.lc.Close()
	a.lc.Close()
	require.Eventually(t, func() bool { return len(s.Players()) == 0 }, waitFor, 10*time.Millisecond)
	// гости не сохраняются
	assert.Equal(t, 1, repo.Count())

	b, you := join(t, s)
	assert.Equal(t, 0.5, you.Pos.X)
	b.send("T /nick alice")
	you = b.expect(protocol.TagYou).(protocol.You)
	assert.Equal(t, vec.Vec3Float{X: 70.5, Y: 40, Z: -12.5}, you.Pos)
	assert.Equal(t, 0.5, you.RX)
	assert.Equal(t, 0.25, you.RY)
	talk := b.expect(protocol.TagTalk).(protocol.Talk)
	assert.Contains(t, talk.Text, "welcome back")

	b.send("T /nick carol")
	b.send("T /list")
	talk = b.expect(protocol.TagTalk).(protocol.Talk)
	assert.Contains(t, talk.Text, "carol")
}

func TestSubmitEditsBroadcastsToSubscribers(t *testing.T) {
	s, _ := startServer(t, Options{})
	a, _ := join(t, s)
	a.subscribe(vec.ChunkCoord{})

	pos := airPos(s, 5, 5)
	applied, err := s.SubmitEdits(context.Background(), []world.Edit{{Pos: pos, Block: block.Of(block.Cement)}})
	require.NoError(t, err)
	require.Len(t, applied, 1)
	assert.Equal(t, uint64(1), applied[0].Seq)

	delta := a.expect(protocol.TagBlock).(protocol.BlockDelta)
	assert.Equal(t, pos, delta.Pos)
	assert.Equal(t, block.Of(block.Cement), delta.Block)

	_, err = s.SubmitEdits(context.Background(), []world.Edit{{Pos: pos, Block: block.New(200, 0)}})
	assert.ErrorIs(t, err, world.ErrInvalidEdit)
}

func TestBatchedEditsGetConsecutiveSeqs(t *testing.T) {
	s, _ := startServer(t, Options{BatchWindow: 30 * time.Millisecond, BatchMax: 16})
	a, _ := join(t, s)
	a.subscribe(vec.ChunkCoord{})

	for i := 0; i < 5; i++ {
		pos := airPos(s, i, 7)
		a.send("B %d %d %d %d 0", pos.X, pos.Y, pos.Z, block.Sand)
	}
	for i := 0; i < 5; i++ {
		delta := a.expect(protocol.TagBlock).(protocol.BlockDelta)
		assert.Equal(t, uint64(i+1), delta.Seq)
		assert.Equal(t, i, delta.Pos.X)
	}
}

// Два клиента правят одну клетку вперемешку и каждый ещё свои клетки того же
// чанка: после применения всех B их копии чанка целиком совпадают с сервером.
func TestConcurrentEditorsConverge(t *testing.T) {
	s, _ := startServer(t, Options{})
	a, _ := join(t, s)
	b, _ := join(t, s)
	cc := vec.ChunkCoord{}
	views := map[*testClient]*world.Chunk{
		a: chunkFromDump(t, a.subscribe(cc)),
		b: chunkFromDump(t, b.subscribe(cc)),
	}

	pos := airPos(s, 9, 9)
	const rounds = 10
	for i := 0; i < rounds; i++ {
		own := airPos(s, 2+i, 20)
		a.send("B %d %d %d %d 0", pos.X, pos.Y, pos.Z, block.Stone)
		a.send("B %d %d %d %d 0", own.X, own.Y, own.Z, block.Brick)

		own = airPos(s, 2+i, 26)
		b.send("B %d %d %d %d 0", pos.X, pos.Y, pos.Z, block.Glass)
		b.send("B %d %d %d %d 0", own.X, own.Y, own.Z, block.Wood)
	}
	last := map[*testClient]uint64{}
	apply := func(n int) {
		for c, view := range views {
			for i := 0; i < n; i++ {
				delta := c.expect(protocol.TagBlock).(protocol.BlockDelta)
				assert.Greater(t, delta.Seq, last[c], "seq должны расти")
				last[c] = delta.Seq
				view.SetBlock(delta.Pos, delta.Block)
			}
		}
	}
	apply(4 * rounds)

	// b ломает половину клеток a, уже увидев их
	for i := 0; i < rounds; i += 2 {
		own := airPos(s, 2+i, 20)
		b.send("B %d %d %d 0 0", own.X, own.Y, own.Z)
	}
	apply(rounds / 2)
	total := 4*rounds + rounds/2
	require.Equal(t, uint64(total), s.World().LastSeq())

	want, err := s.World().Dump(context.Background(), cc)
	require.NoError(t, err)
	for c, view := range views {
		assert.Equal(t, want.Runs, view.Runs(), "чанк клиента %d", c.id)
	}
	assert.True(t, views[a].Block(airPos(s, 2, 20)).IsEmpty())
	assert.Equal(t, block.Of(block.Brick), views[b].Block(airPos(s, 3, 20)))
	assert.Equal(t, block.Of(block.Wood), views[a].Block(airPos(s, 4, 26)))

	final, err := s.World().BlockAt(context.Background(), pos)
	require.NoError(t, err)
	assert.Equal(t, final, views[a].Block(pos))
}
