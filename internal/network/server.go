// Package network реализует серверную сторону синхронизации мира: слушатели
// (tcp, kcp, websocket), соединения игроков, подписки на чанки и единственный
// авторитетный цикл применения правок.
package network

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/annel0/craft-world/internal/cache"
	"github.com/annel0/craft-world/internal/eventbus"
	"github.com/annel0/craft-world/internal/logging"
	"github.com/annel0/craft-world/internal/protocol"
	"github.com/annel0/craft-world/internal/storage"
	"github.com/annel0/craft-world/internal/vec"
	"github.com/annel0/craft-world/internal/world"
	"github.com/annel0/craft-world/internal/world/block"
)

// Причины отказа в правке (X x y z reason)
const (
	RejectPersistence = "persistence"
	RejectDesync      = "desync"
	RejectInvalid     = "invalid"
)

var (
	// ErrSubscription запрос касается чанка вне подписки клиента
	ErrSubscription = errors.New("network: чанк вне подписки")
	// ErrHandshake первая строка не V или версия не совпадает
	ErrHandshake = errors.New("network: ошибка рукопожатия")
	// ErrServerClosed сервер остановлен
	ErrServerClosed = errors.New("network: сервер остановлен")
)

// Options параметры сервера
type Options struct {
	Addr             string
	Transport        string // tcp | kcp | ws
	WSPath           string
	MaxLineBytes     int
	OutboundQueue    int // строк в очереди отправки на соединение
	ViewRadius       int // радиус подписки в чанках (Чебышёв)
	PositionInterval time.Duration
	BatchWindow      time.Duration
	BatchMax         int
	NodeID           string        // источник событий на шине
	DayLength        time.Duration // длина игровых суток в E
	TimeInterval     time.Duration // период рассылки E

	// Positions хранит положение игроков с ником между сессиями; nil отключает
	Positions storage.PositionRepo
}

func (o Options) withDefaults() Options {
	if o.Transport == "" {
		o.Transport = TransportTCP
	}
	if o.MaxLineBytes <= 0 {
		o.MaxLineBytes = DefaultMaxLineBytes
	}
	if o.OutboundQueue <= 0 {
		o.OutboundQueue = 1024
	}
	if o.ViewRadius <= 0 {
		o.ViewRadius = 4
	}
	if o.PositionInterval <= 0 {
		o.PositionInterval = 100 * time.Millisecond
	}
	if o.BatchMax <= 0 {
		o.BatchMax = 64
	}
	if o.NodeID == "" {
		o.NodeID = "craft-world"
	}
	if o.DayLength <= 0 {
		o.DayLength = 10 * time.Minute
	}
	if o.TimeInterval <= 0 {
		o.TimeInterval = time.Minute
	}
	return o
}

// PlayerInfo снимок состояния игрока для API
type PlayerInfo struct {
	ID         uint64         `json:"id"`
	Name       string         `json:"name"`
	Addr       string         `json:"addr"`
	Pos        vec.Vec3Float  `json:"pos"`
	Chunk      vec.ChunkCoord `json:"chunk"`
	Subscribed int            `json:"subscribed"`
}

// editRequest заявка в авторитетный цикл: правка клиента или пакет администратора
type editRequest struct {
	conn  *Conn
	edits []world.Edit
	reply chan editResult
}

type editResult struct {
	applied []world.Edit
	err     error
}

// Server авторитет одного мира
type Server struct {
	opts   Options
	world  *world.World
	dumps  cache.DumpCache
	bus    eventbus.EventBus
	logger *logging.Logger

	listener Listener
	edits    chan editRequest
	started  time.Time

	mu     sync.RWMutex
	conns  map[uint64]*Conn // прошедшие рукопожатие
	nextID uint64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

// NewServer создаёт сервер. dumps и bus могут быть nil.
func NewServer(w *world.World, opts Options, dumps cache.DumpCache, bus eventbus.EventBus) *Server {
	return &Server{
		opts:   opts.withDefaults(),
		world:  w,
		dumps:  dumps,
		bus:    bus,
		logger: logging.GetNetworkLogger(),
		edits:  make(chan editRequest, 1024),
		conns:  make(map[uint64]*Conn),
	}
}

// Start открывает слушатель и запускает фоновые циклы
func (s *Server) Start(ctx context.Context) error {
	ln, err := Listen(s.opts.Transport, s.opts.Addr, s.opts.WSPath, s.opts.MaxLineBytes)
	if err != nil {
		return err
	}
	s.listener = ln
	s.started = time.Now()
	s.ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(4)
	go s.acceptLoop()
	go s.authority()
	go s.positionLoop()
	go s.timeLoop()

	s.logger.Info("Сервер мира слушает %s (%s), радиус подписки %d", ln.Addr(), s.opts.Transport, s.opts.ViewRadius)
	return nil
}

// Addr адрес слушателя
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// World мир сервера
func (s *Server) World() *world.World {
	return s.world
}

// Close останавливает приём, закрывает соединения и ждёт фоновые горутины
func (s *Server) Close() error {
	var err error
	s.once.Do(func() {
		s.cancel()
		err = s.listener.Close()

		s.mu.RLock()
		conns := make([]*Conn, 0, len(s.conns))
		for _, c := range s.conns {
			conns = append(conns, c)
		}
		s.mu.RUnlock()
		for _, c := range conns {
			c.close()
		}

		s.wg.Wait()
		s.logger.Info("Сервер мира остановлен")
	})
	return err
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		lc, err := s.listener.Accept()
		if err != nil {
			if s.ctx.Err() != nil || errors.Is(err, net.ErrClosed) || errors.Is(err, ErrListenerClosed) {
				return
			}
			s.logger.Warn("Ошибка принятия соединения: %v", err)
			time.Sleep(50 * time.Millisecond)
			continue
		}

		s.mu.Lock()
		s.nextID++
		id := s.nextID
		s.mu.Unlock()

		c := newConn(s, id, lc)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			c.serve(s.ctx)
		}()
	}
}

// spawnPoint точка появления над рельефом в колонне (x, z): на дереве,
// если оно там растёт
func (s *Server) spawnPoint(x, z int) vec.Vec3Float {
	top := s.world.Field().TopAt(x, z)
	return vec.Vec3Float{X: float64(x) + 0.5, Y: float64(top + 1), Z: float64(z) + 0.5}
}

// join регистрирует игрока после рукопожатия и обменивается с ним
// именами и позициями остальных.
func (s *Server) join(c *Conn) {
	spawn := s.spawnPoint(0, 0)
	c.mu.Lock()
	c.pos = spawn
	c.name = fmt.Sprintf("guest%d", c.id)
	name := c.name
	c.mu.Unlock()

	c.send(protocol.Encode(protocol.You{ID: c.id, Pos: spawn}))
	c.send(s.timeLine())

	nick := protocol.Encode(protocol.Nick{ID: c.id, Name: name})
	move := protocol.Encode(protocol.PlayerMove{ID: c.id, Pos: spawn})

	s.mu.Lock()
	for _, o := range s.conns {
		oname, opos, orx, ory := o.state()
		c.send(protocol.Encode(protocol.Nick{ID: o.id, Name: oname}))
		c.trySend(protocol.Encode(protocol.PlayerMove{ID: o.id, Pos: opos, RX: orx, RY: ory}))
		o.send(nick)
		o.trySend(move)
	}
	s.conns[c.id] = c
	s.mu.Unlock()

	connectionsActive.Inc()
	s.logger.Info("Игрок %d подключился с %s", c.id, c.lc.RemoteAddr())
	s.publish(eventbus.TypePlayerJoined, eventbus.PlayerJoined{ID: c.id, Name: name, Addr: c.lc.RemoteAddr()})
}

// leave удаляет игрока и оповещает остальных
func (s *Server) leave(c *Conn) {
	s.mu.Lock()
	_, ok := s.conns[c.id]
	delete(s.conns, c.id)
	s.mu.Unlock()
	if !ok {
		return
	}

	connectionsActive.Dec()
	s.savePosition(c)
	s.broadcast(protocol.Encode(protocol.Gone{ID: c.id}))
	s.logger.Info("Игрок %d отключился", c.id)
	s.publish(eventbus.TypePlayerLeft, eventbus.PlayerLeft{ID: c.id})
}

// broadcast надёжно отправляет строку всем игрокам
func (s *Server) broadcast(line []byte) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.conns {
		c.send(line)
	}
}

// broadcastChunk отправляет строку игрокам, подписанным на чанк cc
func (s *Server) broadcastChunk(cc vec.ChunkCoord, line []byte) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.conns {
		c.sendIfSubscribed(cc, line)
	}
}

// positionLoop периодически рассылает изменившиеся позиции (без гарантий доставки)
func (s *Server) positionLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.opts.PositionInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.flushPositions()
		}
	}
}

// timeLoop периодически сверяет часы клиентов
func (s *Server) timeLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.opts.TimeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.broadcast(s.timeLine())
		}
	}
}

// timeLine E с секундами от запуска сервера
func (s *Server) timeLine() []byte {
	return protocol.Encode(protocol.Time{
		Timestamp: time.Since(s.started).Seconds(),
		DayLength: s.opts.DayLength.Seconds(),
	})
}

func (s *Server) flushPositions() {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.conns {
		pos, rx, ry, moved := c.takeMove()
		if !moved {
			continue
		}
		line := protocol.Encode(protocol.PlayerMove{ID: c.id, Pos: pos, RX: rx, RY: ry})
		for _, o := range s.conns {
			if o.id != c.id {
				o.trySend(line)
			}
		}
	}
}

// dumpLine возвращает закодированный дамп чанка на момент seq,
// из кеша, если он есть.
func (s *Server) dumpLine(ctx context.Context, cc vec.ChunkCoord, seq uint64) ([]byte, uint64, error) {
	if s.dumps != nil {
		if line, ok := s.dumps.Get(ctx, cc, seq); ok {
			dumpsSent.WithLabelValues("cache").Inc()
			return line, seq, nil
		}
	}

	d, err := s.world.Dump(ctx, cc)
	if err != nil {
		return nil, 0, err
	}
	line := protocol.Encode(protocol.Dump{ChunkDump: d})
	if s.dumps != nil {
		s.dumps.Put(ctx, cc, d.Seq, line)
	}
	dumpsSent.WithLabelValues("world").Inc()
	return line, d.Seq, nil
}

// SubmitEdits применяет пакет правок в обход клиентов (администратор, автор 0)
// через тот же авторитетный цикл и рассылает их подписчикам.
func (s *Server) SubmitEdits(ctx context.Context, edits []world.Edit) ([]world.Edit, error) {
	if len(edits) == 0 {
		return nil, nil
	}
	for _, e := range edits {
		if err := block.Validate(e.Block.Material(), e.Block.Flags()); err != nil {
			return nil, fmt.Errorf("%w %v: %v", world.ErrInvalidEdit, e.Pos, err)
		}
	}

	req := editRequest{edits: edits, reply: make(chan editResult, 1)}
	select {
	case s.edits <- req:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.ctx.Done():
		return nil, ErrServerClosed
	}

	select {
	case res := <-req.reply:
		return res.applied, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Players снимок подключённых игроков по возрастанию ID
func (s *Server) Players() []PlayerInfo {
	s.mu.RLock()
	out := make([]PlayerInfo, 0, len(s.conns))
	for _, c := range s.conns {
		out = append(out, c.info())
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// publish отправляет событие на шину, если она подключена
func (s *Server) publish(eventType string, payload interface{}) {
	if s.bus == nil {
		return
	}
	ev, err := eventbus.NewEnvelope(eventType, s.opts.NodeID, payload)
	if err != nil {
		s.logger.Warn("Событие %s: %v", eventType, err)
		return
	}
	if err := s.bus.Publish(s.ctx, ev); err != nil {
		s.logger.Warn("Публикация %s: %v", eventType, err)
	}
}
