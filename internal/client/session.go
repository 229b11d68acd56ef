package client

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/annel0/craft-world/internal/logging"
	"github.com/annel0/craft-world/internal/network"
	"github.com/annel0/craft-world/internal/protocol"
	"github.com/annel0/craft-world/internal/vec"
	"github.com/annel0/craft-world/internal/world/block"
)

// MoveInterval минимальный интервал между позициями, отправляемыми серверу
const MoveInterval = 100 * time.Millisecond

// ErrDisconnected соединение с сервером потеряно
var ErrDisconnected = errors.New("client: соединение потеряно")

// Options параметры сессии
type Options struct {
	Addr          string
	Transport     string
	WSPath        string
	MaxLineBytes  int
	ViewRadius    int // радиус подписки; должен совпадать с серверным
	CacheCapacity int
	Inbound       int // ёмкость очереди входящих сообщений
	TerrainMaxY   int // noise.Field.MaxY сервера; 0 = параметры рельефа по умолчанию
}

// Player другой игрок, известный сессии
type Player struct {
	ID     uint64
	Name   string
	Pos    vec.Vec3Float
	RX, RY float64
}

// Session соединение клиента с сервером мира.
//
// Входящие сообщения копятся в очереди и применяются только в Drain,
// на границе кадра: состояние кэша внутри кадра не меняется.
type Session struct {
	opts   Options
	cache  *Cache
	logger *logging.Logger

	inbound chan protocol.Message
	done    chan struct{}

	mu        sync.Mutex
	lc        network.LineConn
	readerErr error
	readerWG  sync.WaitGroup

	// состояние кадра; меняется только из горутины, вызывающей Drain/Move
	id         uint64
	pos        vec.Vec3Float
	rx, ry     float64
	sentAt     time.Time
	sentChunk  vec.ChunkCoord
	movePend   bool
	subscribed map[vec.ChunkCoord]struct{}
	players    map[uint64]*Player
	chat       []string
	rejects    []protocol.Reject

	// последнее E: серверное время, длина суток и момент приёма
	serverTime float64
	dayLength  float64
	timeAt     time.Time
}

// Connect подключается к серверу и проходит рукопожатие
func Connect(ctx context.Context, opts Options) (*Session, error) {
	if opts.ViewRadius <= 0 {
		opts.ViewRadius = 4
	}
	if opts.Inbound <= 0 {
		opts.Inbound = 4096
	}
	s := &Session{
		opts:   opts,
		cache:  NewCache(opts.CacheCapacity),
		logger: logging.GetClientLogger(),
	}
	if opts.TerrainMaxY > 0 {
		s.cache.SetTerrainMaxY(opts.TerrainMaxY)
	}
	if err := s.dial(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Session) dial(ctx context.Context) error {
	lc, err := network.Dial(ctx, s.opts.Transport, s.opts.Addr, s.opts.WSPath, s.opts.MaxLineBytes)
	if err != nil {
		return err
	}
	if err := lc.WriteLine(protocol.Encode(protocol.Hello{Version: protocol.Version})); err != nil {
		lc.Close()
		return fmt.Errorf("рукопожатие: %w", err)
	}

	inbound := make(chan protocol.Message, s.opts.Inbound)
	done := make(chan struct{})
	s.mu.Lock()
	s.lc = lc
	s.readerErr = nil
	s.inbound = inbound
	s.done = done
	s.mu.Unlock()

	s.id = 0
	s.subscribed = make(map[vec.ChunkCoord]struct{})
	s.players = make(map[uint64]*Player)

	s.readerWG.Add(1)
	go s.readLoop(lc, inbound, done)
	s.logger.Info("Подключено к %s (%s)", s.opts.Addr, s.opts.Transport)
	return nil
}

// readLoop разбирает строки сервера в очередь. Ошибка разбора серверной
// строки рвёт соединение так же, как на сервере.
func (s *Session) readLoop(lc network.LineConn, inbound chan<- protocol.Message, done <-chan struct{}) {
	defer s.readerWG.Done()
	defer close(inbound)
	for {
		line, err := lc.ReadLine()
		if err != nil {
			s.setErr(err)
			return
		}
		msg, err := protocol.ParseServer(line)
		if err != nil {
			logging.LogProtocolError(s.opts.Addr, err, line)
			s.setErr(err)
			lc.Close()
			return
		}
		select {
		case inbound <- msg:
		case <-done:
			return
		}
	}
}

func (s *Session) setErr(err error) {
	s.mu.Lock()
	if s.readerErr == nil {
		s.readerErr = err
	}
	s.mu.Unlock()
}

// Err ошибка, оборвавшая соединение (nil, пока оно живо)
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readerErr
}

// Cache зеркало чанков
func (s *Session) Cache() *Cache { return s.cache }

// ID назначенный сервером ID (0 до получения U)
func (s *Session) ID() uint64 { return s.id }

// Position текущая позиция игрока
func (s *Session) Position() vec.Vec3Float { return s.pos }

// Players известные другие игроки
func (s *Session) Players() map[uint64]Player {
	out := make(map[uint64]Player, len(s.players))
	for id, p := range s.players {
		out[id] = *p
	}
	return out
}

// Chat полученные строки чата, от старых к новым
func (s *Session) Chat() []string { return append([]string(nil), s.chat...) }

// Rejects правки, отклонённые сервером
func (s *Session) Rejects() []protocol.Reject { return append([]protocol.Reject(nil), s.rejects...) }

// TimeOfDay фаза суток в [0, 1): серверное время из последнего E плюс
// прошедшее с его приёма. До первого E возвращает 0.
func (s *Session) TimeOfDay() float64 {
	return s.timeOfDay(time.Now())
}

func (s *Session) timeOfDay(now time.Time) float64 {
	if s.dayLength <= 0 {
		return 0
	}
	t := s.serverTime + now.Sub(s.timeAt).Seconds()
	phase := math.Mod(t, s.dayLength) / s.dayLength
	if phase < 0 {
		phase += 1
	}
	return phase
}

// Drain применяет все накопившиеся сообщения. Вызывается на границе кадра.
// Возвращает число применённых сообщений и ErrDisconnected, если очередь
// опустела после разрыва.
func (s *Session) Drain() (int, error) {
	s.mu.Lock()
	inbound := s.inbound
	s.mu.Unlock()

	n := 0
	for {
		select {
		case msg, ok := <-inbound:
			if !ok {
				return n, s.disconnected()
			}
			s.apply(msg)
			n++
		default:
			s.flushMove(time.Now())
			return n, nil
		}
	}
}

func (s *Session) disconnected() error {
	if err := s.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrDisconnected, err)
	}
	return ErrDisconnected
}

func (s *Session) apply(msg protocol.Message) {
	switch m := msg.(type) {
	case protocol.You:
		s.id = m.ID
		s.pos, s.rx, s.ry = m.Pos, m.RX, m.RY
		// сервер уже знает эту позицию
		s.sentAt = time.Now()
		s.movePend = false
		s.recenter(m.Pos.Chunk())
	case protocol.PlayerMove:
		p := s.player(m.ID)
		p.Pos, p.RX, p.RY = m.Pos, m.RX, m.RY
	case protocol.Nick:
		s.player(m.ID).Name = m.Name
	case protocol.Gone:
		delete(s.players, m.ID)
	case protocol.BlockDelta:
		if !s.cache.ApplyDelta(m.Pos, m.Block, m.Seq) {
			s.logger.Trace("Правка %v seq=%d пропущена", m.Pos, m.Seq)
		}
	case protocol.Dump:
		if err := s.cache.ApplyDump(m.ChunkDump); err != nil {
			s.logger.Warn("Дамп %v отклонён: %v", m.Coords, err)
		}
	case protocol.Reject:
		s.rejects = append(s.rejects, m)
		s.logger.Debug("Правка %v отклонена: %s", m.Pos, m.Reason)
	case protocol.Time:
		s.serverTime, s.dayLength, s.timeAt = m.Timestamp, m.DayLength, time.Now()
	case protocol.Talk:
		s.chat = append(s.chat, m.Text)
		if len(s.chat) > 100 {
			s.chat = s.chat[len(s.chat)-100:]
		}
	}
}

func (s *Session) player(id uint64) *Player {
	p, ok := s.players[id]
	if !ok {
		p = &Player{ID: id}
		s.players[id] = p
	}
	return p
}

// Move задаёт позицию игрока. Серверу она уходит не чаще MoveInterval;
// отложенная позиция досылается из Drain.
func (s *Session) Move(pos vec.Vec3Float, rx, ry float64) error {
	s.pos, s.rx, s.ry = pos, rx, ry
	s.movePend = true
	return s.flushMove(time.Now())
}

func (s *Session) flushMove(now time.Time) error {
	if !s.movePend || now.Sub(s.sentAt) < MoveInterval {
		return nil
	}
	if err := s.write(protocol.Move{Pos: s.pos, RX: s.rx, RY: s.ry}); err != nil {
		return err
	}
	s.movePend = false
	s.sentAt = now
	if cc := s.pos.Chunk(); cc != s.sentChunk {
		s.recenter(cc)
	}
	return nil
}

// recenter сужает подписку и кэш вокруг нового чанка и запрашивает
// недостающие чанки радиуса обзора.
func (s *Session) recenter(center vec.ChunkCoord) {
	s.sentChunk = center
	for cc := range s.subscribed {
		if center.ChebyshevTo(cc) > s.opts.ViewRadius {
			delete(s.subscribed, cc)
		}
	}
	// кэш держит на кольцо больше подписки
	for _, cc := range s.cache.Evict(center, s.opts.ViewRadius+1) {
		s.logger.Trace("Чанк %v выгружен", cc)
	}
	s.RequestVisible()
}

// RequestVisible запрашивает чанки радиуса обзора, на которые сессия ещё
// не подписана. Для загруженных чанков передаётся seq, чтобы сервер не слал
// неизменившийся дамп.
func (s *Session) RequestVisible() error {
	for _, cc := range s.sentChunk.Ring(s.opts.ViewRadius) {
		if _, ok := s.subscribed[cc]; ok {
			continue
		}
		req := protocol.ChunkRequest{Coords: cc}
		if seq, ok := s.cache.HeldSeq(cc); ok {
			req.Seq, req.HasSeq = seq, true
		}
		if err := s.write(req); err != nil {
			return err
		}
		s.subscribed[cc] = struct{}{}
	}
	return nil
}

// Place просит сервер поставить блок; результат придёт правкой B или отказом X
func (s *Session) Place(pos vec.Vec3, b block.Block) error {
	return s.write(protocol.EditRequest{Pos: pos, Block: b})
}

// Break просит сервер убрать блок
func (s *Session) Break(pos vec.Vec3) error {
	return s.write(protocol.EditRequest{Pos: pos, Block: block.Air})
}

// Say отправляет строку чата или команду
func (s *Session) Say(text string) error {
	return s.write(protocol.Talk{Text: text})
}

func (s *Session) write(m protocol.Message) error {
	s.mu.Lock()
	lc := s.lc
	s.mu.Unlock()
	if lc == nil {
		return ErrDisconnected
	}
	if err := lc.WriteLine(protocol.Encode(m)); err != nil {
		return fmt.Errorf("%w: %v", ErrDisconnected, err)
	}
	return nil
}

// Reconnect рвёт текущее соединение, забывает кэш и подписку и подключается
// заново: состояние чанков будет получено полными дампами.
func (s *Session) Reconnect(ctx context.Context) error {
	s.closeConn()
	s.cache.Reset()
	s.sentChunk = vec.ChunkCoord{}
	s.movePend = false
	return s.dial(ctx)
}

// Close закрывает соединение
func (s *Session) Close() error {
	s.closeConn()
	return nil
}

func (s *Session) closeConn() {
	s.mu.Lock()
	lc, done := s.lc, s.done
	s.lc, s.done = nil, nil
	s.mu.Unlock()
	if lc != nil {
		close(done)
		lc.Close()
	}
	s.readerWG.Wait()
}
