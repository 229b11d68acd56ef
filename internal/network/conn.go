package network

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/annel0/craft-world/internal/eventbus"
	"github.com/annel0/craft-world/internal/logging"
	"github.com/annel0/craft-world/internal/protocol"
	"github.com/annel0/craft-world/internal/vec"
	"github.com/annel0/craft-world/internal/world"
)

// Conn соединение игрока: горутина чтения разбирает строки и обслуживает
// запросы, горутина записи сливает очередь отправки.
type Conn struct {
	id   uint64
	srv  *Server
	lc   LineConn
	out  chan []byte
	done chan struct{}
	once sync.Once

	mu     sync.Mutex
	name   string
	pos    vec.Vec3Float
	rx, ry float64
	moved  bool
	named  bool // ник задан через /nick

	// subMu делает снятие дампа и добавление в подписку атомарными
	// относительно рассылки правок этому соединению.
	subMu sync.Mutex
	subs  map[vec.ChunkCoord]struct{}
}

func newConn(s *Server, id uint64, lc LineConn) *Conn {
	return &Conn{
		id:   id,
		srv:  s,
		lc:   lc,
		out:  make(chan []byte, s.opts.OutboundQueue),
		done: make(chan struct{}),
		subs: make(map[vec.ChunkCoord]struct{}),
	}
}

// label идентификатор соединения для логов
func (c *Conn) label() string {
	return fmt.Sprintf("conn#%d@%s", c.id, c.lc.RemoteAddr())
}

func (c *Conn) serve(ctx context.Context) {
	defer c.srv.leave(c)
	defer c.close()

	go c.writeLoop()

	if err := c.handshake(); err != nil {
		if !isClosed(err) {
			protocolErrors.Inc()
		}
		return
	}
	c.srv.join(c)

	for {
		line, err := c.lc.ReadLine()
		if err != nil {
			if errors.Is(err, ErrLineTooLong) {
				protocolErrors.Inc()
				logging.LogProtocolError(c.label(), err, nil)
			}
			return
		}
		msg, err := protocol.ParseClient(line)
		if err != nil {
			protocolErrors.Inc()
			logging.LogProtocolError(c.label(), err, line)
			return
		}
		linesReceived.WithLabelValues(string(msg.Tag())).Inc()

		if err := c.dispatch(ctx, msg); err != nil {
			if errors.Is(err, protocol.ErrMalformed) {
				protocolErrors.Inc()
				logging.LogProtocolError(c.label(), err, line)
				return
			}
			if errors.Is(err, ErrSubscription) {
				c.srv.logger.Debug("%s: %v", c.label(), err)
				continue
			}
			c.srv.logger.Warn("%s: %v", c.label(), err)
		}
	}
}

// handshake ждёт "V <version>" первой строкой
func (c *Conn) handshake() error {
	line, err := c.lc.ReadLine()
	if err != nil {
		return err
	}
	msg, err := protocol.ParseClient(line)
	if err == nil {
		hello, ok := msg.(protocol.Hello)
		switch {
		case !ok:
			err = fmt.Errorf("%w: первая строка %q вместо V", ErrHandshake, msg.Tag())
		case hello.Version != protocol.Version:
			err = fmt.Errorf("%w: версия %d, ожидалась %d", ErrHandshake, hello.Version, protocol.Version)
		}
	}
	if err != nil {
		logging.LogProtocolError(c.label(), err, line)
	}
	return err
}

func (c *Conn) dispatch(ctx context.Context, msg protocol.Message) error {
	switch m := msg.(type) {
	case protocol.Hello:
		return fmt.Errorf("%w: повторное рукопожатие", protocol.ErrMalformed)
	case protocol.Move:
		c.move(m.Pos, m.RX, m.RY)
	case protocol.EditRequest:
		return c.requestEdit(ctx, m)
	case protocol.ChunkRequest:
		return c.requestChunk(ctx, m)
	case protocol.Talk:
		if strings.HasPrefix(m.Text, "/") {
			c.command(m.Text)
			return nil
		}
		c.talk(m.Text)
	}
	return nil
}

// move обновляет позицию; при смене чанка подписка сужается до нового радиуса
func (c *Conn) move(pos vec.Vec3Float, rx, ry float64) {
	c.mu.Lock()
	old := c.pos.Chunk()
	c.pos, c.rx, c.ry = pos, rx, ry
	c.moved = true
	c.mu.Unlock()

	if cc := pos.Chunk(); cc != old {
		c.prune(cc)
	}
}

// teleport ставит игрока в точку и сообщает ему об этом через U
func (c *Conn) teleport(pos vec.Vec3Float) {
	c.mu.Lock()
	c.pos = pos
	c.moved = true
	rx, ry := c.rx, c.ry
	c.mu.Unlock()

	c.prune(pos.Chunk())
	c.send(protocol.Encode(protocol.You{ID: c.id, Pos: pos, RX: rx, RY: ry}))
}

func (c *Conn) requestEdit(ctx context.Context, m protocol.EditRequest) error {
	if !c.subscribed(m.Pos.Chunk()) {
		desyncIgnored.WithLabelValues("edit").Inc()
		editsRejected.WithLabelValues(RejectDesync).Inc()
		c.send(protocol.Encode(protocol.Reject{Pos: m.Pos, Reason: RejectDesync}))
		return fmt.Errorf("%w: правка %v", ErrSubscription, m.Pos)
	}

	req := editRequest{
		conn:  c,
		edits: []world.Edit{{Pos: m.Pos, Block: m.Block, Author: c.id}},
	}
	select {
	case c.srv.edits <- req:
		return nil
	case <-c.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// requestChunk добавляет чанк в подписку и шлёт его дамп, если у клиента
// нет актуального состояния. Запросы дальше радиуса обзора игнорируются.
func (c *Conn) requestChunk(ctx context.Context, m protocol.ChunkRequest) error {
	center := c.chunk()
	if center.ChebyshevTo(m.Coords) > c.srv.opts.ViewRadius {
		desyncIgnored.WithLabelValues("chunk").Inc()
		return fmt.Errorf("%w: чанк %v вне радиуса от %v", ErrSubscription, m.Coords, center)
	}

	// генерация вне subMu, чтобы не задерживать рассылку правок
	if _, err := c.srv.world.GetOrGenerate(ctx, m.Coords); err != nil {
		return fmt.Errorf("чанк %v: %w", m.Coords, err)
	}

	c.subMu.Lock()
	defer c.subMu.Unlock()

	seq, err := c.srv.world.ChunkSeq(ctx, m.Coords)
	if err != nil {
		return fmt.Errorf("чанк %v: %w", m.Coords, err)
	}
	c.subs[m.Coords] = struct{}{}

	if m.HasSeq && m.Seq == seq {
		dumpsSkipped.Inc()
		return nil
	}

	line, dumpSeq, err := c.srv.dumpLine(ctx, m.Coords, seq)
	if err != nil {
		delete(c.subs, m.Coords)
		return fmt.Errorf("дамп %v: %w", m.Coords, err)
	}
	logging.LogChunkDump(c.label(), m.Coords.P, m.Coords.Q, dumpSeq, len(line))
	c.send(line)
	return nil
}

func (c *Conn) talk(text string) {
	name, _, _, _ := c.state()
	c.srv.broadcast(protocol.Encode(protocol.Talk{Text: name + "> " + text}))
	c.srv.publish(eventbus.TypeChat, eventbus.Chat{ID: c.id, Text: text})
}

// reply отвечает текстом только этому игроку
func (c *Conn) reply(text string) {
	c.send(protocol.Encode(protocol.Talk{Text: text}))
}

func (c *Conn) subscribed(cc vec.ChunkCoord) bool {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	_, ok := c.subs[cc]
	return ok
}

func (c *Conn) sendIfSubscribed(cc vec.ChunkCoord, line []byte) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	if _, ok := c.subs[cc]; ok {
		c.send(line)
	}
}

// prune удаляет из подписки чанки дальше радиуса от center
func (c *Conn) prune(center vec.ChunkCoord) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	for cc := range c.subs {
		if center.ChebyshevTo(cc) > c.srv.opts.ViewRadius {
			delete(c.subs, cc)
		}
	}
}

func (c *Conn) chunk() vec.ChunkCoord {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pos.Chunk()
}

func (c *Conn) state() (string, vec.Vec3Float, float64, float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.name, c.pos, c.rx, c.ry
}

func (c *Conn) setName(name string) {
	c.mu.Lock()
	c.name = name
	c.named = true
	c.mu.Unlock()
}

// takeMove возвращает позицию, если она менялась с прошлого вызова
func (c *Conn) takeMove() (vec.Vec3Float, float64, float64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	moved := c.moved
	c.moved = false
	return c.pos, c.rx, c.ry, moved
}

func (c *Conn) info() PlayerInfo {
	name, pos, _, _ := c.state()
	c.subMu.Lock()
	n := len(c.subs)
	c.subMu.Unlock()
	return PlayerInfo{ID: c.id, Name: name, Addr: c.lc.RemoteAddr(), Pos: pos, Chunk: pos.Chunk(), Subscribed: n}
}

// send ставит строку в очередь надёжной доставки. Переполненная очередь
// означает медленного клиента: соединение закрывается.
func (c *Conn) send(line []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.out <- line:
		return true
	default:
		slowClients.Inc()
		c.srv.logger.Warn("%s: очередь отправки переполнена, соединение закрыто", c.label())
		c.close()
		return false
	}
}

// trySend доставка без гарантий: при полной очереди строка отбрасывается
func (c *Conn) trySend(line []byte) {
	select {
	case <-c.done:
	case c.out <- line:
	default:
		positionsDropped.Inc()
	}
}

func (c *Conn) writeLoop() {
	for {
		select {
		case <-c.done:
			return
		case line := <-c.out:
			if err := c.lc.WriteLine(line); err != nil {
				c.close()
				return
			}
		}
	}
}

func (c *Conn) close() {
	c.once.Do(func() {
		close(c.done)
		c.lc.Close()
	})
}

func isClosed(err error) bool {
	return !errors.Is(err, ErrHandshake) && !errors.Is(err, protocol.ErrMalformed) &&
		!errors.Is(err, protocol.ErrUnknownTag) && !errors.Is(err, ErrLineTooLong)
}
