package protocol

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/annel0/craft-world/internal/vec"
	"github.com/annel0/craft-world/internal/world"
	"github.com/annel0/craft-world/internal/world/block"
)

// Encode кодирует сообщение в строку с завершающим '\n'
func Encode(m Message) []byte {
	return Append(nil, m)
}

// Append дописывает закодированное сообщение в buf
func Append(buf []byte, m Message) []byte {
	buf = append(buf, m.Tag())
	switch msg := m.(type) {
	case Hello:
		buf = appendInt(buf, int64(msg.Version))
	case Move:
		buf = appendPose(buf, msg.Pos, msg.RX, msg.RY)
	case EditRequest:
		buf = appendVec(buf, msg.Pos)
		buf = appendBlock(buf, msg.Block)
	case ChunkRequest:
		buf = appendInt(buf, int64(msg.Coords.P))
		buf = appendInt(buf, int64(msg.Coords.Q))
		if msg.HasSeq {
			buf = appendUint(buf, msg.Seq)
		}
	case Talk:
		buf = appendText(buf, msg.Text)
	case You:
		buf = appendUint(buf, msg.ID)
		buf = appendPose(buf, msg.Pos, msg.RX, msg.RY)
	case PlayerMove:
		buf = appendUint(buf, msg.ID)
		buf = appendPose(buf, msg.Pos, msg.RX, msg.RY)
	case Nick:
		buf = appendUint(buf, msg.ID)
		buf = appendText(buf, msg.Name)
	case Gone:
		buf = appendUint(buf, msg.ID)
	case BlockDelta:
		buf = appendVec(buf, msg.Pos)
		buf = appendBlock(buf, msg.Block)
		buf = appendUint(buf, msg.Seq)
	case Dump:
		buf = appendInt(buf, int64(msg.Coords.P))
		buf = appendInt(buf, int64(msg.Coords.Q))
		buf = appendUint(buf, msg.Seq)
		for _, r := range msg.Runs {
			buf = appendRun(buf, r)
		}
	case Reject:
		buf = appendVec(buf, msg.Pos)
		buf = appendText(buf, msg.Reason)
	case Time:
		buf = appendFloat(buf, msg.Timestamp)
		buf = appendFloat(buf, msg.DayLength)
	default:
		panic(fmt.Sprintf("protocol: неизвестный тип сообщения %T", m))
	}
	return append(buf, '\n')
}

func appendInt(buf []byte, v int64) []byte {
	buf = append(buf, ' ')
	return strconv.AppendInt(buf, v, 10)
}

func appendUint(buf []byte, v uint64) []byte {
	buf = append(buf, ' ')
	return strconv.AppendUint(buf, v, 10)
}

func appendFloat(buf []byte, f float64) []byte {
	buf = append(buf, ' ')
	return strconv.AppendFloat(buf, f, 'f', -1, 64)
}

func appendVec(buf []byte, v vec.Vec3) []byte {
	buf = appendInt(buf, int64(v.X))
	buf = appendInt(buf, int64(v.Y))
	return appendInt(buf, int64(v.Z))
}

func appendPose(buf []byte, p vec.Vec3Float, rx, ry float64) []byte {
	buf = appendFloat(buf, p.X)
	buf = appendFloat(buf, p.Y)
	buf = appendFloat(buf, p.Z)
	buf = appendFloat(buf, rx)
	return appendFloat(buf, ry)
}

func appendBlock(buf []byte, b block.Block) []byte {
	buf = appendInt(buf, int64(b.Material()))
	return appendInt(buf, int64(b.Flags()))
}

func appendRun(buf []byte, r world.Run) []byte {
	buf = append(buf, ' ')
	buf = strconv.AppendInt(buf, int64(r.LX), 10)
	buf = append(buf, ',')
	buf = strconv.AppendInt(buf, int64(r.LZ), 10)
	buf = append(buf, ',')
	buf = strconv.AppendInt(buf, int64(r.Y), 10)
	buf = append(buf, ',')
	buf = strconv.AppendInt(buf, int64(r.Count), 10)
	buf = append(buf, ',')
	buf = strconv.AppendInt(buf, int64(r.Block.Material()), 10)
	buf = append(buf, ',')
	return strconv.AppendInt(buf, int64(r.Block.Flags()), 10)
}

// appendText пишет текст до конца строки; переводы строк заменяются пробелами
func appendText(buf []byte, s string) []byte {
	if s == "" {
		return buf
	}
	buf = append(buf, ' ')
	return append(buf, strings.Map(func(r rune) rune {
		if r == '\n' || r == '\r' {
			return ' '
		}
		return r
	}, s)...)
}

// ParseClient разбирает строку, пришедшую от клиента
func ParseClient(line []byte) (Message, error) {
	p, err := newParser(line)
	if err != nil {
		return nil, err
	}
	switch p.tag {
	case TagVersion:
		v := p.readInt()
		return Hello{Version: v}, p.done()
	case TagPosition:
		pos, rx, ry := p.pose()
		return Move{Pos: pos, RX: rx, RY: ry}, p.done()
	case TagBlock:
		pos := p.vec()
		b := p.block()
		return EditRequest{Pos: pos, Block: b}, p.done()
	case TagChunk:
		m := ChunkRequest{Coords: vec.ChunkCoord{P: p.readInt(), Q: p.readInt()}}
		if p.more() {
			m.Seq = p.readUint()
			m.HasSeq = true
		}
		return m, p.done()
	case TagTalk:
		return Talk{Text: p.rest()}, nil
	}
	return nil, fmt.Errorf("%w %q", ErrUnknownTag, p.tag)
}

// ParseServer разбирает строку, пришедшую от сервера
func ParseServer(line []byte) (Message, error) {
	p, err := newParser(line)
	if err != nil {
		return nil, err
	}
	switch p.tag {
	case TagYou:
		id := p.readUint()
		pos, rx, ry := p.pose()
		return You{ID: id, Pos: pos, RX: rx, RY: ry}, p.done()
	case TagPosition:
		id := p.readUint()
		pos, rx, ry := p.pose()
		return PlayerMove{ID: id, Pos: pos, RX: rx, RY: ry}, p.done()
	case TagNick:
		id := p.readUint()
		return Nick{ID: id, Name: p.rest()}, p.err
	case TagGone:
		id := p.readUint()
		return Gone{ID: id}, p.done()
	case TagBlock:
		pos := p.vec()
		b := p.block()
		seq := p.readUint()
		return BlockDelta{Pos: pos, Block: b, Seq: seq}, p.done()
	case TagDump:
		d := Dump{}
		d.Coords = vec.ChunkCoord{P: p.readInt(), Q: p.readInt()}
		d.Seq = p.readUint()
		for p.more() && p.err == nil {
			d.Runs = append(d.Runs, p.run())
		}
		return d, p.done()
	case TagReject:
		pos := p.vec()
		return Reject{Pos: pos, Reason: p.rest()}, p.err
	case TagTime:
		t := Time{Timestamp: p.readFloat(), DayLength: p.readFloat()}
		if p.err == nil && t.DayLength <= 0 {
			p.fail("длина суток %v", t.DayLength)
		}
		return t, p.done()
	case TagTalk:
		return Talk{Text: p.rest()}, nil
	}
	return nil, fmt.Errorf("%w %q", ErrUnknownTag, p.tag)
}

// parser последовательно читает поля строки; первая ошибка запоминается
type parser struct {
	tag  byte
	line string
	pos  int
	err  error
}

func newParser(line []byte) (*parser, error) {
	s := strings.TrimRight(string(line), "\r\n")
	if s == "" {
		return nil, fmt.Errorf("%w: пустая строка", ErrMalformed)
	}
	if len(s) > 1 && s[1] != ' ' {
		return nil, fmt.Errorf("%w %q", ErrUnknownTag, s[:strings.IndexByte(s+" ", ' ')])
	}
	p := &parser{tag: s[0], line: s, pos: 1}
	return p, nil
}

func (p *parser) fail(format string, args ...interface{}) {
	if p.err == nil {
		p.err = fmt.Errorf("%w: %c: %s", ErrMalformed, p.tag, fmt.Sprintf(format, args...))
	}
}

func (p *parser) more() bool {
	for p.pos < len(p.line) && p.line[p.pos] == ' ' {
		p.pos++
	}
	return p.pos < len(p.line)
}

func (p *parser) token() string {
	if p.err != nil {
		return ""
	}
	if !p.more() {
		p.fail("не хватает полей")
		return ""
	}
	start := p.pos
	for p.pos < len(p.line) && p.line[p.pos] != ' ' {
		p.pos++
	}
	return p.line[start:p.pos]
}

// rest весь остаток строки после одного пробела
func (p *parser) rest() string {
	if p.pos < len(p.line) && p.line[p.pos] == ' ' {
		p.pos++
	}
	s := p.line[p.pos:]
	p.pos = len(p.line)
	return s
}

func (p *parser) done() error {
	if p.err == nil && p.more() {
		p.fail("лишние поля %q", p.line[p.pos:])
	}
	return p.err
}

func (p *parser) readInt() int {
	tok := p.token()
	if p.err != nil {
		return 0
	}
	v, err := strconv.Atoi(tok)
	if err != nil {
		p.fail("целое %q", tok)
	}
	return v
}

func (p *parser) readUint() uint64 {
	tok := p.token()
	if p.err != nil {
		return 0
	}
	v, err := strconv.ParseUint(tok, 10, 64)
	if err != nil {
		p.fail("беззнаковое %q", tok)
	}
	return v
}

func (p *parser) readFloat() float64 {
	tok := p.token()
	if p.err != nil {
		return 0
	}
	f, err := strconv.ParseFloat(tok, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		p.fail("число %q", tok)
		return 0
	}
	return f
}

func (p *parser) vec() vec.Vec3 {
	return vec.Vec3{X: p.readInt(), Y: p.readInt(), Z: p.readInt()}
}

func (p *parser) pose() (vec.Vec3Float, float64, float64) {
	pos := vec.Vec3Float{X: p.readFloat(), Y: p.readFloat(), Z: p.readFloat()}
	return pos, p.readFloat(), p.readFloat()
}

func (p *parser) block() block.Block {
	m, f := p.readInt(), p.readInt()
	if p.err != nil {
		return block.Air
	}
	return p.checkBlock(m, f)
}

func (p *parser) checkBlock(m, f int) block.Block {
	if m < 0 || m > math.MaxUint8 || f < 0 || f > math.MaxUint8 {
		p.fail("блок %d,%d вне диапазона", m, f)
		return block.Air
	}
	if err := block.Validate(block.Material(m), block.Flags(f)); err != nil {
		p.fail("%v", err)
		return block.Air
	}
	return block.New(block.Material(m), block.Flags(f))
}

func (p *parser) run() world.Run {
	tok := p.token()
	if p.err != nil {
		return world.Run{}
	}
	parts := strings.Split(tok, ",")
	if len(parts) != 6 {
		p.fail("серия %q", tok)
		return world.Run{}
	}
	var n [6]int
	for i, s := range parts {
		v, err := strconv.Atoi(s)
		if err != nil {
			p.fail("серия %q", tok)
			return world.Run{}
		}
		n[i] = v
	}
	if n[0] < 0 || n[0] >= vec.ChunkSize || n[1] < 0 || n[1] >= vec.ChunkSize || n[3] <= 0 {
		p.fail("серия %q вне колонны", tok)
		return world.Run{}
	}
	if n[2] > math.MaxInt-(n[3]-1) {
		p.fail("серия %q переполняет Y", tok)
		return world.Run{}
	}
	return world.Run{LX: n[0], LZ: n[1], Y: n[2], Count: n[3], Block: p.checkBlock(n[4], n[5])}
}
