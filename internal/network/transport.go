package network

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/xtaci/kcp-go/v5"

	"github.com/annel0/craft-world/internal/logging"
)

// Транспорты строкового протокола
const (
	TransportTCP = "tcp"
	TransportKCP = "kcp"
	TransportWS  = "ws"
)

// DefaultMaxLineBytes предел длины строки по умолчанию; дамп плотного чанка
// укладывается в него с запасом.
const DefaultMaxLineBytes = 4 << 20

var (
	// ErrLineTooLong строка длиннее max_line_bytes
	ErrLineTooLong = errors.New("network: строка превышает предел длины")
	// ErrListenerClosed слушатель закрыт
	ErrListenerClosed = errors.New("network: слушатель закрыт")
)

// LineConn соединение, несущее по одной строке протокола за раз.
// ReadLine возвращает строку без '\n'; WriteLine ожидает строку с '\n'.
// ReadLine и WriteLine могут вызываться из разных горутин.
type LineConn interface {
	ReadLine() ([]byte, error)
	WriteLine(line []byte) error
	Close() error
	RemoteAddr() string
}

// Listener принимает LineConn
type Listener interface {
	Accept() (LineConn, error)
	Close() error
	Addr() net.Addr
}

// Listen открывает слушатель выбранного транспорта
func Listen(transport, addr, wsPath string, maxLine int) (Listener, error) {
	if maxLine <= 0 {
		maxLine = DefaultMaxLineBytes
	}
	switch transport {
	case "", TransportTCP:
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			return nil, fmt.Errorf("tcp listen %s: %w", addr, err)
		}
		return &streamListener{ln: ln, maxLine: maxLine}, nil
	case TransportKCP:
		ln, err := kcp.ListenWithOptions(addr, nil, 0, 0)
		if err != nil {
			return nil, fmt.Errorf("kcp listen %s: %w", addr, err)
		}
		return &kcpListener{ln: ln, maxLine: maxLine}, nil
	case TransportWS:
		return listenWS(addr, wsPath, maxLine)
	default:
		return nil, fmt.Errorf("network: неизвестный транспорт %q", transport)
	}
}

// Dial подключается к серверу выбранным транспортом
func Dial(ctx context.Context, transport, addr, wsPath string, maxLine int) (LineConn, error) {
	if maxLine <= 0 {
		maxLine = DefaultMaxLineBytes
	}
	switch transport {
	case "", TransportTCP:
		var d net.Dialer
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, fmt.Errorf("tcp dial %s: %w", addr, err)
		}
		return newStreamConn(conn, maxLine), nil
	case TransportKCP:
		sess, err := kcp.DialWithOptions(addr, nil, 10, 3)
		if err != nil {
			return nil, fmt.Errorf("kcp dial %s: %w", addr, err)
		}
		tuneKCP(sess)
		return newStreamConn(sess, maxLine), nil
	case TransportWS:
		if wsPath == "" {
			wsPath = "/ws"
		}
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, "ws://"+addr+wsPath, nil)
		if err != nil {
			return nil, fmt.Errorf("ws dial %s: %w", addr, err)
		}
		return newWSConn(conn, maxLine), nil
	default:
		return nil, fmt.Errorf("network: неизвестный транспорт %q", transport)
	}
}

//================ TCP / KCP: поток строк =================//

type streamConn struct {
	conn    net.Conn
	scanner *bufio.Scanner
	wmu     sync.Mutex
}

func newStreamConn(conn net.Conn, maxLine int) *streamConn {
	sc := bufio.NewScanner(conn)
	// Scanner разрешает токен до max(cap(buf), max): начальный буфер не больше предела
	limit := maxLine + 1 // строка плюс '\n'
	sc.Buffer(make([]byte, 0, min(4096, limit)), limit)
	return &streamConn{conn: conn, scanner: sc}
}

func (c *streamConn) ReadLine() ([]byte, error) {
	if c.scanner.Scan() {
		return c.scanner.Bytes(), nil
	}
	if err := c.scanner.Err(); err != nil {
		if errors.Is(err, bufio.ErrTooLong) {
			return nil, ErrLineTooLong
		}
		return nil, err
	}
	return nil, net.ErrClosed
}

func (c *streamConn) WriteLine(line []byte) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	_, err := c.conn.Write(line)
	return err
}

func (c *streamConn) Close() error       { return c.conn.Close() }
func (c *streamConn) RemoteAddr() string { return c.conn.RemoteAddr().String() }

type streamListener struct {
	ln      net.Listener
	maxLine int
}

func (l *streamListener) Accept() (LineConn, error) {
	conn, err := l.ln.Accept()
	if err != nil {
		return nil, err
	}
	return newStreamConn(conn, l.maxLine), nil
}

func (l *streamListener) Close() error   { return l.ln.Close() }
func (l *streamListener) Addr() net.Addr { return l.ln.Addr() }

type kcpListener struct {
	ln      *kcp.Listener
	maxLine int
}

func (l *kcpListener) Accept() (LineConn, error) {
	sess, err := l.ln.AcceptKCP()
	if err != nil {
		return nil, err
	}
	tuneKCP(sess)
	return newStreamConn(sess, l.maxLine), nil
}

func (l *kcpListener) Close() error   { return l.ln.Close() }
func (l *kcpListener) Addr() net.Addr { return l.ln.Addr() }

// tuneKCP настройки сессии для интерактивного трафика
func tuneKCP(sess *kcp.UDPSession) {
	sess.SetStreamMode(true)
	sess.SetWriteDelay(false)
	sess.SetNoDelay(1, 20, 2, 1)
	sess.SetWindowSize(512, 512)
	sess.SetMtu(1400)
}

//================ WebSocket: один текстовый кадр на строку =================//

type wsConn struct {
	conn *websocket.Conn
	wmu  sync.Mutex
}

func newWSConn(conn *websocket.Conn, maxLine int) *wsConn {
	conn.SetReadLimit(int64(maxLine) + 1)
	return &wsConn{conn: conn}
}

func (c *wsConn) ReadLine() ([]byte, error) {
	for {
		mt, msg, err := c.conn.ReadMessage()
		if err != nil {
			if errors.Is(err, websocket.ErrReadLimit) {
				return nil, ErrLineTooLong
			}
			return nil, err
		}
		if mt != websocket.TextMessage {
			continue
		}
		if n := len(msg); n > 0 && msg[n-1] == '\n' {
			msg = msg[:n-1]
		}
		return msg, nil
	}
}

func (c *wsConn) WriteLine(line []byte) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return c.conn.WriteMessage(websocket.TextMessage, line)
}

func (c *wsConn) Close() error       { return c.conn.Close() }
func (c *wsConn) RemoteAddr() string { return c.conn.RemoteAddr().String() }

type wsListener struct {
	ln      net.Listener
	srv     *http.Server
	conns   chan LineConn
	done    chan struct{}
	once    sync.Once
	maxLine int
}

func listenWS(addr, path string, maxLine int) (*wsListener, error) {
	if path == "" {
		path = "/ws"
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("ws listen %s: %w", addr, err)
	}
	l := &wsListener{
		ln:      ln,
		conns:   make(chan LineConn),
		done:    make(chan struct{}),
		maxLine: maxLine,
	}
	upgrader := websocket.Upgrader{
		ReadBufferSize:  64 * 1024,
		WriteBufferSize: 64 * 1024,
		CheckOrigin:     func(r *http.Request) bool { return true },
	}
	mux := http.NewServeMux()
	mux.HandleFunc(path, func(rw http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		select {
		case l.conns <- newWSConn(conn, maxLine):
		case <-l.done:
			conn.Close()
		}
	})
	l.srv = &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := l.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Error("WebSocket сервер: %v", err)
		}
	}()
	return l, nil
}

func (l *wsListener) Accept() (LineConn, error) {
	select {
	case c := <-l.conns:
		return c, nil
	case <-l.done:
		return nil, ErrListenerClosed
	}
}

func (l *wsListener) Close() error {
	var err error
	l.once.Do(func() {
		close(l.done)
		err = l.srv.Close()
	})
	return err
}

func (l *wsListener) Addr() net.Addr { return l.ln.Addr() }
