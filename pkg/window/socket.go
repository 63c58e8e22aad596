package window

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rexliu/splitsconnect/pkg/bridge"
)

const writeTimeout = 10 * time.Second

// Socket is a Port over a websocket connection. Unlike Window, a peer only
// sees what the other end posts.
type Socket struct {
	conn    *websocket.Conn
	logger  Logger
	writeMu sync.Mutex
	subs    subscribers

	closeOnce sync.Once
	done      chan struct{}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// pages on any origin may attach; redemption is gated separately
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Dial connects to a bridge endpoint.
func Dial(ctx context.Context, url string, logger Logger) (*Socket, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return NewSocket(conn, logger), nil
}

// Upgrade accepts a bridge connection from an HTTP request.
func Upgrade(w http.ResponseWriter, r *http.Request, logger Logger) (*Socket, error) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	return NewSocket(conn, logger), nil
}

// NewSocket wraps conn and starts reading from it.
func NewSocket(conn *websocket.Conn, logger Logger) *Socket {
	s := &Socket{conn: conn, logger: logger, done: make(chan struct{})}
	go s.readLoop()
	return s
}

// Post encodes msg and writes it as one binary frame.
func (s *Socket) Post(msg bridge.Message) error {
	select {
	case <-s.done:
		return ErrClosed
	default:
	}
	data, err := EncodeMessage(msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return s.conn.WriteMessage(websocket.BinaryMessage, data)
}

// Subscribe registers h for messages read from the peer.
func (s *Socket) Subscribe(h Handler) func() {
	return s.subs.add(h)
}

// Done is closed once the connection is gone.
func (s *Socket) Done() <-chan struct{} {
	return s.done
}

func (s *Socket) readLoop() {
	defer s.shutdown()
	for {
		typ, data, err := s.conn.ReadMessage()
		if err != nil {
			if s.logger != nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logf("socket read: %v", err)
			}
			return
		}
		if typ != websocket.BinaryMessage {
			continue
		}
		msg, err := DecodeMessage(data)
		if err != nil {
			s.logf("dropping undecodable frame: %v", err)
			continue
		}
		s.subs.deliver(msg, s.logger)
	}
}

// Close sends a close frame and releases the connection.
func (s *Socket) Close() error {
	s.writeMu.Lock()
	_ = s.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	s.writeMu.Unlock()
	s.shutdown()
	return nil
}

func (s *Socket) shutdown() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.conn.Close()
	})
}

func (s *Socket) logf(format string, v ...any) {
	if s.logger != nil {
		s.logger.Printf(format, v...)
	}
}
