package rpc

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ErrSocketClosed is returned by sockets after Close or a transport failure
var ErrSocketClosed = errors.New("socket closed")

const (
	writeWait       = 10 * time.Second
	maxReasonLength = 123
)

// Socket is the frame transport under a Channel
type Socket interface {
	// ReadMessage blocks until the next data frame arrives
	ReadMessage() ([]byte, error)
	WriteMessage(data []byte) error
	// Ping sends a liveness probe, the answer is reported to the pong handler
	Ping() error
	SetPongHandler(fn func())
	Close(code int, reason string) error
}

// WebSocket adapts a gorilla connection. gorilla allows one concurrent writer,
// so data writes are serialized here.
type WebSocket struct {
	conn *websocket.Conn
	wmu  sync.Mutex
	once sync.Once
}

var _ Socket = (*WebSocket)(nil)

func NewWebSocket(conn *websocket.Conn) *WebSocket {
	return &WebSocket{conn: conn}
}

func (s *WebSocket) ReadMessage() ([]byte, error) {
	for {
		mt, data, err := s.conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		if mt == websocket.TextMessage || mt == websocket.BinaryMessage {
			return data, nil
		}
	}
}

func (s *WebSocket) WriteMessage(data []byte) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	if err := s.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

func (s *WebSocket) Ping() error {
	return s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

func (s *WebSocket) SetPongHandler(fn func()) {
	s.conn.SetPongHandler(func(string) error {
		fn()
		return nil
	})
}

func (s *WebSocket) Close(code int, reason string) error {
	var err error
	s.once.Do(func() {
		if len(reason) > maxReasonLength {
			reason = reason[:maxReasonLength]
		}
		msg := websocket.FormatCloseMessage(code, reason)
		_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		err = s.conn.Close()
	})
	return err
}
