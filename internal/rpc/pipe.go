package rpc

import (
	"sync"
)

// PipeSocket is one end of an in-process socket pair
type PipeSocket struct {
	in    chan []byte
	out   chan []byte
	state *pipeState

	mu     sync.Mutex
	onPong func()
}

type pipeState struct {
	done   chan struct{}
	once   sync.Once
	code   int
	reason string
}

var _ Socket = (*PipeSocket)(nil)

// NewPipe returns two connected sockets. Closing either end closes both.
func NewPipe() (*PipeSocket, *PipeSocket) {
	ab := make(chan []byte, 256)
	ba := make(chan []byte, 256)
	st := &pipeState{done: make(chan struct{})}
	return &PipeSocket{in: ba, out: ab, state: st}, &PipeSocket{in: ab, out: ba, state: st}
}

func (p *PipeSocket) ReadMessage() ([]byte, error) {
	select {
	case data := <-p.in:
		return data, nil
	case <-p.state.done:
		return nil, ErrSocketClosed
	}
}

func (p *PipeSocket) WriteMessage(data []byte) error {
	select {
	case <-p.state.done:
		return ErrSocketClosed
	default:
	}
	buf := append([]byte(nil), data...)
	select {
	case p.out <- buf:
		return nil
	case <-p.state.done:
		return ErrSocketClosed
	}
}

// Ping answers immediately while the pair is open
func (p *PipeSocket) Ping() error {
	select {
	case <-p.state.done:
		return ErrSocketClosed
	default:
	}
	p.mu.Lock()
	fn := p.onPong
	p.mu.Unlock()
	if fn != nil {
		fn()
	}
	return nil
}

func (p *PipeSocket) SetPongHandler(fn func()) {
	p.mu.Lock()
	p.onPong = fn
	p.mu.Unlock()
}

func (p *PipeSocket) Close(code int, reason string) error {
	p.state.once.Do(func() {
		p.state.code = code
		p.state.reason = reason
		close(p.state.done)
	})
	return nil
}

// CloseStatus reports the code and reason of the first Close on either end
func (p *PipeSocket) CloseStatus() (code int, reason string, closed bool) {
	select {
	case <-p.state.done:
		return p.state.code, p.state.reason, true
	default:
		return 0, "", false
	}
}

// Done is closed once the pair is closed
func (p *PipeSocket) Done() <-chan struct{} {
	return p.state.done
}
