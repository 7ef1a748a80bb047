package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/amoylab/hostlink/internal/common/cnst"
	"github.com/amoylab/hostlink/internal/common/errorx"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// HandlerFunc answers one inbound call with a JSON-encodable result
type HandlerFunc func(ctx context.Context, data json.RawMessage) (any, error)

// Options configures a Channel
type Options struct {
	// CanCall lists the methods this side may invoke on the peer
	CanCall []cnst.Method
	Logger  *zap.Logger
	// OnInbound runs for every inbound frame except a response to a call this
	// side made. method is empty for frames that are not calls. An error closes
	// the socket with errorx.CloseCode(err) and the error text as reason.
	OnInbound func(method cnst.Method) error
	// OnHandled reports every finished inbound call
	OnHandled func(method cnst.Method, since time.Time, err error)
}

// Channel multiplexes concurrent calls in both directions over one Socket
type Channel struct {
	socket   Socket
	logger   *zap.Logger
	opts     Options
	canCall  map[cnst.Method]struct{}
	validate *validator.Validate

	hmu      sync.RWMutex
	handlers map[cnst.Method]HandlerFunc

	pmu     sync.Mutex
	pending map[string]chan Envelope

	ctx      context.Context
	cancel   context.CancelFunc
	once     sync.Once
	lastPong atomic.Int64
	acked    chan struct{}
	ackOnce  sync.Once
}

func NewChannel(socket Socket, opts Options) *Channel {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	ch := &Channel{
		socket:   socket,
		logger:   logger.Named("rpc.channel"),
		opts:     opts,
		canCall:  make(map[cnst.Method]struct{}, len(opts.CanCall)),
		validate: validator.New(),
		handlers: make(map[cnst.Method]HandlerFunc),
		pending:  make(map[string]chan Envelope),
		ctx:      ctx,
		cancel:   cancel,
		acked:    make(chan struct{}),
	}
	for _, m := range opts.CanCall {
		ch.canCall[m] = struct{}{}
	}
	ch.lastPong.Store(time.Now().UnixNano())
	socket.SetPongHandler(func() {
		ch.lastPong.Store(time.Now().UnixNano())
	})
	return ch
}

// Register installs an untyped handler; most callers want Handle
func (c *Channel) Register(method cnst.Method, fn HandlerFunc) {
	c.hmu.Lock()
	c.handlers[method] = fn
	c.hmu.Unlock()
}

// Acknowledge tells the peer it is authenticated and may start calling
func (c *Channel) Acknowledge() error {
	return c.write(Envelope{Kind: KindAuthenticated})
}

// Authenticated is closed once the peer acknowledged this side
func (c *Channel) Authenticated() <-chan struct{} {
	return c.acked
}

// Done is closed once the channel stops serving
func (c *Channel) Done() <-chan struct{} {
	return c.ctx.Done()
}

// Serve reads frames until the socket fails or the channel is closed.
// Pending calls fail with errorx.ErrConnectionClosed once it returns.
func (c *Channel) Serve() error {
	defer c.shutdown()
	for {
		data, err := c.socket.ReadMessage()
		if err != nil {
			if c.ctx.Err() != nil {
				return nil
			}
			return err
		}

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.logger.Warn("dropping malformed frame", zap.Error(err))
			if err := c.admit(""); err != nil {
				return err
			}
			continue
		}
		if env.Kind == KindResponse && c.resolve(env) {
			continue
		}
		if err := c.admit(env.MethodName); err != nil {
			return err
		}

		switch env.Kind {
		case KindResponse:
			c.logger.Debug("response for unknown call", zap.String("id", env.ID))
		case KindAuthenticated:
			c.ackOnce.Do(func() { close(c.acked) })
		case KindCall:
			go c.dispatch(env)
		default:
			c.logger.Warn("dropping frame of unknown kind", zap.String("kind", string(env.Kind)))
		}
	}
}

// admit charges one inbound frame to the OnInbound hook and closes the socket
// when the hook refuses it
func (c *Channel) admit(method cnst.Method) error {
	if c.opts.OnInbound == nil {
		return nil
	}
	if err := c.opts.OnInbound(method); err != nil {
		c.logger.Info("closing socket on inbound frame",
			zap.String("method", string(method)), zap.Error(err))
		_ = c.Close(errorx.CloseCode(err), err.Error())
		return err
	}
	return nil
}

// Call invokes method on the peer and waits for its answer, the channel closing
// or ctx ending. It never retries.
func (c *Channel) Call(ctx context.Context, method cnst.Method, in, out any) error {
	if _, ok := c.canCall[method]; !ok {
		return fmt.Errorf("method %s is not callable on this channel", method)
	}
	data, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to encode %s input: %w", method, err)
	}

	id := uuid.NewString()
	wait := make(chan Envelope, 1)
	c.pmu.Lock()
	if c.ctx.Err() != nil {
		c.pmu.Unlock()
		return errorx.New(errorx.ErrConnectionClosed, "call %s", method)
	}
	c.pending[id] = wait
	c.pmu.Unlock()
	defer c.forget(id)

	if err := c.write(Envelope{ID: id, Kind: KindCall, MethodName: method, Data: data}); err != nil {
		return errorx.Wrap(errorx.ErrConnectionClosed, err, "call %s", method)
	}

	select {
	case env, ok := <-wait:
		if !ok {
			return errorx.New(errorx.ErrConnectionClosed, "call %s", method)
		}
		if env.Error != "" {
			return &RemoteError{Method: method, Message: env.Error}
		}
		if out == nil || len(env.Data) == 0 {
			return nil
		}
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("failed to decode %s output: %w", method, err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Ping probes liveness; the pong updates LastPong
func (c *Channel) Ping() error {
	return c.socket.Ping()
}

func (c *Channel) LastPong() time.Time {
	return time.Unix(0, c.lastPong.Load())
}

// Close closes the socket with code and reason and stops the channel
func (c *Channel) Close(code int, reason string) error {
	err := c.socket.Close(code, reason)
	c.shutdown()
	return err
}

func (c *Channel) shutdown() {
	c.once.Do(func() {
		c.pmu.Lock()
		c.cancel()
		for id, wait := range c.pending {
			close(wait)
			delete(c.pending, id)
		}
		c.pmu.Unlock()
	})
}

func (c *Channel) forget(id string) {
	c.pmu.Lock()
	delete(c.pending, id)
	c.pmu.Unlock()
}

// resolve hands a response to its waiting call and reports whether one was waiting
func (c *Channel) resolve(env Envelope) bool {
	c.pmu.Lock()
	wait, ok := c.pending[env.ID]
	if ok {
		delete(c.pending, env.ID)
	}
	c.pmu.Unlock()
	if ok {
		wait <- env
	}
	return ok
}

func (c *Channel) dispatch(env Envelope) {
	start := time.Now()
	result, err := c.invoke(env)
	if c.opts.OnHandled != nil {
		c.opts.OnHandled(env.MethodName, start, err)
	}

	resp := Envelope{ID: env.ID, Kind: KindResponse}
	if err != nil {
		resp.Error = c.publicError(env.MethodName, err)
	} else if resp.Data, err = json.Marshal(result); err != nil {
		resp.Error = "failed to encode response"
		c.logger.Error("failed to encode response", zap.String("method", string(env.MethodName)), zap.Error(err))
	}
	if err := c.write(resp); err != nil {
		c.logger.Debug("failed to write response", zap.String("method", string(env.MethodName)), zap.Error(err))
	}
}

// publicError is the text a peer sees for a failed call. Internal failures are
// logged here and reach the peer only as a generic message.
func (c *Channel) publicError(method cnst.Method, err error) string {
	if errorx.Kind(err) == errorx.ErrInternal {
		c.logger.Error("rpc handler failed", zap.String("method", string(method)), zap.Error(err))
		return errorx.ErrInternal.Message
	}
	return err.Error()
}

func (c *Channel) invoke(env Envelope) (result any, err error) {
	c.hmu.RLock()
	fn, ok := c.handlers[env.MethodName]
	c.hmu.RUnlock()
	if !ok {
		return nil, errorx.New(errorx.ErrInvalidInput, "unknown method %s", env.MethodName)
	}

	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("rpc handler panicked",
				zap.String("method", string(env.MethodName)),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()))
			result, err = nil, errorx.New(errorx.ErrInternal, "%s panicked", env.MethodName)
		}
	}()
	return fn(c.ctx, env.Data)
}

func (c *Channel) write(env Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return c.socket.WriteMessage(data)
}
