package gateway

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/amoylab/hostlink/internal/auth"
	"github.com/amoylab/hostlink/internal/common/cnst"
	"github.com/amoylab/hostlink/internal/common/config"
	"github.com/amoylab/hostlink/internal/common/errorx"
	"github.com/amoylab/hostlink/internal/orchestrator"
	"github.com/amoylab/hostlink/internal/pages"
	"github.com/amoylab/hostlink/internal/ratelimit"
	"github.com/amoylab/hostlink/internal/registry"
	"github.com/amoylab/hostlink/internal/rpc"
	"github.com/amoylab/hostlink/internal/sequencer"
	"github.com/amoylab/hostlink/internal/storage"
	"github.com/amoylab/hostlink/pkg/metrics"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	teardownTimeout = 30 * time.Second
	maxInstanceID   = 64
)

// Deps are the collaborators of a Gateway
type Deps struct {
	Store        storage.Store
	Registry     registry.Store
	Gate         *auth.Gate
	Orchestrator *orchestrator.Orchestrator
	Pages        *pages.Router
	Sequencer    *sequencer.Sequencer
	Metrics      *metrics.Metrics
}

// Gateway accepts Host and Client sockets and wires each one to the engine
type Gateway struct {
	logger    *zap.Logger
	store     storage.Store
	registry  registry.Store
	gate      *auth.Gate
	orch      *orchestrator.Orchestrator
	pages     *pages.Router
	sequencer *sequencer.Sequencer
	metrics   *metrics.Metrics

	limits    config.RateLimitConfig
	heartbeat config.HeartbeatConfig
	upgrader  websocket.Upgrader
	now       func() time.Time

	mu      sync.Mutex
	conns   map[*conn]struct{}
	serving sync.WaitGroup
	closing atomic.Bool
}

func New(logger *zap.Logger, deps Deps, cfg *config.Config) *Gateway {
	return &Gateway{
		logger:    logger.Named("gateway"),
		store:     deps.Store,
		registry:  deps.Registry,
		gate:      deps.Gate,
		orch:      deps.Orchestrator,
		pages:     deps.Pages,
		sequencer: deps.Sequencer,
		metrics:   deps.Metrics,
		limits:    cfg.RateLimit,
		heartbeat: cfg.Heartbeat,
		upgrader: websocket.Upgrader{
			// Origin is checked by the session authenticator, Hosts send none
			CheckOrigin:      func(*http.Request) bool { return true },
			HandshakeTimeout: 10 * time.Second,
		},
		now:   time.Now,
		conns: make(map[*conn]struct{}),
	}
}

// Handle upgrades the request and serves the socket until it closes
func (g *Gateway) Handle(c *gin.Context) {
	ws, err := g.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		g.logger.Info("websocket upgrade failed", zap.Error(err))
		return
	}
	g.Serve(c.Request, rpc.NewWebSocket(ws))
}

// Serve authenticates the socket, registers its handlers, acknowledges it and
// reads from it until it closes
func (g *Gateway) Serve(r *http.Request, socket rpc.Socket) {
	g.serving.Add(1)
	defer g.serving.Done()
	if g.closing.Load() {
		_ = socket.Close(cnst.CloseServiceRestart, "server restarting")
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	principal, err := g.gate.Authenticate(ctx, r)
	if err != nil {
		g.logger.Info("socket rejected", zap.String("remote", r.RemoteAddr), zap.Error(err))
		_ = socket.Close(errorx.CloseCode(err), err.Error())
		return
	}
	id := connectionID(r)
	if g.registry.IsBlocked(id) {
		g.logger.Info("blocked connection refused", zap.String("connection", id))
		_ = socket.Close(cnst.ClosePolicyViolation, "connection blocked")
		return
	}
	if err := g.claim(ctx, id, principal); err != nil {
		g.logger.Warn("connection id refused", zap.String("connection", id), zap.Error(err))
		_ = socket.Close(errorx.CloseCode(err), err.Error())
		return
	}

	cn := &conn{id: id, principal: principal, openedAt: g.now()}
	limits, canCall := g.limits.Client, cnst.ClientCallable
	if cn.isHost() {
		limits, canCall = g.limits.Host, cnst.HostCallable
	}
	cn.window = ratelimit.NewWindow(limits)
	cn.channel = rpc.NewChannel(socket, rpc.Options{
		CanCall: canCall,
		Logger:  g.logger.With(zap.String("connection", id), zap.String("kind", cn.kind())),
		OnInbound: func(method cnst.Method) error {
			if err := cn.window.Record(); err != nil {
				g.metrics.RateLimited(cn.kind(), errorx.Code(err))
				return err
			}
			return nil
		},
		OnHandled: func(method cnst.Method, since time.Time, err error) {
			g.metrics.RPCDone(cn.kind(), method.String(), since, err)
		},
	})

	if cn.isHost() {
		g.registerHostHandlers(cn)
	} else {
		g.registerClientHandlers(cn)
		g.registry.AddClient(&registry.ClientConn{
			ID:                        id,
			UserID:                    principal.UserID,
			OrganizationID:            principal.OrganizationID,
			OrganizationEnvironmentID: principal.OrganizationEnvironmentID,
			IsGhost:                   principal.IsGhost,
			ConnectedAt:               cn.openedAt,
			Peer:                      cn.channel,
		})
	}
	g.track(cn)
	g.metrics.ConnOpened(cn.kind())
	defer g.teardown(cn)

	if err := cn.channel.Acknowledge(); err != nil {
		g.logger.Info("failed to acknowledge socket", zap.String("connection", id), zap.Error(err))
		return
	}
	g.logger.Info("socket connected",
		zap.String("connection", id),
		zap.String("kind", cn.kind()),
		zap.String("organization", principal.OrganizationID),
		zap.Bool("ghost", principal.IsGhost))

	go g.runHeartbeat(ctx, cn)
	if err := cn.channel.Serve(); err != nil {
		g.logger.Debug("socket read ended", zap.String("connection", id), zap.Error(err))
	}
}

// teardown removes the connection and runs the disconnect sweeps. A newer
// socket that reused the id is left alone.
func (g *Gateway) teardown(cn *conn) {
	_ = cn.channel.Close(cnst.CloseNormal, "")
	g.untrack(cn)
	g.metrics.ConnClosed(cn.kind())

	ctx, cancel := context.WithTimeout(context.Background(), teardownTimeout)
	defer cancel()

	if cn.isHost() {
		host, ok := g.registry.Host(cn.id)
		if !ok || host.Peer != registry.Peer(cn.channel) {
			return
		}
		g.registry.RemoveHost(cn.id)
		g.setHostStatus(ctx, cn.id, cnst.HostOffline)
		if err := g.orch.HandleHostDisconnect(ctx, cn.id); err != nil {
			g.logger.Error("host disconnect sweep failed", zap.String("host", cn.id), zap.Error(err))
		}
		g.pages.HandleHostDisconnect(cn.id)
		g.logger.Info("host disconnected", zap.String("host", cn.id))
		return
	}

	client, ok := g.registry.Client(cn.id)
	if !ok || client.Peer != registry.Peer(cn.channel) {
		return
	}
	g.registry.RemoveClient(cn.id)
	if err := g.orch.HandleClientDisconnect(ctx, cn.id); err != nil {
		g.logger.Error("client disconnect sweep failed", zap.String("client", cn.id), zap.Error(err))
	}
	g.pages.HandleClientDisconnect(cn.id)
	g.logger.Info("client disconnected", zap.String("client", cn.id))
}

func (g *Gateway) track(cn *conn) {
	g.mu.Lock()
	g.conns[cn] = struct{}{}
	g.mu.Unlock()
}

func (g *Gateway) untrack(cn *conn) {
	g.mu.Lock()
	delete(g.conns, cn)
	g.mu.Unlock()
}

// Shutdown refuses new sockets, closes every open one with 1012 and waits for
// their teardown until ctx ends
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.closing.Store(true)
	g.mu.Lock()
	open := make([]*conn, 0, len(g.conns))
	for cn := range g.conns {
		open = append(open, cn)
	}
	g.mu.Unlock()

	g.logger.Info("closing sockets", zap.Int("count", len(open)))
	for _, cn := range open {
		_ = cn.channel.Close(cnst.CloseServiceRestart, "server restarting")
	}

	done := make(chan struct{})
	go func() {
		g.serving.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// claim refuses an id that is already bound to another organization, API key
// or user, live or persisted
func (g *Gateway) claim(ctx context.Context, id string, p *auth.Principal) error {
	owner := "client:" + p.UserID
	if p.Kind == cnst.PeerHost {
		owner = "host:" + p.OrganizationID + ":" + p.APIKeyID
		prev, err := g.store.HostInstance(ctx, id)
		switch {
		case err == nil:
			if prev.OrganizationID != p.OrganizationID || prev.APIKeyID != p.APIKeyID {
				return errorx.New(errorx.ErrForbidden, "connection id %s belongs to another host", id)
			}
		case !errors.Is(err, errorx.ErrNotFound):
			return errorx.Wrap(errorx.ErrInternal, err, "load host instance %s", id)
		}
	}
	if !g.registry.ClaimConnection(id, owner) {
		return errorx.New(errorx.ErrForbidden, "connection id %s is held by another peer", id)
	}
	return nil
}

// connectionID reuses the id a reconnecting peer sends so it can resume
func connectionID(r *http.Request) string {
	if id := r.Header.Get(cnst.HeaderInstanceID); id != "" && len(id) <= maxInstanceID {
		return id
	}
	return uuid.NewString()
}
