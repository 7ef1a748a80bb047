package gateway

import (
	"context"
	"time"

	"github.com/amoylab/hostlink/internal/common/cnst"
	"go.uber.org/zap"
)

const (
	defaultHeartbeatInterval = 30 * time.Second
	defaultClientStaleAfter  = 60 * time.Second
	defaultHostUnreachable   = 6 * time.Hour
)

func (g *Gateway) runHeartbeat(ctx context.Context, cn *conn) {
	interval := g.heartbeat.Interval
	if interval <= 0 {
		interval = defaultHeartbeatInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-cn.channel.Done():
			return
		case <-ticker.C:
			if !g.beat(ctx, cn) {
				return
			}
		}
	}
}

// beat pings the peer once and judges the previous pong. It returns false
// once the connection was closed.
func (g *Gateway) beat(ctx context.Context, cn *conn) bool {
	now := g.now()
	staleAfter := g.heartbeat.ClientStaleAfter
	if staleAfter <= 0 {
		staleAfter = defaultClientStaleAfter
	}
	missed := now.Sub(cn.channel.LastPong()) > staleAfter
	if err := cn.channel.Ping(); err != nil {
		g.logger.Debug("ping failed", zap.String("connection", cn.id), zap.Error(err))
		missed = true
	}

	if !cn.isHost() {
		if missed {
			g.logger.Info("closing stale client", zap.String("client", cn.id), zap.Time("last_pong", cn.channel.LastPong()))
			_ = cn.channel.Close(cnst.CloseNormal, "heartbeat timeout")
			return false
		}
		return true
	}

	if !missed {
		if err := g.store.TouchHost(ctx, cn.id, now); err != nil {
			g.logger.Warn("failed to record host liveness", zap.String("host", cn.id), zap.Error(err))
		}
		if cn.unreachable {
			cn.unreachable = false
			g.setHostStatus(ctx, cn.id, cnst.HostOnline)
			g.logger.Info("host reachable again", zap.String("host", cn.id))
		}
		return true
	}

	if !cn.unreachable {
		cn.unreachable = true
		g.setHostStatus(ctx, cn.id, cnst.HostUnreachable)
		g.logger.Warn("host missed heartbeat", zap.String("host", cn.id))
	}

	// hosts are kept through short outages and dropped once the persisted
	// last-seen time is old enough
	unreachableAfter := g.heartbeat.HostUnreachableAfter
	if unreachableAfter <= 0 {
		unreachableAfter = defaultHostUnreachable
	}
	instance, err := g.store.HostInstance(ctx, cn.id)
	if err != nil {
		g.logger.Warn("failed to load host instance", zap.String("host", cn.id), zap.Error(err))
		return true
	}
	if now.Sub(instance.LastSeenAt) <= unreachableAfter {
		return true
	}
	g.logger.Info("closing unreachable host", zap.String("host", cn.id), zap.Time("last_seen", instance.LastSeenAt))
	_ = cn.channel.Close(cnst.CloseNormal, "heartbeat timeout")
	return false
}

func (g *Gateway) setHostStatus(ctx context.Context, id string, status cnst.HostStatus) {
	if err := g.store.SetHostStatus(ctx, id, status); err != nil {
		g.logger.Warn("failed to update host status",
			zap.String("host", id),
			zap.String("status", string(status)),
			zap.Error(err))
	}
}
