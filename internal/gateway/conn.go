package gateway

import (
	"time"

	"github.com/amoylab/hostlink/internal/auth"
	"github.com/amoylab/hostlink/internal/common/cnst"
	"github.com/amoylab/hostlink/internal/orchestrator"
	"github.com/amoylab/hostlink/internal/ratelimit"
	"github.com/amoylab/hostlink/internal/rpc"
)

// conn is the server side of one socket
type conn struct {
	id        string
	principal *auth.Principal
	channel   *rpc.Channel
	window    *ratelimit.Window
	openedAt  time.Time

	// unreachable is only touched by the heartbeat goroutine
	unreachable bool
}

func (c *conn) isHost() bool {
	return c.principal.Kind == cnst.PeerHost
}

func (c *conn) kind() string {
	return string(c.principal.Kind)
}

func (c *conn) caller() orchestrator.Caller {
	return orchestrator.Caller{
		ConnID:                    c.id,
		UserID:                    c.principal.UserID,
		OrganizationID:            c.principal.OrganizationID,
		OrganizationEnvironmentID: c.principal.OrganizationEnvironmentID,
		IsGhost:                   c.principal.IsGhost,
	}
}
