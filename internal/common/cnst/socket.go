package cnst

// WebSocket close codes used by the gateway.
const (
	CloseNormal          = 1000
	ClosePolicyViolation = 1008
	CloseInternalError   = 1011
	CloseServiceRestart  = 1012
)

// Request headers read during the upgrade.
const (
	HeaderAPIKey     = "x-api-key"
	HeaderInstanceID = "x-instance-id"
	HeaderGhostOrgID = "x-ghost-org-id"
	HeaderOrigin     = "Origin"
)

// PeerKind tells host sockets apart from client sockets.
type PeerKind string

const (
	PeerHost   PeerKind = "host"
	PeerClient PeerKind = "client"
)
