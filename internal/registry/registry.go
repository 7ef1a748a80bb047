package registry

import (
	"context"
	"time"

	"github.com/amoylab/hostlink/internal/common/cnst"
	"github.com/amoylab/hostlink/internal/protocol"
)

// Peer is the outbound half of a live socket
type Peer interface {
	Call(ctx context.Context, method cnst.Method, in, out any) error
	Close(code int, reason string) error
}

// HostConn identifies an initialized Host socket. Fields are fixed at registration.
type HostConn struct {
	ID                        string
	APIKeyID                  string
	OrganizationID            string
	OrganizationEnvironmentID string
	UsageEnvironment          cnst.UsageEnvironment
	SDKName                   string
	SDKVersion                string
	RequestID                 string
	IsGhost                   bool
	ConnectedAt               time.Time
	Peer                      Peer
}

// ClientConn identifies an initialized Client socket
type ClientConn struct {
	ID                        string
	UserID                    string
	OrganizationID            string
	OrganizationEnvironmentID string
	IsGhost                   bool
	ConnectedAt               time.Time
	Peer                      Peer
}

// PagePair binds one live page to the Client that opened it and the Host rendering it
type PagePair struct {
	ClientID string
	HostID   string
	Slug     string
}

// PendingIOCall is the last render a Host pushed for a Transaction
type PendingIOCall struct {
	ID            string
	InputGroupKey string
	DisplayOnly   bool
	Raw           string
}

// Store owns every process-local directory and per-Transaction cache.
// Lookups never block; only WaitForHostByRequestID waits.
type Store interface {
	AddHost(host *HostConn)
	RemoveHost(id string) (*HostConn, bool)
	Host(id string) (*HostConn, bool)
	HostsByAPIKey(apiKeyID string) []*HostConn
	MarkHostShuttingDown(id string) bool
	IsHostShuttingDown(id string) bool
	// WaitForHostByRequestID returns once a Host tagged with requestID is added
	WaitForHostByRequestID(ctx context.Context, requestID string) (*HostConn, error)

	AddClient(client *ClientConn)
	RemoveClient(id string) (*ClientConn, bool)
	Client(id string) (*ClientConn, bool)
	ClientsByUser(userID string) []*ClientConn

	OpenPage(pageKey string, pair PagePair)
	Page(pageKey string) (PagePair, bool)
	ClosePage(pageKey string) (PagePair, bool)
	PagesByHost(hostID string) []string
	PagesByClient(clientID string) []string

	SetPendingIOCall(transactionID string, call PendingIOCall)
	PendingIOCall(transactionID string) (PendingIOCall, bool)
	ClearPendingIOCall(transactionID string)
	SetLoadingState(transactionID string, state protocol.SendLoadingCallRequest)
	LoadingState(transactionID string) (protocol.SendLoadingCallRequest, bool)
	SetRedirect(transactionID string, redirect protocol.SendRedirectRequest)
	Redirect(transactionID string) (protocol.SendRedirectRequest, bool)
	// ClearTransaction drops all three caches of a Transaction
	ClearTransaction(transactionID string)

	// ClaimConnection binds id to owner. It reports false while the id is
	// held by a different owner.
	ClaimConnection(id, owner string) bool

	Block(id string)
	Unblock(id string)
	IsBlocked(id string) bool
	// Evict closes the socket behind id and optionally blocklists it
	Evict(id string, code int, reason string, block bool) bool

	Snapshot() Snapshot
}

// Snapshot is a read-only copy of the directories
type Snapshot struct {
	Hosts              []HostInfo   `json:"hosts"`
	Clients            []ClientInfo `json:"clients"`
	Pages              []PageInfo   `json:"pages"`
	Blocked            []string     `json:"blocked"`
	PendingIOCalls     []string     `json:"pendingIoCalls"`
	CachedTransactions []string     `json:"cachedTransactions"`
}

type HostInfo struct {
	ID               string    `json:"id"`
	APIKeyID         string    `json:"apiKeyId"`
	OrganizationID   string    `json:"organizationId"`
	UsageEnvironment string    `json:"usageEnvironment"`
	SDKName          string    `json:"sdkName"`
	SDKVersion       string    `json:"sdkVersion"`
	ShuttingDown     bool      `json:"shuttingDown"`
	PageKeys         []string  `json:"pageKeys"`
	ConnectedAt      time.Time `json:"connectedAt"`
}

type ClientInfo struct {
	ID             string    `json:"id"`
	UserID         string    `json:"userId"`
	OrganizationID string    `json:"organizationId"`
	PageKeys       []string  `json:"pageKeys"`
	ConnectedAt    time.Time `json:"connectedAt"`
}

type PageInfo struct {
	PageKey  string `json:"pageKey"`
	ClientID string `json:"clientId"`
	HostID   string `json:"hostId"`
	Slug     string `json:"slug"`
}
