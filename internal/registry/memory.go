package registry

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/amoylab/hostlink/internal/protocol"
	"github.com/ifuryst/lol"
	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"
)

// claimTTL outlives the dropped-transaction grace period so a peer coming
// back to resume still finds its claim
const claimTTL = 24 * time.Hour

type hostEntry struct {
	conn         *HostConn
	shuttingDown bool
}

type set map[string]struct{}

func (s set) keys() []string {
	out := make([]string, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// MemoryStore implements Store with mutex-guarded maps
type MemoryStore struct {
	logger *zap.Logger
	mu     sync.RWMutex

	hosts         map[string]*hostEntry
	clients       map[string]*ClientConn
	hostsByAPIKey map[string]set
	clientsByUser map[string]set
	pages         map[string]PagePair
	pagesByHost   map[string]set
	pagesByClient map[string]set
	blocked       set
	waiters       map[string][]chan *HostConn
	claims        *cache.Cache

	ioCalls   map[string]PendingIOCall
	loading   map[string]protocol.SendLoadingCallRequest
	redirects map[string]protocol.SendRedirectRequest
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore(logger *zap.Logger) *MemoryStore {
	return &MemoryStore{
		logger:        logger.Named("registry.memory"),
		hosts:         make(map[string]*hostEntry),
		clients:       make(map[string]*ClientConn),
		hostsByAPIKey: make(map[string]set),
		clientsByUser: make(map[string]set),
		pages:         make(map[string]PagePair),
		pagesByHost:   make(map[string]set),
		pagesByClient: make(map[string]set),
		blocked:       make(set),
		waiters:       make(map[string][]chan *HostConn),
		claims:        cache.New(claimTTL, time.Hour),
		ioCalls:       make(map[string]PendingIOCall),
		loading:       make(map[string]protocol.SendLoadingCallRequest),
		redirects:     make(map[string]protocol.SendRedirectRequest),
	}
}

func index(m map[string]set, key, id string) {
	if key == "" {
		return
	}
	s, ok := m[key]
	if !ok {
		s = make(set)
		m[key] = s
	}
	s[id] = struct{}{}
}

func unindex(m map[string]set, key, id string) {
	if s, ok := m[key]; ok {
		delete(s, id)
		if len(s) == 0 {
			delete(m, key)
		}
	}
}

func (s *MemoryStore) AddHost(host *HostConn) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, ok := s.hosts[host.ID]; ok {
		unindex(s.hostsByAPIKey, prev.conn.APIKeyID, host.ID)
	}
	s.hosts[host.ID] = &hostEntry{conn: host}
	index(s.hostsByAPIKey, host.APIKeyID, host.ID)

	if host.RequestID == "" {
		return
	}
	for _, w := range s.waiters[host.RequestID] {
		w <- host
	}
	delete(s.waiters, host.RequestID)
}

func (s *MemoryStore) RemoveHost(id string) (*HostConn, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.hosts[id]
	if !ok {
		return nil, false
	}
	delete(s.hosts, id)
	unindex(s.hostsByAPIKey, e.conn.APIKeyID, id)
	return e.conn, true
}

func (s *MemoryStore) Host(id string) (*HostConn, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.hosts[id]
	if !ok {
		return nil, false
	}
	return e.conn, true
}

func (s *MemoryStore) HostsByAPIKey(apiKeyID string) []*HostConn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*HostConn
	for _, id := range s.hostsByAPIKey[apiKeyID].keys() {
		out = append(out, s.hosts[id].conn)
	}
	return out
}

func (s *MemoryStore) MarkHostShuttingDown(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.hosts[id]
	if ok {
		e.shuttingDown = true
	}
	return ok
}

func (s *MemoryStore) IsHostShuttingDown(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.hosts[id]
	return ok && e.shuttingDown
}

func (s *MemoryStore) WaitForHostByRequestID(ctx context.Context, requestID string) (*HostConn, error) {
	s.mu.Lock()
	for _, e := range s.hosts {
		if e.conn.RequestID == requestID {
			s.mu.Unlock()
			return e.conn, nil
		}
	}
	w := make(chan *HostConn, 1)
	s.waiters[requestID] = append(s.waiters[requestID], w)
	s.mu.Unlock()

	select {
	case host := <-w:
		return host, nil
	case <-ctx.Done():
		s.dropWaiter(requestID, w)
		return nil, ctx.Err()
	}
}

func (s *MemoryStore) dropWaiter(requestID string, w chan *HostConn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.waiters[requestID]
	for i, c := range list {
		if c == w {
			list = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(list) == 0 {
		delete(s.waiters, requestID)
	} else {
		s.waiters[requestID] = list
	}
}

func (s *MemoryStore) AddClient(client *ClientConn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.clients[client.ID]; ok {
		unindex(s.clientsByUser, prev.UserID, client.ID)
	}
	s.clients[client.ID] = client
	index(s.clientsByUser, client.UserID, client.ID)
}

func (s *MemoryStore) RemoveClient(id string) (*ClientConn, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.clients[id]
	if !ok {
		return nil, false
	}
	delete(s.clients, id)
	unindex(s.clientsByUser, c.UserID, id)
	return c, true
}

func (s *MemoryStore) Client(id string) (*ClientConn, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.clients[id]
	return c, ok
}

func (s *MemoryStore) ClientsByUser(userID string) []*ClientConn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*ClientConn
	for _, id := range s.clientsByUser[userID].keys() {
		out = append(out, s.clients[id])
	}
	return out
}

func (s *MemoryStore) OpenPage(pageKey string, pair PagePair) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.pages[pageKey]; ok {
		unindex(s.pagesByHost, prev.HostID, pageKey)
		unindex(s.pagesByClient, prev.ClientID, pageKey)
	}
	s.pages[pageKey] = pair
	index(s.pagesByHost, pair.HostID, pageKey)
	index(s.pagesByClient, pair.ClientID, pageKey)
}

func (s *MemoryStore) Page(pageKey string) (PagePair, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.pages[pageKey]
	return p, ok
}

func (s *MemoryStore) ClosePage(pageKey string) (PagePair, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pages[pageKey]
	if !ok {
		return PagePair{}, false
	}
	delete(s.pages, pageKey)
	unindex(s.pagesByHost, p.HostID, pageKey)
	unindex(s.pagesByClient, p.ClientID, pageKey)
	return p, true
}

func (s *MemoryStore) PagesByHost(hostID string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pagesByHost[hostID].keys()
}

func (s *MemoryStore) PagesByClient(clientID string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pagesByClient[clientID].keys()
}

func (s *MemoryStore) SetPendingIOCall(transactionID string, call PendingIOCall) {
	s.mu.Lock()
	s.ioCalls[transactionID] = call
	s.mu.Unlock()
}

func (s *MemoryStore) PendingIOCall(transactionID string) (PendingIOCall, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.ioCalls[transactionID]
	return c, ok
}

func (s *MemoryStore) ClearPendingIOCall(transactionID string) {
	s.mu.Lock()
	delete(s.ioCalls, transactionID)
	s.mu.Unlock()
}

func (s *MemoryStore) SetLoadingState(transactionID string, state protocol.SendLoadingCallRequest) {
	s.mu.Lock()
	s.loading[transactionID] = state
	s.mu.Unlock()
}

func (s *MemoryStore) LoadingState(transactionID string) (protocol.SendLoadingCallRequest, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.loading[transactionID]
	return l, ok
}

func (s *MemoryStore) SetRedirect(transactionID string, redirect protocol.SendRedirectRequest) {
	s.mu.Lock()
	s.redirects[transactionID] = redirect
	s.mu.Unlock()
}

func (s *MemoryStore) Redirect(transactionID string) (protocol.SendRedirectRequest, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.redirects[transactionID]
	return r, ok
}

func (s *MemoryStore) ClearTransaction(transactionID string) {
	s.mu.Lock()
	delete(s.ioCalls, transactionID)
	delete(s.loading, transactionID)
	delete(s.redirects, transactionID)
	s.mu.Unlock()
}

func (s *MemoryStore) ClaimConnection(id, owner string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if held, ok := s.claims.Get(id); ok && held.(string) != owner {
		s.logger.Warn("connection id claimed by another owner", zap.String("id", id))
		return false
	}
	s.claims.Set(id, owner, cache.DefaultExpiration)
	return true
}

func (s *MemoryStore) Block(id string) {
	s.mu.Lock()
	s.blocked[id] = struct{}{}
	s.mu.Unlock()
}

func (s *MemoryStore) Unblock(id string) {
	s.mu.Lock()
	delete(s.blocked, id)
	s.mu.Unlock()
}

func (s *MemoryStore) IsBlocked(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.blocked[id]
	return ok
}

func (s *MemoryStore) Evict(id string, code int, reason string, block bool) bool {
	s.mu.Lock()
	if block {
		s.blocked[id] = struct{}{}
	}
	var peer Peer
	if e, ok := s.hosts[id]; ok {
		peer = e.conn.Peer
	} else if c, ok := s.clients[id]; ok {
		peer = c.Peer
	}
	s.mu.Unlock()

	if peer == nil {
		return false
	}
	if err := peer.Close(code, reason); err != nil {
		s.logger.Warn("failed to close evicted socket", zap.String("id", id), zap.Error(err))
	}
	s.logger.Info("evicted connection", zap.String("id", id), zap.Bool("blocked", block), zap.String("reason", reason))
	return true
}

func (s *MemoryStore) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{
		Hosts:          []HostInfo{},
		Clients:        []ClientInfo{},
		Pages:          []PageInfo{},
		Blocked:        s.blocked.keys(),
		PendingIOCalls: []string{},
	}
	for id, e := range s.hosts {
		snap.Hosts = append(snap.Hosts, HostInfo{
			ID:               id,
			APIKeyID:         e.conn.APIKeyID,
			OrganizationID:   e.conn.OrganizationID,
			UsageEnvironment: string(e.conn.UsageEnvironment),
			SDKName:          e.conn.SDKName,
			SDKVersion:       e.conn.SDKVersion,
			ShuttingDown:     e.shuttingDown,
			PageKeys:         s.pagesByHost[id].keys(),
			ConnectedAt:      e.conn.ConnectedAt,
		})
	}
	for id, c := range s.clients {
		snap.Clients = append(snap.Clients, ClientInfo{
			ID:             id,
			UserID:         c.UserID,
			OrganizationID: c.OrganizationID,
			PageKeys:       s.pagesByClient[id].keys(),
			ConnectedAt:    c.ConnectedAt,
		})
	}
	for key, p := range s.pages {
		snap.Pages = append(snap.Pages, PageInfo{PageKey: key, ClientID: p.ClientID, HostID: p.HostID, Slug: p.Slug})
	}
	cached := make([]string, 0, len(s.ioCalls)+len(s.loading)+len(s.redirects))
	for id := range s.ioCalls {
		snap.PendingIOCalls = append(snap.PendingIOCalls, id)
		cached = append(cached, id)
	}
	for id := range s.loading {
		cached = append(cached, id)
	}
	for id := range s.redirects {
		cached = append(cached, id)
	}
	snap.CachedTransactions = lol.UniqSlice(cached)

	sort.Slice(snap.Hosts, func(i, j int) bool { return snap.Hosts[i].ID < snap.Hosts[j].ID })
	sort.Slice(snap.Clients, func(i, j int) bool { return snap.Clients[i].ID < snap.Clients[j].ID })
	sort.Slice(snap.Pages, func(i, j int) bool { return snap.Pages[i].PageKey < snap.Pages[j].PageKey })
	sort.Strings(snap.PendingIOCalls)
	sort.Strings(snap.CachedTransactions)
	return snap
}
