package pages

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/amoylab/hostlink/internal/common/cnst"
	"github.com/amoylab/hostlink/internal/common/config"
	"github.com/amoylab/hostlink/internal/common/errorx"
	"github.com/amoylab/hostlink/internal/orchestrator"
	"github.com/amoylab/hostlink/internal/protocol"
	"github.com/amoylab/hostlink/internal/registry"
	"github.com/amoylab/hostlink/internal/storage"
	"github.com/amoylab/hostlink/internal/supervisor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakePeer struct {
	mu      sync.Mutex
	methods []cnst.Method
	bodies  []json.RawMessage
	err     error
}

func (p *fakePeer) Call(_ context.Context, method cnst.Method, in, _ any) error {
	body, _ := json.Marshal(in)
	p.mu.Lock()
	defer p.mu.Unlock()
	p.methods = append(p.methods, method)
	p.bodies = append(p.bodies, body)
	return p.err
}

func (p *fakePeer) Close(int, string) error { return nil }

func (p *fakePeer) calls() []cnst.Method {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]cnst.Method(nil), p.methods...)
}

type fixture struct {
	router     *Router
	reg        *registry.MemoryStore
	sup        *supervisor.Supervisor
	hostPeer   *fakePeer
	clientPeer *fakePeer
	host       orchestrator.Caller
	client     orchestrator.Caller
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	logger := zap.NewNop()

	store, err := storage.NewDBStore(logger, &config.DatabaseConfig{Type: "sqlite", DBName: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	user := &storage.User{Email: "viewer@example.com"}
	require.NoError(t, store.CreateUser(ctx, user))
	org := &storage.Organization{Name: "Acme", Slug: "acme", OwnerID: user.ID}
	env := &storage.OrganizationEnvironment{Name: "Production", Slug: "production"}
	require.NoError(t, store.CreateOrganization(ctx, org, env))

	group, err := store.FindOrCreateActionGroup(ctx, &storage.ActionGroup{
		OrganizationID: org.ID, OrganizationEnvironmentID: env.ID, Slug: "users", HasHandler: true,
	})
	require.NoError(t, err)
	_, err = store.FindOrCreateActionGroup(ctx, &storage.ActionGroup{
		OrganizationID: org.ID, OrganizationEnvironmentID: env.ID, Slug: "folder",
	})
	require.NoError(t, err)
	require.NoError(t, store.SaveHostInstance(ctx, &storage.HostInstance{
		Base: storage.Base{ID: "host-1"}, OrganizationID: org.ID,
		UsageEnvironment: cnst.EnvironmentDevelopment, Status: cnst.HostOnline,
	}))
	require.NoError(t, store.ReplaceHostLinks(ctx, "host-1", nil, []string{group.ID}))

	reg := registry.NewMemoryStore(logger)
	hostPeer, clientPeer := &fakePeer{}, &fakePeer{}
	reg.AddHost(&registry.HostConn{ID: "host-1", OrganizationID: org.ID, UsageEnvironment: cnst.EnvironmentDevelopment, Peer: hostPeer})
	reg.AddClient(&registry.ClientConn{ID: "client-1", UserID: user.ID, OrganizationID: org.ID, Peer: clientPeer})

	sup := supervisor.New(logger)
	t.Cleanup(sup.Stop)
	cfg := config.TransactionsConfig{HostResolveTimeout: time.Second, PollInterval: 10 * time.Millisecond}
	orch := orchestrator.New(logger, orchestrator.Deps{
		Store:      store,
		Registry:   reg,
		Resolver:   orchestrator.NewResolver(logger, store, reg, cfg),
		Supervisor: sup,
	}, cfg, "https://app.example.com")

	return &fixture{
		router:     NewRouter(logger, store, reg, orch, sup),
		reg:        reg,
		sup:        sup,
		hostPeer:   hostPeer,
		clientPeer: clientPeer,
		host:       orchestrator.Caller{ConnID: "host-1", OrganizationID: org.ID},
		client: orchestrator.Caller{ConnID: "client-1", UserID: user.ID,
			OrganizationID: org.ID, OrganizationEnvironmentID: env.ID},
	}
}

func (f *fixture) open(t *testing.T, key string) {
	t.Helper()
	resp, err := f.router.RequestPage(context.Background(), f.client, protocol.RequestPageRequest{PageKey: key, ActionGroupSlug: "users"})
	require.NoError(t, err)
	require.Equal(t, protocol.PageSuccess, resp.Type)
}

func TestRequestPage(t *testing.T) {
	f := newFixture(t)
	f.open(t, "page-1")

	pair, ok := f.reg.Page("page-1")
	require.True(t, ok)
	assert.Equal(t, registry.PagePair{ClientID: "client-1", HostID: "host-1", Slug: "users"}, pair)

	require.Equal(t, []cnst.Method{cnst.MethodOpenPage}, f.hostPeer.calls())
	var open protocol.OpenPageRequest
	require.NoError(t, json.Unmarshal(f.hostPeer.bodies[0], &open))
	assert.Equal(t, "https://app.example.com/dashboard/acme/develop/pages/users", open.Page.URL)
	assert.Equal(t, "viewer@example.com", open.User.Email)
	assert.Equal(t, "client-1", open.ClientID)
}

func TestRequestPage_Errors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	resp, err := f.router.RequestPage(ctx, f.client, protocol.RequestPageRequest{PageKey: "p", ActionGroupSlug: "folder"})
	require.NoError(t, err)
	assert.Equal(t, protocol.PageError, resp.Type)

	_, err = f.router.RequestPage(ctx, f.client, protocol.RequestPageRequest{PageKey: "p", ActionGroupSlug: "missing"})
	assert.ErrorIs(t, err, errorx.ErrNotFound)

	f.open(t, "taken")
	other := f.client
	other.ConnID = "client-2"
	_, err = f.router.RequestPage(ctx, other, protocol.RequestPageRequest{PageKey: "taken", ActionGroupSlug: "users"})
	assert.ErrorIs(t, err, errorx.ErrConflict)
}

func TestRequestPage_HostFailureTearsDown(t *testing.T) {
	f := newFixture(t)
	f.hostPeer.err = errors.New("write: broken pipe")

	_, err := f.router.RequestPage(context.Background(), f.client, protocol.RequestPageRequest{PageKey: "page-1", ActionGroupSlug: "users"})
	assert.Error(t, err)
	_, ok := f.reg.Page("page-1")
	assert.False(t, ok)
}

func TestSendPage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.open(t, "page-1")

	require.NoError(t, f.router.SendPage(ctx, f.host, protocol.SendPageRequest{PageKey: "page-1", Page: `{"title":"Users"}`}))
	assert.Equal(t, []cnst.Method{cnst.MethodRenderPage}, f.clientPeer.calls())

	err := f.router.SendPage(ctx, orchestrator.Caller{ConnID: "host-9"}, protocol.SendPageRequest{PageKey: "page-1"})
	assert.ErrorIs(t, err, errorx.ErrForbidden)
	err = f.router.SendPage(ctx, f.host, protocol.SendPageRequest{PageKey: "nope"})
	assert.ErrorIs(t, err, errorx.ErrNotFound)
}

func TestSendPage_ClientGoneClosesPage(t *testing.T) {
	f := newFixture(t)
	f.open(t, "page-1")
	f.reg.RemoveClient("client-1")

	require.NoError(t, f.router.SendPage(context.Background(), f.host, protocol.SendPageRequest{PageKey: "page-1"}))
	f.sup.Wait()
	_, ok := f.reg.Page("page-1")
	assert.False(t, ok)
	assert.Equal(t, []cnst.Method{cnst.MethodOpenPage, cnst.MethodClosePage}, f.hostPeer.calls())
}

func TestLeavePage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.open(t, "page-1")

	other := f.client
	other.ConnID = "client-2"
	assert.ErrorIs(t, f.router.LeavePage(ctx, other, protocol.LeavePageRequest{PageKey: "page-1"}), errorx.ErrForbidden)

	require.NoError(t, f.router.LeavePage(ctx, f.client, protocol.LeavePageRequest{PageKey: "page-1"}))
	_, ok := f.reg.Page("page-1")
	assert.False(t, ok)
	assert.Equal(t, []cnst.Method{cnst.MethodOpenPage, cnst.MethodClosePage}, f.hostPeer.calls())

	require.NoError(t, f.router.LeavePage(ctx, f.client, protocol.LeavePageRequest{PageKey: "page-1"}))
}

func TestDisconnects(t *testing.T) {
	f := newFixture(t)
	f.open(t, "page-1")
	f.open(t, "page-2")

	f.router.HandleHostDisconnect("host-1")
	f.sup.Wait()
	assert.Empty(t, f.reg.PagesByClient("client-1"))
	assert.Equal(t, []cnst.Method{cnst.MethodClosePage, cnst.MethodClosePage}, f.clientPeer.calls())

	f.open(t, "page-3")
	f.router.HandleClientDisconnect("client-1")
	f.sup.Wait()
	assert.Empty(t, f.reg.PagesByHost("host-1"))
	calls := f.hostPeer.calls()
	assert.Equal(t, cnst.MethodClosePage, calls[len(calls)-1])
}
