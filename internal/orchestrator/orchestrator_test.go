package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/amoylab/hostlink/internal/common/cnst"
	"github.com/amoylab/hostlink/internal/common/config"
	"github.com/amoylab/hostlink/internal/common/errorx"
	"github.com/amoylab/hostlink/internal/notify"
	"github.com/amoylab/hostlink/internal/protocol"
	"github.com/amoylab/hostlink/internal/registry"
	"github.com/amoylab/hostlink/internal/storage"
	"github.com/amoylab/hostlink/internal/supervisor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recordedCall struct {
	Method cnst.Method
	Body   json.RawMessage
}

// recordingPeer stands in for a socket and remembers every call made on it
type recordingPeer struct {
	mu    sync.Mutex
	calls []recordedCall
	err   error
}

func (p *recordingPeer) Call(_ context.Context, method cnst.Method, in, _ any) error {
	body, _ := json.Marshal(in)
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, recordedCall{Method: method, Body: body})
	return p.err
}

func (p *recordingPeer) Close(int, string) error { return nil }

func (p *recordingPeer) methods() []cnst.Method {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]cnst.Method, 0, len(p.calls))
	for _, c := range p.calls {
		out = append(out, c.Method)
	}
	return out
}

func (p *recordingPeer) last(method cnst.Method) (json.RawMessage, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := len(p.calls) - 1; i >= 0; i-- {
		if p.calls[i].Method == method {
			return p.calls[i].Body, true
		}
	}
	return nil, false
}

type recordingNotifier struct {
	mu   sync.Mutex
	msgs []*notify.Message
}

func (n *recordingNotifier) Notify(_ context.Context, msg *notify.Message) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.msgs = append(n.msgs, msg)
	return nil
}

func (n *recordingNotifier) messages() []*notify.Message {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]*notify.Message(nil), n.msgs...)
}

const hostID = "host-1"

type fixture struct {
	o        *Orchestrator
	store    *storage.DBStore
	reg      *registry.MemoryStore
	sup      *supervisor.Supervisor
	notifier *recordingNotifier
	org      *storage.Organization
	user     *storage.User
	action   *storage.Action
	hostPeer *recordingPeer
	host     Caller
}

func newFixture(t *testing.T, backgroundable bool, env cnst.UsageEnvironment) *fixture {
	t.Helper()
	ctx := context.Background()
	logger := zap.NewNop()

	store, err := storage.NewDBStore(logger, &config.DatabaseConfig{Type: "sqlite", DBName: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	user := &storage.User{Email: "owner@example.com", FirstName: "Olive"}
	require.NoError(t, store.CreateUser(ctx, user))
	org := &storage.Organization{Name: "Acme", Slug: "acme", OwnerID: user.ID}
	orgEnv := &storage.OrganizationEnvironment{Name: "Production", Slug: "production"}
	require.NoError(t, store.CreateOrganization(ctx, org, orgEnv))

	action, err := store.FindOrCreateAction(ctx, &storage.Action{
		OrganizationID:            org.ID,
		OrganizationEnvironmentID: orgEnv.ID,
		Slug:                      "refund",
		Name:                      "Refund",
		Backgroundable:            backgroundable,
	})
	require.NoError(t, err)

	require.NoError(t, store.SaveHostInstance(ctx, &storage.HostInstance{
		Base:             storage.Base{ID: hostID},
		OrganizationID:   org.ID,
		UsageEnvironment: env,
		Status:           cnst.HostOnline,
	}))
	require.NoError(t, store.ReplaceHostLinks(ctx, hostID, []string{action.ID}, nil))

	reg := registry.NewMemoryStore(logger)
	hostPeer := &recordingPeer{}
	reg.AddHost(&registry.HostConn{ID: hostID, OrganizationID: org.ID, UsageEnvironment: env, Peer: hostPeer})

	sup := supervisor.New(logger)
	t.Cleanup(sup.Stop)
	renderer, err := notify.NewRenderer(nil)
	require.NoError(t, err)
	n := &recordingNotifier{}

	cfg := config.TransactionsConfig{
		DroppedGracePeriod: time.Minute,
		SweepInterval:      time.Minute,
		HostResolveTimeout: time.Second,
		PollInterval:       10 * time.Millisecond,
	}
	o := New(logger, Deps{
		Store:      store,
		Registry:   reg,
		Resolver:   NewResolver(logger, store, reg, cfg),
		Supervisor: sup,
		Notifier:   n,
		Renderer:   renderer,
	}, cfg, "https://app.example.com/")

	return &fixture{
		o: o, store: store, reg: reg, sup: sup, notifier: n,
		org: org, user: user, action: action, hostPeer: hostPeer,
		host: Caller{ConnID: hostID, OrganizationID: org.ID},
	}
}

func (f *fixture) addClient(id string) (*recordingPeer, Caller) {
	peer := &recordingPeer{}
	f.reg.AddClient(&registry.ClientConn{ID: id, UserID: f.user.ID, OrganizationID: f.org.ID, Peer: peer})
	return peer, Caller{ConnID: id, UserID: f.user.ID, OrganizationID: f.org.ID}
}

func (f *fixture) create(t *testing.T) *storage.Transaction {
	t.Helper()
	tx, err := f.o.CreateTransaction(context.Background(), CreateInput{ActionID: f.action.ID, OwnerID: f.user.ID})
	require.NoError(t, err)
	return tx
}

func (f *fixture) reload(t *testing.T, id string) *storage.Transaction {
	t.Helper()
	tx, err := f.store.Transaction(context.Background(), id)
	require.NoError(t, err)
	return tx
}

// running creates a Transaction with an attached client and waits for START_TRANSACTION
func (f *fixture) running(t *testing.T, clientID string) (*storage.Transaction, *recordingPeer, Caller) {
	t.Helper()
	tx := f.create(t)
	peer, client := f.addClient(clientID)
	_, err := f.o.ConnectClient(context.Background(), client, protocol.ConnectToTransactionRequest{TransactionID: tx.ID})
	require.NoError(t, err)
	f.sup.Wait()
	return f.reload(t, tx.ID), peer, client
}

const (
	inputCall   = `{"id":"call-1","inputGroupKey":"group-1","toRender":[{"methodName":"INPUT_TEXT"}]}`
	displayCall = `{"id":"call-d","toRender":[{"methodName":"DISPLAY_HEADING"}]}`
)

func TestCreateTransaction_BindsOnlineHost(t *testing.T) {
	f := newFixture(t, false, cnst.EnvironmentProduction)
	tx := f.create(t)

	got := f.reload(t, tx.ID)
	assert.Equal(t, cnst.TransactionPending, got.Status)
	assert.Equal(t, hostID, got.HostInstanceID)
	assert.Equal(t, f.user.ID, got.OwnerID)
}

func TestCreateTransaction_NoHost(t *testing.T) {
	f := newFixture(t, false, cnst.EnvironmentProduction)
	f.reg.RemoveHost(hostID)

	_, err := f.o.CreateTransaction(context.Background(), CreateInput{ActionID: f.action.ID})
	assert.ErrorIs(t, err, errorx.ErrNotFound)
}

func TestConnectClient_StartsPendingTransaction(t *testing.T) {
	f := newFixture(t, false, cnst.EnvironmentProduction)
	tx := f.create(t)
	_, client := f.addClient("client-1")

	resp, err := f.o.ConnectClient(context.Background(), client, protocol.ConnectToTransactionRequest{
		TransactionID: tx.ID,
		Params:        json.RawMessage(`"{\"amount\":10}"`),
	})
	require.NoError(t, err)
	assert.Equal(t, string(cnst.TransactionRunning), resp.Status)
	f.sup.Wait()

	body, ok := f.hostPeer.last(cnst.MethodStartTransaction)
	require.True(t, ok)
	var start protocol.StartTransactionRequest
	require.NoError(t, json.Unmarshal(body, &start))
	assert.Equal(t, tx.ID, start.TransactionID)
	assert.Equal(t, "https://app.example.com/dashboard/acme/actions/refund", start.Action.URL)
	assert.Equal(t, string(cnst.EnvironmentProduction), start.Environment)
	assert.Equal(t, "owner@example.com", start.User.Email)
	assert.JSONEq(t, `{"amount":10}`, string(start.Params))
	assert.Equal(t, "client-1", f.reload(t, tx.ID).CurrentClientID)
}

func TestConnectClient_OtherOrganizationForbidden(t *testing.T) {
	f := newFixture(t, false, cnst.EnvironmentProduction)
	tx := f.create(t)

	_, err := f.o.ConnectClient(context.Background(), Caller{ConnID: "c", OrganizationID: "other"},
		protocol.ConnectToTransactionRequest{TransactionID: tx.ID})
	assert.ErrorIs(t, err, errorx.ErrForbidden)
}

func TestTransactionRoundTrip(t *testing.T) {
	f := newFixture(t, false, cnst.EnvironmentProduction)
	ctx := context.Background()
	tx, clientPeer, client := f.running(t, "client-1")
	assert.Equal(t, cnst.TransactionRunning, tx.Status)

	require.NoError(t, f.o.SendIOCall(ctx, f.host, protocol.SendIOCallRequest{TransactionID: tx.ID, IOCall: inputCall}))
	assert.Equal(t, cnst.TransactionAwaitingInput, f.reload(t, tx.ID).Status)
	body, ok := clientPeer.last(cnst.MethodRender)
	require.True(t, ok)
	assert.Contains(t, string(body), "call-1")

	resp := `{"id":"call-1","transactionId":"` + tx.ID + `","kind":"RETURN","values":["ok"]}`
	require.NoError(t, f.o.RespondToIOCall(ctx, client, protocol.RespondToIOCallRequest{TransactionID: tx.ID, IOResponse: resp}))
	assert.Equal(t, cnst.TransactionRunning, f.reload(t, tx.ID).Status)
	_, ok = f.hostPeer.last(cnst.MethodIOResponse)
	assert.True(t, ok)
	_, ok = f.reg.PendingIOCall(tx.ID)
	assert.False(t, ok)

	require.NoError(t, f.o.SendLog(ctx, f.host, protocol.SendLogRequest{TransactionID: tx.ID, Data: "step 1", Index: 0}))
	logs, err := f.store.TransactionLogs(ctx, tx.ID)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "step 1", logs[0].Data)

	require.NoError(t, f.o.MarkComplete(ctx, f.host, protocol.MarkTransactionCompleteRequest{
		TransactionID: tx.ID,
		Result:        `{"status":"SUCCESS","data":{"refunded":true}}`,
	}))
	done := f.reload(t, tx.ID)
	assert.Equal(t, cnst.TransactionCompleted, done.Status)
	assert.Equal(t, cnst.ResultSuccess, done.ResultStatus)
	assert.NotNil(t, done.CompletedAt)

	assert.Equal(t, []cnst.Method{
		cnst.MethodRender, cnst.MethodLog, cnst.MethodTransactionCompleted,
	}, clientPeer.methods())
	assert.Empty(t, f.notifier.messages())
}

func TestSendIOCall_DisplayOnlyKeepsRunning(t *testing.T) {
	f := newFixture(t, false, cnst.EnvironmentProduction)
	tx, _, _ := f.running(t, "client-1")

	require.NoError(t, f.o.SendIOCall(context.Background(), f.host, protocol.SendIOCallRequest{TransactionID: tx.ID, IOCall: displayCall}))
	assert.Equal(t, cnst.TransactionRunning, f.reload(t, tx.ID).Status)
	call, ok := f.reg.PendingIOCall(tx.ID)
	require.True(t, ok)
	assert.True(t, call.DisplayOnly)
}

func TestHostOperations_Authorization(t *testing.T) {
	f := newFixture(t, false, cnst.EnvironmentProduction)
	ctx := context.Background()
	tx, _, _ := f.running(t, "client-1")

	other := Caller{ConnID: "host-2", OrganizationID: f.org.ID}
	err := f.o.SendIOCall(ctx, other, protocol.SendIOCallRequest{TransactionID: tx.ID, IOCall: inputCall})
	assert.ErrorIs(t, err, errorx.ErrForbidden)

	err = f.o.SendIOCall(ctx, f.host, protocol.SendIOCallRequest{TransactionID: tx.ID, IOCall: `not json`})
	assert.ErrorIs(t, err, errorx.ErrInvalidInput)

	require.NoError(t, f.o.MarkComplete(ctx, f.host, protocol.MarkTransactionCompleteRequest{TransactionID: tx.ID}))
	err = f.o.SendLoadingCall(ctx, f.host, protocol.SendLoadingCallRequest{TransactionID: tx.ID, Label: "late"})
	assert.ErrorIs(t, err, errorx.ErrConflict)
}

func TestConnectClient_Usurp(t *testing.T) {
	f := newFixture(t, false, cnst.EnvironmentProduction)
	ctx := context.Background()
	tx, firstPeer, _ := f.running(t, "client-1")
	require.NoError(t, f.o.SendIOCall(ctx, f.host, protocol.SendIOCallRequest{TransactionID: tx.ID, IOCall: inputCall}))
	require.NoError(t, f.o.SendLoadingCall(ctx, f.host, protocol.SendLoadingCallRequest{TransactionID: tx.ID, Label: "working"}))

	secondPeer, second := f.addClient("client-2")
	_, err := f.o.ConnectClient(ctx, second, protocol.ConnectToTransactionRequest{TransactionID: tx.ID})
	require.NoError(t, err)
	f.sup.Wait()

	_, ok := firstPeer.last(cnst.MethodClientUsurped)
	assert.True(t, ok)
	assert.Equal(t, []cnst.Method{cnst.MethodRender, cnst.MethodLoadingState}, secondPeer.methods())
	assert.Equal(t, "client-2", f.reload(t, tx.ID).CurrentClientID)

	err = f.o.RespondToIOCall(ctx, Caller{ConnID: "client-1", OrganizationID: f.org.ID},
		protocol.RespondToIOCallRequest{TransactionID: tx.ID, IOResponse: `{"id":"call-1","values":[1]}`})
	assert.ErrorIs(t, err, errorx.ErrForbidden)
}

func TestClientDisconnect_ResumeAndSweep(t *testing.T) {
	f := newFixture(t, false, cnst.EnvironmentProduction)
	ctx := context.Background()
	tx, clientPeer, client := f.running(t, "client-1")
	require.NoError(t, f.o.SendIOCall(ctx, f.host, protocol.SendIOCallRequest{TransactionID: tx.ID, IOCall: inputCall}))

	require.NoError(t, f.o.HandleClientDisconnect(ctx, client.ConnID))
	assert.Equal(t, cnst.TransactionClientConnectionDropped, f.reload(t, tx.ID).Status)

	resp, err := f.o.ConnectClient(ctx, client, protocol.ConnectToTransactionRequest{TransactionID: tx.ID})
	require.NoError(t, err)
	assert.True(t, resp.Resumed)
	assert.Equal(t, string(cnst.TransactionAwaitingInput), resp.Status)
	f.sup.Wait()
	assert.Equal(t, []cnst.Method{cnst.MethodRender, cnst.MethodRender}, clientPeer.methods())

	require.NoError(t, f.o.HandleClientDisconnect(ctx, client.ConnID))
	f.reg.RemoveClient(client.ConnID)

	n, err := f.o.SweepDroppedTransactions(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	f.o.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	n, err = f.o.SweepDroppedTransactions(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	done := f.reload(t, tx.ID)
	assert.Equal(t, cnst.TransactionCompleted, done.Status)
	assert.Equal(t, cnst.ResultCanceled, done.ResultStatus)
	body, ok := f.hostPeer.last(cnst.MethodIOResponse)
	require.True(t, ok)
	var ioResp protocol.IOResponseRequest
	require.NoError(t, json.Unmarshal(body, &ioResp))
	assert.Contains(t, ioResp.Value, `"id":"call-1"`)
	assert.Contains(t, ioResp.Value, `"kind":"CANCELED"`)
}

func TestResume_OnlyForSameClient(t *testing.T) {
	f := newFixture(t, false, cnst.EnvironmentProduction)
	ctx := context.Background()
	tx, _, client := f.running(t, "client-1")
	require.NoError(t, f.o.HandleClientDisconnect(ctx, client.ConnID))

	_, other := f.addClient("client-2")
	resp, err := f.o.ConnectClient(ctx, other, protocol.ConnectToTransactionRequest{TransactionID: tx.ID})
	require.NoError(t, err)
	assert.False(t, resp.Resumed)
	assert.Equal(t, string(cnst.TransactionClientConnectionDropped), resp.Status)
}

func TestHostDisconnect(t *testing.T) {
	f := newFixture(t, false, cnst.EnvironmentProduction)
	ctx := context.Background()
	tx, clientPeer, _ := f.running(t, "client-1")
	require.NoError(t, f.o.SendIOCall(ctx, f.host, protocol.SendIOCallRequest{TransactionID: tx.ID, IOCall: inputCall}))

	require.NoError(t, f.o.HandleHostDisconnect(ctx, hostID))
	f.sup.Wait()
	assert.Equal(t, cnst.TransactionHostConnectionDropped, f.reload(t, tx.ID).Status)
	_, ok := clientPeer.last(cnst.MethodHostClosedUnexpectedly)
	assert.True(t, ok)
	_, ok = f.reg.PendingIOCall(tx.ID)
	assert.False(t, ok)

	require.NoError(t, f.o.MarkComplete(ctx, f.host, protocol.MarkTransactionCompleteRequest{TransactionID: tx.ID}))
	assert.Equal(t, cnst.TransactionHostConnectionDropped, f.reload(t, tx.ID).Status)
}

func TestLeave(t *testing.T) {
	t.Run("foreground cancels", func(t *testing.T) {
		f := newFixture(t, false, cnst.EnvironmentProduction)
		tx, clientPeer, client := f.running(t, "client-1")

		require.NoError(t, f.o.Leave(context.Background(), client, tx.ID))
		f.sup.Wait()
		done := f.reload(t, tx.ID)
		assert.Equal(t, cnst.TransactionCompleted, done.Status)
		assert.Equal(t, cnst.ResultCanceled, done.ResultStatus)
		_, ok := clientPeer.last(cnst.MethodCloseTransaction)
		assert.True(t, ok)
		body, ok := f.hostPeer.last(cnst.MethodIOResponse)
		require.True(t, ok)
		assert.Contains(t, string(body), cnst.UnknownCallID)
	})

	t.Run("background detaches", func(t *testing.T) {
		f := newFixture(t, true, cnst.EnvironmentProduction)
		tx, _, client := f.running(t, "client-1")

		require.NoError(t, f.o.Leave(context.Background(), client, tx.ID))
		got := f.reload(t, tx.ID)
		assert.Equal(t, cnst.TransactionRunning, got.Status)
		assert.Empty(t, got.CurrentClientID)
	})

	t.Run("stale client is ignored", func(t *testing.T) {
		f := newFixture(t, false, cnst.EnvironmentProduction)
		tx, _, _ := f.running(t, "client-1")

		require.NoError(t, f.o.Leave(context.Background(), Caller{ConnID: "client-9"}, tx.ID))
		assert.Equal(t, cnst.TransactionRunning, f.reload(t, tx.ID).Status)
	})
}

func TestCancel_OnlyOwner(t *testing.T) {
	f := newFixture(t, false, cnst.EnvironmentProduction)
	ctx := context.Background()
	tx, _, _ := f.running(t, "client-1")

	assert.ErrorIs(t, f.o.Cancel(ctx, tx.ID, "someone-else"), errorx.ErrForbidden)
	require.NoError(t, f.o.Cancel(ctx, tx.ID, f.user.ID))
	assert.ErrorIs(t, f.o.Cancel(ctx, tx.ID, f.user.ID), errorx.ErrConflict)
}

func TestBackgroundNotifications(t *testing.T) {
	f := newFixture(t, true, cnst.EnvironmentProduction)
	ctx := context.Background()
	tx, _, client := f.running(t, "client-1")
	require.NoError(t, f.o.HandleClientDisconnect(ctx, client.ConnID))
	assert.Equal(t, cnst.TransactionRunning, f.reload(t, tx.ID).Status)

	require.NoError(t, f.o.SendIOCall(ctx, f.host, protocol.SendIOCallRequest{TransactionID: tx.ID, IOCall: inputCall}))
	require.NoError(t, f.o.SendIOCall(ctx, f.host, protocol.SendIOCallRequest{TransactionID: tx.ID, IOCall: inputCall}))
	f.sup.Wait()
	msgs := f.notifier.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, notify.KindAwaitingInput, msgs[0].Kind)
	assert.Equal(t, f.user.ID, msgs[0].UserID)
	assert.Equal(t, "https://app.example.com/dashboard/acme/transactions/"+tx.ID, msgs[0].URL)

	require.NoError(t, f.o.MarkComplete(ctx, f.host, protocol.MarkTransactionCompleteRequest{TransactionID: tx.ID, ResultStatus: "FAILURE"}))
	f.sup.Wait()
	msgs = f.notifier.messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, notify.KindCompleted, msgs[1].Kind)
}

func TestBackgroundNotifications_DevelopmentHostIsQuiet(t *testing.T) {
	f := newFixture(t, true, cnst.EnvironmentDevelopment)
	ctx := context.Background()
	tx, _, client := f.running(t, "client-1")
	require.NoError(t, f.o.HandleClientDisconnect(ctx, client.ConnID))

	require.NoError(t, f.o.SendIOCall(ctx, f.host, protocol.SendIOCallRequest{TransactionID: tx.ID, IOCall: inputCall}))
	f.sup.Wait()
	assert.Empty(t, f.notifier.messages())
}

func TestScheduledSuccessIsQuiet(t *testing.T) {
	f := newFixture(t, true, cnst.EnvironmentProduction)
	ctx := context.Background()
	sched := &storage.ActionSchedule{ActionID: f.action.ID, RunnerID: f.user.ID, SchedulePeriod: "hour"}
	require.NoError(t, f.store.CreateSchedule(ctx, sched))

	tx, err := f.o.CreateTransaction(ctx, CreateInput{
		ActionID: f.action.ID, OwnerID: f.user.ID, ScheduleID: sched.ID, Status: cnst.TransactionRunning,
	})
	require.NoError(t, err)
	require.NoError(t, f.o.Start(ctx, tx.ID, StartInput{}))

	require.NoError(t, f.o.MarkComplete(ctx, f.host, protocol.MarkTransactionCompleteRequest{TransactionID: tx.ID}))
	f.sup.Wait()
	assert.Empty(t, f.notifier.messages())
}

func TestRedirectKeepsResult(t *testing.T) {
	f := newFixture(t, false, cnst.EnvironmentProduction)
	ctx := context.Background()
	tx, clientPeer, _ := f.running(t, "client-1")

	require.NoError(t, f.o.SendRedirect(ctx, f.host, protocol.SendRedirectRequest{TransactionID: tx.ID, Route: "refund_done"}))
	_, ok := clientPeer.last(cnst.MethodRedirect)
	assert.True(t, ok)

	require.NoError(t, f.o.MarkComplete(ctx, f.host, protocol.MarkTransactionCompleteRequest{TransactionID: tx.ID, Result: `{"status":"SUCCESS"}`}))
	done := f.reload(t, tx.ID)
	assert.Equal(t, cnst.TransactionCompleted, done.Status)
	assert.Equal(t, cnst.ResultRedirected, done.ResultStatus)
}

func TestIdentityConfirmation(t *testing.T) {
	const confirmCall = `{"id":"call-2","toRender":[{"methodName":"CONFIRM_IDENTITY","props":{"gracePeriodMs":0}}]}`

	t.Run("blocks until satisfied", func(t *testing.T) {
		f := newFixture(t, false, cnst.EnvironmentProduction)
		ctx := context.Background()
		tx, _, client := f.running(t, "client-1")
		require.NoError(t, f.o.SendIOCall(ctx, f.host, protocol.SendIOCallRequest{TransactionID: tx.ID, IOCall: confirmCall}))
		require.NoError(t, f.o.SendIOCall(ctx, f.host, protocol.SendIOCallRequest{TransactionID: tx.ID, IOCall: confirmCall}))

		open, err := f.store.OpenRequirements(ctx, tx.ID)
		require.NoError(t, err)
		require.Len(t, open, 1)

		answer := protocol.RespondToIOCallRequest{TransactionID: tx.ID, IOResponse: `{"id":"call-2","values":[true]}`}
		assert.ErrorIs(t, f.o.RespondToIOCall(ctx, client, answer), errorx.ErrForbidden)

		_, err = f.o.SatisfyRequirement(ctx, tx.ID, "intruder")
		assert.ErrorIs(t, err, errorx.ErrForbidden)
		n, err := f.o.SatisfyRequirement(ctx, tx.ID, f.user.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		require.NoError(t, f.o.RespondToIOCall(ctx, client, answer))
	})

	t.Run("explicit false cancels", func(t *testing.T) {
		f := newFixture(t, false, cnst.EnvironmentProduction)
		ctx := context.Background()
		tx, _, client := f.running(t, "client-1")
		require.NoError(t, f.o.SendIOCall(ctx, f.host, protocol.SendIOCallRequest{TransactionID: tx.ID, IOCall: confirmCall}))

		require.NoError(t, f.o.RespondToIOCall(ctx, client, protocol.RespondToIOCallRequest{
			TransactionID: tx.ID, IOResponse: `{"id":"call-2","values":[false]}`,
		}))
		open, err := f.store.OpenRequirements(ctx, tx.ID)
		require.NoError(t, err)
		assert.Empty(t, open)
	})

	t.Run("false for one call leaves the others open", func(t *testing.T) {
		f := newFixture(t, false, cnst.EnvironmentProduction)
		ctx := context.Background()
		tx, _, client := f.running(t, "client-1")
		require.NoError(t, f.o.SendIOCall(ctx, f.host, protocol.SendIOCallRequest{TransactionID: tx.ID, IOCall: confirmCall}))
		require.NoError(t, f.store.CreateRequirement(ctx, &storage.TransactionRequirement{
			TransactionID: tx.ID,
			Type:          cnst.RequirementIdentityConfirm,
			RenderCallID:  "call-9",
		}))

		err := f.o.RespondToIOCall(ctx, client, protocol.RespondToIOCallRequest{
			TransactionID: tx.ID, IOResponse: `{"id":"call-2","values":[false]}`,
		})
		assert.ErrorIs(t, err, errorx.ErrForbidden)
		open, err := f.store.OpenRequirements(ctx, tx.ID)
		require.NoError(t, err)
		assert.Len(t, open, 2)
	})

	t.Run("recent confirmation within grace", func(t *testing.T) {
		f := newFixture(t, false, cnst.EnvironmentProduction)
		ctx := context.Background()
		tx, _, client := f.running(t, "client-1")
		require.NoError(t, f.store.ConfirmIdentity(ctx, f.user.ID, time.Now()))

		graced := `{"id":"call-3","toRender":[{"methodName":"CONFIRM_IDENTITY","props":{"gracePeriodMs":60000}}]}`
		require.NoError(t, f.o.SendIOCall(ctx, f.host, protocol.SendIOCallRequest{TransactionID: tx.ID, IOCall: graced}))
		require.NoError(t, f.o.RespondToIOCall(ctx, client, protocol.RespondToIOCallRequest{
			TransactionID: tx.ID, IOResponse: `{"id":"call-3","values":[true]}`,
		}))
	})
}

func TestNotify(t *testing.T) {
	f := newFixture(t, false, cnst.EnvironmentProduction)
	ctx := context.Background()
	tx, clientPeer, _ := f.running(t, "client-1")

	req := protocol.NotifyRequest{TransactionID: tx.ID, Message: "Refund issued", IdempotencyKey: "refund-42"}
	require.NoError(t, f.o.Notify(ctx, f.host, req))
	require.NoError(t, f.o.Notify(ctx, f.host, req))

	assert.Equal(t, []cnst.Method{cnst.MethodClientNotify}, clientPeer.methods())
	n, err := f.store.NotificationByIdempotencyKey(ctx, "refund-42")
	require.NoError(t, err)
	assert.Equal(t, f.user.ID, n.UserID)

	shown, err := f.o.DispatchNotification(ctx, tx.ID, n.ID)
	require.NoError(t, err)
	assert.True(t, shown)

	// a message with explicit deliveries also reaches the owner
	require.NoError(t, f.o.Notify(ctx, f.host, protocol.NotifyRequest{
		TransactionID:  tx.ID,
		Message:        "Ping",
		Deliveries:     []protocol.Delivery{{To: "ops@example.com", Method: "EMAIL"}},
		IdempotencyKey: "ping-1",
	}))
	f.sup.Wait()
	stored, err := f.store.NotificationByIdempotencyKey(ctx, "ping-1")
	require.NoError(t, err)
	assert.JSONEq(t, `[{"to":"ops@example.com","method":"EMAIL"}]`, stored.Deliveries)
	msgs := f.notifier.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, notify.KindHostMessage, msgs[0].Kind)
	assert.Len(t, msgs[0].Deliveries, 1)
}

func TestStartFailureFailsTransaction(t *testing.T) {
	f := newFixture(t, false, cnst.EnvironmentProduction)
	ctx := context.Background()
	tx := f.create(t)
	f.hostPeer.err = errors.New("socket closed")
	clientPeer, client := f.addClient("client-1")

	_, err := f.o.ConnectClient(ctx, client, protocol.ConnectToTransactionRequest{TransactionID: tx.ID})
	require.NoError(t, err)
	f.sup.Wait()

	done := f.reload(t, tx.ID)
	assert.Equal(t, cnst.TransactionCompleted, done.Status)
	assert.Equal(t, cnst.ResultFailure, done.ResultStatus)
	_, ok := clientPeer.last(cnst.MethodTransactionCompleted)
	assert.True(t, ok)
	assert.NotEmpty(t, f.sup.Failures())
}

func TestInvalidateHostCaches(t *testing.T) {
	f := newFixture(t, false, cnst.EnvironmentProduction)
	ctx := context.Background()
	tx, _, _ := f.running(t, "client-1")
	require.NoError(t, f.o.SendIOCall(ctx, f.host, protocol.SendIOCallRequest{TransactionID: tx.ID, IOCall: displayCall}))

	require.NoError(t, f.o.InvalidateHostCaches(ctx, hostID))
	_, ok := f.reg.PendingIOCall(tx.ID)
	assert.False(t, ok)
}

func TestDeserializeParams(t *testing.T) {
	assert.Nil(t, deserializeParams(nil))
	assert.JSONEq(t, `{"a":1}`, string(deserializeParams(json.RawMessage(`"{\"a\":1}"`))))
	assert.JSONEq(t, `{"a":1}`, string(deserializeParams(json.RawMessage(`{"a":1}`))))
	assert.Equal(t, `"plain"`, string(deserializeParams(json.RawMessage(`"plain"`))))
}

func TestResolver_BringsUpHTTPHost(t *testing.T) {
	f := newFixture(t, false, cnst.EnvironmentProduction)
	ctx := context.Background()
	f.reg.RemoveHost(hostID)
	require.NoError(t, f.store.SetHostStatus(ctx, hostID, cnst.HostOffline))

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		var body bringUpRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		go f.reg.AddHost(&registry.HostConn{ID: "http-conn", RequestID: body.RequestID, OrganizationID: f.org.ID, Peer: &recordingPeer{}})
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	httpHost := &storage.HTTPHost{OrganizationID: f.org.ID, URL: srv.URL, Status: cnst.HostOnline}
	require.NoError(t, f.store.SaveHTTPHost(ctx, httpHost))
	require.NoError(t, f.store.LinkHTTPHost(ctx, httpHost.ID, f.action.ID, ""))

	host, err := f.o.Resolver().ForAction(ctx, f.action)
	require.NoError(t, err)
	assert.Equal(t, "http-conn", host.ID)
	assert.EqualValues(t, 1, hits.Load())
}

func TestResolver_HTTPHostErrors(t *testing.T) {
	cases := []struct {
		name     string
		status   int
		wantHits int32
	}{
		{name: "client error is not retried", status: http.StatusNotFound, wantHits: 1},
		{name: "server error is retried", status: http.StatusBadGateway, wantHits: bringUpRetries + 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, false, cnst.EnvironmentProduction)
			ctx := context.Background()
			f.reg.RemoveHost(hostID)

			var hits atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				hits.Add(1)
				w.WriteHeader(tc.status)
			}))
			defer srv.Close()

			httpHost := &storage.HTTPHost{OrganizationID: f.org.ID, URL: srv.URL, Status: cnst.HostOnline}
			require.NoError(t, f.store.SaveHTTPHost(ctx, httpHost))
			require.NoError(t, f.store.LinkHTTPHost(ctx, httpHost.ID, f.action.ID, ""))

			_, err := f.o.Resolver().ForAction(ctx, f.action)
			assert.Error(t, err)
			assert.Equal(t, tc.wantHits, hits.Load())
		})
	}
}

func TestResolver_HostNeverDials(t *testing.T) {
	f := newFixture(t, false, cnst.EnvironmentProduction)
	ctx := context.Background()
	f.reg.RemoveHost(hostID)
	f.o.resolver.timeout = 100 * time.Millisecond

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()
	httpHost := &storage.HTTPHost{OrganizationID: f.org.ID, URL: srv.URL, Status: cnst.HostOnline}
	require.NoError(t, f.store.SaveHTTPHost(ctx, httpHost))
	require.NoError(t, f.store.LinkHTTPHost(ctx, httpHost.ID, f.action.ID, ""))

	_, err := f.o.Resolver().ForAction(ctx, f.action)
	assert.ErrorIs(t, err, errorx.ErrResolutionTimeout)
}
