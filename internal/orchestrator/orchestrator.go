package orchestrator

import (
	"context"
	"strings"
	"time"

	"github.com/amoylab/hostlink/internal/common/cnst"
	"github.com/amoylab/hostlink/internal/common/config"
	"github.com/amoylab/hostlink/internal/common/errorx"
	"github.com/amoylab/hostlink/internal/notify"
	"github.com/amoylab/hostlink/internal/registry"
	"github.com/amoylab/hostlink/internal/storage"
	"github.com/amoylab/hostlink/internal/supervisor"
	"github.com/amoylab/hostlink/pkg/metrics"
	"github.com/amoylab/hostlink/pkg/trace"
	"go.uber.org/zap"
)

// forwardTimeout bounds one synchronous forward to a peer
const forwardTimeout = 10 * time.Second

// Caller is the socket an operation arrives on
type Caller struct {
	ConnID                    string
	UserID                    string
	OrganizationID            string
	OrganizationEnvironmentID string
	IsGhost                   bool
}

// Deps are the collaborators of an Orchestrator
type Deps struct {
	Store      storage.Store
	Registry   registry.Store
	Resolver   *Resolver
	Supervisor *supervisor.Supervisor
	Notifier   notify.Notifier
	Renderer   *notify.Renderer
	Metrics    *metrics.Metrics
}

// Orchestrator drives Transactions through their lifecycle and routes
// messages between the bound Host and the current Client
type Orchestrator struct {
	logger     *zap.Logger
	store      storage.Store
	registry   registry.Store
	resolver   *Resolver
	supervisor *supervisor.Supervisor
	notifier   notify.Notifier
	renderer   *notify.Renderer
	metrics    *metrics.Metrics
	tracer     *trace.Builder

	appURL string
	cfg    config.TransactionsConfig
	now    func() time.Time
}

func New(logger *zap.Logger, deps Deps, cfg config.TransactionsConfig, appURL string) *Orchestrator {
	return &Orchestrator{
		logger:     logger.Named("orchestrator"),
		store:      deps.Store,
		registry:   deps.Registry,
		resolver:   deps.Resolver,
		supervisor: deps.Supervisor,
		notifier:   deps.Notifier,
		renderer:   deps.Renderer,
		metrics:    deps.Metrics,
		tracer:     trace.Tracer(cnst.TraceOrchestrator),
		appURL:     strings.TrimRight(appURL, "/"),
		cfg:        cfg,
		now:        time.Now,
	}
}

// Resolver exposes host resolution to the page router and the scheduler
func (o *Orchestrator) Resolver() *Resolver {
	return o.resolver
}

func (o *Orchestrator) transition(ctx context.Context, id string, from []cnst.TransactionStatus, to cnst.TransactionStatus) (bool, error) {
	ok, err := o.store.UpdateTransactionStatus(ctx, id, from, to)
	if err != nil {
		return false, err
	}
	if ok {
		o.metrics.TransactionTransition(string(to))
		o.logger.Debug("transaction transition", zap.String("transaction", id), zap.String("status", string(to)))
	}
	return ok, nil
}

// authorizeHost loads a Transaction on behalf of the Host bound to it
func (o *Orchestrator) authorizeHost(ctx context.Context, host Caller, transactionID string) (*storage.Transaction, error) {
	tx, err := o.store.Transaction(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if tx.HostInstanceID != host.ConnID || tx.Action.OrganizationID != host.OrganizationID {
		o.logger.Warn("host is not bound to transaction",
			zap.String("host", host.ConnID), zap.String("transaction", transactionID))
		return nil, errorx.New(errorx.ErrForbidden, "transaction %s", transactionID)
	}
	return tx, nil
}

// authorizeClient checks the Client belongs to the Transaction's organization,
// or that organization is a ghost one
func (o *Orchestrator) authorizeClient(ctx context.Context, client Caller, tx *storage.Transaction) error {
	if client.OrganizationID == tx.Action.OrganizationID {
		return nil
	}
	org, err := o.store.Organization(ctx, tx.Action.OrganizationID)
	if err == nil && org.IsGhost {
		return nil
	}
	return errorx.New(errorx.ErrForbidden, "transaction %s", tx.ID)
}

// unattended reports whether nobody develops against the bound Host
func (o *Orchestrator) unattended(ctx context.Context, tx *storage.Transaction) bool {
	if host, ok := o.registry.Host(tx.HostInstanceID); ok {
		return host.UsageEnvironment == cnst.EnvironmentProduction
	}
	inst, err := o.store.HostInstance(ctx, tx.HostInstanceID)
	if err != nil {
		return false
	}
	return inst.UsageEnvironment == cnst.EnvironmentProduction
}

// callClient forwards synchronously to a connected Client
func (o *Orchestrator) callClient(ctx context.Context, clientID string, method cnst.Method, in any) error {
	if clientID == "" {
		return errorx.New(errorx.ErrNotFound, "no current client")
	}
	client, ok := o.registry.Client(clientID)
	if !ok {
		return errorx.New(errorx.ErrNotFound, "client %s is not connected", clientID)
	}
	ctx, cancel := context.WithTimeout(ctx, forwardTimeout)
	defer cancel()
	return client.Peer.Call(ctx, method, in, nil)
}

// forwardToClient reports whether the current Client received the call
func (o *Orchestrator) forwardToClient(ctx context.Context, tx *storage.Transaction, method cnst.Method, in any) bool {
	if tx.CurrentClientID == "" {
		return false
	}
	if err := o.callClient(ctx, tx.CurrentClientID, method, in); err != nil {
		o.logger.Info("forward to client failed",
			zap.String("method", method.String()),
			zap.String("transaction", tx.ID),
			zap.String("client", tx.CurrentClientID),
			zap.Error(err))
		return false
	}
	return true
}

// goClient forwards to a Client as a supervised fire-and-forget task
func (o *Orchestrator) goClient(clientID string, method cnst.Method, in any) {
	o.supervisor.Go("client."+method.String(), func(ctx context.Context) error {
		return o.callClient(ctx, clientID, method, in)
	})
}

func (o *Orchestrator) callHost(ctx context.Context, hostID string, method cnst.Method, in, out any) error {
	host, ok := o.registry.Host(hostID)
	if !ok {
		return errorx.New(errorx.ErrNotFound, "host %s is not connected", hostID)
	}
	ctx, cancel := context.WithTimeout(ctx, forwardTimeout)
	defer cancel()
	return host.Peer.Call(ctx, method, in, out)
}

// DashboardURL is the organization's dashboard root for a usage environment
func (o *Orchestrator) DashboardURL(org *storage.Organization, env cnst.UsageEnvironment) string {
	base := o.appURL + "/dashboard/" + org.Slug
	if env == cnst.EnvironmentDevelopment {
		base += "/develop"
	}
	return base
}

func (o *Orchestrator) actionURL(org *storage.Organization, env cnst.UsageEnvironment, slug string) string {
	return o.DashboardURL(org, env) + "/actions/" + slug
}

func (o *Orchestrator) transactionURL(ctx context.Context, tx *storage.Transaction) string {
	org, err := o.store.Organization(ctx, tx.Action.OrganizationID)
	if err != nil {
		return ""
	}
	return o.appURL + "/dashboard/" + org.Slug + "/transactions/" + tx.ID
}
