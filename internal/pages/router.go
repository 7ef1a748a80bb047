package pages

import (
	"context"
	"errors"
	"time"

	"github.com/amoylab/hostlink/internal/common/cnst"
	"github.com/amoylab/hostlink/internal/common/errorx"
	"github.com/amoylab/hostlink/internal/orchestrator"
	"github.com/amoylab/hostlink/internal/protocol"
	"github.com/amoylab/hostlink/internal/registry"
	"github.com/amoylab/hostlink/internal/storage"
	"github.com/amoylab/hostlink/internal/supervisor"
	"go.uber.org/zap"
)

const forwardTimeout = 10 * time.Second

// Router pairs a Client page key with the Host rendering that page and
// forwards page traffic between them
type Router struct {
	logger     *zap.Logger
	store      storage.Store
	registry   registry.Store
	orch       *orchestrator.Orchestrator
	supervisor *supervisor.Supervisor
}

func NewRouter(logger *zap.Logger, store storage.Store, reg registry.Store, orch *orchestrator.Orchestrator, sup *supervisor.Supervisor) *Router {
	return &Router{
		logger:     logger.Named("pages"),
		store:      store,
		registry:   reg,
		orch:       orch,
		supervisor: sup,
	}
}

// findGroup looks the slug up in the shared catalog first, then in the
// caller's development catalog
func (r *Router) findGroup(ctx context.Context, client orchestrator.Caller, slug string) (*storage.ActionGroup, error) {
	group, err := r.store.ActionGroupBySlug(ctx, client.OrganizationID, client.OrganizationEnvironmentID, "", slug)
	if errors.Is(err, errorx.ErrNotFound) && client.UserID != "" {
		return r.store.ActionGroupBySlug(ctx, client.OrganizationID, client.OrganizationEnvironmentID, client.UserID, slug)
	}
	return group, err
}

// RequestPage opens a page for the Client on a Host resolved like a Transaction start
func (r *Router) RequestPage(ctx context.Context, client orchestrator.Caller, req protocol.RequestPageRequest) (*protocol.PageResponse, error) {
	if pair, ok := r.registry.Page(req.PageKey); ok && pair.ClientID != client.ConnID {
		return nil, errorx.New(errorx.ErrConflict, "page key %s is taken", req.PageKey)
	}
	group, err := r.findGroup(ctx, client, req.ActionGroupSlug)
	if err != nil {
		return nil, err
	}
	if !group.HasHandler {
		return &protocol.PageResponse{Type: protocol.PageError, Message: "page has no handler"}, nil
	}
	host, err := r.orch.Resolver().ForActionGroup(ctx, group)
	if err != nil {
		return nil, err
	}
	user, err := r.store.User(ctx, client.UserID)
	if err != nil {
		return nil, err
	}
	org, err := r.store.Organization(ctx, group.OrganizationID)
	if err != nil {
		return nil, err
	}

	r.registry.OpenPage(req.PageKey, registry.PagePair{ClientID: client.ConnID, HostID: host.ID, Slug: group.Slug})
	open := protocol.OpenPageRequest{
		PageKey:  req.PageKey,
		ClientID: client.ConnID,
		Page: protocol.ActionRef{
			Slug: group.Slug,
			URL:  r.orch.DashboardURL(org, host.UsageEnvironment) + "/pages/" + group.Slug,
		},
		Environment: string(host.UsageEnvironment),
		User: protocol.ContextUser{
			Email:     user.Email,
			FirstName: user.FirstName,
			LastName:  user.LastName,
		},
		Params:     req.Params,
		ParamsMeta: req.ParamsMeta,
	}
	if err := call(ctx, host.Peer, cnst.MethodOpenPage, open); err != nil {
		r.registry.ClosePage(req.PageKey)
		r.logger.Warn("host refused page, pairing removed",
			zap.String("page", req.PageKey), zap.String("host", host.ID), zap.Error(err))
		return nil, err
	}
	r.logger.Info("page opened",
		zap.String("page", req.PageKey), zap.String("slug", group.Slug), zap.String("host", host.ID))
	return &protocol.PageResponse{Type: protocol.PageSuccess, PageKey: req.PageKey}, nil
}

// LeavePage closes a page the Client opened. Unknown keys are ignored.
func (r *Router) LeavePage(ctx context.Context, client orchestrator.Caller, req protocol.LeavePageRequest) error {
	pair, ok := r.registry.Page(req.PageKey)
	if !ok {
		return nil
	}
	if pair.ClientID != client.ConnID {
		return errorx.New(errorx.ErrForbidden, "page %s", req.PageKey)
	}
	r.registry.ClosePage(req.PageKey)
	if host, ok := r.registry.Host(pair.HostID); ok {
		if err := call(ctx, host.Peer, cnst.MethodClosePage, protocol.ClosePageRequest{PageKey: req.PageKey}); err != nil {
			r.logger.Info("close page not delivered to host", zap.String("page", req.PageKey), zap.Error(err))
		}
	}
	return nil
}

// SendPage forwards a Host render to the Client that holds the page key.
// A Client that cannot be reached loses the page.
func (r *Router) SendPage(ctx context.Context, host orchestrator.Caller, req protocol.SendPageRequest) error {
	pair, ok := r.registry.Page(req.PageKey)
	if !ok {
		return errorx.New(errorx.ErrNotFound, "page %s", req.PageKey)
	}
	if pair.HostID != host.ConnID {
		return errorx.New(errorx.ErrForbidden, "page %s", req.PageKey)
	}
	render := protocol.RenderPageRequest{PageKey: req.PageKey, Page: req.Page, HostInstanceID: host.ConnID}
	if client, ok := r.registry.Client(pair.ClientID); ok {
		err := call(ctx, client.Peer, cnst.MethodRenderPage, render)
		if err == nil {
			return nil
		}
		r.logger.Info("page render not delivered", zap.String("page", req.PageKey), zap.Error(err))
	}
	r.registry.ClosePage(req.PageKey)
	r.goCall(pair.HostID, true, cnst.MethodClosePage, protocol.ClosePageRequest{PageKey: req.PageKey})
	return nil
}

// HandleHostDisconnect closes every page the Host was rendering
func (r *Router) HandleHostDisconnect(hostID string) {
	for _, key := range r.registry.PagesByHost(hostID) {
		pair, ok := r.registry.ClosePage(key)
		if !ok {
			continue
		}
		r.goCall(pair.ClientID, false, cnst.MethodClosePage, protocol.ClosePageRequest{PageKey: key})
	}
}

// HandleClientDisconnect closes every page the Client had open
func (r *Router) HandleClientDisconnect(clientID string) {
	for _, key := range r.registry.PagesByClient(clientID) {
		pair, ok := r.registry.ClosePage(key)
		if !ok {
			continue
		}
		r.goCall(pair.HostID, true, cnst.MethodClosePage, protocol.ClosePageRequest{PageKey: key})
	}
}

// goCall notifies a peer in the background; a peer that is already gone is skipped
func (r *Router) goCall(peerID string, isHost bool, method cnst.Method, in any) {
	var peer registry.Peer
	if isHost {
		if h, ok := r.registry.Host(peerID); ok {
			peer = h.Peer
		}
	} else if c, ok := r.registry.Client(peerID); ok {
		peer = c.Peer
	}
	if peer == nil {
		return
	}
	r.supervisor.Go("pages."+method.String(), func(ctx context.Context) error {
		return call(ctx, peer, method, in)
	})
}

func call(ctx context.Context, peer registry.Peer, method cnst.Method, in any) error {
	ctx, cancel := context.WithTimeout(ctx, forwardTimeout)
	defer cancel()
	return peer.Call(ctx, method, in, nil)
}
