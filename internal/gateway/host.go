package gateway

import (
	"context"
	"errors"

	"github.com/amoylab/hostlink/internal/common/cnst"
	"github.com/amoylab/hostlink/internal/common/errorx"
	"github.com/amoylab/hostlink/internal/protocol"
	"github.com/amoylab/hostlink/internal/registry"
	"github.com/amoylab/hostlink/internal/rpc"
	"github.com/amoylab/hostlink/internal/storage"
	"go.uber.org/zap"
)

func (g *Gateway) registerHostHandlers(cn *conn) {
	ch := cn.channel
	rpc.Handle(ch, cnst.MethodInitializeHost, func(ctx context.Context, req protocol.InitializeHostRequest) (*protocol.InitializeHostResponse, error) {
		return g.initializeHost(ctx, cn, req)
	})
	rpc.Handle(ch, cnst.MethodBeginHostShutdown, func(ctx context.Context, _ protocol.Empty) (bool, error) {
		ok := g.registry.MarkHostShuttingDown(cn.id)
		g.logger.Info("host shutting down", zap.String("host", cn.id), zap.Bool("registered", ok))
		return ok, nil
	})
	rpc.Handle(ch, cnst.MethodSendIOCall, func(ctx context.Context, req protocol.SendIOCallRequest) (bool, error) {
		return g.accepted(cn, cnst.MethodSendIOCall, g.orch.SendIOCall(ctx, cn.caller(), req))
	})
	rpc.Handle(ch, cnst.MethodSendLoadingCall, func(ctx context.Context, req protocol.SendLoadingCallRequest) (bool, error) {
		return g.accepted(cn, cnst.MethodSendLoadingCall, g.orch.SendLoadingCall(ctx, cn.caller(), req))
	})
	rpc.Handle(ch, cnst.MethodSendLog, func(ctx context.Context, req protocol.SendLogRequest) (bool, error) {
		return g.accepted(cn, cnst.MethodSendLog, g.orch.SendLog(ctx, cn.caller(), req))
	})
	rpc.Handle(ch, cnst.MethodSendRedirect, func(ctx context.Context, req protocol.SendRedirectRequest) (bool, error) {
		return g.accepted(cn, cnst.MethodSendRedirect, g.orch.SendRedirect(ctx, cn.caller(), req))
	})
	rpc.Handle(ch, cnst.MethodNotify, func(ctx context.Context, req protocol.NotifyRequest) (bool, error) {
		return g.accepted(cn, cnst.MethodNotify, g.orch.Notify(ctx, cn.caller(), req))
	})
	rpc.Handle(ch, cnst.MethodMarkTransactionComplete, func(ctx context.Context, req protocol.MarkTransactionCompleteRequest) (bool, error) {
		return g.accepted(cn, cnst.MethodMarkTransactionComplete, g.orch.MarkComplete(ctx, cn.caller(), req))
	})
	rpc.Handle(ch, cnst.MethodSendPage, func(ctx context.Context, req protocol.SendPageRequest) (bool, error) {
		return g.accepted(cn, cnst.MethodSendPage, g.pages.SendPage(ctx, cn.caller(), req))
	})
}

// accepted answers false for calls about rows the peer may not touch, so a
// misbehaving Host learns nothing beyond the refusal
func (g *Gateway) accepted(cn *conn, method cnst.Method, err error) (bool, error) {
	if err == nil {
		return true, nil
	}
	if errors.Is(err, errorx.ErrForbidden) || errors.Is(err, errorx.ErrNotFound) || errors.Is(err, errorx.ErrConflict) {
		g.logger.Info("call refused",
			zap.String("connection", cn.id),
			zap.String("method", method.String()),
			zap.Error(err))
		return false, nil
	}
	return false, err
}

func (g *Gateway) initializeHost(ctx context.Context, cn *conn, req protocol.InitializeHostRequest) (*protocol.InitializeHostResponse, error) {
	ts := req.Timestamp
	if ts == 0 {
		ts = g.now().UnixMilli()
	}
	release, err := g.sequencer.Acquire(ctx, cn.id, ts)
	if err != nil {
		if errors.Is(err, errorx.ErrInitializationTimeout) {
			g.logger.Warn("host initialization timed out", zap.String("host", cn.id), zap.Int64("timestamp", ts))
			return &protocol.InitializeHostResponse{
				Type:    protocol.ReplyError,
				Code:    errorx.Code(err),
				Message: "Initialization timed out, please reconnect.",
			}, nil
		}
		return nil, err
	}
	defer release()

	p := cn.principal
	org, err := g.store.Organization(ctx, p.OrganizationID)
	if err != nil {
		return nil, errorx.Wrap(errorx.ErrInternal, err, "load organization")
	}

	cat := newCatalog(req)
	hash := cat.hash()
	now := g.now()

	instance := &storage.HostInstance{
		Base:                      storage.Base{ID: cn.id},
		OrganizationID:            p.OrganizationID,
		OrganizationEnvironmentID: p.OrganizationEnvironmentID,
		APIKeyID:                  p.APIKeyID,
		UsageEnvironment:          p.UsageEnvironment,
		Status:                    cnst.HostOnline,
		SDKName:                   req.SDKName,
		SDKVersion:                req.SDKVersion,
		RequestID:                 req.RequestID,
		CatalogHash:               hash,
		LastSeenAt:                now,
		CreatedAt:                 now,
	}
	previous, err := g.store.HostInstance(ctx, cn.id)
	switch {
	case err == nil:
		instance.CreatedAt = previous.CreatedAt
	case !errors.Is(err, errorx.ErrNotFound):
		return nil, errorx.Wrap(errorx.ErrInternal, err, "load host instance")
	}
	if err := g.store.SaveHostInstance(ctx, instance); err != nil {
		return nil, errorx.Wrap(errorx.ErrInternal, err, "save host instance")
	}

	actionIDs, groupIDs, err := g.saveCatalog(ctx, p.OrganizationID, p.OrganizationEnvironmentID, g.developerID(cn), cat)
	if err != nil {
		return nil, err
	}
	if err := g.store.ReplaceHostLinks(ctx, cn.id, actionIDs, groupIDs); err != nil {
		return nil, errorx.Wrap(errorx.ErrInternal, err, "link host catalog")
	}

	if previous != nil && previous.CatalogHash != hash {
		if err := g.orch.InvalidateHostCaches(ctx, cn.id); err != nil {
			g.logger.Error("failed to invalidate transaction caches", zap.String("host", cn.id), zap.Error(err))
		}
	}

	g.registry.AddHost(&registry.HostConn{
		ID:                        cn.id,
		APIKeyID:                  p.APIKeyID,
		OrganizationID:            p.OrganizationID,
		OrganizationEnvironmentID: p.OrganizationEnvironmentID,
		UsageEnvironment:          p.UsageEnvironment,
		SDKName:                   req.SDKName,
		SDKVersion:                req.SDKVersion,
		RequestID:                 req.RequestID,
		IsGhost:                   p.IsGhost,
		ConnectedAt:               cn.openedAt,
		Peer:                      cn.channel,
	})
	g.logger.Info("host initialized",
		zap.String("host", cn.id),
		zap.String("organization", org.Slug),
		zap.String("environment", string(p.UsageEnvironment)),
		zap.String("sdk", req.SDKName+"@"+req.SDKVersion),
		zap.Int("actions", len(actionIDs)),
		zap.Int("groups", len(groupIDs)),
		zap.Strings("invalid_slugs", cat.invalid))

	return &protocol.InitializeHostResponse{
		Type:         protocol.ReplySuccess,
		InvalidSlugs: cat.invalid,
		Environment:  string(p.UsageEnvironment),
		Organization: &protocol.OrgInfo{Name: org.Name, Slug: org.Slug},
		DashboardURL: g.orch.DashboardURL(org, p.UsageEnvironment),
	}, nil
}

// developerID scopes development catalogs to the key owner
func (g *Gateway) developerID(cn *conn) string {
	if cn.principal.UsageEnvironment == cnst.EnvironmentDevelopment {
		return cn.principal.UserID
	}
	return ""
}

func (g *Gateway) saveCatalog(ctx context.Context, orgID, envID, developerID string, cat *catalog) (actionIDs, groupIDs []string, err error) {
	for _, def := range cat.groups {
		group, err := g.store.FindOrCreateActionGroup(ctx, &storage.ActionGroup{
			OrganizationID:            orgID,
			OrganizationEnvironmentID: envID,
			DeveloperID:               developerID,
			Slug:                      def.Slug,
			Name:                      def.Name,
			Description:               def.Description,
			HasHandler:                def.HasHandler,
			Unlisted:                  def.Unlisted,
		})
		if err != nil {
			return nil, nil, errorx.Wrap(errorx.ErrInternal, err, "save action group %s", def.Slug)
		}
		groupIDs = append(groupIDs, group.ID)
	}
	for _, def := range cat.actions {
		slug := def.Slug
		if def.GroupSlug != "" {
			slug = def.GroupSlug + "/" + def.Slug
		}
		name := def.Name
		if name == "" {
			name = def.Slug
		}
		action, err := g.store.FindOrCreateAction(ctx, &storage.Action{
			OrganizationID:            orgID,
			OrganizationEnvironmentID: envID,
			DeveloperID:               developerID,
			Slug:                      slug,
			Name:                      name,
			Description:               def.Description,
			Backgroundable:            def.Backgroundable,
			Unlisted:                  def.Unlisted,
			WarnOnClose:               def.WarnOnClose,
		})
		if err != nil {
			return nil, nil, errorx.Wrap(errorx.ErrInternal, err, "save action %s", slug)
		}
		actionIDs = append(actionIDs, action.ID)
	}
	return actionIDs, groupIDs, nil
}
