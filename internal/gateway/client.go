package gateway

import (
	"context"

	"github.com/amoylab/hostlink/internal/common/cnst"
	"github.com/amoylab/hostlink/internal/common/errorx"
	"github.com/amoylab/hostlink/internal/protocol"
	"github.com/amoylab/hostlink/internal/rpc"
	"go.uber.org/zap"
)

func (g *Gateway) registerClientHandlers(cn *conn) {
	ch := cn.channel
	rpc.Handle(ch, cnst.MethodInitializeClient, func(ctx context.Context, _ protocol.Empty) (*protocol.InitializeClientResponse, error) {
		return g.initializeClient(ctx, cn)
	})
	rpc.Handle(ch, cnst.MethodConnectToTransactionAsClient, func(ctx context.Context, req protocol.ConnectToTransactionRequest) (*protocol.ConnectToTransactionResponse, error) {
		return g.orch.ConnectClient(ctx, cn.caller(), req)
	})
	rpc.Handle(ch, cnst.MethodLeaveTransaction, func(ctx context.Context, req protocol.LeaveTransactionRequest) (bool, error) {
		return g.accepted(cn, cnst.MethodLeaveTransaction, g.orch.Leave(ctx, cn.caller(), req.TransactionID))
	})
	rpc.Handle(ch, cnst.MethodRespondToIOCall, func(ctx context.Context, req protocol.RespondToIOCallRequest) (bool, error) {
		return g.accepted(cn, cnst.MethodRespondToIOCall, g.orch.RespondToIOCall(ctx, cn.caller(), req))
	})
	rpc.Handle(ch, cnst.MethodRequestPage, func(ctx context.Context, req protocol.RequestPageRequest) (*protocol.PageResponse, error) {
		res, err := g.pages.RequestPage(ctx, cn.caller(), req)
		if err != nil {
			g.logger.Info("page request failed",
				zap.String("client", cn.id),
				zap.String("page", req.ActionGroupSlug),
				zap.Error(err))
			return &protocol.PageResponse{Type: protocol.PageError, PageKey: req.PageKey, Message: errorx.Code(err)}, nil
		}
		return res, nil
	})
	rpc.Handle(ch, cnst.MethodLeavePage, func(ctx context.Context, req protocol.LeavePageRequest) (bool, error) {
		return g.accepted(cn, cnst.MethodLeavePage, g.pages.LeavePage(ctx, cn.caller(), req))
	})
}

func (g *Gateway) initializeClient(ctx context.Context, cn *conn) (*protocol.InitializeClientResponse, error) {
	res := &protocol.InitializeClientResponse{
		Type:         protocol.ReplySuccess,
		ConnectionID: cn.id,
		UserID:       cn.principal.UserID,
	}
	org, err := g.store.Organization(ctx, cn.principal.OrganizationID)
	if err != nil {
		return nil, errorx.Wrap(errorx.ErrInternal, err, "load organization")
	}
	res.Organization = &protocol.OrgInfo{Name: org.Name, Slug: org.Slug}
	return res, nil
}
