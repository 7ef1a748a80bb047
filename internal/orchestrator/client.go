package orchestrator

import (
	"context"
	"errors"

	"github.com/amoylab/hostlink/internal/common/cnst"
	"github.com/amoylab/hostlink/internal/common/errorx"
	"github.com/amoylab/hostlink/internal/protocol"
	"go.uber.org/zap"
)

// ConnectClient attaches a Client to a Transaction. A PENDING Transaction is
// started; a Client coming back to its own dropped Transaction resumes it.
func (o *Orchestrator) ConnectClient(ctx context.Context, client Caller, req protocol.ConnectToTransactionRequest) (*protocol.ConnectToTransactionResponse, error) {
	tx, err := o.store.Transaction(ctx, req.TransactionID)
	if err != nil {
		return nil, err
	}
	if err := o.authorizeClient(ctx, client, tx); err != nil {
		return nil, err
	}

	var start, resumed bool
	switch {
	case tx.Status == cnst.TransactionPending:
		ok, err := o.transition(ctx, tx.ID, []cnst.TransactionStatus{cnst.TransactionPending}, cnst.TransactionRunning)
		if err != nil {
			return nil, err
		}
		start = ok
		if ok {
			tx.Status = cnst.TransactionRunning
		}
	case tx.Status == cnst.TransactionClientConnectionDropped && tx.CurrentClientID == client.ConnID:
		to := cnst.TransactionRunning
		if call, ok := o.registry.PendingIOCall(tx.ID); ok && !call.DisplayOnly {
			to = cnst.TransactionAwaitingInput
		}
		ok, err := o.transition(ctx, tx.ID, []cnst.TransactionStatus{cnst.TransactionClientConnectionDropped}, to)
		if err != nil {
			return nil, err
		}
		resumed = ok
		if ok {
			tx.Status = to
		}
	}

	if err := o.setCurrentClient(ctx, tx.ID, client.ConnID); err != nil {
		return nil, err
	}
	o.replay(tx.ID, client.ConnID)

	if start {
		o.startInBackground(tx.ID, StartInput{
			RunnerID:   client.UserID,
			Params:     req.Params,
			ParamsMeta: req.ParamsMeta,
		})
	}
	o.logger.Info("client attached",
		zap.String("transaction", tx.ID),
		zap.String("client", client.ConnID),
		zap.Bool("started", start),
		zap.Bool("resumed", resumed))
	return &protocol.ConnectToTransactionResponse{
		Status:       string(tx.Status),
		ResultStatus: string(tx.ResultStatus),
		Resumed:      resumed,
	}, nil
}

// replay pushes the cached UI state of a Transaction to a newly current Client
func (o *Orchestrator) replay(transactionID, clientID string) {
	call, hasCall := o.registry.PendingIOCall(transactionID)
	loading, hasLoading := o.registry.LoadingState(transactionID)
	redirect, hasRedirect := o.registry.Redirect(transactionID)
	if !hasCall && !hasLoading && !hasRedirect {
		return
	}
	o.supervisor.Go("client.replay", func(ctx context.Context) error {
		var errs []error
		if hasCall {
			errs = append(errs, o.callClient(ctx, clientID, cnst.MethodRender,
				protocol.RenderRequest{TransactionID: transactionID, ToRender: call.Raw}))
		}
		if hasLoading {
			errs = append(errs, o.callClient(ctx, clientID, cnst.MethodLoadingState, loading))
		}
		if hasRedirect {
			errs = append(errs, o.callClient(ctx, clientID, cnst.MethodRedirect, redirect))
		}
		return errors.Join(errs...)
	})
}

// RespondToIOCall forwards a Client's answer to the Host unless an identity
// confirmation is still open and the answer does not cancel it
func (o *Orchestrator) RespondToIOCall(ctx context.Context, client Caller, req protocol.RespondToIOCallRequest) error {
	tx, err := o.store.Transaction(ctx, req.TransactionID)
	if err != nil {
		return err
	}
	if tx.CurrentClientID != client.ConnID {
		return errorx.New(errorx.ErrForbidden, "client is not attached to transaction %s", tx.ID)
	}
	if tx.Status.IsTerminal() {
		return errorx.New(errorx.ErrConflict, "transaction %s is %s", tx.ID, tx.Status)
	}

	resp, err := protocol.ParseIOResponse(req.IOResponse)
	if err != nil {
		return errorx.Wrap(errorx.ErrInvalidInput, err, "transaction %s", tx.ID)
	}
	open, err := o.store.OpenRequirements(ctx, tx.ID)
	if err != nil {
		return err
	}
	for _, r := range open {
		if !resp.CancelsRequirement(r.RenderCallID) {
			return errorx.New(errorx.ErrForbidden, "transaction %s requires identity confirmation", tx.ID)
		}
	}
	for _, r := range open {
		if err := o.store.CancelRequirement(ctx, r.ID, o.now()); err != nil {
			return err
		}
	}

	err = o.callHost(ctx, tx.HostInstanceID, cnst.MethodIOResponse, protocol.IOResponseRequest{
		TransactionID: tx.ID,
		Value:         req.IOResponse,
	}, nil)
	if err != nil {
		return err
	}
	if _, err := o.transition(ctx, tx.ID, []cnst.TransactionStatus{cnst.TransactionAwaitingInput}, cnst.TransactionRunning); err != nil {
		return err
	}
	o.registry.ClearPendingIOCall(tx.ID)
	return nil
}

// Leave detaches a Client. Leaving a foreground Transaction cancels it.
func (o *Orchestrator) Leave(ctx context.Context, client Caller, transactionID string) error {
	tx, err := o.store.Transaction(ctx, transactionID)
	if err != nil {
		return err
	}
	if tx.CurrentClientID != client.ConnID {
		o.logger.Info("leave from a client that is not current",
			zap.String("transaction", tx.ID), zap.String("client", client.ConnID))
		return nil
	}
	if !tx.Action.Backgroundable && !tx.Status.IsTerminal() {
		return o.Cancel(ctx, tx.ID, "")
	}
	_, err = o.store.ClearCurrentClientIf(ctx, tx.ID, client.ConnID)
	return err
}
