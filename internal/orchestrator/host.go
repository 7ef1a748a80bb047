package orchestrator

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/amoylab/hostlink/internal/common/cnst"
	"github.com/amoylab/hostlink/internal/common/errorx"
	"github.com/amoylab/hostlink/internal/notify"
	"github.com/amoylab/hostlink/internal/protocol"
	"github.com/amoylab/hostlink/internal/registry"
	"github.com/amoylab/hostlink/internal/storage"
	"go.uber.org/zap"
)

// openTransaction loads a Transaction the Host may still push UI for
func (o *Orchestrator) openTransaction(ctx context.Context, host Caller, id string) (*storage.Transaction, error) {
	tx, err := o.authorizeHost(ctx, host, id)
	if err != nil {
		return nil, err
	}
	if tx.Status.IsTerminal() {
		return nil, errorx.New(errorx.ErrConflict, "transaction %s is %s", id, tx.Status)
	}
	return tx, nil
}

// SendIOCall caches and forwards a render. Only calls with input components
// move the Transaction to AWAITING_INPUT.
func (o *Orchestrator) SendIOCall(ctx context.Context, host Caller, req protocol.SendIOCallRequest) error {
	tx, err := o.openTransaction(ctx, host, req.TransactionID)
	if err != nil {
		return err
	}
	call, err := protocol.ParseIOCall(req.IOCall)
	if err != nil {
		return errorx.Wrap(errorx.ErrInvalidInput, err, "transaction %s", tx.ID)
	}
	displayOnly := call.DisplayOnly()
	o.registry.SetPendingIOCall(tx.ID, registry.PendingIOCall{
		ID:            call.ID,
		InputGroupKey: call.InputGroupKey,
		DisplayOnly:   displayOnly,
		Raw:           req.IOCall,
	})

	newStep := false
	if !displayOnly {
		if _, err := o.transition(ctx, tx.ID,
			[]cnst.TransactionStatus{cnst.TransactionRunning, cnst.TransactionAwaitingInput},
			cnst.TransactionAwaitingInput); err != nil {
			return err
		}
		newStep = true
		if call.InputGroupKey != "" {
			if newStep, err = o.store.SetLastInputGroupKey(ctx, tx.ID, call.InputGroupKey); err != nil {
				return err
			}
		}
	}
	if call.IdentityConfirm != nil {
		if err := o.requireIdentity(ctx, tx, call); err != nil {
			return err
		}
	}

	if o.forwardToClient(ctx, tx, cnst.MethodRender, protocol.RenderRequest{TransactionID: tx.ID, ToRender: req.IOCall}) {
		return nil
	}
	if newStep && tx.Action.Backgroundable && o.unattended(ctx, tx) {
		o.notifyOwner(ctx, tx, &notify.Event{Kind: notify.KindAwaitingInput, IdempotencyKey: tx.ID + ":" + call.InputGroupKey})
	}
	return nil
}

// requireIdentity records an identity confirmation for the render, already
// satisfied when the owner confirmed within the grace period
func (o *Orchestrator) requireIdentity(ctx context.Context, tx *storage.Transaction, call protocol.IOCall) error {
	open, err := o.store.OpenRequirements(ctx, tx.ID)
	if err != nil {
		return err
	}
	for _, r := range open {
		if r.RenderCallID == call.ID {
			return nil
		}
	}

	req := &storage.TransactionRequirement{
		TransactionID: tx.ID,
		Type:          cnst.RequirementIdentityConfirm,
		RenderCallID:  call.ID,
		GracePeriodMs: call.IdentityConfirm.GracePeriod.Milliseconds(),
	}
	if grace := call.IdentityConfirm.GracePeriod; grace > 0 && tx.OwnerID != "" {
		owner, err := o.store.User(ctx, tx.OwnerID)
		if err == nil && owner.LastIdentityConfirmedAt != nil && o.now().Sub(*owner.LastIdentityConfirmedAt) <= grace {
			now := o.now()
			req.SatisfiedAt = &now
		}
	}
	return o.store.CreateRequirement(ctx, req)
}

func (o *Orchestrator) SendLoadingCall(ctx context.Context, host Caller, req protocol.SendLoadingCallRequest) error {
	tx, err := o.openTransaction(ctx, host, req.TransactionID)
	if err != nil {
		return err
	}
	o.registry.SetLoadingState(tx.ID, req)
	o.forwardToClient(ctx, tx, cnst.MethodLoadingState, req)
	return nil
}

func (o *Orchestrator) SendLog(ctx context.Context, host Caller, req protocol.SendLogRequest) error {
	tx, err := o.openTransaction(ctx, host, req.TransactionID)
	if err != nil {
		return err
	}
	if err := o.store.CreateTransactionLog(ctx, &storage.TransactionLog{
		TransactionID: tx.ID,
		Data:          req.Data,
		Index:         req.Index,
	}); err != nil {
		return err
	}
	o.forwardToClient(ctx, tx, cnst.MethodLog, req)
	return nil
}

// SendRedirect records REDIRECTED unless a result is already set
func (o *Orchestrator) SendRedirect(ctx context.Context, host Caller, req protocol.SendRedirectRequest) error {
	tx, err := o.openTransaction(ctx, host, req.TransactionID)
	if err != nil {
		return err
	}
	if _, err := o.store.SetResultStatusIfUnset(ctx, tx.ID, cnst.ResultRedirected, ""); err != nil {
		return err
	}
	o.registry.SetRedirect(tx.ID, req)
	o.forwardToClient(ctx, tx, cnst.MethodRedirect, req)
	return nil
}

// Notify stores a Host message, shows it to the current Client and delivers
// it to the owner when nobody is watching
func (o *Orchestrator) Notify(ctx context.Context, host Caller, req protocol.NotifyRequest) error {
	if req.IdempotencyKey != "" {
		_, err := o.store.NotificationByIdempotencyKey(ctx, req.IdempotencyKey)
		if err == nil {
			return nil
		}
		if !errors.Is(err, errorx.ErrNotFound) {
			return err
		}
	}

	var tx *storage.Transaction
	userID := host.UserID
	if req.TransactionID != "" {
		var err error
		if tx, err = o.authorizeHost(ctx, host, req.TransactionID); err != nil {
			return err
		}
		userID = tx.OwnerID
	}

	var deliveries []byte
	if len(req.Deliveries) > 0 {
		var err error
		if deliveries, err = json.Marshal(req.Deliveries); err != nil {
			return errorx.Wrap(errorx.ErrInvalidInput, err, "encode delivery instructions")
		}
	}
	n := &storage.Notification{
		TransactionID:  req.TransactionID,
		UserID:         userID,
		Title:          req.Title,
		Message:        req.Message,
		Deliveries:     string(deliveries),
		IdempotencyKey: req.IdempotencyKey,
	}
	if err := o.store.CreateNotification(ctx, n); err != nil {
		return err
	}

	ev := &notify.Event{
		Kind:           notify.KindHostMessage,
		UserID:         userID,
		Title:          req.Title,
		Message:        req.Message,
		IdempotencyKey: n.ID,
		Deliveries:     req.Deliveries,
	}
	if tx == nil {
		o.dispatch(ev)
		return nil
	}
	shown := o.forwardToClient(ctx, tx, cnst.MethodClientNotify, protocol.ClientNotifyRequest{
		TransactionID: tx.ID,
		Message:       req.Message,
		Title:         req.Title,
	})
	if len(req.Deliveries) > 0 || (!shown && tx.Action.Backgroundable && o.unattended(ctx, tx)) {
		o.notifyOwner(ctx, tx, ev)
	}
	return nil
}

// MarkComplete finishes a Transaction with the Host-reported result, keeping
// a result that was already set
func (o *Orchestrator) MarkComplete(ctx context.Context, host Caller, req protocol.MarkTransactionCompleteRequest) error {
	tx, err := o.authorizeHost(ctx, host, req.TransactionID)
	if err != nil {
		return err
	}
	result := protocol.ParseResult(req.Result, req.ResultStatus)
	done, err := o.store.CompleteTransaction(ctx, tx.ID, result.Status, result.Raw)
	if err != nil {
		return err
	}
	o.registry.ClearTransaction(tx.ID)
	if done.Status != cnst.TransactionCompleted {
		return nil
	}
	if tx.Status != cnst.TransactionCompleted {
		o.metrics.TransactionTransition(string(done.Status))
	}
	o.logger.Info("transaction completed",
		zap.String("transaction", tx.ID),
		zap.String("result", string(done.ResultStatus)))

	if o.forwardToClient(ctx, done, cnst.MethodTransactionCompleted, protocol.TransactionCompletedRequest{
		TransactionID: done.ID,
		ResultStatus:  string(done.ResultStatus),
		Result:        done.Result,
	}) {
		return nil
	}
	if o.suppressCompletion(ctx, done) {
		return nil
	}
	o.notifyOwner(ctx, done, &notify.Event{Kind: notify.KindCompleted, ResultStatus: string(done.ResultStatus)})
	return nil
}

// suppressCompletion is true for successful scheduled background runs whose
// schedule opted out of success notifications
func (o *Orchestrator) suppressCompletion(ctx context.Context, tx *storage.Transaction) bool {
	if !tx.Action.Backgroundable || !tx.Scheduled() || tx.ResultStatus != cnst.ResultSuccess {
		return false
	}
	sched, err := o.store.Schedule(ctx, tx.ActionScheduleID)
	if err != nil {
		return true
	}
	return !sched.NotifyOnSuccess
}

// notifyOwner fills the Transaction fields of ev and delivers it in the background
func (o *Orchestrator) notifyOwner(ctx context.Context, tx *storage.Transaction, ev *notify.Event) {
	ev.TransactionID = tx.ID
	ev.UserID = tx.OwnerID
	ev.ActionSlug = tx.Action.Slug
	ev.ActionName = tx.Action.Name
	ev.URL = o.transactionURL(ctx, tx)
	o.dispatch(ev)
}

func (o *Orchestrator) dispatch(ev *notify.Event) {
	if ev.UserID == "" {
		o.logger.Info("notification without recipient dropped", zap.String("transaction", ev.TransactionID))
		return
	}
	msg, err := o.renderer.Render(ev)
	if err != nil {
		o.logger.Error("failed to render notification", zap.String("kind", string(ev.Kind)), zap.Error(err))
		return
	}
	o.supervisor.Go("notify."+string(ev.Kind), func(ctx context.Context) error {
		return o.notifier.Notify(ctx, msg)
	})
}

// DispatchNotification shows a stored notification to the Client currently
// attached to its Transaction. It reports whether a Client received it.
func (o *Orchestrator) DispatchNotification(ctx context.Context, transactionID, notificationID string) (bool, error) {
	n, err := o.store.Notification(ctx, notificationID)
	if err != nil {
		return false, err
	}
	tx, err := o.store.Transaction(ctx, transactionID)
	if err != nil {
		return false, err
	}
	if n.TransactionID != "" && n.TransactionID != tx.ID {
		return false, errorx.New(errorx.ErrInvalidInput, "notification %s belongs to another transaction", n.ID)
	}
	return o.forwardToClient(ctx, tx, cnst.MethodClientNotify, protocol.ClientNotifyRequest{
		TransactionID: tx.ID,
		Message:       n.Message,
		Title:         n.Title,
	}), nil
}

// SatisfyRequirement records an identity confirmation and closes the open
// requirements of the Transaction
func (o *Orchestrator) SatisfyRequirement(ctx context.Context, transactionID, userID string) (int, error) {
	tx, err := o.store.Transaction(ctx, transactionID)
	if err != nil {
		return 0, err
	}
	if userID != "" && userID != tx.OwnerID {
		return 0, errorx.New(errorx.ErrForbidden, "transaction %s", tx.ID)
	}
	now := o.now()
	if tx.OwnerID != "" {
		if err := o.store.ConfirmIdentity(ctx, tx.OwnerID, now); err != nil {
			return 0, err
		}
	}
	open, err := o.store.OpenRequirements(ctx, tx.ID)
	if err != nil {
		return 0, err
	}
	for _, r := range open {
		if err := o.store.SatisfyRequirement(ctx, r.ID, now); err != nil {
			return 0, err
		}
	}
	return len(open), nil
}
