package orchestrator

import (
	"context"
	"errors"
	"time"

	"github.com/amoylab/hostlink/internal/common/cnst"
	"github.com/amoylab/hostlink/internal/common/errorx"
	"github.com/amoylab/hostlink/internal/protocol"
	"go.uber.org/zap"
)

// Cancel ends an open Transaction with a CANCELED result. A non-empty
// requestedBy must be the owner.
func (o *Orchestrator) Cancel(ctx context.Context, transactionID, requestedBy string) error {
	tx, err := o.store.Transaction(ctx, transactionID)
	if err != nil {
		return err
	}
	if requestedBy != "" && requestedBy != tx.OwnerID {
		return errorx.New(errorx.ErrForbidden, "transaction %s", tx.ID)
	}
	if tx.Status.IsTerminal() {
		return errorx.New(errorx.ErrConflict, "transaction %s is %s", tx.ID, tx.Status)
	}

	var callID string
	if call, ok := o.registry.PendingIOCall(tx.ID); ok {
		callID = call.ID
	}
	err = o.callHost(ctx, tx.HostInstanceID, cnst.MethodIOResponse, protocol.IOResponseRequest{
		TransactionID: tx.ID,
		Value:         protocol.CanceledIOResponse(tx.ID, callID),
	}, nil)
	if err != nil {
		o.logger.Info("host did not receive cancellation", zap.String("transaction", tx.ID), zap.Error(err))
	}

	done, err := o.store.CompleteTransaction(ctx, tx.ID, cnst.ResultCanceled, "")
	if err != nil {
		return err
	}
	o.registry.ClearTransaction(tx.ID)
	if done.Status == cnst.TransactionCompleted {
		o.metrics.TransactionTransition(string(done.Status))
	}
	if _, ok := o.registry.Client(tx.CurrentClientID); ok {
		o.goClient(tx.CurrentClientID, cnst.MethodCloseTransaction, protocol.TransactionRef{TransactionID: tx.ID})
	}
	o.logger.Info("transaction canceled", zap.String("transaction", tx.ID))
	return nil
}

// HandleHostDisconnect drops every open Transaction bound to the Host and
// tells attached Clients the Host is gone
func (o *Orchestrator) HandleHostDisconnect(ctx context.Context, hostID string) error {
	txs, err := o.store.ActiveTransactionsForHost(ctx, hostID)
	if err != nil {
		return err
	}
	var errs []error
	for _, tx := range txs {
		ok, err := o.transition(ctx, tx.ID, cnst.ActiveStatuses, cnst.TransactionHostConnectionDropped)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if !ok {
			continue
		}
		o.registry.ClearTransaction(tx.ID)
		if tx.CurrentClientID != "" {
			o.goClient(tx.CurrentClientID, cnst.MethodHostClosedUnexpectedly, protocol.TransactionRef{TransactionID: tx.ID})
		}
	}
	if len(txs) > 0 {
		o.logger.Info("host disconnected with open transactions",
			zap.String("host", hostID), zap.Int("transactions", len(txs)))
	}
	return errors.Join(errs...)
}

// HandleClientDisconnect detaches the Client from background Transactions and
// marks the others dropped so the Client can resume them
func (o *Orchestrator) HandleClientDisconnect(ctx context.Context, clientID string) error {
	txs, err := o.store.ActiveTransactionsForClient(ctx, clientID)
	if err != nil {
		return err
	}
	var errs []error
	for _, tx := range txs {
		if tx.Action.Backgroundable {
			if _, err := o.store.ClearCurrentClientIf(ctx, tx.ID, clientID); err != nil {
				errs = append(errs, err)
			}
			continue
		}
		_, err := o.transition(ctx, tx.ID,
			[]cnst.TransactionStatus{cnst.TransactionPending, cnst.TransactionRunning, cnst.TransactionAwaitingInput},
			cnst.TransactionClientConnectionDropped)
		if err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// SweepDroppedTransactions cancels Transactions whose Client stayed away
// longer than the grace period. It returns how many were canceled.
func (o *Orchestrator) SweepDroppedTransactions(ctx context.Context) (int, error) {
	cutoff := o.now().Add(-o.cfg.DroppedGracePeriod)
	txs, err := o.store.DroppedTransactionsBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	var (
		n    int
		errs []error
	)
	for _, tx := range txs {
		if err := o.Cancel(ctx, tx.ID, ""); err != nil {
			if errors.Is(err, errorx.ErrConflict) {
				continue
			}
			errs = append(errs, err)
			continue
		}
		n++
	}
	if n > 0 {
		o.logger.Info("canceled abandoned transactions", zap.Int("count", n))
	}
	return n, errors.Join(errs...)
}

// RunDroppedSweep sweeps on the configured interval until ctx is done
func (o *Orchestrator) RunDroppedSweep(ctx context.Context) {
	interval := o.cfg.SweepInterval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := o.SweepDroppedTransactions(ctx); err != nil {
				o.logger.Error("dropped transaction sweep failed", zap.Error(err))
			}
		}
	}
}

// InvalidateHostCaches drops the UI caches of every open Transaction on the
// Host, used after its catalog changed
func (o *Orchestrator) InvalidateHostCaches(ctx context.Context, hostID string) error {
	txs, err := o.store.ActiveTransactionsForHost(ctx, hostID)
	if err != nil {
		return err
	}
	for _, tx := range txs {
		o.registry.ClearTransaction(tx.ID)
	}
	return nil
}
