package orchestrator

import (
	"context"
	"encoding/json"

	"github.com/amoylab/hostlink/internal/common/cnst"
	"github.com/amoylab/hostlink/internal/common/errorx"
	"github.com/amoylab/hostlink/internal/protocol"
	"github.com/amoylab/hostlink/internal/storage"
	"github.com/amoylab/hostlink/pkg/utils"
	"github.com/tidwall/gjson"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// CreateInput describes a new Transaction
type CreateInput struct {
	ActionID   string
	OwnerID    string
	ScheduleID string
	// Status defaults to PENDING; scheduled runs are created RUNNING
	Status cnst.TransactionStatus
}

// CreateTransaction resolves a Host for the Action and persists the Transaction bound to it
func (o *Orchestrator) CreateTransaction(ctx context.Context, in CreateInput) (*storage.Transaction, error) {
	action, err := o.store.Action(ctx, in.ActionID)
	if err != nil {
		return nil, err
	}
	return o.createFor(ctx, action, in)
}

func (o *Orchestrator) createFor(ctx context.Context, action *storage.Action, in CreateInput) (*storage.Transaction, error) {
	host, err := o.resolver.ForAction(ctx, action)
	if err != nil {
		return nil, err
	}
	status := in.Status
	if status == "" {
		status = cnst.TransactionPending
	}
	tx := &storage.Transaction{
		Status:           status,
		ActionID:         action.ID,
		HostInstanceID:   host.ID,
		OwnerID:          in.OwnerID,
		ActionScheduleID: in.ScheduleID,
	}
	if err := o.store.CreateTransaction(ctx, tx); err != nil {
		return nil, err
	}
	tx.Action = *action
	o.metrics.TransactionTransition(string(status))
	o.logger.Info("transaction created",
		zap.String("transaction", tx.ID),
		zap.String("action", action.Slug),
		zap.String("host", host.ID))
	return tx, nil
}

// StartInput carries what START_TRANSACTION needs beyond the Transaction row
type StartInput struct {
	RunnerID   string
	ClientID   string
	Params     json.RawMessage
	ParamsMeta json.RawMessage
}

// Start moves a PENDING Transaction to RUNNING and pushes START_TRANSACTION to its Host
func (o *Orchestrator) Start(ctx context.Context, id string, in StartInput) error {
	scope := o.tracer.Start(ctx, cnst.SpanStartTransaction).
		WithAttrs(attribute.String(cnst.AttrTransactionID, id))
	defer scope.End()
	ctx = scope.Ctx

	err := o.start(ctx, id, in)
	scope.Fail(err)
	return err
}

func (o *Orchestrator) start(ctx context.Context, id string, in StartInput) error {
	tx, err := o.store.Transaction(ctx, id)
	if err != nil {
		return err
	}
	if tx.Status.IsTerminal() {
		return errorx.New(errorx.ErrConflict, "transaction %s is %s", id, tx.Status)
	}
	if tx.Status == cnst.TransactionPending {
		if _, err := o.transition(ctx, id, []cnst.TransactionStatus{cnst.TransactionPending}, cnst.TransactionRunning); err != nil {
			return err
		}
	}
	if in.ClientID != "" {
		if err := o.setCurrentClient(ctx, id, in.ClientID); err != nil {
			return err
		}
	}

	host, ok := o.registry.Host(tx.HostInstanceID)
	if !ok || o.registry.IsHostShuttingDown(tx.HostInstanceID) {
		return errorx.New(errorx.ErrNotFound, "host %s for transaction %s is not available", tx.HostInstanceID, id)
	}
	runner, err := o.store.User(ctx, utils.FirstNonEmpty(in.RunnerID, tx.OwnerID))
	if err != nil {
		return err
	}
	org, err := o.store.Organization(ctx, tx.Action.OrganizationID)
	if err != nil {
		return err
	}

	req := protocol.StartTransactionRequest{
		TransactionID: id,
		Action: protocol.ActionRef{
			Slug: tx.Action.Slug,
			URL:  o.actionURL(org, host.UsageEnvironment, tx.Action.Slug),
		},
		Environment: string(host.UsageEnvironment),
		User: protocol.ContextUser{
			Email:     runner.Email,
			FirstName: runner.FirstName,
			LastName:  runner.LastName,
		},
		Params:     deserializeParams(in.Params),
		ParamsMeta: deserializeParams(in.ParamsMeta),
	}
	if err := o.callHost(ctx, host.ID, cnst.MethodStartTransaction, req, nil); err != nil {
		return err
	}
	o.logger.Info("transaction started", zap.String("transaction", id), zap.String("host", host.ID))
	return nil
}

// startInBackground runs Start under the supervisor and fails the Transaction if it cannot start
func (o *Orchestrator) startInBackground(id string, in StartInput) {
	o.supervisor.Go("transaction.start", func(ctx context.Context) error {
		err := o.Start(ctx, id, in)
		if err == nil {
			return nil
		}
		if ferr := o.Fail(ctx, id); ferr != nil {
			o.logger.Error("failed to mark unstartable transaction", zap.String("transaction", id), zap.Error(ferr))
		}
		return err
	})
}

// Fail completes an open Transaction with a FAILURE result and tells its Client
func (o *Orchestrator) Fail(ctx context.Context, id string) error {
	tx, err := o.store.CompleteTransaction(ctx, id, cnst.ResultFailure, "")
	if err != nil {
		return err
	}
	o.registry.ClearTransaction(id)
	o.metrics.TransactionTransition(string(tx.Status))
	o.forwardToClient(ctx, tx, cnst.MethodTransactionCompleted, protocol.TransactionCompletedRequest{
		TransactionID: id,
		ResultStatus:  string(tx.ResultStatus),
	})
	return nil
}

// setCurrentClient makes clientID current and tells a replaced Client it was usurped
func (o *Orchestrator) setCurrentClient(ctx context.Context, id, clientID string) error {
	prev, err := o.store.SwapCurrentClient(ctx, id, clientID)
	if err != nil {
		return err
	}
	if prev != "" && prev != clientID {
		o.logger.Info("client usurped", zap.String("transaction", id), zap.String("previous", prev), zap.String("client", clientID))
		o.goClient(prev, cnst.MethodClientUsurped, protocol.TransactionRef{TransactionID: id})
	}
	return nil
}

// deserializeParams unwraps parameters that arrive as a serialized JSON string
func deserializeParams(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return nil
	}
	v := gjson.ParseBytes(raw)
	if v.Type == gjson.String && gjson.Valid(v.Str) {
		return json.RawMessage(v.Str)
	}
	return raw
}
