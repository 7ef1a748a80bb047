package storage

import (
	"context"
	"errors"
	"time"

	"github.com/amoylab/hostlink/internal/common/cnst"
	"github.com/amoylab/hostlink/internal/common/errorx"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

func (s *DBStore) CreateTransaction(ctx context.Context, tx *Transaction) error {
	return s.conn(ctx).Omit(clause.Associations).Create(tx).Error
}

// Transaction loads a Transaction with its Action
func (s *DBStore) Transaction(ctx context.Context, id string) (*Transaction, error) {
	var out Transaction
	err := s.conn(ctx).Preload("Action").Where("id = ?", id).First(&out).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errorx.New(errorx.ErrNotFound, "transaction %s", id)
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *DBStore) UpdateTransactionStatus(ctx context.Context, id string, from []cnst.TransactionStatus, to cnst.TransactionStatus) (bool, error) {
	updates := map[string]any{"status": to, "dropped_at": nil}
	switch to {
	case cnst.TransactionCompleted:
		updates["completed_at"] = time.Now()
	case cnst.TransactionClientConnectionDropped:
		updates["dropped_at"] = time.Now()
	}
	res := s.conn(ctx).Model(&Transaction{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(updates)
	return res.RowsAffected > 0, res.Error
}

func (s *DBStore) SetResultStatusIfUnset(ctx context.Context, id string, status cnst.ResultStatus, result string) (bool, error) {
	updates := map[string]any{"result_status": status}
	if result != "" {
		updates["result"] = result
	}
	res := s.conn(ctx).Model(&Transaction{}).
		Where("id = ? AND (result_status = '' OR result_status IS NULL)", id).
		Updates(updates)
	return res.RowsAffected > 0, res.Error
}

func (s *DBStore) CompleteTransaction(ctx context.Context, id string, status cnst.ResultStatus, result string) (*Transaction, error) {
	var out *Transaction
	err := s.WithTx(ctx, func(ctx context.Context) error {
		completed, err := s.UpdateTransactionStatus(ctx, id, cnst.ActiveStatuses, cnst.TransactionCompleted)
		if err != nil {
			return err
		}
		if completed {
			if _, err := s.SetResultStatusIfUnset(ctx, id, status, result); err != nil {
				return err
			}
		}
		tx, err := s.Transaction(ctx, id)
		if err != nil {
			return err
		}
		out = tx
		return nil
	})
	return out, err
}

func (s *DBStore) SwapCurrentClient(ctx context.Context, id, clientID string) (string, error) {
	var prev string
	err := s.WithTx(ctx, func(ctx context.Context) error {
		var tx Transaction
		err := s.conn(ctx).Clauses(clause.Locking{Strength: "UPDATE"}).
			Select("id", "current_client_id").Where("id = ?", id).First(&tx).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return errorx.New(errorx.ErrNotFound, "transaction %s", id)
		}
		if err != nil {
			return err
		}
		prev = tx.CurrentClientID
		return s.conn(ctx).Model(&Transaction{}).Where("id = ?", id).
			Update("current_client_id", clientID).Error
	})
	return prev, err
}

func (s *DBStore) ClearCurrentClientIf(ctx context.Context, id, clientID string) (bool, error) {
	res := s.conn(ctx).Model(&Transaction{}).
		Where("id = ? AND current_client_id = ?", id, clientID).
		Update("current_client_id", "")
	return res.RowsAffected > 0, res.Error
}

// SetLastInputGroupKey reports whether key differs from the stored one
func (s *DBStore) SetLastInputGroupKey(ctx context.Context, id, key string) (bool, error) {
	res := s.conn(ctx).Model(&Transaction{}).
		Where("id = ? AND last_input_group_key <> ?", id, key).
		Update("last_input_group_key", key)
	return res.RowsAffected > 0, res.Error
}

func (s *DBStore) ActiveTransactionsForHost(ctx context.Context, hostInstanceID string) ([]*Transaction, error) {
	var out []*Transaction
	err := s.conn(ctx).Preload("Action").
		Where("host_instance_id = ? AND status IN ?", hostInstanceID, cnst.ActiveStatuses).
		Find(&out).Error
	return out, err
}

func (s *DBStore) ActiveTransactionsForClient(ctx context.Context, clientID string) ([]*Transaction, error) {
	var out []*Transaction
	err := s.conn(ctx).Preload("Action").
		Where("current_client_id = ? AND status IN ?", clientID, cnst.ActiveStatuses).
		Find(&out).Error
	return out, err
}

func (s *DBStore) DroppedTransactionsBefore(ctx context.Context, cutoff time.Time) ([]*Transaction, error) {
	var out []*Transaction
	err := s.conn(ctx).Preload("Action").
		Where("status = ? AND dropped_at < ?", cnst.TransactionClientConnectionDropped, cutoff).
		Find(&out).Error
	return out, err
}

func (s *DBStore) CreateRequirement(ctx context.Context, req *TransactionRequirement) error {
	return s.conn(ctx).Create(req).Error
}

func (s *DBStore) OpenRequirements(ctx context.Context, transactionID string) ([]*TransactionRequirement, error) {
	var out []*TransactionRequirement
	err := s.conn(ctx).
		Where("transaction_id = ? AND satisfied_at IS NULL AND canceled_at IS NULL", transactionID).
		Order("created_at asc").
		Find(&out).Error
	return out, err
}

func (s *DBStore) SatisfyRequirement(ctx context.Context, id string, at time.Time) error {
	return s.closeRequirement(ctx, id, "satisfied_at", at)
}

func (s *DBStore) CancelRequirement(ctx context.Context, id string, at time.Time) error {
	return s.closeRequirement(ctx, id, "canceled_at", at)
}

func (s *DBStore) closeRequirement(ctx context.Context, id, column string, at time.Time) error {
	res := s.conn(ctx).Model(&TransactionRequirement{}).Where("id = ?", id).Update(column, at)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return errorx.New(errorx.ErrNotFound, "requirement %s", id)
	}
	return nil
}

func (s *DBStore) CreateTransactionLog(ctx context.Context, log *TransactionLog) error {
	return s.conn(ctx).Create(log).Error
}

func (s *DBStore) TransactionLogs(ctx context.Context, transactionID string) ([]*TransactionLog, error) {
	var out []*TransactionLog
	err := s.conn(ctx).Where("transaction_id = ?", transactionID).Order("log_index asc").Find(&out).Error
	return out, err
}

func (s *DBStore) CreateNotification(ctx context.Context, n *Notification) error {
	return s.conn(ctx).Create(n).Error
}

func (s *DBStore) Notification(ctx context.Context, id string) (*Notification, error) {
	return first[Notification](s.conn(ctx), "notification", id, "id = ?", id)
}

func (s *DBStore) NotificationByIdempotencyKey(ctx context.Context, key string) (*Notification, error) {
	return first[Notification](s.conn(ctx), "notification", key, "idempotency_key = ?", key)
}
