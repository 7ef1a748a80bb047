package storage

import (
	"context"
	"errors"

	"github.com/amoylab/hostlink/internal/common/errorx"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ListSchedules returns every non-deleted schedule with its Action
func (s *DBStore) ListSchedules(ctx context.Context) ([]*ActionSchedule, error) {
	var out []*ActionSchedule
	err := s.conn(ctx).Preload("Action").Order("created_at asc").Find(&out).Error
	return out, err
}

func (s *DBStore) Schedule(ctx context.Context, id string) (*ActionSchedule, error) {
	var out ActionSchedule
	err := s.conn(ctx).Preload("Action").Where("id = ?", id).First(&out).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errorx.New(errorx.ErrNotFound, "schedule %s", id)
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *DBStore) SchedulesForAction(ctx context.Context, actionID string) ([]*ActionSchedule, error) {
	var out []*ActionSchedule
	err := s.conn(ctx).Where("action_id = ?", actionID).Order("created_at asc").Find(&out).Error
	return out, err
}

func (s *DBStore) CreateSchedule(ctx context.Context, sched *ActionSchedule) error {
	return s.conn(ctx).Omit(clause.Associations).Create(sched).Error
}

// DeleteSchedule soft deletes unless hard is set
func (s *DBStore) DeleteSchedule(ctx context.Context, id string, hard bool) error {
	db := s.conn(ctx)
	if hard {
		db = db.Unscoped()
	}
	return db.Where("id = ?", id).Delete(&ActionSchedule{}).Error
}

func (s *DBStore) CountScheduleRuns(ctx context.Context, scheduleID string) (int64, error) {
	var n int64
	err := s.conn(ctx).Model(&ActionScheduleRun{}).Where("action_schedule_id = ?", scheduleID).Count(&n).Error
	return n, err
}

func (s *DBStore) CreateScheduleRun(ctx context.Context, run *ActionScheduleRun) error {
	return s.conn(ctx).Create(run).Error
}

func (s *DBStore) ScheduleRuns(ctx context.Context, scheduleID string) ([]*ActionScheduleRun, error) {
	var out []*ActionScheduleRun
	err := s.conn(ctx).Where("action_schedule_id = ?", scheduleID).Order("created_at asc").Find(&out).Error
	return out, err
}
