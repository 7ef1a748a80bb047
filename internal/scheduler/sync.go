package scheduler

import (
	"context"

	"go.uber.org/zap"
)

// SyncResult counts what a Sync changed
type SyncResult struct {
	Created int `json:"created"`
	Deleted int `json:"deleted"`
	Skipped int `json:"skipped"`
}

// Sync makes the schedules of an Action match inputs. Rows no longer wanted
// are stopped and deleted, hard only when they never ran. Invalid inputs are
// logged and skipped. Calling it twice with the same inputs changes nothing
// the second time.
func (s *Scheduler) Sync(ctx context.Context, actionID string, inputs []Input) (SyncResult, error) {
	var res SyncResult
	if _, err := s.store.Action(ctx, actionID); err != nil {
		return res, err
	}
	existing, err := s.store.SchedulesForAction(ctx, actionID)
	if err != nil {
		return res, err
	}

	desired := make(map[string]Input, len(inputs))
	order := make([]string, 0, len(inputs))
	for _, in := range inputs {
		k := in.key()
		if _, dup := desired[k]; dup {
			continue
		}
		desired[k] = in
		order = append(order, k)
	}

	live := make(map[string]bool, len(s.TaskIDs()))
	for _, id := range s.TaskIDs() {
		live[id] = true
	}

	matched := make(map[string]bool, len(existing))
	for _, sched := range existing {
		k := InputOf(sched).key()
		if _, want := desired[k]; want && !matched[k] {
			matched[k] = true
			if !live[sched.ID] {
				if err := s.Schedule(sched); err != nil {
					s.logger.Warn("kept schedule cannot be registered", zap.String("schedule", sched.ID), zap.Error(err))
				}
			}
			continue
		}

		s.Unschedule(sched.ID)
		runs, err := s.store.CountScheduleRuns(ctx, sched.ID)
		if err != nil {
			return res, err
		}
		if err := s.store.DeleteSchedule(ctx, sched.ID, runs == 0); err != nil {
			return res, err
		}
		res.Deleted++
	}

	for _, k := range order {
		if matched[k] {
			continue
		}
		in := desired[k]
		if _, err := in.Expression(); err != nil {
			s.logger.Warn("skipping invalid schedule", zap.String("action", actionID), zap.Error(err))
			res.Skipped++
			continue
		}
		row := in.Row(actionID)
		if err := s.store.CreateSchedule(ctx, row); err != nil {
			return res, err
		}
		if err := s.Schedule(row); err != nil {
			return res, err
		}
		res.Created++
	}

	s.logger.Info("schedules synced",
		zap.String("action", actionID),
		zap.Int("created", res.Created),
		zap.Int("deleted", res.Deleted),
		zap.Int("skipped", res.Skipped))
	return res, nil
}
